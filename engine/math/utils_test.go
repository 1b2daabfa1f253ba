package math

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAlignUp(t *testing.T) {
	assert.Equal(t, uint64(0), AlignUp[uint64](0, 256))
	assert.Equal(t, uint64(256), AlignUp[uint64](1, 256))
	assert.Equal(t, uint64(512), AlignUp[uint64](512, 256))
	assert.Equal(t, uint32(7), AlignUp[uint32](7, 0))
}

func TestNextPowerOfTwo(t *testing.T) {
	assert.Equal(t, uint32(1), NextPowerOfTwo[uint32](0))
	assert.Equal(t, uint32(512), NextPowerOfTwo[uint32](512))
	assert.Equal(t, uint32(2048), NextPowerOfTwo[uint32](1025))
	assert.Equal(t, uint32(1<<20), NextPowerOfTwo[uint32](600000))
	assert.True(t, IsPowerOfTwo[uint64](4096))
	assert.False(t, IsPowerOfTwo[uint64](0))
}

func TestClampMinMax(t *testing.T) {
	assert.Equal(t, uint32(512), Clamp[uint32](3, 512, 2048))
	assert.Equal(t, uint32(2048), Clamp[uint32](4096, 512, 2048))
	assert.Equal(t, 3, Max(1, 3))
	assert.Equal(t, 1, Min(1, 3))
}
