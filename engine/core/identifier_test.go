package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIdentifierPoolReuseBumpsGeneration(t *testing.T) {
	pool := NewIdentifierPool[string](4)

	id, gen := pool.Acquire("a")
	owner, ok := pool.Lookup(id, gen)
	require.True(t, ok)
	assert.Equal(t, "a", owner)

	released, err := pool.Release(id, gen)
	require.NoError(t, err)
	assert.Equal(t, "a", released)

	_, ok = pool.Lookup(id, gen)
	assert.False(t, ok, "stale generation must not resolve")

	id2, gen2 := pool.Acquire("b")
	assert.Equal(t, id, id2)
	assert.NotEqual(t, gen, gen2)

	_, err = pool.Release(id, gen)
	assert.ErrorIs(t, err, ErrInvalidHandle)
	assert.Equal(t, 1, pool.Len())
}

func TestIdentifierPoolOutOfRange(t *testing.T) {
	pool := NewIdentifierPool[int](0)
	_, err := pool.Release(10, 1)
	assert.ErrorIs(t, err, ErrInvalidHandle)
}
