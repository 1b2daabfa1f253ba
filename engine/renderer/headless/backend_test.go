package headless

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/anima-rhi/engine/renderer/metadata"
)

func TestDescriptorWritesAndCopiesShareTheLock(t *testing.T) {
	b := New()
	staging, err := b.CreateDescriptorHeap(metadata.HeapResource, 4, false)
	require.NoError(t, err)
	frame, err := b.CreateDescriptorHeap(metadata.HeapResource, 64, true)
	require.NoError(t, err)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 1000; i++ {
			desc := metadata.NullDescriptor(metadata.DescriptorShaderResource, metadata.DimensionTexture2D)
			b.WriteDescriptor(staging, uint32(i%4), &desc)
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 1000; i++ {
			b.CopyDescriptors(frame, uint32(i%16)*4, staging, 0, 4)
		}
	}()
	wg.Wait()

	assert.Empty(t, b.Violations())
	b.CopyDescriptors(frame, 0, staging, 0, 4)
	for i := uint32(0); i < 4; i++ {
		desc, ok := frame.(*Heap).Descriptor(i)
		assert.True(t, ok)
		assert.True(t, desc.IsNull())
	}
}

func TestDescriptorCopyOutOfRangeIsReported(t *testing.T) {
	b := New()
	staging, err := b.CreateDescriptorHeap(metadata.HeapSampler, 4, false)
	require.NoError(t, err)
	frame, err := b.CreateDescriptorHeap(metadata.HeapSampler, 4, true)
	require.NoError(t, err)

	b.CopyDescriptors(frame, 2, staging, 0, 4)
	assert.Len(t, b.Violations(), 1)
}
