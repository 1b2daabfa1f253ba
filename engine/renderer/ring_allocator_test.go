package renderer

import (
	"testing"

	"github.com/spaghettifunk/anima-rhi/engine/core"
	"github.com/spaghettifunk/anima-rhi/engine/renderer/headless"
	"github.com/spaghettifunk/anima-rhi/engine/renderer/metadata"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRing(t *testing.T, size uint64) (*RingAllocator, *AllocationHandler, *core.Metrics) {
	t.Helper()
	backend := headless.New()
	metrics := core.NewMetrics()
	handler := NewAllocationHandler(backend, metrics, 1, 1)
	ring, err := NewRingAllocator(backend, handler, metrics, "test-ring", size)
	require.NoError(t, err)
	return ring, handler, metrics
}

func TestRingOffsetsIncreaseAndAlign(t *testing.T) {
	ring, _, _ := newTestRing(t, 1<<16)
	requests := []struct{ size, align uint64 }{
		{3, 1}, {16, 16}, {1, 4}, {100, 256}, {7, 8}, {256, 256}, {1, 1}, {64, 64},
	}

	var last RingAllocation
	for i, r := range requests {
		a := ring.Allocate(r.size, r.align)
		assert.Zero(t, a.Offset%r.align, "request %d", i)
		assert.Len(t, a.Data, int(r.size))
		if i > 0 {
			assert.Greater(t, a.Offset, last.Offset, "request %d", i)
			assert.GreaterOrEqual(t, a.Offset, last.Offset+last.Size)
		}
		last = a
	}

	ring.Clear()
	assert.Zero(t, ring.Allocate(32, 16).Offset)
}

func TestRingGrowthMovesToNewBuffer(t *testing.T) {
	ring, handler, metrics := newTestRing(t, 1024)

	first := ring.Allocate(1000, 1)
	for i := range first.Data {
		first.Data[i] = 0xAB
	}

	grown := ring.Allocate(100, 16)
	assert.NotSame(t, first.Buffer.(*headless.Buffer), grown.Buffer.(*headless.Buffer))
	assert.Zero(t, grown.Offset)
	assert.GreaterOrEqual(t, ring.Capacity(), uint64(2*1024))
	assert.GreaterOrEqual(t, ring.Capacity(), uint64(100))
	assert.Equal(t, uint64(1), metrics.Counters().RingGrowths)
	assert.Equal(t, 1, handler.Pending(metadata.CategoryBuffer))

	for i := range grown.Data {
		grown.Data[i] = 0xCD
	}
	for _, b := range first.Data {
		require.Equal(t, byte(0xAB), b)
	}

	next := ring.Allocate(8, 8)
	assert.Same(t, grown.Buffer.(*headless.Buffer), next.Buffer.(*headless.Buffer))
	assert.GreaterOrEqual(t, next.Offset, grown.Offset+grown.Size)
}

func TestRingGrowsToFitLargeRequest(t *testing.T) {
	ring, _, _ := newTestRing(t, 256)
	ring.Allocate(200, 1)
	a := ring.Allocate(5000, 256)
	assert.Zero(t, a.Offset)
	assert.GreaterOrEqual(t, ring.Capacity(), uint64(2*(200+5000)))
}

func TestRingRejectsHugeRequest(t *testing.T) {
	panicOnFatal(t)
	ring, _, _ := newTestRing(t, 256)
	assert.Panics(t, func() { ring.Allocate(MaxRingAllocation+1, 1) })
}
