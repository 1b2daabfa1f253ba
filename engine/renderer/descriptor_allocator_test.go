package renderer

import (
	"testing"

	"github.com/spaghettifunk/anima-rhi/engine/core"
	"github.com/spaghettifunk/anima-rhi/engine/renderer/headless"
	"github.com/spaghettifunk/anima-rhi/engine/renderer/metadata"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type allocatorFixture struct {
	backend   *headless.Backend
	handler   *AllocationHandler
	metrics   *core.Metrics
	allocator *DescriptorTableFrameAllocator
	list      *headless.CommandList
}

func newAllocatorFixture(t *testing.T) *allocatorFixture {
	t.Helper()
	backend := headless.New()
	metrics := core.NewMetrics()
	handler := NewAllocationHandler(backend, metrics, 1, 1)
	allocator, err := NewDescriptorTableFrameAllocator(backend, handler, metrics, newRegistry(), 0)
	require.NoError(t, err)
	list, err := backend.CreateCommandList(0, 1)
	require.NoError(t, err)
	require.NoError(t, list.Begin(0))
	return &allocatorFixture{
		backend:   backend,
		handler:   handler,
		metrics:   metrics,
		allocator: allocator,
		list:      list.(*headless.CommandList),
	}
}

func TestResourceHeapStartsNewBlockAtLimit(t *testing.T) {
	f := newAllocatorFixture(t)
	a := f.allocator
	resources := a.heaps[metadata.HeapResource]

	a.RequestHeaps(600000, 0, f.list)
	heap, offset := a.Heap(metadata.HeapResource)
	assert.Equal(t, metadata.ResourceDescriptorLimit, heap.(*headless.Heap).Capacity)
	assert.Zero(t, offset)
	first := resources.allocate(600000)
	assert.Zero(t, first.Offset)
	assert.Equal(t, 1, f.handler.Pending(metadata.CategoryDescriptorHeap))

	a.RequestHeaps(600000, 0, f.list)
	assert.Equal(t, 2, a.Blocks(metadata.HeapResource))
	_, offset = a.Heap(metadata.HeapResource)
	assert.Zero(t, offset)
	second := resources.allocate(600000)
	assert.Zero(t, second.Offset)
	assert.NotSame(t, first.Heap.(*headless.Heap), second.Heap.(*headless.Heap))
	assert.LessOrEqual(t, second.Heap.(*headless.Heap).Capacity, metadata.ResourceDescriptorLimit)
	_, offset = a.Heap(metadata.HeapResource)
	assert.Equal(t, uint32(600000), offset)

	binds := commandsOf(f.list.Commands(), headless.OpBindHeaps)
	require.Len(t, binds, 2)
	assert.Same(t, second.Heap.(*headless.Heap), binds[1].Objects[0].(*headless.Heap))

	counters := f.metrics.Counters()
	assert.Equal(t, uint64(1), counters.DescriptorHeapGrows)
	assert.Equal(t, uint64(1), counters.DescriptorBlocks)
}

func TestSamplerHeapGrowsToPowerOfTwo(t *testing.T) {
	f := newAllocatorFixture(t)
	a := f.allocator
	a.RequestHeaps(0, 100, f.list)
	a.heaps[metadata.HeapSampler].allocate(100)

	a.RequestHeaps(0, 500, f.list)
	heap, offset := a.Heap(metadata.HeapSampler)
	assert.Equal(t, uint32(1024), heap.(*headless.Heap).Capacity)
	assert.Equal(t, uint32(100), offset)
}

func TestRequestPastLimitIsFatal(t *testing.T) {
	panicOnFatal(t)
	f := newAllocatorFixture(t)
	assert.Panics(t, func() {
		f.allocator.RequestHeaps(0, metadata.SamplerDescriptorLimit+1, f.list)
	})
}

func TestHeapsBoundOnceUntilReset(t *testing.T) {
	f := newAllocatorFixture(t)
	a := f.allocator
	a.RequestHeaps(4, 1, f.list)
	a.RequestHeaps(4, 1, f.list)
	assert.Len(t, commandsOf(f.list.Commands(), headless.OpBindHeaps), 1)

	a.Reset()
	a.RequestHeaps(4, 1, f.list)
	assert.Len(t, commandsOf(f.list.Commands(), headless.OpBindHeaps), 2)
}

func TestValidateWritesNullDescriptorsForUnboundSlots(t *testing.T) {
	f := newAllocatorFixture(t)
	a := f.allocator
	layout := metadata.ImplicitLayout{ConstantBuffers: 1, Resources: 2, Samplers: 1}

	a.BindResource(1, metadata.Handle{Kind: metadata.ResourceKindTexture, Index: 7, Generation: 3})
	a.Validate(true, layout, 0, f.list)
	assert.False(t, a.Dirty())

	tables := commandsOf(f.list.Commands(), headless.OpSetDescriptorTable)
	require.Len(t, tables, 2)
	assert.Equal(t, uint32(0), tables[0].RootIndex)
	assert.Equal(t, uint32(3), tables[0].Range.Count)
	assert.Equal(t, uint32(1), tables[1].RootIndex)
	assert.Equal(t, uint32(1), tables[1].Range.Count)

	heap := tables[0].Range.Heap.(*headless.Heap)
	descriptors := heap.Range(tables[0].Range.Offset, 3)
	assert.Equal(t, metadata.DescriptorConstantBuffer, descriptors[0].Type)
	assert.Equal(t, metadata.DescriptorShaderResource, descriptors[1].Type)
	assert.Equal(t, metadata.DescriptorShaderResource, descriptors[2].Type)
	for _, d := range descriptors {
		assert.True(t, d.IsNull())
	}

	a.Validate(true, layout, 0, f.list)
	assert.Len(t, commandsOf(f.list.Commands(), headless.OpSetDescriptorTable), 2)

	a.BindResource(1, metadata.Handle{Kind: metadata.ResourceKindTexture, Index: 7, Generation: 3})
	assert.False(t, a.Dirty())
	a.BindResource(0, metadata.Handle{Kind: metadata.ResourceKindTexture, Index: 8, Generation: 1})
	assert.True(t, a.Dirty())
	a.Validate(true, layout, 0, f.list)
	tables = commandsOf(f.list.Commands(), headless.OpSetDescriptorTable)
	require.Len(t, tables, 4)
	assert.Equal(t, uint32(3), tables[2].Range.Offset)
}

func TestResetRewindsHeaps(t *testing.T) {
	f := newAllocatorFixture(t)
	a := f.allocator
	a.RequestHeaps(10, 2, f.list)
	a.heaps[metadata.HeapResource].allocate(10)
	a.heaps[metadata.HeapSampler].allocate(2)

	a.Reset()
	_, resources := a.Heap(metadata.HeapResource)
	_, samplers := a.Heap(metadata.HeapSampler)
	assert.Zero(t, resources)
	assert.Zero(t, samplers)
	assert.True(t, a.Dirty())
}
