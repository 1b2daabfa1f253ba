package renderer

import (
	"github.com/spaghettifunk/anima-rhi/engine/core"
	"github.com/spaghettifunk/anima-rhi/engine/math"
	"github.com/spaghettifunk/anima-rhi/engine/renderer/metadata"
)

type heapBlock struct {
	native   any
	capacity uint32
}

// frameHeap is the shader-visible descriptor storage of one kind. Allocation is
// linear; a request that no longer fits under the API limit moves to the next block.
type frameHeap struct {
	kind       metadata.HeapKind
	limit      uint32
	blocks     []heapBlock
	current    int
	ringOffset uint32
}

func (h *frameHeap) block() *heapBlock {
	return &h.blocks[h.current]
}

func (h *frameHeap) allocate(count uint32) metadata.DescriptorRange {
	r := metadata.DescriptorRange{Heap: h.block().native, Offset: h.ringOffset, Count: count}
	h.ringOffset += count
	return r
}

// DescriptorTableFrameAllocator owns the shader-visible heaps one command context
// uses in one frame slot, plus the implicit slot bindings of that context.
type DescriptorTableFrameAllocator struct {
	backend  metadata.Backend
	handler  *AllocationHandler
	metrics  *core.Metrics
	registry *registry
	context  uint32

	heaps      [2]*frameHeap
	heapsBound bool
	dirty      bool

	constantBuffers [metadata.MaxConstantBufferSlots]metadata.Handle
	resources       [metadata.MaxResourceSlots]metadata.Handle
	unordered       [metadata.MaxUnorderedSlots]metadata.Handle
	samplers        [metadata.MaxSamplerSlots]metadata.Handle
}

func NewDescriptorTableFrameAllocator(backend metadata.Backend, handler *AllocationHandler, metrics *core.Metrics, reg *registry, context uint32) (*DescriptorTableFrameAllocator, error) {
	limits := backend.Limits()
	a := &DescriptorTableFrameAllocator{
		backend:  backend,
		handler:  handler,
		metrics:  metrics,
		registry: reg,
		context:  context,
		dirty:    true,
	}
	a.heaps[metadata.HeapResource] = &frameHeap{kind: metadata.HeapResource, limit: limits.ResourceDescriptors}
	a.heaps[metadata.HeapSampler] = &frameHeap{kind: metadata.HeapSampler, limit: limits.SamplerDescriptors}
	for _, h := range a.heaps {
		native, err := backend.CreateDescriptorHeap(h.kind, metadata.DescriptorHeapMinimum, true)
		if err != nil {
			return nil, err
		}
		h.blocks = append(h.blocks, heapBlock{native: native, capacity: metadata.DescriptorHeapMinimum})
	}
	return a, nil
}

func (a *DescriptorTableFrameAllocator) heapSize(limit, count uint32) uint32 {
	return math.Clamp(math.NextPowerOfTwo(math.Max(metadata.DescriptorHeapMinimum, count)), metadata.DescriptorHeapMinimum, limit)
}

func (a *DescriptorTableFrameAllocator) createHeap(h *frameHeap, capacity uint32) any {
	native, err := a.backend.CreateDescriptorHeap(h.kind, capacity, true)
	if err != nil {
		fatal("failed to create a descriptor heap of %d: %s", capacity, err.Error())
	}
	return native
}

// reserve makes room for count descriptors at the ring offset of h. It reports
// whether the native heap changed.
func (a *DescriptorTableFrameAllocator) reserve(h *frameHeap, count uint32) bool {
	if count == 0 {
		return false
	}
	if count > h.limit {
		fatal("request for %d descriptors exceeds the heap limit of %d", count, h.limit)
	}
	if h.ringOffset+count <= h.block().capacity {
		return false
	}

	required := h.ringOffset + count
	if required > h.limit {
		h.current++
		h.ringOffset = 0
		required = count
		if h.current == len(h.blocks) {
			size := a.heapSize(h.limit, count)
			h.blocks = append(h.blocks, heapBlock{native: a.createHeap(h, size), capacity: size})
			a.metrics.Add(func(c *core.MetricsCounters) { c.DescriptorBlocks++ })
			core.LogDebug("context %d starts descriptor block %d of %d", a.context, h.current, size)
			return true
		}
	}

	block := h.block()
	if required > block.capacity {
		size := a.heapSize(h.limit, required)
		a.handler.Retire(block.native, metadata.CategoryDescriptorHeap)
		block.native = a.createHeap(h, size)
		block.capacity = size
		a.metrics.Add(func(c *core.MetricsCounters) { c.DescriptorHeapGrows++ })
		core.LogDebug("context %d grows descriptor heap to %d", a.context, size)
	}
	return true
}

// RequestHeaps guarantees room for the given descriptor counts and binds the heaps
// on cmd when they changed or were not bound yet.
func (a *DescriptorTableFrameAllocator) RequestHeaps(resources, samplers uint32, cmd metadata.CommandList) {
	changed := a.reserve(a.heaps[metadata.HeapResource], resources)
	if a.reserve(a.heaps[metadata.HeapSampler], samplers) {
		changed = true
	}
	if changed || !a.heapsBound {
		cmd.BindDescriptorHeaps(a.heaps[metadata.HeapResource].block().native, a.heaps[metadata.HeapSampler].block().native)
		a.heapsBound = true
	}
}

func (a *DescriptorTableFrameAllocator) bind(slots []metadata.Handle, slot uint32, h metadata.Handle, force bool) {
	if slots[slot] == h && !force {
		return
	}
	slots[slot] = h
	a.dirty = true
}

func (a *DescriptorTableFrameAllocator) BindConstantBuffer(slot uint32, h metadata.Handle, dynamic bool) {
	a.bind(a.constantBuffers[:], slot, h, dynamic)
}

func (a *DescriptorTableFrameAllocator) BindResource(slot uint32, h metadata.Handle) {
	a.bind(a.resources[:], slot, h, false)
}

func (a *DescriptorTableFrameAllocator) BindUAV(slot uint32, h metadata.Handle) {
	a.bind(a.unordered[:], slot, h, false)
}

func (a *DescriptorTableFrameAllocator) BindSampler(slot uint32, h metadata.Handle) {
	a.bind(a.samplers[:], slot, h, false)
}

func (a *DescriptorTableFrameAllocator) MarkDirty() {
	a.dirty = true
}

func (a *DescriptorTableFrameAllocator) Dirty() bool {
	return a.dirty
}

func (a *DescriptorTableFrameAllocator) describe(h metadata.Handle, t metadata.DescriptorType, dim metadata.ViewDimension, frame uint64) metadata.Descriptor {
	if h.IsNull() {
		return metadata.NullDescriptor(t, dim)
	}
	record, err := a.registry.get(h)
	if err != nil {
		core.LogDebug("slot bound to %s: %s", h, err.Error())
		return metadata.NullDescriptor(t, dim)
	}
	desc, err := record.describe(t, a.context, frame)
	if err != nil {
		core.LogWarn("%s", err.Error())
		return metadata.NullDescriptor(t, dim)
	}
	return desc
}

// Validate writes the implicit slots of layout into the frame heaps and sets them
// as the tables of the active root. Does nothing when no binding changed.
func (a *DescriptorTableFrameAllocator) Validate(graphics bool, layout metadata.ImplicitLayout, frame uint64, cmd metadata.CommandList) {
	if !a.dirty {
		return
	}
	resources := layout.ResourceCount()
	samplers := layout.Samplers
	a.RequestHeaps(resources, samplers, cmd)

	root := uint32(0)
	if resources > 0 {
		table := a.heaps[metadata.HeapResource].allocate(resources)
		index := table.Offset
		write := func(slots []metadata.Handle, count uint32, t metadata.DescriptorType, dim metadata.ViewDimension) {
			for slot := uint32(0); slot < count; slot++ {
				desc := a.describe(slots[slot], t, dim, frame)
				a.backend.WriteDescriptor(table.Heap, index, &desc)
				index++
			}
		}
		write(a.constantBuffers[:], layout.ConstantBuffers, metadata.DescriptorConstantBuffer, metadata.DimensionBuffer)
		write(a.resources[:], layout.Resources, metadata.DescriptorShaderResource, metadata.DimensionTexture2D)
		write(a.unordered[:], layout.UnorderedAccess, metadata.DescriptorUnorderedAccess, metadata.DimensionTexture2D)
		cmd.SetDescriptorTable(graphics, root, table)
		root++
	}
	if samplers > 0 {
		table := a.heaps[metadata.HeapSampler].allocate(samplers)
		for slot := uint32(0); slot < samplers; slot++ {
			desc := a.describe(a.samplers[slot], metadata.DescriptorSampler, metadata.DimensionTexture2D, frame)
			a.backend.WriteDescriptor(table.Heap, table.Offset+slot, &desc)
		}
		cmd.SetDescriptorTable(graphics, root, table)
	}
	a.dirty = false
}

// Commit copies the staging descriptors of table into the frame heaps.
func (a *DescriptorTableFrameAllocator) Commit(table *descriptorTableData, cmd metadata.CommandList) (resources, samplers metadata.DescriptorRange) {
	rc := table.desc.ResourceCount()
	sc := table.desc.SamplerCount()
	a.RequestHeaps(rc, sc, cmd)
	if rc > 0 {
		resources = a.heaps[metadata.HeapResource].allocate(rc)
		a.backend.CopyDescriptors(resources.Heap, resources.Offset, table.resources, 0, rc)
	}
	if sc > 0 {
		samplers = a.heaps[metadata.HeapSampler].allocate(sc)
		a.backend.CopyDescriptors(samplers.Heap, samplers.Offset, table.samplers, 0, sc)
	}
	return resources, samplers
}

// Reset rewinds every heap to the start of its first block and forgets the slot
// bindings. Called when the frame slot is reused.
func (a *DescriptorTableFrameAllocator) Reset() {
	for _, h := range a.heaps {
		h.current = 0
		h.ringOffset = 0
	}
	a.constantBuffers = [metadata.MaxConstantBufferSlots]metadata.Handle{}
	a.resources = [metadata.MaxResourceSlots]metadata.Handle{}
	a.unordered = [metadata.MaxUnorderedSlots]metadata.Handle{}
	a.samplers = [metadata.MaxSamplerSlots]metadata.Handle{}
	a.dirty = true
	a.heapsBound = false
}

// Heap returns the native heap and ring offset currently used for kind.
func (a *DescriptorTableFrameAllocator) Heap(kind metadata.HeapKind) (any, uint32) {
	h := a.heaps[kind]
	return h.block().native, h.ringOffset
}

func (a *DescriptorTableFrameAllocator) Blocks(kind metadata.HeapKind) int {
	return len(a.heaps[kind].blocks)
}

func (a *DescriptorTableFrameAllocator) Destroy() {
	for _, h := range a.heaps {
		for _, b := range h.blocks {
			a.handler.Retire(b.native, metadata.CategoryDescriptorHeap)
		}
		h.blocks = nil
	}
}
