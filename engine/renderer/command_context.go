package renderer

import (
	"fmt"

	"github.com/spaghettifunk/anima-rhi/engine/core"
	"github.com/spaghettifunk/anima-rhi/engine/renderer/metadata"
)

type ContextState uint8

const (
	ContextIdle ContextState = iota
	ContextRecording
	ContextClosed
)

func (s ContextState) String() string {
	switch s {
	case ContextRecording:
		return "recording"
	case ContextClosed:
		return "closed"
	default:
		return "idle"
	}
}

// contextFrame is the per frame slot state of a command context.
type contextFrame struct {
	ring        *RingAllocator
	descriptors *DescriptorTableFrameAllocator
}

type pendingQuery struct {
	heap  any
	t     metadata.QueryType
	index uint32
}

// CommandContext records the commands of one thread for one frame. It is claimed
// with Device.BeginCommandContext and must be closed before Device.Submit. A single
// context is not safe for concurrent use.
type CommandContext struct {
	device *Device
	index  uint32
	list   metadata.CommandList
	frames []*contextFrame

	frame       *contextFrame
	frameNumber uint64
	state       ContextState
	tracker     *BarrierTracker

	pipeline   *pipelineData
	graphics   bool
	renderPass *renderPassData
	queries    []pendingQuery
}

func newCommandContext(d *Device, index uint32) (*CommandContext, error) {
	list, err := d.backend.CreateCommandList(index, uint32(d.inFlight))
	if err != nil {
		return nil, fmt.Errorf("failed to create command list %d: %w", index, err)
	}
	c := &CommandContext{
		device:  d,
		index:   index,
		list:    list,
		frames:  make([]*contextFrame, d.inFlight),
		tracker: NewBarrierTracker(),
	}
	return c, nil
}

func (c *CommandContext) frameResources(slot uint64) (*contextFrame, error) {
	if f := c.frames[slot]; f != nil {
		return f, nil
	}
	d := c.device
	ring, err := NewRingAllocator(d.backend, d.handler, d.metrics, fmt.Sprintf("ring-%d-%d", c.index, slot), d.config.RingInitialSize)
	if err != nil {
		return nil, err
	}
	descriptors, err := NewDescriptorTableFrameAllocator(d.backend, d.handler, d.metrics, d.registry, c.index)
	if err != nil {
		ring.Destroy()
		return nil, err
	}
	f := &contextFrame{ring: ring, descriptors: descriptors}
	c.frames[slot] = f
	return f, nil
}

// Reset starts recording frame into the slot the frame maps to.
func (c *CommandContext) Reset(frame uint64) error {
	slot := frame % c.device.inFlight
	f, err := c.frameResources(slot)
	if err != nil {
		return err
	}
	if err := c.list.Begin(uint32(slot)); err != nil {
		return fmt.Errorf("failed to begin command list %d: %w", c.index, err)
	}
	f.ring.Clear()
	f.descriptors.Reset()
	c.tracker.Reset()
	c.frame = f
	c.frameNumber = frame
	c.pipeline = nil
	c.graphics = false
	c.renderPass = nil
	c.queries = c.queries[:0]
	c.state = ContextRecording
	return nil
}

func (c *CommandContext) Index() uint32 {
	return c.index
}

func (c *CommandContext) State() ContextState {
	return c.state
}

// Frame returns the frame number the context is recording.
func (c *CommandContext) Frame() uint64 {
	return c.frameNumber
}

func (c *CommandContext) Ring() *RingAllocator {
	return c.frame.ring
}

func (c *CommandContext) Descriptors() *DescriptorTableFrameAllocator {
	return c.frame.descriptors
}

func (c *CommandContext) Tracker() *BarrierTracker {
	return c.tracker
}

func (c *CommandContext) recording() error {
	if c.state != ContextRecording {
		return fmt.Errorf("context %d is %s: %w", c.index, c.state, core.ErrInvalidState)
	}
	return nil
}

// Close resolves the queries ended during the frame and closes the native list.
func (c *CommandContext) Close() error {
	if err := c.recording(); err != nil {
		return err
	}
	if c.renderPass != nil {
		return fmt.Errorf("context %d closed inside a render pass: %w", c.index, core.ErrInvalidState)
	}
	for _, q := range c.queries {
		c.list.ResolveQuery(q.heap, q.t, q.index)
	}
	c.queries = c.queries[:0]
	c.tracker.Flush(c.list)
	if err := c.list.Close(); err != nil {
		return fmt.Errorf("failed to close command list %d: %w", c.index, err)
	}
	c.state = ContextClosed
	return nil
}

// SetPipeline binds the pipeline and its root signature.
func (c *CommandContext) SetPipeline(h metadata.Handle) error {
	if err := c.recording(); err != nil {
		return err
	}
	record, err := c.device.registry.lookup(h, metadata.ResourceKindPipeline)
	if err != nil {
		return err
	}
	p := record.pipeline
	if c.pipeline == p {
		return nil
	}
	graphics := p.desc.Type.IsGraphics()
	if c.pipeline == nil || c.pipeline.rootSignature != p.rootSignature || c.graphics != graphics {
		c.list.SetRootSignature(p.rootSignature, graphics)
		c.frame.descriptors.MarkDirty()
	}
	c.list.SetPipeline(p.native, p.desc.Topology)
	c.pipeline = p
	c.graphics = graphics
	return nil
}

func (c *CommandContext) bindSlot(slot, max uint32, what string) error {
	if err := c.recording(); err != nil {
		return err
	}
	if slot >= max {
		return fmt.Errorf("%s slot %d out of range (max %d): %w", what, slot, max, core.ErrInvalidDescriptor)
	}
	return nil
}

// BindConstantBuffer binds a buffer to an implicit constant buffer slot.
func (c *CommandContext) BindConstantBuffer(slot uint32, h metadata.Handle) error {
	if err := c.bindSlot(slot, metadata.MaxConstantBufferSlots, "constant buffer"); err != nil {
		return err
	}
	dynamic := false
	if record, err := c.device.registry.lookup(h, metadata.ResourceKindBuffer); err == nil {
		dynamic = record.buffer.desc.Usage == metadata.UsageDynamic
	}
	c.frame.descriptors.BindConstantBuffer(slot, h, dynamic)
	return nil
}

func (c *CommandContext) BindResource(slot uint32, h metadata.Handle) error {
	if err := c.bindSlot(slot, metadata.MaxResourceSlots, "shader resource"); err != nil {
		return err
	}
	c.frame.descriptors.BindResource(slot, h)
	return nil
}

func (c *CommandContext) BindUAV(slot uint32, h metadata.Handle) error {
	if err := c.bindSlot(slot, metadata.MaxUnorderedSlots, "unordered access"); err != nil {
		return err
	}
	c.frame.descriptors.BindUAV(slot, h)
	return nil
}

func (c *CommandContext) BindSampler(slot uint32, h metadata.Handle) error {
	if err := c.bindSlot(slot, metadata.MaxSamplerSlots, "sampler"); err != nil {
		return err
	}
	c.frame.descriptors.BindSampler(slot, h)
	return nil
}

// BindDescriptorTable binds table to register space of the active explicit root
// signature. A space the root signature does not declare is fatal.
func (c *CommandContext) BindDescriptorTable(space uint32, h metadata.Handle) error {
	if err := c.recording(); err != nil {
		return err
	}
	record, err := c.device.registry.lookup(h, metadata.ResourceKindDescriptorTable)
	if err != nil {
		return err
	}
	if c.pipeline == nil {
		return fmt.Errorf("descriptor table bound without a pipeline: %w", core.ErrInvalidState)
	}
	root := c.pipeline.root
	if c.pipeline.implicit || int(space) >= len(root.TableBindPoint) || root.TableBindPoint[space] < 0 {
		fatal("root signature of pipeline %q has no descriptor table in space %d", c.pipeline.desc.Name, space)
		return core.ErrInvalidDescriptor
	}
	table := record.table
	table.mu.Lock()
	table.scrub(c.device.backend, c.device.registry)
	resources, samplers := c.frame.descriptors.Commit(table, c.list)
	table.mu.Unlock()
	index := uint32(root.TableBindPoint[space])
	if !resources.IsEmpty() {
		c.list.SetDescriptorTable(c.graphics, index, resources)
		index++
	}
	if !samplers.IsEmpty() {
		c.list.SetDescriptorTable(c.graphics, index, samplers)
	}
	return nil
}

// BindRootConstants sets the root constant range index of the active root signature.
func (c *CommandContext) BindRootConstants(index uint32, data []byte) error {
	if err := c.recording(); err != nil {
		return err
	}
	if c.pipeline == nil {
		return fmt.Errorf("root constants bound without a pipeline: %w", core.ErrInvalidState)
	}
	root := c.pipeline.root
	parameter := root.ConstantBindPoint + index
	if int(parameter) >= len(root.Parameters) || root.Parameters[parameter].Type != metadata.RootParameterConstants {
		fatal("root signature of pipeline %q has no root constants at %d", c.pipeline.desc.Name, index)
		return core.ErrInvalidDescriptor
	}
	if size := root.Parameters[parameter].Constant.Size; uint32(len(data)) > size {
		return fmt.Errorf("%d bytes of root constants exceed the declared %d: %w", len(data), size, core.ErrInvalidDescriptor)
	}
	c.list.SetRootConstants(c.graphics, parameter, 0, data)
	return nil
}

func (c *CommandContext) BindVertexBuffers(first uint32, buffers []metadata.Handle, offsets []uint64) error {
	if err := c.recording(); err != nil {
		return err
	}
	if first+uint32(len(buffers)) > metadata.MaxVertexBuffers {
		return fmt.Errorf("%d vertex buffers from %d: %w", len(buffers), first, core.ErrInvalidDescriptor)
	}
	natives := make([]any, len(buffers))
	for i, h := range buffers {
		record, err := c.device.registry.lookup(h, metadata.ResourceKindBuffer)
		if err != nil {
			return err
		}
		c.tracker.Transition(record, metadata.LayoutVertexBuffer)
		natives[i] = c.currentBuffer(record)
	}
	c.list.BindVertexBuffers(first, natives, offsets)
	return nil
}

func (c *CommandContext) BindIndexBuffer(h metadata.Handle, format metadata.IndexFormat, offset uint64) error {
	if err := c.recording(); err != nil {
		return err
	}
	record, err := c.device.registry.lookup(h, metadata.ResourceKindBuffer)
	if err != nil {
		return err
	}
	c.tracker.Transition(record, metadata.LayoutIndexBuffer)
	c.list.BindIndexBuffer(c.currentBuffer(record), format, offset)
	return nil
}

func (c *CommandContext) currentBuffer(record *resourceRecord) any {
	return record.buffer.native
}

// readLayout is the layout a buffer rests in after an upload, picked from the first
// read usage its bind flags declare.
func readLayout(flags metadata.BindFlag) metadata.Layout {
	switch {
	case flags.Has(metadata.BindVertexBuffer):
		return metadata.LayoutVertexBuffer
	case flags.Has(metadata.BindIndexBuffer):
		return metadata.LayoutIndexBuffer
	case flags.Has(metadata.BindConstantBuffer):
		return metadata.LayoutConstantBuffer
	case flags.Has(metadata.BindIndirectArgs):
		return metadata.LayoutIndirectArgument
	case flags.Has(metadata.BindShaderResource):
		return metadata.LayoutShaderResource
	case flags.Has(metadata.BindUnorderedAccess):
		return metadata.LayoutUnorderedAccess
	}
	return metadata.LayoutGeneral
}

// AllocateGPU returns constant-buffer aligned transient memory from the ring.
func (c *CommandContext) AllocateGPU(size uint64) (RingAllocation, error) {
	if err := c.recording(); err != nil {
		return RingAllocation{}, err
	}
	return c.frame.ring.Allocate(size, metadata.ConstantBufferAlignment), nil
}

// UpdateBuffer writes data into buffer h. A dynamic constant buffer gets a new ring
// version for this context; any other buffer is staged and copied.
func (c *CommandContext) UpdateBuffer(h metadata.Handle, data []byte) error {
	if err := c.recording(); err != nil {
		return err
	}
	record, err := c.device.registry.lookup(h, metadata.ResourceKindBuffer)
	if err != nil {
		return err
	}
	b := record.buffer
	if uint64(len(data)) > b.desc.Size {
		return fmt.Errorf("update of %d bytes into buffer %q of %d: %w", len(data), record.Name(), b.desc.Size, core.ErrInvalidDescriptor)
	}
	switch {
	case b.desc.Usage == metadata.UsageImmutable:
		return fmt.Errorf("buffer %q: %w", record.Name(), core.ErrImmutableBuffer)
	case b.desc.Usage == metadata.UsageDynamic && b.desc.BindFlags.Has(metadata.BindConstantBuffer):
		allocation := c.frame.ring.Allocate(b.desc.Size, metadata.ConstantBufferAlignment)
		copy(allocation.Data, data)
		b.dynamic[c.index] = dynamicVersion{allocation: allocation, frame: c.frameNumber}
		c.frame.descriptors.MarkDirty()
		return nil
	}
	if c.renderPass != nil {
		return fmt.Errorf("buffer copy inside a render pass: %w", core.ErrInvalidState)
	}
	staging := c.frame.ring.Allocate(uint64(len(data)), 16)
	copy(staging.Data, data)
	restore := record.GetLayout()
	if restore == metadata.LayoutUndefined || restore == metadata.LayoutCopyDst {
		restore = readLayout(b.desc.BindFlags)
	}
	c.tracker.Transition(record, metadata.LayoutCopyDst)
	c.tracker.Flush(c.list)
	c.list.CopyBuffer(b.native, 0, staging.Buffer, staging.Offset, uint64(len(data)))
	c.tracker.Transition(record, restore)
	return nil
}

// CopyBuffer copies size bytes between two device buffers.
func (c *CommandContext) CopyBuffer(dst metadata.Handle, dstOffset uint64, src metadata.Handle, srcOffset uint64, size uint64) error {
	if err := c.recording(); err != nil {
		return err
	}
	if c.renderPass != nil {
		return fmt.Errorf("buffer copy inside a render pass: %w", core.ErrInvalidState)
	}
	dstRecord, err := c.device.registry.lookup(dst, metadata.ResourceKindBuffer)
	if err != nil {
		return err
	}
	srcRecord, err := c.device.registry.lookup(src, metadata.ResourceKindBuffer)
	if err != nil {
		return err
	}
	if dstOffset+size > dstRecord.buffer.desc.Size || srcOffset+size > srcRecord.buffer.desc.Size {
		return fmt.Errorf("copy of %d bytes out of range: %w", size, core.ErrInvalidDescriptor)
	}
	c.tracker.Transition(dstRecord, metadata.LayoutCopyDst)
	c.tracker.Transition(srcRecord, metadata.LayoutCopySrc)
	c.tracker.Flush(c.list)
	c.list.CopyBuffer(dstRecord.buffer.native, dstOffset, srcRecord.buffer.native, srcOffset, size)
	return nil
}

// Transition moves a texture or buffer into layout before its next use.
func (c *CommandContext) Transition(h metadata.Handle, layout metadata.Layout) error {
	if err := c.recording(); err != nil {
		return err
	}
	record, err := c.device.registry.get(h)
	if err != nil {
		return err
	}
	switch record.kind {
	case metadata.ResourceKindBuffer, metadata.ResourceKindTexture, metadata.ResourceKindAccelerationStructure:
	default:
		return fmt.Errorf("%s has no layout: %w", h, core.ErrInvalidHandle)
	}
	c.tracker.Transition(record, layout)
	return nil
}

// BeginRenderPass moves the attachments into their subpass layouts and begins the
// pass. Attachments left in another layout since the pass was created are fixed up
// first.
func (c *CommandContext) BeginRenderPass(h metadata.Handle) error {
	if err := c.recording(); err != nil {
		return err
	}
	if c.renderPass != nil {
		return fmt.Errorf("render pass already active: %w", core.ErrInvalidState)
	}
	record, err := c.device.registry.lookup(h, metadata.ResourceKindRenderPass)
	if err != nil {
		return err
	}
	pass := record.renderPass
	for _, pt := range pass.begin {
		if live := pt.record.GetLayout(); live != pt.before {
			core.LogDebug("render pass %q fixes up %s from %s", pass.desc.Name, pt.record.Name(), live)
		}
		c.tracker.Transition(pt.record, pt.after)
	}
	c.tracker.Flush(c.list)
	c.list.BeginRenderPass(pass.native, pass.targets)
	c.renderPass = pass
	return nil
}

// EndRenderPass ends the pass and moves the attachments into their final layouts.
func (c *CommandContext) EndRenderPass() error {
	if err := c.recording(); err != nil {
		return err
	}
	if c.renderPass == nil {
		return fmt.Errorf("no render pass active: %w", core.ErrInvalidState)
	}
	pass := c.renderPass
	c.list.EndRenderPass()
	c.tracker.apply(pass.resolve)
	c.tracker.apply(pass.end)
	c.tracker.Flush(c.list)
	c.renderPass = nil
	return nil
}

func (c *CommandContext) query(h metadata.Handle) (*queryData, any, error) {
	if err := c.recording(); err != nil {
		return nil, nil, err
	}
	record, err := c.device.registry.lookup(h, metadata.ResourceKindQuery)
	if err != nil {
		return nil, nil, err
	}
	q := record.query
	if q.desc.Type == metadata.QueryTimestampFrequency {
		return q, nil, nil
	}
	return q, c.device.queryHeap(q.desc.Type), nil
}

// BeginQuery starts an occlusion query. Timestamps have no begin and ignore it.
func (c *CommandContext) BeginQuery(h metadata.Handle) error {
	q, heap, err := c.query(h)
	if err != nil {
		return err
	}
	if q.desc.Type.UsesOcclusionPool() {
		c.list.BeginQuery(heap, q.desc.Type, q.index)
	}
	return nil
}

// EndQuery ends an occlusion query or writes a timestamp. The result is resolved
// when the context is closed.
func (c *CommandContext) EndQuery(h metadata.Handle) error {
	q, heap, err := c.query(h)
	if err != nil {
		return err
	}
	if heap == nil {
		return nil
	}
	c.list.EndQuery(heap, q.desc.Type, q.index)
	c.queries = append(c.queries, pendingQuery{heap: heap, t: q.desc.Type, index: q.index})
	return nil
}

func (c *CommandContext) prepare(pipeline metadata.PipelineType) error {
	if err := c.recording(); err != nil {
		return err
	}
	if c.pipeline == nil || c.pipeline.desc.Type != pipeline {
		return fmt.Errorf("no %s pipeline bound: %w", pipelineName(pipeline), core.ErrInvalidState)
	}
	if c.pipeline.implicit {
		c.frame.descriptors.Validate(c.graphics, c.pipeline.desc.Implicit, c.frameNumber, c.list)
	}
	c.tracker.Flush(c.list)
	return nil
}

func pipelineName(t metadata.PipelineType) string {
	switch t {
	case metadata.PipelineCompute:
		return "compute"
	case metadata.PipelineRaytracing:
		return "raytracing"
	}
	return "graphics"
}

func (c *CommandContext) PrepareDraw() error {
	return c.prepare(metadata.PipelineGraphics)
}

func (c *CommandContext) PrepareDispatch() error {
	return c.prepare(metadata.PipelineCompute)
}

func (c *CommandContext) PrepareRaytrace() error {
	return c.prepare(metadata.PipelineRaytracing)
}

func (c *CommandContext) Draw(vertexCount, instanceCount, firstVertex, firstInstance uint32) error {
	if err := c.PrepareDraw(); err != nil {
		return err
	}
	c.list.Draw(vertexCount, instanceCount, firstVertex, firstInstance)
	return nil
}

func (c *CommandContext) DrawIndexed(indexCount, instanceCount, firstIndex uint32, baseVertex int32, firstInstance uint32) error {
	if err := c.PrepareDraw(); err != nil {
		return err
	}
	c.list.DrawIndexed(indexCount, instanceCount, firstIndex, baseVertex, firstInstance)
	return nil
}

func (c *CommandContext) Dispatch(x, y, z uint32) error {
	if err := c.PrepareDispatch(); err != nil {
		return err
	}
	c.list.Dispatch(x, y, z)
	return nil
}

func (c *CommandContext) DispatchRays(desc *metadata.DispatchRaysDesc) error {
	if err := c.PrepareRaytrace(); err != nil {
		return err
	}
	c.list.DispatchRays(desc)
	return nil
}

// indirectArgs resolves the argument buffer of an indirect command and moves it into
// the indirect-argument layout. Inside a render pass the buffer must already be there.
func (c *CommandContext) indirectArgs(h metadata.Handle, offset, size uint64) (any, error) {
	if err := c.recording(); err != nil {
		return nil, err
	}
	record, err := c.device.registry.lookup(h, metadata.ResourceKindBuffer)
	if err != nil {
		return nil, err
	}
	b := record.buffer
	if !b.desc.BindFlags.Has(metadata.BindIndirectArgs) {
		return nil, fmt.Errorf("buffer %q is not bindable as indirect arguments: %w", record.Name(), core.ErrInvalidDescriptor)
	}
	if offset%4 != 0 || offset+size > b.desc.Size {
		return nil, fmt.Errorf("indirect arguments at %d out of buffer %q of %d: %w", offset, record.Name(), b.desc.Size, core.ErrInvalidDescriptor)
	}
	if c.renderPass != nil && record.GetLayout() != metadata.LayoutIndirectArgument {
		return nil, fmt.Errorf("buffer %q is %s inside a render pass: %w", record.Name(), record.GetLayout(), core.ErrInvalidState)
	}
	c.tracker.Transition(record, metadata.LayoutIndirectArgument)
	return b.native, nil
}

func (c *CommandContext) DrawIndirect(args metadata.Handle, offset uint64) error {
	native, err := c.indirectArgs(args, offset, metadata.DrawIndirectArgsSize)
	if err != nil {
		return err
	}
	if err := c.PrepareDraw(); err != nil {
		return err
	}
	c.list.DrawIndirect(native, offset)
	return nil
}

func (c *CommandContext) DrawIndexedIndirect(args metadata.Handle, offset uint64) error {
	native, err := c.indirectArgs(args, offset, metadata.DrawIndexedIndirectArgsSize)
	if err != nil {
		return err
	}
	if err := c.PrepareDraw(); err != nil {
		return err
	}
	c.list.DrawIndexedIndirect(native, offset)
	return nil
}

func (c *CommandContext) DispatchIndirect(args metadata.Handle, offset uint64) error {
	native, err := c.indirectArgs(args, offset, metadata.DispatchIndirectArgsSize)
	if err != nil {
		return err
	}
	if err := c.PrepareDispatch(); err != nil {
		return err
	}
	c.list.DispatchIndirect(native, offset)
	return nil
}

func (c *CommandContext) destroy() {
	for _, f := range c.frames {
		if f == nil {
			continue
		}
		f.ring.Destroy()
		f.descriptors.Destroy()
	}
	if err := c.list.Release(); err != nil {
		core.LogError("failed to release command list %d: %s", c.index, err.Error())
	}
}
