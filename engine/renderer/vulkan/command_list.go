package vulkan

import (
	"errors"
	"fmt"
	"unsafe"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/anima-rhi/engine/core"
	"github.com/spaghettifunk/anima-rhi/engine/renderer/metadata"
)

type listSlot struct {
	cb     *VulkanCommandBuffer
	arena  descriptorArena
	resets queryResets
}

// commandList owns a command pool, so lists can be recorded from different
// goroutines without locking.
type commandList struct {
	backend *Backend
	index   uint32
	pool    vk.CommandPool
	slots   []*listSlot
	current *listSlot

	recording bool
	released  bool
	pass      *VulkanRenderpass
	roots     [2]*rootSignature
	heaps     [2]*descriptorHeap
	// err keeps the first recording failure until Close.
	err error
}

const (
	computeRoot  = 0
	graphicsRoot = 1
)

func rootSlot(graphics bool) int {
	if graphics {
		return graphicsRoot
	}
	return computeRoot
}

func bindPoint(graphics bool) vk.PipelineBindPoint {
	if graphics {
		return vk.PipelineBindPointGraphics
	}
	return vk.PipelineBindPointCompute
}

func (b *Backend) CreateCommandList(index uint32, frameSlots uint32) (metadata.CommandList, error) {
	if frameSlots == 0 {
		return nil, fmt.Errorf("command list %d needs at least one frame slot", index)
	}
	cl := &commandList{backend: b, index: index}

	res := vk.CreateCommandPool(b.context.Device.LogicalDevice, &vk.CommandPoolCreateInfo{
		SType:            vk.StructureTypeCommandPoolCreateInfo,
		QueueFamilyIndex: uint32(b.context.Device.GraphicsQueueIndex),
		Flags:            vk.CommandPoolCreateFlags(vk.CommandPoolCreateResetCommandBufferBit),
	}, b.context.Allocator, &cl.pool)
	if err := resultError("vkCreateCommandPool", res); err != nil {
		return nil, err
	}
	for i := uint32(0); i < frameSlots; i++ {
		cb, err := NewVulkanCommandBuffer(b.context, cl.pool, true)
		if err != nil {
			cl.destroy()
			return nil, fmt.Errorf("command list %d: %w", index, err)
		}
		cl.slots = append(cl.slots, &listSlot{cb: cb, arena: descriptorArena{context: b.context}})
	}

	b.mu.Lock()
	b.lists = append(b.lists, cl)
	b.mu.Unlock()
	return cl, nil
}

func (c *commandList) fail(err error) {
	if c.err == nil {
		c.err = err
	}
}

func (c *commandList) cb() vk.CommandBuffer {
	return c.current.cb.Handle
}

func (c *commandList) Begin(frameSlot uint32) error {
	if frameSlot >= uint32(len(c.slots)) {
		return fmt.Errorf("frame slot %d out of range (%d slots): %w", frameSlot, len(c.slots), core.ErrInvalidState)
	}
	slot := c.slots[frameSlot]
	if err := slot.cb.Reset(); err != nil {
		return err
	}
	if err := slot.arena.reset(); err != nil {
		return err
	}
	slot.resets.clear()
	if err := slot.cb.Begin(true, false, false); err != nil {
		return err
	}
	c.current = slot
	c.recording = true
	c.err = nil
	c.pass = nil
	c.roots = [2]*rootSignature{}
	c.heaps = [2]*descriptorHeap{}
	return nil
}

func (c *commandList) Close() error {
	if !c.recording {
		return fmt.Errorf("command list %d closed while not recording: %w", c.index, core.ErrInvalidState)
	}
	if c.pass != nil {
		c.pass.End(c.cb())
		c.pass = nil
		c.fail(fmt.Errorf("command list %d closed inside a render pass: %w", c.index, core.ErrInvalidState))
	}
	c.recording = false
	err := c.current.cb.End()
	return errors.Join(c.err, err)
}

func (c *commandList) BindDescriptorHeaps(resource, sampler any) {
	c.heaps[metadata.HeapResource], _ = resource.(*descriptorHeap)
	c.heaps[metadata.HeapSampler], _ = sampler.(*descriptorHeap)
}

func (c *commandList) SetRootSignature(layout any, graphics bool) {
	root, ok := layout.(*rootSignature)
	if !ok {
		c.fail(fmt.Errorf("root signature %T: %w", layout, core.ErrInvalidHandle))
		return
	}
	c.roots[rootSlot(graphics)] = root
}

// SetPipeline binds the pipeline. Topology is baked into the pipeline.
func (c *commandList) SetPipeline(pipeline any, _ metadata.PrimitiveTopology) {
	p, ok := pipeline.(*VulkanPipeline)
	if !ok {
		c.fail(fmt.Errorf("pipeline %T: %w", pipeline, core.ErrInvalidHandle))
		return
	}
	vk.CmdBindPipeline(c.cb(), p.BindPoint, p.Handle)
	if c.roots[rootSlot(p.BindPoint == vk.PipelineBindPointGraphics)] == nil {
		c.roots[rootSlot(p.BindPoint == vk.PipelineBindPointGraphics)] = p.Root
	}
}

func (c *commandList) SetDescriptorTable(graphics bool, rootIndex uint32, table metadata.DescriptorRange) {
	root := c.roots[rootSlot(graphics)]
	if root == nil || int(rootIndex) >= len(root.setIndex) || root.setIndex[rootIndex] < 0 {
		c.fail(fmt.Errorf("root parameter %d is not a descriptor table: %w", rootIndex, core.ErrInvalidDescriptor))
		return
	}
	heap, ok := table.Heap.(*descriptorHeap)
	if !ok {
		c.fail(fmt.Errorf("descriptor table from %T: %w", table.Heap, core.ErrInvalidHandle))
		return
	}
	set := root.setIndex[rootIndex]
	ds, err := c.current.arena.allocate(root.setLayouts[set])
	if err != nil {
		c.fail(err)
		return
	}
	c.backend.writeTable(ds, root.types[set], &root.params[rootIndex], heap, table.Offset)
	vk.CmdBindDescriptorSets(c.cb(), bindPoint(graphics), root.layout, uint32(set), 1, []vk.DescriptorSet{ds}, 0, nil)
}

func (c *commandList) SetRootConstants(graphics bool, rootIndex uint32, offset uint32, data []byte) {
	root := c.roots[rootSlot(graphics)]
	if root == nil || int(rootIndex) >= len(root.params) || root.params[rootIndex].Type != metadata.RootParameterConstants {
		c.fail(fmt.Errorf("root parameter %d is not a constant range: %w", rootIndex, core.ErrInvalidDescriptor))
		return
	}
	if len(data) == 0 {
		return
	}
	base := root.params[rootIndex].Constant.Offset
	vk.CmdPushConstants(c.cb(), root.layout, vk.ShaderStageFlags(vk.ShaderStageAll), base+offset, uint32(len(data)), unsafe.Pointer(&data[0]))
}

func (c *commandList) BindVertexBuffers(first uint32, buffers []any, offsets []uint64) {
	handles := make([]vk.Buffer, len(buffers))
	sizes := make([]vk.DeviceSize, len(buffers))
	for i, buffer := range buffers {
		buf, ok := buffer.(*vulkanBuffer)
		if !ok {
			c.fail(fmt.Errorf("vertex buffer %d is %T: %w", i, buffer, core.ErrInvalidHandle))
			return
		}
		handles[i] = buf.Handle
		if i < len(offsets) {
			sizes[i] = vk.DeviceSize(offsets[i])
		}
	}
	vk.CmdBindVertexBuffers(c.cb(), first, uint32(len(handles)), handles, sizes)
}

func (c *commandList) BindIndexBuffer(buffer any, format metadata.IndexFormat, offset uint64) {
	buf, ok := buffer.(*vulkanBuffer)
	if !ok {
		c.fail(fmt.Errorf("index buffer is %T: %w", buffer, core.ErrInvalidHandle))
		return
	}
	vk.CmdBindIndexBuffer(c.cb(), buf.Handle, vk.DeviceSize(offset), indexType(format))
}

func (c *commandList) Barrier(barriers []metadata.Barrier) {
	recordBarriers(c.cb(), barriers)
}

func (c *commandList) CopyBuffer(dst any, dstOffset uint64, src any, srcOffset uint64, size uint64) {
	d, ok := dst.(*vulkanBuffer)
	s, ok2 := src.(*vulkanBuffer)
	if !ok || !ok2 {
		c.fail(fmt.Errorf("buffer copy from %T to %T: %w", src, dst, core.ErrInvalidHandle))
		return
	}
	vk.CmdCopyBuffer(c.cb(), s.Handle, d.Handle, 1, []vk.BufferCopy{{
		SrcOffset: vk.DeviceSize(srcOffset),
		DstOffset: vk.DeviceSize(dstOffset),
		Size:      vk.DeviceSize(size),
	}})
}

func (c *commandList) BeginRenderPass(pass any, _ []metadata.RenderPassTarget) {
	rp, ok := pass.(*VulkanRenderpass)
	if !ok {
		c.fail(fmt.Errorf("render pass %T: %w", pass, core.ErrInvalidHandle))
		return
	}
	rp.Begin(c.cb())
	c.pass = rp
	c.current.cb.State = COMMAND_BUFFER_STATE_IN_RENDER_PASS
}

func (c *commandList) EndRenderPass() {
	if c.pass == nil {
		return
	}
	c.pass.End(c.cb())
	c.pass = nil
	c.current.cb.State = COMMAND_BUFFER_STATE_RECORDING
}

func (c *commandList) Draw(vertexCount, instanceCount, firstVertex, firstInstance uint32) {
	vk.CmdDraw(c.cb(), vertexCount, instanceCount, firstVertex, firstInstance)
}

func (c *commandList) DrawIndexed(indexCount, instanceCount, firstIndex uint32, baseVertex int32, firstInstance uint32) {
	vk.CmdDrawIndexed(c.cb(), indexCount, instanceCount, firstIndex, baseVertex, firstInstance)
}

func (c *commandList) Dispatch(x, y, z uint32) {
	vk.CmdDispatch(c.cb(), x, y, z)
}

func (c *commandList) indirect(args any) (vk.Buffer, bool) {
	buf, ok := args.(*vulkanBuffer)
	if !ok {
		c.fail(fmt.Errorf("indirect arguments are %T: %w", args, core.ErrInvalidHandle))
		var none vk.Buffer
		return none, false
	}
	return buf.Handle, true
}

func (c *commandList) DrawIndirect(args any, offset uint64) {
	if buf, ok := c.indirect(args); ok {
		vk.CmdDrawIndirect(c.cb(), buf, vk.DeviceSize(offset), 1, uint32(metadata.DrawIndirectArgsSize))
	}
}

func (c *commandList) DrawIndexedIndirect(args any, offset uint64) {
	if buf, ok := c.indirect(args); ok {
		vk.CmdDrawIndexedIndirect(c.cb(), buf, vk.DeviceSize(offset), 1, uint32(metadata.DrawIndexedIndirectArgsSize))
	}
}

func (c *commandList) DispatchIndirect(args any, offset uint64) {
	if buf, ok := c.indirect(args); ok {
		vk.CmdDispatchIndirect(c.cb(), buf, vk.DeviceSize(offset))
	}
}

func (c *commandList) DispatchRays(desc *metadata.DispatchRaysDesc) {
	core.LogWarn("vulkan: DispatchRays %dx%dx%d ignored, raytracing is not supported", desc.Width, desc.Height, desc.Depth)
}

func (c *commandList) query(heap any) *queryHeap {
	q, ok := heap.(*queryHeap)
	if !ok {
		c.fail(fmt.Errorf("query heap %T: %w", heap, core.ErrInvalidHandle))
		return nil
	}
	return q
}

func (c *commandList) BeginQuery(heap any, t metadata.QueryType, index uint32) {
	if !t.UsesOcclusionPool() {
		return
	}
	q := c.query(heap)
	if q == nil {
		return
	}
	var flags vk.QueryControlFlagBits
	if t == metadata.QueryOcclusion {
		flags = vk.QueryControlPreciseBit
	}
	c.current.resets.add(q, index)
	vk.CmdBeginQuery(c.cb(), q.pool, index, vk.QueryControlFlags(flags))
}

func (c *commandList) EndQuery(heap any, t metadata.QueryType, index uint32) {
	q := c.query(heap)
	if q == nil {
		return
	}
	switch t {
	case metadata.QueryOcclusion, metadata.QueryOcclusionPredicate:
		vk.CmdEndQuery(c.cb(), q.pool, index)
	case metadata.QueryTimestamp:
		c.current.resets.add(q, index)
		vk.CmdWriteTimestamp(c.cb(), vk.PipelineStageBottomOfPipeBit, q.pool, index)
	}
}

// ResolveQuery is a no-op, results are read straight from the pool.
func (c *commandList) ResolveQuery(any, metadata.QueryType, uint32) {}

func (c *commandList) Release() error {
	if c.released {
		return fmt.Errorf("command list %d released twice", c.index)
	}
	c.destroy()

	b := c.backend
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, l := range b.lists {
		if l == c {
			b.lists = append(b.lists[:i], b.lists[i+1:]...)
			break
		}
	}
	return nil
}

func (c *commandList) destroy() {
	context := c.backend.context
	for _, slot := range c.slots {
		slot.cb.Free(context, c.pool)
		slot.arena.destroy()
	}
	c.slots = nil
	if c.pool != vk.NullCommandPool {
		vk.DestroyCommandPool(context.Device.LogicalDevice, c.pool, context.Allocator)
		c.pool = vk.NullCommandPool
	}
	c.released = true
}
