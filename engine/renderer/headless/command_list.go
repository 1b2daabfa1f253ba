package headless

import (
	"fmt"

	"github.com/spaghettifunk/anima-rhi/engine/core"
	"github.com/spaghettifunk/anima-rhi/engine/renderer/metadata"
)

type Op uint8

const (
	OpBindHeaps Op = iota
	OpSetRootSignature
	OpSetPipeline
	OpSetDescriptorTable
	OpSetRootConstants
	OpBindVertexBuffers
	OpBindIndexBuffer
	OpBarrier
	OpCopyBuffer
	OpBeginRenderPass
	OpEndRenderPass
	OpDraw
	OpDrawIndexed
	OpDispatch
	OpDispatchRays
	OpDrawIndirect
	OpDrawIndexedIndirect
	OpDispatchIndirect
	OpBeginQuery
	OpEndQuery
	OpResolveQuery
)

// Command is one recorded operation. Only the fields relevant to Op are set.
type Command struct {
	Op        Op
	Graphics  bool
	RootIndex uint32
	Range     metadata.DescriptorRange
	Object    any
	Objects   []any
	Barriers  []metadata.Barrier
	Counts    [4]uint32
	Src       any
	SrcOffset uint64
	DstOffset uint64
	Size      uint64
	Data      []byte
	QueryType metadata.QueryType
	Index     uint32
}

type CommandList struct {
	backend   *Backend
	index     uint32
	slots     uint32
	slot      uint32
	recording bool
	commands  []Command
}

func (c *CommandList) Index() uint32 {
	return c.index
}

// Commands returns what was recorded since the last Begin.
func (c *CommandList) Commands() []Command {
	return c.commands
}

func (c *CommandList) Begin(frameSlot uint32) error {
	if frameSlot >= c.slots {
		return fmt.Errorf("frame slot %d out of range (%d slots): %w", frameSlot, c.slots, core.ErrInvalidState)
	}
	c.slot = frameSlot
	c.commands = c.commands[:0]
	c.recording = true
	return nil
}

func (c *CommandList) Close() error {
	if !c.recording {
		return fmt.Errorf("command list %d closed twice: %w", c.index, core.ErrInvalidState)
	}
	c.recording = false
	return nil
}

func (c *CommandList) record(cmd Command) {
	if !c.recording {
		c.backend.violation(fmt.Sprintf("command list %d recorded op %d while not recording", c.index, cmd.Op))
		return
	}
	c.commands = append(c.commands, cmd)
}

func (c *CommandList) BindDescriptorHeaps(resource, sampler any) {
	c.record(Command{Op: OpBindHeaps, Objects: []any{resource, sampler}})
}

func (c *CommandList) SetRootSignature(layout any, graphics bool) {
	c.record(Command{Op: OpSetRootSignature, Object: layout, Graphics: graphics})
}

func (c *CommandList) SetPipeline(pipeline any, topology metadata.PrimitiveTopology) {
	c.record(Command{Op: OpSetPipeline, Object: pipeline, Counts: [4]uint32{uint32(topology)}})
}

func (c *CommandList) SetDescriptorTable(graphics bool, rootIndex uint32, table metadata.DescriptorRange) {
	c.record(Command{Op: OpSetDescriptorTable, Graphics: graphics, RootIndex: rootIndex, Range: table})
}

func (c *CommandList) SetRootConstants(graphics bool, rootIndex uint32, offset uint32, data []byte) {
	c.record(Command{Op: OpSetRootConstants, Graphics: graphics, RootIndex: rootIndex, DstOffset: uint64(offset), Data: append([]byte(nil), data...)})
}

func (c *CommandList) BindVertexBuffers(first uint32, buffers []any, offsets []uint64) {
	c.record(Command{Op: OpBindVertexBuffers, Index: first, Objects: append([]any(nil), buffers...)})
}

func (c *CommandList) BindIndexBuffer(buffer any, format metadata.IndexFormat, offset uint64) {
	c.record(Command{Op: OpBindIndexBuffer, Object: buffer, Counts: [4]uint32{uint32(format)}, DstOffset: offset})
}

func (c *CommandList) Barrier(barriers []metadata.Barrier) {
	c.record(Command{Op: OpBarrier, Barriers: append([]metadata.Barrier(nil), barriers...)})
}

func (c *CommandList) CopyBuffer(dst any, dstOffset uint64, src any, srcOffset uint64, size uint64) {
	c.record(Command{Op: OpCopyBuffer, Object: dst, DstOffset: dstOffset, Src: src, SrcOffset: srcOffset, Size: size})
}

func (c *CommandList) BeginRenderPass(pass any, targets []metadata.RenderPassTarget) {
	c.record(Command{Op: OpBeginRenderPass, Object: pass})
}

func (c *CommandList) EndRenderPass() {
	c.record(Command{Op: OpEndRenderPass})
}

func (c *CommandList) Draw(vertexCount, instanceCount, firstVertex, firstInstance uint32) {
	c.record(Command{Op: OpDraw, Counts: [4]uint32{vertexCount, instanceCount, firstVertex, firstInstance}})
}

func (c *CommandList) DrawIndexed(indexCount, instanceCount, firstIndex uint32, baseVertex int32, firstInstance uint32) {
	c.record(Command{Op: OpDrawIndexed, Counts: [4]uint32{indexCount, instanceCount, firstIndex, firstInstance}})
}

func (c *CommandList) Dispatch(x, y, z uint32) {
	c.record(Command{Op: OpDispatch, Counts: [4]uint32{x, y, z}})
}

func (c *CommandList) DispatchRays(desc *metadata.DispatchRaysDesc) {
	c.record(Command{Op: OpDispatchRays, Counts: [4]uint32{desc.Width, desc.Height, desc.Depth}})
}

func (c *CommandList) DrawIndirect(args any, offset uint64) {
	c.record(Command{Op: OpDrawIndirect, Object: args, SrcOffset: offset})
}

func (c *CommandList) DrawIndexedIndirect(args any, offset uint64) {
	c.record(Command{Op: OpDrawIndexedIndirect, Object: args, SrcOffset: offset})
}

func (c *CommandList) DispatchIndirect(args any, offset uint64) {
	c.record(Command{Op: OpDispatchIndirect, Object: args, SrcOffset: offset})
}

func (c *CommandList) BeginQuery(heap any, t metadata.QueryType, index uint32) {
	c.record(Command{Op: OpBeginQuery, Object: heap, QueryType: t, Index: index})
}

func (c *CommandList) EndQuery(heap any, t metadata.QueryType, index uint32) {
	c.record(Command{Op: OpEndQuery, Object: heap, QueryType: t, Index: index})
}

func (c *CommandList) ResolveQuery(heap any, t metadata.QueryType, index uint32) {
	c.record(Command{Op: OpResolveQuery, Object: heap, QueryType: t, Index: index})
}

func (c *CommandList) Release() error {
	c.commands = nil
	return nil
}
