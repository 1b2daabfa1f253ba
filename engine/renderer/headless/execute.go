package headless

import (
	"fmt"

	"github.com/spaghettifunk/anima-rhi/engine/renderer/metadata"
)

type tableBinding struct {
	graphics bool
	root     uint32
}

type executor struct {
	b         *Backend
	tables    map[tableBinding]metadata.DescriptorRange
	occlusion map[*QueryHeap]map[uint32]uint64
	active    map[*QueryHeap]map[uint32]bool
}

// execute plays back one list against the in-memory objects. Called with b.mu held.
func (b *Backend) execute(commands []Command) {
	e := &executor{
		b:         b,
		tables:    make(map[tableBinding]metadata.DescriptorRange),
		occlusion: make(map[*QueryHeap]map[uint32]uint64),
		active:    make(map[*QueryHeap]map[uint32]bool),
	}
	for i := range commands {
		e.run(&commands[i])
	}
}

func (e *executor) check(obj any, what string) {
	if n, ok := obj.(native); ok && n.object().Released() {
		o := n.object()
		e.b.violationLocked(fmt.Sprintf("%s uses released %s object %d (%s)", what, o.Category, o.ID, o.Name))
	}
}

func (e *executor) run(cmd *Command) {
	switch cmd.Op {
	case OpBindHeaps:
		for _, h := range cmd.Objects {
			e.check(h, "bind heaps")
		}
	case OpSetRootSignature, OpSetPipeline, OpBindIndexBuffer:
		e.check(cmd.Object, "bind")
	case OpBindVertexBuffers:
		for _, v := range cmd.Objects {
			e.check(v, "bind vertex buffers")
		}
	case OpSetDescriptorTable:
		e.check(cmd.Range.Heap, "set descriptor table")
		e.tables[tableBinding{cmd.Graphics, cmd.RootIndex}] = cmd.Range
	case OpBarrier:
		for _, barrier := range cmd.Barriers {
			e.check(barrier.Resource, "barrier")
		}
	case OpCopyBuffer:
		e.copyBuffer(cmd)
	case OpBeginRenderPass:
		e.check(cmd.Object, "begin render pass")
	case OpDraw, OpDrawIndexed:
		e.readTables(true)
		samples := uint64(cmd.Counts[0]) * uint64(max(cmd.Counts[1], 1))
		for heap, indices := range e.active {
			for index := range indices {
				e.occlusion[heap][index] += samples
			}
		}
	case OpDispatch, OpDispatchRays:
		e.readTables(false)
	case OpDrawIndirect, OpDrawIndexedIndirect:
		e.check(cmd.Object, "indirect arguments")
		e.readTables(true)
	case OpDispatchIndirect:
		e.check(cmd.Object, "indirect arguments")
		e.readTables(false)
	case OpBeginQuery:
		heap := cmd.Object.(*QueryHeap)
		if cmd.QueryType.UsesOcclusionPool() {
			if e.active[heap] == nil {
				e.active[heap] = make(map[uint32]bool)
				e.occlusion[heap] = make(map[uint32]uint64)
			}
			e.active[heap][cmd.Index] = true
			e.occlusion[heap][cmd.Index] = 0
		}
	case OpEndQuery:
		heap := cmd.Object.(*QueryHeap)
		switch cmd.QueryType {
		case metadata.QueryTimestamp:
			e.b.clock++
			heap.values[cmd.Index] = e.b.clock * 1000
		case metadata.QueryOcclusion, metadata.QueryOcclusionPredicate:
			delete(e.active[heap], cmd.Index)
		}
	case OpResolveQuery:
		heap := cmd.Object.(*QueryHeap)
		if cmd.QueryType.UsesOcclusionPool() {
			heap.values[cmd.Index] = e.occlusion[heap][cmd.Index]
		}
	}
}

func (e *executor) copyBuffer(cmd *Command) {
	e.check(cmd.Object, "copy destination")
	e.check(cmd.Src, "copy source")
	dst, src := cmd.Object.(*Buffer), cmd.Src.(*Buffer)
	if cmd.DstOffset+cmd.Size > uint64(len(dst.Data)) || cmd.SrcOffset+cmd.Size > uint64(len(src.Data)) {
		e.b.violationLocked(fmt.Sprintf("copy of %d bytes out of range", cmd.Size))
		return
	}
	copy(dst.Data[cmd.DstOffset:cmd.DstOffset+cmd.Size], src.Data[cmd.SrcOffset:cmd.SrcOffset+cmd.Size])
}

// readTables touches every descriptor of the tables bound on the given root, the
// way a shader reading them would.
func (e *executor) readTables(graphics bool) {
	for binding, table := range e.tables {
		if binding.graphics != graphics {
			continue
		}
		heap, ok := table.Heap.(*Heap)
		if !ok {
			continue
		}
		if table.Offset+table.Count > heap.Capacity {
			e.b.violationLocked(fmt.Sprintf("table [%d,+%d) past heap %d capacity", table.Offset, table.Count, heap.ID))
			continue
		}
		for i := uint32(0); i < table.Count; i++ {
			d, ok := heap.descriptors[table.Offset+i]
			if !ok {
				e.b.violationLocked(fmt.Sprintf("draw reads unwritten descriptor %d of heap %d", table.Offset+i, heap.ID))
				continue
			}
			if !d.IsNull() {
				e.check(d.Resource, "descriptor")
				e.check(d.View, "descriptor view")
			}
		}
	}
}
