package renderer

import (
	"fmt"

	"github.com/spaghettifunk/anima-rhi/engine/core"
	"github.com/spaghettifunk/anima-rhi/engine/math"
	"github.com/spaghettifunk/anima-rhi/engine/renderer/metadata"
)

// MaxRingAllocation is the largest single request a ring allocator serves.
const MaxRingAllocation uint64 = 1 << 30

// RingAllocation is a window of transient upload memory valid until the frame slot
// that produced it is reused.
type RingAllocation struct {
	Buffer any
	Offset uint64
	Size   uint64
	Data   []byte
}

func (a RingAllocation) IsValid() bool {
	return a.Buffer != nil
}

// RingAllocator is a linear upload allocator owned by one command context frame
// slot. It never fails: an overflowing request moves it to a larger buffer and the
// previous one is retired.
type RingAllocator struct {
	backend metadata.Backend
	handler *AllocationHandler
	metrics *core.Metrics
	name    string

	buffer   any
	data     []byte
	cursor   uint64
	capacity uint64
}

func NewRingAllocator(backend metadata.Backend, handler *AllocationHandler, metrics *core.Metrics, name string, size uint64) (*RingAllocator, error) {
	r := &RingAllocator{
		backend: backend,
		handler: handler,
		metrics: metrics,
		name:    name,
	}
	if err := r.resize(size); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *RingAllocator) resize(size uint64) error {
	desc := metadata.BufferDesc{
		Name:  r.name,
		Size:  size,
		Usage: metadata.UsageUpload,
		BindFlags: metadata.BindConstantBuffer | metadata.BindVertexBuffer |
			metadata.BindIndexBuffer | metadata.BindShaderResource,
	}
	buffer, err := r.backend.CreateBuffer(&desc, nil)
	if err != nil {
		return fmt.Errorf("failed to create ring buffer of %d bytes: %w", size, err)
	}
	data, err := r.backend.MapBuffer(buffer)
	if err != nil {
		_ = r.backend.Release(metadata.CategoryBuffer, buffer)
		return fmt.Errorf("failed to map ring buffer: %w", err)
	}
	if r.buffer != nil {
		r.handler.Retire(r.buffer, metadata.CategoryBuffer)
	}
	r.buffer = buffer
	r.data = data
	r.capacity = size
	r.cursor = 0
	return nil
}

// Allocate returns size bytes whose offset is a multiple of alignment.
func (r *RingAllocator) Allocate(size, alignment uint64) RingAllocation {
	if size > MaxRingAllocation {
		fatal("ring allocation of %d bytes exceeds the %d byte limit", size, MaxRingAllocation)
	}
	if alignment == 0 {
		alignment = 1
	}
	offset := math.AlignUp(r.cursor, alignment)
	if offset+size > r.capacity {
		grown := math.Max(2*r.capacity, 2*(r.cursor+size))
		core.LogDebug("ring %s grows from %d to %d bytes", r.name, r.capacity, grown)
		if err := r.resize(grown); err != nil {
			fatal("ring %s failed to grow: %s", r.name, err.Error())
		}
		r.metrics.Add(func(c *core.MetricsCounters) { c.RingGrowths++ })
		offset = 0
	}
	r.cursor = offset + size
	return RingAllocation{
		Buffer: r.buffer,
		Offset: offset,
		Size:   size,
		Data:   r.data[offset : offset+size : offset+size],
	}
}

// Clear rewinds the cursor. The buffer keeps its size.
func (r *RingAllocator) Clear() {
	r.cursor = 0
}

func (r *RingAllocator) Capacity() uint64 {
	return r.capacity
}

func (r *RingAllocator) Cursor() uint64 {
	return r.cursor
}

// Destroy retires the current buffer.
func (r *RingAllocator) Destroy() {
	if r.buffer != nil {
		r.handler.Retire(r.buffer, metadata.CategoryBuffer)
		r.buffer = nil
		r.data = nil
	}
}
