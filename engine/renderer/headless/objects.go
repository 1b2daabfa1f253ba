package headless

import (
	"sync/atomic"

	"github.com/spaghettifunk/anima-rhi/engine/renderer/metadata"
)

// Object is the state every headless native object carries.
type Object struct {
	ID       uint64
	Category metadata.ObjectCategory
	Name     string
	released atomic.Int32
}

// Released reports whether the object was handed back through Release.
func (o *Object) Released() bool {
	return o.released.Load() > 0
}

// ReleaseCount returns how many times Release was called for the object.
func (o *Object) ReleaseCount() int {
	return int(o.released.Load())
}

func (o *Object) object() *Object {
	return o
}

type native interface {
	object() *Object
}

type Buffer struct {
	Object
	Desc metadata.BufferDesc
	Data []byte
}

type Texture struct {
	Object
	Desc         metadata.TextureDesc
	Subresources []metadata.SubresourceData
}

type View struct {
	Object
	Texture *Texture
}

type Sampler struct {
	Object
	Desc metadata.SamplerDesc
}

type RootSignature struct {
	Object
	Layout metadata.RootLayout
}

type Pipeline struct {
	Object
	Desc metadata.NativePipelineDesc
}

type RenderPass struct {
	Object
	Targets []metadata.RenderPassTarget
}

type AccelerationStructure struct {
	Object
	Desc metadata.AccelerationStructureDesc
}

// Heap stores descriptors sparsely so that large capacities cost nothing until
// slots are written.
type Heap struct {
	Object
	Kind          metadata.HeapKind
	Capacity      uint32
	ShaderVisible bool
	descriptors   map[uint32]metadata.Descriptor
}

// Descriptor returns the content of slot i. Unwritten slots read as the zero value
// with written=false.
func (h *Heap) Descriptor(i uint32) (metadata.Descriptor, bool) {
	d, ok := h.descriptors[i]
	return d, ok
}

// Range returns count descriptors starting at offset.
func (h *Heap) Range(offset, count uint32) []metadata.Descriptor {
	out := make([]metadata.Descriptor, count)
	for i := uint32(0); i < count; i++ {
		out[i] = h.descriptors[offset+i]
	}
	return out
}

type QueryHeap struct {
	Object
	Type   metadata.QueryType
	values []uint64
}
