package metadata

import "fmt"

type ResourceKind uint8

const (
	ResourceKindInvalid ResourceKind = iota
	ResourceKindBuffer
	ResourceKindTexture
	ResourceKindSampler
	ResourceKindPipeline
	ResourceKindRootSignature
	ResourceKindDescriptorTable
	ResourceKindRenderPass
	ResourceKindQuery
	ResourceKindAccelerationStructure
)

func (k ResourceKind) String() string {
	switch k {
	case ResourceKindBuffer:
		return "buffer"
	case ResourceKindTexture:
		return "texture"
	case ResourceKindSampler:
		return "sampler"
	case ResourceKindPipeline:
		return "pipeline"
	case ResourceKindRootSignature:
		return "root_signature"
	case ResourceKindDescriptorTable:
		return "descriptor_table"
	case ResourceKindRenderPass:
		return "render_pass"
	case ResourceKindQuery:
		return "query"
	case ResourceKindAccelerationStructure:
		return "acceleration_structure"
	default:
		return "invalid"
	}
}

// Handle is an opaque reference to a device-owned object. The generation makes a
// handle to a destroyed object detectable even after its slot has been reused.
type Handle struct {
	Kind       ResourceKind
	Index      uint32
	Generation uint32
}

var InvalidHandle = Handle{}

func (h Handle) IsNull() bool {
	return h.Kind == ResourceKindInvalid || h.Generation == 0
}

func (h Handle) String() string {
	if h.IsNull() {
		return "handle(null)"
	}
	return fmt.Sprintf("%s#%d.%d", h.Kind, h.Index, h.Generation)
}

// ObjectCategory groups native objects for deferred destruction. Each category is
// retired and released in its own FIFO order.
type ObjectCategory uint8

const (
	CategoryBuffer ObjectCategory = iota
	CategoryImage
	CategoryView
	CategorySampler
	CategoryPipeline
	CategoryRootSignature
	CategoryDescriptorHeap
	CategoryRenderPass
	CategoryQueryTimestamp
	CategoryQueryOcclusion
	CategoryAccelerationStructure
	CategoryCount
)

func (c ObjectCategory) String() string {
	switch c {
	case CategoryBuffer:
		return "buffers"
	case CategoryImage:
		return "images"
	case CategoryView:
		return "views"
	case CategorySampler:
		return "samplers"
	case CategoryPipeline:
		return "pipelines"
	case CategoryRootSignature:
		return "root_signatures"
	case CategoryDescriptorHeap:
		return "descriptor_heaps"
	case CategoryRenderPass:
		return "render_passes"
	case CategoryQueryTimestamp:
		return "queries_timestamp"
	case CategoryQueryOcclusion:
		return "queries_occlusion"
	case CategoryAccelerationStructure:
		return "acceleration_structures"
	default:
		return "unknown"
	}
}
