package metadata

// Layout is the access state a texture or buffer is currently in. Textures and
// buffers share one enumeration so the barrier tracker can treat them alike.
type Layout uint32

const (
	LayoutUndefined Layout = iota
	LayoutGeneral
	LayoutRenderTarget
	LayoutDepthStencil
	LayoutDepthStencilReadOnly
	LayoutShaderResource
	LayoutUnorderedAccess
	LayoutCopySrc
	LayoutCopyDst
	LayoutResolveSrc
	LayoutResolveDst
	LayoutVertexBuffer
	LayoutIndexBuffer
	LayoutConstantBuffer
	LayoutIndirectArgument
	LayoutAccelerationStructure
	LayoutPresent
)

func (l Layout) String() string {
	switch l {
	case LayoutUndefined:
		return "undefined"
	case LayoutGeneral:
		return "general"
	case LayoutRenderTarget:
		return "render_target"
	case LayoutDepthStencil:
		return "depth_stencil"
	case LayoutDepthStencilReadOnly:
		return "depth_stencil_read_only"
	case LayoutShaderResource:
		return "shader_resource"
	case LayoutUnorderedAccess:
		return "unordered_access"
	case LayoutCopySrc:
		return "copy_src"
	case LayoutCopyDst:
		return "copy_dst"
	case LayoutResolveSrc:
		return "resolve_src"
	case LayoutResolveDst:
		return "resolve_dst"
	case LayoutVertexBuffer:
		return "vertex_buffer"
	case LayoutIndexBuffer:
		return "index_buffer"
	case LayoutConstantBuffer:
		return "constant_buffer"
	case LayoutIndirectArgument:
		return "indirect_argument"
	case LayoutAccelerationStructure:
		return "acceleration_structure"
	case LayoutPresent:
		return "present"
	default:
		return "unknown"
	}
}

type BarrierType uint8

const (
	BarrierTransition BarrierType = iota
	// BarrierMemory orders unordered-access writes without a layout change.
	BarrierMemory
)

// Barrier is one transition record handed to the backend.
type Barrier struct {
	Type     BarrierType
	Resource any
	Kind     ResourceKind
	Before   Layout
	After    Layout
}
