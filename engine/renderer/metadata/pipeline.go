package metadata

type PipelineType uint8

const (
	PipelineGraphics PipelineType = iota
	PipelineCompute
	PipelineRaytracing
)

// IsGraphics reports whether the pipeline binds through the graphics root.
func (t PipelineType) IsGraphics() bool {
	return t == PipelineGraphics
}

type Shader struct {
	Stage      ShaderStage
	EntryPoint string
	// Bytecode is an opaque, already compiled blob.
	Bytecode []byte
}

type PrimitiveTopology uint8

const (
	TopologyUndefined PrimitiveTopology = iota
	TopologyTriangleList
	TopologyTriangleStrip
	TopologyLineList
	TopologyPointList
)

type VertexAttribute struct {
	Location uint32
	Binding  uint32
	Format   Format
	Offset   uint32
}

type VertexBinding struct {
	Binding     uint32
	Stride      uint32
	PerInstance bool
}

type InputLayout struct {
	Bindings   []VertexBinding
	Attributes []VertexAttribute
}

// ImplicitLayout declares the slots a pipeline without a root signature reads.
// Slots [0, count) of each kind are written by the descriptor validator before
// every draw or dispatch.
type ImplicitLayout struct {
	ConstantBuffers uint32
	Resources       uint32
	UnorderedAccess uint32
	Samplers        uint32
}

func (l ImplicitLayout) ResourceCount() uint32 {
	return l.ConstantBuffers + l.Resources + l.UnorderedAccess
}

// RootSignature returns the implicit binding model as a one-table root signature:
// constant buffers first, then shader resources, then unordered access views.
func (l ImplicitLayout) RootSignature() *RootSignatureDesc {
	table := DescriptorTableDesc{Name: "implicit", Stage: StageAll}
	if l.ConstantBuffers > 0 {
		table.Resources = append(table.Resources, ResourceRange{Type: DescriptorConstantBuffer, Dimension: DimensionBuffer, Count: l.ConstantBuffers})
	}
	if l.Resources > 0 {
		table.Resources = append(table.Resources, ResourceRange{Type: DescriptorShaderResource, Dimension: DimensionTexture2D, Count: l.Resources})
	}
	if l.UnorderedAccess > 0 {
		table.Resources = append(table.Resources, ResourceRange{Type: DescriptorUnorderedAccess, Dimension: DimensionTexture2D, Count: l.UnorderedAccess})
	}
	if l.Samplers > 0 {
		table.Samplers = append(table.Samplers, SamplerRange{Count: l.Samplers})
	}
	return &RootSignatureDesc{Name: "implicit", Tables: []DescriptorTableDesc{table}}
}

type PipelineDesc struct {
	Name     string
	Type     PipelineType
	Shaders  []Shader
	Topology PrimitiveTopology
	Input    InputLayout
	// RootSignature selects the explicit binding path. A null handle uses Implicit.
	RootSignature Handle
	Implicit      ImplicitLayout
	// RenderPass is the pass a graphics pipeline is compatible with. Optional.
	RenderPass   Handle
	ColorFormats []Format
	DepthFormat  Format
}

// NativePipelineDesc is PipelineDesc with handles resolved to native objects.
type NativePipelineDesc struct {
	Name         string
	Type         PipelineType
	Shaders      []Shader
	Topology     PrimitiveTopology
	Input        InputLayout
	Layout       any
	Root         *RootLayout
	RenderPass   any
	ColorFormats []Format
	DepthFormat  Format
}
