package metadata

type DescriptorType uint8

const (
	DescriptorConstantBuffer DescriptorType = iota
	DescriptorShaderResource
	DescriptorUnorderedAccess
	DescriptorSampler
)

func (t DescriptorType) String() string {
	switch t {
	case DescriptorConstantBuffer:
		return "cbv"
	case DescriptorShaderResource:
		return "srv"
	case DescriptorUnorderedAccess:
		return "uav"
	default:
		return "sampler"
	}
}

type HeapKind uint8

const (
	HeapResource HeapKind = iota
	HeapSampler
)

type ViewDimension uint8

const (
	DimensionBuffer ViewDimension = iota
	DimensionTexture1D
	DimensionTexture2D
	DimensionTexture3D
	DimensionTextureCube
	DimensionAccelerationStructure
)

// Descriptor is the backend-neutral content of one descriptor heap slot. A nil
// Resource is the null descriptor of the given type and dimension.
type Descriptor struct {
	Type      DescriptorType
	Dimension ViewDimension
	Resource  any
	View      any
	Offset    uint64
	Size      uint64
	Sampler   *SamplerDesc
}

func (d *Descriptor) IsNull() bool {
	return d.Resource == nil
}

func NullDescriptor(t DescriptorType, dim ViewDimension) Descriptor {
	return Descriptor{Type: t, Dimension: dim}
}

// DescriptorRange is a contiguous window of a shader-visible heap.
type DescriptorRange struct {
	Heap   any
	Offset uint32
	Count  uint32
}

func (r DescriptorRange) IsEmpty() bool {
	return r.Count == 0
}

type ShaderStage uint8

const (
	StageAll ShaderStage = iota
	StageVertex
	StagePixel
	StageCompute
	StageRaygen
)

type ResourceRange struct {
	Type      DescriptorType
	Dimension ViewDimension
	Slot      uint32
	Count     uint32
}

type SamplerRange struct {
	Slot  uint32
	Count uint32
}

type DescriptorTableDesc struct {
	Name      string
	Stage     ShaderStage
	Resources []ResourceRange
	Samplers  []SamplerRange
}

func (d *DescriptorTableDesc) ResourceCount() uint32 {
	var n uint32
	for _, r := range d.Resources {
		n += r.Count
	}
	return n
}

func (d *DescriptorTableDesc) SamplerCount() uint32 {
	var n uint32
	for _, r := range d.Samplers {
		n += r.Count
	}
	return n
}

type RootConstantRange struct {
	Stage  ShaderStage
	Slot   uint32
	Offset uint32
	Size   uint32
}

type RootSignatureDesc struct {
	Name          string
	Tables        []DescriptorTableDesc
	RootConstants []RootConstantRange
}

// RootParameterType says what a root parameter index is bound to.
type RootParameterType uint8

const (
	RootParameterResourceTable RootParameterType = iota
	RootParameterSamplerTable
	RootParameterConstants
)

type RootParameter struct {
	Type  RootParameterType
	Stage ShaderStage
	// Table is the index in RootSignatureDesc.Tables. Unused for constants.
	Table uint32
	// Ranges lists the resource ranges of a resource table.
	Ranges []ResourceRange
	// Samplers lists the sampler ranges of a sampler table.
	Samplers []SamplerRange
	Constant RootConstantRange
}

// RootLayout is the flattened binding-point numbering of a root signature.
type RootLayout struct {
	Parameters []RootParameter
	// TableBindPoint maps a table space to its first root parameter, or -1 when
	// the table declares no descriptors.
	TableBindPoint []int
	// ConstantBindPoint is the root parameter of RootConstants[0].
	ConstantBindPoint uint32
}

// BuildRootLayout numbers the root parameters of desc: for each table one parameter
// for its resource ranges and one for its sampler ranges, then one per constant range.
func BuildRootLayout(desc *RootSignatureDesc) RootLayout {
	layout := RootLayout{
		TableBindPoint: make([]int, len(desc.Tables)),
	}
	for i := range desc.Tables {
		table := &desc.Tables[i]
		resources := table.ResourceCount()
		samplers := table.SamplerCount()
		if resources == 0 && samplers == 0 {
			layout.TableBindPoint[i] = -1
			continue
		}
		layout.TableBindPoint[i] = len(layout.Parameters)
		if resources > 0 {
			layout.Parameters = append(layout.Parameters, RootParameter{
				Type:   RootParameterResourceTable,
				Stage:  table.Stage,
				Table:  uint32(i),
				Ranges: table.Resources,
			})
		}
		if samplers > 0 {
			layout.Parameters = append(layout.Parameters, RootParameter{
				Type:     RootParameterSamplerTable,
				Stage:    table.Stage,
				Table:    uint32(i),
				Samplers: table.Samplers,
			})
		}
	}
	layout.ConstantBindPoint = uint32(len(layout.Parameters))
	for _, c := range desc.RootConstants {
		layout.Parameters = append(layout.Parameters, RootParameter{
			Type:     RootParameterConstants,
			Stage:    c.Stage,
			Constant: c,
		})
	}
	return layout
}
