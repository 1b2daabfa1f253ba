package metadata

type Usage uint8

const (
	// UsageDefault resources live in device memory and are written through copies.
	UsageDefault Usage = iota
	// UsageImmutable resources are written once at creation.
	UsageImmutable
	// UsageDynamic resources are rewritten every frame from the ring allocator.
	UsageDynamic
	// UsageUpload resources are CPU-writable staging memory.
	UsageUpload
	// UsageReadback resources are CPU-readable.
	UsageReadback
)

type BindFlag uint32

const (
	BindVertexBuffer BindFlag = 1 << iota
	BindIndexBuffer
	BindConstantBuffer
	BindShaderResource
	BindUnorderedAccess
	BindRenderTarget
	BindDepthStencil
	BindIndirectArgs
)

func (f BindFlag) Has(flag BindFlag) bool {
	return f&flag == flag
}

type Format uint32

const (
	FormatUnknown Format = iota
	FormatR8Unorm
	FormatR8G8B8A8Unorm
	FormatR8G8B8A8UnormSrgb
	FormatB8G8R8A8Unorm
	FormatR16G16B16A16Float
	FormatR32Uint
	FormatR32Float
	FormatR32G32B32A32Float
	FormatD32Float
	FormatD24UnormS8Uint
)

// BytesPerPixel returns the texel size of the uncompressed formats.
func (f Format) BytesPerPixel() uint32 {
	switch f {
	case FormatR8Unorm:
		return 1
	case FormatR16G16B16A16Float:
		return 8
	case FormatR32G32B32A32Float:
		return 16
	case FormatUnknown:
		return 0
	default:
		return 4
	}
}

func (f Format) IsDepth() bool {
	return f == FormatD32Float || f == FormatD24UnormS8Uint
}

type BufferDesc struct {
	Name      string
	Size      uint64
	Usage     Usage
	BindFlags BindFlag
	// Stride is the element size of structured buffers. Zero means raw.
	Stride uint32
	Format Format
}

type TextureType uint8

const (
	Texture1D TextureType = iota
	Texture2D
	Texture3D
	TextureCube
)

type TextureDesc struct {
	Name        string
	Type        TextureType
	Width       uint32
	Height      uint32
	Depth       uint32
	ArraySize   uint32
	MipLevels   uint32
	SampleCount uint32
	Format      Format
	Usage       Usage
	BindFlags   BindFlag
	// InitialLayout is the layout the texture is left in after creation.
	InitialLayout Layout
}

// SubresourceData is the initial content of one mip level of one array slice.
type SubresourceData struct {
	Data       []byte
	RowPitch   uint32
	SlicePitch uint32
}

type Filter uint8

const (
	FilterLinear Filter = iota
	FilterPoint
	FilterAnisotropic
)

type AddressMode uint8

const (
	AddressWrap AddressMode = iota
	AddressClamp
	AddressMirror
	AddressBorder
)

type SamplerDesc struct {
	Name          string
	Filter        Filter
	AddressU      AddressMode
	AddressV      AddressMode
	AddressW      AddressMode
	MipLODBias    float32
	MaxAnisotropy uint32
	MinLOD        float32
	MaxLOD        float32
}

type AccelerationStructureType uint8

const (
	AccelerationStructureBottomLevel AccelerationStructureType = iota
	AccelerationStructureTopLevel
)

type AccelerationStructureDesc struct {
	Name string
	Type AccelerationStructureType
	// Size is the byte size of the result buffer backing the structure.
	Size uint64
}
