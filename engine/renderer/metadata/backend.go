package metadata

const (
	// ResourceDescriptorLimit is the largest shader-visible CBV/SRV/UAV heap.
	ResourceDescriptorLimit uint32 = 1000000
	// SamplerDescriptorLimit is the largest shader-visible sampler heap.
	SamplerDescriptorLimit uint32 = 2048
	// DescriptorHeapMinimum is the smallest heap the frame allocator creates.
	DescriptorHeapMinimum uint32 = 512

	ConstantBufferAlignment uint64 = 256

	MaxConstantBufferSlots uint32 = 14
	MaxResourceSlots       uint32 = 64
	MaxUnorderedSlots      uint32 = 16
	MaxSamplerSlots        uint32 = 16
	MaxVertexBuffers       uint32 = 8

	// Byte sizes of the argument records read by the indirect commands.
	DrawIndirectArgsSize        uint64 = 16
	DrawIndexedIndirectArgsSize uint64 = 20
	DispatchIndirectArgsSize    uint64 = 12
)

type Limits struct {
	ResourceDescriptors     uint32
	SamplerDescriptors      uint32
	ConstantBufferAlignment uint64
	Raytracing              bool
}

func DefaultLimits() Limits {
	return Limits{
		ResourceDescriptors:     ResourceDescriptorLimit,
		SamplerDescriptors:      SamplerDescriptorLimit,
		ConstantBufferAlignment: ConstantBufferAlignment,
	}
}

type IndexFormat uint8

const (
	IndexUint16 IndexFormat = iota
	IndexUint32
)

type DispatchRaysDesc struct {
	Width  uint32
	Height uint32
	Depth  uint32
}

// Backend is the set of native primitives the frame machinery is written against.
// Native objects are opaque values owned by the backend; the device never inspects
// them and hands every one of them back through Release exactly once.
type Backend interface {
	Name() string
	Limits() Limits

	CreateBuffer(desc *BufferDesc, initialData []byte) (any, error)
	// CreateTexture returns the image and its default view.
	CreateTexture(desc *TextureDesc, initialData []SubresourceData) (any, any, error)
	CreateSampler(desc *SamplerDesc) (any, error)
	CreateRootSignature(layout *RootLayout) (any, error)
	CreatePipeline(desc *NativePipelineDesc) (any, error)
	CreateRenderPass(targets []RenderPassTarget) (any, error)
	CreateDescriptorHeap(kind HeapKind, capacity uint32, shaderVisible bool) (any, error)
	CreateQueryHeap(t QueryType, count uint32) (any, error)
	CreateAccelerationStructure(desc *AccelerationStructureDesc) (any, error)
	Release(category ObjectCategory, object any) error
	SetName(object any, name string)

	// MapBuffer returns the CPU view of an upload, dynamic or readback buffer.
	MapBuffer(buffer any) ([]byte, error)
	WriteDescriptor(heap any, index uint32, desc *Descriptor)
	CopyDescriptors(dst any, dstOffset uint32, src any, srcOffset uint32, count uint32)

	CreateCommandList(index uint32, frameSlots uint32) (CommandList, error)
	// Submit executes lists in order. Once the work is done CompletedFrame reports at
	// least frame+1. A lost device is reported as core.ErrDeviceLost.
	Submit(lists []CommandList, frame uint64) error
	CompletedFrame() uint64
	// WaitForFrame blocks until CompletedFrame() >= count.
	WaitForFrame(count uint64) error
	WaitIdle() error

	ReadQuery(heap any, t QueryType, index uint32) (uint64, error)
	TimestampFrequency() uint64

	Shutdown() error
}

// CommandList records native commands for one command context. It owns one native
// buffer per frame slot; Begin selects the slot.
type CommandList interface {
	Begin(frameSlot uint32) error
	Close() error

	BindDescriptorHeaps(resource, sampler any)
	SetRootSignature(layout any, graphics bool)
	SetPipeline(pipeline any, topology PrimitiveTopology)
	SetDescriptorTable(graphics bool, rootIndex uint32, table DescriptorRange)
	SetRootConstants(graphics bool, rootIndex uint32, offset uint32, data []byte)
	BindVertexBuffers(first uint32, buffers []any, offsets []uint64)
	BindIndexBuffer(buffer any, format IndexFormat, offset uint64)

	Barrier(barriers []Barrier)
	CopyBuffer(dst any, dstOffset uint64, src any, srcOffset uint64, size uint64)

	BeginRenderPass(pass any, targets []RenderPassTarget)
	EndRenderPass()

	Draw(vertexCount, instanceCount, firstVertex, firstInstance uint32)
	DrawIndexed(indexCount, instanceCount, firstIndex uint32, baseVertex int32, firstInstance uint32)
	Dispatch(x, y, z uint32)
	DispatchRays(desc *DispatchRaysDesc)
	DrawIndirect(args any, offset uint64)
	DrawIndexedIndirect(args any, offset uint64)
	DispatchIndirect(args any, offset uint64)

	BeginQuery(heap any, t QueryType, index uint32)
	EndQuery(heap any, t QueryType, index uint32)
	ResolveQuery(heap any, t QueryType, index uint32)

	Release() error
}
