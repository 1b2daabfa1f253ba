package vulkan

import (
	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/anima-rhi/engine/renderer/metadata"
)

func vkFormat(f metadata.Format) vk.Format {
	switch f {
	case metadata.FormatR8Unorm:
		return vk.FormatR8Unorm
	case metadata.FormatR8G8B8A8Unorm:
		return vk.FormatR8g8b8a8Unorm
	case metadata.FormatR8G8B8A8UnormSrgb:
		return vk.FormatR8g8b8a8Srgb
	case metadata.FormatB8G8R8A8Unorm:
		return vk.FormatB8g8r8a8Unorm
	case metadata.FormatR16G16B16A16Float:
		return vk.FormatR16g16b16a16Sfloat
	case metadata.FormatR32Uint:
		return vk.FormatR32Uint
	case metadata.FormatR32Float:
		return vk.FormatR32Sfloat
	case metadata.FormatR32G32B32A32Float:
		return vk.FormatR32g32b32a32Sfloat
	case metadata.FormatD32Float:
		return vk.FormatD32Sfloat
	case metadata.FormatD24UnormS8Uint:
		return vk.FormatD24UnormS8Uint
	default:
		return vk.FormatUndefined
	}
}

func aspectMask(f metadata.Format) vk.ImageAspectFlags {
	switch f {
	case metadata.FormatD32Float:
		return vk.ImageAspectFlags(vk.ImageAspectDepthBit)
	case metadata.FormatD24UnormS8Uint:
		return vk.ImageAspectFlags(vk.ImageAspectDepthBit | vk.ImageAspectStencilBit)
	default:
		return vk.ImageAspectFlags(vk.ImageAspectColorBit)
	}
}

func sampleCount(n uint32) vk.SampleCountFlagBits {
	switch n {
	case 2:
		return vk.SampleCount2Bit
	case 4:
		return vk.SampleCount4Bit
	case 8:
		return vk.SampleCount8Bit
	case 16:
		return vk.SampleCount16Bit
	default:
		return vk.SampleCount1Bit
	}
}

// vkLayout maps a tracked layout onto an image layout. Buffer-only states have no
// image counterpart and map to General.
func vkLayout(l metadata.Layout) vk.ImageLayout {
	switch l {
	case metadata.LayoutUndefined:
		return vk.ImageLayoutUndefined
	case metadata.LayoutRenderTarget:
		return vk.ImageLayoutColorAttachmentOptimal
	case metadata.LayoutDepthStencil:
		return vk.ImageLayoutDepthStencilAttachmentOptimal
	case metadata.LayoutDepthStencilReadOnly:
		return vk.ImageLayoutDepthStencilReadOnlyOptimal
	case metadata.LayoutShaderResource:
		return vk.ImageLayoutShaderReadOnlyOptimal
	case metadata.LayoutCopySrc, metadata.LayoutResolveSrc:
		return vk.ImageLayoutTransferSrcOptimal
	case metadata.LayoutCopyDst, metadata.LayoutResolveDst:
		return vk.ImageLayoutTransferDstOptimal
	case metadata.LayoutPresent:
		return vk.ImageLayoutPresentSrc
	default:
		return vk.ImageLayoutGeneral
	}
}

func accessMask(l metadata.Layout) vk.AccessFlags {
	var bits vk.AccessFlagBits
	switch l {
	case metadata.LayoutGeneral, metadata.LayoutUnorderedAccess:
		bits = vk.AccessShaderReadBit | vk.AccessShaderWriteBit
	case metadata.LayoutRenderTarget:
		bits = vk.AccessColorAttachmentReadBit | vk.AccessColorAttachmentWriteBit
	case metadata.LayoutDepthStencil:
		bits = vk.AccessDepthStencilAttachmentReadBit | vk.AccessDepthStencilAttachmentWriteBit
	case metadata.LayoutDepthStencilReadOnly:
		bits = vk.AccessDepthStencilAttachmentReadBit | vk.AccessShaderReadBit
	case metadata.LayoutShaderResource:
		bits = vk.AccessShaderReadBit
	case metadata.LayoutCopySrc, metadata.LayoutResolveSrc:
		bits = vk.AccessTransferReadBit
	case metadata.LayoutCopyDst, metadata.LayoutResolveDst:
		bits = vk.AccessTransferWriteBit
	case metadata.LayoutVertexBuffer:
		bits = vk.AccessVertexAttributeReadBit
	case metadata.LayoutIndexBuffer:
		bits = vk.AccessIndexReadBit
	case metadata.LayoutConstantBuffer:
		bits = vk.AccessUniformReadBit
	case metadata.LayoutIndirectArgument:
		bits = vk.AccessIndirectCommandReadBit
	case metadata.LayoutPresent:
		bits = vk.AccessMemoryReadBit
	}
	return vk.AccessFlags(bits)
}

func stageMask(l metadata.Layout) vk.PipelineStageFlagBits {
	switch l {
	case metadata.LayoutUndefined:
		return vk.PipelineStageTopOfPipeBit
	case metadata.LayoutRenderTarget:
		return vk.PipelineStageColorAttachmentOutputBit
	case metadata.LayoutDepthStencil, metadata.LayoutDepthStencilReadOnly:
		return vk.PipelineStageEarlyFragmentTestsBit | vk.PipelineStageLateFragmentTestsBit
	case metadata.LayoutCopySrc, metadata.LayoutCopyDst, metadata.LayoutResolveSrc, metadata.LayoutResolveDst:
		return vk.PipelineStageTransferBit
	case metadata.LayoutVertexBuffer, metadata.LayoutIndexBuffer:
		return vk.PipelineStageVertexInputBit
	case metadata.LayoutIndirectArgument:
		return vk.PipelineStageDrawIndirectBit
	case metadata.LayoutPresent:
		return vk.PipelineStageBottomOfPipeBit
	default:
		return vk.PipelineStageAllCommandsBit
	}
}

func shaderStage(s metadata.ShaderStage) vk.ShaderStageFlagBits {
	switch s {
	case metadata.StageVertex:
		return vk.ShaderStageVertexBit
	case metadata.StagePixel:
		return vk.ShaderStageFragmentBit
	case metadata.StageCompute:
		return vk.ShaderStageComputeBit
	default:
		return vk.ShaderStageAll
	}
}

func topology(t metadata.PrimitiveTopology) vk.PrimitiveTopology {
	switch t {
	case metadata.TopologyTriangleStrip:
		return vk.PrimitiveTopologyTriangleStrip
	case metadata.TopologyLineList:
		return vk.PrimitiveTopologyLineList
	case metadata.TopologyPointList:
		return vk.PrimitiveTopologyPointList
	default:
		return vk.PrimitiveTopologyTriangleList
	}
}

func filter(f metadata.Filter) (vk.Filter, vk.SamplerMipmapMode) {
	if f == metadata.FilterPoint {
		return vk.FilterNearest, vk.SamplerMipmapModeNearest
	}
	return vk.FilterLinear, vk.SamplerMipmapModeLinear
}

func addressMode(m metadata.AddressMode) vk.SamplerAddressMode {
	switch m {
	case metadata.AddressClamp:
		return vk.SamplerAddressModeClampToEdge
	case metadata.AddressMirror:
		return vk.SamplerAddressModeMirroredRepeat
	case metadata.AddressBorder:
		return vk.SamplerAddressModeClampToBorder
	default:
		return vk.SamplerAddressModeRepeat
	}
}

func loadOp(op metadata.LoadOp) vk.AttachmentLoadOp {
	switch op {
	case metadata.LoadOpClear:
		return vk.AttachmentLoadOpClear
	case metadata.LoadOpDontCare:
		return vk.AttachmentLoadOpDontCare
	default:
		return vk.AttachmentLoadOpLoad
	}
}

func storeOp(op metadata.StoreOp) vk.AttachmentStoreOp {
	if op == metadata.StoreOpDontCare {
		return vk.AttachmentStoreOpDontCare
	}
	return vk.AttachmentStoreOpStore
}

func indexType(f metadata.IndexFormat) vk.IndexType {
	if f == metadata.IndexUint16 {
		return vk.IndexTypeUint16
	}
	return vk.IndexTypeUint32
}

// descriptorType is the set binding a resource range is declared as.
func descriptorType(t metadata.DescriptorType, dim metadata.ViewDimension) vk.DescriptorType {
	switch t {
	case metadata.DescriptorConstantBuffer:
		return vk.DescriptorTypeUniformBuffer
	case metadata.DescriptorShaderResource:
		if dim == metadata.DimensionBuffer {
			return vk.DescriptorTypeStorageBuffer
		}
		return vk.DescriptorTypeSampledImage
	case metadata.DescriptorUnorderedAccess:
		if dim == metadata.DimensionBuffer {
			return vk.DescriptorTypeStorageBuffer
		}
		return vk.DescriptorTypeStorageImage
	default:
		return vk.DescriptorTypeSampler
	}
}

func bufferUsage(flags metadata.BindFlag) vk.BufferUsageFlagBits {
	usage := vk.BufferUsageTransferSrcBit | vk.BufferUsageTransferDstBit
	if flags.Has(metadata.BindVertexBuffer) {
		usage |= vk.BufferUsageVertexBufferBit
	}
	if flags.Has(metadata.BindIndexBuffer) {
		usage |= vk.BufferUsageIndexBufferBit
	}
	if flags.Has(metadata.BindConstantBuffer) {
		usage |= vk.BufferUsageUniformBufferBit
	}
	if flags.Has(metadata.BindShaderResource) || flags.Has(metadata.BindUnorderedAccess) {
		usage |= vk.BufferUsageStorageBufferBit
	}
	if flags.Has(metadata.BindIndirectArgs) {
		usage |= vk.BufferUsageIndirectBufferBit
	}
	return usage
}

func imageUsage(flags metadata.BindFlag) vk.ImageUsageFlagBits {
	usage := vk.ImageUsageTransferDstBit | vk.ImageUsageTransferSrcBit
	if flags.Has(metadata.BindShaderResource) {
		usage |= vk.ImageUsageSampledBit
	}
	if flags.Has(metadata.BindUnorderedAccess) {
		usage |= vk.ImageUsageStorageBit
	}
	if flags.Has(metadata.BindRenderTarget) {
		usage |= vk.ImageUsageColorAttachmentBit
	}
	if flags.Has(metadata.BindDepthStencil) {
		usage |= vk.ImageUsageDepthStencilAttachmentBit
	}
	return usage
}
