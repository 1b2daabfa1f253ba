package vulkan

import (
	"fmt"
	"unsafe"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/anima-rhi/engine/core"
	"github.com/spaghettifunk/anima-rhi/engine/renderer/metadata"
)

// nativeObject is embedded in every object the backend hands out so Release can
// detect a second release of the same object.
type nativeObject struct {
	name     string
	released bool
}

func (o *nativeObject) markReleased(category metadata.ObjectCategory) error {
	if o.released {
		return fmt.Errorf("%s object %q released twice", category, o.name)
	}
	o.released = true
	return nil
}

type vulkanBuffer struct {
	nativeObject
	Handle vk.Buffer
	Memory vk.DeviceMemory
	Size   uint64
	Usage  metadata.Usage
	mapped []byte
}

type vulkanImage struct {
	nativeObject
	Handle    vk.Image
	Memory    vk.DeviceMemory
	Desc      metadata.TextureDesc
	MipLevels uint32
	Layers    uint32
}

func (im *vulkanImage) subresourceRange() vk.ImageSubresourceRange {
	return vk.ImageSubresourceRange{
		AspectMask: aspectMask(im.Desc.Format),
		LevelCount: im.MipLevels,
		LayerCount: im.Layers,
	}
}

type vulkanView struct {
	nativeObject
	Handle vk.ImageView
	Image  *vulkanImage
}

type vulkanSampler struct {
	nativeObject
	Handle vk.Sampler
}

func (b *Backend) newBuffer(size uint64, usage vk.BufferUsageFlagBits, props vk.MemoryPropertyFlagBits) (*vulkanBuffer, error) {
	device := b.context.Device.LogicalDevice
	var handle vk.Buffer
	res := vk.CreateBuffer(device, &vk.BufferCreateInfo{
		SType:       vk.StructureTypeBufferCreateInfo,
		Usage:       vk.BufferUsageFlags(usage),
		Size:        vk.DeviceSize(size),
		SharingMode: vk.SharingModeExclusive,
	}, b.context.Allocator, &handle)
	if err := resultError("vkCreateBuffer", res); err != nil {
		return nil, err
	}

	var reqs vk.MemoryRequirements
	vk.GetBufferMemoryRequirements(device, handle, &reqs)
	reqs.Deref()
	memory, err := b.context.allocateMemory(reqs, props)
	if err != nil {
		vk.DestroyBuffer(device, handle, b.context.Allocator)
		return nil, err
	}
	if res := vk.BindBufferMemory(device, handle, memory, 0); res != vk.Success {
		vk.FreeMemory(device, memory, b.context.Allocator)
		vk.DestroyBuffer(device, handle, b.context.Allocator)
		return nil, resultError("vkBindBufferMemory", res)
	}

	buf := &vulkanBuffer{Handle: handle, Memory: memory, Size: size}
	if props&vk.MemoryPropertyHostVisibleBit != 0 {
		var ptr unsafe.Pointer
		if res := vk.MapMemory(device, memory, 0, vk.DeviceSize(size), 0, &ptr); res != vk.Success {
			buf.destroy(b.context)
			return nil, resultError("vkMapMemory", res)
		}
		buf.mapped = unsafe.Slice((*byte)(ptr), size)
	}
	return buf, nil
}

func (buf *vulkanBuffer) destroy(context *VulkanContext) {
	device := context.Device.LogicalDevice
	if buf.mapped != nil {
		vk.UnmapMemory(device, buf.Memory)
		buf.mapped = nil
	}
	if buf.Handle != vk.NullBuffer {
		vk.DestroyBuffer(device, buf.Handle, context.Allocator)
		buf.Handle = vk.NullBuffer
	}
	if buf.Memory != vk.NullDeviceMemory {
		vk.FreeMemory(device, buf.Memory, context.Allocator)
		buf.Memory = vk.NullDeviceMemory
	}
}

func memoryProperties(usage metadata.Usage) vk.MemoryPropertyFlagBits {
	switch usage {
	case metadata.UsageUpload, metadata.UsageDynamic:
		return vk.MemoryPropertyHostVisibleBit | vk.MemoryPropertyHostCoherentBit
	case metadata.UsageReadback:
		return vk.MemoryPropertyHostVisibleBit | vk.MemoryPropertyHostCoherentBit | vk.MemoryPropertyHostCachedBit
	default:
		return vk.MemoryPropertyDeviceLocalBit
	}
}

func (b *Backend) CreateBuffer(desc *metadata.BufferDesc, initialData []byte) (any, error) {
	if desc.Size == 0 {
		return nil, fmt.Errorf("buffer %q has zero size", desc.Name)
	}
	if uint64(len(initialData)) > desc.Size {
		return nil, fmt.Errorf("buffer %q initial data is %d bytes, size is %d", desc.Name, len(initialData), desc.Size)
	}

	props := memoryProperties(desc.Usage)
	buf, err := b.newBuffer(desc.Size, bufferUsage(desc.BindFlags), props)
	if err != nil && desc.Usage == metadata.UsageReadback {
		// Not every device exposes cached host memory.
		buf, err = b.newBuffer(desc.Size, bufferUsage(desc.BindFlags), vk.MemoryPropertyHostVisibleBit|vk.MemoryPropertyHostCoherentBit)
	}
	if err != nil {
		return nil, fmt.Errorf("buffer %q: %w", desc.Name, err)
	}
	buf.name = desc.Name
	buf.Usage = desc.Usage

	if len(initialData) == 0 {
		return buf, nil
	}
	if buf.mapped != nil {
		copy(buf.mapped, initialData)
		return buf, nil
	}
	if err := b.uploadBuffer(buf, initialData); err != nil {
		buf.destroy(b.context)
		return nil, fmt.Errorf("buffer %q upload: %w", desc.Name, err)
	}
	return buf, nil
}

func (b *Backend) staging(data []byte) (*vulkanBuffer, error) {
	staging, err := b.newBuffer(uint64(len(data)), vk.BufferUsageTransferSrcBit, vk.MemoryPropertyHostVisibleBit|vk.MemoryPropertyHostCoherentBit)
	if err != nil {
		return nil, err
	}
	copy(staging.mapped, data)
	return staging, nil
}

func (b *Backend) uploadBuffer(dst *vulkanBuffer, data []byte) error {
	staging, err := b.staging(data)
	if err != nil {
		return err
	}
	defer staging.destroy(b.context)

	return singleUse(b.context, func(cb vk.CommandBuffer) {
		vk.CmdCopyBuffer(cb, staging.Handle, dst.Handle, 1, []vk.BufferCopy{{
			Size: vk.DeviceSize(len(data)),
		}})
	})
}

func imageType(t metadata.TextureType) vk.ImageType {
	switch t {
	case metadata.Texture1D:
		return vk.ImageType1d
	case metadata.Texture3D:
		return vk.ImageType3d
	default:
		return vk.ImageType2d
	}
}

func viewType(t metadata.TextureType, layers uint32) vk.ImageViewType {
	switch t {
	case metadata.Texture1D:
		if layers > 1 {
			return vk.ImageViewType1dArray
		}
		return vk.ImageViewType1d
	case metadata.Texture3D:
		return vk.ImageViewType3d
	case metadata.TextureCube:
		if layers > 6 {
			return vk.ImageViewTypeCubeArray
		}
		return vk.ImageViewTypeCube
	default:
		if layers > 1 {
			return vk.ImageViewType2dArray
		}
		return vk.ImageViewType2d
	}
}

func (b *Backend) CreateTexture(desc *metadata.TextureDesc, initialData []metadata.SubresourceData) (any, any, error) {
	if desc.Width == 0 || desc.Height == 0 {
		return nil, nil, fmt.Errorf("texture %q has an empty extent", desc.Name)
	}
	image, err := b.newImage(desc, imageUsage(desc.BindFlags))
	if err != nil {
		return nil, nil, fmt.Errorf("texture %q: %w", desc.Name, err)
	}
	view, err := b.newView(image)
	if err != nil {
		image.destroy(b.context)
		return nil, nil, fmt.Errorf("texture %q view: %w", desc.Name, err)
	}
	if err := b.uploadTexture(image, initialData); err != nil {
		view.destroy(b.context)
		image.destroy(b.context)
		return nil, nil, fmt.Errorf("texture %q upload: %w", desc.Name, err)
	}
	return image, view, nil
}

func (b *Backend) newImage(desc *metadata.TextureDesc, usage vk.ImageUsageFlagBits) (*vulkanImage, error) {
	image := &vulkanImage{
		Desc:      *desc,
		MipLevels: max(desc.MipLevels, 1),
		Layers:    max(desc.ArraySize, 1),
	}
	image.name = desc.Name

	var flags vk.ImageCreateFlagBits
	if desc.Type == metadata.TextureCube {
		image.Layers *= 6
		flags |= vk.ImageCreateCubeCompatibleBit
	}
	depth := uint32(1)
	if desc.Type == metadata.Texture3D {
		depth = max(desc.Depth, 1)
	}

	device := b.context.Device.LogicalDevice
	var handle vk.Image
	res := vk.CreateImage(device, &vk.ImageCreateInfo{
		SType:     vk.StructureTypeImageCreateInfo,
		Flags:     vk.ImageCreateFlags(flags),
		ImageType: imageType(desc.Type),
		Format:    vkFormat(desc.Format),
		Extent: vk.Extent3D{
			Width:  desc.Width,
			Height: desc.Height,
			Depth:  depth,
		},
		MipLevels:     image.MipLevels,
		ArrayLayers:   image.Layers,
		Samples:       sampleCount(desc.SampleCount),
		Tiling:        vk.ImageTilingOptimal,
		Usage:         vk.ImageUsageFlags(usage),
		SharingMode:   vk.SharingModeExclusive,
		InitialLayout: vk.ImageLayoutUndefined,
	}, b.context.Allocator, &handle)
	if err := resultError("vkCreateImage", res); err != nil {
		return nil, err
	}

	var reqs vk.MemoryRequirements
	vk.GetImageMemoryRequirements(device, handle, &reqs)
	reqs.Deref()
	memory, err := b.context.allocateMemory(reqs, vk.MemoryPropertyDeviceLocalBit)
	if err != nil {
		vk.DestroyImage(device, handle, b.context.Allocator)
		return nil, err
	}
	if res := vk.BindImageMemory(device, handle, memory, 0); res != vk.Success {
		vk.FreeMemory(device, memory, b.context.Allocator)
		vk.DestroyImage(device, handle, b.context.Allocator)
		return nil, resultError("vkBindImageMemory", res)
	}
	image.Handle = handle
	image.Memory = memory
	return image, nil
}

func (im *vulkanImage) destroy(context *VulkanContext) {
	device := context.Device.LogicalDevice
	if im.Handle != vk.NullImage {
		vk.DestroyImage(device, im.Handle, context.Allocator)
		im.Handle = vk.NullImage
	}
	if im.Memory != vk.NullDeviceMemory {
		vk.FreeMemory(device, im.Memory, context.Allocator)
		im.Memory = vk.NullDeviceMemory
	}
}

func (b *Backend) newView(image *vulkanImage) (*vulkanView, error) {
	var handle vk.ImageView
	res := vk.CreateImageView(b.context.Device.LogicalDevice, &vk.ImageViewCreateInfo{
		SType:    vk.StructureTypeImageViewCreateInfo,
		Image:    image.Handle,
		ViewType: viewType(image.Desc.Type, image.Layers),
		Format:   vkFormat(image.Desc.Format),
		Components: vk.ComponentMapping{
			R: vk.ComponentSwizzleIdentity,
			G: vk.ComponentSwizzleIdentity,
			B: vk.ComponentSwizzleIdentity,
			A: vk.ComponentSwizzleIdentity,
		},
		SubresourceRange: image.subresourceRange(),
	}, b.context.Allocator, &handle)
	if err := resultError("vkCreateImageView", res); err != nil {
		return nil, err
	}
	view := &vulkanView{Handle: handle, Image: image}
	view.name = image.name
	return view, nil
}

func (v *vulkanView) destroy(context *VulkanContext) {
	if v.Handle != vk.NullImageView {
		vk.DestroyImageView(context.Device.LogicalDevice, v.Handle, context.Allocator)
		v.Handle = vk.NullImageView
	}
}

// uploadTexture copies the subresources into the image and leaves it in its
// initial layout. Subresource i is mip i%MipLevels of layer i/MipLevels.
func (b *Backend) uploadTexture(image *vulkanImage, data []metadata.SubresourceData) error {
	final := vkLayout(image.Desc.InitialLayout)
	if len(data) == 0 && final == vk.ImageLayoutUndefined {
		return nil
	}

	var blob []byte
	var copies []vk.BufferImageCopy
	bpp := image.Desc.Format.BytesPerPixel()
	for i, sub := range data {
		if len(sub.Data) == 0 {
			continue
		}
		mip := uint32(i) % image.MipLevels
		layer := uint32(i) / image.MipLevels
		if layer >= image.Layers {
			return fmt.Errorf("subresource %d is past the last layer", i)
		}
		var rowLength uint32
		if bpp > 0 && sub.RowPitch > 0 {
			rowLength = sub.RowPitch / bpp
		}
		depth := uint32(1)
		if image.Desc.Type == metadata.Texture3D {
			depth = max(image.Desc.Depth>>mip, 1)
		}
		copies = append(copies, vk.BufferImageCopy{
			BufferOffset:    vk.DeviceSize(len(blob)),
			BufferRowLength: rowLength,
			ImageSubresource: vk.ImageSubresourceLayers{
				AspectMask:     aspectMask(image.Desc.Format),
				MipLevel:       mip,
				BaseArrayLayer: layer,
				LayerCount:     1,
			},
			ImageExtent: vk.Extent3D{
				Width:  max(image.Desc.Width>>mip, 1),
				Height: max(image.Desc.Height>>mip, 1),
				Depth:  depth,
			},
		})
		blob = append(blob, sub.Data...)
		// Buffer offsets of image copies must be a multiple of 4.
		for len(blob)%4 != 0 {
			blob = append(blob, 0)
		}
	}

	var staging *vulkanBuffer
	if len(blob) > 0 {
		var err error
		if staging, err = b.staging(blob); err != nil {
			return err
		}
		defer staging.destroy(b.context)
	}

	return singleUse(b.context, func(cb vk.CommandBuffer) {
		if staging == nil {
			transitionImage(cb, image, vk.ImageLayoutUndefined, final)
			return
		}
		transitionImage(cb, image, vk.ImageLayoutUndefined, vk.ImageLayoutTransferDstOptimal)
		vk.CmdCopyBufferToImage(cb, staging.Handle, image.Handle, vk.ImageLayoutTransferDstOptimal, uint32(len(copies)), copies)
		if final != vk.ImageLayoutUndefined {
			transitionImage(cb, image, vk.ImageLayoutTransferDstOptimal, final)
		}
	})
}

// transitionImage records a full-image layout change with conservative masks.
func transitionImage(cb vk.CommandBuffer, image *vulkanImage, from, to vk.ImageLayout) {
	vk.CmdPipelineBarrier(cb,
		vk.PipelineStageFlags(vk.PipelineStageAllCommandsBit),
		vk.PipelineStageFlags(vk.PipelineStageAllCommandsBit),
		0, 0, nil, 0, nil, 1, []vk.ImageMemoryBarrier{{
			SType:               vk.StructureTypeImageMemoryBarrier,
			SrcAccessMask:       vk.AccessFlags(vk.AccessMemoryWriteBit),
			DstAccessMask:       vk.AccessFlags(vk.AccessMemoryReadBit | vk.AccessMemoryWriteBit),
			OldLayout:           from,
			NewLayout:           to,
			SrcQueueFamilyIndex: vk.QueueFamilyIgnored,
			DstQueueFamilyIndex: vk.QueueFamilyIgnored,
			Image:               image.Handle,
			SubresourceRange:    image.subresourceRange(),
		}})
}

// recordBarriers batches the transitions of one Barrier call into a single
// vkCmdPipelineBarrier.
func recordBarriers(cb vk.CommandBuffer, barriers []metadata.Barrier) {
	var src, dst vk.PipelineStageFlagBits
	var memory []vk.MemoryBarrier
	var buffers []vk.BufferMemoryBarrier
	var images []vk.ImageMemoryBarrier

	for _, barrier := range barriers {
		src |= stageMask(barrier.Before)
		dst |= stageMask(barrier.After)
		if barrier.Type == metadata.BarrierMemory {
			memory = append(memory, vk.MemoryBarrier{
				SType:         vk.StructureTypeMemoryBarrier,
				SrcAccessMask: vk.AccessFlags(vk.AccessShaderWriteBit),
				DstAccessMask: vk.AccessFlags(vk.AccessShaderReadBit | vk.AccessShaderWriteBit),
			})
			continue
		}
		switch res := barrier.Resource.(type) {
		case *vulkanImage:
			images = append(images, vk.ImageMemoryBarrier{
				SType:               vk.StructureTypeImageMemoryBarrier,
				SrcAccessMask:       accessMask(barrier.Before),
				DstAccessMask:       accessMask(barrier.After),
				OldLayout:           vkLayout(barrier.Before),
				NewLayout:           vkLayout(barrier.After),
				SrcQueueFamilyIndex: vk.QueueFamilyIgnored,
				DstQueueFamilyIndex: vk.QueueFamilyIgnored,
				Image:               res.Handle,
				SubresourceRange:    res.subresourceRange(),
			})
		case *vulkanBuffer:
			buffers = append(buffers, vk.BufferMemoryBarrier{
				SType:               vk.StructureTypeBufferMemoryBarrier,
				SrcAccessMask:       accessMask(barrier.Before),
				DstAccessMask:       accessMask(barrier.After),
				SrcQueueFamilyIndex: vk.QueueFamilyIgnored,
				DstQueueFamilyIndex: vk.QueueFamilyIgnored,
				Buffer:              res.Handle,
				Size:                vk.DeviceSize(vk.WholeSize),
			})
		default:
			memory = append(memory, vk.MemoryBarrier{
				SType:         vk.StructureTypeMemoryBarrier,
				SrcAccessMask: vk.AccessFlags(vk.AccessMemoryWriteBit),
				DstAccessMask: vk.AccessFlags(vk.AccessMemoryReadBit),
			})
		}
	}
	if len(memory)+len(buffers)+len(images) == 0 {
		return
	}
	vk.CmdPipelineBarrier(cb,
		vk.PipelineStageFlags(src), vk.PipelineStageFlags(dst), 0,
		uint32(len(memory)), memory,
		uint32(len(buffers)), buffers,
		uint32(len(images)), images)
}

func (b *Backend) CreateSampler(desc *metadata.SamplerDesc) (any, error) {
	sampler, err := b.newSampler(desc)
	if err != nil {
		return nil, fmt.Errorf("sampler %q: %w", desc.Name, err)
	}
	return sampler, nil
}

func (b *Backend) newSampler(desc *metadata.SamplerDesc) (*vulkanSampler, error) {
	mag, mip := filter(desc.Filter)
	info := vk.SamplerCreateInfo{
		SType:                   vk.StructureTypeSamplerCreateInfo,
		MagFilter:               mag,
		MinFilter:               mag,
		MipmapMode:              mip,
		AddressModeU:            addressMode(desc.AddressU),
		AddressModeV:            addressMode(desc.AddressV),
		AddressModeW:            addressMode(desc.AddressW),
		MipLodBias:              desc.MipLODBias,
		MinLod:                  desc.MinLOD,
		MaxLod:                  desc.MaxLOD,
		BorderColor:             vk.BorderColorFloatTransparentBlack,
		UnnormalizedCoordinates: vk.False,
		CompareEnable:           vk.False,
		AnisotropyEnable:        vk.False,
	}
	if desc.Filter == metadata.FilterAnisotropic && b.context.Device.Features.SamplerAnisotropy == vk.True {
		info.AnisotropyEnable = vk.True
		info.MaxAnisotropy = min(float32(max(desc.MaxAnisotropy, 1)), b.context.Device.Properties.Limits.MaxSamplerAnisotropy)
	}

	var handle vk.Sampler
	res := vk.CreateSampler(b.context.Device.LogicalDevice, &info, b.context.Allocator, &handle)
	if err := resultError("vkCreateSampler", res); err != nil {
		return nil, err
	}
	sampler := &vulkanSampler{Handle: handle}
	sampler.name = desc.Name
	return sampler, nil
}

func (s *vulkanSampler) destroy(context *VulkanContext) {
	if s.Handle != nil {
		vk.DestroySampler(context.Device.LogicalDevice, s.Handle, context.Allocator)
		s.Handle = nil
	}
}

func (b *Backend) MapBuffer(buffer any) ([]byte, error) {
	buf, ok := buffer.(*vulkanBuffer)
	if !ok {
		return nil, fmt.Errorf("map of %T: %w", buffer, core.ErrInvalidHandle)
	}
	if buf.mapped == nil {
		return nil, fmt.Errorf("buffer %q is not CPU visible", buf.name)
	}
	return buf.mapped, nil
}

// nullResources back the null descriptors. Vulkan has no null descriptor without
// the robustness2 extension, so empty slots point at these instead.
type nullResources struct {
	buffer  *vulkanBuffer
	image   *vulkanImage
	view    *vulkanView
	sampler *vulkanSampler
}

func (b *Backend) createNullResources() error {
	var err error
	b.null.buffer, err = b.newBuffer(metadata.ConstantBufferAlignment,
		vk.BufferUsageUniformBufferBit|vk.BufferUsageStorageBufferBit, vk.MemoryPropertyDeviceLocalBit)
	if err != nil {
		return err
	}
	b.null.buffer.name = "null_buffer"

	desc := &metadata.TextureDesc{
		Name:          "null_texture",
		Type:          metadata.Texture2D,
		Width:         1,
		Height:        1,
		ArraySize:     1,
		MipLevels:     1,
		SampleCount:   1,
		Format:        metadata.FormatR8G8B8A8Unorm,
		InitialLayout: metadata.LayoutGeneral,
	}
	if b.null.image, err = b.newImage(desc, vk.ImageUsageSampledBit|vk.ImageUsageStorageBit|vk.ImageUsageTransferDstBit); err != nil {
		return err
	}
	if b.null.view, err = b.newView(b.null.image); err != nil {
		return err
	}
	if err = b.uploadTexture(b.null.image, nil); err != nil {
		return err
	}
	b.null.sampler, err = b.newSampler(&metadata.SamplerDesc{Name: "null_sampler", Filter: metadata.FilterPoint})
	return err
}

func (b *Backend) destroyNullResources() {
	if b.null.sampler != nil {
		b.null.sampler.destroy(b.context)
	}
	if b.null.view != nil {
		b.null.view.destroy(b.context)
	}
	if b.null.image != nil {
		b.null.image.destroy(b.context)
	}
	if b.null.buffer != nil {
		b.null.buffer.destroy(b.context)
	}
}
