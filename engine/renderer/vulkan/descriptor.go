package vulkan

import (
	"fmt"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/anima-rhi/engine/core"
	"github.com/spaghettifunk/anima-rhi/engine/renderer/metadata"
)

// descriptorHeap keeps descriptors on the host. A table bound from it is written
// into a descriptor set when SetDescriptorTable is recorded.
type descriptorHeap struct {
	nativeObject
	kind          metadata.HeapKind
	shaderVisible bool
	descriptors   []metadata.Descriptor
}

func (b *Backend) CreateDescriptorHeap(kind metadata.HeapKind, capacity uint32, shaderVisible bool) (any, error) {
	limit := b.limits.ResourceDescriptors
	if kind == metadata.HeapSampler {
		limit = b.limits.SamplerDescriptors
	}
	if shaderVisible && capacity > limit {
		return nil, fmt.Errorf("descriptor heap of %d exceeds the limit of %d", capacity, limit)
	}
	return &descriptorHeap{
		kind:          kind,
		shaderVisible: shaderVisible,
		descriptors:   make([]metadata.Descriptor, capacity),
	}, nil
}

func (b *Backend) WriteDescriptor(heap any, index uint32, desc *metadata.Descriptor) {
	h := heap.(*descriptorHeap)
	if h.released {
		core.LogWarn("vulkan: write to released descriptor heap %q", h.name)
		return
	}
	if index >= uint32(len(h.descriptors)) {
		core.LogWarn("vulkan: descriptor write at %d past heap capacity %d", index, len(h.descriptors))
		return
	}
	h.descriptors[index] = *desc
}

func (b *Backend) CopyDescriptors(dst any, dstOffset uint32, src any, srcOffset uint32, count uint32) {
	d, s := dst.(*descriptorHeap), src.(*descriptorHeap)
	if dstOffset+count > uint32(len(d.descriptors)) || srcOffset+count > uint32(len(s.descriptors)) {
		core.LogWarn("vulkan: descriptor copy of %d out of range", count)
		return
	}
	copy(d.descriptors[dstOffset:dstOffset+count], s.descriptors[srcOffset:srcOffset+count])
}

// rootSignature is one descriptor set layout per table root parameter plus a
// single push constant block covering every constant range.
type rootSignature struct {
	nativeObject
	params     []metadata.RootParameter
	setLayouts []vk.DescriptorSetLayout
	// setIndex maps a root parameter to its set, or -1 for constants.
	setIndex []int
	types    [][]vk.DescriptorType
	layout   vk.PipelineLayout
}

func (b *Backend) CreateRootSignature(layout *metadata.RootLayout) (any, error) {
	device := b.context.Device.LogicalDevice
	rs := &rootSignature{
		params:   layout.Parameters,
		setIndex: make([]int, len(layout.Parameters)),
	}

	var pushStart, pushEnd uint32
	hasPush := false
	for i, param := range layout.Parameters {
		rs.setIndex[i] = -1
		var bindings []vk.DescriptorSetLayoutBinding
		var types []vk.DescriptorType
		stage := vk.ShaderStageFlags(shaderStage(param.Stage))
		switch param.Type {
		case metadata.RootParameterResourceTable:
			for r, rng := range param.Ranges {
				t := descriptorType(rng.Type, rng.Dimension)
				bindings = append(bindings, vk.DescriptorSetLayoutBinding{
					Binding:         uint32(r),
					DescriptorType:  t,
					DescriptorCount: rng.Count,
					StageFlags:      stage,
				})
				types = append(types, t)
			}
		case metadata.RootParameterSamplerTable:
			var count uint32
			for _, rng := range param.Samplers {
				count += rng.Count
			}
			bindings = append(bindings, vk.DescriptorSetLayoutBinding{
				Binding:         0,
				DescriptorType:  vk.DescriptorTypeSampler,
				DescriptorCount: count,
				StageFlags:      stage,
			})
			types = append(types, vk.DescriptorTypeSampler)
		case metadata.RootParameterConstants:
			start, end := param.Constant.Offset, param.Constant.Offset+param.Constant.Size
			if !hasPush || start < pushStart {
				pushStart = start
			}
			pushEnd = max(pushEnd, end)
			hasPush = true
			continue
		}

		var setLayout vk.DescriptorSetLayout
		res := vk.CreateDescriptorSetLayout(device, &vk.DescriptorSetLayoutCreateInfo{
			SType:        vk.StructureTypeDescriptorSetLayoutCreateInfo,
			BindingCount: uint32(len(bindings)),
			PBindings:    bindings,
		}, b.context.Allocator, &setLayout)
		if err := resultError("vkCreateDescriptorSetLayout", res); err != nil {
			rs.destroy(b.context)
			return nil, err
		}
		rs.setIndex[i] = len(rs.setLayouts)
		rs.setLayouts = append(rs.setLayouts, setLayout)
		rs.types = append(rs.types, types)
	}

	info := vk.PipelineLayoutCreateInfo{
		SType:          vk.StructureTypePipelineLayoutCreateInfo,
		SetLayoutCount: uint32(len(rs.setLayouts)),
		PSetLayouts:    rs.setLayouts,
	}
	if hasPush {
		info.PushConstantRangeCount = 1
		info.PPushConstantRanges = []vk.PushConstantRange{{
			StageFlags: vk.ShaderStageFlags(vk.ShaderStageAll),
			Offset:     pushStart,
			Size:       pushEnd - pushStart,
		}}
	}
	if res := vk.CreatePipelineLayout(device, &info, b.context.Allocator, &rs.layout); res != vk.Success {
		rs.destroy(b.context)
		return nil, resultError("vkCreatePipelineLayout", res)
	}
	return rs, nil
}

func (rs *rootSignature) destroy(context *VulkanContext) {
	device := context.Device.LogicalDevice
	if rs.layout != vk.NullPipelineLayout {
		vk.DestroyPipelineLayout(device, rs.layout, context.Allocator)
		rs.layout = vk.NullPipelineLayout
	}
	for _, l := range rs.setLayouts {
		vk.DestroyDescriptorSetLayout(device, l, context.Allocator)
	}
	rs.setLayouts = nil
}

const (
	descriptorPoolSets        = 256
	descriptorPoolDescriptors = 4096
)

// descriptorArena hands out descriptor sets for one frame slot of one command
// list. Reset recycles every set at once when the slot is reused.
type descriptorArena struct {
	context *VulkanContext
	pools   []vk.DescriptorPool
	cursor  int
}

func (a *descriptorArena) addPool() error {
	types := []vk.DescriptorType{
		vk.DescriptorTypeUniformBuffer,
		vk.DescriptorTypeStorageBuffer,
		vk.DescriptorTypeSampledImage,
		vk.DescriptorTypeStorageImage,
		vk.DescriptorTypeSampler,
	}
	sizes := make([]vk.DescriptorPoolSize, len(types))
	for i, t := range types {
		sizes[i] = vk.DescriptorPoolSize{Type: t, DescriptorCount: descriptorPoolDescriptors}
	}
	var pool vk.DescriptorPool
	res := vk.CreateDescriptorPool(a.context.Device.LogicalDevice, &vk.DescriptorPoolCreateInfo{
		SType:         vk.StructureTypeDescriptorPoolCreateInfo,
		MaxSets:       descriptorPoolSets,
		PoolSizeCount: uint32(len(sizes)),
		PPoolSizes:    sizes,
	}, a.context.Allocator, &pool)
	if err := resultError("vkCreateDescriptorPool", res); err != nil {
		return err
	}
	a.pools = append(a.pools, pool)
	return nil
}

func (a *descriptorArena) allocate(layout vk.DescriptorSetLayout) (vk.DescriptorSet, error) {
	for {
		fresh := a.cursor == len(a.pools)
		if fresh {
			if err := a.addPool(); err != nil {
				return nil, err
			}
		}
		var set vk.DescriptorSet
		res := vk.AllocateDescriptorSets(a.context.Device.LogicalDevice, &vk.DescriptorSetAllocateInfo{
			SType:              vk.StructureTypeDescriptorSetAllocateInfo,
			DescriptorPool:     a.pools[a.cursor],
			DescriptorSetCount: 1,
			PSetLayouts:        []vk.DescriptorSetLayout{layout},
		}, &set)
		switch res {
		case vk.Success:
			return set, nil
		case vk.ErrorOutOfPoolMemory, vk.ErrorFragmentedPool:
			if fresh {
				return nil, fmt.Errorf("descriptor set does not fit an empty pool: %w", resultError("vkAllocateDescriptorSets", res))
			}
			a.cursor++
		default:
			return nil, resultError("vkAllocateDescriptorSets", res)
		}
	}
}

func (a *descriptorArena) reset() error {
	for _, pool := range a.pools[:min(a.cursor+1, len(a.pools))] {
		if res := vk.ResetDescriptorPool(a.context.Device.LogicalDevice, pool, 0); res != vk.Success {
			return resultError("vkResetDescriptorPool", res)
		}
	}
	a.cursor = 0
	return nil
}

func (a *descriptorArena) destroy() {
	for _, pool := range a.pools {
		vk.DestroyDescriptorPool(a.context.Device.LogicalDevice, pool, a.context.Allocator)
	}
	a.pools = nil
	a.cursor = 0
}

// writeTable fills set from the heap window starting at offset. Null descriptors
// and resources of the wrong kind fall back to the null resources.
func (b *Backend) writeTable(set vk.DescriptorSet, types []vk.DescriptorType, param *metadata.RootParameter, heap *descriptorHeap, offset uint32) {
	var writes []vk.WriteDescriptorSet
	next := offset
	take := func() metadata.Descriptor {
		var d metadata.Descriptor
		if next < uint32(len(heap.descriptors)) {
			d = heap.descriptors[next]
		}
		next++
		return d
	}

	if param.Type == metadata.RootParameterSamplerTable {
		var count uint32
		for _, rng := range param.Samplers {
			count += rng.Count
		}
		images := make([]vk.DescriptorImageInfo, count)
		for i := range images {
			d := take()
			sampler := b.null.sampler.Handle
			if s, ok := d.Resource.(*vulkanSampler); ok && !s.released {
				sampler = s.Handle
			}
			images[i] = vk.DescriptorImageInfo{Sampler: sampler}
		}
		writes = append(writes, vk.WriteDescriptorSet{
			SType:           vk.StructureTypeWriteDescriptorSet,
			DstSet:          set,
			DstBinding:      0,
			DescriptorCount: count,
			DescriptorType:  vk.DescriptorTypeSampler,
			PImageInfo:      images,
		})
	} else {
		for r, rng := range param.Ranges {
			t := types[r]
			write := vk.WriteDescriptorSet{
				SType:           vk.StructureTypeWriteDescriptorSet,
				DstSet:          set,
				DstBinding:      uint32(r),
				DescriptorCount: rng.Count,
				DescriptorType:  t,
			}
			switch t {
			case vk.DescriptorTypeUniformBuffer, vk.DescriptorTypeStorageBuffer:
				infos := make([]vk.DescriptorBufferInfo, rng.Count)
				for i := range infos {
					infos[i] = b.bufferInfo(take())
				}
				write.PBufferInfo = infos
			default:
				layout := vk.ImageLayoutShaderReadOnlyOptimal
				if t == vk.DescriptorTypeStorageImage {
					layout = vk.ImageLayoutGeneral
				}
				infos := make([]vk.DescriptorImageInfo, rng.Count)
				for i := range infos {
					view, ok := b.imageView(take())
					if !ok {
						// The null image stays in General.
						infos[i] = vk.DescriptorImageInfo{ImageView: view, ImageLayout: vk.ImageLayoutGeneral}
						continue
					}
					infos[i] = vk.DescriptorImageInfo{ImageView: view, ImageLayout: layout}
				}
				write.PImageInfo = infos
			}
			writes = append(writes, write)
		}
	}
	if len(writes) > 0 {
		vk.UpdateDescriptorSets(b.context.Device.LogicalDevice, uint32(len(writes)), writes, 0, nil)
	}
}

func (b *Backend) bufferInfo(d metadata.Descriptor) vk.DescriptorBufferInfo {
	buf, ok := d.Resource.(*vulkanBuffer)
	if !ok || buf.released || d.Offset >= buf.Size {
		return vk.DescriptorBufferInfo{Buffer: b.null.buffer.Handle, Range: vk.DeviceSize(vk.WholeSize)}
	}
	size := d.Size
	// Constant buffer views are aligned up and may run past the end.
	if size == 0 || d.Offset+size > buf.Size {
		size = buf.Size - d.Offset
	}
	return vk.DescriptorBufferInfo{
		Buffer: buf.Handle,
		Offset: vk.DeviceSize(d.Offset),
		Range:  vk.DeviceSize(size),
	}
}

func (b *Backend) imageView(d metadata.Descriptor) (vk.ImageView, bool) {
	if view, ok := d.View.(*vulkanView); ok && !view.released {
		return view.Handle, true
	}
	return b.null.view.Handle, false
}
