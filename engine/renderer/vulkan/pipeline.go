package vulkan

import (
	"fmt"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/anima-rhi/engine/core"
	"github.com/spaghettifunk/anima-rhi/engine/renderer/metadata"
)

// VulkanPipeline holds a pipeline handle. The pipeline layout belongs to the root
// signature it was created with.
type VulkanPipeline struct {
	nativeObject
	Handle    vk.Pipeline
	Root      *rootSignature
	BindPoint vk.PipelineBindPoint
}

func (b *Backend) CreatePipeline(desc *metadata.NativePipelineDesc) (any, error) {
	root, ok := desc.Layout.(*rootSignature)
	if !ok {
		return nil, fmt.Errorf("pipeline %q has no root signature", desc.Name)
	}
	var (
		pipeline *VulkanPipeline
		err      error
	)
	switch desc.Type {
	case metadata.PipelineGraphics:
		pipeline, err = b.newGraphicsPipeline(desc, root)
	case metadata.PipelineCompute:
		pipeline, err = b.newComputePipeline(desc, root)
	default:
		return nil, fmt.Errorf("pipeline %q: raytracing: %w", desc.Name, core.ErrNotSupported)
	}
	if err != nil {
		return nil, fmt.Errorf("pipeline %q: %w", desc.Name, err)
	}
	pipeline.name = desc.Name
	core.LogDebug("vulkan: pipeline %q created", desc.Name)
	return pipeline, nil
}

func vertexInput(input *metadata.InputLayout) vk.PipelineVertexInputStateCreateInfo {
	bindings := make([]vk.VertexInputBindingDescription, len(input.Bindings))
	for i, binding := range input.Bindings {
		rate := vk.VertexInputRateVertex
		if binding.PerInstance {
			rate = vk.VertexInputRateInstance
		}
		bindings[i] = vk.VertexInputBindingDescription{
			Binding:   binding.Binding,
			Stride:    binding.Stride,
			InputRate: rate,
		}
	}
	attributes := make([]vk.VertexInputAttributeDescription, len(input.Attributes))
	for i, attribute := range input.Attributes {
		attributes[i] = vk.VertexInputAttributeDescription{
			Location: attribute.Location,
			Binding:  attribute.Binding,
			Format:   vkFormat(attribute.Format),
			Offset:   attribute.Offset,
		}
	}
	return vk.PipelineVertexInputStateCreateInfo{
		SType:                           vk.StructureTypePipelineVertexInputStateCreateInfo,
		VertexBindingDescriptionCount:   uint32(len(bindings)),
		PVertexBindingDescriptions:      bindings,
		VertexAttributeDescriptionCount: uint32(len(attributes)),
		PVertexAttributeDescriptions:    attributes,
	}
}

func (b *Backend) newGraphicsPipeline(desc *metadata.NativePipelineDesc, root *rootSignature) (*VulkanPipeline, error) {
	var (
		renderPass vk.RenderPass
		samples    = vk.SampleCount1Bit
		colorCount = uint32(len(desc.ColorFormats))
		hasDepth   = desc.DepthFormat != metadata.FormatUnknown
	)
	if rp, ok := desc.RenderPass.(*VulkanRenderpass); ok {
		renderPass = rp.Handle
		samples = rp.Samples
		colorCount = rp.ColorCount
	} else {
		temporary, err := b.compatibleRenderPass(desc.ColorFormats, desc.DepthFormat)
		if err != nil {
			return nil, err
		}
		defer vk.DestroyRenderPass(b.context.Device.LogicalDevice, temporary, b.context.Allocator)
		renderPass = temporary
	}

	stages, err := newShaderStages(b.context, desc.Shaders)
	if err != nil {
		return nil, err
	}
	defer destroyShaderStages(b.context, stages)
	stageInfos := make([]vk.PipelineShaderStageCreateInfo, len(stages))
	for i, s := range stages {
		stageInfos[i] = s.ShaderStageCreateInfo
	}

	// Viewport and scissor are set when a render pass begins.
	viewportState := vk.PipelineViewportStateCreateInfo{
		SType:         vk.StructureTypePipelineViewportStateCreateInfo,
		ViewportCount: 1,
		ScissorCount:  1,
	}

	rasterizer := vk.PipelineRasterizationStateCreateInfo{
		SType:                   vk.StructureTypePipelineRasterizationStateCreateInfo,
		DepthClampEnable:        vk.False,
		RasterizerDiscardEnable: vk.False,
		PolygonMode:             vk.PolygonModeFill,
		LineWidth:               1.0,
		CullMode:                vk.CullModeFlags(vk.CullModeBackBit),
		FrontFace:               vk.FrontFaceCounterClockwise,
		DepthBiasEnable:         vk.False,
	}

	multisampling := vk.PipelineMultisampleStateCreateInfo{
		SType:                vk.StructureTypePipelineMultisampleStateCreateInfo,
		SampleShadingEnable:  vk.False,
		RasterizationSamples: samples,
		MinSampleShading:     1.0,
	}

	depthStencil := vk.PipelineDepthStencilStateCreateInfo{
		SType:             vk.StructureTypePipelineDepthStencilStateCreateInfo,
		DepthTestEnable:   vk.False,
		DepthWriteEnable:  vk.False,
		StencilTestEnable: vk.False,
	}
	if hasDepth {
		depthStencil.DepthTestEnable = vk.True
		depthStencil.DepthWriteEnable = vk.True
		depthStencil.DepthCompareOp = vk.CompareOpLess
	}

	blendAttachments := make([]vk.PipelineColorBlendAttachmentState, colorCount)
	for i := range blendAttachments {
		blendAttachments[i] = vk.PipelineColorBlendAttachmentState{
			BlendEnable:         vk.True,
			SrcColorBlendFactor: vk.BlendFactorSrcAlpha,
			DstColorBlendFactor: vk.BlendFactorOneMinusSrcAlpha,
			ColorBlendOp:        vk.BlendOpAdd,
			SrcAlphaBlendFactor: vk.BlendFactorSrcAlpha,
			DstAlphaBlendFactor: vk.BlendFactorOneMinusSrcAlpha,
			AlphaBlendOp:        vk.BlendOpAdd,
			ColorWriteMask: vk.ColorComponentFlags(vk.ColorComponentRBit | vk.ColorComponentGBit |
				vk.ColorComponentBBit | vk.ColorComponentABit),
		}
	}
	colorBlend := vk.PipelineColorBlendStateCreateInfo{
		SType:           vk.StructureTypePipelineColorBlendStateCreateInfo,
		LogicOpEnable:   vk.False,
		LogicOp:         vk.LogicOpCopy,
		AttachmentCount: colorCount,
		PAttachments:    blendAttachments,
	}

	dynamicStates := []vk.DynamicState{
		vk.DynamicStateViewport,
		vk.DynamicStateScissor,
	}
	dynamicState := vk.PipelineDynamicStateCreateInfo{
		SType:             vk.StructureTypePipelineDynamicStateCreateInfo,
		DynamicStateCount: uint32(len(dynamicStates)),
		PDynamicStates:    dynamicStates,
	}

	vertexInputInfo := vertexInput(&desc.Input)
	inputAssembly := vk.PipelineInputAssemblyStateCreateInfo{
		SType:                  vk.StructureTypePipelineInputAssemblyStateCreateInfo,
		Topology:               topology(desc.Topology),
		PrimitiveRestartEnable: vk.False,
	}

	createInfo := vk.GraphicsPipelineCreateInfo{
		SType:               vk.StructureTypeGraphicsPipelineCreateInfo,
		StageCount:          uint32(len(stageInfos)),
		PStages:             stageInfos,
		PVertexInputState:   &vertexInputInfo,
		PInputAssemblyState: &inputAssembly,
		PViewportState:      &viewportState,
		PRasterizationState: &rasterizer,
		PMultisampleState:   &multisampling,
		PDepthStencilState:  &depthStencil,
		PColorBlendState:    &colorBlend,
		PDynamicState:       &dynamicState,
		Layout:              root.layout,
		RenderPass:          renderPass,
		Subpass:             0,
		BasePipelineHandle:  vk.NullPipeline,
		BasePipelineIndex:   -1,
	}

	pipelines := make([]vk.Pipeline, 1)
	res := vk.CreateGraphicsPipelines(b.context.Device.LogicalDevice, vk.NullPipelineCache, 1,
		[]vk.GraphicsPipelineCreateInfo{createInfo}, b.context.Allocator, pipelines)
	if err := resultError("vkCreateGraphicsPipelines", res); err != nil {
		return nil, err
	}
	return &VulkanPipeline{
		Handle:    pipelines[0],
		Root:      root,
		BindPoint: vk.PipelineBindPointGraphics,
	}, nil
}

func (b *Backend) newComputePipeline(desc *metadata.NativePipelineDesc, root *rootSignature) (*VulkanPipeline, error) {
	if len(desc.Shaders) != 1 {
		return nil, fmt.Errorf("compute pipeline takes one shader, got %d", len(desc.Shaders))
	}
	stages, err := newShaderStages(b.context, desc.Shaders)
	if err != nil {
		return nil, err
	}
	defer destroyShaderStages(b.context, stages)

	pipelines := make([]vk.Pipeline, 1)
	res := vk.CreateComputePipelines(b.context.Device.LogicalDevice, vk.NullPipelineCache, 1,
		[]vk.ComputePipelineCreateInfo{{
			SType:              vk.StructureTypeComputePipelineCreateInfo,
			Stage:              stages[0].ShaderStageCreateInfo,
			Layout:             root.layout,
			BasePipelineHandle: vk.NullPipeline,
			BasePipelineIndex:  -1,
		}}, b.context.Allocator, pipelines)
	if err := resultError("vkCreateComputePipelines", res); err != nil {
		return nil, err
	}
	return &VulkanPipeline{
		Handle:    pipelines[0],
		Root:      root,
		BindPoint: vk.PipelineBindPointCompute,
	}, nil
}

func (pipeline *VulkanPipeline) destroy(context *VulkanContext) {
	if pipeline.Handle != vk.NullPipeline {
		vk.DestroyPipeline(context.Device.LogicalDevice, pipeline.Handle, context.Allocator)
		pipeline.Handle = vk.NullPipeline
	}
}

func (b *Backend) CreateAccelerationStructure(desc *metadata.AccelerationStructureDesc) (any, error) {
	return nil, fmt.Errorf("acceleration structure %q: %w", desc.Name, core.ErrNotSupported)
}
