package vulkan

import (
	"fmt"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/anima-rhi/engine/renderer/metadata"
)

// VulkanShaderStage is one compiled module and the stage info that references it.
type VulkanShaderStage struct {
	CreateInfo            vk.ShaderModuleCreateInfo
	Handle                vk.ShaderModule
	ShaderStageCreateInfo vk.PipelineShaderStageCreateInfo
}

func NewShaderModule(context *VulkanContext, shader *metadata.Shader) (*VulkanShaderStage, error) {
	words, err := spirvWords(shader.Bytecode)
	if err != nil {
		return nil, err
	}

	stage := &VulkanShaderStage{}
	stage.CreateInfo = vk.ShaderModuleCreateInfo{
		SType:    vk.StructureTypeShaderModuleCreateInfo,
		CodeSize: uint64(len(shader.Bytecode)),
		PCode:    words,
	}
	if res := vk.CreateShaderModule(context.Device.LogicalDevice, &stage.CreateInfo, context.Allocator, &stage.Handle); res != vk.Success {
		return nil, resultError("vkCreateShaderModule", res)
	}

	entry := shader.EntryPoint
	if entry == "" {
		entry = "main"
	}
	stage.ShaderStageCreateInfo = vk.PipelineShaderStageCreateInfo{
		SType:  vk.StructureTypePipelineShaderStageCreateInfo,
		Stage:  shaderStage(shader.Stage),
		Module: stage.Handle,
		PName:  VulkanSafeString(entry),
	}
	return stage, nil
}

func (s *VulkanShaderStage) Destroy(context *VulkanContext) {
	if s.Handle != vk.NullShaderModule {
		vk.DestroyShaderModule(context.Device.LogicalDevice, s.Handle, context.Allocator)
		s.Handle = vk.NullShaderModule
	}
}

// newShaderStages builds a module per shader. Modules are only needed while the
// pipeline is created, so the caller destroys them right after.
func newShaderStages(context *VulkanContext, shaders []metadata.Shader) ([]*VulkanShaderStage, error) {
	stages := make([]*VulkanShaderStage, 0, len(shaders))
	for i := range shaders {
		stage, err := NewShaderModule(context, &shaders[i])
		if err != nil {
			destroyShaderStages(context, stages)
			return nil, fmt.Errorf("shader %d: %w", i, err)
		}
		stages = append(stages, stage)
	}
	return stages, nil
}

func destroyShaderStages(context *VulkanContext, stages []*VulkanShaderStage) {
	for _, s := range stages {
		s.Destroy(context)
	}
}
