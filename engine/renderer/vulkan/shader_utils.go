package vulkan

import (
	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/ember/engine/core"
	"github.com/spaghettifunk/ember/engine/renderer/gpu"
)

// VulkanShaderStage is a shader module and the stage info that references
// it. Modules only need to live until the pipeline is created.
type VulkanShaderStage struct {
	Handle                vk.ShaderModule
	ShaderStageCreateInfo vk.PipelineShaderStageCreateInfo
}

func (d *Device) createShaderStage(desc gpu.ShaderStageDesc) (VulkanShaderStage, error) {
	var stage VulkanShaderStage
	if len(desc.Code) == 0 || len(desc.Code)%4 != 0 {
		return stage, core.NewConfigError("vulkan.ShaderModule", core.ErrInvalidFormat, "%s: SPIR-V size %d is not a multiple of 4", desc.Path, len(desc.Code))
	}

	createInfo := vk.ShaderModuleCreateInfo{
		SType:    vk.StructureTypeShaderModuleCreateInfo,
		CodeSize: uint(len(desc.Code)),
		PCode:    sliceUint32(desc.Code),
	}
	if err := check("vkCreateShaderModule", vk.CreateShaderModule(d.LogicalDevice, &createInfo, d.Allocator, &stage.Handle)); err != nil {
		return stage, err
	}

	entry := desc.EntryPoint
	if entry == "" {
		entry = "main"
	}
	stage.ShaderStageCreateInfo = vk.PipelineShaderStageCreateInfo{
		SType:  vk.StructureTypePipelineShaderStageCreateInfo,
		Stage:  toVkShaderStage(desc.Stage),
		Module: stage.Handle,
		PName:  VulkanSafeString(entry),
	}
	return stage, nil
}

func (d *Device) destroyShaderStages(stages []VulkanShaderStage) {
	for i := range stages {
		if stages[i].Handle != vk.NullShaderModule {
			vk.DestroyShaderModule(d.LogicalDevice, stages[i].Handle, d.Allocator)
			stages[i].Handle = vk.NullShaderModule
		}
	}
}
