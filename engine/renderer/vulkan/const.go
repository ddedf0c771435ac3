package vulkan

import (
	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/ember/engine/renderer/metadata"
)

const (
	// Max number of descriptor sets per pipeline descriptor pool.
	// TODO: make configurable once materials own their sets.
	VULKAN_MAX_DESCRIPTOR_SETS uint32 = 64

	// Vulkan only guarantees 128 bytes of push constants.
	VULKAN_MAX_PUSH_CONSTANT_SIZE uint32 = 128
)

var formats = map[metadata.Format]vk.Format{
	metadata.FormatUndefined:          vk.FormatUndefined,
	metadata.FormatR8G8B8A8Unorm:      vk.FormatR8g8b8a8Unorm,
	metadata.FormatR8G8B8A8Srgb:       vk.FormatR8g8b8a8Srgb,
	metadata.FormatB8G8R8A8Unorm:      vk.FormatB8g8r8a8Unorm,
	metadata.FormatB8G8R8A8Srgb:       vk.FormatB8g8r8a8Srgb,
	metadata.FormatR16G16B16A16Sfloat: vk.FormatR16g16b16a16Sfloat,
	metadata.FormatR32G32B32A32Sfloat: vk.FormatR32g32b32a32Sfloat,
	metadata.FormatD32Sfloat:          vk.FormatD32Sfloat,
	metadata.FormatD24UnormS8Uint:     vk.FormatD24UnormS8Uint,
	metadata.FormatD32SfloatS8Uint:    vk.FormatD32SfloatS8Uint,
	metadata.FormatR32G32Sfloat:       vk.FormatR32g32Sfloat,
	metadata.FormatR32G32B32Sfloat:    vk.FormatR32g32b32Sfloat,
}

func toVkFormat(f metadata.Format) vk.Format {
	return formats[f]
}

// fromVkFormat returns FormatUndefined for anything the engine does not model.
func fromVkFormat(f vk.Format) metadata.Format {
	for m, v := range formats {
		if v == f {
			return m
		}
	}
	return metadata.FormatUndefined
}

var layouts = map[metadata.ImageLayout]vk.ImageLayout{
	metadata.ImageLayoutUndefined:              vk.ImageLayoutUndefined,
	metadata.ImageLayoutGeneral:                vk.ImageLayoutGeneral,
	metadata.ImageLayoutColorAttachment:        vk.ImageLayoutColorAttachmentOptimal,
	metadata.ImageLayoutDepthStencilAttachment: vk.ImageLayoutDepthStencilAttachmentOptimal,
	metadata.ImageLayoutDepthStencilReadOnly:   vk.ImageLayoutDepthStencilReadOnlyOptimal,
	metadata.ImageLayoutShaderReadOnly:         vk.ImageLayoutShaderReadOnlyOptimal,
	metadata.ImageLayoutTransferSrc:            vk.ImageLayoutTransferSrcOptimal,
	metadata.ImageLayoutTransferDst:            vk.ImageLayoutTransferDstOptimal,
	metadata.ImageLayoutPresentSrc:             vk.ImageLayoutPresentSrc,
}

func toVkLayout(l metadata.ImageLayout) vk.ImageLayout {
	return layouts[l]
}

func toVkLoadOp(op metadata.LoadOp) vk.AttachmentLoadOp {
	switch op {
	case metadata.LoadOpLoad:
		return vk.AttachmentLoadOpLoad
	case metadata.LoadOpDontCare:
		return vk.AttachmentLoadOpDontCare
	}
	return vk.AttachmentLoadOpClear
}

func toVkStoreOp(op metadata.StoreOp) vk.AttachmentStoreOp {
	if op == metadata.StoreOpDontCare {
		return vk.AttachmentStoreOpDontCare
	}
	return vk.AttachmentStoreOpStore
}

var stages = []struct {
	m metadata.PipelineStage
	v vk.PipelineStageFlagBits
}{
	{metadata.StageTopOfPipe, vk.PipelineStageTopOfPipeBit},
	{metadata.StageVertexInput, vk.PipelineStageVertexInputBit},
	{metadata.StageVertexShader, vk.PipelineStageVertexShaderBit},
	{metadata.StageEarlyFragmentTests, vk.PipelineStageEarlyFragmentTestsBit},
	{metadata.StageFragmentShader, vk.PipelineStageFragmentShaderBit},
	{metadata.StageLateFragmentTests, vk.PipelineStageLateFragmentTestsBit},
	{metadata.StageColorAttachmentOutput, vk.PipelineStageColorAttachmentOutputBit},
	{metadata.StageTransfer, vk.PipelineStageTransferBit},
	{metadata.StageBottomOfPipe, vk.PipelineStageBottomOfPipeBit},
}

func toVkStages(s metadata.PipelineStage) vk.PipelineStageFlags {
	var out vk.PipelineStageFlags
	for _, st := range stages {
		if s&st.m != 0 {
			out |= vk.PipelineStageFlags(st.v)
		}
	}
	if out == 0 {
		out = vk.PipelineStageFlags(vk.PipelineStageTopOfPipeBit)
	}
	return out
}

var accesses = []struct {
	m metadata.Access
	v vk.AccessFlagBits
}{
	{metadata.AccessIndexRead, vk.AccessIndexReadBit},
	{metadata.AccessVertexAttributeRead, vk.AccessVertexAttributeReadBit},
	{metadata.AccessUniformRead, vk.AccessUniformReadBit},
	{metadata.AccessInputAttachmentRead, vk.AccessInputAttachmentReadBit},
	{metadata.AccessShaderRead, vk.AccessShaderReadBit},
	{metadata.AccessColorAttachmentRead, vk.AccessColorAttachmentReadBit},
	{metadata.AccessColorAttachmentWrite, vk.AccessColorAttachmentWriteBit},
	{metadata.AccessDepthStencilRead, vk.AccessDepthStencilAttachmentReadBit},
	{metadata.AccessDepthStencilWrite, vk.AccessDepthStencilAttachmentWriteBit},
	{metadata.AccessTransferRead, vk.AccessTransferReadBit},
	{metadata.AccessTransferWrite, vk.AccessTransferWriteBit},
	{metadata.AccessMemoryRead, vk.AccessMemoryReadBit},
}

func toVkAccess(a metadata.Access) vk.AccessFlags {
	var out vk.AccessFlags
	for _, ac := range accesses {
		if a&ac.m != 0 {
			out |= vk.AccessFlags(ac.v)
		}
	}
	return out
}

func toVkShaderStages(s metadata.ShaderStage) vk.ShaderStageFlags {
	var out vk.ShaderStageFlags
	if s&metadata.ShaderStageVertex != 0 {
		out |= vk.ShaderStageFlags(vk.ShaderStageVertexBit)
	}
	if s&metadata.ShaderStageFragment != 0 {
		out |= vk.ShaderStageFlags(vk.ShaderStageFragmentBit)
	}
	if s&metadata.ShaderStageCompute != 0 {
		out |= vk.ShaderStageFlags(vk.ShaderStageComputeBit)
	}
	return out
}

// toVkShaderStage maps a single stage for shader module creation.
func toVkShaderStage(s metadata.ShaderStage) vk.ShaderStageFlagBits {
	switch {
	case s&metadata.ShaderStageFragment != 0:
		return vk.ShaderStageFragmentBit
	case s&metadata.ShaderStageCompute != 0:
		return vk.ShaderStageComputeBit
	}
	return vk.ShaderStageVertexBit
}

var descriptorTypes = map[metadata.DescriptorKind]vk.DescriptorType{
	metadata.DescriptorUniformBuffer:        vk.DescriptorTypeUniformBuffer,
	metadata.DescriptorStorageBuffer:        vk.DescriptorTypeStorageBuffer,
	metadata.DescriptorCombinedImageSampler: vk.DescriptorTypeCombinedImageSampler,
	metadata.DescriptorSampledImage:         vk.DescriptorTypeSampledImage,
	metadata.DescriptorInputAttachment:      vk.DescriptorTypeInputAttachment,
}

func toVkDescriptorType(k metadata.DescriptorKind) vk.DescriptorType {
	return descriptorTypes[k]
}

func toVkBufferUsage(u metadata.BufferUsage) vk.BufferUsageFlags {
	var out vk.BufferUsageFlagBits
	if u&metadata.BufferUsageTransferSrc != 0 {
		out |= vk.BufferUsageTransferSrcBit
	}
	if u&metadata.BufferUsageTransferDst != 0 {
		out |= vk.BufferUsageTransferDstBit
	}
	if u&metadata.BufferUsageUniform != 0 {
		out |= vk.BufferUsageUniformBufferBit
	}
	if u&metadata.BufferUsageStorage != 0 {
		out |= vk.BufferUsageStorageBufferBit
	}
	if u&metadata.BufferUsageIndex != 0 {
		out |= vk.BufferUsageIndexBufferBit
	}
	if u&metadata.BufferUsageVertex != 0 {
		out |= vk.BufferUsageVertexBufferBit
	}
	return vk.BufferUsageFlags(out)
}

func toVkImageUsage(u metadata.ImageUsage) vk.ImageUsageFlags {
	var out vk.ImageUsageFlagBits
	if u&metadata.ImageUsageColorAttachment != 0 {
		out |= vk.ImageUsageColorAttachmentBit
	}
	if u&metadata.ImageUsageDepthStencilAttachment != 0 {
		out |= vk.ImageUsageDepthStencilAttachmentBit
	}
	if u&metadata.ImageUsageInputAttachment != 0 {
		out |= vk.ImageUsageInputAttachmentBit
	}
	if u&metadata.ImageUsageSampled != 0 {
		out |= vk.ImageUsageSampledBit
	}
	if u&metadata.ImageUsageTransferSrc != 0 {
		out |= vk.ImageUsageTransferSrcBit
	}
	if u&metadata.ImageUsageTransferDst != 0 {
		out |= vk.ImageUsageTransferDstBit
	}
	return vk.ImageUsageFlags(out)
}

func toVkMemoryProperties(p metadata.MemoryProperty) uint32 {
	var out vk.MemoryPropertyFlagBits
	if p&metadata.MemoryDeviceLocal != 0 {
		out |= vk.MemoryPropertyDeviceLocalBit
	}
	if p&metadata.MemoryHostVisible != 0 {
		out |= vk.MemoryPropertyHostVisibleBit
	}
	if p&metadata.MemoryHostCoherent != 0 {
		out |= vk.MemoryPropertyHostCoherentBit
	}
	return uint32(out)
}

func toVkCullMode(c metadata.CullMode) vk.CullModeFlags {
	switch c {
	case metadata.CullNone:
		return vk.CullModeFlags(vk.CullModeNone)
	case metadata.CullFront:
		return vk.CullModeFlags(vk.CullModeFrontBit)
	}
	return vk.CullModeFlags(vk.CullModeBackBit)
}

func toVkIndexType(t metadata.IndexType) vk.IndexType {
	if t == metadata.IndexTypeUint16 {
		return vk.IndexTypeUint16
	}
	return vk.IndexTypeUint32
}

func aspectFor(f metadata.Format) vk.ImageAspectFlags {
	if !f.IsDepth() {
		return vk.ImageAspectFlags(vk.ImageAspectColorBit)
	}
	if f.HasStencil() {
		return vk.ImageAspectFlags(vk.ImageAspectDepthBit | vk.ImageAspectStencilBit)
	}
	return vk.ImageAspectFlags(vk.ImageAspectDepthBit)
}
