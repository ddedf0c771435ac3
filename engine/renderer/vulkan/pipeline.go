package vulkan

import (
	"fmt"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/ember/engine/core"
	"github.com/spaghettifunk/ember/engine/renderer/gpu"
	"github.com/spaghettifunk/ember/engine/renderer/metadata"
)

/**
 * @brief Holds a Vulkan pipeline, its layout and the descriptor pool its
 * sets are allocated from.
 */
type Pipeline struct {
	dev  *Device
	desc *gpu.PipelineDesc

	/** @brief The internal pipeline handle. */
	Handle vk.Pipeline
	/** @brief The pipeline layout. */
	PipelineLayout vk.PipelineLayout
	/** @brief One layout per set index; sets without bindings get an empty layout. */
	SetLayouts []vk.DescriptorSetLayout
	/** @brief Pool for the sets; sets are freed individually. */
	DescriptorPool vk.DescriptorPool

	/** @brief Union of the push constant stages, used when pushing. */
	pushStages vk.ShaderStageFlags
	pushSize   uint32
}

func (d *Device) CreatePipeline(desc *gpu.PipelineDesc) (gpu.Pipeline, error) {
	rp, ok := desc.RenderPass.(*RenderPass)
	if !ok || rp.Handle == vk.NullRenderPass {
		return nil, core.NewConfigError("vulkan.CreatePipeline", core.ErrInvalidHandle, "pipeline %q: renderpass", desc.Name)
	}
	if int(desc.Subpass) >= len(rp.desc.Subpasses) {
		return nil, core.NewConfigError("vulkan.CreatePipeline", core.ErrInvalidHandle, "pipeline %q: subpass %d out of range", desc.Name, desc.Subpass)
	}
	subpass := &rp.desc.Subpasses[desc.Subpass]

	pipeline := &Pipeline{dev: d, desc: desc}
	if err := pipeline.createLayout(); err != nil {
		pipeline.Destroy()
		return nil, fmt.Errorf("vulkan: pipeline %q: %w", desc.Name, err)
	}

	stages := make([]VulkanShaderStage, 0, len(desc.Stages))
	defer func() { d.destroyShaderStages(stages) }()
	stageInfos := make([]vk.PipelineShaderStageCreateInfo, 0, len(desc.Stages))
	for _, s := range desc.Stages {
		stage, err := d.createShaderStage(s)
		if err != nil {
			pipeline.Destroy()
			return nil, fmt.Errorf("vulkan: pipeline %q: %w", desc.Name, err)
		}
		stages = append(stages, stage)
		stageInfos = append(stageInfos, stage.ShaderStageCreateInfo)
	}

	// Viewport and scissor are dynamic.
	viewportState := vk.PipelineViewportStateCreateInfo{
		SType:         vk.StructureTypePipelineViewportStateCreateInfo,
		ViewportCount: 1,
		ScissorCount:  1,
	}

	// Rasterizer
	rasterizerCreateInfo := vk.PipelineRasterizationStateCreateInfo{
		SType:                   vk.StructureTypePipelineRasterizationStateCreateInfo,
		DepthClampEnable:        vk.False,
		RasterizerDiscardEnable: vk.False,
		PolygonMode:             vk.PolygonModeFill,
		LineWidth:               1.0,
		CullMode:                toVkCullMode(desc.Cull),
		FrontFace:               vk.FrontFaceCounterClockwise,
		DepthBiasEnable:         vk.False,
	}
	if desc.Wireframe {
		rasterizerCreateInfo.PolygonMode = vk.PolygonModeLine
	}

	// Multisampling.
	multisamplingCreateInfo := vk.PipelineMultisampleStateCreateInfo{
		SType:                 vk.StructureTypePipelineMultisampleStateCreateInfo,
		SampleShadingEnable:   vk.False,
		RasterizationSamples:  vk.SampleCount1Bit,
		MinSampleShading:      1.0,
		AlphaToCoverageEnable: vk.False,
		AlphaToOneEnable:      vk.False,
	}

	// Depth and stencil testing.
	depthStencil := vk.PipelineDepthStencilStateCreateInfo{
		SType:             vk.StructureTypePipelineDepthStencilStateCreateInfo,
		DepthTestEnable:   vk.False,
		DepthWriteEnable:  vk.False,
		StencilTestEnable: vk.False,
	}
	if desc.DepthTest {
		depthStencil.DepthTestEnable = vk.True
		depthStencil.DepthCompareOp = vk.CompareOpLess
	}
	if desc.DepthWrite {
		depthStencil.DepthWriteEnable = vk.True
	}

	// One blend state per color attachment of the subpass.
	writeMask := vk.ColorComponentFlags(vk.ColorComponentRBit | vk.ColorComponentGBit | vk.ColorComponentBBit | vk.ColorComponentABit)
	blendAttachments := make([]vk.PipelineColorBlendAttachmentState, len(subpass.Colors))
	for i := range blendAttachments {
		blendAttachments[i] = vk.PipelineColorBlendAttachmentState{
			BlendEnable:    vk.False,
			ColorWriteMask: writeMask,
		}
		if desc.Blend {
			blendAttachments[i] = vk.PipelineColorBlendAttachmentState{
				BlendEnable:         vk.True,
				SrcColorBlendFactor: vk.BlendFactorSrcAlpha,
				DstColorBlendFactor: vk.BlendFactorOneMinusSrcAlpha,
				ColorBlendOp:        vk.BlendOpAdd,
				SrcAlphaBlendFactor: vk.BlendFactorSrcAlpha,
				DstAlphaBlendFactor: vk.BlendFactorOneMinusSrcAlpha,
				AlphaBlendOp:        vk.BlendOpAdd,
				ColorWriteMask:      writeMask,
			}
		}
	}
	colorBlendStateCreateInfo := vk.PipelineColorBlendStateCreateInfo{
		SType:           vk.StructureTypePipelineColorBlendStateCreateInfo,
		LogicOpEnable:   vk.False,
		LogicOp:         vk.LogicOpCopy,
		AttachmentCount: uint32(len(blendAttachments)),
		PAttachments:    blendAttachments,
	}

	// Dynamic state
	dynamicStates := []vk.DynamicState{
		vk.DynamicStateViewport,
		vk.DynamicStateScissor,
	}
	dynamicStateCreateInfo := vk.PipelineDynamicStateCreateInfo{
		SType:             vk.StructureTypePipelineDynamicStateCreateInfo,
		DynamicStateCount: uint32(len(dynamicStates)),
		PDynamicStates:    dynamicStates,
	}

	// Vertex input
	bindings := make([]vk.VertexInputBindingDescription, len(desc.VertexBindings))
	for i, b := range desc.VertexBindings {
		rate := vk.VertexInputRateVertex
		if b.PerInstance {
			rate = vk.VertexInputRateInstance
		}
		bindings[i] = vk.VertexInputBindingDescription{
			Binding:   b.Binding,
			Stride:    b.Stride,
			InputRate: rate,
		}
	}
	attributes := make([]vk.VertexInputAttributeDescription, len(desc.VertexAttributes))
	for i, a := range desc.VertexAttributes {
		format := toVkFormat(a.Format)
		if format == vk.FormatUndefined {
			pipeline.Destroy()
			return nil, core.NewConfigError("vulkan.CreatePipeline", core.ErrInvalidFormat, "pipeline %q: attribute %d: %s", desc.Name, a.Location, a.Format)
		}
		attributes[i] = vk.VertexInputAttributeDescription{
			Location: a.Location,
			Binding:  a.Binding,
			Format:   format,
			Offset:   a.Offset,
		}
	}
	vertexInputInfo := vk.PipelineVertexInputStateCreateInfo{
		SType:                           vk.StructureTypePipelineVertexInputStateCreateInfo,
		VertexBindingDescriptionCount:   uint32(len(bindings)),
		PVertexBindingDescriptions:      bindings,
		VertexAttributeDescriptionCount: uint32(len(attributes)),
		PVertexAttributeDescriptions:    attributes,
	}

	// Input assembly
	inputAssembly := vk.PipelineInputAssemblyStateCreateInfo{
		SType:                  vk.StructureTypePipelineInputAssemblyStateCreateInfo,
		Topology:               vk.PrimitiveTopologyTriangleList,
		PrimitiveRestartEnable: vk.False,
	}

	pipelineCreateInfo := vk.GraphicsPipelineCreateInfo{
		SType:               vk.StructureTypeGraphicsPipelineCreateInfo,
		StageCount:          uint32(len(stageInfos)),
		PStages:             stageInfos,
		PVertexInputState:   &vertexInputInfo,
		PInputAssemblyState: &inputAssembly,
		PViewportState:      &viewportState,
		PRasterizationState: &rasterizerCreateInfo,
		PMultisampleState:   &multisamplingCreateInfo,
		PColorBlendState:    &colorBlendStateCreateInfo,
		PDynamicState:       &dynamicStateCreateInfo,
		Layout:              pipeline.PipelineLayout,
		RenderPass:          rp.Handle,
		Subpass:             desc.Subpass,
		BasePipelineHandle:  vk.NullPipeline,
		BasePipelineIndex:   -1,
	}
	if subpass.DepthStencil != nil {
		pipelineCreateInfo.PDepthStencilState = &depthStencil
	}

	pPipelines := make([]vk.Pipeline, 1)
	err := d.locks.SafeCall(PipelineManagement, func() error {
		return check("vkCreateGraphicsPipelines", vk.CreateGraphicsPipelines(
			d.LogicalDevice,
			vk.NullPipelineCache,
			1,
			[]vk.GraphicsPipelineCreateInfo{pipelineCreateInfo},
			d.Allocator,
			pPipelines))
	})
	if err != nil {
		pipeline.Destroy()
		return nil, fmt.Errorf("vulkan: pipeline %q: %w", desc.Name, err)
	}
	pipeline.Handle = pPipelines[0]

	core.Logger().Debug("Graphics pipeline created", "name", desc.Name, "subpass", desc.Subpass, "sets", len(pipeline.SetLayouts))
	return pipeline, nil
}

// createLayout builds the set layouts, the descriptor pool and the pipeline
// layout from the reflected bindings and push constants.
func (p *Pipeline) createLayout() error {
	d := p.dev

	maxSet := -1
	for _, s := range p.desc.DescriptorSets {
		if int(s.Set) > maxSet {
			maxSet = int(s.Set)
		}
	}

	poolCounts := map[vk.DescriptorType]uint32{}
	p.SetLayouts = make([]vk.DescriptorSetLayout, maxSet+1)
	for set := 0; set <= maxSet; set++ {
		var binds []vk.DescriptorSetLayoutBinding
		for _, s := range p.desc.DescriptorSets {
			if int(s.Set) != set {
				continue
			}
			for _, b := range s.Bindings {
				count := b.Count
				if count == 0 {
					count = 1
				}
				stages := toVkShaderStages(b.Stages)
				if stages == 0 {
					stages = vk.ShaderStageFlags(vk.ShaderStageVertexBit | vk.ShaderStageFragmentBit)
				}
				kind := toVkDescriptorType(b.Kind)
				binds = append(binds, vk.DescriptorSetLayoutBinding{
					Binding:         b.Binding,
					DescriptorType:  kind,
					DescriptorCount: count,
					StageFlags:      stages,
				})
				poolCounts[kind] += count * VULKAN_MAX_DESCRIPTOR_SETS
			}
		}
		var layout vk.DescriptorSetLayout
		res := vk.CreateDescriptorSetLayout(d.LogicalDevice, &vk.DescriptorSetLayoutCreateInfo{
			SType:        vk.StructureTypeDescriptorSetLayoutCreateInfo,
			BindingCount: uint32(len(binds)),
			PBindings:    binds,
		}, d.Allocator, &layout)
		if err := check("vkCreateDescriptorSetLayout", res); err != nil {
			return err
		}
		p.SetLayouts[set] = layout
	}

	if len(poolCounts) > 0 {
		pools := make([]vk.DescriptorPoolSize, 0, len(poolCounts))
		for kind, n := range poolCounts {
			pools = append(pools, vk.DescriptorPoolSize{Type: kind, DescriptorCount: n})
		}
		err := d.locks.SafeCall(DescriptorManagement, func() error {
			var pool vk.DescriptorPool
			res := vk.CreateDescriptorPool(d.LogicalDevice, &vk.DescriptorPoolCreateInfo{
				SType:         vk.StructureTypeDescriptorPoolCreateInfo,
				Flags:         vk.DescriptorPoolCreateFlags(vk.DescriptorPoolCreateFreeDescriptorSetBit),
				MaxSets:       VULKAN_MAX_DESCRIPTOR_SETS * uint32(len(p.SetLayouts)),
				PoolSizeCount: uint32(len(pools)),
				PPoolSizes:    pools,
			}, d.Allocator, &pool)
			if err := check("vkCreateDescriptorPool", res); err != nil {
				return err
			}
			p.DescriptorPool = pool
			return nil
		})
		if err != nil {
			return err
		}
	}

	pipelineLayoutCreateInfo := vk.PipelineLayoutCreateInfo{
		SType:          vk.StructureTypePipelineLayoutCreateInfo,
		SetLayoutCount: uint32(len(p.SetLayouts)),
		PSetLayouts:    p.SetLayouts,
	}

	// Push constants. Stages may not repeat across ranges, so every range
	// folds into one covering all of them.
	if len(p.desc.PushConstants) > 0 {
		var lo, hi uint32 = ^uint32(0), 0
		for _, pc := range p.desc.PushConstants {
			stages := toVkShaderStages(pc.Stages)
			if stages == 0 {
				stages = vk.ShaderStageFlags(vk.ShaderStageVertexBit | vk.ShaderStageFragmentBit)
			}
			p.pushStages |= stages
			if pc.Offset < lo {
				lo = pc.Offset
			}
			if pc.Offset+pc.Size > hi {
				hi = pc.Offset + pc.Size
			}
		}
		if hi > VULKAN_MAX_PUSH_CONSTANT_SIZE {
			return core.NewConfigError("vulkan.CreatePipeline", core.ErrLayoutMismatch, "push constants need %d bytes, at most %d are available", hi, VULKAN_MAX_PUSH_CONSTANT_SIZE)
		}
		p.pushSize = hi
		pipelineLayoutCreateInfo.PushConstantRangeCount = 1
		pipelineLayoutCreateInfo.PPushConstantRanges = []vk.PushConstantRange{{
			StageFlags: p.pushStages,
			Offset:     lo,
			Size:       hi - lo,
		}}
	}

	return d.locks.SafeCall(PipelineManagement, func() error {
		var layout vk.PipelineLayout
		if err := check("vkCreatePipelineLayout", vk.CreatePipelineLayout(d.LogicalDevice, &pipelineLayoutCreateInfo, d.Allocator, &layout)); err != nil {
			return err
		}
		p.PipelineLayout = layout
		return nil
	})
}

func (p *Pipeline) Desc() *gpu.PipelineDesc { return p.desc }
func (p *Pipeline) Subpass() uint32         { return p.desc.Subpass }

// bindings returns the reflected bindings of one set.
func (p *Pipeline) bindings(set uint32) []metadata.ResourceBinding {
	var out []metadata.ResourceBinding
	for _, s := range p.desc.DescriptorSets {
		if s.Set == set {
			out = append(out, s.Bindings...)
		}
	}
	return out
}

func (p *Pipeline) Destroy() {
	d := p.dev
	_ = d.locks.SafeCall(PipelineManagement, func() error {
		if p.Handle != vk.NullPipeline {
			vk.DestroyPipeline(d.LogicalDevice, p.Handle, d.Allocator)
			p.Handle = vk.NullPipeline
		}
		if p.PipelineLayout != vk.NullPipelineLayout {
			vk.DestroyPipelineLayout(d.LogicalDevice, p.PipelineLayout, d.Allocator)
			p.PipelineLayout = vk.NullPipelineLayout
		}
		return nil
	})
	if p.DescriptorPool != nil {
		_ = d.locks.SafeCall(DescriptorManagement, func() error {
			vk.DestroyDescriptorPool(d.LogicalDevice, p.DescriptorPool, d.Allocator)
			return nil
		})
		p.DescriptorPool = nil
	}
	for i, layout := range p.SetLayouts {
		if layout != nil {
			vk.DestroyDescriptorSetLayout(d.LogicalDevice, layout, d.Allocator)
			p.SetLayouts[i] = nil
		}
	}
}
