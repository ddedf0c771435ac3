package vulkan

import (
	"fmt"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/ember/engine/core"
	"github.com/spaghettifunk/ember/engine/renderer/gpu"
	"github.com/spaghettifunk/ember/engine/renderer/metadata"
)

// RenderPass is a VkRenderPass built from a compiled description.
type RenderPass struct {
	dev    *Device
	Handle vk.RenderPass
	desc   *metadata.RenderPassDescription
}

func attachmentRefs(refs []metadata.AttachmentReference) []vk.AttachmentReference {
	if len(refs) == 0 {
		return nil
	}
	out := make([]vk.AttachmentReference, len(refs))
	for i, r := range refs {
		out[i] = vk.AttachmentReference{
			Attachment: r.Index,
			Layout:     toVkLayout(r.Layout),
		}
	}
	return out
}

func (d *Device) CreateRenderPass(desc *metadata.RenderPassDescription) (gpu.RenderPass, error) {
	if desc == nil || len(desc.Subpasses) == 0 {
		return nil, core.NewConfigError("vulkan.CreateRenderPass", core.ErrNoPasses, "renderpass has no subpasses")
	}

	attachments := make([]vk.AttachmentDescription, len(desc.Attachments))
	for i, a := range desc.Attachments {
		format := toVkFormat(a.Format)
		if a.Presentable && d.swapchain != nil {
			format = d.swapchain.ImageFormat.Format
		}
		if format == vk.FormatUndefined {
			return nil, core.NewConfigError("vulkan.CreateRenderPass", core.ErrInvalidFormat, "attachment %d: %s", i, a.Format)
		}
		attachments[i] = vk.AttachmentDescription{
			Format:         format,
			Samples:        vk.SampleCount1Bit,
			LoadOp:         toVkLoadOp(a.LoadOp),
			StoreOp:        toVkStoreOp(a.StoreOp),
			StencilLoadOp:  toVkLoadOp(a.StencilLoadOp),
			StencilStoreOp: toVkStoreOp(a.StencilStoreOp),
			InitialLayout:  toVkLayout(a.InitialLayout),
			FinalLayout:    toVkLayout(a.FinalLayout),
		}
	}

	subpasses := make([]vk.SubpassDescription, len(desc.Subpasses))
	for i := range desc.Subpasses {
		sp := &desc.Subpasses[i]
		colors := attachmentRefs(sp.Colors)
		inputs := attachmentRefs(sp.Inputs)
		subpass := vk.SubpassDescription{
			PipelineBindPoint:       vk.PipelineBindPointGraphics,
			ColorAttachmentCount:    uint32(len(colors)),
			PColorAttachments:       colors,
			InputAttachmentCount:    uint32(len(inputs)),
			PInputAttachments:       inputs,
			PreserveAttachmentCount: uint32(len(sp.Preserve)),
			PPreserveAttachments:    sp.Preserve,
		}
		if sp.DepthStencil != nil {
			subpass.PDepthStencilAttachment = &vk.AttachmentReference{
				Attachment: sp.DepthStencil.Index,
				Layout:     toVkLayout(sp.DepthStencil.Layout),
			}
		}
		subpasses[i] = subpass
	}

	dependencies := make([]vk.SubpassDependency, len(desc.Dependencies))
	for i, dep := range desc.Dependencies {
		var flags vk.DependencyFlags
		if dep.ByRegion {
			flags = vk.DependencyFlags(vk.DependencyByRegionBit)
		}
		dependencies[i] = vk.SubpassDependency{
			SrcSubpass:      dep.Src,
			DstSubpass:      dep.Dst,
			SrcStageMask:    toVkStages(dep.SrcStages),
			DstStageMask:    toVkStages(dep.DstStages),
			SrcAccessMask:   toVkAccess(dep.SrcAccess),
			DstAccessMask:   toVkAccess(dep.DstAccess),
			DependencyFlags: flags,
		}
	}

	renderpassCreateInfo := vk.RenderPassCreateInfo{
		SType:           vk.StructureTypeRenderPassCreateInfo,
		AttachmentCount: uint32(len(attachments)),
		PAttachments:    attachments,
		SubpassCount:    uint32(len(subpasses)),
		PSubpasses:      subpasses,
		DependencyCount: uint32(len(dependencies)),
		PDependencies:   dependencies,
	}

	rp := &RenderPass{dev: d, desc: desc}
	err := d.locks.SafeCall(PipelineManagement, func() error {
		var handle vk.RenderPass
		if err := check("vkCreateRenderPass", vk.CreateRenderPass(d.LogicalDevice, &renderpassCreateInfo, d.Allocator, &handle)); err != nil {
			return err
		}
		rp.Handle = handle
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("vulkan: create renderpass: %w", err)
	}
	core.LogDebug("Renderpass created with %d attachments, %d subpasses, %d dependencies", len(attachments), len(subpasses), len(dependencies))
	return rp, nil
}

func (r *RenderPass) Description() *metadata.RenderPassDescription { return r.desc }

func (r *RenderPass) Destroy() {
	if r.Handle == vk.NullRenderPass {
		return
	}
	_ = r.dev.locks.SafeCall(PipelineManagement, func() error {
		vk.DestroyRenderPass(r.dev.LogicalDevice, r.Handle, r.dev.Allocator)
		return nil
	})
	r.Handle = vk.NullRenderPass
}
