package vulkan

import (
	"fmt"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/ember/engine/core"
	"github.com/spaghettifunk/ember/engine/renderer/gpu"
	"github.com/spaghettifunk/ember/engine/renderer/metadata"
)

type Framebuffer struct {
	dev         *Device
	Handle      vk.Framebuffer
	renderpass  *RenderPass
	extent      metadata.Extent2D
	attachments []*Image
}

func (d *Device) CreateFramebuffer(rp gpu.RenderPass, attachments []gpu.Image, extent metadata.Extent2D) (gpu.Framebuffer, error) {
	renderpass, ok := rp.(*RenderPass)
	if !ok || renderpass.Handle == vk.NullRenderPass {
		return nil, core.NewConfigError("vulkan.CreateFramebuffer", core.ErrInvalidHandle, "renderpass")
	}
	if n := len(renderpass.desc.Attachments); n != len(attachments) {
		return nil, core.NewConfigError("vulkan.CreateFramebuffer", core.ErrInvalidHandle, "renderpass has %d attachments, got %d", n, len(attachments))
	}

	fb := &Framebuffer{
		dev:         d,
		renderpass:  renderpass,
		extent:      extent,
		attachments: make([]*Image, len(attachments)),
	}
	views := make([]vk.ImageView, len(attachments))
	for i, a := range attachments {
		img, ok := a.(*Image)
		if !ok || img.View == vk.NullImageView {
			return nil, core.NewConfigError("vulkan.CreateFramebuffer", core.ErrInvalidHandle, "attachment %d", i)
		}
		fb.attachments[i] = img
		views[i] = img.View
	}

	framebufferCreateInfo := vk.FramebufferCreateInfo{
		SType:           vk.StructureTypeFramebufferCreateInfo,
		RenderPass:      renderpass.Handle,
		AttachmentCount: uint32(len(views)),
		PAttachments:    views,
		Width:           extent.Width,
		Height:          extent.Height,
		Layers:          1,
	}
	err := d.locks.SafeCall(ResourceManagement, func() error {
		var handle vk.Framebuffer
		if err := check("vkCreateFramebuffer", vk.CreateFramebuffer(d.LogicalDevice, &framebufferCreateInfo, d.Allocator, &handle)); err != nil {
			return err
		}
		fb.Handle = handle
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("vulkan: create framebuffer: %w", err)
	}
	return fb, nil
}

func (f *Framebuffer) Extent() metadata.Extent2D { return f.extent }

func (f *Framebuffer) Attachments() []gpu.Image {
	out := make([]gpu.Image, len(f.attachments))
	for i, img := range f.attachments {
		out[i] = img
	}
	return out
}

func (f *Framebuffer) Destroy() {
	if f.Handle == vk.NullFramebuffer {
		return
	}
	_ = f.dev.locks.SafeCall(ResourceManagement, func() error {
		vk.DestroyFramebuffer(f.dev.LogicalDevice, f.Handle, f.dev.Allocator)
		return nil
	})
	f.Handle = vk.NullFramebuffer
	f.attachments = nil
	f.renderpass = nil
}
