package vulkan

import (
	"fmt"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/ember/engine/core"
	"github.com/spaghettifunk/ember/engine/renderer/gpu"
	"github.com/spaghettifunk/ember/engine/renderer/metadata"
)

// Image is a 2D image with one view. Swapchain images are presentable: the
// swapchain owns their handle and view, so Destroy leaves them alone.
type Image struct {
	dev    *Device
	Handle vk.Image
	Memory vk.DeviceMemory
	View   vk.ImageView

	desc        gpu.ImageDesc
	presentable bool

	// layout is the layout the last recorded renderpass left the image in.
	layout vk.ImageLayout
}

func (d *Device) CreateImage(desc gpu.ImageDesc) (gpu.Image, error) {
	format := toVkFormat(desc.Format)
	if format == vk.FormatUndefined {
		return nil, core.NewConfigError("vulkan.CreateImage", core.ErrInvalidFormat, "image %q: %s", desc.Name, desc.Format)
	}
	if desc.Extent.Width == 0 || desc.Extent.Height == 0 {
		return nil, core.NewConfigError("vulkan.CreateImage", core.ErrInvalidHandle, "image %q has zero extent", desc.Name)
	}

	img := &Image{dev: d, desc: desc, layout: vk.ImageLayoutUndefined}
	err := d.locks.SafeCall(ResourceManagement, func() error {
		imageCreateInfo := vk.ImageCreateInfo{
			SType:     vk.StructureTypeImageCreateInfo,
			ImageType: vk.ImageType2d,
			Extent: vk.Extent3D{
				Width:  desc.Extent.Width,
				Height: desc.Extent.Height,
				Depth:  1,
			},
			MipLevels:     1,
			ArrayLayers:   1,
			Format:        format,
			Tiling:        vk.ImageTilingOptimal,
			InitialLayout: vk.ImageLayoutUndefined,
			Usage:         toVkImageUsage(desc.Usage),
			Samples:       vk.SampleCount1Bit,
			SharingMode:   vk.SharingModeExclusive,
		}
		var handle vk.Image
		if err := check("vkCreateImage", vk.CreateImage(d.LogicalDevice, &imageCreateInfo, d.Allocator, &handle)); err != nil {
			return err
		}
		img.Handle = handle
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("vulkan: create image %q: %w", desc.Name, err)
	}

	var memoryRequirements vk.MemoryRequirements
	vk.GetImageMemoryRequirements(d.LogicalDevice, img.Handle, &memoryRequirements)
	memoryRequirements.Deref()

	index, err := d.FindMemoryIndex(memoryRequirements.MemoryTypeBits, uint32(vk.MemoryPropertyDeviceLocalBit))
	if err != nil {
		img.Destroy()
		return nil, fmt.Errorf("vulkan: image %q: %w", desc.Name, err)
	}
	var memory vk.DeviceMemory
	res := vk.AllocateMemory(d.LogicalDevice, &vk.MemoryAllocateInfo{
		SType:           vk.StructureTypeMemoryAllocateInfo,
		AllocationSize:  memoryRequirements.Size,
		MemoryTypeIndex: index,
	}, d.Allocator, &memory)
	if err := check("vkAllocateMemory", res); err != nil {
		img.Destroy()
		return nil, fmt.Errorf("vulkan: image %q: %w", desc.Name, err)
	}
	img.Memory = memory

	// TODO: configurable memory offset when images move into the arenas.
	if err := check("vkBindImageMemory", vk.BindImageMemory(d.LogicalDevice, img.Handle, img.Memory, 0)); err != nil {
		img.Destroy()
		return nil, err
	}

	view, err := d.createView(img.Handle, format, aspectFor(desc.Format))
	if err != nil {
		img.Destroy()
		return nil, err
	}
	img.View = view
	return img, nil
}

func (d *Device) createView(image vk.Image, format vk.Format, aspect vk.ImageAspectFlags) (vk.ImageView, error) {
	viewCreateInfo := vk.ImageViewCreateInfo{
		SType:    vk.StructureTypeImageViewCreateInfo,
		Image:    image,
		ViewType: vk.ImageViewType2d,
		Format:   format,
		SubresourceRange: vk.ImageSubresourceRange{
			AspectMask:     aspect,
			BaseMipLevel:   0,
			LevelCount:     1,
			BaseArrayLayer: 0,
			LayerCount:     1,
		},
	}
	var view vk.ImageView
	if err := check("vkCreateImageView", vk.CreateImageView(d.LogicalDevice, &viewCreateInfo, d.Allocator, &view)); err != nil {
		return vk.NullImageView, err
	}
	return view, nil
}

func (i *Image) Format() metadata.Format    { return i.desc.Format }
func (i *Image) Extent() metadata.Extent2D  { return i.desc.Extent }
func (i *Image) Usage() metadata.ImageUsage { return i.desc.Usage }

func (i *Image) Destroy() {
	if i.presentable {
		return
	}
	_ = i.dev.locks.SafeCall(ResourceManagement, func() error {
		if i.View != vk.NullImageView {
			vk.DestroyImageView(i.dev.LogicalDevice, i.View, i.dev.Allocator)
			i.View = vk.NullImageView
		}
		if i.Handle != vk.NullImage {
			vk.DestroyImage(i.dev.LogicalDevice, i.Handle, i.dev.Allocator)
			i.Handle = vk.NullImage
		}
		return nil
	})
	if i.Memory != vk.NullDeviceMemory {
		vk.FreeMemory(i.dev.LogicalDevice, i.Memory, i.dev.Allocator)
		i.Memory = vk.NullDeviceMemory
	}
}
