package vulkan

import (
	"fmt"
	"math"
	"time"

	vk "github.com/goki/vulkan"
	emath "github.com/spaghettifunk/ember/engine/math"

	"github.com/spaghettifunk/ember/engine/core"
	"github.com/spaghettifunk/ember/engine/renderer/gpu"
	"github.com/spaghettifunk/ember/engine/renderer/metadata"
)

type VulkanSwapchainSupportInfo struct {
	Capabilities vk.SurfaceCapabilities
	Formats      []vk.SurfaceFormat
	PresentModes []vk.PresentMode
}

// Swapchain implements gpu.Swapchain. Out-of-date and suboptimal results
// at present surface as core.ErrSwapchainOutOfDate; the caller recreates.
type Swapchain struct {
	dev         *Device
	Handle      vk.Swapchain
	ImageFormat vk.SurfaceFormat
	extent      metadata.Extent2D
	images      []*Image
}

var _ gpu.Swapchain = (*Swapchain)(nil)

func newSwapchain(d *Device, width, height uint32, old *Swapchain) (*Swapchain, error) {
	if err := DeviceQuerySwapchainSupport(d.PhysicalDevice, d.Surface, &d.SwapchainSupport); err != nil {
		return nil, err
	}
	support := &d.SwapchainSupport
	if len(support.Formats) == 0 {
		return nil, fmt.Errorf("vulkan: surface reports no formats")
	}

	swapchain := &Swapchain{dev: d}

	// Prefer BGRA8 unorm in sRGB nonlinear space.
	swapchain.ImageFormat = support.Formats[0]
	for _, format := range support.Formats {
		if format.Format == vk.FormatB8g8r8a8Unorm && format.ColorSpace == vk.ColorSpaceSrgbNonlinear {
			swapchain.ImageFormat = format
			break
		}
	}
	if fromVkFormat(swapchain.ImageFormat.Format) == metadata.FormatUndefined {
		return nil, core.NewConfigError("vulkan.Swapchain", core.ErrInvalidFormat, "surface format %d is not supported", swapchain.ImageFormat.Format)
	}

	presentMode := vk.PresentModeFifo
	for _, mode := range support.PresentModes {
		if mode == vk.PresentModeMailbox {
			presentMode = mode
			break
		}
	}

	caps := support.Capabilities
	swapchainExtent := vk.Extent2D{Width: width, Height: height}
	if caps.CurrentExtent.Width != math.MaxUint32 {
		swapchainExtent = caps.CurrentExtent
	}
	swapchainExtent.Width = emath.Clamp(swapchainExtent.Width, caps.MinImageExtent.Width, caps.MaxImageExtent.Width)
	swapchainExtent.Height = emath.Clamp(swapchainExtent.Height, caps.MinImageExtent.Height, caps.MaxImageExtent.Height)
	if swapchainExtent.Width == 0 || swapchainExtent.Height == 0 {
		return nil, fmt.Errorf("vulkan: surface has zero extent: %w", core.ErrSwapchainOutOfDate)
	}

	imageCount := caps.MinImageCount + 1
	if caps.MaxImageCount > 0 && imageCount > caps.MaxImageCount {
		imageCount = caps.MaxImageCount
	}

	swapchainCreateInfo := vk.SwapchainCreateInfo{
		SType:            vk.StructureTypeSwapchainCreateInfo,
		Surface:          d.Surface,
		MinImageCount:    imageCount,
		ImageFormat:      swapchain.ImageFormat.Format,
		ImageColorSpace:  swapchain.ImageFormat.ColorSpace,
		ImageExtent:      swapchainExtent,
		ImageArrayLayers: 1,
		// Transfer source so screenshots can copy out of the present image.
		ImageUsage:     vk.ImageUsageFlags(vk.ImageUsageColorAttachmentBit | vk.ImageUsageTransferSrcBit),
		PreTransform:   caps.CurrentTransform,
		CompositeAlpha: vk.CompositeAlphaOpaqueBit,
		PresentMode:    presentMode,
		Clipped:        vk.True,
	}
	if old != nil {
		swapchainCreateInfo.OldSwapchain = old.Handle
	}

	if d.GraphicsQueueIndex != d.PresentQueueIndex {
		swapchainCreateInfo.ImageSharingMode = vk.SharingModeConcurrent
		swapchainCreateInfo.QueueFamilyIndexCount = 2
		swapchainCreateInfo.PQueueFamilyIndices = []uint32{
			uint32(d.GraphicsQueueIndex),
			uint32(d.PresentQueueIndex),
		}
	} else {
		swapchainCreateInfo.ImageSharingMode = vk.SharingModeExclusive
	}

	err := d.locks.SafeCall(SwapchainManagement, func() error {
		var handle vk.Swapchain
		if err := check("vkCreateSwapchain", vk.CreateSwapchain(d.LogicalDevice, &swapchainCreateInfo, d.Allocator, &handle)); err != nil {
			return err
		}
		swapchain.Handle = handle
		return nil
	})
	if err != nil {
		return nil, err
	}
	swapchain.extent = metadata.Extent2D{Width: swapchainExtent.Width, Height: swapchainExtent.Height}

	var count uint32
	if err := check("vkGetSwapchainImages", vk.GetSwapchainImages(d.LogicalDevice, swapchain.Handle, &count, nil)); err != nil {
		swapchain.destroy()
		return nil, err
	}
	handles := make([]vk.Image, count)
	if err := check("vkGetSwapchainImages", vk.GetSwapchainImages(d.LogicalDevice, swapchain.Handle, &count, handles)); err != nil {
		swapchain.destroy()
		return nil, err
	}

	format := fromVkFormat(swapchain.ImageFormat.Format)
	for i, handle := range handles {
		view, err := d.createView(handle, swapchain.ImageFormat.Format, vk.ImageAspectFlags(vk.ImageAspectColorBit))
		if err != nil {
			swapchain.destroy()
			return nil, err
		}
		swapchain.images = append(swapchain.images, &Image{
			dev:    d,
			Handle: handle,
			View:   view,
			desc: gpu.ImageDesc{
				Name:   fmt.Sprintf("swapchain[%d]", i),
				Format: format,
				Extent: swapchain.extent,
				Usage:  metadata.ImageUsageColorAttachment | metadata.ImageUsageTransferSrc,
			},
			presentable: true,
			layout:      vk.ImageLayoutUndefined,
		})
	}

	core.Logger().Info("Swapchain created", "width", swapchain.extent.Width, "height", swapchain.extent.Height, "images", count, "format", format)
	return swapchain, nil
}

func (s *Swapchain) Format() metadata.Format   { return fromVkFormat(s.ImageFormat.Format) }
func (s *Swapchain) Extent() metadata.Extent2D { return s.extent }

func (s *Swapchain) Images() []gpu.Image {
	out := make([]gpu.Image, len(s.images))
	for i, img := range s.images {
		out[i] = img
	}
	return out
}

func (s *Swapchain) Acquire(sem gpu.Semaphore, timeout time.Duration) (uint32, error) {
	vs, ok := sem.(*Semaphore)
	if !ok {
		return 0, core.NewConfigError("vulkan.Swapchain.Acquire", core.ErrInvalidHandle, "semaphore")
	}
	var index uint32
	result := vk.AcquireNextImage(s.dev.LogicalDevice, s.Handle, uint64(timeout.Nanoseconds()), vs.Handle, vk.NullFence, &index)
	switch result {
	case vk.Success, vk.Suboptimal:
		return index, nil
	case vk.Timeout, vk.NotReady:
		return 0, deviceError("vkAcquireNextImageKHR", vk.Timeout)
	}
	return 0, deviceError("vkAcquireNextImageKHR", result)
}

func (s *Swapchain) Present(index uint32, wait []gpu.Semaphore) error {
	sems, err := semaphores(wait)
	if err != nil {
		return err
	}
	presentInfo := vk.PresentInfo{
		SType:              vk.StructureTypePresentInfo,
		WaitSemaphoreCount: uint32(len(sems)),
		PWaitSemaphores:    sems,
		SwapchainCount:     1,
		PSwapchains:        []vk.Swapchain{s.Handle},
		PImageIndices:      []uint32{index},
	}
	var result vk.Result
	_ = s.dev.locks.SafeQueueCall(uint32(s.dev.PresentQueueIndex), func() error {
		result = vk.QueuePresent(s.dev.PresentQueue, &presentInfo)
		return nil
	})
	if result == vk.Suboptimal {
		result = vk.ErrorOutOfDate
	}
	return check("vkQueuePresentKHR", result)
}

// Recreate waits for the device to go idle and replaces the swapchain. The
// image list changes; frame graph targets must be resized afterwards.
func (s *Swapchain) Recreate(width, height uint32) error {
	if width == 0 || height == 0 {
		return fmt.Errorf("vulkan: recreate swapchain at %dx%d: %w", width, height, core.ErrSwapchainOutOfDate)
	}
	if err := s.dev.WaitIdle(); err != nil {
		return err
	}
	next, err := newSwapchain(s.dev, width, height, s)
	if err != nil {
		return err
	}
	s.destroy()
	*s = *next
	return nil
}

// destroy releases the views and the swapchain. The images are owned by the
// swapchain and go with it.
func (s *Swapchain) destroy() {
	for _, img := range s.images {
		if img.View != vk.NullImageView {
			vk.DestroyImageView(s.dev.LogicalDevice, img.View, s.dev.Allocator)
			img.View = vk.NullImageView
		}
	}
	s.images = nil
	if s.Handle != vk.NullSwapchain {
		_ = s.dev.locks.SafeCall(SwapchainManagement, func() error {
			vk.DestroySwapchain(s.dev.LogicalDevice, s.Handle, s.dev.Allocator)
			return nil
		})
		s.Handle = vk.NullSwapchain
	}
}
