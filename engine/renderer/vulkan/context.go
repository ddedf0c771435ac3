package vulkan

import (
	"fmt"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/ember/engine/core"
	"github.com/spaghettifunk/ember/engine/renderer/gpu"
)

// Window is the part of the platform layer the backend needs.
type Window interface {
	RequiredExtensions() []string
	// CreateSurface returns the VkSurfaceKHR handle for instance.
	CreateSurface(instance interface{}) (uintptr, error)
	FramebufferSize() (uint32, uint32)
}

type Options struct {
	ApplicationName string
	// Validation enables VK_LAYER_KHRONOS_validation and the debug report
	// callback.
	Validation bool
}

// Device owns the instance, surface, logical device and queues. It
// implements gpu.Device.
type Device struct {
	noCopy core.NoCopy

	opts   Options
	window Window

	Instance  vk.Instance
	Allocator *vk.AllocationCallbacks
	Surface   vk.Surface

	debugMessenger vk.DebugReportCallback

	PhysicalDevice     vk.PhysicalDevice
	LogicalDevice      vk.Device
	SwapchainSupport   VulkanSwapchainSupportInfo
	GraphicsQueueIndex int32
	PresentQueueIndex  int32
	TransferQueueIndex int32

	GraphicsQueue vk.Queue
	PresentQueue  vk.Queue
	TransferQueue vk.Queue

	GraphicsCommandPool vk.CommandPool

	Properties vk.PhysicalDeviceProperties
	Features   vk.PhysicalDeviceFeatures
	Memory     vk.PhysicalDeviceMemoryProperties

	DepthFormat vk.Format

	locks     *VulkanLockPool
	swapchain *Swapchain
	name      string
}

var _ gpu.Device = (*Device)(nil)

func (d *Device) Name() string { return d.name }

// FindMemoryIndex returns the first memory type allowed by typeFilter that
// carries every bit of propertyFlags.
func (d *Device) FindMemoryIndex(typeFilter, propertyFlags uint32) (uint32, error) {
	for i := uint32(0); i < d.Memory.MemoryTypeCount; i++ {
		d.Memory.MemoryTypes[i].Deref()
		if (typeFilter&(1<<i)) != 0 && (uint32(d.Memory.MemoryTypes[i].PropertyFlags)&propertyFlags) == propertyFlags {
			return i, nil
		}
	}
	return 0, fmt.Errorf("no memory type in %#b with properties %#x: %w", typeFilter, propertyFlags, core.ErrOutOfMemory)
}

// queue maps a gpu queue to a Vulkan one. Command buffers come from the
// graphics pool, so transfer work only goes to the transfer queue when it
// shares the graphics family.
func (d *Device) queue(q gpu.Queue) (vk.Queue, uint32) {
	if q == gpu.QueueTransfer && d.TransferQueueIndex == d.GraphicsQueueIndex {
		return d.TransferQueue, uint32(d.TransferQueueIndex)
	}
	return d.GraphicsQueue, uint32(d.GraphicsQueueIndex)
}

func (d *Device) Swapchain() gpu.Swapchain {
	if d.swapchain == nil {
		return nil
	}
	return d.swapchain
}

func (d *Device) WaitIdle() error {
	return check("vkDeviceWaitIdle", vk.DeviceWaitIdle(d.LogicalDevice))
}
