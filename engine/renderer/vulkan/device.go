package vulkan

import (
	"fmt"
	"runtime"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/ember/engine/core"
)

type VulkanPhysicalDeviceRequirements struct {
	Graphics             bool
	Present              bool
	Transfer             bool
	DeviceExtensionNames []string
	DiscreteGPU          bool
}

type VulkanPhysicalDeviceQueueFamilyInfo struct {
	GraphicsFamilyIndex int32
	PresentFamilyIndex  int32
	TransferFamilyIndex int32
}

const portabilitySubset = "VK_KHR_portability_subset"

func (d *Device) createDevice() error {
	if err := d.selectPhysicalDevice(); err != nil {
		return err
	}

	core.LogInfo("Creating logical device...")

	// NOTE: Do not create additional queues for shared indices.
	indices := []uint32{uint32(d.GraphicsQueueIndex)}
	if d.PresentQueueIndex != d.GraphicsQueueIndex {
		indices = append(indices, uint32(d.PresentQueueIndex))
	}
	if d.TransferQueueIndex != d.GraphicsQueueIndex && d.TransferQueueIndex != d.PresentQueueIndex {
		indices = append(indices, uint32(d.TransferQueueIndex))
	}

	queueCreateInfos := make([]vk.DeviceQueueCreateInfo, len(indices))
	for i, index := range indices {
		queueCreateInfos[i] = vk.DeviceQueueCreateInfo{
			SType:            vk.StructureTypeDeviceQueueCreateInfo,
			QueueFamilyIndex: index,
			QueueCount:       1,
			PQueuePriorities: []float32{1.0},
		}
		d.locks.SetQueueFamily(index)
	}

	extensionNames := []string{vk.KhrSwapchainExtensionName}
	available, err := deviceExtensions(d.PhysicalDevice)
	if err != nil {
		return err
	}
	if available[portabilitySubset] {
		core.LogInfo("Adding required extension '%s'.", portabilitySubset)
		extensionNames = append(extensionNames, portabilitySubset)
	}

	deviceCreateInfo := vk.DeviceCreateInfo{
		SType:                   vk.StructureTypeDeviceCreateInfo,
		QueueCreateInfoCount:    uint32(len(queueCreateInfos)),
		PQueueCreateInfos:       queueCreateInfos,
		PEnabledFeatures:        []vk.PhysicalDeviceFeatures{{}},
		EnabledExtensionCount:   uint32(len(extensionNames)),
		PpEnabledExtensionNames: VulkanSafeStrings(extensionNames),
	}

	var logical vk.Device
	if err := check("vkCreateDevice", vk.CreateDevice(d.PhysicalDevice, &deviceCreateInfo, d.Allocator, &logical)); err != nil {
		return err
	}
	d.LogicalDevice = logical
	core.LogInfo("Logical device created.")

	var queue vk.Queue
	vk.GetDeviceQueue(d.LogicalDevice, uint32(d.GraphicsQueueIndex), 0, &queue)
	d.GraphicsQueue = queue
	vk.GetDeviceQueue(d.LogicalDevice, uint32(d.PresentQueueIndex), 0, &queue)
	d.PresentQueue = queue
	vk.GetDeviceQueue(d.LogicalDevice, uint32(d.TransferQueueIndex), 0, &queue)
	d.TransferQueue = queue
	core.LogInfo("Queues obtained.")

	poolCreateInfo := vk.CommandPoolCreateInfo{
		SType:            vk.StructureTypeCommandPoolCreateInfo,
		QueueFamilyIndex: uint32(d.GraphicsQueueIndex),
		Flags:            vk.CommandPoolCreateFlags(vk.CommandPoolCreateResetCommandBufferBit),
	}
	var pool vk.CommandPool
	if err := check("vkCreateCommandPool", vk.CreateCommandPool(d.LogicalDevice, &poolCreateInfo, d.Allocator, &pool)); err != nil {
		return err
	}
	d.GraphicsCommandPool = pool
	core.LogInfo("Graphics command pool created.")

	if !d.detectDepthFormat() {
		d.DepthFormat = vk.FormatUndefined
		core.LogWarn("No supported depth format found.")
	}
	return nil
}

func (d *Device) destroyDevice() {
	d.GraphicsQueue = nil
	d.PresentQueue = nil
	d.TransferQueue = nil

	if d.GraphicsCommandPool != vk.NullCommandPool {
		core.LogInfo("Destroying command pools...")
		vk.DestroyCommandPool(d.LogicalDevice, d.GraphicsCommandPool, d.Allocator)
		d.GraphicsCommandPool = vk.NullCommandPool
	}

	if d.LogicalDevice != nil {
		core.LogInfo("Destroying logical device...")
		vk.DestroyDevice(d.LogicalDevice, d.Allocator)
		d.LogicalDevice = nil
	}

	// Physical devices are not destroyed.
	d.PhysicalDevice = nil
	d.SwapchainSupport = VulkanSwapchainSupportInfo{}
	d.GraphicsQueueIndex = -1
	d.PresentQueueIndex = -1
	d.TransferQueueIndex = -1
}

func deviceExtensions(device vk.PhysicalDevice) (map[string]bool, error) {
	var count uint32
	if err := check("vkEnumerateDeviceExtensionProperties", vk.EnumerateDeviceExtensionProperties(device, "", &count, nil)); err != nil {
		return nil, err
	}
	props := make([]vk.ExtensionProperties, count)
	if count > 0 {
		if err := check("vkEnumerateDeviceExtensionProperties", vk.EnumerateDeviceExtensionProperties(device, "", &count, props)); err != nil {
			return nil, err
		}
	}
	out := make(map[string]bool, count)
	for i := range props {
		props[i].Deref()
		out[cString(props[i].ExtensionName[:])] = true
	}
	return out, nil
}

// DeviceQuerySwapchainSupport reads capabilities, formats and present modes
// of surface on physicalDevice.
func DeviceQuerySwapchainSupport(physicalDevice vk.PhysicalDevice, surface vk.Surface, supportInfo *VulkanSwapchainSupportInfo) error {
	if err := check("vkGetPhysicalDeviceSurfaceCapabilities", vk.GetPhysicalDeviceSurfaceCapabilities(physicalDevice, surface, &supportInfo.Capabilities)); err != nil {
		return err
	}
	supportInfo.Capabilities.Deref()
	supportInfo.Capabilities.CurrentExtent.Deref()
	supportInfo.Capabilities.MinImageExtent.Deref()
	supportInfo.Capabilities.MaxImageExtent.Deref()

	var formatCount uint32
	if err := check("vkGetPhysicalDeviceSurfaceFormats", vk.GetPhysicalDeviceSurfaceFormats(physicalDevice, surface, &formatCount, nil)); err != nil {
		return err
	}
	supportInfo.Formats = make([]vk.SurfaceFormat, formatCount)
	if formatCount != 0 {
		if err := check("vkGetPhysicalDeviceSurfaceFormats", vk.GetPhysicalDeviceSurfaceFormats(physicalDevice, surface, &formatCount, supportInfo.Formats)); err != nil {
			return err
		}
		for i := range supportInfo.Formats {
			supportInfo.Formats[i].Deref()
		}
	}

	var modeCount uint32
	if err := check("vkGetPhysicalDeviceSurfacePresentModes", vk.GetPhysicalDeviceSurfacePresentModes(physicalDevice, surface, &modeCount, nil)); err != nil {
		return err
	}
	supportInfo.PresentModes = make([]vk.PresentMode, modeCount)
	if modeCount != 0 {
		if err := check("vkGetPhysicalDeviceSurfacePresentModes", vk.GetPhysicalDeviceSurfacePresentModes(physicalDevice, surface, &modeCount, supportInfo.PresentModes)); err != nil {
			return err
		}
	}
	return nil
}

func (d *Device) detectDepthFormat() bool {
	candidates := []vk.Format{
		vk.FormatD32Sfloat,
		vk.FormatD32SfloatS8Uint,
		vk.FormatD24UnormS8Uint,
	}
	flags := vk.FormatFeatureFlags(vk.FormatFeatureDepthStencilAttachmentBit)
	for _, candidate := range candidates {
		var properties vk.FormatProperties
		vk.GetPhysicalDeviceFormatProperties(d.PhysicalDevice, candidate, &properties)
		properties.Deref()
		if properties.LinearTilingFeatures&flags == flags || properties.OptimalTilingFeatures&flags == flags {
			d.DepthFormat = candidate
			return true
		}
	}
	return false
}

func (d *Device) selectPhysicalDevice() error {
	var physicalDeviceCount uint32
	if err := check("vkEnumeratePhysicalDevices", vk.EnumeratePhysicalDevices(d.Instance, &physicalDeviceCount, nil)); err != nil {
		return err
	}
	if physicalDeviceCount == 0 {
		return fmt.Errorf("vulkan: no devices which support Vulkan were found")
	}
	physicalDevices := make([]vk.PhysicalDevice, physicalDeviceCount)
	if err := check("vkEnumeratePhysicalDevices", vk.EnumeratePhysicalDevices(d.Instance, &physicalDeviceCount, physicalDevices)); err != nil {
		return err
	}

	requirements := VulkanPhysicalDeviceRequirements{
		Graphics:             true,
		Present:              true,
		Transfer:             true,
		DiscreteGPU:          true,
		DeviceExtensionNames: []string{vk.KhrSwapchainExtensionName},
	}
	if runtime.GOOS == "darwin" {
		requirements.DiscreteGPU = false
	}

	// A second round accepts integrated GPUs when no discrete one qualifies.
	for round := 0; round < 2; round++ {
		for _, candidate := range physicalDevices {
			var properties vk.PhysicalDeviceProperties
			vk.GetPhysicalDeviceProperties(candidate, &properties)
			properties.Deref()

			var features vk.PhysicalDeviceFeatures
			vk.GetPhysicalDeviceFeatures(candidate, &features)
			features.Deref()

			var memory vk.PhysicalDeviceMemoryProperties
			vk.GetPhysicalDeviceMemoryProperties(candidate, &memory)
			memory.Deref()

			var support VulkanSwapchainSupportInfo
			queueInfo, ok := d.physicalDeviceMeetsRequirements(candidate, &properties, &requirements, &support)
			if !ok {
				continue
			}

			d.PhysicalDevice = candidate
			d.GraphicsQueueIndex = queueInfo.GraphicsFamilyIndex
			d.PresentQueueIndex = queueInfo.PresentFamilyIndex
			d.TransferQueueIndex = queueInfo.TransferFamilyIndex
			d.Properties = properties
			d.Features = features
			d.Memory = memory
			d.SwapchainSupport = support
			d.name = cString(properties.DeviceName[:])
			logDevice(&properties, &memory)
			return nil
		}
		requirements.DiscreteGPU = false
	}
	return fmt.Errorf("vulkan: no physical devices were found which meet the requirements")
}

func logDevice(properties *vk.PhysicalDeviceProperties, memory *vk.PhysicalDeviceMemoryProperties) {
	gpuType := "unknown"
	switch properties.DeviceType {
	case vk.PhysicalDeviceTypeIntegratedGpu:
		gpuType = "integrated"
	case vk.PhysicalDeviceTypeDiscreteGpu:
		gpuType = "discrete"
	case vk.PhysicalDeviceTypeVirtualGpu:
		gpuType = "virtual"
	case vk.PhysicalDeviceTypeCpu:
		gpuType = "cpu"
	}
	driver := vk.Version(properties.DriverVersion)
	api := vk.Version(properties.ApiVersion)
	core.Logger().Info("Selected device",
		"name", cString(properties.DeviceName[:]),
		"type", gpuType,
		"driver", fmt.Sprintf("%d.%d.%d", driver.Major(), driver.Minor(), driver.Patch()),
		"api", fmt.Sprintf("%d.%d.%d", api.Major(), api.Minor(), api.Patch()),
	)

	for j := uint32(0); j < memory.MemoryHeapCount; j++ {
		memory.MemoryHeaps[j].Deref()
		gib := float64(memory.MemoryHeaps[j].Size) / 1024.0 / 1024.0 / 1024.0
		if vk.MemoryHeapFlagBits(memory.MemoryHeaps[j].Flags)&vk.MemoryHeapDeviceLocalBit != 0 {
			core.LogInfo("Local GPU memory: %.2f GiB", gib)
		} else {
			core.LogInfo("Shared System memory: %.2f GiB", gib)
		}
	}
}

func (d *Device) physicalDeviceMeetsRequirements(device vk.PhysicalDevice, properties *vk.PhysicalDeviceProperties, requirements *VulkanPhysicalDeviceRequirements, outSwapchainSupport *VulkanSwapchainSupportInfo) (VulkanPhysicalDeviceQueueFamilyInfo, bool) {
	info := VulkanPhysicalDeviceQueueFamilyInfo{-1, -1, -1}
	name := cString(properties.DeviceName[:])

	if requirements.DiscreteGPU && properties.DeviceType != vk.PhysicalDeviceTypeDiscreteGpu {
		core.LogDebug("Device %q is not a discrete GPU, and one is required. Skipping.", name)
		return info, false
	}

	var queueFamilyCount uint32
	vk.GetPhysicalDeviceQueueFamilyProperties(device, &queueFamilyCount, nil)
	queueFamilies := make([]vk.QueueFamilyProperties, queueFamilyCount)
	vk.GetPhysicalDeviceQueueFamilyProperties(device, &queueFamilyCount, queueFamilies)

	minTransferScore := 255
	for i := range queueFamilies {
		queueFamilies[i].Deref()
		flags := vk.QueueFlagBits(queueFamilies[i].QueueFlags)
		currentTransferScore := 0

		if flags&vk.QueueGraphicsBit != 0 {
			if info.GraphicsFamilyIndex < 0 {
				info.GraphicsFamilyIndex = int32(i)
			}
			currentTransferScore++
		}
		if flags&vk.QueueComputeBit != 0 {
			currentTransferScore++
		}
		// Prefer the family with the fewest other capabilities, which is
		// most likely a dedicated transfer queue.
		if flags&vk.QueueTransferBit != 0 && currentTransferScore <= minTransferScore {
			minTransferScore = currentTransferScore
			info.TransferFamilyIndex = int32(i)
		}

		var supportsPresent vk.Bool32
		if res := vk.GetPhysicalDeviceSurfaceSupport(device, uint32(i), d.Surface, &supportsPresent); res != vk.Success {
			return info, false
		}
		if supportsPresent == vk.True && (info.PresentFamilyIndex < 0 || int32(i) == info.GraphicsFamilyIndex) {
			info.PresentFamilyIndex = int32(i)
		}
	}
	// Graphics queues always support transfers.
	if info.TransferFamilyIndex < 0 {
		info.TransferFamilyIndex = info.GraphicsFamilyIndex
	}

	core.Logger().Debug("Queue families",
		"device", name,
		"graphics", info.GraphicsFamilyIndex,
		"present", info.PresentFamilyIndex,
		"transfer", info.TransferFamilyIndex)

	if (requirements.Graphics && info.GraphicsFamilyIndex < 0) ||
		(requirements.Present && info.PresentFamilyIndex < 0) ||
		(requirements.Transfer && info.TransferFamilyIndex < 0) {
		return info, false
	}

	if err := DeviceQuerySwapchainSupport(device, d.Surface, outSwapchainSupport); err != nil {
		core.LogWarn("Querying swapchain support of %q failed: %s", name, err)
		return info, false
	}
	if len(outSwapchainSupport.Formats) == 0 || len(outSwapchainSupport.PresentModes) == 0 {
		core.LogInfo("Required swapchain support not present, skipping device.")
		return info, false
	}

	available, err := deviceExtensions(device)
	if err != nil {
		return info, false
	}
	for _, ext := range requirements.DeviceExtensionNames {
		if !available[ext] {
			core.LogInfo("Required extension not found: '%s', skipping device.", ext)
			return info, false
		}
	}
	return info, true
}
