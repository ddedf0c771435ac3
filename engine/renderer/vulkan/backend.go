// Package vulkan implements the gpu capability interface on top of
// goki/vulkan. Device creation follows the usual instance, surface,
// physical device, logical device, swapchain order and Destroy unwinds it.
package vulkan

import (
	"fmt"
	"runtime"
	"unsafe"

	"github.com/go-gl/glfw/v3.3/glfw"
	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/ember/engine/core"
)

const validationLayer = "VK_LAYER_KHRONOS_validation"

// New brings up a device presenting to win. It must run on the thread that
// owns the window.
func New(opts Options, win Window) (*Device, error) {
	procAddr := glfw.GetVulkanGetInstanceProcAddress()
	if procAddr == nil {
		return nil, fmt.Errorf("vulkan: GetInstanceProcAddress is nil")
	}
	vk.SetGetInstanceProcAddr(procAddr)

	if err := vk.Init(); err != nil {
		return nil, fmt.Errorf("vulkan: init loader: %w", err)
	}

	d := &Device{
		opts:               opts,
		window:             win,
		locks:              NewVulkanLockPool(),
		GraphicsQueueIndex: -1,
		PresentQueueIndex:  -1,
		TransferQueueIndex: -1,
	}
	d.noCopy.Init()

	if err := d.createInstance(); err != nil {
		return nil, err
	}

	if opts.Validation {
		if err := d.createDebugMessenger(); err != nil {
			d.Destroy()
			return nil, err
		}
	}

	core.LogDebug("Creating Vulkan surface...")
	surface, err := win.CreateSurface(d.Instance)
	if err != nil {
		d.Destroy()
		return nil, fmt.Errorf("vulkan: create surface: %w", err)
	}
	d.Surface = vk.SurfaceFromPointer(surface)
	core.LogDebug("Vulkan surface created.")

	if err := d.createDevice(); err != nil {
		d.Destroy()
		return nil, err
	}

	width, height := win.FramebufferSize()
	sc, err := newSwapchain(d, width, height, nil)
	if err != nil {
		d.Destroy()
		return nil, err
	}
	d.swapchain = sc

	core.Logger().Info("Vulkan device initialized", "device", d.name, "swapchain_images", len(sc.images))
	return d, nil
}

func (d *Device) createInstance() error {
	appInfo := &vk.ApplicationInfo{
		SType:              vk.StructureTypeApplicationInfo,
		ApiVersion:         uint32(vk.MakeVersion(1, 0, 0)),
		ApplicationVersion: uint32(vk.MakeVersion(1, 0, 0)),
		PApplicationName:   VulkanSafeString(d.opts.ApplicationName),
		PEngineName:        VulkanSafeString("Ember Engine"),
	}

	createInfo := vk.InstanceCreateInfo{
		SType:            vk.StructureTypeInstanceCreateInfo,
		PApplicationInfo: appInfo,
	}

	requiredExtensions := []string{"VK_KHR_surface"}
	requiredExtensions = append(requiredExtensions, d.window.RequiredExtensions()...)

	if runtime.GOOS == "darwin" {
		requiredExtensions = append(requiredExtensions,
			"VK_KHR_portability_enumeration",
			"VK_KHR_get_physical_device_properties2",
		)
		// VK_INSTANCE_CREATE_ENUMERATE_PORTABILITY_BIT_KHR
		createInfo.Flags |= 1
	}

	if d.opts.Validation {
		requiredExtensions = append(requiredExtensions, vk.ExtDebugReportExtensionName)
	}
	core.LogDebug("Required instance extensions: %v", requiredExtensions)

	createInfo.EnabledExtensionCount = uint32(len(requiredExtensions))
	createInfo.PpEnabledExtensionNames = VulkanSafeStrings(requiredExtensions)

	var layers []string
	if d.opts.Validation {
		core.LogInfo("Validation layers enabled. Enumerating...")
		found, err := hasInstanceLayer(validationLayer)
		if err != nil {
			return err
		}
		if !found {
			return fmt.Errorf("vulkan: required validation layer is missing: %s", validationLayer)
		}
		layers = []string{validationLayer}
	}
	createInfo.EnabledLayerCount = uint32(len(layers))
	createInfo.PpEnabledLayerNames = VulkanSafeStrings(layers)

	if err := check("vkCreateInstance", vk.CreateInstance(&createInfo, d.Allocator, &d.Instance)); err != nil {
		return err
	}
	if err := vk.InitInstance(d.Instance); err != nil {
		return fmt.Errorf("vulkan: init instance: %w", err)
	}
	core.LogInfo("Vulkan Instance created.")
	return nil
}

func hasInstanceLayer(name string) (bool, error) {
	var count uint32
	if err := check("vkEnumerateInstanceLayerProperties", vk.EnumerateInstanceLayerProperties(&count, nil)); err != nil {
		return false, err
	}
	available := make([]vk.LayerProperties, count)
	if err := check("vkEnumerateInstanceLayerProperties", vk.EnumerateInstanceLayerProperties(&count, available)); err != nil {
		return false, err
	}
	for i := range available {
		available[i].Deref()
		if cString(available[i].LayerName[:]) == name {
			return true, nil
		}
	}
	return false, nil
}

func (d *Device) createDebugMessenger() error {
	core.LogDebug("Creating Vulkan debugger...")
	debugCreateInfo := vk.DebugReportCallbackCreateInfo{
		SType:       vk.StructureTypeDebugReportCallbackCreateInfo,
		Flags:       vk.DebugReportFlags(vk.DebugReportErrorBit | vk.DebugReportWarningBit | vk.DebugReportPerformanceWarningBit),
		PfnCallback: dbgCallbackFunc,
	}
	var dbg vk.DebugReportCallback
	if err := check("vkCreateDebugReportCallback", vk.CreateDebugReportCallback(d.Instance, &debugCreateInfo, nil, &dbg)); err != nil {
		return err
	}
	d.debugMessenger = dbg
	core.LogDebug("Vulkan debugger created.")
	return nil
}

// Destroy releases everything in reverse creation order. Resources created
// from the device must be destroyed first.
func (d *Device) Destroy() {
	if !d.noCopy.Alive() {
		return
	}
	if d.LogicalDevice != nil {
		vk.DeviceWaitIdle(d.LogicalDevice)
	}

	if d.swapchain != nil {
		d.swapchain.destroy()
		d.swapchain = nil
	}

	d.destroyDevice()

	core.LogDebug("Destroying Vulkan surface...")
	if d.Surface != vk.NullSurface {
		vk.DestroySurface(d.Instance, d.Surface, d.Allocator)
		d.Surface = vk.NullSurface
	}

	if d.debugMessenger != vk.NullDebugReportCallback {
		core.LogDebug("Destroying Vulkan debugger...")
		vk.DestroyDebugReportCallback(d.Instance, d.debugMessenger, d.Allocator)
		d.debugMessenger = vk.NullDebugReportCallback
	}

	if d.Instance != nil {
		core.LogDebug("Destroying Vulkan instance...")
		vk.DestroyInstance(d.Instance, d.Allocator)
		d.Instance = nil
	}
	d.noCopy.Close()
}

func dbgCallbackFunc(flags vk.DebugReportFlags, objectType vk.DebugReportObjectType, object uint64, location uint64, messageCode int32, pLayerPrefix string, pMessage string, pUserData unsafe.Pointer) vk.Bool32 {
	l := core.Logger().With("layer", pLayerPrefix, "code", messageCode)
	switch {
	case flags&vk.DebugReportFlags(vk.DebugReportErrorBit) != 0:
		l.Error(pMessage)
	case flags&vk.DebugReportFlags(vk.DebugReportWarningBit) != 0:
		l.Warn(pMessage)
	case flags&vk.DebugReportFlags(vk.DebugReportPerformanceWarningBit) != 0:
		l.Warn("performance: " + pMessage)
	default:
		l.Debug(pMessage)
	}
	return vk.Bool32(vk.False)
}
