package vulkan

import (
	"fmt"
	"unsafe"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/ember/engine/core"
)

type resultInfo struct {
	name string
	desc string
}

// From: https://www.khronos.org/registry/vulkan/specs/1.3-extensions/man/html/VkResult.html
var results = map[vk.Result]resultInfo{
	vk.Success:                          {"VK_SUCCESS", "Command successfully completed"},
	vk.NotReady:                         {"VK_NOT_READY", "A fence or query has not yet completed"},
	vk.Timeout:                          {"VK_TIMEOUT", "A wait operation has not completed in the specified time"},
	vk.EventSet:                         {"VK_EVENT_SET", "An event is signaled"},
	vk.EventReset:                       {"VK_EVENT_RESET", "An event is unsignaled"},
	vk.Incomplete:                       {"VK_INCOMPLETE", "A return array was too small for the result"},
	vk.Suboptimal:                       {"VK_SUBOPTIMAL_KHR", "A swapchain no longer matches the surface properties exactly, but can still be used to present"},
	vk.ErrorOutOfHostMemory:             {"VK_ERROR_OUT_OF_HOST_MEMORY", "A host memory allocation has failed"},
	vk.ErrorOutOfDeviceMemory:           {"VK_ERROR_OUT_OF_DEVICE_MEMORY", "A device memory allocation has failed"},
	vk.ErrorInitializationFailed:        {"VK_ERROR_INITIALIZATION_FAILED", "Initialization of an object could not be completed"},
	vk.ErrorDeviceLost:                  {"VK_ERROR_DEVICE_LOST", "The logical or physical device has been lost"},
	vk.ErrorMemoryMapFailed:             {"VK_ERROR_MEMORY_MAP_FAILED", "Mapping of a memory object has failed"},
	vk.ErrorLayerNotPresent:             {"VK_ERROR_LAYER_NOT_PRESENT", "A requested layer is not present or could not be loaded"},
	vk.ErrorExtensionNotPresent:         {"VK_ERROR_EXTENSION_NOT_PRESENT", "A requested extension is not supported"},
	vk.ErrorFeatureNotPresent:           {"VK_ERROR_FEATURE_NOT_PRESENT", "A requested feature is not supported"},
	vk.ErrorIncompatibleDriver:          {"VK_ERROR_INCOMPATIBLE_DRIVER", "The requested version of Vulkan is not supported by the driver"},
	vk.ErrorTooManyObjects:              {"VK_ERROR_TOO_MANY_OBJECTS", "Too many objects of the type have already been created"},
	vk.ErrorFormatNotSupported:          {"VK_ERROR_FORMAT_NOT_SUPPORTED", "A requested format is not supported on this device"},
	vk.ErrorFragmentedPool:              {"VK_ERROR_FRAGMENTED_POOL", "A pool allocation has failed due to fragmentation"},
	vk.ErrorSurfaceLost:                 {"VK_ERROR_SURFACE_LOST_KHR", "A surface is no longer available"},
	vk.ErrorNativeWindowInUse:           {"VK_ERROR_NATIVE_WINDOW_IN_USE_KHR", "The requested window is already in use"},
	vk.ErrorOutOfDate:                   {"VK_ERROR_OUT_OF_DATE_KHR", "The surface changed and the swapchain must be recreated"},
	vk.ErrorIncompatibleDisplay:         {"VK_ERROR_INCOMPATIBLE_DISPLAY_KHR", "The display is incompatible with the swapchain"},
	vk.ErrorOutOfPoolMemory:             {"VK_ERROR_OUT_OF_POOL_MEMORY", "A pool memory allocation has failed"},
	vk.ErrorInvalidExternalHandle:       {"VK_ERROR_INVALID_EXTERNAL_HANDLE", "An external handle is not a valid handle of the specified type"},
	vk.ErrorFragmentation:               {"VK_ERROR_FRAGMENTATION", "A descriptor pool creation has failed due to fragmentation"},
	vk.ErrorFullScreenExclusiveModeLost: {"VK_ERROR_FULL_SCREEN_EXCLUSIVE_MODE_LOST_EXT", "Exclusive full-screen access was lost"},
	vk.ErrorUnknown:                     {"VK_ERROR_UNKNOWN", "An unknown error has occurred"},
}

// VulkanResultString returns the VkResult name, followed by its meaning when
// extended is set.
func VulkanResultString(result vk.Result, extended bool) string {
	info, ok := results[result]
	if !ok {
		return fmt.Sprintf("VkResult(%d)", int32(result))
	}
	if extended {
		return info.name + " " + info.desc
	}
	return info.name
}

// VulkanResultIsSuccess is false for every error code. Unknown codes count
// as errors.
func VulkanResultIsSuccess(result vk.Result) bool {
	return result >= 0
}

// check turns an API result into a *core.DeviceError. Out-of-date, lost
// device and out-of-memory wrap their sentinels so the core classifiers
// see them.
func check(op string, result vk.Result) error {
	if VulkanResultIsSuccess(result) {
		return nil
	}
	return deviceError(op, result)
}

func deviceError(op string, result vk.Result) error {
	var cause error
	switch result {
	case vk.ErrorOutOfDate:
		cause = core.ErrSwapchainOutOfDate
	case vk.ErrorDeviceLost, vk.Timeout:
		cause = core.ErrDeviceLost
	case vk.ErrorOutOfHostMemory, vk.ErrorOutOfDeviceMemory, vk.ErrorOutOfPoolMemory:
		cause = core.ErrOutOfMemory
	}
	return &core.DeviceError{
		Op:     op,
		Code:   int32(result),
		Result: VulkanResultString(result, false),
		Err:    cause,
	}
}

var end = "\x00"
var endChar byte = '\x00'

func VulkanSafeString(s string) string {
	if len(s) == 0 {
		return end
	}
	if s[len(s)-1] != endChar {
		return s + end
	}
	return s
}

func VulkanSafeStrings(list []string) []string {
	out := make([]string, len(list))
	for i := range list {
		out[i] = VulkanSafeString(list[i])
	}
	return out
}

// cString reads a fixed-size, NUL terminated name field.
func cString(arr []byte) string {
	for i, b := range arr {
		if b == 0 {
			return string(arr[:i])
		}
	}
	return string(arr)
}

// sliceUint32 reinterprets SPIR-V bytes as words without copying.
func sliceUint32(data []byte) []uint32 {
	if len(data) < 4 {
		return nil
	}
	return unsafe.Slice((*uint32)(unsafe.Pointer(&data[0])), len(data)/4)
}
