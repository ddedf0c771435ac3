package vulkan

import (
	"fmt"
	"time"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/ember/engine/core"
	"github.com/spaghettifunk/ember/engine/renderer/gpu"
)

type Fence struct {
	dev    *Device
	Handle vk.Fence
}

func (d *Device) CreateFence(signaled bool) (gpu.Fence, error) {
	fenceCreateInfo := vk.FenceCreateInfo{
		SType: vk.StructureTypeFenceCreateInfo,
	}
	// Make sure to signal the fence if required.
	if signaled {
		fenceCreateInfo.Flags = vk.FenceCreateFlags(vk.FenceCreateSignaledBit)
	}
	var handle vk.Fence
	err := d.locks.SafeCall(SynchronizationManagement, func() error {
		return check("vkCreateFence", vk.CreateFence(d.LogicalDevice, &fenceCreateInfo, d.Allocator, &handle))
	})
	if err != nil {
		return nil, err
	}
	return &Fence{dev: d, Handle: handle}, nil
}

func (f *Fence) Status() (bool, error) {
	switch res := vk.GetFenceStatus(f.dev.LogicalDevice, f.Handle); res {
	case vk.Success:
		return true, nil
	case vk.NotReady:
		return false, nil
	default:
		return false, deviceError("vkGetFenceStatus", res)
	}
}

// Wait is always bounded. Timing out has the same meaning as losing the
// device: the frame loop cannot make progress.
func (f *Fence) Wait(timeout time.Duration) error {
	result := vk.WaitForFences(f.dev.LogicalDevice, 1, []vk.Fence{f.Handle}, vk.True, uint64(timeout.Nanoseconds()))
	switch result {
	case vk.Success:
		return nil
	case vk.Timeout:
		core.LogWarn("vk_fence_wait - Timed out after %s", timeout)
	case vk.ErrorDeviceLost:
		core.LogError("vk_fence_wait - VK_ERROR_DEVICE_LOST.")
	}
	return deviceError("vkWaitForFences", result)
}

func (f *Fence) Reset() error {
	return check("vkResetFences", vk.ResetFences(f.dev.LogicalDevice, 1, []vk.Fence{f.Handle}))
}

func (f *Fence) Destroy() {
	if f.Handle == vk.NullFence {
		return
	}
	_ = f.dev.locks.SafeCall(SynchronizationManagement, func() error {
		vk.DestroyFence(f.dev.LogicalDevice, f.Handle, f.dev.Allocator)
		return nil
	})
	f.Handle = vk.NullFence
}

type Semaphore struct {
	dev    *Device
	Handle vk.Semaphore
}

func (d *Device) CreateSemaphore() (gpu.Semaphore, error) {
	var handle vk.Semaphore
	err := d.locks.SafeCall(SynchronizationManagement, func() error {
		return check("vkCreateSemaphore", vk.CreateSemaphore(d.LogicalDevice, &vk.SemaphoreCreateInfo{
			SType: vk.StructureTypeSemaphoreCreateInfo,
		}, d.Allocator, &handle))
	})
	if err != nil {
		return nil, err
	}
	return &Semaphore{dev: d, Handle: handle}, nil
}

func (s *Semaphore) Destroy() {
	if s.Handle == vk.NullSemaphore {
		return
	}
	_ = s.dev.locks.SafeCall(SynchronizationManagement, func() error {
		vk.DestroySemaphore(s.dev.LogicalDevice, s.Handle, s.dev.Allocator)
		return nil
	})
	s.Handle = vk.NullSemaphore
}

func semaphores(list []gpu.Semaphore) ([]vk.Semaphore, error) {
	out := make([]vk.Semaphore, len(list))
	for i, s := range list {
		vs, ok := s.(*Semaphore)
		if !ok || vs.Handle == vk.NullSemaphore {
			return nil, core.NewConfigError("vulkan.Submit", core.ErrInvalidHandle, "semaphore %d", i)
		}
		out[i] = vs.Handle
	}
	return out, nil
}

func (d *Device) Submit(q gpu.Queue, info gpu.SubmitInfo) error {
	if len(info.Wait) != len(info.WaitStages) {
		return core.NewConfigError("vulkan.Submit", core.ErrInvalidHandle, "%d wait semaphores, %d wait stages", len(info.Wait), len(info.WaitStages))
	}
	wait, err := semaphores(info.Wait)
	if err != nil {
		return err
	}
	signal, err := semaphores(info.Signal)
	if err != nil {
		return err
	}
	stages := make([]vk.PipelineStageFlags, len(info.WaitStages))
	for i, s := range info.WaitStages {
		stages[i] = toVkStages(s)
	}

	commands := make([]vk.CommandBuffer, len(info.Commands))
	buffers := make([]*CommandBuffer, len(info.Commands))
	for i, c := range info.Commands {
		cb, ok := c.(*CommandBuffer)
		if !ok || (cb.State != COMMAND_BUFFER_STATE_RECORDING_ENDED && cb.State != COMMAND_BUFFER_STATE_SUBMITTED) {
			return fmt.Errorf("vulkan: submit command buffer %d: %w", i, core.ErrNotRecording)
		}
		commands[i] = cb.Handle
		buffers[i] = cb
	}

	fence := vk.NullFence
	if info.Fence != nil {
		vf, ok := info.Fence.(*Fence)
		if !ok {
			return core.NewConfigError("vulkan.Submit", core.ErrInvalidHandle, "fence")
		}
		fence = vf.Handle
	}

	submitInfo := vk.SubmitInfo{
		SType:                vk.StructureTypeSubmitInfo,
		WaitSemaphoreCount:   uint32(len(wait)),
		PWaitSemaphores:      wait,
		PWaitDstStageMask:    stages,
		CommandBufferCount:   uint32(len(commands)),
		PCommandBuffers:      commands,
		SignalSemaphoreCount: uint32(len(signal)),
		PSignalSemaphores:    signal,
	}

	queue, family := d.queue(q)
	err = d.locks.SafeQueueCall(family, func() error {
		return check("vkQueueSubmit", vk.QueueSubmit(queue, 1, []vk.SubmitInfo{submitInfo}, fence))
	})
	if err != nil {
		return err
	}
	for _, cb := range buffers {
		cb.State = COMMAND_BUFFER_STATE_SUBMITTED
	}
	return nil
}
