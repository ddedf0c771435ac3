package resource

import (
	"fmt"
	"time"

	"github.com/spaghettifunk/ember/engine/core"
	"github.com/spaghettifunk/ember/engine/renderer/gpu"
	"github.com/spaghettifunk/ember/engine/renderer/metadata"
)

// Copy is one region to upload into a device-local buffer.
type Copy struct {
	Dst    *Buffer
	Offset uint64
	Data   []byte
}

// Uploader performs blocking one-shot uploads through staging buffers.
// It is one of the two places the engine waits on the GPU.
type Uploader struct {
	dev     gpu.Device
	staging *Arena
	timeout time.Duration
	queue   gpu.Queue

	cmd   gpu.CommandBuffer
	fence gpu.Fence
}

func NewUploader(dev gpu.Device, staging *Arena, timeout time.Duration) (*Uploader, error) {
	if staging.Properties()&metadata.MemoryHostVisible == 0 {
		return nil, core.NewConfigError("resource.NewUploader", core.ErrInvalidHandle, "staging arena is not host visible")
	}
	cmds, err := dev.CreateCommandBuffers(1)
	if err != nil {
		return nil, fmt.Errorf("uploader command buffer: %w", err)
	}
	fence, err := dev.CreateFence(false)
	if err != nil {
		cmds[0].Destroy()
		return nil, fmt.Errorf("uploader fence: %w", err)
	}
	return &Uploader{
		dev:     dev,
		staging: staging,
		timeout: timeout,
		queue:   gpu.QueueTransfer,
		cmd:     cmds[0],
		fence:   fence,
	}, nil
}

func (u *Uploader) Upload(dst *Buffer, offset uint64, data []byte) error {
	return u.UploadAll([]Copy{{Dst: dst, Offset: offset, Data: data}})
}

// UploadAll stages every copy, submits them together and waits. Staging
// memory is released only after the transfer fence has signaled.
func (u *Uploader) UploadAll(copies []Copy) error {
	total := uint64(0)
	for _, c := range copies {
		total += uint64(len(c.Data))
	}
	if total == 0 {
		return nil
	}

	staging, err := NewBuffer(u.dev, u.staging, "staging", total, metadata.BufferUsageTransferSrc)
	if err != nil {
		return fmt.Errorf("upload: %w", err)
	}

	if err := u.record(staging, copies); err != nil {
		_ = u.cmd.Reset()
		staging.Destroy()
		return fmt.Errorf("upload: %w", err)
	}
	if err := u.fence.Reset(); err != nil {
		staging.Destroy()
		return fmt.Errorf("upload: %w", err)
	}
	if err := u.dev.Submit(u.queue, gpu.SubmitInfo{Commands: []gpu.CommandBuffer{u.cmd}, Fence: u.fence}); err != nil {
		staging.Destroy()
		return fmt.Errorf("upload submit: %w", err)
	}
	if err := Wait(u.fence, u.timeout); err != nil {
		// The transfer may still be reading the staging buffer.
		return fmt.Errorf("upload of %d bytes: %w", total, err)
	}
	staging.Destroy()
	return nil
}

func (u *Uploader) record(staging *Buffer, copies []Copy) error {
	if err := u.cmd.Begin(true); err != nil {
		return err
	}
	at := uint64(0)
	for _, c := range copies {
		if len(c.Data) == 0 {
			continue
		}
		if err := staging.Write(at, c.Data); err != nil {
			return err
		}
		u.cmd.CopyBuffer(staging.Handle(), c.Dst.Handle(), at, c.Offset, uint64(len(c.Data)))
		at += uint64(len(c.Data))
	}
	return u.cmd.End()
}

func (u *Uploader) Destroy() {
	u.fence.Destroy()
	u.cmd.Destroy()
}
