// Package gpu is the capability interface every render backend implements.
// The frame graph, command engine and resource layer are written only
// against these types.
package gpu

import (
	"time"

	"github.com/spaghettifunk/ember/engine/renderer/metadata"
)

type Queue int

const (
	QueueGraphics Queue = iota
	QueueTransfer
)

func (q Queue) String() string {
	if q == QueueTransfer {
		return "transfer"
	}
	return "graphics"
}

type BufferDesc struct {
	Name  string
	Size  uint64
	Usage metadata.BufferUsage
}

type MemoryRequirements struct {
	Size      uint64
	Alignment uint64
	// TypeBits is the set of memory types the resource accepts.
	TypeBits uint32
}

type ImageDesc struct {
	Name    string
	Format  metadata.Format
	Extent  metadata.Extent2D
	Usage   metadata.ImageUsage
	Samples uint32
}

// Device is the connection to one graphics device and its queues.
type Device interface {
	Name() string

	// CreateBuffer returns an unbound buffer. It must be bound to memory
	// before use.
	CreateBuffer(desc BufferDesc) (Buffer, error)
	AllocateMemory(size uint64, props metadata.MemoryProperty, typeBits uint32) (Memory, error)
	// CreateImage returns an image that owns its memory.
	CreateImage(desc ImageDesc) (Image, error)

	CreateRenderPass(desc *metadata.RenderPassDescription) (RenderPass, error)
	CreateFramebuffer(rp RenderPass, attachments []Image, extent metadata.Extent2D) (Framebuffer, error)
	CreatePipeline(desc *PipelineDesc) (Pipeline, error)
	CreateDescriptorSet(p Pipeline, set uint32) (DescriptorSet, error)

	CreateCommandBuffers(n int) ([]CommandBuffer, error)
	CreateFence(signaled bool) (Fence, error)
	CreateSemaphore() (Semaphore, error)

	Submit(q Queue, info SubmitInfo) error

	// Swapchain is nil for headless devices.
	Swapchain() Swapchain

	WaitIdle() error
	Destroy()
}

type Buffer interface {
	Size() uint64
	Requirements() MemoryRequirements
	Bind(mem Memory, offset uint64) error
	// Write and Read require host-visible memory.
	Write(offset uint64, data []byte) error
	Read(offset uint64, dst []byte) error
	Destroy()
}

type Memory interface {
	Size() uint64
	Properties() metadata.MemoryProperty
	// TypeIndex is the memory type the allocation was made from.
	TypeIndex() uint32
	Free()
}

type Image interface {
	Format() metadata.Format
	Extent() metadata.Extent2D
	Usage() metadata.ImageUsage
	Destroy()
}

type RenderPass interface {
	Description() *metadata.RenderPassDescription
	Destroy()
}

type Framebuffer interface {
	Extent() metadata.Extent2D
	Attachments() []Image
	Destroy()
}

type Pipeline interface {
	Desc() *PipelineDesc
	Subpass() uint32
	Destroy()
}

// DescriptorSet is one set of shader-visible resources for a pipeline.
type DescriptorSet interface {
	WriteBuffer(binding uint32, buf Buffer, offset, size uint64) error
	WriteInputAttachment(binding uint32, img Image) error
	Destroy()
}

// CommandBuffer records work for one queue submission.
type CommandBuffer interface {
	Begin(oneShot bool) error
	End() error
	Reset() error

	BeginRenderPass(rp RenderPass, fb Framebuffer, area metadata.Rect2D, clears []metadata.ClearValue)
	NextSubpass()
	EndRenderPass()

	SetViewport(vp metadata.Viewport)
	SetScissor(rect metadata.Rect2D)

	BindPipeline(p Pipeline)
	BindDescriptorSet(p Pipeline, set uint32, ds DescriptorSet)
	BindVertexBuffers(first uint32, bufs []Buffer, offsets []uint64)
	BindIndexBuffer(buf Buffer, offset uint64, t metadata.IndexType)
	PushConstants(p Pipeline, stages metadata.ShaderStage, offset uint32, data []byte)
	DrawIndexed(indexCount, instanceCount, firstIndex uint32, vertexOffset int32, firstInstance uint32)

	CopyBuffer(src, dst Buffer, srcOffset, dstOffset, size uint64)
	// CopyImageToBuffer writes tightly packed texels in the image format.
	CopyImageToBuffer(src Image, dst Buffer)

	Destroy()
}

type Fence interface {
	// Status reports whether the fence is signaled without blocking.
	Status() (bool, error)
	// Wait blocks for at most timeout. Timing out is core.ErrDeviceLost.
	Wait(timeout time.Duration) error
	Reset() error
	Destroy()
}

type Semaphore interface {
	Destroy()
}

type Swapchain interface {
	Format() metadata.Format
	Extent() metadata.Extent2D
	Images() []Image
	// Acquire signals sem once the returned image may be rendered to.
	// A stale swapchain returns core.ErrSwapchainOutOfDate.
	Acquire(sem Semaphore, timeout time.Duration) (uint32, error)
	Present(index uint32, wait []Semaphore) error
	Recreate(width, height uint32) error
}

// SubmitInfo carries the only cross-queue ordering there is: semaphores.
type SubmitInfo struct {
	Commands   []CommandBuffer
	Wait       []Semaphore
	WaitStages []metadata.PipelineStage
	Signal     []Semaphore
	Fence      Fence
}
