// Package soft is an in-memory render backend. Command buffers execute on
// the CPU at submit time, with a small rasterizer for indexed triangles.
// It needs no GPU and is fully deterministic, which makes it the device
// used by tests and by the software renderer config option.
package soft

import (
	"errors"
	"fmt"
	"sync"

	"github.com/spaghettifunk/ember/engine/core"
	"github.com/spaghettifunk/ember/engine/renderer/gpu"
	"github.com/spaghettifunk/ember/engine/renderer/metadata"
)

var (
	// ErrInUse is returned when a command buffer or fence is touched
	// while the work it belongs to has not completed.
	ErrInUse = errors.New("soft: resource still in use by a pending submission")
	// ErrInvalidUsage reports a call the real API would reject.
	ErrInvalidUsage = errors.New("soft: invalid usage")
)

const (
	memoryTypeDeviceLocal = 0
	memoryTypeHostVisible = 1
	allMemoryTypes        = 1<<memoryTypeDeviceLocal | 1<<memoryTypeHostVisible

	MaxPushConstantSize = 128
)

type Options struct {
	Name string
	// ManualFences keeps fences of graphics submissions pending until
	// CompleteNext or CompleteAll is called. Transfers always complete.
	ManualFences bool
	// SwapchainImages of 0 makes the device headless.
	SwapchainImages int
	SwapchainExtent metadata.Extent2D
	SwapchainFormat metadata.Format
}

// DrawRecord describes one executed indexed draw.
type DrawRecord struct {
	Pipeline      string
	Subpass       uint32
	IndexCount    uint32
	InstanceCount uint32
	FirstIndex    uint32
	FirstInstance uint32
}

type Device struct {
	mu   sync.Mutex
	opts Options

	swapchain *Swapchain
	pending   []*Fence
	draws     []DrawRecord
	submits   int

	liveBuffers      int
	liveImages       int
	liveFramebuffers int
}

var _ gpu.Device = (*Device)(nil)

func New(opts Options) *Device {
	if opts.Name == "" {
		opts.Name = "soft"
	}
	d := &Device{opts: opts}
	if opts.SwapchainImages > 0 {
		format := opts.SwapchainFormat
		if format == metadata.FormatUndefined {
			format = metadata.FormatB8G8R8A8Unorm
		}
		d.swapchain = newSwapchain(d, opts.SwapchainImages, format, opts.SwapchainExtent)
	}
	core.LogDebug("soft device %q created (swapchain images: %d, manual fences: %t)", opts.Name, opts.SwapchainImages, opts.ManualFences)
	return d
}

func (d *Device) Name() string { return d.opts.Name }

func (d *Device) CreateBuffer(desc gpu.BufferDesc) (gpu.Buffer, error) {
	if desc.Size == 0 {
		return nil, fmt.Errorf("soft: create buffer %q: %w: zero size", desc.Name, ErrInvalidUsage)
	}
	d.mu.Lock()
	d.liveBuffers++
	d.mu.Unlock()
	return &Buffer{dev: d, desc: desc}, nil
}

func (d *Device) AllocateMemory(size uint64, props metadata.MemoryProperty, typeBits uint32) (gpu.Memory, error) {
	memType := uint32(memoryTypeDeviceLocal)
	if props&metadata.MemoryHostVisible != 0 {
		memType = memoryTypeHostVisible
	}
	if typeBits&(1<<memType) == 0 {
		return nil, fmt.Errorf("soft: allocate %d bytes: no memory type for properties %#x in %#b: %w", size, props, typeBits, core.ErrOutOfMemory)
	}
	return &Memory{props: props, memType: memType, data: make([]byte, size)}, nil
}

func (d *Device) CreateImage(desc gpu.ImageDesc) (gpu.Image, error) {
	if desc.Format == metadata.FormatUndefined || desc.Format.BytesPerPixel() == 0 {
		return nil, fmt.Errorf("soft: create image %q: %w: %s", desc.Name, core.ErrInvalidFormat, desc.Format)
	}
	if desc.Extent.Width == 0 || desc.Extent.Height == 0 {
		return nil, fmt.Errorf("soft: create image %q: %w: zero extent", desc.Name, ErrInvalidUsage)
	}
	d.mu.Lock()
	d.liveImages++
	d.mu.Unlock()
	return newImage(d, desc, false), nil
}

func (d *Device) CreateRenderPass(desc *metadata.RenderPassDescription) (gpu.RenderPass, error) {
	if desc == nil || len(desc.Subpasses) == 0 {
		return nil, fmt.Errorf("soft: create renderpass: %w", core.ErrNoPasses)
	}
	n := uint32(len(desc.Attachments))
	for i, sp := range desc.Subpasses {
		for _, idx := range sp.References() {
			if idx >= n {
				return nil, fmt.Errorf("soft: subpass %d references attachment %d of %d: %w", i, idx, n, ErrInvalidUsage)
			}
		}
	}
	for _, dep := range desc.Dependencies {
		if dep.Src != metadata.SubpassExternal && dep.Dst != metadata.SubpassExternal && dep.Src > dep.Dst {
			return nil, fmt.Errorf("soft: dependency %d -> %d points backwards: %w", dep.Src, dep.Dst, ErrInvalidUsage)
		}
	}
	return &RenderPass{desc: desc}, nil
}

func (d *Device) CreateFramebuffer(rp gpu.RenderPass, attachments []gpu.Image, extent metadata.Extent2D) (gpu.Framebuffer, error) {
	pass, ok := rp.(*RenderPass)
	if !ok || pass.destroyed {
		return nil, fmt.Errorf("soft: create framebuffer: %w: renderpass", core.ErrInvalidHandle)
	}
	if len(attachments) != len(pass.desc.Attachments) {
		return nil, fmt.Errorf("soft: framebuffer has %d attachments, renderpass expects %d: %w", len(attachments), len(pass.desc.Attachments), ErrInvalidUsage)
	}
	images := make([]*Image, len(attachments))
	for i, a := range attachments {
		img, ok := a.(*Image)
		if !ok || img.destroyed {
			return nil, fmt.Errorf("soft: framebuffer attachment %d: %w", i, core.ErrInvalidHandle)
		}
		if img.desc.Format != pass.desc.Attachments[i].Format {
			return nil, fmt.Errorf("soft: framebuffer attachment %d is %s, renderpass slot is %s: %w", i, img.desc.Format, pass.desc.Attachments[i].Format, ErrInvalidUsage)
		}
		if img.desc.Extent.Width < extent.Width || img.desc.Extent.Height < extent.Height {
			return nil, fmt.Errorf("soft: framebuffer attachment %d smaller than framebuffer: %w", i, ErrInvalidUsage)
		}
		images[i] = img
	}
	d.mu.Lock()
	d.liveFramebuffers++
	d.mu.Unlock()
	return &Framebuffer{dev: d, pass: pass, images: images, extent: extent}, nil
}

func (d *Device) CreatePipeline(desc *gpu.PipelineDesc) (gpu.Pipeline, error) {
	pass, ok := desc.RenderPass.(*RenderPass)
	if !ok || pass.destroyed {
		return nil, fmt.Errorf("soft: create pipeline %q: %w: renderpass", desc.Name, core.ErrInvalidHandle)
	}
	if int(desc.Subpass) >= len(pass.desc.Subpasses) {
		return nil, fmt.Errorf("soft: create pipeline %q: subpass %d of %d: %w", desc.Name, desc.Subpass, len(pass.desc.Subpasses), ErrInvalidUsage)
	}
	hasVertex := false
	for _, s := range desc.Stages {
		if s.Stage&metadata.ShaderStageVertex != 0 {
			hasVertex = true
		}
	}
	if !hasVertex {
		return nil, fmt.Errorf("soft: create pipeline %q: %w: no vertex stage", desc.Name, ErrInvalidUsage)
	}
	for _, pc := range desc.PushConstants {
		if pc.Offset+pc.Size > MaxPushConstantSize {
			return nil, fmt.Errorf("soft: create pipeline %q: push constant %q exceeds %d bytes: %w", desc.Name, pc.Name, MaxPushConstantSize, ErrInvalidUsage)
		}
	}
	return &Pipeline{desc: desc, pass: pass}, nil
}

func (d *Device) CreateDescriptorSet(p gpu.Pipeline, set uint32) (gpu.DescriptorSet, error) {
	pl, ok := p.(*Pipeline)
	if !ok || pl.destroyed {
		return nil, fmt.Errorf("soft: create descriptor set: %w", core.ErrInvalidHandle)
	}
	for _, layout := range pl.desc.DescriptorSets {
		if layout.Set == set {
			return &DescriptorSet{layout: layout, writes: map[uint32]any{}}, nil
		}
	}
	return nil, fmt.Errorf("soft: pipeline %q has no descriptor set %d: %w", pl.desc.Name, set, ErrInvalidUsage)
}

func (d *Device) CreateCommandBuffers(n int) ([]gpu.CommandBuffer, error) {
	out := make([]gpu.CommandBuffer, n)
	for i := range out {
		out[i] = &CommandBuffer{dev: d}
	}
	return out, nil
}

func (d *Device) CreateFence(signaled bool) (gpu.Fence, error) {
	return newFence(d, signaled), nil
}

func (d *Device) CreateSemaphore() (gpu.Semaphore, error) {
	return &Semaphore{}, nil
}

// Submit executes the command buffers immediately. The fence signals now,
// or on CompleteNext when fences are manual.
func (d *Device) Submit(q gpu.Queue, info gpu.SubmitInfo) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	var fence *Fence
	if info.Fence != nil {
		f, ok := info.Fence.(*Fence)
		if !ok {
			return fmt.Errorf("soft: submit: %w: fence", core.ErrInvalidHandle)
		}
		if f.Signaled() || f.isQueued() {
			return fmt.Errorf("soft: submit with fence that was not reset: %w", ErrInUse)
		}
		fence = f
	}

	for i, s := range info.Wait {
		sem, ok := s.(*Semaphore)
		if !ok || !sem.consume() {
			return fmt.Errorf("soft: submit waits on semaphore %d that nothing signaled: %w", i, ErrInvalidUsage)
		}
	}

	for i, c := range info.Commands {
		cb, ok := c.(*CommandBuffer)
		if !ok {
			return fmt.Errorf("soft: submit command buffer %d: %w", i, core.ErrInvalidHandle)
		}
		if cb.state != stateExecutable {
			return fmt.Errorf("soft: submit command buffer %d that is not ended: %w", i, ErrInvalidUsage)
		}
		if err := cb.execute(); err != nil {
			return fmt.Errorf("soft: execute on %s queue: %w", q, err)
		}
		cb.inflight = fence
	}

	for _, s := range info.Signal {
		if sem, ok := s.(*Semaphore); ok {
			sem.signal()
		}
	}

	d.submits++
	if fence != nil {
		if d.opts.ManualFences && q == gpu.QueueGraphics {
			fence.setQueued(true)
			d.pending = append(d.pending, fence)
		} else {
			fence.signal()
		}
	}
	return nil
}

func (d *Device) Swapchain() gpu.Swapchain {
	if d.swapchain == nil {
		return nil
	}
	return d.swapchain
}

// SoftSwapchain returns the concrete swapchain for test hooks.
func (d *Device) SoftSwapchain() *Swapchain {
	return d.swapchain
}

// WaitIdle completes all outstanding work.
func (d *Device) WaitIdle() error {
	d.CompleteAll()
	return nil
}

func (d *Device) Destroy() {
	d.CompleteAll()
	core.LogDebug("soft device %q destroyed after %d submits", d.opts.Name, d.submits)
}

// CompleteNext signals the oldest pending fence. It reports false when
// nothing is pending.
func (d *Device) CompleteNext() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.pending) == 0 {
		return false
	}
	f := d.pending[0]
	d.pending = d.pending[1:]
	f.setQueued(false)
	f.signal()
	return true
}

func (d *Device) CompleteAll() {
	for d.CompleteNext() {
	}
}

// PendingFences is the number of submitted fences not yet completed.
func (d *Device) PendingFences() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pending)
}

func (d *Device) Draws() []DrawRecord {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]DrawRecord, len(d.draws))
	copy(out, d.draws)
	return out
}

func (d *Device) ResetDraws() {
	d.mu.Lock()
	d.draws = nil
	d.mu.Unlock()
}

func (d *Device) Submits() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.submits
}

func (d *Device) LiveBuffers() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.liveBuffers
}

func (d *Device) LiveImages() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.liveImages
}

func (d *Device) LiveFramebuffers() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.liveFramebuffers
}

// recordDraw is called from execution, which already holds d.mu.
func (d *Device) recordDraw(r DrawRecord) {
	d.draws = append(d.draws, r)
}

func (d *Device) release(counter *int) {
	d.mu.Lock()
	*counter--
	d.mu.Unlock()
}
