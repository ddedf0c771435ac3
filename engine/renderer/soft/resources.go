package soft

import (
	"fmt"
	"sync"
	"time"

	"github.com/spaghettifunk/ember/engine/core"
	"github.com/spaghettifunk/ember/engine/renderer/gpu"
	"github.com/spaghettifunk/ember/engine/renderer/metadata"
)

type Memory struct {
	props   metadata.MemoryProperty
	memType uint32
	data    []byte
	freed   bool
}

func (m *Memory) Size() uint64                        { return uint64(len(m.data)) }
func (m *Memory) Properties() metadata.MemoryProperty { return m.props }
func (m *Memory) TypeIndex() uint32                   { return m.memType }
func (m *Memory) Free()                               { m.freed = true; m.data = nil }

type Buffer struct {
	dev       *Device
	desc      gpu.BufferDesc
	mem       *Memory
	offset    uint64
	destroyed bool
}

func (b *Buffer) Size() uint64 { return b.desc.Size }

func (b *Buffer) Requirements() gpu.MemoryRequirements {
	align := uint64(16)
	if b.desc.Usage&(metadata.BufferUsageUniform|metadata.BufferUsageStorage) != 0 {
		align = 256
	}
	return gpu.MemoryRequirements{Size: b.desc.Size, Alignment: align, TypeBits: allMemoryTypes}
}

func (b *Buffer) Bind(mem gpu.Memory, offset uint64) error {
	m, ok := mem.(*Memory)
	if !ok || m.freed {
		return fmt.Errorf("soft: bind buffer %q: %w: memory", b.desc.Name, core.ErrInvalidHandle)
	}
	if b.mem != nil {
		return fmt.Errorf("soft: bind buffer %q: already bound: %w", b.desc.Name, ErrInvalidUsage)
	}
	if offset%b.Requirements().Alignment != 0 || offset+b.desc.Size > m.Size() {
		return fmt.Errorf("soft: bind buffer %q at %d in %d bytes: %w", b.desc.Name, offset, m.Size(), ErrInvalidUsage)
	}
	b.mem = m
	b.offset = offset
	return nil
}

// bytes is the device view of the buffer contents.
func (b *Buffer) bytes() ([]byte, error) {
	if b.destroyed {
		return nil, fmt.Errorf("soft: buffer %q: %w", b.desc.Name, core.ErrInvalidHandle)
	}
	if b.mem == nil || b.mem.freed {
		return nil, fmt.Errorf("soft: buffer %q is not bound to memory: %w", b.desc.Name, ErrInvalidUsage)
	}
	return b.mem.data[b.offset : b.offset+b.desc.Size], nil
}

func (b *Buffer) hostBytes(offset, n uint64) ([]byte, error) {
	data, err := b.bytes()
	if err != nil {
		return nil, err
	}
	if b.mem.props&metadata.MemoryHostVisible == 0 {
		return nil, fmt.Errorf("soft: buffer %q memory is not host visible: %w", b.desc.Name, ErrInvalidUsage)
	}
	if offset+n > b.desc.Size {
		return nil, fmt.Errorf("soft: buffer %q access [%d, %d) out of %d: %w", b.desc.Name, offset, offset+n, b.desc.Size, ErrInvalidUsage)
	}
	return data[offset : offset+n], nil
}

func (b *Buffer) Write(offset uint64, data []byte) error {
	dst, err := b.hostBytes(offset, uint64(len(data)))
	if err != nil {
		return err
	}
	copy(dst, data)
	return nil
}

func (b *Buffer) Read(offset uint64, dst []byte) error {
	src, err := b.hostBytes(offset, uint64(len(dst)))
	if err != nil {
		return err
	}
	copy(dst, src)
	return nil
}

func (b *Buffer) Destroy() {
	if b.destroyed {
		return
	}
	b.destroyed = true
	b.dev.release(&b.dev.liveBuffers)
}

// Image keeps color texels as RGBA float32 and depth as float32.
type Image struct {
	dev         *Device
	desc        gpu.ImageDesc
	color       []float32
	depth       []float32
	stencil     []uint8
	presentable bool
	destroyed   bool
}

func newImage(d *Device, desc gpu.ImageDesc, presentable bool) *Image {
	img := &Image{dev: d, desc: desc, presentable: presentable}
	n := int(desc.Extent.Width * desc.Extent.Height)
	if desc.Format.IsDepth() {
		img.depth = make([]float32, n)
		img.stencil = make([]uint8, n)
	} else {
		img.color = make([]float32, n*4)
	}
	return img
}

func (i *Image) Format() metadata.Format    { return i.desc.Format }
func (i *Image) Extent() metadata.Extent2D  { return i.desc.Extent }
func (i *Image) Usage() metadata.ImageUsage { return i.desc.Usage }

func (i *Image) Destroy() {
	if i.destroyed || i.presentable {
		return
	}
	i.destroyed = true
	i.dev.release(&i.dev.liveImages)
}

func (i *Image) clear(v metadata.ClearValue) {
	if i.depth != nil {
		for p := range i.depth {
			i.depth[p] = v.Depth
			i.stencil[p] = uint8(v.Stencil)
		}
		return
	}
	for p := 0; p < len(i.color); p += 4 {
		copy(i.color[p:p+4], v.Color[:])
	}
}

// Pixel returns the RGBA value at x, y.
func (i *Image) Pixel(x, y uint32) [4]float32 {
	var out [4]float32
	if i.color != nil {
		p := (y*i.desc.Extent.Width + x) * 4
		copy(out[:], i.color[p:p+4])
	}
	return out
}

// Depth returns the depth value at x, y.
func (i *Image) Depth(x, y uint32) float32 {
	if i.depth == nil {
		return 0
	}
	return i.depth[y*i.desc.Extent.Width+x]
}

// ReadRGBA8 returns color texels as 8-bit RGBA regardless of format.
func (i *Image) ReadRGBA8() []byte {
	out := make([]byte, len(i.color))
	for p, c := range i.color {
		out[p] = unorm8(c)
	}
	return out
}

type RenderPass struct {
	desc      *metadata.RenderPassDescription
	destroyed bool
}

func (r *RenderPass) Description() *metadata.RenderPassDescription { return r.desc }
func (r *RenderPass) Destroy()                                     { r.destroyed = true }

type Framebuffer struct {
	dev       *Device
	pass      *RenderPass
	images    []*Image
	extent    metadata.Extent2D
	destroyed bool
}

func (f *Framebuffer) Extent() metadata.Extent2D { return f.extent }

func (f *Framebuffer) Attachments() []gpu.Image {
	out := make([]gpu.Image, len(f.images))
	for i, img := range f.images {
		out[i] = img
	}
	return out
}

func (f *Framebuffer) Destroy() {
	if f.destroyed {
		return
	}
	f.destroyed = true
	f.dev.release(&f.dev.liveFramebuffers)
}

type Pipeline struct {
	desc      *gpu.PipelineDesc
	pass      *RenderPass
	destroyed bool
}

func (p *Pipeline) Desc() *gpu.PipelineDesc { return p.desc }
func (p *Pipeline) Subpass() uint32         { return p.desc.Subpass }
func (p *Pipeline) Destroy()                { p.destroyed = true }

type DescriptorSet struct {
	layout gpu.DescriptorSetLayoutDesc
	writes map[uint32]any
}

func (s *DescriptorSet) hasBinding(binding uint32) bool {
	for _, b := range s.layout.Bindings {
		if b.Binding == binding {
			return true
		}
	}
	return false
}

func (s *DescriptorSet) WriteBuffer(binding uint32, buf gpu.Buffer, offset, size uint64) error {
	if !s.hasBinding(binding) {
		return fmt.Errorf("soft: descriptor set %d has no binding %d: %w", s.layout.Set, binding, ErrInvalidUsage)
	}
	s.writes[binding] = buf
	return nil
}

func (s *DescriptorSet) WriteInputAttachment(binding uint32, img gpu.Image) error {
	if !s.hasBinding(binding) {
		return fmt.Errorf("soft: descriptor set %d has no binding %d: %w", s.layout.Set, binding, ErrInvalidUsage)
	}
	s.writes[binding] = img
	return nil
}

func (s *DescriptorSet) Destroy() {}

type Semaphore struct {
	mu       sync.Mutex
	signaled bool
}

func (s *Semaphore) signal() {
	s.mu.Lock()
	s.signaled = true
	s.mu.Unlock()
}

// signalUnsignaled signals the semaphore, reporting false when it already was.
func (s *Semaphore) signalUnsignaled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.signaled {
		return false
	}
	s.signaled = true
	return true
}

// consume unsignals the semaphore, reporting whether it was signaled.
func (s *Semaphore) consume() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	was := s.signaled
	s.signaled = false
	return was
}

func (s *Semaphore) Destroy() {}

type Fence struct {
	dev      *Device
	mu       sync.Mutex
	signaled bool
	queued   bool
	done     chan struct{}
}

func newFence(d *Device, signaled bool) *Fence {
	f := &Fence{dev: d, done: make(chan struct{})}
	if signaled {
		f.signal()
	}
	return f
}

func (f *Fence) signal() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.signaled {
		f.signaled = true
		close(f.done)
	}
}

func (f *Fence) Signaled() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.signaled
}

func (f *Fence) isQueued() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.queued
}

func (f *Fence) setQueued(q bool) {
	f.mu.Lock()
	f.queued = q
	f.mu.Unlock()
}

func (f *Fence) Status() (bool, error) {
	return f.Signaled(), nil
}

func (f *Fence) Wait(timeout time.Duration) error {
	f.mu.Lock()
	done := f.done
	f.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-done:
		return nil
	case <-timer.C:
		return fmt.Errorf("soft: fence not signaled after %s: %w", timeout, core.ErrDeviceLost)
	}
}

func (f *Fence) Reset() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.queued {
		return fmt.Errorf("soft: reset fence of a pending submission: %w", ErrInUse)
	}
	if f.signaled {
		f.signaled = false
		f.done = make(chan struct{})
	}
	return nil
}

func (f *Fence) Destroy() {}
