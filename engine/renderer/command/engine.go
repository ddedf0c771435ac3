package command

import (
	"fmt"
	"time"

	"github.com/spaghettifunk/ember/engine/core"
	"github.com/spaghettifunk/ember/engine/renderer/framegraph"
	"github.com/spaghettifunk/ember/engine/renderer/gpu"
	"github.com/spaghettifunk/ember/engine/renderer/metadata"
	"github.com/spaghettifunk/ember/engine/renderer/pipeline"
	"github.com/spaghettifunk/ember/engine/renderer/resource"
)

type Config struct {
	FramesInFlight   int
	FenceTimeout     time.Duration
	GeometryCapacity int
	CommandBatch     int
	// ArenaBlockSize is the device memory block size of every arena the
	// engine owns. Zero selects resource.DefaultBlockSize.
	ArenaBlockSize uint64
	// IDs numbers resident geometry. Nil gives the engine a pool of its own.
	IDs *core.IDPool
}

func DefaultConfig() Config {
	return Config{
		FramesInFlight:   2,
		FenceTimeout:     2 * time.Second,
		GeometryCapacity: 256,
		CommandBatch:     4,
	}
}

type frameSlot struct {
	buf            *Buffer
	imageAvailable gpu.Semaphore
	renderFinished gpu.Semaphore
}

// Readback is a copy of one attachment in its own texel format.
type Readback struct {
	Data   []byte
	Format metadata.Format
	Extent metadata.Extent2D
}

// Engine records one frame at a time on the calling goroutine. A frame is
// Begin, then for every target BeginTarget, UsePipeline and Draw calls,
// EndTarget, and finally End.
type Engine struct {
	noCopy core.NoCopy

	dev gpu.Device
	cfg Config

	pool     *Pool
	slots    []frameSlot
	slot     int
	frame    uint64
	retired  *resource.RetireQueue
	uploader *resource.Uploader
	geometry *GeometryCache

	deviceArena  *resource.Arena
	hostArena    *resource.Arena
	stagingArena *resource.Arena

	// recording state
	buf           *Buffer
	target        *framegraph.RenderTarget
	framebuffer   int
	presenting    bool
	presentTo     gpu.Swapchain
	imageIndex    uint32
	subpass       uint32
	pipelines     int
	pipeline      *pipeline.Pipeline
	firstInstance uint32
	lastFrame     map[*framegraph.RenderTarget]int
}

func New(dev gpu.Device, cfg Config) (*Engine, error) {
	if cfg.FramesInFlight < 1 {
		return nil, core.NewConfigError("command.New", core.ErrInvalidHandle, "frames in flight %d", cfg.FramesInFlight)
	}
	if cfg.FenceTimeout <= 0 {
		cfg.FenceTimeout = DefaultConfig().FenceTimeout
	}

	e := &Engine{
		dev:       dev,
		cfg:       cfg,
		pool:      NewPool(dev, cfg.CommandBatch),
		slots:     make([]frameSlot, cfg.FramesInFlight),
		retired:   resource.NewRetireQueue(),
		lastFrame: map[*framegraph.RenderTarget]int{},
	}
	e.noCopy.Init()

	e.deviceArena = resource.NewArena(dev, "device", metadata.MemoryDeviceLocal, cfg.ArenaBlockSize)
	e.hostArena = resource.NewArena(dev, "host", metadata.MemoryHostVisible|metadata.MemoryHostCoherent, cfg.ArenaBlockSize)
	e.stagingArena = resource.NewArena(dev, "staging", metadata.MemoryHostVisible|metadata.MemoryHostCoherent, cfg.ArenaBlockSize)

	for i := range e.slots {
		available, err := dev.CreateSemaphore()
		if err != nil {
			e.Destroy()
			return nil, fmt.Errorf("frame %d semaphore: %w", i, err)
		}
		finished, err := dev.CreateSemaphore()
		if err != nil {
			available.Destroy()
			e.Destroy()
			return nil, fmt.Errorf("frame %d semaphore: %w", i, err)
		}
		e.slots[i] = frameSlot{imageAvailable: available, renderFinished: finished}
	}

	uploader, err := resource.NewUploader(dev, e.stagingArena, cfg.FenceTimeout)
	if err != nil {
		e.Destroy()
		return nil, err
	}
	e.uploader = uploader
	ids := cfg.IDs
	if ids == nil {
		ids = core.NewIDPool()
	}
	e.geometry = NewGeometryCache(dev, e.deviceArena, uploader, ids, cfg.GeometryCapacity, e.Retire)

	core.LogInfo("command engine ready on %s: %d frames in flight, fence timeout %s", dev.Name(), cfg.FramesInFlight, cfg.FenceTimeout)
	return e, nil
}

func (e *Engine) Device() gpu.Device               { return e.dev }
func (e *Engine) Slot() int                        { return e.slot }
func (e *Engine) FrameNumber() uint64              { return e.frame }
func (e *Engine) FramesInFlight() int              { return e.cfg.FramesInFlight }
func (e *Engine) Pool() *Pool                      { return e.pool }
func (e *Engine) Geometry() *GeometryCache         { return e.geometry }
func (e *Engine) Uploader() *resource.Uploader     { return e.uploader }
func (e *Engine) HostArena() *resource.Arena       { return e.hostArena }
func (e *Engine) DeviceArena() *resource.Arena     { return e.deviceArena }
func (e *Engine) Pipeline() *pipeline.Pipeline     { return e.pipeline }
func (e *Engine) Recording() bool                  { return e.buf != nil }
func (e *Engine) Target() *framegraph.RenderTarget { return e.target }

// Retire releases fn once the frame being recorded has completed.
func (e *Engine) Retire(fn func()) {
	e.retired.Retire(e.frame, fn)
}

// Begin starts frame recording. It polls finished work and blocks only
// when the buffer of this slot, submitted FramesInFlight frames ago, has
// not signaled yet.
func (e *Engine) Begin() error {
	e.noCopy.Check()
	if e.buf != nil {
		return core.NewConfigError("Engine.Begin", core.ErrInvalidHandle, "frame %d already begun", e.frame)
	}
	if _, err := e.pool.Collect(); err != nil {
		return err
	}
	slot := &e.slots[e.slot]
	if slot.buf != nil && slot.buf.state == StatePending {
		if err := resource.Wait(slot.buf.fence, e.cfg.FenceTimeout); err != nil {
			return fmt.Errorf("frame %d slot %d: %w", e.frame, e.slot, err)
		}
		if _, err := e.pool.Collect(); err != nil {
			return err
		}
	}
	if frames := uint64(e.cfg.FramesInFlight); e.frame >= frames {
		e.retired.Collect(e.frame - frames)
	}

	buf, err := e.pool.Acquire()
	if err != nil {
		return err
	}
	e.buf = buf
	e.presenting = false
	return nil
}

// BeginTarget begins the renderpass of rt over area. A presentable target
// acquires the next swapchain image first. When that fails the frame is
// abandoned; an out-of-date swapchain is recoverable.
func (e *Engine) BeginTarget(rt *framegraph.RenderTarget, area metadata.Rect2D) error {
	if e.buf == nil {
		return core.NewConfigError("Engine.BeginTarget", core.ErrNotRecording, "")
	}
	if e.target != nil {
		return core.NewConfigError("Engine.BeginTarget", core.ErrInvalidHandle, "target %q is still open", e.target.Name())
	}

	fb := e.slot % rt.FrameCount()
	if rt.Presentable() {
		if e.presenting {
			return core.NewConfigError("Engine.BeginTarget", core.ErrInvalidHandle, "frame %d already presents", e.frame)
		}
		index, err := rt.Swapchain().Acquire(e.slots[e.slot].imageAvailable, e.cfg.FenceTimeout)
		if err != nil {
			e.Abort()
			return fmt.Errorf("acquire for %q: %w", rt.Name(), err)
		}
		e.presenting = true
		e.presentTo = rt.Swapchain()
		e.imageIndex = index
		fb = int(index)
	}

	cmd := e.buf.cmd
	cmd.BeginRenderPass(rt.RenderPass(), rt.Framebuffer(fb), area, rt.ClearValues())
	cmd.SetViewport(metadata.ViewportFor(area))
	cmd.SetScissor(area)

	e.target = rt
	e.framebuffer = fb
	e.lastFrame[rt] = fb
	e.subpass = 0
	e.pipelines = 0
	e.pipeline = nil
	e.firstInstance = 0
	return nil
}

// UsePipeline binds p. Every pipeline after the first of a target moves
// recording to the next subpass, and p must be built for that subpass.
func (e *Engine) UsePipeline(p *pipeline.Pipeline) error {
	if e.target == nil {
		return core.NewConfigError("Engine.UsePipeline", core.ErrNotRecording, "no target begun")
	}
	subpass := e.subpass
	if e.pipelines > 0 {
		subpass++
	}
	if subpass >= e.target.SubpassCount() {
		return core.NewConfigError("Engine.UsePipeline", core.ErrInvalidHandle,
			"pipeline %q needs subpass %d, target %q has %d", p.Name(), subpass, e.target.Name(), e.target.SubpassCount())
	}
	if p.Subpass() != subpass {
		return core.NewConfigError("Engine.UsePipeline", core.ErrInvalidHandle,
			"pipeline %q is built for subpass %d, recording subpass %d", p.Name(), p.Subpass(), subpass)
	}
	if subpass != e.subpass {
		e.buf.cmd.NextSubpass()
		e.subpass = subpass
	}
	e.bind(p)
	e.pipelines++
	return nil
}

// RebindPipeline switches to p within the current subpass.
func (e *Engine) RebindPipeline(p *pipeline.Pipeline) error {
	if e.pipeline == nil {
		return core.NewConfigError("Engine.RebindPipeline", core.ErrNoPipelineBound, "")
	}
	if p.Subpass() != e.subpass {
		return core.NewConfigError("Engine.RebindPipeline", core.ErrInvalidHandle,
			"pipeline %q is built for subpass %d, recording subpass %d", p.Name(), p.Subpass(), e.subpass)
	}
	e.bind(p)
	return nil
}

func (e *Engine) bind(p *pipeline.Pipeline) {
	e.buf.cmd.BindPipeline(p.Handle())
	e.pipeline = p
	e.firstInstance = 0
}

// BindInstanceBuffer binds the per-instance transforms read by the next
// draws and restarts the instance counter.
func (e *Engine) BindInstanceBuffer(buf *resource.Buffer, offset uint64) error {
	if e.pipeline == nil {
		return core.NewConfigError("Engine.BindInstanceBuffer", core.ErrNoPipelineBound, "")
	}
	e.buf.cmd.BindVertexBuffers(gpu.InstanceBinding, []gpu.Buffer{buf.Handle()}, []uint64{offset})
	e.firstInstance = 0
	return nil
}

// BindDescriptorSet binds ds at set for the current pipeline.
func (e *Engine) BindDescriptorSet(set uint32, ds gpu.DescriptorSet) error {
	if e.pipeline == nil {
		return core.NewConfigError("Engine.BindDescriptorSet", core.ErrNoPipelineBound, "")
	}
	e.buf.cmd.BindDescriptorSet(e.pipeline.Handle(), set, ds)
	return nil
}

// PushConstants writes data into the push constant range called name. A
// name the pipeline layout does not declare returns a *pipeline.BindError.
func (e *Engine) PushConstants(name string, data []byte) error {
	if e.pipeline == nil {
		return core.NewConfigError("Engine.PushConstants", core.ErrNoPipelineBound, "")
	}
	pc, err := e.pipeline.Layout().PushConstant(name)
	if err != nil {
		return err
	}
	if uint32(len(data)) > pc.Size {
		return core.NewConfigError("Engine.PushConstants", core.ErrLayoutMismatch,
			"%d bytes for push constant %q of %d", len(data), name, pc.Size)
	}
	e.buf.cmd.PushConstants(e.pipeline.Handle(), pc.Stages, pc.Offset, data)
	return nil
}

// Draw issues instances copies of geom starting at the running instance
// offset, then advances the offset.
func (e *Engine) Draw(geom *metadata.Geometry, instances uint32) error {
	if e.target == nil {
		return core.NewConfigError("Engine.Draw", core.ErrNotRecording, "no target begun")
	}
	if e.pipeline == nil {
		return core.NewConfigError("Engine.Draw", core.ErrNoPipelineBound, "draw of %q", geom.Name)
	}
	if instances == 0 {
		return nil
	}
	buffers, err := e.geometry.Get(geom, e.frame)
	if err != nil {
		return err
	}
	cmd := e.buf.cmd
	cmd.BindVertexBuffers(gpu.VertexBinding, []gpu.Buffer{buffers.Vertices.Handle()}, []uint64{0})
	cmd.BindIndexBuffer(buffers.Indices.Handle(), 0, metadata.IndexTypeUint32)
	cmd.DrawIndexed(buffers.IndexCount, instances, 0, 0, e.firstInstance)
	e.firstInstance += instances
	return nil
}

// FirstInstance is the instance offset the next Draw starts at.
func (e *Engine) FirstInstance() uint32 { return e.firstInstance }

// Subpass is the subpass being recorded.
func (e *Engine) Subpass() uint32 { return e.subpass }

// EndTarget steps through the subpasses nothing drew into and ends the
// renderpass of rt.
func (e *Engine) EndTarget(rt *framegraph.RenderTarget) error {
	if e.target == nil || e.target != rt {
		return core.NewConfigError("Engine.EndTarget", core.ErrInvalidHandle, "target %q is not open", rt.Name())
	}
	cmd := e.buf.cmd
	for e.subpass+1 < rt.SubpassCount() {
		cmd.NextSubpass()
		e.subpass++
	}
	cmd.EndRenderPass()
	e.target = nil
	e.pipeline = nil
	return nil
}

// End submits the frame and presents it when a presentable target was
// recorded. The slot advances even when presenting fails, because the
// submission went through.
func (e *Engine) End() error {
	if e.buf == nil {
		return core.NewConfigError("Engine.End", core.ErrNotRecording, "")
	}
	if e.target != nil {
		return core.NewConfigError("Engine.End", core.ErrInvalidHandle, "target %q is still open", e.target.Name())
	}

	slot := &e.slots[e.slot]
	info := gpu.SubmitInfo{}
	if e.presenting {
		info.Wait = []gpu.Semaphore{slot.imageAvailable}
		info.WaitStages = []metadata.PipelineStage{metadata.StageColorAttachmentOutput}
		info.Signal = []gpu.Semaphore{slot.renderFinished}
	}
	buf := e.buf
	e.buf = nil
	if err := e.pool.Submit(gpu.QueueGraphics, buf, info); err != nil {
		return fmt.Errorf("frame %d: %w", e.frame, err)
	}
	slot.buf = buf

	var presentErr error
	if e.presenting {
		if err := e.presentTo.Present(e.imageIndex, []gpu.Semaphore{slot.renderFinished}); err != nil {
			presentErr = fmt.Errorf("present frame %d: %w", e.frame, err)
		}
	}
	e.presenting = false
	e.frame++
	e.slot = int(e.frame % uint64(e.cfg.FramesInFlight))
	return presentErr
}

// Abort drops the frame being recorded without submitting its commands.
// A swapchain image the frame already acquired is handed back: an empty
// submission consumes the acquire semaphore and the image is presented as
// it is.
func (e *Engine) Abort() {
	if e.buf == nil {
		return
	}
	buf := e.buf
	e.pool.Release(buf)
	e.buf = nil
	e.target = nil
	e.pipeline = nil
	if e.presenting {
		e.presenting = false
		if err := e.returnImage(buf); err != nil {
			core.LogError("abort frame %d: %s", e.frame, err)
		}
	}
}

func (e *Engine) returnImage(buf *Buffer) error {
	if err := buf.cmd.Begin(false); err != nil {
		return fmt.Errorf("begin command buffer: %w", err)
	}
	buf.state = StateRecording
	slot := &e.slots[e.slot]
	if err := e.pool.Submit(gpu.QueueGraphics, buf, gpu.SubmitInfo{
		Wait:       []gpu.Semaphore{slot.imageAvailable},
		WaitStages: []metadata.PipelineStage{metadata.StageColorAttachmentOutput},
		Signal:     []gpu.Semaphore{slot.renderFinished},
	}); err != nil {
		return err
	}
	slot.buf = buf
	return e.presentTo.Present(e.imageIndex, []gpu.Semaphore{slot.renderFinished})
}

// LastFramebuffer is the framebuffer index rt was last recorded into.
func (e *Engine) LastFramebuffer(rt *framegraph.RenderTarget) int {
	return e.lastFrame[rt]
}

// WaitIdle blocks until the device finished all submitted work and
// releases everything retired so far.
func (e *Engine) WaitIdle() error {
	if err := e.dev.WaitIdle(); err != nil {
		return err
	}
	if _, err := e.pool.Collect(); err != nil {
		return err
	}
	if e.frame > 0 {
		e.retired.Collect(e.frame - 1)
	}
	return nil
}

// ReadAttachment copies the image backing h in framebuffer frame of rt to
// host memory. It waits for the device twice and must not be called while
// a frame is being recorded.
func (e *Engine) ReadAttachment(rt *framegraph.RenderTarget, h framegraph.AttachmentHandle, frame int) (*Readback, error) {
	if e.buf != nil {
		return nil, core.NewConfigError("Engine.ReadAttachment", core.ErrInvalidHandle, "frame %d is recording", e.frame)
	}
	img, err := rt.Image(frame, h)
	if err != nil {
		return nil, err
	}
	extent := img.Extent()
	size := uint64(extent.Width) * uint64(extent.Height) * uint64(img.Format().BytesPerPixel())
	dst, err := resource.NewBuffer(e.dev, e.hostArena, rt.Name()+".readback", size, metadata.BufferUsageTransferDst)
	if err != nil {
		return nil, err
	}
	defer dst.Destroy()

	if err := e.WaitIdle(); err != nil {
		return nil, err
	}
	buf, err := e.pool.Acquire()
	if err != nil {
		return nil, err
	}
	buf.cmd.CopyImageToBuffer(img, dst.Handle())
	if err := e.pool.Submit(gpu.QueueGraphics, buf, gpu.SubmitInfo{}); err != nil {
		return nil, err
	}
	if err := e.WaitIdle(); err != nil {
		return nil, err
	}

	out := &Readback{Data: make([]byte, size), Format: img.Format(), Extent: extent}
	if err := dst.Read(0, out.Data); err != nil {
		return nil, err
	}
	return out, nil
}

// Destroy waits for the device and releases everything the engine owns.
func (e *Engine) Destroy() {
	if !e.noCopy.Alive() {
		return
	}
	if err := e.dev.WaitIdle(); err != nil {
		core.LogError("command engine: wait idle: %s", err)
	}
	if e.geometry != nil {
		e.geometry.Destroy()
	}
	e.retired.Flush()
	if e.uploader != nil {
		e.uploader.Destroy()
	}
	e.pool.Destroy()
	for _, s := range e.slots {
		if s.imageAvailable != nil {
			s.imageAvailable.Destroy()
			s.renderFinished.Destroy()
		}
	}
	e.deviceArena.Destroy()
	e.hostArena.Destroy()
	e.stagingArena.Destroy()
	e.noCopy.Close()
	core.LogDebug("command engine destroyed after %d frames", e.frame)
}
