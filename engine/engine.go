package engine

import (
	"errors"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/spaghettifunk/ember/engine/assets"
	"github.com/spaghettifunk/ember/engine/config"
	"github.com/spaghettifunk/ember/engine/core"
	"github.com/spaghettifunk/ember/engine/platform"
	"github.com/spaghettifunk/ember/engine/renderer/capture"
	"github.com/spaghettifunk/ember/engine/renderer/command"
	"github.com/spaghettifunk/ember/engine/renderer/framegraph"
	"github.com/spaghettifunk/ember/engine/renderer/gpu"
	"github.com/spaghettifunk/ember/engine/renderer/metadata"
	"github.com/spaghettifunk/ember/engine/renderer/pipeline"
	"github.com/spaghettifunk/ember/engine/renderer/scene"
)

type Stage uint8

const (
	// Engine is in an uninitialized state
	EngineStageUninitialized Stage = iota
	// Engine is currently booting up
	EngineStageBooting
	// Engine completed boot process and is ready to be initialized
	EngineStageBootComplete
	// Engine is currently initializing
	EngineStageInitializing
	// Engine initialization is complete
	EngineStageInitialized
	// Engine is currently running
	EngineStageRunning
	// Engine is in the process of shutting down
	EngineStageShuttingDown
)

const (
	// suspendedPoll is how long a minimized window sleeps between event polls.
	suspendedPoll = 10 * time.Millisecond
	jobQueueSize  = 64
)

// EngineContext owns every subsystem for the lifetime of the program. It is
// created once by New, passed by pointer, and never copied.
type EngineContext struct {
	noCopy core.NoCopy

	id           uuid.UUID
	currentStage Stage
	game         Game
	cfg          *config.Config
	maxFrames    uint64

	bus     *core.EventBus
	ids     *core.IDPool
	clock   *core.Clock
	metrics *core.Metrics
	jobs    *core.JobSystem

	window    Window
	device    gpu.Device
	graph     *framegraph.Graph
	target    *framegraph.RenderTarget
	commands  *command.Engine
	pipelines *pipeline.Cache
	batcher   *scene.Batcher
	scene     *scene.Renderer
	shaders   *ShaderLibrary
	watcher   *assets.Watcher

	reloadMutex sync.Mutex
	reloads     []string

	isRunning     bool
	isSuspended   bool
	resizePending bool
	width         uint32
	height        uint32
	lastTime      float64
	screenshots   []string
}

// New brings up the device and every subsystem, then initializes the game.
// A nil cfg selects config.Default.
func New(game Game, cfg *config.Config, opts ...Option) (*EngineContext, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := core.SetLogLevel(cfg.Log.Level); err != nil {
		return nil, err
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	e := &EngineContext{
		id:           uuid.New(),
		currentStage: EngineStageBooting,
		game:         game,
		cfg:          cfg,
		maxFrames:    o.maxFrames,
		bus:          core.NewEventBus(),
		ids:          core.NewIDPool(),
		clock:        core.NewClock(),
		metrics:      core.NewMetrics(),
	}
	e.noCopy.Init()

	if o.device != nil {
		e.device, e.window = o.device, o.window
		if e.window == nil {
			e.window = &headlessWindow{width: cfg.Window.Width, height: cfg.Window.Height}
		}
	} else {
		dev, win, err := createDevice(cfg, e.bus)
		if err != nil {
			return nil, err
		}
		e.device, e.window = dev, win
	}
	e.width, e.height = e.window.FramebufferSize()
	core.Logger().Info("engine booting", "id", e.id, "device", describe(e.device))

	if err := e.boot(); err != nil {
		e.Shutdown()
		return nil, err
	}
	e.currentStage = EngineStageBootComplete

	e.currentStage = EngineStageInitializing
	if err := e.game.Initialize(e); err != nil {
		e.Shutdown()
		return nil, fmt.Errorf("game initialize: %w", err)
	}
	if e.target == nil {
		e.Shutdown()
		return nil, core.NewConfigError("engine.New", core.ErrNoPasses, "game did not set a render graph")
	}
	e.currentStage = EngineStageInitialized
	return e, nil
}

func (e *EngineContext) boot() error {
	jobs, err := core.NewJobSystem(runtime.NumCPU(), jobQueueSize)
	if err != nil {
		return err
	}
	e.jobs = jobs

	rc := e.cfg.Renderer
	commands, err := command.New(e.device, command.Config{
		FramesInFlight:   rc.FramesInFlight,
		FenceTimeout:     rc.FenceTimeout.Duration,
		GeometryCapacity: e.cfg.Cache.GeometryCapacity,
		CommandBatch:     rc.CommandBatch,
		IDs:              e.ids,
	})
	if err != nil {
		return err
	}
	e.commands = commands
	e.pipelines = pipeline.NewCache(e.device, e.cfg.Cache.PipelineIdleFrames, rc.FramesInFlight)
	e.batcher = scene.NewBatcher()
	e.scene = scene.NewRenderer(rc.BatchCapacity)
	e.shaders = NewShaderLibrary(e.cfg.Assets.ShaderDir)

	if e.cfg.Assets.Watch {
		w, err := assets.NewWatcher(assets.DefaultDebounce, e.queueReload)
		if err != nil {
			return err
		}
		if err := w.AddRecursive(e.cfg.Assets.ShaderDir); err != nil {
			core.LogWarn("shader hot reload disabled: %s", err)
			_ = w.Close()
		} else {
			e.watcher = w
		}
	}

	// register some events
	e.bus.Register(core.EVENT_CODE_APPLICATION_QUIT, e, e.onEvent)
	e.bus.Register(core.EVENT_CODE_KEY_PRESSED, e, e.onKey)
	e.bus.Register(core.EVENT_CODE_KEY_RELEASED, e, e.onKey)
	e.bus.Register(core.EVENT_CODE_RESIZED, e, e.onResized)
	return nil
}

// UseGraph builds the render target of graph for the swapchain, or an
// offscreen one on a headless device. A previous target is destroyed.
func (e *EngineContext) UseGraph(graph *framegraph.Graph) (*framegraph.RenderTarget, error) {
	var (
		rt  *framegraph.RenderTarget
		err error
	)
	if sc := e.device.Swapchain(); sc != nil {
		rt, err = graph.CreateSwapchainRenderTarget(e.device, sc)
	} else {
		rt, err = graph.CreateRenderTarget(e.device, metadata.Extent2D{Width: e.width, Height: e.height}, e.cfg.Renderer.FramesInFlight)
	}
	if err != nil {
		return nil, err
	}
	if e.target != nil {
		if err := e.commands.WaitIdle(); err != nil {
			rt.Destroy()
			return nil, err
		}
		e.target.Destroy()
	}
	e.graph = graph
	e.target = rt
	core.Logger().Info("render graph in use", "graph", graph.Name(), "target", rt.ID(), "subpasses", rt.SubpassCount())
	return rt, nil
}

// DrawScene records everything added to the batcher this frame.
func (e *EngineContext) DrawScene(resolve scene.Resolver) error {
	return e.scene.Submit(e.commands, e.batcher.Build(), resolve)
}

// Screenshot saves the present attachment after the next submitted frame.
func (e *EngineContext) Screenshot(path string) {
	e.screenshots = append(e.screenshots, path)
}

// Quit stops the loop at the end of the current iteration.
func (e *EngineContext) Quit() {
	e.bus.Post(core.EVENT_CODE_APPLICATION_QUIT, e, core.EventContext{})
}

func (e *EngineContext) Run() error {
	e.noCopy.Check()
	if e.currentStage != EngineStageInitialized {
		return core.NewConfigError("engine.Run", core.ErrInvalidHandle, "engine is in stage %d", e.currentStage)
	}
	e.currentStage = EngineStageRunning
	e.isRunning = true

	e.clock.Start()
	e.clock.Update()
	e.lastTime = e.clock.Elapsed()

	for e.isRunning {
		e.window.PollEvents()
		e.bus.Dispatch()
		if !e.isRunning || !e.window.IsOpen() {
			break
		}
		e.applyReloads()

		if e.resizePending {
			if err := e.resize(); err != nil {
				return e.fail("resize", err)
			}
			if e.isSuspended {
				time.Sleep(suspendedPoll)
			}
			continue
		}

		e.clock.Update()
		currentTime := e.clock.Elapsed()
		delta := currentTime - e.lastTime
		e.lastTime = currentTime
		frameStartTime := time.Now()

		if err := e.game.Update(delta); err != nil {
			return e.fail("game update", err)
		}
		if err := e.frame(delta); err != nil {
			if core.IsRecoverable(err) {
				core.LogDebug("frame skipped: %s", err)
				e.resizePending = true
				continue
			}
			return e.fail("frame", err)
		}

		e.pipelines.Advance()
		e.metrics.Update(time.Since(frameStartTime).Seconds())

		if e.maxFrames > 0 && e.commands.FrameNumber() >= e.maxFrames {
			e.isRunning = false
		}
	}
	return nil
}

func (e *EngineContext) frame(delta float64) error {
	if err := e.commands.Begin(); err != nil {
		return err
	}
	fc := &FrameContext{
		Number:    e.commands.FrameNumber(),
		Slot:      e.commands.Slot(),
		DeltaTime: delta,
		Target:    e.target,
		Area:      metadata.Rect2D{Extent: e.target.Extent()},
		Commands:  e.commands,
	}
	err := e.game.Render(e, fc)
	e.batcher.Reset()
	if err != nil {
		e.commands.Abort()
		return err
	}
	if err := e.commands.End(); err != nil {
		return err
	}
	e.takeScreenshots()
	return nil
}

func (e *EngineContext) takeScreenshots() {
	if len(e.screenshots) == 0 {
		return
	}
	paths := e.screenshots
	e.screenshots = nil

	rb, err := e.commands.ReadAttachment(e.target, e.graph.PresentAttachment(), e.commands.LastFramebuffer(e.target))
	if err != nil {
		core.LogError("screenshot failed: %s", err)
		return
	}
	img, err := capture.Image(rb.Data, rb.Extent, rb.Format)
	if err != nil {
		core.LogError("screenshot failed: %s", err)
		return
	}
	for _, path := range paths {
		if err := capture.SaveBMP(path, img); err != nil {
			core.LogError("screenshot failed: %s", err)
		}
	}
}

// resize rebuilds the swapchain and the render target for the current
// framebuffer size. A zero size suspends the loop until the window is
// restored.
func (e *EngineContext) resize() error {
	width, height := e.window.FramebufferSize()
	if width == 0 || height == 0 {
		if !e.isSuspended {
			core.LogInfo("Window minimized, suspending application.")
			e.isSuspended = true
		}
		return nil
	}
	if e.isSuspended {
		core.LogInfo("Window restored, resuming application.")
		e.isSuspended = false
	}

	if err := e.commands.WaitIdle(); err != nil {
		return err
	}
	extent := metadata.Extent2D{Width: width, Height: height}
	if sc := e.device.Swapchain(); sc != nil {
		if err := sc.Recreate(width, height); err != nil {
			if core.IsRecoverable(err) {
				// the surface changed again, retry next iteration
				return nil
			}
			return err
		}
		extent = sc.Extent()
	}
	if err := e.target.Resize(extent); err != nil {
		return err
	}
	e.resizePending = false
	e.width, e.height = extent.Width, extent.Height
	core.Logger().Info("resized", "width", extent.Width, "height", extent.Height)
	e.game.OnResize(extent.Width, extent.Height)
	return nil
}

func (e *EngineContext) fail(op string, err error) error {
	var de *core.DeviceError
	if errors.As(err, &de) {
		core.Logger().Error("fatal device error", "during", op, "op", de.Op, "code", de.Code, "result", de.Result)
	} else {
		core.Logger().Error("engine stopped", "during", op, "err", err)
	}
	e.isRunning = false
	return fmt.Errorf("%s: %w", op, err)
}

func (e *EngineContext) queueReload(path string) {
	e.reloadMutex.Lock()
	defer e.reloadMutex.Unlock()
	e.reloads = append(e.reloads, path)
}

func (e *EngineContext) applyReloads() {
	e.reloadMutex.Lock()
	paths := e.reloads
	e.reloads = nil
	e.reloadMutex.Unlock()

	for _, path := range paths {
		known, err := e.shaders.Reload(path)
		if err != nil {
			core.LogError("shader reload failed, keeping previous version: %s", err)
			continue
		}
		if known {
			e.pipelines.InvalidateShader(path)
		}
	}
}

// Shutdown releases everything in reverse order of creation. It is safe to
// call more than once and on a partially booted engine.
func (e *EngineContext) Shutdown() {
	if !e.noCopy.Alive() {
		return
	}
	initialized := e.currentStage >= EngineStageInitializing
	e.currentStage = EngineStageShuttingDown
	e.isRunning = false

	if initialized && e.game != nil {
		e.game.Shutdown()
	}
	if e.watcher != nil {
		_ = e.watcher.Close()
		e.watcher = nil
	}
	if e.jobs != nil {
		e.jobs.Shutdown()
	}
	if e.commands != nil {
		if err := e.commands.WaitIdle(); err != nil {
			core.LogError("wait idle on shutdown: %s", err)
		}
	}
	if e.scene != nil {
		e.scene.Destroy()
	}
	if e.pipelines != nil {
		e.pipelines.Destroy()
	}
	if e.target != nil {
		e.target.Destroy()
		e.target = nil
	}
	var frames uint64
	if e.commands != nil {
		frames = e.commands.FrameNumber()
		e.commands.Destroy()
		e.commands = nil
	}
	for _, code := range []core.SystemEventCode{core.EVENT_CODE_APPLICATION_QUIT, core.EVENT_CODE_KEY_PRESSED, core.EVENT_CODE_KEY_RELEASED, core.EVENT_CODE_RESIZED} {
		e.bus.Unregister(code, e)
	}
	if e.device != nil {
		e.device.Destroy()
		e.device = nil
	}
	if e.window != nil {
		if err := e.window.Shutdown(); err != nil {
			core.LogError("window shutdown: %s", err)
		}
	}
	core.Logger().Info("engine shut down", "id", e.id, "frames", frames)
	e.noCopy.Close()
}

func (e *EngineContext) onEvent(code core.SystemEventCode, sender interface{}, listener interface{}, data core.EventContext) bool {
	switch code {
	case core.EVENT_CODE_APPLICATION_QUIT:
		core.LogInfo("EVENT_CODE_APPLICATION_QUIT received, shutting down.")
		e.isRunning = false
		return true
	}
	return false
}

func (e *EngineContext) onKey(code core.SystemEventCode, sender interface{}, listener interface{}, data core.EventContext) bool {
	keyCode := data.Data.U16[0]
	if code == core.EVENT_CODE_KEY_PRESSED && keyCode == platform.KeyEscape {
		e.bus.Fire(core.EVENT_CODE_APPLICATION_QUIT, e, core.EventContext{})
		return true
	}
	return false
}

// onResized only marks the target stale. The rebuild happens at the top of
// the next loop iteration, outside of any frame.
func (e *EngineContext) onResized(code core.SystemEventCode, sender interface{}, listener interface{}, data core.EventContext) bool {
	width, height := data.Data.U32[0], data.Data.U32[1]
	if width != e.width || height != e.height {
		core.LogDebug("Window resize: %d, %d", width, height)
		e.resizePending = true
	}
	return false
}

func (e *EngineContext) ID() uuid.UUID                    { return e.id }
func (e *EngineContext) Stage() Stage                     { return e.currentStage }
func (e *EngineContext) Config() *config.Config           { return e.cfg }
func (e *EngineContext) Events() *core.EventBus           { return e.bus }
func (e *EngineContext) IDs() *core.IDPool                { return e.ids }
func (e *EngineContext) Clock() *core.Clock               { return e.clock }
func (e *EngineContext) Metrics() *core.Metrics           { return e.metrics }
func (e *EngineContext) Jobs() *core.JobSystem            { return e.jobs }
func (e *EngineContext) Window() Window                   { return e.window }
func (e *EngineContext) Device() gpu.Device               { return e.device }
func (e *EngineContext) Graph() *framegraph.Graph         { return e.graph }
func (e *EngineContext) Target() *framegraph.RenderTarget { return e.target }
func (e *EngineContext) Commands() *command.Engine        { return e.commands }
func (e *EngineContext) Pipelines() *pipeline.Cache       { return e.pipelines }
func (e *EngineContext) Batcher() *scene.Batcher          { return e.batcher }
func (e *EngineContext) Scene() *scene.Renderer           { return e.scene }
func (e *EngineContext) Shaders() *ShaderLibrary          { return e.shaders }
func (e *EngineContext) Extent() metadata.Extent2D {
	return metadata.Extent2D{Width: e.width, Height: e.height}
}
