package engine

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/image/bmp"

	"github.com/spaghettifunk/ember/engine/config"
	"github.com/spaghettifunk/ember/engine/core"
	"github.com/spaghettifunk/ember/engine/math"
	"github.com/spaghettifunk/ember/engine/platform"
	"github.com/spaghettifunk/ember/engine/renderer/framegraph"
	"github.com/spaghettifunk/ember/engine/renderer/metadata"
	"github.com/spaghettifunk/ember/engine/renderer/pipeline"
	"github.com/spaghettifunk/ember/engine/renderer/scene"
	"github.com/spaghettifunk/ember/engine/renderer/soft"
)

const testSize = 32

var flat = &metadata.Material{Name: "flat", Shaders: []string{"flat.vert.spv", "flat.frag.spv"}}

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Window.Width, cfg.Window.Height = testSize, testSize
	cfg.Renderer.Backend = config.BackendSoftware
	cfg.Log.Level = "error"
	return cfg
}

func testDevice() *soft.Device {
	return soft.New(soft.Options{
		SwapchainImages: 3,
		SwapchainExtent: metadata.Extent2D{Width: testSize, Height: testSize},
	})
}

func flatShaders() []metadata.Shader {
	vert := metadata.ShaderReflection{
		Stage: metadata.ShaderStageVertex,
		Inputs: []metadata.VertexAttribute{
			{Name: "in_position", Location: 0, Format: metadata.FormatR32G32B32Sfloat, Offset: 0},
			{Name: "in_color", Location: 1, Format: metadata.FormatR32G32B32Sfloat, Offset: 12},
		},
	}
	for col := uint32(0); col < 4; col++ {
		vert.Inputs = append(vert.Inputs, metadata.VertexAttribute{
			Name:     "in_model",
			Location: pipeline.InstanceModelLocation + col,
			Format:   metadata.FormatR32G32B32A32Sfloat,
			Offset:   col * 16,
		})
	}
	return []metadata.Shader{
		{Path: "flat.vert.spv", Reflection: vert},
		{Path: "flat.frag.spv", Reflection: metadata.ShaderReflection{Stage: metadata.ShaderStageFragment}},
	}
}

// testGame draws one red triangle per frame and records what the loop asked
// of it. Hooks run inside Render before the target is begun.
type testGame struct {
	noGraph bool
	hooks   map[uint64]func(ctx *EngineContext)

	updates   int
	renders   int
	resizes   []metadata.Extent2D
	shutdowns int
}

func (g *testGame) Initialize(ctx *EngineContext) error {
	for _, s := range flatShaders() {
		ctx.Shaders().Register(s)
	}
	if g.noGraph {
		return nil
	}
	graph := framegraph.New("test")
	color, err := graph.AddColorAttachment(metadata.FormatB8G8R8A8Unorm, framegraph.WithClearColor(0, 0, 0, 1))
	if err != nil {
		return err
	}
	if err := graph.SetPresentAttachment(color); err != nil {
		return err
	}
	pass, err := graph.AddPass("main")
	if err != nil {
		return err
	}
	if err := pass.AddColorAttachment(color); err != nil {
		return err
	}
	_, err = ctx.UseGraph(graph)
	return err
}

func (g *testGame) Update(deltaTime float64) error {
	g.updates++
	return nil
}

func (g *testGame) Render(ctx *EngineContext, frame *FrameContext) error {
	g.renders++
	if hook, ok := g.hooks[frame.Number]; ok {
		delete(g.hooks, frame.Number)
		hook(ctx)
	}
	if err := frame.Commands.BeginTarget(frame.Target, frame.Area); err != nil {
		return err
	}
	ctx.Batcher().Add(scene.Drawable{
		Geometry:  metadata.Triangle(math.NewVec3(1, 0, 0)),
		Material:  flat,
		Transform: math.NewMat4Identity(),
	})
	if err := ctx.DrawScene(g.resolver(ctx)); err != nil {
		return err
	}
	return frame.Commands.EndTarget(frame.Target)
}

func (g *testGame) resolver(ctx *EngineContext) scene.Resolver {
	return func(m *metadata.Material) (*pipeline.Pipeline, error) {
		desc := pipeline.Desc{Name: m.Name, RenderPass: ctx.Target().RenderPass(), Instanced: true}
		for _, path := range m.Shaders {
			s, ok := ctx.Shaders().Get(path)
			if !ok {
				return nil, core.ErrInvalidHandle
			}
			desc.Shaders = append(desc.Shaders, s)
		}
		return ctx.Pipelines().Acquire(desc)
	}
}

func (g *testGame) OnResize(width uint32, height uint32) {
	g.resizes = append(g.resizes, metadata.Extent2D{Width: width, Height: height})
}

func (g *testGame) Shutdown() { g.shutdowns++ }

func newTestEngine(t *testing.T, game *testGame, dev *soft.Device, frames uint64) *EngineContext {
	t.Helper()
	e, err := New(game, testConfig(), WithDevice(dev, nil), WithMaxFrames(frames))
	require.NoError(t, err)
	t.Cleanup(e.Shutdown)
	return e
}

func TestRunStopsAfterMaxFrames(t *testing.T) {
	dev := testDevice()
	game := &testGame{}
	e := newTestEngine(t, game, dev, 3)
	assert.Equal(t, EngineStageInitialized, e.Stage())
	assert.Equal(t, metadata.Extent2D{Width: testSize, Height: testSize}, e.Extent())

	require.NoError(t, e.Run())
	assert.Equal(t, uint64(3), e.Commands().FrameNumber())
	assert.Equal(t, 3, game.renders)
	assert.Equal(t, 3, game.updates)
	assert.Empty(t, game.resizes)

	presented, _ := dev.SoftSwapchain().Presented()
	assert.Equal(t, 3, presented)
	assert.Equal(t, 1, e.Pipelines().Len(), "the pipeline is built once and reused")
	assert.Equal(t, 1, e.IDs().Live(), "one resident triangle")
}

func TestScreenshotCapturesPresentAttachment(t *testing.T) {
	path := filepath.Join(t.TempDir(), "shot.bmp")
	e := newTestEngine(t, &testGame{}, testDevice(), 1)
	e.Screenshot(path)
	require.NoError(t, e.Run())

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	img, err := bmp.Decode(f)
	require.NoError(t, err)
	require.Equal(t, testSize, img.Bounds().Dx())

	rgb := func(x, y int) [3]uint32 {
		r, g, b, _ := img.At(x, y).RGBA()
		return [3]uint32{r >> 8, g >> 8, b >> 8}
	}
	// vertices land on (16,8), (24,24) and (8,24)
	assert.Equal(t, [3]uint32{255, 0, 0}, rgb(16, 18))
	assert.Equal(t, [3]uint32{0, 0, 0}, rgb(1, 1))
	assert.Equal(t, [3]uint32{0, 0, 0}, rgb(30, 30))
}

func TestOutOfDateSwapchainTriggersResize(t *testing.T) {
	dev := testDevice()
	game := &testGame{hooks: map[uint64]func(*EngineContext){
		1: func(*EngineContext) { dev.SoftSwapchain().InjectOutOfDate() },
	}}
	e := newTestEngine(t, game, dev, 3)

	require.NoError(t, e.Run())
	assert.Equal(t, uint64(3), e.Commands().FrameNumber())
	// the skipped frame is rendered again after the rebuild
	assert.Equal(t, 4, game.renders)
	require.Len(t, game.resizes, 1)
	assert.Equal(t, metadata.Extent2D{Width: testSize, Height: testSize}, game.resizes[0])

	presented, _ := dev.SoftSwapchain().Presented()
	assert.Equal(t, 3, presented)
}

func TestEscapeQuits(t *testing.T) {
	game := &testGame{hooks: map[uint64]func(*EngineContext){
		1: func(ctx *EngineContext) {
			var data core.EventContext
			data.Data.U16[0] = platform.KeyEscape
			ctx.Events().Fire(core.EVENT_CODE_KEY_PRESSED, nil, data)
		},
	}}
	e := newTestEngine(t, game, testDevice(), 0)

	require.NoError(t, e.Run())
	// the frame in flight still completes
	assert.Equal(t, uint64(2), e.Commands().FrameNumber())
	assert.Equal(t, 2, game.renders)
}

func TestQuitIsPostedToNextIteration(t *testing.T) {
	game := &testGame{hooks: map[uint64]func(*EngineContext){
		0: func(ctx *EngineContext) { ctx.Quit() },
	}}
	e := newTestEngine(t, game, testDevice(), 0)

	require.NoError(t, e.Run())
	assert.Equal(t, uint64(1), e.Commands().FrameNumber())
	assert.Zero(t, e.Events().Pending())
}

func TestResizeEventRebuildsTarget(t *testing.T) {
	game := &testGame{hooks: map[uint64]func(*EngineContext){
		0: func(ctx *EngineContext) {
			var data core.EventContext
			data.Data.U32[0], data.Data.U32[1] = 64, 48
			ctx.Events().Fire(core.EVENT_CODE_RESIZED, nil, data)
		},
	}}
	e := newTestEngine(t, game, testDevice(), 2)

	require.NoError(t, e.Run())
	// the headless window keeps its size, so the rebuild lands on it
	require.Len(t, game.resizes, 1)
	assert.Equal(t, metadata.Extent2D{Width: testSize, Height: testSize}, e.Target().Extent())
}

func TestMissingGraphFails(t *testing.T) {
	game := &testGame{noGraph: true}
	_, err := New(game, testConfig(), WithDevice(testDevice(), nil))
	require.Error(t, err)
	assert.True(t, errors.Is(err, core.ErrNoPasses))
	assert.Equal(t, 1, game.shutdowns)
}

func TestInvalidConfigFails(t *testing.T) {
	cfg := testConfig()
	cfg.Renderer.FramesInFlight = 0
	game := &testGame{}
	_, err := New(game, cfg, WithDevice(testDevice(), nil))
	require.Error(t, err)
	var ce *core.ConfigError
	assert.True(t, errors.As(err, &ce))
	assert.Zero(t, game.shutdowns, "the game is never initialized")
}

func TestShutdownIsIdempotent(t *testing.T) {
	dev := testDevice()
	game := &testGame{}
	e, err := New(game, testConfig(), WithDevice(dev, nil), WithMaxFrames(1))
	require.NoError(t, err)
	require.NoError(t, e.Run())

	e.Shutdown()
	e.Shutdown()
	assert.Equal(t, 1, game.shutdowns)
	assert.Equal(t, EngineStageShuttingDown, e.Stage())
	assert.Zero(t, dev.LiveFramebuffers())
	assert.Zero(t, e.IDs().Live(), "geometry ids are released with the cache")
	assert.False(t, e.Window().IsOpen())

	assert.Panics(t, func() { _ = e.Run() }, "a shut down engine is dead")
}

func TestShaderLibraryReloadKeepsOldOnError(t *testing.T) {
	dir := t.TempDir()
	lib := NewShaderLibrary(dir)

	known, err := lib.Reload(filepath.Join(dir, "missing.vert.spv"))
	require.NoError(t, err)
	assert.False(t, known)

	s := flatShaders()[0]
	s.Path = filepath.Join(dir, "flat.vert.spv")
	lib.Register(s)

	known, err = lib.Reload(s.Path)
	assert.True(t, known)
	require.Error(t, err)
	got, ok := lib.Get(s.Path)
	require.True(t, ok)
	assert.Equal(t, s.Reflection, got.Reflection)
	assert.Equal(t, 1, lib.Len())
}

func TestShaderLibraryLoadAll(t *testing.T) {
	dir := t.TempDir()
	spirv := []byte{0x03, 0x02, 0x23, 0x07, 0, 0, 0, 0}
	for _, f := range []string{"a.vert", "a.frag", "b.frag"} {
		stage := "vertex"
		if filepath.Ext(f) == ".frag" {
			stage = "fragment"
		}
		require.NoError(t, os.WriteFile(filepath.Join(dir, f+".spv"), spirv, 0o644))
		require.NoError(t, os.WriteFile(filepath.Join(dir, f+".reflect.toml"), []byte("stage = \""+stage+"\"\n"), 0o644))
	}
	jobs, err := core.NewJobSystem(2, 4)
	require.NoError(t, err)
	defer jobs.Shutdown()

	lib := NewShaderLibrary(dir)
	got, err := lib.LoadAll(jobs,
		ShaderRequest{Name: "a", Stage: metadata.ShaderStageVertex},
		ShaderRequest{Name: "a", Stage: metadata.ShaderStageFragment},
		ShaderRequest{Name: "b", Stage: metadata.ShaderStageFragment},
	)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, filepath.Join(dir, "b.frag.spv"), got[2].Path)
	assert.Equal(t, metadata.ShaderStageVertex, got[0].Reflection.Stage)
	assert.Equal(t, 3, lib.Len())

	_, err = lib.LoadAll(jobs,
		ShaderRequest{Name: "a", Stage: metadata.ShaderStageVertex},
		ShaderRequest{Name: "missing", Stage: metadata.ShaderStageVertex},
	)
	require.Error(t, err)
	assert.Equal(t, 3, lib.Len(), "a failed batch caches nothing")
}
