package command

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/ember/engine/core"
	"github.com/spaghettifunk/ember/engine/math"
	"github.com/spaghettifunk/ember/engine/renderer/framegraph"
	"github.com/spaghettifunk/ember/engine/renderer/gpu"
	"github.com/spaghettifunk/ember/engine/renderer/metadata"
	"github.com/spaghettifunk/ember/engine/renderer/pipeline"
	"github.com/spaghettifunk/ember/engine/renderer/resource"
	"github.com/spaghettifunk/ember/engine/renderer/soft"
)

func testConfig() Config {
	return Config{
		FramesInFlight:   2,
		FenceTimeout:     time.Second,
		GeometryCapacity: 8,
		CommandBatch:     1,
		ArenaBlockSize:   1 << 20,
	}
}

func newEngine(t *testing.T, dev gpu.Device, cfg Config) *Engine {
	t.Helper()
	e, err := New(dev, cfg)
	require.NoError(t, err)
	t.Cleanup(e.Destroy)
	return e
}

func shaders(instanced bool) []metadata.Shader {
	vert := metadata.ShaderReflection{
		Stage: metadata.ShaderStageVertex,
		Inputs: []metadata.VertexAttribute{
			{Name: "in_position", Location: 0, Format: metadata.FormatR32G32B32Sfloat, Offset: 0},
			{Name: "in_color", Location: 1, Format: metadata.FormatR32G32B32Sfloat, Offset: 12},
		},
	}
	if instanced {
		for col := uint32(0); col < 4; col++ {
			vert.Inputs = append(vert.Inputs, metadata.VertexAttribute{
				Name:     "in_model",
				Location: pipeline.InstanceModelLocation + col,
				Format:   metadata.FormatR32G32B32A32Sfloat,
				Offset:   col * 16,
			})
		}
	}
	return []metadata.Shader{
		{Path: "flat.vert.spv", Reflection: vert},
		{Path: "flat.frag.spv", Reflection: metadata.ShaderReflection{Stage: metadata.ShaderStageFragment}},
	}
}

func newPipeline(t *testing.T, dev gpu.Device, rt *framegraph.RenderTarget, name string, subpass uint32, instanced bool) *pipeline.Pipeline {
	t.Helper()
	p, err := pipeline.Create(dev, pipeline.Desc{
		Name:       name,
		Shaders:    shaders(instanced),
		RenderPass: rt.RenderPass(),
		Subpass:    subpass,
	})
	require.NoError(t, err)
	t.Cleanup(p.Destroy)
	return p
}

// offscreen builds a single color attachment target with the given number
// of passes, each writing the same attachment.
func offscreen(t *testing.T, dev gpu.Device, size uint32, passes int) (*framegraph.RenderTarget, framegraph.AttachmentHandle) {
	t.Helper()
	g := framegraph.New("offscreen")
	color, err := g.AddColorAttachment(metadata.FormatR8G8B8A8Unorm, framegraph.WithClearColor(0, 0, 0, 1))
	require.NoError(t, err)
	for i := 0; i < passes; i++ {
		p, err := g.AddPass("pass")
		require.NoError(t, err)
		require.NoError(t, p.AddColorAttachment(color))
	}
	rt, err := g.CreateRenderTarget(dev, metadata.Extent2D{Width: size, Height: size}, 2)
	require.NoError(t, err)
	t.Cleanup(rt.Destroy)
	return rt, color
}

func TestPoolStatesAndGrowth(t *testing.T) {
	dev := soft.New(soft.Options{ManualFences: true})
	pool := NewPool(dev, 2)
	defer pool.Destroy()

	a, err := pool.Acquire()
	require.NoError(t, err)
	assert.Equal(t, StateRecording, a.State())
	assert.Equal(t, Stats{Available: 1, Recording: 1, Total: 2}, pool.Stats())

	require.NoError(t, pool.Submit(gpu.QueueGraphics, a, gpu.SubmitInfo{}))
	assert.Equal(t, StatePending, a.State())
	assert.Error(t, pool.Submit(gpu.QueueGraphics, a, gpu.SubmitInfo{}))

	b, err := pool.Acquire()
	require.NoError(t, err)
	require.NoError(t, pool.Submit(gpu.QueueGraphics, b, gpu.SubmitInfo{}))

	c, err := pool.Acquire()
	require.NoError(t, err)
	assert.Equal(t, Stats{Available: 1, Recording: 1, Pending: 2, Total: 4}, pool.Stats())
	pool.Release(c)

	n, err := pool.Collect()
	require.NoError(t, err)
	assert.Zero(t, n)

	dev.CompleteAll()
	n, err = pool.Collect()
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, Stats{Available: 4, Total: 4}, pool.Stats())
}

func TestEngineRoundRobinWithManualFences(t *testing.T) {
	dev := soft.New(soft.Options{ManualFences: true})
	cfg := testConfig()
	cfg.FenceTimeout = 20 * time.Millisecond
	e := newEngine(t, dev, cfg)
	rt, _ := offscreen(t, dev, 8, 1)
	area := metadata.FullRect(rt.Extent())

	frame := func() error {
		if err := e.Begin(); err != nil {
			return err
		}
		if err := e.BeginTarget(rt, area); err != nil {
			return err
		}
		if err := e.EndTarget(rt); err != nil {
			return err
		}
		return e.End()
	}

	require.NoError(t, frame())
	assert.Equal(t, 1, e.Slot())
	require.NoError(t, frame())
	assert.Equal(t, 0, e.Slot())
	assert.Equal(t, 2, dev.PendingFences())
	assert.Equal(t, Stats{Pending: 2, Total: 2}, e.Pool().Stats())

	// slot 0 is still in flight and nothing completes it
	err := e.Begin()
	assert.ErrorIs(t, err, core.ErrDeviceLost)
	assert.True(t, core.IsFatal(err))
	assert.False(t, e.Recording())

	require.True(t, dev.CompleteNext())
	require.NoError(t, frame())
	assert.Equal(t, uint64(3), e.FrameNumber())
	assert.Equal(t, 2, e.Pool().Stats().Total, "a completed slot must be reused instead of growing")
	assert.Equal(t, 0, e.LastFramebuffer(rt))
}

func TestDrawWithoutPipelineFails(t *testing.T) {
	dev := soft.New(soft.Options{})
	e := newEngine(t, dev, testConfig())
	rt, _ := offscreen(t, dev, 8, 1)

	require.NoError(t, e.Begin())
	require.NoError(t, e.BeginTarget(rt, metadata.FullRect(rt.Extent())))
	err := e.Draw(metadata.Triangle(math.NewVec3(1, 0, 0)), 1)
	assert.ErrorIs(t, err, core.ErrNoPipelineBound)
	var cfg *core.ConfigError
	assert.True(t, errors.As(err, &cfg))

	assert.ErrorIs(t, e.PushConstants("variant", []byte{0, 0, 0, 0}), core.ErrNoPipelineBound)
	e.Abort()
	assert.Equal(t, 0, e.Pool().Stats().Recording)
	assert.ErrorIs(t, e.End(), core.ErrNotRecording)
}

func TestUsePipelineAdvancesSubpass(t *testing.T) {
	dev := soft.New(soft.Options{})
	e := newEngine(t, dev, testConfig())
	rt, _ := offscreen(t, dev, 16, 3)
	p0 := newPipeline(t, dev, rt, "first", 0, false)
	p1 := newPipeline(t, dev, rt, "second", 1, false)
	tri := metadata.Triangle(math.NewVec3(1, 1, 1))

	require.NoError(t, e.Begin())
	require.NoError(t, e.BeginTarget(rt, metadata.FullRect(rt.Extent())))
	assert.ErrorIs(t, e.UsePipeline(p1), core.ErrInvalidHandle)

	require.NoError(t, e.UsePipeline(p0))
	require.NoError(t, e.Draw(tri, 1))
	require.NoError(t, e.UsePipeline(p1))
	assert.Equal(t, uint32(1), e.Subpass())
	require.NoError(t, e.Draw(tri, 1))
	assert.ErrorIs(t, e.RebindPipeline(p0), core.ErrInvalidHandle)

	// the third subpass draws nothing; EndTarget steps over it
	require.NoError(t, e.EndTarget(rt))
	require.NoError(t, e.End())

	draws := dev.Draws()
	require.Len(t, draws, 2)
	assert.Equal(t, "first", draws[0].Pipeline)
	assert.Equal(t, uint32(0), draws[0].Subpass)
	assert.Equal(t, "second", draws[1].Pipeline)
	assert.Equal(t, uint32(1), draws[1].Subpass)
}

func TestUsePipelinePastLastSubpassFails(t *testing.T) {
	dev := soft.New(soft.Options{})
	e := newEngine(t, dev, testConfig())
	rt, _ := offscreen(t, dev, 8, 1)
	p := newPipeline(t, dev, rt, "only", 0, false)

	require.NoError(t, e.Begin())
	require.NoError(t, e.BeginTarget(rt, metadata.FullRect(rt.Extent())))
	require.NoError(t, e.UsePipeline(p))
	assert.ErrorIs(t, e.UsePipeline(p), core.ErrInvalidHandle)
	require.NoError(t, e.RebindPipeline(p))
	require.NoError(t, e.EndTarget(rt))
	require.NoError(t, e.End())
}

func TestFirstInstanceRunsAcrossDraws(t *testing.T) {
	dev := soft.New(soft.Options{})
	e := newEngine(t, dev, testConfig())
	rt, _ := offscreen(t, dev, 16, 1)
	p := newPipeline(t, dev, rt, "instanced", 0, true)

	instances, err := resource.NewBuffer(dev, e.HostArena(), "instances", 5*pipeline.InstanceStride, metadata.BufferUsageVertex)
	require.NoError(t, err)
	defer instances.Destroy()
	for i := 0; i < 5; i++ {
		require.NoError(t, instances.Write(uint64(i*pipeline.InstanceStride), math.NewMat4Identity().Bytes()))
	}

	tri := metadata.Triangle(math.NewVec3(1, 0, 0))
	quad := metadata.Quad(0.25, math.NewVec3(0, 1, 0))

	require.NoError(t, e.Begin())
	require.NoError(t, e.BeginTarget(rt, metadata.FullRect(rt.Extent())))
	require.NoError(t, e.UsePipeline(p))
	require.NoError(t, e.BindInstanceBuffer(instances, 0))
	require.NoError(t, e.Draw(tri, 3))
	require.NoError(t, e.Draw(quad, 2))
	assert.Equal(t, uint32(5), e.FirstInstance())
	require.NoError(t, e.Draw(quad, 0))

	require.NoError(t, e.RebindPipeline(p))
	assert.Zero(t, e.FirstInstance())
	require.NoError(t, e.BindInstanceBuffer(instances, 0))
	require.NoError(t, e.Draw(tri, 1))
	require.NoError(t, e.EndTarget(rt))
	require.NoError(t, e.End())

	draws := dev.Draws()
	require.Len(t, draws, 3)
	assert.Equal(t, soft.DrawRecord{Pipeline: "instanced", IndexCount: 3, InstanceCount: 3, FirstInstance: 0}, draws[0])
	assert.Equal(t, soft.DrawRecord{Pipeline: "instanced", IndexCount: 6, InstanceCount: 2, FirstInstance: 3}, draws[1])
	assert.Equal(t, soft.DrawRecord{Pipeline: "instanced", IndexCount: 3, InstanceCount: 1, FirstInstance: 0}, draws[2])
	assert.Equal(t, 2, e.Geometry().Uploads())
}

func TestOutOfDateIsRecoverable(t *testing.T) {
	dev := soft.New(soft.Options{SwapchainImages: 2, SwapchainExtent: metadata.Extent2D{Width: 8, Height: 8}})
	e := newEngine(t, dev, testConfig())

	g := framegraph.New("present")
	color, _ := g.AddColorAttachment(metadata.FormatB8G8R8A8Unorm, framegraph.WithClearColor(0, 0, 0, 1))
	require.NoError(t, g.SetPresentAttachment(color))
	pass, _ := g.AddPass("main")
	require.NoError(t, pass.AddColorAttachment(color))
	rt, err := g.CreateSwapchainRenderTarget(dev, dev.Swapchain())
	require.NoError(t, err)
	defer rt.Destroy()

	sc := dev.SoftSwapchain()
	sc.InjectOutOfDate()

	require.NoError(t, e.Begin())
	err = e.BeginTarget(rt, metadata.FullRect(rt.Extent()))
	require.Error(t, err)
	assert.True(t, core.IsRecoverable(err))
	assert.False(t, core.IsFatal(err))
	assert.False(t, e.Recording(), "a failed acquire abandons the frame")

	require.NoError(t, e.WaitIdle())
	require.NoError(t, sc.Recreate(16, 16))
	require.NoError(t, rt.Resize(metadata.Extent2D{Width: 16, Height: 16}))

	render := func() error {
		if err := e.Begin(); err != nil {
			return err
		}
		if err := e.BeginTarget(rt, metadata.FullRect(rt.Extent())); err != nil {
			return err
		}
		if err := e.EndTarget(rt); err != nil {
			return err
		}
		return e.End()
	}
	require.NoError(t, render())
	presented, last := sc.Presented()
	assert.Equal(t, 1, presented)
	assert.Equal(t, uint32(0), last)

	// present failing after a successful submit still advances the frame
	require.NoError(t, e.Begin())
	require.NoError(t, e.BeginTarget(rt, metadata.FullRect(rt.Extent())))
	require.NoError(t, e.EndTarget(rt))
	sc.InjectOutOfDate()
	err = e.End()
	assert.True(t, core.IsRecoverable(err))
	assert.Equal(t, uint64(2), e.FrameNumber())
}

func TestAbortAfterAcquireReturnsTheImage(t *testing.T) {
	dev := soft.New(soft.Options{SwapchainImages: 2, SwapchainExtent: metadata.Extent2D{Width: 8, Height: 8}})
	e := newEngine(t, dev, testConfig())

	g := framegraph.New("present")
	color, _ := g.AddColorAttachment(metadata.FormatB8G8R8A8Unorm, framegraph.WithClearColor(0, 0, 0, 1))
	require.NoError(t, g.SetPresentAttachment(color))
	pass, _ := g.AddPass("main")
	require.NoError(t, pass.AddColorAttachment(color))
	rt, err := g.CreateSwapchainRenderTarget(dev, dev.Swapchain())
	require.NoError(t, err)
	defer rt.Destroy()
	p := newPipeline(t, dev, rt, "flat", 0, false)
	sc := dev.SoftSwapchain()

	require.NoError(t, e.Begin())
	require.NoError(t, e.BeginTarget(rt, metadata.FullRect(rt.Extent())))
	require.NoError(t, e.UsePipeline(p))
	require.NoError(t, e.Draw(metadata.Triangle(math.NewVec3(1, 0, 0)), 1))
	e.Abort()
	assert.False(t, e.Recording())
	assert.Empty(t, dev.Draws(), "the recorded commands are dropped")
	presented, last := sc.Presented()
	assert.Equal(t, 1, presented, "the acquired image goes back to the swapchain")
	assert.Equal(t, uint32(0), last)

	// the slot semaphore was consumed, so the same slot acquires again
	require.NoError(t, e.Begin())
	require.NoError(t, e.BeginTarget(rt, metadata.FullRect(rt.Extent())))
	require.NoError(t, e.EndTarget(rt))
	require.NoError(t, e.End())
	presented, last = sc.Presented()
	assert.Equal(t, 2, presented)
	assert.Equal(t, uint32(1), last)
	assert.Equal(t, uint64(1), e.FrameNumber())
}

func TestTriangleReadback(t *testing.T) {
	const size = 256
	dev := soft.New(soft.Options{})
	e := newEngine(t, dev, testConfig())
	rt, color := offscreen(t, dev, size, 1)
	p := newPipeline(t, dev, rt, "flat", 0, false)

	require.NoError(t, e.Begin())
	require.NoError(t, e.BeginTarget(rt, metadata.FullRect(rt.Extent())))
	require.NoError(t, e.UsePipeline(p))
	require.NoError(t, e.Draw(metadata.Triangle(math.NewVec3(1, 0, 0)), 1))
	require.NoError(t, e.EndTarget(rt))
	require.NoError(t, e.End())

	rb, err := e.ReadAttachment(rt, color, e.LastFramebuffer(rt))
	require.NoError(t, err)
	assert.Equal(t, metadata.FormatR8G8B8A8Unorm, rb.Format)
	assert.Equal(t, metadata.Extent2D{Width: size, Height: size}, rb.Extent)
	require.Len(t, rb.Data, size*size*4)

	at := func(x, y int) []byte { p := (y*size + x) * 4; return rb.Data[p : p+4] }
	black := []byte{0, 0, 0, 255}
	red := []byte{255, 0, 0, 255}

	// vertices land on (128,64), (192,192) and (64,192)
	assert.Equal(t, red, at(128, 150))
	assert.Equal(t, red, at(128, 70))
	assert.Equal(t, red, at(80, 185))
	assert.Equal(t, black, at(4, 4))
	assert.Equal(t, black, at(250, 250))
	assert.Equal(t, black, at(128, 40))
	assert.Equal(t, black, at(70, 100))
}

func TestGeometryCacheRetiresEvictedEntries(t *testing.T) {
	dev := soft.New(soft.Options{})
	cfg := testConfig()
	cfg.GeometryCapacity = 1
	cfg.IDs = core.NewIDPool()
	e := newEngine(t, dev, cfg)
	rt, _ := offscreen(t, dev, 8, 1)
	p := newPipeline(t, dev, rt, "flat", 0, false)
	tri := metadata.Triangle(math.NewVec3(1, 0, 0))
	quad := metadata.Quad(0.5, math.NewVec3(0, 0, 1))

	require.NoError(t, e.Begin())
	require.NoError(t, e.BeginTarget(rt, metadata.FullRect(rt.Extent())))
	require.NoError(t, e.UsePipeline(p))
	require.NoError(t, e.Draw(tri, 1))
	require.NoError(t, e.Draw(tri, 1))
	assert.Equal(t, 1, e.Geometry().Uploads())

	live := dev.LiveBuffers()
	require.NoError(t, e.Draw(quad, 1))
	assert.Equal(t, 2, e.Geometry().Uploads())
	assert.Equal(t, 1, e.Geometry().Len())
	assert.Equal(t, live+2, dev.LiveBuffers(), "the evicted triangle is still referenced by this frame")
	assert.Equal(t, 2, cfg.IDs.Live(), "the triangle keeps its id until its buffers are gone")
	resident, ok := e.Geometry().Resident(quad)
	require.True(t, ok)
	owner, ok := cfg.IDs.Owner(resident.ID)
	require.True(t, ok)
	assert.Same(t, quad, owner)

	require.NoError(t, e.EndTarget(rt))
	require.NoError(t, e.End())
	require.NoError(t, e.WaitIdle())
	assert.Equal(t, live, dev.LiveBuffers())
	assert.Equal(t, 1, cfg.IDs.Live())
	_, ok = e.Geometry().Resident(tri)
	assert.False(t, ok)
	assert.Equal(t, uint32(0), cfg.IDs.Acquire("next"), "the triangle's id is free again")
}
