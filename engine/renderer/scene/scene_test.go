package scene

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/ember/engine/core"
	"github.com/spaghettifunk/ember/engine/math"
	"github.com/spaghettifunk/ember/engine/renderer/command"
	"github.com/spaghettifunk/ember/engine/renderer/framegraph"
	"github.com/spaghettifunk/ember/engine/renderer/metadata"
	"github.com/spaghettifunk/ember/engine/renderer/pipeline"
	"github.com/spaghettifunk/ember/engine/renderer/soft"
)

var (
	matA = &metadata.Material{Name: "a", Shaders: []string{"a.vert.spv", "a.frag.spv"}}
	matB = &metadata.Material{Name: "b", Shaders: []string{"b.vert.spv", "b.frag.spv"}}
)

func at(x float32) math.Mat4 {
	return math.NewMat4Translation(math.NewVec3(x, 0, 0))
}

func TestBatcherGroupsByMaterialInFirstSeenOrder(t *testing.T) {
	tri := metadata.Triangle(math.NewVec3(1, 0, 0))
	quad := metadata.Quad(0.5, math.NewVec3(0, 1, 0))

	b := NewBatcher()
	b.Add(Drawable{Geometry: tri, Material: matA, Transform: at(1)})
	b.Add(Drawable{Geometry: quad, Material: matB, Transform: at(2)})
	b.Add(Drawable{Geometry: tri, Material: matA, Transform: at(3)})
	b.Add(Drawable{Geometry: quad, Material: matA, Transform: at(4)})
	b.Add(Drawable{Geometry: tri, Material: matA, Transform: at(5), Variant: 1})
	assert.Equal(t, 5, b.Len())

	batches := b.Build()
	require.Len(t, batches, 2)

	a := batches[0]
	assert.Same(t, matA, a.Material)
	assert.Equal(t, []math.Mat4{at(1), at(3), at(4), at(5)}, a.Transforms)
	assert.Equal(t, []DrawCall{
		{Geometry: tri, InstanceCount: 2, FirstInstance: 0},
		{Geometry: quad, InstanceCount: 1, FirstInstance: 2},
		{Geometry: tri, InstanceCount: 1, FirstInstance: 3, Variant: 1},
	}, a.Draws)

	assert.Same(t, matB, batches[1].Material)
	assert.Equal(t, []DrawCall{{Geometry: quad, InstanceCount: 1}}, batches[1].Draws)

	b.Reset()
	assert.Zero(t, b.Len())
	assert.Empty(t, b.Build())
}

func TestBatcherSameContentSameMaterial(t *testing.T) {
	// distinct pointers with identical content hash to one material
	copyA := &metadata.Material{Name: "a-again", Shaders: []string{"a.frag.spv", "a.vert.spv"}}
	tri := metadata.Triangle(math.NewVec3(1, 0, 0))

	b := NewBatcher()
	b.Add(Drawable{Geometry: tri, Material: matA, Transform: at(0)})
	b.Add(Drawable{Geometry: metadata.Triangle(math.NewVec3(1, 0, 0)), Material: copyA, Transform: at(1)})

	batches := b.Build()
	require.Len(t, batches, 1)
	require.Len(t, batches[0].Draws, 1)
	assert.Equal(t, uint32(2), batches[0].Draws[0].InstanceCount)
}

type fixture struct {
	dev       *soft.Device
	eng       *command.Engine
	rt        *framegraph.RenderTarget
	color     framegraph.AttachmentHandle
	pipelines map[string]*pipeline.Pipeline
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dev := soft.New(soft.Options{})
	eng, err := command.New(dev, command.Config{
		FramesInFlight:   2,
		FenceTimeout:     time.Second,
		GeometryCapacity: 8,
		CommandBatch:     1,
		ArenaBlockSize:   1 << 20,
	})
	require.NoError(t, err)
	t.Cleanup(eng.Destroy)

	g := framegraph.New("scene")
	color, _ := g.AddColorAttachment(metadata.FormatR8G8B8A8Unorm)
	pass, _ := g.AddPass("main")
	require.NoError(t, pass.AddColorAttachment(color))
	rt, err := g.CreateRenderTarget(dev, metadata.Extent2D{Width: 16, Height: 16}, 2)
	require.NoError(t, err)
	t.Cleanup(rt.Destroy)

	f := &fixture{dev: dev, eng: eng, rt: rt, color: color, pipelines: map[string]*pipeline.Pipeline{}}
	for _, m := range []*metadata.Material{matA, matB} {
		vert := metadata.ShaderReflection{Stage: metadata.ShaderStageVertex}
		for col := uint32(0); col < 4; col++ {
			vert.Inputs = append(vert.Inputs, metadata.VertexAttribute{
				Name: "in_model", Location: pipeline.InstanceModelLocation + col,
				Format: metadata.FormatR32G32B32A32Sfloat, Offset: col * 16,
			})
		}
		if m == matA {
			vert.PushConstants = []metadata.PushConstantRange{{Name: VariantConstant, Offset: 0, Size: 4}}
		}
		p, err := pipeline.Create(dev, pipeline.Desc{
			Name:       m.Name,
			Shaders:    []metadata.Shader{{Path: m.Shaders[0], Reflection: vert}},
			RenderPass: rt.RenderPass(),
		})
		require.NoError(t, err)
		t.Cleanup(p.Destroy)
		f.pipelines[m.Name] = p
	}
	return f
}

func (f *fixture) resolve(m *metadata.Material) (*pipeline.Pipeline, error) {
	return f.pipelines[m.Name], nil
}

func (f *fixture) frame(t *testing.T, r *Renderer, batches []*Batch) {
	t.Helper()
	require.NoError(t, f.eng.Begin())
	require.NoError(t, f.eng.BeginTarget(f.rt, metadata.FullRect(f.rt.Extent())))
	require.NoError(t, r.Submit(f.eng, batches, f.resolve))
	require.NoError(t, f.eng.EndTarget(f.rt))
	require.NoError(t, f.eng.End())
}

func TestRendererIssuesOneDrawPerGeometry(t *testing.T) {
	f := newFixture(t)
	r := NewRenderer(4)
	defer r.Destroy()

	tri := metadata.Triangle(math.NewVec3(1, 0, 0))
	quad := metadata.Quad(0.25, math.NewVec3(0, 0, 1))
	b := NewBatcher()
	b.Add(Drawable{Geometry: tri, Material: matA, Transform: math.NewMat4Identity()})
	b.Add(Drawable{Geometry: tri, Material: matA, Transform: math.NewMat4Identity()})
	b.Add(Drawable{Geometry: quad, Material: matB, Transform: math.NewMat4Identity()})

	f.frame(t, r, b.Build())

	draws := f.dev.Draws()
	require.Len(t, draws, 2)
	assert.Equal(t, soft.DrawRecord{Pipeline: "a", IndexCount: 3, InstanceCount: 2}, draws[0])
	assert.Equal(t, soft.DrawRecord{Pipeline: "b", IndexCount: 6, InstanceCount: 1}, draws[1])
}

func TestRendererGrowsInstanceBuffers(t *testing.T) {
	f := newFixture(t)
	r := NewRenderer(2)
	defer r.Destroy()
	tri := metadata.Triangle(math.NewVec3(1, 0, 0))

	b := NewBatcher()
	b.Add(Drawable{Geometry: tri, Material: matB, Transform: math.NewMat4Identity()})
	f.frame(t, r, b.Build())
	assert.Equal(t, uint32(2), r.Capacity(0, matB))
	assert.Zero(t, r.Capacity(1, matB))

	b.Reset()
	for i := 0; i < 5; i++ {
		b.Add(Drawable{Geometry: tri, Material: matB, Transform: math.NewMat4Identity()})
	}
	f.dev.ResetDraws()
	f.frame(t, r, b.Build())
	f.frame(t, r, b.Build())

	assert.Equal(t, uint32(8), r.Capacity(0, matB))
	assert.Equal(t, uint32(8), r.Capacity(1, matB))
	draws := f.dev.Draws()
	require.Len(t, draws, 2)
	assert.Equal(t, uint32(5), draws[1].InstanceCount)
}

func TestRendererSkipsUndeclaredVariant(t *testing.T) {
	f := newFixture(t)
	r := NewRenderer(1)
	defer r.Destroy()
	tri := metadata.Triangle(math.NewVec3(1, 0, 0))

	b := NewBatcher()
	// b declares no variant push constant; the draw still goes through
	b.Add(Drawable{Geometry: tri, Material: matB, Transform: math.NewMat4Identity(), Variant: 3})
	b.Add(Drawable{Geometry: tri, Material: matA, Transform: math.NewMat4Identity(), Variant: 3})
	f.frame(t, r, b.Build())
	assert.Len(t, f.dev.Draws(), 2)

	failing := func(m *metadata.Material) (*pipeline.Pipeline, error) { return nil, core.ErrInvalidHandle }
	require.NoError(t, f.eng.Begin())
	require.NoError(t, f.eng.BeginTarget(f.rt, metadata.FullRect(f.rt.Extent())))
	assert.ErrorIs(t, r.Submit(f.eng, b.Build(), failing), core.ErrInvalidHandle)
	f.eng.Abort()
}

func TestRendererPushesSharedConstants(t *testing.T) {
	f := newFixture(t)
	vert := metadata.ShaderReflection{
		Stage:         metadata.ShaderStageVertex,
		PushConstants: []metadata.PushConstantRange{{Name: ViewProjectionConstant, Offset: 0, Size: 64}},
	}
	for col := uint32(0); col < 4; col++ {
		vert.Inputs = append(vert.Inputs, metadata.VertexAttribute{
			Name: "in_model", Location: pipeline.InstanceModelLocation + col,
			Format: metadata.FormatR32G32B32A32Sfloat, Offset: col * 16,
		})
	}
	camera := &metadata.Material{Name: "camera", Shaders: []string{"camera.vert.spv"}}
	p, err := pipeline.Create(f.dev, pipeline.Desc{
		Name:       camera.Name,
		Shaders:    []metadata.Shader{{Path: camera.Shaders[0], Reflection: vert}},
		RenderPass: f.rt.RenderPass(),
	})
	require.NoError(t, err)
	t.Cleanup(p.Destroy)
	f.pipelines[camera.Name] = p

	r := NewRenderer(1)
	defer r.Destroy()
	b := NewBatcher()
	b.Add(Drawable{Geometry: metadata.Triangle(math.NewVec3(1, 0, 0)), Material: camera, Transform: math.NewMat4Identity()})
	// b does not declare the constant and still draws
	b.Add(Drawable{Geometry: metadata.Quad(0.1, math.NewVec3(0, 0, 1)), Material: matB, Transform: at(-0.8)})

	center := func() []byte {
		rb, err := f.eng.ReadAttachment(f.rt, f.color, f.eng.LastFramebuffer(f.rt))
		require.NoError(t, err)
		p := (9*16 + 8) * 4
		return rb.Data[p : p+4]
	}

	f.frame(t, r, b.Build())
	assert.Equal(t, []byte{255, 0, 0, 255}, center())

	// pushed onto the camera pipeline only, which moves the triangle away
	r.SetViewProjection(math.NewMat4Translation(math.NewVec3(3, 0, 0)))
	f.frame(t, r, b.Build())
	assert.NotEqual(t, []byte{255, 0, 0, 255}, center())
	assert.Len(t, f.dev.Draws(), 4)

	r.ClearConstants()
	f.frame(t, r, b.Build())
	assert.Equal(t, []byte{255, 0, 0, 255}, center())
}

func TestRendererSameMaterialTwiceInOneFrame(t *testing.T) {
	f := newFixture(t)
	r := NewRenderer(1)
	defer r.Destroy()
	tri := metadata.Triangle(math.NewVec3(1, 0, 0))

	first := NewBatcher()
	first.Add(Drawable{Geometry: tri, Material: matA, Transform: math.NewMat4Identity()})
	second := NewBatcher()
	second.Add(Drawable{Geometry: tri, Material: matA, Transform: at(10)})

	require.NoError(t, f.eng.Begin())
	require.NoError(t, f.eng.BeginTarget(f.rt, metadata.FullRect(f.rt.Extent())))
	require.NoError(t, r.Submit(f.eng, first.Build(), f.resolve))
	require.NoError(t, r.Submit(f.eng, second.Build(), f.resolve))
	require.NoError(t, f.eng.EndTarget(f.rt))
	require.NoError(t, f.eng.End())

	assert.Len(t, f.dev.Draws(), 2)
	rb, err := f.eng.ReadAttachment(f.rt, f.color, f.eng.LastFramebuffer(f.rt))
	require.NoError(t, err)
	p := (9*16 + 8) * 4
	assert.Equal(t, []byte{255, 0, 0, 255}, rb.Data[p:p+4], "the first submit keeps its own transforms")
	assert.Equal(t, uint32(2), r.Capacity(0, matA), "the buffer grew to hold both submits")

	// the next use of the slot starts over at the front of the buffer
	f.frame(t, r, first.Build())
	f.frame(t, r, first.Build())
	assert.Equal(t, uint32(2), r.Capacity(0, matA))
}
