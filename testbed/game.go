package testbed

import (
	"encoding/binary"
	"fmt"
	stdmath "math"

	"github.com/spaghettifunk/ember/engine"
	"github.com/spaghettifunk/ember/engine/core"
	"github.com/spaghettifunk/ember/engine/math"
	"github.com/spaghettifunk/ember/engine/overlay"
	"github.com/spaghettifunk/ember/engine/renderer/components"
	"github.com/spaghettifunk/ember/engine/renderer/metadata"
	"github.com/spaghettifunk/ember/engine/renderer/pipeline"
	"github.com/spaghettifunk/ember/engine/renderer/scene"
)

const (
	// labelRefresh is how often the FPS text is rebuilt, in seconds.
	labelRefresh = 0.5
	gridSize     = 3
)

type cube struct {
	transform math.Transform
	spin      math.Vec3
	material  int
	variant   uint32 // one shade per grid row
}

// TestGame renders a grid of spinning cubes through the deferred graph,
// half of them painted and half metal, with the frame rate drawn on top.
type TestGame struct {
	ctx   *engine.EngineContext
	graph *deferred

	camera     *components.Camera
	cubes      []cube
	materials  [2]*metadata.Material
	lighting   []metadata.Shader
	overlay    []metadata.Shader
	cube       *metadata.Geometry
	fullscreen *metadata.Geometry
	inputs     inputSets

	text     *overlay.Text
	label    *metadata.Geometry
	labelAge float64
	elapsed  float64
}

func NewTestGame() *TestGame {
	return &TestGame{camera: components.NewCamera()}
}

func (g *TestGame) Initialize(ctx *engine.EngineContext) error {
	core.LogInfo("initializing testbed...")
	g.ctx = ctx
	cfg := ctx.Config()

	graph, err := buildGraph(cfg.Renderer.ClearColor)
	if err != nil {
		return err
	}
	if _, err := ctx.UseGraph(graph.graph); err != nil {
		return err
	}
	g.graph = graph

	vert, frag := metadata.ShaderStageVertex, metadata.ShaderStageFragment
	loaded, err := ctx.Shaders().LoadAll(ctx.Jobs(),
		engine.ShaderRequest{Name: "gbuffer", Stage: vert},
		engine.ShaderRequest{Name: "gbuffer", Stage: frag},
		engine.ShaderRequest{Name: "metal", Stage: frag},
		engine.ShaderRequest{Name: "lighting", Stage: vert},
		engine.ShaderRequest{Name: "lighting", Stage: frag},
		engine.ShaderRequest{Name: "overlay", Stage: vert},
		engine.ShaderRequest{Name: "overlay", Stage: frag},
	)
	if err != nil {
		return fmt.Errorf("failed to load testbed shaders: %w", err)
	}
	g.materials[0] = &metadata.Material{Name: "painted", Shaders: []string{loaded[0].Path, loaded[1].Path}}
	g.materials[1] = &metadata.Material{Name: "metal", Shaders: []string{loaded[0].Path, loaded[2].Path}}
	g.lighting = loaded[3:5]
	g.overlay = loaded[5:7]

	g.cube = metadata.Cube(1, math.NewVec3(0.9, 0.35, 0.2))
	g.fullscreen = metadata.Quad(1, math.NewVec3One())
	for i := 0; i < gridSize*gridSize; i++ {
		x, z := float32(i%gridSize-gridSize/2)*2, float32(i/gridSize-gridSize/2)*2
		g.cubes = append(g.cubes, cube{
			transform: math.NewTransform(math.NewVec3(x, 0, z)),
			spin:      math.NewVec3(0.3+0.1*float32(i%3), 0.6+0.2*float32(i%2), 0),
			material:  i % 2,
			variant:   uint32(i / gridSize),
		})
	}
	g.camera.SetPosition(math.NewVec3(0, 4, 9))
	g.camera.Pitch(-0.4)

	if path := cfg.Assets.Font; path != "" {
		font, err := overlay.LoadFont(path)
		if err != nil {
			core.LogWarn("overlay disabled: %s", err)
		} else {
			g.text = overlay.NewText(font)
		}
	}

	core.Logger().Info("testbed ready", "cubes", len(g.cubes), "subpasses", ctx.Target().SubpassCount())
	return nil
}

func (g *TestGame) stages(paths []string) []metadata.Shader {
	out := make([]metadata.Shader, 0, len(paths))
	for _, p := range paths {
		if s, ok := g.ctx.Shaders().Get(p); ok {
			out = append(out, s)
		}
	}
	return out
}

func (g *TestGame) Update(deltaTime float64) error {
	g.elapsed += deltaTime
	for i := range g.cubes {
		c := &g.cubes[i]
		c.transform.Rotation = c.spin.MulScalar(float32(g.elapsed))
	}

	g.labelAge += deltaTime
	if g.text != nil && (g.label == nil || g.labelAge >= labelRefresh) {
		g.labelAge = 0
		m := g.ctx.Metrics()
		str := fmt.Sprintf("FPS: %.0f\nFrame: %.2f ms", m.FPS(), m.FrameTime())
		g.label = g.text.Layout(str, 8, 8, 1, math.NewVec3(1, 1, 0.6), g.ctx.Extent())
	}
	return nil
}

func (g *TestGame) Render(ctx *engine.EngineContext, frame *engine.FrameContext) error {
	eng := frame.Commands
	if err := eng.BeginTarget(frame.Target, frame.Area); err != nil {
		return err
	}

	// pass 0: the cubes write albedo, normal and depth
	for _, c := range g.cubes {
		ctx.Batcher().Add(scene.Drawable{
			Geometry:  g.cube,
			Material:  g.materials[c.material],
			Transform: c.transform.Matrix(),
			Variant:   c.variant,
		})
	}
	extent := frame.Target.Extent()
	ctx.Scene().SetViewProjection(g.camera.ViewProjection(extent.Width, extent.Height))
	if err := ctx.DrawScene(g.resolve); err != nil {
		return err
	}

	// pass 1: resolve the G-buffer into the present image
	p, err := ctx.Pipelines().Acquire(pipeline.Desc{
		Name:       LightingPass,
		Shaders:    g.lighting,
		RenderPass: frame.Target.RenderPass(),
		Subpass:    g.graph.lighting.Index(),
	})
	if err != nil {
		return err
	}
	if err := eng.UsePipeline(p); err != nil {
		return err
	}
	ds, err := g.inputs.get(eng, g.graph, frame.Target, p)
	if err != nil {
		return err
	}
	if err := eng.BindDescriptorSet(0, ds); err != nil {
		return err
	}
	if err := eng.PushConstants("light_direction", vec4Bytes(math.NewVec4(-0.4, -1, -0.3, 0))); err != nil {
		return err
	}
	if err := eng.PushConstants("ambient", vec4Bytes(math.NewVec4(0.15, 0.15, 0.2, 1))); err != nil {
		return err
	}
	if err := eng.Draw(g.fullscreen, 1); err != nil {
		return err
	}

	// pass 2: the text overlay, blended over the lit image
	if g.label != nil && g.label.IndexCount() > 0 {
		p, err := ctx.Pipelines().Acquire(pipeline.Desc{
			Name:       overlay.PassName,
			Shaders:    g.overlay,
			RenderPass: frame.Target.RenderPass(),
			Subpass:    g.graph.overlay.Index(),
			Blend:      true,
		})
		if err != nil {
			return err
		}
		if err := eng.UsePipeline(p); err != nil {
			return err
		}
		if err := eng.Draw(g.label, 1); err != nil {
			return err
		}
	}
	return eng.EndTarget(frame.Target)
}

func (g *TestGame) resolve(m *metadata.Material) (*pipeline.Pipeline, error) {
	return g.ctx.Pipelines().Acquire(pipeline.Desc{
		Name:       m.Name,
		Shaders:    g.stages(m.Shaders),
		RenderPass: g.ctx.Target().RenderPass(),
		Subpass:    g.graph.gbuffer.Index(),
		Cull:       metadata.CullBack,
		DepthTest:  true,
		DepthWrite: true,
		Instanced:  true,
	})
}

func (g *TestGame) OnResize(width uint32, height uint32) {
	// the G-buffer images were rebuilt
	g.inputs.release(g.ctx.Commands())
	g.label = nil
	core.LogDebug("testbed resized to %dx%d", width, height)
}

func (g *TestGame) Shutdown() {
	core.LogInfo("shutting down testbed...")
	g.inputs.release(g.ctx.Commands())
}

func vec4Bytes(v math.Vec4) []byte {
	out := make([]byte, 16)
	for i, f := range []float32{v.X, v.Y, v.Z, v.W} {
		binary.LittleEndian.PutUint32(out[i*4:], stdmath.Float32bits(f))
	}
	return out
}
