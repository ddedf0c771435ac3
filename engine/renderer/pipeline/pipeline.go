package pipeline

import (
	"encoding/binary"
	"fmt"
	"hash/fnv"

	"github.com/spaghettifunk/ember/engine/core"
	"github.com/spaghettifunk/ember/engine/renderer/gpu"
	"github.com/spaghettifunk/ember/engine/renderer/metadata"
)

// Desc is everything needed to build one graphics pipeline.
type Desc struct {
	Name    string
	Shaders []metadata.Shader

	RenderPass gpu.RenderPass
	Subpass    uint32

	Cull       metadata.CullMode
	DepthTest  bool
	DepthWrite bool
	Blend      bool
	Wireframe  bool
	// Instanced adds the per-instance binding even when no stage reads it.
	Instanced bool
}

// Hash identifies a desc by content: shader paths and code, target
// renderpass and subpass, and fixed-function state.
func (d *Desc) Hash() uint64 {
	h := fnv.New64a()
	var buf [8]byte
	for _, s := range d.Shaders {
		h.Write([]byte(s.Path))
		binary.LittleEndian.PutUint64(buf[:], s.CodeHash())
		h.Write(buf[:])
	}
	fmt.Fprintf(h, "%p", d.RenderPass)
	flags := uint64(d.Subpass)<<32 | uint64(d.Cull)<<8
	for i, f := range []bool{d.DepthTest, d.DepthWrite, d.Blend, d.Wireframe, d.Instanced} {
		if f {
			flags |= 1 << i
		}
	}
	binary.LittleEndian.PutUint64(buf[:], flags)
	h.Write(buf[:])
	return h.Sum64()
}

// UsesShader reports whether path is one of the desc stages.
func (d *Desc) UsesShader(path string) bool {
	for _, s := range d.Shaders {
		if s.Path == path {
			return true
		}
	}
	return false
}

type Pipeline struct {
	handle gpu.Pipeline
	layout *Layout
	desc   Desc
	hash   uint64
}

// Create builds the layout from reflection and then the device pipeline.
func Create(dev gpu.Device, desc Desc) (*Pipeline, error) {
	if desc.RenderPass == nil {
		return nil, core.NewConfigError("pipeline.Create", core.ErrInvalidHandle, "pipeline %q has no renderpass", desc.Name)
	}
	if len(desc.Shaders) == 0 {
		return nil, core.NewConfigError("pipeline.Create", core.ErrLayoutMismatch, "pipeline %q has no shaders", desc.Name)
	}
	if int(desc.Subpass) >= len(desc.RenderPass.Description().Subpasses) {
		return nil, core.NewConfigError("pipeline.Create", core.ErrInvalidHandle,
			"pipeline %q targets subpass %d of %d", desc.Name, desc.Subpass, len(desc.RenderPass.Description().Subpasses))
	}

	reflections := make([]metadata.ShaderReflection, len(desc.Shaders))
	stages := make([]gpu.ShaderStageDesc, len(desc.Shaders))
	for i, s := range desc.Shaders {
		reflections[i] = s.Reflection
		entry := s.Reflection.EntryPoint
		if entry == "" {
			entry = "main"
		}
		stages[i] = gpu.ShaderStageDesc{Stage: s.Reflection.Stage, EntryPoint: entry, Path: s.Path, Code: s.Code}
	}

	layout, err := BuildLayout(reflections)
	if err != nil {
		return nil, fmt.Errorf("pipeline %q: %w", desc.Name, err)
	}
	bindings, attrs := layout.VertexState(desc.Instanced)

	handle, err := dev.CreatePipeline(&gpu.PipelineDesc{
		Name:             desc.Name,
		Stages:           stages,
		VertexBindings:   bindings,
		VertexAttributes: attrs,
		DescriptorSets:   layout.Sets,
		PushConstants:    layout.PushConstants,
		RenderPass:       desc.RenderPass,
		Subpass:          desc.Subpass,
		Cull:             desc.Cull,
		DepthTest:        desc.DepthTest,
		DepthWrite:       desc.DepthWrite,
		Blend:            desc.Blend,
		Wireframe:        desc.Wireframe,
	})
	if err != nil {
		return nil, fmt.Errorf("create pipeline %q: %w", desc.Name, err)
	}
	core.LogDebug("pipeline %q created for subpass %d", desc.Name, desc.Subpass)
	return &Pipeline{handle: handle, layout: layout, desc: desc, hash: desc.Hash()}, nil
}

func (p *Pipeline) Handle() gpu.Pipeline { return p.handle }
func (p *Pipeline) Layout() *Layout      { return p.layout }
func (p *Pipeline) Subpass() uint32      { return p.desc.Subpass }
func (p *Pipeline) Name() string         { return p.desc.Name }
func (p *Pipeline) Hash() uint64         { return p.hash }
func (p *Pipeline) Desc() *Desc          { return &p.desc }

func (p *Pipeline) Destroy() {
	if p.handle != nil {
		p.handle.Destroy()
		p.handle = nil
	}
}
