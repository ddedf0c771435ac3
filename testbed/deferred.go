package testbed

import (
	"github.com/spaghettifunk/ember/engine/overlay"
	"github.com/spaghettifunk/ember/engine/renderer/command"
	"github.com/spaghettifunk/ember/engine/renderer/framegraph"
	"github.com/spaghettifunk/ember/engine/renderer/gpu"
	"github.com/spaghettifunk/ember/engine/renderer/metadata"
	"github.com/spaghettifunk/ember/engine/renderer/pipeline"
)

const (
	GBufferPass  = "gbuffer"
	LightingPass = "lighting"
)

// deferred is the frame graph of the testbed: a G-buffer pass, a lighting
// pass reading it back as input attachments, and the text overlay on top.
type deferred struct {
	graph   *framegraph.Graph
	albedo  framegraph.AttachmentHandle
	normal  framegraph.AttachmentHandle
	depth   framegraph.AttachmentHandle
	present framegraph.AttachmentHandle

	gbuffer  *framegraph.Pass
	lighting *framegraph.Pass
	overlay  *framegraph.Pass
}

func buildGraph(clear [4]float32) (*deferred, error) {
	d := &deferred{graph: framegraph.New("deferred")}
	var err error

	if d.albedo, err = d.graph.AddColorAttachment(metadata.FormatR8G8B8A8Unorm, framegraph.WithClearColor(0, 0, 0, 1)); err != nil {
		return nil, err
	}
	if d.normal, err = d.graph.AddColorAttachment(metadata.FormatR16G16B16A16Sfloat, framegraph.WithClearColor(0, 0, 0, 0)); err != nil {
		return nil, err
	}
	if d.depth, err = d.graph.AddDepthAttachment(metadata.FormatD32Sfloat, framegraph.WithClearDepth(1, 0)); err != nil {
		return nil, err
	}
	if d.present, err = d.graph.AddColorAttachment(metadata.FormatB8G8R8A8Unorm, framegraph.WithClearColor(clear[0], clear[1], clear[2], clear[3])); err != nil {
		return nil, err
	}
	if err := d.graph.SetPresentAttachment(d.present); err != nil {
		return nil, err
	}

	if d.gbuffer, err = d.graph.AddPass(GBufferPass); err != nil {
		return nil, err
	}
	for _, h := range []framegraph.AttachmentHandle{d.albedo, d.normal} {
		if err := d.gbuffer.AddColorAttachment(h); err != nil {
			return nil, err
		}
	}
	if err := d.gbuffer.AddDepthStencilAttachment(d.depth); err != nil {
		return nil, err
	}

	if d.lighting, err = d.graph.AddPass(LightingPass); err != nil {
		return nil, err
	}
	for _, h := range d.inputs() {
		if err := d.lighting.AddInputAttachment(h); err != nil {
			return nil, err
		}
	}
	if err := d.lighting.AddColorAttachment(d.present); err != nil {
		return nil, err
	}

	if d.overlay, err = overlay.AddPass(d.graph, d.present); err != nil {
		return nil, err
	}
	return d, nil
}

// inputs are in binding order of lighting.frag.
func (d *deferred) inputs() []framegraph.AttachmentHandle {
	return []framegraph.AttachmentHandle{d.albedo, d.normal, d.depth}
}

// inputSets keeps one descriptor set per framebuffer for the lighting
// pipeline. The sets point at the G-buffer images of their framebuffer, so
// they are dropped when the target is rebuilt or the pipeline changes.
type inputSets struct {
	pipeline uint64
	sets     map[int]gpu.DescriptorSet
}

func (s *inputSets) get(eng *command.Engine, d *deferred, rt *framegraph.RenderTarget, p *pipeline.Pipeline) (gpu.DescriptorSet, error) {
	if s.pipeline != p.Hash() {
		s.release(eng)
		s.pipeline = p.Hash()
	}
	fb := eng.LastFramebuffer(rt)
	if ds, ok := s.sets[fb]; ok {
		return ds, nil
	}

	ds, err := eng.Device().CreateDescriptorSet(p.Handle(), 0)
	if err != nil {
		return nil, err
	}
	for binding, h := range d.inputs() {
		img, err := rt.Image(fb, h)
		if err == nil {
			err = ds.WriteInputAttachment(uint32(binding), img)
		}
		if err != nil {
			ds.Destroy()
			return nil, err
		}
	}
	if s.sets == nil {
		s.sets = make(map[int]gpu.DescriptorSet)
	}
	s.sets[fb] = ds
	return ds, nil
}

// release frees the sets once the frames using them have completed.
func (s *inputSets) release(eng *command.Engine) {
	for fb, ds := range s.sets {
		eng.Retire(ds.Destroy)
		delete(s.sets, fb)
	}
	s.pipeline = 0
}
