package gpu

import "github.com/spaghettifunk/ember/engine/renderer/metadata"

// Vertex buffer bindings used by every pipeline.
const (
	VertexBinding   uint32 = 0
	InstanceBinding uint32 = 1
)

type ShaderStageDesc struct {
	Stage      metadata.ShaderStage
	EntryPoint string
	Path       string
	Code       []byte
}

type VertexBindingDesc struct {
	Binding     uint32
	Stride      uint32
	PerInstance bool
}

type VertexAttributeDesc struct {
	Location uint32
	Binding  uint32
	Format   metadata.Format
	Offset   uint32
}

type DescriptorSetLayoutDesc struct {
	Set      uint32
	Bindings []metadata.ResourceBinding
}

// PipelineDesc is fully resolved: every binding number comes from shader
// reflection.
type PipelineDesc struct {
	Name             string
	Stages           []ShaderStageDesc
	VertexBindings   []VertexBindingDesc
	VertexAttributes []VertexAttributeDesc
	DescriptorSets   []DescriptorSetLayoutDesc
	PushConstants    []metadata.PushConstantRange

	RenderPass RenderPass
	Subpass    uint32

	Cull       metadata.CullMode
	DepthTest  bool
	DepthWrite bool
	Blend      bool
	Wireframe  bool
}

// PushConstant finds a range by name.
func (d *PipelineDesc) PushConstant(name string) (metadata.PushConstantRange, bool) {
	for _, pc := range d.PushConstants {
		if pc.Name == name {
			return pc, true
		}
	}
	return metadata.PushConstantRange{}, false
}

// HasInstanceBinding reports whether the pipeline reads per-instance data.
func (d *PipelineDesc) HasInstanceBinding() bool {
	for _, b := range d.VertexBindings {
		if b.PerInstance {
			return true
		}
	}
	return false
}
