package pipeline

import (
	"errors"
	"fmt"

	"golang.org/x/exp/slices"

	"github.com/spaghettifunk/ember/engine/core"
	"github.com/spaghettifunk/ember/engine/math"
	"github.com/spaghettifunk/ember/engine/renderer/gpu"
	"github.com/spaghettifunk/ember/engine/renderer/metadata"
)

const (
	// MaxPushConstantSize is the smallest limit every device guarantees.
	MaxPushConstantSize = 128
	// InstanceModelLocation is the first of four vec4 locations carrying
	// the per-instance model matrix.
	InstanceModelLocation = 6
	InstanceStride        = 64
)

// BindError is a lookup miss for a name the layout does not declare. It is
// recoverable: a shader variant may simply not use that resource.
type BindError struct {
	Name string
	Kind string
}

func (e *BindError) Error() string {
	return fmt.Sprintf("%s %q is not declared by the pipeline layout", e.Kind, e.Name)
}

// IsBindMiss reports whether err is a *BindError.
func IsBindMiss(err error) bool {
	var be *BindError
	return errors.As(err, &be)
}

// Layout is the merged interface of all stages of a pipeline.
type Layout struct {
	Sets          []gpu.DescriptorSetLayoutDesc
	PushConstants []metadata.PushConstantRange
	Inputs        []metadata.VertexAttribute

	bindings map[string]metadata.ResourceBinding
}

type bindingSlot struct {
	set, binding uint32
}

// BuildLayout merges reflections by (set, binding) and push constants by
// name. Stages that disagree on a slot are a configuration error.
func BuildLayout(reflections []metadata.ShaderReflection) (*Layout, error) {
	slots := map[bindingSlot]metadata.ResourceBinding{}
	ranges := map[string]metadata.PushConstantRange{}
	var inputs []metadata.VertexAttribute

	for _, r := range reflections {
		for _, b := range r.Bindings {
			key := bindingSlot{b.Set, b.Binding}
			if prev, ok := slots[key]; ok {
				if prev.Kind != b.Kind || prev.Name != b.Name {
					return nil, core.NewConfigError("pipeline.BuildLayout", core.ErrLayoutMismatch,
						"set %d binding %d is %s %q in one stage and %s %q in %s", b.Set, b.Binding, prev.Kind, prev.Name, b.Kind, b.Name, r.Stage)
				}
				prev.Stages |= r.Stage
				prev.Size = math.Max(prev.Size, b.Size)
				slots[key] = prev
				continue
			}
			b.Stages = r.Stage
			if b.Count == 0 {
				b.Count = 1
			}
			slots[key] = b
		}

		for _, pc := range r.PushConstants {
			if pc.Offset%4 != 0 || pc.Size%4 != 0 || pc.Size == 0 {
				return nil, core.NewConfigError("pipeline.BuildLayout", core.ErrLayoutMismatch,
					"push constant %q [%d, +%d) is not 4-byte aligned", pc.Name, pc.Offset, pc.Size)
			}
			if pc.Offset+pc.Size > MaxPushConstantSize {
				return nil, core.NewConfigError("pipeline.BuildLayout", core.ErrLayoutMismatch,
					"push constant %q ends at %d, limit is %d", pc.Name, pc.Offset+pc.Size, MaxPushConstantSize)
			}
			if prev, ok := ranges[pc.Name]; ok {
				if prev.Offset != pc.Offset || prev.Size != pc.Size {
					return nil, core.NewConfigError("pipeline.BuildLayout", core.ErrLayoutMismatch,
						"push constant %q differs between stages", pc.Name)
				}
				prev.Stages |= r.Stage
				ranges[pc.Name] = prev
				continue
			}
			pc.Stages = r.Stage
			ranges[pc.Name] = pc
		}

		if r.Stage&metadata.ShaderStageVertex != 0 {
			inputs = append(inputs, r.Inputs...)
		}
	}

	l := &Layout{bindings: map[string]metadata.ResourceBinding{}}

	sets := map[uint32][]metadata.ResourceBinding{}
	for _, b := range slots {
		if b.Name != "" {
			if other, ok := l.bindings[b.Name]; ok {
				return nil, core.NewConfigError("pipeline.BuildLayout", core.ErrLayoutMismatch,
					"name %q bound at set %d binding %d and set %d binding %d", b.Name, other.Set, other.Binding, b.Set, b.Binding)
			}
			l.bindings[b.Name] = b
		}
		sets[b.Set] = append(sets[b.Set], b)
	}
	for set, bindings := range sets {
		slices.SortFunc(bindings, func(a, b metadata.ResourceBinding) int { return int(a.Binding) - int(b.Binding) })
		l.Sets = append(l.Sets, gpu.DescriptorSetLayoutDesc{Set: set, Bindings: bindings})
	}
	slices.SortFunc(l.Sets, func(a, b gpu.DescriptorSetLayoutDesc) int { return int(a.Set) - int(b.Set) })

	for _, pc := range ranges {
		l.PushConstants = append(l.PushConstants, pc)
	}
	slices.SortFunc(l.PushConstants, func(a, b metadata.PushConstantRange) int { return int(a.Offset) - int(b.Offset) })

	slices.SortFunc(inputs, func(a, b metadata.VertexAttribute) int { return int(a.Location) - int(b.Location) })
	if err := ValidateVertexInputs(inputs); err != nil {
		return nil, err
	}
	l.Inputs = inputs
	return l, nil
}

func componentFormat(components uint32) metadata.Format {
	switch components {
	case 2:
		return metadata.FormatR32G32Sfloat
	case 3:
		return metadata.FormatR32G32B32Sfloat
	case 4:
		return metadata.FormatR32G32B32A32Sfloat
	}
	return metadata.FormatUndefined
}

// ValidateVertexInputs checks shader inputs against the math.Vertex layout
// and the per-instance model matrix columns.
func ValidateVertexInputs(inputs []metadata.VertexAttribute) error {
	seen := map[uint32]bool{}
	for _, in := range inputs {
		if seen[in.Location] {
			return core.NewConfigError("pipeline.ValidateVertexInputs", core.ErrLayoutMismatch, "location %d declared twice", in.Location)
		}
		seen[in.Location] = true

		if int(in.Location) < len(math.VertexAttributes) {
			want := math.VertexAttributes[in.Location]
			if in.Format != componentFormat(want.Components) || in.Offset != want.Offset {
				return core.NewConfigError("pipeline.ValidateVertexInputs", core.ErrLayoutMismatch,
					"input %q at location %d is %s+%d, vertex %s is %s+%d",
					in.Name, in.Location, in.Format, in.Offset, want.Name, componentFormat(want.Components), want.Offset)
			}
			continue
		}

		column := in.Location - InstanceModelLocation
		if in.Location < InstanceModelLocation || column > 3 {
			return core.NewConfigError("pipeline.ValidateVertexInputs", core.ErrLayoutMismatch, "input %q at unknown location %d", in.Name, in.Location)
		}
		if in.Format != metadata.FormatR32G32B32A32Sfloat || in.Offset != column*16 {
			return core.NewConfigError("pipeline.ValidateVertexInputs", core.ErrLayoutMismatch,
				"instance input %q at location %d must be %s+%d", in.Name, in.Location, metadata.FormatR32G32B32A32Sfloat, column*16)
		}
	}
	return nil
}

// Uniform looks up a descriptor binding by name.
func (l *Layout) Uniform(name string) (metadata.ResourceBinding, error) {
	b, ok := l.bindings[name]
	if !ok {
		return metadata.ResourceBinding{}, &BindError{Name: name, Kind: "uniform"}
	}
	return b, nil
}

func (l *Layout) PushConstant(name string) (metadata.PushConstantRange, error) {
	for _, pc := range l.PushConstants {
		if pc.Name == name {
			return pc, nil
		}
	}
	return metadata.PushConstantRange{}, &BindError{Name: name, Kind: "push constant"}
}

// Instanced reports whether the vertex stage reads the instance matrix.
func (l *Layout) Instanced() bool {
	for _, in := range l.Inputs {
		if in.Location >= InstanceModelLocation {
			return true
		}
	}
	return false
}

// VertexState derives buffer bindings and attributes from the inputs.
func (l *Layout) VertexState(instanced bool) ([]gpu.VertexBindingDesc, []gpu.VertexAttributeDesc) {
	bindings := []gpu.VertexBindingDesc{{Binding: gpu.VertexBinding, Stride: math.VertexStride}}
	if instanced || l.Instanced() {
		bindings = append(bindings, gpu.VertexBindingDesc{Binding: gpu.InstanceBinding, Stride: InstanceStride, PerInstance: true})
	}
	attrs := make([]gpu.VertexAttributeDesc, 0, len(l.Inputs))
	for _, in := range l.Inputs {
		binding := gpu.VertexBinding
		if in.Location >= InstanceModelLocation {
			binding = gpu.InstanceBinding
		}
		attrs = append(attrs, gpu.VertexAttributeDesc{Location: in.Location, Binding: binding, Format: in.Format, Offset: in.Offset})
	}
	return bindings, attrs
}
