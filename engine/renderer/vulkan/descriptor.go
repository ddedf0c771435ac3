package vulkan

import (
	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/ember/engine/core"
	"github.com/spaghettifunk/ember/engine/renderer/gpu"
	"github.com/spaghettifunk/ember/engine/renderer/metadata"
)

// DescriptorSet is allocated from its pipeline's pool against the layout
// reflected for one set index.
type DescriptorSet struct {
	pipeline *Pipeline
	set      uint32
	Handle   vk.DescriptorSet
	bindings []metadata.ResourceBinding
}

func (d *Device) CreateDescriptorSet(p gpu.Pipeline, set uint32) (gpu.DescriptorSet, error) {
	pipeline, ok := p.(*Pipeline)
	if !ok || pipeline.Handle == vk.NullPipeline {
		return nil, core.NewConfigError("vulkan.CreateDescriptorSet", core.ErrInvalidHandle, "pipeline")
	}
	if int(set) >= len(pipeline.SetLayouts) || pipeline.DescriptorPool == nil {
		return nil, core.NewConfigError("vulkan.CreateDescriptorSet", core.ErrLayoutMismatch, "pipeline %q has no set %d", pipeline.desc.Name, set)
	}

	ds := &DescriptorSet{pipeline: pipeline, set: set, bindings: pipeline.bindings(set)}
	err := d.locks.SafeCall(DescriptorManagement, func() error {
		allocInfo := vk.DescriptorSetAllocateInfo{
			SType:              vk.StructureTypeDescriptorSetAllocateInfo,
			DescriptorPool:     pipeline.DescriptorPool,
			DescriptorSetCount: 1,
			PSetLayouts:        []vk.DescriptorSetLayout{pipeline.SetLayouts[set]},
		}
		var handle vk.DescriptorSet
		if err := check("vkAllocateDescriptorSets", vk.AllocateDescriptorSets(d.LogicalDevice, &allocInfo, &handle)); err != nil {
			return err
		}
		ds.Handle = handle
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ds, nil
}

func (s *DescriptorSet) binding(binding uint32, kinds ...metadata.DescriptorKind) (metadata.ResourceBinding, error) {
	for _, b := range s.bindings {
		if b.Binding != binding {
			continue
		}
		for _, k := range kinds {
			if b.Kind == k {
				return b, nil
			}
		}
		return b, core.NewConfigError("vulkan.DescriptorSet", core.ErrLayoutMismatch, "set %d binding %d is %s", s.set, binding, b.Kind)
	}
	return metadata.ResourceBinding{}, core.NewConfigError("vulkan.DescriptorSet", core.ErrLayoutMismatch, "set %d has no binding %d", s.set, binding)
}

func (s *DescriptorSet) WriteBuffer(binding uint32, buf gpu.Buffer, offset, size uint64) error {
	b, err := s.binding(binding, metadata.DescriptorUniformBuffer, metadata.DescriptorStorageBuffer)
	if err != nil {
		return err
	}
	vb, ok := buf.(*Buffer)
	if !ok || vb.handle == vk.NullBuffer {
		return core.NewConfigError("vulkan.DescriptorSet.WriteBuffer", core.ErrInvalidHandle, "buffer")
	}
	write := vk.WriteDescriptorSet{
		SType:           vk.StructureTypeWriteDescriptorSet,
		DstSet:          s.Handle,
		DstBinding:      binding,
		DstArrayElement: 0,
		DescriptorCount: 1,
		DescriptorType:  toVkDescriptorType(b.Kind),
		PBufferInfo: []vk.DescriptorBufferInfo{{
			Buffer: vb.handle,
			Offset: vk.DeviceSize(offset),
			Range:  vk.DeviceSize(size),
		}},
	}
	return s.pipeline.dev.locks.SafeCall(DescriptorManagement, func() error {
		vk.UpdateDescriptorSets(s.pipeline.dev.LogicalDevice, 1, []vk.WriteDescriptorSet{write}, 0, nil)
		return nil
	})
}

func (s *DescriptorSet) WriteInputAttachment(binding uint32, img gpu.Image) error {
	if _, err := s.binding(binding, metadata.DescriptorInputAttachment); err != nil {
		return err
	}
	vi, ok := img.(*Image)
	if !ok || vi.View == vk.NullImageView {
		return core.NewConfigError("vulkan.DescriptorSet.WriteInputAttachment", core.ErrInvalidHandle, "image")
	}
	write := vk.WriteDescriptorSet{
		SType:           vk.StructureTypeWriteDescriptorSet,
		DstSet:          s.Handle,
		DstBinding:      binding,
		DstArrayElement: 0,
		DescriptorCount: 1,
		DescriptorType:  vk.DescriptorTypeInputAttachment,
		PImageInfo: []vk.DescriptorImageInfo{{
			ImageView:   vi.View,
			ImageLayout: vk.ImageLayoutShaderReadOnlyOptimal,
		}},
	}
	return s.pipeline.dev.locks.SafeCall(DescriptorManagement, func() error {
		vk.UpdateDescriptorSets(s.pipeline.dev.LogicalDevice, 1, []vk.WriteDescriptorSet{write}, 0, nil)
		return nil
	})
}

func (s *DescriptorSet) Destroy() {
	if s.Handle == nil || s.pipeline.DescriptorPool == nil {
		return
	}
	d := s.pipeline.dev
	_ = d.locks.SafeCall(DescriptorManagement, func() error {
		vk.FreeDescriptorSets(d.LogicalDevice, s.pipeline.DescriptorPool, 1, &s.Handle)
		return nil
	})
	s.Handle = nil
}
