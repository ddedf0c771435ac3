package scene

import (
	"encoding/binary"
	"fmt"

	"github.com/spaghettifunk/ember/engine/core"
	"github.com/spaghettifunk/ember/engine/math"
	"github.com/spaghettifunk/ember/engine/renderer/command"
	"github.com/spaghettifunk/ember/engine/renderer/metadata"
	"github.com/spaghettifunk/ember/engine/renderer/pipeline"
	"github.com/spaghettifunk/ember/engine/renderer/resource"
)

const (
	// VariantConstant is the push constant a batch writes its draw variant to.
	VariantConstant = "variant"
	// ViewProjectionConstant carries the camera matrix shared by every batch.
	ViewProjectionConstant = "view_projection"
)

// Resolver returns the pipeline a material is drawn with.
type Resolver func(m *metadata.Material) (*pipeline.Pipeline, error)

type bufferKey struct {
	slot     int
	material metadata.MaterialHash
}

type instanceBuffer struct {
	buf      *resource.Buffer
	capacity uint32
	frame    uint64
	used     uint32
}

// Renderer records batches. Each material owns one instance buffer per
// frame in flight, so a buffer is only rewritten after the frame that last
// read it has completed. Submits of the same material within one frame
// write past each other.
type Renderer struct {
	initialCapacity uint32
	buffers         map[bufferKey]*instanceBuffer
	scratch         []byte

	// pushed after every pipeline bind, in the order they were first set
	constants     map[string][]byte
	constantOrder []string
}

func NewRenderer(initialCapacity int) *Renderer {
	if initialCapacity < 1 {
		initialCapacity = 1
	}
	return &Renderer{
		initialCapacity: uint32(initialCapacity),
		buffers:         map[bufferKey]*instanceBuffer{},
		constants:       map[string][]byte{},
	}
}

// SetConstant stores a push constant written after every pipeline bind of
// the following Submit calls. Pipelines that do not declare it skip it.
func (r *Renderer) SetConstant(name string, data []byte) {
	if _, ok := r.constants[name]; !ok {
		r.constantOrder = append(r.constantOrder, name)
	}
	r.constants[name] = append(r.constants[name][:0], data...)
}

// SetViewProjection is SetConstant for the camera matrix.
func (r *Renderer) SetViewProjection(m math.Mat4) {
	r.SetConstant(ViewProjectionConstant, m.Bytes())
}

func (r *Renderer) ClearConstants() {
	clear(r.constants)
	r.constantOrder = r.constantOrder[:0]
}

// Submit draws every batch into the subpass currently recorded by eng.
// A material whose pipeline targets the next subpass advances to it.
func (r *Renderer) Submit(eng *command.Engine, batches []*Batch, resolve Resolver) error {
	for _, b := range batches {
		if len(b.Draws) == 0 {
			continue
		}
		p, err := resolve(b.Material)
		if err != nil {
			return fmt.Errorf("material %q: %w", b.Material.Name, err)
		}
		if cur := eng.Pipeline(); cur != nil && cur.Subpass() == p.Subpass() {
			err = eng.RebindPipeline(p)
		} else {
			err = eng.UsePipeline(p)
		}
		if err != nil {
			return fmt.Errorf("material %q: %w", b.Material.Name, err)
		}
		for _, name := range r.constantOrder {
			if err := eng.PushConstants(name, r.constants[name]); err != nil && !pipeline.IsBindMiss(err) {
				return fmt.Errorf("material %q: %w", b.Material.Name, err)
			}
		}

		buf, offset, err := r.instances(eng, b)
		if err != nil {
			return fmt.Errorf("material %q: %w", b.Material.Name, err)
		}
		if err := eng.BindInstanceBuffer(buf, offset); err != nil {
			return err
		}

		for _, d := range b.Draws {
			var variant [4]byte
			binary.LittleEndian.PutUint32(variant[:], d.Variant)
			if err := eng.PushConstants(VariantConstant, variant[:]); err != nil && !pipeline.IsBindMiss(err) {
				return fmt.Errorf("material %q: %w", b.Material.Name, err)
			}
			if err := eng.Draw(d.Geometry, d.InstanceCount); err != nil {
				return fmt.Errorf("material %q: %w", b.Material.Name, err)
			}
		}
	}
	return nil
}

// instances appends the batch transforms to the buffer of the current
// slot and returns the byte offset they start at. The buffer is replaced by
// one of the next power of two when the frame outgrows it; draws already
// recorded keep reading the old one until it is retired.
func (r *Renderer) instances(eng *command.Engine, b *Batch) (*resource.Buffer, uint64, error) {
	key := bufferKey{slot: eng.Slot(), material: b.Material.Hash()}
	count := uint32(len(b.Transforms))
	frame := eng.FrameNumber()
	ib, ok := r.buffers[key]
	if ok && ib.frame != frame {
		ib.frame, ib.used = frame, 0
	}
	if !ok || ib.capacity-ib.used < count {
		capacity := math.Max(r.initialCapacity, math.NextPowerOfTwo(count))
		if ok {
			capacity = math.Max(capacity, math.NextPowerOfTwo(ib.used+count))
		}
		buf, err := resource.NewBuffer(eng.Device(), eng.HostArena(), b.Material.Name+".instances",
			uint64(capacity)*pipeline.InstanceStride, metadata.BufferUsageVertex)
		if err != nil {
			return nil, 0, err
		}
		if ok {
			old := ib.buf
			eng.Retire(old.Destroy)
			core.LogDebug("batch %q: instance buffer grew from %d to %d", b.Material.Name, ib.capacity, capacity)
		}
		ib = &instanceBuffer{buf: buf, capacity: capacity, frame: frame}
		r.buffers[key] = ib
	}

	size := int(count) * pipeline.InstanceStride
	if cap(r.scratch) < size {
		r.scratch = make([]byte, size)
	}
	data := r.scratch[:size]
	for i, m := range b.Transforms {
		copy(data[i*pipeline.InstanceStride:], m.Bytes())
	}
	offset := uint64(ib.used) * pipeline.InstanceStride
	if err := ib.buf.Write(offset, data); err != nil {
		return nil, 0, err
	}
	ib.used += count
	return ib.buf, offset, nil
}

// Capacity is the instance capacity of material in slot, 0 if unallocated.
func (r *Renderer) Capacity(slot int, material *metadata.Material) uint32 {
	if ib, ok := r.buffers[bufferKey{slot: slot, material: material.Hash()}]; ok {
		return ib.capacity
	}
	return 0
}

// Destroy frees every instance buffer. The device must be idle.
func (r *Renderer) Destroy() {
	for k, ib := range r.buffers {
		ib.buf.Destroy()
		delete(r.buffers, k)
	}
}
