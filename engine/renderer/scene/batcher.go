// Package scene groups drawables into instanced batches and records them
// through the command engine.
package scene

import (
	"github.com/spaghettifunk/ember/engine/math"
	"github.com/spaghettifunk/ember/engine/renderer/metadata"
)

// Drawable is one request to draw a geometry with a material. Variant
// selects a shader permutation through the "variant" push constant.
type Drawable struct {
	Geometry  *metadata.Geometry
	Material  *metadata.Material
	Transform math.Mat4
	Variant   uint32
}

// DrawCall draws InstanceCount instances whose transforms start at
// FirstInstance in the batch transform array.
type DrawCall struct {
	Geometry      *metadata.Geometry
	InstanceCount uint32
	FirstInstance uint32
	Variant       uint32
}

// Batch is everything drawn with one material. Transforms holds the
// instances of each draw contiguously, in draw order.
type Batch struct {
	Material   *metadata.Material
	Transforms []math.Mat4
	Draws      []DrawCall
}

type drawKey struct {
	geometry metadata.GeometryKey
	variant  uint32
}

type drawGroup struct {
	geometry   *metadata.Geometry
	variant    uint32
	transforms []math.Mat4
}

type materialGroup struct {
	material *metadata.Material
	order    []drawKey
	draws    map[drawKey]*drawGroup
}

// Batcher collects drawables for one frame. Materials and draws keep the
// order they were first added in.
type Batcher struct {
	order  []metadata.MaterialHash
	groups map[metadata.MaterialHash]*materialGroup
	count  int
}

func NewBatcher() *Batcher {
	return &Batcher{groups: map[metadata.MaterialHash]*materialGroup{}}
}

func (b *Batcher) Add(d Drawable) {
	hash := d.Material.Hash()
	mg, ok := b.groups[hash]
	if !ok {
		mg = &materialGroup{material: d.Material, draws: map[drawKey]*drawGroup{}}
		b.groups[hash] = mg
		b.order = append(b.order, hash)
	}
	key := drawKey{geometry: d.Geometry.Key(), variant: d.Variant}
	dg, ok := mg.draws[key]
	if !ok {
		dg = &drawGroup{geometry: d.Geometry, variant: d.Variant}
		mg.draws[key] = dg
		mg.order = append(mg.order, key)
	}
	dg.transforms = append(dg.transforms, d.Transform)
	b.count++
}

// Len is the number of drawables added since the last Reset.
func (b *Batcher) Len() int { return b.count }

func (b *Batcher) Build() []*Batch {
	batches := make([]*Batch, 0, len(b.order))
	for _, hash := range b.order {
		mg := b.groups[hash]
		batch := &Batch{Material: mg.material}
		for _, key := range mg.order {
			dg := mg.draws[key]
			batch.Draws = append(batch.Draws, DrawCall{
				Geometry:      dg.geometry,
				InstanceCount: uint32(len(dg.transforms)),
				FirstInstance: uint32(len(batch.Transforms)),
				Variant:       dg.variant,
			})
			batch.Transforms = append(batch.Transforms, dg.transforms...)
		}
		batches = append(batches, batch)
	}
	return batches
}

func (b *Batcher) Reset() {
	b.order = b.order[:0]
	for k := range b.groups {
		delete(b.groups, k)
	}
	b.count = 0
}
