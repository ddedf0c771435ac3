package resource

import (
	"fmt"

	"github.com/spaghettifunk/ember/engine/core"
	"github.com/spaghettifunk/ember/engine/math"
	"github.com/spaghettifunk/ember/engine/renderer/gpu"
	"github.com/spaghettifunk/ember/engine/renderer/metadata"
)

// DefaultBlockSize is the device memory reserved per arena block.
const DefaultBlockSize = 16 << 20

// Allocation is a value handle into an Arena. It carries no pointer to the
// memory it names; Resolve turns it into memory and offset while it is live.
type Allocation struct {
	block      uint32
	offset     uint64
	size       uint64
	generation uint32
}

func (a Allocation) Offset() uint64 { return a.offset }
func (a Allocation) Size() uint64   { return a.size }
func (a Allocation) IsZero() bool   { return a.generation == 0 }

type span struct {
	offset, size uint64
}

type block struct {
	mem       gpu.Memory
	typeIndex uint32
	size      uint64
	// free is sorted by offset and never holds adjacent spans.
	free []span
	live map[uint64]Allocation
}

type ArenaStats struct {
	Blocks        int
	Allocations   int
	BytesLive     uint64
	BytesReserved uint64
}

// Arena sub-allocates buffers from a few large device memory blocks with
// identical properties.
type Arena struct {
	noCopy core.NoCopy

	dev        gpu.Device
	name       string
	props      metadata.MemoryProperty
	blockSize  uint64
	blocks     []*block
	generation uint32
}

func NewArena(dev gpu.Device, name string, props metadata.MemoryProperty, blockSize uint64) *Arena {
	if blockSize == 0 {
		blockSize = DefaultBlockSize
	}
	a := &Arena{dev: dev, name: name, props: props, blockSize: blockSize}
	a.noCopy.Init()
	return a
}

func (a *Arena) Properties() metadata.MemoryProperty { return a.props }

// Alloc reserves req.Size bytes at req.Alignment, first fit across blocks.
// A new block is allocated when nothing fits.
func (a *Arena) Alloc(req gpu.MemoryRequirements) (Allocation, error) {
	a.noCopy.Check()
	if req.Size == 0 {
		return Allocation{}, core.NewConfigError("arena.Alloc", core.ErrInvalidHandle, "zero sized allocation in arena %q", a.name)
	}
	align := math.Max(req.Alignment, 1)

	for i, b := range a.blocks {
		// the block can only serve requests that accept its memory type
		if req.TypeBits&(1<<b.typeIndex) == 0 {
			continue
		}
		if alloc, ok := a.fit(uint32(i), b, req.Size, align); ok {
			return alloc, nil
		}
	}

	size := math.Max(a.blockSize, math.AlignUp(req.Size, align))
	mem, err := a.dev.AllocateMemory(size, a.props, req.TypeBits)
	if err != nil {
		return Allocation{}, fmt.Errorf("arena %q: allocate block of %d bytes: %w", a.name, size, err)
	}
	b := &block{
		mem:       mem,
		typeIndex: mem.TypeIndex(),
		size:      size,
		free:      []span{{0, size}},
		live:      map[uint64]Allocation{},
	}
	a.blocks = append(a.blocks, b)
	core.LogDebug("arena %q: new block %d of %d bytes", a.name, len(a.blocks)-1, size)

	alloc, ok := a.fit(uint32(len(a.blocks)-1), b, req.Size, align)
	if !ok {
		return Allocation{}, fmt.Errorf("arena %q: %d bytes do not fit a fresh block: %w", a.name, req.Size, core.ErrOutOfMemory)
	}
	return alloc, nil
}

func (a *Arena) fit(index uint32, b *block, size, align uint64) (Allocation, bool) {
	for i, s := range b.free {
		start := math.AlignUp(s.offset, align)
		end := start + size
		if end > s.offset+s.size {
			continue
		}

		var rest []span
		if start > s.offset {
			rest = append(rest, span{s.offset, start - s.offset})
		}
		if tail := s.offset + s.size - end; tail > 0 {
			rest = append(rest, span{end, tail})
		}
		b.free = append(b.free[:i], append(rest, b.free[i+1:]...)...)

		a.generation++
		alloc := Allocation{block: index, offset: start, size: size, generation: a.generation}
		b.live[start] = alloc
		return alloc, true
	}
	return Allocation{}, false
}

// Free returns an allocation to its block and merges adjacent free ranges.
// Freeing twice, or freeing a handle from another arena, is ErrStaleHandle.
func (a *Arena) Free(alloc Allocation) error {
	a.noCopy.Check()
	b, err := a.lookup(alloc)
	if err != nil {
		return err
	}
	delete(b.live, alloc.offset)

	freed := span{alloc.offset, alloc.size}
	i := 0
	for i < len(b.free) && b.free[i].offset < freed.offset {
		i++
	}
	b.free = append(b.free[:i], append([]span{freed}, b.free[i:]...)...)

	if i+1 < len(b.free) && b.free[i].offset+b.free[i].size == b.free[i+1].offset {
		b.free[i].size += b.free[i+1].size
		b.free = append(b.free[:i+1], b.free[i+2:]...)
	}
	if i > 0 && b.free[i-1].offset+b.free[i-1].size == b.free[i].offset {
		b.free[i-1].size += b.free[i].size
		b.free = append(b.free[:i], b.free[i+1:]...)
	}
	return nil
}

func (a *Arena) lookup(alloc Allocation) (*block, error) {
	if alloc.IsZero() || int(alloc.block) >= len(a.blocks) {
		return nil, fmt.Errorf("arena %q: %w", a.name, core.ErrStaleHandle)
	}
	b := a.blocks[alloc.block]
	live, ok := b.live[alloc.offset]
	if !ok || live != alloc {
		return nil, fmt.Errorf("arena %q: allocation at %d: %w", a.name, alloc.offset, core.ErrStaleHandle)
	}
	return b, nil
}

// Resolve returns the memory and offset a live allocation names.
func (a *Arena) Resolve(alloc Allocation) (gpu.Memory, uint64, error) {
	a.noCopy.Check()
	b, err := a.lookup(alloc)
	if err != nil {
		return nil, 0, err
	}
	return b.mem, alloc.offset, nil
}

func (a *Arena) Stats() ArenaStats {
	var s ArenaStats
	s.Blocks = len(a.blocks)
	for _, b := range a.blocks {
		s.BytesReserved += b.size
		s.Allocations += len(b.live)
		for _, l := range b.live {
			s.BytesLive += l.size
		}
	}
	return s
}

// Destroy frees every block. Outstanding allocations become stale.
func (a *Arena) Destroy() {
	if !a.noCopy.Alive() {
		return
	}
	for _, b := range a.blocks {
		if len(b.live) > 0 {
			core.LogWarn("arena %q: destroying block with %d live allocations", a.name, len(b.live))
		}
		b.mem.Free()
	}
	a.blocks = nil
	a.noCopy.Close()
}
