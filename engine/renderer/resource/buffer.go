package resource

import (
	"fmt"

	"github.com/spaghettifunk/ember/engine/core"
	"github.com/spaghettifunk/ember/engine/renderer/gpu"
	"github.com/spaghettifunk/ember/engine/renderer/metadata"
)

// Buffer is a device buffer bound to an arena allocation it exclusively
// owns. It must not be copied; pass *Buffer around.
type Buffer struct {
	noCopy core.NoCopy

	name   string
	handle gpu.Buffer
	arena  *Arena
	alloc  Allocation
	usage  metadata.BufferUsage
}

// NewBuffer creates a buffer, allocates its memory from arena and binds it.
func NewBuffer(dev gpu.Device, arena *Arena, name string, size uint64, usage metadata.BufferUsage) (*Buffer, error) {
	handle, err := dev.CreateBuffer(gpu.BufferDesc{Name: name, Size: size, Usage: usage})
	if err != nil {
		return nil, fmt.Errorf("create buffer %q: %w", name, err)
	}
	alloc, err := arena.Alloc(handle.Requirements())
	if err != nil {
		handle.Destroy()
		return nil, fmt.Errorf("allocate buffer %q: %w", name, err)
	}
	mem, offset, err := arena.Resolve(alloc)
	if err == nil {
		err = handle.Bind(mem, offset)
	}
	if err != nil {
		handle.Destroy()
		_ = arena.Free(alloc)
		return nil, fmt.Errorf("bind buffer %q: %w", name, err)
	}

	b := &Buffer{name: name, handle: handle, arena: arena, alloc: alloc, usage: usage}
	b.noCopy.Init()
	return b, nil
}

func (b *Buffer) Name() string { return b.name }

func (b *Buffer) Handle() gpu.Buffer {
	b.noCopy.Check()
	return b.handle
}

func (b *Buffer) Size() uint64                { return b.handle.Size() }
func (b *Buffer) Usage() metadata.BufferUsage { return b.usage }
func (b *Buffer) Allocation() Allocation      { return b.alloc }

// HostVisible reports whether Write and Read are allowed.
func (b *Buffer) HostVisible() bool {
	return b.arena.Properties()&metadata.MemoryHostVisible != 0
}

func (b *Buffer) Write(offset uint64, data []byte) error {
	b.noCopy.Check()
	if err := b.handle.Write(offset, data); err != nil {
		return fmt.Errorf("write buffer %q: %w", b.name, err)
	}
	return nil
}

func (b *Buffer) Read(offset uint64, dst []byte) error {
	b.noCopy.Check()
	if err := b.handle.Read(offset, dst); err != nil {
		return fmt.Errorf("read buffer %q: %w", b.name, err)
	}
	return nil
}

// Destroy releases the buffer and then its memory. The caller guarantees
// the GPU no longer uses it.
func (b *Buffer) Destroy() {
	if !b.noCopy.Alive() {
		return
	}
	b.handle.Destroy()
	if err := b.arena.Free(b.alloc); err != nil {
		core.LogError("buffer %q: %v", b.name, err)
	}
	b.noCopy.Close()
}
