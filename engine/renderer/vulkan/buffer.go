package vulkan

import (
	"fmt"
	"unsafe"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/ember/engine/core"
	"github.com/spaghettifunk/ember/engine/renderer/gpu"
	"github.com/spaghettifunk/ember/engine/renderer/metadata"
)

// Memory is one VkDeviceMemory allocation. Host-visible memory stays mapped
// for its whole lifetime.
type Memory struct {
	dev       *Device
	handle    vk.DeviceMemory
	size      uint64
	props     metadata.MemoryProperty
	typeIndex uint32
	mapped    unsafe.Pointer
}

func (d *Device) AllocateMemory(size uint64, props metadata.MemoryProperty, typeBits uint32) (gpu.Memory, error) {
	index, err := d.FindMemoryIndex(typeBits, toVkMemoryProperties(props))
	if err != nil {
		return nil, fmt.Errorf("vulkan: allocate %d bytes: %w", size, err)
	}
	m := &Memory{dev: d, size: size, props: props, typeIndex: index}
	err = d.locks.SafeCall(MemoryManagement, func() error {
		var handle vk.DeviceMemory
		res := vk.AllocateMemory(d.LogicalDevice, &vk.MemoryAllocateInfo{
			SType:           vk.StructureTypeMemoryAllocateInfo,
			AllocationSize:  vk.DeviceSize(size),
			MemoryTypeIndex: index,
		}, d.Allocator, &handle)
		if err := check("vkAllocateMemory", res); err != nil {
			return err
		}
		m.handle = handle
		return nil
	})
	if err != nil {
		return nil, err
	}
	if props&metadata.MemoryHostVisible != 0 {
		var ptr unsafe.Pointer
		if err := check("vkMapMemory", vk.MapMemory(d.LogicalDevice, m.handle, 0, vk.DeviceSize(vk.WholeSize), 0, &ptr)); err != nil {
			m.Free()
			return nil, err
		}
		m.mapped = ptr
	}
	return m, nil
}

func (m *Memory) Size() uint64                        { return m.size }
func (m *Memory) Properties() metadata.MemoryProperty { return m.props }
func (m *Memory) TypeIndex() uint32                   { return m.typeIndex }

func (m *Memory) Free() {
	if m.handle == vk.NullDeviceMemory {
		return
	}
	if m.mapped != nil {
		vk.UnmapMemory(m.dev.LogicalDevice, m.handle)
		m.mapped = nil
	}
	_ = m.dev.locks.SafeCall(MemoryManagement, func() error {
		vk.FreeMemory(m.dev.LogicalDevice, m.handle, m.dev.Allocator)
		return nil
	})
	m.handle = vk.NullDeviceMemory
}

func (m *Memory) hostBytes(offset, n uint64) ([]byte, error) {
	if m.mapped == nil {
		return nil, core.NewConfigError("vulkan.Memory", core.ErrInvalidHandle, "memory is not host visible")
	}
	if offset+n > m.size {
		return nil, core.NewConfigError("vulkan.Memory", core.ErrInvalidHandle, "range %d+%d exceeds %d bytes", offset, n, m.size)
	}
	return unsafe.Slice((*byte)(unsafe.Add(m.mapped, offset)), n), nil
}

type Buffer struct {
	dev    *Device
	handle vk.Buffer
	desc   gpu.BufferDesc
	req    gpu.MemoryRequirements

	mem    *Memory
	offset uint64
}

func (d *Device) CreateBuffer(desc gpu.BufferDesc) (gpu.Buffer, error) {
	if desc.Size == 0 {
		return nil, core.NewConfigError("vulkan.CreateBuffer", core.ErrInvalidHandle, "buffer %q has zero size", desc.Name)
	}
	b := &Buffer{dev: d, desc: desc}
	err := d.locks.SafeCall(ResourceManagement, func() error {
		var handle vk.Buffer
		res := vk.CreateBuffer(d.LogicalDevice, &vk.BufferCreateInfo{
			SType:       vk.StructureTypeBufferCreateInfo,
			Size:        vk.DeviceSize(desc.Size),
			Usage:       toVkBufferUsage(desc.Usage),
			SharingMode: vk.SharingModeExclusive,
		}, d.Allocator, &handle)
		if err := check("vkCreateBuffer", res); err != nil {
			return err
		}
		b.handle = handle
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("vulkan: create buffer %q: %w", desc.Name, err)
	}

	var reqs vk.MemoryRequirements
	vk.GetBufferMemoryRequirements(d.LogicalDevice, b.handle, &reqs)
	reqs.Deref()
	b.req = gpu.MemoryRequirements{
		Size:      uint64(reqs.Size),
		Alignment: uint64(reqs.Alignment),
		TypeBits:  reqs.MemoryTypeBits,
	}
	return b, nil
}

func (b *Buffer) Size() uint64                         { return b.desc.Size }
func (b *Buffer) Requirements() gpu.MemoryRequirements { return b.req }

func (b *Buffer) Bind(mem gpu.Memory, offset uint64) error {
	m, ok := mem.(*Memory)
	if !ok || m.handle == vk.NullDeviceMemory {
		return core.NewConfigError("vulkan.Buffer.Bind", core.ErrInvalidHandle, "buffer %q: memory", b.desc.Name)
	}
	if b.mem != nil {
		return core.NewConfigError("vulkan.Buffer.Bind", core.ErrInvalidHandle, "buffer %q is already bound", b.desc.Name)
	}
	if err := check("vkBindBufferMemory", vk.BindBufferMemory(b.dev.LogicalDevice, b.handle, m.handle, vk.DeviceSize(offset))); err != nil {
		return err
	}
	b.mem = m
	b.offset = offset
	return nil
}

func (b *Buffer) host(offset, n uint64) ([]byte, error) {
	if b.mem == nil {
		return nil, core.NewConfigError("vulkan.Buffer", core.ErrInvalidHandle, "buffer %q is not bound", b.desc.Name)
	}
	if offset+n > b.desc.Size {
		return nil, core.NewConfigError("vulkan.Buffer", core.ErrInvalidHandle, "buffer %q: range %d+%d exceeds %d bytes", b.desc.Name, offset, n, b.desc.Size)
	}
	return b.mem.hostBytes(b.offset+offset, n)
}

func (b *Buffer) Write(offset uint64, data []byte) error {
	dst, err := b.host(offset, uint64(len(data)))
	if err != nil {
		return err
	}
	copy(dst, data)
	return nil
}

func (b *Buffer) Read(offset uint64, dst []byte) error {
	src, err := b.host(offset, uint64(len(dst)))
	if err != nil {
		return err
	}
	copy(dst, src)
	return nil
}

func (b *Buffer) Destroy() {
	if b.handle == vk.NullBuffer {
		return
	}
	_ = b.dev.locks.SafeCall(ResourceManagement, func() error {
		vk.DestroyBuffer(b.dev.LogicalDevice, b.handle, b.dev.Allocator)
		return nil
	})
	b.handle = vk.NullBuffer
	b.mem = nil
}
