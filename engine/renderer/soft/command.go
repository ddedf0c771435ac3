package soft

import (
	"fmt"

	"github.com/spaghettifunk/ember/engine/core"
	"github.com/spaghettifunk/ember/engine/renderer/gpu"
	"github.com/spaghettifunk/ember/engine/renderer/metadata"
)

type cbState int

const (
	stateInitial cbState = iota
	stateRecording
	stateExecutable
)

type op func(ex *executor) error

type CommandBuffer struct {
	dev      *Device
	state    cbState
	oneShot  bool
	ops      []op
	err      error
	inflight *Fence
}

func (c *CommandBuffer) busy() bool {
	return c.inflight != nil && !c.inflight.Signaled()
}

func (c *CommandBuffer) Begin(oneShot bool) error {
	if c.busy() {
		return fmt.Errorf("soft: begin command buffer: %w", ErrInUse)
	}
	if c.state == stateRecording {
		return fmt.Errorf("soft: begin command buffer that is already recording: %w", ErrInvalidUsage)
	}
	c.state = stateRecording
	c.oneShot = oneShot
	c.ops = c.ops[:0]
	c.err = nil
	c.inflight = nil
	return nil
}

func (c *CommandBuffer) End() error {
	if c.state != stateRecording {
		return fmt.Errorf("soft: end command buffer: %w", core.ErrNotRecording)
	}
	c.state = stateExecutable
	return c.err
}

func (c *CommandBuffer) Reset() error {
	if c.busy() {
		return fmt.Errorf("soft: reset command buffer: %w", ErrInUse)
	}
	c.state = stateInitial
	c.ops = c.ops[:0]
	c.err = nil
	c.inflight = nil
	return nil
}

func (c *CommandBuffer) record(o op) {
	if c.state != stateRecording {
		if c.err == nil {
			c.err = fmt.Errorf("soft: record command: %w", core.ErrNotRecording)
		}
		return
	}
	c.ops = append(c.ops, o)
}

func (c *CommandBuffer) execute() error {
	ex := &executor{dev: c.dev, vertex: map[uint32]boundBuffer{}}
	for i, o := range c.ops {
		if err := o(ex); err != nil {
			return fmt.Errorf("command %d: %w", i, err)
		}
	}
	if ex.pass != nil {
		return fmt.Errorf("renderpass not ended: %w", ErrInvalidUsage)
	}
	if c.oneShot {
		c.state = stateInitial
	}
	return nil
}

func (c *CommandBuffer) BeginRenderPass(rp gpu.RenderPass, fb gpu.Framebuffer, area metadata.Rect2D, clears []metadata.ClearValue) {
	pass, _ := rp.(*RenderPass)
	frame, _ := fb.(*Framebuffer)
	clearValues := append([]metadata.ClearValue(nil), clears...)
	c.record(func(ex *executor) error {
		if pass == nil || frame == nil || pass.destroyed || frame.destroyed {
			return fmt.Errorf("begin renderpass: %w", core.ErrInvalidHandle)
		}
		if frame.pass != pass {
			return fmt.Errorf("begin renderpass with a framebuffer from another renderpass: %w", ErrInvalidUsage)
		}
		if ex.pass != nil {
			return fmt.Errorf("begin renderpass inside a renderpass: %w", ErrInvalidUsage)
		}
		for i, a := range pass.desc.Attachments {
			if a.LoadOp != metadata.LoadOpClear {
				continue
			}
			if i >= len(clearValues) {
				return fmt.Errorf("attachment %d clears but no clear value was given: %w", i, ErrInvalidUsage)
			}
			frame.images[i].clear(clearValues[i])
		}
		ex.pass = pass
		ex.frame = frame
		ex.subpass = 0
		ex.area = area
		return nil
	})
}

func (c *CommandBuffer) NextSubpass() {
	c.record(func(ex *executor) error {
		if ex.pass == nil {
			return fmt.Errorf("next subpass outside a renderpass: %w", ErrInvalidUsage)
		}
		if int(ex.subpass)+1 >= len(ex.pass.desc.Subpasses) {
			return fmt.Errorf("next subpass past the last of %d: %w", len(ex.pass.desc.Subpasses), ErrInvalidUsage)
		}
		ex.subpass++
		ex.pipeline = nil
		return nil
	})
}

func (c *CommandBuffer) EndRenderPass() {
	c.record(func(ex *executor) error {
		if ex.pass == nil {
			return fmt.Errorf("end renderpass outside a renderpass: %w", ErrInvalidUsage)
		}
		if int(ex.subpass)+1 != len(ex.pass.desc.Subpasses) {
			return fmt.Errorf("end renderpass in subpass %d of %d: %w", ex.subpass, len(ex.pass.desc.Subpasses), ErrInvalidUsage)
		}
		ex.pass = nil
		ex.frame = nil
		ex.pipeline = nil
		return nil
	})
}

func (c *CommandBuffer) SetViewport(vp metadata.Viewport) {
	c.record(func(ex *executor) error {
		ex.viewport = vp
		ex.hasViewport = true
		return nil
	})
}

func (c *CommandBuffer) SetScissor(rect metadata.Rect2D) {
	c.record(func(ex *executor) error {
		ex.scissor = rect
		ex.hasScissor = true
		return nil
	})
}

func (c *CommandBuffer) BindPipeline(p gpu.Pipeline) {
	pl, _ := p.(*Pipeline)
	c.record(func(ex *executor) error {
		if pl == nil || pl.destroyed {
			return fmt.Errorf("bind pipeline: %w", core.ErrInvalidHandle)
		}
		ex.pipeline = pl
		return nil
	})
}

func (c *CommandBuffer) BindDescriptorSet(p gpu.Pipeline, set uint32, ds gpu.DescriptorSet) {
	c.record(func(ex *executor) error {
		if _, ok := ds.(*DescriptorSet); !ok {
			return fmt.Errorf("bind descriptor set %d: %w", set, core.ErrInvalidHandle)
		}
		return nil
	})
}

func (c *CommandBuffer) BindVertexBuffers(first uint32, bufs []gpu.Buffer, offsets []uint64) {
	bound := make([]boundBuffer, len(bufs))
	for i, b := range bufs {
		sb, _ := b.(*Buffer)
		bound[i] = boundBuffer{buf: sb}
		if i < len(offsets) {
			bound[i].offset = offsets[i]
		}
	}
	c.record(func(ex *executor) error {
		for i, b := range bound {
			if b.buf == nil {
				return fmt.Errorf("bind vertex buffer %d: %w", first+uint32(i), core.ErrInvalidHandle)
			}
			ex.vertex[first+uint32(i)] = b
		}
		return nil
	})
}

func (c *CommandBuffer) BindIndexBuffer(buf gpu.Buffer, offset uint64, t metadata.IndexType) {
	sb, _ := buf.(*Buffer)
	c.record(func(ex *executor) error {
		if sb == nil {
			return fmt.Errorf("bind index buffer: %w", core.ErrInvalidHandle)
		}
		ex.index = boundBuffer{buf: sb, offset: offset}
		ex.indexType = t
		return nil
	})
}

func (c *CommandBuffer) PushConstants(p gpu.Pipeline, stages metadata.ShaderStage, offset uint32, data []byte) {
	payload := append([]byte(nil), data...)
	c.record(func(ex *executor) error {
		if int(offset)+len(payload) > MaxPushConstantSize {
			return fmt.Errorf("push constants [%d, %d) exceed %d bytes: %w", offset, int(offset)+len(payload), MaxPushConstantSize, ErrInvalidUsage)
		}
		copy(ex.push[offset:], payload)
		return nil
	})
}

func (c *CommandBuffer) DrawIndexed(indexCount, instanceCount, firstIndex uint32, vertexOffset int32, firstInstance uint32) {
	c.record(func(ex *executor) error {
		return ex.drawIndexed(indexCount, instanceCount, firstIndex, vertexOffset, firstInstance)
	})
}

func (c *CommandBuffer) CopyBuffer(src, dst gpu.Buffer, srcOffset, dstOffset, size uint64) {
	s, _ := src.(*Buffer)
	d, _ := dst.(*Buffer)
	c.record(func(ex *executor) error {
		if s == nil || d == nil {
			return fmt.Errorf("copy buffer: %w", core.ErrInvalidHandle)
		}
		from, err := s.bytes()
		if err != nil {
			return err
		}
		to, err := d.bytes()
		if err != nil {
			return err
		}
		if srcOffset+size > uint64(len(from)) || dstOffset+size > uint64(len(to)) {
			return fmt.Errorf("copy buffer of %d bytes out of range: %w", size, ErrInvalidUsage)
		}
		copy(to[dstOffset:dstOffset+size], from[srcOffset:srcOffset+size])
		return nil
	})
}

func (c *CommandBuffer) CopyImageToBuffer(src gpu.Image, dst gpu.Buffer) {
	img, _ := src.(*Image)
	d, _ := dst.(*Buffer)
	c.record(func(ex *executor) error {
		if img == nil || d == nil || img.destroyed {
			return fmt.Errorf("copy image to buffer: %w", core.ErrInvalidHandle)
		}
		if ex.pass != nil {
			return fmt.Errorf("copy image inside a renderpass: %w", ErrInvalidUsage)
		}
		to, err := d.bytes()
		if err != nil {
			return err
		}
		packed := img.pack()
		if len(packed) > len(to) {
			return fmt.Errorf("copy image of %d bytes into %d byte buffer: %w", len(packed), len(to), ErrInvalidUsage)
		}
		copy(to, packed)
		return nil
	})
}

func (c *CommandBuffer) Destroy() {
	c.ops = nil
}
