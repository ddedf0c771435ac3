package vulkan

import (
	"fmt"
	"unsafe"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/ember/engine/core"
	"github.com/spaghettifunk/ember/engine/renderer/gpu"
	"github.com/spaghettifunk/ember/engine/renderer/metadata"
)

type VulkanCommandBufferState int

const (
	COMMAND_BUFFER_STATE_READY VulkanCommandBufferState = iota
	COMMAND_BUFFER_STATE_RECORDING
	COMMAND_BUFFER_STATE_IN_RENDER_PASS
	COMMAND_BUFFER_STATE_RECORDING_ENDED
	COMMAND_BUFFER_STATE_SUBMITTED
	COMMAND_BUFFER_STATE_NOT_ALLOCATED
)

// CommandBuffer is a primary command buffer from the graphics pool.
// Recording calls have no error result: the first misuse is latched and
// returned by End.
type CommandBuffer struct {
	dev    *Device
	Handle vk.CommandBuffer
	State  VulkanCommandBufferState

	err      error
	pipeline *Pipeline
	fb       *Framebuffer
	rp       *RenderPass
}

func (d *Device) CreateCommandBuffers(n int) ([]gpu.CommandBuffer, error) {
	if n <= 0 {
		return nil, nil
	}
	handles := make([]vk.CommandBuffer, n)
	err := d.locks.SafeCall(CommandPoolManagement, func() error {
		allocateInfo := vk.CommandBufferAllocateInfo{
			SType:              vk.StructureTypeCommandBufferAllocateInfo,
			CommandPool:        d.GraphicsCommandPool,
			CommandBufferCount: uint32(n),
			Level:              vk.CommandBufferLevelPrimary,
		}
		return check("vkAllocateCommandBuffers", vk.AllocateCommandBuffers(d.LogicalDevice, &allocateInfo, handles))
	})
	if err != nil {
		return nil, err
	}
	out := make([]gpu.CommandBuffer, n)
	for i, h := range handles {
		out[i] = &CommandBuffer{dev: d, Handle: h, State: COMMAND_BUFFER_STATE_READY}
	}
	return out, nil
}

func (c *CommandBuffer) fail(err error) {
	if c.err == nil {
		c.err = err
	}
}

func (c *CommandBuffer) recording() bool {
	if c.State != COMMAND_BUFFER_STATE_RECORDING && c.State != COMMAND_BUFFER_STATE_IN_RENDER_PASS {
		c.fail(fmt.Errorf("vulkan: record command: %w", core.ErrNotRecording))
		return false
	}
	return true
}

func (c *CommandBuffer) Begin(oneShot bool) error {
	if c.State == COMMAND_BUFFER_STATE_RECORDING || c.State == COMMAND_BUFFER_STATE_IN_RENDER_PASS {
		return fmt.Errorf("vulkan: begin command buffer that is already recording: %w", core.ErrNotRecording)
	}
	beginInfo := &vk.CommandBufferBeginInfo{
		SType: vk.StructureTypeCommandBufferBeginInfo,
	}
	if oneShot {
		beginInfo.Flags |= vk.CommandBufferUsageFlags(vk.CommandBufferUsageOneTimeSubmitBit)
	}
	if err := check("vkBeginCommandBuffer", vk.BeginCommandBuffer(c.Handle, beginInfo)); err != nil {
		return err
	}
	c.State = COMMAND_BUFFER_STATE_RECORDING
	c.err = nil
	c.pipeline = nil
	c.fb = nil
	c.rp = nil
	return nil
}

func (c *CommandBuffer) End() error {
	if c.State == COMMAND_BUFFER_STATE_IN_RENDER_PASS {
		c.fail(fmt.Errorf("vulkan: end command buffer inside a renderpass: %w", core.ErrNotRecording))
		c.EndRenderPass()
	}
	if c.State != COMMAND_BUFFER_STATE_RECORDING {
		return fmt.Errorf("vulkan: end command buffer: %w", core.ErrNotRecording)
	}
	if err := check("vkEndCommandBuffer", vk.EndCommandBuffer(c.Handle)); err != nil {
		return err
	}
	c.State = COMMAND_BUFFER_STATE_RECORDING_ENDED
	return c.err
}

func (c *CommandBuffer) Reset() error {
	if err := check("vkResetCommandBuffer", vk.ResetCommandBuffer(c.Handle, 0)); err != nil {
		return err
	}
	c.State = COMMAND_BUFFER_STATE_READY
	c.err = nil
	c.pipeline = nil
	return nil
}

func (c *CommandBuffer) BeginRenderPass(rp gpu.RenderPass, fb gpu.Framebuffer, area metadata.Rect2D, clears []metadata.ClearValue) {
	if !c.recording() {
		return
	}
	pass, _ := rp.(*RenderPass)
	frame, _ := fb.(*Framebuffer)
	if pass == nil || frame == nil || pass.Handle == vk.NullRenderPass || frame.Handle == vk.NullFramebuffer {
		c.fail(fmt.Errorf("vulkan: begin renderpass: %w", core.ErrInvalidHandle))
		return
	}

	clearValues := make([]vk.ClearValue, len(clears))
	for i, cv := range clears {
		if cv.IsDepth {
			clearValues[i].SetDepthStencil(cv.Depth, cv.Stencil)
		} else {
			clearValues[i].SetColor(cv.Color[:])
		}
	}

	beginInfo := vk.RenderPassBeginInfo{
		SType:       vk.StructureTypeRenderPassBeginInfo,
		RenderPass:  pass.Handle,
		Framebuffer: frame.Handle,
		RenderArea: vk.Rect2D{
			Offset: vk.Offset2D{X: area.Offset.X, Y: area.Offset.Y},
			Extent: vk.Extent2D{Width: area.Extent.Width, Height: area.Extent.Height},
		},
		ClearValueCount: uint32(len(clearValues)),
		PClearValues:    clearValues,
	}
	vk.CmdBeginRenderPass(c.Handle, &beginInfo, vk.SubpassContentsInline)
	c.State = COMMAND_BUFFER_STATE_IN_RENDER_PASS
	c.rp = pass
	c.fb = frame
	c.pipeline = nil
}

func (c *CommandBuffer) NextSubpass() {
	if c.State != COMMAND_BUFFER_STATE_IN_RENDER_PASS {
		c.fail(fmt.Errorf("vulkan: next subpass outside a renderpass: %w", core.ErrNotRecording))
		return
	}
	vk.CmdNextSubpass(c.Handle, vk.SubpassContentsInline)
	c.pipeline = nil
}

// EndRenderPass records the final layouts the renderpass leaves its
// attachments in, for later transfer barriers.
func (c *CommandBuffer) EndRenderPass() {
	if c.State != COMMAND_BUFFER_STATE_IN_RENDER_PASS {
		c.fail(fmt.Errorf("vulkan: end renderpass outside a renderpass: %w", core.ErrNotRecording))
		return
	}
	vk.CmdEndRenderPass(c.Handle)
	for i, img := range c.fb.attachments {
		if i < len(c.rp.desc.Attachments) {
			img.layout = toVkLayout(c.rp.desc.Attachments[i].FinalLayout)
		}
	}
	c.State = COMMAND_BUFFER_STATE_RECORDING
	c.rp = nil
	c.fb = nil
	c.pipeline = nil
}

func (c *CommandBuffer) SetViewport(vp metadata.Viewport) {
	if !c.recording() {
		return
	}
	vk.CmdSetViewport(c.Handle, 0, 1, []vk.Viewport{{
		X:        vp.X,
		Y:        vp.Y,
		Width:    vp.Width,
		Height:   vp.Height,
		MinDepth: vp.MinDepth,
		MaxDepth: vp.MaxDepth,
	}})
}

func (c *CommandBuffer) SetScissor(rect metadata.Rect2D) {
	if !c.recording() {
		return
	}
	vk.CmdSetScissor(c.Handle, 0, 1, []vk.Rect2D{{
		Offset: vk.Offset2D{X: rect.Offset.X, Y: rect.Offset.Y},
		Extent: vk.Extent2D{Width: rect.Extent.Width, Height: rect.Extent.Height},
	}})
}

func (c *CommandBuffer) BindPipeline(p gpu.Pipeline) {
	if !c.recording() {
		return
	}
	pipeline, _ := p.(*Pipeline)
	if pipeline == nil || pipeline.Handle == vk.NullPipeline {
		c.fail(fmt.Errorf("vulkan: bind pipeline: %w", core.ErrInvalidHandle))
		return
	}
	vk.CmdBindPipeline(c.Handle, vk.PipelineBindPointGraphics, pipeline.Handle)
	c.pipeline = pipeline
}

func (c *CommandBuffer) BindDescriptorSet(p gpu.Pipeline, set uint32, ds gpu.DescriptorSet) {
	if !c.recording() {
		return
	}
	pipeline, _ := p.(*Pipeline)
	descriptorSet, _ := ds.(*DescriptorSet)
	if pipeline == nil || descriptorSet == nil || descriptorSet.Handle == nil {
		c.fail(fmt.Errorf("vulkan: bind descriptor set %d: %w", set, core.ErrInvalidHandle))
		return
	}
	vk.CmdBindDescriptorSets(c.Handle, vk.PipelineBindPointGraphics, pipeline.PipelineLayout,
		set, 1, []vk.DescriptorSet{descriptorSet.Handle}, 0, nil)
}

func (c *CommandBuffer) BindVertexBuffers(first uint32, bufs []gpu.Buffer, offsets []uint64) {
	if !c.recording() {
		return
	}
	if len(bufs) != len(offsets) {
		c.fail(core.NewConfigError("vulkan.BindVertexBuffers", core.ErrInvalidHandle, "%d buffers, %d offsets", len(bufs), len(offsets)))
		return
	}
	handles := make([]vk.Buffer, len(bufs))
	offs := make([]vk.DeviceSize, len(bufs))
	for i, b := range bufs {
		vb, _ := b.(*Buffer)
		if vb == nil || vb.handle == vk.NullBuffer {
			c.fail(fmt.Errorf("vulkan: bind vertex buffer %d: %w", first+uint32(i), core.ErrInvalidHandle))
			return
		}
		handles[i] = vb.handle
		offs[i] = vk.DeviceSize(offsets[i])
	}
	vk.CmdBindVertexBuffers(c.Handle, first, uint32(len(handles)), handles, offs)
}

func (c *CommandBuffer) BindIndexBuffer(buf gpu.Buffer, offset uint64, t metadata.IndexType) {
	if !c.recording() {
		return
	}
	vb, _ := buf.(*Buffer)
	if vb == nil || vb.handle == vk.NullBuffer {
		c.fail(fmt.Errorf("vulkan: bind index buffer: %w", core.ErrInvalidHandle))
		return
	}
	vk.CmdBindIndexBuffer(c.Handle, vb.handle, vk.DeviceSize(offset), toVkIndexType(t))
}

// PushConstants always pushes with the stage union of the pipeline layout.
func (c *CommandBuffer) PushConstants(p gpu.Pipeline, stages metadata.ShaderStage, offset uint32, data []byte) {
	if !c.recording() || len(data) == 0 {
		return
	}
	pipeline, _ := p.(*Pipeline)
	if pipeline == nil || pipeline.PipelineLayout == vk.NullPipelineLayout {
		c.fail(fmt.Errorf("vulkan: push constants: %w", core.ErrInvalidHandle))
		return
	}
	if offset+uint32(len(data)) > pipeline.pushSize {
		c.fail(core.NewConfigError("vulkan.PushConstants", core.ErrLayoutMismatch, "pipeline %q: %d bytes at %d exceed the %d byte range", pipeline.desc.Name, len(data), offset, pipeline.pushSize))
		return
	}
	vk.CmdPushConstants(c.Handle, pipeline.PipelineLayout, pipeline.pushStages, offset, uint32(len(data)), unsafe.Pointer(&data[0]))
}

func (c *CommandBuffer) DrawIndexed(indexCount, instanceCount, firstIndex uint32, vertexOffset int32, firstInstance uint32) {
	if !c.recording() {
		return
	}
	if c.pipeline == nil {
		c.fail(fmt.Errorf("vulkan: draw: %w", core.ErrNoPipelineBound))
		return
	}
	vk.CmdDrawIndexed(c.Handle, indexCount, instanceCount, firstIndex, vertexOffset, firstInstance)
}

func (c *CommandBuffer) CopyBuffer(src, dst gpu.Buffer, srcOffset, dstOffset, size uint64) {
	if !c.recording() {
		return
	}
	from, _ := src.(*Buffer)
	to, _ := dst.(*Buffer)
	if from == nil || to == nil || from.handle == vk.NullBuffer || to.handle == vk.NullBuffer {
		c.fail(fmt.Errorf("vulkan: copy buffer: %w", core.ErrInvalidHandle))
		return
	}
	vk.CmdCopyBuffer(c.Handle, from.handle, to.handle, 1, []vk.BufferCopy{{
		SrcOffset: vk.DeviceSize(srcOffset),
		DstOffset: vk.DeviceSize(dstOffset),
		Size:      vk.DeviceSize(size),
	}})
}

func (c *CommandBuffer) transition(img *Image, from, to vk.ImageLayout, srcStage, dstStage vk.PipelineStageFlagBits, srcAccess, dstAccess vk.AccessFlagBits) {
	vk.CmdPipelineBarrier(c.Handle,
		vk.PipelineStageFlags(srcStage),
		vk.PipelineStageFlags(dstStage),
		0, 0, nil, 0, nil, 1, []vk.ImageMemoryBarrier{{
			SType:               vk.StructureTypeImageMemoryBarrier,
			SrcAccessMask:       vk.AccessFlags(srcAccess),
			DstAccessMask:       vk.AccessFlags(dstAccess),
			OldLayout:           from,
			NewLayout:           to,
			SrcQueueFamilyIndex: vk.QueueFamilyIgnored,
			DstQueueFamilyIndex: vk.QueueFamilyIgnored,
			Image:               img.Handle,
			SubresourceRange: vk.ImageSubresourceRange{
				AspectMask: aspectFor(img.desc.Format),
				LevelCount: 1,
				LayerCount: 1,
			},
		}})
}

// CopyImageToBuffer moves the image into transfer layout for the copy and
// back afterwards, so presentation still finds it where the renderpass
// left it.
func (c *CommandBuffer) CopyImageToBuffer(src gpu.Image, dst gpu.Buffer) {
	if !c.recording() {
		return
	}
	if c.State == COMMAND_BUFFER_STATE_IN_RENDER_PASS {
		c.fail(fmt.Errorf("vulkan: copy image inside a renderpass: %w", core.ErrNotRecording))
		return
	}
	img, _ := src.(*Image)
	to, _ := dst.(*Buffer)
	if img == nil || to == nil || img.Handle == vk.NullImage || to.handle == vk.NullBuffer {
		c.fail(fmt.Errorf("vulkan: copy image to buffer: %w", core.ErrInvalidHandle))
		return
	}

	aspect := vk.ImageAspectFlags(vk.ImageAspectColorBit)
	if img.desc.Format.IsDepth() {
		aspect = vk.ImageAspectFlags(vk.ImageAspectDepthBit)
	}

	old := img.layout
	if old != vk.ImageLayoutTransferSrcOptimal {
		c.transition(img, old, vk.ImageLayoutTransferSrcOptimal,
			vk.PipelineStageAllGraphicsBit, vk.PipelineStageTransferBit,
			vk.AccessColorAttachmentWriteBit|vk.AccessDepthStencilAttachmentWriteBit, vk.AccessTransferReadBit)
	}
	vk.CmdCopyImageToBuffer(c.Handle, img.Handle, vk.ImageLayoutTransferSrcOptimal, to.handle, 1, []vk.BufferImageCopy{{
		BufferOffset:      0,
		BufferRowLength:   0,
		BufferImageHeight: 0,
		ImageSubresource: vk.ImageSubresourceLayers{
			AspectMask: aspect,
			LayerCount: 1,
		},
		ImageExtent: vk.Extent3D{
			Width:  img.desc.Extent.Width,
			Height: img.desc.Extent.Height,
			Depth:  1,
		},
	}})
	if old != vk.ImageLayoutUndefined && old != vk.ImageLayoutTransferSrcOptimal {
		c.transition(img, vk.ImageLayoutTransferSrcOptimal, old,
			vk.PipelineStageTransferBit, vk.PipelineStageBottomOfPipeBit,
			vk.AccessTransferReadBit, 0)
	} else {
		img.layout = vk.ImageLayoutTransferSrcOptimal
	}
}

func (c *CommandBuffer) Destroy() {
	if c.Handle == nil {
		return
	}
	_ = c.dev.locks.SafeCall(CommandPoolManagement, func() error {
		vk.FreeCommandBuffers(c.dev.LogicalDevice, c.dev.GraphicsCommandPool, 1, []vk.CommandBuffer{c.Handle})
		return nil
	})
	c.Handle = nil
	c.State = COMMAND_BUFFER_STATE_NOT_ALLOCATED
}
