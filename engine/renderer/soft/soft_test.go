package soft

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/ember/engine/core"
	"github.com/spaghettifunk/ember/engine/math"
	"github.com/spaghettifunk/ember/engine/renderer/gpu"
	"github.com/spaghettifunk/ember/engine/renderer/metadata"
)

func singleColorPass() *metadata.RenderPassDescription {
	return &metadata.RenderPassDescription{
		Attachments: []metadata.AttachmentDescription{{
			Format:      metadata.FormatR8G8B8A8Unorm,
			Samples:     1,
			LoadOp:      metadata.LoadOpClear,
			StoreOp:     metadata.StoreOpStore,
			FinalLayout: metadata.ImageLayoutTransferSrc,
		}},
		Subpasses: []metadata.SubpassDescription{{
			Colors: []metadata.AttachmentReference{{Index: 0, Layout: metadata.ImageLayoutColorAttachment}},
		}},
		PresentIndex: -1,
	}
}

func hostBuffer(t *testing.T, d *Device, data []byte, usage metadata.BufferUsage) gpu.Buffer {
	t.Helper()
	buf, err := d.CreateBuffer(gpu.BufferDesc{Size: uint64(len(data)), Usage: usage})
	require.NoError(t, err)
	mem, err := d.AllocateMemory(buf.Requirements().Size, metadata.MemoryHostVisible|metadata.MemoryHostCoherent, buf.Requirements().TypeBits)
	require.NoError(t, err)
	require.NoError(t, buf.Bind(mem, 0))
	require.NoError(t, buf.Write(0, data))
	return buf
}

func TestSoftRasterizesTriangle(t *testing.T) {
	d := New(Options{})
	extent := metadata.Extent2D{Width: 64, Height: 64}

	rp, err := d.CreateRenderPass(singleColorPass())
	require.NoError(t, err)
	img, err := d.CreateImage(gpu.ImageDesc{Format: metadata.FormatR8G8B8A8Unorm, Extent: extent, Usage: metadata.ImageUsageColorAttachment})
	require.NoError(t, err)
	fb, err := d.CreateFramebuffer(rp, []gpu.Image{img}, extent)
	require.NoError(t, err)
	p, err := d.CreatePipeline(&gpu.PipelineDesc{
		Name:       "flat",
		Stages:     []gpu.ShaderStageDesc{{Stage: metadata.ShaderStageVertex}},
		RenderPass: rp,
	})
	require.NoError(t, err)

	tri := metadata.Triangle(math.NewVec3(0, 1, 0))
	vb := hostBuffer(t, d, math.VertexBytes(tri.Vertices), metadata.BufferUsageVertex)
	ib := hostBuffer(t, d, math.IndexBytes(tri.Indices), metadata.BufferUsageIndex)

	cbs, err := d.CreateCommandBuffers(1)
	require.NoError(t, err)
	cb := cbs[0]
	area := metadata.FullRect(extent)
	require.NoError(t, cb.Begin(true))
	cb.BeginRenderPass(rp, fb, area, []metadata.ClearValue{metadata.ClearColor(0, 0, 0, 1)})
	cb.SetViewport(metadata.ViewportFor(area))
	cb.SetScissor(area)
	cb.BindPipeline(p)
	cb.BindVertexBuffers(0, []gpu.Buffer{vb}, []uint64{0})
	cb.BindIndexBuffer(ib, 0, metadata.IndexTypeUint32)
	cb.DrawIndexed(3, 1, 0, 0, 0)
	cb.EndRenderPass()
	require.NoError(t, cb.End())
	require.NoError(t, d.Submit(gpu.QueueGraphics, gpu.SubmitInfo{Commands: cbs}))

	pixels := img.(*Image).ReadRGBA8()
	at := func(x, y int) []byte { p := (y*64 + x) * 4; return pixels[p : p+4] }
	assert.Equal(t, []byte{0, 255, 0, 255}, at(32, 32))
	assert.Equal(t, []byte{0, 0, 0, 255}, at(1, 1))
	assert.Equal(t, []byte{0, 0, 0, 255}, at(62, 62))

	draws := d.Draws()
	require.Len(t, draws, 1)
	assert.Equal(t, DrawRecord{Pipeline: "flat", IndexCount: 3, InstanceCount: 1}, draws[0])
}

func TestSoftDrawWithoutPipelineFails(t *testing.T) {
	d := New(Options{})
	extent := metadata.Extent2D{Width: 4, Height: 4}
	rp, err := d.CreateRenderPass(singleColorPass())
	require.NoError(t, err)
	img, err := d.CreateImage(gpu.ImageDesc{Format: metadata.FormatR8G8B8A8Unorm, Extent: extent})
	require.NoError(t, err)
	fb, err := d.CreateFramebuffer(rp, []gpu.Image{img}, extent)
	require.NoError(t, err)

	cbs, _ := d.CreateCommandBuffers(1)
	require.NoError(t, cbs[0].Begin(true))
	cbs[0].BeginRenderPass(rp, fb, metadata.FullRect(extent), []metadata.ClearValue{{}})
	cbs[0].DrawIndexed(3, 1, 0, 0, 0)
	cbs[0].EndRenderPass()
	require.NoError(t, cbs[0].End())
	err = d.Submit(gpu.QueueGraphics, gpu.SubmitInfo{Commands: cbs})
	assert.ErrorIs(t, err, ErrInvalidUsage)
}

func TestSoftManualFences(t *testing.T) {
	d := New(Options{ManualFences: true})
	f, err := d.CreateFence(false)
	require.NoError(t, err)
	cbs, _ := d.CreateCommandBuffers(1)
	require.NoError(t, cbs[0].Begin(false))
	require.NoError(t, cbs[0].End())
	require.NoError(t, d.Submit(gpu.QueueGraphics, gpu.SubmitInfo{Commands: cbs, Fence: f}))

	done, err := f.Status()
	require.NoError(t, err)
	assert.False(t, done)
	assert.ErrorIs(t, cbs[0].Begin(false), ErrInUse)
	assert.ErrorIs(t, f.Reset(), ErrInUse)
	assert.ErrorIs(t, f.Wait(5*time.Millisecond), core.ErrDeviceLost)

	assert.True(t, d.CompleteNext())
	assert.False(t, d.CompleteNext())
	require.NoError(t, f.Wait(time.Millisecond))
	require.NoError(t, cbs[0].Begin(false))
}

func TestSoftSemaphoreChain(t *testing.T) {
	d := New(Options{SwapchainImages: 2, SwapchainExtent: metadata.Extent2D{Width: 8, Height: 8}})
	sc := d.SoftSwapchain()
	acquired, _ := d.CreateSemaphore()
	rendered, _ := d.CreateSemaphore()

	idx, err := sc.Acquire(acquired, time.Second)
	require.NoError(t, err)
	assert.Equal(t, uint32(0), idx)

	// Present before anything signaled the render semaphore.
	assert.ErrorIs(t, sc.Present(idx, []gpu.Semaphore{rendered}), ErrInvalidUsage)

	cbs, _ := d.CreateCommandBuffers(1)
	require.NoError(t, cbs[0].Begin(true))
	require.NoError(t, cbs[0].End())
	require.NoError(t, d.Submit(gpu.QueueGraphics, gpu.SubmitInfo{
		Commands:   cbs,
		Wait:       []gpu.Semaphore{acquired},
		WaitStages: []metadata.PipelineStage{metadata.StageColorAttachmentOutput},
		Signal:     []gpu.Semaphore{rendered},
	}))
	require.NoError(t, sc.Present(idx, []gpu.Semaphore{rendered}))
	n, last := sc.Presented()
	assert.Equal(t, 1, n)
	assert.Equal(t, uint32(0), last)

	sc.InjectOutOfDate()
	_, err = sc.Acquire(acquired, time.Second)
	assert.ErrorIs(t, err, core.ErrSwapchainOutOfDate)
	assert.True(t, core.IsRecoverable(err))
	require.NoError(t, sc.Recreate(16, 16))
	assert.Equal(t, metadata.Extent2D{Width: 16, Height: 16}, sc.Extent())

	// an acquire semaphore nothing waited on cannot be signaled again
	_, err = sc.Acquire(acquired, time.Second)
	require.NoError(t, err)
	_, err = sc.Acquire(acquired, time.Second)
	assert.ErrorIs(t, err, ErrInvalidUsage)
}

func TestSoftHostVisibility(t *testing.T) {
	d := New(Options{})
	buf, err := d.CreateBuffer(gpu.BufferDesc{Size: 64, Usage: metadata.BufferUsageVertex})
	require.NoError(t, err)
	mem, err := d.AllocateMemory(64, metadata.MemoryDeviceLocal, buf.Requirements().TypeBits)
	require.NoError(t, err)
	require.NoError(t, buf.Bind(mem, 0))
	assert.ErrorIs(t, buf.Write(0, []byte{1}), ErrInvalidUsage)
	assert.Equal(t, 1, d.LiveBuffers())
	buf.Destroy()
	assert.Equal(t, 0, d.LiveBuffers())
}
