package framegraph

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/spaghettifunk/ember/engine/core"
	"github.com/spaghettifunk/ember/engine/renderer/gpu"
	"github.com/spaghettifunk/ember/engine/renderer/metadata"
)

// RenderTarget is a compiled graph bound to a device: one renderpass and
// one framebuffer per frame. It owns the images of its owned slots.
type RenderTarget struct {
	noCopy core.NoCopy

	id     uuid.UUID
	name   string
	dev    gpu.Device
	sc     gpu.Swapchain
	layout *Layout
	frames int
	extent metadata.Extent2D

	renderPass   gpu.RenderPass
	framebuffers []gpu.Framebuffer
	// images[frame][slot]
	images [][]gpu.Image
	owned  []gpu.Image
}

// CreateRenderTarget builds an offscreen target with frames framebuffers.
// The graph must not present.
func (g *Graph) CreateRenderTarget(dev gpu.Device, extent metadata.Extent2D, frames int) (*RenderTarget, error) {
	if g.compiled {
		return nil, core.NewConfigError("Graph.CreateRenderTarget", core.ErrGraphCompiled, "graph %q", g.name)
	}
	if g.present != InvalidAttachment {
		return nil, core.NewConfigError("Graph.CreateRenderTarget", core.ErrInvalidHandle, "graph %q presents but has no swapchain", g.name)
	}
	if frames < 1 {
		return nil, core.NewConfigError("Graph.CreateRenderTarget", core.ErrInvalidHandle, "frame count %d", frames)
	}
	return g.createTarget(dev, nil, metadata.FormatUndefined, extent, frames)
}

// CreateSwapchainRenderTarget builds a target with one framebuffer per
// swapchain image. The graph must have a present attachment.
func (g *Graph) CreateSwapchainRenderTarget(dev gpu.Device, sc gpu.Swapchain) (*RenderTarget, error) {
	if g.compiled {
		return nil, core.NewConfigError("Graph.CreateSwapchainRenderTarget", core.ErrGraphCompiled, "graph %q", g.name)
	}
	if sc == nil {
		return nil, core.NewConfigError("Graph.CreateSwapchainRenderTarget", core.ErrInvalidHandle, "nil swapchain")
	}
	if g.present == InvalidAttachment {
		return nil, core.NewConfigError("Graph.CreateSwapchainRenderTarget", core.ErrNoPresentAttachment, "graph %q", g.name)
	}
	return g.createTarget(dev, sc, sc.Format(), sc.Extent(), len(sc.Images()))
}

func (g *Graph) createTarget(dev gpu.Device, sc gpu.Swapchain, format metadata.Format, extent metadata.Extent2D, frames int) (*RenderTarget, error) {
	layout, err := g.Compile(format)
	if err != nil {
		return nil, err
	}
	rp, err := dev.CreateRenderPass(layout.Description)
	if err != nil {
		return nil, fmt.Errorf("create renderpass for %q: %w", g.name, err)
	}

	rt := &RenderTarget{
		id:         uuid.New(),
		name:       g.name,
		dev:        dev,
		sc:         sc,
		layout:     layout,
		frames:     frames,
		renderPass: rp,
	}
	rt.noCopy.Init()
	if err := rt.build(extent); err != nil {
		rt.Destroy()
		return nil, err
	}
	g.compiled = true

	core.Logger().Info("render target created", "target", rt.id, "graph", g.name,
		"attachments", layout.SlotCount(), "subpasses", len(layout.Description.Subpasses),
		"frames", frames, "width", extent.Width, "height", extent.Height)
	return rt, nil
}

func (rt *RenderTarget) build(extent metadata.Extent2D) error {
	var scImages []gpu.Image
	if rt.sc != nil {
		scImages = rt.sc.Images()
		if len(scImages) != rt.frames {
			// A recreated swapchain may change its image count.
			rt.frames = len(scImages)
		}
	}

	rt.extent = extent
	rt.images = make([][]gpu.Image, rt.frames)
	rt.framebuffers = make([]gpu.Framebuffer, rt.frames)

	for f := 0; f < rt.frames; f++ {
		views := make([]gpu.Image, len(rt.layout.slots))
		for i, s := range rt.layout.slots {
			switch s.key.kind {
			case kindSwapchain:
				views[i] = scImages[f]
			case kindImported:
				views[i] = s.source.image
			default:
				img, err := rt.dev.CreateImage(gpu.ImageDesc{
					Name:    fmt.Sprintf("%s.%d.%d", rt.name, i, f),
					Format:  s.source.format,
					Extent:  extent,
					Usage:   s.usage,
					Samples: 1,
				})
				if err != nil {
					return fmt.Errorf("create attachment %d of %q: %w", i, rt.name, err)
				}
				rt.owned = append(rt.owned, img)
				views[i] = img
			}
		}
		fb, err := rt.dev.CreateFramebuffer(rt.renderPass, views, extent)
		if err != nil {
			return fmt.Errorf("create framebuffer %d of %q: %w", f, rt.name, err)
		}
		rt.images[f] = views
		rt.framebuffers[f] = fb
	}
	return nil
}

func (rt *RenderTarget) release() {
	for _, fb := range rt.framebuffers {
		if fb != nil {
			fb.Destroy()
		}
	}
	for _, img := range rt.owned {
		img.Destroy()
	}
	rt.framebuffers = nil
	rt.images = nil
	rt.owned = nil
}

// Resize rebuilds the framebuffers and owned images at extent. The
// renderpass is kept; callers must make sure the device is idle. For a
// swapchain target the swapchain is expected to be recreated already.
func (rt *RenderTarget) Resize(extent metadata.Extent2D) error {
	rt.noCopy.Check()
	if rt.sc != nil {
		extent = rt.sc.Extent()
	}
	rt.release()
	if err := rt.build(extent); err != nil {
		return err
	}
	core.Logger().Info("render target resized", "target", rt.id, "width", extent.Width, "height", extent.Height)
	return nil
}

func (rt *RenderTarget) ID() uuid.UUID              { return rt.id }
func (rt *RenderTarget) Name() string               { return rt.name }
func (rt *RenderTarget) RenderPass() gpu.RenderPass { return rt.renderPass }
func (rt *RenderTarget) FrameCount() int            { return rt.frames }
func (rt *RenderTarget) Extent() metadata.Extent2D  { return rt.extent }
func (rt *RenderTarget) Presentable() bool          { return rt.sc != nil }
func (rt *RenderTarget) Swapchain() gpu.Swapchain   { return rt.sc }
func (rt *RenderTarget) Layout() *Layout            { return rt.layout }
func (rt *RenderTarget) ClearValues() []metadata.ClearValue {
	return rt.layout.ClearValues
}

func (rt *RenderTarget) SubpassCount() uint32 {
	return uint32(len(rt.layout.Description.Subpasses))
}

func (rt *RenderTarget) Framebuffer(frame int) gpu.Framebuffer {
	rt.noCopy.Check()
	return rt.framebuffers[frame%rt.frames]
}

// Image returns the image that backs h in the given frame.
func (rt *RenderTarget) Image(frame int, h AttachmentHandle) (gpu.Image, error) {
	s, ok := rt.layout.Slot(h)
	if !ok {
		return nil, core.NewConfigError("RenderTarget.Image", core.ErrInvalidHandle, "attachment %d in %q", h, rt.name)
	}
	return rt.images[frame%rt.frames][s], nil
}

func (rt *RenderTarget) Destroy() {
	if !rt.noCopy.Alive() {
		return
	}
	rt.release()
	if rt.renderPass != nil {
		rt.renderPass.Destroy()
		rt.renderPass = nil
	}
	rt.noCopy.Close()
	core.Logger().Debug("render target destroyed", "target", rt.id)
}
