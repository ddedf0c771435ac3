package engine

import (
	"fmt"

	"github.com/spaghettifunk/ember/engine/config"
	"github.com/spaghettifunk/ember/engine/core"
	"github.com/spaghettifunk/ember/engine/platform"
	"github.com/spaghettifunk/ember/engine/renderer/gpu"
	"github.com/spaghettifunk/ember/engine/renderer/metadata"
	"github.com/spaghettifunk/ember/engine/renderer/soft"
	"github.com/spaghettifunk/ember/engine/renderer/vulkan"
)

// Window is the part of the platform layer the loop drives.
type Window interface {
	PollEvents()
	IsOpen() bool
	FramebufferSize() (uint32, uint32)
	Shutdown() error
}

var _ Window = (*platform.Platform)(nil)

// headlessWindow stands in for the platform with the software backend. It
// stays open until closed and never changes size on its own.
type headlessWindow struct {
	width, height uint32
	closed        bool
}

func (w *headlessWindow) PollEvents()                       {}
func (w *headlessWindow) IsOpen() bool                      { return !w.closed }
func (w *headlessWindow) FramebufferSize() (uint32, uint32) { return w.width, w.height }
func (w *headlessWindow) Shutdown() error {
	w.closed = true
	return nil
}

type Option func(*options)

type options struct {
	device    gpu.Device
	window    Window
	maxFrames uint64
}

// WithDevice runs the engine on an existing device instead of the one the
// configuration selects. The engine takes ownership of it.
func WithDevice(dev gpu.Device, win Window) Option {
	return func(o *options) {
		o.device = dev
		o.window = win
	}
}

// WithMaxFrames stops the loop after n submitted frames. Zero runs until the
// window closes or the game quits.
func WithMaxFrames(n uint64) Option {
	return func(o *options) {
		o.maxFrames = n
	}
}

// createDevice brings up the window and the device selected by cfg.
func createDevice(cfg *config.Config, bus *core.EventBus) (gpu.Device, Window, error) {
	switch cfg.Renderer.Backend {
	case config.BackendVulkan:
		p := platform.New(bus)
		if err := p.Startup(platform.WindowConfig{
			Title:  cfg.Window.Title,
			X:      cfg.Window.X,
			Y:      cfg.Window.Y,
			Width:  cfg.Window.Width,
			Height: cfg.Window.Height,
		}); err != nil {
			return nil, nil, err
		}
		dev, err := vulkan.New(vulkan.Options{
			ApplicationName: cfg.Window.Title,
			Validation:      cfg.Renderer.Validation,
		}, p)
		if err != nil {
			_ = p.Shutdown()
			return nil, nil, err
		}
		return dev, p, nil

	case config.BackendSoftware:
		win := &headlessWindow{width: cfg.Window.Width, height: cfg.Window.Height}
		dev := soft.New(soft.Options{
			Name:            "software",
			SwapchainImages: cfg.Renderer.FramesInFlight + 1,
			SwapchainExtent: metadata.Extent2D{Width: cfg.Window.Width, Height: cfg.Window.Height},
			SwapchainFormat: metadata.FormatB8G8R8A8Unorm,
		})
		return dev, win, nil
	}
	return nil, nil, core.NewConfigError("engine.createDevice", core.ErrInvalidHandle, "unknown backend %q", cfg.Renderer.Backend)
}

func describe(dev gpu.Device) string {
	if sc := dev.Swapchain(); sc != nil {
		e := sc.Extent()
		return fmt.Sprintf("%s (%s %dx%d, %d images)", dev.Name(), sc.Format(), e.Width, e.Height, len(sc.Images()))
	}
	return dev.Name() + " (headless)"
}
