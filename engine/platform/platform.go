package platform

import (
	"fmt"
	"runtime"

	"github.com/go-gl/glfw/v3.3/glfw"
	"github.com/spaghettifunk/ember/engine/core"
)

// KeyEscape is the key code posted with EVENT_CODE_KEY_PRESSED for Esc.
const KeyEscape = uint16(glfw.KeyEscape)

func init() {
	// GLFW event handling must run on the main OS thread
	runtime.LockOSThread()
}

type WindowConfig struct {
	Title  string
	X, Y   uint32
	Width  uint32
	Height uint32
}

// Platform owns the glfw window and translates its callbacks into events on
// the bus. Every method must be called from the main thread.
type Platform struct {
	Window *glfw.Window

	bus       *core.EventBus
	startTime float64
}

func New(bus *core.EventBus) *Platform {
	return &Platform{bus: bus}
}

func (p *Platform) Startup(cfg WindowConfig) error {
	if err := glfw.Init(); err != nil {
		return fmt.Errorf("failed to initialize glfw: %w", err)
	}

	glfw.WindowHint(glfw.Visible, glfw.False)
	glfw.WindowHint(glfw.Resizable, glfw.True)
	glfw.WindowHint(glfw.ClientAPI, glfw.NoAPI) // Required for Vulkan.

	window, err := glfw.CreateWindow(int(cfg.Width), int(cfg.Height), cfg.Title, nil, nil)
	if err != nil {
		glfw.Terminate()
		return fmt.Errorf("failed to create window: %w", err)
	}
	p.Window = window

	p.Window.SetKeyCallback(p.keyCallback)
	p.Window.SetMouseButtonCallback(p.mouseButtonCallback)
	p.Window.SetCursorPosCallback(p.cursorPosCallback)
	p.Window.SetScrollCallback(p.scrollCallback)
	p.Window.SetFramebufferSizeCallback(p.framebufferSizeCallback)
	p.Window.SetCloseCallback(p.closeCallback)
	p.Window.SetPos(int(cfg.X), int(cfg.Y))
	p.Window.Show()

	p.startTime = glfw.GetTime()
	core.Logger().Info("window created", "title", cfg.Title, "width", cfg.Width, "height", cfg.Height)

	return nil
}

func (p *Platform) Shutdown() error {
	if p.Window != nil {
		p.Window.Destroy()
		p.Window = nil
	}
	glfw.Terminate()
	return nil
}

// PollEvents runs the glfw callbacks, which only queue on the bus. The
// caller dispatches afterwards.
func (p *Platform) PollEvents() {
	glfw.PollEvents()
}

func (p *Platform) IsOpen() bool {
	return p.Window != nil && !p.Window.ShouldClose()
}

func (p *Platform) WindowSize() (uint32, uint32) {
	if p.Window == nil {
		return 0, 0
	}
	w, h := p.Window.GetSize()
	return uint32(w), uint32(h)
}

// FramebufferSize is the size in pixels, which differs from WindowSize on
// high-dpi displays.
func (p *Platform) FramebufferSize() (uint32, uint32) {
	if p.Window == nil {
		return 0, 0
	}
	w, h := p.Window.GetFramebufferSize()
	return uint32(w), uint32(h)
}

// Elapsed returns the seconds since Startup.
func (p *Platform) Elapsed() float64 {
	return glfw.GetTime() - p.startTime
}

func (p *Platform) RequiredExtensions() []string {
	return p.Window.GetRequiredInstanceExtensions()
}

func (p *Platform) CreateSurface(instance interface{}) (uintptr, error) {
	return p.Window.CreateWindowSurface(instance, nil)
}

func (p *Platform) keyCallback(w *glfw.Window, key glfw.Key, scancode int, action glfw.Action, mods glfw.ModifierKey) {
	if code, data, ok := keyEvent(key, action); ok {
		p.bus.Post(code, p, data)
	}
}

func (p *Platform) mouseButtonCallback(w *glfw.Window, button glfw.MouseButton, action glfw.Action, mods glfw.ModifierKey) {
	if code, data, ok := buttonEvent(button, action, mods); ok {
		p.bus.Post(code, p, data)
	}
}

func (p *Platform) cursorPosCallback(w *glfw.Window, xpos, ypos float64) {
	p.bus.Post(core.EVENT_CODE_MOUSE_MOVED, p, pairF64(xpos, ypos))
}

func (p *Platform) scrollCallback(w *glfw.Window, xoff, yoff float64) {
	p.bus.Post(core.EVENT_CODE_MOUSE_WHEEL, p, pairF64(xoff, yoff))
}

func (p *Platform) framebufferSizeCallback(w *glfw.Window, width, height int) {
	p.bus.Post(core.EVENT_CODE_RESIZED, p, resizeEvent(width, height))
}

func (p *Platform) closeCallback(w *glfw.Window) {
	p.bus.Post(core.EVENT_CODE_APPLICATION_QUIT, p, core.EventContext{})
}

func keyEvent(key glfw.Key, action glfw.Action) (core.SystemEventCode, core.EventContext, bool) {
	if key == glfw.KeyUnknown {
		return 0, core.EventContext{}, false
	}
	var data core.EventContext
	data.Data.U16[0] = uint16(key)
	switch action {
	case glfw.Press, glfw.Repeat:
		return core.EVENT_CODE_KEY_PRESSED, data, true
	case glfw.Release:
		return core.EVENT_CODE_KEY_RELEASED, data, true
	}
	return 0, data, false
}

func buttonEvent(button glfw.MouseButton, action glfw.Action, mods glfw.ModifierKey) (core.SystemEventCode, core.EventContext, bool) {
	var data core.EventContext
	data.Data.U16[0] = uint16(button)
	data.Data.U16[1] = uint16(mods)
	switch action {
	case glfw.Press:
		return core.EVENT_CODE_BUTTON_PRESSED, data, true
	case glfw.Release:
		return core.EVENT_CODE_BUTTON_RELEASED, data, true
	}
	return 0, data, false
}

func pairF64(a, b float64) core.EventContext {
	var data core.EventContext
	data.Data.F64[0] = a
	data.Data.F64[1] = b
	return data
}

// minimized windows report 0x0, which is passed on so the loop can pause
func resizeEvent(width, height int) core.EventContext {
	var data core.EventContext
	if width > 0 {
		data.Data.U32[0] = uint32(width)
	}
	if height > 0 {
		data.Data.U32[1] = uint32(height)
	}
	return data
}
