package platform

import (
	"testing"

	"github.com/go-gl/glfw/v3.3/glfw"
	"github.com/stretchr/testify/assert"

	"github.com/spaghettifunk/ember/engine/core"
)

func TestKeyEvent(t *testing.T) {
	code, data, ok := keyEvent(glfw.KeyEscape, glfw.Press)
	assert.True(t, ok)
	assert.Equal(t, core.EVENT_CODE_KEY_PRESSED, code)
	assert.Equal(t, uint16(glfw.KeyEscape), data.Data.U16[0])

	code, _, ok = keyEvent(glfw.KeyA, glfw.Repeat)
	assert.True(t, ok)
	assert.Equal(t, core.EVENT_CODE_KEY_PRESSED, code)

	code, _, ok = keyEvent(glfw.KeyA, glfw.Release)
	assert.True(t, ok)
	assert.Equal(t, core.EVENT_CODE_KEY_RELEASED, code)

	_, _, ok = keyEvent(glfw.KeyUnknown, glfw.Press)
	assert.False(t, ok)
}

func TestButtonEvent(t *testing.T) {
	code, data, ok := buttonEvent(glfw.MouseButtonRight, glfw.Press, glfw.ModShift)
	assert.True(t, ok)
	assert.Equal(t, core.EVENT_CODE_BUTTON_PRESSED, code)
	assert.Equal(t, uint16(glfw.MouseButtonRight), data.Data.U16[0])
	assert.Equal(t, uint16(glfw.ModShift), data.Data.U16[1])

	code, _, ok = buttonEvent(glfw.MouseButtonLeft, glfw.Release, 0)
	assert.True(t, ok)
	assert.Equal(t, core.EVENT_CODE_BUTTON_RELEASED, code)
}

func TestResizeEvent(t *testing.T) {
	data := resizeEvent(800, 600)
	assert.Equal(t, uint32(800), data.Data.U32[0])
	assert.Equal(t, uint32(600), data.Data.U32[1])

	data = resizeEvent(-1, 0)
	assert.Zero(t, data.Data.U32[0])
	assert.Zero(t, data.Data.U32[1])
}

func TestCallbacksPostToBus(t *testing.T) {
	bus := core.NewEventBus()
	p := New(bus)

	var moved, resized, quit int
	bus.Register(core.EVENT_CODE_MOUSE_MOVED, "t", func(code core.SystemEventCode, sender, listener interface{}, data core.EventContext) bool {
		assert.Same(t, p, sender)
		assert.Equal(t, 10.5, data.Data.F64[0])
		assert.Equal(t, 20.0, data.Data.F64[1])
		moved++
		return true
	})
	bus.Register(core.EVENT_CODE_RESIZED, "t", func(code core.SystemEventCode, sender, listener interface{}, data core.EventContext) bool {
		assert.Equal(t, uint32(320), data.Data.U32[0])
		resized++
		return true
	})
	bus.Register(core.EVENT_CODE_APPLICATION_QUIT, "t", func(code core.SystemEventCode, sender, listener interface{}, data core.EventContext) bool {
		quit++
		return true
	})

	p.cursorPosCallback(nil, 10.5, 20)
	p.framebufferSizeCallback(nil, 320, 240)
	p.closeCallback(nil)
	assert.Equal(t, 0, moved)
	assert.Equal(t, 3, bus.Pending())

	assert.Equal(t, 3, bus.Dispatch())
	assert.Equal(t, 1, moved)
	assert.Equal(t, 1, resized)
	assert.Equal(t, 1, quit)
}

func TestNoWindowSizes(t *testing.T) {
	p := New(core.NewEventBus())
	assert.False(t, p.IsOpen())
	w, h := p.FramebufferSize()
	assert.Zero(t, w)
	assert.Zero(t, h)
}
