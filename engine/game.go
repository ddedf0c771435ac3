package engine

import (
	"github.com/spaghettifunk/ember/engine/renderer/command"
	"github.com/spaghettifunk/ember/engine/renderer/framegraph"
	"github.com/spaghettifunk/ember/engine/renderer/metadata"
)

// Game is implemented by the application driven by the engine loop. Every
// method runs on the main thread.
type Game interface {
	// Initialize builds the frame graph and loads content. It is called
	// once, after the device is up.
	Initialize(ctx *EngineContext) error
	Update(deltaTime float64) error
	// Render records one frame into the target. The frame is already begun
	// and is ended by the loop.
	Render(ctx *EngineContext, frame *FrameContext) error
	// OnResize runs after the swapchain and the render target were rebuilt.
	OnResize(width uint32, height uint32)
	Shutdown()
}

// FrameContext is what a Render call may record into.
type FrameContext struct {
	// Number counts submitted frames from 0.
	Number    uint64
	Slot      int
	DeltaTime float64
	Target    *framegraph.RenderTarget
	Area      metadata.Rect2D
	Commands  *command.Engine
}
