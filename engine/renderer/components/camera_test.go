package components

import (
	stdmath "math"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/spaghettifunk/ember/engine/math"
)

func TestCameraLooksDownNegativeZ(t *testing.T) {
	c := NewCamera()
	c.SetPosition(math.NewVec3(0, 0, 5))

	p := math.NewVec3Zero().Transform(c.View())
	assert.InDelta(t, 0, p.X, 1e-5)
	assert.InDelta(t, 0, p.Y, 1e-5)
	assert.InDelta(t, -5, p.Z, 1e-5)

	// the origin is straight ahead, so it projects onto the center
	clip := math.NewVec3Zero().ToVec4(1).Transform(c.ViewProjection(640, 480))
	assert.InDelta(t, 0, clip.X/clip.W, 1e-5)
	assert.InDelta(t, 0, clip.Y/clip.W, 1e-5)
}

func TestCameraYawAndMove(t *testing.T) {
	c := NewCamera()
	c.Yaw(float32(stdmath.Pi / 2))
	f := c.Forward()
	assert.InDelta(t, -1, f.X, 1e-5)
	assert.InDelta(t, 0, f.Z, 1e-5)

	c.MoveForward(2)
	assert.InDelta(t, -2, c.Position.X, 1e-5)
	c.MoveRight(1)
	assert.InDelta(t, -1, c.Position.Z, 1e-5)
	c.MoveUp(3)
	assert.InDelta(t, 3, c.Position.Y, 1e-5)
}

func TestCameraPitchIsClamped(t *testing.T) {
	c := NewCamera()
	c.Pitch(10)
	assert.Equal(t, pitchLimit, c.EulerRotation.X)
	c.SetEulerRotation(math.NewVec3(-10, 0, 0))
	assert.Equal(t, -pitchLimit, c.EulerRotation.X)
}

func TestCameraViewIsCachedUntilMoved(t *testing.T) {
	c := NewCamera()
	v := c.View()
	assert.Equal(t, v, c.View())
	c.MoveForward(1)
	assert.NotEqual(t, v, c.View())
}
