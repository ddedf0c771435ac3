package components

import (
	stdmath "math"

	"github.com/spaghettifunk/ember/engine/math"
)

// pitchLimit is 89 degrees, clamped to avoid gimbal lock.
const pitchLimit = float32(1.55334306)

/**
 * @brief A free-look camera. It looks down -Z when both angles are zero.
 * The view and projection matrices are row-vector, the same convention
 * the instance transforms use, so ViewProjection can be pushed as is.
 */
type Camera struct {
	/** @brief Pitch in X and yaw in Y, in radians. Roll is ignored. */
	EulerRotation math.Vec3
	Position      math.Vec3

	FovRadians float32
	Near, Far  float32

	isDirty    bool
	viewMatrix math.Mat4
}

func NewCamera() *Camera {
	camera := &Camera{}
	camera.Reset()
	return camera
}

func (c *Camera) Reset() {
	c.EulerRotation = math.NewVec3Zero()
	c.Position = math.NewVec3Zero()
	c.FovRadians = math.DegToRad(45)
	c.Near, c.Far = 0.1, 100
	c.isDirty = true
}

func (c *Camera) SetPosition(position math.Vec3) {
	c.Position = position
	c.isDirty = true
}

func (c *Camera) SetEulerRotation(rotation math.Vec3) {
	c.EulerRotation = rotation
	c.EulerRotation.X = math.Clamp(c.EulerRotation.X, -pitchLimit, pitchLimit)
	c.isDirty = true
}

func (c *Camera) Forward() math.Vec3 {
	pitch, yaw := float64(c.EulerRotation.X), float64(c.EulerRotation.Y)
	return math.NewVec3(
		float32(-stdmath.Sin(yaw)*stdmath.Cos(pitch)),
		float32(stdmath.Sin(pitch)),
		float32(-stdmath.Cos(yaw)*stdmath.Cos(pitch)),
	)
}

func (c *Camera) Right() math.Vec3 {
	return c.Forward().Cross(math.NewVec3Up()).Normalized()
}

func (c *Camera) View() math.Mat4 {
	if c.isDirty {
		c.viewMatrix = math.NewMat4LookAt(c.Position, c.Position.Add(c.Forward()), math.NewVec3Up())
		c.isDirty = false
	}
	return c.viewMatrix
}

func (c *Camera) Projection(aspectRatio float32) math.Mat4 {
	return math.NewMat4Perspective(c.FovRadians, aspectRatio, c.Near, c.Far)
}

// ViewProjection returns view then projection for the given viewport.
func (c *Camera) ViewProjection(width, height uint32) math.Mat4 {
	aspect := float32(1)
	if height > 0 {
		aspect = float32(width) / float32(height)
	}
	return c.View().Mul(c.Projection(aspect))
}

func (c *Camera) MoveForward(amount float32) { c.move(c.Forward(), amount) }
func (c *Camera) MoveRight(amount float32)   { c.move(c.Right(), amount) }
func (c *Camera) MoveUp(amount float32)      { c.move(math.NewVec3Up(), amount) }

func (c *Camera) move(direction math.Vec3, amount float32) {
	c.Position = c.Position.Add(direction.MulScalar(amount))
	c.isDirty = true
}

func (c *Camera) Yaw(amount float32) {
	c.EulerRotation.Y += amount
	c.isDirty = true
}

func (c *Camera) Pitch(amount float32) {
	c.EulerRotation.X = math.Clamp(c.EulerRotation.X+amount, -pitchLimit, pitchLimit)
	c.isDirty = true
}
