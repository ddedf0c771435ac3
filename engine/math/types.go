package math

// Vec2 represents a 2D vector
type Vec2 struct {
	X, Y float32
}

// Vec3 represents a 3D vector
type Vec3 struct {
	X, Y, Z float32
}

// Vec4 represents a 4D vector
type Vec4 struct {
	X, Y, Z, W float32
}

// Mat4 is a 4x4 matrix stored column by column, the layout shaders expect.
// Translation lives in elements 12, 13 and 14.
type Mat4 struct {
	Data [16]float32
}

// Vertex is the single vertex layout shared by every vertex buffer and every
// vertex shader. Fields are tightly packed float32 values; the order and
// offsets are the contract checked against shader reflection.
type Vertex struct {
	Position  Vec3
	Color     Vec3
	UV        Vec2
	Normal    Vec3
	Tangent   Vec3
	Bitangent Vec3
}

// VertexStride is the size of Vertex in bytes.
const VertexStride = 4 * (3 + 3 + 2 + 3 + 3 + 3)

// VertexAttribute describes one field of Vertex as seen by a vertex shader.
// Components is the number of float32 values.
type VertexAttribute struct {
	Name       string
	Location   uint32
	Components uint32
	Offset     uint32
}

// VertexAttributes lists the fields of Vertex in shader location order.
var VertexAttributes = []VertexAttribute{
	{Name: "position", Location: 0, Components: 3, Offset: 0},
	{Name: "color", Location: 1, Components: 3, Offset: 12},
	{Name: "uv", Location: 2, Components: 2, Offset: 24},
	{Name: "normal", Location: 3, Components: 3, Offset: 32},
	{Name: "tangent", Location: 4, Components: 3, Offset: 44},
	{Name: "bitangent", Location: 5, Components: 3, Offset: 56},
}

// Transform is a position, euler rotation (radians) and scale.
type Transform struct {
	Position Vec3
	Rotation Vec3
	Scale    Vec3
}

func NewTransform(position Vec3) Transform {
	return Transform{Position: position, Scale: NewVec3One()}
}

// Matrix composes scale, then rotation, then translation.
func (t Transform) Matrix() Mat4 {
	scale := NewMat4Scale(t.Scale)
	rotation := NewMat4EulerXYZ(t.Rotation.X, t.Rotation.Y, t.Rotation.Z)
	return scale.Mul(rotation).Mul(NewMat4Translation(t.Position))
}
