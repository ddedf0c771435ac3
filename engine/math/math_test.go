package math

import (
	"encoding/binary"
	m "math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVertexLayout(t *testing.T) {
	assert.Equal(t, 68, VertexStride)
	require.Len(t, VertexAttributes, 6)

	end := uint32(0)
	for i, attr := range VertexAttributes {
		assert.Equal(t, uint32(i), attr.Location)
		assert.Equal(t, end, attr.Offset, attr.Name)
		end = attr.Offset + attr.Components*4
	}
	assert.Equal(t, uint32(VertexStride), end)
}

func TestMat4IdentityMul(t *testing.T) {
	a := NewMat4Translation(NewVec3(1, 2, 3))
	assert.Equal(t, a, a.Mul(NewMat4Identity()))
	assert.Equal(t, a, NewMat4Identity().Mul(a))
}

func TestTransformOrder(t *testing.T) {
	tr := Transform{
		Position: NewVec3(10, 0, 0),
		Rotation: NewVec3(0, 0, K_PI/2),
		Scale:    NewVec3(2, 2, 2),
	}
	// Scale to (2,0,0), rotate about Z to (0,2,0), then translate.
	got := NewVec3(1, 0, 0).Transform(tr.Matrix())
	assert.True(t, got.Compare(NewVec3(10, 2, 0), 1e-5), "got %+v", got)
}

func TestTransposedRoundTrip(t *testing.T) {
	a := NewMat4EulerXYZ(0.3, 0.2, 0.1).Mul(NewMat4Translation(NewVec3(4, 5, 6)))
	assert.Equal(t, a, a.Transposed().Transposed())
}

func TestPerspectiveMapsNearAndFar(t *testing.T) {
	p := NewMat4Perspective(DegToRad(90), 1, 0.1, 100)
	near := NewVec4(0, 0, -0.1, 1).Transform(p)
	far := NewVec4(0, 0, -100, 1).Transform(p)
	assert.InDelta(t, -1.0, near.Z/near.W, 1e-4)
	assert.InDelta(t, 1.0, far.Z/far.W, 1e-4)
}

func TestLookAtMovesEyeToOrigin(t *testing.T) {
	eye := NewVec3(0, 0, 5)
	view := NewMat4LookAt(eye, NewVec3Zero(), NewVec3Up())
	assert.True(t, eye.Transform(view).Compare(NewVec3Zero(), 1e-5))
	target := NewVec3Zero().Transform(view)
	assert.InDelta(t, -5.0, target.Z, 1e-5)
}

func TestMat4Bytes(t *testing.T) {
	b := NewMat4Translation(NewVec3(7, 0, 0)).Bytes()
	require.Len(t, b, 64)
	assert.Equal(t, float32(1), m.Float32frombits(binary.LittleEndian.Uint32(b[0:])))
	assert.Equal(t, float32(7), m.Float32frombits(binary.LittleEndian.Uint32(b[48:])))
}

func TestDeduplicateVertices(t *testing.T) {
	a := Vertex{Position: NewVec3(0, 0, 0)}
	b := Vertex{Position: NewVec3(1, 0, 0)}
	c := Vertex{Position: NewVec3(0, 1, 0)}
	vertices := []Vertex{a, b, c, a, c, b}
	indices := []uint32{0, 1, 2, 3, 4, 5}

	out := DeduplicateVertices(vertices, indices)
	assert.Equal(t, []Vertex{a, b, c}, out)
	assert.Equal(t, []uint32{0, 1, 2, 0, 2, 1}, indices)
}

func TestGenerateNormals(t *testing.T) {
	vertices := []Vertex{
		{Position: NewVec3(0, 0, 0)},
		{Position: NewVec3(1, 0, 0)},
		{Position: NewVec3(0, 1, 0)},
	}
	GenerateNormals(vertices, []uint32{0, 1, 2})
	for _, v := range vertices {
		assert.True(t, v.Normal.Compare(NewVec3(0, 0, 1), 1e-6))
	}
}

func TestVertexBytes(t *testing.T) {
	b := VertexBytes([]Vertex{{Position: NewVec3(1, 2, 3), Color: NewVec3(0.5, 0, 0)}})
	require.Len(t, b, VertexStride)
	assert.Equal(t, float32(3), m.Float32frombits(binary.LittleEndian.Uint32(b[8:])))
	assert.Equal(t, float32(0.5), m.Float32frombits(binary.LittleEndian.Uint32(b[12:])))
}

func TestAlignHelpers(t *testing.T) {
	assert.Equal(t, uint64(256), AlignUp(uint64(1), 256))
	assert.Equal(t, uint64(512), AlignUp(uint64(257), 256))
	assert.Equal(t, uint32(8), NextPowerOfTwo(uint32(5)))
	assert.Equal(t, uint32(1), NextPowerOfTwo(uint32(0)))
	assert.Equal(t, 3, Clamp(5, 0, 3))
}
