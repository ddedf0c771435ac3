package metadata

import (
	"hash/fnv"

	"github.com/spaghettifunk/ember/engine/math"
)

// GeometryKey is the content hash identifying a geometry in GPU caches.
type GeometryKey uint64

/**
 * @brief Immutable mesh data consumed by the renderer.
 * Vertices and indices must not change after the first call to Key.
 */
type Geometry struct {
	Name     string
	Vertices []math.Vertex
	Indices  []uint32

	key    GeometryKey
	hashed bool
}

func NewGeometry(name string, vertices []math.Vertex, indices []uint32) *Geometry {
	return &Geometry{Name: name, Vertices: vertices, Indices: indices}
}

// Key hashes vertex and index bytes with FNV-1a. The result is cached.
func (g *Geometry) Key() GeometryKey {
	if g.hashed {
		return g.key
	}
	h := fnv.New64a()
	h.Write(math.VertexBytes(g.Vertices))
	h.Write(math.IndexBytes(g.Indices))
	g.key = GeometryKey(h.Sum64())
	g.hashed = true
	return g.key
}

func (g *Geometry) IndexCount() uint32 {
	return uint32(len(g.Indices))
}

// Triangle is a single colored triangle in NDC, wound clockwise on screen.
func Triangle(color math.Vec3) *Geometry {
	vertices := []math.Vertex{
		{Position: math.NewVec3(0.0, -0.5, 0), Color: color, UV: math.NewVec2(0.5, 0)},
		{Position: math.NewVec3(0.5, 0.5, 0), Color: color, UV: math.NewVec2(1, 1)},
		{Position: math.NewVec3(-0.5, 0.5, 0), Color: color, UV: math.NewVec2(0, 1)},
	}
	indices := []uint32{0, 1, 2}
	math.GenerateNormals(vertices, indices)
	return NewGeometry("triangle", vertices, indices)
}

// Quad is an axis-aligned square of the given half size centered at the origin.
func Quad(halfSize float32, color math.Vec3) *Geometry {
	h := halfSize
	vertices := []math.Vertex{
		{Position: math.NewVec3(-h, -h, 0), Color: color, UV: math.NewVec2(0, 0)},
		{Position: math.NewVec3(h, -h, 0), Color: color, UV: math.NewVec2(1, 0)},
		{Position: math.NewVec3(h, h, 0), Color: color, UV: math.NewVec2(1, 1)},
		{Position: math.NewVec3(-h, h, 0), Color: color, UV: math.NewVec2(0, 1)},
	}
	indices := []uint32{0, 1, 2, 2, 3, 0}
	math.GenerateNormals(vertices, indices)
	math.GenerateTangents(vertices, indices)
	return NewGeometry("quad", vertices, indices)
}

// Cube is an axis-aligned cube with edge length size and per-face normals.
func Cube(size float32, color math.Vec3) *Geometry {
	h := size * 0.5
	// Each face: origin corner, then u and v edge directions.
	faces := [6][3]math.Vec3{
		{{X: -h, Y: -h, Z: h}, {X: 1}, {Y: 1}},  // front
		{{X: h, Y: -h, Z: -h}, {X: -1}, {Y: 1}}, // back
		{{X: -h, Y: -h, Z: -h}, {Z: 1}, {Y: 1}}, // left
		{{X: h, Y: -h, Z: h}, {Z: -1}, {Y: 1}},  // right
		{{X: -h, Y: h, Z: h}, {X: 1}, {Z: -1}},  // top
		{{X: -h, Y: -h, Z: -h}, {X: 1}, {Z: 1}}, // bottom
	}

	vertices := make([]math.Vertex, 0, 24)
	indices := make([]uint32, 0, 36)
	for _, f := range faces {
		origin := f[0]
		u := f[1].MulScalar(size)
		v := f[2].MulScalar(size)
		base := uint32(len(vertices))
		corners := [4]struct {
			pos math.Vec3
			uv  math.Vec2
		}{
			{origin, math.NewVec2(0, 0)},
			{origin.Add(u), math.NewVec2(1, 0)},
			{origin.Add(u).Add(v), math.NewVec2(1, 1)},
			{origin.Add(v), math.NewVec2(0, 1)},
		}
		for _, c := range corners {
			vertices = append(vertices, math.Vertex{Position: c.pos, Color: color, UV: c.uv})
		}
		indices = append(indices, base, base+1, base+2, base+2, base+3, base)
	}
	math.GenerateNormals(vertices, indices)
	math.GenerateTangents(vertices, indices)
	return NewGeometry("cube", vertices, indices)
}
