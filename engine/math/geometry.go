package math

import "github.com/spaghettifunk/ember/engine/core"

// GenerateNormals writes a flat face normal into every vertex of each
// triangle. Shared vertices end up with the normal of the last face.
func GenerateNormals(vertices []Vertex, indices []uint32) {
	for i := 0; i+2 < len(indices); i += 3 {
		i0, i1, i2 := indices[i], indices[i+1], indices[i+2]

		edge1 := vertices[i1].Position.Sub(vertices[i0].Position)
		edge2 := vertices[i2].Position.Sub(vertices[i0].Position)
		normal := edge1.Cross(edge2).Normalized()

		vertices[i0].Normal = normal
		vertices[i1].Normal = normal
		vertices[i2].Normal = normal
	}
}

// GenerateTangents derives per-face tangent and bitangent from UVs.
// Degenerate UV mappings leave the vertices untouched.
func GenerateTangents(vertices []Vertex, indices []uint32) {
	for i := 0; i+2 < len(indices); i += 3 {
		i0, i1, i2 := indices[i], indices[i+1], indices[i+2]

		edge1 := vertices[i1].Position.Sub(vertices[i0].Position)
		edge2 := vertices[i2].Position.Sub(vertices[i0].Position)

		deltaU1 := vertices[i1].UV.X - vertices[i0].UV.X
		deltaV1 := vertices[i1].UV.Y - vertices[i0].UV.Y
		deltaU2 := vertices[i2].UV.X - vertices[i0].UV.X
		deltaV2 := vertices[i2].UV.Y - vertices[i0].UV.Y

		dividend := deltaU1*deltaV2 - deltaU2*deltaV1
		if kabs(dividend) < K_FLOAT_EPSILON {
			continue
		}
		fc := 1.0 / dividend

		tangent := Vec3{
			fc * (deltaV2*edge1.X - deltaV1*edge2.X),
			fc * (deltaV2*edge1.Y - deltaV1*edge2.Y),
			fc * (deltaV2*edge1.Z - deltaV1*edge2.Z),
		}.Normalized()

		handedness := float32(1.0)
		if deltaV1*deltaU2-deltaV2*deltaU1 < 0.0 {
			handedness = -1.0
		}
		tangent = tangent.MulScalar(handedness)

		for _, idx := range [3]uint32{i0, i1, i2} {
			vertices[idx].Tangent = tangent
			vertices[idx].Bitangent = vertices[idx].Normal.Cross(tangent)
		}
	}
}

// VertexEqual compares two vertices field by field within K_FLOAT_EPSILON.
func VertexEqual(vert0, vert1 Vertex) bool {
	return vert0.Position.Compare(vert1.Position, K_FLOAT_EPSILON) &&
		vert0.Color.Compare(vert1.Color, K_FLOAT_EPSILON) &&
		vert0.UV.Compare(vert1.UV, K_FLOAT_EPSILON) &&
		vert0.Normal.Compare(vert1.Normal, K_FLOAT_EPSILON) &&
		vert0.Tangent.Compare(vert1.Tangent, K_FLOAT_EPSILON) &&
		vert0.Bitangent.Compare(vert1.Bitangent, K_FLOAT_EPSILON)
}

// DeduplicateVertices removes repeated vertices and rewrites indices in
// place to point at the surviving copy. First occurrences keep their order.
func DeduplicateVertices(vertices []Vertex, indices []uint32) []Vertex {
	unique := make([]Vertex, 0, len(vertices))
	remap := make([]uint32, len(vertices))

	for v := range vertices {
		found := false
		for u := range unique {
			if VertexEqual(vertices[v], unique[u]) {
				remap[v] = uint32(u)
				found = true
				break
			}
		}
		if !found {
			remap[v] = uint32(len(unique))
			unique = append(unique, vertices[v])
		}
	}

	for i, idx := range indices {
		indices[i] = remap[idx]
	}

	core.LogDebug("deduplicate vertices: removed %d vertices, orig/now %d/%d", len(vertices)-len(unique), len(vertices), len(unique))
	return unique
}

// VertexBytes packs vertices into their tightly packed upload form.
func VertexBytes(vertices []Vertex) []byte {
	out := make([]byte, len(vertices)*VertexStride)
	for i, v := range vertices {
		b := out[i*VertexStride:]
		fields := [...]float32{
			v.Position.X, v.Position.Y, v.Position.Z,
			v.Color.X, v.Color.Y, v.Color.Z,
			v.UV.X, v.UV.Y,
			v.Normal.X, v.Normal.Y, v.Normal.Z,
			v.Tangent.X, v.Tangent.Y, v.Tangent.Z,
			v.Bitangent.X, v.Bitangent.Y, v.Bitangent.Z,
		}
		for j, f := range fields {
			putFloat32(b[j*4:], f)
		}
	}
	return out
}

// IndexBytes packs 32-bit indices little-endian.
func IndexBytes(indices []uint32) []byte {
	out := make([]byte, len(indices)*4)
	for i, idx := range indices {
		out[i*4] = byte(idx)
		out[i*4+1] = byte(idx >> 8)
		out[i*4+2] = byte(idx >> 16)
		out[i*4+3] = byte(idx >> 24)
	}
	return out
}
