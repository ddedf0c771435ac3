package soft

import (
	"encoding/binary"
	"fmt"
	stdmath "math"

	"github.com/spaghettifunk/ember/engine/math"
	"github.com/spaghettifunk/ember/engine/renderer/gpu"
	"github.com/spaghettifunk/ember/engine/renderer/metadata"
)

// ViewProjectionConstant is the push constant the soft vertex stage applies
// after the per-instance model matrix.
const ViewProjectionConstant = "view_projection"

type boundBuffer struct {
	buf    *Buffer
	offset uint64
}

type executor struct {
	dev *Device

	pass    *RenderPass
	frame   *Framebuffer
	subpass uint32
	area    metadata.Rect2D

	viewport    metadata.Viewport
	hasViewport bool
	scissor     metadata.Rect2D
	hasScissor  bool

	pipeline  *Pipeline
	vertex    map[uint32]boundBuffer
	index     boundBuffer
	indexType metadata.IndexType
	push      [MaxPushConstantSize]byte
}

type shadedVertex struct {
	x, y, z float32
	color   [3]float32
	clipped bool
}

func (ex *executor) drawIndexed(indexCount, instanceCount, firstIndex uint32, vertexOffset int32, firstInstance uint32) error {
	if ex.pass == nil {
		return fmt.Errorf("draw outside a renderpass: %w", ErrInvalidUsage)
	}
	if ex.pipeline == nil {
		return fmt.Errorf("draw without a bound pipeline: %w", ErrInvalidUsage)
	}
	if ex.pipeline.pass != ex.pass {
		return fmt.Errorf("pipeline %q was built for another renderpass: %w", ex.pipeline.desc.Name, ErrInvalidUsage)
	}
	if ex.pipeline.desc.Subpass != ex.subpass {
		return fmt.Errorf("pipeline %q targets subpass %d, current subpass is %d: %w", ex.pipeline.desc.Name, ex.pipeline.desc.Subpass, ex.subpass, ErrInvalidUsage)
	}
	if !ex.hasViewport || !ex.hasScissor {
		return fmt.Errorf("draw without viewport and scissor: %w", ErrInvalidUsage)
	}

	vb, ok := ex.vertex[gpu.VertexBinding]
	if !ok {
		return fmt.Errorf("draw without a vertex buffer: %w", ErrInvalidUsage)
	}
	vertexData, err := vb.buf.bytes()
	if err != nil {
		return err
	}
	if ex.index.buf == nil {
		return fmt.Errorf("draw without an index buffer: %w", ErrInvalidUsage)
	}
	indexData, err := ex.index.buf.bytes()
	if err != nil {
		return err
	}

	indices := make([]uint32, indexCount)
	indexSize := uint64(4)
	if ex.indexType == metadata.IndexTypeUint16 {
		indexSize = 2
	}
	for i := range indices {
		at := ex.index.offset + uint64(firstIndex+uint32(i))*indexSize
		if at+indexSize > uint64(len(indexData)) {
			return fmt.Errorf("index %d reads past the index buffer: %w", firstIndex+uint32(i), ErrInvalidUsage)
		}
		if indexSize == 2 {
			indices[i] = uint32(binary.LittleEndian.Uint16(indexData[at:]))
		} else {
			indices[i] = binary.LittleEndian.Uint32(indexData[at:])
		}
	}

	desc := ex.pipeline.desc
	viewProj := math.NewMat4Identity()
	if pc, ok := desc.PushConstant(ViewProjectionConstant); ok && pc.Size >= 64 {
		viewProj = readMat4(ex.push[pc.Offset:])
	}

	var instanceData []byte
	if desc.HasInstanceBinding() {
		ib, ok := ex.vertex[gpu.InstanceBinding]
		if !ok {
			return fmt.Errorf("pipeline %q reads instances but no instance buffer is bound: %w", desc.Name, ErrInvalidUsage)
		}
		if instanceData, err = ib.buf.bytes(); err != nil {
			return err
		}
		instanceData = instanceData[ib.offset:]
	}

	sp := ex.pass.desc.Subpasses[ex.subpass]
	targets := make([]*Image, 0, len(sp.Colors))
	for _, ref := range sp.Colors {
		targets = append(targets, ex.frame.images[ref.Index])
	}
	var depth *Image
	if sp.DepthStencil != nil && desc.DepthTest {
		depth = ex.frame.images[sp.DepthStencil.Index]
	}

	for inst := uint32(0); inst < instanceCount; inst++ {
		model := math.NewMat4Identity()
		if instanceData != nil {
			at := uint64(firstInstance+inst) * 64
			if at+64 > uint64(len(instanceData)) {
				return fmt.Errorf("instance %d reads past the instance buffer: %w", firstInstance+inst, ErrInvalidUsage)
			}
			model = readMat4(instanceData[at:])
		}
		mvp := model.Mul(viewProj)

		shaded := make([]shadedVertex, len(indices))
		for i, idx := range indices {
			at := vb.offset + uint64(int64(idx)+int64(vertexOffset))*math.VertexStride
			if at+math.VertexStride > uint64(len(vertexData)) {
				return fmt.Errorf("vertex %d reads past the vertex buffer: %w", idx, ErrInvalidUsage)
			}
			shaded[i] = ex.shade(vertexData[at:at+math.VertexStride], mvp)
		}
		for t := 0; t+2 < len(shaded); t += 3 {
			ex.rasterize(shaded[t], shaded[t+1], shaded[t+2], targets, depth, desc)
		}
	}

	ex.dev.recordDraw(DrawRecord{
		Pipeline:      desc.Name,
		Subpass:       ex.subpass,
		IndexCount:    indexCount,
		InstanceCount: instanceCount,
		FirstIndex:    firstIndex,
		FirstInstance: firstInstance,
	})
	return nil
}

// shade runs the fixed vertex stage: clip position and color passthrough.
func (ex *executor) shade(v []byte, mvp math.Mat4) shadedVertex {
	pos := math.NewVec4(readF32(v, 0), readF32(v, 4), readF32(v, 8), 1).Transform(mvp)
	out := shadedVertex{color: [3]float32{readF32(v, 12), readF32(v, 16), readF32(v, 20)}}
	if pos.W <= 0 {
		out.clipped = true
		return out
	}
	ndcX, ndcY, ndcZ := pos.X/pos.W, pos.Y/pos.W, pos.Z/pos.W
	vp := ex.viewport
	out.x = vp.X + (ndcX+1)*0.5*vp.Width
	out.y = vp.Y + (ndcY+1)*0.5*vp.Height
	out.z = vp.MinDepth + ndcZ*(vp.MaxDepth-vp.MinDepth)
	return out
}

func edge(ax, ay, bx, by, px, py float32) float32 {
	return (bx-ax)*(py-ay) - (by-ay)*(px-ax)
}

// rasterize fills pixels whose centers fall inside the triangle.
func (ex *executor) rasterize(v0, v1, v2 shadedVertex, targets []*Image, depth *Image, desc *gpu.PipelineDesc) {
	if v0.clipped || v1.clipped || v2.clipped {
		return
	}
	area := edge(v0.x, v0.y, v1.x, v1.y, v2.x, v2.y)
	if area == 0 {
		return
	}
	// Framebuffer y points down, so a positive area is clockwise on screen.
	switch desc.Cull {
	case metadata.CullBack:
		if area > 0 {
			return
		}
	case metadata.CullFront:
		if area < 0 {
			return
		}
	}

	clip := ex.area
	if ex.hasScissor {
		clip = intersect(clip, ex.scissor)
	}
	clip = intersect(clip, metadata.FullRect(ex.frame.extent))

	minX := max(clip.Offset.X, int32(floor(min(v0.x, v1.x, v2.x))))
	minY := max(clip.Offset.Y, int32(floor(min(v0.y, v1.y, v2.y))))
	maxX := min(clip.Offset.X+int32(clip.Extent.Width)-1, int32(ceil(max(v0.x, v1.x, v2.x))))
	maxY := min(clip.Offset.Y+int32(clip.Extent.Height)-1, int32(ceil(max(v0.y, v1.y, v2.y))))

	width := ex.frame.extent.Width
	for py := minY; py <= maxY; py++ {
		for px := minX; px <= maxX; px++ {
			cx, cy := float32(px)+0.5, float32(py)+0.5
			w0 := edge(v1.x, v1.y, v2.x, v2.y, cx, cy) / area
			w1 := edge(v2.x, v2.y, v0.x, v0.y, cx, cy) / area
			w2 := edge(v0.x, v0.y, v1.x, v1.y, cx, cy) / area
			if w0 < 0 || w1 < 0 || w2 < 0 {
				continue
			}
			p := uint32(py)*width + uint32(px)
			z := w0*v0.z + w1*v1.z + w2*v2.z
			if depth != nil {
				if !(z < depth.depth[p]) {
					continue
				}
				if desc.DepthWrite {
					depth.depth[p] = z
				}
			}
			var rgba [4]float32
			for c := 0; c < 3; c++ {
				rgba[c] = w0*v0.color[c] + w1*v1.color[c] + w2*v2.color[c]
			}
			rgba[3] = 1
			for _, t := range targets {
				copy(t.color[p*4:p*4+4], rgba[:])
			}
		}
	}
}

func intersect(a, b metadata.Rect2D) metadata.Rect2D {
	x0 := max(a.Offset.X, b.Offset.X)
	y0 := max(a.Offset.Y, b.Offset.Y)
	x1 := min(a.Offset.X+int32(a.Extent.Width), b.Offset.X+int32(b.Extent.Width))
	y1 := min(a.Offset.Y+int32(a.Extent.Height), b.Offset.Y+int32(b.Extent.Height))
	if x1 < x0 {
		x1 = x0
	}
	if y1 < y0 {
		y1 = y0
	}
	return metadata.Rect2D{
		Offset: metadata.Offset2D{X: x0, Y: y0},
		Extent: metadata.Extent2D{Width: uint32(x1 - x0), Height: uint32(y1 - y0)},
	}
}

func floor(f float32) float32 { return float32(stdmath.Floor(float64(f))) }
func ceil(f float32) float32  { return float32(stdmath.Ceil(float64(f))) }

func readF32(b []byte, at int) float32 {
	return stdmath.Float32frombits(binary.LittleEndian.Uint32(b[at:]))
}

func readMat4(b []byte) math.Mat4 {
	var m math.Mat4
	for i := range m.Data {
		m.Data[i] = readF32(b, i*4)
	}
	return m
}

func unorm8(f float32) byte {
	return byte(math.Clamp(f, 0, 1)*255 + 0.5)
}

// pack encodes texels in the image's own format.
func (i *Image) pack() []byte {
	w, h := i.desc.Extent.Width, i.desc.Extent.Height
	bpp := i.desc.Format.BytesPerPixel()
	out := make([]byte, w*h*bpp)
	for p := uint32(0); p < w*h; p++ {
		dst := out[p*bpp:]
		switch i.desc.Format {
		case metadata.FormatR8G8B8A8Unorm, metadata.FormatR8G8B8A8Srgb:
			for c := 0; c < 4; c++ {
				dst[c] = unorm8(i.color[p*4+uint32(c)])
			}
		case metadata.FormatB8G8R8A8Unorm, metadata.FormatB8G8R8A8Srgb:
			dst[0] = unorm8(i.color[p*4+2])
			dst[1] = unorm8(i.color[p*4+1])
			dst[2] = unorm8(i.color[p*4+0])
			dst[3] = unorm8(i.color[p*4+3])
		case metadata.FormatR16G16B16A16Sfloat:
			for c := 0; c < 4; c++ {
				binary.LittleEndian.PutUint16(dst[c*2:], half(i.color[p*4+uint32(c)]))
			}
		case metadata.FormatR32G32B32A32Sfloat:
			for c := 0; c < 4; c++ {
				binary.LittleEndian.PutUint32(dst[c*4:], stdmath.Float32bits(i.color[p*4+uint32(c)]))
			}
		case metadata.FormatD32Sfloat, metadata.FormatD32SfloatS8Uint:
			binary.LittleEndian.PutUint32(dst, stdmath.Float32bits(i.depth[p]))
			if bpp == 8 {
				dst[4] = i.stencil[p]
			}
		case metadata.FormatD24UnormS8Uint:
			d := uint32(math.Clamp(i.depth[p], 0, 1) * 0xFFFFFF)
			binary.LittleEndian.PutUint32(dst, d|uint32(i.stencil[p])<<24)
		}
	}
	return out
}

// half converts to IEEE 754 binary16, truncating the mantissa.
func half(f float32) uint16 {
	bits := stdmath.Float32bits(f)
	sign := uint16(bits>>16) & 0x8000
	exp := int32(bits>>23&0xFF) - 127 + 15
	mant := bits & 0x7FFFFF
	switch {
	case exp <= 0:
		return sign
	case exp >= 0x1F:
		return sign | 0x7C00
	}
	return sign | uint16(exp)<<10 | uint16(mant>>13)
}
