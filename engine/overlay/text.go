package overlay

import (
	"github.com/spaghettifunk/ember/engine/math"
	"github.com/spaghettifunk/ember/engine/renderer/framegraph"
	"github.com/spaghettifunk/ember/engine/renderer/metadata"
)

const PassName = "overlay"

// Text lays out strings of one font as screen-space glyph quads.
type Text struct {
	Font *Font
}

func NewText(font *Font) *Text {
	return &Text{Font: font}
}

/**
 * @brief Builds the glyph quads for str.
 * x and y are the top-left pen position in framebuffer pixels. Positions
 * are emitted in NDC for extent, with y pointing down. Characters without
 * a glyph and empty cells only advance the pen.
 */
func (t *Text) Layout(str string, x, y, scale float32, color math.Vec3, extent metadata.Extent2D) *metadata.Geometry {
	f := t.Font
	vertices := make([]math.Vertex, 0, 4*len(str))
	indices := make([]uint32, 0, 6*len(str))

	if extent.Width == 0 || extent.Height == 0 {
		return metadata.NewGeometry("overlay-text", vertices, indices)
	}
	ndcX := func(px float32) float32 { return px/float32(extent.Width)*2 - 1 }
	ndcY := func(py float32) float32 { return py/float32(extent.Height)*2 - 1 }
	atlasW, atlasH := float32(f.AtlasWidth), float32(f.AtlasHeight)

	penX, penY := x, y
	prev := rune(-1)
	for _, r := range str {
		if r == '\n' {
			penX = x
			penY += float32(f.LineHeight) * scale
			prev = -1
			continue
		}
		g, ok := f.Glyph(r)
		if !ok {
			continue
		}
		if prev >= 0 {
			penX += float32(f.Kerning(prev, r)) * scale
		}
		prev = r

		if g.Width > 0 && g.Height > 0 {
			x0 := penX + float32(g.XOffset)*scale
			y0 := penY + float32(g.YOffset)*scale
			x1 := x0 + float32(g.Width)*scale
			y1 := y0 + float32(g.Height)*scale

			u0, v0 := float32(g.X)/atlasW, float32(g.Y)/atlasH
			u1, v1 := float32(g.X+g.Width)/atlasW, float32(g.Y+g.Height)/atlasH

			base := uint32(len(vertices))
			normal := math.NewVec3(0, 0, -1)
			vertices = append(vertices,
				math.Vertex{Position: math.NewVec3(ndcX(x0), ndcY(y0), 0), Color: color, UV: math.NewVec2(u0, v0), Normal: normal},
				math.Vertex{Position: math.NewVec3(ndcX(x1), ndcY(y0), 0), Color: color, UV: math.NewVec2(u1, v0), Normal: normal},
				math.Vertex{Position: math.NewVec3(ndcX(x1), ndcY(y1), 0), Color: color, UV: math.NewVec2(u1, v1), Normal: normal},
				math.Vertex{Position: math.NewVec3(ndcX(x0), ndcY(y1), 0), Color: color, UV: math.NewVec2(u0, v1), Normal: normal},
			)
			indices = append(indices, base, base+1, base+2, base+2, base+3, base)
		}
		penX += float32(g.XAdvance) * scale
	}
	return metadata.NewGeometry("overlay-text", vertices, indices)
}

// AddPass appends the overlay as the last pass of graph. It writes present
// after every earlier pass, and sharing the slot keeps their output.
func AddPass(graph *framegraph.Graph, present framegraph.AttachmentHandle) (*framegraph.Pass, error) {
	pass, err := graph.AddPass(PassName)
	if err != nil {
		return nil, err
	}
	if err := pass.AddColorAttachment(present); err != nil {
		return nil, err
	}
	return pass, nil
}
