package overlay

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/ember/engine/math"
	"github.com/spaghettifunk/ember/engine/renderer/framegraph"
	"github.com/spaghettifunk/ember/engine/renderer/metadata"
)

func testFont() *Font {
	f := NewFont("test", 8, 10, 8, 64, 32)
	f.AddGlyph('A', Glyph{X: 0, Y: 0, Width: 8, Height: 8, XAdvance: 9})
	f.AddGlyph('B', Glyph{X: 8, Y: 0, Width: 8, Height: 8, YOffset: 1, XAdvance: 9})
	f.AddGlyph(' ', Glyph{XAdvance: 4})
	f.AddGlyph('?', Glyph{X: 16, Y: 0, Width: 8, Height: 8, XAdvance: 9})
	f.SetKerning('A', 'B', -2)
	return f
}

func TestFontLookup(t *testing.T) {
	f := testFont()
	g, ok := f.Glyph('A')
	require.True(t, ok)
	assert.Equal(t, 9, g.XAdvance)

	g, ok = f.Glyph('Z')
	require.True(t, ok)
	assert.Equal(t, 16, g.X)

	assert.Equal(t, -2, f.Kerning('A', 'B'))
	assert.Zero(t, f.Kerning('B', 'A'))

	w, h := f.Measure("AB\nA")
	assert.Equal(t, 16, w)
	assert.Equal(t, 20, h)
}

func TestLayoutQuads(t *testing.T) {
	text := NewText(testFont())
	color := math.NewVec3(1, 1, 0)
	extent := metadata.Extent2D{Width: 64, Height: 64}

	geom := text.Layout("A B", 0, 0, 1, color, extent)
	// the space only advances
	require.Len(t, geom.Vertices, 8)
	assert.Equal(t, []uint32{0, 1, 2, 2, 3, 0, 4, 5, 6, 6, 7, 4}, geom.Indices)

	a := geom.Vertices[0:4]
	assert.Equal(t, float32(-1), a[0].Position.X)
	assert.Equal(t, float32(-1), a[0].Position.Y)
	assert.InDelta(t, 8.0/64*2-1, a[2].Position.X, 1e-6)
	assert.InDelta(t, 8.0/64*2-1, a[2].Position.Y, 1e-6)
	assert.Equal(t, float32(0), a[0].UV.X)
	assert.InDelta(t, 8.0/64, a[2].UV.X, 1e-6)
	assert.InDelta(t, 8.0/32, a[2].UV.Y, 1e-6)
	assert.Equal(t, color, a[1].Color)

	// pen at 9 + 4, B drawn one pixel lower
	b := geom.Vertices[4:8]
	assert.InDelta(t, 13.0/64*2-1, b[0].Position.X, 1e-6)
	assert.InDelta(t, 1.0/64*2-1, b[0].Position.Y, 1e-6)
}

func TestLayoutAppliesKerningAndScale(t *testing.T) {
	text := NewText(testFont())
	extent := metadata.Extent2D{Width: 100, Height: 100}

	geom := text.Layout("AB", 10, 20, 2, math.NewVec3(1, 1, 1), extent)
	require.Len(t, geom.Vertices, 8)
	// 10 + (9 - 2) * 2
	assert.InDelta(t, 24.0/100*2-1, geom.Vertices[4].Position.X, 1e-6)
	// 20 + 1 * 2
	assert.InDelta(t, 22.0/100*2-1, geom.Vertices[4].Position.Y, 1e-6)
	// 24 + 8 * 2
	assert.InDelta(t, 40.0/100*2-1, geom.Vertices[5].Position.X, 1e-6)
}

func TestLayoutNewlineAndEmpty(t *testing.T) {
	text := NewText(testFont())
	extent := metadata.Extent2D{Width: 100, Height: 100}

	geom := text.Layout("A\nA", 0, 0, 1, math.NewVec3(1, 1, 1), extent)
	require.Len(t, geom.Vertices, 8)
	assert.Equal(t, geom.Vertices[0].Position.X, geom.Vertices[4].Position.X)
	assert.InDelta(t, 10.0/100*2-1, geom.Vertices[4].Position.Y, 1e-6)

	assert.Zero(t, text.Layout("", 0, 0, 1, math.Vec3{}, extent).IndexCount())
	assert.Zero(t, text.Layout("A", 0, 0, 1, math.Vec3{}, metadata.Extent2D{}).IndexCount())
}

func TestAddPassSharesPresent(t *testing.T) {
	g := framegraph.New("overlay")
	present, err := g.AddColorAttachment(metadata.FormatB8G8R8A8Unorm, framegraph.WithClearColor(0, 0, 0, 1))
	require.NoError(t, err)
	require.NoError(t, g.SetPresentAttachment(present))

	scene, err := g.AddPass("scene")
	require.NoError(t, err)
	require.NoError(t, scene.AddColorAttachment(present))

	pass, err := AddPass(g, present)
	require.NoError(t, err)
	assert.Equal(t, PassName, pass.Name())
	assert.Equal(t, uint32(1), pass.Index())

	l, err := g.Compile(metadata.FormatB8G8R8A8Unorm)
	require.NoError(t, err)
	require.Len(t, l.Description.Subpasses, 2)
	slot, _ := l.Slot(present)
	require.Len(t, l.Description.Subpasses[1].Colors, 1)
	assert.Equal(t, slot, l.Description.Subpasses[1].Colors[0].Index)
	assert.Equal(t, 1, l.SlotCount())

	// the scene's output reaches the overlay through a dependency
	found := false
	for _, dep := range l.Description.Dependencies {
		if dep.Src == 0 && dep.Dst == 1 {
			found = true
		}
	}
	assert.True(t, found)
}
