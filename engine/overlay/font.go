package overlay

import (
	"fmt"
	_ "image/png"

	"github.com/fzipp/bmfont"
	"github.com/spaghettifunk/ember/engine/core"
)

// Glyph is one character cell of the atlas, in atlas pixels.
type Glyph struct {
	X, Y          int
	Width, Height int
	XOffset       int
	YOffset       int
	XAdvance      int
	Page          int
}

// Font is the layout description of a bitmap font. The atlas pages are
// referenced by file name and loaded by whoever owns the texture.
type Font struct {
	Face        string
	Size        int
	LineHeight  int
	Base        int
	AtlasWidth  int
	AtlasHeight int
	Pages       map[int]string

	glyphs  map[rune]Glyph
	kerning map[[2]rune]int
}

func NewFont(face string, size, lineHeight, base, atlasWidth, atlasHeight int) *Font {
	return &Font{
		Face:        face,
		Size:        size,
		LineHeight:  lineHeight,
		Base:        base,
		AtlasWidth:  atlasWidth,
		AtlasHeight: atlasHeight,
		Pages:       make(map[int]string),
		glyphs:      make(map[rune]Glyph),
		kerning:     make(map[[2]rune]int),
	}
}

// LoadFont reads a BMFont descriptor (.fnt) and its page sheets.
func LoadFont(path string) (*Font, error) {
	font, err := bmfont.Load(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load font %s: %w", path, err)
	}
	d := font.Descriptor
	if d.Common.ScaleW <= 0 || d.Common.ScaleH <= 0 {
		return nil, core.NewConfigError("overlay.LoadFont", core.ErrInvalidFormat, "%s: atlas size %dx%d", path, d.Common.ScaleW, d.Common.ScaleH)
	}

	f := NewFont(d.Info.Face, int(d.Info.Size), int(d.Common.LineHeight), int(d.Common.Base), int(d.Common.ScaleW), int(d.Common.ScaleH))
	for _, p := range d.Pages {
		f.Pages[int(p.ID)] = p.File
	}
	for _, g := range d.Chars {
		f.AddGlyph(rune(g.ID), Glyph{
			X:        int(g.X),
			Y:        int(g.Y),
			Width:    int(g.Width),
			Height:   int(g.Height),
			XOffset:  int(g.XOffset),
			YOffset:  int(g.YOffset),
			XAdvance: int(g.XAdvance),
			Page:     int(g.Page),
		})
	}
	for p, k := range d.Kerning {
		f.SetKerning(rune(p.First), rune(p.Second), int(k.Amount))
	}
	core.LogDebug("loaded font %q (%d glyphs, %d kerning pairs)", f.Face, len(f.glyphs), len(f.kerning))
	return f, nil
}

func (f *Font) AddGlyph(r rune, g Glyph) {
	f.glyphs[r] = g
}

func (f *Font) SetKerning(first, second rune, amount int) {
	f.kerning[[2]rune{first, second}] = amount
}

// Glyph falls back to '?' for characters the atlas does not carry.
func (f *Font) Glyph(r rune) (Glyph, bool) {
	if g, ok := f.glyphs[r]; ok {
		return g, true
	}
	g, ok := f.glyphs['?']
	return g, ok
}

func (f *Font) Kerning(first, second rune) int {
	return f.kerning[[2]rune{first, second}]
}

// Measure returns the pixel size of str at scale 1.
func (f *Font) Measure(str string) (int, int) {
	width, lineWidth, lines := 0, 0, 1
	prev := rune(-1)
	for _, r := range str {
		if r == '\n' {
			lines++
			lineWidth, prev = 0, -1
			continue
		}
		g, ok := f.Glyph(r)
		if !ok {
			continue
		}
		if prev >= 0 {
			lineWidth += f.Kerning(prev, r)
		}
		lineWidth += g.XAdvance
		if lineWidth > width {
			width = lineWidth
		}
		prev = r
	}
	return width, lines * f.LineHeight
}
