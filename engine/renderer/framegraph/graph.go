// Package framegraph composes a renderpass from an ordered list of passes
// that declare the attachments they write and read.
package framegraph

import (
	"github.com/spaghettifunk/ember/engine/core"
	"github.com/spaghettifunk/ember/engine/renderer/gpu"
	"github.com/spaghettifunk/ember/engine/renderer/metadata"
)

// AttachmentHandle names a logical attachment of one Graph.
type AttachmentHandle int

const InvalidAttachment AttachmentHandle = -1

type attachmentKind int

const (
	kindOwned attachmentKind = iota
	kindSwapchain
	kindImported
)

type attachment struct {
	format metadata.Format
	depth  bool
	kind   attachmentKind
	image  gpu.Image

	loadOp      metadata.LoadOp
	storeOp     metadata.StoreOp
	finalLayout metadata.ImageLayout
	clear       metadata.ClearValue
	clearSet    bool
	sampled     bool
}

type AttachmentOption func(*attachment)

func WithLoadOp(op metadata.LoadOp) AttachmentOption {
	return func(a *attachment) { a.loadOp = op }
}

func WithStoreOp(op metadata.StoreOp) AttachmentOption {
	return func(a *attachment) { a.storeOp = op }
}

// WithFinalLayout overrides the layout the attachment ends the pass in.
func WithFinalLayout(l metadata.ImageLayout) AttachmentOption {
	return func(a *attachment) { a.finalLayout = l }
}

func WithClearColor(r, g, b, alpha float32) AttachmentOption {
	return func(a *attachment) {
		a.clear = metadata.ClearColor(r, g, b, alpha)
		a.clearSet = true
	}
}

func WithClearDepth(depth float32, stencil uint32) AttachmentOption {
	return func(a *attachment) {
		a.clear = metadata.ClearDepthStencil(depth, stencil)
		a.clearSet = true
	}
}

// WithSampled keeps the attachment readable by shaders after the pass.
func WithSampled() AttachmentOption {
	return func(a *attachment) { a.sampled = true }
}

type use struct {
	handle AttachmentHandle
	role   metadata.AttachmentRole
}

// Pass is one subpass. Its index is its declaration order.
type Pass struct {
	graph *Graph
	name  string
	index uint32
	uses  []use
	depth bool
}

func (p *Pass) Name() string  { return p.name }
func (p *Pass) Index() uint32 { return p.index }

// AddColorAttachment declares that the pass writes h as a color target.
func (p *Pass) AddColorAttachment(h AttachmentHandle) error {
	a, err := p.graph.checkUse("Pass.AddColorAttachment", h)
	if err != nil {
		return err
	}
	if a.depth {
		return core.NewConfigError("Pass.AddColorAttachment", core.ErrInvalidFormat, "pass %q: attachment %d is %s", p.name, h, a.format)
	}
	p.uses = append(p.uses, use{h, metadata.RoleColor})
	return nil
}

// AddDepthStencilAttachment declares the single depth target of the pass.
func (p *Pass) AddDepthStencilAttachment(h AttachmentHandle) error {
	a, err := p.graph.checkUse("Pass.AddDepthStencilAttachment", h)
	if err != nil {
		return err
	}
	if !a.depth {
		return core.NewConfigError("Pass.AddDepthStencilAttachment", core.ErrInvalidFormat, "pass %q: attachment %d is %s", p.name, h, a.format)
	}
	if p.depth {
		return core.NewConfigError("Pass.AddDepthStencilAttachment", core.ErrInvalidHandle, "pass %q already has a depth attachment", p.name)
	}
	p.depth = true
	p.uses = append(p.uses, use{h, metadata.RoleDepthStencil})
	return nil
}

// AddInputAttachment declares that the pass reads h written earlier.
func (p *Pass) AddInputAttachment(h AttachmentHandle) error {
	if _, err := p.graph.checkUse("Pass.AddInputAttachment", h); err != nil {
		return err
	}
	p.uses = append(p.uses, use{h, metadata.RoleInput})
	return nil
}

// Graph collects attachments and passes until it is compiled into a
// render target. After that it is read-only.
type Graph struct {
	name        string
	attachments []*attachment
	passes      []*Pass
	present     AttachmentHandle
	compiled    bool
}

func New(name string) *Graph {
	return &Graph{name: name, present: InvalidAttachment}
}

func (g *Graph) Name() string { return g.name }

func (g *Graph) add(op string, a *attachment, opts []AttachmentOption) (AttachmentHandle, error) {
	if g.compiled {
		return InvalidAttachment, core.NewConfigError(op, core.ErrGraphCompiled, "graph %q", g.name)
	}
	for _, o := range opts {
		o(a)
	}
	g.attachments = append(g.attachments, a)
	return AttachmentHandle(len(g.attachments) - 1), nil
}

func defaultAttachment(format metadata.Format, depth bool) *attachment {
	a := &attachment{format: format, depth: depth, finalLayout: metadata.ImageLayoutUndefined}
	if depth {
		a.clear = metadata.ClearDepthStencil(1, 0)
	}
	return a
}

func (g *Graph) AddColorAttachment(format metadata.Format, opts ...AttachmentOption) (AttachmentHandle, error) {
	if !format.IsColor() {
		return InvalidAttachment, core.NewConfigError("Graph.AddColorAttachment", core.ErrInvalidFormat, "%s is not a color format", format)
	}
	return g.add("Graph.AddColorAttachment", defaultAttachment(format, false), opts)
}

func (g *Graph) AddDepthAttachment(format metadata.Format, opts ...AttachmentOption) (AttachmentHandle, error) {
	if !format.IsDepth() {
		return InvalidAttachment, core.NewConfigError("Graph.AddDepthAttachment", core.ErrInvalidFormat, "%s is not a depth format", format)
	}
	return g.add("Graph.AddDepthAttachment", defaultAttachment(format, true), opts)
}

// ImportAttachment registers an image owned elsewhere. Importing the same
// image twice returns the same handle.
func (g *Graph) ImportAttachment(img gpu.Image, opts ...AttachmentOption) (AttachmentHandle, error) {
	if img == nil {
		return InvalidAttachment, core.NewConfigError("Graph.ImportAttachment", core.ErrInvalidHandle, "nil image")
	}
	for i, a := range g.attachments {
		if a.kind == kindImported && a.image == img {
			return AttachmentHandle(i), nil
		}
	}
	format := img.Format()
	if !format.IsColor() && !format.IsDepth() {
		return InvalidAttachment, core.NewConfigError("Graph.ImportAttachment", core.ErrInvalidFormat, "%s cannot be an attachment", format)
	}
	a := defaultAttachment(format, format.IsDepth())
	a.kind = kindImported
	a.image = img
	return g.add("Graph.ImportAttachment", a, opts)
}

// SetPresentAttachment backs h with the swapchain image. Its format is
// resolved from the swapchain at compile time. Marking several handles
// present makes them share the one presentable slot.
func (g *Graph) SetPresentAttachment(h AttachmentHandle) error {
	if g.compiled {
		return core.NewConfigError("Graph.SetPresentAttachment", core.ErrGraphCompiled, "graph %q", g.name)
	}
	a, err := g.attachment("Graph.SetPresentAttachment", h)
	if err != nil {
		return err
	}
	if a.depth || a.kind == kindImported {
		return core.NewConfigError("Graph.SetPresentAttachment", core.ErrInvalidHandle, "attachment %d cannot be presented", h)
	}
	a.kind = kindSwapchain
	if g.present == InvalidAttachment {
		g.present = h
	}
	return nil
}

// PresentAttachment returns the first handle marked present.
func (g *Graph) PresentAttachment() AttachmentHandle {
	return g.present
}

// AddPass appends a pass at the next subpass index.
func (g *Graph) AddPass(name string) (*Pass, error) {
	if g.compiled {
		return nil, core.NewConfigError("Graph.AddPass", core.ErrGraphCompiled, "graph %q", g.name)
	}
	p := &Pass{graph: g, name: name, index: uint32(len(g.passes))}
	g.passes = append(g.passes, p)
	return p, nil
}

func (g *Graph) Passes() []*Pass { return g.passes }

func (g *Graph) attachment(op string, h AttachmentHandle) (*attachment, error) {
	if h < 0 || int(h) >= len(g.attachments) {
		return nil, core.NewConfigError(op, core.ErrInvalidHandle, "attachment %d in graph %q", h, g.name)
	}
	return g.attachments[h], nil
}

func (g *Graph) checkUse(op string, h AttachmentHandle) (*attachment, error) {
	if g.compiled {
		return nil, core.NewConfigError(op, core.ErrGraphCompiled, "graph %q", g.name)
	}
	return g.attachment(op, h)
}
