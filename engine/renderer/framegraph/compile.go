package framegraph

import (
	"golang.org/x/exp/slices"

	"github.com/spaghettifunk/ember/engine/core"
	"github.com/spaghettifunk/ember/engine/renderer/gpu"
	"github.com/spaghettifunk/ember/engine/renderer/metadata"
)

// slotKey is the physical identity attachments are deduplicated by.
type slotKey struct {
	kind   attachmentKind
	image  gpu.Image
	handle AttachmentHandle
}

type slot struct {
	key    slotKey
	source *attachment
	usage  metadata.ImageUsage
}

type usage struct {
	subpass uint32
	role    metadata.AttachmentRole
}

type slotRole struct {
	slot uint32
	role metadata.AttachmentRole
}

// Layout is a compiled graph: the renderpass description plus the mapping
// from logical handles to attachment slots.
type Layout struct {
	Description *metadata.RenderPassDescription
	ClearValues []metadata.ClearValue

	slots  []slot
	slotOf map[AttachmentHandle]uint32
}

// Slot returns the compiled attachment index of a logical handle.
func (l *Layout) Slot(h AttachmentHandle) (uint32, bool) {
	s, ok := l.slotOf[h]
	return s, ok
}

func (l *Layout) SlotCount() int { return len(l.slots) }

// Compile is a pure function of the graph. presentFormat is the swapchain
// format and may be FormatUndefined when no attachment is presented.
func (g *Graph) Compile(presentFormat metadata.Format) (*Layout, error) {
	if len(g.passes) == 0 {
		return nil, core.NewConfigError("Graph.Compile", core.ErrNoPasses, "graph %q", g.name)
	}
	if g.present != InvalidAttachment && !presentFormat.IsColor() {
		return nil, core.NewConfigError("Graph.Compile", core.ErrInvalidFormat, "graph %q presents to a %s swapchain", g.name, presentFormat)
	}

	l := &Layout{slotOf: map[AttachmentHandle]uint32{}}
	index := map[slotKey]uint32{}
	for i, a := range g.attachments {
		h := AttachmentHandle(i)
		key := slotKey{kind: a.kind}
		switch a.kind {
		case kindImported:
			key.image = a.image
		case kindOwned:
			key.handle = h
		}
		s, ok := index[key]
		if !ok {
			s = uint32(len(l.slots))
			index[key] = s
			l.slots = append(l.slots, slot{key: key, source: a})
		}
		l.slotOf[h] = s
	}

	desc := &metadata.RenderPassDescription{PresentIndex: -1}
	usages := make([][]usage, len(l.slots))

	for _, p := range g.passes {
		sp := metadata.SubpassDescription{Name: p.name}
		seen := map[slotRole]bool{}
		for _, u := range p.uses {
			s := l.slotOf[u.handle]
			key := slotRole{slot: s, role: u.role}
			if seen[key] {
				continue
			}
			seen[key] = true

			ref := metadata.AttachmentReference{Index: s, Layout: u.role.Layout()}
			switch u.role {
			case metadata.RoleColor:
				sp.Colors = append(sp.Colors, ref)
				l.slots[s].usage |= metadata.ImageUsageColorAttachment
			case metadata.RoleDepthStencil:
				sp.DepthStencil = &ref
				l.slots[s].usage |= metadata.ImageUsageDepthStencilAttachment
			case metadata.RoleInput:
				sp.Inputs = append(sp.Inputs, ref)
				l.slots[s].usage |= metadata.ImageUsageInputAttachment
			}
			usages[s] = append(usages[s], usage{subpass: p.index, role: u.role})
		}
		desc.Subpasses = append(desc.Subpasses, sp)
	}

	if err := checkCycles(g, usages); err != nil {
		return nil, err
	}

	for s := range desc.Subpasses {
		desc.Subpasses[s].Preserve = preserveList(uint32(s), usages)
	}

	for i := range l.slots {
		a := l.slots[i].source
		ad := metadata.AttachmentDescription{
			Index:          uint32(i),
			Format:         a.format,
			Samples:        1,
			LoadOp:         a.loadOp,
			StoreOp:        a.storeOp,
			StencilLoadOp:  metadata.LoadOpDontCare,
			StencilStoreOp: metadata.StoreOpDontCare,
			InitialLayout:  metadata.ImageLayoutUndefined,
			FinalLayout:    a.finalLayout,
		}
		if a.format.HasStencil() {
			ad.StencilLoadOp = a.loadOp
			ad.StencilStoreOp = a.storeOp
		}
		if a.sampled {
			l.slots[i].usage |= metadata.ImageUsageSampled
		}

		switch {
		case l.slots[i].key.kind == kindSwapchain:
			ad.Format = presentFormat
			ad.FinalLayout = metadata.ImageLayoutPresentSrc
			ad.Presentable = true
			desc.PresentIndex = i
		case ad.FinalLayout != metadata.ImageLayoutUndefined:
		case a.sampled:
			ad.FinalLayout = metadata.ImageLayoutShaderReadOnly
		case a.depth:
			ad.FinalLayout = metadata.ImageLayoutDepthStencilAttachment
		default:
			ad.FinalLayout = metadata.ImageLayoutTransferSrc
			l.slots[i].usage |= metadata.ImageUsageTransferSrc
		}
		if a.loadOp == metadata.LoadOpLoad {
			ad.InitialLayout = ad.FinalLayout
		}
		desc.Attachments = append(desc.Attachments, ad)

		clear := a.clear
		if a.depth && !a.clearSet {
			clear = metadata.ClearDepthStencil(1, 0)
		}
		l.ClearValues = append(l.ClearValues, clear)
	}

	desc.Dependencies = inferDependencies(desc, usages)
	l.Description = desc
	return l, nil
}

// preserveList holds every slot the subpass does not touch that another
// subpass does, in ascending order.
func preserveList(subpass uint32, usages [][]usage) []uint32 {
	var out []uint32
	for s, list := range usages {
		touched, other := false, false
		for _, u := range list {
			if u.subpass == subpass {
				touched = true
			} else {
				other = true
			}
		}
		if !touched && other {
			out = append(out, uint32(s))
		}
	}
	return out
}

func srcScope(r metadata.AttachmentRole) (metadata.PipelineStage, metadata.Access) {
	switch r {
	case metadata.RoleDepthStencil:
		return metadata.StageLateFragmentTests, metadata.AccessDepthStencilWrite
	case metadata.RoleInput:
		return metadata.StageFragmentShader, metadata.AccessInputAttachmentRead
	}
	return metadata.StageColorAttachmentOutput, metadata.AccessColorAttachmentWrite
}

func dstScope(r metadata.AttachmentRole) (metadata.PipelineStage, metadata.Access) {
	switch r {
	case metadata.RoleDepthStencil:
		return metadata.StageEarlyFragmentTests | metadata.StageLateFragmentTests,
			metadata.AccessDepthStencilRead | metadata.AccessDepthStencilWrite
	case metadata.RoleInput:
		return metadata.StageFragmentShader, metadata.AccessInputAttachmentRead
	}
	return metadata.StageColorAttachmentOutput, metadata.AccessColorAttachmentRead | metadata.AccessColorAttachmentWrite
}

type edgeKey struct {
	src, dst uint32
}

// inferDependencies emits one edge per consecutive pair of usages of each
// slot, plus one from every writer of the slot to each later reader,
// and merges edges between the same two subpasses. The presentable
// slot also gets an edge from outside the renderpass to its first user, so
// the write waits for the acquire, and slots left for transfer get an edge
// from their last user to outside the renderpass.
func inferDependencies(desc *metadata.RenderPassDescription, usages [][]usage) []metadata.SubpassDependency {
	merged := map[edgeKey]*metadata.SubpassDependency{}
	var order []edgeKey
	add := func(d metadata.SubpassDependency) {
		key := edgeKey{d.Src, d.Dst}
		if e, ok := merged[key]; ok {
			e.SrcStages |= d.SrcStages
			e.DstStages |= d.DstStages
			e.SrcAccess |= d.SrcAccess
			e.DstAccess |= d.DstAccess
			return
		}
		merged[key] = &d
		order = append(order, key)
	}

	for s, list := range usages {
		if len(list) == 0 {
			continue
		}
		if desc.Attachments[s].Presentable {
			first := list[0]
			stage, access := dstScope(first.role)
			add(metadata.SubpassDependency{
				Src:       metadata.SubpassExternal,
				Dst:       first.subpass,
				SrcStages: metadata.StageColorAttachmentOutput,
				DstStages: stage,
				DstAccess: access,
			})
		}
		edge := func(src, dst usage) {
			if src.subpass == dst.subpass {
				return
			}
			srcStage, srcAccess := srcScope(src.role)
			dstStage, dstAccess := dstScope(dst.role)
			add(metadata.SubpassDependency{
				Src:       src.subpass,
				Dst:       dst.subpass,
				SrcStages: srcStage,
				DstStages: dstStage,
				SrcAccess: srcAccess,
				DstAccess: dstAccess,
				ByRegion:  true,
			})
		}
		var writers []usage
		for i, u := range list {
			if i+1 < len(list) {
				edge(u, list[i+1])
			}
			if u.role.Writes() {
				writers = append(writers, u)
				continue
			}
			// a reader further down the chain still waits on every write
			for _, w := range writers {
				edge(w, u)
			}
		}
		if desc.Attachments[s].FinalLayout == metadata.ImageLayoutTransferSrc {
			last := list[len(list)-1]
			stage, access := srcScope(last.role)
			add(metadata.SubpassDependency{
				Src:       last.subpass,
				Dst:       metadata.SubpassExternal,
				SrcStages: stage,
				DstStages: metadata.StageTransfer,
				SrcAccess: access,
				DstAccess: metadata.AccessTransferRead,
			})
		}
	}

	out := make([]metadata.SubpassDependency, 0, len(order))
	for _, k := range order {
		out = append(out, *merged[k])
	}
	// External edges sort first, then by source and destination subpass.
	slices.SortStableFunc(out, func(a, b metadata.SubpassDependency) int {
		ra, rb := rank(a.Src), rank(b.Src)
		if ra != rb {
			return ra - rb
		}
		return rank(a.Dst) - rank(b.Dst)
	})
	return out
}

func rank(subpass uint32) int {
	if subpass == metadata.SubpassExternal {
		return -1
	}
	return int(subpass)
}

// checkCycles rejects graphs whose data flow (writer pass to reader pass)
// loops, including a pass reading what it writes.
func checkCycles(g *Graph, usages [][]usage) error {
	n := len(g.passes)
	edges := make([][]int, n)
	for _, list := range usages {
		for _, w := range list {
			if !w.role.Writes() {
				continue
			}
			for _, r := range list {
				if r.role != metadata.RoleInput {
					continue
				}
				if r.subpass == w.subpass {
					return core.NewConfigError("Graph.Compile", core.ErrCyclicAttachmentUsage,
						"pass %q reads an attachment it writes", g.passes[w.subpass].name)
				}
				edges[w.subpass] = append(edges[w.subpass], int(r.subpass))
			}
		}
	}

	const (
		white = iota
		grey
		black
	)
	color := make([]int, n)
	var visit func(v int) error
	visit = func(v int) error {
		color[v] = grey
		for _, next := range edges[v] {
			switch color[next] {
			case grey:
				return core.NewConfigError("Graph.Compile", core.ErrCyclicAttachmentUsage,
					"passes %q and %q depend on each other", g.passes[v].name, g.passes[next].name)
			case white:
				if err := visit(next); err != nil {
					return err
				}
			}
		}
		color[v] = black
		return nil
	}
	for v := 0; v < n; v++ {
		if color[v] == white {
			if err := visit(v); err != nil {
				return err
			}
		}
	}
	return nil
}
