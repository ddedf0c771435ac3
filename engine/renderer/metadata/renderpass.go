package metadata

type Extent2D struct {
	Width, Height uint32
}

type Offset2D struct {
	X, Y int32
}

type Rect2D struct {
	Offset Offset2D
	Extent Extent2D
}

// FullRect covers the whole extent from the origin.
func FullRect(extent Extent2D) Rect2D {
	return Rect2D{Extent: extent}
}

type Viewport struct {
	X, Y, Width, Height float32
	MinDepth, MaxDepth  float32
}

// ViewportFor maps a render area to a viewport with the full depth range.
func ViewportFor(area Rect2D) Viewport {
	return Viewport{
		X:        float32(area.Offset.X),
		Y:        float32(area.Offset.Y),
		Width:    float32(area.Extent.Width),
		Height:   float32(area.Extent.Height),
		MinDepth: 0,
		MaxDepth: 1,
	}
}

// ClearValue holds either a color or a depth/stencil clear.
type ClearValue struct {
	Color   [4]float32
	Depth   float32
	Stencil uint32
	IsDepth bool
}

func ClearColor(r, g, b, a float32) ClearValue {
	return ClearValue{Color: [4]float32{r, g, b, a}}
}

func ClearDepthStencil(depth float32, stencil uint32) ClearValue {
	return ClearValue{Depth: depth, Stencil: stencil, IsDepth: true}
}

/** @brief One slot of a compiled renderpass. */
type AttachmentDescription struct {
	/** @brief Position in RenderPassDescription.Attachments. */
	Index   uint32
	Format  Format
	Samples uint32
	LoadOp  LoadOp
	StoreOp StoreOp
	/** @brief Stencil ops follow the depth ops for formats with stencil. */
	StencilLoadOp  LoadOp
	StencilStoreOp StoreOp
	InitialLayout  ImageLayout
	FinalLayout    ImageLayout
	/** @brief True for the slot backed by the swapchain image. */
	Presentable bool
}

type AttachmentReference struct {
	Index  uint32
	Layout ImageLayout
}

type SubpassDescription struct {
	Name         string
	Inputs       []AttachmentReference
	Colors       []AttachmentReference
	DepthStencil *AttachmentReference
	Preserve     []uint32
}

// References returns every attachment index the subpass touches in any role.
func (s *SubpassDescription) References() []uint32 {
	out := make([]uint32, 0, len(s.Inputs)+len(s.Colors)+1)
	for _, r := range s.Inputs {
		out = append(out, r.Index)
	}
	for _, r := range s.Colors {
		out = append(out, r.Index)
	}
	if s.DepthStencil != nil {
		out = append(out, s.DepthStencil.Index)
	}
	return out
}

// SubpassExternal marks the implicit subpass outside the renderpass.
const SubpassExternal = ^uint32(0)

type SubpassDependency struct {
	Src, Dst  uint32
	SrcStages PipelineStage
	DstStages PipelineStage
	SrcAccess Access
	DstAccess Access
	ByRegion  bool
}

/** @brief The immutable output of frame graph compilation. */
type RenderPassDescription struct {
	Attachments  []AttachmentDescription
	Subpasses    []SubpassDescription
	Dependencies []SubpassDependency
	/** @brief Index of the presentable slot, or -1 when offscreen. */
	PresentIndex int
}

// Dependency returns the merged edge between two subpasses, if any.
func (d *RenderPassDescription) Dependency(src, dst uint32) (SubpassDependency, bool) {
	for _, dep := range d.Dependencies {
		if dep.Src == src && dep.Dst == dst {
			return dep, true
		}
	}
	return SubpassDependency{}, false
}
