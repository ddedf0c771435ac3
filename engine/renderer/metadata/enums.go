package metadata

import (
	"fmt"
	"strings"
)

type ImageLayout uint32

const (
	ImageLayoutUndefined ImageLayout = iota
	ImageLayoutGeneral
	ImageLayoutColorAttachment
	ImageLayoutDepthStencilAttachment
	ImageLayoutDepthStencilReadOnly
	ImageLayoutShaderReadOnly
	ImageLayoutTransferSrc
	ImageLayoutTransferDst
	ImageLayoutPresentSrc
)

type LoadOp uint32

const (
	LoadOpClear LoadOp = iota
	LoadOpLoad
	LoadOpDontCare
)

type StoreOp uint32

const (
	StoreOpStore StoreOp = iota
	StoreOpDontCare
)

// AttachmentRole is how a pass uses an attachment.
type AttachmentRole uint32

const (
	RoleColor AttachmentRole = iota
	RoleDepthStencil
	RoleInput
)

func (r AttachmentRole) String() string {
	switch r {
	case RoleColor:
		return "color"
	case RoleDepthStencil:
		return "depth-stencil"
	case RoleInput:
		return "input"
	}
	return fmt.Sprintf("role(%d)", uint32(r))
}

// Writes reports whether the role produces attachment contents.
func (r AttachmentRole) Writes() bool {
	return r == RoleColor || r == RoleDepthStencil
}

// Layout is the image layout an attachment takes while used in this role.
func (r AttachmentRole) Layout() ImageLayout {
	switch r {
	case RoleDepthStencil:
		return ImageLayoutDepthStencilAttachment
	case RoleInput:
		return ImageLayoutShaderReadOnly
	}
	return ImageLayoutColorAttachment
}

type PipelineStage uint32

const (
	StageTopOfPipe PipelineStage = 1 << iota
	StageVertexInput
	StageVertexShader
	StageEarlyFragmentTests
	StageFragmentShader
	StageLateFragmentTests
	StageColorAttachmentOutput
	StageTransfer
	StageBottomOfPipe
)

type Access uint32

const (
	AccessIndexRead Access = 1 << iota
	AccessVertexAttributeRead
	AccessUniformRead
	AccessInputAttachmentRead
	AccessShaderRead
	AccessColorAttachmentRead
	AccessColorAttachmentWrite
	AccessDepthStencilRead
	AccessDepthStencilWrite
	AccessTransferRead
	AccessTransferWrite
	AccessMemoryRead
)

// ShaderStage is a bitmask so merged bindings can carry several stages.
type ShaderStage uint32

const (
	ShaderStageVertex ShaderStage = 1 << iota
	ShaderStageFragment
	ShaderStageCompute
)

func (s ShaderStage) String() string {
	var parts []string
	if s&ShaderStageVertex != 0 {
		parts = append(parts, "vertex")
	}
	if s&ShaderStageFragment != 0 {
		parts = append(parts, "fragment")
	}
	if s&ShaderStageCompute != 0 {
		parts = append(parts, "compute")
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, "|")
}

func (s ShaderStage) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *ShaderStage) UnmarshalText(text []byte) error {
	var out ShaderStage
	for _, part := range strings.Split(string(text), "|") {
		switch strings.ToLower(strings.TrimSpace(part)) {
		case "vertex", "vert":
			out |= ShaderStageVertex
		case "fragment", "frag":
			out |= ShaderStageFragment
		case "compute", "comp":
			out |= ShaderStageCompute
		default:
			return fmt.Errorf("unknown shader stage %q", part)
		}
	}
	*s = out
	return nil
}

type DescriptorKind uint32

const (
	DescriptorUniformBuffer DescriptorKind = iota
	DescriptorStorageBuffer
	DescriptorCombinedImageSampler
	DescriptorSampledImage
	DescriptorInputAttachment
)

var descriptorNames = map[DescriptorKind]string{
	DescriptorUniformBuffer:        "uniform_buffer",
	DescriptorStorageBuffer:        "storage_buffer",
	DescriptorCombinedImageSampler: "combined_image_sampler",
	DescriptorSampledImage:         "sampled_image",
	DescriptorInputAttachment:      "input_attachment",
}

func (k DescriptorKind) String() string {
	if name, ok := descriptorNames[k]; ok {
		return name
	}
	return fmt.Sprintf("descriptor(%d)", uint32(k))
}

func (k DescriptorKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

func (k *DescriptorKind) UnmarshalText(text []byte) error {
	s := strings.ToLower(strings.TrimSpace(string(text)))
	for kind, name := range descriptorNames {
		if name == s {
			*k = kind
			return nil
		}
	}
	return fmt.Errorf("unknown descriptor kind %q", s)
}

type BufferUsage uint32

const (
	BufferUsageTransferSrc BufferUsage = 1 << iota
	BufferUsageTransferDst
	BufferUsageUniform
	BufferUsageStorage
	BufferUsageIndex
	BufferUsageVertex
)

type ImageUsage uint32

const (
	ImageUsageColorAttachment ImageUsage = 1 << iota
	ImageUsageDepthStencilAttachment
	ImageUsageInputAttachment
	ImageUsageSampled
	ImageUsageTransferSrc
	ImageUsageTransferDst
)

type MemoryProperty uint32

const (
	MemoryDeviceLocal MemoryProperty = 1 << iota
	MemoryHostVisible
	MemoryHostCoherent
)

type CullMode uint32

const (
	CullNone CullMode = iota
	CullBack
	CullFront
)

type IndexType uint32

const (
	IndexTypeUint32 IndexType = iota
	IndexTypeUint16
)
