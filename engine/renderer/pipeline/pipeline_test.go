package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/ember/engine/core"
	"github.com/spaghettifunk/ember/engine/renderer/gpu"
	"github.com/spaghettifunk/ember/engine/renderer/metadata"
	"github.com/spaghettifunk/ember/engine/renderer/soft"
)

func vertexReflection() metadata.ShaderReflection {
	return metadata.ShaderReflection{
		Stage: metadata.ShaderStageVertex,
		Bindings: []metadata.ResourceBinding{
			{Name: "camera", Set: 0, Binding: 0, Kind: metadata.DescriptorUniformBuffer, Size: 128},
		},
		PushConstants: []metadata.PushConstantRange{{Name: "variant", Offset: 64, Size: 4}},
		Inputs: []metadata.VertexAttribute{
			{Name: "in_color", Location: 1, Format: metadata.FormatR32G32B32Sfloat, Offset: 12},
			{Name: "in_position", Location: 0, Format: metadata.FormatR32G32B32Sfloat, Offset: 0},
		},
	}
}

func fragmentReflection() metadata.ShaderReflection {
	return metadata.ShaderReflection{
		Stage: metadata.ShaderStageFragment,
		Bindings: []metadata.ResourceBinding{
			{Name: "camera", Set: 0, Binding: 0, Kind: metadata.DescriptorUniformBuffer, Size: 128},
			{Name: "albedo", Set: 1, Binding: 2, Kind: metadata.DescriptorCombinedImageSampler},
		},
		PushConstants: []metadata.PushConstantRange{{Name: "variant", Offset: 64, Size: 4}},
	}
}

func TestBuildLayoutMergesStages(t *testing.T) {
	l, err := BuildLayout([]metadata.ShaderReflection{vertexReflection(), fragmentReflection()})
	require.NoError(t, err)

	require.Len(t, l.Sets, 2)
	assert.Equal(t, uint32(0), l.Sets[0].Set)
	assert.Equal(t, metadata.ShaderStageVertex|metadata.ShaderStageFragment, l.Sets[0].Bindings[0].Stages)
	assert.Equal(t, uint32(1), l.Sets[1].Set)
	assert.Equal(t, uint32(1), l.Sets[1].Bindings[0].Count)

	require.Len(t, l.PushConstants, 1)
	assert.Equal(t, metadata.ShaderStageVertex|metadata.ShaderStageFragment, l.PushConstants[0].Stages)

	require.Len(t, l.Inputs, 2)
	assert.Equal(t, uint32(0), l.Inputs[0].Location)
	assert.False(t, l.Instanced())

	b, err := l.Uniform("albedo")
	require.NoError(t, err)
	assert.Equal(t, uint32(2), b.Binding)
}

func TestBindMissIsRecoverable(t *testing.T) {
	l, err := BuildLayout([]metadata.ShaderReflection{vertexReflection()})
	require.NoError(t, err)

	_, err = l.Uniform("shadow_map")
	require.Error(t, err)
	assert.True(t, IsBindMiss(err))
	var be *BindError
	require.ErrorAs(t, err, &be)
	assert.Equal(t, "shadow_map", be.Name)

	_, err = l.PushConstant("time")
	assert.True(t, IsBindMiss(err))
	assert.False(t, IsBindMiss(core.ErrDeviceLost))
}

func TestBuildLayoutRejectsConflicts(t *testing.T) {
	frag := fragmentReflection()
	frag.Bindings[0].Kind = metadata.DescriptorStorageBuffer
	_, err := BuildLayout([]metadata.ShaderReflection{vertexReflection(), frag})
	var cfg *core.ConfigError
	require.ErrorAs(t, err, &cfg)
	assert.ErrorIs(t, err, core.ErrLayoutMismatch)

	big := vertexReflection()
	big.PushConstants = []metadata.PushConstantRange{{Name: "huge", Offset: 64, Size: 128}}
	_, err = BuildLayout([]metadata.ShaderReflection{big})
	assert.ErrorIs(t, err, core.ErrLayoutMismatch)

	odd := vertexReflection()
	odd.PushConstants = []metadata.PushConstantRange{{Name: "odd", Offset: 2, Size: 4}}
	_, err = BuildLayout([]metadata.ShaderReflection{odd})
	assert.ErrorIs(t, err, core.ErrLayoutMismatch)
}

func TestValidateVertexInputs(t *testing.T) {
	assert.NoError(t, ValidateVertexInputs([]metadata.VertexAttribute{
		{Location: 2, Format: metadata.FormatR32G32Sfloat, Offset: 24},
		{Location: 5, Format: metadata.FormatR32G32B32Sfloat, Offset: 56},
		{Location: 6, Format: metadata.FormatR32G32B32A32Sfloat, Offset: 0},
		{Location: 9, Format: metadata.FormatR32G32B32A32Sfloat, Offset: 48},
	}))

	cases := map[string][]metadata.VertexAttribute{
		"wrong offset":   {{Location: 1, Format: metadata.FormatR32G32B32Sfloat, Offset: 16}},
		"wrong format":   {{Location: 2, Format: metadata.FormatR32G32B32Sfloat, Offset: 24}},
		"duplicate":      {{Location: 0, Format: metadata.FormatR32G32B32Sfloat}, {Location: 0, Format: metadata.FormatR32G32B32Sfloat}},
		"unknown":        {{Location: 12, Format: metadata.FormatR32G32B32A32Sfloat}},
		"instance shape": {{Location: 7, Format: metadata.FormatR32G32B32A32Sfloat, Offset: 0}},
	}
	for name, inputs := range cases {
		assert.ErrorIs(t, ValidateVertexInputs(inputs), core.ErrLayoutMismatch, name)
	}
}

func testRenderPass(t *testing.T, dev gpu.Device) gpu.RenderPass {
	t.Helper()
	rp, err := dev.CreateRenderPass(&metadata.RenderPassDescription{
		Attachments: []metadata.AttachmentDescription{{Format: metadata.FormatR8G8B8A8Unorm}},
		Subpasses: []metadata.SubpassDescription{{
			Colors: []metadata.AttachmentReference{{Index: 0, Layout: metadata.ImageLayoutColorAttachment}},
		}},
		PresentIndex: -1,
	})
	require.NoError(t, err)
	return rp
}

func testDesc(rp gpu.RenderPass, code byte) Desc {
	return Desc{
		Name: "basic",
		Shaders: []metadata.Shader{
			{Path: "basic.vert.spv", Code: []byte{code, 0, 0, 0}, Reflection: vertexReflection()},
			{Path: "basic.frag.spv", Code: []byte{code, 1, 0, 0}, Reflection: fragmentReflection()},
		},
		RenderPass: rp,
		Instanced:  true,
	}
}

func TestCreateFromReflection(t *testing.T) {
	dev := soft.New(soft.Options{})
	p, err := Create(dev, testDesc(testRenderPass(t, dev), 1))
	require.NoError(t, err)

	d := p.Handle().Desc()
	require.Len(t, d.VertexBindings, 2)
	assert.Equal(t, uint32(68), d.VertexBindings[0].Stride)
	assert.True(t, d.VertexBindings[1].PerInstance)
	assert.Len(t, d.VertexAttributes, 2)
	assert.Len(t, d.DescriptorSets, 2)
	assert.Equal(t, uint32(0), p.Subpass())

	bad := testDesc(p.Desc().RenderPass, 1)
	bad.Subpass = 3
	_, err = Create(dev, bad)
	assert.ErrorIs(t, err, core.ErrInvalidHandle)
}

func TestCacheCountsAndEvicts(t *testing.T) {
	dev := soft.New(soft.Options{})
	rp := testRenderPass(t, dev)
	c := NewCache(dev, 2, 2)

	a1, err := c.Acquire(testDesc(rp, 1))
	require.NoError(t, err)
	a2, err := c.Acquire(testDesc(rp, 1))
	require.NoError(t, err)
	assert.Same(t, a1, a2)
	assert.Equal(t, uint64(2), c.Uses(testDesc(rp, 1)))

	b, err := c.Acquire(testDesc(rp, 2))
	require.NoError(t, err)
	assert.NotSame(t, a1, b)
	assert.Equal(t, 2, c.Len())

	// Keep b alive, let a go idle.
	for i := 0; i < 3; i++ {
		c.Advance()
		_, err = c.Acquire(testDesc(rp, 2))
		require.NoError(t, err)
	}
	assert.Equal(t, 1, c.Len())
	assert.NotNil(t, a1.Handle(), "destruction waits for frames in flight")

	c.Advance()
	c.Advance()
	assert.Nil(t, a1.Handle())
	assert.NotNil(t, b.Handle())
}

func TestCacheInvalidateShader(t *testing.T) {
	dev := soft.New(soft.Options{})
	rp := testRenderPass(t, dev)
	c := NewCache(dev, 100, 1)

	p, err := c.Acquire(testDesc(rp, 1))
	require.NoError(t, err)
	assert.Equal(t, 1, c.InvalidateShader("basic.frag.spv"))
	assert.Equal(t, 0, c.InvalidateShader("other.frag.spv"))
	assert.Equal(t, 0, c.Len())

	c.Advance()
	assert.Nil(t, p.Handle())

	c.Destroy()
}
