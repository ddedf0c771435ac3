package metadata

import (
	"testing"

	"github.com/pelletier/go-toml/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/ember/engine/math"
)

func TestFormatClasses(t *testing.T) {
	assert.True(t, FormatB8G8R8A8Srgb.IsColor())
	assert.False(t, FormatB8G8R8A8Srgb.IsDepth())
	assert.True(t, FormatD32Sfloat.IsDepth())
	assert.False(t, FormatD32Sfloat.HasStencil())
	assert.True(t, FormatD24UnormS8Uint.HasStencil())
	assert.False(t, FormatR32G32B32Sfloat.IsColor())
	assert.False(t, FormatUndefined.IsColor())
	assert.Equal(t, uint32(16), FormatR32G32B32A32Sfloat.BytesPerPixel())
}

func TestFormatText(t *testing.T) {
	f, err := ParseFormat("R32G32B32_SFLOAT")
	require.NoError(t, err)
	assert.Equal(t, FormatR32G32B32Sfloat, f)

	_, err = ParseFormat("r5g6b5")
	assert.Error(t, err)
}

func TestReflectionDecodesFromTOML(t *testing.T) {
	doc := `
stage = "vertex"
entry_point = "main"

[[bindings]]
name = "camera"
set = 0
binding = 0
kind = "uniform_buffer"
size = 128
count = 1

[[push_constants]]
name = "variant"
offset = 0
size = 4

[[inputs]]
name = "position"
location = 0
format = "r32g32b32_sfloat"
offset = 0
`
	var r ShaderReflection
	require.NoError(t, toml.Unmarshal([]byte(doc), &r))
	assert.Equal(t, ShaderStageVertex, r.Stage)
	require.Len(t, r.Bindings, 1)
	assert.Equal(t, DescriptorUniformBuffer, r.Bindings[0].Kind)
	assert.Equal(t, uint64(128), r.Bindings[0].Size)
	require.Len(t, r.Inputs, 1)
	assert.Equal(t, FormatR32G32B32Sfloat, r.Inputs[0].Format)
	assert.Equal(t, "variant", r.PushConstants[0].Name)
}

func TestGeometryKeyIsContentAddressed(t *testing.T) {
	a := Triangle(math.NewVec3(1, 0, 0))
	b := Triangle(math.NewVec3(1, 0, 0))
	c := Triangle(math.NewVec3(0, 1, 0))
	assert.Equal(t, a.Key(), b.Key())
	assert.NotEqual(t, a.Key(), c.Key())
	assert.Equal(t, a.Key(), a.Key())
}

func TestCube(t *testing.T) {
	c := Cube(1, math.NewVec3One())
	assert.Len(t, c.Vertices, 24)
	assert.Equal(t, uint32(36), c.IndexCount())
	// Every face normal points away from the center.
	for _, v := range c.Vertices {
		assert.Greater(t, v.Normal.Dot(v.Position), float32(0))
	}
}

func TestMaterialHashIsOrderIndependent(t *testing.T) {
	a := &Material{
		Name:     "a",
		Shaders:  []string{"basic.vert.spv", "basic.frag.spv"},
		Textures: map[string]string{"albedo": "brick.png", "normal": "brick_n.png"},
	}
	b := &Material{
		Name:     "b",
		Shaders:  []string{"basic.frag.spv", "basic.vert.spv"},
		Textures: map[string]string{"normal": "brick_n.png", "albedo": "brick.png"},
	}
	assert.Equal(t, a.Hash(), b.Hash())

	b.Textures["albedo"] = "stone.png"
	assert.NotEqual(t, a.Hash(), b.Hash())
}

func TestSubpassReferences(t *testing.T) {
	s := SubpassDescription{
		Inputs:       []AttachmentReference{{Index: 1}},
		Colors:       []AttachmentReference{{Index: 0}},
		DepthStencil: &AttachmentReference{Index: 2},
	}
	assert.ElementsMatch(t, []uint32{0, 1, 2}, s.References())
	assert.Equal(t, ImageLayoutShaderReadOnly, RoleInput.Layout())
	assert.True(t, RoleDepthStencil.Writes())
	assert.False(t, RoleInput.Writes())
}
