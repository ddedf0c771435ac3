package testbed

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/ember/engine"
	"github.com/spaghettifunk/ember/engine/config"
	"github.com/spaghettifunk/ember/engine/renderer/metadata"
	"github.com/spaghettifunk/ember/engine/renderer/soft"
)

// shaderDir copies the reflection sidecars next to placeholder binaries,
// so the testbed loads without glslc. The soft device never runs the code.
func shaderDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	sidecars, err := filepath.Glob(filepath.Join("assets", "shaders", "*.reflect.toml"))
	require.NoError(t, err)
	require.NotEmpty(t, sidecars)
	for _, src := range sidecars {
		data, err := os.ReadFile(src)
		require.NoError(t, err)
		name := filepath.Base(src)
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), data, 0o644))
		spv := strings.TrimSuffix(name, ".reflect.toml") + ".spv"
		require.NoError(t, os.WriteFile(filepath.Join(dir, spv), []byte{0x03, 0x02, 0x23, 0x07, 0, 0, 0, 0}, 0o644))
	}
	return dir
}

func testConfig(t *testing.T) *config.Config {
	cfg, err := config.Load("config.toml")
	require.NoError(t, err)
	cfg.Window.Width, cfg.Window.Height = 64, 48
	cfg.Renderer.Backend = config.BackendSoftware
	cfg.Assets.ShaderDir = shaderDir(t)
	cfg.Assets.Watch = false
	cfg.Assets.Font = filepath.Join("assets", "fonts", "mono.fnt")
	cfg.Log.Level = "error"
	return cfg
}

func run(t *testing.T, cfg *config.Config, frames uint64) (*TestGame, *soft.Device) {
	t.Helper()
	dev := soft.New(soft.Options{
		SwapchainImages: 3,
		SwapchainExtent: metadata.Extent2D{Width: cfg.Window.Width, Height: cfg.Window.Height},
	})
	game := NewTestGame()
	e, err := engine.New(game, cfg, engine.WithDevice(dev, nil), engine.WithMaxFrames(frames))
	require.NoError(t, err)
	t.Cleanup(e.Shutdown)
	require.NoError(t, e.Run())
	return game, dev
}

func TestDeferredGraphLayout(t *testing.T) {
	d, err := buildGraph([4]float32{0, 0, 0, 1})
	require.NoError(t, err)
	assert.Equal(t, uint32(0), d.gbuffer.Index())
	assert.Equal(t, uint32(1), d.lighting.Index())
	assert.Equal(t, uint32(2), d.overlay.Index())

	l, err := d.graph.Compile(metadata.FormatB8G8R8A8Unorm)
	require.NoError(t, err)
	// the overlay shares the present slot with the lighting pass
	assert.Equal(t, 4, l.SlotCount())
	require.Len(t, l.Description.Subpasses, 3)
	assert.Len(t, l.Description.Subpasses[1].Inputs, 3)
}

func TestTestbedRendersAllPasses(t *testing.T) {
	game, dev := run(t, testConfig(t), 2)
	require.NotNil(t, game.text, "the font loads from the repository")

	draws := dev.Draws()
	require.Len(t, draws, 16)
	frame := draws[:8]
	// one draw per row shade, in the order the cubes were added
	for i, want := range []uint32{2, 1, 2} {
		assert.Equal(t, "painted", frame[i].Pipeline)
		assert.Equal(t, want, frame[i].InstanceCount)
	}
	for i, want := range []uint32{1, 2, 1} {
		assert.Equal(t, "metal", frame[3+i].Pipeline)
		assert.Equal(t, want, frame[3+i].InstanceCount)
		assert.Equal(t, uint32(0), frame[3+i].Subpass)
	}

	assert.Equal(t, LightingPass, frame[6].Pipeline)
	assert.Equal(t, uint32(1), frame[6].Subpass)
	assert.Equal(t, uint32(6), frame[6].IndexCount)

	assert.Equal(t, "overlay", frame[7].Pipeline)
	assert.Equal(t, uint32(2), frame[7].Subpass)
	assert.Positive(t, frame[7].IndexCount)

	// one descriptor set per framebuffer that was drawn into
	assert.Len(t, game.inputs.sets, 2)
}

func TestTestbedWithoutFont(t *testing.T) {
	cfg := testConfig(t)
	cfg.Assets.Font = filepath.Join(t.TempDir(), "missing.fnt")
	game, dev := run(t, cfg, 1)
	assert.Nil(t, game.text)
	assert.Len(t, dev.Draws(), 7, "no overlay draw without a font")
}

func TestTestbedMissingShaders(t *testing.T) {
	cfg := testConfig(t)
	cfg.Assets.ShaderDir = t.TempDir()
	_, err := engine.New(NewTestGame(), cfg, engine.WithDevice(soft.New(soft.Options{}), nil))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "testbed shaders")
}
