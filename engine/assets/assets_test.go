package assets

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/ember/engine/core"
	"github.com/spaghettifunk/ember/engine/renderer/metadata"
)

const vertReflection = `
stage = "vertex"

[[bindings]]
name = "globals"
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
name = "in_position"
location = 0
format = "r32g32b32_sfloat"
offset = 0
`

func spirv(words ...uint32) []byte {
	out := make([]byte, 4*(len(words)+1))
	binary.LittleEndian.PutUint32(out, spirvMagic)
	for i, w := range words {
		binary.LittleEndian.PutUint32(out[4*(i+1):], w)
	}
	return out
}

func writeFile(t *testing.T, path string, data []byte) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, data, 0o644))
}

func TestShaderPaths(t *testing.T) {
	file, err := ShaderFile("gbuffer", metadata.ShaderStageFragment)
	require.NoError(t, err)
	assert.Equal(t, "gbuffer.frag.spv", file)

	_, err = ShaderFile("bad", metadata.ShaderStageVertex|metadata.ShaderStageFragment)
	assert.ErrorIs(t, err, core.ErrInvalidFormat)

	assert.Equal(t, "a/b.vert.reflect.toml", ReflectionPath("a/b.vert.spv"))

	p, ok := ShaderPath("a/b.vert.reflect.toml")
	assert.True(t, ok)
	assert.Equal(t, "a/b.vert.spv", p)
	p, ok = ShaderPath("a/b.vert.spv")
	assert.True(t, ok)
	assert.Equal(t, "a/b.vert.spv", p)
	_, ok = ShaderPath("a/b.vert")
	assert.False(t, ok)
}

func TestLoadShader(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "mesh.vert.spv"), spirv(1, 2, 3))
	writeFile(t, filepath.Join(dir, "mesh.vert.reflect.toml"), []byte(vertReflection))

	s, err := LoadShader(dir, "mesh", metadata.ShaderStageVertex)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "mesh.vert.spv"), s.Path)
	assert.Len(t, s.Code, 16)

	r := s.Reflection
	assert.Equal(t, metadata.ShaderStageVertex, r.Stage)
	assert.Equal(t, "main", r.EntryPoint)
	require.Len(t, r.Bindings, 1)
	assert.Equal(t, metadata.DescriptorUniformBuffer, r.Bindings[0].Kind)
	assert.Equal(t, uint64(128), r.Bindings[0].Size)
	require.Len(t, r.PushConstants, 1)
	assert.Equal(t, "variant", r.PushConstants[0].Name)
	require.Len(t, r.Inputs, 1)
	assert.Equal(t, metadata.FormatR32G32B32Sfloat, r.Inputs[0].Format)

	// declared vertex, loaded as fragment
	writeFile(t, filepath.Join(dir, "mesh.frag.spv"), spirv(1))
	writeFile(t, filepath.Join(dir, "mesh.frag.reflect.toml"), []byte(vertReflection))
	_, err = LoadShader(dir, "mesh", metadata.ShaderStageFragment)
	assert.ErrorIs(t, err, core.ErrLayoutMismatch)
}

func TestLoadShaderRejectsBadInput(t *testing.T) {
	dir := t.TempDir()

	_, err := LoadShader(dir, "missing", metadata.ShaderStageVertex)
	assert.Error(t, err)

	writeFile(t, filepath.Join(dir, "odd.vert.spv"), []byte{1, 2, 3})
	_, err = LoadShader(dir, "odd", metadata.ShaderStageVertex)
	assert.ErrorIs(t, err, core.ErrInvalidFormat)

	writeFile(t, filepath.Join(dir, "nosidecar.vert.spv"), spirv())
	_, err = LoadShader(dir, "nosidecar", metadata.ShaderStageVertex)
	assert.Error(t, err)

	writeFile(t, filepath.Join(dir, "typo.vert.spv"), spirv())
	writeFile(t, filepath.Join(dir, "typo.vert.reflect.toml"), []byte("stage = \"vertex\"\nbindingz = []\n"))
	_, err = LoadShader(dir, "typo", metadata.ShaderStageVertex)
	var cerr *core.ConfigError
	assert.ErrorAs(t, err, &cerr)
}

type changes struct {
	mu    sync.Mutex
	paths []string
}

func (c *changes) add(p string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.paths = append(c.paths, p)
}

func (c *changes) get() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.paths...)
}

func TestWatcherDebouncesShaderChanges(t *testing.T) {
	dir := t.TempDir()
	var seen changes
	w, err := NewWatcher(50*time.Millisecond, seen.add)
	require.NoError(t, err)
	defer w.Close()
	require.NoError(t, w.AddRecursive(dir))

	spv := filepath.Join(dir, "lit.frag.spv")
	for i := 0; i < 5; i++ {
		writeFile(t, spv, spirv(uint32(i)))
	}
	writeFile(t, filepath.Join(dir, "lit.frag.reflect.toml"), []byte(`stage = "fragment"`))
	writeFile(t, filepath.Join(dir, "notes.txt"), []byte("ignored"))

	require.Eventually(t, func() bool { return len(seen.get()) > 0 }, 2*time.Second, 10*time.Millisecond)
	time.Sleep(150 * time.Millisecond)
	assert.Equal(t, []string{spv}, seen.get())
}

func TestWatcherFollowsNewDirectories(t *testing.T) {
	dir := t.TempDir()
	var seen changes
	w, err := NewWatcher(20*time.Millisecond, seen.add)
	require.NoError(t, err)
	defer w.Close()
	require.NoError(t, w.AddRecursive(dir))

	sub := filepath.Join(dir, "deferred")
	require.NoError(t, os.Mkdir(sub, 0o755))
	// give the watcher time to register the new directory
	time.Sleep(100 * time.Millisecond)

	spv := filepath.Join(sub, "light.vert.spv")
	writeFile(t, spv, spirv())
	require.Eventually(t, func() bool {
		got := seen.get()
		return len(got) == 1 && got[0] == spv
	}, 2*time.Second, 10*time.Millisecond)
}

func TestWatcherClose(t *testing.T) {
	w, err := NewWatcher(0, nil)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	require.NoError(t, w.Close())
	assert.Error(t, w.AddRecursive(t.TempDir()))
}
