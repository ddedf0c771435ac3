package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spaghettifunk/ember/engine/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 2, cfg.Renderer.FramesInFlight)
	assert.Equal(t, 2*time.Second, cfg.Renderer.FenceTimeout.Duration)
}

func TestParseOverridesDefaults(t *testing.T) {
	cfg, err := Parse([]byte(`
[window]
title = "deferred"
width = 640
height = 480

[renderer]
backend = "software"
frames_in_flight = 3
fence_timeout = "250ms"
clear_color = [0.1, 0.2, 0.3, 1.0]

[log]
level = "debug"
`))
	require.NoError(t, err)
	assert.Equal(t, "deferred", cfg.Window.Title)
	assert.Equal(t, uint32(640), cfg.Window.Width)
	assert.Equal(t, BackendSoftware, cfg.Renderer.Backend)
	assert.Equal(t, 3, cfg.Renderer.FramesInFlight)
	assert.Equal(t, 250*time.Millisecond, cfg.Renderer.FenceTimeout.Duration)
	assert.Equal(t, [4]float32{0.1, 0.2, 0.3, 1.0}, cfg.Renderer.ClearColor)
	// untouched sections keep their defaults
	assert.Equal(t, 1024, cfg.Renderer.BatchCapacity)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestParseRejectsInvalidValues(t *testing.T) {
	_, err := Parse([]byte(`
[renderer]
frames_in_flight = 5
backend = "metal"
`))
	require.Error(t, err)
	var ce *core.ConfigError
	assert.ErrorAs(t, err, &ce)
	assert.Contains(t, err.Error(), "frames_in_flight")
	assert.Contains(t, err.Error(), "metal")
}

func TestParseRejectsUnknownKeys(t *testing.T) {
	_, err := Parse([]byte(`
[renderer]
frames_in_fligth = 2
`))
	require.Error(t, err)
	var ce *core.ConfigError
	assert.ErrorAs(t, err, &ce)
}

func TestLoadRoundTrip(t *testing.T) {
	cfg := Default()
	cfg.Renderer.FenceTimeout = Duration{time.Second}
	data, err := cfg.Encode()
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "ember.toml")
	require.NoError(t, os.WriteFile(path, data, 0o644))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
}
