package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/pelletier/go-toml/v2"
	"github.com/spaghettifunk/ember/engine/core"
)

const (
	BackendVulkan   = "vulkan"
	BackendSoftware = "software"

	MaxFramesInFlight = 3
)

// Duration decodes TOML strings such as "2s" or "500ms".
type Duration struct {
	time.Duration
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

type Window struct {
	Title  string `toml:"title"`
	X      uint32 `toml:"x"`
	Y      uint32 `toml:"y"`
	Width  uint32 `toml:"width"`
	Height uint32 `toml:"height"`
}

type Renderer struct {
	Backend        string     `toml:"backend"`
	FramesInFlight int        `toml:"frames_in_flight"`
	FenceTimeout   Duration   `toml:"fence_timeout"`
	CommandBatch   int        `toml:"command_batch"`
	BatchCapacity  int        `toml:"batch_capacity"`
	Validation     bool       `toml:"validation"`
	ClearColor     [4]float32 `toml:"clear_color"`
}

type Cache struct {
	GeometryCapacity   int `toml:"geometry_capacity"`
	PipelineIdleFrames int `toml:"pipeline_idle_frames"`
}

type Assets struct {
	ShaderDir string `toml:"shader_dir"`
	Watch     bool   `toml:"watch"`
	Font      string `toml:"font"`
}

type Log struct {
	Level string `toml:"level"`
}

type Config struct {
	Window   Window   `toml:"window"`
	Renderer Renderer `toml:"renderer"`
	Cache    Cache    `toml:"cache"`
	Assets   Assets   `toml:"assets"`
	Log      Log      `toml:"log"`
}

func Default() *Config {
	return &Config{
		Window: Window{
			Title:  "Ember",
			X:      100,
			Y:      100,
			Width:  1280,
			Height: 720,
		},
		Renderer: Renderer{
			Backend:        BackendVulkan,
			FramesInFlight: 2,
			FenceTimeout:   Duration{2 * time.Second},
			CommandBatch:   4,
			BatchCapacity:  1024,
			ClearColor:     [4]float32{0, 0, 0, 1},
		},
		Cache: Cache{
			GeometryCapacity:   256,
			PipelineIdleFrames: 600,
		},
		Assets: Assets{
			ShaderDir: "assets/shaders",
		},
		Log: Log{
			Level: "info",
		},
	}
}

// Load reads a TOML file on top of the defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes TOML on top of the defaults and validates the result.
// Unknown keys are rejected so typos do not pass silently.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	dec := toml.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(cfg); err != nil {
		var strict *toml.StrictMissingError
		if errors.As(err, &strict) {
			return nil, &core.ConfigError{Op: "config.parse", Err: errors.New(strict.String())}
		}
		return nil, &core.ConfigError{Op: "config.parse", Err: err}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	var errs []error
	if c.Window.Width == 0 || c.Window.Height == 0 {
		errs = append(errs, &core.ConfigError{Op: "window", Err: fmt.Errorf("invalid size %dx%d", c.Window.Width, c.Window.Height)})
	}
	switch c.Renderer.Backend {
	case BackendVulkan, BackendSoftware:
	default:
		errs = append(errs, &core.ConfigError{Op: "renderer.backend", Err: fmt.Errorf("unknown backend %q", c.Renderer.Backend)})
	}
	if c.Renderer.FramesInFlight < 1 || c.Renderer.FramesInFlight > MaxFramesInFlight {
		errs = append(errs, &core.ConfigError{Op: "renderer.frames_in_flight", Err: fmt.Errorf("must be within [1, %d], got %d", MaxFramesInFlight, c.Renderer.FramesInFlight)})
	}
	if c.Renderer.FenceTimeout.Duration <= 0 {
		errs = append(errs, &core.ConfigError{Op: "renderer.fence_timeout", Err: errors.New("must be a positive duration")})
	}
	if c.Renderer.CommandBatch < 1 {
		errs = append(errs, &core.ConfigError{Op: "renderer.command_batch", Err: errors.New("must be at least 1")})
	}
	if c.Renderer.BatchCapacity < 1 {
		errs = append(errs, &core.ConfigError{Op: "renderer.batch_capacity", Err: errors.New("must be at least 1")})
	}
	if c.Cache.GeometryCapacity < 1 {
		errs = append(errs, &core.ConfigError{Op: "cache.geometry_capacity", Err: errors.New("must be at least 1")})
	}
	if c.Cache.PipelineIdleFrames < c.Renderer.FramesInFlight {
		errs = append(errs, &core.ConfigError{Op: "cache.pipeline_idle_frames", Err: errors.New("must not be lower than frames_in_flight")})
	}
	return errors.Join(errs...)
}

// Encode writes the configuration back as TOML.
func (c *Config) Encode() ([]byte, error) {
	return toml.Marshal(c)
}
