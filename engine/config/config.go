// Package config holds the setup-time parameters of the checker board node. Nothing
// here changes after startup; changing a value means recreating the resources.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/Carmen-Shannon/oxy-compute/engine/logger"
	"github.com/Carmen-Shannon/oxy-compute/engine/renderer/resources"
	"gopkg.in/yaml.v3"
)

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("invalid config")

// WindowConfig is the base display resolution.
type WindowConfig struct {
	Title     string `yaml:"title"`
	Width     int    `yaml:"width"`
	Height    int    `yaml:"height"`
	Resizable bool   `yaml:"resizable"`
}

// ShaderConfig locates the compute shader.
type ShaderConfig struct {
	// Root is a directory to load shaders from. Empty uses the embedded assets.
	Root string `yaml:"root"`
	// Path is the compute shader reference. Empty selects the variant's default shader.
	Path       string `yaml:"path"`
	EntryPoint string `yaml:"entry_point"`
	// Display is the sprite shader reference.
	Display string `yaml:"display"`
	// Validate runs the WGSL front end before pipeline creation.
	Validate bool `yaml:"validate"`
	// CacheCapacity bounds the number of compiled pipelines kept alive.
	CacheCapacity int `yaml:"cache_capacity"`
	// CompileWorkers bounds concurrent pipeline compilation.
	CompileWorkers int `yaml:"compile_workers"`
}

// MetricsConfig controls Prometheus exposition.
type MetricsConfig struct {
	// Addr is the listen address of the /metrics endpoint. Empty disables it.
	Addr string `yaml:"addr"`
}

// Config is the full configuration surface.
type Config struct {
	Window        WindowConfig      `yaml:"window"`
	DisplayFactor uint32            `yaml:"display_factor"`
	WorkgroupSize uint32            `yaml:"workgroup_size"`
	Variant       resources.Variant `yaml:"variant"`
	Shader        ShaderConfig      `yaml:"shader"`

	// TickRate is the simulation tick frequency in Hz.
	TickRate float64 `yaml:"tick_rate"`
	// FrameLimit caps the render loop in frames per second; 0 is uncapped.
	FrameLimit  float64 `yaml:"frame_limit"`
	PresentMode string  `yaml:"present_mode"`
	Software    bool    `yaml:"software_renderer"`

	Log       logger.Config `yaml:"log"`
	Metrics   MetricsConfig `yaml:"metrics"`
	Profiling bool          `yaml:"profiling"`
}

// Default returns the built-in configuration: a 1280x720 window, display factor 4,
// workgroup size 8, ping-pong buffering.
func Default() Config {
	return Config{
		Window: WindowConfig{
			Title:     "oxy compute",
			Width:     1280,
			Height:    720,
			Resizable: true,
		},
		DisplayFactor: 4,
		WorkgroupSize: 8,
		Variant:       resources.VariantPingPong,
		Shader: ShaderConfig{
			EntryPoint:     "checker_board",
			Display:        "shaders/sprite.wgsl",
			Validate:       true,
			CacheCapacity:  16,
			CompileWorkers: 2,
		},
		TickRate:    60,
		PresentMode: "vsync",
		Log:         logger.Config{Level: "info"},
	}
}

// Load reads a YAML file over the defaults.
//
// Parameters:
//   - path: the YAML file to read
//
// Returns:
//   - Config: the merged and validated configuration
//   - error: an error if the file cannot be read, decoded or validated
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return Config{}, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes YAML over the defaults and validates the result. Unknown keys are rejected.
//
// Parameters:
//   - data: the YAML document
//
// Returns:
//   - Config: the merged and validated configuration
//   - error: an error if decoding or validation fails
func Parse(data []byte) (Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks that every setup parameter is usable.
func (c Config) Validate() error {
	switch {
	case c.Window.Width <= 0 || c.Window.Height <= 0:
		return fmt.Errorf("%w: window size %dx%d must be positive", ErrInvalid, c.Window.Width, c.Window.Height)
	case c.DisplayFactor == 0:
		return fmt.Errorf("%w: display_factor must be positive", ErrInvalid)
	case c.WorkgroupSize == 0:
		return fmt.Errorf("%w: workgroup_size must be positive", ErrInvalid)
	case c.TickRate <= 0:
		return fmt.Errorf("%w: tick_rate must be positive", ErrInvalid)
	case c.FrameLimit < 0:
		return fmt.Errorf("%w: frame_limit must not be negative", ErrInvalid)
	case c.Shader.EntryPoint == "":
		return fmt.Errorf("%w: shader.entry_point is required", ErrInvalid)
	case c.Shader.Display == "":
		return fmt.Errorf("%w: shader.display is required", ErrInvalid)
	case c.Shader.CacheCapacity <= 0:
		return fmt.Errorf("%w: shader.cache_capacity must be positive", ErrInvalid)
	case c.Shader.CompileWorkers <= 0:
		return fmt.Errorf("%w: shader.compile_workers must be positive", ErrInvalid)
	}
	if c.Variant != resources.VariantPingPong && c.Variant != resources.VariantUniform {
		return fmt.Errorf("%w: unknown variant %v", ErrInvalid, c.Variant)
	}
	if c.PresentMode != "vsync" && c.PresentMode != "uncapped" {
		return fmt.Errorf("%w: present_mode %q must be vsync or uncapped", ErrInvalid, c.PresentMode)
	}
	w, h := c.TextureSize()
	if w == 0 || h == 0 {
		return fmt.Errorf("%w: display_factor %d leaves a %dx%d texture", ErrInvalid, c.DisplayFactor, w, h)
	}
	return nil
}

// TextureSize returns the compute texture resolution: the window size divided by the
// display factor.
func (c Config) TextureSize() (uint32, uint32) {
	if c.DisplayFactor == 0 || c.Window.Width <= 0 || c.Window.Height <= 0 {
		return 0, 0
	}
	return uint32(c.Window.Width) / c.DisplayFactor, uint32(c.Window.Height) / c.DisplayFactor
}

// ShaderPath returns the compute shader reference, falling back to the variant's shader.
func (c Config) ShaderPath() string {
	if c.Shader.Path != "" {
		return c.Shader.Path
	}
	if c.Variant == resources.VariantUniform {
		return "shaders/checker_board_uniform.wgsl"
	}
	return "shaders/checker_board_pingpong.wgsl"
}
