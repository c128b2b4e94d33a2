// Package config provides configuration loading and management for regoverlay.
// It handles loading configuration from YAML files and provides default values.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration loaded from YAML
type Config struct {
	// Visualization parameters shared by the mosaic and animation outputs
	Visualization struct {
		// Border is the gap between mosaic tiles in world units
		Border float64 `yaml:"border"`

		// Zoom is the camera zoom applied after each camera reset
		Zoom float64 `yaml:"zoom"`

		// FPS is the animation frame rate
		FPS int `yaml:"fps"`

		// CanvasWidth and CanvasHeight are the mosaic raster size
		CanvasWidth  int `yaml:"canvasWidth"`
		CanvasHeight int `yaml:"canvasHeight"`

		// FrameWidth and FrameHeight are the rendered animation frame size
		FrameWidth  int `yaml:"frameWidth"`
		FrameHeight int `yaml:"frameHeight"`

		// PaletteLevels is the number of levels each overlay channel is
		// reduced to before GIF encoding
		PaletteLevels int `yaml:"paletteLevels"`

		// Background is the scene background colour as RGB in [0,1]
		Background [3]float64 `yaml:"background"`

		// StdLow and StdHigh place the value range at
		// mean - StdLow*std and mean + StdHigh*std
		StdLow  float64 `yaml:"stdLow"`
		StdHigh float64 `yaml:"stdHigh"`
	} `yaml:"visualization"`

	// Output parameters
	Output struct {
		// OutDir is the directory results are written to
		OutDir string `yaml:"outDir"`

		// MosaicFile is the file name of the mosaic image
		MosaicFile string `yaml:"mosaicFile"`

		// AnimateFile is the file name of the animated GIF
		AnimateFile string `yaml:"animateFile"`

		// Verbose controls the level of logging output
		Verbose bool `yaml:"verbose"`

		// SaveSlices dumps the extracted overlay slices as PNG files
		SaveSlices bool `yaml:"saveSlices"`

		// SlicesDir is the directory, relative to OutDir, for dumped slices
		SlicesDir string `yaml:"slicesDir"`
	} `yaml:"output"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Visualization.Border = 5
	cfg.Visualization.Zoom = 1.6
	cfg.Visualization.FPS = 10
	cfg.Visualization.CanvasWidth = 900
	cfg.Visualization.CanvasHeight = 600
	cfg.Visualization.FrameWidth = 300
	cfg.Visualization.FrameHeight = 300
	cfg.Visualization.PaletteLevels = 16
	cfg.Visualization.Background = [3]float64{0.5, 0.5, 0.5}
	cfg.Visualization.StdLow = 0.5
	cfg.Visualization.StdHigh = 1.5

	cfg.Output.OutDir = ""
	cfg.Output.MosaicFile = "mosaic.png"
	cfg.Output.AnimateFile = "animation.gif"
	cfg.Output.Verbose = false
	cfg.Output.SaveSlices = false
	cfg.Output.SlicesDir = "slices"

	return cfg
}

// Validate checks that the numeric parameters are usable
func (c *Config) Validate() error {
	v := c.Visualization
	if v.Border < 0 {
		return fmt.Errorf("border must be non-negative, got %g", v.Border)
	}
	if v.Zoom <= 0 {
		return fmt.Errorf("zoom must be positive, got %g", v.Zoom)
	}
	if v.FPS <= 0 || v.FPS > 100 {
		return fmt.Errorf("fps must be in (0, 100], got %d", v.FPS)
	}
	if v.CanvasWidth <= 0 || v.CanvasHeight <= 0 {
		return fmt.Errorf("canvas size must be positive, got %dx%d", v.CanvasWidth, v.CanvasHeight)
	}
	if v.FrameWidth <= 0 || v.FrameHeight <= 0 {
		return fmt.Errorf("frame size must be positive, got %dx%d", v.FrameWidth, v.FrameHeight)
	}
	if v.PaletteLevels < 2 || v.PaletteLevels > 256 {
		return fmt.Errorf("palette levels must be in [2, 256], got %d", v.PaletteLevels)
	}
	if v.StdLow+v.StdHigh <= 0 {
		return fmt.Errorf("stdLow + stdHigh must be positive")
	}
	return nil
}

// LoadConfig loads configuration from a YAML file
// If the file doesn't exist, it returns the default configuration
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	// Check if config file exists
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config file %s: %w", configPath, err)
	}

	return cfg, nil
}

// SaveConfig saves the configuration to a YAML file
func SaveConfig(cfg *Config, configPath string) error {
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("error marshaling config: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("error writing config file: %w", err)
	}

	return nil
}

// CreateDefaultConfigFile creates a default configuration file at the specified path
func CreateDefaultConfigFile(configPath string) error {
	cfg := DefaultConfig()
	return SaveConfig(cfg, configPath)
}
