// Package config holds the cellview settings, read from an optional YAML
// file and overridden by command-line flags.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"
	"os"

	"gopkg.in/yaml.v3"
)

// Config holds the settings for one cellview run.
type Config struct {
	Source    string  `yaml:"source"`
	Path      string  `yaml:"path"`
	Shape     []int   `yaml:"shape"`
	Chunks    []int   `yaml:"chunks"`
	Pixel     string  `yaml:"pixel"`
	Plane     []int   `yaml:"plane"`
	RangeMin  float64 `yaml:"range-min"`
	RangeMax  float64 `yaml:"range-max"`
	AutoRange bool    `yaml:"auto-range"`
	Output    string  `yaml:"output"`
	NoCache   bool    `yaml:"no-cache"`
	Seed      uint64  `yaml:"seed"`
	LogFile   string  `yaml:"log-file"`
	Verbosity int     `yaml:"verbosity"`
}

// DefaultRandomChunks is the chunk size of a 3-d random source when Chunks
// is not set.
var DefaultRandomChunks = []int{10, 20, 30}

// Default returns the settings of the built-in random volume demo. Chunks is
// left unset so that zarr and image sources keep their own chunking.
func Default() *Config {
	return &Config{
		Source:   "random",
		Shape:    []int{100, 200, 290},
		Pixel:    "argb",
		RangeMin: 0,
		RangeMax: 255,
		Output:   "cellview.png",
		LogFile:  "cellview.log",
	}
}

// Load reads the YAML file at path over the defaults. Keys absent from the
// file keep their default value; unknown keys are an error.
func Load(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to decode config %s: %w", path, err)
	}
	return cfg, nil
}

// RandomChunks returns the chunk size of the random source.
func (c *Config) RandomChunks() []int {
	if len(c.Chunks) == 0 {
		return DefaultRandomChunks
	}
	return c.Chunks
}

// Validate checks if the configuration is usable.
func (c *Config) Validate() error {
	switch c.Source {
	case "random":
		if len(c.Shape) == 0 {
			return fmt.Errorf("--shape is required for the random source")
		}
		for _, d := range c.Shape {
			if d <= 0 {
				return fmt.Errorf("--shape must hold positive sizes, got %v", c.Shape)
			}
		}
		if len(c.Chunks) == 0 && len(c.Shape) != len(DefaultRandomChunks) {
			return fmt.Errorf("--chunks is required for a %d-d --shape", len(c.Shape))
		}
		if len(c.Chunks) != 0 && len(c.Chunks) != len(c.Shape) {
			return fmt.Errorf("--chunks rank %d does not match --shape rank %d", len(c.Chunks), len(c.Shape))
		}
		if c.Pixel == "uint" && (c.RangeMin < math.MinInt32 || c.RangeMax >= math.MaxInt32) {
			return fmt.Errorf("--range-min and --range-max must lie in [%d, %d) for the random source", math.MinInt32, math.MaxInt32)
		}
		if c.Pixel == "uint" && c.RangeMax <= c.RangeMin {
			return fmt.Errorf("--range-max (%g) must be greater than --range-min (%g) for the random source", c.RangeMax, c.RangeMin)
		}
	case "zarr", "image":
		if c.Path == "" {
			return fmt.Errorf("--path is required for the %s source", c.Source)
		}
		if c.Source == "image" && len(c.Chunks) != 0 && len(c.Chunks) != 2 {
			return fmt.Errorf("--chunks must have 2 entries for the image source, got %v", c.Chunks)
		}
	default:
		return fmt.Errorf("unsupported source: %s. Supported sources are random, zarr, image", c.Source)
	}

	for _, d := range c.Chunks {
		if d <= 0 {
			return fmt.Errorf("--chunks must hold positive sizes, got %v", c.Chunks)
		}
	}
	for _, p := range c.Plane {
		if p < 0 {
			return fmt.Errorf("--plane must hold non-negative positions, got %v", c.Plane)
		}
	}

	switch c.Pixel {
	case "argb", "uint":
	default:
		return fmt.Errorf("unsupported pixel type: %s. Supported pixel types are argb, uint", c.Pixel)
	}
	if c.Pixel == "uint" && !c.AutoRange && c.RangeMax <= c.RangeMin {
		return fmt.Errorf("--range-max (%g) must be greater than --range-min (%g)", c.RangeMax, c.RangeMin)
	}
	if c.Output == "" {
		return fmt.Errorf("--output is required")
	}
	return nil
}
