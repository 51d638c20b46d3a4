package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"motioncor/internal/motion"
)

const (
	defaultConfigPath = "~/.config/motioncor/config.json"
	defaultParallel   = 2
)

// Config holds user-editable settings for the correction service.
type Config struct {
	Processing Processing `json:"processing"`
	Logging    Logging    `json:"logging"`
	Paths      Paths      `json:"paths"`
	Motion     Motion     `json:"motion"`
	Correction Correction `json:"correction"`
	Server     Server     `json:"server"`
	Watch      Watch      `json:"watch"`
}

// Processing captures execution preferences.
type Processing struct {
	ParallelJobs int    `json:"parallel_jobs"`
	TempDir      string `json:"temp_dir"`
}

// Logging controls logging verbosity and destinations.
type Logging struct {
	Level      string `json:"level"`       // debug, info, warn, error
	Format     string `json:"format"`      // text, json
	FileOutput bool   `json:"file_output"` // Enable file logging
	LogDir     string `json:"log_dir"`     // Directory for log files
}

// Paths configures default input/output locations.
type Paths struct {
	DefaultOutput string `json:"default_output"`
	DatabasePath  string `json:"database_path"`
}

// Motion tunes trajectory estimation. Zero values mean the built-in default.
type Motion struct {
	Passes           int     `json:"passes"`
	Workers          int     `json:"workers"`
	SearchRadius     float64 `json:"search_radius"`
	CropFraction     float64 `json:"crop_fraction"`
	MaxBox           int     `json:"max_box"`
	HighPass         float64 `json:"highpass"`
	CoarseLowPass    float64 `json:"coarse_lowpass"`
	FineLowPass      float64 `json:"fine_lowpass"`
	SkipThreshold    float64 `json:"skip_threshold"`
	MinRange         float64 `json:"min_range"`
	AlignTimeout     string  `json:"align_timeout"` // Go duration, e.g. "30s"
	ConvergenceDelta float64 `json:"convergence_delta"`
	Anchor           bool    `json:"anchor"`
	SuppressOrigin   bool    `json:"suppress_origin"`
}

// Correction controls what a correction job produces.
type Correction struct {
	DefaultProcessor string  `json:"default_processor"` // hierarchical, framewise
	ClampSigma       float64 `json:"clamp_sigma"`       // 0 disables hot pixel clamping
	SaveAligned      bool    `json:"save_aligned"`
	SimpleAverage    bool    `json:"simple_average"`
	OutputFormat     string  `json:"output_format"` // tif, png, or anything ImageMagick writes
	Diagnostics      bool    `json:"diagnostics"`   // per-pass text dumps
	Plots            bool    `json:"plots"`         // per-pass trajectory PNGs
}

// Server configures the network listeners.
type Server struct {
	HTTPAddr string `json:"http_addr"`
	GRPCAddr string `json:"grpc_addr"`
}

// Watch configures directory watching for new movies.
type Watch struct {
	Dirs      []string `json:"dirs"`
	Settle    string   `json:"settle"` // quiet period before a movie directory is queued
	MinFrames int      `json:"min_frames"`
}

// Load reads configuration from disk, falling back to sensible defaults.
func Load() (*Config, error) {
	configPath := os.Getenv("MOTIONCOR_CONFIG")
	if configPath == "" {
		configPath = defaultConfigPath
	}
	return LoadFile(configPath)
}

// LoadFile reads configuration from path; a missing file yields defaults.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	expanded, err := expandUser(path)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(expanded)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	dec := json.NewDecoder(f)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("decoding %s: %w", expanded, err)
	}

	return cfg, nil
}

// Default returns the built-in configuration.
func Default() *Config {
	d := motion.DefaultOptions()
	return &Config{
		Processing: Processing{
			ParallelJobs: defaultParallel,
			TempDir:      os.TempDir(),
		},
		Logging: Logging{
			Level:      "info",
			Format:     "text",
			FileOutput: true,
			LogDir:     "./logs",
		},
		Paths: Paths{
			DefaultOutput: "./output",
			DatabasePath:  filepath.Join(os.TempDir(), "motioncor.db"),
		},
		Motion: Motion{
			Passes:         d.Passes,
			SearchRadius:   d.SearchRadius,
			CropFraction:   d.CropFraction,
			MaxBox:         d.MaxBox,
			HighPass:       d.HighPass,
			CoarseLowPass:  d.CoarseLowPass,
			FineLowPass:    d.FineLowPass,
			SkipThreshold:  d.SkipThreshold,
			MinRange:       d.MinRange,
			AlignTimeout:   "60s",
			Anchor:         true,
			SuppressOrigin: true,
		},
		Correction: Correction{
			DefaultProcessor: "hierarchical",
			ClampSigma:       3.5,
			OutputFormat:     "tif",
		},
		Server: Server{
			HTTPAddr: ":8080",
			GRPCAddr: ":9090",
		},
		Watch: Watch{
			Settle:    "5s",
			MinFrames: 2,
		},
	}
}

// MotionOptions converts the motion section to estimator options.
func (c *Config) MotionOptions() (motion.Options, error) {
	m := c.Motion
	opts := motion.DefaultOptions()
	if m.Workers > 0 {
		opts.Workers = m.Workers
	}
	if m.Passes > 0 {
		opts.Passes = m.Passes
	}
	setIfPositive(&opts.SearchRadius, m.SearchRadius)
	setIfPositive(&opts.CropFraction, m.CropFraction)
	setIfPositive(&opts.HighPass, m.HighPass)
	setIfPositive(&opts.CoarseLowPass, m.CoarseLowPass)
	setIfPositive(&opts.FineLowPass, m.FineLowPass)
	// Zero turns the skip rule off; Default carries the usual threshold.
	if m.SkipThreshold >= 0 {
		opts.SkipThreshold = m.SkipThreshold
	}
	setIfPositive(&opts.MinRange, m.MinRange)
	if m.MaxBox > 0 {
		opts.MaxBox = m.MaxBox
	}
	if m.AlignTimeout != "" {
		d, err := time.ParseDuration(m.AlignTimeout)
		if err != nil {
			return motion.Options{}, fmt.Errorf("motion.align_timeout: %w", err)
		}
		opts.AlignTimeout = d
	}
	opts.ConvergenceDelta = m.ConvergenceDelta
	opts.Anchor = m.Anchor
	opts.SuppressOrigin = m.SuppressOrigin
	return opts, nil
}

// SettleDuration parses Watch.Settle, defaulting to five seconds.
func (c *Config) SettleDuration() time.Duration {
	if d, err := time.ParseDuration(c.Watch.Settle); err == nil && d > 0 {
		return d
	}
	return 5 * time.Second
}

func setIfPositive(dst *float64, v float64) {
	if v > 0 {
		*dst = v
	}
}

func expandUser(path string) (string, error) {
	if path == "" || path[0] != '~' {
		return path, nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}

	if path == "~" {
		return home, nil
	}

	return filepath.Join(home, path[2:]), nil
}
