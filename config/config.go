// Package config is the single TOML-backed settings struct for a
// recording session, in the style of this codebase's other
// TOML-configured services: defaults are filled in first, then
// overridden by whatever the file on disk actually sets. No component
// constructor takes a Config; nothing outside this package reads it.
package config

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

// Config is the full set of tunables for one recording session.
type Config struct {
	Capture CaptureConfig `toml:"capture"`
	Scale   ScaleConfig   `toml:"scale"`
	Info    InfoConfig    `toml:"info"`
	Stream  StreamConfig  `toml:"stream"`
}

// CaptureConfig configures the GL capture stage.
type CaptureConfig struct {
	FPS          float64 `toml:"fps"`
	LockFPS      bool    `toml:"lock_fps"`
	IgnoreTime   bool    `toml:"ignore_time"`
	DwordAligned bool    `toml:"dword_aligned"`
	GatherStats  bool    `toml:"gather_stats"`
	CropX        int     `toml:"crop_x"`
	CropY        int     `toml:"crop_y"`
	CropWidth    int     `toml:"crop_width"`
	CropHeight   int     `toml:"crop_height"`
	UseGamma     bool    `toml:"use_gamma"`
	Display      string  `toml:"display"`
}

// ScaleConfig configures the software rescaler stage.
type ScaleConfig struct {
	Factor  float64 `toml:"factor"`
	Workers int     `toml:"workers"`
}

// InfoConfig configures the diagnostic sink.
type InfoConfig struct {
	Verbosity int `toml:"verbosity"`
}

// StreamConfig configures the packet-stream buffers wired between
// stages.
type StreamConfig struct {
	CaptureDepth int `toml:"capture_depth"`
	ScaleDepth   int `toml:"scale_depth"`
}

// Default returns the configuration this package falls back to when
// no file is present or a file omits a section.
func Default() Config {
	return Config{
		Capture: CaptureConfig{
			FPS:         30,
			LockFPS:     false,
			IgnoreTime:  false,
			GatherStats: true,
			Display:     "",
		},
		Scale: ScaleConfig{
			Factor:  1.0,
			Workers: 0, // 0 means "use runtime.NumCPU()"
		},
		Info: InfoConfig{
			Verbosity: 1,
		},
		Stream: StreamConfig{
			CaptureDepth: 8,
			ScaleDepth:   8,
		},
	}
}

// Load reads path as TOML over top of Default(); a missing file is
// not an error — the defaults are returned unchanged.
func Load(path string) (Config, error) {
	cfg := Default()

	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("config: stat %s: %w", path, err)
	}

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return cfg, fmt.Errorf("config: decode %s: %w", path, err)
	}
	return cfg, nil
}

// Validate rejects settings a component constructor would otherwise
// reject anyway, so callers can surface a single configuration error
// up front rather than failing deep in a stage's New.
func (c Config) Validate() error {
	if c.Capture.FPS <= 0 {
		return fmt.Errorf("config: capture.fps must be > 0, got %v", c.Capture.FPS)
	}
	if c.Scale.Factor <= 0 || c.Scale.Factor > 1 {
		return fmt.Errorf("config: scale.factor must be in (0, 1], got %v", c.Scale.Factor)
	}
	if c.Info.Verbosity < 1 {
		return fmt.Errorf("config: info.verbosity must be >= 1, got %d", c.Info.Verbosity)
	}
	if c.Stream.CaptureDepth < 1 || c.Stream.ScaleDepth < 1 {
		return fmt.Errorf("config: stream buffer depths must be >= 1")
	}
	return nil
}
