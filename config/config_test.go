package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.toml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg != Default() {
		t.Errorf("Load(missing) = %+v, want Default() = %+v", cfg, Default())
	}
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "glcapture.toml")
	const toml = `
[capture]
fps = 60.0

[scale]
factor = 0.5
`
	if err := os.WriteFile(path, []byte(toml), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Capture.FPS != 60.0 {
		t.Errorf("Capture.FPS = %v, want 60", cfg.Capture.FPS)
	}
	if cfg.Scale.Factor != 0.5 {
		t.Errorf("Scale.Factor = %v, want 0.5", cfg.Scale.Factor)
	}
	// Sections left out of the file keep their defaults.
	if cfg.Info.Verbosity != Default().Info.Verbosity {
		t.Errorf("Info.Verbosity = %d, want default %d", cfg.Info.Verbosity, Default().Info.Verbosity)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := []func(*Config){
		func(c *Config) { c.Capture.FPS = 0 },
		func(c *Config) { c.Scale.Factor = 1.5 },
		func(c *Config) { c.Info.Verbosity = 0 },
		func(c *Config) { c.Stream.CaptureDepth = 0 },
	}
	for i, mutate := range cases {
		cfg := Default()
		mutate(&cfg)
		if err := cfg.Validate(); err == nil {
			t.Errorf("case %d: Validate() = nil, want error", i)
		}
	}
}

func TestDefaultValidates(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Errorf("Default().Validate() = %v, want nil", err)
	}
}
