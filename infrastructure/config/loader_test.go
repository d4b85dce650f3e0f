package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"audio-extract/domain/audio"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
paths:
  output_directory: /srv/audio
extraction:
  buffer_size: 2097152
  output_extension: .mp4
  lock_destination: true
logging:
  level: debug
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() unexpected error: %v", err)
	}
	if cfg.Paths.OutputDirectory != "/srv/audio" {
		t.Errorf("OutputDirectory = %q", cfg.Paths.OutputDirectory)
	}
	if cfg.Extraction.BufferSize != 2<<20 {
		t.Errorf("BufferSize = %d", cfg.Extraction.BufferSize)
	}
	if cfg.Extraction.OutputExtension != "mp4" {
		t.Errorf("OutputExtension = %q, want mp4", cfg.Extraction.OutputExtension)
	}
	if !cfg.Extraction.LockDestination {
		t.Error("LockDestination = false, want true")
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Level = %q", cfg.Logging.Level)
	}
}

func TestLoad_AppliesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "paths:\n  output_directory: out\n"))
	if err != nil {
		t.Fatalf("Load() unexpected error: %v", err)
	}
	if cfg.Extraction.BufferSize != audio.DefaultBufferSize {
		t.Errorf("BufferSize = %d, want %d", cfg.Extraction.BufferSize, audio.DefaultBufferSize)
	}
	if cfg.Extraction.OutputExtension != "m4a" {
		t.Errorf("OutputExtension = %q, want m4a", cfg.Extraction.OutputExtension)
	}
	if cfg.Logging.Level != "info" {
		t.Errorf("Level = %q, want info", cfg.Logging.Level)
	}
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name        string
		content     string
		errContains string
	}{
		{"malformed yaml", "paths: [", "failed to parse"},
		{"negative buffer", "extraction:\n  buffer_size: -5\n", "buffer_size must be positive"},
		{"bad level", "logging:\n  level: loud\n", "logging.level"},
		{"extension with separator", "extraction:\n  output_extension: a/b\n", "path separators"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.content))
			if err == nil {
				t.Fatal("Load() expected error, got nil")
			}
			if !strings.Contains(err.Error(), tt.errContains) {
				t.Errorf("Load() error = %v, want error containing %q", err, tt.errContains)
			}
		})
	}

	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("Load() of a missing file expected error")
	}
}

func TestSave_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	cfg := Default()
	cfg.Paths.OutputDirectory = "/data/out"
	cfg.Extraction.LockDestination = true

	if err := Save(cfg, path); err != nil {
		t.Fatalf("Save() unexpected error: %v", err)
	}
	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load() unexpected error: %v", err)
	}
	if *loaded != *cfg {
		t.Errorf("loaded = %+v, want %+v", loaded, cfg)
	}
}
