package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"audio-extract/domain/audio"
)

// Config represents the complete application configuration
type Config struct {
	Paths      PathsConfig      `yaml:"paths"`
	Extraction ExtractionConfig `yaml:"extraction"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// PathsConfig contains directory paths for extraction output
type PathsConfig struct {
	// OutputDirectory receives derived output files; empty means next to the source
	OutputDirectory string `yaml:"output_directory"`
}

// ExtractionConfig contains pipeline settings
type ExtractionConfig struct {
	BufferSize      int    `yaml:"buffer_size"`
	OutputExtension string `yaml:"output_extension"`
	LockDestination bool   `yaml:"lock_destination"`
}

// LoggingConfig contains logger settings
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// Default returns a configuration with every default applied
func Default() *Config {
	cfg := &Config{}
	cfg.ApplyDefaults()
	return cfg
}

// ApplyDefaults fills unset fields with their default values
func (c *Config) ApplyDefaults() {
	if c.Extraction.BufferSize == 0 {
		c.Extraction.BufferSize = audio.DefaultBufferSize
	}
	if strings.TrimSpace(c.Extraction.OutputExtension) == "" {
		c.Extraction.OutputExtension = audio.DefaultOutputExtension
	}
	c.Extraction.OutputExtension = strings.TrimPrefix(strings.TrimSpace(c.Extraction.OutputExtension), ".")
	if strings.TrimSpace(c.Logging.Level) == "" {
		c.Logging.Level = "info"
	}
}

// Validate checks that the configuration is usable
func (c *Config) Validate() error {
	var errs []error
	if c.Extraction.BufferSize <= 0 {
		errs = append(errs, fmt.Errorf("extraction.buffer_size must be positive, got %d", c.Extraction.BufferSize))
	}
	if strings.ContainsAny(c.Extraction.OutputExtension, `/\`) {
		errs = append(errs, fmt.Errorf("extraction.output_extension must not contain path separators: %q", c.Extraction.OutputExtension))
	}
	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		errs = append(errs, fmt.Errorf("logging.level must be debug, info, warn or error, got %q", c.Logging.Level))
	}
	return errors.Join(errs...)
}

// Load reads and parses the configuration from the specified YAML file.
// Defaults are applied and the result is validated.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config file %s: %w", path, err)
	}
	return &cfg, nil
}

// Save writes the configuration to the specified YAML file, creating its directory
func Save(cfg *Config, path string) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to serialize config: %w", err)
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create config directory: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}
