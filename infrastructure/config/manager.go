package config

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Errors for config management
var (
	ErrUnknownKey   = errors.New("unknown config key")
	ErrInvalidValue = errors.New("invalid config value")
)

// ConfigManager reads and updates individual settings by their dotted YAML key
type ConfigManager struct {
	config     *Config
	configPath string
}

// NewConfigManager creates a new config manager
func NewConfigManager(cfg *Config, configPath string) *ConfigManager {
	return &ConfigManager{
		config:     cfg,
		configPath: configPath,
	}
}

// Setting is one configuration entry
type Setting struct {
	Key   string
	Value string
}

type field struct {
	get func(c *Config) string
	set func(c *Config, v string) error
}

var fields = map[string]field{
	"paths.output_directory": {
		get: func(c *Config) string { return c.Paths.OutputDirectory },
		set: func(c *Config, v string) error {
			c.Paths.OutputDirectory = v
			return nil
		},
	},
	"extraction.buffer_size": {
		get: func(c *Config) string { return strconv.Itoa(c.Extraction.BufferSize) },
		set: func(c *Config, v string) error {
			n, err := strconv.Atoi(v)
			if err != nil || n <= 0 {
				return fmt.Errorf("%w: buffer size must be a positive integer, got %q", ErrInvalidValue, v)
			}
			c.Extraction.BufferSize = n
			return nil
		},
	},
	"extraction.output_extension": {
		get: func(c *Config) string { return c.Extraction.OutputExtension },
		set: func(c *Config, v string) error {
			v = strings.TrimPrefix(v, ".")
			if v == "" || strings.ContainsAny(v, `/\`) {
				return fmt.Errorf("%w: output extension %q", ErrInvalidValue, v)
			}
			c.Extraction.OutputExtension = v
			return nil
		},
	},
	"extraction.lock_destination": {
		get: func(c *Config) string { return strconv.FormatBool(c.Extraction.LockDestination) },
		set: func(c *Config, v string) error {
			b, err := strconv.ParseBool(v)
			if err != nil {
				return fmt.Errorf("%w: lock_destination must be true or false, got %q", ErrInvalidValue, v)
			}
			c.Extraction.LockDestination = b
			return nil
		},
	},
	"logging.level": {
		get: func(c *Config) string { return c.Logging.Level },
		set: func(c *Config, v string) error {
			switch strings.ToLower(v) {
			case "debug", "info", "warn", "warning", "error":
				c.Logging.Level = strings.ToLower(v)
				return nil
			}
			return fmt.Errorf("%w: log level %q", ErrInvalidValue, v)
		},
	},
}

// Keys returns every supported key in sorted order
func Keys() []string {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// List returns all settings in key order
func (m *ConfigManager) List() []Setting {
	result := make([]Setting, 0, len(fields))
	for _, key := range Keys() {
		result = append(result, Setting{Key: key, Value: fields[key].get(m.config)})
	}
	return result
}

// Get returns the value of key
func (m *ConfigManager) Get(key string) (string, error) {
	f, ok := fields[strings.ToLower(strings.TrimSpace(key))]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownKey, key)
	}
	return f.get(m.config), nil
}

// Set updates key and saves the configuration file
func (m *ConfigManager) Set(key, value string) error {
	f, ok := fields[strings.ToLower(strings.TrimSpace(key))]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownKey, key)
	}
	if err := f.set(m.config, strings.TrimSpace(value)); err != nil {
		return err
	}
	return Save(m.config, m.configPath)
}
