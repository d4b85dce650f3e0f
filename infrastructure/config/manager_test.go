package config

import (
	"errors"
	"path/filepath"
	"testing"
)

func TestConfigManager_Set(t *testing.T) {
	tests := []struct {
		key     string
		value   string
		want    string
		wantErr error
	}{
		{"paths.output_directory", "/srv/audio", "/srv/audio", nil},
		{"extraction.buffer_size", "4096", "4096", nil},
		{"extraction.buffer_size", "0", "", ErrInvalidValue},
		{"extraction.buffer_size", "lots", "", ErrInvalidValue},
		{"extraction.output_extension", ".mp4", "mp4", nil},
		{"extraction.output_extension", "", "", ErrInvalidValue},
		{"extraction.lock_destination", "true", "true", nil},
		{"extraction.lock_destination", "maybe", "", ErrInvalidValue},
		{"LOGGING.LEVEL", "DEBUG", "debug", nil},
		{"logging.level", "loud", "", ErrInvalidValue},
		{"email.from", "x", "", ErrUnknownKey},
	}

	for _, tt := range tests {
		t.Run(tt.key+"="+tt.value, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "config.yaml")
			mgr := NewConfigManager(Default(), path)

			err := mgr.Set(tt.key, tt.value)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("Set() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Set() unexpected error: %v", err)
			}

			got, err := mgr.Get(tt.key)
			if err != nil || got != tt.want {
				t.Errorf("Get() = %q, %v, want %q", got, err, tt.want)
			}

			saved, err := Load(path)
			if err != nil {
				t.Fatalf("saved config does not load: %v", err)
			}
			if got, _ := NewConfigManager(saved, path).Get(tt.key); got != tt.want {
				t.Errorf("saved value = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestConfigManager_List(t *testing.T) {
	mgr := NewConfigManager(Default(), "")

	settings := mgr.List()
	if len(settings) != len(Keys()) {
		t.Fatalf("List() returned %d settings, want %d", len(settings), len(Keys()))
	}
	for i := 1; i < len(settings); i++ {
		if settings[i-1].Key >= settings[i].Key {
			t.Errorf("settings not sorted: %q before %q", settings[i-1].Key, settings[i].Key)
		}
	}
	if _, err := mgr.Get("nope"); !errors.Is(err, ErrUnknownKey) {
		t.Errorf("Get(nope) error = %v, want ErrUnknownKey", err)
	}
}
