package camera

import (
	"errors"
	"testing"
)

func TestDefaultConfig_Valid(t *testing.T) {
	cfg := DefaultConfig()
	if errs := cfg.Validate(); len(errs) > 0 {
		t.Errorf("DefaultConfig should be valid, got %v", errs)
	}
}

func TestPresets_Valid(t *testing.T) {
	names := PresetNames()
	if len(names) != 5 || names[0] != Preset1080p || names[len(names)-1] != PresetNight {
		t.Errorf("PresetNames: got %v", names)
	}
	for _, name := range names {
		cfg, ok := GetPreset(name)
		if !ok {
			t.Fatalf("GetPreset(%q) not found", name)
		}
		if errs := cfg.Validate(); len(errs) > 0 {
			t.Errorf("preset %s invalid: %v", name, errs)
		}
	}
	if _, ok := GetPreset("nonexistent"); ok {
		t.Error("unknown preset should not be found")
	}
	if cfg, _ := GetPreset(PresetDefault); cfg != DefaultConfig() {
		t.Errorf("default preset: got %+v", cfg)
	}
	if cfg, _ := GetPreset(PresetLow); cfg.Width != 640 || cfg.Quality != 75 {
		t.Errorf("low preset: got %+v", cfg)
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty device", func(c *Config) { c.Device = "" }},
		{"tiny width", func(c *Config) { c.Width = 10 }},
		{"huge height", func(c *Config) { c.Height = 10000 }},
		{"zero framerate", func(c *Config) { c.Framerate = 0 }},
		{"quality over 100", func(c *Config) { c.Quality = 101 }},
		{"brightness out of range", func(c *Config) { c.Brightness = 2 }},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(&cfg)
			if errs := cfg.Validate(); len(errs) != 1 {
				t.Errorf("got %d errors, want 1: %v", len(errs), errs)
			}
		})
	}
}

func TestManager_UpdateConfig(t *testing.T) {
	m := NewManager(DefaultConfig())
	var applied []Config
	m.OnConfigChange = func(cfg Config) error {
		applied = append(applied, cfg)
		return nil
	}

	if err := m.UpdateConfig([]byte(`{"quality": 60}`)); err != nil {
		t.Fatalf("UpdateConfig: %v", err)
	}
	if got := m.GetConfig().Quality; got != 60 {
		t.Errorf("Quality: got %d, want 60", got)
	}

	if err := m.UpdateConfig([]byte(`{"preset": "low", "framerate": 10}`)); err != nil {
		t.Fatalf("UpdateConfig preset: %v", err)
	}
	cfg := m.GetConfig()
	if cfg.Width != 640 || cfg.Framerate != 10 {
		t.Errorf("preset with override: got %dx%d@%d", cfg.Width, cfg.Height, cfg.Framerate)
	}
	if len(applied) != 2 {
		t.Errorf("callback calls: got %d, want 2", len(applied))
	}
}

func TestManager_RejectsInvalid(t *testing.T) {
	m := NewManager(DefaultConfig())

	if err := m.UpdateConfig([]byte(`{"quality": 0}`)); err == nil {
		t.Error("expected validation error")
	}
	if err := m.UpdateConfig([]byte(`{"preset": "nope"}`)); err == nil {
		t.Error("expected unknown preset error")
	}
	if err := m.UpdateConfig([]byte(`not json`)); err == nil {
		t.Error("expected decode error")
	}
	if got := m.GetConfig(); got != DefaultConfig() {
		t.Errorf("config changed on error: %+v", got)
	}
}

func TestManager_CallbackError(t *testing.T) {
	m := NewManager(DefaultConfig())
	m.OnConfigChange = func(Config) error { return errors.New("device busy") }

	cfg := DefaultConfig()
	cfg.Quality = 50
	if err := m.SetConfig(cfg); err == nil {
		t.Error("expected callback error")
	}
	if m.GetConfig().Quality != DefaultConfig().Quality {
		t.Error("rejected config should not be stored")
	}
}
