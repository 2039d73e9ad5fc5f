package camera

import (
	"maps"
	"slices"
)

// Preset names accepted by Manager.UpdateConfig
const (
	PresetDefault = "default"
	PresetLow     = "low"
	Preset720p    = "720p"
	Preset1080p   = "1080p"
	PresetNight   = "night"
)

// presets derive from DefaultConfig so they share its device and quality
var presets = map[string]func(*Config){
	PresetDefault: func(*Config) {},
	// Slow hosts: fewer pixels to detect on
	PresetLow: func(c *Config) {
		c.Width, c.Height, c.Quality = 640, 480, 75
	},
	Preset720p: func(c *Config) {
		c.Width, c.Height = 1280, 720
	},
	// Distant faces stay above the detector's minimum size
	Preset1080p: func(c *Config) {
		c.Width, c.Height = 1920, 1080
	},
	// Longer exposure per frame
	PresetNight: func(c *Config) {
		c.Framerate, c.Brightness = 15, 0.4
	},
}

// PresetNames returns the preset names, sorted
func PresetNames() []string {
	return slices.Sorted(maps.Keys(presets))
}

// GetPreset returns the named preset
func GetPreset(name string) (Config, bool) {
	tweak, ok := presets[name]
	if !ok {
		return Config{}, false
	}
	cfg := DefaultConfig()
	tweak(&cfg)
	return cfg, true
}
