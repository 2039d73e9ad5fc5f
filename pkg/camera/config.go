// Package camera holds runtime-configurable capture settings and presets.
// The gocv device that applies them lives in camera/device.
package camera

// Config holds camera configuration parameters.
// These can be modified through the camera API at runtime.
type Config struct {
	// Device is a capture index ("0") or a file/stream URL
	Device string `json:"device"`

	// === Resolution ===
	Width     int `json:"width"`     // Frame width in pixels
	Height    int `json:"height"`    // Frame height in pixels
	Framerate int `json:"framerate"` // Target FPS
	Quality   int `json:"quality"`   // JPEG quality 1-100

	// Brightness adjustment (-1.0 to +1.0), 0 leaves the driver default.
	Brightness float64 `json:"brightness"`
}

// Capture limits
const (
	MaxWidth     = 4096
	MaxHeight    = 2160
	MaxFramerate = 120
)

// DefaultConfig returns the recommended configuration for face tracking.
// 1280x720 keeps small faces detectable at a frame rate the detector can
// follow.
func DefaultConfig() Config {
	return Config{
		Device:    "0",
		Width:     1280,
		Height:    720,
		Framerate: 30,
		Quality:   85,
	}
}

// Validate checks if the config values are within valid ranges.
// Returns a list of validation errors, or nil if valid.
func (c *Config) Validate() []string {
	var errors []string

	if c.Device == "" {
		errors = append(errors, "device must be set")
	}
	if c.Width < 160 || c.Width > MaxWidth {
		errors = append(errors, "width must be between 160 and 4096")
	}
	if c.Height < 120 || c.Height > MaxHeight {
		errors = append(errors, "height must be between 120 and 2160")
	}
	if c.Framerate < 1 || c.Framerate > MaxFramerate {
		errors = append(errors, "framerate must be between 1 and 120")
	}
	if c.Quality < 1 || c.Quality > 100 {
		errors = append(errors, "quality must be between 1 and 100")
	}
	if c.Brightness < -1.0 || c.Brightness > 1.0 {
		errors = append(errors, "brightness must be between -1.0 and 1.0")
	}

	return errors
}
