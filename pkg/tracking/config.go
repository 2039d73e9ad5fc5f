package tracking

import (
	"errors"
	"math"
	"time"
)

// Config holds all tunable parameters for the tracking backend
type Config struct {
	// Timing
	DetectionInterval time.Duration // Capture cadence in async mode
	Async             bool          // Capture in the background instead of inside Poll

	// Detection
	MinConfidence float64 // Drop detections below this
	MatchIoU      float64 // Minimum box overlap to continue a track

	// Perception
	CameraFOV         float64 // Horizontal field of view in radians
	PositionSmoothing float64 // Exponential smoothing factor (0-1, higher = more new data)
	JitterThreshold   float64 // Ignore frame position changes < this %
	DistanceScale     float64 // Box height (0-1) seen at one metre

	// Track lifetime
	ConfidenceDecay float64 // Confidence lost per second while unseen
	ForgetThreshold float64 // Forget tracks below this confidence
	MaxMisses       int     // Forget tracks after this many consecutive misses

	// Failure handling
	MaxFailures int // Consecutive capture/detect failures after which tracks are forgotten
}

// DefaultConfig returns the recommended configuration for responsive tracking
func DefaultConfig() Config {
	return Config{
		DetectionInterval: 250 * time.Millisecond, // 4 detections per second

		MinConfidence: 0.5,
		MatchIoU:      0.3,

		CameraFOV:         math.Pi / 2, // 90° horizontal FOV
		PositionSmoothing: 0.6,         // 60% new, 40% old
		JitterThreshold:   2.0,
		DistanceScale:     0.25,

		ConfidenceDecay: 0.3, // Lose 30% confidence per second
		ForgetThreshold: 0.1,
		MaxMisses:       8,

		MaxFailures: 3,
	}
}

// SlowConfig returns a configuration for slower, steadier tracking
func SlowConfig() Config {
	cfg := DefaultConfig()
	cfg.DetectionInterval = 400 * time.Millisecond
	cfg.PositionSmoothing = 0.4
	cfg.JitterThreshold = 4.0
	cfg.MaxMisses = 12
	return cfg
}

// AggressiveConfig returns a configuration for very fast tracking
func AggressiveConfig() Config {
	cfg := DefaultConfig()
	cfg.DetectionInterval = 150 * time.Millisecond
	cfg.PositionSmoothing = 0.8 // Trust new readings more
	cfg.JitterThreshold = 1.0
	cfg.MaxMisses = 5
	return cfg
}

// Validate reports the first out-of-range field
func (c Config) Validate() error {
	switch {
	case c.Async && c.DetectionInterval <= 0:
		return errors.New("tracking: detection interval must be positive in async mode")
	case c.MinConfidence < 0 || c.MinConfidence > 1:
		return errors.New("tracking: min confidence must be within [0, 1]")
	case c.MatchIoU <= 0 || c.MatchIoU > 1:
		return errors.New("tracking: match IoU must be within (0, 1]")
	case c.CameraFOV <= 0 || c.CameraFOV >= math.Pi:
		return errors.New("tracking: camera FOV must be within (0, π)")
	case c.PositionSmoothing <= 0 || c.PositionSmoothing > 1:
		return errors.New("tracking: position smoothing must be within (0, 1]")
	case c.JitterThreshold < 0:
		return errors.New("tracking: jitter threshold must not be negative")
	case c.MaxMisses < 1:
		return errors.New("tracking: max misses must be at least 1")
	case c.MaxFailures < 1:
		return errors.New("tracking: max failures must be at least 1")
	}
	return nil
}
