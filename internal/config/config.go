// Package config loads trackd configuration: built-in defaults, then an
// optional TOML file, then environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/teslashibe/go-trackables/pkg/camera"
	"github.com/teslashibe/go-trackables/pkg/changes"
	"github.com/teslashibe/go-trackables/pkg/subsystem"
)

// Backend names
const (
	BackendSim    = "sim"
	BackendFace   = "face"
	BackendPerson = "person"
)

// Tracking presets
const (
	PresetDefault    = "default"
	PresetSlow       = "slow"
	PresetAggressive = "aggressive"
)

// Config is the daemon configuration
type Config struct {
	Addr      string
	LogLevel  string
	AccessLog bool

	Backend   string
	AutoStart bool

	// Frame loop
	Interval  time.Duration
	Allocator changes.Allocator
	ArenaSize int
	Strict    bool

	// Subsystem
	StoppedPolicy   subsystem.StoppedPolicy
	ValidateChanges bool

	// Simulated backend
	SimMarkers int

	// Camera backends
	Camera         camera.Config
	TrackingPreset string
	Async          bool
	FaceModel      string
	ObjectModel    string
}

// Default returns the configuration used when nothing is set
func Default() Config {
	return Config{
		Addr:            ":8080",
		LogLevel:        "info",
		Backend:         BackendSim,
		AutoStart:       true,
		Interval:        100 * time.Millisecond,
		Allocator:       changes.Temp,
		ArenaSize:       256,
		StoppedPolicy:   subsystem.RejectWhenStopped,
		ValidateChanges: true,
		SimMarkers:      6,
		Camera:          camera.DefaultConfig(),
		TrackingPreset:  PresetDefault,
		FaceModel:       "models/face_detection_yunet.onnx",
		ObjectModel:     "models/yolov8n.onnx",
	}
}

type fileConfig struct {
	Addr      string `toml:"addr"`
	LogLevel  string `toml:"log_level"`
	AccessLog bool   `toml:"access_log"`
	Backend   string `toml:"backend"`
	AutoStart bool   `toml:"auto_start"`

	Loop struct {
		Interval  string `toml:"interval"`
		Allocator string `toml:"allocator"`
		ArenaSize int    `toml:"arena_size"`
		Strict    bool   `toml:"strict"`
	} `toml:"loop"`

	Subsystem struct {
		WhenStopped string `toml:"when_stopped"`
		Validate    bool   `toml:"validate"`
	} `toml:"subsystem"`

	Sim struct {
		Markers int `toml:"markers"`
	} `toml:"sim"`

	Camera struct {
		Device     string  `toml:"device"`
		Width      int     `toml:"width"`
		Height     int     `toml:"height"`
		Framerate  int     `toml:"framerate"`
		Quality    int     `toml:"quality"`
		Brightness float64 `toml:"brightness"`
	} `toml:"camera"`

	Tracking struct {
		Preset      string `toml:"preset"`
		Async       bool   `toml:"async"`
		FaceModel   string `toml:"face_model"`
		ObjectModel string `toml:"object_model"`
	} `toml:"tracking"`
}

// Load reads defaults, the TOML file at path (skipped when path is empty)
// and the environment, then validates the result.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		if err := cfg.loadFile(path); err != nil {
			return Config{}, err
		}
	}
	if err := cfg.ApplyEnv(); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return fmt.Errorf("load config: unknown keys %v", undecoded)
	}

	if meta.IsDefined("addr") {
		c.Addr = strings.TrimSpace(raw.Addr)
	}
	if meta.IsDefined("log_level") {
		c.LogLevel = strings.TrimSpace(raw.LogLevel)
	}
	if meta.IsDefined("access_log") {
		c.AccessLog = raw.AccessLog
	}
	if meta.IsDefined("backend") {
		c.Backend = strings.TrimSpace(raw.Backend)
	}
	if meta.IsDefined("auto_start") {
		c.AutoStart = raw.AutoStart
	}

	if meta.IsDefined("loop", "interval") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.Loop.Interval))
		if err != nil {
			return fmt.Errorf("parse loop.interval: %w", err)
		}
		c.Interval = d
	}
	if meta.IsDefined("loop", "allocator") {
		a, err := changes.ParseAllocator(strings.TrimSpace(raw.Loop.Allocator))
		if err != nil {
			return fmt.Errorf("parse loop.allocator: %w", err)
		}
		c.Allocator = a
	}
	if meta.IsDefined("loop", "arena_size") {
		c.ArenaSize = raw.Loop.ArenaSize
	}
	if meta.IsDefined("loop", "strict") {
		c.Strict = raw.Loop.Strict
	}

	if meta.IsDefined("subsystem", "when_stopped") {
		p, err := subsystem.ParseStoppedPolicy(strings.TrimSpace(raw.Subsystem.WhenStopped))
		if err != nil {
			return fmt.Errorf("parse subsystem.when_stopped: %w", err)
		}
		c.StoppedPolicy = p
	}
	if meta.IsDefined("subsystem", "validate") {
		c.ValidateChanges = raw.Subsystem.Validate
	}

	if meta.IsDefined("sim", "markers") {
		c.SimMarkers = raw.Sim.Markers
	}

	if meta.IsDefined("camera", "device") {
		c.Camera.Device = strings.TrimSpace(raw.Camera.Device)
	}
	if meta.IsDefined("camera", "width") {
		c.Camera.Width = raw.Camera.Width
	}
	if meta.IsDefined("camera", "height") {
		c.Camera.Height = raw.Camera.Height
	}
	if meta.IsDefined("camera", "framerate") {
		c.Camera.Framerate = raw.Camera.Framerate
	}
	if meta.IsDefined("camera", "quality") {
		c.Camera.Quality = raw.Camera.Quality
	}
	if meta.IsDefined("camera", "brightness") {
		c.Camera.Brightness = raw.Camera.Brightness
	}

	if meta.IsDefined("tracking", "preset") {
		c.TrackingPreset = strings.TrimSpace(raw.Tracking.Preset)
	}
	if meta.IsDefined("tracking", "async") {
		c.Async = raw.Tracking.Async
	}
	if meta.IsDefined("tracking", "face_model") {
		c.FaceModel = strings.TrimSpace(raw.Tracking.FaceModel)
	}
	if meta.IsDefined("tracking", "object_model") {
		c.ObjectModel = strings.TrimSpace(raw.Tracking.ObjectModel)
	}
	return nil
}

// ApplyEnv overrides fields from TRACKD_ADDR, TRACKD_BACKEND,
// TRACKD_CAMERA, TRACKD_ALLOCATOR and LOG_LEVEL.
func (c *Config) ApplyEnv() error {
	if v := os.Getenv("TRACKD_ADDR"); v != "" {
		c.Addr = v
	}
	if v := os.Getenv("TRACKD_BACKEND"); v != "" {
		c.Backend = v
	}
	if v := os.Getenv("TRACKD_CAMERA"); v != "" {
		c.Camera.Device = v
	}
	if v := os.Getenv("TRACKD_ALLOCATOR"); v != "" {
		a, err := changes.ParseAllocator(v)
		if err != nil {
			return fmt.Errorf("TRACKD_ALLOCATOR: %w", err)
		}
		c.Allocator = a
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	return nil
}

// Validate reports the first invalid setting
func (c Config) Validate() error {
	if c.Addr == "" {
		return errors.New("config: addr must be set")
	}
	switch c.Backend {
	case BackendSim, BackendFace, BackendPerson:
	default:
		return fmt.Errorf("config: unknown backend %q", c.Backend)
	}
	if c.Interval <= 0 {
		return errors.New("config: loop interval must be positive")
	}
	if c.Allocator == changes.Invalid {
		return errors.New("config: allocator must be set")
	}
	if c.Allocator == changes.CallerBuffer && c.ArenaSize <= 0 {
		return errors.New("config: arena_size must be positive for the caller allocator")
	}
	if c.Backend == BackendSim && c.SimMarkers <= 0 {
		return errors.New("config: sim.markers must be positive")
	}
	if c.Backend != BackendSim {
		if errs := c.Camera.Validate(); len(errs) > 0 {
			return fmt.Errorf("config: camera: %s", strings.Join(errs, "; "))
		}
		switch c.TrackingPreset {
		case PresetDefault, PresetSlow, PresetAggressive:
		default:
			return fmt.Errorf("config: unknown tracking preset %q", c.TrackingPreset)
		}
	}
	return nil
}
