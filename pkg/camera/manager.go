package camera

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
)

// Manager owns the live camera configuration. Updates are validated and
// pushed to the device through OnConfigChange before they are stored.
type Manager struct {
	mu     sync.RWMutex
	config Config

	// OnConfigChange applies cfg to the device; an error rejects the update
	OnConfigChange func(cfg Config) error
}

// NewManager starts from cfg
func NewManager(cfg Config) *Manager {
	return &Manager{config: cfg}
}

// GetConfig returns the current configuration
func (m *Manager) GetConfig() Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.config
}

// SetConfig validates and applies cfg. The stored config only changes
// when the callback accepts it.
func (m *Manager) SetConfig(cfg Config) error {
	if errs := cfg.Validate(); len(errs) > 0 {
		return fmt.Errorf("camera: invalid config: %s", strings.Join(errs, "; "))
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.OnConfigChange != nil {
		if err := m.OnConfigChange(cfg); err != nil {
			return fmt.Errorf("camera: apply: %w", err)
		}
	}
	m.config = cfg
	return nil
}

// UpdateConfig overlays a JSON patch on the current configuration. A
// "preset" key selects the base config before the other fields apply.
func (m *Manager) UpdateConfig(patch []byte) error {
	var sel struct {
		Preset string `json:"preset"`
	}
	if err := json.Unmarshal(patch, &sel); err != nil {
		return fmt.Errorf("decode camera patch: %w", err)
	}

	cfg := m.GetConfig()
	if sel.Preset != "" {
		preset, ok := GetPreset(sel.Preset)
		if !ok {
			return fmt.Errorf("unknown preset: %s", sel.Preset)
		}
		preset.Device = cfg.Device
		cfg = preset
	}
	if err := json.Unmarshal(patch, &cfg); err != nil {
		return fmt.Errorf("decode camera patch: %w", err)
	}

	return m.SetConfig(cfg)
}
