package config

import (
	"os"
	"sync"

	"gopkg.in/yaml.v2"
)

// TenantsConfig holds per-tenant engine overrides.
type TenantsConfig struct {
	Tenants map[string]EngineConfig `yaml:"tenants"`
}

// Manager resolves the effective engine config for a tenant: global
// settings with per-tenant overrides layered on top.
type Manager struct {
	global  *Config
	tenants map[string]EngineConfig
	mu      sync.RWMutex
}

// NewManager loads the master config and the optional tenants override
// file. A missing tenants file just means no overrides.
func NewManager(masterPath, tenantsPath string) (*Manager, error) {
	master, err := LoadConfig(masterPath)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(tenantsPath)
	if err != nil {
		if os.IsNotExist(err) {
			return &Manager{global: master, tenants: make(map[string]EngineConfig)}, nil
		}
		return nil, err
	}
	defer f.Close()

	var tc TenantsConfig
	if err := yaml.NewDecoder(f).Decode(&tc); err != nil {
		return nil, err
	}
	if tc.Tenants == nil {
		tc.Tenants = make(map[string]EngineConfig)
	}
	return &Manager{global: master, tenants: tc.Tenants}, nil
}

// NewStaticManager wraps an already-built config with no tenant overrides.
// Used by tests and embedded setups.
func NewStaticManager(cfg *Config) *Manager {
	return &Manager{global: cfg, tenants: make(map[string]EngineConfig)}
}

// Global returns the master config.
func (m *Manager) Global() *Config {
	return m.global
}

// EngineFor returns the effective engine config for a tenant, merging any
// overrides onto the global settings.
func (m *Manager) EngineFor(tenantID string) EngineConfig {
	m.mu.RLock()
	defer m.mu.RUnlock()

	effective := m.global.Engine
	override, ok := m.tenants[tenantID]
	if !ok {
		return effective
	}
	if override.StalenessWindowSeconds != 0 {
		effective.StalenessWindowSeconds = override.StalenessWindowSeconds
	}
	if override.NoPolicyAction != "" {
		effective.NoPolicyAction = override.NoPolicyAction
	}
	if len(override.DefaultRiskWeights) != 0 {
		effective.DefaultRiskWeights = override.DefaultRiskWeights
	}
	t := override.DefaultRiskThresholds
	if t.Low != 0 || t.Medium != 0 || t.High != 0 {
		effective.DefaultRiskThresholds = t
	}
	return effective
}
