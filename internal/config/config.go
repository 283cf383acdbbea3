package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"
)

// NoPolicyAction states what an evaluation returns when no policy applies.
// This is an explicit choice per deployment or tenant, never an implicit
// fallback.
type NoPolicyAction string

const (
	NoPolicyDeny  NoPolicyAction = "deny"
	NoPolicyAllow NoPolicyAction = "allow"
	NoPolicyError NoPolicyAction = "error"
)

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Engine   EngineConfig   `yaml:"engine"`
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
}

type ServerConfig struct {
	Port int    `yaml:"port"`
	Env  string `yaml:"env"`
}

type EngineConfig struct {
	// StalenessWindowSeconds bounds how old evidence may be before the
	// aggregator excludes it. Zero disables the window.
	StalenessWindowSeconds int `yaml:"staleness_window_seconds"`

	// NoPolicyAction is the verdict policy when no policy matches.
	NoPolicyAction NoPolicyAction `yaml:"no_policy_action"`

	// Default risk weights and thresholds used by RISK_BASED policies,
	// which declare actions per tier but no scoring parameters.
	DefaultRiskWeights    map[string]float64 `yaml:"default_risk_weights"`
	DefaultRiskThresholds ThresholdsConfig   `yaml:"default_risk_thresholds"`
}

type ThresholdsConfig struct {
	Low    float64 `yaml:"low"`
	Medium float64 `yaml:"medium"`
	High   float64 `yaml:"high"`
}

type DatabaseConfig struct {
	DSN string `yaml:"dsn"`
}

type RedisConfig struct {
	Addr         string `yaml:"addr"`
	AuditChannel string `yaml:"audit_channel"`
}

// StalenessWindow returns the configured window as a duration.
func (e EngineConfig) StalenessWindow() time.Duration {
	return time.Duration(e.StalenessWindowSeconds) * time.Second
}

// LoadConfig reads and validates a YAML config file.
func LoadConfig(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var cfg Config
	if err := yaml.NewDecoder(f).Decode(&cfg); err != nil {
		return nil, err
	}
	applyDefaults(&cfg)
	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Engine.NoPolicyAction == "" {
		cfg.Engine.NoPolicyAction = NoPolicyDeny
	}
	if cfg.Engine.StalenessWindowSeconds == 0 {
		cfg.Engine.StalenessWindowSeconds = 3600
	}
	t := &cfg.Engine.DefaultRiskThresholds
	if t.Low == 0 && t.Medium == 0 && t.High == 0 {
		*t = ThresholdsConfig{Low: 30, Medium: 60, High: 80}
	}
}

func validate(cfg *Config) error {
	switch cfg.Engine.NoPolicyAction {
	case NoPolicyDeny, NoPolicyAllow, NoPolicyError:
	default:
		return fmt.Errorf("engine.no_policy_action must be one of deny/allow/error, got %q", cfg.Engine.NoPolicyAction)
	}
	t := cfg.Engine.DefaultRiskThresholds
	if !(t.Low < t.Medium && t.Medium < t.High) {
		return fmt.Errorf("engine.default_risk_thresholds must be ordered low < medium < high, got %.2f/%.2f/%.2f",
			t.Low, t.Medium, t.High)
	}
	return nil
}
