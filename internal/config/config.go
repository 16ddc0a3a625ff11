// Package config loads simulator settings from YAML with environment
// overrides.
package config

import (
	"fmt"
	"os"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"github.com/danielpatrickdp/funnel-sim/internal/logging"
	"github.com/danielpatrickdp/funnel-sim/internal/policy"
)

// Config contains all funnelsim settings.
type Config struct {
	Simulation SimulationConfig `yaml:"simulation"`
	Sweep      SweepConfig      `yaml:"sweep"`
	Ledger     LedgerConfig     `yaml:"ledger"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// SimulationConfig controls trajectory runs.
type SimulationConfig struct {
	// Workers bounds parallel trajectories; 0 uses GOMAXPROCS.
	Workers int `yaml:"workers" env:"FUNNELSIM_WORKERS"`

	Seed uint64 `yaml:"seed" env:"FUNNELSIM_SEED"`

	// Mode selects the decision strategy: "deterministic" or "probabilistic".
	Mode string `yaml:"mode" env:"FUNNELSIM_MODE"`

	// PolicyDir holds one YAML file per policy version.
	PolicyDir string `yaml:"policy_dir" env:"FUNNELSIM_POLICY_DIR"`
}

// SweepConfig bounds perturbation sweeps.
type SweepConfig struct {
	MaxExperiments int     `yaml:"max_experiments" env:"FUNNELSIM_MAX_EXPERIMENTS"`
	MarginScale    float64 `yaml:"margin_scale" env:"FUNNELSIM_MARGIN_SCALE"`

	// Magnitude is used when the sweep grid is generated rather than loaded.
	Magnitude float64 `yaml:"magnitude" env:"FUNNELSIM_MAGNITUDE"`
}

// LedgerConfig locates the assertion store.
type LedgerConfig struct {
	Path string `yaml:"path" env:"FUNNELSIM_LEDGER_PATH"`
}

// LoggingConfig sets the log verbosity: "info", "debug" or "trace".
type LoggingConfig struct {
	Level string `yaml:"level" env:"FUNNELSIM_LOG_LEVEL"`
}

// Default returns a Config with defaults matching the engine defaults.
func Default() *Config {
	return &Config{
		Simulation: SimulationConfig{
			Workers:   0,
			Seed:      1,
			Mode:      string(policy.ModeDeterministic),
			PolicyDir: "policies",
		},
		Sweep: SweepConfig{
			MaxExperiments: 500,
			MarginScale:    10,
			Magnitude:      0.3,
		},
		Ledger:  LedgerConfig{Path: "ledger.db"},
		Logging: LoggingConfig{Level: "info"},
	}
}

// Load reads path (if non-empty) over the defaults, then applies
// FUNNELSIM_* environment overrides and validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if c.Simulation.Workers < 0 {
		return fmt.Errorf("workers must be non-negative, got %d", c.Simulation.Workers)
	}
	switch policy.Mode(c.Simulation.Mode) {
	case policy.ModeDeterministic, policy.ModeProbabilistic:
	default:
		return fmt.Errorf("invalid mode: %s (valid: deterministic, probabilistic)", c.Simulation.Mode)
	}
	if c.Sweep.MaxExperiments < 0 {
		return fmt.Errorf("max_experiments must be non-negative, got %d", c.Sweep.MaxExperiments)
	}
	if c.Sweep.MarginScale <= 0 {
		return fmt.Errorf("margin_scale must be positive, got %v", c.Sweep.MarginScale)
	}
	if !(c.Sweep.Magnitude > 0 && c.Sweep.Magnitude <= 1) {
		return fmt.Errorf("magnitude must be in (0,1], got %v", c.Sweep.Magnitude)
	}
	if c.Ledger.Path == "" {
		return fmt.Errorf("ledger path is required")
	}
	if c.Logging.Level != "" && !logging.ValidLevel(c.Logging.Level) {
		return fmt.Errorf("invalid log level: %s (valid: info, debug, trace, or empty for default)", c.Logging.Level)
	}
	return nil
}

// Params returns the engine defaults with the configured decision mode.
func (c *Config) Params() policy.Params {
	p := policy.DefaultParams()
	p.Mode = policy.Mode(c.Simulation.Mode)
	return p
}
