// Package config loads and validates HORNET configuration from hornet.yaml
// plus environment variables. Secrets are never read from YAML.
package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the fully-resolved runtime configuration.
type Config struct {
	Detection   *DetectionConfig   `yaml:"detection"`
	Coordinator *CoordinatorConfig `yaml:"coordinator"`
	Retry       *RetryConfig       `yaml:"retry"`
	Executor    *ExecutorConfig    `yaml:"executor"`
	Correlator  *CorrelatorConfig  `yaml:"correlator"`
	Realtime    *RealtimeConfig    `yaml:"realtime"`
	RateLimit   *RateLimitConfig   `yaml:"rate_limit"`
	Server      *ServerConfig      `yaml:"server"`
	Jobs        *JobsConfig        `yaml:"jobs"`
	Playbooks   []PlaybookConfig   `yaml:"playbooks"`

	// Secrets, from environment only.
	SigningSecret string `yaml:"-"` // HORNET_SIGNING_SECRET: edge actions + webhooks
	AuditSecret   string `yaml:"-"` // HORNET_AUDIT_SECRET: audit log HMAC
}

// Initialize loads .env and hornet.yaml from configDir, merges defaults,
// resolves secrets from the environment, and validates the result.
func Initialize(ctx context.Context, configDir string) (*Config, error) {
	envPath := filepath.Join(configDir, ".env")
	if err := godotenv.Load(envPath); err != nil {
		slog.Warn("Could not load .env file, continuing with existing environment",
			"path", envPath, "error", err)
	}

	cfg := defaults()

	yamlPath := filepath.Join(configDir, "hornet.yaml")
	data, err := os.ReadFile(yamlPath)
	switch {
	case os.IsNotExist(err):
		slog.Info("No hornet.yaml found, using built-in defaults", "path", yamlPath)
	case err != nil:
		return nil, fmt.Errorf("reading %s: %w", yamlPath, err)
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrInvalidYAML, yamlPath, err)
		}
		// Unmarshal replaces nil sections; refill with defaults.
		fillDefaults(cfg)
	}

	cfg.SigningSecret = os.Getenv("HORNET_SIGNING_SECRET")
	cfg.AuditSecret = os.Getenv("HORNET_AUDIT_SECRET")

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func defaults() *Config {
	cfg := &Config{}
	fillDefaults(cfg)
	return cfg
}

func fillDefaults(cfg *Config) {
	if cfg.Detection == nil {
		cfg.Detection = DefaultDetectionConfig()
	}
	if cfg.Coordinator == nil {
		cfg.Coordinator = DefaultCoordinatorConfig()
	}
	if cfg.Retry == nil {
		cfg.Retry = DefaultRetryConfig()
	}
	if cfg.Executor == nil {
		cfg.Executor = DefaultExecutorConfig()
	}
	if cfg.Correlator == nil {
		cfg.Correlator = DefaultCorrelatorConfig()
	}
	if cfg.Realtime == nil {
		cfg.Realtime = DefaultRealtimeConfig()
	}
	if cfg.RateLimit == nil {
		cfg.RateLimit = DefaultRateLimitConfig()
	}
	if cfg.Server == nil {
		cfg.Server = DefaultServerConfig()
	}
	if cfg.Jobs == nil {
		cfg.Jobs = DefaultJobsConfig()
	}
}

// Validate checks invariants across the configuration.
func (c *Config) Validate() error {
	if c.Detection.Threshold < 0 || c.Detection.Threshold > 1 {
		return NewValidationError("detection.threshold", "must be in [0,1]")
	}
	if len(c.Detection.Squad) == 0 {
		return NewValidationError("detection.squad", "at least one detection agent is required")
	}
	if c.Detection.BatchSize <= 0 {
		return NewValidationError("detection.batch_size", "must be positive")
	}
	if c.Coordinator.ThresholdDismiss < 0 || c.Coordinator.ThresholdDismiss > 1 {
		return NewValidationError("coordinator.threshold_dismiss", "must be in [0,1]")
	}
	if c.Coordinator.ThresholdInvestigate < 0 || c.Coordinator.ThresholdInvestigate > 1 {
		return NewValidationError("coordinator.threshold_investigate", "must be in [0,1]")
	}
	if c.Coordinator.TokenBudget <= 0 {
		return NewValidationError("coordinator.token_budget", "must be positive")
	}
	if c.Retry.MaxAttempts <= 0 {
		return NewValidationError("retry.max_attempts", "must be positive")
	}
	if len(c.Retry.Backoff) == 0 {
		return NewValidationError("retry.backoff", "backoff ladder must not be empty")
	}
	if c.Retry.ReclaimAfter <= 0 {
		return NewValidationError("retry.reclaim_after", "must be positive")
	}
	if c.Detection.ThresholdFloor > c.Detection.ThresholdCeil {
		return NewValidationError("detection.threshold_floor", "floor exceeds ceil")
	}
	seen := map[string]bool{}
	for _, pb := range c.Playbooks {
		if pb.Name == "" {
			return NewValidationError("playbooks", "playbook name is required")
		}
		if seen[pb.Name] {
			return NewValidationError("playbooks", fmt.Sprintf("duplicate playbook %q", pb.Name))
		}
		seen[pb.Name] = true
	}
	return nil
}

// Playbook returns the named playbook, if registered.
func (c *Config) Playbook(name string) (PlaybookConfig, bool) {
	for _, pb := range c.Playbooks {
		if pb.Name == name {
			return pb, true
		}
	}
	return PlaybookConfig{}, false
}
