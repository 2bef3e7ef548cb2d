// Package config loads and watches the coordinator configuration. Files may
// be JSON or YAML (JSON parses as YAML), and a handful of MARCUS_* env vars
// override file values for container deployments.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// GlobalStateDir returns the default state directory (~/.config/marcus).
func GlobalStateDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = os.TempDir()
	}
	return filepath.Join(home, ".config", "marcus")
}

// DefaultConfigPath returns the config file location used when MARCUS_CONFIG
// is unset and no --config flag is given.
func DefaultConfigPath() string {
	return filepath.Join(GlobalStateDir(), "config.yaml")
}

// PriorityLabels maps board label names onto priorities.
type PriorityLabels struct {
	Urgent []string `yaml:"urgent"`
	High   []string `yaml:"high"`
	Low    []string `yaml:"low"`
}

// ProviderConfig holds the connection settings for the active board provider.
// Which fields matter depends on the provider: planka uses board_id, github
// uses project_id as "owner/repo", linear uses project_id as the team ID, and
// local uses path.
type ProviderConfig struct {
	BaseURL        string            `yaml:"base_url"`
	APIKeyEnv      string            `yaml:"api_key_env"`
	ProjectID      string            `yaml:"project_id"`
	BoardID        string            `yaml:"board_id"`
	Path           string            `yaml:"path"`
	Columns        map[string]string `yaml:"columns"`
	PriorityLabels PriorityLabels    `yaml:"priority_labels"`
}

// APIToken resolves the provider credential through the api_key_env
// indirection. Tokens never live in the config file itself.
func (p ProviderConfig) APIToken() string {
	if p.APIKeyEnv == "" {
		return ""
	}
	return os.Getenv(p.APIKeyEnv)
}

// AIConfig controls the instruction/blocker advisor.
type AIConfig struct {
	Enabled   bool   `yaml:"enabled"`
	TimeoutMS int    `yaml:"timeout_ms"`
	APIKeyEnv string `yaml:"api_key_env"`
	Model     string `yaml:"model"`
}

// AssignmentConfig tunes the assignment engine and the stale-agent sweeper.
type AssignmentConfig struct {
	StaleTTLSeconds      int `yaml:"stale_ttl_seconds"`
	StaleCheckSeconds    int `yaml:"stale_check_seconds"`
	AssignmentRetryLimit int `yaml:"assignment_retry_limit"`
	MaxMirrorAttempts    int `yaml:"max_mirror_attempts"`
}

// PoolConfig tunes the provider connection pool.
type PoolConfig struct {
	MinConns           int     `yaml:"min_conns"`
	MaxConns           int     `yaml:"max_conns"`
	HealthCheckSeconds int     `yaml:"health_check_seconds"`
	IdleTTLSeconds     int     `yaml:"idle_ttl_seconds"`
	RatePerSecond      float64 `yaml:"rate_per_second"`
}

// DispatcherConfig tunes the MCP tool dispatcher.
type DispatcherConfig struct {
	DeadlineMS int `yaml:"deadline_ms"`
}

// LoggingConfig controls the event log and log verbosity.
type LoggingConfig struct {
	Directory string `yaml:"directory"`
	Level     string `yaml:"level"`
}

// Config is the full coordinator configuration.
type Config struct {
	Provider       string           `yaml:"provider"`
	ProviderConfig ProviderConfig   `yaml:"provider_config"`
	AI             AIConfig         `yaml:"ai"`
	Assignment     AssignmentConfig `yaml:"assignment"`
	Pool           PoolConfig       `yaml:"pool"`
	ToolDispatcher DispatcherConfig `yaml:"tool_dispatcher"`
	Logging        LoggingConfig    `yaml:"logging"`
	HTTPPort       int              `yaml:"http_port"`

	// RequireProviderOnStart makes startup fail fast (exit 69) when the
	// board cannot be reached, instead of degrading to cache-only mode.
	RequireProviderOnStart bool `yaml:"require_provider_on_start"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		Provider: "local",
		ProviderConfig: ProviderConfig{
			Path: filepath.Join(GlobalStateDir(), "board.sqlite"),
		},
		AI: AIConfig{
			Enabled:   false,
			TimeoutMS: 5000,
			APIKeyEnv: "ANTHROPIC_API_KEY",
		},
		Assignment: AssignmentConfig{
			StaleTTLSeconds:      900,
			StaleCheckSeconds:    60,
			AssignmentRetryLimit: 3,
			MaxMirrorAttempts:    4,
		},
		Pool: PoolConfig{
			MinConns:           2,
			MaxConns:           8,
			HealthCheckSeconds: 30,
			IdleTTLSeconds:     120,
			RatePerSecond:      10,
		},
		ToolDispatcher: DispatcherConfig{DeadlineMS: 30000},
		Logging: LoggingConfig{
			Directory: filepath.Join(GlobalStateDir(), "logs"),
			Level:     "info",
		},
	}
}

// Load reads the file at path over the defaults and applies env overrides.
// A missing file is not an error: defaults plus env apply.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", path, err)
			}
		case os.IsNotExist(err):
			// fall through to defaults
		default:
			return nil, fmt.Errorf("read config: %w", err)
		}
	}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("MARCUS_PROVIDER"); v != "" {
		c.Provider = v
	}
	if v := os.Getenv("MARCUS_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("MARCUS_AI_ENABLED"); v != "" {
		c.AI.Enabled = v == "1" || strings.EqualFold(v, "true")
	}
}

// Validate rejects configurations the coordinator cannot run with.
func (c *Config) Validate() error {
	switch c.Provider {
	case "planka", "github", "linear", "local":
	default:
		return fmt.Errorf("unknown provider %q", c.Provider)
	}
	if c.AI.TimeoutMS <= 0 {
		return fmt.Errorf("ai.timeout_ms must be positive, got %d", c.AI.TimeoutMS)
	}
	if c.Assignment.AssignmentRetryLimit < 1 {
		return fmt.Errorf("assignment.assignment_retry_limit must be at least 1")
	}
	if c.Pool.MinConns < 1 || c.Pool.MaxConns < c.Pool.MinConns {
		return fmt.Errorf("pool: min_conns %d / max_conns %d out of range",
			c.Pool.MinConns, c.Pool.MaxConns)
	}
	if c.ToolDispatcher.DeadlineMS <= 0 {
		return fmt.Errorf("tool_dispatcher.deadline_ms must be positive")
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown log level %q", c.Logging.Level)
	}
	return nil
}
