package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Provider != "local" {
		t.Fatalf("provider = %q, want local", cfg.Provider)
	}
	if cfg.AI.TimeoutMS != 5000 {
		t.Fatalf("ai timeout = %d", cfg.AI.TimeoutMS)
	}
	if cfg.Assignment.AssignmentRetryLimit != 3 {
		t.Fatalf("retry limit = %d", cfg.Assignment.AssignmentRetryLimit)
	}
	if cfg.ToolDispatcher.DeadlineMS != 30000 {
		t.Fatalf("dispatcher deadline = %d", cfg.ToolDispatcher.DeadlineMS)
	}
}

func TestLoadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	body := `
provider: planka
provider_config:
  base_url: https://planka.example.com
  api_key_env: PLANKA_TOKEN
  board_id: "42"
  priority_labels:
    urgent: [p0, critical]
ai:
  enabled: true
  timeout_ms: 2000
logging:
  level: debug
`
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Provider != "planka" || cfg.ProviderConfig.BoardID != "42" {
		t.Fatalf("provider = %+v", cfg.ProviderConfig)
	}
	if !cfg.AI.Enabled || cfg.AI.TimeoutMS != 2000 {
		t.Fatalf("ai = %+v", cfg.AI)
	}
	if len(cfg.ProviderConfig.PriorityLabels.Urgent) != 2 {
		t.Fatalf("priority labels = %+v", cfg.ProviderConfig.PriorityLabels)
	}
	// Untouched sections keep defaults.
	if cfg.Pool.MaxConns != 8 {
		t.Fatalf("pool = %+v", cfg.Pool)
	}
}

func TestLoadJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	body := `{"provider": "github", "provider_config": {"project_id": "acme/widgets", "api_key_env": "GH_TOKEN"}}`
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Provider != "github" || cfg.ProviderConfig.ProjectID != "acme/widgets" {
		t.Fatalf("cfg = %+v", cfg)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("MARCUS_PROVIDER", "linear")
	t.Setenv("MARCUS_LOG_LEVEL", "warn")
	t.Setenv("MARCUS_AI_ENABLED", "true")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Provider != "linear" {
		t.Fatalf("provider = %q", cfg.Provider)
	}
	if cfg.Logging.Level != "warn" {
		t.Fatalf("level = %q", cfg.Logging.Level)
	}
	if !cfg.AI.Enabled {
		t.Fatal("ai should be enabled via env")
	}
}

func TestAPITokenIndirection(t *testing.T) {
	t.Setenv("SOME_TOKEN", "secret-value")
	p := ProviderConfig{APIKeyEnv: "SOME_TOKEN"}
	if p.APIToken() != "secret-value" {
		t.Fatalf("token = %q", p.APIToken())
	}
	if (ProviderConfig{}).APIToken() != "" {
		t.Fatal("empty indirection should yield empty token")
	}
}

func TestValidateRejections(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown provider", func(c *Config) { c.Provider = "jira" }},
		{"zero ai timeout", func(c *Config) { c.AI.TimeoutMS = 0 }},
		{"zero retry limit", func(c *Config) { c.Assignment.AssignmentRetryLimit = 0 }},
		{"inverted pool", func(c *Config) { c.Pool.MaxConns = 1; c.Pool.MinConns = 4 }},
		{"bad log level", func(c *Config) { c.Logging.Level = "verbose" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}
