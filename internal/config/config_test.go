package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadWithFileOverrides(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	configYAML := `
server:
  port: 9090
auth:
  enabled: true
  api_key: secret
http:
  user_agent: test-agent
  timeout_seconds: 45
  max_retries: 4
headless:
  enabled: true
  max_parallel: 2
  nav_timeout_seconds: 30
refinement:
  max_attempts: 5
  scorer: record_count
pipeline:
  max_workers: 3
  post_timeout_seconds: 60
llm:
  provider: openai
  model: gpt-4o-mini
database:
  backend: postgres
  dsn: postgres://localhost/blogwatch
  max_conn_lifetime: 5m
storage:
  backend: local
  local:
    base_dir: /tmp/snapshots
ratelimit:
  per_host_rps:
    slow.example.com: 0.25
digest:
  window_hours: 6
logging:
  development: false
`
	if err := os.WriteFile(path, []byte(configYAML), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 9090 {
		t.Fatalf("expected port 9090, got %d", cfg.Server.Port)
	}
	if !cfg.Auth.Enabled || cfg.Auth.APIKey != "secret" {
		t.Fatalf("expected auth enabled with secret key")
	}
	if cfg.Refinement.MaxAttempts != 5 || cfg.Refinement.Scorer != "record_count" {
		t.Fatalf("expected refinement overrides to apply: %+v", cfg.Refinement)
	}
	if cfg.LLM.Provider != "openai" || cfg.LLM.Model != "gpt-4o-mini" {
		t.Fatalf("expected llm overrides to apply: %+v", cfg.LLM)
	}
	if cfg.Database.MaxConnLifetime != 5*time.Minute {
		t.Fatalf("expected 5m conn lifetime, got %v", cfg.Database.MaxConnLifetime)
	}
	if cfg.Storage.Local.BaseDir != "/tmp/snapshots" {
		t.Fatalf("expected local base dir, got %q", cfg.Storage.Local.BaseDir)
	}
	if got := cfg.RateLimit.PerHostRPS["slow.example.com"]; got != 0.25 {
		t.Fatalf("expected per-host rps 0.25, got %v", got)
	}
	if got := cfg.FetchTimeout(); got != 45*time.Second {
		t.Fatalf("expected fetch timeout 45s, got %v", got)
	}
	if got := cfg.PostTimeout(); got != time.Minute {
		t.Fatalf("expected post timeout 1m, got %v", got)
	}
	if got := cfg.DigestWindow(); got != 6*time.Hour {
		t.Fatalf("expected digest window 6h, got %v", got)
	}
	if cfg.Logging.Development {
		t.Fatalf("expected production logging")
	}
}

func TestLoadDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Refinement.MaxAttempts != 3 {
		t.Fatalf("expected default budget 3, got %d", cfg.Refinement.MaxAttempts)
	}
	if cfg.Database.Backend != "memory" || cfg.Storage.Backend != "none" {
		t.Fatalf("expected in-memory defaults, got %q/%q", cfg.Database.Backend, cfg.Storage.Backend)
	}
	if got := cfg.PostTimeout(); got != 120*time.Second {
		t.Fatalf("expected post timeout 120s, got %v", got)
	}
	if got := cfg.LLMTimeout(); got != time.Minute {
		t.Fatalf("expected llm timeout 1m, got %v", got)
	}
}

// Not parallel: mutates the process environment.
func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("BLOGWATCH_REFINEMENT_MAX_ATTEMPTS", "7")
	t.Setenv("BLOGWATCH_LLM_API_KEY", "from-env")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Refinement.MaxAttempts != 7 {
		t.Fatalf("expected env budget 7, got %d", cfg.Refinement.MaxAttempts)
	}
	if cfg.LLM.APIKey != "from-env" {
		t.Fatalf("expected env api key, got %q", cfg.LLM.APIKey)
	}
}

func TestLoadMissingFile(t *testing.T) {
	t.Parallel()

	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestConfigValidateErrors(t *testing.T) {
	t.Parallel()

	base := Config{
		Server:     ServerConfig{Port: 8080},
		HTTP:       HTTPConfig{TimeoutSeconds: 10},
		Refinement: RefinementConfig{MaxAttempts: 3},
		Dispatcher: DispatcherConfig{Workers: 1, QueueDepth: 8},
		LLM:        LLMConfig{Provider: "gemini"},
		Database:   DatabaseConfig{Backend: "memory"},
		Storage:    StorageConfig{Backend: "none"},
		Digest:     DigestConfig{WindowHours: 24},
	}
	if err := base.Validate(); err != nil {
		t.Fatalf("base config should validate: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{name: "invalid port", mutate: func(c *Config) { c.Server.Port = 0 }, want: "server.port"},
		{name: "invalid timeout", mutate: func(c *Config) { c.HTTP.TimeoutSeconds = 0 }, want: "http.timeout_seconds"},
		{
			name: "headless missing max parallel",
			mutate: func(c *Config) {
				c.Headless.Enabled = true
				c.Headless.MaxParallel = 0
			},
			want: "headless.max_parallel",
		},
		{name: "negative scroll passes", mutate: func(c *Config) { c.Headless.ScrollPasses = -1 }, want: "headless.scroll_passes"},
		{name: "auth missing api key", mutate: func(c *Config) { c.Auth.Enabled = true }, want: "auth.api_key"},
		{name: "zero budget", mutate: func(c *Config) { c.Refinement.MaxAttempts = 0 }, want: "refinement.max_attempts"},
		{name: "unknown provider", mutate: func(c *Config) { c.LLM.Provider = "oracle" }, want: "llm.provider"},
		{name: "postgres without dsn", mutate: func(c *Config) { c.Database.Backend = "postgres" }, want: "database.dsn"},
		{name: "gcs without bucket", mutate: func(c *Config) { c.Storage.Backend = "gcs" }, want: "storage.bucket"},
		{name: "local without dir", mutate: func(c *Config) { c.Storage.Backend = "local" }, want: "storage.local.base_dir"},
		{
			name: "rate limit without rps",
			mutate: func(c *Config) {
				c.RateLimit.Enabled = true
				c.RateLimit.DefaultRPS = 0
			},
			want: "ratelimit.default_rps",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := base
			tt.mutate(&cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}
