// Package config loads and validates blogwatch configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Auth       AuthConfig       `mapstructure:"auth"`
	HTTP       HTTPConfig       `mapstructure:"http"`
	Headless   HeadlessConfig   `mapstructure:"headless"`
	Refinement RefinementConfig `mapstructure:"refinement"`
	Pipeline   PipelineConfig   `mapstructure:"pipeline"`
	Dispatcher DispatcherConfig `mapstructure:"dispatcher"`
	LLM        LLMConfig        `mapstructure:"llm"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Storage    StorageConfig    `mapstructure:"storage"`
	PubSub     PubSubConfig     `mapstructure:"pubsub"`
	RateLimit  RateLimitConfig  `mapstructure:"ratelimit"`
	Digest     DigestConfig     `mapstructure:"digest"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port                   int `mapstructure:"port"`
	ShutdownTimeoutSeconds int `mapstructure:"shutdown_timeout_seconds"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// HTTPConfig configures listing and article fetches.
type HTTPConfig struct {
	UserAgent        string `mapstructure:"user_agent"`
	TimeoutSeconds   int    `mapstructure:"timeout_seconds"`
	MaxRetries       int    `mapstructure:"max_retries"`
	BackoffInitialMs int    `mapstructure:"backoff_initial_ms"`
	BackoffMaxMs     int    `mapstructure:"backoff_max_ms"`
}

// HeadlessConfig configures the headless rendering subsystem.
type HeadlessConfig struct {
	Enabled         bool   `mapstructure:"enabled"`
	MaxParallel     int    `mapstructure:"max_parallel"`
	NavTimeoutSec   int    `mapstructure:"nav_timeout_seconds"`
	PromotionThresh int    `mapstructure:"promotion_threshold"`
	MinAnchors      int    `mapstructure:"min_anchors"`
	WaitSelector    string `mapstructure:"wait_selector"`
	SettleDelayMs   int    `mapstructure:"settle_delay_ms"`
	ScrollPasses    int    `mapstructure:"scroll_passes"`
}

// RefinementConfig bounds schema generation.
type RefinementConfig struct {
	MaxAttempts int `mapstructure:"max_attempts"`
	// Scorer picks the container candidate: field_completeness or record_count.
	Scorer string `mapstructure:"scorer"`
}

// PipelineConfig tunes discovery and metadata extraction.
type PipelineConfig struct {
	MaxWorkers         int `mapstructure:"max_workers"`
	BlogWorkers        int `mapstructure:"blog_workers"`
	PostTimeoutSeconds int `mapstructure:"post_timeout_seconds"`
}

// DispatcherConfig sizes the task queue and its workers.
type DispatcherConfig struct {
	Workers            int `mapstructure:"workers"`
	QueueDepth         int `mapstructure:"queue_depth"`
	TaskTimeoutSeconds int `mapstructure:"task_timeout_seconds"`
}

// LLMConfig selects the schema and metadata oracle.
type LLMConfig struct {
	Provider        string  `mapstructure:"provider"`
	APIKey          string  `mapstructure:"api_key"`
	Model           string  `mapstructure:"model"`
	BaseURL         string  `mapstructure:"base_url"`
	Temperature     float32 `mapstructure:"temperature"`
	TimeoutSeconds  int     `mapstructure:"timeout_seconds"`
	MaxRetries      int     `mapstructure:"max_retries"`
	RetryDelayMs    int     `mapstructure:"retry_delay_ms"`
	MaxPromptBytes  int     `mapstructure:"max_prompt_bytes"`
	MaxContentBytes int     `mapstructure:"max_content_bytes"`
}

// DatabaseConfig selects the persistence gateway.
type DatabaseConfig struct {
	// Backend is memory or postgres.
	Backend         string        `mapstructure:"backend"`
	DSN             string        `mapstructure:"dsn"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
}

// StorageConfig selects where listing snapshots are archived.
type StorageConfig struct {
	// Backend is none, memory, local or gcs.
	Backend string             `mapstructure:"backend"`
	Bucket  string             `mapstructure:"bucket"`
	Prefix  string             `mapstructure:"prefix"`
	Local   LocalStorageConfig `mapstructure:"local"`
}

// LocalStorageConfig configures the filesystem snapshot store.
type LocalStorageConfig struct {
	BaseDir string `mapstructure:"base_dir"`
}

// PubSubConfig holds metadata for post notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// RateLimitConfig throttles requests per host.
type RateLimitConfig struct {
	Enabled      bool               `mapstructure:"enabled"`
	DefaultRPS   float64            `mapstructure:"default_rps"`
	DefaultBurst int                `mapstructure:"default_burst"`
	PerHostRPS   map[string]float64 `mapstructure:"per_host_rps"`
}

// DigestConfig sets the default window for recent-post queries.
type DigestConfig struct {
	WindowHours int `mapstructure:"window_hours"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("BLOGWATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.shutdown_timeout_seconds", 10)
	v.SetDefault("http.user_agent", "blogwatch/0.1")
	v.SetDefault("http.timeout_seconds", 15)
	v.SetDefault("http.max_retries", 3)
	v.SetDefault("http.backoff_initial_ms", 500)
	v.SetDefault("http.backoff_max_ms", 8000)
	v.SetDefault("headless.enabled", false)
	v.SetDefault("headless.max_parallel", 1)
	v.SetDefault("headless.nav_timeout_seconds", 45)
	v.SetDefault("headless.promotion_threshold", 2048)
	v.SetDefault("headless.min_anchors", 0)
	v.SetDefault("headless.scroll_passes", 2)
	v.SetDefault("refinement.max_attempts", 3)
	v.SetDefault("refinement.scorer", "field_completeness")
	v.SetDefault("pipeline.max_workers", 8)
	v.SetDefault("pipeline.blog_workers", 4)
	v.SetDefault("pipeline.post_timeout_seconds", 120)
	v.SetDefault("dispatcher.workers", 2)
	v.SetDefault("dispatcher.queue_depth", 64)
	v.SetDefault("dispatcher.task_timeout_seconds", 900)
	v.SetDefault("llm.provider", "gemini")
	v.SetDefault("llm.model", "gemini-1.5-flash")
	v.SetDefault("llm.temperature", 0.2)
	v.SetDefault("llm.timeout_seconds", 60)
	v.SetDefault("llm.max_retries", 3)
	v.SetDefault("llm.retry_delay_ms", 1000)
	v.SetDefault("llm.max_prompt_bytes", 100000)
	v.SetDefault("llm.max_content_bytes", 60000)
	v.SetDefault("database.backend", "memory")
	v.SetDefault("database.max_conns", 10)
	v.SetDefault("database.min_conns", 1)
	v.SetDefault("database.max_conn_lifetime", "30m")
	v.SetDefault("storage.backend", "none")
	v.SetDefault("storage.prefix", "snapshots")
	v.SetDefault("ratelimit.enabled", true)
	v.SetDefault("ratelimit.default_rps", 1.0)
	v.SetDefault("ratelimit.default_burst", 1)
	v.SetDefault("digest.window_hours", 24)
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")

	// Keys without a meaningful default still need registering so env
	// overrides reach Unmarshal.
	v.SetDefault("auth.enabled", false)
	for _, key := range []string{
		"auth.api_key", "llm.api_key", "llm.base_url",
		"database.dsn", "storage.bucket", "storage.local.base_dir",
		"pubsub.project_id", "pubsub.topic_name", "headless.wait_selector",
	} {
		v.SetDefault(key, "")
	}
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	var errs []error
	if c.Server.Port <= 0 {
		errs = append(errs, errors.New("server.port must be > 0"))
	}
	if c.HTTP.TimeoutSeconds <= 0 {
		errs = append(errs, errors.New("http.timeout_seconds must be > 0"))
	}
	if c.Headless.Enabled && c.Headless.MaxParallel <= 0 {
		errs = append(errs, errors.New("headless.max_parallel must be > 0 when headless is enabled"))
	}
	if c.Headless.ScrollPasses < 0 {
		errs = append(errs, errors.New("headless.scroll_passes must be >= 0"))
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		errs = append(errs, errors.New("auth.api_key must be set when auth is enabled"))
	}
	if c.Refinement.MaxAttempts <= 0 {
		errs = append(errs, errors.New("refinement.max_attempts must be > 0"))
	}
	if c.Dispatcher.Workers <= 0 {
		errs = append(errs, errors.New("dispatcher.workers must be > 0"))
	}
	if c.Dispatcher.QueueDepth <= 0 {
		errs = append(errs, errors.New("dispatcher.queue_depth must be > 0"))
	}
	switch c.LLM.Provider {
	case "gemini", "openai":
	default:
		errs = append(errs, fmt.Errorf("llm.provider %q must be gemini or openai", c.LLM.Provider))
	}
	switch c.Database.Backend {
	case "memory":
	case "postgres":
		if c.Database.DSN == "" {
			errs = append(errs, errors.New("database.dsn must be set for the postgres backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("database.backend %q must be memory or postgres", c.Database.Backend))
	}
	switch c.Storage.Backend {
	case "none", "memory":
	case "local":
		if c.Storage.Local.BaseDir == "" {
			errs = append(errs, errors.New("storage.local.base_dir must be set for the local backend"))
		}
	case "gcs":
		if c.Storage.Bucket == "" {
			errs = append(errs, errors.New("storage.bucket must be set for the gcs backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("storage.backend %q must be none, memory, local or gcs", c.Storage.Backend))
	}
	if c.RateLimit.Enabled && c.RateLimit.DefaultRPS <= 0 {
		errs = append(errs, errors.New("ratelimit.default_rps must be > 0 when rate limiting is enabled"))
	}
	if c.Digest.WindowHours <= 0 {
		errs = append(errs, errors.New("digest.window_hours must be > 0"))
	}
	return errors.Join(errs...)
}

// FetchTimeout bounds a single fetch attempt.
func (c Config) FetchTimeout() time.Duration {
	return time.Duration(c.HTTP.TimeoutSeconds) * time.Second
}

// BackoffInitial is the first retry delay.
func (c Config) BackoffInitial() time.Duration {
	return time.Duration(c.HTTP.BackoffInitialMs) * time.Millisecond
}

// BackoffMax caps retry delays.
func (c Config) BackoffMax() time.Duration {
	return time.Duration(c.HTTP.BackoffMaxMs) * time.Millisecond
}

// PostTimeout bounds the processing of one post.
func (c Config) PostTimeout() time.Duration {
	return time.Duration(c.Pipeline.PostTimeoutSeconds) * time.Second
}

// TaskTimeout bounds one queued task. Zero means unbounded.
func (c Config) TaskTimeout() time.Duration {
	return time.Duration(c.Dispatcher.TaskTimeoutSeconds) * time.Second
}

// LLMTimeout bounds one oracle call.
func (c Config) LLMTimeout() time.Duration {
	return time.Duration(c.LLM.TimeoutSeconds) * time.Second
}

// LLMRetryDelay is the pause between oracle retries.
func (c Config) LLMRetryDelay() time.Duration {
	return time.Duration(c.LLM.RetryDelayMs) * time.Millisecond
}

// NavigationTimeout bounds a headless page load.
func (c Config) NavigationTimeout() time.Duration {
	return time.Duration(c.Headless.NavTimeoutSec) * time.Second
}

// SettleDelay bounds how long the headless renderer waits for a listing to
// stop growing.
func (c Config) SettleDelay() time.Duration {
	return time.Duration(c.Headless.SettleDelayMs) * time.Millisecond
}

// ShutdownTimeout bounds graceful shutdown.
func (c Config) ShutdownTimeout() time.Duration {
	return time.Duration(c.Server.ShutdownTimeoutSeconds) * time.Second
}

// DigestWindow is the default look-back for recent posts.
func (c Config) DigestWindow() time.Duration {
	return time.Duration(c.Digest.WindowHours) * time.Hour
}
