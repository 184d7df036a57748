// Package config provides configuration management with hot-reload support.
// It uses fsnotify to watch for file changes and atomic pointer swaps for zero-downtime updates.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete MemoryHub configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Redis     RedisConfig     `yaml:"redis"`
	Postgres  PostgresConfig  `yaml:"postgres"`
	Encoder   EncoderConfig   `yaml:"encoder"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Auth      AuthConfig      `yaml:"auth"`
	Monitor   MonitorConfig   `yaml:"monitor"`
	Logging   LoggingConfig   `yaml:"logging"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Port         int           `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout"`
}

// RedisConfig contains connection settings for the fast key-value store.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`

	ClusterAddrs []string `yaml:"cluster_addrs"`

	SentinelAddrs  []string `yaml:"sentinel_addrs"`
	SentinelMaster string   `yaml:"sentinel_master"`

	DialTimeout  time.Duration `yaml:"dial_timeout"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	PoolSize     int           `yaml:"pool_size"`
	MinIdleConns int           `yaml:"min_idle_conns"`
	MaxRetries   int           `yaml:"max_retries"`
}

// PostgresConfig contains connection settings for the durable structured store.
// When Host is empty the hub falls back to the in-memory store.
type PostgresConfig struct {
	Host         string        `yaml:"host"`
	Port         int           `yaml:"port"`
	User         string        `yaml:"user"`
	Password     string        `yaml:"password"`
	Database     string        `yaml:"database"`
	SSLMode      string        `yaml:"ssl_mode"`
	MaxOpenConns int           `yaml:"max_open_conns"`
	MaxIdleConns int           `yaml:"max_idle_conns"`
	ConnLifetime time.Duration `yaml:"conn_lifetime"`
}

// EncoderConfig selects and configures the text encoder.
type EncoderConfig struct {
	// Type is "http" for an OpenAI-compatible embeddings endpoint or "hash"
	// for the deterministic built-in encoder (tests, air-gapped deploys).
	Type       string        `yaml:"type"`
	BaseURL    string        `yaml:"base_url"`
	APIKey     string        `yaml:"api_key"`
	Model      string        `yaml:"model"`
	Dimensions int           `yaml:"dimensions"`
	Timeout    time.Duration `yaml:"timeout"`
}

// EmbeddingConfig contains similarity index settings.
type EmbeddingConfig struct {
	IndexPath           string  `yaml:"index_path"`
	MetadataPath        string  `yaml:"metadata_path"`
	SimilarityThreshold float64 `yaml:"similarity_threshold"`
	RebuildRatio        float64 `yaml:"rebuild_ratio"` // deleted/total ratio that triggers a rebuild
}

// AuthConfig contains token signing and trust settings.
type AuthConfig struct {
	RequireAuth       bool          `yaml:"require_auth"`
	TokenSecret       string        `yaml:"token_secret"`
	TokenExpiry       time.Duration `yaml:"token_expiry"`
	TrustedIdentities []string      `yaml:"trusted_identities"`
	ScoreCacheTTL     time.Duration `yaml:"score_cache_ttl"`
}

// MonitorConfig contains background maintenance intervals and retention windows.
type MonitorConfig struct {
	QueueSize         int           `yaml:"queue_size"`
	SessionSweep      time.Duration `yaml:"session_sweep"`
	InactiveAfter     time.Duration `yaml:"inactive_after"`
	CleanupInterval   time.Duration `yaml:"cleanup_interval"`
	EventRetention    time.Duration `yaml:"event_retention"`
	RebuildInterval   time.Duration `yaml:"rebuild_interval"`
	AnalysisInterval  time.Duration `yaml:"analysis_interval"`
	HealthInterval    time.Duration `yaml:"health_interval"`
	HealthSnapshotTTL time.Duration `yaml:"health_snapshot_ttl"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// MetricsConfig contains Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:         8080,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 60 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		Redis: RedisConfig{
			Addr:         "localhost:6379",
			DialTimeout:  5 * time.Second,
			ReadTimeout:  3 * time.Second,
			WriteTimeout: 3 * time.Second,
			PoolSize:     10,
			MinIdleConns: 2,
			MaxRetries:   3,
		},
		Postgres: PostgresConfig{
			Port:         5432,
			Database:     "memoryhub",
			SSLMode:      "disable",
			MaxOpenConns: 25,
			MaxIdleConns: 5,
			ConnLifetime: 5 * time.Minute,
		},
		Encoder: EncoderConfig{
			Type:       "hash",
			Model:      "text-embedding-3-small",
			Dimensions: 384,
			Timeout:    10 * time.Second,
		},
		Embedding: EmbeddingConfig{
			IndexPath:           "data/index.bin",
			MetadataPath:        "data/index.meta.json",
			SimilarityThreshold: 0.3,
			RebuildRatio:        0.2,
		},
		Auth: AuthConfig{
			RequireAuth:   true,
			TokenExpiry:   12 * time.Hour,
			ScoreCacheTTL: time.Hour,
		},
		Monitor: MonitorConfig{
			QueueSize:         1024,
			SessionSweep:      5 * time.Minute,
			InactiveAfter:     2 * time.Hour,
			CleanupInterval:   time.Hour,
			EventRetention:    7 * 24 * time.Hour,
			RebuildInterval:   24 * time.Hour,
			AnalysisInterval:  time.Minute,
			HealthInterval:    2 * time.Minute,
			HealthSnapshotTTL: 5 * time.Minute,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
	}
}

// LoadFromFile reads and parses a YAML configuration file.
// Environment variables in the format ${VAR_NAME} are expanded.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	cfg := DefaultConfig()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	if c.Auth.RequireAuth && c.Auth.TokenSecret == "" {
		return fmt.Errorf("auth.token_secret is required when auth.require_auth is enabled")
	}
	if c.Auth.TokenExpiry < 0 {
		return fmt.Errorf("auth.token_expiry cannot be negative")
	}

	switch c.Encoder.Type {
	case "hash":
	case "http":
		if c.Encoder.BaseURL == "" {
			return fmt.Errorf("encoder.base_url is required for the http encoder")
		}
		if c.Encoder.Model == "" {
			return fmt.Errorf("encoder.model is required for the http encoder")
		}
	default:
		return fmt.Errorf("unknown encoder type: %q", c.Encoder.Type)
	}
	if c.Encoder.Dimensions <= 0 {
		return fmt.Errorf("encoder.dimensions must be positive")
	}

	if c.Embedding.SimilarityThreshold < 0 || c.Embedding.SimilarityThreshold > 1 {
		return fmt.Errorf("embedding.similarity_threshold must be in [0,1]")
	}
	if c.Embedding.RebuildRatio <= 0 || c.Embedding.RebuildRatio >= 1 {
		return fmt.Errorf("embedding.rebuild_ratio must be in (0,1)")
	}
	if c.Embedding.IndexPath == "" || c.Embedding.MetadataPath == "" {
		return fmt.Errorf("embedding.index_path and embedding.metadata_path are required")
	}

	if c.Monitor.QueueSize <= 0 {
		return fmt.Errorf("monitor.queue_size must be positive")
	}
	if c.Monitor.EventRetention <= 0 {
		return fmt.Errorf("monitor.event_retention must be positive")
	}

	return nil
}
