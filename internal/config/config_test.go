package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestDefaultConfigIsValidWithSecret(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Auth.TokenSecret = "secret"
	require.NoError(t, cfg.Validate())

	require.Equal(t, 8080, cfg.Server.Port)
	require.Equal(t, "hash", cfg.Encoder.Type)
	require.Equal(t, 384, cfg.Encoder.Dimensions)
	require.Equal(t, 0.2, cfg.Embedding.RebuildRatio)
	require.Equal(t, 7*24*time.Hour, cfg.Monitor.EventRetention)
}

func TestLoadFromFileOverridesDefaults(t *testing.T) {
	path := writeConfigFile(t, `
server:
  port: 9090
redis:
  addr: "redis.internal:6379"
auth:
  require_auth: false
embedding:
  similarity_threshold: 0.5
`)

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)

	require.Equal(t, 9090, cfg.Server.Port)
	require.Equal(t, "redis.internal:6379", cfg.Redis.Addr)
	require.False(t, cfg.Auth.RequireAuth)
	require.Equal(t, 0.5, cfg.Embedding.SimilarityThreshold)
	// untouched sections keep their defaults
	require.Equal(t, "hash", cfg.Encoder.Type)
	require.Equal(t, 1024, cfg.Monitor.QueueSize)
}

func TestLoadFromFileExpandsEnvVars(t *testing.T) {
	t.Setenv("HUB_TEST_SECRET", "from-env")

	path := writeConfigFile(t, `
auth:
  require_auth: true
  token_secret: "${HUB_TEST_SECRET}"
`)

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)
	require.Equal(t, "from-env", cfg.Auth.TokenSecret)
}

func TestLoadFromFileMissingFile(t *testing.T) {
	_, err := LoadFromFile(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestLoadFromFileMalformedYAML(t *testing.T) {
	path := writeConfigFile(t, "server: [not a mapping")
	_, err := LoadFromFile(path)
	require.Error(t, err)
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero port", func(c *Config) { c.Server.Port = 0 }},
		{"port out of range", func(c *Config) { c.Server.Port = 70000 }},
		{"auth without secret", func(c *Config) {
			c.Auth.RequireAuth = true
			c.Auth.TokenSecret = ""
		}},
		{"negative token expiry", func(c *Config) { c.Auth.TokenExpiry = -time.Hour }},
		{"unknown encoder", func(c *Config) { c.Encoder.Type = "grpc" }},
		{"http encoder without base url", func(c *Config) {
			c.Encoder.Type = "http"
			c.Encoder.BaseURL = ""
		}},
		{"zero dimensions", func(c *Config) { c.Encoder.Dimensions = 0 }},
		{"threshold above one", func(c *Config) { c.Embedding.SimilarityThreshold = 1.5 }},
		{"rebuild ratio at one", func(c *Config) { c.Embedding.RebuildRatio = 1.0 }},
		{"empty index path", func(c *Config) { c.Embedding.IndexPath = "" }},
		{"zero queue size", func(c *Config) { c.Monitor.QueueSize = 0 }},
		{"zero event retention", func(c *Config) { c.Monitor.EventRetention = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.Auth.TokenSecret = "secret"
			tt.mutate(cfg)
			require.Error(t, cfg.Validate())
		})
	}
}

func TestValidateAcceptsHTTPEncoder(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Auth.TokenSecret = "secret"
	cfg.Encoder.Type = "http"
	cfg.Encoder.BaseURL = "https://api.openai.com/v1"
	cfg.Encoder.Model = "text-embedding-3-small"
	require.NoError(t, cfg.Validate())
}
