package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("INFERGATE_CONFIG", "")

	result, err := Load()
	require.NoError(t, err)
	cfg := result.Config

	assert.Empty(t, result.Path)
	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, 256, cfg.Orchestrator.DefaultMaxTokens)
	assert.InDelta(t, 1.0, cfg.Orchestrator.DefaultTemperature, 1e-9)
	assert.InDelta(t, 1.0, cfg.Orchestrator.DefaultTopP, 1e-9)
	assert.Equal(t, "chars", cfg.Orchestrator.TokenEstimator)
	assert.Equal(t, "memory", cfg.Cache.Type)
	assert.Equal(t, 3600, cfg.Cache.TTL)
	assert.Equal(t, 86400, cfg.Cache.StoreTTL)
	assert.Equal(t, 5*time.Minute, cfg.Secrets.CacheTTL)
	assert.Equal(t, 3*time.Second, cfg.Health.ProbeTimeout)
	assert.Equal(t, "internal-service-key", cfg.Backend.APIKeySecret)
	require.Len(t, cfg.Models, 3)
	assert.Equal(t, "mixtral-8x7b", cfg.Models[0].ID)
}

func TestLoad_FromEnvironment(t *testing.T) {
	t.Setenv("INFERGATE_CONFIG", "")
	t.Setenv("PORT", "9090")

	result, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "9090", result.Config.Server.Port)
}

func TestLoadFile_YAMLWithPlaceholders(t *testing.T) {
	t.Setenv("TEST_CACHE_TTL", "")
	t.Setenv("TEST_BACKEND", "http://vllm.inference.svc:8000")

	path := writeConfig(t, `
server:
  port: "${TEST_PORT_UNSET:-9999}"
orchestrator:
  default_max_tokens: 512
cache:
  ttl: ${TEST_CACHE_TTL:-600}
  collapse_inflight: ${TEST_COLLAPSE_UNSET:-true}
secrets:
  cache_ttl: ${TEST_SECRETS_TTL_UNSET:-90s}
backend:
  base_url: "${TEST_BACKEND}"
models:
  - id: tiny
    context_length: ${TEST_CONTEXT_UNSET:-2048}
    price_per_1k_tokens: ${TEST_PRICE_UNSET:-0.0005}
    priority: 0
    backend_url: http://tiny.inference.svc:8000
`)

	result, err := LoadFile(path)
	require.NoError(t, err)
	cfg := result.Config

	assert.Equal(t, path, result.Path)
	assert.Equal(t, "9999", cfg.Server.Port)
	assert.Equal(t, 512, cfg.Orchestrator.DefaultMaxTokens)
	assert.Equal(t, 600, cfg.Cache.TTL)
	assert.Equal(t, "http://vllm.inference.svc:8000", cfg.Backend.BaseURL)
	require.Len(t, cfg.Models, 1, "a configured catalog replaces the default one")
	assert.Equal(t, "tiny", cfg.Models[0].ID)
	assert.Equal(t, "http://tiny.inference.svc:8000", cfg.Models[0].BackendURL)
	assert.Equal(t, 2048, cfg.Models[0].ContextLength)
	assert.InDelta(t, 0.0005, cfg.Models[0].PricePer1KTokens, 1e-12)
	assert.True(t, cfg.Cache.CollapseInflight)
	assert.Equal(t, 90*time.Second, cfg.Secrets.CacheTTL)
}

func TestLoadFile_EnvOverridesYAML(t *testing.T) {
	t.Setenv("PORT", "7070")
	path := writeConfig(t, "server:\n  port: \"8081\"\n")

	result, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "7070", result.Config.Server.Port)
}

func TestLoadFile_MissingExplicitPath(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestLoadFile_InvalidYAML(t *testing.T) {
	path := writeConfig(t, "server: [unterminated")

	_, err := LoadFile(path)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(cfg *Config)
		wantErr string
	}{
		{
			name:   "defaults are valid",
			mutate: func(cfg *Config) {},
		},
		{
			name:    "empty catalog",
			mutate:  func(cfg *Config) { cfg.Models = nil },
			wantErr: "Models",
		},
		{
			name: "duplicate model id",
			mutate: func(cfg *Config) {
				cfg.Models = append(cfg.Models, ModelConfig{ID: "phi-3-mini", ContextLength: 100})
			},
			wantErr: "duplicate model id",
		},
		{
			name: "auto is reserved",
			mutate: func(cfg *Config) {
				cfg.Models[0].ID = "auto"
			},
			wantErr: "ID",
		},
		{
			name:    "non-positive context length",
			mutate:  func(cfg *Config) { cfg.Models[1].ContextLength = 0 },
			wantErr: "ContextLength",
		},
		{
			name:    "negative price",
			mutate:  func(cfg *Config) { cfg.Models[1].PricePer1KTokens = -1 },
			wantErr: "PricePer1KTokens",
		},
		{
			name:    "unknown cache type",
			mutate:  func(cfg *Config) { cfg.Cache.Type = "memcached" },
			wantErr: "Type",
		},
		{
			name:    "redis cache without url",
			mutate:  func(cfg *Config) { cfg.Cache.Type = "redis" },
			wantErr: "cache.redis.url",
		},
		{
			name:    "keyvault without vault",
			mutate:  func(cfg *Config) { cfg.Secrets.Type = "keyvault" },
			wantErr: "vault_name",
		},
		{
			name:    "probe timeout not below interval",
			mutate:  func(cfg *Config) { cfg.Health.ProbeTimeout = 30 * time.Second },
			wantErr: "probe_timeout",
		},
		{
			name:    "mongodb cache without url",
			mutate:  func(cfg *Config) { cfg.Cache.Type = "mongodb" },
			wantErr: "storage.mongodb.url",
		},
		{
			name: "postgres usage without url",
			mutate: func(cfg *Config) {
				cfg.Usage.Enabled = true
				cfg.Storage.Type = "postgresql"
			},
			wantErr: "storage.postgresql.url",
		},
		{
			name:    "temperature default out of range",
			mutate:  func(cfg *Config) { cfg.Orchestrator.DefaultTemperature = 3 },
			wantErr: "DefaultTemperature",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := buildDefaultConfig()
			tt.mutate(cfg)

			err := Validate(cfg)
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestSchema(t *testing.T) {
	schema, err := Schema()
	require.NoError(t, err)

	assert.Contains(t, string(schema), `"default_max_tokens"`)
	assert.Contains(t, string(schema), `"master_key_secret"`)
}
