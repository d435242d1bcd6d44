//go:build !integration && !e2e

package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearProxyEnv(t *testing.T) {
	t.Helper()
	keys := []string{
		"PROXY_HOST", "PROXY_PORT",
		"LLAMA_CPP_BASE_URL", "MODEL_UPSTREAMS", "OPENAI_API_KEYS", "OPENAI_API_KEY",
		"CORS_ALLOWED_ORIGINS", "CONNECT_TIMEOUT_S", "TIMEOUT_CHAT_S",
		"TIMEOUT_COMPLETIONS_S", "TIMEOUT_EMBEDDINGS_S", "TIMEOUT_MODELS_S",
		"MAX_RETRIES", "RETRY_BACKOFF_S", "RATE_LIMIT_RPM", "LOG_LEVEL",
	}
	for _, k := range keys {
		orig, had := os.LookupEnv(k)
		os.Unsetenv(k)
		t.Cleanup(func() {
			if had {
				os.Setenv(k, orig)
			}
		})
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearProxyEnv(t)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "http://127.0.0.1:8080", cfg.DefaultUpstream)
	assert.Empty(t, cfg.ModelUpstreams)
	assert.Nil(t, cfg.APIKeys)
	assert.Equal(t, 120, cfg.RateLimitRPM)
	assert.Equal(t, 2, cfg.MaxRetries)
}

func TestLoad_StripsTrailingSlash(t *testing.T) {
	clearProxyEnv(t)
	os.Setenv("LLAMA_CPP_BASE_URL", "http://localhost:9000/")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:9000", cfg.DefaultUpstream)
}

func TestLoad_ModelUpstreams(t *testing.T) {
	clearProxyEnv(t)
	os.Setenv("MODEL_UPSTREAMS", "gpt-a=http://a:8080/,gpt-b=http://b:8080")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, map[string]string{
		"gpt-a": "http://a:8080",
		"gpt-b": "http://b:8080",
	}, cfg.ModelUpstreams)
}

func TestLoad_APIKeysCombinesListAndSingle(t *testing.T) {
	clearProxyEnv(t)
	os.Setenv("OPENAI_API_KEYS", "key-one,key-two")
	os.Setenv("OPENAI_API_KEY", "key-three")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, []string{"key-one", "key-two", "key-three"}, cfg.APIKeys)
}

func TestLoad_InvalidRateLimitRejected(t *testing.T) {
	clearProxyEnv(t)
	os.Setenv("RATE_LIMIT_RPM", "0")

	_, err := Load()
	require.Error(t, err)
	var cfgErr *ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "RATE_LIMIT_RPM", cfgErr.Field)
}

func TestLoad_MalformedIntFallsBackToDefault(t *testing.T) {
	clearProxyEnv(t)
	os.Setenv("MAX_RETRIES", "not-a-number")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 2, cfg.MaxRetries)
}

func TestValidate_TrailingSlashOnModelUpstreamRejected(t *testing.T) {
	cfg := Default()
	cfg.ModelUpstreams = map[string]string{"m": "http://a:8080/"}

	err := cfg.Validate()
	require.Error(t, err)
}
