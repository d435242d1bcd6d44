// Package config provides immutable runtime configuration resolved
// from environment variables at startup.
package config

import (
	"os"
	"strconv"
	"strings"
)

// Config holds all proxy configuration. Immutable after Load returns.
type Config struct {
	// Host and Port are where the proxy itself listens. Not part of
	// spec.md's settings (the original is run under uvicorn's own
	// --host/--port flags); carried here since a Go binary needs to
	// bind its own listener.
	Host string
	Port int

	// DefaultUpstream is the base URL every request goes to when the
	// model map is empty (trailing slash stripped). When a model map is
	// configured, an unmapped model is rejected rather than sent here.
	DefaultUpstream string

	// ModelUpstreams maps model id -> upstream base URL. May be empty.
	ModelUpstreams map[string]string

	// APIKeys is the raw list of "KEY[:CLIENTID]" specs, in the order
	// they should be applied (later entries win on duplicate keys).
	APIKeys []string

	CORSAllowedOrigins []string

	ConnectTimeoutS     float64
	TimeoutChatS        float64
	TimeoutCompletionsS float64
	TimeoutEmbeddingsS  float64
	TimeoutModelsS      float64

	MaxRetries    int
	RetryBackoffS float64
	RateLimitRPM  int
	LogLevel      string
}

// Default returns the zero-config defaults named in spec §6.
func Default() *Config {
	return &Config{
		Host:                "0.0.0.0",
		Port:                8081,
		DefaultUpstream:     "http://127.0.0.1:8080",
		ModelUpstreams:      map[string]string{},
		APIKeys:             nil,
		CORSAllowedOrigins:  nil,
		ConnectTimeoutS:     5.0,
		TimeoutChatS:        120.0,
		TimeoutCompletionsS: 120.0,
		TimeoutEmbeddingsS:  60.0,
		TimeoutModelsS:      10.0,
		MaxRetries:          2,
		RetryBackoffS:       0.35,
		RateLimitRPM:        120,
		LogLevel:            "info",
	}
}

// Load resolves configuration from environment variables, starting
// from defaults. Unknown environment variables are ignored.
func Load() (*Config, error) {
	cfg := Default()

	cfg.Host = getEnvStr("PROXY_HOST", cfg.Host)
	cfg.Port = getEnvInt("PROXY_PORT", cfg.Port)

	cfg.DefaultUpstream = strings.TrimRight(getEnvStr("LLAMA_CPP_BASE_URL", cfg.DefaultUpstream), "/")
	cfg.ModelUpstreams = getEnvModelMap("MODEL_UPSTREAMS")

	keys := getEnvCSV("OPENAI_API_KEYS")
	if single := os.Getenv("OPENAI_API_KEY"); single != "" {
		keys = append(keys, single)
	}
	cfg.APIKeys = keys

	cfg.CORSAllowedOrigins = getEnvCSV("CORS_ALLOWED_ORIGINS")

	cfg.ConnectTimeoutS = getEnvFloat("CONNECT_TIMEOUT_S", cfg.ConnectTimeoutS)
	cfg.TimeoutChatS = getEnvFloat("TIMEOUT_CHAT_S", cfg.TimeoutChatS)
	cfg.TimeoutCompletionsS = getEnvFloat("TIMEOUT_COMPLETIONS_S", cfg.TimeoutCompletionsS)
	cfg.TimeoutEmbeddingsS = getEnvFloat("TIMEOUT_EMBEDDINGS_S", cfg.TimeoutEmbeddingsS)
	cfg.TimeoutModelsS = getEnvFloat("TIMEOUT_MODELS_S", cfg.TimeoutModelsS)

	cfg.MaxRetries = getEnvInt("MAX_RETRIES", cfg.MaxRetries)
	cfg.RetryBackoffS = getEnvFloat("RETRY_BACKOFF_S", cfg.RetryBackoffS)
	cfg.RateLimitRPM = getEnvInt("RATE_LIMIT_RPM", cfg.RateLimitRPM)
	cfg.LogLevel = getEnvStr("LOG_LEVEL", cfg.LogLevel)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration for internal consistency.
func (c *Config) Validate() error {
	if c.MaxRetries < 0 {
		return &ConfigError{Field: "MAX_RETRIES", Message: "must be >= 0"}
	}
	if c.RateLimitRPM < 1 {
		return &ConfigError{Field: "RATE_LIMIT_RPM", Message: "must be >= 1"}
	}
	for model, base := range c.ModelUpstreams {
		if model == "" {
			return &ConfigError{Field: "MODEL_UPSTREAMS", Message: "model id must not be empty"}
		}
		if strings.HasSuffix(base, "/") {
			return &ConfigError{Field: "MODEL_UPSTREAMS", Message: "upstream base URL for " + model + " must not have a trailing slash"}
		}
	}
	return nil
}

// ConfigError represents a configuration validation error.
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return "config error: " + e.Field + ": " + e.Message
}

// --- environment variable helpers ---

func getEnvStr(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return n
}

func getEnvFloat(key string, defaultVal float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return defaultVal
	}
	return f
}

func getEnvCSV(key string) []string {
	raw := os.Getenv(key)
	if raw == "" {
		return nil
	}
	var out []string
	for _, item := range strings.Split(raw, ",") {
		item = strings.TrimSpace(item)
		if item != "" {
			out = append(out, item)
		}
	}
	return out
}

// getEnvModelMap parses a comma-separated list of "model=baseurl" pairs
// into a model->upstream map. Trailing slashes on base URLs are
// stripped; malformed entries (missing "=") are skipped.
func getEnvModelMap(key string) map[string]string {
	out := map[string]string{}
	for _, pair := range getEnvCSV(key) {
		idx := strings.Index(pair, "=")
		if idx <= 0 {
			continue
		}
		model := strings.TrimSpace(pair[:idx])
		base := strings.TrimRight(strings.TrimSpace(pair[idx+1:]), "/")
		if model == "" || base == "" {
			continue
		}
		out[model] = base
	}
	return out
}
