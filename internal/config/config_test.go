package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("ENV", "development")
	t.Setenv("STATE_BACKEND", "")
	t.Setenv("PHRASING_PROVIDER", "")

	cfg := Load()
	assert.Equal(t, "8080", cfg.ServerPort)
	assert.Equal(t, StateBackendNATS, cfg.StateBackend)
	assert.Equal(t, PhrasingNone, cfg.PhrasingProvider)
	assert.Equal(t, 2*time.Second, cfg.RecognitionTimeout)
	assert.Equal(t, 5, cfg.HistoryLimit)
	require.NoError(t, cfg.Validate())
}

func TestLoad_ReadsEnvironment(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("STATE_BACKEND", "Memory")
	t.Setenv("RECOGNITION_TIMEOUT", "750ms")
	t.Setenv("HISTORY_LIMIT", "not-a-number")
	t.Setenv("TRACING_ENABLED", "true")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://app.example.com, ,https://admin.example.com")

	cfg := Load()
	assert.Equal(t, "9090", cfg.ServerPort)
	assert.Equal(t, StateBackendMemory, cfg.StateBackend)
	assert.Equal(t, 750*time.Millisecond, cfg.RecognitionTimeout)
	assert.Equal(t, 5, cfg.HistoryLimit)
	assert.True(t, cfg.TracingEnabled)
	assert.Equal(t, []string{"https://app.example.com", "https://admin.example.com"}, cfg.AllowedOrigins)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Env:               "development",
			JWTSecret:         "secret",
			DatabaseDSN:       "data/assistant.db",
			StateBackend:      StateBackendMemory,
			PhrasingProvider:  PhrasingNone,
			RateLimitRequests: 60,
			RateLimitWindow:   time.Minute,
			HistoryLimit:      5,
		}
	}
	require.NoError(t, valid().Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"unknown backend", func(c *Config) { c.StateBackend = "redis" }, "STATE_BACKEND"},
		{"unknown phrasing", func(c *Config) { c.PhrasingProvider = "gemini" }, "PHRASING_PROVIDER"},
		{"phrasing without key", func(c *Config) { c.PhrasingProvider = PhrasingAnthropic }, "ANTHROPIC_API_KEY"},
		{"default secret in production", func(c *Config) { c.Env = "production"; c.JWTSecret = developmentSecret }, "JWT_SECRET"},
		{"no rate limit", func(c *Config) { c.RateLimitRequests = 0 }, "RATE_LIMIT"},
		{"unknown log level", func(c *Config) { c.LogLevel = "verbose" }, "LOG_LEVEL"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}
