// Package config provides environment configuration for the API server.
package config

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/capitalize-ai/shopping-assistant/pkg/logger"
)

// State backends.
const (
	StateBackendNATS   = "nats"
	StateBackendMemory = "memory"
)

// Phrasing providers.
const (
	PhrasingNone      = "none"
	PhrasingAnthropic = "anthropic"
	PhrasingOpenAI    = "openai"
)

const developmentSecret = "development-secret-change-in-production"

// Config holds all configuration for the application.
type Config struct {
	Env string

	// Server settings
	ServerPort         string
	ServerReadTimeout  time.Duration
	ServerWriteTimeout time.Duration
	AllowedOrigins     []string
	SSEHeartbeat       time.Duration

	// NATS settings
	NATSURL      string
	NATSCAFile   string
	NATSCertFile string
	NATSKeyFile  string
	NATSToken    string

	// JWT settings
	JWTSecret string

	// Database settings
	DatabaseDSN    string
	DBMaxOpenConns int

	// Flow settings
	FlowDefinitionPath string
	StateBackend       string
	StateStoreTimeout  time.Duration
	RecognitionTimeout time.Duration
	HistoryLimit       int

	// LLM settings
	AnthropicAPIKey  string
	OpenAIAPIKey     string
	PhrasingProvider string
	PhrasingModel    string
	PhrasingTimeout  time.Duration

	// Speech settings
	SpeechVoice         string
	SpeechMaxAudioBytes int

	// Rate limiting
	RateLimitRequests int
	RateLimitWindow   time.Duration

	// Logging
	LogLevel string

	// Tracing
	TracingEndpoint string
	TracingEnabled  bool
}

// Load reads configuration from environment variables. A .env file in the
// working directory is applied first without overriding variables already
// set.
func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		Env: getEnv("ENV", "production"),

		// Server
		ServerPort:         getEnv("PORT", "8080"),
		ServerReadTimeout:  getDurationEnv("SERVER_READ_TIMEOUT", 30*time.Second),
		ServerWriteTimeout: getDurationEnv("SERVER_WRITE_TIMEOUT", 0),
		AllowedOrigins:     getListEnv("CORS_ALLOWED_ORIGINS"),
		SSEHeartbeat:       getDurationEnv("SSE_HEARTBEAT", 30*time.Second),

		// NATS
		NATSURL:      getEnv("NATS_URL", "nats://localhost:4222"),
		NATSCAFile:   getEnv("NATS_CA_FILE", ""),
		NATSCertFile: getEnv("NATS_CERT_FILE", ""),
		NATSKeyFile:  getEnv("NATS_KEY_FILE", ""),
		NATSToken:    getEnv("NATS_TOKEN", ""),

		// JWT
		JWTSecret: getEnv("JWT_SECRET", developmentSecret),

		// Database
		DatabaseDSN:    getEnv("DATABASE_DSN", "data/assistant.db"),
		DBMaxOpenConns: getIntEnv("DB_MAX_OPEN_CONNS", 0),

		// Flow
		FlowDefinitionPath: getEnv("FLOW_DEFINITION_PATH", ""),
		StateBackend:       strings.ToLower(getEnv("STATE_BACKEND", StateBackendNATS)),
		StateStoreTimeout:  getDurationEnv("STATE_STORE_TIMEOUT", 3*time.Second),
		RecognitionTimeout: getDurationEnv("RECOGNITION_TIMEOUT", 2*time.Second),
		HistoryLimit:       getIntEnv("HISTORY_LIMIT", 5),

		// LLM
		AnthropicAPIKey:  getEnv("ANTHROPIC_API_KEY", ""),
		OpenAIAPIKey:     getEnv("OPENAI_API_KEY", ""),
		PhrasingProvider: strings.ToLower(getEnv("PHRASING_PROVIDER", PhrasingNone)),
		PhrasingModel:    getEnv("PHRASING_MODEL", ""),
		PhrasingTimeout:  getDurationEnv("PHRASING_TIMEOUT", 2*time.Second),

		// Speech
		SpeechVoice:         getEnv("SPEECH_VOICE", "alloy"),
		SpeechMaxAudioBytes: getIntEnv("SPEECH_MAX_AUDIO_BYTES", 10<<20),

		// Rate limiting
		RateLimitRequests: getIntEnv("RATE_LIMIT_REQUESTS", 60),
		RateLimitWindow:   getDurationEnv("RATE_LIMIT_WINDOW", time.Minute),

		// Logging
		LogLevel: getEnv("LOG_LEVEL", "info"),

		// Tracing
		TracingEndpoint: getEnv("TRACING_ENDPOINT", "localhost:4318"),
		TracingEnabled:  getBoolEnv("TRACING_ENABLED", false),
	}
}

// Validate rejects unknown enum values and settings the server cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if !slices.Contains([]string{StateBackendNATS, StateBackendMemory}, c.StateBackend) {
		errs = append(errs, fmt.Errorf("STATE_BACKEND must be %q or %q, got %q", StateBackendNATS, StateBackendMemory, c.StateBackend))
	}
	if !slices.Contains([]string{PhrasingNone, PhrasingAnthropic, PhrasingOpenAI}, c.PhrasingProvider) {
		errs = append(errs, fmt.Errorf("PHRASING_PROVIDER must be none, anthropic or openai, got %q", c.PhrasingProvider))
	}
	if c.PhrasingProvider == PhrasingAnthropic && c.AnthropicAPIKey == "" {
		errs = append(errs, errors.New("PHRASING_PROVIDER=anthropic requires ANTHROPIC_API_KEY"))
	}
	if c.PhrasingProvider == PhrasingOpenAI && c.OpenAIAPIKey == "" {
		errs = append(errs, errors.New("PHRASING_PROVIDER=openai requires OPENAI_API_KEY"))
	}
	if c.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET is required"))
	}
	if c.Env == "production" && c.JWTSecret == developmentSecret {
		errs = append(errs, errors.New("JWT_SECRET must be set in production"))
	}
	if c.DatabaseDSN == "" {
		errs = append(errs, errors.New("DATABASE_DSN is required"))
	}
	if c.RateLimitRequests <= 0 || c.RateLimitWindow <= 0 {
		errs = append(errs, errors.New("RATE_LIMIT_REQUESTS and RATE_LIMIT_WINDOW must be positive"))
	}
	if c.HistoryLimit <= 0 {
		errs = append(errs, errors.New("HISTORY_LIMIT must be positive"))
	}
	if _, err := logger.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("LOG_LEVEL: %w", err))
	}
	return errors.Join(errs...)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

// getListEnv splits a comma separated value, dropping empty entries.
func getListEnv(key string) []string {
	var out []string
	for _, item := range strings.Split(os.Getenv(key), ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
