// Package logger wraps zap with the fields the assistant logs on every line.
package logger

import (
	"fmt"
	"os"
	"strings"
	"sync/atomic"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// ServiceName is attached to every production log line.
const ServiceName = "shopping-assistant"

// Logger is a wrapper around zap.Logger.
type Logger struct {
	*zap.Logger
}

// ParseLevel maps a LOG_LEVEL value to a zap level. "warning" is accepted as
// an alias for "warn".
func ParseLevel(level string) (zapcore.Level, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "", "info":
		return zapcore.InfoLevel, nil
	case "debug":
		return zapcore.DebugLevel, nil
	case "warn", "warning":
		return zapcore.WarnLevel, nil
	case "error":
		return zapcore.ErrorLevel, nil
	case "fatal":
		return zapcore.FatalLevel, nil
	}
	return zapcore.InfoLevel, fmt.Errorf("unknown log level %q", level)
}

// New creates a JSON logger writing to stdout. Unknown levels fall back to info.
func New(level string) (*Logger, error) {
	lvl, _ := ParseLevel(level)

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.Sampling = nil
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.EncoderConfig.EncodeDuration = zapcore.MillisDurationEncoder
	cfg.InitialFields = map[string]any{"service": ServiceName}

	zl, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}
	return &Logger{Logger: zl}, nil
}

// NewDevelopment creates a colored console logger at debug level.
func NewDevelopment() (*Logger, error) {
	cfg := zap.NewDevelopmentConfig()
	cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder

	zl, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}
	return &Logger{Logger: zl}, nil
}

// NewNop returns a logger that discards everything.
func NewNop() *Logger {
	return &Logger{Logger: zap.NewNop()}
}

// Wrap adapts an existing zap logger.
func Wrap(zl *zap.Logger) *Logger {
	return &Logger{Logger: zl}
}

// With creates a child logger with additional fields.
func (l *Logger) With(fields ...zap.Field) *Logger {
	return &Logger{Logger: l.Logger.With(fields...)}
}

// WithContext scopes a logger to one HTTP request. Empty values are omitted.
func (l *Logger) WithContext(correlationID, userID string) *Logger {
	fields := make([]zap.Field, 0, 2)
	if correlationID != "" {
		fields = append(fields, zap.String("correlation_id", correlationID))
	}
	if userID != "" {
		fields = append(fields, zap.String("user_id", userID))
	}
	return l.With(fields...)
}

// WithUser scopes a logger to a user's assistant session.
func (l *Logger) WithUser(userID, sessionID string) *Logger {
	fields := []zap.Field{zap.String("user_id", userID)}
	if sessionID != "" {
		fields = append(fields, zap.String("session_id", sessionID))
	}
	return l.With(fields...)
}

var global atomic.Pointer[Logger]

func init() {
	var (
		l   *Logger
		err error
	)
	if os.Getenv("ENV") == "development" {
		l, err = NewDevelopment()
	} else {
		l, err = New(os.Getenv("LOG_LEVEL"))
	}
	if err != nil {
		l = NewNop()
	}
	global.Store(l)
}

// Global returns the process-wide logger used when a component is built
// without one.
func Global() *Logger {
	return global.Load()
}

// SetGlobal replaces the process-wide logger. A nil logger is ignored.
func SetGlobal(l *Logger) {
	if l != nil {
		global.Store(l)
	}
}
