// Package log provides structured logging for go-trackables.
// It wraps slog with sensible defaults for production use.
package log

import (
	"log/slog"
	"os"
	"strings"
	"sync"
)

var (
	logger *slog.Logger
	mu     sync.Mutex
)

// ParseLevel maps "debug", "info", "warn" or "error" to a slog level.
// Anything else is info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Init initializes the global logger with the specified level.
// Uses JSON when GO_ENV=production, text otherwise.
func Init(level string) {
	opts := &slog.HandlerOptions{
		Level: ParseLevel(level),
	}

	var l *slog.Logger
	if os.Getenv("GO_ENV") == "production" {
		l = slog.New(slog.NewJSONHandler(os.Stdout, opts))
	} else {
		l = slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	SetLogger(l)
}

// SetLogger replaces the global logger (tests use this to capture output)
func SetLogger(l *slog.Logger) {
	mu.Lock()
	logger = l
	mu.Unlock()
	slog.SetDefault(l)
}

// L returns the global logger instance.
func L() *slog.Logger {
	mu.Lock()
	l := logger
	mu.Unlock()
	if l == nil {
		Init("info")
		return L()
	}
	return l
}

// Debug logs at debug level.
func Debug(msg string, args ...any) {
	L().Debug(msg, args...)
}

// Info logs at info level.
func Info(msg string, args ...any) {
	L().Info(msg, args...)
}

// Warn logs at warn level.
func Warn(msg string, args ...any) {
	L().Warn(msg, args...)
}

// Error logs at error level.
func Error(msg string, args ...any) {
	L().Error(msg, args...)
}

// With returns a logger with the given attributes.
func With(args ...any) *slog.Logger {
	return L().With(args...)
}

// Component returns a logger tagged with a component name
func Component(name string) *slog.Logger {
	return L().With("component", name)
}
