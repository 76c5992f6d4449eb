// Package logger provides the process-wide structured logger.
package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
)

var (
	mu       sync.RWMutex
	log      *slog.Logger
	levelVar = new(slog.LevelVar)
)

func init() {
	levelVar.Set(ParseLevel(os.Getenv("LOG_LEVEL")))
	install(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: levelVar}))
}

func install(h slog.Handler) {
	mu.Lock()
	log = slog.New(h)
	mu.Unlock()
	// Code that logs through slog directly gets the same output.
	slog.SetDefault(slog.New(h))
}

func current() *slog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return log
}

// ParseLevel maps debug|info|warn|error (case-insensitive) to a level.
// Anything else is info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

// UseText switches to a human-readable handler on w. The CLI uses it for
// --verbose output on stderr.
func UseText(w io.Writer, level slog.Level) {
	levelVar.Set(level)
	install(slog.NewTextHandler(w, &slog.HandlerOptions{Level: levelVar}))
}

// IsDebug returns true if debug logging is enabled
func IsDebug() bool {
	return levelVar.Level() <= slog.LevelDebug
}

// SetDebugForTest enables or disables debug mode for testing purposes.
// Returns a cleanup function that restores the original state.
func SetDebugForTest(enabled bool) func() {
	original := levelVar.Level()
	if enabled {
		levelVar.Set(slog.LevelDebug)
	} else {
		levelVar.Set(slog.LevelInfo)
	}
	return func() {
		levelVar.Set(original)
	}
}

func Debug(msg string, args ...any) {
	current().Debug(msg, args...)
}

// Info logs an informational message with structured fields
func Info(msg string, args ...any) {
	current().Info(msg, args...)
}

func Warn(msg string, args ...any) {
	current().Warn(msg, args...)
}

func Error(msg string, args ...any) {
	current().Error(msg, args...)
}

// Fatal logs an error message and exits with status 1
func Fatal(msg string, args ...any) {
	current().Error(msg, args...)
	os.Exit(1)
}

// SetOutputForTest redirects JSON log output to w.
// Returns a cleanup function that restores the original output.
func SetOutputForTest(w io.Writer) func() {
	original := current().Handler()
	install(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: levelVar}))
	return func() {
		install(original)
	}
}
