// Package logging provides structured logging for flowcomposer components.
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
)

// Field represents a key-value pair in a log entry
type Field struct {
	// Key is the field name
	Key string

	// Value is the field value
	Value interface{}
}

// F is a shorthand constructor for a Field
func F(key string, value interface{}) Field {
	return Field{Key: key, Value: value}
}

// Logger provides structured logging
type Logger interface {
	// Debug logs a debug message
	Debug(msg string, fields ...Field)

	// Info logs an info message
	Info(msg string, fields ...Field)

	// Warn logs a warning message
	Warn(msg string, fields ...Field)

	// Error logs an error message
	Error(msg string, fields ...Field)

	// WithFields returns a new logger with the given fields attached to every entry
	WithFields(fields ...Field) Logger
}

// Config contains configuration for the logger
type Config struct {
	// Level is the minimum log level to output: "debug", "info", "warn", "error"
	Level string

	// Format is the log format: "json" or "text"
	Format string

	// Output is where logs are written; defaults to stderr
	Output io.Writer
}

// slogLogger implements Logger on top of log/slog
type slogLogger struct {
	s *slog.Logger
}

// New creates a Logger from the given configuration
func New(cfg Config) Logger {
	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}

	opts := &slog.HandlerOptions{Level: parseLevel(cfg.Level)}

	var handler slog.Handler
	if strings.EqualFold(cfg.Format, "text") {
		handler = slog.NewTextHandler(out, opts)
	} else {
		handler = slog.NewJSONHandler(out, opts)
	}

	return &slogLogger{s: slog.New(handler)}
}

var (
	defaultLogger     Logger
	defaultLoggerOnce sync.Once
)

// Default returns the shared default logger (info level, JSON, stderr)
func Default() Logger {
	defaultLoggerOnce.Do(func() {
		defaultLogger = New(Config{Level: "info", Format: "json"})
	})
	return defaultLogger
}

// Nop returns a logger that discards everything; used in tests
func Nop() Logger {
	return New(Config{Level: "error", Output: io.Discard})
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
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

func fieldArgs(fields []Field) []any {
	args := make([]any, 0, len(fields)*2)
	for _, f := range fields {
		args = append(args, f.Key, f.Value)
	}
	return args
}

func (l *slogLogger) Debug(msg string, fields ...Field) {
	l.s.Debug(msg, fieldArgs(fields)...)
}

func (l *slogLogger) Info(msg string, fields ...Field) {
	l.s.Info(msg, fieldArgs(fields)...)
}

func (l *slogLogger) Warn(msg string, fields ...Field) {
	l.s.Warn(msg, fieldArgs(fields)...)
}

func (l *slogLogger) Error(msg string, fields ...Field) {
	l.s.Error(msg, fieldArgs(fields)...)
}

func (l *slogLogger) WithFields(fields ...Field) Logger {
	return &slogLogger{s: l.s.With(fieldArgs(fields)...)}
}
