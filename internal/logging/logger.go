// Package logging builds the slog loggers used across synccity.
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/pkg/errors"
)

type Config struct {
	Level     string `yaml:"level"`  // debug, info, warn, error
	Format    string `yaml:"format"` // text, json
	AddSource bool   `yaml:"add_source"`
}

var DefaultConfig = Config{Level: "info", Format: "text"}

// Component and Operation render as plain strings in log records.
type Component string

func (c Component) LogValue() slog.Value { return slog.StringValue(string(c)) }

type Operation string

func (o Operation) LogValue() slog.Value { return slog.StringValue(string(o)) }

// ParseLevel maps a config level name onto slog. Empty means info.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, errors.Errorf("unknown log level %q", s)
}

// New returns a logger writing to w, stderr when w is nil.
func New(cfg Config, w io.Writer) (*slog.Logger, error) {
	level, err := ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	if w == nil {
		w = os.Stderr
	}
	opts := &slog.HandlerOptions{Level: level, AddSource: cfg.AddSource}
	var handler slog.Handler
	switch strings.ToLower(cfg.Format) {
	case "", "text":
		handler = slog.NewTextHandler(w, opts)
	case "json":
		handler = slog.NewJSONHandler(w, opts)
	default:
		return nil, errors.Errorf("unknown log format %q", cfg.Format)
	}
	return slog.New(handler), nil
}

// WithComponent tags every record of the returned logger with component.
func WithComponent(l *slog.Logger, c Component) *slog.Logger {
	if l == nil {
		l = slog.Default()
	}
	return l.With(slog.Any("component", c))
}

// WithOperation tags records with the operation being run.
func WithOperation(l *slog.Logger, op Operation) *slog.Logger {
	if l == nil {
		l = slog.Default()
	}
	return l.With(slog.Any("operation", op))
}

// Discard drops everything. Handy in tests.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
