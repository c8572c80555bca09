// Package logging wires the bridge's log/slog handler, grounded on
// nerrad567-gray-logic-stack's internal/infrastructure/logging package:
// JSON in production, text in development, a default-fields block, and a
// New(cfg, ...)/Default() pair rather than a single package-level global.
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// Config mirrors the logging section of SPEC_FULL.md §3's Config, loaded
// from config.yaml via internal/config.
type Config struct {
	Level  string // debug, info, warn, error
	Format string // json, text
	Output string // stdout, stderr
}

// New builds a *slog.Logger for cfg, with a "component" field set to
// component and, unlike the teacher's version field, no extra defaults —
// the bridge has no separately versioned service name to stamp.
func New(cfg Config, component string) *slog.Logger {
	var output io.Writer
	switch strings.ToLower(cfg.Output) {
	case "stderr":
		output = os.Stderr
	default:
		output = os.Stdout
	}

	opts := &slog.HandlerOptions{Level: parseLevel(cfg.Level)}

	var handler slog.Handler
	switch strings.ToLower(cfg.Format) {
	case "text":
		handler = slog.NewTextHandler(output, opts)
	default:
		handler = slog.NewJSONHandler(output, opts)
	}

	handler = handler.WithAttrs([]slog.Attr{slog.String("component", component)})
	return slog.New(handler)
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

// Default returns a text, info-level logger writing to stderr, for use
// before config.yaml is loaded.
func Default(component string) *slog.Logger {
	return New(Config{Level: "info", Format: "text", Output: "stderr"}, component)
}
