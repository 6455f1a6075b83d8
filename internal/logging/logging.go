// Package logging configures the process-wide slog default exactly once
// at startup. Every other component derives its own *slog.Logger via
// .With("component", ...) instead of calling the global logger, so log
// lines stay attributable to their source.
package logging

import (
	"log/slog"
	"os"
)

// Config controls the format and level of the process-wide logger.
type Config struct {
	Level  string // debug | info | warn | error
	Format string // text | json
}

// Setup installs the configured slog handler as the package default and
// returns a root logger components can further narrow with .With.
func Setup(cfg Config) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}
