// Package logging builds the process-wide slog logger. Long-running
// services hang child loggers off it with ForService so every line says
// which part of the daemon wrote it.
package logging

import (
	"log/slog"
	"os"
)

// NewLogger returns the root logger for the given environment name.
// Production logs JSON at info level; everything else gets
// human-readable text at debug level.
func NewLogger(env string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: slog.LevelInfo}

	if env == "production" {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}

	opts.Level = slog.LevelDebug

	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}

// ForService returns a child logger tagged with the service name.
func ForService(logger *slog.Logger, name string) *slog.Logger {
	return logger.With(slog.String("service", name))
}
