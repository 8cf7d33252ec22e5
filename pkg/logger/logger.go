// Package logger constructs the shared slog logger used across the daemon.
package logger

import (
	"log/slog"
	"os"
)

// New returns a text logger writing to stderr. Debug enables verbose output
// and source locations.
func New(debug bool) *slog.Logger {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level:     level,
		AddSource: debug,
	})
	return slog.New(handler)
}
