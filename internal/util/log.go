// Package util provides shared utilities for logging, retries, rate
// limiting, and run identifiers.
package util

import (
	"log/slog"
	"os"
	"strings"

	"github.com/google/uuid"
)

// NewLogger creates a structured logger using log/slog at the specified
// level. Supported levels: "debug", "info", "warn", "error". Defaults to
// "info" if the level string is not recognised.
func NewLogger(level string) *slog.Logger {
	var slevel slog.Level
	switch strings.ToLower(level) {
	case "debug":
		slevel = slog.LevelDebug
	case "info":
		slevel = slog.LevelInfo
	case "warn":
		slevel = slog.LevelWarn
	case "error":
		slevel = slog.LevelError
	default:
		slevel = slog.LevelInfo
	}

	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slevel,
	})

	return slog.New(handler)
}

// SetDefault configures the provided logger as the default slog logger.
func SetDefault(logger *slog.Logger) {
	slog.SetDefault(logger)
}

// NewTaskID returns a run identifier of the form <PREFIX>_<8 hex chars>,
// e.g. "EVENING_3fa85f64".
func NewTaskID(prefix string) string {
	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	return strings.ToUpper(prefix) + "_" + id[:8]
}
