// Package log configures the process-wide slog logger used by every
// runtime binary.
package log

import (
	"log/slog"
	"os"
)

// Setup installs the default logger. Unknown levels fall back to info, and
// LOG_FORMAT=json switches to the JSON handler for log shippers.
func Setup(logLevel string) {
	var level slog.Level

	switch logLevel {
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
	if os.Getenv("LOG_FORMAT") == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}

	slog.SetDefault(slog.New(handler))
}

// WithModule returns the default logger tagged with the runtime module name.
func WithModule(module string) *slog.Logger {
	return slog.With("module", module)
}
