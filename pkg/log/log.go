// Package log configures the process-wide structured logger.
package log

import (
	"log/slog"
	"os"
	"strings"
)

// ParseLevel maps a textual level to a slog level, defaulting to info.
func ParseLevel(logLevel string) slog.Level {
	switch strings.ToLower(logLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Setup installs the default logger. Format "json" selects the JSON handler,
// anything else the text handler.
func Setup(logLevel, format string) {
	opts := &slog.HandlerOptions{Level: ParseLevel(logLevel)}

	var handler slog.Handler = slog.NewTextHandler(os.Stderr, opts)
	if format == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	}

	slog.SetDefault(slog.New(handler))
}

func WithModule(module string) *slog.Logger {
	return slog.With("module", module)
}
