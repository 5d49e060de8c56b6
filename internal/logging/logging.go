// Package logging configures the process-wide slog logger. Components
// attach their own "component" attribute on top of the default.
package logging

import (
	"log/slog"
	"os"
	"strings"
)

// Setup configures the global slog logger. Unknown level strings fall back
// to info rather than erroring: a misconfigured level must never stop a
// sitting from being proctored.
func Setup(level string) {
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: ParseLevel(level),
	})
	slog.SetDefault(slog.New(handler).With("app", "examguard"))
}

// ParseLevel maps a config level string to a slog level, defaulting to info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
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
