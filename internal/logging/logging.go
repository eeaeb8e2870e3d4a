// Package logging configures the process-wide structured logger used by
// every component of the runtime: engine, sockets, modes, and
// instances all log through *slog.Logger rather than fmt/log, so that
// field layout and verbosity are controlled in one place.
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// Config controls how Configure builds the logger.
type Config struct {
	Level            string            // debug, info, warn, error
	Structured       bool              // false = plain text handler
	StructuredFormat string            // "json" or "text", only consulted when Structured
	IncludePID       bool              // attach the OS pid to every record
	ServiceName      string            // attached as a "service" attr when non-empty
	ExtraFields      map[string]string // arbitrary static attrs, e.g. build version
}

// Configure builds a *slog.Logger from cfg, installs it as slog's
// package-level default, and returns it for explicit use.
func Configure(cfg Config) *slog.Logger {
	level := parseLevel(cfg.Level)
	out := io.Writer(os.Stderr)

	attrs := make([]slog.Attr, 0, len(cfg.ExtraFields)+2)
	if cfg.ServiceName != "" {
		attrs = append(attrs, slog.String("service", cfg.ServiceName))
	}
	for k, v := range cfg.ExtraFields {
		attrs = append(attrs, slog.String(k, v))
	}
	if cfg.IncludePID {
		attrs = append(attrs, slog.Int("pid", os.Getpid()))
	}

	var handler slog.Handler
	if cfg.Structured && strings.ToLower(cfg.StructuredFormat) == "json" {
		handler = slog.NewJSONHandler(out, &slog.HandlerOptions{Level: level})
	} else {
		handler = slog.NewTextHandler(out, &slog.HandlerOptions{Level: level})
	}

	if len(attrs) > 0 {
		handler = handler.WithAttrs(attrs)
	}
	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

func parseLevel(s string) slog.Level {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
