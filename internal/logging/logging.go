// Package logging builds the process-wide slog logger. Output is JSON on
// stderr by default; every record carries the service name and the
// application version being served.
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

const serviceName = "semflagz"

// Options configures New and NewWithWriter.
type Options struct {
	// Level is one of debug, info, warn or error (case-insensitive).
	Level string
	// Format is "json" (default) or "text".
	Format string
	// AppVersion is attached to every record as app_version when set.
	AppVersion string
}

// New creates a logger writing to stderr.
func New(opts Options) *slog.Logger {
	return NewWithWriter(opts, os.Stderr)
}

func NewWithWriter(opts Options, w io.Writer) *slog.Logger {
	handlerOpts := &slog.HandlerOptions{Level: ParseLevel(opts.Level)}

	var handler slog.Handler
	if strings.EqualFold(strings.TrimSpace(opts.Format), "text") {
		handler = slog.NewTextHandler(w, handlerOpts)
	} else {
		handler = slog.NewJSONHandler(w, handlerOpts)
	}

	logger := slog.New(handler).With(slog.String("service", serviceName))
	if v := strings.TrimSpace(opts.AppVersion); v != "" {
		logger = logger.With(slog.String("app_version", v))
	}
	return logger
}

// ParseLevel converts a level string to a [slog.Level].
// Returns [slog.LevelInfo] for unrecognised values.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
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
