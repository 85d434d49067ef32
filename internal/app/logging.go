package app

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// Log formats.
const (
	LogFormatText = "text"
	LogFormatJSON = "json"
)

// ParseLogLevel parses a level name. Unknown names report false.
func ParseLogLevel(s string) (slog.Level, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, true
	case "info", "":
		return slog.LevelInfo, true
	case "warn", "warning":
		return slog.LevelWarn, true
	case "error":
		return slog.LevelError, true
	default:
		return slog.LevelInfo, false
	}
}

// NewLogger builds the root logger. w defaults to os.Stderr.
func NewLogger(w io.Writer, level, format string) (*slog.Logger, error) {
	if w == nil {
		w = os.Stderr
	}
	lvl, ok := ParseLogLevel(level)
	if !ok {
		return nil, &OptionError{Option: "log level", Value: level}
	}

	handlerOpts := &slog.HandlerOptions{Level: lvl}
	var h slog.Handler
	switch strings.ToLower(strings.TrimSpace(format)) {
	case LogFormatText, "":
		h = slog.NewTextHandler(w, handlerOpts)
	case LogFormatJSON:
		h = slog.NewJSONHandler(w, handlerOpts)
	default:
		return nil, &OptionError{Option: "log format", Value: format}
	}
	return slog.New(h).With("app", "geoladris"), nil
}
