// Package logging builds the structured loggers handed to every component.
//
// Components accept a *slog.Logger and tag their records with a component
// field:
//
//	logger := logging.New(cfg.Log, os.Stderr)
//	reader := file.NewReader(selector, dir, logger.With(logging.Component("reader")))
//
// A nil logger is always acceptable; OrDiscard turns it into one that drops
// every record.
package logging

import (
	"io"
	"log/slog"
	"strings"

	"rumspool/internal/config"
)

const ComponentKey = "component"

// New returns a logger writing to w with the configured level and format.
func New(cfg config.LogConfig, w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: ParseLevel(cfg.Level)}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// ParseLevel maps a level name to slog.Level, defaulting to info.
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

// Component returns the attribute used to tag a component's records.
func Component(name string) slog.Attr {
	return slog.String(ComponentKey, name)
}

// OrDiscard returns l, or a logger that drops everything when l is nil.
func OrDiscard(l *slog.Logger) *slog.Logger {
	if l != nil {
		return l
	}
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
