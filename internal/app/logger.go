package app

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// NewLogger returns the process logger. LOG_FORMAT=json switches to the JSON
// handler; every record carries the service and environment.
func NewLogger(cfg *Config) *slog.Logger {
	return newLogger(os.Stdout, cfg)
}

func newLogger(w io.Writer, cfg *Config) *slog.Logger {
	opts := &slog.HandlerOptions{AddSource: true, Level: slog.LevelInfo}
	env := "development"
	format := ""
	if cfg != nil {
		opts.Level = parseLevel(cfg.LogLevel)
		env = cfg.AppEnv
		format = cfg.LogFormat
	}

	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler).With(slog.String("service", "odyssey-ledger"), slog.String("env", env))
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
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
