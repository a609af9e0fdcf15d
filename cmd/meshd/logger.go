package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
)

// initLogger builds the process-wide slog.Logger, CLI flag taking
// priority over the MESHD_LOG_LEVEL/MESHD_LOG_FORMAT environment
// variables (grounded on the teacher's cmd/hector/logger.go CLI > env >
// default priority, reimplemented over log/slog directly now that
// pkg/logger has no importer left in this tree — see DESIGN.md).
func initLogger(level, format string) (*slog.Logger, error) {
	if level == "" {
		level = envOrDefault("MESHD_LOG_LEVEL", "info")
	}
	if format == "" {
		format = envOrDefault("MESHD_LOG_FORMAT", "text")
	}

	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "info":
		lvl = slog.LevelInfo
	case "warn", "warning":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		return nil, fmt.Errorf("meshd: invalid log level %q", level)
	}

	opts := &slog.HandlerOptions{Level: lvl}
	var handler slog.Handler
	switch strings.ToLower(format) {
	case "json":
		handler = slog.NewJSONHandler(os.Stderr, opts)
	case "text", "":
		handler = slog.NewTextHandler(os.Stderr, opts)
	default:
		return nil, fmt.Errorf("meshd: invalid log format %q", format)
	}

	return slog.New(handler), nil
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
