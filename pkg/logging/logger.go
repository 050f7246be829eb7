// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package logging provides structured logging for the data query
// service and CLI.
//
// Built on Go's standard slog package. The service logs JSON to
// stdout for container log collection; the CLI logs human-readable
// text to stderr so result JSON on stdout stays parseable. Optional
// file logging writes JSON files named {service}_{date}.log.
//
// # Thread Safety
//
// The returned *slog.Logger is safe for concurrent use.
//
// # Security Considerations
//
// This package does NOT automatically redact sensitive data. Callers
// must keep API keys out of log attributes:
//
//	// BAD: logs the upstream credential
//	logger.Info("connector ready", "api_key", cfg.APIKey)
//
//	// GOOD: log metadata only
//	logger.Info("connector ready", "api_key_present", cfg.APIKey != "")
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Config configures logger construction. A zero-value Config yields an
// info-level text logger on stderr.
type Config struct {
	// Level is the minimum severity: "debug", "info", "warn", "error".
	Level string

	// JSON selects JSON output (service mode) over text (CLI mode).
	JSON bool

	// Service names the component, used in file names and as a base
	// attribute on every record.
	Service string

	// LogDir, when set, additionally writes JSON log files to
	// {LogDir}/{service}_{date}.log. The directory is created if
	// missing.
	LogDir string

	// Output overrides the primary destination. Defaults to stderr.
	Output io.Writer
}

// ParseLevel maps a level name onto slog.Level. Unknown names fall
// back to info.
func ParseLevel(name string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(name)) {
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

// New builds a logger per the config. The returned close function
// flushes and closes the log file, if any; it is always non-nil.
func New(cfg Config) (*slog.Logger, func() error, error) {
	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}

	closeFn := func() error { return nil }
	if cfg.LogDir != "" {
		file, err := openLogFile(cfg.LogDir, cfg.Service)
		if err != nil {
			return nil, nil, err
		}
		out = io.MultiWriter(out, file)
		closeFn = file.Close
		cfg.JSON = true // mixed-format files are useless downstream
	}

	opts := &slog.HandlerOptions{Level: ParseLevel(cfg.Level)}
	var handler slog.Handler
	if cfg.JSON {
		handler = slog.NewJSONHandler(out, opts)
	} else {
		handler = slog.NewTextHandler(out, opts)
	}

	logger := slog.New(handler)
	if cfg.Service != "" {
		logger = logger.With("service", cfg.Service)
	}
	return logger, closeFn, nil
}

// Default returns a text logger on stderr at info level.
func Default() *slog.Logger {
	logger, _, _ := New(Config{})
	return logger
}

func openLogFile(dir, service string) (*os.File, error) {
	if service == "" {
		service = "dataquery"
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create log directory %s: %w", dir, err)
	}
	name := fmt.Sprintf("%s_%s.log", service, time.Now().Format("2006-01-02"))
	file, err := os.OpenFile(filepath.Join(dir, name), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	return file, nil
}
