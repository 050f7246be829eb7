// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		name string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"WARNING", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},
		{"bogus", slog.LevelInfo},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ParseLevel(tt.name), tt.name)
	}
}

func TestNewJSONWithServiceAttribute(t *testing.T) {
	var buf bytes.Buffer
	logger, closeFn, err := New(Config{JSON: true, Service: "dataqueryd", Output: &buf})
	require.NoError(t, err)
	defer closeFn()

	logger.Info("cache opened", "entries", 3)

	var record map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
	assert.Equal(t, "dataqueryd", record["service"])
	assert.Equal(t, "cache opened", record["msg"])
	assert.Equal(t, 3.0, record["entries"])
}

func TestNewLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger, closeFn, err := New(Config{Level: "warn", Output: &buf})
	require.NoError(t, err)
	defer closeFn()

	logger.Info("dropped")
	logger.Warn("kept")

	out := buf.String()
	assert.NotContains(t, out, "dropped")
	assert.Contains(t, out, "kept")
}

func TestNewFileLogging(t *testing.T) {
	dir := t.TempDir()
	var buf bytes.Buffer
	logger, closeFn, err := New(Config{Service: "cli", LogDir: dir, Output: &buf})
	require.NoError(t, err)

	logger.Info("plan executed", "plan_id", "crime-vs-pop")
	require.NoError(t, closeFn())

	name := "cli_" + time.Now().Format("2006-01-02") + ".log"
	raw, err := os.ReadFile(filepath.Join(dir, name))
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(raw), `"plan_id":"crime-vs-pop"`),
		"file output must be JSON")
}
