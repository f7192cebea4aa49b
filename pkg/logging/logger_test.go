// Copyright (C) 2025 VibeForge (jaggannadhan@vibeforge.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package logging

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestLevelString(t *testing.T) {
	tests := []struct {
		level Level
		want  string
	}{
		{LevelDebug, "DEBUG"},
		{LevelInfo, "INFO"},
		{LevelWarn, "WARN"},
		{LevelError, "ERROR"},
		{Level(99), "UNKNOWN"},
	}
	for _, tt := range tests {
		if got := tt.level.String(); got != tt.want {
			t.Errorf("Level(%d).String() = %q, want %q", tt.level, got, tt.want)
		}
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want Level
	}{
		{"debug", LevelDebug},
		{"INFO", LevelInfo},
		{"Warn", LevelWarn},
		{"warning", LevelWarn},
		{"error", LevelError},
		{"bogus", LevelInfo},
		{"", LevelInfo},
	}
	for _, tt := range tests {
		if got := ParseLevel(tt.in); got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestNew_FileLogging(t *testing.T) {
	dir := t.TempDir()
	logger := New(Config{
		LogDir:  dir,
		Service: "testsvc",
		Quiet:   true,
	})

	logger.Info("hello file", "key", "value")
	if err := logger.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	matches, err := filepath.Glob(filepath.Join(dir, "testsvc_*.log"))
	if err != nil || len(matches) != 1 {
		t.Fatalf("log file not created: %v %v", matches, err)
	}
	data, err := os.ReadFile(matches[0])
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), `"hello file"`) {
		t.Errorf("file log missing message: %s", data)
	}
	if !strings.Contains(string(data), `"service":"testsvc"`) {
		t.Errorf("file log missing service attr: %s", data)
	}
}

func TestNew_BadLogDirDegrades(t *testing.T) {
	file := filepath.Join(t.TempDir(), "occupied")
	if err := os.WriteFile(file, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	// LogDir collides with an existing file; logger must still work.
	logger := New(Config{LogDir: filepath.Join(file, "logs")})
	logger.Info("still alive")
	if err := logger.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
}

func TestExpandHome(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home directory")
	}
	if got := expandHome("~/logs"); got != filepath.Join(home, "logs") {
		t.Errorf("expandHome(~/logs) = %q", got)
	}
	if got := expandHome("/abs/path"); got != "/abs/path" {
		t.Errorf("expandHome(/abs/path) = %q", got)
	}
}

func TestAttrsFromArgs(t *testing.T) {
	attrs := attrsFromArgs([]any{"a", 1, "b", "two", "dangling"})
	if attrs["a"] != 1 || attrs["b"] != "two" {
		t.Errorf("attrs = %v", attrs)
	}
	if v, ok := attrs["dangling"]; !ok || v != nil {
		t.Errorf("dangling key = %v, %v", v, ok)
	}
	if attrsFromArgs(nil) != nil {
		t.Error("empty args should produce nil map")
	}
}

// captureExporter records exported entries for assertions.
type captureExporter struct {
	mu      sync.Mutex
	entries []LogEntry
}

func (c *captureExporter) Export(_ context.Context, entry LogEntry) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = append(c.entries, entry)
	return nil
}

func (c *captureExporter) Flush(context.Context) error { return nil }
func (c *captureExporter) Close() error                { return nil }

func (c *captureExporter) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func TestExporter_ReceivesEntriesAboveLevel(t *testing.T) {
	exporter := &captureExporter{}
	logger := New(Config{
		Level:    LevelWarn,
		Quiet:    true,
		Service:  "exp",
		Exporter: exporter,
	})
	defer logger.Close()

	logger.Info("filtered out")
	logger.Warn("exported", "n", 1)

	deadline := time.Now().Add(2 * time.Second)
	for exporter.count() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if got := exporter.count(); got != 1 {
		t.Fatalf("exported %d entries, want 1", got)
	}

	exporter.mu.Lock()
	entry := exporter.entries[0]
	exporter.mu.Unlock()
	if entry.Message != "exported" || entry.Level != "WARN" || entry.Service != "exp" {
		t.Errorf("entry = %+v", entry)
	}
}
