// Copyright (C) 2025 VibeForge (jaggannadhan@vibeforge.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package logging provides structured logging for VibeForge components.
//
// The package is built on the standard library slog package with a layered
// output model:
//
//   - Default: stderr output for CLI compatibility (follows Unix conventions)
//   - Optional: file logging with automatic directory creation
//   - Extension: pluggable LogExporter for shipping entries elsewhere
//
// # Basic Usage
//
//	logger := logging.Default()
//	logger.Info("run started", "run_id", runID)
//	logger.Error("capture failed", "error", err)
//
// # File Logging
//
//	logger := logging.New(logging.Config{
//	    Level:   logging.LevelInfo,
//	    LogDir:  "~/.vibeforge/logs", // Supports ~ expansion
//	    Service: "engine",
//	})
//	defer logger.Close() // Flushes and closes the file
//
// File logs are named "{service}_{date}.log" and always JSON.
//
// # Security Considerations
//
// This package does NOT automatically redact sensitive data. Callers must
// ensure API keys and tokens are not logged:
//
//	// BAD: logs sensitive data
//	logger.Info("auth", "key", apiKey)
//
//	// GOOD: log metadata only
//	logger.Info("auth", "key_present", apiKey != "")
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// =============================================================================
// Log Levels
// =============================================================================

// Level represents log severity, ordered Debug < Info < Warn < Error.
type Level int

const (
	// LevelDebug is for development troubleshooting.
	LevelDebug Level = iota - 1

	// LevelInfo is for normal operational messages.
	LevelInfo

	// LevelWarn is for potentially problematic situations.
	LevelWarn

	// LevelError is for error conditions the system survives.
	LevelError
)

// String returns the human-readable name of the level.
func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// toSlogLevel bridges Level to the standard library.
func (l Level) toSlogLevel() slog.Level {
	switch l {
	case LevelDebug:
		return slog.LevelDebug
	case LevelWarn:
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ParseLevel converts a string ("debug", "info", "warn", "error") to a
// Level. Unknown strings return LevelInfo.
func ParseLevel(s string) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

// =============================================================================
// Configuration
// =============================================================================

// Config configures Logger behavior. A zero-value Config creates a logger
// writing Info+ messages to stderr in text format.
type Config struct {
	// Level sets the minimum log level. Default: LevelInfo
	Level Level

	// LogDir enables file logging to the directory. When set, logs go to
	// both stderr and "{Service}_{YYYY-MM-DD}.log" (JSON). Supports ~
	// expansion. Default: "" (disabled)
	LogDir string

	// Service identifies the component; included in every entry as the
	// "service" attribute. Default: "" (no attribute)
	Service string

	// JSON formats stderr output as JSON. File logs are always JSON.
	// Default: false
	JSON bool

	// Quiet disables stderr output; logs go only to the file and exporter.
	// Default: false
	Quiet bool

	// Exporter, when set, receives every entry asynchronously. Export
	// failures are ignored; logging must not fail the caller.
	Exporter LogExporter
}

// LogExporter ships log entries to an external system.
//
// Implementations should buffer internally, drop rather than block under
// backpressure, flush on Flush, and release resources on Close.
type LogExporter interface {
	Export(ctx context.Context, entry LogEntry) error
	Flush(ctx context.Context) error
	Close() error
}

// LogEntry is the exporter-facing form of one log record.
type LogEntry struct {
	Time    time.Time      `json:"time"`
	Level   string         `json:"level"`
	Message string         `json:"message"`
	Service string         `json:"service,omitempty"`
	Attrs   map[string]any `json:"attrs,omitempty"`
}

// =============================================================================
// Logger
// =============================================================================

// Logger is a leveled, multi-destination structured logger.
//
// # Thread Safety
//
// Safe for concurrent use.
type Logger struct {
	slogger  *slog.Logger
	config   Config
	file     *os.File
	fileMu   sync.Mutex
	exporter LogExporter
}

// New creates a Logger from the config.
//
// File-destination setup failures degrade to stderr-only logging with a
// warning rather than failing the caller.
func New(config Config) *Logger {
	logger := &Logger{config: config, exporter: config.Exporter}

	var writers []io.Writer
	if !config.Quiet {
		writers = append(writers, os.Stderr)
	}

	if config.LogDir != "" {
		if file, err := openLogFile(config.LogDir, config.Service); err != nil {
			fmt.Fprintf(os.Stderr, "logging: file destination disabled: %v\n", err)
		} else {
			logger.file = file
			writers = append(writers, file)
		}
	}

	if len(writers) == 0 {
		writers = append(writers, io.Discard)
	}

	out := io.MultiWriter(writers...)
	opts := &slog.HandlerOptions{Level: config.Level.toSlogLevel()}

	var handler slog.Handler
	if config.JSON || logger.file != nil {
		handler = slog.NewJSONHandler(out, opts)
	} else {
		handler = slog.NewTextHandler(out, opts)
	}

	slogger := slog.New(handler)
	if config.Service != "" {
		slogger = slogger.With("service", config.Service)
	}
	logger.slogger = slogger
	return logger
}

// Default returns a stderr-only Logger at Info level.
func Default() *Logger {
	return New(Config{})
}

// Slog exposes the underlying slog.Logger, e.g. for slog.SetDefault.
func (l *Logger) Slog() *slog.Logger {
	return l.slogger
}

// Debug logs at debug level.
func (l *Logger) Debug(msg string, args ...any) {
	l.slogger.Debug(msg, args...)
	l.export(LevelDebug, msg, args)
}

// Info logs at info level.
func (l *Logger) Info(msg string, args ...any) {
	l.slogger.Info(msg, args...)
	l.export(LevelInfo, msg, args)
}

// Warn logs at warn level.
func (l *Logger) Warn(msg string, args ...any) {
	l.slogger.Warn(msg, args...)
	l.export(LevelWarn, msg, args)
}

// Error logs at error level.
func (l *Logger) Error(msg string, args ...any) {
	l.slogger.Error(msg, args...)
	l.export(LevelError, msg, args)
}

// Close flushes the exporter and closes the log file.
func (l *Logger) Close() error {
	if l.exporter != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = l.exporter.Flush(ctx)
		_ = l.exporter.Close()
	}

	l.fileMu.Lock()
	defer l.fileMu.Unlock()
	if l.file != nil {
		err := l.file.Close()
		l.file = nil
		return err
	}
	return nil
}

// export sends the entry to the exporter, dropping it below the level
// threshold. Best-effort; export errors are ignored.
func (l *Logger) export(level Level, msg string, args []any) {
	if l.exporter == nil || level < l.config.Level {
		return
	}
	entry := LogEntry{
		Time:    time.Now().UTC(),
		Level:   level.String(),
		Message: msg,
		Service: l.config.Service,
		Attrs:   attrsFromArgs(args),
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = l.exporter.Export(ctx, entry)
	}()
}

// attrsFromArgs converts slog-style key/value pairs into a map. Dangling
// keys get a nil value.
func attrsFromArgs(args []any) map[string]any {
	if len(args) == 0 {
		return nil
	}
	attrs := make(map[string]any, len(args)/2)
	for i := 0; i < len(args); i += 2 {
		key, ok := args[i].(string)
		if !ok {
			continue
		}
		if i+1 < len(args) {
			attrs[key] = args[i+1]
		} else {
			attrs[key] = nil
		}
	}
	return attrs
}

// openLogFile opens (creating the directory if needed) the day-stamped log
// file for a service.
func openLogFile(dir, service string) (*os.File, error) {
	dir = expandHome(dir)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("creating log directory %s: %w", dir, err)
	}
	if service == "" {
		service = "vibeforge"
	}
	name := fmt.Sprintf("%s_%s.log", service, time.Now().Format("2006-01-02"))
	file, err := os.OpenFile(filepath.Join(dir, name), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o640)
	if err != nil {
		return nil, fmt.Errorf("opening log file: %w", err)
	}
	return file, nil
}

// expandHome replaces a leading ~ with the user's home directory.
func expandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(strings.TrimPrefix(path, "~"), "/"))
		}
	}
	return path
}
