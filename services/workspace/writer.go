// Copyright (C) 2025 VibeForge (jaggannadhan@vibeforge.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package workspace owns file writes into a project workspace: atomic writes
// of model-generated files, unified-diff application, and change accounting
// against a patch plan's budgets. Every externally supplied path is validated
// before any I/O.
package workspace

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/jaggannadhan/VibeForge/pkg/validation"
)

// GeneratedFile is one file to write, with a workspace-relative path. The
// code-gen parser places paths under src/ except root config files.
type GeneratedFile struct {
	RelativePath string
	Contents     string
}

// WriteResult reports what a write operation changed.
type WriteResult struct {
	WrittenPaths []string
	Stats        ChangeStats
}

// ChangeStats counts the size of a change set.
type ChangeStats struct {
	FilesChanged int
	LinesAdded   int
	LinesRemoved int
}

// TotalLines returns added plus removed lines.
func (s ChangeStats) TotalLines() int {
	return s.LinesAdded + s.LinesRemoved
}

// Workspace wraps a single project's mutable source tree.
//
// # Thread Safety
//
// Not safe for concurrent mutation. The run orchestrator is the sole writer
// during a run; historical previews read extracted snapshot copies instead.
type Workspace struct {
	dir    string
	logger *slog.Logger
}

// New returns a Workspace rooted at dir.
func New(dir string, logger *slog.Logger) *Workspace {
	if logger == nil {
		logger = slog.Default()
	}
	return &Workspace{dir: dir, logger: logger}
}

// Dir returns the workspace root directory.
func (w *Workspace) Dir() string {
	return w.dir
}

// WriteFiles writes generated files into the workspace atomically.
//
// # Description
//
// Each file is validated to stay inside the workspace, written to a
// temporary file in the destination directory, and renamed into place so a
// crash mid-write never leaves a half-written source file for the dev server
// to compile. Change stats are computed against the previous contents.
//
// # Inputs
//
//   - files: Generated files with workspace-relative paths.
//
// # Outputs
//
//   - *WriteResult: Written paths and change stats.
//   - error: ErrNoFiles for an empty set, ErrUnsafePath for a path escaping
//     the workspace, or the first I/O failure.
func (w *Workspace) WriteFiles(files []GeneratedFile) (*WriteResult, error) {
	if len(files) == 0 {
		return nil, ErrNoFiles
	}

	result := &WriteResult{}
	for _, file := range files {
		abs, err := validation.WithinRoot(w.dir, file.RelativePath)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnsafePath, err)
		}

		prev, _ := os.ReadFile(abs)
		added, removed := lineDelta(string(prev), file.Contents)
		result.Stats.LinesAdded += added
		result.Stats.LinesRemoved += removed
		if added+removed > 0 {
			result.Stats.FilesChanged++
		}

		if err := os.MkdirAll(filepath.Dir(abs), 0755); err != nil {
			return nil, fmt.Errorf("creating directory for %s: %w", file.RelativePath, err)
		}
		if err := atomicWrite(abs, []byte(file.Contents)); err != nil {
			return nil, fmt.Errorf("writing %s: %w", file.RelativePath, err)
		}
		result.WrittenPaths = append(result.WrittenPaths, file.RelativePath)
	}

	w.logger.Debug("workspace files written",
		slog.Int("files", len(result.WrittenPaths)),
		slog.Int("lines_added", result.Stats.LinesAdded),
		slog.Int("lines_removed", result.Stats.LinesRemoved),
	)
	return result, nil
}

// ReadFile reads a workspace-relative file after path validation.
func (w *Workspace) ReadFile(rel string) (string, error) {
	abs, err := validation.WithinRoot(w.dir, rel)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnsafePath, err)
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// ListSourceFiles returns the relative paths of every file under src/,
// sorted by the walk order. Used to build code-gen prompt context.
func (w *Workspace) ListSourceFiles() ([]string, error) {
	srcDir := filepath.Join(w.dir, "src")
	var paths []string
	err := filepath.WalkDir(srcDir, func(path string, d os.DirEntry, walkErr error) error {
		if walkErr != nil {
			if os.IsNotExist(walkErr) {
				return nil
			}
			return walkErr
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(w.dir, path)
		if err != nil {
			return err
		}
		paths = append(paths, filepath.ToSlash(rel))
		return nil
	})
	if err != nil && !os.IsNotExist(err) {
		return nil, err
	}
	return paths, nil
}

// atomicWrite writes data to path via a temp file + rename.
func atomicWrite(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".vibeforge-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return err
	}
	return nil
}

// lineDelta counts lines present in only one of the two contents. This is a
// set-based approximation, not an LCS diff; it only feeds budget accounting
// and trace messages.
func lineDelta(before, after string) (added, removed int) {
	if before == after {
		return 0, 0
	}
	beforeSet := make(map[string]int)
	for _, line := range strings.Split(before, "\n") {
		beforeSet[line]++
	}
	afterSet := make(map[string]int)
	for _, line := range strings.Split(after, "\n") {
		afterSet[line]++
	}
	for line, n := range afterSet {
		if n > beforeSet[line] {
			added += n - beforeSet[line]
		}
	}
	for line, n := range beforeSet {
		if n > afterSet[line] {
			removed += n - afterSet[line]
		}
	}
	if before == "" {
		removed = 0
	}
	return added, removed
}
