// Copyright (C) 2025 VibeForge (jaggannadhan@vibeforge.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package snapshot persists per-iteration workspace state as compressed
// archives and replays it for rollback and historical previews.
//
// Each snapshot is a tar.gz of the workspace with dependency and build
// directories excluded, plus a sidecar JSON metadata file. Archives live at
// projects/<projectID>/snapshots/iter-<n>.tar.gz; extracted runtime copies
// live at projects/<projectID>/runtime/iter-<n>/workspace/.
//
// # Thread Safety
//
// A Store is safe for concurrent use across distinct (project, iteration)
// keys. Concurrent operations on the same key are not coordinated; the run
// orchestrator is the only writer for a given run.
package snapshot

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/jaggannadhan/VibeForge/pkg/validation"
)

// Meta is the sidecar metadata written next to each archive.
type Meta struct {
	Iteration   int       `json:"iteration"`
	CreatedAt   time.Time `json:"createdAt"`
	ArchivePath string    `json:"archivePath"`
}

// Store manages snapshot archives under a storage root.
type Store struct {
	root   string
	logger *slog.Logger
}

// NewStore creates a snapshot store rooted at the given storage directory.
//
// # Inputs
//
//   - root: Storage root containing projects/<projectID>/ trees.
//   - logger: Logger for best-effort failure reporting. If nil, slog.Default().
func NewStore(root string, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{root: root, logger: logger}
}

// Create archives the workspace for one iteration.
//
// # Description
//
// Produces projects/<p>/snapshots/iter-<n>.tar.gz (dependency and build
// directories excluded) and the iter-<n>.json sidecar. An existing archive
// for the same iteration is overwritten; the orchestrator calls Create at
// most once per iteration, so an overwrite only happens on a retried run.
//
// # Outputs
//
//   - error: Non-nil if the archive or sidecar could not be written.
func (s *Store) Create(projectID string, iteration int, workspaceDir string) error {
	if err := s.checkKey(projectID, iteration); err != nil {
		return err
	}
	dir := s.snapshotDir(projectID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating snapshot directory: %w", err)
	}

	archivePath := s.archivePath(projectID, iteration)
	if err := writeTarGz(workspaceDir, archivePath); err != nil {
		return err
	}

	meta := Meta{
		Iteration:   iteration,
		CreatedAt:   time.Now().UTC(),
		ArchivePath: archivePath,
	}
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling snapshot metadata: %w", err)
	}
	if err := os.WriteFile(s.metaPath(projectID, iteration), data, 0o644); err != nil {
		return fmt.Errorf("writing snapshot metadata: %w", err)
	}

	s.logger.Info("snapshot created",
		slog.String("project_id", projectID),
		slog.Int("iteration", iteration),
		slog.String("archive", archivePath),
	)
	return nil
}

// Has reports whether an archive exists for the iteration.
func (s *Store) Has(projectID string, iteration int) bool {
	if err := s.checkKey(projectID, iteration); err != nil {
		return false
	}
	_, err := os.Stat(s.archivePath(projectID, iteration))
	return err == nil
}

// Extract unpacks the iteration's archive into its runtime directory.
//
// # Description
//
// Idempotent: if the runtime workspace directory already exists, it is
// returned as-is without touching the filesystem. Historical previews serve
// from this directory.
//
// # Outputs
//
//   - string: The runtime workspace directory.
//   - error: ErrSnapshotNotFound if no archive exists; otherwise extraction
//     errors.
func (s *Store) Extract(projectID string, iteration int) (string, error) {
	if err := s.checkKey(projectID, iteration); err != nil {
		return "", err
	}
	runtimeDir := s.runtimeDir(projectID, iteration)
	if info, err := os.Stat(runtimeDir); err == nil && info.IsDir() {
		return runtimeDir, nil
	}

	archivePath := s.archivePath(projectID, iteration)
	if _, err := os.Stat(archivePath); err != nil {
		return "", fmt.Errorf("%w: project %s iteration %d", ErrSnapshotNotFound, projectID, iteration)
	}

	if err := os.MkdirAll(runtimeDir, 0755); err != nil {
		return "", fmt.Errorf("creating runtime directory: %w", err)
	}
	if err := extractTarGz(archivePath, runtimeDir); err != nil {
		// A half-written runtime dir would defeat idempotence on retry.
		if rmErr := os.RemoveAll(runtimeDir); rmErr != nil {
			s.logger.Warn("failed to remove partial runtime directory",
				slog.String("dir", runtimeDir), slog.Any("error", rmErr))
		}
		return "", err
	}
	return runtimeDir, nil
}

// List returns metadata for every snapshot of a project, sorted by iteration
// ascending. Corrupt metadata files are skipped with a warning.
func (s *Store) List(projectID string) ([]Meta, error) {
	if err := validation.ValidateID(projectID); err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(s.snapshotDir(projectID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading snapshot directory: %w", err)
	}

	var metas []Meta
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}
		data, err := os.ReadFile(filepath.Join(s.snapshotDir(projectID), entry.Name()))
		if err != nil {
			s.logger.Warn("skipping unreadable snapshot metadata",
				slog.String("file", entry.Name()), slog.Any("error", err))
			continue
		}
		var meta Meta
		if err := json.Unmarshal(data, &meta); err != nil {
			s.logger.Warn("skipping corrupt snapshot metadata",
				slog.String("file", entry.Name()), slog.Any("error", err))
			continue
		}
		metas = append(metas, meta)
	}

	sort.Slice(metas, func(i, j int) bool { return metas[i].Iteration < metas[j].Iteration })
	return metas, nil
}

// Restore replaces the workspace contents with the iteration's snapshot.
//
// # Description
//
// Extracts the snapshot (idempotently), then replaces every entry in the
// workspace except the dependency directory and build caches with the
// extracted contents. The dependency directory is preserved so a rollback
// never forces a reinstall.
//
// # Outputs
//
//   - error: ErrSnapshotNotFound if no archive exists; otherwise filesystem
//     errors.
func (s *Store) Restore(projectID string, iteration int, workspaceDir string) error {
	runtimeDir, err := s.Extract(projectID, iteration)
	if err != nil {
		return err
	}

	// Clear the workspace, keeping the dependency directory and build caches
	// in place.
	entries, err := os.ReadDir(workspaceDir)
	if err != nil {
		return fmt.Errorf("reading workspace: %w", err)
	}
	for _, entry := range entries {
		if entry.Name() == DependencyDir || excludedDirs[entry.Name()] {
			continue
		}
		if err := os.RemoveAll(filepath.Join(workspaceDir, entry.Name())); err != nil {
			return fmt.Errorf("clearing workspace entry %s: %w", entry.Name(), err)
		}
	}

	// Copy the extracted snapshot over. The archive was produced with the
	// same exclusions, so it cannot contain a dependency directory to clobber.
	if err := copyTree(runtimeDir, workspaceDir); err != nil {
		return fmt.Errorf("restoring workspace: %w", err)
	}

	s.logger.Info("workspace restored from snapshot",
		slog.String("project_id", projectID),
		slog.Int("iteration", iteration),
	)
	return nil
}

// Cleanup removes the iteration's extracted runtime directory.
func (s *Store) Cleanup(projectID string, iteration int) error {
	if err := s.checkKey(projectID, iteration); err != nil {
		return err
	}
	return os.RemoveAll(filepath.Join(s.root, "projects", projectID, "runtime", fmt.Sprintf("iter-%d", iteration)))
}

// =============================================================================
// INTERNAL HELPERS
// =============================================================================

func (s *Store) checkKey(projectID string, iteration int) error {
	if err := validation.ValidateID(projectID); err != nil {
		return err
	}
	if iteration < 0 {
		return fmt.Errorf("%w: %d", ErrInvalidIteration, iteration)
	}
	return nil
}

func (s *Store) snapshotDir(projectID string) string {
	return filepath.Join(s.root, "projects", projectID, "snapshots")
}

func (s *Store) archivePath(projectID string, iteration int) string {
	return filepath.Join(s.snapshotDir(projectID), fmt.Sprintf("iter-%d.tar.gz", iteration))
}

func (s *Store) metaPath(projectID string, iteration int) string {
	return filepath.Join(s.snapshotDir(projectID), fmt.Sprintf("iter-%d.json", iteration))
}

func (s *Store) runtimeDir(projectID string, iteration int) string {
	return filepath.Join(s.root, "projects", projectID, "runtime", fmt.Sprintf("iter-%d", iteration), "workspace")
}

// copyTree copies every regular file and directory under src into dest.
func copyTree(src, dest string) error {
	return filepath.WalkDir(src, func(path string, d os.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		target := filepath.Join(dest, rel)
		if d.IsDir() {
			return os.MkdirAll(target, 0755)
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		if !info.Mode().IsRegular() {
			return nil
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
			return err
		}
		return os.WriteFile(target, data, info.Mode().Perm())
	})
}
