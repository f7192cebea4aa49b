// Copyright (C) 2025 VibeForge (jaggannadhan@vibeforge.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package sandbox

import (
	"log/slog"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// watchManifest self-heals the build manifest while a preview process lives.
//
// Description:
//
//	Watches the workspace directory and, if the manifest file is removed or
//	renamed away (a code-gen write gone wrong), restores it from the
//	template. Best-effort: watcher setup failure is logged and skipped; the
//	preview keeps running without self-heal.
//
// Inputs:
//
//	dir - Workspace directory to watch.
//	done - Closed when the owning process lifecycle ends.
func (m *Manager) watchManifest(dir string, done <-chan struct{}) {
	if m.cfg.TemplateDir == "" {
		return
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		m.logger.Warn("manifest watcher unavailable", slog.Any("error", err))
		return
	}
	if err := watcher.Add(dir); err != nil {
		m.logger.Warn("manifest watcher add failed", slog.String("dir", dir), slog.Any("error", err))
		_ = watcher.Close()
		return
	}

	manifest := filepath.Join(dir, m.cfg.ManifestFile)
	go func() {
		defer func() {
			if err := watcher.Close(); err != nil {
				m.logger.Warn("closing manifest watcher", slog.Any("error", err))
			}
		}()
		for {
			select {
			case <-done:
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Name != manifest {
					continue
				}
				if event.Op.Has(fsnotify.Remove) || event.Op.Has(fsnotify.Rename) {
					m.logger.Warn("build manifest removed, restoring from template",
						slog.String("manifest", manifest),
					)
					if err := copyTemplate(m.cfg.TemplateDir, dir); err != nil {
						m.logger.Error("manifest self-heal failed", slog.Any("error", err))
					}
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				m.logger.Warn("manifest watcher error", slog.Any("error", err))
			}
		}
	}()
}
