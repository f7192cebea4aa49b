// Copyright (C) 2025 VibeForge (jaggannadhan@vibeforge.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package engine

import (
	"context"
	"log/slog"
	"sync"
)

// RunManager enforces the one-active-run-per-project rule.
//
// # Description
//
// Starting a run first stops the project's predecessor (which exits at its
// next suspension point) and installs the new runner into the per-project
// slot immediately. The predecessor's resources are released as it winds
// down; the new run does not wait for it.
//
// # Thread Safety
//
// Safe for concurrent use.
type RunManager struct {
	mu     sync.Mutex
	active map[string]*Runner
	logger *slog.Logger
}

// NewRunManager creates an empty run manager.
func NewRunManager(logger *slog.Logger) *RunManager {
	if logger == nil {
		logger = slog.Default()
	}
	return &RunManager{
		active: make(map[string]*Runner),
		logger: logger,
	}
}

// Start preempts any active run for the project and launches a new one.
//
// # Outputs
//
//   - string: The new run's id.
func (m *RunManager) Start(ctx context.Context, cfg Config, projectID string, deps Deps) string {
	runner := NewRunner(cfg, projectID, deps)

	m.mu.Lock()
	predecessor := m.active[projectID]
	m.active[projectID] = runner
	m.mu.Unlock()

	if predecessor != nil {
		m.logger.Info("preempting active run",
			slog.String("project_id", projectID),
			slog.String("old_run_id", predecessor.RunID()),
			slog.String("new_run_id", runner.RunID()),
		)
		predecessor.Stop()
	}

	go func() {
		runner.Run(ctx)
		m.mu.Lock()
		if m.active[projectID] == runner {
			delete(m.active, projectID)
		}
		m.mu.Unlock()
	}()

	return runner.RunID()
}

// Stop cancels the project's active run, if any. Returns whether a run was
// active.
func (m *RunManager) Stop(projectID string) bool {
	m.mu.Lock()
	runner := m.active[projectID]
	m.mu.Unlock()
	if runner == nil {
		return false
	}
	runner.Stop()
	return true
}

// Active returns the project's active run id, if any.
func (m *RunManager) Active(projectID string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	runner, ok := m.active[projectID]
	if !ok {
		return "", false
	}
	return runner.RunID(), true
}

// StopAll cancels every active run. Called on shutdown.
func (m *RunManager) StopAll() {
	m.mu.Lock()
	runners := make([]*Runner, 0, len(m.active))
	for _, runner := range m.active {
		runners = append(runners, runner)
	}
	m.mu.Unlock()
	for _, runner := range runners {
		runner.Stop()
	}
}
