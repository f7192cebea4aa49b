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
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"
)

// Process is the manager's record of one preview subprocess.
//
// All fields are guarded by the owning Manager's mutex; the lifecycle
// goroutine mutates them only through manager methods.
type Process struct {
	key        Key
	dir        string
	port       int
	state      State
	errMsg     string
	pid        int
	startedAt  time.Time
	lastAccess time.Time

	// terminate best-effort kills the process group. Set once the child is
	// spawned; nil before that and for fakes that have nothing to kill.
	terminate func()
}

// URL returns the preview URL for the process's port.
func (p *Process) URL() string {
	return fmt.Sprintf("http://127.0.0.1:%d", p.port)
}

// Manager owns the current and historical preview pools.
//
// Description:
//
//	Keeps current[projectID] and historical[(projectID, iterationID)]
//	maps of preview processes, enforces the historical pool bound with
//	LRU eviction, reaps idle processes on a ticker, and kills everything
//	on StopAll.
//
// Thread Safety:
//
//	Safe for concurrent use. One mutex guards both maps and all process
//	records; kill syscalls happen outside the lock.
type Manager struct {
	cfg    Config
	logger *slog.Logger

	mu         sync.Mutex
	current    map[string]*Process
	historical map[Key]*Process
	closed     bool

	// launch runs the install+spawn lifecycle for a new process. Tests
	// replace it with a fake that drives state transitions directly.
	launch func(ctx context.Context, p *Process)

	// lifecycleCtx outlives any single caller; preview processes are not
	// tied to the request that started them. Cancelled by StopAll.
	lifecycleCtx    context.Context
	lifecycleCancel context.CancelFunc

	done chan struct{}
	wg   sync.WaitGroup
}

// NewManager creates a sandbox manager and starts its idle reaper.
//
// Inputs:
//
//	cfg - Manager configuration; zero values are defaulted.
//	logger - Logger. If nil, slog.Default().
//
// Outputs:
//
//	*Manager - Running manager. Call StopAll on shutdown.
func NewManager(cfg Config, logger *slog.Logger) *Manager {
	cfg.Validate()
	if logger == nil {
		logger = slog.Default()
	}
	lifecycleCtx, lifecycleCancel := context.WithCancel(context.Background())
	m := &Manager{
		cfg:             cfg,
		logger:          logger,
		current:         make(map[string]*Process),
		historical:      make(map[Key]*Process),
		lifecycleCtx:    lifecycleCtx,
		lifecycleCancel: lifecycleCancel,
		done:            make(chan struct{}),
	}
	m.launch = m.runLifecycle

	m.wg.Add(1)
	go m.reapLoop()
	return m
}

// StartCurrent ensures a current preview for the project's workspace.
//
// Description:
//
//	If a live process (state not stopped/error) is registered, its
//	last-accessed time is updated and its status returned. Otherwise a free
//	port is allocated, the entry is inserted in state installing, and the
//	install+spawn lifecycle is scheduled asynchronously.
//
// Outputs:
//
//	Status - Snapshot of the (possibly brand-new) process.
//	error - ErrManagerClosed after StopAll, or port allocation failure.
func (m *Manager) StartCurrent(ctx context.Context, projectID, workspaceDir string) (Status, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return Status{State: StateStopped}, ErrManagerClosed
	}
	if p, ok := m.current[projectID]; ok && !p.state.terminal() {
		p.lastAccess = time.Now()
		status := snapshotLocked(p)
		m.mu.Unlock()
		return status, nil
	}
	m.mu.Unlock()

	port, err := allocatePort()
	if err != nil {
		return Status{State: StateError, Error: err.Error()}, fmt.Errorf("allocating port: %w", err)
	}

	p := &Process{
		key:        CurrentKey(projectID),
		dir:        workspaceDir,
		port:       port,
		state:      StateInstalling,
		startedAt:  time.Now(),
		lastAccess: time.Now(),
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return Status{State: StateStopped}, ErrManagerClosed
	}
	m.current[projectID] = p
	status := snapshotLocked(p)
	m.mu.Unlock()

	m.logger.Info("starting current preview",
		slog.String("project_id", projectID),
		slog.Int("port", port),
	)
	recordSpawn(ctx, "current")

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.launch(m.lifecycleCtx, p)
	}()
	return status, nil
}

// StartHistorical ensures a historical preview for an iteration's runtime
// directory, evicting the least-recently-accessed historical preview when
// the pool is full.
func (m *Manager) StartHistorical(ctx context.Context, projectID string, iterationID int, runtimeDir string) (Status, error) {
	key := HistoricalKey(projectID, iterationID)

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return Status{State: StateStopped}, ErrManagerClosed
	}
	if p, ok := m.historical[key]; ok && !p.state.terminal() {
		p.lastAccess = time.Now()
		status := snapshotLocked(p)
		m.mu.Unlock()
		return status, nil
	}
	victim := m.evictionVictimLocked()
	if victim != nil {
		delete(m.historical, victim.key)
		victim.state = StateStopped
	}
	m.mu.Unlock()

	if victim != nil {
		m.logger.Info("evicting historical preview",
			slog.String("project_id", victim.key.ProjectID),
			slog.Int("iteration", victim.key.IterationID),
		)
		recordEviction(ctx)
		if victim.terminate != nil {
			victim.terminate()
		}
	}

	port, err := allocatePort()
	if err != nil {
		return Status{State: StateError, Error: err.Error()}, fmt.Errorf("allocating port: %w", err)
	}

	p := &Process{
		key:        key,
		dir:        runtimeDir,
		port:       port,
		state:      StateInstalling,
		startedAt:  time.Now(),
		lastAccess: time.Now(),
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return Status{State: StateStopped}, ErrManagerClosed
	}
	m.historical[key] = p
	status := snapshotLocked(p)
	m.mu.Unlock()

	m.logger.Info("starting historical preview",
		slog.String("project_id", projectID),
		slog.Int("iteration", iterationID),
		slog.Int("port", port),
	)
	recordSpawn(ctx, "historical")

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.launch(m.lifecycleCtx, p)
	}()
	return status, nil
}

// StatusCurrent returns the current preview's status, updating its
// last-accessed time. An unknown project reports stopped.
func (m *Manager) StatusCurrent(projectID string) Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.current[projectID]
	if !ok {
		return Status{State: StateStopped}
	}
	p.lastAccess = time.Now()
	return snapshotLocked(p)
}

// StatusHistorical returns a historical preview's status, updating its
// last-accessed time. An unknown key reports stopped.
func (m *Manager) StatusHistorical(projectID string, iterationID int) Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.historical[HistoricalKey(projectID, iterationID)]
	if !ok {
		return Status{State: StateStopped}
	}
	p.lastAccess = time.Now()
	return snapshotLocked(p)
}

// StopCurrent best-effort terminates the project's current preview.
func (m *Manager) StopCurrent(projectID string) {
	m.mu.Lock()
	p, ok := m.current[projectID]
	if ok {
		delete(m.current, projectID)
		p.state = StateStopped
	}
	m.mu.Unlock()
	if ok && p.terminate != nil {
		p.terminate()
	}
}

// StopHistorical best-effort terminates one historical preview.
func (m *Manager) StopHistorical(projectID string, iterationID int) {
	key := HistoricalKey(projectID, iterationID)
	m.mu.Lock()
	p, ok := m.historical[key]
	if ok {
		delete(m.historical, key)
		p.state = StateStopped
	}
	m.mu.Unlock()
	if ok && p.terminate != nil {
		p.terminate()
	}
}

// StopAll terminates every tracked process and disables the reaper.
//
// Description:
//
//	Called on shutdown. Idempotent; subsequent Start calls return
//	ErrManagerClosed.
func (m *Manager) StopAll() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	close(m.done)
	m.lifecycleCancel()

	var victims []*Process
	for id, p := range m.current {
		p.state = StateStopped
		victims = append(victims, p)
		delete(m.current, id)
	}
	for key, p := range m.historical {
		p.state = StateStopped
		victims = append(victims, p)
		delete(m.historical, key)
	}
	m.mu.Unlock()

	for _, p := range victims {
		if p.terminate != nil {
			p.terminate()
		}
	}
	m.logger.Info("sandbox manager stopped", slog.Int("killed", len(victims)))
}

// =============================================================================
// REAPER
// =============================================================================

// reapLoop retires idle ready processes on a fixed interval.
func (m *Manager) reapLoop() {
	defer m.wg.Done()
	ticker := time.NewTicker(m.cfg.ReapInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			m.reapOnce(time.Now())
		}
	}
}

// reapOnce removes every ready process idle beyond its TTL.
func (m *Manager) reapOnce(now time.Time) {
	m.mu.Lock()
	var victims []*Process
	for id, p := range m.current {
		if p.state == StateReady && now.Sub(p.lastAccess) > m.cfg.CurrentTTL {
			p.state = StateStopped
			victims = append(victims, p)
			delete(m.current, id)
		}
	}
	for key, p := range m.historical {
		if p.state == StateReady && now.Sub(p.lastAccess) > m.cfg.HistoricalTTL {
			p.state = StateStopped
			victims = append(victims, p)
			delete(m.historical, key)
		}
	}
	m.mu.Unlock()

	for _, p := range victims {
		m.logger.Info("reaping idle preview",
			slog.String("project_id", p.key.ProjectID),
			slog.Int("iteration", p.key.IterationID),
		)
		recordReap(context.Background())
		if p.terminate != nil {
			p.terminate()
		}
	}
}

// =============================================================================
// INTERNAL HELPERS
// =============================================================================

// evictionVictimLocked picks the least-recently-accessed non-terminal
// historical process once the pool bound is reached. Caller holds the lock.
func (m *Manager) evictionVictimLocked() *Process {
	live := 0
	var oldest *Process
	for _, p := range m.historical {
		if p.state.terminal() {
			continue
		}
		live++
		if oldest == nil || p.lastAccess.Before(oldest.lastAccess) {
			oldest = p
		}
	}
	if live < m.cfg.MaxHistorical {
		return nil
	}
	return oldest
}

// snapshotLocked builds a Status from a process. Caller holds the lock.
func snapshotLocked(p *Process) Status {
	status := Status{State: p.state, Error: p.errMsg}
	if p.state == StateReady {
		status.PreviewURL = p.URL()
	}
	return status
}

// markReady transitions a process to ready. Ignored if the process already
// reached a terminal state (e.g. stopped while starting).
func (m *Manager) markReady(p *Process) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p.state.terminal() {
		return
	}
	p.state = StateReady
	m.logger.Info("preview ready",
		slog.String("project_id", p.key.ProjectID),
		slog.Int("iteration", p.key.IterationID),
		slog.String("url", p.URL()),
	)
}

// markState transitions a process to a non-ready state.
func (m *Manager) markState(p *Process, state State, errMsg string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p.state.terminal() {
		return
	}
	p.state = state
	p.errMsg = errMsg
	if state == StateError {
		m.logger.Warn("preview failed",
			slog.String("project_id", p.key.ProjectID),
			slog.Int("iteration", p.key.IterationID),
			slog.String("error", errMsg),
		)
	}
}

// setPID records the spawned child and its terminator.
func (m *Manager) setPID(p *Process, pid int, terminate func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p.pid = pid
	p.terminate = terminate
}

// allocatePort asks the OS for a free ephemeral TCP port.
func allocatePort() (int, error) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, err
	}
	port := l.Addr().(*net.TCPAddr).Port
	if err := l.Close(); err != nil {
		return 0, err
	}
	return port, nil
}
