// Copyright (C) 2025 VibeForge (jaggannadhan@vibeforge.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package tracebus

import (
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

// subscriberBuffer is each subscriber channel's capacity. A subscriber that
// falls this far behind starts losing frames (with a warning) rather than
// stalling the run.
const subscriberBuffer = 1024

// subscriber is one attached stream.
type subscriber struct {
	id string
	ch chan Frame
}

// projectState is everything the bus tracks for one project.
type projectState struct {
	tree        *Tree
	buffer      []AgentEvent
	runID       string
	subscribers map[string]*subscriber
}

// Bus fans agent events out to per-project subscriber streams.
//
// # Description
//
// Publish applies each event to the project's tree, appends it to the
// replay buffer (and the durable store, if configured), and broadcasts it.
// Subscribe returns a channel that first yields the buffered events of the
// active run, then live frames, in production order.
//
// # Thread Safety
//
// All methods are safe for concurrent use; one mutex serializes tree
// mutation and fan-out, which is what preserves per-project ordering.
type Bus struct {
	mu       sync.Mutex
	projects map[string]*projectState
	store    EventStore
	logger   *slog.Logger
	closed   bool
}

// NewBus creates a bus.
//
// # Inputs
//
//   - store: Durable event buffer for replay across restarts. May be nil.
//   - logger: Logger. If nil, slog.Default().
func NewBus(store EventStore, logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		projects: make(map[string]*projectState),
		store:    store,
		logger:   logger,
	}
}

// StartRun resets a project's tree and buffer for a new run and broadcasts
// runStarted. Must be called before any event of that run is published.
func (b *Bus) StartRun(projectID, runID, title string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	state := b.stateLocked(projectID)
	state.tree = NewTree(title)
	state.buffer = nil
	state.runID = runID

	if b.store != nil {
		if err := b.store.Reset(projectID); err != nil {
			b.logger.Warn("resetting durable event buffer", "project_id", projectID, "error", err)
		}
	}

	b.broadcastLocked(state, Frame{Type: FrameRunStarted, RunID: runID, ProjectID: projectID})
}

// FinishRun broadcasts runFinished with the given status.
func (b *Bus) FinishRun(projectID, runID, status string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	state := b.stateLocked(projectID)
	b.broadcastLocked(state, Frame{Type: FrameRunFinished, RunID: runID, ProjectID: projectID, Status: status})
}

// Publish applies an event to the project tree and fans it out.
//
// Malformed events (unplaceable node) are logged and dropped; a bad trace
// event must never fail the run that produced it.
func (b *Bus) Publish(event AgentEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	state := b.stateLocked(event.ProjectID)

	if state.tree == nil {
		state.tree = NewTree("run")
	}
	if err := state.tree.Apply(event); err != nil {
		b.logger.Warn("dropping unplaceable trace event",
			"project_id", event.ProjectID,
			"node_id", event.NodeID,
			"type", string(event.Type),
			"error", err,
		)
		return
	}

	state.buffer = append(state.buffer, event)
	if b.store != nil {
		if err := b.store.Append(event.ProjectID, event); err != nil {
			b.logger.Warn("appending event to durable buffer", "error", err)
		}
	}

	evt := event
	b.broadcastLocked(state, Frame{Type: FrameAgentEvent, ProjectID: event.ProjectID, Event: &evt})
}

// Subscribe attaches a stream to a project.
//
// # Description
//
// The returned channel first carries the buffered event sequence of the
// active run (replayed from the durable store when the in-memory buffer is
// empty), then live frames. Cancel with Unsubscribe.
//
// # Outputs
//
//   - string: Subscriber id for Unsubscribe.
//   - <-chan Frame: The stream.
//   - error: ErrBusClosed after Close.
func (b *Bus) Subscribe(projectID string) (string, <-chan Frame, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return "", nil, ErrBusClosed
	}
	state := b.stateLocked(projectID)

	sub := &subscriber{
		id: uuid.New().String(),
		ch: make(chan Frame, subscriberBuffer),
	}

	replay := state.buffer
	if len(replay) == 0 && b.store != nil {
		stored, err := b.store.Replay(projectID)
		if err != nil {
			b.logger.Warn("replaying durable event buffer", "project_id", projectID, "error", err)
		} else {
			replay = stored
		}
	}
	for i := range replay {
		evt := replay[i]
		sub.ch <- Frame{Type: FrameAgentEvent, ProjectID: projectID, Event: &evt}
	}

	state.subscribers[sub.id] = sub
	b.logger.Debug("subscriber attached",
		"project_id", projectID,
		"subscriber_id", sub.id,
		"replayed", len(replay),
	)
	return sub.id, sub.ch, nil
}

// Unsubscribe detaches a stream and closes its channel.
func (b *Bus) Unsubscribe(projectID, subscriberID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	state, ok := b.projects[projectID]
	if !ok {
		return
	}
	if sub, ok := state.subscribers[subscriberID]; ok {
		delete(state.subscribers, subscriberID)
		close(sub.ch)
	}
}

// TreeSnapshot returns a deep copy of a project's current tree, or nil when
// no run has started.
func (b *Bus) TreeSnapshot(projectID string) *Node {
	b.mu.Lock()
	defer b.mu.Unlock()
	state, ok := b.projects[projectID]
	if !ok || state.tree == nil {
		return nil
	}
	return state.tree.Snapshot()
}

// BestIterationIndex returns the index of the iteration currently flagged
// best, or -1.
func (b *Bus) BestIterationIndex(projectID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	state, ok := b.projects[projectID]
	if !ok || state.tree == nil {
		return -1
	}
	return state.tree.BestIterationIndex()
}

// Close detaches every subscriber and closes the durable store.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for _, state := range b.projects {
		for id, sub := range state.subscribers {
			delete(state.subscribers, id)
			close(sub.ch)
		}
	}
	if b.store != nil {
		if err := b.store.Close(); err != nil {
			b.logger.Warn("closing durable event buffer", "error", err)
		}
	}
}

// stateLocked returns (creating if needed) a project's state. Caller holds
// the lock.
func (b *Bus) stateLocked(projectID string) *projectState {
	state, ok := b.projects[projectID]
	if !ok {
		state = &projectState{subscribers: make(map[string]*subscriber)}
		b.projects[projectID] = state
	}
	return state
}

// broadcastLocked delivers a frame to every subscriber, dropping it for
// subscribers whose channel is full. Caller holds the lock.
func (b *Bus) broadcastLocked(state *projectState, frame Frame) {
	for _, sub := range state.subscribers {
		select {
		case sub.ch <- frame:
		default:
			b.logger.Warn("subscriber too slow, dropping frame",
				"subscriber_id", sub.id,
				"frame_type", frame.Type,
			)
		}
	}
}
