// Copyright (C) 2025 VibeForge (jaggannadhan@vibeforge.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package tracebus assembles a run's progress tree from a stream of agent
// events and fans both out to subscribers.
//
// Node ids encode their tree path ("root-iter2-screenshot-desktop"), so a
// late event finds its parent by stripping the last id segment. Subscribers
// attach per project; late subscribers first replay the buffered event
// sequence, then receive live events in production order.
package tracebus

import (
	"time"

	"github.com/google/uuid"
)

// EventType is the kind of trace transition an event carries.
type EventType string

// Event types.
const (
	EventNodeCreated   EventType = "nodeCreated"
	EventNodeStarted   EventType = "nodeStarted"
	EventNodeProgress  EventType = "nodeProgress"
	EventNodeFinished  EventType = "nodeFinished"
	EventNodeFailed    EventType = "nodeFailed"
	EventArtifactAdded EventType = "artifactAdded"
)

// Node statuses.
const (
	StatusPending = "pending"
	StatusRunning = "running"
	StatusSuccess = "success"
	StatusError   = "error"
)

// Artifact is a file attached to a trace node.
type Artifact struct {
	Kind string `json:"kind"`
	Path string `json:"path"`
	Size int64  `json:"size,omitempty"`
}

// Payload carries the mutable fields an event applies to its node.
type Payload struct {
	StepKey     string    `json:"stepKey,omitempty"`
	Title       string    `json:"title,omitempty"`
	Status      string    `json:"status,omitempty"`
	Message     string    `json:"message,omitempty"`
	ProgressPct int       `json:"progressPct,omitempty"`
	Score       *float64  `json:"score,omitempty"`
	Decision    string    `json:"decision,omitempty"`
	IsBest      *bool     `json:"isBest,omitempty"`
	FocusArea   string    `json:"focusArea,omitempty"`
	Artifact    *Artifact `json:"artifact,omitempty"`
}

// AgentEvent is one immutable trace transition.
type AgentEvent struct {
	EventID   string    `json:"eventId"`
	ProjectID string    `json:"projectId"`
	PackID    string    `json:"packId,omitempty"`
	NodeID    string    `json:"nodeId"`
	Type      EventType `json:"type"`
	TS        time.Time `json:"ts"`
	Payload   Payload   `json:"payload"`
}

// NewEvent builds an event with a fresh id and timestamp.
func NewEvent(projectID, nodeID string, eventType EventType, payload Payload) AgentEvent {
	return AgentEvent{
		EventID:   uuid.New().String(),
		ProjectID: projectID,
		NodeID:    nodeID,
		Type:      eventType,
		TS:        time.Now().UTC(),
		Payload:   payload,
	}
}

// Frame is one message on a subscriber stream.
type Frame struct {
	Type      string      `json:"type"`
	RunID     string      `json:"runId,omitempty"`
	ProjectID string      `json:"projectId,omitempty"`
	Status    string      `json:"status,omitempty"`
	Event     *AgentEvent `json:"event,omitempty"`
}

// Frame types.
const (
	FrameAgentEvent  = "agentEvent"
	FrameRunStarted  = "runStarted"
	FrameRunFinished = "runFinished"
)
