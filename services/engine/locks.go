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
	"sort"

	"github.com/jaggannadhan/VibeForge/services/pack"
	"github.com/jaggannadhan/VibeForge/services/provider"
)

// LockManager maintains the run's monotonically growing set of frozen IR
// node ids. A locked node must not be modified by later code-gen calls;
// once locked, a node is never unlocked within the run.
//
// # Thread Safety
//
// Not safe for concurrent use; the run orchestrator is the only caller.
type LockManager struct {
	layoutThreshold float64
	styleThreshold  float64
	locked          map[string]struct{}
}

// NewLockManager creates an empty lock set with the config thresholds.
func NewLockManager(cfg Config) *LockManager {
	return &LockManager{
		layoutThreshold: cfg.LockLayoutThreshold,
		styleThreshold:  cfg.LockStyleThreshold,
		locked:          make(map[string]struct{}),
	}
}

// Update locks newly qualifying nodes after a scoring.
//
// # Description
//
// When both aggregate layout and style errors are inside their thresholds,
// every critical node that has a bounding box and at least one style target
// is locked. Returns the ids locked by this call (for trace messages).
func (l *LockManager) Update(agg provider.Scores, nodes []pack.Node) []string {
	// The tolerance absorbs float rounding so an error exactly at the
	// threshold (1-0.85 against 0.15) counts as inside it.
	const tolerance = 1e-9
	if 1-agg.Layout > l.layoutThreshold+tolerance || 1-agg.Style > l.styleThreshold+tolerance {
		return nil
	}

	var added []string
	for i := range nodes {
		node := &nodes[i]
		if node.Importance() != pack.ImportanceCritical {
			continue
		}
		if !node.HasBBox() || len(node.StyleTargets) == 0 {
			continue
		}
		if _, ok := l.locked[node.NodeID]; ok {
			continue
		}
		l.locked[node.NodeID] = struct{}{}
		added = append(added, node.NodeID)
	}
	sort.Strings(added)
	return added
}

// IsLocked reports whether a node id is in the lock set.
func (l *LockManager) IsLocked(nodeID string) bool {
	_, ok := l.locked[nodeID]
	return ok
}

// Locked returns a sorted snapshot of the lock set.
func (l *LockManager) Locked() []string {
	ids := make([]string, 0, len(l.locked))
	for id := range l.locked {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
