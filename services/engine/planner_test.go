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
	"strings"
	"testing"

	"github.com/jaggannadhan/VibeForge/services/pack"
	"github.com/jaggannadhan/VibeForge/services/provider"
)

func TestPlanner_FocusAreaIsHighestWeightedError(t *testing.T) {
	planner := NewPatchPlanner(DefaultConfig())
	locks := NewLockManager(DefaultConfig())

	tests := []struct {
		name  string
		prev  provider.Scores
		focus string
	}{
		// layout err 0.3*0.5=0.15 beats style 0.3*0.1=0.03
		{"layout worst", provider.Scores{Layout: 0.5, Style: 0.9, A11y: 0.9, Perceptual: 0.9}, DimLayout},
		{"style worst", provider.Scores{Layout: 0.9, Style: 0.4, A11y: 0.9, Perceptual: 0.9}, DimStyle},
		// a11y err 0.2*0.8=0.16 beats layout 0.3*0.1=0.03
		{"a11y worst", provider.Scores{Layout: 0.9, Style: 0.9, A11y: 0.2, Perceptual: 0.9}, DimA11y},
		{"perceptual worst", provider.Scores{Layout: 0.9, Style: 0.9, A11y: 0.9, Perceptual: 0.1}, DimPerceptual},
		// Equal errors: first dimension in weight order wins.
		{"tie goes to layout", provider.Scores{Layout: 0.5, Style: 0.5, A11y: 0.25, Perceptual: 0.25}, DimLayout},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			plan := planner.Plan(tt.prev, nil, locks)
			if plan.FocusArea != tt.focus {
				t.Errorf("FocusArea = %q, want %q", plan.FocusArea, tt.focus)
			}
		})
	}
}

func TestPlanner_TopTargetsBySeverity(t *testing.T) {
	planner := NewPatchPlanner(DefaultConfig())
	locks := NewLockManager(DefaultConfig())

	nodes := []pack.Node{
		irNode("low-bbox", pack.ImportanceLow, true, 0),      // 0.3 * 1.0 = 0.30
		irNode("crit-bbox", pack.ImportanceCritical, true, 0), // 1.0 * 1.0 = 1.00
		irNode("norm-bbox", pack.ImportanceNormal, true, 0),   // 0.6 * 1.0 = 0.60
		irNode("crit-plain", pack.ImportanceCritical, false, 0), // 1.0 * 0.3 = 0.30
		irNode("norm-plain", pack.ImportanceNormal, false, 0), // 0.6 * 0.3 = 0.18
	}
	prev := provider.Scores{Layout: 0.2, Style: 0.9, A11y: 0.9, Perceptual: 0.9}

	plan := planner.Plan(prev, nodes, locks)
	if plan.FocusArea != DimLayout {
		t.Fatalf("focus = %q", plan.FocusArea)
	}
	if len(plan.TopTargets) != 3 {
		t.Fatalf("targets = %d, want 3", len(plan.TopTargets))
	}
	if plan.TopTargets[0].NodeID != "crit-bbox" || plan.TopTargets[1].NodeID != "norm-bbox" {
		t.Errorf("targets = %+v", plan.TopTargets)
	}
	// Severity tie at 0.30 between low-bbox and crit-plain: earlier node wins.
	if plan.TopTargets[2].NodeID != "low-bbox" {
		t.Errorf("third target = %q, want low-bbox (stable tie-break)", plan.TopTargets[2].NodeID)
	}
}

func TestPlanner_StyleRelevanceScalesWithTargetCount(t *testing.T) {
	planner := NewPatchPlanner(DefaultConfig())
	locks := NewLockManager(DefaultConfig())

	nodes := []pack.Node{
		irNode("two-styles", pack.ImportanceNormal, false, 2),  // 0.6 * 0.5 = 0.30
		irNode("six-styles", pack.ImportanceNormal, false, 6),  // 0.6 * 1.0 = 0.60 (capped)
		irNode("no-styles", pack.ImportanceNormal, false, 0),   // 0.6 * 0.0 = 0
	}
	prev := provider.Scores{Layout: 0.9, Style: 0.2, A11y: 0.9, Perceptual: 0.9}

	plan := planner.Plan(prev, nodes, locks)
	if plan.TopTargets[0].NodeID != "six-styles" {
		t.Errorf("top = %q, want six-styles", plan.TopTargets[0].NodeID)
	}
	if plan.TopTargets[0].Severity != 0.6 {
		t.Errorf("severity = %v, want 0.6", plan.TopTargets[0].Severity)
	}
}

func TestPlanner_ExcludesLockedNodes(t *testing.T) {
	cfg := DefaultConfig()
	planner := NewPatchPlanner(cfg)
	locks := NewLockManager(cfg)

	nodes := []pack.Node{
		irNode("locked-crit", pack.ImportanceCritical, true, 2),
		irNode("free-norm", pack.ImportanceNormal, true, 0),
	}
	locks.Update(provider.Scores{Layout: 0.9, Style: 0.9}, nodes)
	if !locks.IsLocked("locked-crit") {
		t.Fatal("setup: locked-crit should be locked")
	}

	plan := planner.Plan(provider.Scores{Layout: 0.5, Style: 0.9, A11y: 0.9, Perceptual: 0.9}, nodes, locks)
	for _, target := range plan.TopTargets {
		if target.NodeID == "locked-crit" {
			t.Error("locked node appeared in top targets")
		}
	}
	if len(plan.LockedNodeIDs) != 1 || plan.LockedNodeIDs[0] != "locked-crit" {
		t.Errorf("LockedNodeIDs = %v", plan.LockedNodeIDs)
	}
}

func TestPlanner_BudgetsAndDisallowed(t *testing.T) {
	plan := NewPatchPlanner(DefaultConfig()).Plan(provider.Scores{}, nil, NewLockManager(DefaultConfig()))

	if plan.Budgets.MaxFilesChanged != 2 || plan.Budgets.MaxLinesChanged != 80 || plan.Budgets.MaxStructureChanges != 1 {
		t.Errorf("budgets = %+v", plan.Budgets)
	}
	want := []string{"routing", "dependencies", "global styles"}
	for i, change := range want {
		if plan.DisallowedChanges[i] != change {
			t.Errorf("DisallowedChanges = %v, want %v", plan.DisallowedChanges, want)
		}
	}

	text := plan.Text()
	if !strings.Contains(text, "at most 2 files, 80 lines") {
		t.Errorf("Text() missing budgets: %q", text)
	}
}
