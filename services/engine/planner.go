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
	"fmt"
	"sort"
	"strings"

	"github.com/jaggannadhan/VibeForge/services/pack"
	"github.com/jaggannadhan/VibeForge/services/provider"
)

// Score dimensions, in weight order. The argmax tie-break follows this
// order.
const (
	DimLayout     = "layout"
	DimStyle      = "style"
	DimA11y       = "a11y"
	DimPerceptual = "perceptual"
)

// importanceWeights feed the severity ranking of plan targets.
var importanceWeights = map[string]float64{
	pack.ImportanceCritical: 1.0,
	pack.ImportanceNormal:   0.6,
	pack.ImportanceLow:      0.3,
}

// PlanTarget is one node the next iteration should work on.
type PlanTarget struct {
	NodeID   string  `json:"nodeId"`
	Name     string  `json:"name"`
	Severity float64 `json:"severity"`
}

// ChangeBudgets bound the next iteration's change set.
type ChangeBudgets struct {
	MaxFilesChanged     int `json:"maxFilesChanged"`
	MaxLinesChanged     int `json:"maxLinesChanged"`
	MaxStructureChanges int `json:"maxStructureChanges"`
}

// PatchPlan directs one iteration's code generation.
type PatchPlan struct {
	FocusArea         string        `json:"focusArea"`
	TopTargets        []PlanTarget  `json:"topTargets"`
	Budgets           ChangeBudgets `json:"budgets"`
	DisallowedChanges []string      `json:"disallowedChanges"`
	LockedNodeIDs     []string      `json:"lockedNodeIds"`
}

// PatchPlanner builds patch plans from the previous iteration's scores.
type PatchPlanner struct {
	cfg Config
}

// NewPatchPlanner creates a planner with the engine config.
func NewPatchPlanner(cfg Config) *PatchPlanner {
	return &PatchPlanner{cfg: cfg}
}

// Plan builds the next iteration's patch plan.
//
// # Description
//
// The focus area is the dimension with the highest weighted error
// weight·(1−score). Top targets are the highest-severity unlocked nodes,
// severity = importanceWeight · relevance(focusArea). Budgets and
// disallowed changes come from config; the locked set is snapshotted.
func (p *PatchPlanner) Plan(prev provider.Scores, nodes []pack.Node, locks *LockManager) *PatchPlan {
	focus := p.focusArea(prev)

	type scored struct {
		target PlanTarget
		order  int
	}
	var candidates []scored
	for i := range nodes {
		node := &nodes[i]
		if locks.IsLocked(node.NodeID) {
			continue
		}
		severity := importanceWeights[node.Importance()] * relevance(focus, node)
		candidates = append(candidates, scored{
			target: PlanTarget{NodeID: node.NodeID, Name: node.Name, Severity: severity},
			order:  i,
		})
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].target.Severity != candidates[j].target.Severity {
			return candidates[i].target.Severity > candidates[j].target.Severity
		}
		return candidates[i].order < candidates[j].order
	})

	top := make([]PlanTarget, 0, p.cfg.TopTargets)
	for _, c := range candidates {
		if len(top) >= p.cfg.TopTargets {
			break
		}
		top = append(top, c.target)
	}

	return &PatchPlan{
		FocusArea:  focus,
		TopTargets: top,
		Budgets: ChangeBudgets{
			MaxFilesChanged:     p.cfg.MaxFilesChanged,
			MaxLinesChanged:     p.cfg.MaxLinesChanged,
			MaxStructureChanges: p.cfg.MaxStructureChanges,
		},
		DisallowedChanges: append([]string(nil), p.cfg.DisallowedChanges...),
		LockedNodeIDs:     locks.Locked(),
	}
}

// focusArea picks the dimension with the highest weighted error.
func (p *PatchPlanner) focusArea(prev provider.Scores) string {
	type dim struct {
		name   string
		weight float64
		score  float64
	}
	dims := []dim{
		{DimLayout, p.cfg.Weights.Layout, prev.Layout},
		{DimStyle, p.cfg.Weights.Style, prev.Style},
		{DimA11y, p.cfg.Weights.A11y, prev.A11y},
		{DimPerceptual, p.cfg.Weights.Perceptual, prev.Perceptual},
	}
	// Errors within tolerance of each other tie, so float rounding cannot
	// override the weight-order tie-break.
	const tolerance = 1e-9
	best := dims[0]
	bestErr := best.weight * (1 - best.score)
	for _, d := range dims[1:] {
		if e := d.weight * (1 - d.score); e > bestErr+tolerance {
			best, bestErr = d, e
		}
	}
	return best.name
}

// relevance is how much a node matters for a focus dimension.
func relevance(focus string, node *pack.Node) float64 {
	switch focus {
	case DimLayout:
		if node.HasBBox() {
			return 1.0
		}
		return 0.3
	case DimStyle:
		count := float64(len(node.StyleTargets))
		if count > 4 {
			count = 4
		}
		return count / 4
	case DimA11y:
		if node.HasA11y() {
			return 1.0
		}
		return 0.2
	case DimPerceptual:
		if node.Importance() == pack.ImportanceCritical {
			return 1.0
		}
		return 0.5
	}
	return 0
}

// Text renders the plan for the code-gen prompt.
func (p *PatchPlan) Text() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Focus area: %s\n", p.FocusArea)
	if len(p.TopTargets) > 0 {
		b.WriteString("Targets (highest severity first):\n")
		for _, target := range p.TopTargets {
			fmt.Fprintf(&b, "- %s (%s, severity %.2f)\n", target.Name, target.NodeID, target.Severity)
		}
	}
	fmt.Fprintf(&b, "Budgets: at most %d files, %d lines, %d structure changes.\n",
		p.Budgets.MaxFilesChanged, p.Budgets.MaxLinesChanged, p.Budgets.MaxStructureChanges)
	if len(p.DisallowedChanges) > 0 {
		fmt.Fprintf(&b, "Disallowed changes: %s.\n", strings.Join(p.DisallowedChanges, ", "))
	}
	if len(p.LockedNodeIDs) > 0 {
		fmt.Fprintf(&b, "Locked nodes (do not modify): %s.\n", strings.Join(p.LockedNodeIDs, ", "))
	}
	return b.String()
}
