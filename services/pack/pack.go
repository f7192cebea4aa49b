// Copyright (C) 2025 VibeForge (jaggannadhan@vibeforge.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package pack defines the design-pack data model: the manifest, the design
// IR, and the baseline image layout. A design pack is the immutable input of
// a refinement run; nothing in this package mutates pack contents.
package pack

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/go-playground/validator/v10"

	"github.com/jaggannadhan/VibeForge/pkg/validation"
)

// SchemaVersion is the only manifest/IR schema version this engine reads.
const SchemaVersion = "1.0"

// =============================================================================
// MANIFEST
// =============================================================================

// Manifest describes the renderable surface of a design pack.
//
// # Fields
//
//   - SchemaVersion: Must be "1.0".
//   - ProjectName: Human-readable pack name.
//   - Targets: Routes the generated app must implement.
//   - Breakpoints: Viewport configurations to render and score at.
//   - States: UI states baselines exist for (at minimum "default").
//   - RunDefaults: Per-pack defaults for run parameters.
type Manifest struct {
	SchemaVersion string       `json:"schemaVersion" validate:"required,eq=1.0"`
	ProjectName   string       `json:"projectName" validate:"required"`
	Targets       []Target     `json:"targets" validate:"required,min=1,dive"`
	Breakpoints   []Breakpoint `json:"breakpoints" validate:"required,min=1,dive"`
	States        []State      `json:"states" validate:"required,min=1,dive"`
	RunDefaults   RunDefaults  `json:"runDefaults"`
}

// Target is a single route the generated page must serve.
type Target struct {
	TargetID string `json:"targetId" validate:"required"`
	Route    string `json:"route" validate:"required,startswith=/"`
	Entry    Entry  `json:"entry"`
}

// Entry hints where the target's entry file lives in the workspace.
type Entry struct {
	Type     string `json:"type" validate:"omitempty,eq=route"`
	FileHint string `json:"fileHint,omitempty"`
}

// Breakpoint is a viewport configuration rendering and scoring run at.
type Breakpoint struct {
	BreakpointID     string  `json:"breakpointId" validate:"required"`
	Width            int     `json:"width" validate:"required,gt=0"`
	Height           int     `json:"height" validate:"required,gt=0"`
	DeviceScaleFactor float64 `json:"deviceScaleFactor,omitempty"`
}

// State identifies a UI state with its own baseline set.
type State struct {
	StateID string `json:"stateId" validate:"required"`
}

// RunDefaults carries per-pack run parameter defaults.
type RunDefaults struct {
	TargetID      string  `json:"targetId" validate:"required"`
	Threshold     float64 `json:"threshold" validate:"omitempty,gt=0,lte=1"`
	MaxIterations int     `json:"maxIterations" validate:"omitempty,gt=0"`
}

// TargetByID returns the target with the given id, or nil.
func (m *Manifest) TargetByID(id string) *Target {
	for i := range m.Targets {
		if m.Targets[i].TargetID == id {
			return &m.Targets[i]
		}
	}
	return nil
}

// PrimaryBreakpoint returns the first breakpoint in the manifest.
// Overflow inspection runs at this breakpoint only.
func (m *Manifest) PrimaryBreakpoint() Breakpoint {
	return m.Breakpoints[0]
}

// =============================================================================
// DESIGN IR
// =============================================================================

// Importance levels for IR nodes.
const (
	ImportanceCritical = "critical"
	ImportanceNormal   = "normal"
	ImportanceLow      = "low"
)

// DesignIR is the flat per-target node list distilled from the design file.
type DesignIR struct {
	SchemaVersion string     `json:"schemaVersion" validate:"required,eq=1.0"`
	Targets       []IRTarget `json:"targets" validate:"required,min=1,dive"`
}

// IRTarget groups the IR nodes belonging to one render target.
type IRTarget struct {
	TargetID string `json:"targetId" validate:"required"`
	Nodes    []Node `json:"nodes" validate:"dive"`
}

// Node is one design element with its matching targets.
//
// # Fields
//
//   - NodeID: Stable identifier, carried through to the rendered DOM via the
//     data-figma-node-id attribute.
//   - MatchImportance: One of critical, normal, low.
//   - ComponentMapping: Optional hint mapping the node onto a UI component.
//   - LayoutTargets: Bounding box plus per-axis pixel tolerances.
//   - StyleTargets: Expected computed-style values, colors as "rgb(r,g,b)".
//   - A11yTargets: Expected role/name wiring.
type Node struct {
	NodeID           string            `json:"nodeId" validate:"required"`
	Name             string            `json:"name"`
	MatchImportance  string            `json:"matchImportance" validate:"omitempty,oneof=critical normal low"`
	ComponentMapping *ComponentMapping `json:"componentMapping,omitempty"`
	LayoutTargets    *LayoutTargets    `json:"layoutTargets,omitempty"`
	StyleTargets     map[string]string `json:"styleTargets,omitempty"`
	A11yTargets      *A11yTargets      `json:"a11yTargets,omitempty"`
}

// ComponentMapping hints which component library element realizes a node.
type ComponentMapping struct {
	Component string            `json:"component"`
	Props     map[string]string `json:"props,omitempty"`
}

// LayoutTargets is a node's expected geometry.
type LayoutTargets struct {
	BBox        BBox        `json:"bbox"`
	TolerancePx TolerancePx `json:"tolerancePx"`
}

// BBox is a bounding box in design coordinates.
type BBox struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	W float64 `json:"w"`
	H float64 `json:"h"`
}

// TolerancePx is the allowed per-axis deviation in pixels.
type TolerancePx struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	W float64 `json:"w"`
	H float64 `json:"h"`
}

// A11yTargets is a node's expected accessibility wiring.
type A11yTargets struct {
	Role             string `json:"role,omitempty"`
	Name             string `json:"name,omitempty"`
	LabelledByNodeID string `json:"labelledByNodeId,omitempty"`
}

// Importance returns the node's importance, defaulting to normal.
func (n *Node) Importance() string {
	switch n.MatchImportance {
	case ImportanceCritical, ImportanceLow:
		return n.MatchImportance
	default:
		return ImportanceNormal
	}
}

// HasBBox reports whether the node carries a layout bounding box.
func (n *Node) HasBBox() bool {
	return n.LayoutTargets != nil
}

// HasA11y reports whether any accessibility target is present.
func (n *Node) HasA11y() bool {
	return n.A11yTargets != nil &&
		(n.A11yTargets.Role != "" || n.A11yTargets.Name != "" || n.A11yTargets.LabelledByNodeID != "")
}

// NodesForTarget returns the IR node list for a target, or nil.
func (ir *DesignIR) NodesForTarget(targetID string) []Node {
	for i := range ir.Targets {
		if ir.Targets[i].TargetID == targetID {
			return ir.Targets[i].Nodes
		}
	}
	return nil
}

// =============================================================================
// LOADING
// =============================================================================

// Pack is a loaded design pack rooted at its extracted directory.
type Pack struct {
	PackID   string
	Dir      string
	Manifest Manifest
	IR       DesignIR
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Load reads and validates a design pack from its extracted directory.
//
// # Description
//
// Reads manifest.json and design-ir.json from dir, validates both against
// their struct tags, and checks the cross-constraint that
// runDefaults.targetId names a declared target.
//
// # Inputs
//
//   - packID: The pack identifier (becomes part of artifact paths).
//   - dir: Extracted pack directory containing manifest.json, design-ir.json,
//     and baselines/.
//
// # Outputs
//
//   - *Pack: The loaded pack.
//   - error: Non-nil if a file is missing, malformed, or fails validation.
func Load(packID, dir string) (*Pack, error) {
	if err := validation.ValidateID(packID); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPackID, err)
	}

	var m Manifest
	if err := readJSON(filepath.Join(dir, "manifest.json"), &m); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrManifestUnreadable, err)
	}
	if err := validate.Struct(&m); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrManifestInvalid, err)
	}
	if m.TargetByID(m.RunDefaults.TargetID) == nil {
		return nil, fmt.Errorf("%w: runDefaults.targetId %q not in targets", ErrManifestInvalid, m.RunDefaults.TargetID)
	}

	var ir DesignIR
	if err := readJSON(filepath.Join(dir, "design-ir.json"), &ir); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIRUnreadable, err)
	}
	if err := validate.Struct(&ir); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIRInvalid, err)
	}

	applyDefaults(&m)

	return &Pack{PackID: packID, Dir: dir, Manifest: m, IR: ir}, nil
}

// BaselinePath returns the baseline PNG path for a (target, breakpoint, state)
// triple. The sub-path segments are validated; the result stays under the
// pack directory.
func (p *Pack) BaselinePath(targetID, breakpointID, stateID string) (string, error) {
	rel := filepath.Join("baselines", targetID, breakpointID, stateID+".png")
	for _, id := range []string{targetID, breakpointID, stateID} {
		if err := validation.ValidateID(id); err != nil {
			return "", fmt.Errorf("%w: %v", ErrInvalidBaselineKey, err)
		}
	}
	abs, err := validation.WithinRoot(p.Dir, rel)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidBaselineKey, err)
	}
	return abs, nil
}

func applyDefaults(m *Manifest) {
	if m.RunDefaults.Threshold == 0 {
		m.RunDefaults.Threshold = 0.92
	}
	if m.RunDefaults.MaxIterations == 0 {
		m.RunDefaults.MaxIterations = 10
	}
	for i := range m.Breakpoints {
		if m.Breakpoints[i].DeviceScaleFactor == 0 {
			m.Breakpoints[i].DeviceScaleFactor = 1
		}
	}
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("parsing %s: %w", filepath.Base(path), err)
	}
	return nil
}
