// Package provider holds the two external model providers the refinement
// engine calls: the code-gen provider that turns a prompt into workspace
// files, and the vision scorer that compares a screenshot against its
// baseline. Both are interfaces so the engine can run against fakes.
package provider

import (
	"context"

	"github.com/jaggannadhan/VibeForge/services/workspace"
)

// Scores is one per-breakpoint score vector, each dimension in [0, 1].
type Scores struct {
	Layout     float64 `json:"layout"`
	Style      float64 `json:"style"`
	A11y       float64 `json:"a11y"`
	Perceptual float64 `json:"perceptual"`
}

// CodeGenRequest carries everything the code-gen provider sees.
type CodeGenRequest struct {
	IRSummary      string
	WorkspaceFiles []string
	PreviousCode   string
	PreviousScore  *Scores
	PlanText       string
	OverflowText   string
}

// CodeGenResult is a parsed code-gen response: either whole files or a
// unified diff, never both.
type CodeGenResult struct {
	Files []workspace.GeneratedFile
	Patch string
}

// CodeGenerator produces workspace changes from a structured prompt.
type CodeGenerator interface {
	Generate(ctx context.Context, req CodeGenRequest) (*CodeGenResult, error)
}

// ScoreRequest pairs a captured screenshot with its baseline.
type ScoreRequest struct {
	BaselinePNG  []byte
	CandidatePNG []byte
	IRSummary    string
}

// Scorer compares a candidate screenshot with its baseline.
type Scorer interface {
	Score(ctx context.Context, req ScoreRequest) (Scores, error)
}

// FallbackScores is returned when a scoring response cannot be parsed.
func FallbackScores() Scores {
	return Scores{Layout: 0.5, Style: 0.5, A11y: 0.5, Perceptual: 0.5}
}
