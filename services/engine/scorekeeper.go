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
	"math"

	"github.com/jaggannadhan/VibeForge/services/provider"
)

// Acceptance reasons.
const (
	ReasonImproved      = "improved"
	ReasonRegression    = "regression"
	ReasonNoImprovement = "no_improvement"
)

// Acceptance is the scorekeeper's verdict on one candidate score.
type Acceptance struct {
	Accepted bool
	Reason   string
}

// Scorekeeper tracks the best overall score seen in a run and decides
// whether each candidate is an improvement.
//
// # Thread Safety
//
// Not safe for concurrent use; the run orchestrator is the only caller.
type Scorekeeper struct {
	epsilon       float64
	best          float64
	bestIteration int
	hasBest       bool
}

// NewScorekeeper creates a scorekeeper with the given epsilon.
func NewScorekeeper(epsilon float64) *Scorekeeper {
	return &Scorekeeper{epsilon: epsilon, best: math.Inf(-1), bestIteration: -1}
}

// Evaluate decides acceptance for a candidate overall score.
//
// # Description
//
// The first candidate is always accepted. After that, a candidate must beat
// the best by at least epsilon to be accepted; a candidate more than epsilon
// below the best is a regression; anything in between is no improvement.
// State only advances on acceptance.
func (s *Scorekeeper) Evaluate(iteration int, overall float64) Acceptance {
	switch {
	case !s.hasBest:
		s.best = overall
		s.bestIteration = iteration
		s.hasBest = true
		return Acceptance{Accepted: true, Reason: ReasonImproved}

	case overall >= s.best+s.epsilon:
		s.best = overall
		s.bestIteration = iteration
		return Acceptance{Accepted: true, Reason: ReasonImproved}

	case overall < s.best-s.epsilon:
		return Acceptance{Accepted: false, Reason: ReasonRegression}

	default:
		return Acceptance{Accepted: false, Reason: ReasonNoImprovement}
	}
}

// Best returns the best overall score and its iteration index, or ok=false
// before any acceptance.
func (s *Scorekeeper) Best() (score float64, iteration int, ok bool) {
	return s.best, s.bestIteration, s.hasBest
}

// Overall combines a score vector into the weighted overall score, rounded
// to two decimals.
func Overall(scores provider.Scores, weights ScoreWeights) float64 {
	sum := weights.Layout*scores.Layout +
		weights.Style*scores.Style +
		weights.A11y*scores.A11y +
		weights.Perceptual*scores.Perceptual
	return Round2(sum)
}

// Round2 rounds to two decimal places.
func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// MeanScores averages per-breakpoint score vectors dimension-wise, rounding
// each aggregate dimension to two decimals.
func MeanScores(all []provider.Scores) provider.Scores {
	if len(all) == 0 {
		return provider.Scores{}
	}
	var agg provider.Scores
	for _, s := range all {
		agg.Layout += s.Layout
		agg.Style += s.Style
		agg.A11y += s.A11y
		agg.Perceptual += s.Perceptual
	}
	n := float64(len(all))
	return provider.Scores{
		Layout:     Round2(agg.Layout / n),
		Style:      Round2(agg.Style / n),
		A11y:       Round2(agg.A11y / n),
		Perceptual: Round2(agg.Perceptual / n),
	}
}
