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

import "time"

// Stop reasons.
const (
	StopMaxIterations   = "max_iterations"
	StopRegressionLimit = "regression_limit"
	StopPlateau         = "plateau"
	StopTimeBudget      = "time_budget"
	StopThresholdMet    = "threshold met"
	StopCancelled       = "cancelled"
)

// StopInput is everything the stop controller looks at after an iteration.
type StopInput struct {
	Iteration             int
	MaxIterations         int
	AcceptedScoreHistory  []float64
	ConsecutiveRejections int
	StartTime             time.Time
	Now                   time.Time
}

// StopDecision says whether and why the run should end.
type StopDecision struct {
	Stop   bool
	Reason string
}

// StopController applies the run-ending conditions in a fixed order.
type StopController struct {
	maxConsecutiveRejections int
	plateauWindow            int
	plateauThreshold         float64
	timeBudget               time.Duration
}

// NewStopController creates a stop controller from the engine config.
func NewStopController(cfg Config) *StopController {
	return &StopController{
		maxConsecutiveRejections: cfg.MaxConsecutiveRejections,
		plateauWindow:            cfg.PlateauWindow,
		plateauThreshold:         cfg.PlateauThreshold,
		timeBudget:               cfg.TimeBudget,
	}
}

// Evaluate checks the stop conditions in order; the first match wins.
//
// Order: iteration ceiling, consecutive-rejection limit, accepted-score
// plateau, wall-clock budget.
func (c *StopController) Evaluate(in StopInput) StopDecision {
	if in.Iteration >= in.MaxIterations-1 {
		return StopDecision{Stop: true, Reason: StopMaxIterations}
	}

	if in.ConsecutiveRejections >= c.maxConsecutiveRejections {
		return StopDecision{Stop: true, Reason: StopRegressionLimit}
	}

	if len(in.AcceptedScoreHistory) >= c.plateauWindow {
		window := in.AcceptedScoreHistory[len(in.AcceptedScoreHistory)-c.plateauWindow:]
		lo, hi := window[0], window[0]
		for _, score := range window[1:] {
			if score < lo {
				lo = score
			}
			if score > hi {
				hi = score
			}
		}
		if hi-lo < c.plateauThreshold {
			return StopDecision{Stop: true, Reason: StopPlateau}
		}
	}

	now := in.Now
	if now.IsZero() {
		now = time.Now()
	}
	if now.Sub(in.StartTime) > c.timeBudget {
		return StopDecision{Stop: true, Reason: StopTimeBudget}
	}

	return StopDecision{}
}
