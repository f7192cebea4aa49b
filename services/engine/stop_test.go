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
	"testing"
	"time"
)

func newStopInput() StopInput {
	now := time.Now()
	return StopInput{
		Iteration:     2,
		MaxIterations: 10,
		StartTime:     now.Add(-time.Minute),
		Now:           now,
	}
}

func TestStop_MaxIterations(t *testing.T) {
	ctl := NewStopController(DefaultConfig())

	in := newStopInput()
	in.Iteration = 9
	if d := ctl.Evaluate(in); !d.Stop || d.Reason != StopMaxIterations {
		t.Errorf("decision = %+v, want max_iterations", d)
	}

	in.Iteration = 8
	if d := ctl.Evaluate(in); d.Stop {
		t.Errorf("iteration 8 of 10 should not stop: %+v", d)
	}
}

func TestStop_SingleIterationRun(t *testing.T) {
	ctl := NewStopController(DefaultConfig())
	in := newStopInput()
	in.Iteration = 0
	in.MaxIterations = 1
	if d := ctl.Evaluate(in); !d.Stop || d.Reason != StopMaxIterations {
		t.Errorf("maxIterations=1 run must stop after one iteration: %+v", d)
	}
}

func TestStop_RegressionLimit(t *testing.T) {
	ctl := NewStopController(DefaultConfig())
	in := newStopInput()
	in.ConsecutiveRejections = 3
	if d := ctl.Evaluate(in); !d.Stop || d.Reason != StopRegressionLimit {
		t.Errorf("decision = %+v, want regression_limit", d)
	}

	in.ConsecutiveRejections = 2
	if d := ctl.Evaluate(in); d.Stop {
		t.Errorf("two rejections should not stop: %+v", d)
	}
}

func TestStop_Plateau(t *testing.T) {
	ctl := NewStopController(DefaultConfig())

	in := newStopInput()
	in.AcceptedScoreHistory = []float64{0.80, 0.805, 0.806, 0.807}
	if d := ctl.Evaluate(in); !d.Stop || d.Reason != StopPlateau {
		t.Errorf("decision = %+v, want plateau", d)
	}

	// Only the trailing window counts: a flat early history with recent
	// movement is not a plateau.
	in.AcceptedScoreHistory = []float64{0.50, 0.50, 0.50, 0.60, 0.70, 0.80}
	if d := ctl.Evaluate(in); d.Stop {
		t.Errorf("recent improvement treated as plateau: %+v", d)
	}

	// Too little history.
	in.AcceptedScoreHistory = []float64{0.80, 0.801}
	if d := ctl.Evaluate(in); d.Stop {
		t.Errorf("short history treated as plateau: %+v", d)
	}
}

func TestStop_TimeBudget(t *testing.T) {
	ctl := NewStopController(DefaultConfig())
	in := newStopInput()
	in.StartTime = in.Now.Add(-16 * time.Minute)
	if d := ctl.Evaluate(in); !d.Stop || d.Reason != StopTimeBudget {
		t.Errorf("decision = %+v, want time_budget", d)
	}
}

func TestStop_OrderFirstMatchWins(t *testing.T) {
	ctl := NewStopController(DefaultConfig())
	in := newStopInput()
	// Everything fires at once; the iteration ceiling is checked first.
	in.Iteration = 9
	in.ConsecutiveRejections = 5
	in.AcceptedScoreHistory = []float64{0.8, 0.8, 0.8}
	in.StartTime = in.Now.Add(-time.Hour)
	if d := ctl.Evaluate(in); d.Reason != StopMaxIterations {
		t.Errorf("reason = %q, want max_iterations (ordered first)", d.Reason)
	}
}
