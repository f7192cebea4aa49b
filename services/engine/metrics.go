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
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Package-level tracer and meter for engine operations.
var (
	tracer = otel.Tracer("vibeforge.engine")
	meter  = otel.Meter("vibeforge.engine")
)

// Metrics for engine operations.
var (
	runDuration     metric.Float64Histogram
	iterationsTotal metric.Int64Counter
	overallScore    metric.Float64Histogram

	metricsOnce sync.Once
	metricsErr  error
)

// initMetrics initializes the metrics. Safe to call multiple times.
func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		runDuration, err = meter.Float64Histogram(
			"engine_run_duration_seconds",
			metric.WithDescription("Wall-clock duration of refinement runs"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		iterationsTotal, err = meter.Int64Counter(
			"engine_iterations_total",
			metric.WithDescription("Total number of refinement iterations executed"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		overallScore, err = meter.Float64Histogram(
			"engine_overall_score",
			metric.WithDescription("Overall score distribution across iterations"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

// recordRunFinished records a run completion.
func recordRunFinished(ctx context.Context, status string, duration time.Duration) {
	if err := initMetrics(); err != nil {
		return
	}
	runDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(
		attribute.String("status", status),
	))
}

// recordIteration records an iteration start.
func recordIteration(ctx context.Context) {
	if err := initMetrics(); err != nil {
		return
	}
	iterationsTotal.Add(ctx, 1)
}

// recordScore records one iteration's overall score.
func recordScore(ctx context.Context, score float64) {
	if err := initMetrics(); err != nil {
		return
	}
	overallScore.Record(ctx, score)
}
