// Copyright (C) 2025 VibeForge (jaggannadhan@vibeforge.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package sandbox

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Package-level meter for sandbox operations.
var meter = otel.Meter("vibeforge.sandbox")

// Metrics for sandbox operations.
var (
	spawnsTotal    metric.Int64Counter
	evictionsTotal metric.Int64Counter
	reapsTotal     metric.Int64Counter

	metricsOnce sync.Once
	metricsErr  error
)

// initMetrics initializes the metrics. Safe to call multiple times.
func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		spawnsTotal, err = meter.Int64Counter(
			"sandbox_spawns_total",
			metric.WithDescription("Total number of preview process spawns"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		evictionsTotal, err = meter.Int64Counter(
			"sandbox_evictions_total",
			metric.WithDescription("Total number of LRU evictions from the historical pool"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		reapsTotal, err = meter.Int64Counter(
			"sandbox_reaps_total",
			metric.WithDescription("Total number of idle previews reaped"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

// recordSpawn records a preview spawn event.
func recordSpawn(ctx context.Context, pool string) {
	if err := initMetrics(); err != nil {
		return
	}
	spawnsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("pool", pool)))
}

// recordEviction records an LRU eviction.
func recordEviction(ctx context.Context) {
	if err := initMetrics(); err != nil {
		return
	}
	evictionsTotal.Add(ctx, 1)
}

// recordReap records an idle reap.
func recordReap(ctx context.Context) {
	if err := initMetrics(); err != nil {
		return
	}
	reapsTotal.Add(ctx, 1)
}
