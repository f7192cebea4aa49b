// Copyright (C) 2025 VibeForge (jaggannadhan@vibeforge.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package api

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "vibeforge"

// Prometheus metrics for the API surface.
var (
	// activeSubscribers gauges currently attached trace subscribers.
	activeSubscribers = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: metricsNamespace,
		Subsystem: "api",
		Name:      "active_subscribers",
		Help:      "Number of currently connected trace subscribers.",
	})
)

// recordSubscriber adjusts the active-subscriber gauge.
func recordSubscriber(delta float64) {
	activeSubscribers.Add(delta)
}
