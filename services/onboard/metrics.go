// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package onboard

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// =============================================================================
// Prometheus Metrics for Onboarding Runs
// =============================================================================

var (
	// runsTotal counts onboarding runs by client and status.
	// Labels: client, status (completed, failed)
	runsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "onboard",
		Subsystem: "pipeline",
		Name:      "runs_total",
		Help:      "Total onboarding runs by client and status",
	}, []string{"client", "status"})

	// columnsMappedTotal counts mapped columns by how they were resolved.
	// Labels: path (memory, auto, human, unresolved)
	columnsMappedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "onboard",
		Subsystem: "pipeline",
		Name:      "columns_mapped_total",
		Help:      "Total columns mapped by resolution path",
	}, []string{"path"})

	// memoryLookupsTotal counts similarity memory lookups by result.
	// Labels: result (hit, miss)
	memoryLookupsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "onboard",
		Subsystem: "memory",
		Name:      "lookups_total",
		Help:      "Total mapping memory lookups by result",
	}, []string{"result"})

	// resolutionRoundsTotal counts human resolution rounds by outcome.
	// Labels: outcome (confirmed, rejected, corrected, unclear)
	resolutionRoundsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "onboard",
		Subsystem: "resolve",
		Name:      "rounds_total",
		Help:      "Total human resolution rounds by classified outcome",
	}, []string{"outcome"})

	// runDurationSeconds measures end-to-end onboarding run latency.
	// Labels: client
	runDurationSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "onboard",
		Subsystem: "pipeline",
		Name:      "run_duration_seconds",
		Help:      "End-to-end onboarding run duration",
		Buckets:   []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300},
	}, []string{"client"})
)
