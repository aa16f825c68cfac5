// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package observability holds the Prometheus instrumentation for the
// workflow service.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "kodiak"

var (
	// RunsTotal counts finished runs by terminal status.
	RunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "runs_total",
		Help:      "Workflow runs by terminal status.",
	}, []string{"status"})

	// TasksTotal counts tasks reaching a terminal state.
	TasksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "tasks_total",
		Help:      "Tasks by terminal state.",
	}, []string{"state"})

	// DispatchDurationSeconds observes end-to-end dispatch latency,
	// retries included.
	DispatchDurationSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "dispatch_duration_seconds",
		Help:      "Task dispatch latency including retries.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"task_type", "outcome"})

	// RetriesTotal counts retry sleeps per collaborator.
	RetriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "retries_total",
		Help:      "Retry attempts per collaborator.",
	}, []string{"collaborator"})

	// BreakerTransitionsTotal counts circuit breaker state changes.
	BreakerTransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "breaker_transitions_total",
		Help:      "Circuit breaker state transitions per collaborator.",
	}, []string{"collaborator", "to_state"})

	// ActiveRuns gauges runs currently executing.
	ActiveRuns = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "active_runs",
		Help:      "Runs currently in the running state.",
	})

	// ActiveDispatches gauges in-flight collaborator calls.
	ActiveDispatches = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "active_dispatches",
		Help:      "Collaborator calls currently in flight.",
	})
)
