/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

// Package metrics defines Prometheus metrics for the orchestrator worker.
//
// Metrics are registered against a package-level registry; nothing in this
// package stands up an HTTP exporter, since serving /metrics is an external
// collaborator's job.
//
// Metric naming follows Prometheus conventions:
//   - rlmrs_ prefix for all custom metrics
//   - _total suffix for counters
//   - _seconds suffix for duration histograms
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Registry is the package-level registry all metrics below are registered against.
var Registry = prometheus.NewRegistry()

var (
	// TurnsTotal counts orchestrator turns by execution mode.
	TurnsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rlmrs_turns_total",
			Help: "Total orchestrator turns executed.",
		},
		[]string{"mode"},
	)

	// ExecutionsTotal counts executions reaching a terminal status.
	ExecutionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rlmrs_executions_total",
			Help: "Total executions reaching a terminal status, by status.",
		},
		[]string{"status"},
	)

	// ExecutionDurationSeconds is a histogram of execution wall-clock duration.
	ExecutionDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "rlmrs_execution_duration_seconds",
			Help:    "Duration of executions in seconds, from first turn to terminal status.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200, 2400},
		},
		[]string{"status"},
	)

	// StepErrorsTotal counts step failures by error code.
	StepErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rlmrs_step_errors_total",
			Help: "Total step failures by error code.",
		},
		[]string{"code"},
	)

	// ToolRequestsTotal counts resolved tool requests by kind and status.
	ToolRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rlmrs_tool_requests_total",
			Help: "Total tool requests resolved, by kind and status.",
		},
		[]string{"kind", "status"},
	)

	// ToolResolveDurationSeconds is a histogram of tool fan-out latency.
	ToolResolveDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "rlmrs_tool_resolve_duration_seconds",
			Help:    "Duration of a tool-request fan-out round in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"kind"},
	)

	// LLMCacheTotal counts completion-provider cache lookups by hit/miss.
	LLMCacheTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rlmrs_llm_cache_total",
			Help: "Total sub-completion cache lookups, by outcome.",
		},
		[]string{"outcome"},
	)

	// LeasesAcquiredTotal counts successful execution-lease acquisitions.
	LeasesAcquiredTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "rlmrs_leases_acquired_total",
			Help: "Total execution leases successfully acquired by this replica.",
		},
	)

	// ActiveExecutions is the number of executions this replica currently holds a lease on.
	ActiveExecutions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "rlmrs_active_executions",
			Help: "Number of executions currently being driven by this replica.",
		},
	)
)

func init() {
	Registry.MustRegister(
		TurnsTotal,
		ExecutionsTotal,
		ExecutionDurationSeconds,
		StepErrorsTotal,
		ToolRequestsTotal,
		ToolResolveDurationSeconds,
		LLMCacheTotal,
		LeasesAcquiredTotal,
		ActiveExecutions,
	)
}

// RecordExecutionTerminal records metrics for an execution reaching a terminal status.
func RecordExecutionTerminal(status string, duration time.Duration) {
	ExecutionsTotal.WithLabelValues(status).Inc()
	ExecutionDurationSeconds.WithLabelValues(status).Observe(duration.Seconds())
}

// RecordStepError records a single step failure by error code.
func RecordStepError(code string) {
	StepErrorsTotal.WithLabelValues(code).Inc()
}

// RecordToolRequest records a single resolved tool request.
func RecordToolRequest(kind, status string) {
	ToolRequestsTotal.WithLabelValues(kind, status).Inc()
}

// RecordLLMCacheLookup records a sub-completion cache hit or miss.
func RecordLLMCacheLookup(hit bool) {
	outcome := "miss"
	if hit {
		outcome = "hit"
	}
	LLMCacheTotal.WithLabelValues(outcome).Inc()
}
