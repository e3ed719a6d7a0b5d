// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package observability provides metrics and instrumentation for the
// homeostat controller.
//
// # Description
//
// This package implements Prometheus metrics for monitoring the control
// loop. Metrics include:
//   - Tick and intent outcome counters (by subsystem and disposition)
//   - Queue depth and downtime budget gauges
//   - Canary duration and lock wait histograms
//   - Zooid lifecycle state gauges and transition counters
//
// # Integration
//
// Metrics are exposed via the /metrics endpoint. Use with Prometheus +
// Grafana for dashboards and alerting.
//
// # Thread Safety
//
// All metric operations are thread-safe via Prometheus's internal
// locking.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// =============================================================================
// Metric Definitions
// =============================================================================

// Namespace for all metrics
const metricsNamespace = "aleutian"

// Subsystem for homeostat controller metrics
const homeostatSubsystem = "homeostat"

// HomeostatMetrics holds all Prometheus metrics for the control loop.
//
// # Description
//
// Provides counters, histograms, and gauges for monitoring controller
// behavior and resource usage. Initialize once at startup via
// InitMetrics().
//
// # Thread Safety
//
// All operations are thread-safe.
type HomeostatMetrics struct {
	// TicksTotal counts orchestrator ticks by result.
	// Labels: result (processed, idle, window_closed, error)
	TicksTotal *prometheus.CounterVec

	// IntentOutcomesTotal counts intent dispositions. Deferrals are
	// counted once per deferral; the rest are terminal.
	// Labels: subsystem, outcome (promote, reject, escalate, deferred,
	// rate_limited, pruned, evicted)
	IntentOutcomesTotal *prometheus.CounterVec

	// DuplicatesTotal counts intents merged by the dedup window.
	// Labels: subsystem
	DuplicatesTotal *prometheus.CounterVec

	// QueueDepth tracks the number of pending intents.
	QueueDepth prometheus.Gauge

	// BudgetSecondsConsumedTotal counts downtime budget charged.
	// Labels: subsystem
	BudgetSecondsConsumedTotal *prometheus.CounterVec

	// BudgetRemainingSeconds tracks today's remaining downtime budget.
	BudgetRemainingSeconds prometheus.Gauge

	// CanaryDurationSeconds measures wall-clock canary test duration.
	// Labels: subsystem, path (spare, quiesced), outcome
	CanaryDurationSeconds *prometheus.HistogramVec

	// LockWaitSeconds measures time spent waiting on the resource lock.
	LockWaitSeconds prometheus.Histogram

	// ErrorsTotal counts failures by pipeline stage and error code.
	// Labels: stage, code (validation, lock_timeout, budget_exhausted,
	// canary_timeout, restore_failure, storage, internal)
	ErrorsTotal *prometheus.CounterVec

	// RestoreBreakerEngaged reports whether automatic canaries are
	// blocked for a subsystem (1 = blocked).
	// Labels: subsystem
	RestoreBreakerEngaged *prometheus.GaugeVec

	// ZooidsByState tracks registry population per lifecycle state.
	// Labels: state (DORMANT, PROBATION, ACTIVE, RETIRED)
	ZooidsByState *prometheus.GaugeVec

	// TransitionsTotal counts zooid lifecycle transitions.
	// Labels: from, to
	TransitionsTotal *prometheus.CounterVec

	// TournamentsTotal counts bioreactor tournaments by result.
	// Labels: niche, result (replaced, retained)
	TournamentsTotal *prometheus.CounterVec
}

// DefaultMetrics is the singleton instance of HomeostatMetrics.
// Initialized by InitMetrics().
var DefaultMetrics *HomeostatMetrics

// InitMetrics initializes the default metrics instance.
//
// # Description
//
// Creates and registers all Prometheus metrics with the default
// registry. Should be called once at application startup.
//
// # Outputs
//
//   - *HomeostatMetrics: The initialized metrics instance.
//
// # Limitations
//
//   - Panics if called twice (duplicate registration).
func InitMetrics() *HomeostatMetrics {
	DefaultMetrics = NewMetrics(prometheus.DefaultRegisterer)
	return DefaultMetrics
}

// NewMetrics creates the metric set against a specific registerer.
//
// # Description
//
// Production code uses InitMetrics; tests pass their own
// prometheus.NewRegistry() to avoid the global-registry duplicate
// registration panic.
//
// # Inputs
//
//   - reg: Destination registry for all metrics.
//
// # Outputs
//
//   - *HomeostatMetrics: Registered and ready to record.
func NewMetrics(reg prometheus.Registerer) *HomeostatMetrics {
	factory := promauto.With(reg)

	return &HomeostatMetrics{
		TicksTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: homeostatSubsystem,
				Name:      "ticks_total",
				Help:      "Total orchestrator ticks by result",
			},
			[]string{"result"},
		),

		IntentOutcomesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: homeostatSubsystem,
				Name:      "intent_outcomes_total",
				Help:      "Intent dispositions by subsystem and outcome",
			},
			[]string{"subsystem", "outcome"},
		),

		DuplicatesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: homeostatSubsystem,
				Name:      "duplicates_total",
				Help:      "Intents merged by the dedup window",
			},
			[]string{"subsystem"},
		),

		QueueDepth: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: homeostatSubsystem,
				Name:      "queue_depth",
				Help:      "Number of pending intents in the queue",
			},
		),

		BudgetSecondsConsumedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: homeostatSubsystem,
				Name:      "budget_seconds_consumed_total",
				Help:      "Downtime budget seconds charged by subsystem",
			},
			[]string{"subsystem"},
		),

		BudgetRemainingSeconds: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: homeostatSubsystem,
				Name:      "budget_remaining_seconds",
				Help:      "Remaining downtime budget seconds for the current day",
			},
		),

		CanaryDurationSeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: homeostatSubsystem,
				Name:      "canary_duration_seconds",
				Help:      "Wall-clock canary test duration by path and outcome",
				Buckets:   []float64{1, 5, 10, 15, 30, 60, 120, 300},
			},
			[]string{"subsystem", "path", "outcome"},
		),

		LockWaitSeconds: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: homeostatSubsystem,
				Name:      "lock_wait_seconds",
				Help:      "Time spent waiting to acquire the resource lock",
				Buckets:   []float64{0.01, 0.05, 0.25, 1, 2.5, 5, 10},
			},
		),

		ErrorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: homeostatSubsystem,
				Name:      "errors_total",
				Help:      "Failures by pipeline stage and error code",
			},
			[]string{"stage", "code"},
		),

		RestoreBreakerEngaged: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: homeostatSubsystem,
				Name:      "restore_breaker_engaged",
				Help:      "Whether automatic canaries are blocked for a subsystem",
			},
			[]string{"subsystem"},
		),

		ZooidsByState: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: homeostatSubsystem,
				Name:      "zooids_by_state",
				Help:      "Registry population per lifecycle state",
			},
			[]string{"state"},
		),

		TransitionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: homeostatSubsystem,
				Name:      "transitions_total",
				Help:      "Zooid lifecycle transitions",
			},
			[]string{"from", "to"},
		),

		TournamentsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: homeostatSubsystem,
				Name:      "tournaments_total",
				Help:      "Bioreactor tournaments by niche and result",
			},
			[]string{"niche", "result"},
		),
	}
}

// =============================================================================
// Label Types
// =============================================================================

// TickResult categorizes how an orchestrator tick ended.
type TickResult string

const (
	// TickProcessed indicates the tick dispatched an intent.
	TickProcessed TickResult = "processed"

	// TickIdle indicates the queue was empty.
	TickIdle TickResult = "idle"

	// TickWindowClosed indicates work was gated on the maintenance window.
	TickWindowClosed TickResult = "window_closed"

	// TickError indicates the tick aborted on an internal failure.
	TickError TickResult = "error"
)

// CanaryPath identifies which canary strategy ran.
type CanaryPath string

const (
	// PathSpare is the parallel test against a spare resource.
	PathSpare CanaryPath = "spare"

	// PathQuiesced is the in-window test that stops production.
	PathQuiesced CanaryPath = "quiesced"
)

// Stage identifies where in the pipeline a failure occurred.
type Stage string

const (
	// StageEnqueue covers intake validation and persistence.
	StageEnqueue Stage = "enqueue"

	// StageValidate covers pre-flight candidate checks.
	StageValidate Stage = "validate"

	// StageCanary covers the live test itself.
	StageCanary Stage = "canary"

	// StageRestore covers production recovery after a canary.
	StageRestore Stage = "restore"

	// StageTick covers the orchestrator loop outside dispatch.
	StageTick Stage = "tick"

	// StageLifecycle covers graduation and tournament passes.
	StageLifecycle Stage = "lifecycle"
)

// ErrorCode represents a categorized error type for metrics.
type ErrorCode string

const (
	// ErrorCodeValidation indicates a candidate violated actuator
	// bounds or the scope guard.
	ErrorCodeValidation ErrorCode = "validation"

	// ErrorCodeLockTimeout indicates the resource lock stayed held.
	ErrorCodeLockTimeout ErrorCode = "lock_timeout"

	// ErrorCodeBudgetExhausted indicates insufficient downtime budget.
	ErrorCodeBudgetExhausted ErrorCode = "budget_exhausted"

	// ErrorCodeCanaryTimeout indicates the hard test deadline passed.
	ErrorCodeCanaryTimeout ErrorCode = "canary_timeout"

	// ErrorCodeRestoreFailure indicates production did not recover
	// within the SLA after a canary.
	ErrorCodeRestoreFailure ErrorCode = "restore_failure"

	// ErrorCodeStorage indicates a durable state failure.
	ErrorCodeStorage ErrorCode = "storage"

	// ErrorCodeInternal indicates any other internal error.
	ErrorCodeInternal ErrorCode = "internal"
)

// =============================================================================
// Helper Methods
// =============================================================================

// RecordTick records a completed orchestrator tick.
func (m *HomeostatMetrics) RecordTick(result TickResult) {
	m.TicksTotal.WithLabelValues(string(result)).Inc()
}

// RecordOutcome records a terminal intent disposition.
func (m *HomeostatMetrics) RecordOutcome(subsystem, outcome string) {
	m.IntentOutcomesTotal.WithLabelValues(subsystem, outcome).Inc()
}

// RecordDuplicate records an intent merged by the dedup window.
func (m *HomeostatMetrics) RecordDuplicate(subsystem string) {
	m.DuplicatesTotal.WithLabelValues(subsystem).Inc()
}

// SetQueueDepth updates the pending intent gauge.
func (m *HomeostatMetrics) SetQueueDepth(n int) {
	m.QueueDepth.Set(float64(n))
}

// AddBudgetConsumed records downtime budget charged to a subsystem.
func (m *HomeostatMetrics) AddBudgetConsumed(subsystem string, seconds float64) {
	m.BudgetSecondsConsumedTotal.WithLabelValues(subsystem).Add(seconds)
}

// SetBudgetRemaining updates the remaining budget gauge.
func (m *HomeostatMetrics) SetBudgetRemaining(seconds float64) {
	m.BudgetRemainingSeconds.Set(seconds)
}

// ObserveCanary records a canary test duration.
func (m *HomeostatMetrics) ObserveCanary(subsystem string, path CanaryPath, outcome string, seconds float64) {
	m.CanaryDurationSeconds.WithLabelValues(subsystem, string(path), outcome).Observe(seconds)
}

// ObserveLockWait records time spent acquiring the resource lock.
func (m *HomeostatMetrics) ObserveLockWait(seconds float64) {
	m.LockWaitSeconds.Observe(seconds)
}

// RecordError records a categorized pipeline failure.
func (m *HomeostatMetrics) RecordError(stage Stage, code ErrorCode) {
	m.ErrorsTotal.WithLabelValues(string(stage), string(code)).Inc()
}

// SetRestoreBreaker updates the breaker gauge for a subsystem.
func (m *HomeostatMetrics) SetRestoreBreaker(subsystem string, engaged bool) {
	val := 0.0
	if engaged {
		val = 1.0
	}
	m.RestoreBreakerEngaged.WithLabelValues(subsystem).Set(val)
}

// SetZooidCount updates the population gauge for a lifecycle state.
func (m *HomeostatMetrics) SetZooidCount(state string, count int) {
	m.ZooidsByState.WithLabelValues(state).Set(float64(count))
}

// RecordTransition records a zooid lifecycle transition.
func (m *HomeostatMetrics) RecordTransition(from, to string) {
	m.TransitionsTotal.WithLabelValues(from, to).Inc()
}

// RecordTournament records a tournament result for a niche.
func (m *HomeostatMetrics) RecordTournament(niche string, replaced bool) {
	result := "retained"
	if replaced {
		result = "replaced"
	}
	m.TournamentsTotal.WithLabelValues(niche, result).Inc()
}
