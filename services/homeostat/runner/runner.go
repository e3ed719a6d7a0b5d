// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package runner turns tuning intents into candidate changes and proves
// them against a live canary.
//
// The pipeline is propose, validate, canary. Propose shapes a bounded
// candidate from the intent's seed fix, or recenters the last promoted
// baseline one grid step when the detector supplied no fix. Validate is
// the cheap pre-flight: pure bounds and live-telemetry headroom checks,
// no physical resource touched. The canary is the expensive proof and
// runs one of two strategies: the spare path starts an isolated
// instance next to production and costs no downtime budget; the
// quiesced path stops production inside the maintenance window under
// the resource lock, charges the worst-case test duration to the daily
// budget up front, and must restore production health within the
// restore SLA afterwards. A restore SLA miss latches the subsystem's
// breaker; no further canaries run for that subsystem until an
// operator clears it.
//
// Every pass terminates in exactly one outcome: promote, reject,
// escalate, or deferred. Policy outcomes come back in the Result;
// returned errors are reserved for infrastructure faults.
package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"time"

	"github.com/AleutianAI/AleutianHomeostat/services/homeostat/audit"
	"github.com/AleutianAI/AleutianHomeostat/services/homeostat/budget"
	"github.com/AleutianAI/AleutianHomeostat/services/homeostat/config"
	"github.com/AleutianAI/AleutianHomeostat/services/homeostat/datatypes"
	"github.com/AleutianAI/AleutianHomeostat/services/homeostat/lock"
	"github.com/AleutianAI/AleutianHomeostat/services/homeostat/observability"
	"github.com/AleutianAI/AleutianHomeostat/services/homeostat/probe"
	"github.com/AleutianAI/AleutianHomeostat/services/homeostat/registry"
	"github.com/AleutianAI/AleutianHomeostat/services/homeostat/servicectl"
	"github.com/AleutianAI/AleutianHomeostat/services/homeostat/store"
	"github.com/AleutianAI/AleutianHomeostat/services/homeostat/window"
)

// Probes bundles the measurement collaborators. Production and canary
// get separate probers because they listen on different URLs.
type Probes struct {
	ProductionHealth probe.HealthProber
	CanaryHealth     probe.HealthProber
	Production       probe.LatencyProber
	Canary           probe.LatencyProber
	Telemetry        probe.TelemetrySource
}

// Deps carries the runner's collaborators.
type Deps struct {
	Store     *store.Store
	Actuators *registry.Actuators
	Budget    *budget.Ledger
	Lock      *lock.ResourceLock
	Window    *window.Window
	Control   servicectl.Controller
	Probes    Probes
	Trail     *audit.Trail
	Metrics   *observability.HomeostatMetrics

	// Canary holds the test policy knobs.
	Canary config.CanaryConfig

	// LockTimeout bounds how long a quiesced test waits for the
	// resource lock before deferring the intent.
	LockTimeout time.Duration

	// HolderID names this process in lock records and audit events.
	HolderID string

	Logger *slog.Logger
}

// Runner executes the candidate pipeline for tuning intents.
//
//	Description:
//	    Single-owner component: the orchestrator calls Execute from its
//	    tick goroutine, so the runner performs no internal locking. The
//	    store, ledger, and audit trail it writes through are themselves
//	    safe for concurrent use.
type Runner struct {
	store     *store.Store
	actuators *registry.Actuators
	budget    *budget.Ledger
	lock      *lock.ResourceLock
	window    *window.Window
	control   servicectl.Controller
	probes    Probes
	trail     *audit.Trail
	metrics   *observability.HomeostatMetrics
	cfg       config.CanaryConfig
	lockWait  time.Duration
	holderID  string
	logger    *slog.Logger
}

// Result is one terminal disposition of a tuning intent.
type Result struct {
	// Candidate is the proposed change, zero-valued when propose
	// itself rejected the intent.
	Candidate datatypes.Candidate

	// Outcome is promote, reject, escalate, or deferred.
	Outcome datatypes.Outcome

	// Reason is the human-readable explanation archived with the
	// intent and written to the audit trail.
	Reason string

	// Path records which canary strategy ran, empty when the intent
	// never reached a live test.
	Path observability.CanaryPath

	// Duration is the wall-clock span of the canary phase.
	Duration time.Duration
}

// New builds a Runner.
//
//	Outputs:
//	    *Runner - ready to execute intents.
//	    error   - a required collaborator is missing.
func New(d Deps) (*Runner, error) {
	if d.Store == nil || d.Actuators == nil || d.Budget == nil {
		return nil, fmt.Errorf("runner requires store, actuators, and budget")
	}
	if d.Lock == nil || d.Window == nil || d.Control == nil {
		return nil, fmt.Errorf("runner requires lock, window, and controller")
	}
	if d.Trail == nil || d.Metrics == nil {
		return nil, fmt.Errorf("runner requires audit trail and metrics")
	}
	if d.Probes.ProductionHealth == nil || d.Probes.CanaryHealth == nil ||
		d.Probes.Production == nil || d.Probes.Canary == nil || d.Probes.Telemetry == nil {
		return nil, fmt.Errorf("runner requires all five probes")
	}
	if d.HolderID == "" {
		return nil, fmt.Errorf("runner requires a holder id")
	}
	if d.LockTimeout <= 0 {
		d.LockTimeout = 10 * time.Second
	}
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	return &Runner{
		store:     d.Store,
		actuators: d.Actuators,
		budget:    d.Budget,
		lock:      d.Lock,
		window:    d.Window,
		control:   d.Control,
		probes:    d.Probes,
		trail:     d.Trail,
		metrics:   d.Metrics,
		cfg:       d.Canary,
		lockWait:  d.LockTimeout,
		holderID:  d.HolderID,
		logger:    d.Logger,
	}, nil
}

// Execute runs the full pipeline for one tuning intent.
//
//	Description:
//	    Propose and validate run first; their failures are cheap
//	    rejects. A latched breaker escalates before any live path. The
//	    canary strategy is spare when configured, quiesced otherwise.
//
//	Outputs:
//	    *Result - the terminal disposition; never nil when error is nil.
//	    error   - infrastructure fault (storage, cancelled tick); the
//	              intent stays queued for a retry.
func (r *Runner) Execute(ctx context.Context, intent datatypes.Intent, now time.Time) (*Result, error) {
	cand, err := r.Propose(ctx, intent)
	if err != nil {
		var verr *datatypes.ValidationError
		if errors.As(err, &verr) {
			r.metrics.RecordError(observability.StageValidate, observability.ErrorCodeValidation)
			return &Result{Outcome: datatypes.OutcomeReject, Reason: err.Error()}, nil
		}
		return nil, fmt.Errorf("propose failed: %w", err)
	}

	if err := r.Validate(ctx, cand); err != nil {
		var verr *datatypes.ValidationError
		if errors.As(err, &verr) {
			r.metrics.RecordError(observability.StageValidate, observability.ErrorCodeValidation)
			return &Result{Candidate: cand, Outcome: datatypes.OutcomeReject, Reason: err.Error()}, nil
		}
		// Telemetry outage, not a verdict on the candidate.
		r.logger.Warn("pre-flight validation unavailable, deferring",
			"intent_id", intent.ID, "error", err)
		return &Result{Candidate: cand, Outcome: datatypes.OutcomeDeferred, Reason: err.Error()}, nil
	}

	latched, err := r.breakerLatched(ctx, intent.Subsystem)
	if err != nil {
		return nil, err
	}
	if latched {
		r.auditEvent(audit.Event{
			EventType: audit.EventEscalation,
			IntentID:  intent.ID,
			Subsystem: intent.Subsystem,
			Outcome:   string(datatypes.OutcomeEscalate),
			Reason:    datatypes.ReasonBreakerOpen,
		})
		r.logger.Warn("restore breaker latched, refusing canary",
			"subsystem", intent.Subsystem, "intent_id", intent.ID)
		return &Result{Candidate: cand, Outcome: datatypes.OutcomeEscalate, Reason: datatypes.ReasonBreakerOpen}, nil
	}

	if r.cfg.SpareResource {
		return r.runSpare(ctx, intent, cand)
	}
	return r.runQuiesced(ctx, intent, cand, now)
}

// Propose shapes a candidate from the intent.
//
//	Description:
//	    A seed fix is echoed with every value clamped onto the
//	    actuator's grid and into its bounds. Without a seed the runner
//	    recenters: it takes the last promoted baseline and moves the
//	    most-drifted parameters up to GridRadius grid steps back toward
//	    the middle of their range, at most MaxParamsPerChange of them.
//	    No seed and no baseline is a reject; the loop needs an anchor.
func (r *Runner) Propose(ctx context.Context, intent datatypes.Intent) (datatypes.Candidate, error) {
	var zero datatypes.Candidate
	if !r.actuators.Known(intent.Subsystem) {
		return zero, &datatypes.ValidationError{Field: "subsystem", Reason: fmt.Sprintf("unknown subsystem %q", intent.Subsystem)}
	}

	if len(intent.Payload.SeedFix) > 0 {
		return r.proposeSeed(intent)
	}
	return r.proposeRecenter(ctx, intent)
}

func (r *Runner) proposeSeed(intent datatypes.Intent) (datatypes.Candidate, error) {
	var zero datatypes.Candidate
	seed := intent.Payload.SeedFix
	if r.cfg.MaxParamsPerChange > 0 && len(seed) > r.cfg.MaxParamsPerChange {
		return zero, &datatypes.ValidationError{
			Field:  "seed_fix",
			Reason: fmt.Sprintf("changes %d actuators, limit is %d", len(seed), r.cfg.MaxParamsPerChange),
		}
	}
	params := make(map[string]float64, len(seed))
	for name, value := range seed {
		spec, ok := r.actuators.Spec(intent.Subsystem, name)
		if !ok {
			return zero, &datatypes.ValidationError{Field: name, Reason: "unknown actuator"}
		}
		params[name] = spec.Clamp(value)
	}
	return datatypes.Candidate{Subsystem: intent.Subsystem, Params: params}, nil
}

func (r *Runner) proposeRecenter(ctx context.Context, intent datatypes.Intent) (datatypes.Candidate, error) {
	var zero datatypes.Candidate
	base, err := r.store.GetBaseline(ctx, intent.Subsystem)
	if errors.Is(err, store.ErrNotFound) {
		return zero, &datatypes.ValidationError{
			Field:  "seed_fix",
			Reason: "no seed fix and no promoted baseline to expand from",
		}
	}
	if err != nil {
		return zero, err
	}

	type drift struct {
		name     string
		current  float64
		midpoint float64
		distance float64
	}
	var drifted []drift
	for name, value := range base.Candidate.Params {
		spec, ok := r.actuators.Spec(intent.Subsystem, name)
		if !ok {
			// Actuator removed from config since the promotion.
			r.logger.Warn("baseline names unknown actuator, skipping",
				"subsystem", intent.Subsystem, "actuator", name)
			continue
		}
		current := spec.Clamp(value)
		midpoint := spec.Clamp(spec.Min + (spec.Max-spec.Min)/2)
		if current == midpoint {
			continue
		}
		drifted = append(drifted, drift{name, current, midpoint, math.Abs(current - midpoint)})
	}
	if len(drifted) == 0 {
		return zero, &datatypes.ValidationError{
			Field:  "seed_fix",
			Reason: "baseline already centered, nothing to adjust without a seed fix",
		}
	}
	sort.Slice(drifted, func(i, j int) bool {
		if drifted[i].distance != drifted[j].distance {
			return drifted[i].distance > drifted[j].distance
		}
		return drifted[i].name < drifted[j].name
	})
	limit := len(drifted)
	if r.cfg.MaxParamsPerChange > 0 && limit > r.cfg.MaxParamsPerChange {
		limit = r.cfg.MaxParamsPerChange
	}

	radius := r.cfg.GridRadius
	if radius < 1 {
		radius = 1
	}
	params := make(map[string]float64, limit)
	for _, d := range drifted[:limit] {
		spec, _ := r.actuators.Spec(intent.Subsystem, d.name)
		steps := int(math.Round(math.Abs(d.midpoint-d.current) / spec.Step))
		if steps > radius {
			steps = radius
		}
		direction := 1.0
		if d.midpoint < d.current {
			direction = -1.0
		}
		params[d.name] = spec.Clamp(d.current + direction*float64(steps)*spec.Step)
	}
	return datatypes.Candidate{Subsystem: intent.Subsystem, Params: params}, nil
}

// Validate is the pure pre-flight check: static bounds via the actuator
// catalog, then live headroom. Telemetry readings named max_<actuator>
// or min_<actuator> tighten the static bounds dynamically; the tuned
// service publishes them when its own state (loaded model, memory
// pressure) shrinks the safe range.
//
// A *datatypes.ValidationError verdict means the candidate is bad; any
// other error means telemetry could not be read and the check should be
// retried.
func (r *Runner) Validate(ctx context.Context, cand datatypes.Candidate) error {
	if err := r.actuators.ValidateCandidate(cand, r.cfg.MaxParamsPerChange); err != nil {
		return err
	}
	readings, err := r.probes.Telemetry.Utilization(ctx)
	if err != nil {
		return fmt.Errorf("telemetry unavailable: %w", err)
	}
	for name, value := range cand.Params {
		if ceiling, ok := readings["max_"+name]; ok && value > ceiling {
			return datatypes.NewValueError(name, value, fmt.Sprintf("exceeds live ceiling %g", ceiling))
		}
		if floor, ok := readings["min_"+name]; ok && value < floor {
			return datatypes.NewValueError(name, value, fmt.Sprintf("below live floor %g", floor))
		}
	}
	return nil
}

// breakerLatched reports whether the subsystem's restore breaker is
// open.
func (r *Runner) breakerLatched(ctx context.Context, subsystem string) (bool, error) {
	_, err := r.store.GetBreaker(ctx, subsystem)
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("breaker lookup failed: %w", err)
	}
	return true, nil
}

// runSpare tests the candidate on the secondary resource while
// production keeps serving. No window, lock, or budget involved.
func (r *Runner) runSpare(ctx context.Context, intent datatypes.Intent, cand datatypes.Candidate) (*Result, error) {
	teardown := context.WithoutCancel(ctx)
	baseline := r.measureBaseline(ctx)

	r.auditEvent(audit.Event{
		EventType:     audit.EventCanaryStarted,
		IntentID:      intent.ID,
		Subsystem:     intent.Subsystem,
		CandidateHash: cand.Hash(),
		Params:        cand.Params,
		Reason:        string(observability.PathSpare),
	})
	started := time.Now()

	outcome, reason := r.testCanary(ctx, cand, baseline.MedianLatency())
	if err := r.control.StopCanary(teardown); err != nil {
		r.logger.Warn("canary teardown failed", "intent_id", intent.ID, "error", err)
	}
	duration := time.Since(started)

	if ctx.Err() != nil && outcome == "" {
		// Tick cancelled mid-test; the canary is down, nothing to
		// restore. Leave the intent queued.
		return nil, ctx.Err()
	}
	return r.settle(ctx, intent, cand, observability.PathSpare, outcome, reason, duration, 0)
}

// runQuiesced tests the candidate on the production resource inside the
// maintenance window: lock, charge the budget, stop production, test,
// tear down, restart, and verify restoration within the SLA.
func (r *Runner) runQuiesced(ctx context.Context, intent datatypes.Intent, cand datatypes.Candidate, now time.Time) (*Result, error) {
	if !r.window.Contains(now) {
		r.logger.Debug("maintenance window closed, deferring",
			"intent_id", intent.ID, "window", r.window.String())
		return &Result{Candidate: cand, Outcome: datatypes.OutcomeDeferred, Reason: datatypes.ReasonWindowClosed}, nil
	}

	lockStart := time.Now()
	err := r.lock.TryAcquire(ctx, r.holderID, r.lockWait)
	r.metrics.ObserveLockWait(time.Since(lockStart).Seconds())
	if err != nil {
		if errors.Is(err, lock.ErrLockTimeout) {
			r.metrics.RecordError(observability.StageCanary, observability.ErrorCodeLockTimeout)
			r.logger.Warn("resource lock contended, deferring",
				"intent_id", intent.ID, "holder_id", r.holderID, "error", err)
			return &Result{Candidate: cand, Outcome: datatypes.OutcomeDeferred, Reason: datatypes.ReasonLockTimeout}, nil
		}
		return nil, fmt.Errorf("lock acquire failed: %w", err)
	}
	defer func() {
		if rerr := r.lock.Release(r.holderID); rerr != nil {
			r.logger.Warn("lock release failed", "holder_id", r.holderID, "error", rerr)
		}
	}()

	remaining, err := r.budget.Consume(ctx, now, r.cfg.WorstCaseSeconds)
	if err != nil {
		if errors.Is(err, store.ErrBudgetExceeded) {
			r.metrics.RecordError(observability.StageCanary, observability.ErrorCodeBudgetExhausted)
			r.auditEvent(audit.Event{
				EventType: audit.EventEscalation,
				IntentID:  intent.ID,
				Subsystem: intent.Subsystem,
				Outcome:   string(datatypes.OutcomeEscalate),
				Reason:    datatypes.ReasonBudgetExhausted,
			})
			r.logger.Warn("daily budget cannot cover worst case, escalating",
				"intent_id", intent.ID, "worst_case_seconds", r.cfg.WorstCaseSeconds)
			return &Result{Candidate: cand, Outcome: datatypes.OutcomeEscalate, Reason: datatypes.ReasonBudgetExhausted}, nil
		}
		return nil, fmt.Errorf("budget consume failed: %w", err)
	}
	r.metrics.AddBudgetConsumed(intent.Subsystem, r.cfg.WorstCaseSeconds)
	r.metrics.SetBudgetRemaining(remaining)

	// Production is still serving; capture its latency before the stop.
	baseline := r.measureBaseline(ctx)

	r.auditEvent(audit.Event{
		EventType:     audit.EventCanaryStarted,
		IntentID:      intent.ID,
		Subsystem:     intent.Subsystem,
		CandidateHash: cand.Hash(),
		Params:        cand.Params,
		Reason:        string(observability.PathQuiesced),
		BudgetUsed:    r.cfg.WorstCaseSeconds,
	})
	started := time.Now()
	teardown := context.WithoutCancel(ctx)

	if err := r.control.StopProduction(ctx); err != nil {
		r.logger.Error("production stop failed", "intent_id", intent.ID, "error", err)
		if herr := r.probes.ProductionHealth.WaitHealthy(teardown, r.cfg.RestoreSLA); herr != nil {
			return r.restoreFailed(ctx, intent, cand, time.Since(started),
				fmt.Sprintf("production unhealthy after failed stop: %v", herr))
		}
		return r.settle(ctx, intent, cand, observability.PathQuiesced,
			datatypes.OutcomeReject, fmt.Sprintf("production stop failed: %v", err),
			time.Since(started), r.cfg.WorstCaseSeconds)
	}

	outcome, reason := r.testCanary(ctx, cand, baseline.MedianLatency())
	if err := r.control.StopCanary(teardown); err != nil {
		r.logger.Warn("canary teardown failed", "intent_id", intent.ID, "error", err)
	}

	if err := r.control.StartProduction(teardown); err != nil {
		return r.restoreFailed(ctx, intent, cand, time.Since(started),
			fmt.Sprintf("production restart command failed: %v", err))
	}
	if err := r.probes.ProductionHealth.WaitHealthy(teardown, r.cfg.RestoreSLA); err != nil {
		return r.restoreFailed(ctx, intent, cand, time.Since(started),
			fmt.Sprintf("production not healthy within restore SLA %s: %v", r.cfg.RestoreSLA, err))
	}
	duration := time.Since(started)
	r.logger.Info("production restored", "intent_id", intent.ID, "downtime", duration)

	if ctx.Err() != nil && outcome == "" {
		return nil, ctx.Err()
	}
	return r.settle(ctx, intent, cand, observability.PathQuiesced, outcome, reason, duration, r.cfg.WorstCaseSeconds)
}

// testCanary spawns the canary, waits out its startup grace, and
// measures it under the hard test timeout. The returned outcome is
// empty only when the parent context died mid-test.
func (r *Runner) testCanary(ctx context.Context, cand datatypes.Candidate, baseline time.Duration) (datatypes.Outcome, string) {
	if err := r.control.SpawnCanary(ctx, cand.Params); err != nil {
		return datatypes.OutcomeReject, fmt.Sprintf("canary spawn failed: %v", err)
	}
	if err := r.probes.CanaryHealth.WaitHealthy(ctx, r.cfg.StartupGrace); err != nil {
		return datatypes.OutcomeReject, fmt.Sprintf("canary failed startup health check: %v", err)
	}

	testCtx, cancel := context.WithTimeout(ctx, r.cfg.TestTimeout)
	defer cancel()
	m, err := r.probes.Canary.Measure(testCtx, r.cfg.ProbeSamples)
	if err != nil {
		if ctx.Err() != nil {
			return "", ""
		}
		// The per-test deadline fired: tear down, do not wait.
		r.metrics.RecordError(observability.StageCanary, observability.ErrorCodeCanaryTimeout)
		return datatypes.OutcomeReject, datatypes.ReasonCanaryTimeout
	}
	return r.judge(m, baseline)
}

// judge grades a canary measurement against the error and latency
// gates. The latency gate compares against the production baseline
// captured in the same pass and is skipped when the baseline produced
// no successful samples.
func (r *Runner) judge(m probe.Measurement, baseline time.Duration) (datatypes.Outcome, string) {
	if r.cfg.MaxErrors > 0 && m.Errors >= r.cfg.MaxErrors {
		return datatypes.OutcomeReject, fmt.Sprintf("canary errors %d reached limit %d", m.Errors, r.cfg.MaxErrors)
	}
	median := m.MedianLatency()
	if median == 0 {
		return datatypes.OutcomeReject, "canary produced no successful samples"
	}
	if baseline > 0 && r.cfg.LatencyMultiple > 0 {
		limit := time.Duration(float64(baseline) * r.cfg.LatencyMultiple)
		if median > limit {
			return datatypes.OutcomeReject, fmt.Sprintf(
				"canary median latency %s exceeds %gx baseline %s", median, r.cfg.LatencyMultiple, baseline)
		}
	}
	return datatypes.OutcomePromote, fmt.Sprintf(
		"canary healthy: %d/%d samples ok, median latency %s", len(m.Latencies), m.Samples, median)
}

// measureBaseline samples production latency for the comparison gate.
// Failure is tolerated; the pass falls back to error-count gating only.
func (r *Runner) measureBaseline(ctx context.Context) probe.Measurement {
	m, err := r.probes.Production.Measure(ctx, r.cfg.ProbeSamples)
	if err != nil {
		r.logger.Warn("baseline measurement incomplete", "error", err)
	}
	return m
}

// settle writes the terminal bookkeeping for a finished canary pass:
// the finish audit event, the canary histogram, and on promotion the
// new baseline plus its promotion record.
func (r *Runner) settle(ctx context.Context, intent datatypes.Intent, cand datatypes.Candidate,
	path observability.CanaryPath, outcome datatypes.Outcome, reason string,
	duration time.Duration, budgetUsed float64) (*Result, error) {

	// The pass already spent real downtime; its record outlives a
	// cancelled tick.
	ctx = context.WithoutCancel(ctx)

	r.auditEvent(audit.Event{
		EventType:     audit.EventCanaryFinished,
		IntentID:      intent.ID,
		Subsystem:     intent.Subsystem,
		CandidateHash: cand.Hash(),
		Outcome:       string(outcome),
		Reason:        reason,
		BudgetUsed:    budgetUsed,
	})
	r.metrics.ObserveCanary(intent.Subsystem, path, string(outcome), duration.Seconds())

	if outcome == datatypes.OutcomePromote {
		if err := r.store.PutBaseline(ctx, store.Baseline{
			Candidate:  cand,
			IntentID:   intent.ID,
			PromotedAt: time.Now().UTC(),
		}); err != nil {
			return nil, fmt.Errorf("baseline write failed after promotion: %w", err)
		}
		r.auditEvent(audit.Event{
			EventType:     audit.EventPromotion,
			IntentID:      intent.ID,
			Subsystem:     intent.Subsystem,
			CandidateHash: cand.Hash(),
			Params:        cand.Params,
			Outcome:       string(outcome),
			Reason:        reason,
		})
		r.logger.Info("candidate promoted",
			"subsystem", intent.Subsystem, "candidate", cand.Hash(), "params", cand.Params)
	} else {
		r.logger.Info("canary pass finished",
			"subsystem", intent.Subsystem, "outcome", outcome, "reason", reason, "path", path)
	}

	return &Result{
		Candidate: cand,
		Outcome:   outcome,
		Reason:    reason,
		Path:      path,
		Duration:  duration,
	}, nil
}

// restoreFailed latches the subsystem breaker and escalates. The
// breaker survives restarts; only an explicit operator clear reopens
// the subsystem for canaries.
func (r *Runner) restoreFailed(ctx context.Context, intent datatypes.Intent, cand datatypes.Candidate,
	duration time.Duration, detail string) (*Result, error) {

	// The latch must land even when the tick context is already dead.
	ctx = context.WithoutCancel(ctx)

	r.metrics.RecordError(observability.StageRestore, observability.ErrorCodeRestoreFailure)
	state := store.BreakerState{
		Subsystem: intent.Subsystem,
		Reason:    detail,
		IntentID:  intent.ID,
		LatchedAt: time.Now().UTC(),
	}
	if err := r.store.SetBreaker(ctx, state); err != nil {
		// The escalation still stands; losing the latch is worse than
		// double-reporting, so surface it.
		return nil, fmt.Errorf("breaker latch failed after restore failure: %w", err)
	}
	r.metrics.SetRestoreBreaker(intent.Subsystem, true)
	r.auditEvent(audit.Event{
		EventType: audit.EventBreakerLatched,
		IntentID:  intent.ID,
		Subsystem: intent.Subsystem,
		Reason:    detail,
	})
	r.logger.Error("restore SLA missed, breaker latched",
		"subsystem", intent.Subsystem, "intent_id", intent.ID, "detail", detail)

	return r.settle(ctx, intent, cand, observability.PathQuiesced,
		datatypes.OutcomeEscalate, datatypes.ReasonRestoreFailure, duration, r.cfg.WorstCaseSeconds)
}

// auditEvent appends best-effort: the decision is already durable in
// the store by the time these are written, so a trail fault is logged
// rather than unwinding the pass.
func (r *Runner) auditEvent(e audit.Event) {
	if _, err := r.trail.Append(e); err != nil {
		r.logger.Error("audit append failed", "event_type", e.EventType, "error", err)
	}
}
