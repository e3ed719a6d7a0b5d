// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package orchestrator drives the control loop: a fixed-interval tick
// that drains the intent queue one intent at a time and dispatches each
// to the matching policy engine.
//
// The loop uses the ticker + done channel pattern for graceful shutdown.
// Ticks never overlap; a tick that outruns the interval delays the next
// one. The orchestrator holds no cross-tick mutable state of its own.
// Everything it consults between ticks (queue, rate-limit stamps,
// rejection streaks) lives in the durable store, so a crash between
// ticks loses at most the in-flight tick and never corrupts the queue.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/AleutianHomeostat/services/homeostat/audit"
	"github.com/AleutianAI/AleutianHomeostat/services/homeostat/bioreactor"
	"github.com/AleutianAI/AleutianHomeostat/services/homeostat/config"
	"github.com/AleutianAI/AleutianHomeostat/services/homeostat/datatypes"
	"github.com/AleutianAI/AleutianHomeostat/services/homeostat/lifecycle"
	"github.com/AleutianAI/AleutianHomeostat/services/homeostat/observability"
	"github.com/AleutianAI/AleutianHomeostat/services/homeostat/queue"
	"github.com/AleutianAI/AleutianHomeostat/services/homeostat/runner"
	"github.com/AleutianAI/AleutianHomeostat/services/homeostat/store"
	"github.com/AleutianAI/AleutianHomeostat/services/homeostat/window"
)

var tracer = otel.Tracer("aleutian.homeostat")

// rollingWindow is the span the per-subsystem action count is measured
// over. Rolling, not calendar: four actions at 23:50 still count at
// 00:10.
const rollingWindow = 24 * time.Hour

// backoffStreak is how many consecutive canary rejections put a
// subsystem into cooldown backoff.
const backoffStreak = 2

// =============================================================================
// Collaborator Interfaces
// =============================================================================

// TuningExecutor runs one tuning intent through propose, validate, and
// canary. Satisfied by *runner.Runner.
type TuningExecutor interface {
	Execute(ctx context.Context, intent datatypes.Intent, now time.Time) (*runner.Result, error)
}

// LifecycleEvaluator runs the dual promotion gate over the probation
// cohort. Satisfied by *lifecycle.Graduator.
type LifecycleEvaluator interface {
	Pass(ctx context.Context, now time.Time) (*lifecycle.PassResult, error)
}

// CohortSelector moves the best dormant zooids into probation.
// Satisfied by *lifecycle.BatchSelector.
type CohortSelector interface {
	Select(ctx context.Context, now time.Time) (*lifecycle.Selection, error)
}

// TournamentRunner plays probation challengers against active
// incumbents. Satisfied by *bioreactor.Bioreactor.
type TournamentRunner interface {
	Run(ctx context.Context, now time.Time) (*bioreactor.RunResult, error)
}

// =============================================================================
// Configuration
// =============================================================================

// Config tunes the tick loop.
type Config struct {
	// TickInterval is the fixed tick period.
	TickInterval time.Duration

	// RateLimit bounds how often each subsystem may be acted on.
	RateLimit config.RateLimitConfig

	// RequireWindow gates tuning dispatch on the maintenance window.
	// Set when canaries run quiesced; spare-resource deployments leave
	// it unset and tune around the clock.
	RequireWindow bool

	// MaxDeferrals caps how many times one intent may be postponed
	// (lock contention, rejection backoff) before it is archived as an
	// escalation instead. Zero disables the cap.
	MaxDeferrals int
}

// DefaultConfig returns the loop settings used when the operator
// configures nothing.
func DefaultConfig() Config {
	return Config{
		TickInterval: 30 * time.Second,
		MaxDeferrals: 16,
	}
}

// =============================================================================
// Orchestrator
// =============================================================================

// Deps names the orchestrator's collaborators.
type Deps struct {
	Queue      *queue.Queue
	Runner     TuningExecutor
	Graduator  LifecycleEvaluator
	Selector   CohortSelector
	Bioreactor TournamentRunner
	Store      *store.Store
	Window     *window.Window
	Clock      window.ClockChecker
	Trail      *audit.Trail
	Metrics    *observability.HomeostatMetrics
	Config     Config
	Logger     *slog.Logger
}

// Orchestrator is the tick scheduler.
//
// # Description
//
// On each tick it checks the clock, sweeps stale intents, peeks the
// head of the queue, enforces the target subsystem's rate limit, and
// routes the intent by type: tuning to the candidate runner, lifecycle
// to the graduator and batch selector, tournament to the bioreactor.
// At most one intent is consumed per tick; the intent leaves the queue
// only when it is archived with a terminal outcome.
//
// # Thread Safety
//
// Start, Stop, and RunNow are safe for concurrent use. Tick execution
// itself is single-threaded: the loop goroutine is the only caller of
// the policy engines once started.
type Orchestrator struct {
	queue      *queue.Queue
	runner     TuningExecutor
	graduator  LifecycleEvaluator
	selector   CohortSelector
	bioreactor TournamentRunner
	store      *store.Store
	window     *window.Window
	clock      window.ClockChecker
	trail      *audit.Trail
	metrics    *observability.HomeostatMetrics
	cfg        Config
	logger     *slog.Logger

	done    chan struct{}
	mu      sync.Mutex
	running bool
}

// TickOutcome summarizes one tick for callers of RunNow and for the
// status endpoint.
type TickOutcome struct {
	// Result is the tick disposition: processed, idle, window_closed.
	Result observability.TickResult `json:"result"`

	// IntentID, Type, and Subsystem identify the head intent the tick
	// examined. Empty on an idle tick.
	IntentID  string               `json:"intent_id,omitempty"`
	Type      datatypes.IntentType `json:"type,omitempty"`
	Subsystem string               `json:"subsystem,omitempty"`

	// Outcome and Reason record the intent's disposition: a terminal
	// archive outcome, or deferred when it kept its queue position.
	Outcome datatypes.Outcome `json:"outcome,omitempty"`
	Reason  string            `json:"reason,omitempty"`

	// Duration is the tick's wall-clock span.
	Duration time.Duration `json:"duration"`
}

// New builds an Orchestrator.
//
// # Inputs
//
//   - d: Collaborators. Queue, Runner, Graduator, Selector, Bioreactor,
//     Store, Trail, and Metrics are required. Window is required when
//     Config.RequireWindow is set. A nil Clock gets the default sanity
//     checker; a nil Logger gets slog.Default().
//
// # Outputs
//
//   - *Orchestrator: Ready to Start().
//   - error: Non-nil when a required collaborator is missing.
func New(d Deps) (*Orchestrator, error) {
	if d.Queue == nil || d.Store == nil {
		return nil, fmt.Errorf("orchestrator requires queue and store")
	}
	if d.Runner == nil || d.Graduator == nil || d.Selector == nil || d.Bioreactor == nil {
		return nil, fmt.Errorf("orchestrator requires runner, graduator, selector, and bioreactor")
	}
	if d.Trail == nil || d.Metrics == nil {
		return nil, fmt.Errorf("orchestrator requires audit trail and metrics")
	}
	if d.Config.RequireWindow && d.Window == nil {
		return nil, fmt.Errorf("orchestrator requires a window when window gating is enabled")
	}
	if d.Clock == nil {
		d.Clock = window.NewClockChecker()
	}
	if d.Config.TickInterval <= 0 {
		d.Config.TickInterval = DefaultConfig().TickInterval
	}
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	return &Orchestrator{
		queue:      d.Queue,
		runner:     d.Runner,
		graduator:  d.Graduator,
		selector:   d.Selector,
		bioreactor: d.Bioreactor,
		store:      d.Store,
		window:     d.Window,
		clock:      d.Clock,
		trail:      d.Trail,
		metrics:    d.Metrics,
		cfg:        d.Config,
		logger:     d.Logger,
		done:       make(chan struct{}),
	}, nil
}

// Start begins the background tick loop.
//
// # Description
//
// Starts a goroutine that ticks at the configured interval until
// Stop() is called or the context is cancelled. The first tick runs
// immediately.
//
// # Inputs
//
//   - ctx: Context for cancellation. When cancelled, the loop stops.
//
// # Outputs
//
//   - error: Non-nil if the orchestrator is already running.
//
// # Limitations
//
//   - Only one Start() call is allowed until Stop() completes.
//   - Context cancellation stops the loop between ticks; a tick already
//     inside a quiesced canary finishes its restore path regardless.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.mu.Lock()
	if o.running {
		o.mu.Unlock()
		return fmt.Errorf("orchestrator is already running")
	}
	o.running = true
	o.done = make(chan struct{}) // Reset done channel for potential restart
	o.mu.Unlock()

	o.logger.Info("orchestrator starting",
		slog.Duration("tick_interval", o.cfg.TickInterval),
		slog.Bool("window_gated", o.cfg.RequireWindow),
		slog.Int("max_deferrals", o.cfg.MaxDeferrals))

	go o.runLoop(ctx)
	return nil
}

// Stop signals the tick loop to exit. Safe to call multiple times; a
// tick already in flight finishes first.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	defer o.mu.Unlock()

	if !o.running {
		return
	}
	o.logger.Info("orchestrator stopping")
	close(o.done)
	o.running = false
}

// RunNow executes a single tick immediately.
//
// # Description
//
// Runs one full tick without waiting for the next scheduled interval.
// Used by the CLI and by tests. Does not affect scheduled tick timing.
//
// # Outputs
//
//   - *TickOutcome: What the tick examined and decided.
//   - error: Non-nil on an infrastructure fault; the head intent stays
//     queued.
func (o *Orchestrator) RunNow(ctx context.Context) (*TickOutcome, error) {
	return o.runTick(ctx)
}

// =============================================================================
// Tick Loop
// =============================================================================

// runLoop is the scheduler goroutine. Ticks until the context is
// cancelled or Stop() closes the done channel.
func (o *Orchestrator) runLoop(ctx context.Context) {
	ticker := time.NewTicker(o.cfg.TickInterval)
	defer ticker.Stop()

	// First tick immediately on start.
	o.executeTick(ctx)

	for {
		select {
		case <-ctx.Done():
			o.logger.Info("orchestrator stopped (context cancelled)")
			return
		case <-o.done:
			o.logger.Info("orchestrator stopped (stop requested)")
			return
		case <-ticker.C:
			o.executeTick(ctx)
		}
	}
}

// executeTick runs one tick with error containment: a failed tick is
// logged and counted, never allowed to crash the loop.
func (o *Orchestrator) executeTick(ctx context.Context) {
	out, err := o.runTick(ctx)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return // shutting down mid-tick
		}
		o.logger.Error("tick failed", slog.String("error", err.Error()))
		return
	}

	// Idle ticks are the steady state; only log when something moved.
	switch out.Result {
	case observability.TickIdle:
	case observability.TickWindowClosed:
		o.logger.Debug("tick gated on maintenance window",
			slog.String("intent_id", out.IntentID),
			slog.String("subsystem", out.Subsystem))
	default:
		o.logger.Info("tick completed",
			slog.String("intent_id", out.IntentID),
			slog.String("type", string(out.Type)),
			slog.String("subsystem", out.Subsystem),
			slog.String("outcome", string(out.Outcome)),
			slog.String("reason", out.Reason),
			slog.Duration("duration", out.Duration))
	}
}

// runTick wraps one tick in a span and the tick metrics.
func (o *Orchestrator) runTick(ctx context.Context) (*TickOutcome, error) {
	started := time.Now()
	ctx, span := tracer.Start(ctx, "homeostat.Tick")
	defer span.End()

	out, err := o.tick(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		o.metrics.RecordTick(observability.TickError)
		o.metrics.RecordError(observability.StageTick, observability.ErrorCodeInternal)
		return nil, err
	}

	out.Duration = time.Since(started)
	o.metrics.RecordTick(out.Result)
	span.SetAttributes(attribute.String("tick.result", string(out.Result)))
	if out.IntentID != "" {
		span.SetAttributes(
			attribute.String("intent.id", out.IntentID),
			attribute.String("intent.type", string(out.Type)),
			attribute.String("intent.subsystem", out.Subsystem),
			attribute.String("intent.outcome", string(out.Outcome)),
		)
	}
	span.SetStatus(codes.Ok, "")
	return out, nil
}

// tick is one pass of the control loop.
//
// # Description
//
// Order matters: the clock is validated before anything consults it,
// stale intents are swept before the peek so an expired head cannot
// dispatch, the window gate runs before the rate gate so a closed
// window never burns a rate-limit archive, and the rate gate runs
// before dispatch so a throttled subsystem never reaches the runner.
func (o *Orchestrator) tick(ctx context.Context) (*TickOutcome, error) {
	now, err := o.clock.Now()
	if err != nil {
		return nil, fmt.Errorf("clock sanity check failed: %w", err)
	}
	now = now.UTC()

	pruned, err := o.queue.PruneStale(ctx, now)
	if err != nil {
		return nil, fmt.Errorf("stale sweep failed: %w", err)
	}
	if pruned > 0 {
		o.logger.Info("stale intents pruned", slog.Int("count", pruned))
	}

	rec, err := o.queue.Next(ctx, now)
	if err != nil {
		return nil, fmt.Errorf("queue peek failed: %w", err)
	}
	if rec == nil {
		return &TickOutcome{Result: observability.TickIdle}, nil
	}

	out := &TickOutcome{
		Result:    observability.TickProcessed,
		IntentID:  rec.Intent.ID,
		Type:      rec.Intent.Type,
		Subsystem: rec.Intent.Subsystem,
	}
	span := trace.SpanFromContext(ctx)

	// Window gate. Only tuning needs the window, and only when
	// canaries run quiesced. The intent keeps its place without a
	// deferral mark; a closed window is scheduling, not contention.
	if rec.Intent.Type == datatypes.IntentTuning && o.cfg.RequireWindow && !o.window.Contains(now) {
		span.AddEvent("window_closed", trace.WithAttributes(
			attribute.String("subsystem", rec.Intent.Subsystem),
		))
		out.Result = observability.TickWindowClosed
		out.Outcome = datatypes.OutcomeDeferred
		out.Reason = datatypes.ReasonWindowClosed
		return out, nil
	}

	verdict, detail, err := o.rateGate(ctx, rec.Intent.Subsystem, now)
	if err != nil {
		return nil, err
	}
	switch verdict {
	case rateArchive:
		if err := o.queue.Archive(ctx, rec, datatypes.OutcomeReject, datatypes.ReasonRateLimited, now); err != nil {
			return nil, fmt.Errorf("rate limit archive failed: %w", err)
		}
		o.logger.Info("intent rate limited",
			slog.String("intent_id", rec.Intent.ID),
			slog.String("subsystem", rec.Intent.Subsystem),
			slog.String("detail", detail))
		span.AddEvent("rate_limited", trace.WithAttributes(
			attribute.String("subsystem", rec.Intent.Subsystem),
			attribute.String("detail", detail),
		))
		out.Outcome = datatypes.OutcomeReject
		out.Reason = datatypes.ReasonRateLimited
		return out, nil
	case rateBackoff:
		outcome, reason, err := o.postpone(ctx, rec, detail, now)
		if err != nil {
			return nil, err
		}
		span.AddEvent("backoff", trace.WithAttributes(
			attribute.String("subsystem", rec.Intent.Subsystem),
			attribute.String("detail", detail),
		))
		out.Outcome = outcome
		out.Reason = reason
		return out, nil
	}

	switch rec.Intent.Type {
	case datatypes.IntentTuning:
		return o.dispatchTuning(ctx, rec, now, out)
	case datatypes.IntentLifecycle:
		return o.dispatchLifecycle(ctx, rec, now, out)
	case datatypes.IntentTournament:
		return o.dispatchTournament(ctx, rec, now, out)
	default:
		// Enqueue validation rejects unknown types; this catches
		// records written by a newer binary.
		reason := fmt.Sprintf("no dispatch path for intent type %q", rec.Intent.Type)
		if err := o.queue.Archive(ctx, rec, datatypes.OutcomeReject, reason, now); err != nil {
			return nil, fmt.Errorf("archive failed: %w", err)
		}
		out.Outcome = datatypes.OutcomeReject
		out.Reason = reason
		return out, nil
	}
}

// =============================================================================
// Rate Limiting
// =============================================================================

// rateVerdict is the rate limiter's disposition for one head intent.
type rateVerdict int

const (
	// rateAllow clears the intent for dispatch.
	rateAllow rateVerdict = iota

	// rateArchive ends the intent: the hard limit is violated.
	rateArchive

	// rateBackoff postpones the intent: the subsystem is cooling down
	// after consecutive rejections.
	rateBackoff
)

// rateGate enforces the subsystem's action limits.
//
// # Description
//
// Two hard limits and one soft one. The rolling 24h count and the
// minimum cooldown since the last action both archive the intent as
// rate_limited. But when the subsystem sits on a rejection streak, the
// cooldown defers instead: the detector's request stays alive and
// retries once the cooldown elapses, which is the backoff the streak
// asked for. A streak with an elapsed cooldown passes the gate.
func (o *Orchestrator) rateGate(ctx context.Context, subsystem string, now time.Time) (rateVerdict, string, error) {
	limit := o.cfg.RateLimit.ForSubsystem(subsystem)

	if limit.MaxPerDay > 0 {
		n, err := o.store.RateStampsSince(ctx, subsystem, now.Add(-rollingWindow))
		if err != nil {
			return rateAllow, "", fmt.Errorf("rate stamp count failed: %w", err)
		}
		if n >= limit.MaxPerDay {
			return rateArchive, fmt.Sprintf("%d actions in the last 24h, limit %d", n, limit.MaxPerDay), nil
		}
	}

	if limit.Cooldown > 0 {
		last, err := o.store.LatestRateStamp(ctx, subsystem)
		if err != nil {
			return rateAllow, "", fmt.Errorf("rate stamp lookup failed: %w", err)
		}
		if !last.IsZero() {
			elapsed := now.Sub(last)
			if elapsed < limit.Cooldown {
				streak, err := o.store.RejectionStreak(ctx, subsystem)
				if err != nil {
					return rateAllow, "", fmt.Errorf("rejection streak lookup failed: %w", err)
				}
				if streak >= backoffStreak {
					remaining := (limit.Cooldown - elapsed).Round(time.Second)
					return rateBackoff, fmt.Sprintf("backoff after %d consecutive rejections, cooldown %s remaining", streak, remaining), nil
				}
				return rateArchive, fmt.Sprintf("last action %s ago, cooldown %s", elapsed.Round(time.Second), limit.Cooldown), nil
			}
		}
	}

	return rateAllow, "", nil
}

// =============================================================================
// Dispatch
// =============================================================================

// dispatchTuning hands the intent to the candidate runner and settles
// its disposition.
func (o *Orchestrator) dispatchTuning(ctx context.Context, rec *store.IntentRecord, now time.Time, out *TickOutcome) (*TickOutcome, error) {
	res, err := o.runner.Execute(ctx, rec.Intent, now)
	if err != nil {
		// Infrastructure fault: the intent stays queued for a retry.
		return nil, fmt.Errorf("tuning dispatch failed: %w", err)
	}

	if res.Outcome == datatypes.OutcomeDeferred {
		outcome, reason, err := o.postpone(ctx, rec, res.Reason, now)
		if err != nil {
			return nil, err
		}
		out.Outcome = outcome
		out.Reason = reason
		return out, nil
	}

	if err := o.queue.Archive(ctx, rec, res.Outcome, res.Reason, now); err != nil {
		return nil, fmt.Errorf("archive failed: %w", err)
	}
	o.stampAction(ctx, rec.Intent.Subsystem, now)
	o.noteOutcome(ctx, rec.Intent.Subsystem, res.Outcome)

	out.Outcome = res.Outcome
	out.Reason = res.Reason
	return out, nil
}

// dispatchLifecycle runs a graduation pass, then refills probation from
// the dormant pool. Evaluation first: freshly selected zooids must not
// be judged in the same pass that admitted them.
func (o *Orchestrator) dispatchLifecycle(ctx context.Context, rec *store.IntentRecord, now time.Time, out *TickOutcome) (*TickOutcome, error) {
	pass, err := o.graduator.Pass(ctx, now)
	if err != nil {
		return nil, fmt.Errorf("lifecycle pass failed: %w", err)
	}
	sel, err := o.selector.Select(ctx, now)
	if err != nil {
		return nil, fmt.Errorf("batch selection failed: %w", err)
	}

	reason := fmt.Sprintf("evaluated %d: %d advanced, %d held, %d retired; %d selected into probation",
		pass.Evaluated, pass.Advanced, pass.Held, pass.Retired, len(sel.Promoted))
	if err := o.queue.Archive(ctx, rec, datatypes.OutcomePromote, reason, now); err != nil {
		return nil, fmt.Errorf("archive failed: %w", err)
	}
	o.stampAction(ctx, rec.Intent.Subsystem, now)

	out.Outcome = datatypes.OutcomePromote
	out.Reason = reason
	return out, nil
}

// dispatchTournament runs the bioreactor over every contested niche.
func (o *Orchestrator) dispatchTournament(ctx context.Context, rec *store.IntentRecord, now time.Time, out *TickOutcome) (*TickOutcome, error) {
	res, err := o.bioreactor.Run(ctx, now)
	if err != nil {
		return nil, fmt.Errorf("tournament run failed: %w", err)
	}

	reason := fmt.Sprintf("%d niches contested, %d incumbents replaced", len(res.Tournaments), res.Replaced)
	if err := o.queue.Archive(ctx, rec, datatypes.OutcomePromote, reason, now); err != nil {
		return nil, fmt.Errorf("archive failed: %w", err)
	}
	o.stampAction(ctx, rec.Intent.Subsystem, now)

	out.Outcome = datatypes.OutcomePromote
	out.Reason = reason
	return out, nil
}

// postpone returns the intent to the queue, or archives it as an
// escalation once it has been postponed MaxDeferrals times. An intent
// stuck behind the same contention every tick needs an operator, not
// another lap.
func (o *Orchestrator) postpone(ctx context.Context, rec *store.IntentRecord, reason string, now time.Time) (datatypes.Outcome, string, error) {
	if o.cfg.MaxDeferrals > 0 && rec.Deferrals >= o.cfg.MaxDeferrals {
		detail := fmt.Sprintf("%s; gave up after %d deferrals", reason, rec.Deferrals)
		if err := o.queue.Archive(ctx, rec, datatypes.OutcomeEscalate, detail, now); err != nil {
			return "", "", fmt.Errorf("escalation archive failed: %w", err)
		}
		o.auditEvent(audit.Event{
			EventType: audit.EventEscalation,
			IntentID:  rec.Intent.ID,
			Subsystem: rec.Intent.Subsystem,
			Outcome:   string(datatypes.OutcomeEscalate),
			Reason:    detail,
		})
		o.logger.Warn("intent escalated after repeated deferrals",
			slog.String("intent_id", rec.Intent.ID),
			slog.String("subsystem", rec.Intent.Subsystem),
			slog.Int("deferrals", rec.Deferrals),
			slog.String("reason", reason))
		return datatypes.OutcomeEscalate, detail, nil
	}

	if err := o.queue.Defer(ctx, rec); err != nil {
		return "", "", fmt.Errorf("defer failed: %w", err)
	}
	return datatypes.OutcomeDeferred, reason, nil
}

// stampAction records a completed action against the subsystem's rate
// limit. Deferred intents never stamp; nothing happened to cool down
// from. A failed stamp under-counts the limiter, which is the safe
// direction to fail only for the count, so it is logged loudly.
func (o *Orchestrator) stampAction(ctx context.Context, subsystem string, now time.Time) {
	if err := o.store.AddRateStamp(ctx, subsystem, now); err != nil {
		o.metrics.RecordError(observability.StageTick, observability.ErrorCodeStorage)
		o.logger.Error("rate stamp write failed",
			slog.String("subsystem", subsystem),
			slog.String("error", err.Error()))
	}
}

// noteOutcome maintains the consecutive-rejection streak behind the
// backoff gate. A promotion clears it, a rejection extends it, and an
// escalation leaves it alone since nothing was proven either way.
func (o *Orchestrator) noteOutcome(ctx context.Context, subsystem string, outcome datatypes.Outcome) {
	switch outcome {
	case datatypes.OutcomePromote:
		if err := o.store.SetRejectionStreak(ctx, subsystem, 0); err != nil {
			o.logger.Warn("rejection streak reset failed",
				slog.String("subsystem", subsystem),
				slog.String("error", err.Error()))
		}
	case datatypes.OutcomeReject:
		streak, err := o.store.RejectionStreak(ctx, subsystem)
		if err != nil {
			o.logger.Warn("rejection streak lookup failed",
				slog.String("subsystem", subsystem),
				slog.String("error", err.Error()))
			return
		}
		if err := o.store.SetRejectionStreak(ctx, subsystem, streak+1); err != nil {
			o.logger.Warn("rejection streak update failed",
				slog.String("subsystem", subsystem),
				slog.String("error", err.Error()))
		}
	}
}

func (o *Orchestrator) auditEvent(e audit.Event) {
	if _, err := o.trail.Append(e); err != nil {
		o.logger.Error("audit append failed",
			slog.String("event", e.EventType),
			slog.String("intent_id", e.IntentID),
			slog.String("error", err.Error()))
	}
}
