// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package queue implements the durable intent queue policy.
//
// Description:
//
//	The Queue wraps the store's pending/archive primitives with the
//	intake rules: validation, fingerprint dedup, bounded depth with
//	lowest-priority eviction, and staleness pruning. Every accepted
//	intent and every terminal disposition is written to the audit
//	trail; counts and depth flow to metrics.
//
//	An intent stays in the pending queue while it is being processed.
//	Next returns the head without removing it; the orchestrator calls
//	Archive with a terminal outcome, or Defer to keep its position
//	after lock contention. This keeps a crash mid-processing safe: the
//	intent is still at the head on restart.
package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/AleutianAI/AleutianHomeostat/services/homeostat/audit"
	"github.com/AleutianAI/AleutianHomeostat/services/homeostat/datatypes"
	"github.com/AleutianAI/AleutianHomeostat/services/homeostat/observability"
	"github.com/AleutianAI/AleutianHomeostat/services/homeostat/store"
)

// ErrInvalidIntent wraps enqueue-time validation failures. The
// offending field detail is in the wrapped error.
var ErrInvalidIntent = errors.New("intent validation failed")

// Config bounds the queue.
type Config struct {
	// MaxDepth caps the pending queue. Exceeding it evicts the oldest
	// intent of the lowest priority band.
	MaxDepth int

	// DedupWindow is how long a fingerprint suppresses semantically
	// identical resubmissions, measured from enqueue.
	DedupWindow time.Duration

	// MaxAge archives intents that sat pending longer than this.
	MaxAge time.Duration
}

// DefaultConfig returns the queue bounds used when the operator
// configures nothing.
func DefaultConfig() Config {
	return Config{
		MaxDepth:    64,
		DedupWindow: time.Hour,
		MaxAge:      24 * time.Hour,
	}
}

// Queue is the intake and ordering policy over the durable store.
//
// Thread Safety: Safe for concurrent use.
type Queue struct {
	store   *store.Store
	trail   *audit.Trail
	metrics *observability.HomeostatMetrics
	cfg     Config
	logger  *slog.Logger
}

// New creates a Queue. Store, trail and metrics are required; zero
// Config fields take their defaults.
func New(st *store.Store, trail *audit.Trail, metrics *observability.HomeostatMetrics, cfg Config, logger *slog.Logger) (*Queue, error) {
	if st == nil {
		return nil, errors.New("queue: store is required")
	}
	if trail == nil {
		return nil, errors.New("queue: audit trail is required")
	}
	if metrics == nil {
		return nil, errors.New("queue: metrics are required")
	}
	def := DefaultConfig()
	if cfg.MaxDepth <= 0 {
		cfg.MaxDepth = def.MaxDepth
	}
	if cfg.DedupWindow <= 0 {
		cfg.DedupWindow = def.DedupWindow
	}
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = def.MaxAge
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Queue{
		store:   st,
		trail:   trail,
		metrics: metrics,
		cfg:     cfg,
		logger:  logger,
	}, nil
}

// Enqueue validates and durably accepts an intent.
//
// Description:
//
//	Intents missing an ID get one minted; a zero CreatedAt becomes now.
//	Invalid intents and fingerprint duplicates never enter the pending
//	queue; both are archived so the paper trail covers every
//	submission. Accepting an intent past MaxDepth evicts the oldest
//	intent of the lowest priority band, which can be the newcomer
//	itself when everything else queued outranks it.
//
// Inputs:
//
//	ctx - Context for cancellation.
//	intent - The submission. Mutated only by ID/CreatedAt defaulting.
//	now - Intake time; anchors the dedup window and EnqueuedAt.
//
// Outputs:
//
//	*store.IntentRecord - The accepted record, nil when not accepted.
//	error - store.ErrDuplicateFingerprint on a merge, ErrInvalidIntent
//	for malformed intents, storage errors otherwise.
func (q *Queue) Enqueue(ctx context.Context, intent datatypes.Intent, now time.Time) (*store.IntentRecord, error) {
	if intent.ID == "" {
		intent.ID = uuid.NewString()
	}
	if intent.CreatedAt.IsZero() {
		intent.CreatedAt = now
	}

	if err := intent.Validate(); err != nil {
		q.metrics.RecordError(observability.StageEnqueue, observability.ErrorCodeValidation)
		if aerr := q.store.AppendArchive(ctx, intent, datatypes.OutcomeReject, err.Error(), now); aerr != nil {
			q.logger.Error("archiving rejected intent failed",
				slog.String("id", intent.ID),
				slog.String("error", aerr.Error()))
		}
		q.auditEvent(audit.Event{
			EventType: audit.EventIntentArchived,
			IntentID:  intent.ID,
			Subsystem: intent.Subsystem,
			Outcome:   string(datatypes.OutcomeReject),
			Reason:    err.Error(),
		})
		return nil, fmt.Errorf("%w: %v", ErrInvalidIntent, err)
	}

	rec, err := q.store.EnqueueIntent(ctx, intent, now, now.Add(q.cfg.DedupWindow))
	if errors.Is(err, store.ErrDuplicateFingerprint) {
		q.metrics.RecordDuplicate(intent.Subsystem)
		if aerr := q.store.AppendArchive(ctx, intent, datatypes.OutcomeReject, datatypes.ReasonDuplicate, now); aerr != nil {
			q.logger.Error("archiving duplicate intent failed",
				slog.String("id", intent.ID),
				slog.String("error", aerr.Error()))
		}
		q.logger.Debug("intent merged into dedup window",
			slog.String("id", intent.ID),
			slog.String("subsystem", intent.Subsystem))
		return nil, err
	}
	if err != nil {
		return nil, err
	}

	q.auditEvent(audit.Event{
		EventType: audit.EventIntentEnqueued,
		IntentID:  intent.ID,
		Subsystem: intent.Subsystem,
		Params:    intent.Payload.SeedFix,
	})

	if err := q.evictOverflow(ctx, now); err != nil {
		q.logger.Error("queue overflow eviction failed", slog.String("error", err.Error()))
	}
	q.refreshDepth(ctx)

	return rec, nil
}

// Next returns the highest-priority, oldest pending intent without
// removing it, pruning any stale heads it walks past. Returns nil with
// no error when the queue is empty.
func (q *Queue) Next(ctx context.Context, now time.Time) (*store.IntentRecord, error) {
	for {
		rec, err := q.store.PeekIntent(ctx)
		if err != nil || rec == nil {
			return rec, err
		}
		if now.Sub(rec.EnqueuedAt) > q.cfg.MaxAge {
			if err := q.Archive(ctx, rec, datatypes.OutcomeReject, datatypes.ReasonStale, now); err != nil {
				return nil, err
			}
			continue
		}
		return rec, nil
	}
}

// Archive moves a pending intent to its terminal archive entry and
// records the disposition in the audit trail and metrics.
func (q *Queue) Archive(ctx context.Context, rec *store.IntentRecord, outcome datatypes.Outcome, reason string, now time.Time) error {
	if err := q.store.MoveToArchive(ctx, rec, outcome, reason, now); err != nil {
		return err
	}
	q.auditEvent(audit.Event{
		EventType: audit.EventIntentArchived,
		IntentID:  rec.Intent.ID,
		Subsystem: rec.Intent.Subsystem,
		Outcome:   string(outcome),
		Reason:    reason,
	})
	q.metrics.RecordOutcome(rec.Intent.Subsystem, metricOutcome(outcome, reason))
	q.refreshDepth(ctx)
	return nil
}

// Defer bumps a pending intent's deferral count in place. The intent
// keeps its queue position and will be retried next tick.
func (q *Queue) Defer(ctx context.Context, rec *store.IntentRecord) error {
	if err := q.store.RequeueIntent(ctx, rec); err != nil {
		return err
	}
	q.metrics.RecordOutcome(rec.Intent.Subsystem, string(datatypes.OutcomeDeferred))
	q.logger.Debug("intent deferred",
		slog.String("id", rec.Intent.ID),
		slog.Int("deferrals", rec.Deferrals))
	return nil
}

// PruneStale archives every pending intent older than MaxAge. Returns
// how many were pruned.
func (q *Queue) PruneStale(ctx context.Context, now time.Time) (int, error) {
	recs, err := q.store.PendingIntents(ctx)
	if err != nil {
		return 0, err
	}
	pruned := 0
	for _, rec := range recs {
		if now.Sub(rec.EnqueuedAt) <= q.cfg.MaxAge {
			continue
		}
		if err := q.Archive(ctx, rec, datatypes.OutcomeReject, datatypes.ReasonStale, now); err != nil {
			return pruned, err
		}
		pruned++
	}
	if pruned > 0 {
		q.logger.Info("stale intents pruned", slog.Int("count", pruned))
	}
	return pruned, nil
}

// Depth returns the pending queue length and refreshes the gauge.
func (q *Queue) Depth(ctx context.Context) (int, error) {
	n, err := q.store.PendingCount(ctx)
	if err != nil {
		return 0, err
	}
	q.metrics.SetQueueDepth(n)
	return n, nil
}

// Pending returns all pending intents in dequeue order.
func (q *Queue) Pending(ctx context.Context) ([]*store.IntentRecord, error) {
	return q.store.PendingIntents(ctx)
}

// PendingBySubsystem returns pending counts keyed by subsystem.
func (q *Queue) PendingBySubsystem(ctx context.Context) (map[string]int, error) {
	recs, err := q.store.PendingIntents(ctx)
	if err != nil {
		return nil, err
	}
	counts := make(map[string]int, len(recs))
	for _, rec := range recs {
		counts[rec.Intent.Subsystem]++
	}
	return counts, nil
}

// ListArchive returns up to limit archive entries, newest first.
func (q *Queue) ListArchive(ctx context.Context, limit int) ([]*store.ArchivedIntent, error) {
	return q.store.ListArchive(ctx, limit)
}

// evictOverflow drains the queue down to MaxDepth, archiving victims
// with the overflow reason.
func (q *Queue) evictOverflow(ctx context.Context, now time.Time) error {
	for {
		n, err := q.store.PendingCount(ctx)
		if err != nil {
			return err
		}
		if n <= q.cfg.MaxDepth {
			return nil
		}
		victim, err := q.store.OldestLowestPriority(ctx)
		if err != nil {
			return err
		}
		if victim == nil {
			return nil
		}
		q.logger.Warn("queue overflow, evicting",
			slog.String("id", victim.Intent.ID),
			slog.Int("priority", victim.Intent.Priority),
			slog.Int("depth", n))
		if err := q.Archive(ctx, victim, datatypes.OutcomeReject, datatypes.ReasonQueueOverflow, now); err != nil {
			return err
		}
	}
}

// refreshDepth updates the depth gauge, best effort.
func (q *Queue) refreshDepth(ctx context.Context) {
	if n, err := q.store.PendingCount(ctx); err == nil {
		q.metrics.SetQueueDepth(n)
	}
}

// auditEvent appends to the trail, logging rather than failing the
// queue operation when the trail write fails. Queue state is already
// durable by the time the event is written.
func (q *Queue) auditEvent(e audit.Event) {
	if _, err := q.trail.Append(e); err != nil {
		q.logger.Error("audit append failed",
			slog.String("event_type", e.EventType),
			slog.String("intent_id", e.IntentID),
			slog.String("error", err.Error()))
	}
}

// metricOutcome maps an archive disposition to its metric label. Policy
// dispositions get their own labels so dashboards can tell an evicted
// intent from a canary reject.
func metricOutcome(outcome datatypes.Outcome, reason string) string {
	switch reason {
	case datatypes.ReasonQueueOverflow:
		return "evicted"
	case datatypes.ReasonStale:
		return "pruned"
	case datatypes.ReasonRateLimited:
		return "rate_limited"
	default:
		return string(outcome)
	}
}
