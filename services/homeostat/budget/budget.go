// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package budget enforces the daily downtime allowance for quiesced
// canary tests.
//
// Description:
//
//	The Ledger is a thin policy layer over the store's date-keyed
//	budget counter. It converts wall-clock time into ledger days,
//	answers "can we afford this" questions for pre-flight checks, and
//	routes the emergency override through the audit trail so that no
//	budget ever reappears without an operator's name attached.
//
//	The daily reset is implicit: a new date key starts at zero usage.
//	Consumption is atomic with no partial deduction; a charge that
//	would cross the cap fails and leaves the ledger untouched.
package budget

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/AleutianAI/AleutianHomeostat/services/homeostat/audit"
	"github.com/AleutianAI/AleutianHomeostat/services/homeostat/store"
)

// Ledger meters downtime seconds against a per-day cap.
//
// Thread Safety: Safe for concurrent use; atomicity is provided by the
// underlying store transaction.
type Ledger struct {
	store  *store.Store
	trail  *audit.Trail
	capSec float64
	loc    *time.Location
	logger *slog.Logger
}

// New creates a Ledger charging against capSeconds per day.
//
// Description:
//
//	Days roll over at midnight in loc; pass the maintenance window's
//	timezone so the ledger day and the window agree on "today". The
//	audit trail is required because the override path must always be
//	recorded.
//
// Inputs:
//
//	st - Durable state store. Required.
//	trail - Audit trail for override records. Required.
//	capSeconds - Daily allowance in seconds. Must be non-negative.
//	loc - Timezone for day boundaries. nil means time.Local.
//	logger - Destination for ledger logging. nil means slog.Default().
//
// Outputs:
//
//	*Ledger - Ready to use.
//	error - When a required dependency is missing or the cap is negative.
func New(st *store.Store, trail *audit.Trail, capSeconds float64, loc *time.Location, logger *slog.Logger) (*Ledger, error) {
	if st == nil {
		return nil, errors.New("budget: store is required")
	}
	if trail == nil {
		return nil, errors.New("budget: audit trail is required")
	}
	if capSeconds < 0 {
		return nil, fmt.Errorf("budget: daily cap must be non-negative, got %v", capSeconds)
	}
	if loc == nil {
		loc = time.Local
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Ledger{
		store:  st,
		trail:  trail,
		capSec: capSeconds,
		loc:    loc,
		logger: logger,
	}, nil
}

// Cap returns the daily allowance in seconds.
func (l *Ledger) Cap() float64 {
	return l.capSec
}

// Date returns the ledger day that now falls in.
func (l *Ledger) Date(now time.Time) string {
	return store.BudgetDate(now.In(l.loc))
}

// Used returns the seconds already consumed on now's ledger day.
func (l *Ledger) Used(ctx context.Context, now time.Time) (float64, error) {
	return l.store.BudgetConsumed(ctx, l.Date(now))
}

// Remaining returns the unconsumed seconds on now's ledger day,
// clamped at zero in case the configured cap shrank below past usage.
func (l *Ledger) Remaining(ctx context.Context, now time.Time) (float64, error) {
	used, err := l.store.BudgetConsumed(ctx, l.Date(now))
	if err != nil {
		return 0, err
	}
	return math.Max(0, l.capSec-used), nil
}

// CanAfford reports whether a charge of seconds would fit in today's
// remaining budget. It does not consume anything; a concurrent charge
// can still win the race, so dispatch paths must re-check via Consume.
func (l *Ledger) CanAfford(ctx context.Context, now time.Time, seconds float64) (bool, error) {
	remaining, err := l.Remaining(ctx, now)
	if err != nil {
		return false, err
	}
	return seconds <= remaining, nil
}

// Consume atomically charges seconds against now's ledger day.
//
// Description:
//
//	A canary that spans midnight is charged entirely to the day it
//	started; pass the start time as now. On failure the ledger is
//	untouched and the error matches store.ErrBudgetExceeded via
//	errors.Is.
//
// Inputs:
//
//	ctx - Context for cancellation.
//	now - Start time of the downtime being charged.
//	seconds - Charge amount. Must be non-negative.
//
// Outputs:
//
//	float64 - Remaining seconds after the charge (or before, on failure).
//	error - store.ErrBudgetExceeded when the charge would cross the cap.
func (l *Ledger) Consume(ctx context.Context, now time.Time, seconds float64) (float64, error) {
	used, err := l.store.ConsumeBudget(ctx, l.Date(now), seconds, l.capSec)
	remaining := math.Max(0, l.capSec-used)
	if err != nil {
		return remaining, err
	}
	return remaining, nil
}

// Override credits seconds back to now's ledger day.
//
// Description:
//
//	This is the emergency escape hatch for an operator who needs more
//	canary capacity today. Every call writes an audit record carrying
//	the operator identity and reason; an override with no reason is
//	rejected. Usage is clamped at zero, so crediting more than was
//	used yields a full budget, never a surplus.
//
// Inputs:
//
//	ctx - Context for cancellation.
//	now - Time of the override; selects the ledger day.
//	seconds - Credit amount. Must be positive.
//	actor - Operator identity for the audit record. Required.
//	reason - Why the override was needed. Required.
//
// Outputs:
//
//	float64 - Remaining seconds after the credit.
//	error - When validation fails, the store write fails, or the audit
//	record cannot be written.
func (l *Ledger) Override(ctx context.Context, now time.Time, seconds float64, actor, reason string) (float64, error) {
	if seconds <= 0 {
		return 0, fmt.Errorf("budget: override credit must be positive, got %v", seconds)
	}
	if actor == "" {
		return 0, errors.New("budget: override requires an operator identity")
	}
	if reason == "" {
		return 0, errors.New("budget: override requires a reason")
	}

	date := l.Date(now)
	used, err := l.store.CreditBudget(ctx, date, seconds)
	if err != nil {
		return 0, err
	}
	remaining := math.Max(0, l.capSec-used)

	if _, err := l.trail.Append(audit.Event{
		EventType:  audit.EventBudgetOverride,
		BudgetUsed: used,
		Actor:      actor,
		Reason:     reason,
	}); err != nil {
		// The credit is already durable. Surface the audit failure
		// loudly rather than unwinding a ledger the operator asked for.
		l.logger.Error("budget override applied but audit append failed",
			slog.String("date", date),
			slog.String("actor", actor),
			slog.String("error", err.Error()))
		return remaining, fmt.Errorf("override applied, audit append failed: %w", err)
	}

	l.logger.Warn("budget override",
		slog.String("date", date),
		slog.Float64("credited", seconds),
		slog.Float64("remaining", remaining),
		slog.String("actor", actor),
		slog.String("reason", reason))
	return remaining, nil
}
