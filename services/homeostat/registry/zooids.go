// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package registry

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

// IllegalTransitionError reports an attempted lifecycle move the FSM
// forbids.
type IllegalTransitionError struct {
	ID   string
	From datatypes.ZooidState
	To   datatypes.ZooidState
}

// Error formats the forbidden move.
func (e *IllegalTransitionError) Error() string {
	return fmt.Sprintf("zooid %s: illegal transition %s -> %s", e.ID, e.From, e.To)
}

// ErrStateMutated guards Update against callers changing lifecycle
// state outside Transition.
var ErrStateMutated = errors.New("lifecycle state must change via Transition")

// Zooids is the durable population registry.
//
// Thread Safety: Safe for concurrent use; per-zooid mutations are
// single store transactions.
type Zooids struct {
	store   *store.Store
	trail   *audit.Trail
	metrics *observability.HomeostatMetrics
	logger  *slog.Logger
}

// NewZooids creates the population registry. All dependencies are
// required.
func NewZooids(st *store.Store, trail *audit.Trail, metrics *observability.HomeostatMetrics, logger *slog.Logger) (*Zooids, error) {
	if st == nil {
		return nil, errors.New("registry: store is required")
	}
	if trail == nil {
		return nil, errors.New("registry: audit trail is required")
	}
	if metrics == nil {
		return nil, errors.New("registry: metrics are required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Zooids{store: st, trail: trail, metrics: metrics, logger: logger}, nil
}

// Spawn creates a DORMANT zooid for a niche and persists it.
func (r *Zooids) Spawn(ctx context.Context, niche string, genome map[string]float64, now time.Time) (*datatypes.Zooid, error) {
	z := &datatypes.Zooid{
		ID:        uuid.NewString(),
		Niche:     niche,
		Genome:    genome,
		State:     datatypes.StateDormant,
		SpawnedAt: now,
		UpdatedAt: now,
	}
	if err := z.Validate(); err != nil {
		return nil, err
	}
	if err := r.store.PutZooid(ctx, z); err != nil {
		return nil, err
	}

	r.auditEvent(audit.Event{
		EventType: audit.EventZooidSpawned,
		ZooidID:   z.ID,
		Params:    genome,
		ToState:   string(datatypes.StateDormant),
		Reason:    "spawned into niche " + niche,
	})
	r.logger.Info("zooid spawned",
		slog.String("id", z.ID),
		slog.String("niche", niche))
	r.refreshGauges(ctx)
	return z, nil
}

// Get returns one zooid, or store.ErrNotFound.
func (r *Zooids) Get(ctx context.Context, id string) (*datatypes.Zooid, error) {
	return r.store.GetZooid(ctx, id)
}

// List returns the whole population, retired included.
func (r *Zooids) List(ctx context.Context) ([]*datatypes.Zooid, error) {
	return r.store.ListZooids(ctx)
}

// ListByState returns the population members in one lifecycle state.
func (r *Zooids) ListByState(ctx context.Context, state datatypes.ZooidState) ([]*datatypes.Zooid, error) {
	all, err := r.store.ListZooids(ctx)
	if err != nil {
		return nil, err
	}
	var out []*datatypes.Zooid
	for _, z := range all {
		if z.State == state {
			out = append(out, z)
		}
	}
	return out, nil
}

// ListByNiche returns a niche's members, optionally filtered to one
// state ("" means all states).
func (r *Zooids) ListByNiche(ctx context.Context, niche string, state datatypes.ZooidState) ([]*datatypes.Zooid, error) {
	all, err := r.store.ListZooids(ctx)
	if err != nil {
		return nil, err
	}
	var out []*datatypes.Zooid
	for _, z := range all {
		if z.Niche != niche {
			continue
		}
		if state != "" && z.State != state {
			continue
		}
		out = append(out, z)
	}
	return out, nil
}

// Transition moves a zooid to a new lifecycle state.
//
// Description:
//
//	The move is validated against the FSM inside the store
//	transaction, so concurrent evaluators cannot race a zooid through
//	an illegal path. Promotion to ACTIVE resets the failed-cycle
//	counter. Every successful move is audited and counted.
//
// Outputs:
//
//	*datatypes.Zooid - The updated record.
//	error - *IllegalTransitionError for forbidden moves,
//	store.ErrNotFound for unknown ids.
func (r *Zooids) Transition(ctx context.Context, id string, to datatypes.ZooidState, reason string, now time.Time) (*datatypes.Zooid, error) {
	var from datatypes.ZooidState

	z, err := r.store.UpdateZooid(ctx, id, func(z *datatypes.Zooid) error {
		from = z.State
		if !z.State.CanTransitionTo(to) {
			return &IllegalTransitionError{ID: id, From: z.State, To: to}
		}
		z.State = to
		z.UpdatedAt = now
		if to == datatypes.StateActive {
			z.FailedCycles = 0
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	r.auditEvent(audit.Event{
		EventType: audit.EventZooidMoved,
		ZooidID:   id,
		FromState: string(from),
		ToState:   string(to),
		Reason:    reason,
	})
	r.metrics.RecordTransition(string(from), string(to))
	r.logger.Info("zooid transitioned",
		slog.String("id", id),
		slog.String("from", string(from)),
		slog.String("to", string(to)),
		slog.String("reason", reason))
	r.refreshGauges(ctx)
	return z, nil
}

// Update applies fn to a zooid in a single transaction. Evidence and
// fitness bookkeeping flows through here; lifecycle state may not
// change (use Transition).
func (r *Zooids) Update(ctx context.Context, id string, fn func(*datatypes.Zooid) error) (*datatypes.Zooid, error) {
	return r.store.UpdateZooid(ctx, id, func(z *datatypes.Zooid) error {
		before := z.State
		if err := fn(z); err != nil {
			return err
		}
		if z.State != before {
			return ErrStateMutated
		}
		return nil
	})
}

// CountByState returns the population census, zeroes included.
func (r *Zooids) CountByState(ctx context.Context) (map[datatypes.ZooidState]int, error) {
	counts := map[datatypes.ZooidState]int{
		datatypes.StateDormant:   0,
		datatypes.StateProbation: 0,
		datatypes.StateActive:    0,
		datatypes.StateRetired:   0,
	}
	all, err := r.store.ListZooids(ctx)
	if err != nil {
		return nil, err
	}
	for _, z := range all {
		counts[z.State]++
	}
	return counts, nil
}

// refreshGauges pushes the census to metrics, best effort.
func (r *Zooids) refreshGauges(ctx context.Context) {
	counts, err := r.CountByState(ctx)
	if err != nil {
		return
	}
	for state, n := range counts {
		r.metrics.SetZooidCount(string(state), n)
	}
}

// auditEvent appends to the trail, logging failures rather than
// failing the registry operation.
func (r *Zooids) auditEvent(e audit.Event) {
	if _, err := r.trail.Append(e); err != nil {
		r.logger.Error("audit append failed",
			slog.String("event_type", e.EventType),
			slog.String("zooid_id", e.ZooidID),
			slog.String("error", err.Error()))
	}
}
