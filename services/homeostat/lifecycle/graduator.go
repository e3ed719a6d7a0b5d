// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package lifecycle advances population members through the graduation
// state machine.
//
// The Graduator applies the dual promotion gate to every PROBATION
// zooid: evaluation fitness and evidence count must both clear their
// configured minimums, and when the production gate is armed the
// zooid's live ok-rate must clear its own threshold on its own
// evidence minimum. The production gate may legitimately be disabled
// (minimum evidence zero) because a first cohort can never have
// production evidence before a first promotion. Gate passes are typed
// results, not side effects; the registry performs the actual state
// moves and the audit trail records why each zooid went where it went.
package lifecycle

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/AleutianAI/AleutianHomeostat/services/homeostat/audit"
	"github.com/AleutianAI/AleutianHomeostat/services/homeostat/config"
	"github.com/AleutianAI/AleutianHomeostat/services/homeostat/datatypes"
	"github.com/AleutianAI/AleutianHomeostat/services/homeostat/registry"
)

// Disposition is the typed verdict of one gate pass over one zooid.
type Disposition string

const (
	// DispositionAdvanced records a PROBATION to ACTIVE promotion.
	DispositionAdvanced Disposition = "advanced"

	// DispositionHeld records a zooid staying in PROBATION for the
	// next cycle.
	DispositionHeld Disposition = "held"

	// DispositionRetired records a terminal removal.
	DispositionRetired Disposition = "retired"
)

// Evaluation is the outcome of gating a single zooid.
type Evaluation struct {
	ZooidID     string      `json:"zooid_id"`
	Niche       string      `json:"niche"`
	Disposition Disposition `json:"disposition"`

	// Unmet lists the gates that blocked advancement, empty on
	// promotion.
	Unmet []string `json:"unmet,omitempty"`

	// FailedCycles is the zooid's consecutive miss count after this
	// evaluation.
	FailedCycles int `json:"failed_cycles"`
}

// PassResult summarizes one evaluation sweep over the population.
type PassResult struct {
	Evaluated   int          `json:"evaluated"`
	Advanced    int          `json:"advanced"`
	Held        int          `json:"held"`
	Retired     int          `json:"retired"`
	Evaluations []Evaluation `json:"evaluations,omitempty"`
}

// Graduator runs the dual promotion gate.
//
//	Description:
//	    Stateless between passes; everything it needs lives on the
//	    zooid records. Called from the orchestrator's tick goroutine,
//	    so it performs no internal locking.
type Graduator struct {
	zooids *registry.Zooids
	trail  *audit.Trail
	cfg    config.LifecycleConfig
	logger *slog.Logger
}

// NewGraduator builds a Graduator. Registry and trail are required.
func NewGraduator(zooids *registry.Zooids, trail *audit.Trail, cfg config.LifecycleConfig, logger *slog.Logger) (*Graduator, error) {
	if zooids == nil {
		return nil, fmt.Errorf("graduator requires the zooid registry")
	}
	if trail == nil {
		return nil, fmt.Errorf("graduator requires the audit trail")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Graduator{zooids: zooids, trail: trail, cfg: cfg, logger: logger}, nil
}

// unmetGates returns the promotion gates z does not clear, in check
// order. Thresholds are inclusive: a fitness exactly at the threshold
// passes.
func (g *Graduator) unmetGates(z *datatypes.Zooid) []string {
	var unmet []string
	if z.Fitness < g.cfg.FitnessThreshold {
		unmet = append(unmet, fmt.Sprintf("fitness %g below threshold %g", z.Fitness, g.cfg.FitnessThreshold))
	}
	if z.Evidence < g.cfg.MinEvidence {
		unmet = append(unmet, fmt.Sprintf("evidence %d below minimum %d", z.Evidence, g.cfg.MinEvidence))
	}
	if g.cfg.ProductionMinEvidence > 0 {
		if z.OKSamples < g.cfg.ProductionMinEvidence {
			unmet = append(unmet, fmt.Sprintf("production evidence %d below minimum %d", z.OKSamples, g.cfg.ProductionMinEvidence))
		} else if z.OKRate < g.cfg.ProductionMinOKRate {
			unmet = append(unmet, fmt.Sprintf("production ok rate %g below minimum %g", z.OKRate, g.cfg.ProductionMinOKRate))
		}
	}
	return unmet
}

// Pass evaluates every PROBATION zooid once, then sweeps ACTIVE zooids
// for sustained production degradation.
//
//	Description:
//	    A zooid clearing all gates advances to ACTIVE and its failed
//	    cycle count resets. A zooid missing any gate accrues one failed
//	    cycle and holds, until MaxFailedCycles retires it. With the
//	    production gate armed, an ACTIVE zooid whose ok-rate has sunk
//	    below the threshold on sufficient evidence is retired.
//
//	Outputs:
//	    *PassResult - per-zooid evaluations plus counts.
//	    error       - registry or store fault; the pass stops where it
//	                  failed, already-applied transitions stand.
func (g *Graduator) Pass(ctx context.Context, now time.Time) (*PassResult, error) {
	probation, err := g.zooids.ListByState(ctx, datatypes.StateProbation)
	if err != nil {
		return nil, fmt.Errorf("list probation zooids: %w", err)
	}

	result := &PassResult{}
	for _, z := range probation {
		ev, err := g.evaluateOne(ctx, z, now)
		if err != nil {
			return nil, err
		}
		result.Evaluated++
		result.Evaluations = append(result.Evaluations, *ev)
		switch ev.Disposition {
		case DispositionAdvanced:
			result.Advanced++
		case DispositionHeld:
			result.Held++
		case DispositionRetired:
			result.Retired++
		}
	}

	if g.cfg.ProductionMinEvidence > 0 {
		demoted, err := g.sweepDegraded(ctx, now)
		if err != nil {
			return nil, err
		}
		result.Retired += demoted
	}

	g.logger.Info("graduation pass finished",
		"evaluated", result.Evaluated,
		"advanced", result.Advanced,
		"held", result.Held,
		"retired", result.Retired)
	return result, nil
}

func (g *Graduator) evaluateOne(ctx context.Context, z *datatypes.Zooid, now time.Time) (*Evaluation, error) {
	unmet := g.unmetGates(z)

	if len(unmet) == 0 {
		reason := fmt.Sprintf("dual gate passed: fitness %g on %d samples", z.Fitness, z.Evidence)
		if _, err := g.zooids.Transition(ctx, z.ID, datatypes.StateActive, reason, now); err != nil {
			return nil, fmt.Errorf("promote zooid %s: %w", z.ID, err)
		}
		if _, err := g.zooids.Update(ctx, z.ID, func(u *datatypes.Zooid) error {
			u.FailedCycles = 0
			return nil
		}); err != nil {
			return nil, fmt.Errorf("reset failed cycles for %s: %w", z.ID, err)
		}
		g.auditEvent(audit.Event{
			EventType: audit.EventGraduation,
			ZooidID:   z.ID,
			Subsystem: z.Niche,
			FromState: string(datatypes.StateProbation),
			ToState:   string(datatypes.StateActive),
			Outcome:   string(datatypes.OutcomePromote),
			Reason:    reason,
		})
		return &Evaluation{ZooidID: z.ID, Niche: z.Niche, Disposition: DispositionAdvanced}, nil
	}

	updated, err := g.zooids.Update(ctx, z.ID, func(u *datatypes.Zooid) error {
		u.FailedCycles++
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("record failed cycle for %s: %w", z.ID, err)
	}

	if g.cfg.MaxFailedCycles > 0 && updated.FailedCycles >= g.cfg.MaxFailedCycles {
		reason := fmt.Sprintf("retired after %d failed cycles: %s", updated.FailedCycles, unmet[0])
		if _, err := g.zooids.Transition(ctx, z.ID, datatypes.StateRetired, reason, now); err != nil {
			return nil, fmt.Errorf("retire zooid %s: %w", z.ID, err)
		}
		g.auditEvent(audit.Event{
			EventType: audit.EventGraduation,
			ZooidID:   z.ID,
			Subsystem: z.Niche,
			FromState: string(datatypes.StateProbation),
			ToState:   string(datatypes.StateRetired),
			Outcome:   string(datatypes.OutcomeReject),
			Reason:    reason,
		})
		return &Evaluation{
			ZooidID:      z.ID,
			Niche:        z.Niche,
			Disposition:  DispositionRetired,
			Unmet:        unmet,
			FailedCycles: updated.FailedCycles,
		}, nil
	}

	g.logger.Debug("zooid held in probation",
		"zooid_id", z.ID, "unmet", unmet, "failed_cycles", updated.FailedCycles)
	return &Evaluation{
		ZooidID:      z.ID,
		Niche:        z.Niche,
		Disposition:  DispositionHeld,
		Unmet:        unmet,
		FailedCycles: updated.FailedCycles,
	}, nil
}

// sweepDegraded retires ACTIVE zooids whose production ok-rate has
// fallen below the gate on sufficient evidence.
func (g *Graduator) sweepDegraded(ctx context.Context, now time.Time) (int, error) {
	active, err := g.zooids.ListByState(ctx, datatypes.StateActive)
	if err != nil {
		return 0, fmt.Errorf("list active zooids: %w", err)
	}
	retired := 0
	for _, z := range active {
		if z.OKSamples < g.cfg.ProductionMinEvidence || z.OKRate >= g.cfg.ProductionMinOKRate {
			continue
		}
		reason := fmt.Sprintf("sustained production degradation: ok rate %g below %g on %d samples",
			z.OKRate, g.cfg.ProductionMinOKRate, z.OKSamples)
		if _, err := g.zooids.Transition(ctx, z.ID, datatypes.StateRetired, reason, now); err != nil {
			return retired, fmt.Errorf("retire degraded zooid %s: %w", z.ID, err)
		}
		g.auditEvent(audit.Event{
			EventType: audit.EventGraduation,
			ZooidID:   z.ID,
			Subsystem: z.Niche,
			FromState: string(datatypes.StateActive),
			ToState:   string(datatypes.StateRetired),
			Outcome:   string(datatypes.OutcomeReject),
			Reason:    reason,
		})
		g.logger.Warn("active zooid retired for degradation",
			"zooid_id", z.ID, "niche", z.Niche, "ok_rate", z.OKRate)
		retired++
	}
	return retired, nil
}

func (g *Graduator) auditEvent(e audit.Event) {
	if _, err := g.trail.Append(e); err != nil {
		g.logger.Error("audit append failed", "event_type", e.EventType, "error", err)
	}
}
