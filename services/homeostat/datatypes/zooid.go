// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package datatypes

import (
	"time"
)

// ZooidState is a lifecycle state of a population member.
//
// The legal transitions form a small FSM:
//
//	DORMANT ──(batch select)──▶ PROBATION ──(dual gate)──▶ ACTIVE
//	   ▲                           │                          │
//	   └───────(tournament loss)───┴──────────┬───────────────┘
//	                                          ▼
//	                                       RETIRED
//
// PROBATION reaches RETIRED after too many failed cycles; ACTIVE reaches
// RETIRED via tournament loss or sustained production degradation, and may
// instead fall back to DORMANT when demoted rather than removed. RETIRED
// is terminal; retired records are archived, never deleted.
type ZooidState string

const (
	// StateDormant marks a spawned but not yet evaluated zooid.
	StateDormant ZooidState = "DORMANT"

	// StateProbation marks a zooid under evaluation.
	StateProbation ZooidState = "PROBATION"

	// StateActive marks a promoted zooid serving its niche.
	StateActive ZooidState = "ACTIVE"

	// StateRetired marks a permanently removed zooid. Terminal.
	StateRetired ZooidState = "RETIRED"
)

// Valid reports whether s is a recognized lifecycle state.
func (s ZooidState) Valid() bool {
	switch s {
	case StateDormant, StateProbation, StateActive, StateRetired:
		return true
	}
	return false
}

// CanTransitionTo reports whether the FSM permits moving from s to next.
// RETIRED accepts no outgoing transitions.
func (s ZooidState) CanTransitionTo(next ZooidState) bool {
	switch s {
	case StateDormant:
		return next == StateProbation || next == StateRetired
	case StateProbation:
		return next == StateActive || next == StateRetired || next == StateDormant
	case StateActive:
		return next == StateRetired || next == StateDormant
	default:
		return false
	}
}

// Zooid is a population member: a worker/configuration variant subject to
// the graduation lifecycle and tournament selection.
//
// Fitness and EvidenceCount accumulate from sandbox evaluation runs;
// ProductionOKRate and ProductionEvidence accumulate only while the zooid
// serves real traffic, which is why the production gate may legitimately
// be configured to zero for a first cohort (no production evidence can
// exist before a first promotion).
type Zooid struct {
	ID        string             `json:"id" validate:"required"`
	Niche     string             `json:"niche" validate:"required,min=1,max=64"`
	Genome    map[string]float64 `json:"genome" validate:"omitempty,finitemap"`
	State     ZooidState         `json:"state"`
	Fitness   float64            `json:"fitness"`
	Evidence  int                `json:"evidence_count"`
	OKRate    float64            `json:"production_ok_rate"`
	OKSamples int                `json:"production_evidence"`

	// FailedCycles counts consecutive probation evaluations that did not
	// graduate. Reset on promotion; retirement after the configured cap.
	FailedCycles int `json:"failed_cycles"`

	SpawnedAt time.Time `json:"spawned_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Validate checks the zooid record's structural constraints.
func (z *Zooid) Validate() error {
	if !z.State.Valid() {
		return &ValidationError{Field: "state", Reason: "unknown lifecycle state " + string(z.State)}
	}
	return intentValidate.Struct(z)
}
