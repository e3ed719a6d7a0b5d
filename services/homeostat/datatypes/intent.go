// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package datatypes provides data structures for the homeostat service.
//
// This file contains the Intent type emitted by anomaly detectors and the
// routing/outcome enums shared across the control loop. Actuator and
// candidate types live in actuator.go; population types in zooid.go.
package datatypes

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// =============================================================================
// Limits
// =============================================================================

const (
	// MaxSeedFixEntries caps the number of actuator values a detector may
	// propose in a single intent. Larger seed fixes fail validation.
	MaxSeedFixEntries = 16

	// MaxNoteBytes caps the free-form note attached to an intent.
	MaxNoteBytes = 1024

	// PriorityMin and PriorityMax bound intent priority. Higher values
	// are dequeued first.
	PriorityMin = 0
	PriorityMax = 100
)

// =============================================================================
// Shared Validator Instance
// =============================================================================

// intentValidate is the validator instance for homeostat datatypes.
// Initialized in init() with custom validators.
var intentValidate *validator.Validate

func init() {
	intentValidate = validator.New()

	_ = intentValidate.RegisterValidation("finitemap", validateFiniteMap)
	_ = intentValidate.RegisterValidation("maxnote", validateMaxNote)
}

// validateFiniteMap rejects maps containing NaN or Inf values. Detector
// payloads cross a trust boundary and a non-finite value would otherwise
// propagate into candidate math unnoticed.
func validateFiniteMap(fl validator.FieldLevel) bool {
	m, ok := fl.Field().Interface().(map[string]float64)
	if !ok {
		return false
	}
	for _, v := range m {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// validateMaxNote checks byte length (not rune count) of the note field.
func validateMaxNote(fl validator.FieldLevel) bool {
	return len(fl.Field().String()) <= MaxNoteBytes
}

// =============================================================================
// Intent Types
// =============================================================================

// IntentType identifies which control-loop path handles an intent.
type IntentType string

const (
	// IntentTuning requests a bounded parameter change for a subsystem.
	// Routed to the candidate runner.
	IntentTuning IntentType = "trigger_tuning"

	// IntentLifecycle requests a graduation evaluation pass over the
	// zooid population. Routed to the graduator and batch selector.
	IntentLifecycle IntentType = "trigger_lifecycle"

	// IntentTournament requests a tournament pass for a niche. Routed
	// to the bioreactor.
	IntentTournament IntentType = "trigger_tournament"
)

// Valid reports whether t is a recognized intent type.
func (t IntentType) Valid() bool {
	switch t {
	case IntentTuning, IntentLifecycle, IntentTournament:
		return true
	}
	return false
}

// IntentPayload carries detector-supplied context for an intent.
//
// SeedFix maps actuator names to proposed values; when present the
// candidate runner echoes it (clamped into actuator bounds) instead of
// expanding a search grid. Observed carries the metric readings that
// triggered the intent and is used for dedup fingerprinting and for
// pre-flight headroom checks. Note is a free-form operator hint.
type IntentPayload struct {
	SeedFix  map[string]float64 `json:"seed_fix,omitempty" validate:"omitempty,max=16,finitemap"`
	Observed map[string]float64 `json:"observed,omitempty" validate:"omitempty,finitemap"`
	Note     string             `json:"note,omitempty" validate:"omitempty,maxnote"`
}

// Intent is a structured remediation request emitted by a detector.
//
// # Description
//
// An Intent is the unit of work for the control loop: the detector writes
// one whenever it observes an anomaly, the queue dedups and orders it, and
// the orchestrator consumes it exactly once. Terminal outcomes archive the
// intent; intents are never deleted.
//
// # Identity
//
// Two intents are semantically identical when Fingerprint() matches: the
// fingerprint hashes (type, subsystem, normalized payload) and ignores ID,
// priority, and creation time. The queue guarantees at most one live
// intent per fingerprint within the dedup window.
//
// # Validation
//
// Uses go-playground/validator:
//   - ID: required (UUID assigned at enqueue if the detector omits it)
//   - Type: required, one of the recognized intent types
//   - Subsystem: required, 1-64 chars
//   - Priority: 0-100
//   - Payload.SeedFix: at most 16 entries, all finite
type Intent struct {
	ID        string        `json:"id" validate:"required"`
	Type      IntentType    `json:"type" validate:"required"`
	Subsystem string        `json:"subsystem" validate:"required,min=1,max=64"`
	Priority  int           `json:"priority" validate:"gte=0,lte=100"`
	CreatedAt time.Time     `json:"created_at"`
	Payload   IntentPayload `json:"payload"`
}

// Validate checks the intent against its declared constraints.
// Returns a structured validator error naming the offending field.
func (in *Intent) Validate() error {
	if !in.Type.Valid() {
		return fmt.Errorf("unknown intent type %q", in.Type)
	}
	return intentValidate.Struct(in)
}

// Fingerprint returns the hex SHA-256 content hash identifying this
// intent's semantic payload: type, subsystem, and the normalized payload
// with map keys sorted. Float values are rendered with the shortest
// round-trip representation so 0.55 always hashes identically.
func (in *Intent) Fingerprint() string {
	var b strings.Builder
	b.WriteString(string(in.Type))
	b.WriteByte('|')
	b.WriteString(in.Subsystem)
	b.WriteByte('|')
	writeCanonicalMap(&b, "seed", in.Payload.SeedFix)
	writeCanonicalMap(&b, "obs", in.Payload.Observed)
	b.WriteString(in.Payload.Note)

	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

// writeCanonicalMap appends a deterministic rendering of m to b.
func writeCanonicalMap(b *strings.Builder, label string, m map[string]float64) {
	b.WriteString(label)
	b.WriteByte('{')
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for i, k := range keys {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(strconv.FormatFloat(m[k], 'g', -1, 64))
	}
	b.WriteString("}|")
}

// =============================================================================
// Outcomes and Reasons
// =============================================================================

// Outcome is the terminal disposition of a processed intent or candidate.
// Every control-loop path ends in exactly one outcome.
type Outcome string

const (
	// OutcomePromote records that a candidate passed and was promoted.
	OutcomePromote Outcome = "promote"

	// OutcomeReject records a failed validation or canary with no
	// retained side effects.
	OutcomeReject Outcome = "reject"

	// OutcomeEscalate records a condition needing external attention,
	// never retried automatically.
	OutcomeEscalate Outcome = "escalate"

	// OutcomeDeferred records an intent returned to the queue for a
	// later tick (lock contention, closed maintenance window).
	OutcomeDeferred Outcome = "deferred"
)

// Conventional reason strings attached to archived intents and audit
// events. Reasons are human-readable; these constants exist so the
// orchestrator, runner, and tests agree on the machine-checked ones.
const (
	ReasonDuplicate       = "duplicate"
	ReasonStale           = "stale"
	ReasonQueueOverflow   = "queue_overflow"
	ReasonRateLimited     = "rate_limited"
	ReasonBudgetExhausted = "budget_exhausted"
	ReasonLockTimeout     = "lock_timeout"
	ReasonCanaryTimeout   = "canary_timeout"
	ReasonRestoreFailure  = "restore_failure"
	ReasonBreakerOpen     = "restore_breaker_open"
	ReasonWindowClosed    = "window_closed"
)
