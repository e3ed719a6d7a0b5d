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
	"crypto/sha256"
	"encoding/hex"
	"math"
	"sort"
	"strconv"
	"strings"
)

// gridEpsilon absorbs float rounding when checking step-grid membership.
// Step values in practice are no finer than 1e-6 so 1e-9 is safely below
// any legitimate grid spacing.
const gridEpsilon = 1e-9

// ActuatorSpec declares one tunable parameter of the target service.
//
// Specs are immutable at runtime: min, max, and step are fixed when the
// registry loads, and a candidate value outside the declared range is a
// validation error, never silently clamped past bounds. (Seed fixes are
// clamped INTO bounds at propose time, which is a different operation:
// clamping a proposal is allowed, accepting an out-of-bounds candidate
// is not.)
type ActuatorSpec struct {
	Name string  `json:"name" validate:"required,min=1,max=64"`
	Min  float64 `json:"min"`
	Max  float64 `json:"max"`
	Step float64 `json:"step" validate:"gt=0"`
}

// Validate checks internal consistency of the spec.
func (s ActuatorSpec) Validate() error {
	if err := intentValidate.Struct(s); err != nil {
		return err
	}
	if s.Max < s.Min {
		return &ValidationError{Field: s.Name, Reason: "max below min"}
	}
	return nil
}

// Contains reports whether v lies within [Min, Max].
func (s ActuatorSpec) Contains(v float64) bool {
	return v >= s.Min && v <= s.Max
}

// OnGrid reports whether v sits on the step grid anchored at Min.
func (s ActuatorSpec) OnGrid(v float64) bool {
	if !s.Contains(v) {
		return false
	}
	steps := (v - s.Min) / s.Step
	_, frac := math.Modf(steps)
	return frac < gridEpsilon || 1-frac < gridEpsilon
}

// Clamp snaps v to the nearest grid point and bounds it into [Min, Max].
// Used when echoing detector seed fixes into a legal candidate.
func (s ActuatorSpec) Clamp(v float64) float64 {
	steps := math.Round((v - s.Min) / s.Step)
	snapped := s.Min + steps*s.Step
	if snapped < s.Min {
		return s.Min
	}
	if snapped > s.Max {
		return s.Max
	}
	return snapped
}

// Neighbors returns the grid values r steps below and above v, clipped to
// the spec bounds. Used by grid expansion around a previously promoted
// value. The result excludes v itself and contains no duplicates.
func (s ActuatorSpec) Neighbors(v float64, r int) []float64 {
	base := s.Clamp(v)
	seen := map[float64]bool{base: true}
	var out []float64
	for i := 1; i <= r; i++ {
		for _, cand := range []float64{base - float64(i)*s.Step, base + float64(i)*s.Step} {
			c := s.Clamp(cand)
			if !seen[c] {
				seen[c] = true
				out = append(out, c)
			}
		}
	}
	sort.Float64s(out)
	return out
}

// =============================================================================
// Candidate
// =============================================================================

// Candidate is a concrete, bounds-checked proposed configuration change
// for one subsystem. Params never exceeds the configured
// max-actuators-per-change scope guard; that is enforced at propose and
// validate time, not here.
type Candidate struct {
	Subsystem string             `json:"subsystem"`
	Params    map[string]float64 `json:"params"`
}

// Hash returns the hex SHA-256 identity of the candidate: subsystem plus
// sorted params. Audit events reference candidates by this hash.
func (c Candidate) Hash() string {
	var b strings.Builder
	b.WriteString(c.Subsystem)
	b.WriteByte('|')
	keys := make([]string, 0, len(c.Params))
	for k := range c.Params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(strconv.FormatFloat(c.Params[k], 'g', -1, 64))
		b.WriteByte(';')
	}
	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

// =============================================================================
// Validation Error
// =============================================================================

// ValidationError reports a candidate or spec constraint violation. It is
// raised before any physical resource is touched.
type ValidationError struct {
	Field  string
	Value  float64
	Reason string

	// HasValue distinguishes "field carries offending value" from
	// structural violations where Value is meaningless.
	HasValue bool
}

// NewValueError builds a ValidationError carrying the offending value.
func NewValueError(field string, value float64, reason string) *ValidationError {
	return &ValidationError{Field: field, Value: value, Reason: reason, HasValue: true}
}

// Error formats the violation with the offending field and value.
func (e *ValidationError) Error() string {
	if e.HasValue {
		return "validation: " + e.Field + "=" + strconv.FormatFloat(e.Value, 'g', -1, 64) + ": " + e.Reason
	}
	return "validation: " + e.Field + ": " + e.Reason
}
