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
	"math"
	"strings"
	"testing"
	"time"
)

func validIntent() *Intent {
	return &Intent{
		ID:        "550e8400-e29b-41d4-a716-446655440000",
		Type:      IntentTuning,
		Subsystem: "gpu",
		Priority:  50,
		CreatedAt: time.Now(),
		Payload: IntentPayload{
			Observed: map[string]float64{"util": 0.55},
		},
	}
}

func TestIntent_Validate(t *testing.T) {
	t.Run("valid intent passes", func(t *testing.T) {
		if err := validIntent().Validate(); err != nil {
			t.Fatalf("Validate() = %v, want nil", err)
		}
	})

	t.Run("missing subsystem fails", func(t *testing.T) {
		in := validIntent()
		in.Subsystem = ""
		if err := in.Validate(); err == nil {
			t.Error("expected error for empty subsystem")
		}
	})

	t.Run("unknown type fails", func(t *testing.T) {
		in := validIntent()
		in.Type = "trigger_nonsense"
		err := in.Validate()
		if err == nil {
			t.Fatal("expected error for unknown type")
		}
		if !strings.Contains(err.Error(), "trigger_nonsense") {
			t.Errorf("error should name the bad type: %v", err)
		}
	})

	t.Run("priority out of range fails", func(t *testing.T) {
		in := validIntent()
		in.Priority = 101
		if err := in.Validate(); err == nil {
			t.Error("expected error for priority > 100")
		}
	})

	t.Run("NaN in seed fix fails", func(t *testing.T) {
		in := validIntent()
		in.Payload.SeedFix = map[string]float64{"clock": math.NaN()}
		if err := in.Validate(); err == nil {
			t.Error("expected error for NaN seed value")
		}
	})

	t.Run("oversized seed fix fails", func(t *testing.T) {
		in := validIntent()
		in.Payload.SeedFix = make(map[string]float64)
		for i := 0; i < MaxSeedFixEntries+1; i++ {
			in.Payload.SeedFix["p"+strings.Repeat("x", i)] = 1.0
		}
		if err := in.Validate(); err == nil {
			t.Error("expected error for oversized seed fix")
		}
	})

	t.Run("oversized note fails", func(t *testing.T) {
		in := validIntent()
		in.Payload.Note = strings.Repeat("a", MaxNoteBytes+1)
		if err := in.Validate(); err == nil {
			t.Error("expected error for oversized note")
		}
	})
}

func TestIntent_Fingerprint(t *testing.T) {
	t.Run("identical payloads match", func(t *testing.T) {
		a := validIntent()
		b := validIntent()
		b.ID = "a different id"
		b.Priority = 10
		b.CreatedAt = time.Now().Add(time.Hour)
		if a.Fingerprint() != b.Fingerprint() {
			t.Error("fingerprint should ignore id, priority, and created_at")
		}
	})

	t.Run("map order does not matter", func(t *testing.T) {
		a := validIntent()
		a.Payload.SeedFix = map[string]float64{"x": 1, "y": 2, "z": 3}
		b := validIntent()
		b.Payload.SeedFix = map[string]float64{"z": 3, "y": 2, "x": 1}
		if a.Fingerprint() != b.Fingerprint() {
			t.Error("fingerprint should be order-independent")
		}
	})

	t.Run("subsystem changes fingerprint", func(t *testing.T) {
		a := validIntent()
		b := validIntent()
		b.Subsystem = "llm"
		if a.Fingerprint() == b.Fingerprint() {
			t.Error("different subsystems must not collide")
		}
	})

	t.Run("payload value changes fingerprint", func(t *testing.T) {
		a := validIntent()
		b := validIntent()
		b.Payload.Observed = map[string]float64{"util": 0.56}
		if a.Fingerprint() == b.Fingerprint() {
			t.Error("different payloads must not collide")
		}
	})

	t.Run("seed and observed keys do not cross-collide", func(t *testing.T) {
		a := validIntent()
		a.Payload.Observed = nil
		a.Payload.SeedFix = map[string]float64{"util": 0.55}
		b := validIntent()
		b.Payload.Observed = map[string]float64{"util": 0.55}
		b.Payload.SeedFix = nil
		if a.Fingerprint() == b.Fingerprint() {
			t.Error("seed_fix and observed sections must hash distinctly")
		}
	})
}

func TestActuatorSpec_Contains(t *testing.T) {
	spec := ActuatorSpec{Name: "gpu_clock", Min: 800, Max: 1600, Step: 50}

	tests := []struct {
		v    float64
		want bool
	}{
		{800, true},
		{1600, true},
		{1200, true},
		{799.99, false},
		{1600.01, false},
	}
	for _, tt := range tests {
		if got := spec.Contains(tt.v); got != tt.want {
			t.Errorf("Contains(%v) = %v, want %v", tt.v, got, tt.want)
		}
	}
}

func TestActuatorSpec_OnGrid(t *testing.T) {
	spec := ActuatorSpec{Name: "batch", Min: 1, Max: 64, Step: 1}
	if !spec.OnGrid(32) {
		t.Error("32 should be on a unit grid from 1")
	}
	if spec.OnGrid(32.5) {
		t.Error("32.5 should be off a unit grid")
	}

	// Fractional steps must tolerate float error
	frac := ActuatorSpec{Name: "temp", Min: 0, Max: 2, Step: 0.1}
	if !frac.OnGrid(0.7) {
		t.Error("0.7 should be on a 0.1 grid despite float representation")
	}
	if frac.OnGrid(0.75) {
		t.Error("0.75 should be off a 0.1 grid")
	}
}

func TestActuatorSpec_Clamp(t *testing.T) {
	spec := ActuatorSpec{Name: "gpu_clock", Min: 800, Max: 1600, Step: 50}

	tests := []struct {
		name string
		v    float64
		want float64
	}{
		{"below min clamps to min", 500, 800},
		{"above max clamps to max", 2000, 1600},
		{"on grid unchanged", 1200, 1200},
		{"snaps to nearest step", 1226, 1250},
		{"snaps down", 1224, 1200},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := spec.Clamp(tt.v); got != tt.want {
				t.Errorf("Clamp(%v) = %v, want %v", tt.v, got, tt.want)
			}
		})
	}
}

func TestActuatorSpec_Neighbors(t *testing.T) {
	spec := ActuatorSpec{Name: "gpu_clock", Min: 800, Max: 1600, Step: 50}

	t.Run("interior point", func(t *testing.T) {
		got := spec.Neighbors(1200, 1)
		want := []float64{1150, 1250}
		if len(got) != len(want) {
			t.Fatalf("Neighbors = %v, want %v", got, want)
		}
		for i := range want {
			if got[i] != want[i] {
				t.Errorf("Neighbors[%d] = %v, want %v", i, got[i], want[i])
			}
		}
	})

	t.Run("at min only expands upward", func(t *testing.T) {
		got := spec.Neighbors(800, 2)
		for _, v := range got {
			if v < 800 {
				t.Errorf("neighbor %v below min", v)
			}
		}
		if len(got) != 2 {
			t.Errorf("expected 2 neighbors at boundary, got %v", got)
		}
	})

	t.Run("never includes the base value", func(t *testing.T) {
		for _, v := range spec.Neighbors(1000, 3) {
			if v == 1000 {
				t.Error("base value leaked into neighbors")
			}
		}
	})
}

func TestActuatorSpec_Validate(t *testing.T) {
	bad := ActuatorSpec{Name: "x", Min: 10, Max: 5, Step: 1}
	if err := bad.Validate(); err == nil {
		t.Error("expected error when max < min")
	}
	badStep := ActuatorSpec{Name: "x", Min: 0, Max: 5, Step: 0}
	if err := badStep.Validate(); err == nil {
		t.Error("expected error for zero step")
	}
}

func TestCandidate_Hash(t *testing.T) {
	t.Run("stable across map ordering", func(t *testing.T) {
		a := Candidate{Subsystem: "gpu", Params: map[string]float64{"clock": 1200, "power": 250}}
		b := Candidate{Subsystem: "gpu", Params: map[string]float64{"power": 250, "clock": 1200}}
		if a.Hash() != b.Hash() {
			t.Error("hash must not depend on map iteration order")
		}
	})

	t.Run("param change alters hash", func(t *testing.T) {
		a := Candidate{Subsystem: "gpu", Params: map[string]float64{"clock": 1200}}
		b := Candidate{Subsystem: "gpu", Params: map[string]float64{"clock": 1250}}
		if a.Hash() == b.Hash() {
			t.Error("different params must not collide")
		}
	})

	t.Run("subsystem is part of identity", func(t *testing.T) {
		a := Candidate{Subsystem: "gpu", Params: map[string]float64{"clock": 1200}}
		b := Candidate{Subsystem: "npu", Params: map[string]float64{"clock": 1200}}
		if a.Hash() == b.Hash() {
			t.Error("different subsystems must not collide")
		}
	})
}

func TestZooidState_CanTransitionTo(t *testing.T) {
	tests := []struct {
		from ZooidState
		to   ZooidState
		want bool
	}{
		{StateDormant, StateProbation, true},
		{StateDormant, StateActive, false},
		{StateDormant, StateRetired, true},
		{StateProbation, StateActive, true},
		{StateProbation, StateRetired, true},
		{StateProbation, StateDormant, true},
		{StateActive, StateRetired, true},
		{StateActive, StateDormant, true},
		{StateActive, StateProbation, false},
		{StateRetired, StateDormant, false},
		{StateRetired, StateProbation, false},
		{StateRetired, StateActive, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			if got := tt.from.CanTransitionTo(tt.to); got != tt.want {
				t.Errorf("CanTransitionTo = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestZooid_Validate(t *testing.T) {
	z := &Zooid{
		ID:        "z-1",
		Niche:     "summarize",
		State:     StateDormant,
		Genome:    map[string]float64{"temp": 0.7},
		SpawnedAt: time.Now(),
	}
	if err := z.Validate(); err != nil {
		t.Fatalf("Validate() = %v, want nil", err)
	}

	z.State = "LIMBO"
	if err := z.Validate(); err == nil {
		t.Error("expected error for unknown state")
	}
}

func TestValidationError_Error(t *testing.T) {
	e := NewValueError("gpu_clock", 1700, "above max 1600")
	if !strings.Contains(e.Error(), "gpu_clock=1700") {
		t.Errorf("error should carry field and value: %v", e.Error())
	}

	structural := &ValidationError{Field: "spec", Reason: "max below min"}
	if strings.Contains(structural.Error(), "=0") {
		t.Errorf("structural error should not print a value: %v", structural.Error())
	}
}
