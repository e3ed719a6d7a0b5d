// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package window

import (
	"strings"
	"testing"
	"time"
)

func TestCheckClockSanity(t *testing.T) {
	t.Run("passes with default bounds", func(t *testing.T) {
		checker := NewClockChecker()
		if err := checker.CheckClockSanity(); err != nil {
			t.Errorf("Expected sane clock, got %v", err)
		}
	})

	t.Run("rejects a clock past the maximum", func(t *testing.T) {
		cfg := DefaultClockConfig()
		cfg.MaxValidTime = time.Now().Add(-time.Hour)
		checker := NewClockCheckerWithConfig(cfg)

		err := checker.CheckClockSanity()
		if err == nil {
			t.Fatal("Expected error for clock past MaxValidTime")
		}
		if !strings.Contains(err.Error(), "maximum valid time") {
			t.Errorf("Unexpected error message: %v", err)
		}
	})

	t.Run("rejects a clock before the minimum", func(t *testing.T) {
		cfg := DefaultClockConfig()
		cfg.MinValidTime = time.Now().Add(time.Hour)
		checker := NewClockCheckerWithConfig(cfg)

		err := checker.CheckClockSanity()
		if err == nil {
			t.Fatal("Expected error for clock before MinValidTime")
		}
		if !strings.Contains(err.Error(), "minimum valid time") {
			t.Errorf("Unexpected error message: %v", err)
		}
	})
}

func TestJumpDetection(t *testing.T) {
	t.Run("backward jump detected", func(t *testing.T) {
		checker := NewClockCheckerWithConfig(DefaultClockConfig()).(*clockChecker)
		if err := checker.CheckClockSanity(); err != nil {
			t.Fatalf("Baseline check failed: %v", err)
		}

		// Pretend the previous check saw a time three hours ahead of now.
		checker.mu.Lock()
		checker.lastKnownGoodTime = time.Now().Add(3 * time.Hour)
		checker.mu.Unlock()

		err := checker.CheckClockSanity()
		if err == nil || !strings.Contains(err.Error(), "backward jump") {
			t.Errorf("Expected backward jump error, got %v", err)
		}
	})

	t.Run("forward jump detected", func(t *testing.T) {
		checker := NewClockCheckerWithConfig(DefaultClockConfig()).(*clockChecker)
		if err := checker.CheckClockSanity(); err != nil {
			t.Fatalf("Baseline check failed: %v", err)
		}

		checker.mu.Lock()
		checker.lastKnownGoodTime = time.Now().Add(-3 * time.Hour)
		checker.mu.Unlock()

		err := checker.CheckClockSanity()
		if err == nil || !strings.Contains(err.Error(), "forward jump") {
			t.Errorf("Expected forward jump error, got %v", err)
		}
	})

	t.Run("reset clears the baseline", func(t *testing.T) {
		checker := NewClockCheckerWithConfig(DefaultClockConfig()).(*clockChecker)
		if err := checker.CheckClockSanity(); err != nil {
			t.Fatalf("Baseline check failed: %v", err)
		}

		checker.mu.Lock()
		checker.lastKnownGoodTime = time.Now().Add(3 * time.Hour)
		checker.mu.Unlock()

		checker.ResetJumpDetection()
		if err := checker.CheckClockSanity(); err != nil {
			t.Errorf("Expected check to pass after reset, got %v", err)
		}
	})
}

func TestNow(t *testing.T) {
	t.Run("returns current time on a sane clock", func(t *testing.T) {
		checker := NewClockChecker()
		now, err := checker.Now()
		if err != nil {
			t.Fatalf("Now failed: %v", err)
		}
		if now.IsZero() {
			t.Error("Expected a non-zero time")
		}
	})

	t.Run("returns the sanity error on a bad clock", func(t *testing.T) {
		cfg := DefaultClockConfig()
		cfg.MaxValidTime = time.Now().Add(-time.Hour)
		checker := NewClockCheckerWithConfig(cfg)

		if _, err := checker.Now(); err == nil {
			t.Error("Expected error from Now on a bad clock")
		}
	})
}

func TestNoopClockChecker(t *testing.T) {
	checker := NewNoopClockChecker()
	if err := checker.CheckClockSanity(); err != nil {
		t.Errorf("Noop checker should always pass, got %v", err)
	}
	now, err := checker.Now()
	if err != nil || now.IsZero() {
		t.Errorf("Noop Now should return current time, got %v, %v", now, err)
	}
	checker.ResetJumpDetection()
}
