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
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// =============================================================================
// Clock sanity checking
// =============================================================================

// ClockChecker guards time-sensitive decisions against a bad wall clock.
//
// # Description
//
// Budget days, rate-limit windows and the maintenance window all key off
// wall-clock time. A clock set to the future mints a fresh downtime
// budget early; one set to the past makes stale intents look current and
// holds yesterday's budget open. The checker validates the clock before
// each tick instead of trusting it blindly.
//
// # Thread Safety
//
// All methods are safe for concurrent use.
type ClockChecker interface {
	// CheckClockSanity verifies the system clock is reasonable.
	//
	// # Description
	//
	// Validates that the current time lies within the configured bounds
	// and has not jumped more than the allowed threshold since the last
	// successful check. The first check after construction or a reset
	// skips jump detection.
	//
	// # Outputs
	//
	//   - error: Non-nil if the clock appears invalid.
	CheckClockSanity() error

	// Now returns the current time if the clock passes the sanity check.
	//
	// Use this instead of time.Now() on paths that consume budget or
	// stamp rate-limit records.
	Now() (time.Time, error)

	// ResetJumpDetection resets the jump baseline.
	//
	// Call after a known legitimate time change (NTP sync, resume from
	// sleep) to avoid a false positive on the next check.
	ResetJumpDetection()
}

// ClockConfig contains configuration for the clock checker.
//
// # Fields
//
//   - MinValidTime: Earliest acceptable time.
//   - MaxValidTime: Latest acceptable time.
//   - MaxBackwardJump: Maximum allowed backward time jump.
//   - MaxForwardJump: Maximum allowed forward time jump.
type ClockConfig struct {
	MinValidTime    time.Time
	MaxValidTime    time.Time
	MaxBackwardJump time.Duration
	MaxForwardJump  time.Duration
}

// DefaultClockConfig returns bounds suitable for production use.
func DefaultClockConfig() ClockConfig {
	return ClockConfig{
		MinValidTime:    time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		MaxValidTime:    time.Date(2035, 12, 31, 23, 59, 59, 0, time.UTC),
		MaxBackwardJump: 1 * time.Hour,
		MaxForwardJump:  2 * time.Hour,
	}
}

// clockChecker implements ClockChecker.
type clockChecker struct {
	config            ClockConfig
	lastKnownGoodTime time.Time
	mu                sync.RWMutex
	checkCount        int64
}

// NewClockChecker creates a clock checker with default configuration.
func NewClockChecker() ClockChecker {
	return NewClockCheckerWithConfig(DefaultClockConfig())
}

// NewClockCheckerWithConfig creates a clock checker with custom bounds.
func NewClockCheckerWithConfig(config ClockConfig) ClockChecker {
	return &clockChecker{
		config:            config,
		lastKnownGoodTime: time.Now(),
		checkCount:        0,
	}
}

// CheckClockSanity verifies the system clock is reasonable.
//
// # Description
//
// Performs three validations:
//  1. Current time >= MinValidTime (not in the distant past)
//  2. Current time <= MaxValidTime (not in the distant future)
//  3. No suspicious jump from the last known good time
//
// # Outputs
//
//   - error: Non-nil with a descriptive message if the clock appears
//     invalid.
func (c *clockChecker) CheckClockSanity() error {
	now := time.Now()

	if now.Before(c.config.MinValidTime) {
		return fmt.Errorf("clock sanity: time %v is before minimum valid time %v (possible clock set to past)",
			now.Format(time.RFC3339), c.config.MinValidTime.Format(time.RFC3339))
	}
	if now.After(c.config.MaxValidTime) {
		return fmt.Errorf("clock sanity: time %v is after maximum valid time %v (possible clock set to future)",
			now.Format(time.RFC3339), c.config.MaxValidTime.Format(time.RFC3339))
	}

	c.mu.RLock()
	lastGood := c.lastKnownGoodTime
	checkCount := c.checkCount
	c.mu.RUnlock()

	if checkCount > 0 {
		timeDiff := now.Sub(lastGood)
		if timeDiff < -c.config.MaxBackwardJump {
			return fmt.Errorf("clock sanity: suspicious backward jump of %v detected (max allowed: %v)",
				-timeDiff, c.config.MaxBackwardJump)
		}
		if timeDiff > c.config.MaxForwardJump {
			return fmt.Errorf("clock sanity: suspicious forward jump of %v detected (max allowed: %v)",
				timeDiff, c.config.MaxForwardJump)
		}
	}

	c.mu.Lock()
	c.lastKnownGoodTime = now
	c.checkCount++
	c.mu.Unlock()

	return nil
}

// Now returns the current time if the clock passes the sanity check.
func (c *clockChecker) Now() (time.Time, error) {
	if err := c.CheckClockSanity(); err != nil {
		slog.Warn("clock sanity check failed",
			"error", err,
		)
		return time.Time{}, err
	}
	return time.Now(), nil
}

// ResetJumpDetection resets the jump detection baseline.
func (c *clockChecker) ResetJumpDetection() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.lastKnownGoodTime = time.Now()
	c.checkCount = 0

	slog.Info("clock checker: jump detection reset",
		"new_baseline", c.lastKnownGoodTime.Format(time.RFC3339),
	)
}

// =============================================================================
// No-op clock checker (for testing)
// =============================================================================

// noopClockChecker always passes sanity checks.
type noopClockChecker struct{}

// NewNoopClockChecker returns a checker that performs no validation.
//
// Use in tests or when the deployment has external guarantees about
// clock correctness.
func NewNoopClockChecker() ClockChecker {
	return &noopClockChecker{}
}

// CheckClockSanity always returns nil.
func (n *noopClockChecker) CheckClockSanity() error {
	return nil
}

// Now returns the current time without validation.
func (n *noopClockChecker) Now() (time.Time, error) {
	return time.Now(), nil
}

// ResetJumpDetection is a no-op.
func (n *noopClockChecker) ResetJumpDetection() {}
