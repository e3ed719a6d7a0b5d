// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package window provides the time discipline for the homeostat: the
// maintenance window inside which disruptive work is permitted, and a
// sanity check on the wall clock that budget accounting depends on.
package window

import (
	"fmt"
	"time"
)

// Window is a daily wall-clock interval, optionally spanning midnight.
//
// # Description
//
// The quiesced canary path may stop production only inside the
// configured window, so membership is evaluated in the window's own
// timezone regardless of where the controller runs.
//
// A window whose start is later than its end wraps past midnight:
// 22:00-02:00 covers four hours each night. Membership is half-open,
// start inclusive and end exclusive, at minute granularity.
type Window struct {
	startMinute int
	endMinute   int
	location    *time.Location
	start       string
	end         string
}

// New parses a daily window from "HH:MM" bounds and an IANA timezone.
//
// # Inputs
//
//   - start: Opening wall time, e.g. "03:00".
//   - end: Closing wall time, e.g. "05:00". May be earlier than start
//     for a window that wraps past midnight.
//   - timezone: IANA zone name, e.g. "America/New_York". Empty means UTC.
//
// # Outputs
//
//   - *Window: Ready for membership checks.
//   - error: Non-nil for malformed times, equal bounds or an unknown
//     zone. Equal bounds are rejected because an always-open policy is
//     expressed by not requiring a window at all.
func New(start, end, timezone string) (*Window, error) {
	startMin, err := parseClock(start)
	if err != nil {
		return nil, fmt.Errorf("window start: %w", err)
	}
	endMin, err := parseClock(end)
	if err != nil {
		return nil, fmt.Errorf("window end: %w", err)
	}
	if startMin == endMin {
		return nil, fmt.Errorf("window start and end must differ (got %s-%s)", start, end)
	}

	loc := time.UTC
	if timezone != "" {
		loc, err = time.LoadLocation(timezone)
		if err != nil {
			return nil, fmt.Errorf("window timezone: %w", err)
		}
	}

	return &Window{
		startMinute: startMin,
		endMinute:   endMin,
		location:    loc,
		start:       start,
		end:         end,
	}, nil
}

// Contains reports whether t falls inside the window.
func (w *Window) Contains(t time.Time) bool {
	lt := t.In(w.location)
	m := lt.Hour()*60 + lt.Minute()
	if w.startMinute < w.endMinute {
		return m >= w.startMinute && m < w.endMinute
	}
	// Wraps past midnight.
	return m >= w.startMinute || m < w.endMinute
}

// NextOpen returns the earliest instant at or after t inside the window.
//
// Used to report when a deferred intent can next be attempted.
func (w *Window) NextOpen(t time.Time) time.Time {
	if w.Contains(t) {
		return t
	}
	lt := t.In(w.location)
	opening := time.Date(lt.Year(), lt.Month(), lt.Day(),
		w.startMinute/60, w.startMinute%60, 0, 0, w.location)
	if !opening.After(lt) {
		opening = opening.AddDate(0, 0, 1)
	}
	return opening
}

// String renders the window for logs, e.g. "03:00-05:00 America/New_York".
func (w *Window) String() string {
	return fmt.Sprintf("%s-%s %s", w.start, w.end, w.location)
}

// parseClock converts "HH:MM" to minutes since midnight.
func parseClock(s string) (int, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, fmt.Errorf("expected HH:MM, got %q: %w", s, err)
	}
	return t.Hour()*60 + t.Minute(), nil
}
