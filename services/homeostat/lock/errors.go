// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package lock

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors for lock operations.
var (
	// ErrLockTimeout indicates the lock stayed held by a live process for
	// the whole acquisition timeout.
	ErrLockTimeout = errors.New("lock not acquired within timeout")
)

// HeldError reports a failed acquisition along with the holder that
// blocked it.
//
// # Description
//
// Wraps ErrLockTimeout with the lock record observed on the final
// attempt, so the caller can log who was in the way or decide whether a
// force release is warranted.
//
// # Fields
//
//   - Path: The lock file that stayed held.
//   - Holder: The blocking holder, nil if the record was unreadable.
//   - Err: The underlying error (typically ErrLockTimeout).
type HeldError struct {
	Path   string
	Holder *Record
	Err    error
}

// Error returns a human-readable error message.
func (e *HeldError) Error() string {
	if e.Holder != nil {
		return fmt.Sprintf("resource %s is locked by %s (pid %d) since %s: %v",
			e.Path, e.Holder.Holder, e.Holder.PID,
			e.Holder.AcquiredAt.Format(time.RFC3339), e.Err)
	}
	return fmt.Sprintf("resource %s is locked: %v", e.Path, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *HeldError) Unwrap() error {
	return e.Err
}
