// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package lock provides mutual exclusion over the tuned service's scarce
// physical resource (typically the accelerator device) across homeostat
// processes.
//
// The lock is a JSON record on disk created with O_EXCL, so exactly one
// process can create it at a time. Ownership is verified by PID liveness:
// a lock whose holder process is dead is reclaimed automatically, so a
// crashed canary run never wedges the controller.
package lock

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

// writeGrace is how long an unreadable lock file is left alone before it
// is treated as debris from a holder that died mid-write. A healthy
// holder writes its record in the same call that creates the file.
const writeGrace = 2 * time.Second

// lockFileMode keeps the record readable. The lock file is operational
// metadata an operator may need to inspect during an incident.
const lockFileMode = 0644

// Record identifies the current lock holder.
//
// The on-disk form is JSON with keys holder, pid and timestamp so the
// lock file can be read directly with standard tooling.
type Record struct {
	Holder     string    `json:"holder"`
	PID        int       `json:"pid"`
	AcquiredAt time.Time `json:"timestamp"`
}

// Stale reports whether the holding process is no longer running.
func (r *Record) Stale() bool {
	return !IsProcessAlive(r.PID)
}

// Config controls lock behavior.
type Config struct {
	// Path is the lock file location, e.g. /var/run/homeostat/gpu.lock.
	// Required.
	Path string

	// AcquireTimeout bounds how long TryAcquire waits for a held lock
	// when the caller does not pass its own timeout.
	AcquireTimeout time.Duration

	// PollInterval is the delay between acquisition attempts while
	// waiting for a held lock.
	PollInterval time.Duration

	// Logger receives lock lifecycle events. Defaults to slog.Default().
	Logger *slog.Logger
}

// DefaultConfig returns the standard lock configuration.
func DefaultConfig() Config {
	return Config{
		AcquireTimeout: 10 * time.Second,
		PollInterval:   250 * time.Millisecond,
	}
}

// ResourceLock serializes access to one physical resource across
// processes.
//
// # Description
//
// Provides exclusive locking with:
// - Atomic create-if-absent acquisition via O_EXCL
// - Stale lock reclamation via PID liveness checks
// - Holder-checked release and an always-logged emergency override
//
// # Thread Safety
//
// Safe for concurrent use. Arbitration happens through the filesystem,
// so goroutines of one process and separate processes contend the same
// way.
type ResourceLock struct {
	path         string
	timeout      time.Duration
	pollInterval time.Duration
	logger       *slog.Logger
}

// New creates a ResourceLock for the configured path.
//
// # Description
//
// Validates the configuration, applies defaults for unset durations and
// ensures the lock file's parent directory exists. The lock itself is
// not acquired.
//
// # Inputs
//
//   - cfg: Lock configuration. Path is required.
//
// # Outputs
//
//   - *ResourceLock: Ready-to-use lock handle.
//   - error: Non-nil if the path is empty or the directory cannot be
//     created.
func New(cfg Config) (*ResourceLock, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("lock path must not be empty")
	}
	def := DefaultConfig()
	if cfg.AcquireTimeout <= 0 {
		cfg.AcquireTimeout = def.AcquireTimeout
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0750); err != nil {
		return nil, fmt.Errorf("create lock directory: %w", err)
	}

	return &ResourceLock{
		path:         cfg.Path,
		timeout:      cfg.AcquireTimeout,
		pollInterval: cfg.PollInterval,
		logger:       cfg.Logger,
	}, nil
}

// Path returns the lock file location.
func (l *ResourceLock) Path() string {
	return l.path
}

// TryAcquire claims the lock for holderID, waiting up to timeout.
//
// # Description
//
// Attempts an atomic create-if-absent of the lock file. If the file
// already names a holder, that holder's PID is checked: a dead holder is
// reclaimed and the lock acquired immediately, a live one is polled
// until it releases or the timeout elapses. Re-acquiring a lock this
// process already holds under the same holderID succeeds without
// waiting.
//
// # Inputs
//
//   - ctx: Cancels the wait early.
//   - holderID: Stable identity written into the lock record.
//   - timeout: Upper bound on the wait. Zero or negative uses the
//     configured AcquireTimeout.
//
// # Outputs
//
//   - error: nil once the lock is held. ErrLockTimeout (wrapped in a
//     HeldError naming the blocking holder) if the lock stayed held, or
//     the context error if ctx was cancelled first.
func (l *ResourceLock) TryAcquire(ctx context.Context, holderID string, timeout time.Duration) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context cancelled: %w", err)
	}
	if timeout <= 0 {
		timeout = l.timeout
	}
	deadline := time.Now().Add(timeout)

	var holder *Record
	for {
		acquired, observed, err := l.tryOnce(holderID)
		if err != nil {
			return err
		}
		if acquired {
			return nil
		}
		if observed != nil {
			holder = observed
		}

		if time.Now().After(deadline) {
			return &HeldError{Path: l.path, Holder: holder, Err: ErrLockTimeout}
		}

		wait := l.pollInterval
		if remaining := time.Until(deadline); remaining < wait {
			wait = remaining
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

// tryOnce makes a single acquisition attempt. It returns the blocking
// holder, if one was observed, so the caller can report who was in the
// way.
func (l *ResourceLock) tryOnce(holderID string) (bool, *Record, error) {
	holder, err := l.readRecord()
	switch {
	case err == nil:
		if holder.PID == os.Getpid() && holder.Holder == holderID {
			return true, holder, nil
		}
		if !holder.Stale() {
			return false, holder, nil
		}
		l.logger.Info("Reclaiming stale lock",
			"path", l.path,
			"old_holder", holder.Holder,
			"old_pid", holder.PID)
		if rerr := os.Remove(l.path); rerr != nil && !os.IsNotExist(rerr) {
			return false, holder, fmt.Errorf("remove stale lock: %w", rerr)
		}

	case os.IsNotExist(err):
		// Lock is free.

	default:
		// Unreadable record. Leave it alone inside the write grace in
		// case the holder is still mid-write.
		age, aerr := l.fileAge()
		if aerr != nil || age <= writeGrace {
			return false, nil, nil
		}
		l.logger.Warn("Removing unreadable lock file",
			"path", l.path,
			"error", err)
		if rerr := os.Remove(l.path); rerr != nil && !os.IsNotExist(rerr) {
			return false, nil, fmt.Errorf("remove unreadable lock: %w", rerr)
		}
	}

	f, cerr := os.OpenFile(l.path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, lockFileMode)
	if cerr != nil {
		if os.IsExist(cerr) {
			// Lost the race to another acquirer.
			return false, nil, nil
		}
		return false, nil, fmt.Errorf("create lock file: %w", cerr)
	}

	rec := Record{
		Holder:     holderID,
		PID:        os.Getpid(),
		AcquiredAt: time.Now().UTC(),
	}
	if werr := writeRecord(f, rec); werr != nil {
		f.Close()
		_ = os.Remove(l.path)
		return false, nil, fmt.Errorf("write lock record: %w", werr)
	}
	if cerr := f.Close(); cerr != nil {
		_ = os.Remove(l.path)
		return false, nil, fmt.Errorf("close lock file: %w", cerr)
	}

	l.logger.Debug("Acquired resource lock",
		"path", l.path,
		"holder", holderID)
	return true, nil, nil
}

// Release gives up the lock held under holderID.
//
// # Description
//
// Only the current holder may release. A release whose holder ID or PID
// does not match the lock record is a no-op with a logged warning, so a
// misbehaving caller cannot free the lock out from under the real
// holder. Releasing when no lock exists is also a no-op.
//
// # Inputs
//
//   - holderID: Identity used at acquisition.
//
// # Outputs
//
//   - error: Non-nil only on filesystem failure.
func (l *ResourceLock) Release(holderID string) error {
	holder, err := l.readRecord()
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		l.logger.Warn("Release skipped, lock record unreadable",
			"path", l.path,
			"error", err)
		return nil
	}

	if holder.Holder != holderID || holder.PID != os.Getpid() {
		l.logger.Warn("Release ignored, lock held by another",
			"path", l.path,
			"holder", holder.Holder,
			"holder_pid", holder.PID,
			"caller", holderID)
		return nil
	}

	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove lock file: %w", err)
	}
	l.logger.Debug("Released resource lock",
		"path", l.path,
		"holder", holderID)
	return nil
}

// ForceRelease removes the lock regardless of who holds it.
//
// # Description
//
// Emergency override for a wedged lock, such as a live holder that will
// never finish. Always logged at warning level; callers are expected to
// record an audit event naming the evicted holder.
//
// # Outputs
//
//   - *Record: The evicted holder, nil if no lock was present or the
//     record was unreadable.
//   - error: Non-nil on filesystem failure.
func (l *ResourceLock) ForceRelease() (*Record, error) {
	holder, err := l.readRecord()
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		holder = nil
	}

	if err := os.Remove(l.path); err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return holder, fmt.Errorf("remove lock file: %w", err)
	}

	if holder != nil {
		l.logger.Warn("Lock force released",
			"path", l.path,
			"holder", holder.Holder,
			"holder_pid", holder.PID)
	} else {
		l.logger.Warn("Lock force released", "path", l.path)
	}
	return holder, nil
}

// Holder returns the current lock record, or nil when the lock is free.
//
// The record may name a dead process; use Record.Stale to distinguish a
// valid holder from a reclaimable one.
func (l *ResourceLock) Holder() (*Record, error) {
	holder, err := l.readRecord()
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return holder, nil
}

// IsProcessAlive reports whether a process with the given PID is
// running.
//
// # Description
//
// Used for stale lock detection. On Unix this probes with signal 0, on
// Windows it opens a query-only process handle.
//
// # Inputs
//
//   - pid: Process ID to check.
//
// # Outputs
//
//   - bool: True if the process exists and is visible to this one.
func IsProcessAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	return isProcessAlive(pid)
}

// readRecord reads and validates the lock record. Filesystem errors are
// returned unwrapped so callers can test with os.IsNotExist.
func (l *ResourceLock) readRecord() (*Record, error) {
	data, err := os.ReadFile(l.path)
	if err != nil {
		return nil, err
	}

	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("parse lock record: %w", err)
	}
	if rec.PID <= 0 {
		return nil, fmt.Errorf("lock record has no holder pid")
	}
	return &rec, nil
}

// writeRecord writes the lock record as indented JSON.
func writeRecord(f *os.File, rec Record) error {
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')
	_, err = f.Write(data)
	return err
}

// fileAge returns how long ago the lock file was last written.
func (l *ResourceLock) fileAge() (time.Duration, error) {
	fi, err := os.Stat(l.path)
	if err != nil {
		return 0, err
	}
	return time.Since(fi.ModTime()), nil
}
