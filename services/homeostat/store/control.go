// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/AleutianAI/AleutianHomeostat/services/homeostat/datatypes"
	dgbadger "github.com/dgraph-io/badger/v4"
)

// This file holds the orchestrator's durable control state: rate-limit
// stamps, rejection streaks, restore breaker latches, and promoted
// baselines. The control loop persists everything it needs between
// ticks; a crash never loses more than the in-flight tick.

// BreakerState latches a subsystem after a failed production restore.
// While latched, no automatic canary runs for the subsystem.
type BreakerState struct {
	Subsystem string    `json:"subsystem"`
	Reason    string    `json:"reason"`
	IntentID  string    `json:"intent_id,omitempty"`
	LatchedAt time.Time `json:"latched_at"`
}

// Baseline records the last promoted candidate for a subsystem. The
// runner expands its search grid around it.
type Baseline struct {
	Candidate  datatypes.Candidate `json:"candidate"`
	IntentID   string              `json:"intent_id,omitempty"`
	PromotedAt time.Time           `json:"promoted_at"`
}

func rateKey(subsystem string, at time.Time) []byte {
	return []byte(fmt.Sprintf("%s%s:%020d", keyRate, subsystem, at.UnixNano()))
}

func ratePrefix(subsystem string) []byte {
	return []byte(keyRate + subsystem + ":")
}

func streakKey(subsystem string) []byte {
	return []byte(keyStreak + subsystem)
}

func breakerKey(subsystem string) []byte {
	return []byte(keyBreaker + subsystem)
}

func baselineKey(subsystem string) []byte {
	return []byte(keyBaseline + subsystem)
}

// -----------------------------------------------------------------------------
// Rate stamps
// -----------------------------------------------------------------------------

// AddRateStamp records that an action was dispatched for a subsystem.
func (s *Store) AddRateStamp(ctx context.Context, subsystem string, at time.Time) error {
	return s.update(ctx, func(txn *dgbadger.Txn) error {
		return txn.Set(rateKey(subsystem, at), nil)
	})
}

// RateStampsSince counts actions at or after since for a subsystem,
// pruning older stamps along the way. The rolling rate-limit window is
// maintained lazily: stamps age out the next time anyone asks.
func (s *Store) RateStampsSince(ctx context.Context, subsystem string, since time.Time) (int, error) {
	cutoff := since.UnixNano()
	count := 0

	err := s.update(ctx, func(txn *dgbadger.Txn) error {
		count = 0

		opts := dgbadger.DefaultIteratorOptions
		opts.PrefetchValues = false

		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := ratePrefix(subsystem)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			key := it.Item().KeyCopy(nil)
			nanos, err := parseStampNanos(key)
			if err != nil {
				continue // skip malformed keys
			}
			if nanos < cutoff {
				if err := txn.Delete(key); err != nil {
					return err
				}
				continue
			}
			count++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return count, nil
}

// LatestRateStamp returns the most recent action time for a subsystem,
// or the zero time when none is recorded.
func (s *Store) LatestRateStamp(ctx context.Context, subsystem string) (time.Time, error) {
	var latest time.Time

	err := s.view(ctx, func(txn *dgbadger.Txn) error {
		opts := dgbadger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Reverse = true

		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := ratePrefix(subsystem)
		it.Seek(append(append([]byte{}, prefix...), 0xFF))
		if !it.ValidForPrefix(prefix) {
			return nil
		}
		nanos, err := parseStampNanos(it.Item().Key())
		if err != nil {
			return nil
		}
		latest = time.Unix(0, nanos)
		return nil
	})
	if err != nil {
		return time.Time{}, err
	}
	return latest, nil
}

// parseStampNanos extracts the trailing 20-digit nanosecond timestamp
// from a rate stamp key.
func parseStampNanos(key []byte) (int64, error) {
	if len(key) < 20 {
		return 0, errors.New("stamp key too short")
	}
	var nanos int64
	if _, err := fmt.Sscanf(string(key[len(key)-20:]), "%020d", &nanos); err != nil {
		return 0, err
	}
	return nanos, nil
}

// -----------------------------------------------------------------------------
// Rejection streaks
// -----------------------------------------------------------------------------

// RejectionStreak returns the consecutive-rejection count for a subsystem.
func (s *Store) RejectionStreak(ctx context.Context, subsystem string) (int, error) {
	var n uint64
	err := s.view(ctx, func(txn *dgbadger.Txn) error {
		v, err := getUint64(txn, streakKey(subsystem))
		if err != nil {
			return err
		}
		n = v
		return nil
	})
	return int(n), err
}

// SetRejectionStreak stores the consecutive-rejection count. Zero clears
// the key.
func (s *Store) SetRejectionStreak(ctx context.Context, subsystem string, n int) error {
	return s.update(ctx, func(txn *dgbadger.Txn) error {
		if n <= 0 {
			err := txn.Delete(streakKey(subsystem))
			if errors.Is(err, dgbadger.ErrKeyNotFound) {
				return nil
			}
			return err
		}
		return txn.Set(streakKey(subsystem), encodeUint64(uint64(n)))
	})
}

// -----------------------------------------------------------------------------
// Restore breakers
// -----------------------------------------------------------------------------

// SetBreaker latches a subsystem's restore breaker.
func (s *Store) SetBreaker(ctx context.Context, state BreakerState) error {
	return s.update(ctx, func(txn *dgbadger.Txn) error {
		return putJSON(txn, breakerKey(state.Subsystem), &state)
	})
}

// GetBreaker returns a subsystem's breaker latch, or ErrNotFound when
// the subsystem is clear.
func (s *Store) GetBreaker(ctx context.Context, subsystem string) (*BreakerState, error) {
	state := &BreakerState{}
	err := s.view(ctx, func(txn *dgbadger.Txn) error {
		return getJSON(txn, breakerKey(subsystem), state)
	})
	if err != nil {
		return nil, err
	}
	return state, nil
}

// ClearBreaker removes a subsystem's breaker latch. Idempotent.
func (s *Store) ClearBreaker(ctx context.Context, subsystem string) error {
	return s.update(ctx, func(txn *dgbadger.Txn) error {
		err := txn.Delete(breakerKey(subsystem))
		if errors.Is(err, dgbadger.ErrKeyNotFound) {
			return nil
		}
		return err
	})
}

// ListBreakers returns all latched subsystems.
func (s *Store) ListBreakers(ctx context.Context) ([]*BreakerState, error) {
	var states []*BreakerState

	err := s.view(ctx, func(txn *dgbadger.Txn) error {
		opts := dgbadger.DefaultIteratorOptions
		opts.PrefetchValues = true

		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte(keyBreaker)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			state := &BreakerState{}
			err := it.Item().Value(func(val []byte) error {
				return decodeRecord(val, state, it.Item().Key())
			})
			if err != nil {
				return err
			}
			states = append(states, state)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return states, nil
}

// -----------------------------------------------------------------------------
// Baselines
// -----------------------------------------------------------------------------

// PutBaseline records a subsystem's last promoted candidate.
func (s *Store) PutBaseline(ctx context.Context, b Baseline) error {
	return s.update(ctx, func(txn *dgbadger.Txn) error {
		return putJSON(txn, baselineKey(b.Candidate.Subsystem), &b)
	})
}

// GetBaseline returns a subsystem's last promoted candidate, or
// ErrNotFound when nothing has been promoted yet.
func (s *Store) GetBaseline(ctx context.Context, subsystem string) (*Baseline, error) {
	b := &Baseline{}
	err := s.view(ctx, func(txn *dgbadger.Txn) error {
		return getJSON(txn, baselineKey(subsystem), b)
	})
	if err != nil {
		return nil, err
	}
	return b, nil
}
