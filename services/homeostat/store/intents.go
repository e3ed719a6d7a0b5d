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
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/AleutianAI/AleutianHomeostat/services/homeostat/datatypes"
	dgbadger "github.com/dgraph-io/badger/v4"
)

// IntentRecord is a pending intent together with its queue bookkeeping.
type IntentRecord struct {
	// Seq is the enqueue sequence number. Orders intents within a
	// priority band (FIFO).
	Seq uint64 `json:"seq"`

	// Fingerprint is the intent's dedup hash, kept so archive entries
	// can be correlated with the fingerprint index.
	Fingerprint string `json:"fingerprint"`

	// Deferrals counts how many ticks processing was postponed (lock
	// contention). Deferred intents keep their queue position.
	Deferrals int `json:"deferrals,omitempty"`

	// EnqueuedAt is when the record was accepted into the queue.
	EnqueuedAt time.Time `json:"enqueued_at"`

	Intent datatypes.Intent `json:"intent"`
}

// ArchivedIntent is a terminal queue entry. Archive entries are written
// once and never rewritten; they are the queue's paper trail.
type ArchivedIntent struct {
	Intent     datatypes.Intent  `json:"intent"`
	Outcome    datatypes.Outcome `json:"outcome"`
	Reason     string            `json:"reason"`
	ArchivedAt time.Time         `json:"archived_at"`
}

// pendingKey builds the ordering key for a pending intent. Priority is
// inverted so higher priorities sort first under forward iteration.
func pendingKey(priority int, seq uint64) []byte {
	inv := datatypes.PriorityMax - priority
	return []byte(fmt.Sprintf("%s%03d:%016d", keyPending, inv, seq))
}

func fingerprintKey(fp string) []byte {
	return []byte(keyFP + fp)
}

func archiveKey(at time.Time, id string) []byte {
	return []byte(fmt.Sprintf("%s%020d:%s", keyArchive, at.UnixNano(), id))
}

// EnqueueIntent durably appends an intent to the pending queue.
//
// Description:
//
//	Atomically checks the fingerprint index and, if no unexpired entry
//	exists, writes the pending record and indexes the fingerprint until
//	dedupExpiry. The fingerprint outlives dequeue: a semantically
//	identical intent submitted inside the dedup window is a duplicate
//	even if the first one has already been processed.
//
// Inputs:
//
//	ctx - Context for cancellation.
//	intent - The validated intent. Caller is responsible for Validate().
//	now - Current time, used for the expiry comparison and EnqueuedAt.
//	dedupExpiry - When the fingerprint stops suppressing duplicates.
//
// Outputs:
//
//	*IntentRecord - The stored record with its sequence number.
//	error - ErrDuplicateFingerprint if suppressed, otherwise storage errors.
func (s *Store) EnqueueIntent(ctx context.Context, intent datatypes.Intent, now, dedupExpiry time.Time) (*IntentRecord, error) {
	fp := intent.Fingerprint()
	rec := &IntentRecord{
		Seq:         s.seq.Add(1),
		Fingerprint: fp,
		EnqueuedAt:  now,
		Intent:      intent,
	}

	err := s.update(ctx, func(txn *dgbadger.Txn) error {
		fpKey := fingerprintKey(fp)
		item, err := txn.Get(fpKey)
		if err == nil {
			var expiry uint64
			verr := item.Value(func(val []byte) error {
				expiry = decodeUint64(val)
				return nil
			})
			if verr != nil {
				return verr
			}
			if int64(expiry) > now.UnixNano() {
				return ErrDuplicateFingerprint
			}
		} else if !errors.Is(err, dgbadger.ErrKeyNotFound) {
			return err
		}

		if err := putJSON(txn, pendingKey(intent.Priority, rec.Seq), rec); err != nil {
			return err
		}
		return txn.Set(fpKey, encodeUint64(uint64(dedupExpiry.UnixNano())))
	})
	if err != nil {
		return nil, err
	}

	s.logger.Debug("intent enqueued",
		slog.String("id", intent.ID),
		slog.String("subsystem", intent.Subsystem),
		slog.Int("priority", intent.Priority),
		slog.Uint64("seq", rec.Seq))

	return rec, nil
}

// PeekIntent returns the head of the queue without removing it, or nil
// when the queue is empty. The head is the highest-priority, oldest
// pending intent.
func (s *Store) PeekIntent(ctx context.Context) (*IntentRecord, error) {
	var rec *IntentRecord

	err := s.view(ctx, func(txn *dgbadger.Txn) error {
		opts := dgbadger.DefaultIteratorOptions
		opts.PrefetchValues = true

		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte(keyPending)
		it.Seek(prefix)
		if !it.ValidForPrefix(prefix) {
			return nil
		}

		rec = &IntentRecord{}
		return it.Item().Value(func(val []byte) error {
			return decodeRecord(val, rec, it.Item().Key())
		})
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// PendingIntents returns all pending intents in dequeue order. The queue
// depth is capped by configuration, so a full scan stays small.
func (s *Store) PendingIntents(ctx context.Context) ([]*IntentRecord, error) {
	var recs []*IntentRecord

	err := s.view(ctx, func(txn *dgbadger.Txn) error {
		opts := dgbadger.DefaultIteratorOptions
		opts.PrefetchValues = true

		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte(keyPending)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			rec := &IntentRecord{}
			err := it.Item().Value(func(val []byte) error {
				return decodeRecord(val, rec, it.Item().Key())
			})
			if err != nil {
				return err
			}
			recs = append(recs, rec)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return recs, nil
}

// PendingCount returns the number of pending intents.
func (s *Store) PendingCount(ctx context.Context) (int, error) {
	count := 0
	err := s.view(ctx, func(txn *dgbadger.Txn) error {
		opts := dgbadger.DefaultIteratorOptions
		opts.PrefetchValues = false

		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte(keyPending)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			count++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return count, nil
}

// OldestLowestPriority returns the eviction victim under queue overflow:
// the oldest intent in the lowest-priority band. Returns nil when the
// queue is empty.
func (s *Store) OldestLowestPriority(ctx context.Context) (*IntentRecord, error) {
	var rec *IntentRecord

	err := s.view(ctx, func(txn *dgbadger.Txn) error {
		prefix := []byte(keyPending)

		// Reverse to the last pending key to learn the lowest band.
		ropts := dgbadger.DefaultIteratorOptions
		ropts.PrefetchValues = false
		ropts.Reverse = true

		rit := txn.NewIterator(ropts)
		rit.Seek(append(append([]byte{}, prefix...), 0xFF))
		if !rit.ValidForPrefix(prefix) {
			rit.Close()
			return nil
		}
		last := rit.Item().KeyCopy(nil)
		rit.Close()

		// Band prefix is everything up to and including the first ':'
		// after the priority digits: "intent:pending:{inv}:".
		band := last[:len(prefix)+4]

		opts := dgbadger.DefaultIteratorOptions
		opts.PrefetchValues = true

		it := txn.NewIterator(opts)
		defer it.Close()

		it.Seek(band)
		if !it.ValidForPrefix(band) {
			return nil
		}
		rec = &IntentRecord{}
		return it.Item().Value(func(val []byte) error {
			return decodeRecord(val, rec, it.Item().Key())
		})
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// RequeueIntent rewrites a deferred record in place with its deferral
// count bumped. The key is unchanged, so the intent keeps its position.
func (s *Store) RequeueIntent(ctx context.Context, rec *IntentRecord) error {
	rec.Deferrals++
	return s.update(ctx, func(txn *dgbadger.Txn) error {
		return putJSON(txn, pendingKey(rec.Intent.Priority, rec.Seq), rec)
	})
}

// MoveToArchive atomically removes a pending intent and writes its
// terminal archive entry. The fingerprint index entry is left to expire
// on its own so the dedup window keeps suppressing resubmissions.
func (s *Store) MoveToArchive(ctx context.Context, rec *IntentRecord, outcome datatypes.Outcome, reason string, at time.Time) error {
	archived := &ArchivedIntent{
		Intent:     rec.Intent,
		Outcome:    outcome,
		Reason:     reason,
		ArchivedAt: at,
	}

	err := s.update(ctx, func(txn *dgbadger.Txn) error {
		if err := txn.Delete(pendingKey(rec.Intent.Priority, rec.Seq)); err != nil {
			return err
		}
		return putJSON(txn, archiveKey(at, rec.Intent.ID), archived)
	})
	if err != nil {
		return err
	}

	s.logger.Debug("intent archived",
		slog.String("id", rec.Intent.ID),
		slog.String("outcome", string(outcome)),
		slog.String("reason", reason))
	return nil
}

// AppendArchive writes an archive entry for an intent that never entered
// the pending queue (duplicates, enqueue-time validation rejects).
func (s *Store) AppendArchive(ctx context.Context, intent datatypes.Intent, outcome datatypes.Outcome, reason string, at time.Time) error {
	archived := &ArchivedIntent{
		Intent:     intent,
		Outcome:    outcome,
		Reason:     reason,
		ArchivedAt: at,
	}
	return s.update(ctx, func(txn *dgbadger.Txn) error {
		return putJSON(txn, archiveKey(at, intent.ID), archived)
	})
}

// ListArchive returns up to limit archive entries, newest first. A limit
// of 0 means no cap.
func (s *Store) ListArchive(ctx context.Context, limit int) ([]*ArchivedIntent, error) {
	var entries []*ArchivedIntent

	err := s.view(ctx, func(txn *dgbadger.Txn) error {
		opts := dgbadger.DefaultIteratorOptions
		opts.PrefetchValues = true
		opts.Reverse = true

		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte(keyArchive)
		for it.Seek(append(append([]byte{}, prefix...), 0xFF)); it.ValidForPrefix(prefix); it.Next() {
			if limit > 0 && len(entries) >= limit {
				return nil
			}
			entry := &ArchivedIntent{}
			err := it.Item().Value(func(val []byte) error {
				return decodeRecord(val, entry, it.Item().Key())
			})
			if err != nil {
				return err
			}
			entries = append(entries, entry)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// decodeRecord unmarshals a stored record, wrapping failures with the
// offending key for diagnosis.
func decodeRecord(val []byte, v any, key []byte) error {
	if err := json.Unmarshal(val, v); err != nil {
		return fmt.Errorf("decode %s: %w", key, err)
	}
	return nil
}
