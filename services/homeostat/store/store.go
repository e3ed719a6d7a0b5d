// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package store persists the homeostat's control-loop state in BadgerDB.
//
// Description:
//
//	One Store instance owns the process's BadgerDB handle and exposes
//	typed operations for each piece of durable state: the pending intent
//	queue and its archive, the dedup fingerprint index, the daily
//	downtime ledger, the zooid registry, rolling rate-limit stamps,
//	rejection streaks, restore breaker latches, and promoted baselines.
//
//	Key layout:
//
//	  intent:pending:{inv_priority:03d}:{seq:016d} -> IntentRecord JSON
//	  intent:fp:{fingerprint}                      -> dedup expiry (8-byte big endian unix nanos)
//	  intent:archive:{unix_nanos:020d}:{id}        -> ArchivedIntent JSON
//	  budget:{YYYYMMDD}                            -> consumed seconds (8-byte big endian)
//	  zooid:{id}                                   -> Zooid JSON
//	  rate:{subsystem}:{unix_nanos:020d}           -> empty
//	  streak:{subsystem}                           -> count (8-byte big endian)
//	  breaker:{subsystem}                          -> BreakerState JSON
//	  baseline:{subsystem}                         -> Baseline JSON
//
//	Pending keys embed the inverted priority so a plain forward
//	iteration yields highest priority first, FIFO within a priority.
//
// Thread Safety: Safe for concurrent use from multiple goroutines.
package store

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/AleutianAI/AleutianHomeostat/services/homeostat/storage/badger"
	dgbadger "github.com/dgraph-io/badger/v4"
)

// -----------------------------------------------------------------------------
// Errors
// -----------------------------------------------------------------------------

var (
	// ErrStoreClosed is returned when operations are called on a closed store.
	ErrStoreClosed = errors.New("store is closed")

	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("record not found")

	// ErrDuplicateFingerprint is returned when an intent's fingerprint is
	// already indexed and its dedup window has not elapsed.
	ErrDuplicateFingerprint = errors.New("intent fingerprint already queued")

	// ErrBudgetExceeded is returned when a budget consume would cross the
	// daily cap. The ledger is left unchanged.
	ErrBudgetExceeded = errors.New("daily budget exceeded")
)

// Key prefixes. Everything after a prefix is documented in the package
// comment; ordering-sensitive segments are zero padded.
const (
	keyPending  = "intent:pending:"
	keyFP       = "intent:fp:"
	keyArchive  = "intent:archive:"
	keyBudget   = "budget:"
	keyZooid    = "zooid:"
	keyRate     = "rate:"
	keyStreak   = "streak:"
	keyBreaker  = "breaker:"
	keyBaseline = "baseline:"
)

// maxTxnRetries bounds optimistic-conflict retries on read-modify-write
// transactions. Conflicts are rare: the control loop is single threaded
// and only the ingest handlers write concurrently.
const maxTxnRetries = 3

// -----------------------------------------------------------------------------
// Store
// -----------------------------------------------------------------------------

// Config configures the store's underlying BadgerDB instance.
type Config struct {
	// Path is the state directory. Required unless InMemory is true.
	Path string

	// InMemory uses an in-memory BadgerDB (for testing).
	InMemory bool

	// SyncWrites enables synchronous writes. Production keeps this on;
	// the queue and ledger must survive power loss.
	SyncWrites bool

	// GCInterval is how often to run value log GC. 0 disables.
	GCInterval time.Duration

	// Logger for store operations. Default: slog.Default().
	Logger *slog.Logger
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		SyncWrites: true,
		GCInterval: 10 * time.Minute,
	}
}

// Store provides typed access to all durable homeostat state.
//
// Thread Safety: Safe for concurrent use.
type Store struct {
	db     *badger.DB
	logger *slog.Logger

	seq    atomic.Uint64
	closed atomic.Bool
}

// Open opens the store, creating the state directory if needed.
//
// Description:
//
//	Opens BadgerDB at cfg.Path and recovers the enqueue sequence counter
//	from any pending intents left by a previous process.
//
// Inputs:
//
//	cfg - Store configuration. Path is required unless InMemory is true.
//
// Outputs:
//
//	*Store - Ready-to-use store. Caller must Close() when done.
//	error - Non-nil if the database cannot be opened.
func Open(cfg Config) (*Store, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	db, err := badger.OpenDB(badger.Config{
		Path:              cfg.Path,
		InMemory:          cfg.InMemory,
		SyncWrites:        cfg.SyncWrites,
		NumVersionsToKeep: 1,
		GCInterval:        cfg.GCInterval,
		GCDiscardRatio:    0.5,
		Logger:            cfg.Logger,
	})
	if err != nil {
		return nil, fmt.Errorf("open state database: %w", err)
	}

	s := &Store{
		db:     db,
		logger: cfg.Logger.With(slog.String("component", "store")),
	}

	if err := s.initSeq(); err != nil {
		db.Close()
		return nil, fmt.Errorf("recover enqueue sequence: %w", err)
	}

	s.logger.Info("store opened",
		slog.String("path", cfg.Path),
		slog.Bool("in_memory", cfg.InMemory),
		slog.Uint64("last_seq", s.seq.Load()))

	return s, nil
}

// OpenInMemory opens an in-memory store for testing.
func OpenInMemory(logger *slog.Logger) (*Store, error) {
	cfg := Config{InMemory: true, Logger: logger}
	return Open(cfg)
}

// Close releases the underlying database. Idempotent.
func (s *Store) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	return s.db.Close()
}

// Sync flushes pending writes to disk.
func (s *Store) Sync() error {
	if s.closed.Load() {
		return ErrStoreClosed
	}
	return s.db.Sync()
}

// initSeq scans pending intents for the highest sequence number so new
// enqueues continue after a restart instead of colliding.
func (s *Store) initSeq() error {
	var maxSeq uint64

	err := s.db.WithReadTxn(context.Background(), func(txn *dgbadger.Txn) error {
		opts := dgbadger.DefaultIteratorOptions
		opts.PrefetchValues = false

		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte(keyPending)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			key := it.Item().Key()
			// Trailing 16 digits are the sequence number.
			if len(key) < 16 {
				continue
			}
			var seq uint64
			if _, err := fmt.Sscanf(string(key[len(key)-16:]), "%016d", &seq); err != nil {
				continue
			}
			if seq > maxSeq {
				maxSeq = seq
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.seq.Store(maxSeq)
	return nil
}

// -----------------------------------------------------------------------------
// Transaction helpers
// -----------------------------------------------------------------------------

// update runs fn in a read-write transaction, retrying on optimistic
// conflicts up to maxTxnRetries times.
func (s *Store) update(ctx context.Context, fn func(txn *dgbadger.Txn) error) error {
	if s.closed.Load() {
		return ErrStoreClosed
	}

	var err error
	for attempt := 0; attempt < maxTxnRetries; attempt++ {
		err = s.db.WithTxn(ctx, fn)
		if !errors.Is(err, dgbadger.ErrConflict) {
			return err
		}
	}
	return err
}

// view runs fn in a read-only transaction.
func (s *Store) view(ctx context.Context, fn func(txn *dgbadger.Txn) error) error {
	if s.closed.Load() {
		return ErrStoreClosed
	}
	return s.db.WithReadTxn(ctx, fn)
}

// putJSON marshals v and writes it under key.
func putJSON(txn *dgbadger.Txn, key []byte, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}
	return txn.Set(key, data)
}

// getJSON reads key and unmarshals into v. Maps badger's key-not-found
// to ErrNotFound.
func getJSON(txn *dgbadger.Txn, key []byte, v any) error {
	item, err := txn.Get(key)
	if errors.Is(err, dgbadger.ErrKeyNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	return item.Value(func(val []byte) error {
		if err := json.Unmarshal(val, v); err != nil {
			return fmt.Errorf("unmarshal %s: %w", key, err)
		}
		return nil
	})
}

// encodeUint64 encodes v as 8 big-endian bytes.
func encodeUint64(v uint64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, v)
	return buf
}

// decodeUint64 decodes an 8-byte big-endian value. Short values read as 0.
func decodeUint64(data []byte) uint64 {
	if len(data) < 8 {
		return 0
	}
	return binary.BigEndian.Uint64(data)
}

// getUint64 reads an 8-byte counter under key, 0 when absent.
func getUint64(txn *dgbadger.Txn, key []byte) (uint64, error) {
	item, err := txn.Get(key)
	if errors.Is(err, dgbadger.ErrKeyNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	var v uint64
	err = item.Value(func(val []byte) error {
		v = decodeUint64(val)
		return nil
	})
	return v, err
}
