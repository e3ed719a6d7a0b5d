// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package badger

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestOpenInMemory verifies in-memory database creation works.
func TestOpenInMemory(t *testing.T) {
	db, err := OpenInMemory()
	require.NoError(t, err)
	defer db.Close()

	err = db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte("intent:pending:001"), []byte("payload"))
	})
	require.NoError(t, err)

	err = db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte("intent:pending:001"))
		require.NoError(t, err)

		return item.Value(func(val []byte) error {
			assert.Equal(t, []byte("payload"), val)
			return nil
		})
	})
	require.NoError(t, err)
}

// TestOpenPersistent verifies data survives a close and reopen.
func TestOpenPersistent(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "state")

	cfg := DefaultConfig()
	cfg.Path = dir
	cfg.SyncWrites = false // speed up the test

	db, err := Open(cfg)
	require.NoError(t, err)

	err = db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte("budget:20260115"), []byte("42"))
	})
	require.NoError(t, err)
	require.NoError(t, db.Close())

	db2, err := Open(cfg)
	require.NoError(t, err)
	defer db2.Close()

	err = db2.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte("budget:20260115"))
		require.NoError(t, err)

		return item.Value(func(val []byte) error {
			assert.Equal(t, []byte("42"), val)
			return nil
		})
	})
	require.NoError(t, err)
}

// TestOpenRequiresPath verifies that persistent mode requires a path.
func TestOpenRequiresPath(t *testing.T) {
	cfg := Config{
		InMemory: false,
		Path:     "",
	}
	_, err := Open(cfg)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "path is required")
}

// TestConfigFunctions verifies default configurations.
func TestConfigFunctions(t *testing.T) {
	t.Run("DefaultConfig has SyncWrites", func(t *testing.T) {
		cfg := DefaultConfig()
		assert.True(t, cfg.SyncWrites)
		assert.False(t, cfg.InMemory)
		assert.Equal(t, 1, cfg.NumVersionsToKeep)
		assert.Equal(t, 10*time.Minute, cfg.GCInterval)
	})

	t.Run("InMemoryConfig has InMemory", func(t *testing.T) {
		cfg := InMemoryConfig()
		assert.True(t, cfg.InMemory)
		assert.False(t, cfg.SyncWrites)
		assert.Equal(t, time.Duration(0), cfg.GCInterval) // GC disabled
	})
}

// TestDB_WithTxn verifies transaction helper functions.
func TestDB_WithTxn(t *testing.T) {
	db, err := OpenDB(InMemoryConfig())
	require.NoError(t, err)
	defer db.Close()

	ctx := context.Background()

	err = db.WithTxn(ctx, func(txn *badger.Txn) error {
		return txn.Set([]byte("zooid:gpu0"), []byte("ACTIVE"))
	})
	require.NoError(t, err)

	err = db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		item, err := txn.Get([]byte("zooid:gpu0"))
		require.NoError(t, err)

		return item.Value(func(val []byte) error {
			assert.Equal(t, []byte("ACTIVE"), val)
			return nil
		})
	})
	require.NoError(t, err)
}

// TestDB_WithTxn_ContextCancelled verifies context cancellation.
func TestDB_WithTxn_ContextCancelled(t *testing.T) {
	db, err := OpenDB(InMemoryConfig())
	require.NoError(t, err)
	defer db.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err = db.WithTxn(ctx, func(txn *badger.Txn) error {
		return txn.Set([]byte("key"), []byte("value"))
	})
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "context cancelled")
}

// TestDB_WithTxn_RollbackOnError verifies rollback on error.
func TestDB_WithTxn_RollbackOnError(t *testing.T) {
	db, err := OpenDB(InMemoryConfig())
	require.NoError(t, err)
	defer db.Close()

	ctx := context.Background()

	err = db.WithTxn(ctx, func(txn *badger.Txn) error {
		if err := txn.Set([]byte("rollback-key"), []byte("should-not-persist")); err != nil {
			return err
		}
		return assert.AnError // Force rollback
	})
	assert.Error(t, err)

	err = db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		_, err := txn.Get([]byte("rollback-key"))
		assert.Equal(t, badger.ErrKeyNotFound, err)
		return nil
	})
	require.NoError(t, err)
}

// TestDB_Sync verifies Sync is a no-op for in-memory databases.
func TestDB_Sync(t *testing.T) {
	db, err := OpenDB(InMemoryConfig())
	require.NoError(t, err)
	defer db.Close()

	assert.NoError(t, db.Sync())
	assert.True(t, db.InMemory())
	assert.Equal(t, "", db.Path())
}

// TestGCRunner verifies garbage collection runner.
func TestGCRunner(t *testing.T) {
	t.Run("rejects nil db", func(t *testing.T) {
		_, err := NewGCRunner(nil, time.Second, 0.5, nil)
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "db must not be nil")
	})

	t.Run("rejects invalid interval", func(t *testing.T) {
		db, err := OpenInMemory()
		require.NoError(t, err)
		defer db.Close()

		_, err = NewGCRunner(db, 0, 0.5, nil)
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "interval must be positive")
	})

	t.Run("rejects invalid ratio", func(t *testing.T) {
		db, err := OpenInMemory()
		require.NoError(t, err)
		defer db.Close()

		_, err = NewGCRunner(db, time.Second, 1.5, nil)
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "ratio must be between 0 and 1")
	})

	t.Run("starts and stops", func(t *testing.T) {
		db, err := OpenInMemory()
		require.NoError(t, err)
		defer db.Close()

		runner, err := NewGCRunner(db, 10*time.Millisecond, 0.5, nil)
		require.NoError(t, err)

		runner.Start()
		time.Sleep(25 * time.Millisecond) // Let it run a couple cycles
		runner.Stop()                     // Should not deadlock
	})
}

// TestExpandPath verifies tilde expansion.
func TestExpandPath(t *testing.T) {
	home, err := filepath.Abs(expandPath("~"))
	require.NoError(t, err)
	assert.NotContains(t, home, "~")

	plain := expandPath("/var/lib/homeostat")
	assert.Equal(t, "/var/lib/homeostat", plain)
}
