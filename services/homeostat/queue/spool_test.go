// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package queue

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeSpoolFile drops a JSON intent into dir the way a detector would:
// write to a temp name, then rename.
func writeSpoolFile(t *testing.T, dir, name string, v any) string {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)

	tmp := filepath.Join(dir, name+".tmp")
	require.NoError(t, os.WriteFile(tmp, data, 0644))
	dst := filepath.Join(dir, name)
	require.NoError(t, os.Rename(tmp, dst))
	return dst
}

// waitFor polls cond until it returns true or the deadline passes.
func waitFor(t *testing.T, timeout time.Duration, cond func() bool) bool {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(10 * time.Millisecond)
	}
	return cond()
}

func TestNewSpoolWatcher(t *testing.T) {
	q, _, _ := newTestQueue(t, Config{})

	t.Run("requires dir and queue", func(t *testing.T) {
		_, err := NewSpoolWatcher("", q, testLogger())
		assert.Error(t, err)
		_, err = NewSpoolWatcher(t.TempDir(), nil, testLogger())
		assert.Error(t, err)
	})

	t.Run("creates subdirectories", func(t *testing.T) {
		dir := filepath.Join(t.TempDir(), "spool")
		w, err := NewSpoolWatcher(dir, q, testLogger())
		require.NoError(t, err)
		t.Cleanup(func() { w.Close() })

		for _, sub := range []string{spoolProcessedDir, spoolRejectedDir} {
			fi, err := os.Stat(filepath.Join(dir, sub))
			require.NoError(t, err)
			assert.True(t, fi.IsDir())
		}
	})
}

func TestSpoolWatcher_SweepsExistingFiles(t *testing.T) {
	q, _, _ := newTestQueue(t, Config{})
	dir := t.TempDir()

	writeSpoolFile(t, dir, "restart-leftover.json", testIntent("a", "sampler", 50, 0.9))

	w, err := NewSpoolWatcher(dir, q, testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { w.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	ok := waitFor(t, 2*time.Second, func() bool {
		n, err := q.Depth(ctx)
		return err == nil && n == 1
	})
	require.True(t, ok, "intent was not ingested from the spool")

	// The spool file moved to processed/.
	entries, err := os.ReadDir(filepath.Join(dir, spoolProcessedDir))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestSpoolWatcher_IngestsNewFiles(t *testing.T) {
	q, _, _ := newTestQueue(t, Config{})
	dir := t.TempDir()

	w, err := NewSpoolWatcher(dir, q, testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { w.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	writeSpoolFile(t, dir, "live.json", testIntent("b", "kv_cache", 70, 0.8))

	ok := waitFor(t, 2*time.Second, func() bool {
		n, err := q.Depth(ctx)
		return err == nil && n == 1
	})
	require.True(t, ok, "intent was not ingested after the rename event")

	rec, err := q.Next(ctx, time.Now().UTC())
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, "b", rec.Intent.ID)
}

func TestSpoolWatcher_RejectsGarbage(t *testing.T) {
	q, _, _ := newTestQueue(t, Config{})
	dir := t.TempDir()

	// An old garbage file is past the settle grace and goes straight
	// to rejected/ on sweep.
	garbage := filepath.Join(dir, "garbage.json")
	require.NoError(t, os.WriteFile(garbage, []byte("{not json"), 0644))
	old := time.Now().Add(-time.Minute)
	require.NoError(t, os.Chtimes(garbage, old, old))

	w, err := NewSpoolWatcher(dir, q, testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { w.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	ok := waitFor(t, 2*time.Second, func() bool {
		entries, err := os.ReadDir(filepath.Join(dir, spoolRejectedDir))
		return err == nil && len(entries) == 1
	})
	assert.True(t, ok, "garbage file was not rejected")

	depth, err := q.Depth(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, depth)
}

func TestSpoolWatcher_FreshGarbageLeftToSettle(t *testing.T) {
	q, _, _ := newTestQueue(t, Config{})
	dir := t.TempDir()

	// A just-written unparseable file may still be mid-write; the
	// watcher leaves it in place inside the settle grace.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "partial.json"), []byte(`{"id":"tru`), 0644))

	w, err := NewSpoolWatcher(dir, q, testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { w.Close() })

	ctx := context.Background()
	w.sweep(ctx)

	_, err = os.Stat(filepath.Join(dir, "partial.json"))
	assert.NoError(t, err, "fresh partial file should remain in the spool")

	entries, err := os.ReadDir(filepath.Join(dir, spoolRejectedDir))
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestSpoolWatcher_DuplicatesGoToProcessed(t *testing.T) {
	q, _, _ := newTestQueue(t, Config{DedupWindow: time.Hour})
	dir := t.TempDir()

	in := testIntent("a", "sampler", 50, 0.9)
	_, err := q.Enqueue(context.Background(), in, time.Now().UTC())
	require.NoError(t, err)

	in.ID = "resubmitted"
	writeSpoolFile(t, dir, "dup.json", in)

	w, err := NewSpoolWatcher(dir, q, testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { w.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	ok := waitFor(t, 2*time.Second, func() bool {
		entries, err := os.ReadDir(filepath.Join(dir, spoolProcessedDir))
		return err == nil && len(entries) == 1
	})
	require.True(t, ok, "duplicate spool file was not filed as processed")

	depth, err := q.Depth(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, depth)
}
