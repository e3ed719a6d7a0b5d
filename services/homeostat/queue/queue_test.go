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
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianHomeostat/services/homeostat/audit"
	"github.com/AleutianAI/AleutianHomeostat/services/homeostat/datatypes"
	"github.com/AleutianAI/AleutianHomeostat/services/homeostat/observability"
	"github.com/AleutianAI/AleutianHomeostat/services/homeostat/store"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestQueue(t *testing.T, cfg Config) (*Queue, *audit.Trail, *observability.HomeostatMetrics) {
	t.Helper()

	st, err := store.OpenInMemory(testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	trail, err := audit.New(audit.Config{Dir: t.TempDir(), Logger: testLogger()})
	require.NoError(t, err)
	t.Cleanup(func() { trail.Close() })

	metrics := observability.NewMetrics(prometheus.NewRegistry())

	q, err := New(st, trail, metrics, cfg, testLogger())
	require.NoError(t, err)
	return q, trail, metrics
}

func testIntent(id, subsystem string, priority int, util float64) datatypes.Intent {
	return datatypes.Intent{
		ID:        id,
		Type:      datatypes.IntentTuning,
		Subsystem: subsystem,
		Priority:  priority,
		CreatedAt: time.Now().UTC(),
		Payload: datatypes.IntentPayload{
			Observed: map[string]float64{"util": util},
		},
	}
}

func TestEnqueue(t *testing.T) {
	q, trail, _ := newTestQueue(t, Config{})
	ctx := context.Background()
	now := time.Now().UTC()

	t.Run("accepts and audits", func(t *testing.T) {
		rec, err := q.Enqueue(ctx, testIntent("a", "sampler", 50, 0.95), now)
		require.NoError(t, err)
		require.NotNil(t, rec)
		assert.Equal(t, "a", rec.Intent.ID)

		events, err := trail.Tail(1)
		require.NoError(t, err)
		require.Len(t, events, 1)
		assert.Equal(t, audit.EventIntentEnqueued, events[0].EventType)
		assert.Equal(t, "a", events[0].IntentID)

		depth, err := q.Depth(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, depth)
	})

	t.Run("mints missing id", func(t *testing.T) {
		in := testIntent("", "sampler", 50, 0.50)
		rec, err := q.Enqueue(ctx, in, now)
		require.NoError(t, err)
		assert.NotEmpty(t, rec.Intent.ID)
	})
}

func TestEnqueue_Duplicate(t *testing.T) {
	q, _, metrics := newTestQueue(t, Config{DedupWindow: time.Hour})
	ctx := context.Background()
	now := time.Now().UTC()

	_, err := q.Enqueue(ctx, testIntent("a", "sampler", 50, 0.95), now)
	require.NoError(t, err)

	// Same subsystem and payload, different id and priority: same
	// fingerprint, merged.
	_, err = q.Enqueue(ctx, testIntent("b", "sampler", 90, 0.95), now.Add(30*time.Minute))
	assert.ErrorIs(t, err, store.ErrDuplicateFingerprint)

	depth, err := q.Depth(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, depth)

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.DuplicatesTotal.WithLabelValues("sampler")))

	// The merge leaves a paper trail.
	archived, err := q.ListArchive(ctx, 1)
	require.NoError(t, err)
	require.Len(t, archived, 1)
	assert.Equal(t, "b", archived[0].Intent.ID)
	assert.Equal(t, datatypes.ReasonDuplicate, archived[0].Reason)
}

func TestEnqueue_DedupWindowExpiry(t *testing.T) {
	q, _, _ := newTestQueue(t, Config{DedupWindow: time.Hour})
	ctx := context.Background()
	now := time.Now().UTC()

	_, err := q.Enqueue(ctx, testIntent("a", "sampler", 50, 0.95), now)
	require.NoError(t, err)

	// Past the window the same payload is a fresh intent.
	rec, err := q.Enqueue(ctx, testIntent("b", "sampler", 50, 0.95), now.Add(61*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, "b", rec.Intent.ID)
}

func TestEnqueue_Invalid(t *testing.T) {
	q, _, _ := newTestQueue(t, Config{})
	ctx := context.Background()
	now := time.Now().UTC()

	in := testIntent("bad", "", 50, 0.5)
	_, err := q.Enqueue(ctx, in, now)
	assert.ErrorIs(t, err, ErrInvalidIntent)

	depth, err := q.Depth(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, depth)

	archived, err := q.ListArchive(ctx, 1)
	require.NoError(t, err)
	require.Len(t, archived, 1)
	assert.Equal(t, datatypes.OutcomeReject, archived[0].Outcome)
}

func TestEnqueue_OverflowEvictsOldestLowest(t *testing.T) {
	q, _, metrics := newTestQueue(t, Config{MaxDepth: 3})
	ctx := context.Background()
	now := time.Now().UTC()

	for i, id := range []string{"a", "b", "c"} {
		_, err := q.Enqueue(ctx, testIntent(id, "sampler", 50, float64(i)), now.Add(time.Duration(i)*time.Second))
		require.NoError(t, err)
	}

	_, err := q.Enqueue(ctx, testIntent("d", "sampler", 50, 99), now.Add(10*time.Second))
	require.NoError(t, err)

	depth, err := q.Depth(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, depth)

	// Victim is the oldest of the (single) priority band.
	archived, err := q.ListArchive(ctx, 1)
	require.NoError(t, err)
	require.Len(t, archived, 1)
	assert.Equal(t, "a", archived[0].Intent.ID)
	assert.Equal(t, datatypes.ReasonQueueOverflow, archived[0].Reason)

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.IntentOutcomesTotal.WithLabelValues("sampler", "evicted")))
}

func TestEnqueue_LowPriorityNewcomerBounces(t *testing.T) {
	q, _, _ := newTestQueue(t, Config{MaxDepth: 2})
	ctx := context.Background()
	now := time.Now().UTC()

	_, err := q.Enqueue(ctx, testIntent("a", "sampler", 80, 1), now)
	require.NoError(t, err)
	_, err = q.Enqueue(ctx, testIntent("b", "sampler", 80, 2), now)
	require.NoError(t, err)

	// Everything queued outranks the newcomer, so it is its own band's
	// oldest and bounces straight to the archive.
	_, err = q.Enqueue(ctx, testIntent("c", "sampler", 10, 3), now)
	require.NoError(t, err)

	depth, err := q.Depth(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, depth)

	archived, err := q.ListArchive(ctx, 1)
	require.NoError(t, err)
	require.Len(t, archived, 1)
	assert.Equal(t, "c", archived[0].Intent.ID)
}

func TestNext(t *testing.T) {
	q, _, _ := newTestQueue(t, Config{MaxAge: 24 * time.Hour})
	ctx := context.Background()
	now := time.Now().UTC()

	t.Run("empty queue", func(t *testing.T) {
		rec, err := q.Next(ctx, now)
		require.NoError(t, err)
		assert.Nil(t, rec)
	})

	t.Run("priority then fifo", func(t *testing.T) {
		_, err := q.Enqueue(ctx, testIntent("low", "sampler", 10, 1), now)
		require.NoError(t, err)
		_, err = q.Enqueue(ctx, testIntent("high", "sampler", 90, 2), now)
		require.NoError(t, err)

		rec, err := q.Next(ctx, now)
		require.NoError(t, err)
		require.NotNil(t, rec)
		assert.Equal(t, "high", rec.Intent.ID)
	})

	t.Run("does not remove the head", func(t *testing.T) {
		rec, err := q.Next(ctx, now)
		require.NoError(t, err)
		assert.Equal(t, "high", rec.Intent.ID)
	})
}

func TestNext_PrunesStaleHead(t *testing.T) {
	q, _, metrics := newTestQueue(t, Config{MaxAge: time.Hour})
	ctx := context.Background()
	enqueuedAt := time.Now().UTC()

	_, err := q.Enqueue(ctx, testIntent("old-high", "sampler", 90, 1), enqueuedAt)
	require.NoError(t, err)
	_, err = q.Enqueue(ctx, testIntent("fresh-low", "sampler", 10, 2), enqueuedAt.Add(90*time.Minute))
	require.NoError(t, err)

	// Two hours on, the high-priority head has gone stale; Next walks
	// past it to the fresh intent.
	rec, err := q.Next(ctx, enqueuedAt.Add(2*time.Hour))
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, "fresh-low", rec.Intent.ID)

	archived, err := q.ListArchive(ctx, 1)
	require.NoError(t, err)
	require.Len(t, archived, 1)
	assert.Equal(t, "old-high", archived[0].Intent.ID)
	assert.Equal(t, datatypes.ReasonStale, archived[0].Reason)

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.IntentOutcomesTotal.WithLabelValues("sampler", "pruned")))
}

func TestArchive(t *testing.T) {
	q, trail, metrics := newTestQueue(t, Config{})
	ctx := context.Background()
	now := time.Now().UTC()

	rec, err := q.Enqueue(ctx, testIntent("a", "sampler", 50, 1), now)
	require.NoError(t, err)

	err = q.Archive(ctx, rec, datatypes.OutcomePromote, "canary passed", now.Add(time.Minute))
	require.NoError(t, err)

	depth, err := q.Depth(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, depth)

	events, err := trail.Tail(1)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, audit.EventIntentArchived, events[0].EventType)
	assert.Equal(t, string(datatypes.OutcomePromote), events[0].Outcome)

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.IntentOutcomesTotal.WithLabelValues("sampler", "promote")))
}

func TestDefer_KeepsPosition(t *testing.T) {
	q, _, _ := newTestQueue(t, Config{})
	ctx := context.Background()
	now := time.Now().UTC()

	rec, err := q.Enqueue(ctx, testIntent("a", "sampler", 50, 1), now)
	require.NoError(t, err)
	_, err = q.Enqueue(ctx, testIntent("b", "sampler", 50, 2), now)
	require.NoError(t, err)

	require.NoError(t, q.Defer(ctx, rec))

	head, err := q.Next(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, "a", head.Intent.ID)
	assert.Equal(t, 1, head.Deferrals)
}

func TestPruneStale(t *testing.T) {
	q, _, _ := newTestQueue(t, Config{MaxAge: time.Hour})
	ctx := context.Background()
	base := time.Now().UTC()

	_, err := q.Enqueue(ctx, testIntent("old1", "sampler", 50, 1), base)
	require.NoError(t, err)
	_, err = q.Enqueue(ctx, testIntent("old2", "sampler", 60, 2), base.Add(time.Minute))
	require.NoError(t, err)
	_, err = q.Enqueue(ctx, testIntent("fresh", "sampler", 40, 3), base.Add(100*time.Minute))
	require.NoError(t, err)

	pruned, err := q.PruneStale(ctx, base.Add(2*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 2, pruned)

	depth, err := q.Depth(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, depth)
}

func TestPendingBySubsystem(t *testing.T) {
	q, _, _ := newTestQueue(t, Config{})
	ctx := context.Background()
	now := time.Now().UTC()

	counts, err := q.PendingBySubsystem(ctx)
	require.NoError(t, err)
	assert.Empty(t, counts)

	_, err = q.Enqueue(ctx, testIntent("a", "sampler", 50, 1), now)
	require.NoError(t, err)
	_, err = q.Enqueue(ctx, testIntent("b", "sampler", 60, 2), now)
	require.NoError(t, err)
	_, err = q.Enqueue(ctx, testIntent("c", "scheduler", 50, 3), now)
	require.NoError(t, err)

	counts, err = q.PendingBySubsystem(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"sampler": 2, "scheduler": 1}, counts)
}

func TestMetricOutcome(t *testing.T) {
	tests := []struct {
		outcome datatypes.Outcome
		reason  string
		want    string
	}{
		{datatypes.OutcomeReject, datatypes.ReasonQueueOverflow, "evicted"},
		{datatypes.OutcomeReject, datatypes.ReasonStale, "pruned"},
		{datatypes.OutcomeReject, datatypes.ReasonRateLimited, "rate_limited"},
		{datatypes.OutcomeReject, "canary regressed", "reject"},
		{datatypes.OutcomePromote, "canary passed", "promote"},
		{datatypes.OutcomeEscalate, "needs human", "escalate"},
	}
	for _, tt := range tests {
		if got := metricOutcome(tt.outcome, tt.reason); got != tt.want {
			t.Errorf("metricOutcome(%s, %s) = %s, want %s", tt.outcome, tt.reason, got, tt.want)
		}
	}
}
