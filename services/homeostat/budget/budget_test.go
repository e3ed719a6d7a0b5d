// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package budget

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianHomeostat/services/homeostat/audit"
	"github.com/AleutianAI/AleutianHomeostat/services/homeostat/store"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestLedger(t *testing.T, capSeconds float64) (*Ledger, *audit.Trail) {
	t.Helper()

	st, err := store.OpenInMemory(testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	trail, err := audit.New(audit.Config{
		Dir:    t.TempDir(),
		Logger: testLogger(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { trail.Close() })

	ledger, err := New(st, trail, capSeconds, time.UTC, testLogger())
	require.NoError(t, err)
	return ledger, trail
}

func TestNew(t *testing.T) {
	st, err := store.OpenInMemory(testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	trail, err := audit.New(audit.Config{Dir: t.TempDir(), Logger: testLogger()})
	require.NoError(t, err)
	t.Cleanup(func() { trail.Close() })

	t.Run("requires store", func(t *testing.T) {
		_, err := New(nil, trail, 60, time.UTC, testLogger())
		assert.Error(t, err)
	})

	t.Run("requires trail", func(t *testing.T) {
		_, err := New(st, nil, 60, time.UTC, testLogger())
		assert.Error(t, err)
	})

	t.Run("rejects negative cap", func(t *testing.T) {
		_, err := New(st, trail, -1, time.UTC, testLogger())
		assert.Error(t, err)
	})

	t.Run("valid", func(t *testing.T) {
		l, err := New(st, trail, 60, time.UTC, testLogger())
		require.NoError(t, err)
		assert.Equal(t, 60.0, l.Cap())
	})
}

func TestDate_UsesLedgerTimezone(t *testing.T) {
	ny, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)

	st, sErr := store.OpenInMemory(testLogger())
	require.NoError(t, sErr)
	t.Cleanup(func() { st.Close() })
	trail, tErr := audit.New(audit.Config{Dir: t.TempDir(), Logger: testLogger()})
	require.NoError(t, tErr)
	t.Cleanup(func() { trail.Close() })

	ledger, lErr := New(st, trail, 60, ny, testLogger())
	require.NoError(t, lErr)

	// 03:00 UTC on June 2 is still June 1 in New York.
	now := time.Date(2026, 6, 2, 3, 0, 0, 0, time.UTC)
	assert.Equal(t, "20260601", ledger.Date(now))
}

func TestConsumeAndRemaining(t *testing.T) {
	ledger, _ := newTestLedger(t, 60)
	ctx := context.Background()
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	t.Run("fresh day has full budget", func(t *testing.T) {
		remaining, err := ledger.Remaining(ctx, now)
		require.NoError(t, err)
		assert.Equal(t, 60.0, remaining)
	})

	t.Run("consume deducts", func(t *testing.T) {
		remaining, err := ledger.Consume(ctx, now, 55)
		require.NoError(t, err)
		assert.Equal(t, 5.0, remaining)

		used, err := ledger.Used(ctx, now)
		require.NoError(t, err)
		assert.Equal(t, 55.0, used)
	})

	t.Run("overrun fails without partial deduction", func(t *testing.T) {
		_, err := ledger.Consume(ctx, now, 10)
		assert.ErrorIs(t, err, store.ErrBudgetExceeded)

		remaining, err := ledger.Remaining(ctx, now)
		require.NoError(t, err)
		assert.Equal(t, 5.0, remaining)
	})

	t.Run("next day resets implicitly", func(t *testing.T) {
		tomorrow := now.AddDate(0, 0, 1)
		remaining, err := ledger.Remaining(ctx, tomorrow)
		require.NoError(t, err)
		assert.Equal(t, 60.0, remaining)
	})
}

func TestCanAfford(t *testing.T) {
	ledger, _ := newTestLedger(t, 60)
	ctx := context.Background()
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	ok, err := ledger.CanAfford(ctx, now, 45)
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = ledger.Consume(ctx, now, 45)
	require.NoError(t, err)

	ok, err = ledger.CanAfford(ctx, now, 45)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = ledger.CanAfford(ctx, now, 15)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestOverride(t *testing.T) {
	ledger, trail := newTestLedger(t, 60)
	ctx := context.Background()
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	_, err := ledger.Consume(ctx, now, 50)
	require.NoError(t, err)

	t.Run("requires actor and reason", func(t *testing.T) {
		_, err := ledger.Override(ctx, now, 30, "", "urgent retune")
		assert.Error(t, err)
		_, err = ledger.Override(ctx, now, 30, "oncall-jd", "")
		assert.Error(t, err)
		_, err = ledger.Override(ctx, now, 0, "oncall-jd", "urgent retune")
		assert.Error(t, err)
	})

	t.Run("credits and audits", func(t *testing.T) {
		remaining, err := ledger.Override(ctx, now, 30, "oncall-jd", "latency regression needs a second canary today")
		require.NoError(t, err)
		assert.Equal(t, 40.0, remaining)

		events, err := trail.Tail(1)
		require.NoError(t, err)
		require.Len(t, events, 1)
		assert.Equal(t, audit.EventBudgetOverride, events[0].EventType)
		assert.Equal(t, "oncall-jd", events[0].Actor)
		assert.Equal(t, 20.0, events[0].BudgetUsed)
		assert.NotEmpty(t, events[0].Reason)
	})

	t.Run("credit clamps at zero usage", func(t *testing.T) {
		remaining, err := ledger.Override(ctx, now, 500, "oncall-jd", "clear the ledger")
		require.NoError(t, err)
		assert.Equal(t, 60.0, remaining)
	})
}

func TestConsume_ChargesStartDay(t *testing.T) {
	ledger, _ := newTestLedger(t, 60)
	ctx := context.Background()

	// A canary starting 23:59:50 is charged to that day even though it
	// runs past midnight.
	start := time.Date(2026, 3, 10, 23, 59, 50, 0, time.UTC)
	_, err := ledger.Consume(ctx, start, 30)
	require.NoError(t, err)

	used, err := ledger.Used(ctx, start)
	require.NoError(t, err)
	assert.Equal(t, 30.0, used)

	nextDay, err := ledger.Used(ctx, start.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 0.0, nextDay)
}
