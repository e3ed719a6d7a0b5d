// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package registry

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
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

func newTestZooids(t *testing.T) (*Zooids, *audit.Trail) {
	t.Helper()

	st, err := store.OpenInMemory(testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	trail, err := audit.New(audit.Config{Dir: t.TempDir(), Logger: testLogger()})
	require.NoError(t, err)
	t.Cleanup(func() { trail.Close() })

	r, err := NewZooids(st, trail, observability.NewMetrics(prometheus.NewRegistry()), testLogger())
	require.NoError(t, err)
	return r, trail
}

func TestSpawn(t *testing.T) {
	r, trail := newTestZooids(t)
	ctx := context.Background()
	now := time.Now().UTC()

	z, err := r.Spawn(ctx, "latency", map[string]float64{"temperature": 0.7}, now)
	require.NoError(t, err)
	assert.NotEmpty(t, z.ID)
	assert.Equal(t, datatypes.StateDormant, z.State)

	got, err := r.Get(ctx, z.ID)
	require.NoError(t, err)
	assert.Equal(t, "latency", got.Niche)

	events, err := trail.Tail(1)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, audit.EventZooidSpawned, events[0].EventType)
	assert.Equal(t, z.ID, events[0].ZooidID)
}

func TestTransition(t *testing.T) {
	r, trail := newTestZooids(t)
	ctx := context.Background()
	now := time.Now().UTC()

	z, err := r.Spawn(ctx, "latency", nil, now)
	require.NoError(t, err)

	t.Run("legal path to active", func(t *testing.T) {
		got, err := r.Transition(ctx, z.ID, datatypes.StateProbation, "batch selected", now)
		require.NoError(t, err)
		assert.Equal(t, datatypes.StateProbation, got.State)

		got, err = r.Transition(ctx, z.ID, datatypes.StateActive, "dual gate passed", now)
		require.NoError(t, err)
		assert.Equal(t, datatypes.StateActive, got.State)
		assert.Equal(t, 0, got.FailedCycles)

		events, err := trail.Tail(1)
		require.NoError(t, err)
		assert.Equal(t, audit.EventZooidMoved, events[0].EventType)
		assert.Equal(t, string(datatypes.StateProbation), events[0].FromState)
		assert.Equal(t, string(datatypes.StateActive), events[0].ToState)
	})

	t.Run("illegal move rejected", func(t *testing.T) {
		_, err := r.Transition(ctx, z.ID, datatypes.StateProbation, "no", now)
		var ierr *IllegalTransitionError
		require.ErrorAs(t, err, &ierr)
		assert.Equal(t, datatypes.StateActive, ierr.From)
	})

	t.Run("retired is terminal", func(t *testing.T) {
		_, err := r.Transition(ctx, z.ID, datatypes.StateRetired, "tournament loss", now)
		require.NoError(t, err)

		_, err = r.Transition(ctx, z.ID, datatypes.StateDormant, "no", now)
		var ierr *IllegalTransitionError
		require.ErrorAs(t, err, &ierr)
	})

	t.Run("unknown id", func(t *testing.T) {
		_, err := r.Transition(ctx, "nope", datatypes.StateProbation, "no", now)
		assert.ErrorIs(t, err, store.ErrNotFound)
	})
}

func TestTransition_PromotionResetsFailedCycles(t *testing.T) {
	r, _ := newTestZooids(t)
	ctx := context.Background()
	now := time.Now().UTC()

	z, err := r.Spawn(ctx, "latency", nil, now)
	require.NoError(t, err)
	_, err = r.Transition(ctx, z.ID, datatypes.StateProbation, "batch selected", now)
	require.NoError(t, err)

	_, err = r.Update(ctx, z.ID, func(z *datatypes.Zooid) error {
		z.FailedCycles = 2
		return nil
	})
	require.NoError(t, err)

	got, err := r.Transition(ctx, z.ID, datatypes.StateActive, "dual gate passed", now)
	require.NoError(t, err)
	assert.Equal(t, 0, got.FailedCycles)
}

func TestUpdate_GuardsState(t *testing.T) {
	r, _ := newTestZooids(t)
	ctx := context.Background()
	now := time.Now().UTC()

	z, err := r.Spawn(ctx, "latency", nil, now)
	require.NoError(t, err)

	t.Run("bookkeeping allowed", func(t *testing.T) {
		got, err := r.Update(ctx, z.ID, func(z *datatypes.Zooid) error {
			z.Fitness = 0.42
			z.Evidence++
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, 0.42, got.Fitness)
		assert.Equal(t, 1, got.Evidence)
	})

	t.Run("state change refused", func(t *testing.T) {
		_, err := r.Update(ctx, z.ID, func(z *datatypes.Zooid) error {
			z.State = datatypes.StateActive
			return nil
		})
		assert.ErrorIs(t, err, ErrStateMutated)

		got, err := r.Get(ctx, z.ID)
		require.NoError(t, err)
		assert.Equal(t, datatypes.StateDormant, got.State)
	})
}

func TestListsAndCensus(t *testing.T) {
	r, _ := newTestZooids(t)
	ctx := context.Background()
	now := time.Now().UTC()

	a, err := r.Spawn(ctx, "latency", nil, now)
	require.NoError(t, err)
	_, err = r.Spawn(ctx, "latency", nil, now)
	require.NoError(t, err)
	_, err = r.Spawn(ctx, "throughput", nil, now)
	require.NoError(t, err)

	_, err = r.Transition(ctx, a.ID, datatypes.StateProbation, "batch selected", now)
	require.NoError(t, err)

	dormant, err := r.ListByState(ctx, datatypes.StateDormant)
	require.NoError(t, err)
	assert.Len(t, dormant, 2)

	latency, err := r.ListByNiche(ctx, "latency", "")
	require.NoError(t, err)
	assert.Len(t, latency, 2)

	latencyProbation, err := r.ListByNiche(ctx, "latency", datatypes.StateProbation)
	require.NoError(t, err)
	assert.Len(t, latencyProbation, 1)
	assert.Equal(t, a.ID, latencyProbation[0].ID)

	counts, err := r.CountByState(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, counts[datatypes.StateDormant])
	assert.Equal(t, 1, counts[datatypes.StateProbation])
	assert.Equal(t, 0, counts[datatypes.StateActive])
	assert.Equal(t, 0, counts[datatypes.StateRetired])
}
