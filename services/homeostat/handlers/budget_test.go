// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianHomeostat/services/homeostat/audit"
	"github.com/AleutianAI/AleutianHomeostat/services/homeostat/budget"
	"github.com/AleutianAI/AleutianHomeostat/services/homeostat/store"
)

func newBudgetRouter(t *testing.T) (*gin.Engine, *store.Store, *budget.Ledger, *audit.Trail) {
	t.Helper()
	st, err := store.OpenInMemory(testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	trail, err := audit.New(audit.Config{Dir: t.TempDir(), Logger: testLogger()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = trail.Close() })

	ledger, err := budget.New(st, trail, 60, time.UTC, testLogger())
	require.NoError(t, err)

	router := gin.New()
	router.GET("/v1/budget/:date", GetBudget(st, ledger))
	router.POST("/v1/budget/override", OverrideBudget(ledger))
	return router, st, ledger, trail
}

func TestGetBudget_UntouchedDate(t *testing.T) {
	router, _, _, _ := newBudgetRouter(t)

	w := perform(router, http.MethodGet, "/v1/budget/2026-03-10", "")
	require.Equal(t, http.StatusOK, w.Code)
	body := decodeBody(t, w)
	assert.Equal(t, "2026-03-10", body["date"])
	assert.Equal(t, float64(60), body["cap"])
	assert.Equal(t, float64(0), body["used"])
	assert.Equal(t, float64(60), body["remaining"])
}

func TestGetBudget_BadDate(t *testing.T) {
	router, _, _, _ := newBudgetRouter(t)

	for _, date := range []string{"yesterday", "2026-3-1", "03-10-2026"} {
		w := perform(router, http.MethodGet, "/v1/budget/"+date, "")
		assert.Equal(t, http.StatusBadRequest, w.Code, date)
		assert.Contains(t, w.Body.String(), "YYYY-MM-DD")
	}
}

func TestGetBudget_AfterConsumption(t *testing.T) {
	router, st, _, _ := newBudgetRouter(t)

	_, err := st.ConsumeBudget(context.Background(), "2026-03-11", 22.5, 60)
	require.NoError(t, err)

	w := perform(router, http.MethodGet, "/v1/budget/2026-03-11", "")
	require.Equal(t, http.StatusOK, w.Code)
	body := decodeBody(t, w)
	assert.Equal(t, 22.5, body["used"])
	assert.Equal(t, 37.5, body["remaining"])
}

func TestOverrideBudget_CreditsToday(t *testing.T) {
	router, _, ledger, trail := newBudgetRouter(t)
	ctx := context.Background()
	now := time.Now().UTC()

	_, err := ledger.Consume(ctx, now, 30)
	require.NoError(t, err)

	w := perform(router, http.MethodPost, "/v1/budget/override", `{
		"seconds": 10,
		"actor": "oncall@aleutian.ai",
		"reason": "canary rollback double-counted"
	}`)
	require.Equal(t, http.StatusOK, w.Code)
	body := decodeBody(t, w)
	assert.Equal(t, float64(40), body["remaining"])

	events, err := trail.Tail(10)
	require.NoError(t, err)
	var found bool
	for _, e := range events {
		if e.EventType == audit.EventBudgetOverride {
			found = true
			assert.Equal(t, "oncall@aleutian.ai", e.Actor)
		}
	}
	assert.True(t, found, "override must be audited")
}

func TestOverrideBudget_Validation(t *testing.T) {
	router, _, _, _ := newBudgetRouter(t)

	tests := []struct {
		name string
		body string
		want string
	}{
		{"zero seconds", `{"seconds": 0, "actor": "op", "reason": "r"}`, "seconds must be positive"},
		{"negative seconds", `{"seconds": -5, "actor": "op", "reason": "r"}`, "seconds must be positive"},
		{"missing actor", `{"seconds": 10, "reason": "r"}`, "actor is required"},
		{"missing reason", `{"seconds": 10, "actor": "op"}`, "reason is required"},
		{"malformed body", `{"seconds":`, "invalid request body"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := perform(router, http.MethodPost, "/v1/budget/override", tt.body)
			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Contains(t, w.Body.String(), tt.want)
		})
	}
}
