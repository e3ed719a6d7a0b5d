// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package routes

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianHomeostat/services/homeostat/audit"
	"github.com/AleutianAI/AleutianHomeostat/services/homeostat/budget"
	"github.com/AleutianAI/AleutianHomeostat/services/homeostat/config"
	"github.com/AleutianAI/AleutianHomeostat/services/homeostat/handlers"
	"github.com/AleutianAI/AleutianHomeostat/services/homeostat/observability"
	"github.com/AleutianAI/AleutianHomeostat/services/homeostat/orchestrator"
	"github.com/AleutianAI/AleutianHomeostat/services/homeostat/queue"
	"github.com/AleutianAI/AleutianHomeostat/services/homeostat/registry"
	"github.com/AleutianAI/AleutianHomeostat/services/homeostat/store"
	"github.com/AleutianAI/AleutianHomeostat/services/homeostat/window"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newRouter(t *testing.T, auth config.AuthConfig, serveMetrics bool) *gin.Engine {
	t.Helper()
	return buildRouter(t, auth, serveMetrics, nil)
}

func newRouterWithTicker(t *testing.T, auth config.AuthConfig, ticker handlers.TickRunner) *gin.Engine {
	t.Helper()
	return buildRouter(t, auth, false, ticker)
}

func buildRouter(t *testing.T, auth config.AuthConfig, serveMetrics bool, ticker handlers.TickRunner) *gin.Engine {
	t.Helper()
	logger := testLogger()

	st, err := store.OpenInMemory(logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	trail, err := audit.New(audit.Config{Dir: t.TempDir(), Logger: logger})
	require.NoError(t, err)
	t.Cleanup(func() { _ = trail.Close() })

	metrics := observability.NewMetrics(prometheus.NewRegistry())
	q, err := queue.New(st, trail, metrics, queue.Config{
		MaxDepth:    16,
		DedupWindow: time.Hour,
		MaxAge:      24 * time.Hour,
	}, logger)
	require.NoError(t, err)

	ledger, err := budget.New(st, trail, 60, time.UTC, logger)
	require.NoError(t, err)

	reg, err := registry.NewZooids(st, trail, metrics, logger)
	require.NoError(t, err)

	win, err := window.New("00:00", "23:59", "UTC")
	require.NoError(t, err)

	router := gin.New()
	SetupRoutes(router, Deps{
		Queue:        q,
		Store:        st,
		Trail:        trail,
		Ledger:       ledger,
		Registry:     reg,
		Window:       win,
		Auth:         auth,
		ServeMetrics: serveMetrics,
		Ticker:       ticker,
	})
	return router
}

func perform(router *gin.Engine, method, path, body, token string) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	w := httptest.NewRecorder()
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	router.ServeHTTP(w, req)
	return w
}

func TestSetupRoutes_HealthOpen(t *testing.T) {
	router := newRouter(t, config.AuthConfig{Token: "secret"}, false)

	w := perform(router, http.MethodGet, "/health", "", "")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestSetupRoutes_MetricsToggle(t *testing.T) {
	enabled := newRouter(t, config.AuthConfig{}, true)
	w := perform(enabled, http.MethodGet, "/metrics", "", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Body.String())

	disabled := newRouter(t, config.AuthConfig{}, false)
	w = perform(disabled, http.MethodGet, "/metrics", "", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestSetupRoutes_MutatingRoutesRequireToken(t *testing.T) {
	router := newRouter(t, config.AuthConfig{Token: "secret"}, false)

	mutating := []struct {
		method string
		path   string
	}{
		{http.MethodPost, "/v1/intents"},
		{http.MethodPost, "/v1/zooids"},
		{http.MethodPost, "/v1/budget/override"},
		{http.MethodPost, "/v1/breaker/llm_server/clear"},
	}
	for _, r := range mutating {
		w := perform(router, r.method, r.path, `{}`, "")
		assert.Equal(t, http.StatusUnauthorized, w.Code, r.path)
	}
}

func TestSetupRoutes_ReadsStayOpen(t *testing.T) {
	router := newRouter(t, config.AuthConfig{Token: "secret"}, false)

	reads := []string{
		"/v1/status",
		"/v1/intents",
		"/v1/archive",
		"/v1/budget/2026-03-10",
		"/v1/zooids",
		"/v1/events",
	}
	for _, path := range reads {
		w := perform(router, http.MethodGet, path, "", "")
		assert.Equal(t, http.StatusOK, w.Code, path)
	}

	// A clear subsystem is 404, not 401: reads need no credentials.
	w := perform(router, http.MethodGet, "/v1/breaker/llm_server", "", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestSetupRoutes_AuthorizedIngest(t *testing.T) {
	router := newRouter(t, config.AuthConfig{Token: "secret"}, false)

	w := perform(router, http.MethodPost, "/v1/intents", `{
		"type": "trigger_tuning",
		"subsystem": "llm_server",
		"priority": 50,
		"payload": {"seed_fix": {"temperature": 0.6}}
	}`, "secret")
	assert.Equal(t, http.StatusAccepted, w.Code)

	w = perform(router, http.MethodPost, "/v1/intents", `{}`, "wrong-token")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

type fakeTicker struct {
	n int
}

func (f *fakeTicker) RunNow(ctx context.Context) (*orchestrator.TickOutcome, error) {
	f.n++
	return &orchestrator.TickOutcome{Result: observability.TickIdle}, nil
}

func TestSetupRoutes_TickRouteOptional(t *testing.T) {
	// Without a ticker the route does not exist.
	router := newRouter(t, config.AuthConfig{}, false)
	w := perform(router, http.MethodPost, "/v1/tick", "", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestSetupRoutes_TickRouteGated(t *testing.T) {
	ticker := &fakeTicker{}
	router := newRouterWithTicker(t, config.AuthConfig{Token: "secret"}, ticker)

	w := perform(router, http.MethodPost, "/v1/tick", "", "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, 0, ticker.n)

	w = perform(router, http.MethodPost, "/v1/tick", "", "secret")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, ticker.n)
}

func TestSetupRoutes_IngestRateLimited(t *testing.T) {
	router := newRouter(t, config.AuthConfig{IngestRPS: 0.001, IngestBurst: 1}, false)

	first := perform(router, http.MethodPost, "/v1/intents", `{
		"type": "trigger_tuning",
		"subsystem": "llm_server",
		"priority": 50,
		"payload": {"seed_fix": {"temperature": 0.6}}
	}`, "")
	require.Equal(t, http.StatusAccepted, first.Code)

	second := perform(router, http.MethodPost, "/v1/intents", `{
		"type": "trigger_tuning",
		"subsystem": "embedder",
		"priority": 50,
		"payload": {"seed_fix": {"batch": 16}}
	}`, "")
	assert.Equal(t, http.StatusTooManyRequests, second.Code)

	// Reads are never rate limited.
	w := perform(router, http.MethodGet, "/v1/intents", "", "")
	assert.Equal(t, http.StatusOK, w.Code)
}
