// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package homeostat

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianHomeostat/services/homeostat/config"
)

// =============================================================================
// Test Setup
// =============================================================================

func init() {
	// Set Gin to test mode to reduce noise in test output
	gin.SetMode(gin.TestMode)
}

// testConfig returns a configuration that builds entirely in-process:
// in-memory storage, temp directories, no tracing, no global metrics
// registry, no telemetry backend.
func testConfig(t *testing.T) config.Config {
	t.Helper()

	cfg := config.Default()
	cfg.Service.ListenAddr = "127.0.0.1:0"
	cfg.Storage.InMemory = true
	cfg.Audit.Dir = t.TempDir()
	cfg.Lock.Dir = t.TempDir()
	cfg.Observability.TracingEnabled = false
	cfg.Observability.MetricsEnabled = false
	cfg.Probe.Telemetry = "none"
	return cfg
}

// newTestService builds a service and tears its resources down with the
// test.
func newTestService(t *testing.T, cfg config.Config) Service {
	t.Helper()

	svc, err := New(cfg)
	require.NoError(t, err, "New should succeed with an in-process config")
	t.Cleanup(svc.(*service).cleanup)
	return svc
}

// perform runs one request against the service router.
func perform(router *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

// =============================================================================
// Constructor Tests
// =============================================================================

// TestNew_BuildsService verifies the full component graph comes up from
// configuration alone.
func TestNew_BuildsService(t *testing.T) {
	svc := newTestService(t, testConfig(t))

	assert.NotNil(t, svc, "service should be constructed")
	assert.NotNil(t, svc.Router(), "router should be registered")
}

// TestNew_InvalidConfigRejected verifies validation runs before any
// resource is opened.
func TestNew_InvalidConfigRejected(t *testing.T) {
	cfg := testConfig(t)
	cfg.Service.TickInterval = 0

	svc, err := New(cfg)

	require.Error(t, err)
	assert.Nil(t, svc)
	assert.Contains(t, err.Error(), "invalid configuration")
}

// TestNew_SpoolWatcherOptional verifies the spool watcher exists exactly
// when a spool directory is configured.
func TestNew_SpoolWatcherOptional(t *testing.T) {
	t.Run("absent by default", func(t *testing.T) {
		svc := newTestService(t, testConfig(t))
		assert.Nil(t, svc.(*service).spool,
			"no spool watcher without a spool directory")
	})

	t.Run("present when configured", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.Queue.SpoolDir = filepath.Join(t.TempDir(), "spool")

		svc := newTestService(t, cfg)
		assert.NotNil(t, svc.(*service).spool,
			"spool watcher should be built for the configured directory")
	})
}

// =============================================================================
// Router Integration Tests
// =============================================================================

// TestRouter_HealthOpen verifies the liveness probe responds without
// auth or storage involvement.
func TestRouter_HealthOpen(t *testing.T) {
	svc := newTestService(t, testConfig(t))

	w := perform(svc.Router(), http.MethodGet, "/health", "")

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
}

// TestRouter_IntentIngestToStatus drives one intent through the HTTP
// surface: accepted on POST, visible in the status snapshot.
func TestRouter_IntentIngestToStatus(t *testing.T) {
	svc := newTestService(t, testConfig(t))
	router := svc.Router()

	body := `{
		"type": "trigger_tuning",
		"subsystem": "llm_server",
		"priority": 50,
		"payload": {"observed": {"p95_latency_ms": 950}}
	}`
	w := perform(router, http.MethodPost, "/v1/intents", body)
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())

	w = perform(router, http.MethodGet, "/v1/status", "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var status map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &status))
	queueInfo, ok := status["queue"].(map[string]interface{})
	require.True(t, ok, "status should report a queue section")
	assert.Equal(t, float64(1), queueInfo["depth"], "ingested intent should be pending")
}

// TestRouter_MetricsGatedByConfig verifies the /metrics mount follows
// the observability toggle.
func TestRouter_MetricsGatedByConfig(t *testing.T) {
	svc := newTestService(t, testConfig(t))

	w := perform(svc.Router(), http.MethodGet, "/metrics", "")

	assert.Equal(t, http.StatusNotFound, w.Code,
		"metrics endpoint should not be mounted when disabled")
}

// =============================================================================
// Helper Tests
// =============================================================================

// TestExpandPath exercises home-directory expansion for the directories
// the shell prepares itself.
func TestExpandPath(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  func(home string) string
	}{
		{
			name:  "tilde prefix expands",
			input: "~/.homeostat/audit",
			want:  func(home string) string { return filepath.Join(home, ".homeostat/audit") },
		},
		{
			name:  "bare tilde expands",
			input: "~",
			want:  func(home string) string { return home },
		},
		{
			name:  "absolute path unchanged",
			input: "/var/lib/homeostat",
			want:  func(string) string { return "/var/lib/homeostat" },
		},
		{
			name:  "empty path unchanged",
			input: "",
			want:  func(string) string { return "" },
		},
		{
			name:  "tilde user form unchanged",
			input: "~otheruser/audit",
			want:  func(string) string { return "~otheruser/audit" },
		},
	}

	home, err := os.UserHomeDir()
	require.NoError(t, err)

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want(home), expandPath(tt.input))
		})
	}
}
