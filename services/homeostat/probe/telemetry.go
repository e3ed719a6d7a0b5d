// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package probe

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// HTTPTelemetry reads utilization from a metrics endpoint that serves
// a flat JSON object of metric name to number, the shape the tuned
// service's own stats route exposes.
type HTTPTelemetry struct {
	httpClient *http.Client
	url        string
	logger     *slog.Logger
}

// NewHTTPTelemetry builds a telemetry source reading from url.
func NewHTTPTelemetry(url string, timeout time.Duration, logger *slog.Logger) (*HTTPTelemetry, error) {
	if url == "" {
		return nil, fmt.Errorf("http telemetry requires a URL")
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPTelemetry{
		httpClient: &http.Client{Timeout: timeout},
		url:        url,
		logger:     logger,
	}, nil
}

// Utilization fetches and decodes the current metric readings.
func (t *HTTPTelemetry) Utilization(ctx context.Context) (map[string]float64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build telemetry request: %w", err)
	}
	resp, err := t.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("telemetry fetch from %s failed: %w", t.url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("telemetry endpoint %s returned %d", t.url, resp.StatusCode)
	}
	readings := make(map[string]float64)
	if err := json.NewDecoder(resp.Body).Decode(&readings); err != nil {
		return nil, fmt.Errorf("failed to parse telemetry from %s: %w", t.url, err)
	}
	return readings, nil
}

// Close implements TelemetrySource; there is nothing to release.
func (t *HTTPTelemetry) Close() {}

// NoopTelemetry reports no readings. Validation formulas that depend
// on utilization degrade to bounds-only checks when this source is
// configured.
type NoopTelemetry struct{}

// Utilization returns an empty, non-nil map.
func (NoopTelemetry) Utilization(ctx context.Context) (map[string]float64, error) {
	return map[string]float64{}, nil
}

// Close implements TelemetrySource.
func (NoopTelemetry) Close() {}
