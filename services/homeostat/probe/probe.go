// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package probe measures the tuned inference service from the outside.
//
// Three collaborator kinds feed the candidate runner: a health prober
// polls an endpoint's /health route, a latency prober issues synthetic
// completions through the OpenAI-compatible API and records wall-clock
// latency, and a telemetry source reads current utilization metrics
// for pre-flight validation. All of them treat the service as a black
// box; nothing in this package knows what the actuators mean.
package probe

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/AleutianAI/AleutianHomeostat/services/homeostat/config"
)

// HealthProber reports whether an inference endpoint is serving.
type HealthProber interface {
	// Healthy performs a single health check.
	Healthy(ctx context.Context) error

	// WaitHealthy polls until the endpoint is healthy or patience runs
	// out, whichever comes first.
	WaitHealthy(ctx context.Context, patience time.Duration) error
}

// LatencyProber measures synthetic completion latency against an
// endpoint.
type LatencyProber interface {
	Measure(ctx context.Context, samples int) (Measurement, error)
}

// TelemetrySource supplies current utilization readings keyed by metric
// name. Close releases any underlying client; it is safe to call on
// sources that hold nothing.
type TelemetrySource interface {
	Utilization(ctx context.Context) (map[string]float64, error)
	Close()
}

// Measurement aggregates one canary evaluation: how many synthetic
// completions were attempted, how many failed, and the latency of each
// success.
type Measurement struct {
	Samples   int
	Errors    int
	Latencies []time.Duration
}

// MedianLatency returns the median of the successful sample latencies,
// or zero when nothing succeeded.
func (m Measurement) MedianLatency() time.Duration {
	n := len(m.Latencies)
	if n == 0 {
		return 0
	}
	sorted := make([]time.Duration, n)
	copy(sorted, m.Latencies)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}

// NewTelemetrySource builds the utilization source selected by the
// probe configuration: "http" reads a flat JSON metrics endpoint,
// "influx" queries an InfluxDB bucket, and "none" (or empty) reports
// nothing.
func NewTelemetrySource(cfg config.ProbeConfig, logger *slog.Logger) (TelemetrySource, error) {
	switch cfg.Telemetry {
	case "http":
		return NewHTTPTelemetry(cfg.TelemetryURL, cfg.Timeout, logger)
	case "influx":
		return NewInfluxTelemetry(cfg.Influx, logger)
	case "", "none":
		return NoopTelemetry{}, nil
	default:
		return nil, fmt.Errorf("unknown telemetry source %q", cfg.Telemetry)
	}
}
