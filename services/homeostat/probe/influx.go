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
	"fmt"
	"log/slog"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"

	"github.com/AleutianAI/AleutianHomeostat/services/homeostat/config"
)

const (
	defaultInfluxMeasurement = "inference"
	defaultInfluxLookback    = 5 * time.Minute
)

// InfluxTelemetry reads the latest value of every field in a
// measurement, for deployments that already ship inference metrics to
// InfluxDB instead of exposing a stats route.
type InfluxTelemetry struct {
	client      influxdb2.Client
	queryAPI    api.QueryAPI
	bucket      string
	measurement string
	lookback    time.Duration
	logger      *slog.Logger
}

// NewInfluxTelemetry builds a telemetry source against the configured
// InfluxDB instance. The client connects lazily; a bad URL surfaces on
// the first query, not here.
func NewInfluxTelemetry(cfg config.InfluxConfig, logger *slog.Logger) (*InfluxTelemetry, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("influx telemetry requires a URL")
	}
	if cfg.Org == "" {
		return nil, fmt.Errorf("influx telemetry requires an org")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("influx telemetry requires a bucket")
	}
	measurement := cfg.Measurement
	if measurement == "" {
		measurement = defaultInfluxMeasurement
	}
	lookback := cfg.Lookback
	if lookback <= 0 {
		lookback = defaultInfluxLookback
	}
	if logger == nil {
		logger = slog.Default()
	}
	client := influxdb2.NewClient(cfg.URL, cfg.Token)
	return &InfluxTelemetry{
		client:      client,
		queryAPI:    client.QueryAPI(cfg.Org),
		bucket:      cfg.Bucket,
		measurement: measurement,
		lookback:    lookback,
		logger:      logger,
	}, nil
}

// Utilization queries the last reading of each field within the
// lookback window. Fields carrying non-numeric values are skipped.
func (t *InfluxTelemetry) Utilization(ctx context.Context) (map[string]float64, error) {
	query := fmt.Sprintf(`
        from(bucket: "%s")
          |> range(start: -%ds)
          |> filter(fn: (r) => r._measurement == "%s")
          |> last()
    `, t.bucket, int(t.lookback.Seconds()), t.measurement)

	result, err := t.queryAPI.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("influx telemetry query failed: %w", err)
	}

	readings := make(map[string]float64)
	// Guard against nil result (can happen with empty query results)
	if result == nil {
		return readings, nil
	}
	for result.Next() {
		record := result.Record()
		value, ok := record.Value().(float64)
		if !ok {
			t.logger.Debug("skipping non-numeric telemetry field", "field", record.Field())
			continue
		}
		readings[record.Field()] = value
	}
	if result.Err() != nil {
		return nil, fmt.Errorf("influx telemetry result failed: %w", result.Err())
	}
	return readings, nil
}

// Close releases the underlying InfluxDB client.
func (t *InfluxTelemetry) Close() {
	if t.client != nil {
		t.client.Close()
	}
}
