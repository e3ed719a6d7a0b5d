// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command homeostat starts the AleutianHomeostat control loop server.
//
// This is the main entry point for the homeostat service. It reads an
// optional YAML configuration file, applies HOMEOSTAT_* environment
// overrides, and runs the HTTP API and the tick loop until SIGINT or
// SIGTERM.
//
// # Environment Variables
//
//   - HOMEOSTAT_CONFIG: Path to the YAML configuration file (optional)
//   - HOMEOSTAT_LISTEN_ADDR: HTTP bind address (default: 0.0.0.0:8095)
//   - HOMEOSTAT_API_TOKEN: Bearer token for mutating endpoints (optional)
//
// Every configuration field has a HOMEOSTAT_* override; see
// services/homeostat/config for the full list.
//
// # Usage
//
//	# Build
//	go build -o homeostat ./cmd/homeostat
//
//	# Run with defaults
//	./homeostat
//
//	# Run against a config file
//	HOMEOSTAT_CONFIG=/etc/homeostat/config.yaml ./homeostat
package main

import (
	"log"
	"log/slog"
	"os"

	"github.com/AleutianAI/AleutianHomeostat/services/homeostat"
	"github.com/AleutianAI/AleutianHomeostat/services/homeostat/config"
)

func main() {
	// Setup structured logging. The service swaps in its own handler
	// once it builds; this one covers configuration failures.
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := config.Load(os.Getenv("HOMEOSTAT_CONFIG"))
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	slog.Info("Starting homeostat",
		"listen_addr", cfg.Service.ListenAddr,
		"tick_interval", cfg.Service.TickInterval,
		"window", cfg.Window.Start+"-"+cfg.Window.End,
	)

	svc, err := homeostat.New(cfg)
	if err != nil {
		log.Fatalf("Failed to create homeostat: %v", err)
	}

	// Run the server (blocks until shutdown)
	if err := svc.Run(); err != nil {
		log.Fatalf("Homeostat error: %v", err)
	}
}
