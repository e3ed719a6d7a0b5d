// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package servicectl starts and stops the tuned inference service and
// its canary instance through operator-supplied shell commands.
//
// The controller knows nothing about the service it manages. Each
// action is a command line from config, run through the platform shell
// with a bounded timeout. Candidate parameters reach the canary spawn
// command as HOMEOSTAT_PARAM_* environment variables; the command is
// expected to translate them into whatever flags or files the backend
// wants.
package servicectl

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/AleutianAI/AleutianHomeostat/services/homeostat/config"
)

var (
	// ErrCommandTimeout indicates a control command outran its timeout
	// and was killed.
	ErrCommandTimeout = errors.New("control command timed out")

	// ErrNotConfigured indicates the requested action has no command
	// line in config. Spare-resource deployments commonly leave the
	// production stop/start commands empty.
	ErrNotConfigured = errors.New("control command not configured")
)

const (
	// canaryEnvMarker is set on every canary spawn so the command can
	// tell a canary start from a production start.
	canaryEnvMarker = "HOMEOSTAT_CANARY=1"

	// paramEnvPrefix prefixes one environment variable per candidate
	// parameter, e.g. temperature=0.8 becomes
	// HOMEOSTAT_PARAM_TEMPERATURE=0.8.
	paramEnvPrefix = "HOMEOSTAT_PARAM_"

	defaultCommandTimeout = 30 * time.Second

	// maxCommandOutput caps captured stdout+stderr per command.
	maxCommandOutput = 64 * 1024
)

// Controller drives the managed service's lifecycle actions.
type Controller interface {
	StopProduction(ctx context.Context) error
	StartProduction(ctx context.Context) error
	SpawnCanary(ctx context.Context, params map[string]float64) error
	StopCanary(ctx context.Context) error
}

// ExecController implements Controller by running configured shell
// commands. Safe for concurrent use; each action runs its own process.
type ExecController struct {
	cfg    config.ControlConfig
	logger *slog.Logger
}

// NewExecController builds a controller from the control config.
// Individual commands may be empty; calling an unconfigured action
// returns ErrNotConfigured.
func NewExecController(cfg config.ControlConfig, logger *slog.Logger) *ExecController {
	if cfg.CommandTimeout <= 0 {
		cfg.CommandTimeout = defaultCommandTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ExecController{cfg: cfg, logger: logger}
}

// StopProduction quiesces the production workload.
func (c *ExecController) StopProduction(ctx context.Context) error {
	return c.run(ctx, "stop_production", c.cfg.StopCommand, nil)
}

// StartProduction brings the production workload back up. It returns
// when the command exits; health is the caller's concern.
func (c *ExecController) StartProduction(ctx context.Context) error {
	return c.run(ctx, "start_production", c.cfg.StartCommand, nil)
}

// SpawnCanary starts an isolated canary instance with the candidate
// parameters exported in its environment.
func (c *ExecController) SpawnCanary(ctx context.Context, params map[string]float64) error {
	env := make([]string, 0, len(params)+1)
	env = append(env, canaryEnvMarker)
	for name, value := range params {
		env = append(env, paramEnv(name)+"="+strconv.FormatFloat(value, 'g', -1, 64))
	}
	return c.run(ctx, "spawn_canary", c.cfg.SpawnCanaryCommand, env)
}

// StopCanary tears the canary instance down. Callers invoke this even
// after a failed spawn, so the command must tolerate nothing running.
func (c *ExecController) StopCanary(ctx context.Context) error {
	return c.run(ctx, "stop_canary", c.cfg.StopCanaryCommand, nil)
}

// run executes one command line through the platform shell with output
// capture and a hard timeout.
func (c *ExecController) run(ctx context.Context, action, command string, extraEnv []string) error {
	if command == "" {
		return fmt.Errorf("%w: %s", ErrNotConfigured, action)
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.CommandTimeout)
	defer cancel()

	cmd := shellCommand(ctx, command)
	cmd.Env = append(os.Environ(), extraEnv...)

	var output bytes.Buffer
	limited := &limitedWriter{w: &output, limit: maxCommandOutput}
	cmd.Stdout = limited
	cmd.Stderr = limited

	c.logger.Debug("Executing control command",
		slog.String("action", action),
		slog.Duration("timeout", c.cfg.CommandTimeout),
	)
	start := time.Now()
	err := cmd.Run()
	duration := time.Since(start)

	if ctx.Err() == context.DeadlineExceeded {
		c.logger.Warn("Control command timed out",
			slog.String("action", action),
			slog.Duration("timeout", c.cfg.CommandTimeout),
			slog.String("output", tail(output.String())),
		)
		return fmt.Errorf("%w: %s after %s", ErrCommandTimeout, action, c.cfg.CommandTimeout)
	}
	if err != nil {
		c.logger.Error("Control command failed",
			slog.String("action", action),
			slog.Duration("duration", duration),
			slog.String("output", tail(output.String())),
			slog.Any("error", err),
		)
		return fmt.Errorf("%s command failed: %w: %s", action, err, tail(output.String()))
	}

	c.logger.Info("Control command completed",
		slog.String("action", action),
		slog.Duration("duration", duration),
		slog.Int("output_bytes", output.Len()),
	)
	return nil
}

// paramEnv maps an actuator name onto a shell-safe environment
// variable name.
func paramEnv(name string) string {
	upper := strings.ToUpper(name)
	mapped := strings.Map(func(r rune) rune {
		switch {
		case r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		default:
			return '_'
		}
	}, upper)
	return paramEnvPrefix + mapped
}

// tail returns the last portion of command output for error messages.
func tail(s string) string {
	const n = 512
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return "..." + s[len(s)-n:]
}

// limitedWriter wraps a writer with a size limit.
type limitedWriter struct {
	w       io.Writer
	limit   int
	written int
}

func (lw *limitedWriter) Write(p []byte) (n int, err error) {
	full := len(p)
	if lw.written >= lw.limit {
		return full, nil // Silently discard
	}
	if lw.written+len(p) > lw.limit {
		p = p[:lw.limit-lw.written]
	}
	m, err := lw.w.Write(p)
	lw.written += m
	if err != nil {
		return m, err
	}
	return full, nil
}
