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
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

const (
	healthPath         = "/health"
	healthPollInterval = 500 * time.Millisecond
	defaultTimeout     = 5 * time.Second
)

// HTTPHealthProber checks an inference endpoint's /health route.
// llama.cpp and vLLM both answer 200 there once the model is loaded.
type HTTPHealthProber struct {
	httpClient *http.Client
	url        string
	logger     *slog.Logger
}

// NewHealthProber builds a prober for the service at baseURL.
func NewHealthProber(baseURL string, timeout time.Duration, logger *slog.Logger) (*HTTPHealthProber, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("health prober requires a base URL")
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPHealthProber{
		httpClient: &http.Client{Timeout: timeout},
		url:        strings.TrimSuffix(baseURL, "/") + healthPath,
		logger:     logger,
	}, nil
}

// Healthy performs a single health check. Any status other than 200
// counts as unhealthy; llama.cpp answers 503 while a model is loading.
func (p *HTTPHealthProber) Healthy(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
	if err != nil {
		return fmt.Errorf("failed to build health request: %w", err)
	}
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check against %s failed: %w", p.url, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health endpoint %s returned %d", p.url, resp.StatusCode)
	}
	return nil
}

// WaitHealthy polls the endpoint until it answers healthy or patience
// runs out. The final poll interval is shortened so patience is an
// upper bound, not a lower one.
func (p *HTTPHealthProber) WaitHealthy(ctx context.Context, patience time.Duration) error {
	deadline := time.Now().Add(patience)
	var lastErr error
	for {
		if lastErr = p.Healthy(ctx); lastErr == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			p.logger.Warn("endpoint never became healthy", "url", p.url, "patience", patience)
			return fmt.Errorf("no healthy response within %s: %w", patience, lastErr)
		}
		wait := healthPollInterval
		if wait > remaining {
			wait = remaining
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}
