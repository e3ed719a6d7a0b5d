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
	"net/http"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
)

const (
	probeSystemPrompt = "You are a latency probe. Answer with a single word."
	probeUserPrompt   = "Reply with the word pong."
	probeMaxTokens    = 8
)

// CompletionProber issues small synthetic completions against an
// OpenAI-compatible endpoint and measures wall-clock latency. The
// completion content is discarded; only latency and errors matter.
type CompletionProber struct {
	client *openai.Client
	model  string
	url    string
	logger *slog.Logger
}

// NewCompletionProber builds a prober for the inference service at
// baseURL. Local backends commonly accept any API key, so an empty key
// is allowed.
func NewCompletionProber(baseURL, apiKey, model string, timeout time.Duration, logger *slog.Logger) (*CompletionProber, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("completion prober requires a base URL")
	}
	if model == "" {
		return nil, fmt.Errorf("completion prober requires a model name")
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	cfg := openai.DefaultConfig(apiKey)
	cfg.BaseURL = apiBase(baseURL)
	cfg.HTTPClient = &http.Client{Timeout: timeout}
	return &CompletionProber{
		client: openai.NewClientWithConfig(cfg),
		model:  model,
		url:    cfg.BaseURL,
		logger: logger,
	}, nil
}

// apiBase normalizes a service base URL into the /v1 API root the
// OpenAI client expects. Operators write the bare service URL in
// config, but some paste the /v1 root; accept both.
func apiBase(baseURL string) string {
	base := strings.TrimSuffix(baseURL, "/")
	if strings.HasSuffix(base, "/v1") {
		return base
	}
	return base + "/v1"
}

// Sample issues one synthetic completion and returns its latency. The
// latency of a failed request is returned alongside the error so
// timeouts still show up in logs with a duration attached.
func (p *CompletionProber) Sample(ctx context.Context) (time.Duration, error) {
	req := openai.ChatCompletionRequest{
		Model: p.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: probeSystemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: probeUserPrompt},
		},
		MaxCompletionTokens: probeMaxTokens,
	}
	start := time.Now()
	resp, err := p.client.CreateChatCompletion(ctx, req)
	elapsed := time.Since(start)
	if err != nil {
		return elapsed, fmt.Errorf("completion probe against %s failed: %w", p.url, err)
	}
	if len(resp.Choices) == 0 {
		return elapsed, fmt.Errorf("completion probe against %s returned no choices", p.url)
	}
	return elapsed, nil
}

// Measure runs up to samples probes sequentially and aggregates the
// result. Individual probe failures are counted, not fatal; the caller
// judges the error count against its own threshold. When ctx expires
// mid-run the partial measurement is returned with the context error.
func (p *CompletionProber) Measure(ctx context.Context, samples int) (Measurement, error) {
	var m Measurement
	for i := 0; i < samples; i++ {
		if ctx.Err() != nil {
			return m, ctx.Err()
		}
		latency, err := p.Sample(ctx)
		m.Samples++
		if err != nil {
			m.Errors++
			p.logger.Warn("probe sample failed", "url", p.url, "sample", i+1, "latency", latency, "error", err)
			continue
		}
		m.Latencies = append(m.Latencies, latency)
		p.logger.Debug("probe sample", "url", p.url, "sample", i+1, "latency", latency)
	}
	return m, nil
}
