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
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianHomeostat/services/homeostat/observability"
	"github.com/AleutianAI/AleutianHomeostat/services/homeostat/orchestrator"
)

type fakeTicker struct {
	out *orchestrator.TickOutcome
	err error
	n   int
}

func (f *fakeTicker) RunNow(ctx context.Context) (*orchestrator.TickOutcome, error) {
	f.n++
	return f.out, f.err
}

func TestTriggerTick_ReturnsOutcome(t *testing.T) {
	ticker := &fakeTicker{out: &orchestrator.TickOutcome{
		Result:   observability.TickProcessed,
		IntentID: "intent-1",
		Outcome:  "promote",
		Reason:   "canary healthy",
		Duration: 42 * time.Millisecond,
	}}
	router := gin.New()
	router.POST("/v1/tick", TriggerTick(ticker))

	w := perform(router, http.MethodPost, "/v1/tick", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, ticker.n)

	body := decodeBody(t, w)
	assert.Equal(t, "intent-1", body["intent_id"])
	assert.Equal(t, "promote", body["outcome"])
}

func TestTriggerTick_Error(t *testing.T) {
	ticker := &fakeTicker{err: errors.New("clock sanity check failed")}
	router := gin.New()
	router.POST("/v1/tick", TriggerTick(ticker))

	w := perform(router, http.MethodPost, "/v1/tick", "")
	require.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), "clock sanity check failed")
}
