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
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"

	"github.com/AleutianAI/AleutianHomeostat/services/homeostat/orchestrator"
)

var tickTracer = otel.Tracer("aleutian.homeostat.handlers")

// TickRunner runs one control-loop tick on demand.
type TickRunner interface {
	RunNow(ctx context.Context) (*orchestrator.TickOutcome, error)
}

// TriggerTick runs a tick immediately instead of waiting for the next
// scheduled interval. The tick follows the exact scheduled path, so
// gates (window, rate limits, budget) still apply.
func TriggerTick(orch TickRunner) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := tickTracer.Start(c.Request.Context(), "TriggerTick")
		defer span.End()

		out, err := orch.RunNow(ctx)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			slog.Error("manual tick failed", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, out)
	}
}
