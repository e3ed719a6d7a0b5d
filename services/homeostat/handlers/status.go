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
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"

	"github.com/AleutianAI/AleutianHomeostat/services/homeostat/audit"
	"github.com/AleutianAI/AleutianHomeostat/services/homeostat/budget"
	"github.com/AleutianAI/AleutianHomeostat/services/homeostat/queue"
	"github.com/AleutianAI/AleutianHomeostat/services/homeostat/registry"
	"github.com/AleutianAI/AleutianHomeostat/services/homeostat/store"
	"github.com/AleutianAI/AleutianHomeostat/services/homeostat/window"
)

var statusTracer = otel.Tracer("aleutian.homeostat.handlers")

// HealthCheck reports process liveness. It deliberately touches no
// storage so a wedged badger instance still answers the probe.
func HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Status returns a composite snapshot: queue depth, today's budget,
// the maintenance window, zooid population counts, latched breakers,
// and the audit chain length.
func Status(q *queue.Queue, ledger *budget.Ledger, reg *registry.Zooids,
	st *store.Store, win *window.Window, trail *audit.Trail) gin.HandlerFunc {

	return func(c *gin.Context) {
		ctx, span := statusTracer.Start(c.Request.Context(), "Status")
		defer span.End()
		now := time.Now().UTC()

		depth, err := q.Depth(ctx)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			slog.Error("status: queue depth failed", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		bySubsystem, err := q.PendingBySubsystem(ctx)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			slog.Error("status: pending breakdown failed", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		used, err := ledger.Used(ctx, now)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			slog.Error("status: budget read failed", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		remaining := ledger.Cap() - used
		if remaining < 0 {
			remaining = 0
		}

		counts, err := reg.CountByState(ctx)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			slog.Error("status: zooid counts failed", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		breakers, err := st.ListBreakers(ctx)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			slog.Error("status: breaker list failed", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"status": "ok",
			"time":   now.Format(time.RFC3339),
			"queue": gin.H{
				"depth":        depth,
				"by_subsystem": bySubsystem,
			},
			"budget": gin.H{
				"date":      ledger.Date(now),
				"cap":       ledger.Cap(),
				"used":      used,
				"remaining": remaining,
			},
			"window": gin.H{
				"spec":      win.String(),
				"open":      win.Contains(now),
				"next_open": win.NextOpen(now).Format(time.RFC3339),
			},
			"zooids":        counts,
			"breakers":      breakers,
			"audit_entries": trail.EntryCount(),
		})
	}
}
