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
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"

	"github.com/AleutianAI/AleutianHomeostat/services/homeostat/audit"
	"github.com/AleutianAI/AleutianHomeostat/services/homeostat/store"
)

var breakerTracer = otel.Tracer("aleutian.homeostat.handlers")

// GetBreakerState reports a subsystem's restore breaker. 404 means the
// subsystem is clear and tuning may proceed.
func GetBreakerState(st *store.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := breakerTracer.Start(c.Request.Context(), "GetBreakerState")
		defer span.End()

		subsystem := c.Param("subsystem")
		state, err := st.GetBreaker(ctx, subsystem)
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "no breaker latched for " + subsystem})
			return
		}
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			slog.Error("breaker read failed", "subsystem", subsystem, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, state)
	}
}

// ClearBreakerRequest identifies the operator unlatching a breaker.
type ClearBreakerRequest struct {
	Actor  string `json:"actor"`
	Reason string `json:"reason"`
}

// ClearBreaker unlatches a subsystem's restore breaker so tuning can
// resume. The clear is audited with the operator's identity; a breaker
// only latches after a failed restore, so silent clears are forbidden.
func ClearBreaker(st *store.Store, trail *audit.Trail) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := breakerTracer.Start(c.Request.Context(), "ClearBreaker")
		defer span.End()

		subsystem := c.Param("subsystem")
		var req ClearBreakerRequest
		if err := c.BindJSON(&req); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}
		if req.Actor == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "actor is required"})
			return
		}
		if req.Reason == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "reason is required"})
			return
		}

		state, err := st.GetBreaker(ctx, subsystem)
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "no breaker latched for " + subsystem})
			return
		}
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		if err := st.ClearBreaker(ctx, subsystem); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			slog.Error("breaker clear failed", "subsystem", subsystem, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		if _, err := trail.Append(audit.Event{
			EventType: audit.EventBreakerCleared,
			Subsystem: subsystem,
			IntentID:  state.IntentID,
			Actor:     req.Actor,
			Reason:    req.Reason,
		}); err != nil {
			slog.Error("breaker cleared but audit append failed",
				"subsystem", subsystem, "error", err)
		}
		slog.Warn("restore breaker cleared",
			"subsystem", subsystem,
			"actor", req.Actor,
			"latched_at", state.LatchedAt,
			"latch_reason", state.Reason)
		c.JSON(http.StatusOK, gin.H{
			"status":       "cleared",
			"subsystem":    subsystem,
			"latched_at":   state.LatchedAt,
			"latch_reason": state.Reason,
		})
	}
}
