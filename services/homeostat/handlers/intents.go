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
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"

	"github.com/AleutianAI/AleutianHomeostat/services/homeostat/datatypes"
	"github.com/AleutianAI/AleutianHomeostat/services/homeostat/queue"
	"github.com/AleutianAI/AleutianHomeostat/services/homeostat/store"
)

var intentsTracer = otel.Tracer("aleutian.homeostat.handlers")

// PostIntent ingests a detector intent into the durable queue.
//
// Responses:
//   - 202: queued, body carries the assigned id and sequence number
//   - 200: merged into an open dedup window (not an error; the earlier
//     intent already covers this one)
//   - 400: malformed body or failed intent validation
func PostIntent(q *queue.Queue) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := intentsTracer.Start(c.Request.Context(), "PostIntent")
		defer span.End()

		var intent datatypes.Intent
		if err := c.BindJSON(&intent); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			slog.Error("failed to parse the intent request", "error", err)
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}

		rec, err := q.Enqueue(ctx, intent, time.Now().UTC())
		switch {
		case errors.Is(err, store.ErrDuplicateFingerprint):
			c.JSON(http.StatusOK, gin.H{
				"status":    "merged",
				"subsystem": intent.Subsystem,
			})
		case errors.Is(err, queue.ErrInvalidIntent):
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		case err != nil:
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			slog.Error("enqueue failed", "subsystem", intent.Subsystem, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		default:
			c.JSON(http.StatusAccepted, gin.H{
				"status": "queued",
				"id":     rec.Intent.ID,
				"seq":    rec.Seq,
			})
		}
	}
}

// ListIntents returns the pending queue in dispatch order.
func ListIntents(q *queue.Queue) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := intentsTracer.Start(c.Request.Context(), "ListIntents")
		defer span.End()

		pending, err := q.Pending(ctx)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			slog.Error("listing pending intents failed", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"depth":   len(pending),
			"intents": pending,
		})
	}
}

// ListArchive returns recently archived intents, newest first. The
// ?n= query bounds the page size (default 50, max 500).
func ListArchive(q *queue.Queue) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := intentsTracer.Start(c.Request.Context(), "ListArchive")
		defer span.End()

		n := parseLimit(c.Query("n"), 50, 500)
		archived, err := q.ListArchive(ctx, n)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			slog.Error("listing archived intents failed", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"count":   len(archived),
			"intents": archived,
		})
	}
}

// parseLimit parses a page-size query parameter, falling back to def
// for missing or unparseable values and clamping to [1, max].
func parseLimit(raw string, def, max int) int {
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return def
	}
	if n > max {
		return max
	}
	return n
}
