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

	"github.com/AleutianAI/AleutianHomeostat/services/homeostat/budget"
	"github.com/AleutianAI/AleutianHomeostat/services/homeostat/store"
)

var budgetTracer = otel.Tracer("aleutian.homeostat.handlers")

// GetBudget returns the consumed and remaining disruption seconds for
// one ledger date (YYYY-MM-DD). Dates with no recorded consumption
// report zero used, never 404: an untouched day is a valid answer.
func GetBudget(st *store.Store, ledger *budget.Ledger) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := budgetTracer.Start(c.Request.Context(), "GetBudget")
		defer span.End()

		date := c.Param("date")
		if _, err := time.Parse("2006-01-02", date); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			c.JSON(http.StatusBadRequest, gin.H{"error": "date must be YYYY-MM-DD"})
			return
		}

		used, err := st.BudgetConsumed(ctx, date)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			slog.Error("budget read failed", "date", date, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		remaining := ledger.Cap() - used
		if remaining < 0 {
			remaining = 0
		}
		c.JSON(http.StatusOK, gin.H{
			"date":      date,
			"cap":       ledger.Cap(),
			"used":      used,
			"remaining": remaining,
		})
	}
}

// OverrideBudgetRequest credits seconds back to today's ledger.
// Actor and reason are mandatory; the credit is audited.
type OverrideBudgetRequest struct {
	Seconds float64 `json:"seconds"`
	Actor   string  `json:"actor"`
	Reason  string  `json:"reason"`
}

// OverrideBudget applies an operator credit to today's disruption
// budget.
func OverrideBudget(ledger *budget.Ledger) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := budgetTracer.Start(c.Request.Context(), "OverrideBudget")
		defer span.End()

		var req OverrideBudgetRequest
		if err := c.BindJSON(&req); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}
		if req.Seconds <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "seconds must be positive"})
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

		now := time.Now().UTC()
		remaining, err := ledger.Override(ctx, now, req.Seconds, req.Actor, req.Reason)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			slog.Error("budget override failed", "actor", req.Actor, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		slog.Info("budget override applied",
			"actor", req.Actor,
			"seconds", req.Seconds,
			"remaining", remaining)
		c.JSON(http.StatusOK, gin.H{
			"date":      ledger.Date(now),
			"cap":       ledger.Cap(),
			"remaining": remaining,
		})
	}
}
