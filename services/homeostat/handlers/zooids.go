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
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"

	"github.com/AleutianAI/AleutianHomeostat/services/homeostat/datatypes"
	"github.com/AleutianAI/AleutianHomeostat/services/homeostat/registry"
)

var zooidsTracer = otel.Tracer("aleutian.homeostat.handlers")

// ListZooids returns the population, optionally filtered with
// ?state=DORMANT|PROBATION|ACTIVE|RETIRED.
func ListZooids(reg *registry.Zooids) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := zooidsTracer.Start(c.Request.Context(), "ListZooids")
		defer span.End()

		var (
			zooids []*datatypes.Zooid
			err    error
		)
		if raw := c.Query("state"); raw != "" {
			state := datatypes.ZooidState(raw)
			if !state.Valid() {
				c.JSON(http.StatusBadRequest, gin.H{"error": "unknown lifecycle state " + raw})
				return
			}
			zooids, err = reg.ListByState(ctx, state)
		} else {
			zooids, err = reg.List(ctx)
		}
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			slog.Error("listing zooids failed", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"count":  len(zooids),
			"zooids": zooids,
		})
	}
}

// SpawnZooidRequest seeds a new dormant zooid into a niche.
type SpawnZooidRequest struct {
	Niche  string             `json:"niche"`
	Genome map[string]float64 `json:"genome"`
}

// SpawnZooid creates a DORMANT zooid. 201 with the stored record on
// success, 400 when the niche or genome fails validation.
func SpawnZooid(reg *registry.Zooids) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := zooidsTracer.Start(c.Request.Context(), "SpawnZooid")
		defer span.End()

		var req SpawnZooidRequest
		if err := c.BindJSON(&req); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}

		z, err := reg.Spawn(ctx, req.Niche, req.Genome, time.Now().UTC())
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			var vErr *datatypes.ValidationError
			var fieldErrs validator.ValidationErrors
			if errors.As(err, &vErr) || errors.As(err, &fieldErrs) {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
			slog.Error("zooid spawn failed", "niche", req.Niche, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusCreated, z)
	}
}
