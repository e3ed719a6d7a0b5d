// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// IngestLimit creates a Gin middleware that throttles the intent ingest
// endpoint.
//
// # Description
//
// A single token-bucket limiter shared by every caller. The queue dedups
// and bounds its own depth, so this guard exists for one failure mode: a
// misbehaving detector hot-looping POST /v1/intents and drowning the
// service in validation work. Requests over the limit get 429 without
// touching the queue.
//
// # Inputs
//
//   - rps: Sustained requests per second. Zero or negative disables the
//     limiter.
//   - burst: Bucket size. Values below 1 are raised to 1 so a configured
//     limiter can always pass at least one request.
//
// # Outputs
//
//   - gin.HandlerFunc: Middleware ready for use on a single route.
func IngestLimit(rps float64, burst int) gin.HandlerFunc {
	if rps <= 0 {
		return func(c *gin.Context) { c.Next() }
	}
	if burst < 1 {
		burst = 1
	}
	limiter := rate.NewLimiter(rate.Limit(rps), burst)

	return func(c *gin.Context) {
		if !limiter.Allow() {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": "ingest rate limit exceeded",
			})
			return
		}
		c.Next()
	}
}
