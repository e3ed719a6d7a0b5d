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
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func limitRouter(rps float64, burst int) *gin.Engine {
	router := gin.New()
	router.POST("/ingest", IngestLimit(rps, burst), func(c *gin.Context) {
		c.JSON(http.StatusAccepted, gin.H{"status": "accepted"})
	})
	return router
}

func TestIngestLimit_BurstThenThrottle(t *testing.T) {
	// 1 rps with a burst of 2: the first two requests pass, the third
	// inside the same instant is throttled.
	router := limitRouter(1, 2)

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest("POST", "/ingest", nil))
		codes = append(codes, w.Code)
	}

	assert.Equal(t, []int{http.StatusAccepted, http.StatusAccepted, http.StatusTooManyRequests}, codes)
}

func TestIngestLimit_Disabled(t *testing.T) {
	router := limitRouter(0, 0)

	for i := 0; i < 10; i++ {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest("POST", "/ingest", nil))
		assert.Equal(t, http.StatusAccepted, w.Code)
	}
}

func TestIngestLimit_BurstFloor(t *testing.T) {
	// A zero burst with a configured rate still admits one request.
	router := limitRouter(5, 0)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("POST", "/ingest", nil))
	assert.Equal(t, http.StatusAccepted, w.Code)
}
