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

// =============================================================================
// Test Setup
// =============================================================================

func init() {
	gin.SetMode(gin.TestMode)
}

func authRouter(token string) *gin.Engine {
	router := gin.New()
	router.POST("/guarded", BearerAuth(token), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	return router
}

// =============================================================================
// extractBearerToken Tests
// =============================================================================

func TestExtractBearerToken_ValidToken(t *testing.T) {
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	c.Request = httptest.NewRequest("GET", "/", nil)
	c.Request.Header.Set("Authorization", "Bearer abc123")

	assert.Equal(t, "abc123", extractBearerToken(c))
}

func TestExtractBearerToken_MissingHeader(t *testing.T) {
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	c.Request = httptest.NewRequest("GET", "/", nil)

	assert.Empty(t, extractBearerToken(c))
}

func TestExtractBearerToken_InvalidFormat(t *testing.T) {
	tests := []struct {
		name   string
		header string
	}{
		{"no bearer prefix", "abc123"},
		{"basic auth", "Basic abc123"},
		{"only bearer", "Bearer"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _ := gin.CreateTestContext(httptest.NewRecorder())
			c.Request = httptest.NewRequest("GET", "/", nil)
			c.Request.Header.Set("Authorization", tt.header)

			assert.Empty(t, extractBearerToken(c))
		})
	}
}

func TestExtractBearerToken_CaseInsensitive(t *testing.T) {
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	c.Request = httptest.NewRequest("GET", "/", nil)
	c.Request.Header.Set("Authorization", "bearer abc123")

	assert.Equal(t, "abc123", extractBearerToken(c))
}

// =============================================================================
// BearerAuth Tests
// =============================================================================

func TestBearerAuth_ValidToken(t *testing.T) {
	router := authRouter("secret-token")

	w := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/guarded", nil)
	req.Header.Set("Authorization", "Bearer secret-token")
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestBearerAuth_WrongToken(t *testing.T) {
	router := authRouter("secret-token")

	w := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/guarded", nil)
	req.Header.Set("Authorization", "Bearer guessed-token")
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestBearerAuth_MissingHeader(t *testing.T) {
	router := authRouter("secret-token")

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("POST", "/guarded", nil))

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestBearerAuth_NoTokenConfigured(t *testing.T) {
	router := authRouter("")

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("POST", "/guarded", nil))

	assert.Equal(t, http.StatusOK, w.Code, "open deployment passes without credentials")
}
