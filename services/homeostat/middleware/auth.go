// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package middleware provides HTTP middleware for the homeostat service.
//
// # Authentication Flow
//
// The auth middleware extracts a bearer token from the Authorization header
// and compares it against the configured service token in constant time.
//
//	Request
//	   │
//	   ▼
//	BearerAuth
//	   │
//	   ├─► Extract token from "Authorization: Bearer <token>"
//	   │
//	   ├─► Constant-time compare with configured token
//	   │
//	   └─► 401 on mismatch, otherwise next handler
//
// # Open Deployment Behavior
//
// When no token is configured (the default), all requests pass. This keeps
// a single-host lab deployment usable without any auth infrastructure; the
// operator sets auth.token the moment the listener leaves localhost.
package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// BearerAuth creates a Gin middleware that guards mutating endpoints.
//
// # Description
//
// Compares the request's bearer token against the configured token using
// a constant-time comparison so the check leaks nothing about how much of
// the token matched. An empty configured token disables the guard.
//
// # Inputs
//
//   - token: The configured service token. Empty disables authentication.
//
// # Outputs
//
//   - gin.HandlerFunc: Middleware ready for use with a route group.
//
// # Examples
//
//	v1 := router.Group("/v1")
//	v1.POST("/intents", middleware.BearerAuth(cfg.Auth.Token), handler)
//
// # Limitations
//
//   - Single shared token, no per-user identity. Operator attribution on
//     audited actions comes from the request body's actor field.
func BearerAuth(token string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if token == "" {
			c.Next()
			return
		}

		presented := extractBearerToken(c)
		if subtle.ConstantTimeCompare([]byte(presented), []byte(token)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "unauthorized",
			})
			return
		}

		c.Next()
	}
}

// extractBearerToken extracts the token from the Authorization header.
//
// # Description
//
// Parses the Authorization header expecting format: "Bearer <token>".
// Returns empty string if the header is missing or malformed. The
// "Bearer" prefix is case-insensitive per RFC 7235.
func extractBearerToken(c *gin.Context) string {
	authHeader := c.GetHeader("Authorization")
	if authHeader == "" {
		return ""
	}

	// Expected format: "Bearer <token>"
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}

	return strings.TrimSpace(parts[1])
}
