// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package routes

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/AleutianAI/AleutianHomeostat/services/homeostat/audit"
	"github.com/AleutianAI/AleutianHomeostat/services/homeostat/budget"
	"github.com/AleutianAI/AleutianHomeostat/services/homeostat/config"
	"github.com/AleutianAI/AleutianHomeostat/services/homeostat/handlers"
	"github.com/AleutianAI/AleutianHomeostat/services/homeostat/middleware"
	"github.com/AleutianAI/AleutianHomeostat/services/homeostat/queue"
	"github.com/AleutianAI/AleutianHomeostat/services/homeostat/registry"
	"github.com/AleutianAI/AleutianHomeostat/services/homeostat/store"
	"github.com/AleutianAI/AleutianHomeostat/services/homeostat/window"
)

// Deps bundles everything the HTTP surface serves from. All pointers
// are required except as noted on SetupRoutes.
type Deps struct {
	Queue    *queue.Queue
	Store    *store.Store
	Trail    *audit.Trail
	Ledger   *budget.Ledger
	Registry *registry.Zooids
	Window   *window.Window

	// Auth gates the mutating routes and rate-limits ingest.
	Auth config.AuthConfig

	// ServeMetrics mounts promhttp on /metrics.
	ServeMetrics bool

	// Ticker, when non-nil, mounts POST /v1/tick for on-demand ticks.
	Ticker handlers.TickRunner
}

// SetupRoutes wires the HTTP surface. Reads are open; mutating routes
// sit behind bearer auth, and intent ingest is additionally
// rate-limited so a misbehaving detector cannot flood the queue.
func SetupRoutes(router *gin.Engine, deps Deps) {
	router.GET("/health", handlers.HealthCheck)
	if deps.ServeMetrics {
		router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	}

	auth := middleware.BearerAuth(deps.Auth.Token)

	// API version 1 group
	v1 := router.Group("/v1")
	{
		v1.GET("/status", handlers.Status(deps.Queue, deps.Ledger, deps.Registry,
			deps.Store, deps.Window, deps.Trail))

		v1.POST("/intents", auth,
			middleware.IngestLimit(deps.Auth.IngestRPS, deps.Auth.IngestBurst),
			handlers.PostIntent(deps.Queue))
		v1.GET("/intents", handlers.ListIntents(deps.Queue))
		v1.GET("/archive", handlers.ListArchive(deps.Queue))

		v1.GET("/budget/:date", handlers.GetBudget(deps.Store, deps.Ledger))
		v1.POST("/budget/override", auth, handlers.OverrideBudget(deps.Ledger))

		v1.GET("/zooids", handlers.ListZooids(deps.Registry))
		v1.POST("/zooids", auth, handlers.SpawnZooid(deps.Registry))

		breaker := v1.Group("/breaker")
		{
			breaker.GET("/:subsystem", handlers.GetBreakerState(deps.Store))
			breaker.POST("/:subsystem/clear", auth, handlers.ClearBreaker(deps.Store, deps.Trail))
		}

		v1.GET("/events", handlers.ListEvents(deps.Trail))
		v1.GET("/events/ws", handlers.EventsWebSocket(deps.Trail))

		if deps.Ticker != nil {
			v1.POST("/tick", auth, handlers.TriggerTick(deps.Ticker))
		}
	}
}
