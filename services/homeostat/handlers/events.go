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

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"

	"github.com/AleutianAI/AleutianHomeostat/services/homeostat/audit"
)

var eventsTracer = otel.Tracer("aleutian.homeostat.handlers")

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
}

func sendJSON(ws *websocket.Conn, v interface{}) error {
	err := ws.WriteJSON(v)
	if err != nil {
		slog.Warn("failed to write WebSocket JSON", "error", err)
	}
	return err
}

// ListEvents returns the newest audit records, oldest first within the
// page. The ?n= query bounds the page size (default 50, max 500).
func ListEvents(trail *audit.Trail) gin.HandlerFunc {
	return func(c *gin.Context) {
		_, span := eventsTracer.Start(c.Request.Context(), "ListEvents")
		defer span.End()

		n := parseLimit(c.Query("n"), 50, 500)
		events, err := trail.Tail(n)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			slog.Error("reading audit tail failed", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"count":  len(events),
			"events": events,
		})
	}
}

// EventsWebSocket streams audit events to the client as they are
// appended. The feed is live-only; use ListEvents for history. Slow
// consumers miss events rather than stalling the appender.
func EventsWebSocket(trail *audit.Trail) gin.HandlerFunc {
	return func(c *gin.Context) {
		ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			slog.Error("failed to upgrade the websocket", "error", err)
			return
		}
		defer ws.Close()

		events, cancel := trail.Subscribe(64)
		defer cancel()
		slog.Info("audit feed client connected", "remote", c.Request.RemoteAddr)

		// The client never sends application data; the read pump
		// exists to notice the disconnect.
		done := make(chan struct{})
		go func() {
			defer close(done)
			for {
				if _, _, err := ws.ReadMessage(); err != nil {
					return
				}
			}
		}()

		for {
			select {
			case <-done:
				slog.Info("audit feed client disconnected", "remote", c.Request.RemoteAddr)
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				if err := sendJSON(ws, e); err != nil {
					return
				}
			}
		}
	}
}
