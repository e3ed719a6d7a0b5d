// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianHomeostat/pkg/ux"
	"github.com/AleutianAI/AleutianHomeostat/services/homeostat/audit"
)

// printEvent renders one audit record as a single line. Optional fields
// only appear when the event carries them, so lifecycle transitions,
// budget spends, and operator overrides each read naturally.
func printEvent(e audit.Event) {
	parts := []string{
		fmt.Sprintf("#%-5d", e.Sequence),
		e.Timestamp,
		e.EventType,
	}
	if e.Subsystem != "" {
		parts = append(parts, e.Subsystem)
	}
	if e.ZooidID != "" {
		parts = append(parts, "zooid="+e.ZooidID)
	}
	if e.FromState != "" && e.ToState != "" {
		parts = append(parts, e.FromState+">"+e.ToState)
	}
	if e.Outcome != "" {
		parts = append(parts, "outcome="+e.Outcome)
	}
	if e.Reason != "" {
		parts = append(parts, "reason="+e.Reason)
	}
	if e.Actor != "" {
		parts = append(parts, "actor="+e.Actor)
	}
	parts = append(parts, ux.ShortHash(e.EntryHash))
	fmt.Println(strings.Join(parts, "  "))
}

func runTailEvents(cmd *cobra.Command, args []string) {
	resp, err := apiGet(fmt.Sprintf("/v1/events?n=%d", eventsLimit))
	if err != nil {
		log.Fatalf("Failed to reach homeostat at %s: %v", getHomeostatBaseURL(), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		log.Fatalf("Events request failed: %v", apiError(resp))
	}

	var out struct {
		Count  int           `json:"count"`
		Events []audit.Event `json:"events"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		log.Fatalf("Failed to decode the events reply: %v", err)
	}

	if out.Count == 0 {
		ux.Muted("audit trail empty")
		return
	}
	for _, e := range out.Events {
		printEvent(e)
	}
}

func runFollowEvents(cmd *cobra.Command, args []string) {
	// The feed endpoint speaks websocket on the same listener, so the
	// scheme swap covers both http and https bases.
	wsURL := strings.Replace(getHomeostatBaseURL(), "http", "ws", 1) + "/v1/events/ws"

	header := http.Header{}
	if token := os.Getenv("HOMEOSTAT_API_TOKEN"); token != "" {
		header.Set("Authorization", "Bearer "+token)
	}

	ws, _, err := websocket.DefaultDialer.Dial(wsURL, header)
	if err != nil {
		log.Fatalf("Failed to connect to %s: %v", wsURL, err)
	}
	defer ws.Close()

	ux.Info("following the audit trail (Ctrl-C to stop)")

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			var e audit.Event
			if err := ws.ReadJSON(&e); err != nil {
				if websocket.IsUnexpectedCloseError(err,
					websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					ux.Error(fmt.Sprintf("feed closed: %v", err))
				}
				return
			}
			printEvent(e)
		}
	}()

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)

	select {
	case <-done:
	case <-interrupt:
		// Ask the server for a clean close, then give the read pump a
		// moment to see the reply.
		err := ws.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		if err != nil {
			return
		}
		select {
		case <-done:
		case <-time.After(time.Second):
		}
	}
}

func runVerifyAudit(cmd *cobra.Command, args []string) {
	dir := expandHome(auditDirFlag)

	spin := ux.NewSpinner("Verifying audit chain")
	spin.Start()
	report, err := audit.VerifyDir(dir)
	spin.Stop()
	if err != nil {
		log.Fatalf("Verification failed: %v", err)
	}

	fmt.Println(ux.ChainVerdict(report.Valid, report.Entries, report.Head))
	if !report.Valid {
		ux.Error(fmt.Sprintf("first break: %s record %d", report.Segment, report.BreakIndex))
		os.Exit(1)
	}
}
