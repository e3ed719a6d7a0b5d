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
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianHomeostat/pkg/ux"
)

func runAddIntent(cmd *cobra.Command, args []string) {
	intentType := args[0]
	subsystem := args[1]

	observed, err := parsePairs(args[2:])
	if err != nil {
		log.Fatalf("Invalid observed metrics: %v", err)
	}

	payload := map[string]interface{}{
		"type":      intentType,
		"subsystem": subsystem,
		"priority":  intentPriority,
		"payload": map[string]interface{}{
			"observed": observed,
			"note":     intentNote,
		},
	}

	resp, err := apiPost("/v1/intents", payload)
	if err != nil {
		log.Fatalf("Failed to reach homeostat at %s: %v", getHomeostatBaseURL(), err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusAccepted:
		var out struct {
			ID  string `json:"id"`
			Seq uint64 `json:"seq"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			log.Fatalf("Failed to decode the enqueue reply: %v", err)
		}
		ux.Success(fmt.Sprintf("queued %s for %s (id %s)", intentType, subsystem, out.ID))
	case http.StatusOK:
		ux.Warning(fmt.Sprintf("merged into an existing pending intent for %s", subsystem))
	default:
		log.Fatalf("Enqueue rejected: %v", apiError(resp))
	}
}

// pendingReply mirrors GET /v1/intents.
type pendingReply struct {
	Depth   int `json:"depth"`
	Intents []struct {
		Seq        uint64    `json:"seq"`
		Deferrals  int       `json:"deferrals"`
		EnqueuedAt time.Time `json:"enqueued_at"`
		Intent     struct {
			ID        string `json:"id"`
			Type      string `json:"type"`
			Subsystem string `json:"subsystem"`
			Priority  int    `json:"priority"`
		} `json:"intent"`
	} `json:"intents"`
}

func runListIntents(cmd *cobra.Command, args []string) {
	resp, err := apiGet("/v1/intents")
	if err != nil {
		log.Fatalf("Failed to reach homeostat at %s: %v", getHomeostatBaseURL(), err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		log.Fatalf("Listing intents failed: %v", apiError(resp))
	}

	var out pendingReply
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		log.Fatalf("Failed to decode the intent list: %v", err)
	}

	if out.Depth == 0 {
		ux.Muted("queue empty")
		return
	}

	ux.Title(fmt.Sprintf("%d pending", out.Depth))
	fmt.Printf("%-4s %-9s %-20s %-18s %-6s %s\n",
		"POS", "PRIORITY", "TYPE", "SUBSYSTEM", "DEFER", "ID")
	fmt.Println(strings.Repeat("-", 96))
	for i, rec := range out.Intents {
		fmt.Printf("%-4d %-9d %-20s %-18s %-6d %s\n",
			i+1, rec.Intent.Priority, rec.Intent.Type, rec.Intent.Subsystem,
			rec.Deferrals, rec.Intent.ID)
	}
}

// archiveReply mirrors GET /v1/archive.
type archiveReply struct {
	Count   int `json:"count"`
	Intents []struct {
		Intent struct {
			ID        string `json:"id"`
			Type      string `json:"type"`
			Subsystem string `json:"subsystem"`
		} `json:"intent"`
		Outcome    string    `json:"outcome"`
		Reason     string    `json:"reason"`
		ArchivedAt time.Time `json:"archived_at"`
	} `json:"intents"`
}

func runListArchive(cmd *cobra.Command, args []string) {
	resp, err := apiGet(fmt.Sprintf("/v1/archive?n=%d", archiveLimit))
	if err != nil {
		log.Fatalf("Failed to reach homeostat at %s: %v", getHomeostatBaseURL(), err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		log.Fatalf("Listing the archive failed: %v", apiError(resp))
	}

	var out archiveReply
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		log.Fatalf("Failed to decode the archive list: %v", err)
	}

	if out.Count == 0 {
		ux.Muted("archive empty")
		return
	}

	ux.Title(fmt.Sprintf("%d archived", out.Count))
	fmt.Printf("%-21s %-20s %-18s %-9s %s\n",
		"ARCHIVED", "TYPE", "SUBSYSTEM", "OUTCOME", "REASON")
	fmt.Println(strings.Repeat("-", 96))
	for _, rec := range out.Intents {
		fmt.Printf("%-21s %-20s %-18s %-9s %s\n",
			rec.ArchivedAt.Format("2006-01-02 15:04:05"),
			rec.Intent.Type, rec.Intent.Subsystem, rec.Outcome, rec.Reason)
	}
}
