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
	"sort"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianHomeostat/pkg/ux"
)

// statusReply mirrors GET /v1/status.
type statusReply struct {
	Status string `json:"status"`
	Time   string `json:"time"`
	Queue  struct {
		Depth int `json:"depth"`
	} `json:"queue"`
	Budget struct {
		Date      string  `json:"date"`
		Cap       float64 `json:"cap"`
		Used      float64 `json:"used"`
		Remaining float64 `json:"remaining"`
	} `json:"budget"`
	Window struct {
		Spec     string `json:"spec"`
		Open     bool   `json:"open"`
		NextOpen string `json:"next_open"`
	} `json:"window"`
	Zooids   map[string]int `json:"zooids"`
	Breakers []struct {
		Subsystem string    `json:"subsystem"`
		Reason    string    `json:"reason"`
		LatchedAt time.Time `json:"latched_at"`
	} `json:"breakers"`
	AuditEntries int64 `json:"audit_entries"`
}

func runStatus(cmd *cobra.Command, args []string) {
	resp, err := apiGet("/v1/status")
	if err != nil {
		log.Fatalf("Failed to reach homeostat at %s: %v", getHomeostatBaseURL(), err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		log.Fatalf("Status request failed: %v", apiError(resp))
	}

	var status statusReply
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		log.Fatalf("Failed to decode the status reply: %v", err)
	}

	ux.Title("Homeostat " + getHomeostatBaseURL())
	ux.KV("time", status.Time)
	ux.KV("queue depth", strconv.Itoa(status.Queue.Depth))
	ux.KV("budget", fmt.Sprintf("%.1fs used of %.0fs (%s)",
		status.Budget.Used, status.Budget.Cap, status.Budget.Date))
	ux.KV("remaining", fmt.Sprintf("%.1fs", status.Budget.Remaining))

	windowState := "closed"
	if status.Window.Open {
		windowState = "open"
	}
	ux.KV("window", fmt.Sprintf("%s (%s)", status.Window.Spec, windowState))
	if !status.Window.Open {
		ux.KV("next open", status.Window.NextOpen)
	}

	ux.KV("zooids", formatZooidCounts(status.Zooids))
	ux.KV("audit entries", strconv.FormatInt(status.AuditEntries, 10))

	if len(status.Breakers) == 0 {
		ux.KV("breakers", "none")
		return
	}
	for _, b := range status.Breakers {
		ux.Warning(fmt.Sprintf("breaker latched: %s since %s (%s)",
			b.Subsystem, b.LatchedAt.Format(time.RFC3339), b.Reason))
	}
}

// formatZooidCounts renders state counts in a stable order.
func formatZooidCounts(counts map[string]int) string {
	if len(counts) == 0 {
		return "none"
	}
	states := make([]string, 0, len(counts))
	for state := range counts {
		states = append(states, state)
	}
	sort.Strings(states)

	out := ""
	for i, state := range states {
		if i > 0 {
			out += ", "
		}
		out += fmt.Sprintf("%d %s", counts[state], state)
	}
	return out
}

// tickReply mirrors POST /v1/tick. Duration arrives in nanoseconds.
type tickReply struct {
	Result    string `json:"result"`
	IntentID  string `json:"intent_id"`
	Type      string `json:"type"`
	Subsystem string `json:"subsystem"`
	Outcome   string `json:"outcome"`
	Reason    string `json:"reason"`
	Duration  int64  `json:"duration"`
}

func runTick(cmd *cobra.Command, args []string) {
	spin := ux.NewSpinner("Running tick")
	spin.Start()

	req, err := newAPIRequest(http.MethodPost, "/v1/tick", nil)
	if err != nil {
		spin.StopWithError(fmt.Sprintf("tick request: %v", err))
		os.Exit(1)
	}

	// A tick can span a full canary run, so give it room
	client := &http.Client{Timeout: 5 * time.Minute}
	resp, err := client.Do(req)
	if err != nil {
		spin.StopWithError(fmt.Sprintf("failed to reach homeostat at %s: %v",
			getHomeostatBaseURL(), err))
		os.Exit(1)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		spin.StopWithError(fmt.Sprintf("tick failed: %v", apiError(resp)))
		os.Exit(1)
	}

	var out tickReply
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		spin.StopWithError(fmt.Sprintf("failed to decode the tick reply: %v", err))
		os.Exit(1)
	}

	took := time.Duration(out.Duration).Round(time.Millisecond)
	switch out.Result {
	case "processed":
		spin.StopWithSuccess(fmt.Sprintf("tick processed %s %s: %s (%s) in %s",
			out.Type, out.Subsystem, out.Outcome, out.Reason, took))
	case "idle":
		spin.Stop()
		ux.Muted("tick idle: nothing pending")
	case "window_closed":
		spin.StopWithWarning("tick deferred: the maintenance window is closed")
	default:
		spin.StopWithError(fmt.Sprintf("tick ended with %s: %s", out.Result, out.Reason))
		os.Exit(1)
	}
}
