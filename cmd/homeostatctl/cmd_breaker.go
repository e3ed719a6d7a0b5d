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
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianHomeostat/pkg/ux"
)

func runShowBreaker(cmd *cobra.Command, args []string) {
	subsystem := args[0]

	resp, err := apiGet("/v1/breaker/" + subsystem)
	if err != nil {
		log.Fatalf("Failed to reach homeostat at %s: %v", getHomeostatBaseURL(), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		ux.Success(fmt.Sprintf("no breaker latched for %s; tuning may proceed", subsystem))
		return
	}
	if resp.StatusCode != http.StatusOK {
		log.Fatalf("Breaker request failed: %v", apiError(resp))
	}

	var state struct {
		Subsystem string    `json:"subsystem"`
		Reason    string    `json:"reason"`
		IntentID  string    `json:"intent_id"`
		LatchedAt time.Time `json:"latched_at"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&state); err != nil {
		log.Fatalf("Failed to decode the breaker reply: %v", err)
	}

	ux.Warning(fmt.Sprintf("breaker latched for %s", state.Subsystem))
	ux.KV("since", state.LatchedAt.Format(time.RFC3339))
	ux.KV("reason", state.Reason)
	if state.IntentID != "" {
		ux.KV("intent", state.IntentID)
	}
}

func runClearBreaker(cmd *cobra.Command, args []string) {
	subsystem := args[0]

	if actorName == "" {
		log.Fatalf("--actor is required")
	}
	if actionReason == "" {
		log.Fatalf("--reason is required")
	}

	payload := map[string]interface{}{
		"actor":  actorName,
		"reason": actionReason,
	}

	resp, err := apiPost("/v1/breaker/"+subsystem+"/clear", payload)
	if err != nil {
		log.Fatalf("Failed to reach homeostat at %s: %v", getHomeostatBaseURL(), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		ux.Muted(fmt.Sprintf("no breaker latched for %s", subsystem))
		return
	}
	if resp.StatusCode != http.StatusOK {
		log.Fatalf("Breaker clear failed: %v", apiError(resp))
	}

	var out struct {
		Status      string `json:"status"`
		Subsystem   string `json:"subsystem"`
		LatchReason string `json:"latch_reason"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		log.Fatalf("Failed to decode the clear reply: %v", err)
	}

	ux.Success(fmt.Sprintf("cleared the %s breaker (was: %s)",
		out.Subsystem, out.LatchReason))
}
