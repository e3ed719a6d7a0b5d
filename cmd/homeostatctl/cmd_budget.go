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

// budgetReply mirrors GET /v1/budget/:date and the override response.
type budgetReply struct {
	Date      string  `json:"date"`
	Cap       float64 `json:"cap"`
	Used      float64 `json:"used"`
	Remaining float64 `json:"remaining"`
}

func runShowBudget(cmd *cobra.Command, args []string) {
	date := time.Now().Format("2006-01-02")
	if len(args) > 0 {
		date = args[0]
	}

	resp, err := apiGet("/v1/budget/" + date)
	if err != nil {
		log.Fatalf("Failed to reach homeostat at %s: %v", getHomeostatBaseURL(), err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		log.Fatalf("Budget request failed: %v", apiError(resp))
	}

	var out budgetReply
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		log.Fatalf("Failed to decode the budget reply: %v", err)
	}

	ux.Title("Disruption budget " + out.Date)
	ux.KV("cap", fmt.Sprintf("%.0fs", out.Cap))
	ux.KV("used", fmt.Sprintf("%.1fs", out.Used))
	ux.KV("remaining", fmt.Sprintf("%.1fs", out.Remaining))
}

func runOverrideBudget(cmd *cobra.Command, args []string) {
	if overrideSeconds <= 0 {
		log.Fatalf("--seconds must be positive")
	}
	if actorName == "" {
		log.Fatalf("--actor is required")
	}
	if actionReason == "" {
		log.Fatalf("--reason is required")
	}

	payload := map[string]interface{}{
		"seconds": overrideSeconds,
		"actor":   actorName,
		"reason":  actionReason,
	}

	resp, err := apiPost("/v1/budget/override", payload)
	if err != nil {
		log.Fatalf("Failed to reach homeostat at %s: %v", getHomeostatBaseURL(), err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		log.Fatalf("Budget override failed: %v", apiError(resp))
	}

	var out budgetReply
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		log.Fatalf("Failed to decode the override reply: %v", err)
	}

	ux.Success(fmt.Sprintf("credited %.1fs to %s; %.1fs remaining",
		overrideSeconds, out.Date, out.Remaining))
}
