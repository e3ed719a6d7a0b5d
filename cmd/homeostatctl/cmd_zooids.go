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
	"net/url"
	"strings"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianHomeostat/pkg/ux"
	"github.com/AleutianAI/AleutianHomeostat/services/homeostat/datatypes"
)

func runListZooids(cmd *cobra.Command, args []string) {
	path := "/v1/zooids"
	if zooidState != "" {
		path += "?state=" + url.QueryEscape(zooidState)
	}

	resp, err := apiGet(path)
	if err != nil {
		log.Fatalf("Failed to reach homeostat at %s: %v", getHomeostatBaseURL(), err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		log.Fatalf("Listing zooids failed: %v", apiError(resp))
	}

	var out struct {
		Count  int               `json:"count"`
		Zooids []datatypes.Zooid `json:"zooids"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		log.Fatalf("Failed to decode the zooid list: %v", err)
	}

	if out.Count == 0 {
		ux.Muted("no zooids")
		return
	}

	ux.Title(fmt.Sprintf("%d zooids", out.Count))
	fmt.Printf("%-38s %-14s %-10s %-9s %-9s %s\n",
		"ID", "NICHE", "STATE", "FITNESS", "OK-RATE", "EVIDENCE")
	fmt.Println(strings.Repeat("-", 96))
	for _, z := range out.Zooids {
		fmt.Printf("%-38s %-14s %-10s %-9.3f %-9.2f %d\n",
			z.ID, z.Niche, z.State, z.Fitness, z.OKRate, z.Evidence)
	}
}

func runSpawnZooid(cmd *cobra.Command, args []string) {
	if zooidNiche == "" {
		log.Fatalf("--niche is required")
	}

	genome, err := parsePairs(args)
	if err != nil {
		log.Fatalf("Invalid genome: %v", err)
	}

	payload := map[string]interface{}{
		"niche":  zooidNiche,
		"genome": genome,
	}

	resp, err := apiPost("/v1/zooids", payload)
	if err != nil {
		log.Fatalf("Failed to reach homeostat at %s: %v", getHomeostatBaseURL(), err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		log.Fatalf("Spawn rejected: %v", apiError(resp))
	}

	var z datatypes.Zooid
	if err := json.NewDecoder(resp.Body).Decode(&z); err != nil {
		log.Fatalf("Failed to decode the spawn reply: %v", err)
	}

	ux.Success(fmt.Sprintf("spawned %s zooid %s in %s", z.State, z.ID, z.Niche))
}
