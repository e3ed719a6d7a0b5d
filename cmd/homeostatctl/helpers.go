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
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Constants for default connection settings
const (
	DefaultHomeostatPort = 8095
	DefaultHomeostatHost = "localhost"
)

// getHomeostatBaseURL resolves the service address. The HOMEOSTAT_URL
// environment variable wins; otherwise the default local address.
func getHomeostatBaseURL() string {
	if url := os.Getenv("HOMEOSTAT_URL"); url != "" {
		return strings.TrimSuffix(url, "/")
	}
	return fmt.Sprintf("http://%s:%d", DefaultHomeostatHost, DefaultHomeostatPort)
}

// newAPIRequest builds a request against the homeostat API with the
// bearer token attached when HOMEOSTAT_API_TOKEN is set.
func newAPIRequest(method, path string, payload interface{}) (*http.Request, error) {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		body = bytes.NewBuffer(data)
	}
	req, err := http.NewRequest(method, getHomeostatBaseURL()+path, body)
	if err != nil {
		return nil, err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token := os.Getenv("HOMEOSTAT_API_TOKEN"); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req, nil
}

// apiGet issues a GET against the homeostat API.
func apiGet(path string) (*http.Response, error) {
	req, err := newAPIRequest(http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	client := &http.Client{Timeout: 30 * time.Second}
	return client.Do(req)
}

// apiPost issues a JSON POST against the homeostat API.
func apiPost(path string, payload interface{}) (*http.Response, error) {
	req, err := newAPIRequest(http.MethodPost, path, payload)
	if err != nil {
		return nil, err
	}
	client := &http.Client{Timeout: 30 * time.Second}
	return client.Do(req)
}

// apiError extracts the server's error message from a non-2xx reply.
func apiError(resp *http.Response) error {
	body, _ := io.ReadAll(resp.Body)
	var msg struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(body, &msg); err == nil && msg.Error != "" {
		return fmt.Errorf("%s (status %d)", msg.Error, resp.StatusCode)
	}
	return fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
}

// parsePairs converts name=value arguments into a float map. Used for
// observed metrics and genomes.
func parsePairs(args []string) (map[string]float64, error) {
	if len(args) == 0 {
		return nil, nil
	}
	pairs := make(map[string]float64, len(args))
	for _, arg := range args {
		key, raw, ok := strings.Cut(arg, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("expected name=value, got %q", arg)
		}
		val, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid number in %q: %v", arg, err)
		}
		pairs[key] = val
	}
	return pairs, nil
}

// expandHome resolves a leading ~ in CLI paths.
func expandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, strings.TrimPrefix(path, "~"))
	}
	return path
}
