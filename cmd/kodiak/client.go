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
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// =============================================================================
// WIRE TYPES
// =============================================================================

// taskEntry mirrors one task in the submit request body. YAML tags let
// workflow files use the same field names as the API.
type taskEntry struct {
	ID        string          `json:"id" yaml:"id"`
	Type      string          `json:"type" yaml:"type"`
	Payload   json.RawMessage `json:"payload,omitempty" yaml:"-"`
	DependsOn []string        `json:"depends_on,omitempty" yaml:"depends_on"`

	// RawPayload holds the YAML form of the payload before conversion
	// to JSON.
	RawPayload map[string]any `json:"-" yaml:"payload"`
}

type submitRequest struct {
	Tasks []taskEntry `json:"tasks"`
}

type submitResponse struct {
	RunID string `json:"run_id"`
}

type taskSnapshot struct {
	ID           string   `json:"id"`
	Type         string   `json:"type"`
	DependsOn    []string `json:"depends_on"`
	State        string   `json:"state"`
	Result       string   `json:"result"`
	Error        string   `json:"error"`
	AttemptCount int      `json:"attempt_count"`
}

type runSnapshot struct {
	RunID      string         `json:"run_id"`
	Status     string         `json:"status"`
	TraceID    string         `json:"trace_id"`
	CreatedAt  time.Time      `json:"created_at"`
	FinishedAt *time.Time     `json:"finished_at"`
	Tasks      []taskSnapshot `json:"tasks"`
}

type auditRecord struct {
	Seq  uint64 `json:"seq"`
	Kind string `json:"kind"`
	Veto *struct {
		TaskID         string    `json:"task_id"`
		Domain         string    `json:"domain"`
		AuthorityAgent string    `json:"authority_agent"`
		Decision       string    `json:"decision"`
		Justification  string    `json:"justification"`
		Timestamp      time.Time `json:"timestamp"`
	} `json:"veto"`
	Event *struct {
		TaskID    string    `json:"task_id"`
		State     string    `json:"state"`
		Error     string    `json:"error"`
		Timestamp time.Time `json:"timestamp"`
	} `json:"event"`
}

// =============================================================================
// API CLIENT
// =============================================================================

// apiClient is a thin HTTP client for the workflow service.
type apiClient struct {
	baseURL string
	http    *http.Client
}

func newAPIClient() *apiClient {
	return &apiClient{
		baseURL: strings.TrimRight(serverURL, "/"),
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

// call issues one request and decodes the JSON response into out (when
// out is non-nil). Non-2xx responses become errors carrying the
// server's error message.
func (c *apiClient) call(ctx context.Context, method, path string, body, out any) error {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	logger.Debug("api request", "method", method, "url", req.URL.String())

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("call %s: %w", c.baseURL, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var apiErr struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(data, &apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("server returned %d: %s", resp.StatusCode, apiErr.Error)
		}
		return fmt.Errorf("server returned %d", resp.StatusCode)
	}

	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

// websocketURL converts the base URL into the ws:// form for the run
// event stream.
func (c *apiClient) websocketURL(path string) string {
	url := c.baseURL + path
	if strings.HasPrefix(url, "https://") {
		return "wss://" + strings.TrimPrefix(url, "https://")
	}
	return "ws://" + strings.TrimPrefix(url, "http://")
}
