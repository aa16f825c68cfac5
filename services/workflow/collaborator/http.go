// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package collaborator

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// HTTPCollaborator dispatches tasks to a remote agent over HTTP.
//
// Description:
//
//	Each Execute POSTs the request as JSON and carries the dispatch span
//	in a W3C traceparent header. Failures are classified for the retry
//	policy: network errors, timeouts, and 5xx responses are transient;
//	4xx responses are permanent because resending the same request will
//	produce the same rejection.
//
// Thread Safety:
//
//	Safe for concurrent use.
type HTTPCollaborator struct {
	name     string
	endpoint string
	client   *http.Client
}

// HTTPConfig configures one remote collaborator.
type HTTPConfig struct {
	// Name is the collaborator identity used for breaker and metric
	// labels.
	Name string `yaml:"name"`

	// Endpoint is the full URL POSTed to for every dispatch.
	Endpoint string `yaml:"endpoint"`

	// TaskTypes lists the task types routed to this collaborator.
	TaskTypes []string `yaml:"task_types"`

	// Timeout bounds one HTTP exchange. Zero means no client-level
	// timeout; the dispatch context still applies.
	Timeout time.Duration `yaml:"timeout"`
}

// NewHTTPCollaborator creates a collaborator for one remote endpoint.
func NewHTTPCollaborator(cfg HTTPConfig) (*HTTPCollaborator, error) {
	if cfg.Name == "" {
		return nil, errors.New("collaborator name is required")
	}
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("collaborator %s: endpoint is required", cfg.Name)
	}
	return &HTTPCollaborator{
		name:     cfg.Name,
		endpoint: cfg.Endpoint,
		client:   &http.Client{Timeout: cfg.Timeout},
	}, nil
}

// Name returns the collaborator identity.
func (c *HTTPCollaborator) Name() string {
	return c.name
}

// wireResponse is the collaborator protocol's response envelope.
type wireResponse struct {
	Status      string          `json:"status"`
	Result      json.RawMessage `json:"result,omitempty"`
	ErrorDetail string          `json:"error_detail,omitempty"`
}

// Execute POSTs the task and classifies the outcome.
func (c *HTTPCollaborator) Execute(ctx context.Context, req Request) (Result, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return Result{}, Permanent(fmt.Errorf("encode dispatch request: %w", err))
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return Result{}, Permanent(fmt.Errorf("build dispatch request: %w", err))
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("traceparent", req.Trace.Traceparent())

	resp, err := c.client.Do(httpReq)
	if err != nil {
		// Cancellation is surfaced as-is so callers can tell a cancelled
		// dispatch from a network failure.
		if errors.Is(err, context.Canceled) {
			return Result{}, context.Canceled
		}
		return Result{}, Transient(fmt.Errorf("call %s: %w", c.name, err))
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return Result{}, Transient(fmt.Errorf("read %s response: %w", c.name, err))
	}

	switch {
	case resp.StatusCode >= 500:
		return Result{}, Transient(fmt.Errorf("%s returned %d: %s", c.name, resp.StatusCode, truncate(payload)))
	case resp.StatusCode >= 400:
		return Result{}, Permanent(fmt.Errorf("%s rejected request with %d: %s", c.name, resp.StatusCode, truncate(payload)))
	}

	var wire wireResponse
	if err := json.Unmarshal(payload, &wire); err != nil {
		return Result{}, Transient(fmt.Errorf("decode %s response: %w", c.name, err))
	}
	if wire.Status != "success" {
		// The collaborator answered coherently and said no. Its own
		// error detail decides nothing about retryability, so treat an
		// application-level error as permanent.
		return Result{}, Permanent(fmt.Errorf("%s reported error: %s", c.name, wire.ErrorDetail))
	}
	return Result{Output: wire.Result}, nil
}

func truncate(b []byte) string {
	const max = 256
	if len(b) <= max {
		return string(b)
	}
	return string(b[:max]) + "..."
}
