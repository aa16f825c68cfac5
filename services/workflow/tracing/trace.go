// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package tracing carries W3C-style trace identity through a run.
//
// Each run owns one root trace; every task dispatch gets a child span under
// it. The identifiers ride along explicitly in collaborator requests and
// audit records so a run's full story can be stitched together across
// services, whether or not an OTLP exporter is configured.
package tracing

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
)

// TraceContext identifies one span within one trace.
type TraceContext struct {
	// TraceID is 32 lowercase hex characters shared by all spans in a run.
	TraceID string `json:"trace_id"`

	// SpanID is 16 lowercase hex characters unique to this span.
	SpanID string `json:"span_id"`

	// ParentSpanID is the caller's span, empty for a root.
	ParentSpanID string `json:"parent_span_id,omitempty"`
}

// NewRootTrace creates a fresh trace with a root span.
func NewRootTrace() TraceContext {
	return TraceContext{
		TraceID: randomHex(16),
		SpanID:  randomHex(8),
	}
}

// NewChildSpan derives a new span in the same trace.
func (tc TraceContext) NewChildSpan() TraceContext {
	return TraceContext{
		TraceID:      tc.TraceID,
		SpanID:       randomHex(8),
		ParentSpanID: tc.SpanID,
	}
}

// Traceparent renders the context as a W3C traceparent header value.
func (tc TraceContext) Traceparent() string {
	return fmt.Sprintf("00-%s-%s-01", tc.TraceID, tc.SpanID)
}

// ParseTraceparent parses a W3C traceparent header value.
//
// Only version 00 is accepted. The flags field is validated for shape and
// otherwise ignored.
func ParseTraceparent(header string) (TraceContext, error) {
	parts := strings.Split(strings.TrimSpace(header), "-")
	if len(parts) != 4 {
		return TraceContext{}, fmt.Errorf("traceparent: expected 4 fields, got %d", len(parts))
	}
	if parts[0] != "00" {
		return TraceContext{}, fmt.Errorf("traceparent: unsupported version %q", parts[0])
	}
	if !isHex(parts[1], 32) || allZero(parts[1]) {
		return TraceContext{}, fmt.Errorf("traceparent: invalid trace id %q", parts[1])
	}
	if !isHex(parts[2], 16) || allZero(parts[2]) {
		return TraceContext{}, fmt.Errorf("traceparent: invalid span id %q", parts[2])
	}
	if !isHex(parts[3], 2) {
		return TraceContext{}, fmt.Errorf("traceparent: invalid flags %q", parts[3])
	}
	return TraceContext{TraceID: parts[1], SpanID: parts[2]}, nil
}

// randomHex returns 2*n lowercase hex characters from crypto/rand.
func randomHex(n int) string {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand never fails on supported platforms.
		panic(err)
	}
	return hex.EncodeToString(buf)
}

func isHex(s string, length int) bool {
	if len(s) != length {
		return false
	}
	for _, c := range s {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}

func allZero(s string) bool {
	return strings.Trim(s, "0") == ""
}
