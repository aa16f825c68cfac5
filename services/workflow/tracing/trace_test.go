// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package tracing

import (
	"strings"
	"testing"
)

func TestNewRootTrace_Shape(t *testing.T) {
	tc := NewRootTrace()
	if !isHex(tc.TraceID, 32) {
		t.Errorf("trace id %q is not 32 hex chars", tc.TraceID)
	}
	if !isHex(tc.SpanID, 16) {
		t.Errorf("span id %q is not 16 hex chars", tc.SpanID)
	}
	if tc.ParentSpanID != "" {
		t.Errorf("root span must have no parent, got %q", tc.ParentSpanID)
	}
}

func TestNewRootTrace_Unique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		tc := NewRootTrace()
		if seen[tc.TraceID] {
			t.Fatalf("duplicate trace id %q", tc.TraceID)
		}
		seen[tc.TraceID] = true
	}
}

func TestNewChildSpan_SharesTraceLinksParent(t *testing.T) {
	root := NewRootTrace()
	child := root.NewChildSpan()

	if child.TraceID != root.TraceID {
		t.Errorf("child trace id %q != root %q", child.TraceID, root.TraceID)
	}
	if child.SpanID == root.SpanID {
		t.Error("child must get a new span id")
	}
	if child.ParentSpanID != root.SpanID {
		t.Errorf("child parent %q != root span %q", child.ParentSpanID, root.SpanID)
	}

	grandchild := child.NewChildSpan()
	if grandchild.TraceID != root.TraceID {
		t.Error("grandchild must stay in the same trace")
	}
	if grandchild.ParentSpanID != child.SpanID {
		t.Error("grandchild must link to the child span")
	}
}

func TestTraceparent_RoundTrip(t *testing.T) {
	root := NewRootTrace()
	header := root.Traceparent()

	if !strings.HasPrefix(header, "00-") || !strings.HasSuffix(header, "-01") {
		t.Fatalf("unexpected traceparent shape %q", header)
	}

	parsed, err := ParseTraceparent(header)
	if err != nil {
		t.Fatalf("ParseTraceparent: %v", err)
	}
	if parsed.TraceID != root.TraceID || parsed.SpanID != root.SpanID {
		t.Errorf("round trip mismatch: got %+v, want %+v", parsed, root)
	}
}

func TestParseTraceparent_Rejects(t *testing.T) {
	cases := []struct {
		name   string
		header string
	}{
		{"empty", ""},
		{"too few fields", "00-abc"},
		{"bad version", "01-0af7651916cd43dd8448eb211c80319c-b7ad6b7169203331-01"},
		{"short trace id", "00-0af7-b7ad6b7169203331-01"},
		{"uppercase hex", "00-0AF7651916CD43DD8448EB211C80319C-b7ad6b7169203331-01"},
		{"zero trace id", "00-00000000000000000000000000000000-b7ad6b7169203331-01"},
		{"zero span id", "00-0af7651916cd43dd8448eb211c80319c-0000000000000000-01"},
		{"bad flags", "00-0af7651916cd43dd8448eb211c80319c-b7ad6b7169203331-0x"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := ParseTraceparent(tc.header); err == nil {
				t.Errorf("expected error for %q", tc.header)
			}
		})
	}
}

func TestParseTraceparent_Valid(t *testing.T) {
	parsed, err := ParseTraceparent("00-0af7651916cd43dd8448eb211c80319c-b7ad6b7169203331-01")
	if err != nil {
		t.Fatalf("ParseTraceparent: %v", err)
	}
	if parsed.TraceID != "0af7651916cd43dd8448eb211c80319c" {
		t.Errorf("unexpected trace id %q", parsed.TraceID)
	}
	if parsed.SpanID != "b7ad6b7169203331" {
		t.Errorf("unexpected span id %q", parsed.SpanID)
	}
}
