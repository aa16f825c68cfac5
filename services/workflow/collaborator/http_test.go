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
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/kodiak/services/workflow/tracing"
)

func testCollaborator(t *testing.T, handler http.HandlerFunc) *HTTPCollaborator {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	c, err := NewHTTPCollaborator(HTTPConfig{Name: "codegen", Endpoint: server.URL})
	require.NoError(t, err)
	return c
}

func testRequest() Request {
	return Request{
		RunID:    "run-1",
		TaskID:   "task-a",
		TaskType: "codegen",
		Payload:  json.RawMessage(`{"prompt":"hello"}`),
		Trace:    tracing.NewRootTrace(),
	}
}

// TestExecute_Success verifies the happy path carries payload and trace.
func TestExecute_Success(t *testing.T) {
	var gotTraceparent string
	var gotBody Request

	c := testCollaborator(t, func(w http.ResponseWriter, r *http.Request) {
		gotTraceparent = r.Header.Get("traceparent")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		json.NewEncoder(w).Encode(wireResponse{
			Status: "success",
			Result: json.RawMessage(`{"code":"done"}`),
		})
	})

	req := testRequest()
	res, err := c.Execute(context.Background(), req)
	require.NoError(t, err)
	assert.JSONEq(t, `{"code":"done"}`, string(res.Output))

	assert.Equal(t, req.Trace.Traceparent(), gotTraceparent)
	assert.Equal(t, "task-a", gotBody.TaskID)
	assert.Equal(t, req.Trace.TraceID, gotBody.Trace.TraceID)
}

// TestExecute_ServerErrorIsTransient verifies 5xx classification.
func TestExecute_ServerErrorIsTransient(t *testing.T) {
	c := testCollaborator(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	})

	_, err := c.Execute(context.Background(), testRequest())
	require.Error(t, err)
	assert.True(t, IsTransient(err), "5xx must be transient, got %v", err)
}

// TestExecute_ClientErrorIsPermanent verifies 4xx classification.
func TestExecute_ClientErrorIsPermanent(t *testing.T) {
	c := testCollaborator(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad payload", http.StatusBadRequest)
	})

	_, err := c.Execute(context.Background(), testRequest())
	require.Error(t, err)
	assert.True(t, IsPermanent(err), "4xx must be permanent, got %v", err)
}

// TestExecute_NetworkErrorIsTransient verifies connection failures retry.
func TestExecute_NetworkErrorIsTransient(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	endpoint := server.URL
	server.Close()

	c, err := NewHTTPCollaborator(HTTPConfig{Name: "codegen", Endpoint: endpoint})
	require.NoError(t, err)

	_, err = c.Execute(context.Background(), testRequest())
	require.Error(t, err)
	assert.True(t, IsTransient(err), "connection refused must be transient, got %v", err)
}

// TestExecute_ApplicationErrorIsPermanent verifies a coherent error response
// is not retried.
func TestExecute_ApplicationErrorIsPermanent(t *testing.T) {
	c := testCollaborator(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(wireResponse{
			Status:      "error",
			ErrorDetail: "unknown operation",
		})
	})

	_, err := c.Execute(context.Background(), testRequest())
	require.Error(t, err)
	assert.True(t, IsPermanent(err))
	assert.Contains(t, err.Error(), "unknown operation")
}

// TestExecute_CancellationSurfaces verifies ctx cancel is not wrapped as a
// collaborator failure.
func TestExecute_CancellationSurfaces(t *testing.T) {
	started := make(chan struct{})
	c := testCollaborator(t, func(w http.ResponseWriter, r *http.Request) {
		// Drain the body so the server's background read can observe the
		// client disconnect and cancel r.Context().
		io.Copy(io.Discard, r.Body)
		close(started)
		<-r.Context().Done()
	})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-started
		cancel()
	}()

	_, err := c.Execute(ctx, testRequest())
	require.ErrorIs(t, err, context.Canceled)
	assert.False(t, IsTransient(err))
	assert.False(t, IsPermanent(err))
}

// TestParseRouter verifies registry loading and duplicate detection.
func TestParseRouter(t *testing.T) {
	router, err := ParseRouter([]byte(`
collaborators:
  - name: codegen
    endpoint: http://localhost:9001/dispatch
    task_types: ["codegen", "refactor"]
  - name: review
    endpoint: http://localhost:9002/dispatch
    task_types: ["review"]
`))
	require.NoError(t, err)

	c, err := router.Route("refactor")
	require.NoError(t, err)
	assert.Equal(t, "codegen", c.Name())

	_, err = router.Route("unknown")
	assert.ErrorIs(t, err, ErrNoCollaborator)

	_, err = ParseRouter([]byte(`
collaborators:
  - name: a
    endpoint: http://localhost:9001
    task_types: ["codegen"]
  - name: b
    endpoint: http://localhost:9002
    task_types: ["codegen"]
`))
	require.Error(t, err, "duplicate task types must fail the load")
}
