// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/kodiak/services/workflow/audit"
	"github.com/AleutianAI/kodiak/services/workflow/authority"
	"github.com/AleutianAI/kodiak/services/workflow/collaborator"
	"github.com/AleutianAI/kodiak/services/workflow/scheduler"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// echoCollaborator succeeds immediately, echoing the task id.
type echoCollaborator struct{}

func (echoCollaborator) Name() string { return "echo" }

func (echoCollaborator) Execute(ctx context.Context, req collaborator.Request) (collaborator.Result, error) {
	out, _ := json.Marshal(map[string]string{"task": req.TaskID})
	return collaborator.Result{Output: out}, nil
}

func newTestRouter(t *testing.T) (*gin.Engine, *scheduler.Engine) {
	t.Helper()

	sink := audit.NewMemorySink()
	t.Cleanup(func() { sink.Close() })
	enforcer := authority.NewEnforcer(authority.EmptyMatrix(), sink, nil)

	collabRouter := collaborator.NewRouter()
	collabRouter.Register("codegen", echoCollaborator{})

	cfg := scheduler.DefaultConfig()
	cfg.RetryBaseDelay = time.Microsecond
	cfg.RetryMaxDelay = time.Millisecond
	engine, err := scheduler.NewEngine(cfg, collabRouter, enforcer, sink, nil)
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		engine.Shutdown(ctx)
	})

	router := gin.New()
	router.GET("/health", HealthCheck)
	router.POST("/v1/runs", SubmitRun(engine))
	router.GET("/v1/runs", ListRuns(engine))
	router.GET("/v1/runs/:runId", GetRun(engine))
	router.POST("/v1/runs/:runId/cancel", CancelRun(engine))
	router.POST("/v1/runs/:runId/tasks/:taskId/override", OverrideTask(engine))
	router.GET("/v1/runs/:runId/audit", ListAudit(engine))
	return router, engine
}

func doJSON(router *gin.Engine, method, path string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		json.NewEncoder(&buf).Encode(body)
	}
	req, _ := http.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestHealthCheck_ReturnsOK(t *testing.T) {
	router, _ := newTestRouter(t)
	w := doJSON(router, "GET", "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestSubmitRun_Accepted(t *testing.T) {
	router, engine := newTestRouter(t)

	w := doJSON(router, "POST", "/v1/runs", gin.H{
		"tasks": []gin.H{
			{"id": "a", "type": "codegen"},
			{"id": "b", "type": "codegen", "depends_on": []string{"a"}},
		},
	})
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())

	var resp SubmitRunResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.RunID)

	require.Eventually(t, func() bool {
		snap, err := engine.Snapshot(resp.RunID)
		return err == nil && snap.Status == scheduler.RunCompleted
	}, 5*time.Second, 5*time.Millisecond)
}

func TestSubmitRun_RejectsCycle(t *testing.T) {
	router, _ := newTestRouter(t)

	w := doJSON(router, "POST", "/v1/runs", gin.H{
		"tasks": []gin.H{
			{"id": "a", "type": "codegen", "depends_on": []string{"b"}},
			{"id": "b", "type": "codegen", "depends_on": []string{"a"}},
		},
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "cycle")
}

func TestSubmitRun_RejectsEmptyBody(t *testing.T) {
	router, _ := newTestRouter(t)

	w := doJSON(router, "POST", "/v1/runs", gin.H{"tasks": []gin.H{}})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(router, "POST", "/v1/runs", gin.H{
		"tasks": []gin.H{{"id": "a"}}, // missing type
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetRun_SnapshotAndNotFound(t *testing.T) {
	router, engine := newTestRouter(t)

	w := doJSON(router, "POST", "/v1/runs", gin.H{
		"tasks": []gin.H{{"id": "a", "type": "codegen"}},
	})
	require.Equal(t, http.StatusAccepted, w.Code)
	var resp SubmitRunResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))

	require.Eventually(t, func() bool {
		snap, err := engine.Snapshot(resp.RunID)
		return err == nil && snap.Status.IsTerminal()
	}, 5*time.Second, 5*time.Millisecond)

	w = doJSON(router, "GET", "/v1/runs/"+resp.RunID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var snap scheduler.RunSnapshot
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &snap))
	assert.Equal(t, scheduler.RunCompleted, snap.Status)
	assert.Len(t, snap.Tasks, 1)

	w = doJSON(router, "GET", "/v1/runs/does-not-exist", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCancelRun_Statuses(t *testing.T) {
	router, engine := newTestRouter(t)

	w := doJSON(router, "POST", "/v1/runs", gin.H{
		"tasks": []gin.H{{"id": "a", "type": "codegen"}},
	})
	require.Equal(t, http.StatusAccepted, w.Code)
	var resp SubmitRunResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))

	require.Eventually(t, func() bool {
		snap, err := engine.Snapshot(resp.RunID)
		return err == nil && snap.Status.IsTerminal()
	}, 5*time.Second, 5*time.Millisecond)

	// Run already finished.
	w = doJSON(router, "POST", "/v1/runs/"+resp.RunID+"/cancel", nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = doJSON(router, "POST", "/v1/runs/missing/cancel", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestOverrideTask_Validation(t *testing.T) {
	router, _ := newTestRouter(t)

	w := doJSON(router, "POST", "/v1/runs/missing/tasks/t/override", gin.H{
		"authority": "rm", "justification": "approved",
	})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestListAudit_ReturnsTrail(t *testing.T) {
	router, engine := newTestRouter(t)

	w := doJSON(router, "POST", "/v1/runs", gin.H{
		"tasks": []gin.H{{"id": "a", "type": "codegen"}},
	})
	require.Equal(t, http.StatusAccepted, w.Code)
	var resp SubmitRunResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))

	require.Eventually(t, func() bool {
		snap, err := engine.Snapshot(resp.RunID)
		return err == nil && snap.Status.IsTerminal()
	}, 5*time.Second, 5*time.Millisecond)

	w = doJSON(router, "GET", "/v1/runs/"+resp.RunID+"/audit", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Records []audit.Record `json:"records"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.NotEmpty(t, body.Records)
}
