// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package handlers holds the gin handlers for the workflow API.
package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/kodiak/services/workflow/authority"
	"github.com/AleutianAI/kodiak/services/workflow/dag"
	"github.com/AleutianAI/kodiak/services/workflow/scheduler"
)

// SubmitRunRequest is the body of POST /v1/runs.
type SubmitRunRequest struct {
	Tasks []dag.TaskSpec `json:"tasks" binding:"required,min=1,dive"`
}

// SubmitRunResponse returns the id of an accepted run.
type SubmitRunResponse struct {
	RunID string `json:"run_id"`
}

// SubmitRun accepts a pre-built task list and starts a run.
//
// Outputs (HTTP):
//
//	202 - Run accepted; body carries the run id.
//	400 - Empty graph, duplicate/unknown task ids, or a dependency cycle.
//	503 - Engine is shutting down.
func SubmitRun(engine *scheduler.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req SubmitRunRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		runID, err := engine.Submit(c.Request.Context(), req.Tasks)
		if err != nil {
			var cycle *dag.CycleError
			var validation *dag.ValidationError
			switch {
			case errors.As(err, &cycle), errors.As(err, &validation),
				errors.Is(err, dag.ErrEmptyGraph):
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			case errors.Is(err, scheduler.ErrShuttingDown):
				c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
			default:
				slog.Error("run submission failed", "error", err)
				c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
			}
			return
		}
		c.JSON(http.StatusAccepted, SubmitRunResponse{RunID: runID})
	}
}

// GetRun returns the current snapshot of a run.
func GetRun(engine *scheduler.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		snap, err := engine.Snapshot(c.Param("runId"))
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, snap)
	}
}

// ListRuns returns summaries of all known runs.
func ListRuns(engine *scheduler.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"runs": engine.ListRuns()})
	}
}

// CancelRun requests cancellation of a running run.
//
// Outputs (HTTP):
//
//	202 - Cancellation requested; in-flight tasks drain cooperatively.
//	404 - Unknown run.
//	409 - Run already terminal.
func CancelRun(engine *scheduler.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		runID := c.Param("runId")
		err := engine.Cancel(runID)
		switch {
		case err == nil:
			c.JSON(http.StatusAccepted, gin.H{"run_id": runID, "status": "cancelling"})
		case errors.Is(err, scheduler.ErrRunNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		case errors.Is(err, scheduler.ErrRunFinished):
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		}
	}
}

// OverrideTask registers a soft-veto override for one task.
//
// Outputs (HTTP):
//
//	200 - Override registered for the task's next dispatch attempt.
//	400 - Missing authority or justification.
//	404 - Unknown run or task.
//	409 - Run already terminal.
func OverrideTask(engine *scheduler.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		var override authority.Override
		if err := c.ShouldBindJSON(&override); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		runID := c.Param("runId")
		taskID := c.Param("taskId")
		err := engine.Override(runID, taskID, override)
		switch {
		case err == nil:
			c.JSON(http.StatusOK, gin.H{"run_id": runID, "task_id": taskID, "status": "override_registered"})
		case errors.Is(err, authority.ErrInvalidOverride):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		case errors.Is(err, scheduler.ErrRunNotFound), errors.Is(err, dag.ErrUnknownTask):
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		case errors.Is(err, scheduler.ErrRunFinished):
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		}
	}
}

// ListAudit returns the run's append-only record trail.
func ListAudit(engine *scheduler.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		records, err := engine.Audit(c.Request.Context(), c.Param("runId"))
		if err != nil {
			if errors.Is(err, scheduler.ErrRunNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
				return
			}
			slog.Error("audit listing failed", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"records": records})
	}
}

// HealthCheck reports service liveness.
func HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
