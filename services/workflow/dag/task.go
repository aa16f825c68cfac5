// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package dag provides the task and dependency-graph model for workflow runs.
//
// A DAG is built once from a list of TaskSpecs and then owned by exactly one
// run. Construction is atomic: a graph with a cycle or a dangling dependency
// reference is rejected and never partially exposed. After construction the
// graph is mutated only through validated state transitions, so a task can
// never be moved to a terminal state twice.
package dag

import "encoding/json"

// TaskState is the lifecycle state of a single task within a run.
type TaskState string

const (
	// TaskPending means the task is waiting for its dependencies.
	TaskPending TaskState = "pending"

	// TaskReady means all dependencies succeeded and the task is queued
	// for dispatch.
	TaskReady TaskState = "ready"

	// TaskDispatching means a worker owns the task and the collaborator
	// call is in progress.
	TaskDispatching TaskState = "dispatching"

	// TaskSucceeded is terminal: the collaborator returned a result.
	TaskSucceeded TaskState = "succeeded"

	// TaskFailed is terminal: retries were exhausted or the error was
	// permanent.
	TaskFailed TaskState = "failed"

	// TaskVetoed is terminal: a domain authority blocked dispatch.
	TaskVetoed TaskState = "vetoed"

	// TaskSkipped is terminal: an upstream dependency failed or was
	// vetoed, so this task was cancelled without executing.
	TaskSkipped TaskState = "skipped"
)

// IsTerminal reports whether the state is final for the run.
func (s TaskState) IsTerminal() bool {
	switch s {
	case TaskSucceeded, TaskFailed, TaskVetoed, TaskSkipped:
		return true
	default:
		return false
	}
}

// blocksDependents reports whether a dependency in this state prevents its
// dependents from ever becoming ready.
func (s TaskState) blocksDependents() bool {
	switch s {
	case TaskFailed, TaskVetoed, TaskSkipped:
		return true
	default:
		return false
	}
}

// TaskSpec is the external description of one task in a submitted workflow.
//
// The payload is opaque to the core; it is forwarded verbatim to the
// collaborator that executes the task.
type TaskSpec struct {
	ID        string          `json:"id" binding:"required"`
	Type      string          `json:"type" binding:"required"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	DependsOn []string        `json:"depends_on,omitempty"`
}

// Task is a node in a built DAG.
//
// Thread Safety: Task is NOT safe for concurrent use on its own. All access
// goes through the owning run's single-writer lock (see scheduler.Run).
type Task struct {
	ID           string
	Type         string
	Payload      json.RawMessage
	DependsOn    []string
	State        TaskState
	Result       json.RawMessage
	Error        string
	AttemptCount int
}
