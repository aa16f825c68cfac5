// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package scheduler

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/AleutianAI/kodiak/services/workflow/dag"
	"github.com/AleutianAI/kodiak/services/workflow/tracing"
)

// RunStatus is the lifecycle status of a workflow run.
type RunStatus string

const (
	// RunRunning means the scheduler is still dispatching or draining.
	RunRunning RunStatus = "running"

	// RunCompleted is terminal: every task succeeded or was skipped.
	RunCompleted RunStatus = "completed"

	// RunFailed is terminal: at least one task failed or was vetoed.
	RunFailed RunStatus = "failed"

	// RunCancelled is terminal: an external cancel stopped new dispatch.
	RunCancelled RunStatus = "cancelled"
)

// IsTerminal reports whether the status is final.
func (s RunStatus) IsTerminal() bool {
	return s != RunRunning
}

// Event is one observable state change within a run, streamed to
// subscribers and mirrored into the audit trail.
type Event struct {
	RunID     string    `json:"run_id"`
	TaskID    string    `json:"task_id,omitempty"`
	TaskState string    `json:"task_state,omitempty"`
	RunStatus RunStatus `json:"run_status"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Run owns one workflow execution.
//
// Description:
//
//	The run is the single writer for its DAG: every state transition and
//	readiness recomputation happens under mu, while the actual
//	collaborator calls run outside it. That split is what allows parallel
//	dispatch with at-most-one-execution per task.
//
// Thread Safety:
//
//	All fields below mu are guarded by it.
type Run struct {
	ID        string
	Trace     tracing.TraceContext
	CreatedAt time.Time

	cancel context.CancelFunc

	mu              sync.Mutex
	dag             *dag.DAG
	status          RunStatus
	cancelRequested bool
	finishedAt      time.Time
	subscribers     map[chan Event]struct{}
}

func newRun(id string, g *dag.DAG) *Run {
	return &Run{
		ID:          id,
		Trace:       tracing.NewRootTrace(),
		CreatedAt:   time.Now().UTC(),
		dag:         g,
		status:      RunRunning,
		subscribers: make(map[chan Event]struct{}),
	}
}

// Subscribe returns a channel of run events and a release function.
//
// Events are delivered best effort: a subscriber that stops draining its
// channel misses events rather than stalling the scheduler.
func (r *Run) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, 64)
	r.mu.Lock()
	r.subscribers[ch] = struct{}{}
	r.mu.Unlock()

	var once sync.Once
	release := func() {
		once.Do(func() {
			r.mu.Lock()
			delete(r.subscribers, ch)
			r.mu.Unlock()
			close(ch)
		})
	}
	return ch, release
}

// publishLocked fans an event out to subscribers. Caller holds mu.
func (r *Run) publishLocked(ev Event) {
	ev.RunID = r.ID
	ev.RunStatus = r.status
	ev.Timestamp = time.Now().UTC()
	for ch := range r.subscribers {
		select {
		case ch <- ev:
		default:
		}
	}
}

// TaskSnapshot is the immutable view of one task in a status response.
type TaskSnapshot struct {
	ID           string   `json:"id"`
	Type         string   `json:"type"`
	DependsOn    []string `json:"depends_on,omitempty"`
	State        string   `json:"state"`
	Result       string   `json:"result,omitempty"`
	Error        string   `json:"error,omitempty"`
	AttemptCount int      `json:"attempt_count"`
}

// RunSnapshot is the immutable view of a run in a status response.
//
// Tasks are ordered by id, so two snapshots of an unchanged run serialize
// byte-identically. Status queries are read-only and idempotent.
type RunSnapshot struct {
	RunID      string         `json:"run_id"`
	Status     RunStatus      `json:"status"`
	TraceID    string         `json:"trace_id"`
	CreatedAt  time.Time      `json:"created_at"`
	FinishedAt *time.Time     `json:"finished_at,omitempty"`
	Tasks      []TaskSnapshot `json:"tasks"`
}

// Snapshot returns a deep copy of the run's current state.
func (r *Run) Snapshot() RunSnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	snap := RunSnapshot{
		RunID:     r.ID,
		Status:    r.status,
		TraceID:   r.Trace.TraceID,
		CreatedAt: r.CreatedAt,
		Tasks:     make([]TaskSnapshot, 0, r.dag.Len()),
	}
	if !r.finishedAt.IsZero() {
		finished := r.finishedAt
		snap.FinishedAt = &finished
	}

	for _, id := range r.dag.TaskIDs() {
		t, _ := r.dag.Task(id)
		ts := TaskSnapshot{
			ID:           t.ID,
			Type:         t.Type,
			State:        string(t.State),
			Error:        t.Error,
			AttemptCount: t.AttemptCount,
		}
		if len(t.DependsOn) > 0 {
			ts.DependsOn = append([]string(nil), t.DependsOn...)
		}
		if len(t.Result) > 0 {
			ts.Result = string(t.Result)
		}
		snap.Tasks = append(snap.Tasks, ts)
	}
	sort.Slice(snap.Tasks, func(i, j int) bool {
		return snap.Tasks[i].ID < snap.Tasks[j].ID
	})
	return snap
}

// Status returns the current run status.
func (r *Run) Status() RunStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

// RunSummary is the list-view of one run.
type RunSummary struct {
	RunID     string    `json:"run_id"`
	Status    RunStatus `json:"status"`
	CreatedAt time.Time `json:"created_at"`
	TaskCount int       `json:"task_count"`
}

func (r *Run) summary() RunSummary {
	r.mu.Lock()
	defer r.mu.Unlock()
	return RunSummary{
		RunID:     r.ID,
		Status:    r.status,
		CreatedAt: r.CreatedAt,
		TaskCount: r.dag.Len(),
	}
}
