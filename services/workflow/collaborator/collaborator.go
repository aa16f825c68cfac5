// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package collaborator abstracts the external agents that execute tasks.
//
// The scheduler never talks to a network endpoint directly; it routes each
// task by type to a registered Collaborator, whose errors are classified as
// transient or permanent so the retry policy can tell them apart.
package collaborator

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/AleutianAI/kodiak/services/workflow/tracing"
)

// Request is one task dispatch handed to a collaborator.
type Request struct {
	RunID    string          `json:"run_id"`
	TaskID   string          `json:"task_id"`
	TaskType string          `json:"task_type"`
	Payload  json.RawMessage `json:"payload,omitempty"`

	// Trace identifies this dispatch's span so the collaborator can
	// continue the same trace.
	Trace tracing.TraceContext `json:"trace"`
}

// Result is a collaborator's successful response.
type Result struct {
	Output json.RawMessage `json:"output,omitempty"`
}

// Collaborator executes tasks of the types it was registered for.
//
// Execute must classify its failures: return a TransientError for outcomes
// worth retrying and a PermanentError otherwise. Unclassified errors are
// treated as permanent.
type Collaborator interface {
	// Name identifies the collaborator for breaker and metric labels.
	Name() string

	// Execute performs one task. It must honor ctx cancellation.
	Execute(ctx context.Context, req Request) (Result, error)
}

// Router maps task types to collaborators.
//
// Thread Safety:
//
//	Safe for concurrent use. Registration normally happens at startup,
//	but the lock makes late registration safe too.
type Router struct {
	mu    sync.RWMutex
	byTyp map[string]Collaborator
}

// NewRouter creates an empty router.
func NewRouter() *Router {
	return &Router{byTyp: make(map[string]Collaborator)}
}

// Register binds a task type to a collaborator, replacing any previous
// binding for that type.
func (r *Router) Register(taskType string, c Collaborator) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byTyp[taskType] = c
}

// Route returns the collaborator for a task type.
func (r *Router) Route(taskType string) (Collaborator, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.byTyp[taskType]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoCollaborator, taskType)
	}
	return c, nil
}

// TaskTypes returns the registered task types, for startup logging.
func (r *Router) TaskTypes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.byTyp))
	for t := range r.byTyp {
		out = append(out, t)
	}
	return out
}
