// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package dag

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for the dag package.
var (
	// ErrUnknownTask indicates an operation referenced a task id not in
	// the graph.
	ErrUnknownTask = errors.New("unknown task")

	// ErrEmptyGraph indicates a submission with no tasks.
	ErrEmptyGraph = errors.New("workflow contains no tasks")
)

// ValidationError indicates a malformed submission: duplicate ids or a
// dependency reference to a task that does not exist. The run never starts.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "invalid workflow: " + e.Reason
}

// CycleError indicates the submitted dependency edges form a cycle.
// Tasks reports the ids that could not be topologically ordered.
type CycleError struct {
	Tasks []string
}

func (e *CycleError) Error() string {
	return "dependency cycle involving tasks: " + strings.Join(e.Tasks, ", ")
}

// TransitionError indicates a state transition that is not allowed or whose
// expected prior state did not match. The expected-state check makes dispatch
// races observable instead of silent.
type TransitionError struct {
	TaskID   string
	From, To TaskState
	Actual   TaskState
}

func (e *TransitionError) Error() string {
	if e.Actual != e.From {
		return fmt.Sprintf("task %q: expected state %s, found %s", e.TaskID, e.From, e.Actual)
	}
	return fmt.Sprintf("task %q: transition %s -> %s not allowed", e.TaskID, e.From, e.To)
}
