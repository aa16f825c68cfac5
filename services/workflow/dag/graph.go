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
	"fmt"
	"sort"
)

// DAG is the dependency graph for one workflow run.
//
// Description:
//
//	Holds the tasks, the edge set, and a topological order computed at
//	construction time. The topological order makes skip propagation a
//	single forward pass and keeps readiness output deterministic.
//
// Thread Safety:
//
//	DAG is NOT safe for concurrent use. The owning run serializes all
//	access behind its own mutex (single-writer model).
type DAG struct {
	tasks      map[string]*Task
	dependents map[string][]string
	topoOrder  []string
}

// BuildDAG validates the submitted specs and constructs a graph.
//
// Description:
//
//	Rejects duplicate ids, dependency references to unknown tasks, and
//	cyclic edge sets (Kahn's algorithm). Construction fails atomically:
//	on any error no DAG is returned and no task leaves Pending.
//
// Inputs:
//
//	specs - Task descriptions. Must be non-empty.
//
// Outputs:
//
//	*DAG - The built graph with every task in Pending state.
//	error - *ValidationError, *CycleError, or ErrEmptyGraph.
func BuildDAG(specs []TaskSpec) (*DAG, error) {
	if len(specs) == 0 {
		return nil, ErrEmptyGraph
	}

	tasks := make(map[string]*Task, len(specs))
	for _, spec := range specs {
		if spec.ID == "" {
			return nil, &ValidationError{Reason: "task with empty id"}
		}
		if _, dup := tasks[spec.ID]; dup {
			return nil, &ValidationError{Reason: fmt.Sprintf("duplicate task id %q", spec.ID)}
		}
		deps := make([]string, len(spec.DependsOn))
		copy(deps, spec.DependsOn)
		sort.Strings(deps)
		tasks[spec.ID] = &Task{
			ID:        spec.ID,
			Type:      spec.Type,
			Payload:   spec.Payload,
			DependsOn: deps,
			State:     TaskPending,
		}
	}

	dependents := make(map[string][]string, len(tasks))
	indegree := make(map[string]int, len(tasks))
	for id := range tasks {
		indegree[id] = 0
	}
	for _, t := range tasks {
		seen := make(map[string]bool, len(t.DependsOn))
		for _, dep := range t.DependsOn {
			if _, ok := tasks[dep]; !ok {
				return nil, &ValidationError{
					Reason: fmt.Sprintf("task %q depends on unknown task %q", t.ID, dep),
				}
			}
			if seen[dep] {
				continue
			}
			seen[dep] = true
			dependents[dep] = append(dependents[dep], t.ID)
			indegree[t.ID]++
		}
	}
	for dep := range dependents {
		sort.Strings(dependents[dep])
	}

	// Kahn's algorithm. Anything left unordered sits on or behind a cycle.
	frontier := make([]string, 0, len(tasks))
	for id, deg := range indegree {
		if deg == 0 {
			frontier = append(frontier, id)
		}
	}
	sort.Strings(frontier)

	topo := make([]string, 0, len(tasks))
	for len(frontier) > 0 {
		id := frontier[0]
		frontier = frontier[1:]
		topo = append(topo, id)

		next := make([]string, 0)
		for _, dep := range dependents[id] {
			indegree[dep]--
			if indegree[dep] == 0 {
				next = append(next, dep)
			}
		}
		sort.Strings(next)
		frontier = append(frontier, next...)
	}

	if len(topo) != len(tasks) {
		cyclic := make([]string, 0, len(tasks)-len(topo))
		for id, deg := range indegree {
			if deg > 0 {
				cyclic = append(cyclic, id)
			}
		}
		sort.Strings(cyclic)
		return nil, &CycleError{Tasks: cyclic}
	}

	return &DAG{
		tasks:      tasks,
		dependents: dependents,
		topoOrder:  topo,
	}, nil
}

// Len returns the number of tasks in the graph.
func (d *DAG) Len() int {
	return len(d.tasks)
}

// Task returns the task with the given id.
func (d *DAG) Task(id string) (*Task, bool) {
	t, ok := d.tasks[id]
	return t, ok
}

// TaskIDs returns all task ids in topological order.
func (d *DAG) TaskIDs() []string {
	out := make([]string, len(d.topoOrder))
	copy(out, d.topoOrder)
	return out
}

// Dependents returns the ids of tasks that depend directly on the given task.
func (d *DAG) Dependents(id string) []string {
	out := make([]string, len(d.dependents[id]))
	copy(out, d.dependents[id])
	return out
}

// Transition moves a task from an expected prior state to a new state.
//
// Description:
//
//	The caller supplies the expected prior state so that a lost dispatch
//	race surfaces as a *TransitionError rather than a double execution.
//	Allowed transitions:
//
//	  pending     -> ready | skipped
//	  ready       -> dispatching | vetoed
//	  dispatching -> succeeded | failed | vetoed
//
// Outputs:
//
//	error - ErrUnknownTask or *TransitionError; nil on success.
func (d *DAG) Transition(id string, from, to TaskState) error {
	t, ok := d.tasks[id]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownTask, id)
	}
	if t.State != from {
		return &TransitionError{TaskID: id, From: from, To: to, Actual: t.State}
	}
	if !allowedTransition(from, to) {
		return &TransitionError{TaskID: id, From: from, To: to, Actual: t.State}
	}
	t.State = to
	return nil
}

func allowedTransition(from, to TaskState) bool {
	switch from {
	case TaskPending:
		return to == TaskReady || to == TaskSkipped
	case TaskReady:
		return to == TaskDispatching || to == TaskVetoed
	case TaskDispatching:
		return to == TaskSucceeded || to == TaskFailed || to == TaskVetoed
	default:
		return false
	}
}

// PropagateSkips marks every pending task with a blocking dependency as
// Skipped, transitively.
//
// Description:
//
//	A task whose dependency failed, was vetoed, or was itself skipped can
//	never become ready; this is the failure-propagation policy. One failed
//	task cancels its downstream dependents but never its siblings. A single
//	pass in topological order reaches the transitive closure because a
//	skipped upstream task is seen before any of its dependents.
//
// Outputs:
//
//	[]string - Ids newly marked Skipped, in topological order.
func (d *DAG) PropagateSkips() []string {
	var skipped []string
	for _, id := range d.topoOrder {
		t := d.tasks[id]
		if t.State != TaskPending {
			continue
		}
		for _, dep := range t.DependsOn {
			if d.tasks[dep].State.blocksDependents() {
				t.State = TaskSkipped
				skipped = append(skipped, id)
				break
			}
		}
	}
	return skipped
}

// ReadyTasks returns pending tasks whose dependencies have all succeeded.
//
// The result is in deterministic topological order. Callers should run
// PropagateSkips first so that blocked tasks are already out of Pending.
func (d *DAG) ReadyTasks() []string {
	var ready []string
	for _, id := range d.topoOrder {
		t := d.tasks[id]
		if t.State != TaskPending {
			continue
		}
		ok := true
		for _, dep := range t.DependsOn {
			if d.tasks[dep].State != TaskSucceeded {
				ok = false
				break
			}
		}
		if ok {
			ready = append(ready, id)
		}
	}
	return ready
}

// Complete reports whether every task has reached a terminal state.
func (d *DAG) Complete() bool {
	for _, t := range d.tasks {
		if !t.State.IsTerminal() {
			return false
		}
	}
	return true
}

// CountByState returns the number of tasks in each state.
func (d *DAG) CountByState() map[TaskState]int {
	counts := make(map[TaskState]int)
	for _, t := range d.tasks {
		counts[t.State]++
	}
	return counts
}

// AnyFailedOrVetoed reports whether at least one task failed or was vetoed.
func (d *DAG) AnyFailedOrVetoed() bool {
	for _, t := range d.tasks {
		if t.State == TaskFailed || t.State == TaskVetoed {
			return true
		}
	}
	return false
}
