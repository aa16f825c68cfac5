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
	"reflect"
	"testing"
)

func specs(pairs ...TaskSpec) []TaskSpec { return pairs }

func TestBuildDAG_RejectsCycle(t *testing.T) {
	_, err := BuildDAG(specs(
		TaskSpec{ID: "a", Type: "t", DependsOn: []string{"c"}},
		TaskSpec{ID: "b", Type: "t", DependsOn: []string{"a"}},
		TaskSpec{ID: "c", Type: "t", DependsOn: []string{"b"}},
	))
	var cycleErr *CycleError
	if !errors.As(err, &cycleErr) {
		t.Fatalf("expected CycleError, got %v", err)
	}
	if len(cycleErr.Tasks) != 3 {
		t.Errorf("expected all three tasks reported, got %v", cycleErr.Tasks)
	}
}

func TestBuildDAG_RejectsSelfCycle(t *testing.T) {
	_, err := BuildDAG(specs(TaskSpec{ID: "a", Type: "t", DependsOn: []string{"a"}}))
	var cycleErr *CycleError
	if !errors.As(err, &cycleErr) {
		t.Fatalf("expected CycleError for self-dependency, got %v", err)
	}
}

func TestBuildDAG_RejectsUnknownDependency(t *testing.T) {
	_, err := BuildDAG(specs(
		TaskSpec{ID: "a", Type: "t", DependsOn: []string{"ghost"}},
	))
	var valErr *ValidationError
	if !errors.As(err, &valErr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
}

func TestBuildDAG_RejectsDuplicateID(t *testing.T) {
	_, err := BuildDAG(specs(
		TaskSpec{ID: "a", Type: "t"},
		TaskSpec{ID: "a", Type: "t"},
	))
	var valErr *ValidationError
	if !errors.As(err, &valErr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
}

func TestBuildDAG_RejectsEmpty(t *testing.T) {
	if _, err := BuildDAG(nil); !errors.Is(err, ErrEmptyGraph) {
		t.Fatalf("expected ErrEmptyGraph, got %v", err)
	}
}

func TestBuildDAG_AllTasksStartPending(t *testing.T) {
	d, err := BuildDAG(specs(
		TaskSpec{ID: "a", Type: "t"},
		TaskSpec{ID: "b", Type: "t", DependsOn: []string{"a"}},
	))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, id := range d.TaskIDs() {
		task, _ := d.Task(id)
		if task.State != TaskPending {
			t.Errorf("task %q: expected pending, got %s", id, task.State)
		}
	}
}

func TestReadyTasks_InitialFrontier(t *testing.T) {
	d, err := BuildDAG(specs(
		TaskSpec{ID: "a", Type: "t"},
		TaskSpec{ID: "b", Type: "t", DependsOn: []string{"a"}},
		TaskSpec{ID: "c", Type: "t"},
	))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	ready := d.ReadyTasks()
	if !reflect.DeepEqual(ready, []string{"a", "c"}) {
		t.Errorf("expected [a c], got %v", ready)
	}
}

func TestReadyTasks_UnlockedByDependencySuccess(t *testing.T) {
	d, _ := BuildDAG(specs(
		TaskSpec{ID: "a", Type: "t"},
		TaskSpec{ID: "b", Type: "t", DependsOn: []string{"a"}},
		TaskSpec{ID: "c", Type: "t", DependsOn: []string{"a"}},
	))

	mustTransition(t, d, "a", TaskPending, TaskReady)
	mustTransition(t, d, "a", TaskReady, TaskDispatching)
	mustTransition(t, d, "a", TaskDispatching, TaskSucceeded)

	ready := d.ReadyTasks()
	if !reflect.DeepEqual(ready, []string{"b", "c"}) {
		t.Errorf("expected b and c ready together, got %v", ready)
	}
}

func TestPropagateSkips_Transitive(t *testing.T) {
	// a -> b -> c, and d independent. Failing a must skip b and c but not d.
	d, _ := BuildDAG(specs(
		TaskSpec{ID: "a", Type: "t"},
		TaskSpec{ID: "b", Type: "t", DependsOn: []string{"a"}},
		TaskSpec{ID: "c", Type: "t", DependsOn: []string{"b"}},
		TaskSpec{ID: "d", Type: "t"},
	))

	mustTransition(t, d, "a", TaskPending, TaskReady)
	mustTransition(t, d, "a", TaskReady, TaskDispatching)
	mustTransition(t, d, "a", TaskDispatching, TaskFailed)

	skipped := d.PropagateSkips()
	if !reflect.DeepEqual(skipped, []string{"b", "c"}) {
		t.Errorf("expected [b c] skipped, got %v", skipped)
	}

	taskD, _ := d.Task("d")
	if taskD.State != TaskPending {
		t.Errorf("sibling d must be unaffected, got %s", taskD.State)
	}

	// Second call is a no-op.
	if again := d.PropagateSkips(); len(again) != 0 {
		t.Errorf("expected no further skips, got %v", again)
	}
}

func TestPropagateSkips_VetoBlocksDownstream(t *testing.T) {
	d, _ := BuildDAG(specs(
		TaskSpec{ID: "a", Type: "t"},
		TaskSpec{ID: "b", Type: "t", DependsOn: []string{"a"}},
	))

	mustTransition(t, d, "a", TaskPending, TaskReady)
	mustTransition(t, d, "a", TaskReady, TaskVetoed)

	skipped := d.PropagateSkips()
	if !reflect.DeepEqual(skipped, []string{"b"}) {
		t.Errorf("expected [b], got %v", skipped)
	}
}

func TestTransition_RejectsWrongPriorState(t *testing.T) {
	d, _ := BuildDAG(specs(TaskSpec{ID: "a", Type: "t"}))

	err := d.Transition("a", TaskReady, TaskDispatching)
	var trErr *TransitionError
	if !errors.As(err, &trErr) {
		t.Fatalf("expected TransitionError, got %v", err)
	}
}

func TestTransition_RejectsTerminalExit(t *testing.T) {
	d, _ := BuildDAG(specs(TaskSpec{ID: "a", Type: "t"}))
	mustTransition(t, d, "a", TaskPending, TaskReady)
	mustTransition(t, d, "a", TaskReady, TaskDispatching)
	mustTransition(t, d, "a", TaskDispatching, TaskSucceeded)

	if err := d.Transition("a", TaskSucceeded, TaskFailed); err == nil {
		t.Fatal("expected terminal state to be final")
	}
}

func TestTransition_UnknownTask(t *testing.T) {
	d, _ := BuildDAG(specs(TaskSpec{ID: "a", Type: "t"}))
	if err := d.Transition("nope", TaskPending, TaskReady); !errors.Is(err, ErrUnknownTask) {
		t.Fatalf("expected ErrUnknownTask, got %v", err)
	}
}

func TestComplete_And_AnyFailedOrVetoed(t *testing.T) {
	d, _ := BuildDAG(specs(
		TaskSpec{ID: "a", Type: "t"},
		TaskSpec{ID: "b", Type: "t", DependsOn: []string{"a"}},
	))
	if d.Complete() {
		t.Fatal("fresh graph must not be complete")
	}

	mustTransition(t, d, "a", TaskPending, TaskReady)
	mustTransition(t, d, "a", TaskReady, TaskDispatching)
	mustTransition(t, d, "a", TaskDispatching, TaskFailed)
	d.PropagateSkips()

	if !d.Complete() {
		t.Error("graph should be complete after failure propagation")
	}
	if !d.AnyFailedOrVetoed() {
		t.Error("expected a failed task to be reported")
	}
}

func mustTransition(t *testing.T, d *DAG, id string, from, to TaskState) {
	t.Helper()
	if err := d.Transition(id, from, to); err != nil {
		t.Fatalf("transition %s %s->%s: %v", id, from, to, err)
	}
}
