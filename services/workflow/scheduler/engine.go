// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package scheduler drives workflow runs from submission to a terminal
// status.
//
// Each run executes on its own goroutine with a bounded worker pool for
// dispatch. The run's DAG is mutated only under the run lock; collaborator
// calls happen outside it. Readiness is recomputed after every terminal
// transition, so dependency order is enforced structurally rather than by
// per-task locking.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/kodiak/services/workflow/audit"
	"github.com/AleutianAI/kodiak/services/workflow/authority"
	"github.com/AleutianAI/kodiak/services/workflow/collaborator"
	"github.com/AleutianAI/kodiak/services/workflow/dag"
	"github.com/AleutianAI/kodiak/services/workflow/observability"
	"github.com/AleutianAI/kodiak/services/workflow/resilience"
)

var tracer = otel.Tracer("kodiak.scheduler")

// Config tunes run execution.
type Config struct {
	// Workers bounds concurrent dispatches per run. Default: 4.
	Workers int `validate:"min=1"`

	// DispatchTimeout bounds one collaborator call attempt. A timed-out
	// attempt is a transient failure for retry and breaker purposes.
	// Default: 30s.
	DispatchTimeout time.Duration `validate:"min=0"`

	// MaxRetries, RetryBaseDelay, and RetryMaxDelay configure the retry
	// policy applied to every dispatch.
	MaxRetries     int           `validate:"min=0"`
	RetryBaseDelay time.Duration `validate:"min=1"`
	RetryMaxDelay  time.Duration `validate:"min=1"`

	// Breaker configures the per-collaborator circuit breakers.
	Breaker resilience.BreakerConfig
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		Workers:         4,
		DispatchTimeout: 30 * time.Second,
		MaxRetries:      3,
		RetryBaseDelay:  1 * time.Second,
		RetryMaxDelay:   30 * time.Second,
		Breaker:         resilience.DefaultBreakerConfig(),
	}
}

// Engine owns the run registry and executes submitted workflows.
//
// Thread Safety:
//
//	Safe for concurrent use.
type Engine struct {
	config   Config
	router   *collaborator.Router
	enforcer *authority.Enforcer
	breakers *resilience.Registry
	sink     audit.Sink
	logger   *slog.Logger

	mu       sync.Mutex
	runs     map[string]*Run
	draining bool
	wg       sync.WaitGroup
}

// NewEngine validates the configuration and wires the dispatch pipeline.
func NewEngine(cfg Config, router *collaborator.Router, enforcer *authority.Enforcer, sink audit.Sink, logger *slog.Logger) (*Engine, error) {
	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if cfg.RetryMaxDelay < cfg.RetryBaseDelay {
		return nil, fmt.Errorf("%w: retry max delay below base delay", ErrInvalidConfig)
	}
	breakers, err := resilience.NewRegistry(cfg.Breaker)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("component", "scheduler"))

	breakers.OnTransition = func(name string, from, to resilience.BreakerState) {
		observability.BreakerTransitionsTotal.WithLabelValues(name, to.String()).Inc()
		logger.Warn("circuit breaker transition",
			slog.String("collaborator", name),
			slog.String("from", from.String()),
			slog.String("to", to.String()))
	}

	return &Engine{
		config:   cfg,
		router:   router,
		enforcer: enforcer,
		breakers: breakers,
		sink:     sink,
		logger:   logger,
		runs:     make(map[string]*Run),
	}, nil
}

// Submit validates the task list, registers a run, and starts executing it.
//
// Outputs:
//
//	string - The new run id.
//	error - *dag.ValidationError, *dag.CycleError, dag.ErrEmptyGraph, or
//	ErrShuttingDown. Validation failures register nothing.
func (e *Engine) Submit(ctx context.Context, specs []dag.TaskSpec) (string, error) {
	g, err := dag.BuildDAG(specs)
	if err != nil {
		return "", err
	}

	run := newRun(uuid.NewString(), g)
	runCtx, cancel := context.WithCancel(context.Background())
	run.cancel = cancel

	e.mu.Lock()
	if e.draining {
		e.mu.Unlock()
		cancel()
		return "", ErrShuttingDown
	}
	e.runs[run.ID] = run
	e.wg.Add(1)
	e.mu.Unlock()

	observability.ActiveRuns.Inc()
	e.logger.Info("run submitted",
		slog.String("run_id", run.ID),
		slog.String("trace_id", run.Trace.TraceID),
		slog.Int("tasks", g.Len()))

	go e.execute(runCtx, run)
	return run.ID, nil
}

// Run returns the registered run for an id.
func (e *Engine) Run(runID string) (*Run, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	run, ok := e.runs[runID]
	if !ok {
		return nil, ErrRunNotFound
	}
	return run, nil
}

// Snapshot returns the current status of a run.
func (e *Engine) Snapshot(runID string) (RunSnapshot, error) {
	run, err := e.Run(runID)
	if err != nil {
		return RunSnapshot{}, err
	}
	return run.Snapshot(), nil
}

// ListRuns returns a summary of every known run, newest first.
func (e *Engine) ListRuns() []RunSummary {
	e.mu.Lock()
	runs := make([]*Run, 0, len(e.runs))
	for _, run := range e.runs {
		runs = append(runs, run)
	}
	e.mu.Unlock()

	out := make([]RunSummary, 0, len(runs))
	for _, run := range runs {
		out = append(out, run.summary())
	}
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j].CreatedAt.After(out[j-1].CreatedAt); j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out
}

// Cancel stops new dispatch for a run. In-flight collaborator calls observe
// context cancellation; ones that ignore it run to their normal timeout.
func (e *Engine) Cancel(runID string) error {
	run, err := e.Run(runID)
	if err != nil {
		return err
	}

	run.mu.Lock()
	if run.status.IsTerminal() {
		run.mu.Unlock()
		return ErrRunFinished
	}
	run.cancelRequested = true
	run.mu.Unlock()

	run.cancel()
	e.logger.Info("run cancel requested", slog.String("run_id", runID))
	return nil
}

// Override registers a soft-veto override for one task of a running run.
func (e *Engine) Override(runID, taskID string, o authority.Override) error {
	run, err := e.Run(runID)
	if err != nil {
		return err
	}
	run.mu.Lock()
	_, ok := run.dag.Task(taskID)
	terminal := run.status.IsTerminal()
	run.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %q", dag.ErrUnknownTask, taskID)
	}
	if terminal {
		return ErrRunFinished
	}
	return e.enforcer.GrantOverride(runID, taskID, o)
}

// Audit returns the run's append-only record trail.
func (e *Engine) Audit(ctx context.Context, runID string) ([]audit.Record, error) {
	if _, err := e.Run(runID); err != nil {
		return nil, err
	}
	return e.sink.List(ctx, runID)
}

// Subscribe attaches to a run's event stream.
func (e *Engine) Subscribe(runID string) (<-chan Event, func(), error) {
	run, err := e.Run(runID)
	if err != nil {
		return nil, nil, err
	}
	ch, release := run.Subscribe()
	return ch, release, nil
}

// Shutdown cancels all running runs and waits for their loops to exit.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	e.draining = true
	runs := make([]*Run, 0, len(e.runs))
	for _, run := range e.runs {
		runs = append(runs, run)
	}
	e.mu.Unlock()

	for _, run := range runs {
		run.mu.Lock()
		if !run.status.IsTerminal() {
			run.cancelRequested = true
		}
		run.mu.Unlock()
		run.cancel()
	}

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ============================================================================
// Run execution loop
// ============================================================================

// execute drives one run until no dispatches remain, then finalizes it.
func (e *Engine) execute(ctx context.Context, run *Run) {
	defer e.wg.Done()

	ctx, span := tracer.Start(ctx, "workflow.Run",
		trace.WithAttributes(
			attribute.String("run.id", run.ID),
			attribute.String("run.trace_id", run.Trace.TraceID),
		))
	defer span.End()

	sem := make(chan struct{}, e.config.Workers)
	completions := make(chan string, e.config.Workers)

	inFlight := 0
	for {
		inFlight += e.scheduleReady(ctx, run, sem, completions)
		if inFlight == 0 {
			break
		}
		<-completions
		inFlight--
	}
	e.finalize(run)

	status := run.Status()
	span.SetAttributes(attribute.String("run.status", string(status)))
	if status == RunFailed {
		span.SetStatus(codes.Error, "run failed")
	}
}

// scheduleReady propagates skips, promotes newly ready tasks, and spawns a
// dispatch goroutine for each. Returns the number spawned.
func (e *Engine) scheduleReady(ctx context.Context, run *Run, sem chan struct{}, completions chan<- string) int {
	run.mu.Lock()
	defer run.mu.Unlock()

	if run.cancelRequested {
		return 0
	}

	for _, id := range run.dag.PropagateSkips() {
		e.recordTaskEventLocked(run, id, dag.TaskSkipped, "")
		observability.TasksTotal.WithLabelValues(string(dag.TaskSkipped)).Inc()
	}

	spawned := 0
	for _, id := range run.dag.ReadyTasks() {
		if err := run.dag.Transition(id, dag.TaskPending, dag.TaskReady); err != nil {
			e.logger.Error("ready promotion failed",
				slog.String("run_id", run.ID),
				slog.String("task_id", id),
				slog.String("error", err.Error()))
			continue
		}
		e.recordTaskEventLocked(run, id, dag.TaskReady, "")
		go e.dispatch(ctx, run, id, sem, completions)
		spawned++
	}
	return spawned
}

// dispatch executes one task end to end: worker slot, authority gate, then
// the retry- and breaker-guarded collaborator call.
func (e *Engine) dispatch(ctx context.Context, run *Run, taskID string, sem chan struct{}, completions chan<- string) {
	defer func() { completions <- taskID }()

	select {
	case sem <- struct{}{}:
		defer func() { <-sem }()
	case <-ctx.Done():
		// Never dispatched; the task stays Ready and the run finalizes
		// as cancelled.
		return
	}

	run.mu.Lock()
	t, ok := run.dag.Task(taskID)
	if !ok {
		run.mu.Unlock()
		return
	}
	if err := run.dag.Transition(taskID, dag.TaskReady, dag.TaskDispatching); err != nil {
		run.mu.Unlock()
		e.logger.Error("dispatch transition refused",
			slog.String("run_id", run.ID),
			slog.String("task_id", taskID),
			slog.String("error", err.Error()))
		return
	}
	taskType := t.Type
	payload := t.Payload
	e.recordTaskEventLocked(run, taskID, dag.TaskDispatching, "")
	run.mu.Unlock()

	observability.ActiveDispatches.Inc()
	defer observability.ActiveDispatches.Dec()
	start := time.Now()

	spanCtx, span := tracer.Start(ctx, "workflow.Dispatch",
		trace.WithAttributes(
			attribute.String("run.id", run.ID),
			attribute.String("task.id", taskID),
			attribute.String("task.type", taskType),
		))
	outcome := e.dispatchGuarded(spanCtx, run, taskID, taskType, payload)
	span.SetAttributes(attribute.String("task.outcome", outcome))
	if outcome == string(dag.TaskFailed) {
		span.SetStatus(codes.Error, "dispatch failed")
	}
	span.End()
	observability.DispatchDurationSeconds.WithLabelValues(taskType, outcome).Observe(time.Since(start).Seconds())
}

// dispatchGuarded runs the policy gate and collaborator call, resolving the
// result into a terminal task state. Returns the outcome label for metrics.
func (e *Engine) dispatchGuarded(ctx context.Context, run *Run, taskID, taskType string, payload []byte) string {
	if err := e.enforcer.Check(ctx, run.ID, taskID, taskType); err != nil {
		var veto *authority.VetoError
		if errors.As(err, &veto) {
			e.markTerminal(run, taskID, dag.TaskVetoed, nil, veto.Error(), 0)
			return string(dag.TaskVetoed)
		}
		// The decision could not be recorded; dispatch is blocked.
		e.markTerminal(run, taskID, dag.TaskFailed, nil, err.Error(), 0)
		return string(dag.TaskFailed)
	}

	collab, err := e.router.Route(taskType)
	if err != nil {
		e.markTerminal(run, taskID, dag.TaskFailed, nil, err.Error(), 0)
		return string(dag.TaskFailed)
	}

	req := collaborator.Request{
		RunID:    run.ID,
		TaskID:   taskID,
		TaskType: taskType,
		Payload:  payload,
		Trace:    run.Trace.NewChildSpan(),
	}

	var result collaborator.Result
	attempts := 0
	call := func(callCtx context.Context) error {
		attempts++
		if e.config.DispatchTimeout > 0 {
			var cancel context.CancelFunc
			callCtx, cancel = context.WithTimeout(callCtx, e.config.DispatchTimeout)
			defer cancel()
		}
		res, execErr := collab.Execute(callCtx, req)
		if execErr != nil {
			return execErr
		}
		result = res
		return nil
	}

	policy := resilience.Policy{
		MaxRetries: e.config.MaxRetries,
		BaseDelay:  e.config.RetryBaseDelay,
		MaxDelay:   e.config.RetryMaxDelay,
		Retryable: func(err error) bool {
			return collaborator.IsTransient(err) || errors.Is(err, resilience.ErrCircuitOpen)
		},
		OnRetry: func(attempt int, delay time.Duration, err error) {
			observability.RetriesTotal.WithLabelValues(collab.Name()).Inc()
			e.logger.Warn("dispatch retry",
				slog.String("run_id", run.ID),
				slog.String("task_id", taskID),
				slog.String("collaborator", collab.Name()),
				slog.Int("attempt", attempt),
				slog.Duration("delay", delay),
				slog.String("error", err.Error()))
		},
	}

	err = resilience.Retry(ctx, policy, resilience.Guard(e.breakers.For(collab.Name()), call))
	switch {
	case err == nil:
		e.markTerminal(run, taskID, dag.TaskSucceeded, result.Output, "", attempts)
		return string(dag.TaskSucceeded)

	case errors.Is(err, context.Canceled):
		// Cancelled mid-flight. The task keeps its Dispatching state; the
		// run's terminal status records the cancellation.
		e.logger.Info("dispatch cancelled",
			slog.String("run_id", run.ID),
			slog.String("task_id", taskID))
		return "cancelled"

	default:
		e.markTerminal(run, taskID, dag.TaskFailed, nil, err.Error(), attempts)
		return string(dag.TaskFailed)
	}
}

// markTerminal records a task's terminal state under the run lock.
func (e *Engine) markTerminal(run *Run, taskID string, state dag.TaskState, result []byte, errMsg string, attempts int) {
	run.mu.Lock()
	defer run.mu.Unlock()

	if err := run.dag.Transition(taskID, dag.TaskDispatching, state); err != nil {
		e.logger.Error("terminal transition refused",
			slog.String("run_id", run.ID),
			slog.String("task_id", taskID),
			slog.String("state", string(state)),
			slog.String("error", err.Error()))
		return
	}
	t, _ := run.dag.Task(taskID)
	t.Result = result
	t.Error = errMsg
	t.AttemptCount = attempts

	e.recordTaskEventLocked(run, taskID, state, errMsg)
	observability.TasksTotal.WithLabelValues(string(state)).Inc()
}

// recordTaskEventLocked appends a task event to the audit trail and fans it
// out to subscribers. Caller holds run.mu.
func (e *Engine) recordTaskEventLocked(run *Run, taskID string, state dag.TaskState, errMsg string) {
	t, _ := run.dag.Task(taskID)
	attempts := 0
	if t != nil {
		attempts = t.AttemptCount
	}
	rec := audit.NewTaskEventRecord(audit.TaskEvent{
		RunID:        run.ID,
		TaskID:       taskID,
		State:        string(state),
		Error:        errMsg,
		AttemptCount: attempts,
		Timestamp:    time.Now().UTC(),
	})
	if _, err := e.sink.Append(context.Background(), rec); err != nil {
		e.logger.Error("audit append failed for task event",
			slog.String("run_id", run.ID),
			slog.String("task_id", taskID),
			slog.String("error", err.Error()))
	}
	run.publishLocked(Event{TaskID: taskID, TaskState: string(state), Error: errMsg})
}

// finalize resolves the run's terminal status once dispatching stops.
func (e *Engine) finalize(run *Run) {
	run.mu.Lock()
	switch {
	case run.cancelRequested:
		run.status = RunCancelled
	case run.dag.AnyFailedOrVetoed():
		run.status = RunFailed
	default:
		run.status = RunCompleted
	}
	run.finishedAt = time.Now().UTC()
	status := run.status
	counts := run.dag.CountByState()
	run.publishLocked(Event{})
	run.mu.Unlock()

	observability.RunsTotal.WithLabelValues(string(status)).Inc()
	observability.ActiveRuns.Dec()

	attrs := []any{
		slog.String("run_id", run.ID),
		slog.String("status", string(status)),
	}
	for state, n := range counts {
		attrs = append(attrs, slog.Int("tasks_"+string(state), n))
	}
	e.logger.Info("run finished", attrs...)
}
