// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package authority

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/AleutianAI/kodiak/services/workflow/audit"
)

// ErrInvalidOverride is returned when an override lacks an authority or a
// justification.
var ErrInvalidOverride = errors.New("override requires an authority and a non-empty justification")

// VetoError reports a blocked dispatch.
type VetoError struct {
	TaskID  string
	Domain  string
	AgentID string
	Kind    VetoKind
}

func (e *VetoError) Error() string {
	return fmt.Sprintf("task %s vetoed (%s) by %s for domain %s",
		e.TaskID, e.Kind, e.AgentID, e.Domain)
}

// Override is an externally authorized permission to dispatch past one
// soft veto.
type Override struct {
	// Authority names who granted the override.
	Authority string `json:"authority"`

	// Justification explains why. Required; it is written verbatim into
	// the audit trail.
	Justification string `json:"justification"`
}

// Enforcer evaluates the authority matrix before every dispatch.
//
// Description:
//
//	Check is the single gate: it consults the current matrix snapshot,
//	consumes a pending override when a soft veto matches, and appends a
//	VetoRecord for every evaluation including Pass. The append is load
//	bearing — if the audit trail cannot record the decision, the decision
//	does not happen and the dispatch is blocked.
//
// Thread Safety:
//
//	Safe for concurrent use. Matrix swaps are atomic; the override book
//	is guarded by its own mutex.
type Enforcer struct {
	matrix atomic.Pointer[Matrix]
	sink   audit.Sink
	logger *slog.Logger

	mu        sync.Mutex
	overrides map[string]Override

	// now is overridable in tests.
	now func() time.Time
}

// NewEnforcer creates an enforcer over the given matrix and audit sink.
func NewEnforcer(matrix *Matrix, sink audit.Sink, logger *slog.Logger) *Enforcer {
	if logger == nil {
		logger = slog.Default()
	}
	e := &Enforcer{
		sink:      sink,
		logger:    logger.With(slog.String("component", "authority_enforcer")),
		overrides: make(map[string]Override),
		now:       time.Now,
	}
	e.matrix.Store(matrix)
	return e
}

// SwapMatrix atomically replaces the active matrix snapshot.
func (e *Enforcer) SwapMatrix(m *Matrix) {
	e.matrix.Store(m)
	e.logger.Info("authority matrix swapped", slog.Int("rules", m.RuleCount()))
}

func overrideKey(runID, taskID string) string {
	return runID + "/" + taskID
}

// GrantOverride registers permission to dispatch past one soft veto of the
// given task. The override is consumed by the next dispatch attempt that
// hits a soft veto; granting again after consumption is allowed.
func (e *Enforcer) GrantOverride(runID, taskID string, o Override) error {
	if o.Authority == "" || o.Justification == "" {
		return ErrInvalidOverride
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.overrides[overrideKey(runID, taskID)] = o

	e.logger.Info("soft veto override granted",
		slog.String("run_id", runID),
		slog.String("task_id", taskID),
		slog.String("authority", o.Authority))
	return nil
}

// consumeOverride removes and returns a pending override, if any.
func (e *Enforcer) consumeOverride(runID, taskID string) (Override, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	o, ok := e.overrides[overrideKey(runID, taskID)]
	if ok {
		delete(e.overrides, overrideKey(runID, taskID))
	}
	return o, ok
}

// Check evaluates the matrix for one task dispatch.
//
// Inputs:
//
//	ctx - Bounds the audit append.
//	runID - The run the task belongs to.
//	taskID - The task about to dispatch.
//	domain - The task's type, matched against domain patterns.
//
// Outputs:
//
//	error - nil when dispatch may proceed (Pass, or SoftVeto consumed by
//	an override); a *VetoError when blocked; the audit append error when
//	the decision could not be recorded, which also blocks dispatch.
func (e *Enforcer) Check(ctx context.Context, runID, taskID, domain string) error {
	matrix := e.matrix.Load()
	rule, matched := matrix.match(domain)

	rec := audit.VetoRecord{
		TaskID:    taskID,
		Domain:    domain,
		Decision:  audit.DecisionPass,
		Timestamp: e.now().UTC(),
	}

	var vetoErr *VetoError
	switch {
	case !matched:
		// Pass, recorded below.

	case rule.veto == VetoHard:
		rec.Decision = audit.DecisionHardVeto
		rec.AuthorityAgent = rule.agentID
		vetoErr = &VetoError{TaskID: taskID, Domain: domain, AgentID: rule.agentID, Kind: VetoHard}

	default: // soft
		rec.Decision = audit.DecisionSoftVeto
		rec.AuthorityAgent = rule.agentID
		if o, ok := e.consumeOverride(runID, taskID); ok {
			rec.Justification = fmt.Sprintf("override by %s: %s", o.Authority, o.Justification)
		} else {
			vetoErr = &VetoError{TaskID: taskID, Domain: domain, AgentID: rule.agentID, Kind: VetoSoft}
		}
	}

	if _, err := e.sink.Append(ctx, audit.NewVetoRecord(runID, rec)); err != nil {
		e.logger.Error("audit append failed, blocking dispatch",
			slog.String("run_id", runID),
			slog.String("task_id", taskID),
			slog.String("error", err.Error()))
		return fmt.Errorf("record authority decision: %w", err)
	}

	if vetoErr != nil {
		return vetoErr
	}
	return nil
}
