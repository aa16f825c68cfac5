// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package audit defines the append-only record trail a run leaves behind.
//
// Two kinds of records exist: veto records, written for every authority
// check regardless of outcome, and task events, written on every task state
// change. Records are never updated or deleted; the sequence number assigned
// at append time is the total order of what happened.
package audit

import (
	"encoding/json"
	"time"
)

// Decision is the outcome of one authority check.
type Decision string

const (
	// DecisionPass means no authority objected.
	DecisionPass Decision = "pass"

	// DecisionSoftVeto means an advisory authority objected; dispatch may
	// proceed under an explicit override.
	DecisionSoftVeto Decision = "soft_veto"

	// DecisionHardVeto means a binding authority objected; dispatch is
	// blocked unconditionally.
	DecisionHardVeto Decision = "hard_veto"
)

// VetoRecord captures one authority check against one task.
type VetoRecord struct {
	TaskID         string    `json:"task_id"`
	Domain         string    `json:"domain"`
	AuthorityAgent string    `json:"authority_agent,omitempty"`
	Decision       Decision  `json:"decision"`
	Justification  string    `json:"justification,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
}

// TaskEvent captures one task state change.
type TaskEvent struct {
	RunID        string    `json:"run_id"`
	TaskID       string    `json:"task_id"`
	State        string    `json:"state"`
	Error        string    `json:"error,omitempty"`
	AttemptCount int       `json:"attempt_count"`
	Timestamp    time.Time `json:"timestamp"`
}

// RecordKind discriminates the payload of a Record.
type RecordKind string

const (
	KindVeto      RecordKind = "veto"
	KindTaskEvent RecordKind = "task_event"
)

// Record is the envelope appended to a sink.
//
// Seq is assigned by the sink at append time and is strictly increasing
// per run. Exactly one of Veto or Event is set, per Kind.
type Record struct {
	Seq   uint64      `json:"seq"`
	RunID string      `json:"run_id"`
	Kind  RecordKind  `json:"kind"`
	Veto  *VetoRecord `json:"veto,omitempty"`
	Event *TaskEvent  `json:"event,omitempty"`
}

// NewVetoRecord wraps a veto check in an envelope ready to append.
func NewVetoRecord(runID string, v VetoRecord) Record {
	return Record{RunID: runID, Kind: KindVeto, Veto: &v}
}

// NewTaskEventRecord wraps a task state change in an envelope ready to append.
func NewTaskEventRecord(e TaskEvent) Record {
	return Record{RunID: e.RunID, Kind: KindTaskEvent, Event: &e}
}

// encode renders the record as the stored JSON value.
func (r Record) encode() ([]byte, error) {
	return json.Marshal(r)
}
