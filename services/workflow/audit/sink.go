// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package audit

import (
	"context"
	"errors"
	"sync"
)

// ErrSinkClosed is returned for operations on a closed sink.
var ErrSinkClosed = errors.New("audit sink is closed")

// Sink is an append-only destination for audit records.
//
// The interface deliberately offers no update or delete: once appended, a
// record is permanent. An append failure is a hard error — callers must
// treat "cannot record the decision" as "cannot proceed with the action".
type Sink interface {
	// Append stores the record, assigns its sequence number, and returns
	// the stored copy.
	Append(ctx context.Context, rec Record) (Record, error)

	// List returns all records for a run in append order.
	List(ctx context.Context, runID string) ([]Record, error)

	// Close releases the sink's resources.
	Close() error
}

// MemorySink keeps records in memory, ordered per run.
//
// Thread Safety:
//
//	Safe for concurrent use.
type MemorySink struct {
	mu      sync.Mutex
	records map[string][]Record
	nextSeq map[string]uint64
	closed  bool
}

// NewMemorySink creates an empty in-memory sink.
func NewMemorySink() *MemorySink {
	return &MemorySink{
		records: make(map[string][]Record),
		nextSeq: make(map[string]uint64),
	}
}

// Append stores the record and assigns the next per-run sequence number.
func (s *MemorySink) Append(ctx context.Context, rec Record) (Record, error) {
	if err := ctx.Err(); err != nil {
		return Record{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return Record{}, ErrSinkClosed
	}
	rec.Seq = s.nextSeq[rec.RunID]
	s.nextSeq[rec.RunID]++
	s.records[rec.RunID] = append(s.records[rec.RunID], rec)
	return rec, nil
}

// List returns a copy of the run's records in append order.
func (s *MemorySink) List(ctx context.Context, runID string) ([]Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrSinkClosed
	}
	src := s.records[runID]
	out := make([]Record, len(src))
	copy(out, src)
	return out, nil
}

// Close marks the sink closed. Further appends fail with ErrSinkClosed.
func (s *MemorySink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
