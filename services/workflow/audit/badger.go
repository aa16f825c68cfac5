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
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/dgraph-io/badger/v4"
)

// BadgerConfig configures a durable audit sink.
type BadgerConfig struct {
	// Path is the directory for database files. Required unless InMemory.
	Path string

	// InMemory keeps records in RAM only. For tests.
	InMemory bool

	// SyncWrites forces each append to disk before returning. The audit
	// trail is the record of record, so this defaults to on in
	// DefaultBadgerConfig.
	SyncWrites bool

	// Logger receives BadgerDB's internal log lines. Nil disables them.
	Logger *slog.Logger
}

// DefaultBadgerConfig returns durable production defaults.
func DefaultBadgerConfig(path string) BadgerConfig {
	return BadgerConfig{Path: path, SyncWrites: true}
}

// badgerLogger adapts slog.Logger to BadgerDB's Logger interface.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Info(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// BadgerSink is a durable append-only sink backed by BadgerDB.
//
// Description:
//
//	Records are stored under audit/<runID>/<seq> with the sequence number
//	zero-padded to 16 hex digits, so a key-ordered scan of the run prefix
//	is exactly append order. Sequence counters are held in memory and
//	recovered from the highest stored key on first touch of a run, which
//	keeps appends to a single write per record.
//
// Thread Safety:
//
//	Safe for concurrent use.
type BadgerSink struct {
	db *badger.DB

	mu      sync.Mutex
	nextSeq map[string]uint64
	closed  bool
}

// NewBadgerSink opens a durable sink with the given configuration.
func NewBadgerSink(cfg BadgerConfig) (*BadgerSink, error) {
	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if cfg.Path == "" {
			return nil, errors.New("path is required for persistent audit sink")
		}
		if err := os.MkdirAll(cfg.Path, 0750); err != nil {
			return nil, fmt.Errorf("create audit directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites)
	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open audit database: %w", err)
	}
	return &BadgerSink{db: db, nextSeq: make(map[string]uint64)}, nil
}

// NewInMemoryBadgerSink opens a RAM-only sink for tests.
func NewInMemoryBadgerSink() (*BadgerSink, error) {
	return NewBadgerSink(BadgerConfig{InMemory: true})
}

func runPrefix(runID string) []byte {
	return []byte("audit/" + runID + "/")
}

func recordKey(runID string, seq uint64) []byte {
	return []byte(fmt.Sprintf("audit/%s/%016x", runID, seq))
}

// Append stores the record durably and assigns the next sequence number.
//
// Outputs:
//
//	Record - The stored copy, with Seq populated.
//	error - Non-nil if the write did not durably commit. Callers must not
//	proceed with the audited action on error.
func (s *BadgerSink) Append(ctx context.Context, rec Record) (Record, error) {
	if err := ctx.Err(); err != nil {
		return Record{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return Record{}, ErrSinkClosed
	}

	seq, err := s.seqLocked(rec.RunID)
	if err != nil {
		return Record{}, err
	}
	rec.Seq = seq

	value, err := rec.encode()
	if err != nil {
		return Record{}, fmt.Errorf("encode audit record: %w", err)
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(recordKey(rec.RunID, seq), value)
	})
	if err != nil {
		return Record{}, fmt.Errorf("append audit record: %w", err)
	}

	s.nextSeq[rec.RunID] = seq + 1
	return rec, nil
}

// seqLocked returns the next sequence for a run, recovering the counter
// from storage if this process has not touched the run yet. Caller holds mu.
func (s *BadgerSink) seqLocked(runID string) (uint64, error) {
	if seq, ok := s.nextSeq[runID]; ok {
		return seq, nil
	}

	var next uint64
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = runPrefix(runID)
		opts.Reverse = true
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		// Reverse iteration from just past the prefix lands on the
		// highest existing key.
		seek := append(runPrefix(runID), 0xff)
		it.Seek(seek)
		if it.ValidForPrefix(runPrefix(runID)) {
			key := it.Item().Key()
			var last uint64
			if _, err := fmt.Sscanf(string(key[len(runPrefix(runID)):]), "%016x", &last); err != nil {
				return fmt.Errorf("malformed audit key %q: %w", key, err)
			}
			next = last + 1
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	s.nextSeq[runID] = next
	return next, nil
}

// List returns all records for a run in sequence order.
func (s *BadgerSink) List(ctx context.Context, runID string) ([]Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrSinkClosed
	}
	s.mu.Unlock()

	var out []Record
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = runPrefix(runID)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.ValidForPrefix(runPrefix(runID)); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				var rec Record
				if err := json.Unmarshal(val, &rec); err != nil {
					return fmt.Errorf("decode audit record: %w", err)
				}
				out = append(out, rec)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Close flushes and closes the underlying database.
func (s *BadgerSink) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()
	return s.db.Close()
}
