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
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// MatrixWatcher hot-reloads the authority matrix when its file changes.
//
// Description:
//
//	Watches the matrix file's directory (editors replace files by rename,
//	which drops a watch on the file itself) and reloads on write, create,
//	or rename events touching the file. A short debounce window coalesces
//	the event bursts editors produce. A file that fails to parse is
//	logged and ignored — the previous snapshot stays active, so a bad
//	edit can never take the policy gate down.
//
// Thread Safety:
//
//	Safe for concurrent use with Enforcer evaluation; reloads go through
//	Enforcer.SwapMatrix.
type MatrixWatcher struct {
	path     string
	enforcer *Enforcer
	watcher  *fsnotify.Watcher
	logger   *slog.Logger
	debounce time.Duration

	done     chan struct{}
	stopOnce sync.Once
}

// NewMatrixWatcher creates a watcher for the matrix file feeding the enforcer.
func NewMatrixWatcher(path string, enforcer *Enforcer, logger *slog.Logger) (*MatrixWatcher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create matrix watcher: %w", err)
	}
	if err := fsw.Add(filepath.Dir(path)); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("watch matrix directory: %w", err)
	}
	return &MatrixWatcher{
		path:     path,
		enforcer: enforcer,
		watcher:  fsw,
		logger:   logger.With(slog.String("component", "authority_matrix_watcher")),
		debounce: 100 * time.Millisecond,
		done:     make(chan struct{}),
	}, nil
}

// Start begins watching in a background goroutine.
func (w *MatrixWatcher) Start() {
	go w.run()
}

// Stop halts the watcher and releases the fsnotify handle.
func (w *MatrixWatcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.done)
		w.watcher.Close()
	})
}

func (w *MatrixWatcher) run() {
	var timer *time.Timer
	var timerCh <-chan time.Time

	for {
		select {
		case <-w.done:
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
				timerCh = timer.C
			} else {
				timer.Reset(w.debounce)
			}

		case <-timerCh:
			timer = nil
			timerCh = nil
			w.reload()

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("matrix watcher error", slog.String("error", err.Error()))
		}
	}
}

func (w *MatrixWatcher) reload() {
	matrix, err := LoadMatrixFile(w.path)
	if err != nil {
		w.logger.Error("matrix reload failed, keeping previous snapshot",
			slog.String("path", w.path),
			slog.String("error", err.Error()))
		return
	}
	w.enforcer.SwapMatrix(matrix)
}
