// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package scheduler

import "errors"

// ErrRunNotFound is returned when a run id is not registered.
var ErrRunNotFound = errors.New("run not found")

// ErrRunFinished is returned for operations that require a running run.
var ErrRunFinished = errors.New("run already reached a terminal status")

// ErrShuttingDown is returned for submissions after Shutdown started.
var ErrShuttingDown = errors.New("engine is shutting down")

// ErrInvalidConfig is returned when the engine configuration fails
// validation.
var ErrInvalidConfig = errors.New("invalid engine configuration")
