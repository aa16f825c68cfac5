// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package resilience

import "errors"

// Sentinel errors for the resilience package.
var (
	// ErrCircuitOpen indicates the breaker rejected the call without
	// contacting the collaborator. Callers treat it as transient so that
	// retry backoff still paces breaker-rejected attempts.
	ErrCircuitOpen = errors.New("circuit breaker open")

	// ErrInvalidPolicy indicates a retry policy with nonsensical values.
	ErrInvalidPolicy = errors.New("invalid retry policy")

	// ErrInvalidBreakerConfig indicates breaker configuration with
	// nonsensical values.
	ErrInvalidBreakerConfig = errors.New("invalid circuit breaker config")
)
