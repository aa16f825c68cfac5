// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package resilience provides the retry and circuit-breaker decorators that
// guard every outbound collaborator call.
//
// The two mechanisms are orthogonal: retry paces the attempts of one logical
// call, while the breaker decides whether any attempt may reach the network
// at all. A breaker rejection is a normal transient failure from retry's
// point of view, so backoff still applies and a degraded collaborator never
// produces a tight failure loop.
package resilience

import (
	"context"
	"math"
	"math/rand"
	"time"
)

// Policy configures bounded retry with full-jitter exponential backoff.
type Policy struct {
	// MaxRetries is the number of retries after the initial attempt.
	// Default: 3.
	MaxRetries int

	// BaseDelay is the backoff base for attempt 0. Default: 1s.
	BaseDelay time.Duration

	// MaxDelay caps the pre-jitter backoff. Default: 30s.
	MaxDelay time.Duration

	// Retryable reports whether an error is transient. Only errors on
	// this allow-list are retried; everything else propagates
	// immediately. Required.
	Retryable func(error) bool

	// OnRetry, if set, fires before each backoff sleep.
	OnRetry func(attempt int, delay time.Duration, err error)

	// jitter returns a uniform random factor in [0, 1). Overridable in
	// tests; defaults to rand.Float64.
	jitter func() float64
}

// DefaultPolicy returns the service defaults: 3 retries, 1s base, 30s cap.
//
// The Retryable allow-list is intentionally nil here; callers must set it.
func DefaultPolicy() Policy {
	return Policy{
		MaxRetries: 3,
		BaseDelay:  1 * time.Second,
		MaxDelay:   30 * time.Second,
	}
}

// Validate checks the policy for usable values.
func (p Policy) Validate() error {
	if p.MaxRetries < 0 || p.BaseDelay <= 0 || p.MaxDelay < p.BaseDelay {
		return ErrInvalidPolicy
	}
	if p.Retryable == nil {
		return ErrInvalidPolicy
	}
	return nil
}

// WithJitterFunc returns a copy of the policy using the given random source.
// Test hook: a function returning 1.0 makes delays deterministic.
func (p Policy) WithJitterFunc(f func() float64) Policy {
	p.jitter = f
	return p
}

// Delay returns the backoff for a 0-indexed attempt.
//
// Description:
//
//	Full jitter: min(MaxDelay, BaseDelay * 2^attempt) * uniform(0, 1).
//	The cap applies before jitter, so with the defaults attempt 5 draws
//	from [0, 30s], never [0, 32s]. Scaling the whole window by the random
//	factor (rather than adding a small perturbation) is what prevents
//	synchronized retry storms when many tasks fail at once.
func (p Policy) Delay(attempt int) time.Duration {
	ceiling := float64(p.BaseDelay) * math.Pow(2, float64(attempt))
	if ceiling > float64(p.MaxDelay) {
		ceiling = float64(p.MaxDelay)
	}
	jitter := p.jitter
	if jitter == nil {
		jitter = rand.Float64
	}
	return time.Duration(ceiling * jitter())
}

// Retry executes fn with the policy's backoff schedule.
//
// Description:
//
//	Runs fn up to 1+MaxRetries times. A nil return stops immediately; a
//	non-retryable error propagates without further attempts. Exhausting
//	the budget returns the last error unchanged — classifying that error
//	into task state is the caller's decision, not this function's.
//
// Inputs:
//
//	ctx - Cancels both the attempt in progress and any backoff sleep.
//	policy - Must pass Validate.
//	fn - The call to protect.
//
// Outputs:
//
//	error - nil on success, ctx.Err() on cancellation, otherwise the
//	last attempt's error.
func Retry(ctx context.Context, policy Policy, fn func(context.Context) error) error {
	if err := policy.Validate(); err != nil {
		return err
	}

	var lastErr error
	for attempt := 0; attempt <= policy.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if !policy.Retryable(lastErr) {
			return lastErr
		}
		if attempt == policy.MaxRetries {
			break
		}

		delay := policy.Delay(attempt)
		if policy.OnRetry != nil {
			policy.OnRetry(attempt, delay, lastErr)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return lastErr
}
