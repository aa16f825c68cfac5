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

import (
	"context"
	"errors"
	"sync"
	"time"
)

// BreakerState is the state of a circuit breaker.
type BreakerState int

const (
	// StateClosed lets calls through normally.
	StateClosed BreakerState = iota

	// StateOpen rejects calls immediately without contacting the
	// collaborator.
	StateOpen

	// StateHalfOpen admits exactly one probe call to test recovery.
	StateHalfOpen
)

// String returns the human-readable name for the breaker state.
func (s BreakerState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// BreakerConfig configures one circuit breaker.
type BreakerConfig struct {
	// FailureThreshold is the consecutive-failure count that opens the
	// circuit. Default: 5.
	FailureThreshold int

	// ResetTimeout is how long the circuit stays open before admitting
	// a half-open probe. Default: 60s.
	ResetTimeout time.Duration

	// Clock returns the current time. Overridable in tests; defaults to
	// time.Now.
	Clock func() time.Time
}

// DefaultBreakerConfig returns the service defaults.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: 5,
		ResetTimeout:     60 * time.Second,
	}
}

// Validate checks the configuration for usable values.
func (c BreakerConfig) Validate() error {
	if c.FailureThreshold < 1 || c.ResetTimeout <= 0 {
		return ErrInvalidBreakerConfig
	}
	return nil
}

// Breaker is a three-state circuit breaker for one logical collaborator.
//
// Description:
//
//	Closed counts consecutive failures and opens at the threshold. Open
//	fails fast until ResetTimeout has elapsed since openedAt, at which
//	point the next caller becomes the single half-open probe; every other
//	caller during the probe window is rejected as if the circuit were
//	still open. Probe success closes the circuit and resets the counter;
//	probe failure reopens it with a fresh timeout.
//
// Thread Safety:
//
//	Safe for concurrent use. All transitions happen under one mutex, so
//	exactly one caller can ever win the race to become the probe.
type Breaker struct {
	config BreakerConfig

	mu                  sync.Mutex
	state               BreakerState
	consecutiveFailures int
	openedAt            time.Time
	probeInFlight       bool

	// onTransition, if set, fires after each state change with the lock
	// held. Used by the registry to emit metrics; must not call back
	// into the breaker.
	onTransition func(from, to BreakerState)
}

// NewBreaker creates a breaker in the closed state.
func NewBreaker(config BreakerConfig) (*Breaker, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if config.Clock == nil {
		config.Clock = time.Now
	}
	return &Breaker{config: config, state: StateClosed}, nil
}

// Allow reports whether a call attempt may proceed.
//
// Description:
//
//	In the open state the first caller after ResetTimeout flips the
//	breaker to half-open and becomes the probe. In the half-open state
//	any caller while the probe is in flight is rejected.
//
// Outputs:
//
//	bool - True if the caller may contact the collaborator.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return true

	case StateOpen:
		if b.config.Clock().Sub(b.openedAt) >= b.config.ResetTimeout {
			b.transitionTo(StateHalfOpen)
			b.probeInFlight = true
			return true
		}
		return false

	case StateHalfOpen:
		if b.probeInFlight {
			return false
		}
		b.probeInFlight = true
		return true

	default:
		return false
	}
}

// RecordSuccess records a successful call.
//
// A half-open probe success closes the circuit and zeroes the failure
// counter. That reset is the only way back to Closed.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		b.consecutiveFailures = 0
	case StateHalfOpen:
		b.probeInFlight = false
		b.consecutiveFailures = 0
		b.transitionTo(StateClosed)
	}
}

// RecordFailure records a failed call.
//
// Reaching the threshold opens the circuit; a half-open probe failure
// reopens it and restarts the reset timeout.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		b.consecutiveFailures++
		if b.consecutiveFailures >= b.config.FailureThreshold {
			b.openedAt = b.config.Clock()
			b.transitionTo(StateOpen)
		}
	case StateHalfOpen:
		b.probeInFlight = false
		b.openedAt = b.config.Clock()
		b.transitionTo(StateOpen)
	}
}

// State returns the current breaker state.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Snapshot returns the breaker's current counters for status reporting.
func (b *Breaker) Snapshot() BreakerSnapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	return BreakerSnapshot{
		State:               b.state,
		ConsecutiveFailures: b.consecutiveFailures,
		OpenedAt:            b.openedAt,
		ProbeInFlight:       b.probeInFlight,
	}
}

// RecordCancellation releases a probe slot without judging recovery.
//
// Run cancellation is not failure accounting: a cancelled call neither
// proves nor disproves that the collaborator recovered, so the only effect
// is to let the next caller become the half-open probe.
func (b *Breaker) RecordCancellation() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.probeInFlight = false
}

// Reset forces the breaker back to closed. Test and operator hook.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.consecutiveFailures = 0
	b.probeInFlight = false
	b.openedAt = time.Time{}
	if b.state != StateClosed {
		b.transitionTo(StateClosed)
	}
}

// transitionTo changes state. Must be called with the lock held.
func (b *Breaker) transitionTo(to BreakerState) {
	from := b.state
	b.state = to
	if b.onTransition != nil && from != to {
		b.onTransition(from, to)
	}
}

// BreakerSnapshot is a point-in-time view of a breaker.
type BreakerSnapshot struct {
	State               BreakerState `json:"state"`
	ConsecutiveFailures int          `json:"consecutive_failures"`
	OpenedAt            time.Time    `json:"opened_at,omitzero"`
	ProbeInFlight       bool         `json:"probe_in_flight"`
}

// MarshalJSON renders the state by name.
func (s BreakerState) MarshalJSON() ([]byte, error) {
	return []byte(`"` + s.String() + `"`), nil
}

// Guard wraps a call with breaker accounting.
//
// Description:
//
//	A rejected attempt returns ErrCircuitOpen without touching the
//	collaborator and without incrementing the failure counter — the
//	breaker already knows it is open, and double-counting its own
//	rejections would keep it open forever. Context cancellation is not
//	a collaborator failure and is likewise not recorded.
//
// Inputs:
//
//	b - The breaker for the target collaborator.
//	fn - The underlying call.
//
// Outputs:
//
//	func - The guarded call, suitable for wrapping with Retry.
func Guard(b *Breaker, fn func(context.Context) error) func(context.Context) error {
	return func(ctx context.Context) error {
		if !b.Allow() {
			return ErrCircuitOpen
		}
		err := fn(ctx)
		if err == nil {
			b.RecordSuccess()
			return nil
		}
		if errors.Is(err, context.Canceled) {
			b.RecordCancellation()
			return err
		}
		b.RecordFailure()
		return err
	}
}
