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
	"sync/atomic"
	"testing"
	"time"
)

// fakeClock lets tests advance breaker time without sleeping.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func testBreaker(t *testing.T, threshold int, reset time.Duration, clock *fakeClock) *Breaker {
	t.Helper()
	b, err := NewBreaker(BreakerConfig{
		FailureThreshold: threshold,
		ResetTimeout:     reset,
		Clock:            clock.Now,
	})
	if err != nil {
		t.Fatalf("NewBreaker: %v", err)
	}
	return b
}

func TestBreaker_OpensAtThreshold(t *testing.T) {
	clock := newFakeClock()
	b := testBreaker(t, 3, time.Minute, clock)

	for i := 0; i < 3; i++ {
		if b.State() != StateClosed {
			t.Fatalf("expected closed before threshold, got %v at failure %d", b.State(), i)
		}
		b.RecordFailure()
	}

	if b.State() != StateOpen {
		t.Fatalf("expected open after 3 consecutive failures, got %v", b.State())
	}
	if b.Allow() {
		t.Error("open breaker must fail fast")
	}
}

func TestBreaker_SuccessResetsConsecutiveCount(t *testing.T) {
	clock := newFakeClock()
	b := testBreaker(t, 3, time.Minute, clock)

	b.RecordFailure()
	b.RecordFailure()
	b.RecordSuccess()
	b.RecordFailure()
	b.RecordFailure()

	if b.State() != StateClosed {
		t.Fatalf("expected closed (counter reset by success), got %v", b.State())
	}
}

func TestBreaker_SingleProbeAfterResetTimeout(t *testing.T) {
	clock := newFakeClock()
	b := testBreaker(t, 1, time.Minute, clock)

	b.RecordFailure()
	if b.State() != StateOpen {
		t.Fatalf("expected open, got %v", b.State())
	}
	if b.Allow() {
		t.Fatal("breaker must stay open before reset timeout")
	}

	clock.Advance(time.Minute)

	// Many concurrent callers race: exactly one becomes the probe.
	var admitted atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if b.Allow() {
				admitted.Add(1)
			}
		}()
	}
	wg.Wait()

	if admitted.Load() != 1 {
		t.Fatalf("expected exactly one half-open probe, got %d", admitted.Load())
	}
	if b.State() != StateHalfOpen {
		t.Fatalf("expected half-open, got %v", b.State())
	}
}

func TestBreaker_ProbeSuccessCloses(t *testing.T) {
	clock := newFakeClock()
	b := testBreaker(t, 3, time.Minute, clock)

	for i := 0; i < 3; i++ {
		b.RecordFailure()
	}
	clock.Advance(time.Minute)

	if !b.Allow() {
		t.Fatal("expected probe admission after reset timeout")
	}
	b.RecordSuccess()

	if b.State() != StateClosed {
		t.Fatalf("expected closed after probe success, got %v", b.State())
	}
	if snap := b.Snapshot(); snap.ConsecutiveFailures != 0 {
		t.Errorf("expected consecutive_failures reset to 0, got %d", snap.ConsecutiveFailures)
	}
}

func TestBreaker_ProbeFailureReopensWithFreshTimeout(t *testing.T) {
	clock := newFakeClock()
	b := testBreaker(t, 1, time.Minute, clock)

	b.RecordFailure()
	clock.Advance(time.Minute)

	if !b.Allow() {
		t.Fatal("expected probe admission")
	}
	b.RecordFailure()

	if b.State() != StateOpen {
		t.Fatalf("expected reopened, got %v", b.State())
	}

	// Timeout restarted: half the window is not enough.
	clock.Advance(30 * time.Second)
	if b.Allow() {
		t.Error("expected fail-fast before the restarted timeout elapses")
	}
	clock.Advance(30 * time.Second)
	if !b.Allow() {
		t.Error("expected probe admission after the full restarted timeout")
	}
}

func TestBreaker_CancellationReleasesProbeSlot(t *testing.T) {
	clock := newFakeClock()
	b := testBreaker(t, 1, time.Minute, clock)

	b.RecordFailure()
	clock.Advance(time.Minute)

	if !b.Allow() {
		t.Fatal("expected probe admission")
	}
	if b.Allow() {
		t.Fatal("second caller must not probe concurrently")
	}

	b.RecordCancellation()

	if !b.Allow() {
		t.Error("expected probe slot to be free again after cancellation")
	}
	if b.State() != StateHalfOpen {
		t.Errorf("cancellation must not change state, got %v", b.State())
	}
}

func TestGuard_OpenBreakerFailsFastWithoutCalling(t *testing.T) {
	clock := newFakeClock()
	b := testBreaker(t, 1, time.Minute, clock)
	b.RecordFailure()

	called := false
	guarded := Guard(b, func(ctx context.Context) error {
		called = true
		return nil
	})

	err := guarded(context.Background())
	if !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected ErrCircuitOpen, got %v", err)
	}
	if called {
		t.Error("guarded fn must not run while the circuit is open")
	}
}

func TestGuard_RejectionDoesNotDoubleCount(t *testing.T) {
	clock := newFakeClock()
	b := testBreaker(t, 2, time.Minute, clock)
	b.RecordFailure()
	b.RecordFailure()

	guarded := Guard(b, func(ctx context.Context) error { return nil })
	_ = guarded(context.Background())

	if snap := b.Snapshot(); snap.ConsecutiveFailures != 2 {
		t.Errorf("fail-fast rejection must not increment failures, got %d",
			snap.ConsecutiveFailures)
	}
}

func TestGuard_RecordsOutcomes(t *testing.T) {
	clock := newFakeClock()
	b := testBreaker(t, 2, time.Minute, clock)

	boom := errors.New("boom")
	guarded := Guard(b, func(ctx context.Context) error { return boom })

	_ = guarded(context.Background())
	_ = guarded(context.Background())

	if b.State() != StateOpen {
		t.Fatalf("expected guard failures to open the breaker, got %v", b.State())
	}
}

func TestRegistry_LazyCreationAndIdentity(t *testing.T) {
	r, err := NewRegistry(DefaultBreakerConfig())
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}

	a := r.For("codegen")
	b := r.For("codegen")
	if a != b {
		t.Error("expected one breaker instance per collaborator")
	}
	if r.For("compliance") == a {
		t.Error("distinct collaborators must get distinct breakers")
	}

	if len(r.Snapshot()) != 2 {
		t.Errorf("expected 2 breakers in snapshot, got %d", len(r.Snapshot()))
	}
}

func TestRegistry_TransitionHook(t *testing.T) {
	r, err := NewRegistry(BreakerConfig{FailureThreshold: 1, ResetTimeout: time.Minute})
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}

	var gotName string
	var gotTo BreakerState
	r.OnTransition = func(name string, from, to BreakerState) {
		gotName = name
		gotTo = to
	}

	r.For("codegen").RecordFailure()

	if gotName != "codegen" || gotTo != StateOpen {
		t.Errorf("expected transition hook (codegen -> open), got (%s -> %v)", gotName, gotTo)
	}
}

func TestRegistry_Reset(t *testing.T) {
	r, _ := NewRegistry(BreakerConfig{FailureThreshold: 1, ResetTimeout: time.Minute})
	r.For("codegen").RecordFailure()

	r.Reset()

	if st := r.For("codegen").State(); st != StateClosed {
		t.Errorf("expected closed after reset, got %v", st)
	}
}
