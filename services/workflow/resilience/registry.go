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

import "sync"

// Registry holds one circuit breaker per logical collaborator.
//
// Description:
//
//	Breakers are created lazily on first use and live for the process
//	lifetime. The registry is an explicit injected dependency, never a
//	package-level singleton, so tests can reset it freely.
//
// Thread Safety:
//
//	Safe for concurrent use.
type Registry struct {
	config BreakerConfig

	mu       sync.Mutex
	breakers map[string]*Breaker

	// OnTransition, if set, fires on every breaker state change with
	// the collaborator name. Wired to metrics by the scheduler engine.
	OnTransition func(collaborator string, from, to BreakerState)
}

// NewRegistry creates a registry using the given config for every breaker.
func NewRegistry(config BreakerConfig) (*Registry, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &Registry{
		config:   config,
		breakers: make(map[string]*Breaker),
	}, nil
}

// For returns the breaker for a collaborator, creating it on first use.
func (r *Registry) For(collaborator string) *Breaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	if b, ok := r.breakers[collaborator]; ok {
		return b
	}
	b, err := NewBreaker(r.config)
	if err != nil {
		// Config was validated in NewRegistry; this cannot happen.
		panic(err)
	}
	name := collaborator
	b.onTransition = func(from, to BreakerState) {
		if r.OnTransition != nil {
			r.OnTransition(name, from, to)
		}
	}
	r.breakers[collaborator] = b
	return b
}

// Snapshot returns the current state of every known breaker.
func (r *Registry) Snapshot() map[string]BreakerSnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make(map[string]BreakerSnapshot, len(r.breakers))
	for name, b := range r.breakers {
		out[name] = b.Snapshot()
	}
	return out
}

// Reset closes every breaker and clears its counters. Test hook.
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, b := range r.breakers {
		b.Reset()
	}
}
