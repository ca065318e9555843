// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package breaker implements the Circuit Breaker (C4): a three-state
// gate that protects every self-improvement execution.
package breaker

import (
	"sync"
	"time"
)

// State is one of the breaker's three states.
type State string

const (
	Closed   State = "closed"
	Open     State = "open"
	HalfOpen State = "half_open"
)

const (
	defaultFailureThreshold = 3
	defaultCooldown         = 300 * time.Second
	defaultSuccessThreshold = 2
)

// Config configures breaker thresholds.
type Config struct {
	FailureThreshold int
	Cooldown         time.Duration
	SuccessThreshold int
}

// DefaultConfig returns the original implementation's defaults.
func DefaultConfig() Config {
	return Config{
		FailureThreshold: defaultFailureThreshold,
		Cooldown:         defaultCooldown,
		SuccessThreshold: defaultSuccessThreshold,
	}
}

// Breaker is safe for concurrent use.
type Breaker struct {
	mu sync.Mutex

	cfg Config

	state               State
	consecutiveFailures int
	consecutiveSuccess  int
	trips               int
	lastFailure         time.Time
}

// New constructs a Breaker in the Closed state.
func New(cfg Config) *Breaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = defaultFailureThreshold
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = defaultCooldown
	}
	if cfg.SuccessThreshold <= 0 {
		cfg.SuccessThreshold = defaultSuccessThreshold
	}
	return &Breaker{cfg: cfg, state: Closed}
}

// IsAllowed implements the gating contract of spec.md §4.4.
func (b *Breaker) IsAllowed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case Closed:
		return true
	case Open:
		if time.Since(b.lastFailure) >= b.cfg.Cooldown {
			b.state = HalfOpen
			b.consecutiveSuccess = 0
			return true
		}
		return false
	case HalfOpen:
		return true
	default:
		return false
	}
}

// RecordSuccess advances the HalfOpen probe toward Closed.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case HalfOpen:
		b.consecutiveSuccess++
		b.consecutiveFailures = 0
		if b.consecutiveSuccess >= b.cfg.SuccessThreshold {
			b.state = Closed
			b.consecutiveSuccess = 0
		}
	case Closed:
		b.consecutiveFailures = 0
	}
}

// RecordFailure trips the breaker open from Closed (after reaching the
// failure threshold) or from HalfOpen (on any failure).
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case HalfOpen:
		b.openLocked()
	case Closed:
		b.consecutiveFailures++
		b.consecutiveSuccess = 0
		if b.consecutiveFailures >= b.cfg.FailureThreshold {
			b.openLocked()
		}
	}
}

func (b *Breaker) openLocked() {
	b.state = Open
	b.lastFailure = time.Now()
	b.trips++
	b.consecutiveFailures = 0
	b.consecutiveSuccess = 0
}

// Trip forces Open regardless of current state.
func (b *Breaker) Trip() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.openLocked()
}

// Reset forces Closed and zeroes counters.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = Closed
	b.consecutiveFailures = 0
	b.consecutiveSuccess = 0
}

// Snapshot is a read-only view of the breaker's state, for external
// consumers (Supervisor, CLI) per spec.md §5's shared-resource policy.
type Snapshot struct {
	State               State
	ConsecutiveFailures int
	ConsecutiveSuccess  int
	Trips               int
	LastFailure         time.Time
}

func (b *Breaker) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Snapshot{
		State:               b.state,
		ConsecutiveFailures: b.consecutiveFailures,
		ConsecutiveSuccess:  b.consecutiveSuccess,
		Trips:               b.trips,
		LastFailure:         b.lastFailure,
	}
}
