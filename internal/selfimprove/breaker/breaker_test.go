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

package breaker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBreakerTripsAfterFailureThreshold(t *testing.T) {
	b := New(Config{FailureThreshold: 3, Cooldown: time.Hour, SuccessThreshold: 2})

	b.RecordFailure()
	b.RecordFailure()
	assert.Equal(t, Closed, b.Snapshot().State)
	assert.True(t, b.IsAllowed())

	b.RecordFailure()
	snap := b.Snapshot()
	assert.Equal(t, Open, snap.State)
	assert.Equal(t, 1, snap.Trips)
}

func TestBreakerBlocksWhileOpenThenHalfOpensAfterCooldown(t *testing.T) {
	b := New(Config{FailureThreshold: 1, Cooldown: 10 * time.Millisecond, SuccessThreshold: 1})
	b.RecordFailure()
	assert.False(t, b.IsAllowed())

	time.Sleep(20 * time.Millisecond)
	assert.True(t, b.IsAllowed())
	assert.Equal(t, HalfOpen, b.Snapshot().State)
}

func TestBreakerRecoversFromHalfOpenOnSuccessThreshold(t *testing.T) {
	b := New(Config{FailureThreshold: 1, Cooldown: time.Millisecond, SuccessThreshold: 2})
	b.RecordFailure()
	time.Sleep(2 * time.Millisecond)
	allowed := b.IsAllowed() // transitions to HalfOpen
	assert.True(t, allowed)

	b.RecordSuccess()
	assert.Equal(t, HalfOpen, b.Snapshot().State)
	b.RecordSuccess()
	assert.Equal(t, Closed, b.Snapshot().State)
}

func TestBreakerAnyFailureInHalfOpenReopens(t *testing.T) {
	b := New(Config{FailureThreshold: 1, Cooldown: time.Millisecond, SuccessThreshold: 3})
	b.RecordFailure()
	time.Sleep(2 * time.Millisecond)
	b.IsAllowed()
	assert.Equal(t, HalfOpen, b.Snapshot().State)

	b.RecordFailure()
	snap := b.Snapshot()
	assert.Equal(t, Open, snap.State)
	assert.Equal(t, 2, snap.Trips)
}

func TestBreakerTripAndReset(t *testing.T) {
	b := New(DefaultConfig())
	b.Trip()
	assert.Equal(t, Open, b.Snapshot().State)
	b.Reset()
	assert.Equal(t, Closed, b.Snapshot().State)
	assert.Equal(t, 0, b.Snapshot().ConsecutiveFailures)
}

func TestNewAppliesDefaultsForZeroFields(t *testing.T) {
	b := New(Config{})
	assert.Equal(t, defaultFailureThreshold, b.cfg.FailureThreshold)
	assert.Equal(t, defaultCooldown, b.cfg.Cooldown)
	assert.Equal(t, defaultSuccessThreshold, b.cfg.SuccessThreshold)
}
