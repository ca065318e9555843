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

// Package allowlist implements the Allowlist + Rate Limiter (C5):
// structural and throughput validation of proposed actions.
package allowlist

import (
	"sync"
	"time"

	"github.com/reasonloop/reasonloop/internal/selfimprove/model"
)

// Code is one of the five validation rejection codes.
type Code string

const (
	ActionTypeNotAllowed Code = "action_type_not_allowed"
	ParameterNotAllowed  Code = "parameter_not_allowed"
	ValueOutOfBounds     Code = "value_out_of_bounds"
	MissingRequired      Code = "missing_required"
	RateLimitExceeded    Code = "rate_limit_exceeded"
)

// ValidationError reports why a proposed action was rejected.
type ValidationError struct {
	Code    Code
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

const (
	defaultMaxExpectedImprovement = 0.5
	defaultMaxActionsPerHour      = 10
	rateWindow                    = time.Hour
)

// Config configures the allowlist's bounds.
type Config struct {
	MaxExpectedImprovement float64
	MaxActionsPerHour      int
	AllowedVariants        map[model.Variant]bool
	AllowedParameters      map[model.Variant]map[string]bool
}

// DefaultConfig returns the spec's required-baseline allowed parameter
// sets and default bounds.
func DefaultConfig() Config {
	return Config{
		MaxExpectedImprovement: defaultMaxExpectedImprovement,
		MaxActionsPerHour:      defaultMaxActionsPerHour,
		AllowedVariants: map[model.Variant]bool{
			model.VariantConfigAdjust:    true,
			model.VariantPromptTune:      true,
			model.VariantThresholdAdjust: true,
			model.VariantLogObservation:  true,
		},
		AllowedParameters: map[model.Variant]map[string]bool{
			model.VariantConfigAdjust: {
				"timeout_ms":    true,
				"max_retries":   true,
				"request_limit": true,
				"batch_size":    true,
			},
			model.VariantPromptTune: {
				"prompt_key": true,
				"template":   true,
				"mode":       true,
			},
			model.VariantThresholdAdjust: {
				"threshold_key": true,
				"value":         true,
				"min":           true,
				"max":           true,
			},
			// LogObservation is unrestricted: no entry means no key check.
		},
	}
}

// RateTracker is a sliding one-hour window of execution timestamps.
// Safe for concurrent use.
type RateTracker struct {
	mu    sync.Mutex
	stamp []time.Time
}

// NewRateTracker returns an empty tracker.
func NewRateTracker() *RateTracker {
	return &RateTracker{}
}

// trim drops entries older than one hour. Caller must hold mu.
func (t *RateTracker) trim(now time.Time) {
	cutoff := now.Add(-rateWindow)
	i := 0
	for ; i < len(t.stamp); i++ {
		if t.stamp[i].After(cutoff) {
			break
		}
	}
	t.stamp = t.stamp[i:]
}

// Count returns the number of timestamps within the trailing hour,
// trimming stale entries first.
func (t *RateTracker) Count(now time.Time) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.trim(now)
	return len(t.stamp)
}

// Record appends now to the tracker, trimming stale entries first.
func (t *RateTracker) Record(now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.trim(now)
	t.stamp = append(t.stamp, now)
}

// Allowlist validates proposed actions and tracks execution throughput.
type Allowlist struct {
	cfg     Config
	tracker *RateTracker
}

// New constructs an Allowlist, applying DefaultConfig for any zero-value
// fields.
func New(cfg Config) *Allowlist {
	if cfg.MaxExpectedImprovement <= 0 {
		cfg.MaxExpectedImprovement = defaultMaxExpectedImprovement
	}
	if cfg.MaxActionsPerHour <= 0 {
		cfg.MaxActionsPerHour = defaultMaxActionsPerHour
	}
	if cfg.AllowedVariants == nil {
		cfg.AllowedVariants = DefaultConfig().AllowedVariants
	}
	if cfg.AllowedParameters == nil {
		cfg.AllowedParameters = DefaultConfig().AllowedParameters
	}
	return &Allowlist{cfg: cfg, tracker: NewRateTracker()}
}

// Validate runs the four ordered checks of spec.md §4.5 without
// recording a rate-tracker entry.
func (a *Allowlist) Validate(action *model.Action, now time.Time) error {
	if !a.cfg.AllowedVariants[action.Variant] {
		return &ValidationError{Code: ActionTypeNotAllowed, Message: "action variant not in allowlist: " + string(action.Variant)}
	}
	if action.ExpectedImprovement > a.cfg.MaxExpectedImprovement {
		return &ValidationError{Code: ValueOutOfBounds, Message: "expected_improvement exceeds max_expected_improvement"}
	}
	if allowed, restricted := a.cfg.AllowedParameters[action.Variant]; restricted {
		for key := range action.Parameters {
			if !allowed[key] {
				return &ValidationError{Code: ParameterNotAllowed, Message: "parameter not allowed for variant: " + key}
			}
		}
	}
	if a.tracker.Count(now) >= a.cfg.MaxActionsPerHour {
		return &ValidationError{Code: RateLimitExceeded, Message: "max_actions_per_hour exceeded"}
	}
	return nil
}

// ValidateAndRecord runs Validate and, on success, appends now to the
// rate tracker.
func (a *Allowlist) ValidateAndRecord(action *model.Action, now time.Time) error {
	if err := a.Validate(action, now); err != nil {
		return err
	}
	a.tracker.Record(now)
	return nil
}
