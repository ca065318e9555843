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

// Package executor implements the Executor + Rollback Journal (C8):
// applies approved actions against the config-overrides map and records
// their inverse in a ring-buffer journal for operator-initiated rollback.
package executor

import (
	"fmt"
	"sync"
	"time"

	"github.com/reasonloop/reasonloop/internal/selfimprove/model"
)

const (
	journalCapacity = 100

	configAdjustMultiplier    = 0.80
	promptTuneMultiplier      = 0.70
	thresholdAdjustMultiplier = 0.75
)

// ErrLogObservationIrreversible is returned by Rollback for a
// LogObservation action: log entries are non-reversible by construction.
var ErrLogObservationIrreversible = fmt.Errorf("log_observation actions cannot be rolled back")

// Overrides is the shared config-overrides map the Executor mutates.
// Implementations must guard concurrent foreground reads per spec.md §5.
type Overrides interface {
	Get(key string) (string, bool)
	Set(key, value string)
	Delete(key string)
}

// ProvenanceSetter is an optional capability of an Overrides
// implementation that records which action is about to write, so a
// persisted backing store can stamp provenance on the row (spec.md §3:
// "provenance (applied-by-action id)").
type ProvenanceSetter interface {
	SetActionID(id string)
}

// MapOverrides is an in-memory Overrides backed by a mutex, matching the
// "read under shared lock, upsert under exclusive lock" discipline of
// spec.md §5.
type MapOverrides struct {
	mu     sync.RWMutex
	values map[string]string
}

// NewMapOverrides returns an empty MapOverrides.
func NewMapOverrides() *MapOverrides {
	return &MapOverrides{values: make(map[string]string)}
}

func (m *MapOverrides) Get(key string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.values[key]
	return v, ok
}

func (m *MapOverrides) Set(key, value string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = value
}

func (m *MapOverrides) Delete(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.values, key)
}

// ExecutionRecord is one entry in the rollback journal. A nil entry in
// PreviousState means the key was absent before execution: rollback
// deletes it rather than writing back an empty string.
type ExecutionRecord struct {
	ActionID      string
	Variant       model.Variant
	PreviousState map[string]*string
	NewState      map[string]string
	Timestamp     time.Time
}

// Result is the outcome of one Execute call.
type Result struct {
	Action              *model.Action
	Success             bool
	ActualImprovement   float64
	Err                 error
}

// Journal is a fixed-capacity ring buffer of ExecutionRecords.
type Journal struct {
	mu      sync.Mutex
	entries []ExecutionRecord
	cap     int
}

// NewJournal returns a journal with the spec's default capacity of 100.
func NewJournal() *Journal {
	return &Journal{cap: journalCapacity}
}

func (j *Journal) append(rec ExecutionRecord) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.entries = append(j.entries, rec)
	if len(j.entries) > j.cap {
		j.entries = j.entries[len(j.entries)-j.cap:]
	}
}

// findByActionID scans from the tail for the most recent matching entry,
// returning its index or -1.
func (j *Journal) findByActionID(actionID string) int {
	for i := len(j.entries) - 1; i >= 0; i-- {
		if j.entries[i].ActionID == actionID {
			return i
		}
	}
	return -1
}

func (j *Journal) remove(i int) {
	j.entries = append(j.entries[:i], j.entries[i+1:]...)
}

// Executor applies approved actions and maintains the rollback journal.
type Executor struct {
	overrides Overrides
	journal   *Journal
}

// New constructs an Executor over the given config-overrides map.
func New(overrides Overrides) *Executor {
	return &Executor{overrides: overrides, journal: NewJournal()}
}

// Journal exposes the rollback journal for inspection (CLI, tests).
func (e *Executor) Journal() *Journal { return e.journal }

// Execute dispatches on the action's variant per spec.md §4.8.
func (e *Executor) Execute(action *model.Action) Result {
	action.Status = model.ActionExecuting
	action.ExecutedAt = time.Now().UTC()

	if ps, ok := e.overrides.(ProvenanceSetter); ok {
		ps.SetActionID(action.ID)
	}

	var (
		previous map[string]*string
		current  map[string]string
		err      error
	)

	switch action.Variant {
	case model.VariantConfigAdjust:
		previous, current, err = e.applyKeyValues(action.Parameters)
	case model.VariantPromptTune:
		previous, current, err = e.applyPromptTune(action.Parameters)
	case model.VariantThresholdAdjust:
		previous, current, err = e.applyThresholdAdjust(action.Parameters)
	case model.VariantLogObservation:
		// no state change
	default:
		err = fmt.Errorf("unknown action variant %q", action.Variant)
	}

	if err != nil {
		action.Status = model.ActionFailed
		return Result{Action: action, Success: false, Err: err}
	}

	improvement := action.ExpectedImprovement * multiplierFor(action.Variant)
	action.Status = model.ActionCompleted
	action.MeasuredImprovement = improvement
	action.InverseOperation = inverseFromPrevious(previous)

	if len(previous) > 0 || len(current) > 0 {
		e.journal.append(ExecutionRecord{
			ActionID:      action.ID,
			Variant:       action.Variant,
			PreviousState: previous,
			NewState:      current,
			Timestamp:     action.ExecutedAt,
		})
	}

	return Result{Action: action, Success: true, ActualImprovement: improvement}
}

func multiplierFor(v model.Variant) float64 {
	switch v {
	case model.VariantConfigAdjust:
		return configAdjustMultiplier
	case model.VariantPromptTune:
		return promptTuneMultiplier
	case model.VariantThresholdAdjust:
		return thresholdAdjustMultiplier
	default:
		return 0
	}
}

// applyKeyValues writes every parameter key verbatim into the overrides
// map, capturing the previous value (nil if absent) for each.
func (e *Executor) applyKeyValues(params map[string]any) (previous map[string]*string, current map[string]string, err error) {
	if len(params) == 0 {
		return nil, nil, fmt.Errorf("config_adjust requires at least one parameter")
	}
	previous = make(map[string]*string, len(params))
	current = make(map[string]string, len(params))
	for key, val := range params {
		str := fmt.Sprintf("%v", val)
		previous[key] = priorValue(e.overrides, key)
		e.overrides.Set(key, str)
		current[key] = str
	}
	return previous, current, nil
}

func (e *Executor) applyPromptTune(params map[string]any) (previous map[string]*string, current map[string]string, err error) {
	key, _ := params["prompt_key"].(string)
	template, _ := params["template"].(string)
	if key == "" || template == "" {
		return nil, nil, fmt.Errorf("prompt_tune requires prompt_key and template")
	}
	fullKey := "prompt:" + key
	prev := priorValue(e.overrides, fullKey)
	e.overrides.Set(fullKey, template)
	return map[string]*string{fullKey: prev}, map[string]string{fullKey: template}, nil
}

func (e *Executor) applyThresholdAdjust(params map[string]any) (previous map[string]*string, current map[string]string, err error) {
	key, _ := params["threshold_key"].(string)
	if key == "" {
		return nil, nil, fmt.Errorf("threshold_adjust requires threshold_key")
	}
	value, ok := params["value"]
	if !ok {
		return nil, nil, fmt.Errorf("threshold_adjust requires value")
	}
	fullKey := "threshold:" + key
	prev := priorValue(e.overrides, fullKey)
	str := fmt.Sprintf("%v", value)
	e.overrides.Set(fullKey, str)
	return map[string]*string{fullKey: prev}, map[string]string{fullKey: str}, nil
}

// priorValue returns a pointer to the current value of key, or nil if the
// key is absent, so rollback can distinguish "restore to empty string"
// from "restore to absent".
func priorValue(overrides Overrides, key string) *string {
	if v, ok := overrides.Get(key); ok {
		return &v
	}
	return nil
}

// inverseFromPrevious converts a journal entry's PreviousState into the
// map[string]any shape model.Action.InverseOperation persists: a nil
// value means the key was absent before execution.
func inverseFromPrevious(previous map[string]*string) map[string]any {
	if len(previous) == 0 {
		return nil
	}
	inverse := make(map[string]any, len(previous))
	for key, val := range previous {
		if val == nil {
			inverse[key] = nil
		} else {
			inverse[key] = *val
		}
	}
	return inverse
}

// applyInverse writes an InverseOperation map back into overrides,
// deleting keys whose value is nil (absent before execution).
func applyInverse(overrides Overrides, inverse map[string]any) {
	for key, val := range inverse {
		if val == nil {
			overrides.Delete(key)
		} else {
			overrides.Set(key, fmt.Sprintf("%v", val))
		}
	}
}

// Rollback restores the overrides map to its state before action was
// executed. It prefers the in-memory journal entry (same process,
// pre-rollback state still exact); when no journal entry exists — a
// rollback issued from a separate CLI invocation against a running
// serve process — it falls back to action.InverseOperation, the
// journal's persisted equivalent (storage.Store's si_actions.inverse_operation
// column).
func (e *Executor) Rollback(action *model.Action) error {
	if action.Variant == model.VariantLogObservation {
		return ErrLogObservationIrreversible
	}

	e.journal.mu.Lock()
	idx := e.journal.findByActionID(action.ID)
	if idx >= 0 {
		rec := e.journal.entries[idx]
		e.journal.remove(idx)
		e.journal.mu.Unlock()
		applyInverse(e.overrides, inverseFromPrevious(rec.PreviousState))
		action.Status = model.ActionRolledBack
		return nil
	}
	e.journal.mu.Unlock()

	if len(action.InverseOperation) == 0 {
		return fmt.Errorf("no journal entry or persisted inverse operation found for action %s", action.ID)
	}
	applyInverse(e.overrides, action.InverseOperation)
	action.Status = model.ActionRolledBack
	return nil
}
