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

package executor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reasonloop/reasonloop/internal/selfimprove/model"
)

func TestExecuteConfigAdjustAppliesMultiplier(t *testing.T) {
	e := New(NewMapOverrides())
	action := &model.Action{
		ID: "a1", Variant: model.VariantConfigAdjust, ExpectedImprovement: 0.5,
		Parameters: map[string]any{"timeout_ms": 2000},
	}
	result := e.Execute(action)
	require.True(t, result.Success)
	assert.Equal(t, 0.4, result.ActualImprovement)
	assert.Equal(t, model.ActionCompleted, action.Status)

	val, ok := e.overrides.Get("timeout_ms")
	require.True(t, ok)
	assert.Equal(t, "2000", val)
}

func TestExecutePromptTuneRequiresKeyAndTemplate(t *testing.T) {
	e := New(NewMapOverrides())
	action := &model.Action{ID: "a2", Variant: model.VariantPromptTune, Parameters: map[string]any{}}
	result := e.Execute(action)
	assert.False(t, result.Success)
	assert.Equal(t, model.ActionFailed, action.Status)
}

func TestExecuteThresholdAdjustWritesNamespacedKey(t *testing.T) {
	overrides := NewMapOverrides()
	e := New(overrides)
	action := &model.Action{
		ID: "a3", Variant: model.VariantThresholdAdjust, ExpectedImprovement: 0.4,
		Parameters: map[string]any{"threshold_key": "min_success", "value": 0.9},
	}
	result := e.Execute(action)
	require.True(t, result.Success)
	assert.InDelta(t, 0.3, result.ActualImprovement, 1e-9)
	val, ok := overrides.Get("threshold:min_success")
	require.True(t, ok)
	assert.Equal(t, "0.9", val)
}

func TestExecuteLogObservationHasZeroImprovementAndNoJournalEntry(t *testing.T) {
	e := New(NewMapOverrides())
	action := &model.Action{ID: "a4", Variant: model.VariantLogObservation, ExpectedImprovement: 0.9}
	result := e.Execute(action)
	require.True(t, result.Success)
	assert.Equal(t, 0.0, result.ActualImprovement)
	assert.Equal(t, -1, e.journal.findByActionID("a4"))
}

func TestRollbackRestoresPreviousValue(t *testing.T) {
	overrides := NewMapOverrides()
	overrides.Set("timeout_ms", "1000")
	e := New(overrides)

	action := &model.Action{ID: "a5", Variant: model.VariantConfigAdjust, ExpectedImprovement: 0.5, Parameters: map[string]any{"timeout_ms": 3000}}
	require.True(t, e.Execute(action).Success)

	require.NoError(t, e.Rollback(action))
	val, _ := overrides.Get("timeout_ms")
	assert.Equal(t, "1000", val)
	assert.Equal(t, model.ActionRolledBack, action.Status)
}

func TestRollbackRestoresAbsenceWhenKeyDidNotExist(t *testing.T) {
	overrides := NewMapOverrides()
	e := New(overrides)

	action := &model.Action{ID: "a5b", Variant: model.VariantConfigAdjust, ExpectedImprovement: 0.5, Parameters: map[string]any{"timeout_ms": 60000}}
	require.True(t, e.Execute(action).Success)
	_, ok := overrides.Get("timeout_ms")
	require.True(t, ok)

	require.NoError(t, e.Rollback(action))
	_, ok = overrides.Get("timeout_ms")
	assert.False(t, ok, "key absent before execution must be absent after rollback")
}

func TestRollbackLogObservationIsIrreversible(t *testing.T) {
	e := New(NewMapOverrides())
	action := &model.Action{ID: "a6", Variant: model.VariantLogObservation}
	err := e.Rollback(action)
	assert.ErrorIs(t, err, ErrLogObservationIrreversible)
}

func TestExecutePopulatesInverseOperationForPersistence(t *testing.T) {
	overrides := NewMapOverrides()
	overrides.Set("timeout_ms", "1000")
	e := New(overrides)

	action := &model.Action{ID: "a7", Variant: model.VariantConfigAdjust, ExpectedImprovement: 0.5, Parameters: map[string]any{"timeout_ms": 3000}}
	require.True(t, e.Execute(action).Success)
	assert.Equal(t, "1000", action.InverseOperation["timeout_ms"])
}

func TestExecutePopulatesNilInverseOperationForPreviouslyAbsentKey(t *testing.T) {
	e := New(NewMapOverrides())
	action := &model.Action{ID: "a8", Variant: model.VariantConfigAdjust, ExpectedImprovement: 0.5, Parameters: map[string]any{"timeout_ms": 60000}}
	require.True(t, e.Execute(action).Success)
	val, ok := action.InverseOperation["timeout_ms"]
	require.True(t, ok)
	assert.Nil(t, val)
}

func TestRollbackFallsBackToPersistedInverseOperationWhenJournalEntryIsGone(t *testing.T) {
	overrides := NewMapOverrides()
	overrides.Set("timeout_ms", "1000")

	// Simulate a rollback issued from a separate process: a fresh
	// Executor has no journal entry, only the action's persisted
	// InverseOperation (as it would come back from storage.Store).
	e := New(overrides)
	overrides.Set("timeout_ms", "3000")
	action := &model.Action{
		ID: "a9", Variant: model.VariantConfigAdjust,
		InverseOperation: map[string]any{"timeout_ms": "1000"},
	}

	require.NoError(t, e.Rollback(action))
	val, _ := overrides.Get("timeout_ms")
	assert.Equal(t, "1000", val)
	assert.Equal(t, model.ActionRolledBack, action.Status)
}

func TestRollbackFallsBackToPersistedInverseOperationDeletingAbsentKey(t *testing.T) {
	overrides := NewMapOverrides()
	overrides.Set("timeout_ms", "60000")
	e := New(overrides)

	action := &model.Action{
		ID: "a10", Variant: model.VariantConfigAdjust,
		InverseOperation: map[string]any{"timeout_ms": nil},
	}

	require.NoError(t, e.Rollback(action))
	_, ok := overrides.Get("timeout_ms")
	assert.False(t, ok)
}

func TestRollbackUnknownActionErrors(t *testing.T) {
	e := New(NewMapOverrides())
	err := e.Rollback(&model.Action{ID: "missing", Variant: model.VariantConfigAdjust})
	require.Error(t, err)
}

func TestJournalRingBufferTrimsToCapacity(t *testing.T) {
	overrides := NewMapOverrides()
	e := New(overrides)
	for i := 0; i < journalCapacity+10; i++ {
		action := &model.Action{ID: "x", Variant: model.VariantConfigAdjust, Parameters: map[string]any{"timeout_ms": i}}
		e.Execute(action)
	}
	assert.Len(t, e.journal.entries, journalCapacity)
}
