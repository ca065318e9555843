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

package supervisor

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reasonloop/reasonloop/internal/llm"
	"github.com/reasonloop/reasonloop/internal/metrics"
	"github.com/reasonloop/reasonloop/internal/selfimprove/allowlist"
	"github.com/reasonloop/reasonloop/internal/selfimprove/analyzer"
	"github.com/reasonloop/reasonloop/internal/selfimprove/breaker"
	"github.com/reasonloop/reasonloop/internal/selfimprove/executor"
	"github.com/reasonloop/reasonloop/internal/selfimprove/learner"
	"github.com/reasonloop/reasonloop/internal/selfimprove/model"
	"github.com/reasonloop/reasonloop/internal/selfimprove/monitor"
)

// fakeMetricsStore is a fixed-summary stand-in for metrics.Store, used so
// Supervisor tests don't need a SQLite file.
type fakeMetricsStore struct {
	summary metrics.Summary
	err     error
}

func (f *fakeMetricsStore) Record(metrics.Invocation) error                 { return nil }
func (f *fakeMetricsStore) BatchRecord([]metrics.Invocation) (int, error)   { return 0, nil }
func (f *fakeMetricsStore) Summary(time.Duration) (metrics.Summary, error)  { return f.summary, f.err }
func (f *fakeMetricsStore) Close() error                                    { return nil }

// fakeCaller returns a scripted analyzer response, matching the Design
// Note on llm.Caller polymorphism.
type fakeCaller struct {
	text string
}

func (c *fakeCaller) Call(context.Context, *llm.Request) (*llm.Response, error) {
	return &llm.Response{Text: c.text}, nil
}

// fakeStore is an in-memory Store double that records every save call,
// so persistence wiring can be asserted without a SQLite file.
type fakeStore struct {
	mu         sync.Mutex
	diagnoses  []*model.Diagnosis
	actions    []*model.Action
	lessons    []model.Lesson
}

func (f *fakeStore) SaveDiagnosis(d *model.Diagnosis) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.diagnoses = append(f.diagnoses, d)
	return nil
}

func (f *fakeStore) SaveAction(a *model.Action) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.actions = append(f.actions, a)
	return nil
}

func (f *fakeStore) SaveLesson(l model.Lesson) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lessons = append(f.lessons, l)
	return nil
}

func newTestSupervisor(t *testing.T, metricsStore metrics.Store, requireApproval bool) *Supervisor {
	t.Helper()
	return newTestSupervisorWithStore(t, metricsStore, nil, requireApproval)
}

func newTestSupervisorWithStore(t *testing.T, metricsStore metrics.Store, store Store, requireApproval bool) *Supervisor {
	t.Helper()
	caller := &fakeCaller{text: `{"summary":"s","confidence":0.7,"actions":[` +
		`{"action_type":"config_adjust","description":"raise timeout","rationale":"latency","expected_improvement":0.3,"parameters":{"timeout_ms":5000}}` +
		`]}`}
	return New(Config{
		MetricsStore:    metricsStore,
		Store:           store,
		Monitor:         monitor.New(monitor.Config{MinInvocations: 1, MinSuccessRate: 0.99}),
		Analyzer:        analyzer.New(caller, 3),
		Allowlist:       allowlist.New(allowlist.DefaultConfig()),
		Executor:        executor.New(executor.NewMapOverrides()),
		Breaker:         breaker.New(breaker.DefaultConfig()),
		Learner:         learner.New(0, 0),
		RequireApproval: requireApproval,
		CycleInterval:   time.Minute,
	})
}

func TestRunCycleBlockedWhenBreakerOpen(t *testing.T) {
	store := &fakeMetricsStore{summary: metrics.Summary{TotalInvocations: 100, SuccessRate: 0.1}}
	s := newTestSupervisor(t, store, false)
	s.breaker.Trip()

	result := s.RunCycle(context.Background())
	assert.True(t, result.Blocked)
	assert.Nil(t, result.MonitorResult)
}

func TestRunCycleNoActionWhenMonitorRecommendsNone(t *testing.T) {
	store := &fakeMetricsStore{summary: metrics.Summary{TotalInvocations: 100, SuccessRate: 1.0}}
	s := newTestSupervisor(t, store, false)

	result := s.RunCycle(context.Background())
	require.NotNil(t, result.MonitorResult)
	assert.False(t, result.MonitorResult.ActionRecommended)
	assert.Empty(t, result.ExecutionResults)
}

func TestRunCycleQueuesActionsWhenApprovalRequired(t *testing.T) {
	store := &fakeMetricsStore{summary: metrics.Summary{TotalInvocations: 100, SuccessRate: 0.1}}
	s := newTestSupervisor(t, store, true)

	result := s.RunCycle(context.Background())
	require.NotNil(t, result.Diagnosis)
	assert.Empty(t, result.ExecutionResults, "approval-gated cycle must not execute")
	assert.Len(t, s.Queue().PendingActions(), 1)
}

func TestRunCycleExecutesDirectlyWhenApprovalNotRequired(t *testing.T) {
	store := &fakeMetricsStore{summary: metrics.Summary{TotalInvocations: 100, SuccessRate: 0.1}}
	s := newTestSupervisor(t, store, false)

	result := s.RunCycle(context.Background())
	require.Len(t, result.ExecutionResults, 1)
	assert.True(t, result.ExecutionResults[0].Success)
	require.Len(t, result.LearningResults, 1)
	assert.Empty(t, s.Queue().PendingActions())
}

func TestApproveAndExecuteDrainsQueue(t *testing.T) {
	store := &fakeMetricsStore{summary: metrics.Summary{TotalInvocations: 100, SuccessRate: 0.1}}
	s := newTestSupervisor(t, store, true)

	s.RunCycle(context.Background())
	require.Len(t, s.Queue().PendingActions(), 1)

	result := s.ApproveAndExecute()
	require.Len(t, result.ExecutionResults, 1)
	assert.Empty(t, s.Queue().PendingActions())
}

func TestRejectPendingClearsQueueWithoutExecuting(t *testing.T) {
	store := &fakeMetricsStore{summary: metrics.Summary{TotalInvocations: 100, SuccessRate: 0.1}}
	s := newTestSupervisor(t, store, true)

	s.RunCycle(context.Background())
	require.NotEmpty(t, s.Queue().PendingActions())

	s.RejectPending()
	assert.Empty(t, s.Queue().PendingActions())
}

func TestExecuteActionsStopsAfterBreakerOpens(t *testing.T) {
	store := &fakeMetricsStore{summary: metrics.Summary{TotalInvocations: 100, SuccessRate: 0.1}}
	s := newTestSupervisor(t, store, false)
	s.breaker = breaker.New(breaker.Config{FailureThreshold: 1, SuccessThreshold: 2, Cooldown: time.Minute})

	// An empty-parameters prompt_tune action fails the executor's
	// required-key check, tripping the breaker on the very first failure.
	actions := []*model.Action{
		{ID: "fail-1", Variant: model.VariantPromptTune, ExpectedImprovement: 0.2},
		{ID: "fail-2", Variant: model.VariantPromptTune, ExpectedImprovement: 0.2},
	}
	result := s.executeActions(nil, nil, actions)
	require.Len(t, result.ExecutionResults, 1)
	assert.False(t, result.ExecutionResults[0].Success)
	assert.Equal(t, breaker.Open, s.breaker.Snapshot().State)
}

func TestRunCycleCapturesBaselineOnFirstCycle(t *testing.T) {
	store := &fakeMetricsStore{summary: metrics.Summary{TotalInvocations: 100, SuccessRate: 1.0}}
	s := newTestSupervisor(t, store, false)

	assert.Nil(t, s.currentBaseline())
	s.RunCycle(context.Background())
	require.NotNil(t, s.currentBaseline())
	assert.Equal(t, 100, s.currentBaseline().SampleCount)
}

func TestRunCycleDoesNotRebaselineBeforeWatermark(t *testing.T) {
	store := &fakeMetricsStore{summary: metrics.Summary{TotalInvocations: 100, SuccessRate: 1.0}}
	s := newTestSupervisor(t, store, false)
	s.baselineWatermark = 50

	s.RunCycle(context.Background())
	first := s.currentBaseline()
	require.NotNil(t, first)

	store.summary.TotalInvocations = 120
	s.RunCycle(context.Background())
	assert.Equal(t, first.SampleCount, s.currentBaseline().SampleCount, "watermark of 50 not yet exceeded by 20 new invocations")
}

func TestRunCycleRebaselinesOncePastWatermark(t *testing.T) {
	store := &fakeMetricsStore{summary: metrics.Summary{TotalInvocations: 100, SuccessRate: 1.0}}
	s := newTestSupervisor(t, store, false)
	s.baselineWatermark = 50

	s.RunCycle(context.Background())
	require.Equal(t, 100, s.currentBaseline().SampleCount)

	store.summary.TotalInvocations = 160
	s.RunCycle(context.Background())
	assert.Equal(t, 160, s.currentBaseline().SampleCount)
}

func TestRunCycleExecutesDirectlyPersistsDiagnosisActionsAndLessons(t *testing.T) {
	store := &fakeMetricsStore{summary: metrics.Summary{TotalInvocations: 100, SuccessRate: 0.1}}
	si := &fakeStore{}
	s := newTestSupervisorWithStore(t, store, si, false)

	result := s.RunCycle(context.Background())
	require.Len(t, result.ExecutionResults, 1)

	si.mu.Lock()
	defer si.mu.Unlock()
	assert.Len(t, si.diagnoses, 1)
	assert.Len(t, si.actions, 1)
	assert.Len(t, si.lessons, 1)
}

func TestRunCycleQueuedDiagnosisPersistsBeforeApproval(t *testing.T) {
	store := &fakeMetricsStore{summary: metrics.Summary{TotalInvocations: 100, SuccessRate: 0.1}}
	si := &fakeStore{}
	s := newTestSupervisorWithStore(t, store, si, true)

	s.RunCycle(context.Background())

	si.mu.Lock()
	defer si.mu.Unlock()
	assert.Len(t, si.diagnoses, 1, "diagnosis must persist even while gated on approval")
	assert.Empty(t, si.actions, "actions are not executed, hence not yet persisted with a terminal status")
}

func TestApproveDiagnosisExecutesOnlyMatchingActionsAndLeavesOthersQueued(t *testing.T) {
	store := &fakeMetricsStore{summary: metrics.Summary{TotalInvocations: 100, SuccessRate: 0.1}}
	s := newTestSupervisor(t, store, true)

	s.queue.Push([]*model.Action{
		{ID: "a1", DiagnosisID: "diag-1", Variant: model.VariantLogObservation},
		{ID: "a2", DiagnosisID: "diag-2", Variant: model.VariantLogObservation},
	})

	result := s.ApproveDiagnosis("diag-1")
	require.Len(t, result.ExecutionResults, 1)
	assert.Equal(t, "a1", result.ExecutionResults[0].Action.ID)

	remaining := s.Queue().PendingActions()
	require.Len(t, remaining, 1)
	assert.Equal(t, "a2", remaining[0].ID)
}

func TestApproveDiagnosisAllDrainsWholeQueue(t *testing.T) {
	store := &fakeMetricsStore{summary: metrics.Summary{TotalInvocations: 100, SuccessRate: 0.1}}
	s := newTestSupervisor(t, store, true)

	s.queue.Push([]*model.Action{
		{ID: "a1", DiagnosisID: "diag-1", Variant: model.VariantLogObservation},
		{ID: "a2", DiagnosisID: "diag-2", Variant: model.VariantLogObservation},
	})

	result := s.ApproveDiagnosis("all")
	assert.Len(t, result.ExecutionResults, 2)
	assert.Empty(t, s.Queue().PendingActions())
}

func TestRejectDiagnosisClearsOnlyMatchingActions(t *testing.T) {
	store := &fakeMetricsStore{summary: metrics.Summary{TotalInvocations: 100, SuccessRate: 0.1}}
	s := newTestSupervisor(t, store, true)

	s.queue.Push([]*model.Action{
		{ID: "a1", DiagnosisID: "diag-1", Variant: model.VariantLogObservation},
		{ID: "a2", DiagnosisID: "diag-2", Variant: model.VariantLogObservation},
	})

	s.RejectDiagnosis("diag-1")
	remaining := s.Queue().PendingActions()
	require.Len(t, remaining, 1)
	assert.Equal(t, "a2", remaining[0].ID)
}

func TestNewClampsCycleIntervalToBounds(t *testing.T) {
	store := &fakeMetricsStore{}
	s1 := newTestSupervisorWithInterval(t, store, time.Second)
	assert.Equal(t, minCycleInterval, s1.cycleInterval)

	s2 := newTestSupervisorWithInterval(t, store, 24*time.Hour)
	assert.Equal(t, maxCycleInterval, s2.cycleInterval)

	s3 := newTestSupervisorWithInterval(t, store, 0)
	assert.Equal(t, defaultCycleInterval, s3.cycleInterval)
}

func newTestSupervisorWithInterval(t *testing.T, store metrics.Store, interval time.Duration) *Supervisor {
	t.Helper()
	return New(Config{
		MetricsStore:  store,
		Monitor:       monitor.New(monitor.Config{}),
		Analyzer:      analyzer.New(&fakeCaller{}, 3),
		Allowlist:     allowlist.New(allowlist.DefaultConfig()),
		Executor:      executor.New(executor.NewMapOverrides()),
		Breaker:       breaker.New(breaker.DefaultConfig()),
		Learner:       learner.New(0, 0),
		CycleInterval: interval,
	})
}
