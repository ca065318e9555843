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

// Package supervisor implements the Loop Supervisor (C10): the
// Monitor -> Analyze -> Allowlist -> Executor -> Learner cycle and its
// approval gate. The background-task wrapper that repeats RunCycle on
// an interval lives in cmd/reasonctl, alongside the pause check and
// observability recording each cycle needs.
package supervisor

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/reasonloop/reasonloop/internal/metrics"
	"github.com/reasonloop/reasonloop/internal/selfimprove/allowlist"
	"github.com/reasonloop/reasonloop/internal/selfimprove/analyzer"
	"github.com/reasonloop/reasonloop/internal/selfimprove/breaker"
	"github.com/reasonloop/reasonloop/internal/selfimprove/executor"
	"github.com/reasonloop/reasonloop/internal/selfimprove/learner"
	"github.com/reasonloop/reasonloop/internal/selfimprove/model"
	"github.com/reasonloop/reasonloop/internal/selfimprove/monitor"
)

const (
	defaultCycleInterval = 300 * time.Second
	minCycleInterval     = 30 * time.Second
	maxCycleInterval     = 3600 * time.Second

	defaultBaselineWatermark = 100
)

// ExecutionOutcome pairs an action with its terminal execution result,
// for reporting.
type ExecutionOutcome struct {
	Action  *model.Action
	Success bool
	Err     error
}

// CycleResult is returned by RunCycle and the approval-gate methods.
type CycleResult struct {
	Blocked          bool
	MonitorResult    *monitor.Result
	Diagnosis        *model.Diagnosis
	ExecutionResults []ExecutionOutcome
	LearningResults  []model.Lesson
	Err              error
}

// Store persists diagnoses, actions, and lessons as the loop produces
// them. `reasonctl` runs one command per process, so `history`,
// `rollback`, and friends read this store rather than any in-memory
// state held by a separate `serve` process (spec.md lines 88, 96, 98,
// 343). Satisfied structurally by *storage.Store.
type Store interface {
	SaveDiagnosis(*model.Diagnosis) error
	SaveAction(*model.Action) error
	SaveLesson(model.Lesson) error
}

// Supervisor holds references to C1-C9 and drives one closed-loop cycle.
type Supervisor struct {
	metricsStore   metrics.Store
	store          Store
	monitor        *monitor.Monitor
	analyzer       *analyzer.Analyzer
	allowlist      *allowlist.Allowlist
	executor       *executor.Executor
	breaker        *breaker.Breaker
	learner        *learner.Learner
	queue          *PendingQueue
	requireApproval bool
	cycleInterval  time.Duration
	baselineWatermark int

	mu       sync.Mutex
	baseline *metrics.Baseline
}

// Config bundles the constructed collaborators a Supervisor needs.
type Config struct {
	MetricsStore metrics.Store
	// Store persists diagnoses/actions/lessons; nil disables persistence
	// (e.g. in tests that only need in-memory behavior).
	Store           Store
	Monitor         *monitor.Monitor
	Analyzer        *analyzer.Analyzer
	Allowlist       *allowlist.Allowlist
	Executor        *executor.Executor
	Breaker         *breaker.Breaker
	Learner         *learner.Learner
	RequireApproval bool
	CycleInterval   time.Duration
	// BaselineWatermark is the number of additional invocations observed
	// since the current baseline was captured before the Monitor's
	// deviation checks rebase onto the latest summary (spec.md §3).
	BaselineWatermark int
}

// New constructs a Supervisor from its collaborators.
func New(cfg Config) *Supervisor {
	interval := cfg.CycleInterval
	if interval == 0 {
		interval = defaultCycleInterval
	}
	if interval < minCycleInterval {
		interval = minCycleInterval
	}
	if interval > maxCycleInterval {
		interval = maxCycleInterval
	}
	watermark := cfg.BaselineWatermark
	if watermark <= 0 {
		watermark = defaultBaselineWatermark
	}
	return &Supervisor{
		metricsStore:      cfg.MetricsStore,
		store:             cfg.Store,
		monitor:           cfg.Monitor,
		analyzer:          cfg.Analyzer,
		allowlist:         cfg.Allowlist,
		executor:          cfg.Executor,
		breaker:           cfg.Breaker,
		learner:           cfg.Learner,
		queue:             NewPendingQueue(),
		requireApproval:   cfg.RequireApproval,
		cycleInterval:     interval,
		baselineWatermark: watermark,
	}
}

// Queue exposes the pending queue for external inspection (CLI).
func (s *Supervisor) Queue() *PendingQueue { return s.queue }

// Breaker exposes the circuit breaker for external inspection (CLI).
func (s *Supervisor) Breaker() *breaker.Breaker { return s.breaker }

// Learner exposes the learner for external inspection (CLI).
func (s *Supervisor) Learner() *learner.Learner { return s.learner }

// SetBaseline installs the current baseline used by the Monitor for
// deviation triggers.
func (s *Supervisor) SetBaseline(b metrics.Baseline) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.baseline = &b
}

func (s *Supervisor) currentBaseline() *metrics.Baseline {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.baseline
}

// maybeRebaseline replaces the current baseline with one captured from
// summary once enough new invocations have accumulated past the
// watermark, or when no baseline has been captured yet (spec.md §3).
func (s *Supervisor) maybeRebaseline(summary metrics.Summary) {
	baseline := s.currentBaseline()
	if baseline == nil || summary.TotalInvocations-baseline.SampleCount > s.baselineWatermark {
		s.SetBaseline(metrics.FromSummary(summary))
	}
}

// RunCycle executes one full cycle per spec.md §4.10.
func (s *Supervisor) RunCycle(ctx context.Context) CycleResult {
	if !s.breaker.IsAllowed() {
		return CycleResult{Blocked: true}
	}

	summary, err := s.metricsStore.Summary(0)
	if err != nil {
		return CycleResult{Err: err}
	}
	mr := s.monitor.Evaluate(summary, s.currentBaseline())
	s.maybeRebaseline(summary)
	if !mr.ActionRecommended {
		return CycleResult{MonitorResult: &mr}
	}

	diagnosis, err := s.analyzer.Diagnose(ctx, mr)
	if err != nil {
		s.breaker.RecordFailure()
		return CycleResult{MonitorResult: &mr, Err: err}
	}
	s.persistDiagnosis(diagnosis)

	if s.requireApproval {
		for _, a := range diagnosis.Actions {
			a.DiagnosisID = diagnosis.ID
		}
		s.queue.Push(diagnosis.Actions)
		return CycleResult{MonitorResult: &mr, Diagnosis: diagnosis}
	}

	return s.executeActions(&mr, diagnosis, diagnosis.Actions)
}

func (s *Supervisor) persistDiagnosis(d *model.Diagnosis) {
	if s.store == nil {
		return
	}
	if err := s.store.SaveDiagnosis(d); err != nil {
		slog.Error("self-improvement: failed to persist diagnosis", "diagnosis_id", d.ID, "error", err)
	}
}

func (s *Supervisor) persistAction(a *model.Action) {
	if s.store == nil {
		return
	}
	if err := s.store.SaveAction(a); err != nil {
		slog.Error("self-improvement: failed to persist action", "action_id", a.ID, "error", err)
	}
}

func (s *Supervisor) persistLesson(l model.Lesson) {
	if s.store == nil {
		return
	}
	if err := s.store.SaveLesson(l); err != nil {
		slog.Error("self-improvement: failed to persist lesson", "lesson_id", l.ID, "error", err)
	}
}

// executeActions runs step 5 of spec.md §4.10 over actions, in order.
func (s *Supervisor) executeActions(mr *monitor.Result, diagnosis *model.Diagnosis, actions []*model.Action) CycleResult {
	result := CycleResult{MonitorResult: mr, Diagnosis: diagnosis}

	for _, action := range actions {
		if err := s.allowlist.ValidateAndRecord(action, time.Now().UTC()); err != nil {
			action.Status = model.ActionFailed
			result.ExecutionResults = append(result.ExecutionResults, ExecutionOutcome{Action: action, Success: false, Err: err})
			s.persistAction(action)
			s.breaker.RecordFailure()
			slog.Warn("self-improvement: action rejected by allowlist", "action_id", action.ID, "error", err)
			continue
		}

		action.Status = model.ActionApproved
		execResult := s.executor.Execute(action)

		if execResult.Success {
			s.breaker.RecordSuccess()
		} else {
			s.breaker.RecordFailure()
		}
		result.ExecutionResults = append(result.ExecutionResults, ExecutionOutcome{Action: action, Success: execResult.Success, Err: execResult.Err})
		s.persistAction(action)

		lesson := s.learner.Learn(execResult)
		result.LearningResults = append(result.LearningResults, lesson)
		s.persistLesson(lesson)

		if s.breaker.Snapshot().State == breaker.Open {
			break
		}
	}

	return result
}

// ApproveAndExecute drains the pending queue and runs it through step 5.
func (s *Supervisor) ApproveAndExecute() CycleResult {
	actions := s.queue.DrainAll()
	if len(actions) == 0 {
		return CycleResult{}
	}
	return s.executeActions(nil, nil, actions)
}

// ApproveActions moves the matching pending entries out of the queue and
// runs step 5 on just those, preserving the rest.
func (s *Supervisor) ApproveActions(ids []string) CycleResult {
	idSet := make(map[string]bool, len(ids))
	for _, id := range ids {
		idSet[id] = true
	}
	actions := s.queue.DrainByID(idSet)
	if len(actions) == 0 {
		return CycleResult{}
	}
	return s.executeActions(nil, nil, actions)
}

// RejectPending clears the queue unconditionally.
func (s *Supervisor) RejectPending() {
	s.queue.Clear()
}

// ApproveDiagnosis runs step 5 over the pending actions belonging to
// diagnosisID, or the whole queue when diagnosisID is "all"
// (spec.md line 310's approve_actions(ids), surfaced on the CLI per
// spec.md:341 as `approve <diagnosis-id>`).
func (s *Supervisor) ApproveDiagnosis(diagnosisID string) CycleResult {
	if diagnosisID == "all" {
		return s.ApproveAndExecute()
	}
	actions := s.queue.DrainByDiagnosisID(diagnosisID)
	if len(actions) == 0 {
		return CycleResult{}
	}
	return s.executeActions(nil, nil, actions)
}

// RejectDiagnosis clears the pending actions belonging to diagnosisID,
// or the whole queue when diagnosisID is "all".
func (s *Supervisor) RejectDiagnosis(diagnosisID string) {
	if diagnosisID == "all" {
		s.RejectPending()
		return
	}
	s.queue.DrainByDiagnosisID(diagnosisID)
}
