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

package main

import (
	"context"
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"time"

	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/reasonloop/reasonloop/internal/observability"
	"github.com/reasonloop/reasonloop/internal/selfimprove/model"
)

const pauseConfigKey = "self_improvement:paused_until"

// ServeCmd runs the self-improvement loop alongside the HTTP server that
// exposes the Prometheus metrics handler. It does not start a reasoning
// tool-call dispatcher.
type ServeCmd struct{}

func (c *ServeCmd) Run(app *App) error {
	w, err := app.wire()
	if err != nil {
		return err
	}
	defer w.Close()

	recorder, err := observability.New()
	if err != nil {
		return fmt.Errorf("init observability: %w", err)
	}
	defer recorder.Shutdown(context.Background())

	slog.Info("reasonctl serve starting", "db", app.Config.DBPath, "require_approval", app.Config.SelfImprovement.RequireApproval, "metrics_addr", app.Config.MetricsAddr)

	group, ctx := errgroup.WithContext(app.Ctx)

	metricsServer := &http.Server{Addr: app.Config.MetricsAddr, Handler: recorder.Handler()}
	group.Go(func() error {
		errCh := make(chan error, 1)
		go func() { errCh <- metricsServer.ListenAndServe() }()
		select {
		case <-ctx.Done():
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return metricsServer.Shutdown(shutdownCtx)
		case err := <-errCh:
			if err == http.ErrServerClosed {
				return nil
			}
			return err
		}
	})

	group.Go(func() error {
		runSelfImprovementLoop(ctx, app, w, recorder)
		return nil
	})

	return group.Wait()
}

// runSelfImprovementLoop drives the self-improvement cycle until ctx is
// canceled, honoring both the require-approval gate and an operator
// pause persisted via the pause command.
func runSelfImprovementLoop(ctx context.Context, app *App, w *wiring, recorder *observability.Recorder) {
	if app.Config.SelfImprovement.RequireApproval {
		<-ctx.Done()
		return
	}

	for {
		if paused, until, err := isPaused(w); err == nil && paused {
			slog.Info("self-improvement loop paused", "until", until)
		} else {
			result := w.supervisor.RunCycle(ctx)
			recorder.RecordCycle(ctx, result.Blocked)
			recorder.RecordBreakerState(ctx, observability.BreakerStateCode(string(w.breaker.Snapshot().State)))
			for _, outcome := range result.ExecutionResults {
				recorder.RecordAction(ctx, outcome.Success)
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(app.Config.SelfImprovement.CycleInterval):
		}
	}
}

func isPaused(w *wiring) (bool, time.Time, error) {
	raw, ok, err := w.siStorage.GetConfigOverride(pauseConfigKey)
	if err != nil || !ok {
		return false, time.Time{}, err
	}
	until, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return false, time.Time{}, nil
	}
	return time.Now().UTC().Before(until), until, nil
}

// StatusCmd reports circuit breaker, queue, and learner summary.
type StatusCmd struct{}

func (c *StatusCmd) Run(app *App) error {
	w, err := app.wire()
	if err != nil {
		return err
	}
	defer w.Close()

	snap := w.breaker.Snapshot()
	fmt.Printf("circuit breaker: %s (trips=%d, consecutive_failures=%d)\n", snap.State, snap.Trips, snap.ConsecutiveFailures)
	fmt.Printf("pending actions: %d\n", len(w.supervisor.Queue().PendingActions()))

	summary := w.learner.Summary()
	fmt.Printf("lessons learned: %d\n", summary.TotalLessons)
	for variant, stats := range summary.PerVariant {
		fmt.Printf("  %s: executions=%d successes=%d mean_reward=%.3f\n", variant, stats.Executions, stats.Successes, stats.MeanReward)
	}
	return nil
}

// HistoryCmd lists past self-improvement actions.
type HistoryCmd struct {
	Limit   int    `help:"Maximum number of actions to list." default:"20"`
	Outcome string `help:"Filter by outcome: success, failed, rolled_back." enum:",success,failed,rolled_back" default:""`
}

func (c *HistoryCmd) Run(app *App) error {
	w, err := app.wire()
	if err != nil {
		return err
	}
	defer w.Close()

	status := outcomeToStatus(c.Outcome)
	actions, err := w.siStorage.ListActions(status, c.Limit)
	if err != nil {
		return err
	}
	for _, a := range actions {
		fmt.Printf("%s\t%s\t%s\texpected=%.3f\tmeasured=%.3f\t%s\n",
			a.ID, a.Variant, a.Status, a.ExpectedImprovement, a.MeasuredImprovement, a.CreatedAt.Format(time.RFC3339))
	}
	return nil
}

func outcomeToStatus(outcome string) string {
	switch outcome {
	case "success":
		return "completed"
	case "failed":
		return "failed"
	case "rolled_back":
		return "rolled_back"
	default:
		return ""
	}
}

// DiagnosticsCmd lists the actions in this process's pending-approval
// queue. It does not read diagnoses persisted by another process, and it
// does not print a diagnosis's confidence.
type DiagnosticsCmd struct {
	Verbose bool `help:"Include each action's rationale and expected improvement."`
}

func (c *DiagnosticsCmd) Run(app *App) error {
	w, err := app.wire()
	if err != nil {
		return err
	}
	defer w.Close()

	pending := w.supervisor.Queue().PendingActions()
	if len(pending) == 0 {
		fmt.Println("no pending diagnosis")
		return nil
	}
	for _, a := range pending {
		fmt.Printf("action %s (%s): %s\n", a.ID, a.Variant, a.Description)
		if c.Verbose {
			fmt.Printf("  rationale: %s\n  expected_improvement: %.3f\n", a.Rationale, a.ExpectedImprovement)
		}
	}
	return nil
}

// ConfigCmd shows resolved configuration and persisted overrides.
type ConfigCmd struct{}

func (c *ConfigCmd) Run(app *App) error {
	w, err := app.wire()
	if err != nil {
		return err
	}
	defer w.Close()

	cfg := app.Config
	fmt.Printf("model: %s\nbase_url: %s\ndb_path: %s\nrequire_approval: %t\ncycle_interval: %s\n",
		cfg.Model, cfg.BaseURL, cfg.DBPath, cfg.SelfImprovement.RequireApproval, cfg.SelfImprovement.CycleInterval)

	overrides, err := w.siStorage.ListConfigOverrides()
	if err != nil {
		return err
	}
	if len(overrides) == 0 {
		fmt.Println("no config overrides applied")
		return nil
	}
	fmt.Println("overrides:")
	for _, o := range overrides {
		appliedBy := o.AppliedBy
		if appliedBy == "" {
			appliedBy = "operator"
		}
		fmt.Printf("  %s = %s (applied by %s, updated %s)\n", o.Key, o.Value, appliedBy, o.UpdatedAt.Format(time.RFC3339))
	}
	return nil
}

// CircuitBreakerCmd shows circuit breaker state.
type CircuitBreakerCmd struct{}

func (c *CircuitBreakerCmd) Run(app *App) error {
	w, err := app.wire()
	if err != nil {
		return err
	}
	defer w.Close()
	snap := w.breaker.Snapshot()
	fmt.Printf("state: %s\ntrips: %d\nconsecutive_failures: %d\nconsecutive_successes: %d\nlast_failure: %s\n",
		snap.State, snap.Trips, snap.ConsecutiveFailures, snap.ConsecutiveSuccess, snap.LastFailure.Format(time.RFC3339))
	return nil
}

// BaselinesCmd prints the current all-time metrics summary from the
// metrics store. It does not show the baseline held by a running serve
// process.
type BaselinesCmd struct{}

func (c *BaselinesCmd) Run(app *App) error {
	w, err := app.wire()
	if err != nil {
		return err
	}
	defer w.Close()

	summary, err := w.metrics.Summary(0)
	if err != nil {
		return err
	}
	fmt.Printf("current: total_invocations=%d success_rate=%.4f mean_latency_ms=%.1f\n",
		summary.TotalInvocations, summary.SuccessRate, summary.MeanLatencyMs)
	return nil
}

var pauseDurationPattern = regexp.MustCompile(`^(\d+)(ms|s|m|h|d)$`)

// parsePauseDuration implements the \d+(ms|s|m|h|d) duration grammar.
func parsePauseDuration(s string) (time.Duration, error) {
	m := pauseDurationPattern.FindStringSubmatch(s)
	if m == nil {
		return 0, fmt.Errorf("invalid duration %q: expected form like 30s, 10m, 2h, 1d", s)
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q: %w", s, err)
	}
	switch m[2] {
	case "ms":
		return time.Duration(n) * time.Millisecond, nil
	case "s":
		return time.Duration(n) * time.Second, nil
	case "m":
		return time.Duration(n) * time.Minute, nil
	case "h":
		return time.Duration(n) * time.Hour, nil
	case "d":
		return time.Duration(n) * 24 * time.Hour, nil
	default:
		return 0, fmt.Errorf("invalid duration unit in %q", s)
	}
}

// PauseCmd pauses the self-improvement loop for a duration.
type PauseCmd struct {
	Duration string `arg:"" help:"Pause duration, e.g. 30s, 10m, 2h, 1d."`
}

func (c *PauseCmd) Run(app *App) error {
	d, err := parsePauseDuration(c.Duration)
	if err != nil {
		return err
	}
	w, err := app.wire()
	if err != nil {
		return err
	}
	defer w.Close()

	until := time.Now().UTC().Add(d)
	if err := w.siStorage.SetConfigOverride(pauseConfigKey, until.Format(time.RFC3339), ""); err != nil {
		return err
	}
	fmt.Printf("self-improvement loop paused until %s\n", until.Format(time.RFC3339))
	return nil
}

// RollbackCmd rolls back a previously executed action.
type RollbackCmd struct {
	ActionID string `arg:"" help:"ID of the action to roll back."`
}

func (c *RollbackCmd) Run(app *App) error {
	w, err := app.wire()
	if err != nil {
		return err
	}
	defer w.Close()

	actions, err := w.siStorage.ListActions("", 0)
	if err != nil {
		return err
	}
	var target *model.Action
	for _, a := range actions {
		if a.ID == c.ActionID {
			target = a
			break
		}
	}
	if target == nil {
		return fmt.Errorf("action %s not found", c.ActionID)
	}
	if err := w.executor.Rollback(target); err != nil {
		return err
	}
	if err := w.siStorage.SaveAction(target); err != nil {
		return err
	}
	fmt.Printf("rolled back action %s\n", c.ActionID)
	return nil
}

// ApproveCmd approves a pending diagnosis's actions.
type ApproveCmd struct {
	DiagnosisID string `arg:"" help:"Diagnosis ID whose actions should execute (or 'all')."`
}

func (c *ApproveCmd) Run(app *App) error {
	w, err := app.wire()
	if err != nil {
		return err
	}
	defer w.Close()

	result := w.supervisor.ApproveDiagnosis(c.DiagnosisID)
	if len(result.ExecutionResults) == 0 {
		fmt.Printf("no pending actions for diagnosis %s\n", c.DiagnosisID)
		return nil
	}
	for _, outcome := range result.ExecutionResults {
		fmt.Printf("%s: success=%t\n", outcome.Action.ID, outcome.Success)
	}
	return nil
}

// RejectCmd rejects a pending diagnosis's actions.
type RejectCmd struct {
	DiagnosisID string `arg:"" help:"Diagnosis ID to reject."`
	Reason      string `arg:"" optional:"" help:"Optional rejection reason."`
}

func (c *RejectCmd) Run(app *App) error {
	w, err := app.wire()
	if err != nil {
		return err
	}
	defer w.Close()

	w.supervisor.RejectDiagnosis(c.DiagnosisID)
	if c.Reason != "" {
		slog.Info("rejected pending self-improvement actions", "diagnosis_id", c.DiagnosisID, "reason", c.Reason)
	}
	fmt.Println("pending actions rejected")
	return nil
}
