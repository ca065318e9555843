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

	"github.com/reasonloop/reasonloop/internal/config"
	"github.com/reasonloop/reasonloop/internal/llm"
	"github.com/reasonloop/reasonloop/internal/metrics"
	"github.com/reasonloop/reasonloop/internal/selfimprove/allowlist"
	"github.com/reasonloop/reasonloop/internal/selfimprove/analyzer"
	"github.com/reasonloop/reasonloop/internal/selfimprove/breaker"
	"github.com/reasonloop/reasonloop/internal/selfimprove/executor"
	"github.com/reasonloop/reasonloop/internal/selfimprove/learner"
	"github.com/reasonloop/reasonloop/internal/selfimprove/monitor"
	"github.com/reasonloop/reasonloop/internal/selfimprove/storage"
	"github.com/reasonloop/reasonloop/internal/selfimprove/supervisor"
	"github.com/reasonloop/reasonloop/internal/session"
)

// App bundles the resolved configuration and run context shared by every
// subcommand; each command lazily wires only the collaborators it needs.
type App struct {
	Config *config.Config
	Ctx    context.Context
}

// wiring holds every constructed collaborator, opened once per process
// invocation (the CLI is short-lived: one command per process).
type wiring struct {
	sessions   *session.SQLiteStore
	metrics    *metrics.SQLiteStore
	siStorage  *storage.Store
	caller     llm.Caller
	breaker    *breaker.Breaker
	allowlist  *allowlist.Allowlist
	monitor    *monitor.Monitor
	analyzer   *analyzer.Analyzer
	executor   *executor.Executor
	learner    *learner.Learner
	supervisor *supervisor.Supervisor
}

func (a *App) wire() (*wiring, error) {
	cfg := a.Config

	sessions, err := session.NewSQLiteStore(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open session store: %w", err)
	}
	metricsStore, err := metrics.NewSQLiteStore(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open metrics store: %w", err)
	}
	siStorage, err := storage.NewStore(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open self-improvement store: %w", err)
	}

	client := llm.New(cfg.APIKey,
		llm.WithBaseURL(cfg.BaseURL),
		llm.WithModel(cfg.Model),
		llm.WithMaxRetries(cfg.MaxRetries),
		llm.WithTimeouts(llm.Timeouts{
			Standard: cfg.StandardTimeout,
			Deep:     cfg.DeepTimeout,
			Maximum:  cfg.MaximumTimeout,
		}),
	)

	si := cfg.SelfImprovement
	cb := breaker.New(breaker.Config{FailureThreshold: si.CircuitBreakerThreshold})
	alCfg, err := allowlist.LoadOverridesFile(cfg.AllowlistOverridesPath, allowlist.Config{
		MaxExpectedImprovement: si.MaxExpectedImprovement,
		MaxActionsPerHour:      si.MaxActionsPerHour,
	})
	if err != nil {
		return nil, fmt.Errorf("load allowlist overrides: %w", err)
	}
	al := allowlist.New(alCfg)
	mon := monitor.New(monitor.Config{
		MinInvocations:       si.MinInvocationsForAnalysis,
		MinSuccessRate:       si.MinSuccessRate,
		ModeSuccessThreshold: si.ModeSuccessThreshold,
		MaxAvgLatencyMs:      si.MaxAvgLatencyMs,
	})
	an := analyzer.New(client, si.MaxActionsPerCycle)
	ex := executor.New(storage.NewOverrides(siStorage))
	lr := learner.New(si.ImprovementWeight, si.MaxLessons)

	sup := supervisor.New(supervisor.Config{
		MetricsStore:      metricsStore,
		Store:             siStorage,
		Monitor:           mon,
		Analyzer:          an,
		Allowlist:         al,
		Executor:          ex,
		Breaker:           cb,
		Learner:           lr,
		RequireApproval:   si.RequireApproval,
		CycleInterval:     si.CycleInterval,
		BaselineWatermark: si.BaselineWatermark,
	})

	return &wiring{
		sessions:   sessions,
		metrics:    metricsStore,
		siStorage:  siStorage,
		caller:     client,
		breaker:    cb,
		allowlist:  al,
		monitor:    mon,
		analyzer:   an,
		executor:   ex,
		learner:    lr,
		supervisor: sup,
	}, nil
}

func (w *wiring) Close() {
	w.sessions.Close()
	w.metrics.Close()
	w.siStorage.Close()
}
