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

// Command reasonctl is the CLI front-end for the reasoning-orchestration
// server and its self-improvement loop.
//
// Usage:
//
//	reasonctl serve
//	reasonctl status
//	reasonctl history --limit 20 --outcome failed
//	reasonctl diagnostics --verbose
//	reasonctl pause 10m
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kong"

	"github.com/reasonloop/reasonloop/internal/config"
	"github.com/reasonloop/reasonloop/internal/logging"
)

// CLI is the top-level kong command tree.
type CLI struct {
	Serve          ServeCmd          `cmd:"" help:"Run the self-improvement loop and the metrics endpoint."`
	Status         StatusCmd         `cmd:"" help:"Show circuit breaker, queue, and learner summary."`
	History        HistoryCmd        `cmd:"" help:"List past self-improvement actions."`
	Diagnostics    DiagnosticsCmd    `cmd:"" help:"List actions in this process's pending-approval queue."`
	Config         ConfigCmd         `cmd:"" help:"Show resolved configuration and overrides."`
	CircuitBreaker CircuitBreakerCmd `cmd:"circuit-breaker" help:"Show circuit breaker state."`
	Baselines      BaselinesCmd      `cmd:"" help:"Show the current all-time metrics summary."`
	Pause          PauseCmd          `cmd:"" help:"Pause the self-improvement loop for a duration (e.g. 10m, 1h)."`
	Rollback       RollbackCmd       `cmd:"" help:"Roll back a previously executed action."`
	Approve        ApproveCmd        `cmd:"" help:"Approve a pending diagnosis's actions."`
	Reject         RejectCmd         `cmd:"" help:"Reject a pending diagnosis's actions."`
}

func main() {
	cli := CLI{}
	ctx := kong.Parse(&cli,
		kong.Name("reasonctl"),
		kong.Description("Reasoning-orchestration server with a self-improving control loop."),
		kong.UsageOnError(),
	)

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config error:", err)
		os.Exit(1)
	}
	level, _ := logging.ParseLevel(cfg.LogLevel)
	logging.Init(level, os.Stderr)

	runCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		slog.Info("shutting down")
		cancel()
	}()

	app := &App{Config: cfg, Ctx: runCtx}
	err = ctx.Run(app)
	ctx.FatalIfErrorf(err)
}
