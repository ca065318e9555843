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

// Package reasoning is the Tool Dispatcher: it routes an incoming
// tool-call to the registered handler for its session.Mode, and records
// the outcome's latency/success into the metrics store. The individual
// reasoning-tool algorithms (tree expansion heuristics, TOPSIS math,
// MCTS UCB1, bias taxonomies) are out of scope here; handlers are
// pure functions over an LLM response and the session store.
package reasoning

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/reasonloop/reasonloop/internal/llm"
	"github.com/reasonloop/reasonloop/internal/metrics"
	"github.com/reasonloop/reasonloop/internal/session"
)

// defaultMaxConcurrentCalls bounds how many reasoning-tool dispatches may
// have an LLM call in flight at once, so a burst of tool calls across
// sessions can't exhaust the client's connection pool.
const defaultMaxConcurrentCalls = 8

// Request is one incoming tool call.
type Request struct {
	SessionID string
	Mode      session.Mode
	Prompt    string
	ParentID  string
}

// Response is a dispatched tool call's opaque-to-the-core result: the
// core records only latency and success, per spec.md §5's tool-call
// protocol note.
type Response struct {
	ThoughtID string
	Content   string
	Data      map[string]any
}

// Handler implements one reasoning mode.
type Handler func(ctx context.Context, deps Deps, req Request) (Response, error)

// Deps bundles the collaborators every handler needs.
type Deps struct {
	Sessions session.Store
	Caller   llm.Caller
}

// Registry maps a mode to its handler.
type Registry struct {
	handlers map[session.Mode]Handler
}

// NewRegistry returns a Registry pre-populated with the ten reasoning
// modes named in spec.md §1: nine backed by a generic single-LLM-turn
// handler distinguished only by its system prompt, and Checkpoint backed
// by its own session-store-only handler.
func NewRegistry() *Registry {
	r := &Registry{handlers: make(map[session.Mode]Handler)}
	for mode, prompt := range genericModePrompts {
		r.Register(mode, genericHandler(prompt))
	}
	r.Register(session.ModeCheckpoint, checkpointHandler)
	return r
}

// Register installs (or overrides) the handler for a mode.
func (r *Registry) Register(mode session.Mode, h Handler) {
	r.handlers[mode] = h
}

// Dispatcher routes requests to registered handlers and records
// invocation outcomes into the metrics store.
type Dispatcher struct {
	registry *Registry
	deps     Deps
	metrics  metrics.Store
	sem      *semaphore.Weighted
}

// NewDispatcher constructs a Dispatcher that bounds concurrent in-flight
// handler calls to defaultMaxConcurrentCalls.
func NewDispatcher(registry *Registry, deps Deps, metricsStore metrics.Store) *Dispatcher {
	return &Dispatcher{
		registry: registry,
		deps:     deps,
		metrics:  metricsStore,
		sem:      semaphore.NewWeighted(defaultMaxConcurrentCalls),
	}
}

// Dispatch routes req to its mode's handler, recording latency/success
// regardless of outcome. It blocks until a dispatch slot is free or ctx
// is canceled.
func (d *Dispatcher) Dispatch(ctx context.Context, req Request) (Response, error) {
	handler, ok := d.registry.handlers[req.Mode]
	if !ok {
		return Response{}, fmt.Errorf("reasoning: no handler registered for mode %q", req.Mode)
	}

	if err := d.sem.Acquire(ctx, 1); err != nil {
		return Response{}, fmt.Errorf("reasoning: acquire dispatch slot: %w", err)
	}
	defer d.sem.Release(1)

	start := time.Now()
	resp, err := handler(ctx, d.deps, req)
	latency := time.Since(start)

	d.metrics.Record(metrics.Invocation{
		Tool:      string(req.Mode),
		Mode:      string(req.Mode),
		LatencyMs: latency.Milliseconds(),
		Success:   err == nil,
		SessionID: req.SessionID,
		Timestamp: time.Now().UTC(),
	})

	return resp, err
}

// genericModePrompts names the system prompt for every mode whose
// algorithm is a pure function over a single LLM turn.
var genericModePrompts = map[session.Mode]string{
	session.ModeLinear:      "Reason step by step toward a conclusion. Be concise.",
	session.ModeTree:        "Explore multiple branches of reasoning before selecting the strongest.",
	session.ModeGraph:       "Reason over a graph of interdependent thoughts, noting cross-links.",
	session.ModeDivergent:   "Generate several independent perspectives on the prompt before converging.",
	session.ModeReflection:  "Produce an initial answer, then critique and revise it.",
	session.ModeMCTS:        "Simulate several candidate continuations and select the most promising.",
	session.ModeCounterfactual: "Reason about what would differ under an alternative premise.",
	session.ModeTimeline:    "Reason about the prompt as a sequence of ordered events.",
	session.ModeDecision:    "Weigh the prompt's options against explicit criteria before deciding.",
}

func genericHandler(systemPrompt string) Handler {
	return func(ctx context.Context, deps Deps, req Request) (Response, error) {
		resp, err := deps.Caller.Call(ctx, &llm.Request{
			Messages:     []llm.Message{{Role: llm.RoleUser, Content: req.Prompt}},
			SystemPrompt: systemPrompt,
		})
		if err != nil {
			return Response{}, err
		}

		thought := &session.Thought{
			SessionID:  req.SessionID,
			Mode:       req.Mode,
			Content:    resp.Text,
			ParentID:   req.ParentID,
			Confidence: 1.0,
			Active:     true,
		}
		if err := deps.Sessions.SaveThought(thought); err != nil {
			return Response{}, err
		}
		return Response{ThoughtID: thought.ID, Content: resp.Text}, nil
	}
}

// checkpointHandler implements the Checkpoint mode directly against the
// session store — it has no LLM turn of its own.
func checkpointHandler(ctx context.Context, deps Deps, req Request) (Response, error) {
	thoughts, err := deps.Sessions.ListThoughts(req.SessionID)
	if err != nil {
		return Response{}, err
	}
	var ids []string
	for _, t := range thoughts {
		if t.Active {
			ids = append(ids, t.ID)
		}
	}
	cp, err := deps.Sessions.CreateCheckpoint(req.SessionID, ids, req.Prompt, "")
	if err != nil {
		return Response{}, err
	}
	return Response{ThoughtID: cp.ID, Content: cp.Label, Data: map[string]any{"thought_ids": cp.ThoughtIDs}}, nil
}
