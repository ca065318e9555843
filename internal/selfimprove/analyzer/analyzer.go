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

// Package analyzer implements the Analyzer (C7): turns a Monitor result
// into a Diagnosis with candidate remediation actions, via an LLM call.
package analyzer

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/reasonloop/reasonloop/internal/jsonextract"
	"github.com/reasonloop/reasonloop/internal/llm"
	"github.com/reasonloop/reasonloop/internal/selfimprove/model"
	"github.com/reasonloop/reasonloop/internal/selfimprove/monitor"
)

const (
	defaultMaxActionsPerCycle = 3
	analysisTemperature       = 0.3
	analysisMaxTokens         = 1024
)

// Analyzer turns triggers into a diagnosis via an LLM call.
type Analyzer struct {
	caller             llm.Caller
	maxActionsPerCycle int
}

// New constructs an Analyzer.
func New(caller llm.Caller, maxActionsPerCycle int) *Analyzer {
	if maxActionsPerCycle <= 0 {
		maxActionsPerCycle = defaultMaxActionsPerCycle
	}
	return &Analyzer{caller: caller, maxActionsPerCycle: maxActionsPerCycle}
}

// Diagnose implements spec.md §4.7. Given an empty trigger set it
// short-circuits without calling the LLM.
func (a *Analyzer) Diagnose(ctx context.Context, result monitor.Result) (*model.Diagnosis, error) {
	if len(result.Triggers) == 0 {
		return &model.Diagnosis{
			ID:         uuid.NewString(),
			Summary:    "no issues",
			Confidence: 1.0,
			Status:     model.DiagnosisPending,
		}, nil
	}

	prompt := a.buildPrompt(result)
	temp := analysisTemperature
	resp, err := a.caller.Call(ctx, &llm.Request{
		MaxTokens:    analysisMaxTokens,
		Messages:     []llm.Message{{Role: llm.RoleUser, Content: prompt}},
		SystemPrompt: analysisSystemPrompt,
		Temperature:  &temp,
	})
	if err != nil {
		return nil, fmt.Errorf("analyzer: llm call failed: %w", err)
	}

	diagnosis := &model.Diagnosis{ID: uuid.NewString(), Triggers: result.Triggers, Status: model.DiagnosisPending}

	raw, ok := jsonextract.Extract(resp.Text)
	if ok {
		if parsed, err := parseDiagnosis(raw); err == nil {
			diagnosis.Summary = parsed.Summary
			diagnosis.Confidence = clamp01(parsed.Confidence)
			diagnosis.Actions = parsed.actions()
		}
	}

	if len(diagnosis.Actions) == 0 {
		diagnosis.Actions = []*model.Action{fallbackAction(result.Triggers)}
		if diagnosis.Summary == "" {
			diagnosis.Summary = "fallback action derived from highest-severity trigger"
		}
	}
	if diagnosis.Confidence == 0 {
		diagnosis.Confidence = 0.5
	}

	return diagnosis, nil
}

const analysisSystemPrompt = `You are a self-improvement diagnostic assistant for an automated reasoning service. ` +
	`Given a list of metric triggers, respond with a JSON object {"summary": string, "confidence": number between 0 and 1, ` +
	`"actions": [{"action_type": "config_adjust"|"prompt_tune"|"threshold_adjust"|"log_observation", "description": string, ` +
	`"rationale": string, "expected_improvement": number between 0 and 1, "parameters": object}]}. ` +
	`Propose at most the requested number of actions.`

func (a *Analyzer) buildPrompt(result monitor.Result) string {
	var b strings.Builder
	fmt.Fprintf(&b, "current success rate: %.4f\n", result.Metrics.SuccessRate)
	fmt.Fprintf(&b, "mean latency ms: %.1f\n", result.Metrics.MeanLatencyMs)
	fmt.Fprintf(&b, "total invocations: %d\n", result.Metrics.TotalInvocations)
	b.WriteString("triggers:\n")
	for _, t := range result.Triggers {
		desc := jsonextract.Sanitize(t.Description)
		fmt.Fprintf(&b, "- %s (%s): %s (value: %v, threshold: %v)\n", t.Metric, t.Severity, desc, t.Value, t.Threshold)
	}
	fmt.Fprintf(&b, "propose at most %d candidate actions.\n", a.maxActionsPerCycle)
	return b.String()
}

type parsedDiagnosis struct {
	Summary    string          `json:"summary"`
	Confidence float64         `json:"confidence"`
	Actions    []parsedAction  `json:"actions"`
}

type parsedAction struct {
	ActionType          string         `json:"action_type"`
	Description         string         `json:"description"`
	Rationale           string         `json:"rationale"`
	ExpectedImprovement float64        `json:"expected_improvement"`
	Parameters          map[string]any `json:"parameters"`
}

func (p parsedDiagnosis) actions() []*model.Action {
	var out []*model.Action
	for _, pa := range p.Actions {
		variant, ok := normalizeVariant(pa.ActionType)
		if !ok {
			continue
		}
		out = append(out, &model.Action{
			ID:                  uuid.NewString(),
			Variant:             variant,
			Description:         pa.Description,
			Rationale:           pa.Rationale,
			ExpectedImprovement: model.ClampExpectedImprovement(pa.ExpectedImprovement),
			Parameters:          pa.Parameters,
			Status:              model.ActionPending,
		})
	}
	return out
}

func parseDiagnosis(raw json.RawMessage) (parsedDiagnosis, error) {
	var p parsedDiagnosis
	err := json.Unmarshal(raw, &p)
	return p, err
}

// normalizeVariant maps either snake_case or CamelCase action_type
// strings to a Variant.
func normalizeVariant(s string) (model.Variant, bool) {
	switch strings.ToLower(strings.ReplaceAll(s, "_", "")) {
	case "configadjust":
		return model.VariantConfigAdjust, true
	case "prompttune":
		return model.VariantPromptTune, true
	case "thresholdadjust":
		return model.VariantThresholdAdjust, true
	case "logobservation":
		return model.VariantLogObservation, true
	default:
		return "", false
	}
}

// fallbackAction constructs the boilerplate action used when the LLM's
// response yields zero parseable actions despite non-empty triggers.
func fallbackAction(triggers []model.Trigger) *model.Action {
	highest := triggers[0]
	for _, t := range triggers[1:] {
		if t.Severity.AtLeast(highest.Severity) && t.Severity != highest.Severity {
			highest = t
		}
	}

	var variant model.Variant
	switch highest.Severity {
	case model.SeverityCritical, model.SeverityHigh:
		variant = model.VariantConfigAdjust
	case model.SeverityMedium:
		variant = model.VariantThresholdAdjust
	default:
		variant = model.VariantLogObservation
	}

	return &model.Action{
		ID:                  uuid.NewString(),
		Variant:             variant,
		Description:         "fallback action for trigger " + highest.Metric,
		Rationale:           "analyzer produced no parseable actions; derived from highest-severity trigger " + highest.Metric + " (" + string(highest.Severity) + ")",
		ExpectedImprovement: 0.1,
		Status:              model.ActionPending,
	}
}

func clamp01(v float64) float64 { return model.ClampExpectedImprovement(v) }
