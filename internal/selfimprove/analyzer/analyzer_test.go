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

package analyzer

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reasonloop/reasonloop/internal/llm"
	"github.com/reasonloop/reasonloop/internal/selfimprove/model"
	"github.com/reasonloop/reasonloop/internal/selfimprove/monitor"
)

// scriptedCaller is a scripted in-memory llm.Caller, matching the Design
// Note referenced in internal/llm/client.go: production code uses
// *llm.Client, tests use a scripted stand-in.
type scriptedCaller struct {
	text string
	err  error
	reqs []*llm.Request
}

func (c *scriptedCaller) Call(_ context.Context, req *llm.Request) (*llm.Response, error) {
	c.reqs = append(c.reqs, req)
	if c.err != nil {
		return nil, c.err
	}
	return &llm.Response{Text: c.text}, nil
}

func TestDiagnoseShortCircuitsOnEmptyTriggers(t *testing.T) {
	caller := &scriptedCaller{}
	a := New(caller, 3)

	diagnosis, err := a.Diagnose(context.Background(), monitor.Result{})
	require.NoError(t, err)
	assert.Equal(t, "no issues", diagnosis.Summary)
	assert.Equal(t, 1.0, diagnosis.Confidence)
	assert.Empty(t, diagnosis.Actions)
	assert.Empty(t, caller.reqs, "should not call the LLM with no triggers")
}

func TestDiagnoseParsesWellFormedResponse(t *testing.T) {
	caller := &scriptedCaller{text: `{"summary":"latency regressed","confidence":0.8,"actions":[` +
		`{"action_type":"config_adjust","description":"raise timeout","rationale":"latency spikes","expected_improvement":0.4,"parameters":{"timeout_ms":5000}}` +
		`]}`}
	a := New(caller, 3)

	result := monitor.Result{Triggers: []model.Trigger{
		{Metric: "mode_linear_latency", Value: 6000, Threshold: 5000, Severity: model.SeverityHigh, Description: "latency high"},
	}}
	diagnosis, err := a.Diagnose(context.Background(), result)
	require.NoError(t, err)
	assert.Equal(t, "latency regressed", diagnosis.Summary)
	assert.Equal(t, 0.8, diagnosis.Confidence)
	require.Len(t, diagnosis.Actions, 1)
	assert.Equal(t, model.VariantConfigAdjust, diagnosis.Actions[0].Variant)
	assert.Equal(t, 0.4, diagnosis.Actions[0].ExpectedImprovement)
	assert.Equal(t, model.ActionPending, diagnosis.Actions[0].Status)

	require.Len(t, caller.reqs, 1)
	assert.Contains(t, caller.reqs[0].SystemPrompt, "self-improvement diagnostic assistant")
}

func TestDiagnoseFallsBackWhenResponseUnparseable(t *testing.T) {
	caller := &scriptedCaller{text: "not json at all"}
	a := New(caller, 3)

	result := monitor.Result{Triggers: []model.Trigger{
		{Metric: "overall_success_rate", Value: 0.2, Threshold: 0.8, Severity: model.SeverityCritical, Description: "success rate collapsed"},
	}}
	diagnosis, err := a.Diagnose(context.Background(), result)
	require.NoError(t, err)
	require.Len(t, diagnosis.Actions, 1)
	assert.Equal(t, model.VariantConfigAdjust, diagnosis.Actions[0].Variant, "critical severity maps to config_adjust")
	assert.Equal(t, 0.5, diagnosis.Confidence, "confidence defaults to 0.5 when unparsed")
}

func TestDiagnoseFallbackPicksHighestSeverityTrigger(t *testing.T) {
	caller := &scriptedCaller{text: `{}`}
	a := New(caller, 3)

	result := monitor.Result{Triggers: []model.Trigger{
		{Metric: "low_metric", Severity: model.SeverityLow},
		{Metric: "medium_metric", Severity: model.SeverityMedium},
	}}
	diagnosis, err := a.Diagnose(context.Background(), result)
	require.NoError(t, err)
	require.Len(t, diagnosis.Actions, 1)
	assert.Contains(t, diagnosis.Actions[0].Rationale, "medium_metric")
	assert.Equal(t, model.VariantThresholdAdjust, diagnosis.Actions[0].Variant)
}

func TestDiagnoseDropsActionsWithUnrecognizedVariant(t *testing.T) {
	caller := &scriptedCaller{text: `{"summary":"s","confidence":0.6,"actions":[` +
		`{"action_type":"reboot_the_universe","description":"nope"}` +
		`]}`}
	a := New(caller, 3)

	result := monitor.Result{Triggers: []model.Trigger{{Metric: "m", Severity: model.SeverityLow}}}
	diagnosis, err := a.Diagnose(context.Background(), result)
	require.NoError(t, err)
	require.Len(t, diagnosis.Actions, 1, "unrecognized variant dropped, falls back")
	assert.Equal(t, model.VariantLogObservation, diagnosis.Actions[0].Variant)
}

func TestDiagnoseReturnsErrorOnCallerFailure(t *testing.T) {
	caller := &scriptedCaller{err: assert.AnError}
	a := New(caller, 3)

	result := monitor.Result{Triggers: []model.Trigger{{Metric: "m", Severity: model.SeverityLow}}}
	_, err := a.Diagnose(context.Background(), result)
	require.Error(t, err)
}

func TestNewAppliesDefaultMaxActionsPerCycle(t *testing.T) {
	a := New(&scriptedCaller{}, 0)
	assert.Equal(t, defaultMaxActionsPerCycle, a.maxActionsPerCycle)
}
