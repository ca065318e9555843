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

package monitor

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/reasonloop/reasonloop/internal/metrics"
	"github.com/reasonloop/reasonloop/internal/selfimprove/model"
)

func TestEvaluateSkipsBelowMinInvocations(t *testing.T) {
	m := New(Config{MinInvocations: 100})
	result := m.Evaluate(metrics.Summary{TotalInvocations: 5, SuccessRate: 0.1}, nil)
	assert.Empty(t, result.Triggers)
	assert.False(t, result.ActionRecommended)
}

func TestEvaluateOverallSuccessRateTrigger(t *testing.T) {
	m := New(Config{MinInvocations: 1, MinSuccessRate: 0.9})
	summary := metrics.Summary{TotalInvocations: 50, SuccessRate: 0.5}
	result := m.Evaluate(summary, nil)
	require := assert.New(t)
	require.Len(result.Triggers, 1)
	require.Equal("overall_success_rate", result.Triggers[0].Metric)
	require.True(result.ActionRecommended)
}

func TestEvaluatePerToolSuccessAndLatencyTriggers(t *testing.T) {
	m := New(Config{MinInvocations: 1, MinSuccessRate: 0, ModeSuccessThreshold: 0.9, MaxAvgLatencyMs: 100})
	summary := metrics.Summary{
		TotalInvocations: 20,
		SuccessRate:      1.0,
		PerTool: map[string]metrics.ToolSummary{
			"linear": {Count: 20, SuccessRate: 0.5, MeanLatencyMs: 500},
		},
	}
	result := m.Evaluate(summary, nil)
	assert.Len(t, result.Triggers, 2)
}

func TestEvaluateBaselineSuccessRateDeviation(t *testing.T) {
	m := New(Config{MinInvocations: 1, MinSuccessRate: 0})
	baseline := &metrics.Baseline{SuccessRate: 1.0}
	summary := metrics.Summary{TotalInvocations: 10, SuccessRate: 0.5}
	result := m.Evaluate(summary, baseline)
	assert.Condition(t, func() bool {
		for _, tr := range result.Triggers {
			if tr.Metric == "success_rate_deviation" {
				return tr.Severity == model.SeverityHigh
			}
		}
		return false
	})
}

func TestEvaluateBaselineLatencyDeviation(t *testing.T) {
	m := New(Config{MinInvocations: 1, MinSuccessRate: 0})
	baseline := &metrics.Baseline{MeanLatencyMs: 100}
	summary := metrics.Summary{TotalInvocations: 10, SuccessRate: 1, MeanLatencyMs: 300}
	result := m.Evaluate(summary, baseline)
	found := false
	for _, tr := range result.Triggers {
		if tr.Metric == "latency_deviation" {
			found = true
			assert.Equal(t, model.SeverityHigh, tr.Severity)
		}
	}
	assert.True(t, found)
}

func TestActionRecommendedRequiresAtLeastMediumSeverity(t *testing.T) {
	m := New(Config{MinInvocations: 1, MinSuccessRate: 0.95, ModeSuccessThreshold: 0, MaxAvgLatencyMs: 1e9})
	summary := metrics.Summary{TotalInvocations: 10, SuccessRate: 0.90}
	result := m.Evaluate(summary, nil)
	require := assert.New(t)
	require.NotEmpty(result.Triggers)
	require.Equal(model.SeverityLow, result.Triggers[0].Severity)
	require.False(result.ActionRecommended)
}

func TestNewAppliesDefaultsForZeroFields(t *testing.T) {
	m := New(Config{})
	assert.Equal(t, defaultMinInvocations, m.cfg.MinInvocations)
	assert.Equal(t, defaultMinSuccessRate, m.cfg.MinSuccessRate)
	assert.Equal(t, defaultModeSuccessThreshold, m.cfg.ModeSuccessThreshold)
	assert.Equal(t, defaultMaxAvgLatencyMs, m.cfg.MaxAvgLatencyMs)
}
