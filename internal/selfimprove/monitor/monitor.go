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

// Package monitor implements the Monitor (C6): baseline tracking and
// trigger generation from the current metrics summary.
package monitor

import (
	"fmt"

	"github.com/reasonloop/reasonloop/internal/metrics"
	"github.com/reasonloop/reasonloop/internal/selfimprove/model"
)

const (
	defaultMinInvocations         = 10
	defaultMinSuccessRate         = 0.8
	defaultModeSuccessThreshold   = 0.75
	defaultMaxAvgLatencyMs        = 5000.0
)

// Config holds the thresholds a Monitor evaluates metrics against.
type Config struct {
	MinInvocations       int
	MinSuccessRate       float64
	ModeSuccessThreshold float64
	MaxAvgLatencyMs      float64
}

// DefaultConfig returns the spec's default thresholds.
func DefaultConfig() Config {
	return Config{
		MinInvocations:       defaultMinInvocations,
		MinSuccessRate:       defaultMinSuccessRate,
		ModeSuccessThreshold: defaultModeSuccessThreshold,
		MaxAvgLatencyMs:      defaultMaxAvgLatencyMs,
	}
}

// Result is the Monitor's output for one cycle.
type Result struct {
	Metrics           metrics.Summary
	Triggers          []model.Trigger
	ActionRecommended bool
}

// Monitor evaluates a metrics.Summary (and optional stored baseline)
// against configured thresholds to produce triggers.
type Monitor struct {
	cfg Config
}

// New constructs a Monitor, applying DefaultConfig for zero-value fields.
func New(cfg Config) *Monitor {
	d := DefaultConfig()
	if cfg.MinInvocations <= 0 {
		cfg.MinInvocations = d.MinInvocations
	}
	if cfg.MinSuccessRate <= 0 {
		cfg.MinSuccessRate = d.MinSuccessRate
	}
	if cfg.ModeSuccessThreshold <= 0 {
		cfg.ModeSuccessThreshold = d.ModeSuccessThreshold
	}
	if cfg.MaxAvgLatencyMs <= 0 {
		cfg.MaxAvgLatencyMs = d.MaxAvgLatencyMs
	}
	return &Monitor{cfg: cfg}
}

// Evaluate implements spec.md §4.6. baseline may be nil when no baseline
// has been captured yet.
func (m *Monitor) Evaluate(summary metrics.Summary, baseline *metrics.Baseline) Result {
	result := Result{Metrics: summary}

	if summary.TotalInvocations < m.cfg.MinInvocations {
		return result
	}

	var triggers []model.Trigger

	if summary.SuccessRate < m.cfg.MinSuccessRate {
		triggers = append(triggers, deviationTrigger(
			"overall_success_rate", summary.SuccessRate, m.cfg.MinSuccessRate,
			fmt.Sprintf("overall success rate %.4f below threshold %.4f", summary.SuccessRate, m.cfg.MinSuccessRate)))
	}

	for toolName, ts := range summary.PerTool {
		if ts.SuccessRate < m.cfg.ModeSuccessThreshold {
			triggers = append(triggers, deviationTrigger(
				"mode_"+toolName+"_success_rate", ts.SuccessRate, m.cfg.ModeSuccessThreshold,
				fmt.Sprintf("mode %q success rate %.4f below threshold %.4f", toolName, ts.SuccessRate, m.cfg.ModeSuccessThreshold)))
		}
		if ts.MeanLatencyMs > m.cfg.MaxAvgLatencyMs {
			triggers = append(triggers, latencyTrigger(
				"mode_"+toolName+"_latency", ts.MeanLatencyMs, m.cfg.MaxAvgLatencyMs,
				fmt.Sprintf("mode %q mean latency %.1fms exceeds threshold %.1fms", toolName, ts.MeanLatencyMs, m.cfg.MaxAvgLatencyMs)))
		}
	}

	if baseline != nil && baseline.SuccessRate > 0 {
		dev := (baseline.SuccessRate - summary.SuccessRate) / baseline.SuccessRate
		if dev > 0.2 {
			sev := model.SeverityMedium
			if dev > 0.4 {
				sev = model.SeverityHigh
			}
			triggers = append(triggers, model.Trigger{
				Metric: "success_rate_deviation", Value: summary.SuccessRate, Threshold: baseline.SuccessRate,
				Severity: sev, Description: fmt.Sprintf("success rate dropped %.1f%% from baseline", dev*100),
			})
		}
	}
	if baseline != nil && baseline.MeanLatencyMs > 0 {
		dev := (summary.MeanLatencyMs - baseline.MeanLatencyMs) / baseline.MeanLatencyMs
		if dev > 0.5 {
			sev := model.SeverityMedium
			if dev > 1.0 {
				sev = model.SeverityHigh
			}
			triggers = append(triggers, model.Trigger{
				Metric: "latency_deviation", Value: summary.MeanLatencyMs, Threshold: baseline.MeanLatencyMs,
				Severity: sev, Description: fmt.Sprintf("mean latency rose %.1f%% from baseline", dev*100),
			})
		}
	}

	result.Triggers = triggers
	for _, t := range triggers {
		if t.Severity.AtLeast(model.SeverityMedium) {
			result.ActionRecommended = true
			break
		}
	}
	return result
}

func deviationTrigger(metricName string, value, threshold float64, desc string) model.Trigger {
	dev := (threshold - value) / threshold
	return model.Trigger{Metric: metricName, Value: value, Threshold: threshold, Severity: successDeviationSeverity(dev), Description: desc}
}

func successDeviationSeverity(dev float64) model.Severity {
	switch {
	case dev > 0.5:
		return model.SeverityCritical
	case dev > 0.3:
		return model.SeverityHigh
	case dev > 0.15:
		return model.SeverityMedium
	default:
		return model.SeverityLow
	}
}

func latencyTrigger(metricName string, value, threshold float64, desc string) model.Trigger {
	ratio := value / threshold
	var sev model.Severity
	switch {
	case ratio > 3:
		sev = model.SeverityCritical
	case ratio > 2:
		sev = model.SeverityHigh
	case ratio > 1.5:
		sev = model.SeverityMedium
	default:
		sev = model.SeverityLow
	}
	return model.Trigger{Metric: metricName, Value: value, Threshold: threshold, Severity: sev, Description: desc}
}
