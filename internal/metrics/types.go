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

// Package metrics implements the Metrics store (C2): append invocation
// records, compute rolling aggregates and baselines.
package metrics

import "time"

// Invocation is one append-only tool-call outcome record.
type Invocation struct {
	Tool         string
	Mode         string // optional sub-tag, empty when not applicable
	LatencyMs    int64
	Success      bool
	QualityScore *float64 // optional, [0,1]
	SessionID    string   // optional
	Timestamp    time.Time
}

// Summary is derived on demand from invocation records over a window;
// it is never persisted as a distinct entity.
type Summary struct {
	TotalInvocations int
	SuccessRate      float64
	MeanLatencyMs    float64
	PerTool          map[string]ToolSummary
}

// ToolSummary is the per-tool breakdown within a Summary.
type ToolSummary struct {
	Count       int
	SuccessRate float64
	MeanLatencyMs float64
}

// Baseline is a captured snapshot of healthy metrics used for deviation
// detection. Exactly one "current" baseline exists per process.
type Baseline struct {
	SuccessRate      float64
	MeanLatencyMs    float64
	PerToolSuccess   map[string]float64
	SampleCount      int
	CapturedAt       time.Time
}

// FromSummary captures a Baseline from the current Summary.
func FromSummary(s Summary) Baseline {
	perTool := make(map[string]float64, len(s.PerTool))
	for name, ts := range s.PerTool {
		perTool[name] = ts.SuccessRate
	}
	return Baseline{
		SuccessRate:    s.SuccessRate,
		MeanLatencyMs:  s.MeanLatencyMs,
		PerToolSuccess: perTool,
		SampleCount:    s.TotalInvocations,
		CapturedAt:     time.Now().UTC(),
	}
}
