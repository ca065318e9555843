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

package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAccumulatorJoinsTextDeltas(t *testing.T) {
	a := NewAccumulator()
	lines := []string{
		`data: {"type":"message_start","message":{"id":"msg_1"}}`,
		`data: {"type":"content_block_start","index":0,"content_block":{"type":"text"}}`,
		`data: {"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"hello "}}`,
		`data: {"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"world"}}`,
		`data: {"type":"content_block_stop","index":0}`,
		`data: {"type":"message_delta","delta":{"stop_reason":"end_turn"},"usage":{"output_tokens":5}}`,
		`data: {"type":"message_stop"}`,
		`data: [DONE]`,
	}
	for _, line := range lines {
		require.NoError(t, a.ProcessLine(line))
	}

	assert.True(t, a.IsComplete())
	resp := a.Result()
	assert.Equal(t, "msg_1", resp.ID)
	assert.Equal(t, "hello world", resp.Text)
	assert.Equal(t, "end_turn", resp.StopReason)
	assert.Equal(t, 5, resp.Usage.OutputTokens)
}

func TestAccumulatorIgnoresCommentsAndBlankLines(t *testing.T) {
	a := NewAccumulator()
	require.NoError(t, a.ProcessLine(""))
	require.NoError(t, a.ProcessLine(": keep-alive"))
	assert.False(t, a.IsComplete())
}

func TestAccumulatorErrorsOnMalformedEvent(t *testing.T) {
	a := NewAccumulator()
	err := a.ProcessLine(`data: {not json}`)
	require.Error(t, err)
}

func TestAccumulatorErrorsOnErrorEvent(t *testing.T) {
	a := NewAccumulator()
	err := a.ProcessLine(`data: {"type":"error"}`)
	require.Error(t, err)
}

func TestAccumulatorReadsStopReasonDirectlyFromMessageStop(t *testing.T) {
	a := NewAccumulator()
	lines := []string{
		`data: {"type":"message_start","message":{"id":"m"}}`,
		`data: {"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"Hel"}}`,
		`data: {"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"lo"}}`,
		`data: {"type":"content_block_stop","index":0}`,
		`data: {"type":"message_stop","stop_reason":"end_turn","usage":{"input_tokens":10,"output_tokens":5}}`,
	}
	for _, line := range lines {
		require.NoError(t, a.ProcessLine(line))
	}
	assert.True(t, a.IsComplete())
	resp := a.Result()
	assert.Equal(t, "Hello", resp.Text)
	assert.Equal(t, "end_turn", resp.StopReason)
	assert.Equal(t, 15, resp.Usage.Total())
}

func TestAccumulatorDefaultsStopReasonWhenMissing(t *testing.T) {
	a := NewAccumulator()
	require.NoError(t, a.ProcessLine(`data: {"type":"message_stop"}`))
	assert.Equal(t, defaultStopReason, a.Result().StopReason)
}

func TestSelectTier(t *testing.T) {
	cases := []struct {
		name   string
		budget *ThinkingBudget
		want   Tier
	}{
		{"nil budget is standard", nil, TierStandard},
		{"small budget clamps up but stays standard", &ThinkingBudget{BudgetTokens: 1}, TierStandard},
		{"mid budget is deep", &ThinkingBudget{BudgetTokens: 5000}, TierDeep},
		{"large budget is maximum", &ThinkingBudget{BudgetTokens: 10000}, TierMaximum},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, SelectTier(tc.budget))
		})
	}
}
