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

import "encoding/json"

// Role is a conversation message role.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one turn of the conversation.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

const (
	maxMessages           = 50
	maxMessageContentBytes = 50_000
	maxTotalRequestBytes   = 100_000

	minThinkingBudget = 1024

	standardBudgetCeiling = 4096
	deepBudgetCeiling     = 8192
)

// ThinkingBudget bounds the model's internal-reasoning token output and
// drives timeout-tier selection (spec.md §4.3.2).
type ThinkingBudget struct {
	BudgetTokens int `json:"budget_tokens"`
}

// Clamped returns the budget with BudgetTokens floored at
// minThinkingBudget, per spec.md §4.3.2 ("always clamped to at least
// 1024 at construction").
func (t ThinkingBudget) Clamped() ThinkingBudget {
	if t.BudgetTokens < minThinkingBudget {
		t.BudgetTokens = minThinkingBudget
	}
	return t
}

// ToolDefinition describes a tool the model may call.
type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

// Request is the LLM call substrate's request contract (spec.md §4.3.1).
type Request struct {
	Model          string
	MaxTokens      int
	Messages       []Message
	SystemPrompt   string
	Temperature    *float64
	ThinkingBudget *ThinkingBudget
	Tools          []ToolDefinition
	Stream         bool
}

// Validate enforces the request-contract invariants. It does not mutate
// the request; ThinkingBudget.Clamped must be applied separately since
// clamping is a construction-time concern per spec.md §4.3.2.
func (r *Request) Validate() error {
	if len(r.Messages) > maxMessages {
		return NewInvalidRequestError("messages count exceeds 50")
	}
	total := len(r.SystemPrompt)
	for _, m := range r.Messages {
		if len(m.Content) > maxMessageContentBytes {
			return NewInvalidRequestError("message content exceeds 50000 bytes")
		}
		total += len(m.Content)
	}
	if total > maxTotalRequestBytes {
		return NewInvalidRequestError("total request size exceeds 100000 bytes")
	}
	return nil
}

// Tier names a configured timeout bucket.
type Tier string

const (
	TierStandard Tier = "standard"
	TierDeep     Tier = "deep"
	TierMaximum  Tier = "maximum"
)

// SelectTier implements the thinking-budget-to-timeout-tier table in
// spec.md §4.3.2. A nil budget selects standard.
func SelectTier(budget *ThinkingBudget) Tier {
	if budget == nil {
		return TierStandard
	}
	tokens := budget.Clamped().BudgetTokens
	switch {
	case tokens <= standardBudgetCeiling:
		return TierStandard
	case tokens <= deepBudgetCeiling:
		return TierDeep
	default:
		return TierMaximum
	}
}

// ContentBlockKind tags a non-streaming response content block.
type ContentBlockKind string

const (
	ContentText     ContentBlockKind = "text"
	ContentThinking ContentBlockKind = "thinking"
	ContentToolUse  ContentBlockKind = "tool_use"
)

// ToolUseResult is a model-issued tool invocation request.
type ToolUseResult struct {
	ID    string
	Name  string
	Input map[string]any
}

// Usage mirrors Anthropic's token accounting.
type Usage struct {
	InputTokens  int
	OutputTokens int
}

func (u Usage) Total() int { return u.InputTokens + u.OutputTokens }

// Response is the substrate's post-processed result (spec.md §4.3.5).
type Response struct {
	ID         string
	StopReason string
	Usage      Usage
	Text       string
	Thinking   string
	ToolUses   []ToolUseResult
	Parsed     json.RawMessage
}
