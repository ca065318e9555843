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
	"encoding/json"
	"strings"
)

// sseEvent is the tagged union of Anthropic streaming events (spec.md §4.3.4).
type sseEvent struct {
	Type         string          `json:"type"`
	Index        int             `json:"index"`
	Message      *sseMessage     `json:"message,omitempty"`
	ContentBlock *sseBlockStart  `json:"content_block,omitempty"`
	Delta        *sseDelta       `json:"delta,omitempty"`
	Usage        *sseUsage       `json:"usage,omitempty"`
	// StopReason is read directly off a message_stop event, matching
	// spec.md §4.3.4's scenario 6 wire shape; message_delta's stop_reason
	// nests under "delta" instead (see sseDelta.StopReason).
	StopReason string `json:"stop_reason"`
}

type sseMessage struct {
	ID string `json:"id"`
}

type sseBlockStart struct {
	Type string `json:"type"`
}

type sseDelta struct {
	Type       string `json:"type"`
	Text       string `json:"text"`
	Thinking   string `json:"thinking"`
	StopReason string `json:"stop_reason"`
}

type sseUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

const defaultStopReason = "end_turn"

// Accumulator folds a sequence of SSE lines into a Response, per the
// normative grammar in spec.md §4.3.4.
type Accumulator struct {
	messageID   string
	textBlocks  []string
	curText     strings.Builder
	curThinking strings.Builder
	thinking    string
	stopReason  string
	usage       Usage
	complete    bool
}

// NewAccumulator returns an empty accumulator.
func NewAccumulator() *Accumulator {
	return &Accumulator{}
}

// ProcessLine consumes one raw SSE line. It returns an error for a data
// payload that is not valid JSON, for any `error` event, or for an
// unrecognized top-level event type.
func (a *Accumulator) ProcessLine(line string) error {
	line = strings.TrimRight(line, "\r\n")
	if line == "" || strings.HasPrefix(line, ":") {
		return nil
	}
	if !strings.HasPrefix(line, "data:") {
		return nil
	}
	data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
	if data == "[DONE]" {
		return nil
	}

	var evt sseEvent
	if err := json.Unmarshal([]byte(data), &evt); err != nil {
		return NewUnexpectedResponseError("malformed SSE event: " + err.Error())
	}
	return a.processEvent(&evt)
}

func (a *Accumulator) processEvent(evt *sseEvent) error {
	switch evt.Type {
	case "":
		return nil
	case "message_start":
		if evt.Message != nil {
			a.messageID = evt.Message.ID
		}
	case "content_block_start":
		// Block bookkeeping is implicit in the text/thinking builders;
		// nothing to record beyond acknowledging the open block.
	case "content_block_delta":
		if evt.Delta == nil {
			return nil
		}
		switch evt.Delta.Type {
		case "text_delta":
			a.curText.WriteString(evt.Delta.Text)
		case "thinking_delta":
			a.curThinking.WriteString(evt.Delta.Thinking)
		default:
			// forward-compatible: ignore unknown/missing delta types
		}
	case "content_block_stop", "message_delta":
		// message_delta also flushes any open block; usage or a delta
		// stop_reason it carries is recorded below, as for any event.
		if a.curText.Len() > 0 {
			a.textBlocks = append(a.textBlocks, a.curText.String())
			a.curText.Reset()
		}
		if a.curThinking.Len() > 0 {
			a.thinking = a.curThinking.String()
			a.curThinking.Reset()
		}
	case "message_stop":
		if evt.StopReason != "" {
			a.stopReason = evt.StopReason
		} else if a.stopReason == "" {
			a.stopReason = defaultStopReason
		}
		a.complete = true
	case "error":
		return NewUnexpectedResponseError("stream error event")
	case "ping":
		// no-op
	default:
		return NewUnexpectedResponseError("unrecognized event type: " + evt.Type)
	}

	if evt.Usage != nil {
		a.usage = Usage{InputTokens: evt.Usage.InputTokens, OutputTokens: evt.Usage.OutputTokens}
	}
	if evt.Delta != nil && evt.Delta.StopReason != "" {
		a.stopReason = evt.Delta.StopReason
	}
	return nil
}

// IsComplete reports whether a message_stop event was observed.
func (a *Accumulator) IsComplete() bool { return a.complete }

// Result materializes the accumulated Response. Text blocks are joined
// by a single newline per spec.md §4.3.4.
func (a *Accumulator) Result() *Response {
	stopReason := a.stopReason
	if stopReason == "" {
		stopReason = defaultStopReason
	}
	return &Response{
		ID:         a.messageID,
		StopReason: stopReason,
		Usage:      a.usage,
		Text:       strings.Join(a.textBlocks, "\n"),
		Thinking:   a.thinking,
	}
}
