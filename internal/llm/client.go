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

// Package llm is the LLM call substrate shared by every reasoning tool
// and by the Analyzer: a validated request, bounded retries, an SSE
// stream fold, and timeout tiering driven by a thinking budget.
package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/reasonloop/reasonloop/internal/jsonextract"
	"github.com/reasonloop/reasonloop/internal/progress"
	"github.com/reasonloop/reasonloop/internal/secret"
)

const (
	defaultBaseURL = "https://api.anthropic.com"
	apiVersion     = "2023-06-01"
)

// Caller is the substrate's narrow contract, matching the Design Note
// on LLM-client polymorphism: the Analyzer and reasoning tools only
// need {completion_request -> completion_response}. Production code
// uses *Client; tests use a scripted in-memory implementation.
type Caller interface {
	Call(ctx context.Context, req *Request) (*Response, error)
}

// Timeouts names the three configured timeout tiers (spec.md §4.3.2).
type Timeouts struct {
	Standard time.Duration
	Deep     time.Duration
	Maximum  time.Duration
}

func (t Timeouts) forTier(tier Tier) time.Duration {
	switch tier {
	case TierDeep:
		return t.Deep
	case TierMaximum:
		return t.Maximum
	default:
		return t.Standard
	}
}

// Client is the real Anthropic-backed implementation of Caller.
type Client struct {
	httpClient *http.Client
	apiKey     secret.String
	baseURL    string
	model      string
	maxTokens  int
	maxRetries int
	baseDelay  time.Duration
	timeouts   Timeouts
	progress   *progress.Broadcaster
}

// Option configures a Client.
type Option func(*Client)

func WithBaseURL(url string) Option { return func(c *Client) { c.baseURL = url } }
func WithModel(model string) Option { return func(c *Client) { c.model = model } }
func WithMaxTokens(n int) Option    { return func(c *Client) { c.maxTokens = n } }
func WithMaxRetries(n int) Option   { return func(c *Client) { c.maxRetries = n } }
func WithBaseDelay(d time.Duration) Option { return func(c *Client) { c.baseDelay = d } }
func WithTimeouts(t Timeouts) Option { return func(c *Client) { c.timeouts = t } }
func WithProgress(b *progress.Broadcaster) Option { return func(c *Client) { c.progress = b } }

// New constructs a Client. apiKey must not be empty.
func New(apiKey secret.String, opts ...Option) *Client {
	c := &Client{
		httpClient: &http.Client{},
		apiKey:     apiKey,
		baseURL:    defaultBaseURL,
		model:      "claude-sonnet-4-20250514",
		maxTokens:  4096,
		maxRetries: 5,
		baseDelay:  2 * time.Second,
		timeouts: Timeouts{
			Standard: 30 * time.Second,
			Deep:     60 * time.Second,
			Maximum:  120 * time.Second,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Call validates the request, selects a timeout tier from the thinking
// budget, and performs the HTTP round trip with the retry policy of
// spec.md §4.3.3. Streaming requests fold the SSE body through an
// Accumulator; non-streaming requests decode the JSON body directly.
func (c *Client) Call(ctx context.Context, req *Request) (*Response, error) {
	if req.ThinkingBudget != nil {
		clamped := req.ThinkingBudget.Clamped()
		req.ThinkingBudget = &clamped
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}

	tier := SelectTier(req.ThinkingBudget)
	timeout := c.timeouts.forTier(tier)

	c.publish(5, "prepared", nil)

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		resp, err := c.attempt(ctx, req, timeout)
		if err == nil {
			return resp, nil
		}
		lastErr = err

		llmErr, ok := err.(*Error)
		if !ok || !llmErr.Retryable() || attempt == c.maxRetries {
			return nil, err
		}

		delay := c.backoff(attempt)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}
	return nil, lastErr
}

// backoff doubles the delay starting from baseDelay, matching spec.md
// invariant #1: cumulative minimum delay is Σ retry_delay_ms × 2^k.
func (c *Client) backoff(attempt int) time.Duration {
	return time.Duration(math.Pow(2, float64(attempt))) * c.baseDelay
}

func (c *Client) attempt(ctx context.Context, req *Request, timeout time.Duration) (*Response, error) {
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	apiReq := c.buildAPIRequest(req)
	body, err := json.Marshal(apiReq)
	if err != nil {
		return nil, NewInvalidRequestError("failed to marshal request: " + err.Error())
	}

	httpReq, err := http.NewRequestWithContext(callCtx, http.MethodPost, c.baseURL+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		return nil, NewNetworkError(err)
	}
	c.setHeaders(httpReq)

	c.publish(15, "call started", nil)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if callCtx.Err() != nil {
			return nil, NewTimeoutError(timeout.Milliseconds())
		}
		return nil, NewNetworkError(err)
	}
	defer resp.Body.Close()

	if err := c.classifyStatus(resp); err != nil {
		return nil, err
	}

	if req.Stream {
		c.publish(20, "streaming started", nil)
		return c.foldStream(resp.Body)
	}
	return c.decodeResponse(resp.Body)
}

func (c *Client) classifyStatus(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	switch resp.StatusCode {
	case http.StatusUnauthorized:
		return NewAuthenticationFailedError()
	case http.StatusTooManyRequests:
		retryAfter := 0
		if v := resp.Header.Get("Retry-After"); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				retryAfter = n
			}
		}
		return NewRateLimitedError(retryAfter)
	case 529:
		return NewModelOverloadedError(c.model)
	default:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return NewUnexpectedResponseError(fmt.Sprintf("HTTP %d: %s", resp.StatusCode, string(body)))
	}
}

func (c *Client) decodeResponse(body io.Reader) (*Response, error) {
	var apiResp apiMessageResponse
	if err := json.NewDecoder(body).Decode(&apiResp); err != nil {
		return nil, NewUnexpectedResponseError("non-parseable response body")
	}

	c.publish(90, "processing response", nil)

	var textBlocks []string
	var thinking string
	var toolUses []ToolUseResult
	for _, block := range apiResp.Content {
		switch block.Type {
		case "text":
			textBlocks = append(textBlocks, block.Text)
		case "thinking":
			thinking = block.Thinking
		case "tool_use":
			toolUses = append(toolUses, ToolUseResult{ID: block.ID, Name: block.Name, Input: block.Input})
		}
	}
	if len(textBlocks) == 0 && len(toolUses) == 0 {
		return nil, NewUnexpectedResponseError("No content in response")
	}

	text := joinNonEmpty(textBlocks)
	result := &Response{
		ID:         apiResp.ID,
		StopReason: apiResp.StopReason,
		Usage:      Usage{InputTokens: apiResp.Usage.InputTokens, OutputTokens: apiResp.Usage.OutputTokens},
		Text:       text,
		Thinking:   thinking,
		ToolUses:   toolUses,
	}
	if parsed, ok := jsonextract.Extract(text); ok {
		result.Parsed = parsed
	}

	c.publish(100, "complete", nil)
	return result, nil
}

func (c *Client) foldStream(body io.Reader) (*Response, error) {
	acc := NewAccumulator()
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		if err := acc.ProcessLine(scanner.Text()); err != nil {
			return nil, err
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, NewNetworkError(err)
	}

	c.publish(90, "processing response", nil)
	result := acc.Result()
	if parsed, ok := jsonextract.Extract(result.Text); ok {
		result.Parsed = parsed
	}
	c.publish(100, "complete", nil)
	return result, nil
}

func (c *Client) publish(pct int, msg string, total *int) {
	if c.progress == nil {
		return
	}
	c.progress.Publish(progress.Event{ProgressPercent: pct, Message: msg, Total: total})
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("content-type", "application/json")
	req.Header.Set("x-api-key", c.apiKey.Expose())
	req.Header.Set("anthropic-version", apiVersion)
}

func (c *Client) buildAPIRequest(req *Request) *apiMessageRequest {
	apiReq := &apiMessageRequest{
		Model:     c.model,
		MaxTokens: req.MaxTokens,
		Stream:    req.Stream,
		System:    req.SystemPrompt,
	}
	if apiReq.MaxTokens == 0 {
		apiReq.MaxTokens = c.maxTokens
	}
	if req.Temperature != nil {
		apiReq.Temperature = req.Temperature
	}
	if req.ThinkingBudget != nil {
		apiReq.Thinking = &apiThinking{Type: "enabled", BudgetTokens: req.ThinkingBudget.BudgetTokens}
		temp := 1.0
		apiReq.Temperature = &temp
	}
	for _, m := range req.Messages {
		apiReq.Messages = append(apiReq.Messages, apiMessage{Role: string(m.Role), Content: m.Content})
	}
	for _, t := range req.Tools {
		apiReq.Tools = append(apiReq.Tools, apiTool{Name: t.Name, Description: t.Description, InputSchema: t.Parameters})
	}
	return apiReq
}

func joinNonEmpty(parts []string) string {
	out := ""
	for i, p := range parts {
		if i > 0 {
			out += "\n"
		}
		out += p
	}
	return out
}

type apiMessageRequest struct {
	Model       string       `json:"model"`
	Messages    []apiMessage `json:"messages"`
	MaxTokens   int          `json:"max_tokens"`
	Temperature *float64     `json:"temperature,omitempty"`
	System      string       `json:"system,omitempty"`
	Stream      bool         `json:"stream"`
	Tools       []apiTool    `json:"tools,omitempty"`
	Thinking    *apiThinking `json:"thinking,omitempty"`
}

type apiThinking struct {
	Type         string `json:"type"`
	BudgetTokens int    `json:"budget_tokens"`
}

type apiMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type apiTool struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"input_schema,omitempty"`
}

type apiMessageResponse struct {
	ID         string             `json:"id"`
	StopReason string             `json:"stop_reason"`
	Usage      apiUsage           `json:"usage"`
	Content    []apiContentBlock  `json:"content"`
}

type apiUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

type apiContentBlock struct {
	Type     string         `json:"type"`
	Text     string         `json:"text,omitempty"`
	Thinking string         `json:"thinking,omitempty"`
	ID       string         `json:"id,omitempty"`
	Name     string         `json:"name,omitempty"`
	Input    map[string]any `json:"input,omitempty"`
}
