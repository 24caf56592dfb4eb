// Copyright (c) 2025 GoldenGlimmer
// SPDX-License-Identifier: AGPL-3.0-or-later

package client

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// =============================================================================
// REQUEST TYPES
// =============================================================================

// Message is a single message in a chat conversation.
type Message struct {
	Role    string `json:"role"`    // "user", "assistant", or "system"
	Content string `json:"content"` // The message content
}

// NewUserMessage creates a new user message.
func NewUserMessage(content string) Message {
	return Message{Role: "user", Content: content}
}

// NewAssistantMessage creates a new assistant message.
func NewAssistantMessage(content string) Message {
	return Message{Role: "assistant", Content: content}
}

// CompletionRequest is the request body for the chat completions endpoint.
type CompletionRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Stream      bool      `json:"stream"`
	Temperature float64   `json:"temperature,omitempty"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
}

// =============================================================================
// RESPONSE TYPES
// =============================================================================

// The aggregator's schema is "OpenAI-compatible" by convention, not contract.
// Response types are therefore decoded loosely: numeric fields tolerate
// integral, fractional, and quoted encodings; the in-band error field accepts
// both a bare string and an object; message content stays raw JSON until the
// caller type-checks it.

// Completion is a parsed chat completion response.
type Completion struct {
	ID      string    `json:"id"`
	Model   string    `json:"model"`
	Error   *APIError `json:"error,omitempty"`
	Choices []Choice  `json:"choices"`
	Usage   Usage     `json:"usage"`
}

// Choice is one completion alternative.
type Choice struct {
	Message      *ChoiceMessage `json:"message"`
	FinishReason string         `json:"finish_reason"`
}

// ChoiceMessage carries the assistant turn. Content is kept raw because some
// providers send non-string payloads there; reconciliation type-checks it.
type ChoiceMessage struct {
	Role    string          `json:"role"`
	Content json.RawMessage `json:"content"`
}

// Usage reports token accounting for one completion. Some aggregators extend
// it with a pre-computed total cost.
type Usage struct {
	PromptTokens     FlexNumber `json:"prompt_tokens"`
	CompletionTokens FlexNumber `json:"completion_tokens"`
	TotalTokens      FlexNumber `json:"total_tokens"`
	TotalCost        FlexNumber `json:"total_cost"`
}

// APIError is a server-reported error embedded in a 200-class response body.
type APIError struct {
	Code    string
	Message string
}

// UnmarshalJSON accepts both `"error": "text"` and
// `"error": {"code": ..., "message": ...}` shapes.
func (e *APIError) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		e.Message = s
		return nil
	}

	var obj struct {
		Code    json.RawMessage `json:"code"`
		Message string          `json:"message"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return fmt.Errorf("unrecognized error field shape: %w", err)
	}
	e.Message = obj.Message
	if len(obj.Code) > 0 {
		e.Code = strings.Trim(string(obj.Code), `"`)
	}
	return nil
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("[%s] %s", e.Code, e.Message)
	}
	return e.Message
}

// =============================================================================
// FLEXIBLE NUMBERS
// =============================================================================

// FlexNumber decodes a JSON value that should be numeric but may arrive as an
// integer, a float, or a quoted number. Absent, null, or unparseable values
// decode to an invalid (zero) FlexNumber instead of failing the response.
type FlexNumber struct {
	val   float64
	valid bool
}

// FlexFloat returns a valid FlexNumber holding v. Intended for tests.
func FlexFloat(v float64) FlexNumber {
	return FlexNumber{val: v, valid: true}
}

// UnmarshalJSON never returns an error: tolerating junk usage data is the
// point of this type.
func (n *FlexNumber) UnmarshalJSON(data []byte) error {
	s := strings.TrimSpace(string(data))
	if s == "" || s == "null" {
		return nil
	}
	s = strings.Trim(s, `"`)
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil
	}
	n.val = f
	n.valid = true
	return nil
}

// MarshalJSON emits the numeric value, or null when invalid.
func (n FlexNumber) MarshalJSON() ([]byte, error) {
	if !n.valid {
		return []byte("null"), nil
	}
	return json.Marshal(n.val)
}

// Valid reports whether a numeric value was actually present.
func (n FlexNumber) Valid() bool { return n.valid }

// Float64 returns the decoded value, zero when invalid.
func (n FlexNumber) Float64() float64 { return n.val }

// Int returns the decoded value truncated to an integer, zero when invalid.
func (n FlexNumber) Int() int { return int(n.val) }

// =============================================================================
// MODEL CATALOG TYPES
// =============================================================================

// Pricing holds per-token prices as decimal strings, the aggregator's wire
// format. Unparseable prices read as zero rather than failing a turn.
type Pricing struct {
	Prompt     string `json:"prompt"`     // Cost per prompt token
	Completion string `json:"completion"` // Cost per completion token
}

// PromptPrice returns the per-token prompt price, zero when missing or
// unparseable.
func (p Pricing) PromptPrice() float64 {
	return parsePrice(p.Prompt)
}

// CompletionPrice returns the per-token completion price, zero when missing
// or unparseable.
func (p Pricing) CompletionPrice() float64 {
	return parsePrice(p.Completion)
}

func parsePrice(s string) float64 {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0
	}
	return f
}

// Model describes one model available through the aggregator.
type Model struct {
	ID      string  `json:"id"`
	Name    string  `json:"name"`
	Pricing Pricing `json:"pricing"`
}

// DisplayName returns the human-readable name, falling back to the ID.
func (m Model) DisplayName() string {
	if m.Name != "" {
		return m.Name
	}
	return m.ID
}

// modelsResponse is the wire structure for listing models.
type modelsResponse struct {
	Data []Model `json:"data"`
}

// balanceResponse covers both balance endpoint shapes: VseGPT's
// `{"data":{"credits":...}}` and OpenRouter's
// `{"data":{"total_credits":...,"total_usage":...}}`.
type balanceResponse struct {
	Data struct {
		Credits      FlexNumber `json:"credits"`
		TotalCredits FlexNumber `json:"total_credits"`
		TotalUsage   FlexNumber `json:"total_usage"`
	} `json:"data"`
}
