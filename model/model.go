package model

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/hupe1980/toolmesh/core"
)

// ToolCall represents a function call request surfaced by a model provider.
// Unified across vendors so downstream logic does not need per-provider
// branching. The function name is the flattened server__tool form.
type ToolCall struct {
	ID       string           `json:"id"`
	Type     string           `json:"type"` // "function"
	Function ToolCallFunction `json:"function"`
}

// ToolCallFunction describes the concrete function target of a tool call.
type ToolCallFunction struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"` // JSON string of arguments
}

// NewToolCall builds a function tool call with marshaled arguments. Helper
// for tests and scripted turns.
func NewToolCall(id, name string, args map[string]any) ToolCall {
	raw, err := json.Marshal(args)
	if err != nil || len(args) == 0 {
		raw = []byte("{}")
	}
	return ToolCall{ID: id, Type: "function", Function: ToolCallFunction{Name: name, Arguments: raw}}
}

// ToolDefinition declaratively exposes a callable function to the model.
type ToolDefinition struct {
	Type     string             `json:"type"` // "function"
	Function FunctionDefinition `json:"function"`
}

// FunctionDefinition describes an individual function (tool) exposed to the
// model. Parameters is a JSON Schema object (draft agnostic, minimal subset
// expected).
type FunctionDefinition struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Parameters  map[string]interface{} `json:"parameters"` // JSON Schema
}

// Request captures the normalized model input produced by the conversation
// engine. The message list carries the full ordered history, including the
// system message when one was configured.
type Request struct {
	Messages []core.Message   `json:"messages"`
	Tools    []ToolDefinition `json:"tools,omitempty"`
	Stream   bool             `json:"stream,omitempty"`
}

// TokenUsage captures token usage statistics for a response.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Response is a (partial or final) chunk emitted by a model. Partial chunks
// carry a text Delta only; the final chunk carries the assembled Content and
// any ToolCalls, with fragments already concatenated by the provider.
type Response struct {
	ID           string      `json:"id"`
	Partial      bool        `json:"partial"`
	Delta        string      `json:"delta,omitempty"`
	Content      string      `json:"content,omitempty"`
	ToolCalls    []ToolCall  `json:"tool_calls,omitempty"`
	FinishReason string      `json:"finish_reason,omitempty"` // "stop", "length", "tool_calls", etc.
	Usage        *TokenUsage `json:"usage,omitempty"`
}

// Info contains metadata about a model implementation.
type Info struct {
	Name          string `json:"name"`
	Provider      string `json:"provider"` // "openai", "anthropic", "mock", etc.
	SupportsTools bool   `json:"supports_tools"`
}

// Model is the minimal interface required to drive generation.
type Model interface {
	Generate(ctx context.Context, req Request) (<-chan Response, <-chan error)

	// Info returns information about the model implementation.
	Info() Info
}

// Turn is one scripted model response used by MockModel.
type Turn struct {
	Content   string
	ToolCalls []ToolCall
	Err       error // When set, the turn fails instead of responding
}

// MockModel is a lightweight in-memory Model useful for tests & examples. It
// replays a fixed sequence of turns, one per Generate call, repeating the
// last turn once the script is exhausted. With streaming enabled the text is
// chunked into per-rune deltas before the final response.
type MockModel struct {
	mu       sync.Mutex
	info     Info
	turns    []Turn
	calls    int
	requests []Request
}

// NewMockModel constructs a MockModel with basic tool support enabled.
func NewMockModel(turns ...Turn) *MockModel {
	return &MockModel{
		info: Info{
			Name:          "mock-model",
			Provider:      "mock",
			SupportsTools: true,
		},
		turns: turns,
	}
}

// Generate implements Model; emits optional streaming char chunks then the
// final response for the next scripted turn.
func (m *MockModel) Generate(ctx context.Context, req Request) (<-chan Response, <-chan error) {
	respCh := make(chan Response, 16)
	errCh := make(chan error, 1)

	m.mu.Lock()
	m.requests = append(m.requests, req)
	turn := Turn{Content: "Mock response"}
	if len(m.turns) > 0 {
		idx := m.calls
		if idx >= len(m.turns) {
			idx = len(m.turns) - 1
		}
		turn = m.turns[idx]
	}
	m.calls++
	m.mu.Unlock()

	go func() {
		defer close(respCh)
		defer close(errCh)

		if turn.Err != nil {
			errCh <- turn.Err
			return
		}
		if req.Stream {
			for _, r := range turn.Content {
				select {
				case <-ctx.Done():
					errCh <- ctx.Err()
					return
				case respCh <- Response{Partial: true, Delta: string(r)}:
				}
			}
		}
		finish := "stop"
		if len(turn.ToolCalls) > 0 {
			finish = "tool_calls"
		}
		respCh <- Response{
			Partial:      false,
			Content:      turn.Content,
			ToolCalls:    turn.ToolCalls,
			FinishReason: finish,
		}
	}()
	return respCh, errCh
}

// Info implements Model interface.
func (m *MockModel) Info() Info { return m.info }

// Calls reports how many Generate invocations the mock has served.
func (m *MockModel) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// Requests returns a copy of every request the mock has received, in order.
func (m *MockModel) Requests() []Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Request, len(m.requests))
	copy(out, m.requests)
	return out
}

// LastRequest returns the most recent request, or an error when Generate has
// not been called yet.
func (m *MockModel) LastRequest() (Request, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.requests) == 0 {
		return Request{}, fmt.Errorf("no requests recorded")
	}
	return m.requests[len(m.requests)-1], nil
}
