package core

import (
	"encoding/json"
	"fmt"
	"time"
)

// Role identifies the author of a conversation message.
type Role string

// Conversation roles.
const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Message is one entry in the ordered conversation history. The sequence of
// messages is append-only; it is never reordered or deduplicated.
type Message struct {
	Role       Role       `json:"role"`                   // Author of the message
	Content    string     `json:"content,omitempty"`      // Plain text content
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`   // Assistant messages only
	ToolCallID string     `json:"tool_call_id,omitempty"` // Tool messages: originating call id
	Name       string     `json:"name,omitempty"`         // Tool messages: flattened server__tool name
	Timestamp  time.Time  `json:"timestamp"`              // Creation time
}

// NewSystemMessage builds a system message.
func NewSystemMessage(text string) Message {
	return Message{Role: RoleSystem, Content: text, Timestamp: time.Now()}
}

// NewUserMessage builds a user message.
func NewUserMessage(text string) Message {
	return Message{Role: RoleUser, Content: text, Timestamp: time.Now()}
}

// NewAssistantMessage builds an assistant message carrying optional text
// content and the tool calls requested in that turn.
func NewAssistantMessage(text string, calls []ToolCall) Message {
	return Message{Role: RoleAssistant, Content: text, ToolCalls: calls, Timestamp: time.Now()}
}

// NewToolMessage folds a tool outcome into a conversation message. Successful
// outcomes carry the canonical payload verbatim; failures carry a structured
// error object so the model can read what went wrong and react.
func NewToolMessage(result ToolResult) Message {
	content := result.Content
	if !result.Success {
		raw, err := json.Marshal(map[string]any{
			"error":   result.Err,
			"message": fmt.Sprintf("Tool %s failed", result.Tool),
		})
		if err != nil {
			content = result.Err
		} else {
			content = string(raw)
		}
	}
	return Message{
		Role:       RoleTool,
		Content:    content,
		ToolCallID: result.CallID,
		Name:       result.FullName(),
		Timestamp:  time.Now(),
	}
}

// HasToolCalls reports whether the message requests at least one tool call.
func (m Message) HasToolCalls() bool {
	return len(m.ToolCalls) > 0
}

// CloneHistory returns a copy of a message slice so callers can hand out
// history without exposing their internal backing array.
func CloneHistory(history []Message) []Message {
	if history == nil {
		return nil
	}
	out := make([]Message, len(history))
	copy(out, history)
	return out
}
