package core

import (
	"encoding/json"
	"strings"
)

// ToolNameSeparator joins a server name and a tool name into the flattened
// name exposed to the model, e.g. "weather__get_alerts".
const ToolNameSeparator = "__"

// JoinToolName builds the flattened model-facing tool name.
func JoinToolName(server, tool string) string {
	return server + ToolNameSeparator + tool
}

// SplitToolName splits a flattened name at the first separator occurrence.
// Tool names may themselves contain the separator; server names may not.
func SplitToolName(full string) (server, tool string, ok bool) {
	return strings.Cut(full, ToolNameSeparator)
}

// ToolDescriptor describes one tool advertised by a connected server. The
// input schema is carried opaquely and passed through to the model unchanged.
type ToolDescriptor struct {
	Server      string         `json:"server"`                 // Owning server name
	Name        string         `json:"name"`                   // Tool name on that server
	Description string         `json:"description,omitempty"`  // Human description
	InputSchema map[string]any `json:"input_schema,omitempty"` // JSON schema, opaque
}

// FullName returns the flattened server__tool name of the descriptor.
func (d ToolDescriptor) FullName() string {
	return JoinToolName(d.Server, d.Name)
}

// ToolCall is one resolved tool invocation request produced by parsing the
// model's function-call output. The ID is supplied by the model and correlates
// the eventual result back into conversation order, including when several
// calls execute concurrently.
type ToolCall struct {
	ID     string         `json:"id"`             // Model-supplied correlation id
	Server string         `json:"server"`         // Target server name
	Tool   string         `json:"tool"`           // Target tool name
	Args   map[string]any `json:"args,omitempty"` // Parsed argument map
}

// FullName returns the flattened server__tool name of the call. A call that
// was never resolved to a server keeps its bare tool name, so unresolvable
// names echo back to the model unchanged.
func (c ToolCall) FullName() string {
	if c.Server == "" {
		return c.Tool
	}
	return JoinToolName(c.Server, c.Tool)
}

// ArgumentsJSON renders the argument map back into the JSON string shape wire
// formats expect. An empty map renders as "{}".
func (c ToolCall) ArgumentsJSON() string {
	if len(c.Args) == 0 {
		return "{}"
	}
	raw, err := json.Marshal(c.Args)
	if err != nil {
		return "{}"
	}
	return string(raw)
}

// ToolResult is the outcome of one tool invocation, always correlated to its
// originating request. Exactly one of Content (canonical payload) and Err
// (failure description) is populated, per the Success flag.
type ToolResult struct {
	CallID  string `json:"call_id"`           // Originating ToolCall.ID
	Server  string `json:"server"`            // Target server name
	Tool    string `json:"tool"`              // Target tool name
	Success bool   `json:"success"`           // True when the call completed without error
	Content string `json:"content,omitempty"` // Canonical serialized payload (success)
	Err     string `json:"error,omitempty"`   // Failure description (failure)
}

// SucceededToolResult builds a successful outcome for the given call.
func SucceededToolResult(call ToolCall, content string) ToolResult {
	return ToolResult{
		CallID:  call.ID,
		Server:  call.Server,
		Tool:    call.Tool,
		Success: true,
		Content: content,
	}
}

// FullName returns the flattened server__tool name of the result, or the
// bare tool name when the originating call never resolved to a server.
func (r ToolResult) FullName() string {
	if r.Server == "" {
		return r.Tool
	}
	return JoinToolName(r.Server, r.Tool)
}

// FailedToolResult builds a failure outcome for the given call.
func FailedToolResult(call ToolCall, err error) ToolResult {
	r := ToolResult{
		CallID: call.ID,
		Server: call.Server,
		Tool:   call.Tool,
	}
	if err != nil {
		r.Err = err.Error()
	} else {
		r.Err = "unknown error"
	}
	return r
}
