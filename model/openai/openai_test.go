package openai

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/toolmesh/core"
	"github.com/hupe1980/toolmesh/model"
)

// marshalWire renders a request param the way the SDK would put it on the
// wire, which is the shape worth asserting on.
func marshalWire(t *testing.T, v any) map[string]any {
	t.Helper()

	raw, err := json.Marshal(v)
	require.NoError(t, err)

	var out map[string]any
	require.NoError(t, json.Unmarshal(raw, &out))

	return out
}

// ----- Message building -----

func TestBuildMessages_ProtocolOrder(t *testing.T) {
	history := []core.Message{
		core.NewSystemMessage("Be terse."),
		core.NewUserMessage("Forecast for Berlin, and any alerts?"),
		core.NewAssistantMessage("", []core.ToolCall{
			{ID: "call_1", Server: "weather", Tool: "get_forecast", Args: map[string]any{"city": "Berlin"}},
			{ID: "call_2", Server: "weather", Tool: "get_alerts"},
		}),
		core.NewToolMessage(core.SucceededToolResult(core.ToolCall{ID: "call_1", Server: "weather", Tool: "get_forecast"}, `{"temp":22}`)),
		core.NewToolMessage(core.SucceededToolResult(core.ToolCall{ID: "call_2", Server: "weather", Tool: "get_alerts"}, `{"alerts":[]}`)),
		core.NewAssistantMessage("22C and no alerts.", nil),
	}

	msgs := buildMessages(model.Request{Messages: history})
	require.Len(t, msgs, 6)

	roles := make([]string, 0, len(msgs))
	for _, m := range msgs {
		roles = append(roles, marshalWire(t, m)["role"].(string))
	}
	assert.Equal(t, []string{"system", "user", "assistant", "tool", "tool", "assistant"}, roles)

	withCalls := marshalWire(t, msgs[2])
	calls, ok := withCalls["tool_calls"].([]any)
	require.True(t, ok, "assistant message should carry tool_calls")
	require.Len(t, calls, 2)

	first := calls[0].(map[string]any)
	assert.Equal(t, "call_1", first["id"])

	fn := first["function"].(map[string]any)
	assert.Equal(t, "weather__get_forecast", fn["name"])
	assert.JSONEq(t, `{"city":"Berlin"}`, fn["arguments"].(string))

	toolMsg := marshalWire(t, msgs[3])
	assert.Equal(t, "call_1", toolMsg["tool_call_id"])
	assert.Equal(t, `{"temp":22}`, toolMsg["content"])
}

func TestBuildMessages_SkipsDanglingToolMessage(t *testing.T) {
	history := []core.Message{
		core.NewUserMessage("hi"),
		{Role: core.RoleTool, Content: "orphan result"},
	}

	msgs := buildMessages(model.Request{Messages: history})
	require.Len(t, msgs, 1)
	assert.Equal(t, "user", marshalWire(t, msgs[0])["role"])
}

func TestBuildMessages_AssistantTextAlongsideCalls(t *testing.T) {
	history := []core.Message{
		core.NewAssistantMessage("Let me check.", []core.ToolCall{
			{ID: "call_1", Server: "docs", Tool: "search", Args: map[string]any{"query": "golang"}},
		}),
	}

	msgs := buildMessages(model.Request{Messages: history})
	require.Len(t, msgs, 1)

	obj := marshalWire(t, msgs[0])
	assert.Equal(t, "Let me check.", obj["content"])
	require.Len(t, obj["tool_calls"].([]any), 1)
}

// ----- Param building -----

func TestBuildParams_Tools(t *testing.T) {
	m := New(func(o *Options) {
		o.Model = "gpt-4o-mini"
		o.APIKey = "test-key"
	})

	params := m.buildParams(model.Request{
		Messages: []core.Message{core.NewUserMessage("hi")},
		Tools: []model.ToolDefinition{
			{
				Type: "function",
				Function: model.FunctionDefinition{
					Name:        "weather__get_forecast",
					Description: "Get the forecast for a city",
					Parameters: map[string]any{
						"type":       "object",
						"properties": map[string]any{"city": map[string]any{"type": "string"}},
						"required":   []any{"city"},
					},
				},
			},
		},
	})

	require.Len(t, params.Tools, 1)

	tool := marshalWire(t, params.Tools[0])
	assert.Equal(t, "function", tool["type"])

	fn := tool["function"].(map[string]any)
	assert.Equal(t, "weather__get_forecast", fn["name"])
	assert.Equal(t, "Get the forecast for a city", fn["description"])

	schema := fn["parameters"].(map[string]any)
	assert.Equal(t, "object", schema["type"])
}

// ----- Streaming assembly -----

func TestAssembleCalls_OrderedByStreamIndex(t *testing.T) {
	toolAgg := map[int64]*aggCall{
		2: {id: "call_c", name: "docs__search", args: `{"query":"go"}`},
		0: {id: "call_a", name: "weather__get_forecast", args: `{"city":"Berlin"}`},
		1: {id: "call_b", name: "weather__get_alerts", args: ""},
	}

	calls := assembleCalls(toolAgg)
	require.Len(t, calls, 3)

	ids := []string{calls[0].ID, calls[1].ID, calls[2].ID}
	assert.Equal(t, []string{"call_a", "call_b", "call_c"}, ids)

	assert.Equal(t, "function", calls[0].Type)
	assert.Equal(t, "weather__get_forecast", calls[0].Function.Name)
	assert.JSONEq(t, `{"city":"Berlin"}`, string(calls[0].Function.Arguments))
	assert.Empty(t, string(calls[1].Function.Arguments))
}

func TestAssembleCalls_Empty(t *testing.T) {
	assert.Nil(t, assembleCalls(nil))
	assert.Nil(t, assembleCalls(map[int64]*aggCall{}))
}
