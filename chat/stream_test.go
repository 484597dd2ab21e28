package chat

import (
	"context"
	"errors"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/hupe1980/toolmesh/model"
)

func TestEngine_SendStream_Tokens(t *testing.T) {
	m := model.NewMockModel(model.Turn{Content: "Hi!"})
	e := New(m, weatherSource())

	events, errCh := e.SendStream(context.Background(), "hello")

	var tokens []string
	var done []StreamEvent

	for ev := range events {
		switch ev.Kind {
		case EventToken:
			tokens = append(tokens, ev.Token)
		case EventDone:
			done = append(done, ev)
		}
	}

	assert.NoError(t, <-errCh)
	assert.Equal(t, "Hi!", strings.Join(tokens, ""))
	assert.Len(t, done, 1)
	assert.Equal(t, "Hi!", done[0].Content)
}

func TestEngine_SendStream_ToolFlow(t *testing.T) {
	m := model.NewMockModel(
		model.Turn{ToolCalls: []model.ToolCall{
			model.NewToolCall("call_1", "weather__get_forecast", map[string]any{"city": "Berlin"}),
			model.NewToolCall("call_2", "docs__search", map[string]any{"query": "sun"}),
		}},
		model.Turn{Content: "Done"},
	)

	// The first call finishes last; result events must still follow the
	// order the calls were announced in.
	src := weatherSource()
	src.delays["get_forecast"] = 40 * time.Millisecond

	e := New(m, src)

	events, errCh := e.SendStream(context.Background(), "go")

	var kinds []EventKind
	var callIDs, resultIDs []string

	for ev := range events {
		kinds = append(kinds, ev.Kind)

		switch ev.Kind {
		case EventToolCall:
			callIDs = append(callIDs, ev.Call.ID)
			assert.NotEmpty(t, ev.Call.Server)
		case EventToolResult:
			resultIDs = append(resultIDs, ev.Result.CallID)
		}
	}

	assert.NoError(t, <-errCh)

	assert.Equal(t, []string{"call_1", "call_2"}, callIDs)
	assert.Equal(t, []string{"call_1", "call_2"}, resultIDs)

	// Every call is announced before any result arrives; done closes the
	// stream.
	lastCall := -1
	for i, k := range kinds {
		if k == EventToolCall {
			lastCall = i
		}
	}
	firstResult := slices.Index(kinds, EventToolResult)
	assert.Less(t, lastCall, firstResult)
	assert.Equal(t, EventDone, kinds[len(kinds)-1])

	// The final turn streamed its text before done.
	assert.GreaterOrEqual(t, slices.Index(kinds, EventToken), 0)
}

func TestEngine_SendStream_ModelError(t *testing.T) {
	m := model.NewMockModel(model.Turn{Err: errors.New("boom")})
	e := New(m, weatherSource())

	events, errCh := e.SendStream(context.Background(), "hi")

	for range events {
	}

	err := <-errCh
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
}

func TestEngine_SendStream_HistoryMatchesSend(t *testing.T) {
	turns := []model.Turn{
		{ToolCalls: []model.ToolCall{model.NewToolCall("call_1", "weather__get_alerts", nil)}},
		{Content: "All clear."},
	}

	streamed := New(model.NewMockModel(turns...), weatherSource())
	events, errCh := streamed.SendStream(context.Background(), "alerts?")
	for range events {
	}
	assert.NoError(t, <-errCh)

	direct := New(model.NewMockModel(turns...), weatherSource())
	_, err := direct.Send(context.Background(), "alerts?")
	assert.NoError(t, err)

	sh := streamed.History()
	dh := direct.History()
	assert.Equal(t, len(dh), len(sh))
	for i := range dh {
		assert.Equal(t, dh[i].Role, sh[i].Role, "message %d role", i)
		assert.Equal(t, dh[i].Content, sh[i].Content, "message %d content", i)
	}
}
