package chat

import (
	"context"

	"github.com/hupe1980/toolmesh/catalog"
	"github.com/hupe1980/toolmesh/core"
)

// EventKind discriminates stream events.
type EventKind string

// Stream event kinds, in the order they can appear within one turn: any
// number of tokens, then the turn's tool calls, then their results, then
// either the next iteration's tokens or a single done event.
const (
	EventToken      EventKind = "token"
	EventToolCall   EventKind = "tool_call"
	EventToolResult EventKind = "tool_result"
	EventDone       EventKind = "done"
)

// StreamEvent is one observable step of a streamed conversation turn.
type StreamEvent struct {
	Kind    EventKind        `json:"kind"`
	Token   string           `json:"token,omitempty"`   // EventToken: one text delta
	Call    *core.ToolCall   `json:"call,omitempty"`    // EventToolCall
	Result  *core.ToolResult `json:"result,omitempty"`  // EventToolResult
	Content string           `json:"content,omitempty"` // EventDone: final assistant text
}

// SendStream runs the same machine as Send but emits incremental events:
// text deltas in strict generation order, each assembled tool call only
// after the turn's token stream is exhausted, then each result in the same
// order the calls were announced. The channels are single-use and closed
// when the turn ends; a model failure arrives on the error channel instead
// of a done event.
func (e *Engine) SendStream(ctx context.Context, text string) (<-chan StreamEvent, <-chan error) {
	events := make(chan StreamEvent)
	errCh := make(chan error, 1)

	go func() {
		defer close(events)
		defer close(errCh)

		emit := func(ev StreamEvent) error {
			select {
			case events <- ev:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		e.history = append(e.history, core.NewUserMessage(text))

		for iteration := 1; iteration <= e.opts.MaxIterations; iteration++ {
			cat := catalog.Build(e.src.Tools())

			turn, err := e.generate(ctx, cat, true, func(delta string) error {
				return emit(StreamEvent{Kind: EventToken, Token: delta})
			})
			if err != nil {
				errCh <- err
				return
			}

			resolved := resolveCalls(cat, turn.ToolCalls)
			calls := historyCalls(resolved)

			if turn.Content != "" || len(calls) > 0 {
				e.history = append(e.history, core.NewAssistantMessage(turn.Content, calls))
			}

			if len(calls) == 0 {
				content := turn.Content
				if content == "" {
					content = noResponseFallback
				}
				_ = emit(StreamEvent{Kind: EventDone, Content: content})
				return
			}

			e.opts.Logger.Info("Executing tool calls", "iteration", iteration, "count", len(calls))

			for i := range calls {
				if err := emit(StreamEvent{Kind: EventToolCall, Call: &calls[i]}); err != nil {
					errCh <- err
					return
				}
			}

			results := e.executeResolved(ctx, resolved)
			for i := range results {
				e.history = append(e.history, core.NewToolMessage(results[i]))

				if err := emit(StreamEvent{Kind: EventToolResult, Result: &results[i]}); err != nil {
					errCh <- err
					return
				}
			}
		}

		e.opts.Logger.Warn("Conversation hit iteration limit", "max_iterations", e.opts.MaxIterations)

		_ = emit(StreamEvent{Kind: EventDone, Content: maxIterationsFallback})
	}()

	return events, errCh
}
