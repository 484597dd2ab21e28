package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hupe1980/toolmesh/catalog"
	"github.com/hupe1980/toolmesh/core"
	"github.com/hupe1980/toolmesh/logging"
	"github.com/hupe1980/toolmesh/model"
)

// DefaultMaxIterations bounds the model/tool cycle within one turn.
const DefaultMaxIterations = 10

// DefaultSystemPrompt seeds a fresh conversation when no history and no
// custom prompt are supplied.
const DefaultSystemPrompt = "You are a helpful assistant with access to various tools. " +
	"Use the available tools when needed to answer user questions accurately."

// Fixed degraded responses. Returned to the caller instead of an error when
// the model yields nothing usable or the iteration cap is hit.
const (
	noResponseFallback    = "I apologize, but I couldn't generate a response."
	maxIterationsFallback = "I apologize, but I couldn't complete the task within the allowed steps."
)

// Options configures an Engine.
type Options struct {
	// SystemPrompt becomes the first message of a fresh conversation. Ignored
	// when History seeds the engine.
	SystemPrompt string

	// MaxIterations caps the model/tool cycles per Send.
	MaxIterations int

	// MaxParallel bounds concurrent tool execution within one turn. Zero
	// means unbounded.
	MaxParallel int

	// ToolTimeout bounds each tool invocation. Zero falls back to the
	// connection's read-timeout default.
	ToolTimeout time.Duration

	// History seeds the conversation, typically from a persisted session.
	History []core.Message

	// Logger receives loop and tool telemetry.
	Logger logging.Logger
}

// Engine drives one conversation against one model and one tool source. It
// owns the append-only history: user input, assistant turns, and tool
// outcomes are folded in strictly in order. Not safe for concurrent use.
type Engine struct {
	model    model.Model
	src      ToolSource
	opts     Options
	executor *Executor
	history  []core.Message
}

// New creates an Engine for a fresh or seeded conversation.
func New(m model.Model, src ToolSource, optFns ...func(o *Options)) *Engine {
	opts := Options{
		SystemPrompt:  DefaultSystemPrompt,
		MaxIterations: DefaultMaxIterations,
		ToolTimeout:   DefaultToolTimeout,
		Logger:        logging.NoOpLogger{},
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}
	if opts.MaxIterations <= 0 {
		opts.MaxIterations = DefaultMaxIterations
	}

	history := core.CloneHistory(opts.History)
	if len(history) == 0 && opts.SystemPrompt != "" {
		history = append(history, core.NewSystemMessage(opts.SystemPrompt))
	}

	return &Engine{
		model: m,
		src:   src,
		opts:  opts,
		executor: NewExecutor(func(o *ExecutorOptions) {
			o.MaxParallel = opts.MaxParallel
			o.Timeout = opts.ToolTimeout
			o.Logger = opts.Logger
		}),
		history: history,
	}
}

// History returns a copy of the conversation so far.
func (e *Engine) History() []core.Message {
	return core.CloneHistory(e.history)
}

// Reset clears the conversation back to the system prompt.
func (e *Engine) Reset() {
	e.history = e.history[:0]
	if e.opts.SystemPrompt != "" {
		e.history = append(e.history, core.NewSystemMessage(e.opts.SystemPrompt))
	}
}

// Send appends the user text and runs the model/tool cycle until the model
// answers without tool calls or the iteration cap is hit. Tool failures are
// folded into history as readable error messages and never abort the turn;
// only a failed model call returns an error.
func (e *Engine) Send(ctx context.Context, text string) (string, error) {
	e.history = append(e.history, core.NewUserMessage(text))

	for iteration := 1; iteration <= e.opts.MaxIterations; iteration++ {
		cat := catalog.Build(e.src.Tools())

		turn, err := e.generate(ctx, cat, false, nil)
		if err != nil {
			return "", err
		}

		resolved := resolveCalls(cat, turn.ToolCalls)
		calls := historyCalls(resolved)

		if turn.Content != "" || len(calls) > 0 {
			e.history = append(e.history, core.NewAssistantMessage(turn.Content, calls))
		}

		if len(calls) == 0 {
			if turn.Content == "" {
				return noResponseFallback, nil
			}
			return turn.Content, nil
		}

		e.opts.Logger.Info("Executing tool calls", "iteration", iteration, "count", len(calls))

		for _, result := range e.executeResolved(ctx, resolved) {
			e.history = append(e.history, core.NewToolMessage(result))
		}
	}

	e.opts.Logger.Warn("Conversation hit iteration limit", "max_iterations", e.opts.MaxIterations)

	return maxIterationsFallback, nil
}

// generate runs one model call over the full history plus the turn's tool
// schema and waits for the assembled final response. When streaming, onToken
// receives each text delta in generation order.
func (e *Engine) generate(ctx context.Context, cat *catalog.Catalog, stream bool, onToken func(delta string) error) (*model.Response, error) {
	req := model.Request{
		Messages: core.CloneHistory(e.history),
		Tools:    cat.Definitions(),
		Stream:   stream,
	}

	start := time.Now()

	respCh, errCh := e.model.Generate(ctx, req)

	var final *model.Response

	for resp := range respCh {
		if resp.Partial {
			if onToken != nil && resp.Delta != "" {
				if err := onToken(resp.Delta); err != nil {
					// The consumer is gone; the provider unblocks through
					// ctx and the remaining responses are dropped.
					return nil, err
				}
			}
			continue
		}
		final = &resp
	}

	if err := <-errCh; err != nil {
		logging.LogModelCall(e.opts.Logger, e.model.Info().Name, time.Since(start), false, err.Error())
		return nil, fmt.Errorf("model call failed: %w", err)
	}

	logging.LogModelCall(e.opts.Logger, e.model.Info().Name, time.Since(start), true, "")

	if final == nil {
		final = &model.Response{}
	}

	return final, nil
}

// resolvedCall pairs one parsed tool call with its resolution error, if any.
// A call with a non-nil err never reaches a server; it is folded straight
// into the results as a failure the model can read.
type resolvedCall struct {
	call core.ToolCall
	err  error
}

// resolveCalls converts the model's raw function calls into executable form:
// the namespaced name is split into server and tool and the argument JSON is
// decoded, degrading malformed argument payloads to empty args rather than
// rejecting the call. On a name-resolution failure the returned call keeps
// the id and the raw name so the failure result stays addressable in history.
func resolveCalls(cat *catalog.Catalog, raw []model.ToolCall) []resolvedCall {
	resolved := make([]resolvedCall, 0, len(raw))

	for _, rc := range raw {
		name := rc.Function.Name
		call := core.ToolCall{ID: rc.ID, Tool: name}

		server, tool, ok := cat.Resolve(name)
		if !ok {
			resolved = append(resolved, resolvedCall{call: call, err: fmt.Errorf("cannot resolve tool name %q to a server", name)})
			continue
		}
		call.Server = server
		call.Tool = tool
		call.Args = decodeArguments(rc.Function.Arguments)

		resolved = append(resolved, resolvedCall{call: call})
	}

	return resolved
}

// historyCalls extracts the call list for the assistant history message,
// unresolvable ones included so every requested id has a recorded call and a
// tool message answering it.
func historyCalls(resolved []resolvedCall) []core.ToolCall {
	if len(resolved) == 0 {
		return nil
	}

	calls := make([]core.ToolCall, 0, len(resolved))
	for _, rc := range resolved {
		calls = append(calls, rc.call)
	}

	return calls
}

// executeResolved runs the executable subset concurrently and merges the
// outcomes with the parse failures back into request order.
func (e *Engine) executeResolved(ctx context.Context, resolved []resolvedCall) []core.ToolResult {
	results := make([]core.ToolResult, len(resolved))

	calls := make([]core.ToolCall, 0, len(resolved))
	slots := make([]int, 0, len(resolved))

	for i, rc := range resolved {
		if rc.err != nil {
			e.opts.Logger.Warn("Rejected tool call", "tool", rc.call.FullName(), "error", rc.err)
			results[i] = core.FailedToolResult(rc.call, rc.err)
			continue
		}
		calls = append(calls, rc.call)
		slots = append(slots, i)
	}

	for j, res := range e.executor.Execute(ctx, e.src, calls) {
		results[slots[j]] = res
	}

	return results
}

// decodeArguments parses the model-supplied argument JSON. Empty input means
// no arguments; malformed or non-object input degrades to no arguments as
// well, so a truncated payload never blocks the call itself.
func decodeArguments(raw json.RawMessage) map[string]any {
	if len(raw) == 0 {
		return map[string]any{}
	}

	var args map[string]any
	if err := json.Unmarshal(raw, &args); err != nil || args == nil {
		return map[string]any{}
	}

	return args
}
