package chat

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hupe1980/toolmesh/core"
	"github.com/hupe1980/toolmesh/logging"
)

// DefaultToolTimeout bounds a single tool invocation unless overridden.
const DefaultToolTimeout = 30 * time.Second

// ToolSource is the slice of the session registry the conversation loop
// needs: a snapshot of the available tools and a routed call. Satisfied by
// *registry.Registry; tests substitute an in-memory fake.
type ToolSource interface {
	Tools() map[string][]core.ToolDescriptor
	Call(ctx context.Context, server, tool string, args map[string]any, timeout time.Duration) (*mcp.CallToolResult, error)
}

// ExecutorOptions configures the parallel tool executor.
type ExecutorOptions struct {
	MaxParallel int           // 0 or less means no explicit limit
	Timeout     time.Duration // Per-call bound forwarded to the source
	Logger      logging.Logger
}

// Executor fans a batch of tool calls out to their servers and fans the
// outcomes back in. It never returns an error and never panics: lookup
// failures, timeouts, transport errors, and worker panics all become failure
// results carrying the description, so the conversation loop can fold every
// outcome into history and let the model react.
type Executor struct {
	opts ExecutorOptions
}

// NewExecutor creates an Executor.
func NewExecutor(optFns ...func(o *ExecutorOptions)) *Executor {
	opts := ExecutorOptions{
		Timeout: DefaultToolTimeout,
		Logger:  logging.NoOpLogger{},
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}

	return &Executor{opts: opts}
}

// Execute runs every call concurrently, bounded by MaxParallel, and returns
// exactly one result per call in request order regardless of completion
// order. Each worker writes its own slot, so no reordering pass is needed
// afterwards.
func (e *Executor) Execute(ctx context.Context, src ToolSource, calls []core.ToolCall) []core.ToolResult {
	n := len(calls)
	if n == 0 {
		return nil
	}

	// Fast path: single call, execute inline.
	if n == 1 {
		return []core.ToolResult{e.executeSingle(ctx, src, calls[0])}
	}

	maxPar := e.opts.MaxParallel
	if maxPar <= 0 || maxPar > n {
		maxPar = n
	}

	results := make([]core.ToolResult, n)

	var wg sync.WaitGroup

	sem := make(chan struct{}, maxPar)

	batchStart := time.Now()

	for i := range calls {
		if ctx.Err() != nil {
			// Cancelled mid-batch: the remaining calls are reported as
			// failed rather than silently dropped, keeping one result per
			// request.
			for j := i; j < n; j++ {
				results[j] = core.FailedToolResult(calls[j], ctx.Err())
			}
			break
		}

		wg.Add(1)
		sem <- struct{}{}

		go func(idx int, call core.ToolCall) {
			defer wg.Done()
			defer func() { <-sem }()

			results[idx] = e.executeSingle(ctx, src, call)
		}(i, calls[i])
	}

	wg.Wait()

	e.opts.Logger.Debug("Tool batch complete", "count", n, "parallelism", maxPar, "duration_ms", time.Since(batchStart).Milliseconds())

	return results
}

func (e *Executor) executeSingle(ctx context.Context, src ToolSource, call core.ToolCall) (result core.ToolResult) {
	defer func() {
		if r := recover(); r != nil {
			e.opts.Logger.Error("Tool call panic", "server", call.Server, "tool", call.Tool, "recover", r, "stack", string(debug.Stack()))
			result = core.FailedToolResult(call, fmt.Errorf("panic during tool call: %v", r))
		}
	}()

	start := time.Now()

	raw, err := src.Call(ctx, call.Server, call.Tool, call.Args, e.opts.Timeout)
	dur := time.Since(start)

	if err != nil {
		logging.LogToolCall(e.opts.Logger, call.Server, call.Tool, dur, false, err.Error())
		return core.FailedToolResult(call, err)
	}

	logging.LogToolCall(e.opts.Logger, call.Server, call.Tool, dur, true, "")

	return core.SucceededToolResult(call, serializeCallResult(raw))
}
