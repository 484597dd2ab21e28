package registry

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hupe1980/toolmesh/core"
	"github.com/hupe1980/toolmesh/logging"
)

// Options configures a Registry.
type Options struct {
	// RetryAttempts is the default number of extra connect attempts after the
	// first failure. Zero means a single attempt per Add.
	RetryAttempts int

	// RetryDelay is the default pause between connect attempts.
	RetryDelay time.Duration

	// Logger receives connection lifecycle events.
	Logger logging.Logger
}

// AddOptions override the registry's retry defaults for a single Add call.
type AddOptions struct {
	RetryAttempts int
	RetryDelay    time.Duration
}

// AddResult is the outcome of one server config in a bulk add.
type AddResult struct {
	Connection *Connection
	Err        error
}

// Registry owns the name to Connection mapping. All map mutations are
// serialized through one mutex so concurrent adds cannot race on a name,
// while tool calls run outside the lock against the captured connection.
// Construct it explicitly and pass it by reference; there is no process-wide
// instance.
type Registry struct {
	mu      sync.Mutex
	opts    Options
	conns   map[string]*Connection
	pending map[string]struct{}
	closed  bool
	dial    func(ctx context.Context, cfg ServerConfig) (*Connection, error)
}

// New creates an empty Registry.
func New(optFns ...func(o *Options)) *Registry {
	opts := Options{
		RetryAttempts: 0,
		RetryDelay:    2 * time.Second,
		Logger:        logging.NoOpLogger{},
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}

	return &Registry{
		opts:    opts,
		conns:   make(map[string]*Connection),
		pending: make(map[string]struct{}),
		dial:    Connect,
	}
}

// Add validates the config, establishes the connection with retries, and
// registers it under the configured name. The name is reserved before
// dialing begins, so a concurrent Add for the same name fails with a
// duplicate error instead of racing. Configuration errors are returned
// as-is and never retried; transport failures are retried up to
// RetryAttempts extra times and reported as a ConnectError carrying the
// attempt count.
func (r *Registry) Add(ctx context.Context, cfg ServerConfig, optFns ...func(o *AddOptions)) (*Connection, error) {
	opts := AddOptions{
		RetryAttempts: r.opts.RetryAttempts,
		RetryDelay:    r.opts.RetryDelay,
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, &ClosedError{}
	}
	if _, exists := r.conns[cfg.Name]; exists {
		r.mu.Unlock()
		return nil, &DuplicateError{Server: cfg.Name}
	}
	if _, inflight := r.pending[cfg.Name]; inflight {
		r.mu.Unlock()
		return nil, &DuplicateError{Server: cfg.Name}
	}
	r.pending[cfg.Name] = struct{}{}
	r.mu.Unlock()

	maxAttempts := opts.RetryAttempts + 1

	var (
		conn    *Connection
		lastErr error
		made    int
	)

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if attempt > 1 {
			r.opts.Logger.Warn("Retrying server connection", "server", cfg.Name, "attempt", attempt, "max_attempts", maxAttempts, "delay", opts.RetryDelay)

			select {
			case <-ctx.Done():
				r.release(cfg.Name)
				return nil, &ConnectError{Server: cfg.Name, Attempts: made, Err: errors.Join(lastErr, ctx.Err())}
			case <-time.After(opts.RetryDelay):
			}
		}

		made = attempt

		conn, lastErr = r.dial(ctx, cfg)
		if lastErr == nil {
			conn.attempts = attempt
			break
		}

		var cfgErr *ConfigError
		if errors.As(lastErr, &cfgErr) {
			r.release(cfg.Name)
			return nil, cfgErr
		}

		r.opts.Logger.Warn("Server connection attempt failed", "server", cfg.Name, "attempt", attempt, "error", lastErr)
	}

	if lastErr != nil {
		r.release(cfg.Name)
		return nil, &ConnectError{Server: cfg.Name, Attempts: made, Err: lastErr}
	}

	r.mu.Lock()
	delete(r.pending, cfg.Name)
	if r.closed {
		r.mu.Unlock()
		_ = conn.close()
		return nil, &ClosedError{}
	}
	r.conns[cfg.Name] = conn
	r.mu.Unlock()

	r.opts.Logger.Info("Server connected", "server", cfg.Name, "transport", string(cfg.Transport), "tools", len(conn.tools), "attempts", conn.attempts)

	return conn, nil
}

func (r *Registry) release(name string) {
	r.mu.Lock()
	delete(r.pending, name)
	r.mu.Unlock()
}

// AddAll connects a batch of servers. With failFast false every config is
// attempted concurrently and the returned map holds one outcome per config.
// With failFast true configs are attempted in order and the first failure
// aborts the rest; connections established before the failure are retained.
func (r *Registry) AddAll(ctx context.Context, cfgs []ServerConfig, failFast bool) map[string]AddResult {
	results := make(map[string]AddResult, len(cfgs))

	if failFast {
		for _, cfg := range cfgs {
			conn, err := r.Add(ctx, cfg)
			results[cfg.Name] = AddResult{Connection: conn, Err: err}

			if err != nil {
				r.opts.Logger.Error("Aborting bulk add after failure", "server", cfg.Name, "error", err)
				break
			}
		}

		return results
	}

	var (
		wg sync.WaitGroup
		mu sync.Mutex
	)

	for _, cfg := range cfgs {
		wg.Add(1)

		go func(cfg ServerConfig) {
			defer wg.Done()

			conn, err := r.Add(ctx, cfg)

			mu.Lock()
			results[cfg.Name] = AddResult{Connection: conn, Err: err}
			mu.Unlock()
		}(cfg)
	}

	wg.Wait()

	return results
}

// Call routes one tool invocation to the named server. The tool name is
// checked against the snapshot taken at connect time, so a miss reports the
// currently available alternatives without a network round trip. A zero
// timeout applies the connection's read-timeout default.
func (r *Registry) Call(ctx context.Context, server, tool string, args map[string]any, timeout time.Duration) (*mcp.CallToolResult, error) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, &ClosedError{}
	}

	conn, ok := r.conns[server]
	if !ok {
		available := r.serverNamesLocked()
		r.mu.Unlock()
		return nil, &NotFoundError{Kind: "server", Name: server, Available: available}
	}
	r.mu.Unlock()

	if _, ok := conn.FindTool(tool); !ok {
		return nil, &NotFoundError{Kind: "tool", Name: tool, Server: server, Available: conn.ToolNames()}
	}

	r.opts.Logger.Debug("Calling tool", "server", server, "tool", tool)

	return conn.CallTool(ctx, tool, args, timeout)
}

// Remove closes and evicts one connection. Removing an unknown name is a
// no-op, which makes teardown paths safe to repeat.
func (r *Registry) Remove(name string) error {
	r.mu.Lock()
	conn, ok := r.conns[name]
	if ok {
		delete(r.conns, name)
	}
	r.mu.Unlock()

	if !ok {
		return nil
	}

	if err := conn.close(); err != nil {
		r.opts.Logger.Warn("Error closing server connection", "server", name, "error", err)
		return fmt.Errorf("close server %q: %w", name, err)
	}

	r.opts.Logger.Info("Server removed", "server", name)

	return nil
}

// Close tears down every connection sequentially in the calling goroutine
// and marks the registry permanently closed. Stdio transports reap their
// child process during close and must be released from the goroutine that
// owns the teardown, so shutdown is intentionally not parallelized. Close is
// idempotent; all later Add and Call attempts fail with a ClosedError.
func (r *Registry) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true

	names := r.serverNamesLocked()

	conns := make([]*Connection, 0, len(names))
	for _, name := range names {
		conns = append(conns, r.conns[name])
	}
	r.conns = make(map[string]*Connection)
	r.mu.Unlock()

	var errs []error

	for _, conn := range conns {
		if err := conn.close(); err != nil {
			r.opts.Logger.Warn("Error closing server connection", "server", conn.name, "error", err)
			errs = append(errs, fmt.Errorf("close server %q: %w", conn.name, err))
		}
	}

	r.opts.Logger.Info("Registry closed", "servers", len(conns))

	return errors.Join(errs...)
}

// Get returns the connection registered under name.
func (r *Registry) Get(name string) (*Connection, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	conn, ok := r.conns[name]

	return conn, ok
}

// Servers returns the connected server names in sorted order.
func (r *Registry) Servers() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.serverNamesLocked()
}

// Tools returns a snapshot of every connected server's tools keyed by server
// name.
func (r *Registry) Tools() map[string][]core.ToolDescriptor {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make(map[string][]core.ToolDescriptor, len(r.conns))
	for name, conn := range r.conns {
		out[name] = conn.Tools()
	}

	return out
}

// Len returns the number of connected servers.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.conns)
}

func (r *Registry) serverNamesLocked() []string {
	names := make([]string, 0, len(r.conns))
	for name := range r.conns {
		names = append(names, name)
	}

	sort.Strings(names)

	return names
}
