package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"sync/atomic"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hupe1980/toolmesh/core"
)

// Client identity presented to servers during the MCP initialize handshake.
const (
	clientName    = "toolmesh"
	clientVersion = "0.1.0"
)

// session is the narrow slice of *mcp.ClientSession the registry relies on,
// extracted so tests can substitute a fake transport session.
type session interface {
	CallTool(ctx context.Context, params *mcp.CallToolParams) (*mcp.CallToolResult, error)
	Close() error
}

// Connection is one live, exclusively owned server connection. It holds the
// protocol session, the immutable tool snapshot taken at connect time, and
// the closed flag that makes teardown terminal: a closed connection rejects
// every further call and is never resurrected.
type Connection struct {
	name        string
	transport   Transport
	sess        session
	tools       []core.ToolDescriptor
	connectedAt time.Time
	attempts    int
	readTimeout time.Duration
	closed      atomic.Bool
}

// Name returns the server name the connection is registered under.
func (c *Connection) Name() string { return c.name }

// Transport returns the wire mechanism of the connection.
func (c *Connection) Transport() Transport { return c.transport }

// ConnectedAt returns when the handshake completed.
func (c *Connection) ConnectedAt() time.Time { return c.connectedAt }

// Attempts returns how many connect attempts were spent establishing the
// connection, including the successful one.
func (c *Connection) Attempts() int { return c.attempts }

// Closed reports whether the connection has been torn down.
func (c *Connection) Closed() bool { return c.closed.Load() }

// Tools returns a copy of the tool snapshot taken at connect time.
func (c *Connection) Tools() []core.ToolDescriptor {
	out := make([]core.ToolDescriptor, len(c.tools))
	copy(out, c.tools)
	return out
}

// ToolNames returns the names of the snapshotted tools in advertised order.
func (c *Connection) ToolNames() []string {
	names := make([]string, 0, len(c.tools))
	for _, t := range c.tools {
		names = append(names, t.Name)
	}
	return names
}

// FindTool looks up one snapshotted tool by name.
func (c *Connection) FindTool(name string) (core.ToolDescriptor, bool) {
	for _, t := range c.tools {
		if t.Name == name {
			return t, true
		}
	}
	return core.ToolDescriptor{}, false
}

// CallTool forwards one tool invocation to the live session, bounded by the
// given timeout (zero applies the connection's read-timeout default). On
// timeout the call is abandoned locally; the remote side is not guaranteed
// to stop working.
func (c *Connection) CallTool(ctx context.Context, tool string, args map[string]any, timeout time.Duration) (*mcp.CallToolResult, error) {
	if c.closed.Load() {
		return nil, &ClosedError{Server: c.name}
	}
	if timeout <= 0 {
		timeout = c.readTimeout
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	res, err := c.sess.CallTool(ctx, &mcp.CallToolParams{Name: tool, Arguments: args})
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("tool call %q on server %q timed out after %s: %w", tool, c.name, timeout, err)
		}
		return nil, fmt.Errorf("call tool %q on server %q: %w", tool, c.name, err)
	}
	return res, nil
}

// close releases the transport resources exactly once. Later calls are
// no-ops, which makes eviction idempotent even when resources are already
// partially torn down.
func (c *Connection) close() error {
	if c.closed.Swap(true) {
		return nil
	}
	return c.sess.Close()
}

// Connect performs the transport-specific handshake described by the config
// and returns a live Connection with the server's advertised tools
// snapshotted. On any failure during handshake or tool listing every
// partially acquired resource is released before the error propagates, so a
// failed attempt never leaks a subprocess or socket. Retry policy belongs to
// the caller.
func Connect(ctx context.Context, cfg ServerConfig) (*Connection, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	transport, err := buildTransport(cfg)
	if err != nil {
		return nil, err
	}

	connectCtx, cancel := context.WithTimeout(ctx, cfg.connectTimeout())
	defer cancel()

	client := mcp.NewClient(&mcp.Implementation{Name: clientName, Version: clientVersion}, nil)
	sess, err := client.Connect(connectCtx, transport, nil)
	if err != nil {
		return nil, fmt.Errorf("connect to server %q: %w", cfg.Name, err)
	}

	res, err := sess.ListTools(connectCtx, nil)
	if err != nil {
		if cerr := sess.Close(); cerr != nil {
			err = errors.Join(err, cerr)
		}
		return nil, fmt.Errorf("list tools on server %q: %w", cfg.Name, err)
	}

	tools := make([]core.ToolDescriptor, 0, len(res.Tools))
	for _, t := range res.Tools {
		tools = append(tools, core.ToolDescriptor{
			Server:      cfg.Name,
			Name:        t.Name,
			Description: t.Description,
			InputSchema: schemaToMap(t.InputSchema),
		})
	}

	return &Connection{
		name:        cfg.Name,
		transport:   cfg.Transport,
		sess:        sess,
		tools:       tools,
		connectedAt: time.Now(),
		attempts:    1,
		readTimeout: cfg.readTimeout(),
	}, nil
}

func buildTransport(cfg ServerConfig) (mcp.Transport, error) {
	switch cfg.Transport {
	case TransportStdio:
		cmd := exec.Command(cfg.Command, cfg.Args...)
		if len(cfg.Env) > 0 {
			env := os.Environ()
			for k, v := range cfg.Env {
				env = append(env, fmt.Sprintf("%s=%s", k, v))
			}
			cmd.Env = env
		}
		if cfg.WorkingDir != "" {
			cmd.Dir = cfg.WorkingDir
		}
		return &mcp.CommandTransport{Command: cmd}, nil
	case TransportSSE:
		return &mcp.SSEClientTransport{Endpoint: cfg.URL, HTTPClient: httpClientFor(cfg)}, nil
	case TransportStreamableHTTP:
		return &mcp.StreamableClientTransport{Endpoint: cfg.URL, HTTPClient: httpClientFor(cfg)}, nil
	default:
		return nil, &ConfigError{Server: cfg.Name, Field: "transport", Reason: fmt.Sprintf("unsupported transport %q", string(cfg.Transport))}
	}
}

// httpClientFor builds the http.Client for HTTP-based transports. Streaming
// responses must not be bounded by http.Client.Timeout, so deadlines ride on
// request contexts instead; custom headers ride on a decorating
// RoundTripper.
func httpClientFor(cfg ServerConfig) *http.Client {
	if len(cfg.Headers) == 0 {
		return http.DefaultClient
	}
	return &http.Client{
		Transport: &headerRoundTripper{next: http.DefaultTransport, headers: cfg.Headers},
	}
}

// headerRoundTripper injects static headers into every outgoing request.
type headerRoundTripper struct {
	next    http.RoundTripper
	headers map[string]string
}

func (rt *headerRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Header == nil {
		req.Header = make(http.Header)
	}
	for k, v := range rt.headers {
		req.Header.Set(k, v)
	}
	return rt.next.RoundTrip(req)
}

// schemaToMap round-trips a tool's input schema through JSON into a plain
// map, keeping it opaque to the rest of the system regardless of the SDK's
// concrete schema representation.
func schemaToMap(schema any) map[string]any {
	if schema == nil {
		return nil
	}
	if m, ok := schema.(map[string]any); ok {
		return m
	}
	raw, err := json.Marshal(schema)
	if err != nil {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil
	}
	return m
}
