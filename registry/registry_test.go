package registry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"

	"github.com/hupe1980/toolmesh/core"
)

// -------------------- Test Doubles --------------------

type fakeSession struct {
	mu     sync.Mutex
	calls  []*mcp.CallToolParams
	result *mcp.CallToolResult
	err    error
	block  bool
	closed int
}

func (s *fakeSession) CallTool(ctx context.Context, params *mcp.CallToolParams) (*mcp.CallToolResult, error) {
	s.mu.Lock()
	s.calls = append(s.calls, params)
	block := s.block
	s.mu.Unlock()

	if block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if s.err != nil {
		return nil, s.err
	}
	return s.result, nil
}

func (s *fakeSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed++
	return nil
}

func (s *fakeSession) closeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// fakeDialer fails the first failures attempts, then hands out connections
// backed by sess.
func fakeDialer(sess session, tools []core.ToolDescriptor, failures int) func(ctx context.Context, cfg ServerConfig) (*Connection, error) {
	var mu sync.Mutex
	attempt := 0

	return func(_ context.Context, cfg ServerConfig) (*Connection, error) {
		mu.Lock()
		attempt++
		n := attempt
		mu.Unlock()

		if n <= failures {
			return nil, fmt.Errorf("dial %s: connection refused", cfg.Name)
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
}

func newTestRegistry(dial func(ctx context.Context, cfg ServerConfig) (*Connection, error)) *Registry {
	r := New(func(o *Options) {
		o.RetryDelay = time.Millisecond
	})
	r.dial = dial
	return r
}

func stdioConfig(name string) ServerConfig {
	return ServerConfig{Name: name, Transport: TransportStdio, Command: "mock-server"}
}

func weatherTools() []core.ToolDescriptor {
	return []core.ToolDescriptor{
		{Server: "weather", Name: "get_forecast", Description: "Forecast for a city"},
		{Server: "weather", Name: "get_alerts", Description: "Active weather alerts"},
	}
}

// -------------------- Config Validation --------------------

func TestServerConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     ServerConfig
		wantErr bool
		field   string
	}{
		{
			name: "valid stdio",
			cfg:  ServerConfig{Name: "fs", Transport: TransportStdio, Command: "npx", Args: []string{"-y", "@modelcontextprotocol/server-filesystem"}},
		},
		{
			// A bare binary without arguments is a valid stdio launch.
			name: "stdio without args",
			cfg:  ServerConfig{Name: "clock", Transport: TransportStdio, Command: "./mcp-time-server"},
		},
		{
			name: "valid sse",
			cfg:  ServerConfig{Name: "remote", Transport: TransportSSE, URL: "http://localhost:8080/sse"},
		},
		{
			name: "valid streamable http",
			cfg:  ServerConfig{Name: "remote", Transport: TransportStreamableHTTP, URL: "http://localhost:8080/mcp"},
		},
		{
			name:    "missing name",
			cfg:     ServerConfig{Transport: TransportStdio, Command: "npx"},
			wantErr: true,
			field:   "name",
		},
		{
			name:    "stdio without command",
			cfg:     ServerConfig{Name: "fs", Transport: TransportStdio},
			wantErr: true,
			field:   "command",
		},
		{
			name:    "sse without url",
			cfg:     ServerConfig{Name: "remote", Transport: TransportSSE},
			wantErr: true,
			field:   "url",
		},
		{
			name:    "unsupported transport",
			cfg:     ServerConfig{Name: "x", Transport: Transport("carrier-pigeon")},
			wantErr: true,
			field:   "transport",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if !tt.wantErr {
				assert.NoError(t, err)
				return
			}

			var cfgErr *ConfigError
			if !errors.As(err, &cfgErr) {
				t.Fatalf("expected ConfigError, got %T", err)
			}
			assert.Equal(t, tt.field, cfgErr.Field)
		})
	}
}

func TestServerConfig_TimeoutDefaults(t *testing.T) {
	sse := ServerConfig{Name: "a", Transport: TransportSSE, URL: "http://x"}
	assert.Equal(t, DefaultSSEConnectTimeout, sse.connectTimeout())
	assert.Equal(t, DefaultReadTimeout, sse.readTimeout())

	streamable := ServerConfig{Name: "b", Transport: TransportStreamableHTTP, URL: "http://x"}
	assert.Equal(t, DefaultStreamableConnectTimeout, streamable.connectTimeout())

	explicit := ServerConfig{Name: "c", Transport: TransportSSE, URL: "http://x", ConnectTimeout: time.Second, ReadTimeout: 10 * time.Second}
	assert.Equal(t, time.Second, explicit.connectTimeout())
	assert.Equal(t, 10*time.Second, explicit.readTimeout())
}

// -------------------- Add / AddAll --------------------

func TestRegistry_Add(t *testing.T) {
	sess := &fakeSession{}
	r := newTestRegistry(fakeDialer(sess, weatherTools(), 0))

	conn, err := r.Add(context.Background(), stdioConfig("weather"))
	assert.NoError(t, err)
	assert.Equal(t, "weather", conn.Name())
	assert.Equal(t, 1, conn.Attempts())
	assert.Len(t, conn.Tools(), 2)
	assert.Equal(t, []string{"weather"}, r.Servers())
	assert.Equal(t, 1, r.Len())
}

func TestRegistry_Add_Duplicate(t *testing.T) {
	r := newTestRegistry(fakeDialer(&fakeSession{}, nil, 0))

	_, err := r.Add(context.Background(), stdioConfig("weather"))
	assert.NoError(t, err)

	_, err = r.Add(context.Background(), stdioConfig("weather"))
	var dupErr *DuplicateError
	if !errors.As(err, &dupErr) {
		t.Fatalf("expected DuplicateError, got %v", err)
	}
	assert.Equal(t, "weather", dupErr.Server)
	assert.Equal(t, 1, r.Len())
}

func TestRegistry_Add_RetriesUntilSuccess(t *testing.T) {
	r := newTestRegistry(fakeDialer(&fakeSession{}, nil, 2))

	conn, err := r.Add(context.Background(), stdioConfig("flaky"), func(o *AddOptions) {
		o.RetryAttempts = 2
		o.RetryDelay = time.Millisecond
	})
	assert.NoError(t, err)
	assert.Equal(t, 3, conn.Attempts())
}

func TestRegistry_Add_ExhaustsRetries(t *testing.T) {
	r := newTestRegistry(fakeDialer(&fakeSession{}, nil, 10))

	_, err := r.Add(context.Background(), stdioConfig("down"), func(o *AddOptions) {
		o.RetryAttempts = 2
		o.RetryDelay = time.Millisecond
	})

	var connErr *ConnectError
	if !errors.As(err, &connErr) {
		t.Fatalf("expected ConnectError, got %v", err)
	}
	assert.Equal(t, 3, connErr.Attempts)
	assert.Contains(t, connErr.Error(), "after 3 attempts")
	assert.Equal(t, 0, r.Len())

	// The name is free again after the failure.
	r.dial = fakeDialer(&fakeSession{}, nil, 0)
	_, err = r.Add(context.Background(), stdioConfig("down"))
	assert.NoError(t, err)
}

func TestRegistry_Add_ConfigErrorNotRetried(t *testing.T) {
	dials := 0
	r := newTestRegistry(func(_ context.Context, _ ServerConfig) (*Connection, error) {
		dials++
		return nil, errors.New("should not be reached")
	})

	_, err := r.Add(context.Background(), ServerConfig{Name: "bad", Transport: TransportStdio}, func(o *AddOptions) {
		o.RetryAttempts = 5
	})

	var cfgErr *ConfigError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected ConfigError, got %v", err)
	}
	assert.Equal(t, 0, dials)
}

func TestRegistry_AddAll_BestEffort(t *testing.T) {
	r := newTestRegistry(func(_ context.Context, cfg ServerConfig) (*Connection, error) {
		if cfg.Name == "broken" {
			return nil, errors.New("connection refused")
		}
		return &Connection{name: cfg.Name, transport: cfg.Transport, sess: &fakeSession{}, connectedAt: time.Now(), attempts: 1}, nil
	})

	cfgs := []ServerConfig{stdioConfig("weather"), stdioConfig("broken"), stdioConfig("docs")}
	results := r.AddAll(context.Background(), cfgs, false)

	assert.Len(t, results, 3)
	assert.NoError(t, results["weather"].Err)
	assert.NoError(t, results["docs"].Err)
	assert.Error(t, results["broken"].Err)
	assert.Equal(t, []string{"docs", "weather"}, r.Servers())
}

func TestRegistry_AddAll_FailFast(t *testing.T) {
	r := newTestRegistry(func(_ context.Context, cfg ServerConfig) (*Connection, error) {
		if cfg.Name == "broken" {
			return nil, errors.New("connection refused")
		}
		return &Connection{name: cfg.Name, transport: cfg.Transport, sess: &fakeSession{}, connectedAt: time.Now(), attempts: 1}, nil
	})

	cfgs := []ServerConfig{stdioConfig("weather"), stdioConfig("broken"), stdioConfig("docs")}
	results := r.AddAll(context.Background(), cfgs, true)

	// The failure aborts the batch; docs is never attempted.
	assert.Len(t, results, 2)
	assert.NoError(t, results["weather"].Err)
	assert.Error(t, results["broken"].Err)
	_, attempted := results["docs"]
	assert.False(t, attempted)
	assert.Equal(t, []string{"weather"}, r.Servers())
}

// -------------------- Call --------------------

func TestRegistry_Call(t *testing.T) {
	sess := &fakeSession{
		result: &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{Text: "Sunny, 22C"}},
		},
	}
	r := newTestRegistry(fakeDialer(sess, weatherTools(), 0))

	_, err := r.Add(context.Background(), stdioConfig("weather"))
	assert.NoError(t, err)

	res, err := r.Call(context.Background(), "weather", "get_forecast", map[string]any{"city": "Berlin"}, 0)
	assert.NoError(t, err)
	assert.Len(t, res.Content, 1)

	assert.Len(t, sess.calls, 1)
	assert.Equal(t, "get_forecast", sess.calls[0].Name)
	args, ok := sess.calls[0].Arguments.(map[string]any)
	assert.True(t, ok)
	assert.Equal(t, "Berlin", args["city"])
}

func TestRegistry_Call_UnknownServer(t *testing.T) {
	r := newTestRegistry(fakeDialer(&fakeSession{}, weatherTools(), 0))

	_, err := r.Add(context.Background(), stdioConfig("weather"))
	assert.NoError(t, err)

	_, err = r.Call(context.Background(), "calendar", "get_forecast", nil, 0)

	var nfErr *NotFoundError
	if !errors.As(err, &nfErr) {
		t.Fatalf("expected NotFoundError, got %v", err)
	}
	assert.Equal(t, "server", nfErr.Kind)
	assert.Contains(t, err.Error(), `server "calendar" not found`)
	assert.Contains(t, err.Error(), "weather")
}

func TestRegistry_Call_UnknownTool(t *testing.T) {
	r := newTestRegistry(fakeDialer(&fakeSession{}, weatherTools(), 0))

	_, err := r.Add(context.Background(), stdioConfig("weather"))
	assert.NoError(t, err)

	_, err = r.Call(context.Background(), "weather", "get_tides", nil, 0)

	var nfErr *NotFoundError
	if !errors.As(err, &nfErr) {
		t.Fatalf("expected NotFoundError, got %v", err)
	}
	assert.Equal(t, "tool", nfErr.Kind)
	assert.Contains(t, err.Error(), `tool "get_tides" not found on server "weather"`)
	assert.Contains(t, err.Error(), "get_forecast")
	assert.Contains(t, err.Error(), "get_alerts")
}

func TestRegistry_Call_Timeout(t *testing.T) {
	sess := &fakeSession{block: true}
	r := newTestRegistry(fakeDialer(sess, weatherTools(), 0))

	_, err := r.Add(context.Background(), stdioConfig("weather"))
	assert.NoError(t, err)

	start := time.Now()
	_, err = r.Call(context.Background(), "weather", "get_forecast", nil, 20*time.Millisecond)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "timed out")
	assert.Less(t, time.Since(start), 5*time.Second)
}

// -------------------- Remove / Close --------------------

func TestRegistry_Remove_Idempotent(t *testing.T) {
	sess := &fakeSession{}
	r := newTestRegistry(fakeDialer(sess, nil, 0))

	_, err := r.Add(context.Background(), stdioConfig("weather"))
	assert.NoError(t, err)

	assert.NoError(t, r.Remove("weather"))
	assert.Equal(t, 1, sess.closeCount())
	assert.Equal(t, 0, r.Len())

	// Removing again is a no-op, not an error.
	assert.NoError(t, r.Remove("weather"))
	assert.Equal(t, 1, sess.closeCount())
}

func TestRegistry_Close_Permanent(t *testing.T) {
	sessA := &fakeSession{}
	sessB := &fakeSession{}
	r := newTestRegistry(func(_ context.Context, cfg ServerConfig) (*Connection, error) {
		sess := sessA
		if cfg.Name == "docs" {
			sess = sessB
		}
		return &Connection{name: cfg.Name, transport: cfg.Transport, sess: sess, connectedAt: time.Now(), attempts: 1}, nil
	})

	_, err := r.Add(context.Background(), stdioConfig("weather"))
	assert.NoError(t, err)
	_, err = r.Add(context.Background(), stdioConfig("docs"))
	assert.NoError(t, err)

	assert.NoError(t, r.Close())
	assert.Equal(t, 1, sessA.closeCount())
	assert.Equal(t, 1, sessB.closeCount())
	assert.Equal(t, 0, r.Len())

	// Closed for good: adds and calls are rejected from now on.
	var closedErr *ClosedError
	_, err = r.Add(context.Background(), stdioConfig("late"))
	if !errors.As(err, &closedErr) {
		t.Fatalf("expected ClosedError from Add, got %v", err)
	}

	_, err = r.Call(context.Background(), "weather", "get_forecast", nil, 0)
	if !errors.As(err, &closedErr) {
		t.Fatalf("expected ClosedError from Call, got %v", err)
	}

	assert.NoError(t, r.Close())
}

func TestConnection_CallAfterClose(t *testing.T) {
	sess := &fakeSession{}
	conn := &Connection{name: "weather", sess: sess, tools: weatherTools()}

	assert.NoError(t, conn.close())
	assert.True(t, conn.Closed())

	_, err := conn.CallTool(context.Background(), "get_forecast", nil, 0)

	var closedErr *ClosedError
	if !errors.As(err, &closedErr) {
		t.Fatalf("expected ClosedError, got %v", err)
	}
	assert.Equal(t, "weather", closedErr.Server)

	// close is safe to repeat and the session is only closed once.
	assert.NoError(t, conn.close())
	assert.Equal(t, 1, sess.closeCount())
}
