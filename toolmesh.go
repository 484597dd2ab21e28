// Package toolmesh provides a high-level façade over the session registry,
// conversation engine, and persistence layer. Most applications interact
// with this package by:
//  1. Creating a Mesh via New() or NewFromConfig() (optionally overriding the store and logger)
//  2. Adding MCP tool servers (AddServer/AddServers, or RestoreServers on startup)
//  3. Sending user messages into persistent sessions (Send, SendStream)
//
// The façade keeps per-session state in the configured store: each send
// rebuilds the conversation engine from stored history and persists the
// turn's new messages afterwards, so sessions survive process restarts.
// All defaults are safe for local development; production deployments
// typically supply the SQLite store and a structured logger.
package toolmesh

import (
	"context"
	"errors"
	"fmt"
	"time"

	anthropicsdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/google/uuid"

	"github.com/hupe1980/toolmesh/chat"
	"github.com/hupe1980/toolmesh/config"
	"github.com/hupe1980/toolmesh/core"
	"github.com/hupe1980/toolmesh/logging"
	"github.com/hupe1980/toolmesh/model"
	modelanthropic "github.com/hupe1980/toolmesh/model/anthropic"
	modelopenai "github.com/hupe1980/toolmesh/model/openai"
	"github.com/hupe1980/toolmesh/registry"
	"github.com/hupe1980/toolmesh/store"
	"github.com/hupe1980/toolmesh/store/sqlite"
)

// Options configures the Mesh instance.
type Options struct {
	// Store persists sessions and server configs (defaults to in-memory).
	Store store.Store

	// Logger (defaults to NoOp logger if nil).
	Logger logging.Logger

	// SystemPrompt opens every fresh conversation.
	SystemPrompt string

	// MaxIterations caps model/tool cycles per send.
	MaxIterations int

	// MaxParallel bounds concurrent tool calls within one turn; zero means
	// unbounded.
	MaxParallel int

	// ToolTimeout bounds each tool invocation.
	ToolTimeout time.Duration

	// RetryAttempts is the number of extra connect attempts per server.
	RetryAttempts int

	// RetryDelay is the pause between connect attempts.
	RetryDelay time.Duration
}

// Mesh is the high-level façade aggregating the registry, the model, and the
// store.
type Mesh struct {
	opts     Options
	model    model.Model
	registry *registry.Registry
	store    store.Store
}

// New creates a new Mesh around the given model with optional overrides. Any
// unset service is initialized with an in-memory implementation.
func New(m model.Model, optFns ...func(o *Options)) *Mesh {
	opts := Options{
		Store:         store.NewMemoryStore(),
		Logger:        logging.NoOpLogger{},
		SystemPrompt:  chat.DefaultSystemPrompt,
		MaxIterations: chat.DefaultMaxIterations,
		ToolTimeout:   chat.DefaultToolTimeout,
		RetryAttempts: config.DefaultRetryAttempts,
		RetryDelay:    config.DefaultRetryDelay,
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.Store == nil {
		opts.Store = store.NewMemoryStore()
	}
	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}

	reg := registry.New(func(o *registry.Options) {
		o.RetryAttempts = opts.RetryAttempts
		o.RetryDelay = opts.RetryDelay
		o.Logger = opts.Logger
	})

	return &Mesh{opts: opts, model: m, registry: reg, store: opts.Store}
}

// NewFromConfig builds a fully wired Mesh from a loaded configuration:
// provider, store, logger, and engine settings. Configured servers are not
// connected here; pass cfg.RegistryServers() to AddServers, or call
// RestoreServers to reconnect previously saved ones.
func NewFromConfig(cfg *config.Config) (*Mesh, error) {
	if cfg == nil {
		cfg = config.Default()
	}

	m, err := buildModel(cfg.Model)
	if err != nil {
		return nil, err
	}

	var st store.Store = store.NewMemoryStore()
	if cfg.Database.Path != "" {
		st, err = sqlite.New(cfg.Database.Path)
		if err != nil {
			return nil, fmt.Errorf("open store: %w", err)
		}
	}

	logger := logging.NewLogger(&logging.LoggerConfig{
		Level:  logging.ParseLevel(cfg.LogLevel),
		Format: "text",
	})

	return New(m, func(o *Options) {
		o.Store = st
		o.Logger = logger
		o.SystemPrompt = cfg.Chat.SystemPrompt
		o.MaxIterations = cfg.Chat.MaxIterations
		o.MaxParallel = cfg.Chat.MaxParallel
		o.ToolTimeout = cfg.Chat.ToolTimeout()
		o.RetryAttempts = cfg.Registry.RetryAttempts
		o.RetryDelay = cfg.Registry.RetryDelay()
	}), nil
}

// buildModel selects and configures the provider adapter.
func buildModel(mc config.ModelConfig) (model.Model, error) {
	switch mc.Provider {
	case "anthropic":
		return modelanthropic.New(func(o *modelanthropic.Options) {
			if mc.Name != "" {
				o.Model = anthropicsdk.Model(mc.Name)
			}
			if mc.APIKey != "" {
				o.APIKey = mc.APIKey
			}
			if mc.Temperature > 0 {
				o.Temperature = mc.Temperature
			}
			if mc.MaxTokens > 0 {
				o.MaxTokens = int64(mc.MaxTokens)
			}
		}), nil
	case "openai", "openrouter", "":
		baseURL := mc.BaseURL
		if baseURL == "" && mc.Provider == "openrouter" {
			baseURL = config.OpenRouterBaseURL
		}
		return modelopenai.New(func(o *modelopenai.Options) {
			if mc.Name != "" {
				o.Model = mc.Name
			}
			if mc.APIKey != "" {
				o.APIKey = mc.APIKey
			}
			if baseURL != "" {
				o.BaseURL = baseURL
			}
			if mc.Temperature > 0 {
				o.Temperature = mc.Temperature
			}
			if mc.MaxTokens > 0 {
				o.MaxCompletionTokens = int64(mc.MaxTokens)
			}
		}), nil
	default:
		return nil, fmt.Errorf("unknown model provider %q", mc.Provider)
	}
}

// Registry exposes the underlying session registry for direct server and
// tool operations.
func (m *Mesh) Registry() *registry.Registry {
	return m.registry
}

// AddServer validates and persists a server configuration, then connects to
// it. The config is saved before connecting so a failed server is retried on
// the next RestoreServers.
func (m *Mesh) AddServer(ctx context.Context, cfg registry.ServerConfig) (*registry.Connection, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := m.store.SaveServer(cfg); err != nil {
		return nil, fmt.Errorf("save server config: %w", err)
	}
	return m.registry.Add(ctx, cfg)
}

// AddServers persists and connects a batch of servers. With failFast=false
// every config gets an outcome in the returned map; with failFast=true
// connection attempts stop at the first failure. Invalid configs are
// reported without being saved and do not stop the rest of the batch.
func (m *Mesh) AddServers(ctx context.Context, cfgs []registry.ServerConfig, failFast bool) map[string]registry.AddResult {
	results := make(map[string]registry.AddResult, len(cfgs))

	var connectable []registry.ServerConfig
	for _, cfg := range cfgs {
		if err := cfg.Validate(); err != nil {
			results[cfg.Name] = registry.AddResult{Err: err}
			continue
		}
		if err := m.store.SaveServer(cfg); err != nil {
			results[cfg.Name] = registry.AddResult{Err: fmt.Errorf("save server config: %w", err)}
			continue
		}
		connectable = append(connectable, cfg)
	}

	for name, res := range m.registry.AddAll(ctx, connectable, failFast) {
		results[name] = res
	}

	return results
}

// RestoreServers reconnects every server configuration saved in the store,
// best effort. Intended for process startup.
func (m *Mesh) RestoreServers(ctx context.Context) (map[string]registry.AddResult, error) {
	cfgs, err := m.store.Servers()
	if err != nil {
		return nil, fmt.Errorf("load server configs: %w", err)
	}
	if len(cfgs) == 0 {
		return nil, nil
	}

	m.opts.Logger.Info("Restoring saved servers", "count", len(cfgs))

	return m.registry.AddAll(ctx, cfgs, false), nil
}

// RemoveServer disconnects a server and deletes its saved configuration.
func (m *Mesh) RemoveServer(name string) error {
	return errors.Join(m.registry.Remove(name), m.store.DeleteServer(name))
}

// Servers returns the names of all connected servers, sorted.
func (m *Mesh) Servers() []string {
	return m.registry.Servers()
}

// Tools returns the tools of all connected servers, keyed by server name.
func (m *Mesh) Tools() map[string][]core.ToolDescriptor {
	return m.registry.Tools()
}

// NewSession creates a persisted session and returns its id.
func (m *Mesh) NewSession() (string, error) {
	sessionID := uuid.NewString()
	if err := m.store.EnsureSession(sessionID); err != nil {
		return "", fmt.Errorf("create session: %w", err)
	}
	return sessionID, nil
}

// Sessions lists stored sessions, most recently created first.
func (m *Mesh) Sessions() ([]store.SessionInfo, error) {
	return m.store.Sessions()
}

// History returns a session's stored message history.
func (m *Mesh) History(sessionID string) ([]core.Message, error) {
	return m.store.Messages(sessionID)
}

// DeleteSession removes a session and its history.
func (m *Mesh) DeleteSession(sessionID string) error {
	return m.store.DeleteSession(sessionID)
}

// Chat returns a conversation engine seeded from the session's stored
// history. Messages sent through the returned engine are NOT persisted; use
// Send or SendStream for the persistent flow.
func (m *Mesh) Chat(sessionID string) (*chat.Engine, error) {
	history, err := m.loadSession(sessionID)
	if err != nil {
		return nil, err
	}
	return m.newEngine(history), nil
}

// Send posts one user message into the session, runs the conversation loop
// to completion, persists the turn's new messages, and returns the final
// assistant reply. A failed turn persists nothing.
func (m *Mesh) Send(ctx context.Context, sessionID, text string) (string, error) {
	history, err := m.loadSession(sessionID)
	if err != nil {
		return "", err
	}

	engine := m.newEngine(history)

	reply, err := engine.Send(ctx, text)
	if err != nil {
		return "", err
	}

	if err := m.persistTurn(sessionID, engine, len(history)); err != nil {
		return reply, err
	}

	return reply, nil
}

// SendStream is the streaming variant of Send: it forwards the engine's
// events (tokens, tool calls, tool results, done) and persists the turn's
// new messages once the stream completes without error. The events channel
// closes when the turn is over; the error channel then reports at most one
// error.
func (m *Mesh) SendStream(ctx context.Context, sessionID, text string) (<-chan chat.StreamEvent, <-chan error) {
	events := make(chan chat.StreamEvent)
	errCh := make(chan error, 1)

	go func() {
		defer close(events)
		defer close(errCh)

		history, err := m.loadSession(sessionID)
		if err != nil {
			errCh <- err
			return
		}

		engine := m.newEngine(history)
		inner, innerErr := engine.SendStream(ctx, text)

	forward:
		for ev := range inner {
			select {
			case events <- ev:
			case <-ctx.Done():
				break forward
			}
		}
		for range inner {
			// drain so the engine goroutine can finish after cancellation
		}

		if err := <-innerErr; err != nil {
			errCh <- err
			return
		}

		if err := m.persistTurn(sessionID, engine, len(history)); err != nil {
			errCh <- err
		}
	}()

	return events, errCh
}

// SendStreamSync drains SendStream synchronously, forwarding text deltas to
// onToken (which may be nil) and returning the final reply once the turn
// completes.
func (m *Mesh) SendStreamSync(ctx context.Context, sessionID, text string, onToken func(token string)) (string, error) {
	events, errCh := m.SendStream(ctx, sessionID, text)

	var content string
	for {
		select {
		case <-ctx.Done():
			return "", ctx.Err()

		case ev, ok := <-events:
			if !ok {
				// Events channel closed; check for a terminal error.
				if err := <-errCh; err != nil {
					return "", err
				}
				return content, nil
			}

			switch ev.Kind {
			case chat.EventToken:
				if onToken != nil {
					onToken(ev.Token)
				}
			case chat.EventDone:
				content = ev.Content
			}
		}
	}
}

// Close tears down all server connections and then the store. The Mesh is
// unusable afterwards.
func (m *Mesh) Close() error {
	return errors.Join(m.registry.Close(), m.store.Close())
}

// loadSession ensures the session exists and returns its stored history.
func (m *Mesh) loadSession(sessionID string) ([]core.Message, error) {
	if err := m.store.EnsureSession(sessionID); err != nil {
		return nil, fmt.Errorf("ensure session: %w", err)
	}
	history, err := m.store.Messages(sessionID)
	if err != nil {
		return nil, fmt.Errorf("load session history: %w", err)
	}
	return history, nil
}

// persistTurn appends everything the engine added beyond the seeded history,
// including the system message a fresh conversation opens with.
func (m *Mesh) persistTurn(sessionID string, engine *chat.Engine, seeded int) error {
	full := engine.History()
	if len(full) <= seeded {
		return nil
	}
	if err := m.store.AppendMessages(sessionID, full[seeded:]); err != nil {
		return fmt.Errorf("persist session history: %w", err)
	}
	return nil
}

// newEngine builds a conversation engine over the registry with the mesh's
// settings.
func (m *Mesh) newEngine(history []core.Message) *chat.Engine {
	return chat.New(m.model, m.registry, func(o *chat.Options) {
		o.SystemPrompt = m.opts.SystemPrompt
		o.MaxIterations = m.opts.MaxIterations
		o.MaxParallel = m.opts.MaxParallel
		o.ToolTimeout = m.opts.ToolTimeout
		o.History = history
		o.Logger = m.opts.Logger
	})
}
