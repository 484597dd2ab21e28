package registry

import (
	"fmt"
	"strings"
	"time"
)

// Transport identifies the wire mechanism used to reach a tool server.
type Transport string

// Supported transports.
const (
	TransportStdio          Transport = "stdio"
	TransportSSE            Transport = "sse"
	TransportStreamableHTTP Transport = "streamable-http"
)

// Default connect/read timeouts per transport. The connect timeout bounds the
// handshake; the read timeout is the default ceiling for one RPC on the
// established session.
const (
	DefaultSSEConnectTimeout        = 5 * time.Second
	DefaultStreamableConnectTimeout = 30 * time.Second
	DefaultReadTimeout              = 300 * time.Second
)

// ServerConfig describes one tool server and how to reach it. Exactly the
// fields matching the declared transport must be populated; Validate checks
// completeness before any connection attempt.
type ServerConfig struct {
	Name      string    `json:"name"`      // Unique server name, the registry key
	Transport Transport `json:"transport"` // Wire mechanism

	// Stdio transport parameters.
	Command    string            `json:"command,omitempty"`     // Executable to spawn
	Args       []string          `json:"args,omitempty"`        // Optional arguments to the executable
	Env        map[string]string `json:"env,omitempty"`         // Extra environment, merged over the parent's
	WorkingDir string            `json:"working_dir,omitempty"` // Child working directory

	// SSE / streamable HTTP transport parameters.
	URL            string            `json:"url,omitempty"`             // Endpoint URL
	Headers        map[string]string `json:"headers,omitempty"`         // Extra request headers
	ConnectTimeout time.Duration     `json:"connect_timeout,omitempty"` // Handshake bound; zero applies the transport default
	ReadTimeout    time.Duration     `json:"read_timeout,omitempty"`    // Per-RPC default bound; zero applies the transport default
}

// Validate checks the config for completeness against its declared transport:
// stdio needs a command (args stay optional, a bare binary is a valid launch),
// the HTTP transports need a URL. A failure here is a ConfigError: it happens
// before any resource is acquired and is never retried.
func (c ServerConfig) Validate() error {
	if strings.TrimSpace(c.Name) == "" {
		return &ConfigError{Field: "name", Reason: "server name is required"}
	}
	switch c.Transport {
	case TransportStdio:
		if strings.TrimSpace(c.Command) == "" {
			return &ConfigError{Server: c.Name, Field: "command", Reason: "command is required for stdio transport"}
		}
	case TransportSSE, TransportStreamableHTTP:
		if strings.TrimSpace(c.URL) == "" {
			return &ConfigError{Server: c.Name, Field: "url", Reason: fmt.Sprintf("url is required for %s transport", c.Transport)}
		}
	default:
		return &ConfigError{Server: c.Name, Field: "transport", Reason: fmt.Sprintf("unsupported transport %q", string(c.Transport))}
	}
	return nil
}

// connectTimeout returns the effective handshake bound for the config.
func (c ServerConfig) connectTimeout() time.Duration {
	if c.ConnectTimeout > 0 {
		return c.ConnectTimeout
	}
	switch c.Transport {
	case TransportSSE:
		return DefaultSSEConnectTimeout
	case TransportStreamableHTTP:
		return DefaultStreamableConnectTimeout
	default:
		return DefaultStreamableConnectTimeout
	}
}

// readTimeout returns the effective per-RPC default bound for the config.
func (c ServerConfig) readTimeout() time.Duration {
	if c.ReadTimeout > 0 {
		return c.ReadTimeout
	}
	return DefaultReadTimeout
}
