package registry

import (
	"fmt"
	"strings"
)

// ConfigError reports a malformed server configuration. It is surfaced before
// any resource is acquired and is never retried.
type ConfigError struct {
	Server string // Server name, when known
	Field  string // Offending field
	Reason string // Human description
}

func (e *ConfigError) Error() string {
	if e.Server != "" {
		return fmt.Sprintf("invalid config for server %q: %s", e.Server, e.Reason)
	}
	return fmt.Sprintf("invalid server config: %s", e.Reason)
}

// ConnectError reports a failed connection establishment after all retry
// attempts were spent. It wraps the last underlying cause.
type ConnectError struct {
	Server   string // Server name
	Attempts int    // Total attempts made
	Err      error  // Last cause
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("failed to connect to server %q after %d attempts: %v", e.Server, e.Attempts, e.Err)
}

// Unwrap exposes the last cause for errors.Is / errors.As chains.
func (e *ConnectError) Unwrap() error { return e.Err }

// DuplicateError reports an attempt to add a server under a name that is
// already registered.
type DuplicateError struct {
	Server string // Conflicting server name
}

func (e *DuplicateError) Error() string {
	return fmt.Sprintf("server %q already exists", e.Server)
}

// NotFoundError reports an unknown server or tool name at call time. It lists
// the known alternatives so callers (and the model reading a failure payload)
// can self-correct.
type NotFoundError struct {
	Kind      string   // "server" or "tool"
	Name      string   // The name that was not found
	Server    string   // Owning server, set when Kind is "tool"
	Available []string // Known alternatives at the time of the call
}

func (e *NotFoundError) Error() string {
	available := "none"
	if len(e.Available) > 0 {
		available = strings.Join(e.Available, ", ")
	}
	if e.Kind == "tool" {
		return fmt.Sprintf("tool %q not found on server %q. Available tools: %s", e.Name, e.Server, available)
	}
	return fmt.Sprintf("server %q not found. Available servers: %s", e.Name, available)
}

// ClosedError reports an operation against a closed connection or a closed
// registry. It is terminal: closed resources are never resurrected.
type ClosedError struct {
	Server string // Closed server name; empty means the registry itself
}

func (e *ClosedError) Error() string {
	if e.Server != "" {
		return fmt.Sprintf("connection to server %q is closed", e.Server)
	}
	return "registry is closed"
}
