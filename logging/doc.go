// Package logging provides a minimal logging interface and adapters for Toolmesh.
//
// The Logger interface defines the standard logging methods (Debug, Info,
// Warn, Error) that the registry and the conversation engine use for
// observability. This package includes:
//
//   - Logger interface for dependency injection
//   - SlogAdapter wrapping Go's structured logging
//   - NoOpLogger for silent operation (testing, minimal setups)
//   - LogToolCall / LogModelCall helpers for uniform domain events
//
// Usage:
//
//	logger := logging.NewLogger(&logging.LoggerConfig{Level: logging.LogLevelInfo, Format: "text"})
//	reg := registry.New(func(o *registry.Options) {
//		o.Logger = logger
//	})
//
// The design intentionally keeps the interface minimal to avoid vendor lock-in
// while supporting structured logging where available.
package logging
