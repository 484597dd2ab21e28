// Package registry manages the concurrent lifecycles of named MCP tool
// servers reachable over three transports: stdio subprocess pipes,
// Server-Sent-Events streams, and bidirectional streamable HTTP.
//
// The Registry owns every Connection it creates. Connections hold the live
// protocol session, an immutable snapshot of the server's advertised tools
// taken at connect time, and the transport resources (child process, open
// sockets) that must be released exactly once. All mutation of the
// name-to-connection mapping is serialized through a single mutex so two
// concurrent adds can never race on the same name or observe a half-updated
// map. Teardown happens sequentially in the caller's goroutine because stdio
// transports need their original execution context for clean subprocess
// reaping.
//
// Connection establishment, retry policy, duplicate rejection, bulk add with
// fail-fast or best-effort semantics, and the typed error taxonomy
// (ConfigError, ConnectError, DuplicateError, NotFoundError, ClosedError)
// all live here.
package registry
