// Package core provides the foundational domain types shared across Toolmesh.
// It defines:
//
//   - Messages (ordered conversation history with system/user/assistant/tool roles)
//   - ToolCalls and ToolResults (correlated request/outcome pairs for remote tools)
//   - ToolDescriptors (schema snapshots of tools advertised by connected servers)
//   - Payloads (the closed tagged union every raw tool result is normalized into)
//
// The package intentionally keeps implementation concerns (transports, model
// providers, persistence) out of scope so that every other package can depend
// on it without cycles. All exported identifiers include concise documentation
// to aid discoverability and external consumption.
package core
