// Package chat implements the conversation loop that connects a language
// model to live tool servers.
//
// An Engine owns one append-only conversation history and drives the
// model/tool cycle: the model is called with the full history plus a fresh
// snapshot of every connected tool, requested tool calls are executed
// concurrently and folded back into history as tool messages, and the loop
// repeats until the model answers in plain text or the iteration cap is
// reached.
//
// The package provides:
//   - Engine: the per-conversation state machine behind Send and SendStream
//   - Executor: bounded parallel fan-out of tool calls with ordered fan-in
//   - StreamEvent: the incremental event feed for streaming consumers
//
// An Engine is a single-conversation object and is not safe for concurrent
// use; run one Send or SendStream at a time and consume a stream to the end
// before starting the next turn.
package chat
