// Package audit delivers session lifecycle events to a sink without blocking
// the engine.
//
// # Components
//
//   - [Sink] receives events (channel, JSON lines writer, no-op).
//   - [Dispatcher] is a buffered async relay that can drop when full.
//   - [Event] is one record: type, email, tenant, role, outcome, metadata.
//
// # Architecture boundaries
//
// This package owns buffering and delivery. The engine decides which events
// exist and when they are emitted.
//
// # What this package must NOT do
//
//   - Record passwords, one-time codes, or bearer tokens.
//   - Import sessionauth or any sibling internal package.
//   - Perform network I/O beyond what a caller-supplied Sink does.
package audit
