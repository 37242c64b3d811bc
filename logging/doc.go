// Package logging provides a minimal logging interface and adapters for ThreadStream.
//
// The Logger interface defines the standard logging methods (Debug, Info,
// Warn, Error) that the session controller, corpus loader and stream decoder
// use for observability. This package includes:
//
//   - Logger interface for dependency injection
//   - SlogAdapter wrapping Go's structured logging
//   - NoOpLogger for silent operation (testing, minimal setups)
//   - ThreadStreamLogger with thread/session contextual helpers
//
// The design intentionally keeps the interface minimal to avoid vendor lock-in
// while supporting structured logging where available.
package logging
