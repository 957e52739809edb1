// Package logging provides a minimal logging interface and adapters for agentrelay.
//
// The Logger interface defines the structured logging methods (Debug, Info,
// Warn, Error) that the engine, agents and adapters use. This package includes:
//
//   - Logger interface for dependency injection
//   - SlogAdapter wrapping Go's log/slog
//   - RelayLogger with domain helpers for capability, model, routing and run logs
//   - NoOpLogger for silent operation (tests, minimal setups)
//
// Usage:
//
//	logger := logging.New(logging.LogLevelInfo, "json", os.Stderr)
//	eng := engine.New(router, summarizer, func(o *engine.Options) { o.Logger = logger })
package logging
