// Package runner connects transports to the engine.
//
// Clients deliver user turns; each turn runs on the client's own goroutine
// and the reply is sent back through the same client, carrying the inbound
// session metadata. Event sources deliver external events; those runs are
// dispatched to a bounded ants worker pool so a burst of events cannot
// exhaust the engine's concurrency budget, and a full pool pushes back on
// the source.
package runner
