// Package core provides the foundational domain types and contracts used by
// agentrelay. It defines:
//
//   - Turns and Transcripts (append-only conversation records)
//   - Parts (text, data, function call and function response segments)
//   - External Events (on-chain and web) that can seed a workflow run
//   - Agent, Client and EventSource contracts consumed by the engine and runner
//   - RunRecord and RunStore for persisted run history
//   - CapabilityContext, the scoped surface handed to capabilities
//
// Implementation concerns (model inference, capability transport, persistence
// backends, workflow orchestration) live in sibling packages and depend on the
// small interfaces declared here.
package core
