// Package engine runs relay workflows.
//
// The Engine owns the agent registry and turns inbound traffic into
// workflow runs:
//
//   - HandleMessage seeds a run from a user turn
//   - HandleEvent renders an external event into the opening turn and
//     pre-selects an agent through the configured classification
//   - Run executes a caller-seeded workflow.State
//
// # Configuration phase
//
// Agents are registered with Register. The first run, or an explicit Seal,
// freezes the registry, seals every agent's capability registry and
// compiles the coordinator graph. Later registration fails with
// core.ErrSealed, so no capability can change under an in-flight run.
//
// # Run control
//
// Every run gets a fresh id, a context carrying core.RunInfo, and the
// Config.RunTimeout deadline. Config.MaxConcurrentRuns bounds parallel runs.
// Cancel aborts a run by id; Close cancels everything and releases agent
// resources.
//
// # Observability
//
// Each run is persisted to the configured core.RunStore whether it succeeds
// or fails. Lifecycle points are exposed as callbacks (CallbackManager),
// prometheus collectors (Metrics) and otel spans: one "agentrelay.run" span
// per run with an "agentrelay.node" child per workflow step, carrying route,
// loop and hop-cap events.
package engine
