// Package agent contains the persona-bound agents that take part in a
// relay workflow. The package focuses on three concerns:
//
//  1. Capability-using agents (Agent) running a bounded tool-use loop
//  2. The Router, a THINK-only agent whose free-text output is canonicalized
//     into a closed routing vocabulary
//  3. The Summarizer, which filters routing chatter out of a multi-agent
//     transcript and condenses the rest into one reply
//
// Execution model:
//   - Agents are configured during setup and sealed before the first run
//   - Process receives the run transcript and returns exactly one turn
//   - Agents hold no per-run state, so one instance serves concurrent runs
//
// Workflow sequencing lives in package workflow; persistence and transport
// live in their own packages to avoid cyclic deps.
package agent
