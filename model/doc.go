// Package model defines the provider-agnostic abstractions for interacting
// with language models inside agentrelay.
//
// Core goals:
//   - Unify streaming and non-streaming generation behind a single interface
//   - Normalize capability descriptors (ToolDefinition) and call requests
//   - Resolve a persona's Binding (model name + temperature) to a provider
//   - Facilitate deterministic mocking for tests (MockModel)
//
// Providers (OpenAI, Anthropic) live in sub-packages so higher layers
// (flows, agents) stay decoupled from vendor SDKs.
package model
