// Package flow provides the execution pipeline behind a single agent turn.
//
// A ToolLoop drives the bounded THINK / ACT / DONE state machine: request
// processors shape the model input, the model either answers or asks for
// capability invocations, and an Executor runs those invocations and feeds
// their outcomes back for the next THINK step.
package flow

import (
	"context"
	"time"

	"github.com/hupe1980/agentrelay/model"
	"github.com/hupe1980/agentrelay/tool"
)

// FlowAgent is the view of an agent a ToolLoop needs.
type FlowAgent interface {
	// Name returns the agent's name; it is recorded as the author of
	// generated turns.
	Name() string

	// Model returns the bound model.
	Model() model.Model

	// Persona returns the system instruction prepended to every request.
	Persona() string

	// Capabilities returns the agent's capability registry.
	Capabilities() *tool.Registry

	// ToolDefinitions returns the descriptors the model was last bound with.
	ToolDefinitions() []model.ToolDefinition

	// MaxIterations bounds the THINK steps per invocation. Zero or less
	// means unbounded.
	MaxIterations() int

	// ToolTimeout bounds a single capability invocation. Zero disables the
	// per-call deadline.
	ToolTimeout() time.Duration
}

// RequestProcessor mutates a model request before it is sent.
type RequestProcessor interface {
	// Name returns the processor's identifier.
	Name() string

	// ProcessRequest adjusts req for agent.
	ProcessRequest(ctx context.Context, req *model.Request, agent FlowAgent) error
}

// DefaultProcessors returns the processors every agent loop runs: persona
// first, then capability descriptors.
func DefaultProcessors() []RequestProcessor {
	return []RequestProcessor{NewPersonaProcessor(), NewToolsProcessor()}
}
