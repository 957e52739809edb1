package core

import (
	"context"

	"github.com/hupe1980/agentrelay/logging"
)

// CapabilityContext is the scoped surface handed to a capability during a
// single invocation. It exposes the invocation's context, the calling agent
// and the run identifiers, but no access to workflow state.
type CapabilityContext struct {
	ctx       context.Context
	agentName string
	callID    string
	run       RunInfo
	logger    logging.Logger
}

// NewCapabilityContext binds a capability invocation to ctx. Run identifiers
// are read from ctx when present.
func NewCapabilityContext(ctx context.Context, agentName, callID string, logger logging.Logger) *CapabilityContext {
	info, _ := RunInfoFromContext(ctx)
	return &CapabilityContext{
		ctx:       ctx,
		agentName: agentName,
		callID:    callID,
		run:       info,
		logger:    logging.With(logger, "agent", agentName, "call_id", callID, "run_id", info.RunID),
	}
}

// Context returns the context associated with the invocation.
func (cc *CapabilityContext) Context() context.Context { return cc.ctx }

// AgentName returns the name of the agent that owns the capability.
func (cc *CapabilityContext) AgentName() string { return cc.agentName }

// CallID returns the function call id the invocation answers.
func (cc *CapabilityContext) CallID() string { return cc.callID }

// RunID returns the workflow run id, if known.
func (cc *CapabilityContext) RunID() string { return cc.run.RunID }

// SessionID returns the out-of-band session id, if known.
func (cc *CapabilityContext) SessionID() string { return cc.run.SessionID }

// Metadata returns a run metadata value.
func (cc *CapabilityContext) Metadata(key string) (string, bool) {
	if cc.run.Metadata == nil {
		return "", false
	}
	v, ok := cc.run.Metadata[key]
	return v, ok
}

// Logger returns a logger scoped to the agent, call and run.
func (cc *CapabilityContext) Logger() logging.Logger { return cc.logger }
