package core

import "errors"

var (
	// ErrAgentNotFound is returned when a workflow or caller references an
	// agent name that is not registered.
	ErrAgentNotFound = errors.New("agent not found")

	// ErrCapabilityNotFound is returned when a capability name is not present
	// in an agent's registry.
	ErrCapabilityNotFound = errors.New("capability not found")

	// ErrSealed is returned by mutating configuration calls after the first run.
	ErrSealed = errors.New("configuration sealed")

	// ErrIterationLimit signals that a tool-use loop exhausted its budget.
	ErrIterationLimit = errors.New("iteration limit reached")

	// ErrRunNotFound is returned by run stores and run control for unknown ids.
	ErrRunNotFound = errors.New("run not found")

	// ErrInvalidEvent is returned when an event payload cannot be decoded.
	ErrInvalidEvent = errors.New("invalid event")
)
