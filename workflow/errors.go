package workflow

import "errors"

var (
	// ErrInvalidGraph wraps compile-time validation failures.
	ErrInvalidGraph = errors.New("invalid workflow graph")

	// ErrUnknownRoute is returned when a conditional edge resolves to a key
	// with no registered node. It indicates a configuration bug and fails the
	// run.
	ErrUnknownRoute = errors.New("unknown route")

	// ErrStepLimit is returned when a run exceeds the executor's step cap.
	ErrStepLimit = errors.New("workflow step limit exceeded")
)
