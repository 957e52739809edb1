package engine

import (
	"context"
	"sync"
	"time"

	"github.com/hupe1980/agentrelay/agent"
	"github.com/hupe1980/agentrelay/core"
	"github.com/hupe1980/agentrelay/logging"
	"github.com/hupe1980/agentrelay/workflow"
)

// CallbackType defines the lifecycle points where callbacks run.
//
// Callbacks hook into a run without modifying the workflow. Only
// CallbackBeforeRun can veto: an error returned there aborts the run before
// any model call. Errors from the other types are logged and ignored.
type CallbackType string

const (
	// CallbackBeforeRun is triggered after the initial state is seeded.
	CallbackBeforeRun CallbackType = "before_run"

	// CallbackAfterRun is triggered once the run has finished, successfully
	// or not, and its record has been persisted.
	CallbackAfterRun CallbackType = "after_run"

	// CallbackBeforeNode is triggered before a workflow node executes.
	CallbackBeforeNode CallbackType = "before_node"

	// CallbackAfterNode is triggered after a workflow node executes.
	CallbackAfterNode CallbackType = "after_node"

	// CallbackOnRoute is triggered for every routing decision.
	CallbackOnRoute CallbackType = "on_route"

	// CallbackOnLoop is triggered when loop detection forces the summarizer.
	CallbackOnLoop CallbackType = "on_loop"

	// CallbackOnError is triggered when a run fails.
	CallbackOnError CallbackType = "on_error"
)

// CallbackContext carries what a callback may inspect. Fields that do not
// apply to a callback type are left zero.
type CallbackContext struct {
	RunID     string
	SessionID string
	Trigger   core.TriggerType

	// Node is set for node callbacks.
	Node string

	// State is the workflow state at the callback point.
	State workflow.State

	// Decision is set for CallbackOnRoute.
	Decision *agent.Decision

	// LoopReason is set for CallbackOnLoop.
	LoopReason workflow.LoopReason

	// Duration of the node or run for after callbacks.
	Duration time.Duration

	// Err is the node or run error, if any.
	Err error

	CallbackType CallbackType
}

// Callback is a lifecycle hook.
//
// Implementations run synchronously on the run's goroutine and should be
// fast. Concurrent runs invoke callbacks concurrently.
type Callback interface {
	Type() CallbackType
	Execute(ctx context.Context, cc *CallbackContext) error
}

// FunctionCallback wraps a function as a Callback.
//
// Example:
//
//	cb := NewFunctionCallback(CallbackOnRoute, func(ctx context.Context, cc *CallbackContext) error {
//	    log.Printf("run %s -> %s", cc.RunID, cc.Decision.Token)
//	    return nil
//	})
type FunctionCallback struct {
	callbackType CallbackType
	fn           func(ctx context.Context, cc *CallbackContext) error
}

// NewFunctionCallback creates a function-based callback.
func NewFunctionCallback(
	callbackType CallbackType,
	fn func(ctx context.Context, cc *CallbackContext) error,
) *FunctionCallback {
	return &FunctionCallback{
		callbackType: callbackType,
		fn:           fn,
	}
}

// Type returns the callback type this function handles.
func (c *FunctionCallback) Type() CallbackType {
	return c.callbackType
}

// Execute calls the wrapped function.
func (c *FunctionCallback) Execute(ctx context.Context, cc *CallbackContext) error {
	return c.fn(ctx, cc)
}

// CallbackManager holds callbacks by type and runs them in registration
// order. The first error stops the remaining callbacks of that type.
type CallbackManager struct {
	mu        sync.RWMutex
	callbacks map[CallbackType][]Callback
}

// NewCallbackManager creates an empty manager.
func NewCallbackManager() *CallbackManager {
	return &CallbackManager{
		callbacks: make(map[CallbackType][]Callback),
	}
}

// RegisterCallback adds a callback.
func (cm *CallbackManager) RegisterCallback(callback Callback) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	t := callback.Type()
	cm.callbacks[t] = append(cm.callbacks[t], callback)
}

// ExecuteCallbacks runs all callbacks registered for callbackType.
func (cm *CallbackManager) ExecuteCallbacks(ctx context.Context, callbackType CallbackType, cc *CallbackContext) error {
	cm.mu.RLock()
	callbacks := cm.callbacks[callbackType]
	cm.mu.RUnlock()

	cc.CallbackType = callbackType
	for _, callback := range callbacks {
		if err := callback.Execute(ctx, cc); err != nil {
			return err
		}
	}
	return nil
}

// LoggingCallback writes lifecycle points to a Logger at debug level, and
// failures at warn.
type LoggingCallback struct {
	callbackType CallbackType
	logger       logging.Logger
}

// NewLoggingCallback creates a logging callback for callbackType.
func NewLoggingCallback(callbackType CallbackType, logger logging.Logger) *LoggingCallback {
	if logger == nil {
		logger = logging.NoOpLogger{}
	}
	return &LoggingCallback{callbackType: callbackType, logger: logger}
}

// Type returns the callback type this logger handles.
func (c *LoggingCallback) Type() CallbackType {
	return c.callbackType
}

// Execute logs the callback context.
func (c *LoggingCallback) Execute(_ context.Context, cc *CallbackContext) error {
	args := []any{"callback", string(cc.CallbackType), "run_id", cc.RunID, "hops", cc.State.Hops}
	if cc.Node != "" {
		args = append(args, "node", cc.Node)
	}
	if cc.Decision != nil {
		args = append(args, "route", cc.Decision.Token, "method", string(cc.Decision.Method))
	}
	if cc.LoopReason != workflow.LoopNone {
		args = append(args, "loop_reason", string(cc.LoopReason))
	}
	if cc.Err != nil {
		c.logger.Warn("run lifecycle", append(args, "error", cc.Err)...)
		return nil
	}
	c.logger.Debug("run lifecycle", args...)
	return nil
}
