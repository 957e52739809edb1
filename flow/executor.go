package flow

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/hupe1980/agentrelay/core"
	"github.com/hupe1980/agentrelay/logging"
	"github.com/hupe1980/agentrelay/tool"
)

// Executor runs the capability requests of one ACT step.
//
// Implementations must:
//   - Return exactly one tool-result turn per call, in call order
//   - Never panic; failures become error text on the result turn
//   - Stop invoking further capabilities once ctx is cancelled
type Executor interface {
	Execute(ctx context.Context, agent FlowAgent, calls []core.FunctionCall) []core.Turn
}

// SequentialExecutor invokes capabilities one after another. Capability
// calls may have external side effects, so they are never retried and never
// run concurrently within one step.
type SequentialExecutor struct {
	logger logging.Logger
}

// NewSequentialExecutor creates an executor. A nil logger discards output.
func NewSequentialExecutor(logger logging.Logger) *SequentialExecutor {
	if logger == nil {
		logger = logging.NoOpLogger{}
	}
	return &SequentialExecutor{logger: logger}
}

// Execute implements Executor.
func (e *SequentialExecutor) Execute(ctx context.Context, agent FlowAgent, calls []core.FunctionCall) []core.Turn {
	results := make([]core.Turn, 0, len(calls))
	for _, fc := range calls {
		if err := ctx.Err(); err != nil {
			results = append(results, core.NewToolResultTurn(agent.Name(), fc.ID, fc.Name, "", err))
			continue
		}

		start := time.Now()
		out, err := e.invoke(ctx, agent, fc)
		logging.ToolCall(e.logger, agent.Name(), fc.Name, time.Since(start), err)

		results = append(results, core.NewToolResultTurn(agent.Name(), fc.ID, fc.Name, out, err))
	}
	return results
}

type callResult struct {
	out string
	err error
}

func (e *SequentialExecutor) invoke(ctx context.Context, agent FlowAgent, fc core.FunctionCall) (string, error) {
	if timeout := agent.ToolTimeout(); timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	cc := core.NewCapabilityContext(ctx, agent.Name(), fc.ID, e.logger)
	done := make(chan callResult, 1)

	go func() {
		var res callResult
		defer func() {
			if r := recover(); r != nil {
				e.logger.Error("capability panic", "agent", agent.Name(), "tool", fc.Name, "recover", r, "stack", string(debug.Stack()))
				res = callResult{err: &tool.ToolError{Tool: fc.Name, Message: fmt.Sprintf("panic: %v", r), Code: tool.CodePanic}}
			}
			done <- res
		}()
		res.out, res.err = agent.Capabilities().Invoke(cc, fc.Name, fc.Arguments)
	}()

	var res callResult
	select {
	case res = <-done:
	case <-ctx.Done():
		res.err = ctx.Err()
	}

	if res.err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return "", &tool.ToolError{Tool: fc.Name, Message: "capability timed out", Code: tool.CodeTimeout, Cause: ctx.Err()}
	}
	return res.out, res.err
}
