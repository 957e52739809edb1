// Package tool implements the capability subsystem that lets agents invoke
// named functions (APIs, computations, side-effects) with schema validated
// arguments, consistent error handling and descriptors for model guidance.
package tool

import (
	"fmt"

	"github.com/hupe1980/agentrelay/core"
	"github.com/hupe1980/agentrelay/internal/util"
	"github.com/hupe1980/agentrelay/model"
)

// Tool is a named, invocable capability an agent may call mid-reasoning.
//
// Implementations should:
//   - Provide a stable snake_case name, unique per agent
//   - Describe when to use the capability; the model reads Description
//   - Return a JSON schema object from Parameters
//   - Be safe for concurrent use across independent runs
type Tool interface {
	Name() string
	Description() string
	Parameters() map[string]any
	Call(cc *core.CapabilityContext, args map[string]any) (any, error)
}

// Definition converts a tool into the descriptor sent to models.
func Definition(t Tool) model.ToolDefinition {
	params := t.Parameters()
	if params == nil {
		params = map[string]any{"type": "object", "properties": map[string]any{}}
	}
	return model.ToolDefinition{
		Type: "function",
		Function: model.FunctionDefinition{
			Name:        t.Name(),
			Description: t.Description(),
			Parameters:  params,
		},
	}
}

// ValidationError represents parameter validation errors with detailed information.
type ValidationError = util.ValidationError

// Error codes carried by ToolError.
const (
	CodeValidation = "VALIDATION_ERROR"
	CodeExecution  = "EXECUTION_ERROR"
	CodeNotFound   = "NOT_FOUND"
	CodeTimeout    = "TIMEOUT"
	CodePanic      = "PANIC"
)

// ToolError represents errors that occur during capability execution.
type ToolError struct {
	Tool    string `json:"tool"`
	Message string `json:"message"`
	Code    string `json:"code"`
	Cause   error  `json:"-"`
}

func (e *ToolError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("tool error [%s] in %s: %s", e.Code, e.Tool, e.Message)
	}
	return fmt.Sprintf("tool error in %s: %s", e.Tool, e.Message)
}

// Unwrap exposes the underlying cause.
func (e *ToolError) Unwrap() error { return e.Cause }

// NewToolError creates a new ToolError with the specified details.
func NewToolError(tool, message, code string) *ToolError {
	return &ToolError{Tool: tool, Message: message, Code: code}
}
