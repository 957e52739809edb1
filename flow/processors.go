package flow

import (
	"context"

	"github.com/hupe1980/agentrelay/core"
	"github.com/hupe1980/agentrelay/model"
)

// PersonaProcessor prepends the agent persona as a system turn unless the
// transcript already starts with it.
type PersonaProcessor struct{}

// NewPersonaProcessor creates a new persona processor.
func NewPersonaProcessor() *PersonaProcessor { return &PersonaProcessor{} }

// Name returns the processor's identifier.
func (p *PersonaProcessor) Name() string { return "persona" }

// ProcessRequest prepends the persona once.
func (p *PersonaProcessor) ProcessRequest(_ context.Context, req *model.Request, agent FlowAgent) error {
	persona := agent.Persona()
	if persona == "" {
		return nil
	}
	if len(req.Turns) > 0 {
		first := req.Turns[0]
		if first.Role == core.RoleSystem && first.Text() == persona {
			return nil
		}
	}

	turns := make(core.Transcript, 0, len(req.Turns)+1)
	turns = append(turns, core.NewSystemTurn(agent.Name(), persona))
	req.Turns = append(turns, req.Turns...)
	return nil
}

// ToolsProcessor attaches the agent's bound capability descriptors.
type ToolsProcessor struct{}

// NewToolsProcessor creates a new tools processor.
func NewToolsProcessor() *ToolsProcessor { return &ToolsProcessor{} }

// Name returns the processor's identifier.
func (p *ToolsProcessor) Name() string { return "tools" }

// ProcessRequest sets req.Tools.
func (p *ToolsProcessor) ProcessRequest(_ context.Context, req *model.Request, agent FlowAgent) error {
	req.Tools = agent.ToolDefinitions()
	return nil
}
