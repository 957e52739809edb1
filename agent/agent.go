package agent

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hupe1980/agentrelay/core"
	"github.com/hupe1980/agentrelay/flow"
	"github.com/hupe1980/agentrelay/logging"
	"github.com/hupe1980/agentrelay/model"
	"github.com/hupe1980/agentrelay/tool"
)

// Options configures an Agent.
//
// Use functional options with New to override defaults.
type Options struct {
	Description   string
	Persona       string
	MaxIterations int
	ToolTimeout   time.Duration
	Tools         []tool.Tool
	Logger        logging.Logger
	Stream        bool
}

// Agent is a persona bound to a model plus a capability registry. It runs a
// bounded THINK / ACT / DONE loop for every Process call.
//
// Capabilities may be added until Seal is called. Adding capabilities
// rebinds the model with the full descriptor set and waits for in-flight
// invocations on the previous binding to finish.
type Agent struct {
	name        string
	description string
	llm         model.Model
	registry    *tool.Registry
	maxIter     int
	toolTimeout time.Duration
	stream      bool
	logger      logging.Logger

	mu      sync.RWMutex
	persona string
	bound   *binding
	loop    *flow.ToolLoop
}

// New creates an agent bound to llm with sensible defaults:
//   - persona "You are <name>, a helpful assistant."
//   - at most 8 THINK steps per invocation
//   - 30 second timeout per capability call
func New(name string, llm model.Model, optFns ...func(o *Options)) *Agent {
	opts := Options{
		Description:   fmt.Sprintf("Agent %s", name),
		Persona:       fmt.Sprintf("You are %s, a helpful assistant.", name),
		MaxIterations: 8,
		ToolTimeout:   30 * time.Second,
		Logger:        logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}

	a := &Agent{
		name:        name,
		description: opts.Description,
		persona:     opts.Persona,
		llm:         llm,
		registry:    tool.NewRegistry(opts.Tools...),
		maxIter:     opts.MaxIterations,
		toolTimeout: opts.ToolTimeout,
		stream:      opts.Stream,
		logger:      opts.Logger,
	}
	a.rebind()
	return a
}

// NewFromBinding resolves b through r and creates the agent.
func NewFromBinding(name string, b model.Binding, r *model.Resolver, optFns ...func(o *Options)) (*Agent, error) {
	llm, err := r.Resolve(b)
	if err != nil {
		return nil, fmt.Errorf("agent %s: %w", name, err)
	}
	return New(name, llm, optFns...), nil
}

// binding is the immutable view a ToolLoop runs against. A new binding is
// installed every time the capability set or persona changes.
type binding struct {
	agent   *Agent
	persona string
	defs    []model.ToolDefinition
}

func (b *binding) Name() string                            { return b.agent.name }
func (b *binding) Model() model.Model                      { return b.agent.llm }
func (b *binding) Persona() string                         { return b.persona }
func (b *binding) Capabilities() *tool.Registry            { return b.agent.registry }
func (b *binding) ToolDefinitions() []model.ToolDefinition { return b.defs }
func (b *binding) MaxIterations() int                      { return b.agent.maxIter }
func (b *binding) ToolTimeout() time.Duration              { return b.agent.toolTimeout }

// rebind must be called with mu held for writing (or before publication).
func (a *Agent) rebind() {
	a.bound = &binding{agent: a, persona: a.persona, defs: a.registry.Definitions()}
	stream := a.stream
	logger := a.logger
	a.loop = flow.NewToolLoop(a.bound, func(o *flow.Options) {
		o.Logger = logger
		o.Stream = stream
	})
}

// Name returns the agent's name.
func (a *Agent) Name() string { return a.name }

// Description returns what the agent is for. The router reads it.
func (a *Agent) Description() string { return a.description }

// Model returns the bound model.
func (a *Agent) Model() model.Model { return a.llm }

// Persona returns the current persona.
func (a *Agent) Persona() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.persona
}

// SetPersona replaces the persona. It returns core.ErrSealed after Seal.
func (a *Agent) SetPersona(persona string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.registry.Sealed() {
		return core.ErrSealed
	}
	a.persona = persona
	a.rebind()
	return nil
}

// AddCapabilities registers tools and rebinds the model with the updated
// descriptor set. It returns core.ErrSealed after Seal.
func (a *Agent) AddCapabilities(tools ...tool.Tool) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.registry.Add(tools...); err != nil {
		return fmt.Errorf("agent %s: %w", a.name, err)
	}
	a.rebind()
	a.logger.Debug("capabilities bound", "agent", a.name, "count", a.registry.Len())
	return nil
}

// Capabilities returns the agent's registry.
func (a *Agent) Capabilities() *tool.Registry { return a.registry }

// ToolDefinitions returns the descriptors of the current binding.
func (a *Agent) ToolDefinitions() []model.ToolDefinition {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.bound.defs
}

// Seal freezes the persona and capability set.
func (a *Agent) Seal() { a.registry.Seal() }

// Sealed reports whether Seal was called.
func (a *Agent) Sealed() bool { return a.registry.Sealed() }

// Process runs the tool-use loop and returns the final turn.
func (a *Agent) Process(ctx context.Context, transcript core.Transcript) (core.Turn, error) {
	res, err := a.Run(ctx, transcript)
	if err != nil {
		return core.Turn{}, err
	}
	return res.Final, nil
}

// Run runs the tool-use loop and returns every intermediate step.
func (a *Agent) Run(ctx context.Context, transcript core.Transcript) (flow.Result, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	return a.loop.Run(ctx, transcript)
}

// Think performs a single model call without capability descriptors.
func (a *Agent) Think(ctx context.Context, transcript core.Transcript) (core.Turn, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	loop := flow.NewToolLoop(a.bound, func(o *flow.Options) {
		o.Logger = a.logger
		o.Processors = []flow.RequestProcessor{flow.NewPersonaProcessor()}
	})
	turn, _, err := loop.Think(ctx, transcript)
	return turn, err
}

// Close releases capability resources.
func (a *Agent) Close() error { return a.registry.Close() }
