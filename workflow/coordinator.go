package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/hupe1980/agentrelay/agent"
	"github.com/hupe1980/agentrelay/core"
	"github.com/hupe1980/agentrelay/logging"
)

// RouteSummarize is the route key that leads from the router to the
// summarizer.
const RouteSummarize = "__summarize__"

// Router is the routing agent a Coordinator drives.
type Router interface {
	Name() string
	UseVocabulary(v *agent.Vocabulary, agents []agent.AgentInfo) error
	Route(ctx context.Context, transcript core.Transcript) (agent.Decision, error)
	Seal()
}

// Observer receives coordination events. All fields are optional.
type Observer struct {
	OnRoute  func(ctx context.Context, s State, d agent.Decision)
	OnLoop   func(ctx context.Context, s State, reason LoopReason)
	OnHopCap func(ctx context.Context, s State)
}

// CoordinatorOptions configures a Coordinator.
//
// Fallback is the default agent; empty means the first agent. MaxHops caps
// agent node executions per run and zero disables it. PreselectEvents lets
// the first router step of an event run honor the classified agent without
// a model call.
type CoordinatorOptions struct {
	Fallback          string
	LoopDetector      LoopDetector
	CompletionMarkers []string
	MaxHops           int
	PreselectEvents   bool
	MaxSteps          int
	Hooks             Hooks
	Observer          Observer
	Logger            logging.Logger
}

// Coordinator is the relay workflow: router, specialist agents and
// summarizer compiled into a Graph.
//
//	router -> agent_i -> router -> ... -> summarizer -> End
type Coordinator struct {
	router     Router
	summarizer core.Agent
	agents     map[string]core.Agent
	vocab      *agent.Vocabulary
	graph      *Graph
	executor   *Executor
	opts       CoordinatorOptions
}

// NewCoordinator installs the routing vocabulary on router and compiles the
// workflow graph.
func NewCoordinator(router Router, summarizer core.Agent, agents []core.Agent, optFns ...func(o *CoordinatorOptions)) (*Coordinator, error) {
	opts := CoordinatorOptions{
		LoopDetector:      DefaultLoopDetector(),
		CompletionMarkers: DefaultCompletionMarkers(),
		MaxHops:           10,
		PreselectEvents:   true,
		MaxSteps:          100,
		Logger:            logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}
	if router == nil || summarizer == nil {
		return nil, errors.New("coordinator needs a router and a summarizer")
	}
	if len(agents) == 0 {
		return nil, errors.New("coordinator needs at least one agent")
	}

	c := &Coordinator{
		router:     router,
		summarizer: summarizer,
		agents:     make(map[string]core.Agent, len(agents)),
		opts:       opts,
	}

	names := make([]string, 0, len(agents))
	infos := make([]agent.AgentInfo, 0, len(agents))
	for _, a := range agents {
		name := strings.ToLower(a.Name())
		if name == router.Name() || name == summarizer.Name() {
			return nil, fmt.Errorf("agent name %q collides with router or summarizer", a.Name())
		}
		c.agents[name] = a
		names = append(names, name)
		infos = append(infos, agent.AgentInfo{Name: name, Description: a.Description()})
	}
	if c.opts.Fallback == "" {
		c.opts.Fallback = names[0]
	}

	vocab, err := agent.NewVocabulary(names, c.opts.Fallback)
	if err != nil {
		return nil, err
	}
	if err := router.UseVocabulary(vocab, infos); err != nil {
		return nil, err
	}
	c.vocab = vocab

	b := NewBuilder().
		AddNode(router.Name(), c.routeNode, "routing").
		AddNode(summarizer.Name(), c.summarizeNode, "summarization")

	paths := map[string]string{RouteSummarize: summarizer.Name()}
	for _, name := range names {
		b.AddNode(name, c.agentNode(c.agents[name]), c.agents[name].Description())
		b.AddEdge(name, router.Name())
		paths[name] = name
	}
	b.AddConditionalEdges(router.Name(), routeCondition, paths).
		AddEdge(summarizer.Name(), End).
		SetEntryPoint(router.Name())

	g, err := b.Compile()
	if err != nil {
		return nil, err
	}
	c.graph = g
	c.executor = NewExecutor(g, func(o *ExecutorOptions) {
		o.MaxSteps = opts.MaxSteps
		o.Hooks = opts.Hooks
		o.Logger = opts.Logger
	})
	return c, nil
}

// Graph returns the compiled graph.
func (c *Coordinator) Graph() *Graph { return c.graph }

// Vocabulary returns the routing vocabulary.
func (c *Coordinator) Vocabulary() *agent.Vocabulary { return c.vocab }

// Fallback returns the default agent.
func (c *Coordinator) Fallback() string { return c.vocab.Fallback() }

// HasAgent reports whether name is a routable agent.
func (c *Coordinator) HasAgent(name string) bool {
	_, ok := c.agents[strings.ToLower(name)]
	return ok
}

// Agents returns the routable agent names in vocabulary order.
func (c *Coordinator) Agents() []string { return c.vocab.Agents() }

// Run executes one workflow run from s. A state without a selected agent
// starts on the fallback.
func (c *Coordinator) Run(ctx context.Context, s State) (State, error) {
	if s.SelectedAgent == "" {
		s.SelectedAgent = c.vocab.Fallback()
	}
	s.SelectedAgent = strings.ToLower(s.SelectedAgent)
	if !c.HasAgent(s.SelectedAgent) {
		return s, fmt.Errorf("%w: %s: %w", ErrUnknownRoute, s.SelectedAgent, core.ErrAgentNotFound)
	}
	if s.TriggerType == "" {
		s.TriggerType = core.TriggerMessage
	}
	return c.executor.Run(ctx, s)
}

func routeCondition(_ context.Context, s State) (string, error) {
	return s.Route, nil
}

func (c *Coordinator) routeNode(ctx context.Context, s State) (Update, error) {
	if c.opts.MaxHops > 0 && s.Hops >= c.opts.MaxHops {
		c.opts.Logger.Warn("hop cap reached, summarizing", "hops", s.Hops)
		if c.opts.Observer.OnHopCap != nil {
			c.opts.Observer.OnHopCap(ctx, s)
		}
		return Update{Route: RouteSummarize}, nil
	}

	if reason := c.opts.LoopDetector.Detect(s.Transcript); reason != LoopNone {
		c.opts.Logger.Warn("loop detected, summarizing", "reason", string(reason), "hops", s.Hops)
		if c.opts.Observer.OnLoop != nil {
			c.opts.Observer.OnLoop(ctx, s, reason)
		}
		return Update{Route: RouteSummarize, LoopDetected: true}, nil
	}

	d, err := c.decide(ctx, s)
	if err != nil {
		return Update{}, err
	}
	if c.opts.Observer.OnRoute != nil {
		c.opts.Observer.OnRoute(ctx, s, d)
	}

	turn := d.Turn(c.router.Name())
	if d.Terminal {
		return Update{Append: []core.Turn{turn}, Route: RouteSummarize}, nil
	}
	return Update{Append: []core.Turn{turn}, SelectedAgent: d.Token, Route: d.Token}, nil
}

func (c *Coordinator) decide(ctx context.Context, s State) (agent.Decision, error) {
	if c.opts.PreselectEvents && s.TriggerType == core.TriggerEvent && s.Hops == 0 && s.Route == "" {
		return agent.Decision{Token: s.SelectedAgent, Raw: s.SelectedAgent, Method: agent.MethodPreselected}, nil
	}

	d, err := c.router.Route(ctx, s.Transcript)
	if err != nil {
		return agent.Decision{}, err
	}

	if !d.Terminal && IsComplete(d.Raw, c.opts.CompletionMarkers) {
		d.Terminal = true
	}
	return d, nil
}

func (c *Coordinator) agentNode(a core.Agent) NodeFunc {
	return func(ctx context.Context, s State) (Update, error) {
		turn, err := a.Process(ctx, s.Transcript)
		if err != nil {
			return Update{}, err
		}
		if turn.Author == "" {
			turn.Author = a.Name()
		}
		return Update{Append: []core.Turn{turn}, Hops: 1}, nil
	}
}

func (c *Coordinator) summarizeNode(ctx context.Context, s State) (Update, error) {
	reply, err := c.summarizer.Process(ctx, s.Transcript)
	if err != nil {
		return Update{}, err
	}
	if reply.Author == "" {
		reply.Author = c.summarizer.Name()
	}
	return Update{Append: []core.Turn{reply}, Reply: &reply}, nil
}
