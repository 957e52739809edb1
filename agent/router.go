package agent

import (
	"context"
	"errors"
	"fmt"
	"text/template"

	"github.com/hupe1980/agentrelay/core"
	"github.com/hupe1980/agentrelay/internal/util"
	"github.com/hupe1980/agentrelay/logging"
	"github.com/hupe1980/agentrelay/model"
)

// DefaultRouterPersona is the router instruction template. It receives
// Name, Agents ([]AgentInfo), Terminals and Fallback.
const DefaultRouterPersona = `You are {{.Name}}, the coordinator of a team of specialized agents.
Read the conversation and decide who should act next.

Agents:
{{range .Agents}}- {{.Name}}: {{.Description}}
{{end}}
Reply with exactly one word: the name of the next agent, or "{{index .Terminals 0}}" once the user's request has been fully answered.
If unsure, reply "{{.Fallback}}". Do not explain your choice.`

// ErrNoVocabulary is returned by Route before UseVocabulary was called.
var ErrNoVocabulary = errors.New("router has no vocabulary")

// AgentInfo describes a routable agent to the router model.
type AgentInfo struct {
	Name        string
	Description string
}

// Decision is a canonicalized routing outcome.
type Decision struct {
	Token    string
	Raw      string
	Method   Method
	Terminal bool
}

// Fallback reports whether the raw output could not be matched.
func (d Decision) Fallback() bool { return d.Method == MethodFallback }

// Text renders the decision as the router turn text.
func (d Decision) Text() string {
	switch {
	case d.Terminal:
		return "Workflow complete"
	case d.Fallback():
		return fmt.Sprintf("Routing to %s (fallback)", d.Token)
	default:
		return fmt.Sprintf("Routing to %s", d.Token)
	}
}

// Turn renders the decision as a transcript turn authored by author. The raw
// model output is kept in metadata.
func (d Decision) Turn(author string) core.Turn {
	return core.NewAgentTurn(author, d.Text()).
		WithMetadata(core.MetadataRoute, d.Token).
		WithMetadata(core.MetadataRawRoute, d.Raw)
}

// RouterOptions configures a Router.
type RouterOptions struct {
	Name        string
	Description string
	// Persona is a template; see DefaultRouterPersona.
	Persona string
	Logger  logging.Logger
}

// Router is a THINK-only agent whose output selects the next workflow node.
// Its output is untrusted free text and always passes through Vocabulary
// canonicalization.
type Router struct {
	agent  *Agent
	tmpl   *template.Template
	vocab  *Vocabulary
	logger logging.Logger
}

// NewRouter creates a router bound to llm.
func NewRouter(llm model.Model, optFns ...func(o *RouterOptions)) (*Router, error) {
	opts := RouterOptions{
		Name:        "coordinator",
		Description: "Selects the next agent",
		Persona:     DefaultRouterPersona,
		Logger:      logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}

	tmpl, err := util.ParseTemplate("router", opts.Persona)
	if err != nil {
		return nil, err
	}

	a := New(opts.Name, llm, func(o *Options) {
		o.Description = opts.Description
		o.Persona = ""
		o.MaxIterations = 1
		o.Logger = opts.Logger
	})
	return &Router{agent: a, tmpl: tmpl, logger: opts.Logger}, nil
}

// UseVocabulary installs the routing vocabulary and renders the persona
// listing agents. It returns core.ErrSealed after Seal.
func (r *Router) UseVocabulary(v *Vocabulary, agents []AgentInfo) error {
	if r.agent.Sealed() {
		return core.ErrSealed
	}

	persona, err := util.Execute(r.tmpl, map[string]any{
		"Name":      r.agent.Name(),
		"Agents":    agents,
		"Terminals": []string{TokenDone, TokenComplete},
		"Fallback":  v.Fallback(),
	})
	if err != nil {
		return err
	}
	if err := r.agent.SetPersona(persona); err != nil {
		return err
	}
	r.vocab = v
	return nil
}

// Vocabulary returns the installed vocabulary, or nil.
func (r *Router) Vocabulary() *Vocabulary { return r.vocab }

// Name returns the router's name.
func (r *Router) Name() string { return r.agent.Name() }

// Description returns the router's description.
func (r *Router) Description() string { return r.agent.Description() }

// Persona returns the rendered persona.
func (r *Router) Persona() string { return r.agent.Persona() }

// Seal freezes the router configuration.
func (r *Router) Seal() { r.agent.Seal() }

// Close releases the router's capability resources.
func (r *Router) Close() error { return r.agent.Close() }

// Route asks the model for the next token and canonicalizes the answer.
// Unparseable output is never an error; it yields the fallback agent.
func (r *Router) Route(ctx context.Context, transcript core.Transcript) (Decision, error) {
	if r.vocab == nil {
		return Decision{}, ErrNoVocabulary
	}

	turn, err := r.agent.Think(ctx, transcript)
	if err != nil {
		return Decision{}, fmt.Errorf("route: %w", err)
	}

	raw := turn.Text()
	tok, method := r.vocab.Canonicalize(raw)
	logging.Route(r.logger, tok, string(method), raw)

	return Decision{Token: tok, Raw: raw, Method: method, Terminal: r.vocab.IsTerminal(tok)}, nil
}

// Process implements core.Agent: it returns the decision as a turn.
func (r *Router) Process(ctx context.Context, transcript core.Transcript) (core.Turn, error) {
	d, err := r.Route(ctx, transcript)
	if err != nil {
		return core.Turn{}, err
	}
	return d.Turn(r.Name()), nil
}
