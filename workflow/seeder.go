package workflow

import (
	"fmt"
	"strings"
	"text/template"

	"github.com/hupe1980/agentrelay/core"
	"github.com/hupe1980/agentrelay/internal/util"
)

// Default event prompt templates. They receive core.Event.Fields().
const (
	DefaultChainTemplate = `New on-chain event on {{.network}}.
Event type: {{.event_type}}
{{- if .contract_address}}
Contract: {{.contract_address}}
{{- end}}
{{- if .tx_hash}}
Transaction hash: {{.tx_hash}}
{{- end}}
{{- if .block_number}}
Block: {{.block_number}}
{{- end}}
{{- if .data}}
Data: {{.data}}
{{- end}}
Timestamp: {{.timestamp}}

Assess this event and take any action it requires.`

	DefaultWebTemplate = `New item from {{.source}}: {{.title}}
{{- if .url}}
URL: {{.url}}
{{- end}}
Published: {{.timestamp}}

{{truncate 4000 .content}}

Summarize what matters in this item and how it affects us.`
)

// Rule maps events to an agent. Empty fields match anything; all non-empty
// fields must equal the event's field of the same name.
type Rule struct {
	Kind      core.EventKind `yaml:"kind"`
	Network   string         `yaml:"network"`
	EventType string         `yaml:"event_type"`
	Source    string         `yaml:"source"`
	Agent     string         `yaml:"agent"`
}

// Matches reports whether ev satisfies the rule.
func (r Rule) Matches(ev core.Event) bool {
	if r.Kind != "" && r.Kind != ev.Kind() {
		return false
	}
	fields := ev.Fields()
	for key, want := range map[string]string{"network": r.Network, "event_type": r.EventType, "source": r.Source} {
		if want == "" {
			continue
		}
		got, _ := fields[key].(string)
		if !strings.EqualFold(got, want) {
			return false
		}
	}
	return true
}

// Classifier picks the initial agent of an event run: the first matching
// rule wins, then the per-kind default.
type Classifier struct {
	Rules    []Rule
	Defaults map[core.EventKind]string
}

// NewClassifier creates the static classification: chain events go to the
// transactional agent, web events to the knowledge agent.
func NewClassifier(transactional, knowledge string, rules ...Rule) *Classifier {
	return &Classifier{
		Rules: rules,
		Defaults: map[core.EventKind]string{
			core.EventKindChain: transactional,
			core.EventKindWeb:   knowledge,
		},
	}
}

// Classify returns the agent for ev, or "" when nothing applies.
func (c *Classifier) Classify(ev core.Event) string {
	for _, r := range c.Rules {
		if r.Matches(ev) {
			return r.Agent
		}
	}
	return c.Defaults[ev.Kind()]
}

// Seeder turns inbound messages and events into initial workflow states.
type Seeder struct {
	templates  map[core.EventKind]*template.Template
	classifier *Classifier
}

// NewSeeder creates a seeder with the default templates. Entries in
// templates override them per kind.
func NewSeeder(classifier *Classifier, templates map[core.EventKind]string) (*Seeder, error) {
	texts := map[core.EventKind]string{
		core.EventKindChain: DefaultChainTemplate,
		core.EventKindWeb:   DefaultWebTemplate,
	}
	for kind, text := range templates {
		if text != "" {
			texts[kind] = text
		}
	}

	s := &Seeder{templates: map[core.EventKind]*template.Template{}, classifier: classifier}
	for kind, text := range texts {
		tmpl, err := util.ParseTemplate(string(kind), text)
		if err != nil {
			return nil, err
		}
		s.templates[kind] = tmpl
	}
	return s, nil
}

// Classify exposes the configured classifier.
func (s *Seeder) Classify(ev core.Event) string {
	if s.classifier == nil {
		return ""
	}
	return s.classifier.Classify(ev)
}

// Render synthesizes the user turn for ev.
func (s *Seeder) Render(ev core.Event) (core.Turn, error) {
	tmpl, ok := s.templates[ev.Kind()]
	if !ok {
		return core.Turn{}, fmt.Errorf("%w: no template for kind %q", core.ErrInvalidEvent, ev.Kind())
	}
	text, err := util.Execute(tmpl, ev.Fields())
	if err != nil {
		return core.Turn{}, err
	}
	return core.NewTurn(core.RoleUser, "event:"+string(ev.Kind()), core.TextPart{Text: strings.TrimSpace(text)}), nil
}

// SeedEvent builds the initial state of an event run. A non-empty override
// replaces the classified agent.
func (s *Seeder) SeedEvent(ev core.Event, override string) (State, error) {
	turn, err := s.Render(ev)
	if err != nil {
		return State{}, err
	}

	selected := override
	if selected == "" {
		selected = s.Classify(ev)
	}
	return State{
		Transcript:    core.Transcript{turn},
		SelectedAgent: selected,
		EventContext:  ev,
		TriggerType:   core.TriggerEvent,
	}, nil
}

// SeedMessage builds the initial state of a message run.
func SeedMessage(turn core.Turn) State {
	return State{
		Transcript:  core.Transcript{turn},
		TriggerType: core.TriggerMessage,
	}
}
