package agent

import (
	"context"
	"errors"
	"strings"

	"github.com/hupe1980/agentrelay/core"
	"github.com/hupe1980/agentrelay/logging"
	"github.com/hupe1980/agentrelay/model"
)

// DefaultSummarizerPersona instructs the summarizer to answer, not narrate.
const DefaultSummarizerPersona = `You write the final reply to the user on behalf of a team of agents.
Combine the agents' findings into one direct answer to the user's request.
Keep every concrete detail exactly as given: numbers, names, addresses, transaction hashes and links.
Do not describe which agents were involved or how the answer was produced, and do not re-explain anything the agents did not explain.`

// ErrNothingToSummarize is returned when a transcript has neither
// substantive turns nor a user turn.
var ErrNothingToSummarize = errors.New("nothing to summarize")

// MetaFilter decides which transcript turns reach the summarizer.
type MetaFilter struct {
	// Markers exclude turns whose text contains any of them, case-insensitively.
	Markers []string
	// MinLength excludes turns whose trimmed text has at most this many
	// characters.
	MinLength int
}

// DefaultMetaFilter drops routing chatter and short acknowledgements.
func DefaultMetaFilter() MetaFilter {
	return MetaFilter{
		Markers:   []string{"routing to", "workflow complete", "fallback"},
		MinLength: 10,
	}
}

// Keep reports whether t is substantive.
func (f MetaFilter) Keep(t core.Turn) bool {
	if t.Role == core.RoleSystem || t.Role == core.RoleToolResult {
		return false
	}
	text := strings.TrimSpace(t.Text())
	if len([]rune(text)) <= f.MinLength {
		return false
	}
	lower := strings.ToLower(text)
	for _, m := range f.Markers {
		if strings.Contains(lower, strings.ToLower(m)) {
			return false
		}
	}
	return true
}

// Apply returns the substantive turns of tr in order.
func (f MetaFilter) Apply(tr core.Transcript) core.Transcript {
	var out core.Transcript
	for _, t := range tr {
		if f.Keep(t) {
			out = out.Append(t)
		}
	}
	return out
}

// SummarizerOptions configures a Summarizer.
type SummarizerOptions struct {
	Name    string
	Persona string
	Filter  MetaFilter
	Logger  logging.Logger
}

// Summarizer condenses a multi-agent transcript into one reply.
type Summarizer struct {
	agent  *Agent
	filter MetaFilter
	logger logging.Logger
}

// NewSummarizer creates a summarizer bound to llm.
func NewSummarizer(llm model.Model, optFns ...func(o *SummarizerOptions)) *Summarizer {
	opts := SummarizerOptions{
		Name:    "summarizer",
		Persona: DefaultSummarizerPersona,
		Filter:  DefaultMetaFilter(),
		Logger:  logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}

	a := New(opts.Name, llm, func(o *Options) {
		o.Description = "Condenses the conversation into the final reply"
		o.Persona = opts.Persona
		o.MaxIterations = 1
		o.Logger = opts.Logger
	})
	return &Summarizer{agent: a, filter: opts.Filter, logger: opts.Logger}
}

// Name returns the summarizer's name.
func (s *Summarizer) Name() string { return s.agent.Name() }

// Description returns the summarizer's description.
func (s *Summarizer) Description() string { return s.agent.Description() }

// Filter returns the active filter.
func (s *Summarizer) Filter() MetaFilter { return s.filter }

// Seal freezes the summarizer configuration.
func (s *Summarizer) Seal() { s.agent.Seal() }

// Close releases the summarizer's capability resources.
func (s *Summarizer) Close() error { return s.agent.Close() }

// Input returns the turns that Process hands to the model. When filtering
// leaves nothing, the originating user turn is used instead.
func (s *Summarizer) Input(tr core.Transcript) (core.Transcript, error) {
	kept := s.filter.Apply(tr)
	if len(kept) > 0 {
		return kept, nil
	}
	if first, ok := tr.FirstUser(); ok {
		return core.Transcript{first}, nil
	}
	return nil, ErrNothingToSummarize
}

// Process implements core.Agent.
func (s *Summarizer) Process(ctx context.Context, transcript core.Transcript) (core.Turn, error) {
	input, err := s.Input(transcript)
	if err != nil {
		return core.Turn{}, err
	}
	s.logger.Debug("summarizing", "turns", len(transcript), "kept", len(input))

	return s.agent.Think(ctx, input)
}
