package workflow

import "github.com/hupe1980/agentrelay/core"

// State is threaded through every node invocation of one run. Nodes never
// mutate it directly; they return an Update that Apply merges in.
type State struct {
	// Transcript is append-only.
	Transcript core.Transcript
	// SelectedAgent is the agent the run currently favours. It starts as the
	// fallback agent (or the classified agent for event runs).
	SelectedAgent string
	// EventContext is the originating event of event-seeded runs.
	EventContext core.Event
	// TriggerType records how the run was seeded.
	TriggerType core.TriggerType
	// Route is the key the last router step selected.
	Route string
	// Hops counts agent node executions.
	Hops int
	// LoopDetected is set once the loop detector forced summarization.
	LoopDetected bool
	// Reply is the summarizer's output.
	Reply *core.Turn
}

// Update is a partial state change returned by a node.
type Update struct {
	// Append turns to the transcript.
	Append []core.Turn
	// SelectedAgent overwrites the selection when non-empty.
	SelectedAgent string
	// EventContext overwrites the event when non-nil.
	EventContext core.Event
	// Route overwrites the route key when non-empty.
	Route string
	// Hops is added to the hop counter.
	Hops int
	// LoopDetected is sticky once set.
	LoopDetected bool
	// Reply overwrites the reply when non-nil.
	Reply *core.Turn
}

// Apply merges u into s and returns the result. The transcript reducer is
// append-only; selection, event, route and reply reducers keep the latest
// non-empty value.
func (s State) Apply(u Update) State {
	if len(u.Append) > 0 {
		s.Transcript = s.Transcript.Append(u.Append...)
	}
	if u.SelectedAgent != "" {
		s.SelectedAgent = u.SelectedAgent
	}
	if u.EventContext != nil {
		s.EventContext = u.EventContext
	}
	if u.Route != "" {
		s.Route = u.Route
	}
	s.Hops += u.Hops
	s.LoopDetected = s.LoopDetected || u.LoopDetected
	if u.Reply != nil {
		s.Reply = u.Reply
	}
	return s
}
