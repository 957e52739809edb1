package core

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Role identifies the speaker of a Turn.
type Role string

const (
	// RoleSystem carries persona instructions.
	RoleSystem Role = "system"
	// RoleUser carries inbound messages and synthesized event prompts.
	RoleUser Role = "user"
	// RoleAgent carries model output, including capability requests.
	RoleAgent Role = "agent"
	// RoleToolResult carries capability outcomes.
	RoleToolResult Role = "tool-result"
)

// Well-known metadata keys.
const (
	MetadataSessionID     = "session_id"
	MetadataCorrelationID = "correlation_id"
	MetadataRoute         = "route"
	MetadataRawRoute      = "raw_route"
	MetadataLimitReached  = "limit_reached"
)

// Turn is one atomic unit of conversation. A Turn is treated as immutable
// after construction; helpers that "modify" a Turn return a copy.
type Turn struct {
	ID        string            `json:"id"`
	Role      Role              `json:"role"`
	Author    string            `json:"author,omitempty"`
	Parts     []Part            `json:"parts"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}

// NewID generates a new unique identifier for turns, runs and calls.
func NewID() string { return uuid.NewString() }

// NewTurn creates a turn with a fresh id and UTC timestamp.
func NewTurn(role Role, author string, parts ...Part) Turn {
	return Turn{
		ID:        NewID(),
		Role:      role,
		Author:    author,
		Parts:     parts,
		Timestamp: time.Now().UTC(),
	}
}

// NewUserTurn creates a user-authored text turn.
func NewUserTurn(text string) Turn {
	return NewTurn(RoleUser, "user", TextPart{Text: text})
}

// NewSystemTurn creates a system instruction turn.
func NewSystemTurn(author, text string) Turn {
	return NewTurn(RoleSystem, author, TextPart{Text: text})
}

// NewAgentTurn creates an agent-authored text turn.
func NewAgentTurn(author, text string) Turn {
	return NewTurn(RoleAgent, author, TextPart{Text: text})
}

// NewToolResultTurn records the outcome of a capability invocation. If err is
// non-nil its message becomes the response error.
func NewToolResultTurn(author, callID, name, result string, err error) Turn {
	fr := FunctionResponse{ID: callID, Name: name, Response: result}
	if err != nil {
		fr.Error = err.Error()
		fr.Response = ""
	}
	return NewTurn(RoleToolResult, author, FunctionResponsePart{FunctionResponse: fr})
}

// Text concatenates the textual content of the turn. Function responses are
// rendered with FunctionResponse.Text; function calls are skipped.
func (t Turn) Text() string {
	var sb strings.Builder
	for _, p := range t.Parts {
		var s string
		switch v := p.(type) {
		case TextPart:
			s = v.Text
		case FunctionResponsePart:
			s = v.FunctionResponse.Text()
		default:
			continue
		}
		if s == "" {
			continue
		}
		if sb.Len() > 0 {
			sb.WriteString("\n")
		}
		sb.WriteString(s)
	}
	return sb.String()
}

// FunctionCalls returns the capability requests in the turn, in order.
func (t Turn) FunctionCalls() []FunctionCall {
	var calls []FunctionCall
	for _, p := range t.Parts {
		if fc, ok := p.(FunctionCallPart); ok {
			calls = append(calls, fc.FunctionCall)
		}
	}
	return calls
}

// FunctionResponses returns the capability outcomes in the turn, in order.
func (t Turn) FunctionResponses() []FunctionResponse {
	var responses []FunctionResponse
	for _, p := range t.Parts {
		if fr, ok := p.(FunctionResponsePart); ok {
			responses = append(responses, fr.FunctionResponse)
		}
	}
	return responses
}

// HasToolRequests reports whether the turn asks for capability invocations.
func (t Turn) HasToolRequests() bool { return len(t.FunctionCalls()) > 0 }

// Meta returns a metadata value.
func (t Turn) Meta(key string) string {
	if t.Metadata == nil {
		return ""
	}
	return t.Metadata[key]
}

// SessionID returns the out-of-band session identifier, if any.
func (t Turn) SessionID() string { return t.Meta(MetadataSessionID) }

// WithMetadata returns a copy of the turn with key set to value.
func (t Turn) WithMetadata(key, value string) Turn {
	md := make(map[string]string, len(t.Metadata)+1)
	for k, v := range t.Metadata {
		md[k] = v
	}
	md[key] = value
	t.Metadata = md
	return t
}

// Transcript is the ordered conversation record of a run. Append never
// mutates the receiver's backing array, so earlier snapshots stay valid.
type Transcript []Turn

// Append returns a new transcript with turns added at the end.
func (tr Transcript) Append(turns ...Turn) Transcript {
	out := make(Transcript, 0, len(tr)+len(turns))
	out = append(out, tr...)
	return append(out, turns...)
}

// Tail returns the last n turns (or all turns if fewer exist).
func (tr Transcript) Tail(n int) Transcript {
	if n >= len(tr) {
		return tr
	}
	if n <= 0 {
		return nil
	}
	return tr[len(tr)-n:]
}

// Last returns the final turn.
func (tr Transcript) Last() (Turn, bool) {
	if len(tr) == 0 {
		return Turn{}, false
	}
	return tr[len(tr)-1], true
}

// FirstUser returns the first user-role turn.
func (tr Transcript) FirstUser() (Turn, bool) {
	for _, t := range tr {
		if t.Role == RoleUser {
			return t, true
		}
	}
	return Turn{}, false
}
