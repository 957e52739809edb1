package testutil

import (
	"github.com/hupe1980/agentrelay/core"
)

// TurnBuilder provides a fluent helper for constructing turns in tests.
// Example:
//
//	turn := NewTurnBuilder().Author("degen").Text("sending").Call("transfer", `{"amount":5}`).Build()
type TurnBuilder struct {
	role     core.Role
	author   string
	id       string
	parts    []core.Part
	metadata map[string]string
}

// NewTurnBuilder creates a builder for an agent turn authored by "agent".
func NewTurnBuilder() *TurnBuilder {
	return &TurnBuilder{role: core.RoleAgent, author: "agent"}
}

// Role sets the role (chainable).
func (b *TurnBuilder) Role(r core.Role) *TurnBuilder { b.role = r; return b }

// Author sets the author (chainable).
func (b *TurnBuilder) Author(a string) *TurnBuilder { b.author = a; return b }

// ID overrides the generated id (chainable).
func (b *TurnBuilder) ID(id string) *TurnBuilder { b.id = id; return b }

// Text appends a text part (chainable).
func (b *TurnBuilder) Text(t string) *TurnBuilder {
	b.parts = append(b.parts, core.TextPart{Text: t})
	return b
}

// Call appends a function call part with a generated id (chainable).
func (b *TurnBuilder) Call(name, args string) *TurnBuilder {
	b.parts = append(b.parts, core.FunctionCallPart{FunctionCall: core.FunctionCall{
		ID:        core.NewID(),
		Name:      name,
		Arguments: args,
	}})
	return b
}

// Meta sets a metadata entry (chainable).
func (b *TurnBuilder) Meta(k, v string) *TurnBuilder {
	if b.metadata == nil {
		b.metadata = map[string]string{}
	}
	b.metadata[k] = v
	return b
}

// Build materializes the turn.
func (b *TurnBuilder) Build() core.Turn {
	t := core.NewTurn(b.role, b.author, b.parts...)
	if b.id != "" {
		t.ID = b.id
	}
	t.Metadata = b.metadata
	return t
}
