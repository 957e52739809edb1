package workflow

import (
	"context"
	"errors"
	"fmt"
)

// End is the terminal pseudo-node.
const End = "__end__"

// NodeFunc executes one node against a read-only view of the state.
type NodeFunc func(ctx context.Context, s State) (Update, error)

// ConditionFunc selects the outgoing path key after a node ran.
type ConditionFunc func(ctx context.Context, s State) (string, error)

// Node is a named step of the graph.
type Node struct {
	Name        string
	Description string
	Func        NodeFunc
}

// ConditionalEdge routes from a node by the key its condition returns.
// A nil PathMap uses the key as the target node name.
type ConditionalEdge struct {
	From      string
	Condition ConditionFunc
	PathMap   map[string]string
}

// Target resolves key to a node name.
func (e *ConditionalEdge) Target(key string) (string, bool) {
	if e.PathMap == nil {
		return key, key != ""
	}
	to, ok := e.PathMap[key]
	return to, ok
}

// Graph is a compiled, immutable workflow.
type Graph struct {
	nodes       map[string]*Node
	order       []string
	edges       map[string]string
	conditional map[string]*ConditionalEdge
	entry       string
}

// Entry returns the entry node.
func (g *Graph) Entry() string { return g.entry }

// Nodes returns the node names in insertion order.
func (g *Graph) Nodes() []string {
	out := make([]string, len(g.order))
	copy(out, g.order)
	return out
}

// Node looks up a node by name.
func (g *Graph) Node(name string) (*Node, bool) {
	n, ok := g.nodes[name]
	return n, ok
}

// Builder assembles a Graph. Methods are chainable; problems are collected
// and reported by Compile.
//
//	g, err := NewBuilder().
//	  AddNode("router", routeFn).
//	  AddNode("oracle", oracleFn).
//	  AddConditionalEdges("router", byRoute, map[string]string{"oracle": "oracle", "done": End}).
//	  AddEdge("oracle", "router").
//	  SetEntryPoint("router").
//	  Compile()
type Builder struct {
	g    *Graph
	errs []error
}

// NewBuilder creates an empty builder.
func NewBuilder() *Builder {
	return &Builder{g: &Graph{
		nodes:       map[string]*Node{},
		edges:       map[string]string{},
		conditional: map[string]*ConditionalEdge{},
	}}
}

// AddNode registers a node.
func (b *Builder) AddNode(name string, fn NodeFunc, description ...string) *Builder {
	switch {
	case name == "" || name == End:
		b.errs = append(b.errs, fmt.Errorf("invalid node name %q", name))
		return b
	case fn == nil:
		b.errs = append(b.errs, fmt.Errorf("node %s has no function", name))
		return b
	}
	if _, exists := b.g.nodes[name]; exists {
		b.errs = append(b.errs, fmt.Errorf("duplicate node %s", name))
		return b
	}

	n := &Node{Name: name, Func: fn}
	if len(description) > 0 {
		n.Description = description[0]
	}
	b.g.nodes[name] = n
	b.g.order = append(b.g.order, name)
	return b
}

// AddEdge adds an unconditional edge.
func (b *Builder) AddEdge(from, to string) *Builder {
	if _, exists := b.g.edges[from]; exists {
		b.errs = append(b.errs, fmt.Errorf("node %s already has an edge", from))
		return b
	}
	b.g.edges[from] = to
	return b
}

// AddConditionalEdges routes from a node by condition.
func (b *Builder) AddConditionalEdges(from string, condition ConditionFunc, pathMap map[string]string) *Builder {
	if condition == nil {
		b.errs = append(b.errs, fmt.Errorf("conditional edge from %s has no condition", from))
		return b
	}
	if _, exists := b.g.conditional[from]; exists {
		b.errs = append(b.errs, fmt.Errorf("node %s already has conditional edges", from))
		return b
	}
	b.g.conditional[from] = &ConditionalEdge{From: from, Condition: condition, PathMap: pathMap}
	return b
}

// SetEntryPoint sets the first node.
func (b *Builder) SetEntryPoint(name string) *Builder {
	b.g.entry = name
	return b
}

// Compile validates the graph. Every problem is reported, joined, and
// wrapped in ErrInvalidGraph.
func (b *Builder) Compile() (*Graph, error) {
	errs := append([]error(nil), b.errs...)
	g := b.g

	if g.entry == "" {
		errs = append(errs, errors.New("entry point not set"))
	} else if _, ok := g.nodes[g.entry]; !ok {
		errs = append(errs, fmt.Errorf("entry point %s is not a node", g.entry))
	}

	for _, name := range g.order {
		_, static := g.edges[name]
		_, cond := g.conditional[name]
		switch {
		case static && cond:
			errs = append(errs, fmt.Errorf("node %s has both an edge and conditional edges", name))
		case !static && !cond:
			errs = append(errs, fmt.Errorf("node %s has no outgoing edge", name))
		}
	}

	for from, to := range g.edges {
		if _, ok := g.nodes[from]; !ok {
			errs = append(errs, fmt.Errorf("edge from unknown node %s", from))
		}
		if _, ok := g.nodes[to]; !ok && to != End {
			errs = append(errs, fmt.Errorf("edge from %s to unknown node %s", from, to))
		}
	}

	for from, ce := range g.conditional {
		if _, ok := g.nodes[from]; !ok {
			errs = append(errs, fmt.Errorf("conditional edge from unknown node %s", from))
		}
		for key, to := range ce.PathMap {
			if _, ok := g.nodes[to]; !ok && to != End {
				errs = append(errs, fmt.Errorf("path %s from %s targets unknown node %s", key, from, to))
			}
		}
	}

	if len(errs) > 0 {
		return nil, fmt.Errorf("%w: %w", ErrInvalidGraph, errors.Join(errs...))
	}
	return g, nil
}
