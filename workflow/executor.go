package workflow

import (
	"context"
	"fmt"
	"time"

	"github.com/hupe1980/agentrelay/logging"
)

// Hooks observe node execution. All fields are optional.
type Hooks struct {
	// BeforeNode runs before a node; the returned context is passed to the
	// node, so hooks can attach spans.
	BeforeNode func(ctx context.Context, node string, s State) context.Context
	// AfterNode runs after a node with the merged state.
	AfterNode func(ctx context.Context, node string, s State, dur time.Duration, err error)
}

// ExecutorOptions configures an Executor.
type ExecutorOptions struct {
	// MaxSteps caps node executions per run. Zero or less disables the cap.
	MaxSteps int
	Hooks    Hooks
	Logger   logging.Logger
}

// Executor runs a compiled graph. Nodes of one run execute strictly one
// after another; independent runs may share an Executor.
type Executor struct {
	graph *Graph
	opts  ExecutorOptions
}

// NewExecutor creates an executor with a default cap of 100 steps.
func NewExecutor(g *Graph, optFns ...func(o *ExecutorOptions)) *Executor {
	opts := ExecutorOptions{
		MaxSteps: 100,
		Logger:   logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}
	return &Executor{graph: g, opts: opts}
}

// Run drives s from the entry node until End. On error the state reached so
// far is returned alongside it.
func (e *Executor) Run(ctx context.Context, s State) (State, error) {
	current := e.graph.entry
	steps := 0

	for current != End {
		if err := ctx.Err(); err != nil {
			return s, err
		}
		steps++
		if e.opts.MaxSteps > 0 && steps > e.opts.MaxSteps {
			return s, fmt.Errorf("%w: %d", ErrStepLimit, e.opts.MaxSteps)
		}

		node, ok := e.graph.nodes[current]
		if !ok {
			return s, fmt.Errorf("%w: %s", ErrUnknownRoute, current)
		}

		next, err := e.step(ctx, node, s)
		if err != nil {
			return next, fmt.Errorf("node %s: %w", node.Name, err)
		}
		s = next

		current, err = e.next(ctx, node.Name, s)
		if err != nil {
			return s, err
		}
		e.opts.Logger.Debug("workflow transition", "from", node.Name, "to", current, "step", steps)
	}

	return s, nil
}

func (e *Executor) step(ctx context.Context, node *Node, s State) (State, error) {
	nodeCtx := ctx
	if e.opts.Hooks.BeforeNode != nil {
		nodeCtx = e.opts.Hooks.BeforeNode(ctx, node.Name, s)
	}

	start := time.Now()
	u, err := node.Func(nodeCtx, s)
	if err == nil {
		s = s.Apply(u)
	}

	if e.opts.Hooks.AfterNode != nil {
		e.opts.Hooks.AfterNode(nodeCtx, node.Name, s, time.Since(start), err)
	}
	return s, err
}

func (e *Executor) next(ctx context.Context, from string, s State) (string, error) {
	if to, ok := e.graph.edges[from]; ok {
		return to, nil
	}

	ce := e.graph.conditional[from]
	key, err := ce.Condition(ctx, s)
	if err != nil {
		return "", fmt.Errorf("condition after %s: %w", from, err)
	}
	to, ok := ce.Target(key)
	if !ok {
		return "", fmt.Errorf("%w: %q after %s", ErrUnknownRoute, key, from)
	}
	if _, exists := e.graph.nodes[to]; !exists && to != End {
		return "", fmt.Errorf("%w: %q after %s", ErrUnknownRoute, to, from)
	}
	return to, nil
}
