// Package agentrelay provides a high-level façade over the engine and the
// runner for routing conversations through a team of agents. Most
// applications interact with this package by:
//  1. Building a Router, a Summarizer and specialized agents (package agent)
//  2. Creating a Relay via New()
//  3. Asking questions (Ask), reporting events (Notify) or serving clients
//     and event sources (Serve)
//
// All defaults are safe for local development: runs are recorded in memory
// and logging is discarded. Production deployments supply a durable
// core.RunStore and a structured logger, or use cmd/agentrelayd.
package agentrelay

import (
	"context"
	"errors"

	"github.com/hupe1980/agentrelay/core"
	"github.com/hupe1980/agentrelay/engine"
	"github.com/hupe1980/agentrelay/logging"
	"github.com/hupe1980/agentrelay/runner"
	"github.com/hupe1980/agentrelay/workflow"
)

// ErrNoReply is returned when a run finished without a reply.
var ErrNoReply = errors.New("run produced no reply")

// Options configures the Relay instance.
type Options struct {
	// EngineConfig bounds concurrency and run duration.
	EngineConfig engine.Config

	// TransactionalAgent and KnowledgeAgent receive chain and web events by
	// default. Empty means the fallback agent.
	TransactionalAgent string
	KnowledgeAgent     string

	// MaxHops caps router decisions per run before the summarizer is forced.
	MaxHops int

	// Store records every run. Defaults to an in-memory store.
	Store core.RunStore

	// EventWorkers bounds concurrent event runs in Serve.
	EventWorkers int

	// Logger (defaults to NoOp logger if nil)
	Logger logging.Logger
}

// Relay is the high-level façade aggregating the engine and the runner.
type Relay struct {
	opts   Options
	engine *engine.Engine
}

// New creates a Relay and registers agents. The configuration is sealed on
// the first run.
func New(router workflow.Router, summarizer core.Agent, agents []core.Agent, optFns ...func(o *Options)) (*Relay, error) {
	opts := Options{
		EngineConfig: engine.DefaultConfig,
		MaxHops:      10,
		EventWorkers: 4,
		Logger:       logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	e := engine.New(router, summarizer, func(o *engine.Options) {
		o.Config = opts.EngineConfig
		o.TransactionalAgent = opts.TransactionalAgent
		o.KnowledgeAgent = opts.KnowledgeAgent
		o.MaxHops = opts.MaxHops
		o.Store = opts.Store
		o.Logger = opts.Logger
	})
	if err := e.Register(agents...); err != nil {
		return nil, err
	}
	return &Relay{opts: opts, engine: e}, nil
}

// Engine exposes the underlying engine for callbacks, metrics and run
// control.
func (r *Relay) Engine() *engine.Engine { return r.engine }

// Ask runs the workflow for a user message and returns the reply text.
func (r *Relay) Ask(ctx context.Context, sessionID, text string) (string, error) {
	turn := core.NewUserTurn(text)
	if sessionID != "" {
		turn = turn.WithMetadata(core.MetadataSessionID, sessionID)
	}
	res, err := r.engine.HandleMessage(ctx, turn)
	return replyText(res, err)
}

// Notify runs the workflow for an external event and returns the reply
// text. override forces the first agent; empty lets classification decide.
func (r *Relay) Notify(ctx context.Context, ev core.Event, override string) (string, error) {
	res, err := r.engine.HandleEvent(ctx, ev, override)
	return replyText(res, err)
}

// Serve connects clients and event sources to the relay and blocks until
// ctx is done or a client stops.
func (r *Relay) Serve(ctx context.Context, clients []core.Client, sources []core.EventSource) error {
	rn := runner.New(r.engine, func(o *runner.Options) {
		o.EventWorkers = r.opts.EventWorkers
		o.Logger = r.opts.Logger
	})
	if err := rn.AddClient(clients...); err != nil {
		return err
	}
	if err := rn.AddSource(sources...); err != nil {
		return err
	}
	return rn.Start(ctx)
}

// Close cancels active runs and releases agent resources.
func (r *Relay) Close() error { return r.engine.Close() }

func replyText(res engine.Result, err error) (string, error) {
	if err != nil {
		return "", err
	}
	if res.Reply == nil {
		return "", ErrNoReply
	}
	return res.Reply.Text(), nil
}
