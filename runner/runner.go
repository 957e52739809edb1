package runner

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"
	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/agentrelay/core"
	"github.com/hupe1980/agentrelay/engine"
	"github.com/hupe1980/agentrelay/logging"
)

// Engine is the subset of *engine.Engine the runner drives.
type Engine interface {
	HandleMessage(ctx context.Context, turn core.Turn) (engine.Result, error)
	HandleEvent(ctx context.Context, ev core.Event, override string) (engine.Result, error)
}

// Options holds configuration overrides passed to New().
type Options struct {
	// EventWorkers bounds concurrently running event-seeded workflows.
	// Sources block while every worker is busy.
	EventWorkers int
	// EventOverride optionally forces the agent for an event. Empty means
	// the classification rules decide.
	EventOverride func(ev core.Event) string
	// EventReplyClients names the clients that receive event run replies.
	// Empty means event replies are only logged.
	EventReplyClients []string
	// DrainTimeout bounds the wait for in-flight event runs on shutdown.
	DrainTimeout time.Duration
	Logger       logging.Logger
}

// Runner connects Clients and EventSources to an Engine. Messages run on
// the client's goroutine and the reply goes back to the same client with
// the inbound session metadata. Events run on a bounded worker pool.
type Runner struct {
	engine Engine
	opts   Options

	mu      sync.RWMutex
	clients []core.Client
	sources []core.EventSource
	started bool
}

// New constructs a Runner with optional overrides.
func New(e Engine, optFns ...func(o *Options)) *Runner {
	opts := Options{
		EventWorkers: 4,
		DrainTimeout: 30 * time.Second,
		Logger:       logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}
	if opts.EventWorkers <= 0 {
		opts.EventWorkers = 1
	}
	return &Runner{engine: e, opts: opts}
}

// AddClient registers clients. It fails once the runner has started.
func (r *Runner) AddClient(clients ...core.Client) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		return core.ErrSealed
	}
	r.clients = append(r.clients, clients...)
	return nil
}

// AddSource registers event sources. It fails once the runner has started.
func (r *Runner) AddSource(sources ...core.EventSource) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		return core.ErrSealed
	}
	r.sources = append(r.sources, sources...)
	return nil
}

type eventTask struct {
	ctx    context.Context
	source string
	ev     core.Event
	wg     *sync.WaitGroup
}

// Start runs every client and source until ctx is done or a client stops.
// A client returning ends the whole runner; a failing source is logged and
// the rest keep running.
func (r *Runner) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.started {
		r.mu.Unlock()
		return errors.New("runner already started")
	}
	r.started = true
	clients := slices.Clone(r.clients)
	sources := slices.Clone(r.sources)
	r.mu.Unlock()

	if len(clients) == 0 && len(sources) == 0 {
		return errors.New("runner has no clients or event sources")
	}

	var inflight sync.WaitGroup
	pool, err := ants.NewPoolWithFunc(r.opts.EventWorkers, func(args any) {
		task, ok := args.(*eventTask)
		if !ok {
			panic("event pool args type error")
		}
		defer task.wg.Done()
		r.runEvent(task.ctx, task.source, task.ev, clients)
	})
	if err != nil {
		return fmt.Errorf("create event pool: %w", err)
	}
	defer pool.Release()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(runCtx)

	for _, c := range clients {
		c.OnMessage(r.messageHandler(c))
		g.Go(func() error {
			defer cancel()
			err := c.Start(gctx)
			if err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("client %s: %w", c.Name(), err)
			}
			r.opts.Logger.Info("client stopped", "client", c.Name())
			return nil
		})
	}

	for _, s := range sources {
		s.OnEvent(func(evCtx context.Context, ev core.Event) error {
			inflight.Add(1)
			task := &eventTask{ctx: evCtx, source: s.Name(), ev: ev, wg: &inflight}
			if err := pool.Invoke(task); err != nil {
				inflight.Done()
				return fmt.Errorf("dispatch event: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			err := s.Start(gctx)
			if err != nil && gctx.Err() == nil {
				r.opts.Logger.Error("event source stopped", "source", s.Name(), "error", err)
			}
			return nil
		})
	}

	r.opts.Logger.Info("runner started", "clients", len(clients), "sources", len(sources), "event_workers", r.opts.EventWorkers)
	err = g.Wait()

	drained := make(chan struct{})
	go func() {
		inflight.Wait()
		close(drained)
	}()
	select {
	case <-drained:
	case <-time.After(r.opts.DrainTimeout):
		r.opts.Logger.Warn("event runs still in flight after drain timeout", "timeout", r.opts.DrainTimeout)
	}
	return err
}

func (r *Runner) messageHandler(c core.Client) core.MessageHandler {
	return func(ctx context.Context, turn core.Turn) error {
		res, err := r.engine.HandleMessage(ctx, turn)
		if err != nil {
			return err
		}
		if res.Reply == nil {
			return nil
		}
		if err := c.SendMessage(ctx, *res.Reply); err != nil {
			return fmt.Errorf("failed to deliver reply to %s: %w", c.Name(), err)
		}
		return nil
	}
}

func (r *Runner) runEvent(ctx context.Context, source string, ev core.Event, clients []core.Client) {
	override := ""
	if r.opts.EventOverride != nil {
		override = r.opts.EventOverride(ev)
	}

	res, err := r.engine.HandleEvent(ctx, ev, override)
	if err != nil {
		r.opts.Logger.Error("event run failed", "source", source, "kind", string(ev.Kind()), "run_id", res.RunID, "error", err)
		return
	}
	if res.Reply == nil {
		return
	}
	r.opts.Logger.Info("event run finished", "source", source, "run_id", res.RunID, "reply", res.Reply.Text())

	for _, c := range clients {
		if !slices.Contains(r.opts.EventReplyClients, c.Name()) {
			continue
		}
		if err := c.SendMessage(ctx, *res.Reply); err != nil {
			r.opts.Logger.Warn("failed to deliver event reply", "client", c.Name(), "run_id", res.RunID, "error", err)
		}
	}
}
