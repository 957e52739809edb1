package eventsource

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/hupe1980/agentrelay/core"
	"github.com/hupe1980/agentrelay/logging"
)

// FetchFunc returns the events that appeared since the previous call.
type FetchFunc func(ctx context.Context) ([]core.Event, error)

// PollerOptions configures a Poller.
type PollerOptions struct {
	// Interval between successful polls.
	Interval time.Duration
	// InitialBackoff and MaxBackoff bound the exponential delay after
	// failed polls.
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Logger         logging.Logger
}

// Poller drives a FetchFunc on a timer. Cycles never overlap: the next one
// is scheduled only after the previous fetch and its handler calls return.
// Fetch failures back off exponentially and are retried; they never stop
// the poller.
type Poller struct {
	name  string
	fetch FetchFunc
	opts  PollerOptions

	mu      sync.RWMutex
	handler core.EventHandler
}

// NewPoller creates a poller named name. The default interval is one
// minute with backoff from one second up to five minutes.
func NewPoller(name string, fetch FetchFunc, optFns ...func(o *PollerOptions)) *Poller {
	opts := PollerOptions{
		Interval:       time.Minute,
		InitialBackoff: time.Second,
		MaxBackoff:     5 * time.Minute,
		Logger:         logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}
	return &Poller{name: name, fetch: fetch, opts: opts}
}

// Name implements core.EventSource.
func (p *Poller) Name() string { return p.name }

// OnEvent implements core.EventSource.
func (p *Poller) OnEvent(h core.EventHandler) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.handler = h
}

// PollOnce runs a single cycle and returns the number of events delivered.
// Handler errors are logged and do not fail the cycle.
func (p *Poller) PollOnce(ctx context.Context) (int, error) {
	events, err := p.fetch(ctx)
	if err != nil {
		return 0, err
	}

	p.mu.RLock()
	h := p.handler
	p.mu.RUnlock()
	if h == nil {
		return 0, nil
	}

	delivered := 0
	for _, ev := range events {
		if err := ctx.Err(); err != nil {
			return delivered, err
		}
		if err := h(ctx, ev); err != nil {
			p.opts.Logger.Warn("event handler failed", "source", p.name, "kind", string(ev.Kind()), "error", err)
			continue
		}
		delivered++
	}
	return delivered, nil
}

// Start implements core.EventSource. It polls immediately and then on the
// configured interval until ctx is done.
func (p *Poller) Start(ctx context.Context) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.opts.InitialBackoff
	b.MaxInterval = p.opts.MaxBackoff

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}

		n, err := p.PollOnce(ctx)
		wait := p.opts.Interval
		switch {
		case err != nil && errors.Is(err, ctx.Err()):
			return ctx.Err()
		case err != nil:
			wait = b.NextBackOff()
			p.opts.Logger.Warn("poll failed, backing off", "source", p.name, "retry_in", wait, "error", err)
		default:
			b.Reset()
			if n > 0 {
				p.opts.Logger.Debug("poll delivered events", "source", p.name, "count", n)
			}
		}
		timer.Reset(wait)
	}
}
