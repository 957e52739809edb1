package engine

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/hupe1980/agentrelay/agent"
	"github.com/hupe1980/agentrelay/core"
	"github.com/hupe1980/agentrelay/logging"
	"github.com/hupe1980/agentrelay/runstore"
	"github.com/hupe1980/agentrelay/workflow"
)

// ErrClosed is returned by run entry points after Close.
var ErrClosed = errors.New("engine closed")

// TracerName is the instrumentation scope of engine spans.
const TracerName = "github.com/hupe1980/agentrelay/engine"

// Config defines operational limits.
type Config struct {
	// MaxConcurrentRuns bounds runs executing at once; further runs wait
	// for a slot or their context. Zero means unlimited.
	MaxConcurrentRuns int

	// RunTimeout is the deadline attached to every run. Zero disables it.
	RunTimeout time.Duration
}

// DefaultConfig provides conservative limits.
var DefaultConfig = Config{
	MaxConcurrentRuns: 10,
	RunTimeout:        5 * time.Minute,
}

// Options configures an Engine.
type Options struct {
	Config Config

	// Fallback is the agent used when routing fails; empty means the first
	// registered agent.
	Fallback string

	// TransactionalAgent and KnowledgeAgent are the default targets of
	// chain and web events. Rules are checked first.
	TransactionalAgent string
	KnowledgeAgent     string
	Rules              []workflow.Rule

	// Templates overrides the event prompt template per event kind.
	Templates map[core.EventKind]string

	LoopDetector      workflow.LoopDetector
	CompletionMarkers []string
	MaxHops           int
	PreselectEvents   bool

	// Store persists a record of every run. Defaults to an in-memory store.
	Store core.RunStore

	// Callbacks receives lifecycle callbacks. Defaults to an empty manager.
	Callbacks *CallbackManager

	// Metrics is optional.
	Metrics *Metrics

	// Tracer defaults to the global otel tracer provider.
	Tracer trace.Tracer

	Logger logging.Logger
}

// Result is the outcome of one run.
type Result struct {
	RunID    string
	Reply    *core.Turn
	State    workflow.State
	Duration time.Duration
}

// Engine owns the agent registry and executes workflow runs.
//
// Agents are registered during setup. The first run (or an explicit Seal)
// freezes the registry, seals every agent's capabilities and compiles the
// coordinator graph; afterwards registration fails with core.ErrSealed.
// Runs are isolated from each other: each one threads its own
// workflow.State, so any number may execute concurrently up to
// Config.MaxConcurrentRuns.
type Engine struct {
	router     workflow.Router
	summarizer core.Agent

	mu          sync.RWMutex
	agents      []core.Agent
	index       map[string]core.Agent
	coordinator *workflow.Coordinator
	seeder      *workflow.Seeder
	closed      bool

	activeMu sync.Mutex
	active   map[string]context.CancelFunc

	sem       chan struct{}
	opts      Options
	store     core.RunStore
	callbacks *CallbackManager
	tracer    trace.Tracer
	logger    logging.Logger
}

// New creates an engine around a router and a summarizer. Agents are added
// with Register.
//
// Example:
//
//	eng := engine.New(router, summarizer, func(o *engine.Options) {
//	    o.TransactionalAgent = "degen"
//	    o.KnowledgeAgent = "oracle"
//	})
//	_ = eng.Register(oracle, degen)
//	res, err := eng.HandleMessage(ctx, core.NewUserTurn("What's the weather in Berlin?"))
func New(router workflow.Router, summarizer core.Agent, optFns ...func(o *Options)) *Engine {
	opts := Options{
		Config:            DefaultConfig,
		LoopDetector:      workflow.DefaultLoopDetector(),
		CompletionMarkers: workflow.DefaultCompletionMarkers(),
		MaxHops:           10,
		PreselectEvents:   true,
		Logger:            logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Store == nil {
		opts.Store = runstore.NewInMemoryStore()
	}
	if opts.Callbacks == nil {
		opts.Callbacks = NewCallbackManager()
	}
	if opts.Tracer == nil {
		opts.Tracer = otel.Tracer(TracerName)
	}
	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}

	e := &Engine{
		router:     router,
		summarizer: summarizer,
		index:      make(map[string]core.Agent),
		active:     make(map[string]context.CancelFunc),
		opts:       opts,
		store:      opts.Store,
		callbacks:  opts.Callbacks,
		tracer:     opts.Tracer,
		logger:     opts.Logger,
	}
	if opts.Config.MaxConcurrentRuns > 0 {
		e.sem = make(chan struct{}, opts.Config.MaxConcurrentRuns)
	}
	return e
}

// Register adds agents to the registry. Names are case-insensitive and
// must be unique. It fails with core.ErrSealed once the engine is sealed.
func (e *Engine) Register(agents ...core.Agent) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.coordinator != nil {
		return core.ErrSealed
	}
	for _, a := range agents {
		name := strings.ToLower(a.Name())
		if _, exists := e.index[name]; exists {
			return fmt.Errorf("agent %s already registered", name)
		}
		e.index[name] = a
		e.agents = append(e.agents, a)
	}
	return nil
}

// Agent returns a registered agent by case-insensitive name.
func (e *Engine) Agent(name string) (core.Agent, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	a, ok := e.index[strings.ToLower(name)]
	return a, ok
}

// Agents returns the registered agent names in registration order.
func (e *Engine) Agents() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	names := make([]string, len(e.agents))
	for i, a := range e.agents {
		names[i] = strings.ToLower(a.Name())
	}
	return names
}

// Store returns the run store.
func (e *Engine) Store() core.RunStore { return e.store }

// Callbacks returns the callback manager.
func (e *Engine) Callbacks() *CallbackManager { return e.callbacks }

// Sealed reports whether configuration is frozen.
func (e *Engine) Sealed() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.coordinator != nil
}

// Seal freezes the registry and compiles the workflow. It is idempotent and
// runs implicitly before the first run.
func (e *Engine) Seal() error {
	_, _, err := e.seal()
	return err
}

type sealer interface {
	Seal()
}

func (e *Engine) seal() (*workflow.Coordinator, *workflow.Seeder, error) {
	e.mu.RLock()
	coord, seeder := e.coordinator, e.seeder
	e.mu.RUnlock()
	if coord != nil {
		return coord, seeder, nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.coordinator != nil {
		return e.coordinator, e.seeder, nil
	}

	seeder, err := workflow.NewSeeder(
		workflow.NewClassifier(e.opts.TransactionalAgent, e.opts.KnowledgeAgent, e.opts.Rules...),
		e.opts.Templates,
	)
	if err != nil {
		return nil, nil, err
	}

	coord, err = workflow.NewCoordinator(e.router, e.summarizer, e.agents, func(o *workflow.CoordinatorOptions) {
		o.Fallback = e.opts.Fallback
		o.LoopDetector = e.opts.LoopDetector
		o.CompletionMarkers = e.opts.CompletionMarkers
		o.MaxHops = e.opts.MaxHops
		o.PreselectEvents = e.opts.PreselectEvents
		o.Hooks = e.hooks()
		o.Observer = e.observer()
		o.Logger = e.logger
	})
	if err != nil {
		return nil, nil, err
	}

	e.router.Seal()
	if s, ok := e.summarizer.(sealer); ok {
		s.Seal()
	}
	for _, a := range e.agents {
		if s, ok := a.(sealer); ok {
			s.Seal()
		}
	}

	e.coordinator, e.seeder = coord, seeder
	e.logger.Info("engine sealed", "agents", coord.Agents(), "fallback", coord.Fallback())
	return coord, seeder, nil
}

// HandleMessage runs the workflow for an inbound user turn. The reply
// carries the turn's session and correlation metadata.
func (e *Engine) HandleMessage(ctx context.Context, turn core.Turn) (Result, error) {
	info := core.RunInfo{
		RunID:     core.NewID(),
		SessionID: turn.SessionID(),
		Trigger:   core.TriggerMessage,
		Metadata:  maps.Clone(turn.Metadata),
	}
	return e.execute(ctx, workflow.SeedMessage(turn), info, nil)
}

// HandleEvent runs the workflow for an external event. The event is
// rendered into the opening user turn and classified to a starting agent;
// a non-empty override replaces the classification.
func (e *Engine) HandleEvent(ctx context.Context, ev core.Event, override string) (Result, error) {
	if ev == nil {
		return Result{}, core.ErrInvalidEvent
	}
	_, seeder, err := e.seal()
	if err != nil {
		return Result{}, err
	}
	s, err := seeder.SeedEvent(ev, override)
	if err != nil {
		return Result{}, fmt.Errorf("seed event: %w", err)
	}
	info := core.RunInfo{
		RunID:   core.NewID(),
		Trigger: core.TriggerEvent,
	}
	return e.execute(ctx, s, info, ev)
}

// Run executes a caller-seeded state, for example one carrying a
// pre-selected agent. sessionID may be empty.
func (e *Engine) Run(ctx context.Context, s workflow.State, sessionID string) (Result, error) {
	trigger := s.TriggerType
	if trigger == "" {
		trigger = core.TriggerMessage
	}
	info := core.RunInfo{
		RunID:     core.NewID(),
		SessionID: sessionID,
		Trigger:   trigger,
	}
	return e.execute(ctx, s, info, s.EventContext)
}

func (e *Engine) execute(ctx context.Context, s workflow.State, info core.RunInfo, ev core.Event) (Result, error) {
	if e.isClosed() {
		return Result{}, ErrClosed
	}
	coord, _, err := e.seal()
	if err != nil {
		return Result{}, err
	}
	if err := e.acquire(ctx); err != nil {
		return Result{}, err
	}
	defer e.release()

	var (
		runCtx context.Context
		cancel context.CancelFunc
	)
	if e.opts.Config.RunTimeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, e.opts.Config.RunTimeout)
	} else {
		runCtx, cancel = context.WithCancel(ctx)
	}
	defer cancel()
	e.track(info.RunID, cancel)
	defer e.untrack(info.RunID)

	runCtx = core.WithRunInfo(runCtx, info)
	runCtx, span := e.tracer.Start(runCtx, "agentrelay.run", trace.WithAttributes(
		attribute.String("agentrelay.run_id", info.RunID),
		attribute.String("agentrelay.trigger", string(info.Trigger)),
		attribute.String("agentrelay.session_id", info.SessionID),
	))
	defer span.End()

	logger := logging.With(e.logger, "run_id", info.RunID, "session_id", info.SessionID)
	started := time.Now()
	e.opts.Metrics.runStarted()

	final := s
	if err = e.callbacks.ExecuteCallbacks(runCtx, CallbackBeforeRun, e.callbackContext(runCtx, s)); err != nil {
		err = fmt.Errorf("before run callback: %w", err)
	} else {
		final, err = coord.Run(runCtx, s)
	}
	finished := time.Now()
	dur := finished.Sub(started)

	rec := core.RunRecord{
		ID:           info.RunID,
		SessionID:    info.SessionID,
		Trigger:      info.Trigger,
		Transcript:   final.Transcript,
		Reply:        final.Reply,
		Hops:         final.Hops,
		LoopDetected: final.LoopDetected,
		Status:       core.RunCompleted,
		Started:      started.UTC(),
		Finished:     finished.UTC(),
	}
	if ev != nil {
		if raw, encErr := core.EncodeEvent(ev); encErr == nil {
			rec.Event = raw
		}
	}
	if err != nil {
		rec.Status = core.RunFailed
		rec.Error = err.Error()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.SetAttributes(
		attribute.Int("agentrelay.hops", final.Hops),
		attribute.Bool("agentrelay.loop_detected", final.LoopDetected),
	)

	if saveErr := e.store.Save(context.WithoutCancel(runCtx), rec); saveErr != nil {
		logger.Warn("failed to persist run", "error", saveErr)
	}
	e.opts.Metrics.runFinished(string(info.Trigger), string(rec.Status), final.Hops, dur)
	logging.Run(logger, string(info.Trigger), final.Hops, dur, err)

	cc := e.callbackContext(runCtx, final)
	cc.Duration, cc.Err = dur, err
	if err != nil {
		e.notify(runCtx, CallbackOnError, cc)
	}
	e.notify(runCtx, CallbackAfterRun, cc)

	res := Result{RunID: info.RunID, State: final, Duration: dur}
	if final.Reply != nil {
		reply := *final.Reply
		if info.SessionID != "" {
			reply = reply.WithMetadata(core.MetadataSessionID, info.SessionID)
		}
		if corr := info.Metadata[core.MetadataCorrelationID]; corr != "" {
			reply = reply.WithMetadata(core.MetadataCorrelationID, corr)
		}
		res.Reply = &reply
	}
	return res, err
}

func (e *Engine) acquire(ctx context.Context) error {
	if e.sem == nil {
		return nil
	}
	select {
	case e.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *Engine) release() {
	if e.sem != nil {
		<-e.sem
	}
}

func (e *Engine) track(runID string, cancel context.CancelFunc) {
	e.activeMu.Lock()
	defer e.activeMu.Unlock()
	e.active[runID] = cancel
}

func (e *Engine) untrack(runID string) {
	e.activeMu.Lock()
	defer e.activeMu.Unlock()
	delete(e.active, runID)
}

// Cancel aborts an active run at its next suspension point. It returns
// core.ErrRunNotFound for unknown or finished runs.
func (e *Engine) Cancel(runID string) error {
	e.activeMu.Lock()
	cancel, ok := e.active[runID]
	e.activeMu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", core.ErrRunNotFound, runID)
	}
	cancel()
	return nil
}

// ActiveRuns returns the ids of runs currently executing.
func (e *Engine) ActiveRuns() []string {
	e.activeMu.Lock()
	defer e.activeMu.Unlock()
	ids := make([]string, 0, len(e.active))
	for id := range e.active {
		ids = append(ids, id)
	}
	return ids
}

func (e *Engine) isClosed() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.closed
}

// Close cancels active runs and releases router, summarizer and agent
// resources. Further runs
// fail with ErrClosed.
func (e *Engine) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	components := []interface{ Name() string }{e.router, e.summarizer}
	for _, a := range e.agents {
		components = append(components, a)
	}
	e.mu.Unlock()

	e.activeMu.Lock()
	for _, cancel := range e.active {
		cancel()
	}
	e.activeMu.Unlock()

	var errs []error
	for _, comp := range components {
		if c, ok := comp.(core.Closer); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close %s: %w", comp.Name(), err))
			}
		}
	}
	return errors.Join(errs...)
}

func (e *Engine) callbackContext(ctx context.Context, s workflow.State) *CallbackContext {
	info, _ := core.RunInfoFromContext(ctx)
	return &CallbackContext{
		RunID:     info.RunID,
		SessionID: info.SessionID,
		Trigger:   info.Trigger,
		State:     s,
	}
}

// notify runs callbacks whose errors cannot change the run.
func (e *Engine) notify(ctx context.Context, t CallbackType, cc *CallbackContext) {
	if err := e.callbacks.ExecuteCallbacks(ctx, t, cc); err != nil {
		e.logger.Warn("callback failed", "callback", string(t), "run_id", cc.RunID, "error", err)
	}
}

func (e *Engine) hooks() workflow.Hooks {
	return workflow.Hooks{
		BeforeNode: func(ctx context.Context, node string, s workflow.State) context.Context {
			ctx, _ = e.tracer.Start(ctx, "agentrelay.node", trace.WithAttributes(
				attribute.String("agentrelay.node", node),
			))
			cc := e.callbackContext(ctx, s)
			cc.Node = node
			e.notify(ctx, CallbackBeforeNode, cc)
			return ctx
		},
		AfterNode: func(ctx context.Context, node string, s workflow.State, dur time.Duration, err error) {
			span := trace.SpanFromContext(ctx)
			if err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
			}
			span.End()
			e.opts.Metrics.nodeDone(node, dur)

			cc := e.callbackContext(ctx, s)
			cc.Node, cc.Duration, cc.Err = node, dur, err
			e.notify(ctx, CallbackAfterNode, cc)
		},
	}
}

func (e *Engine) observer() workflow.Observer {
	return workflow.Observer{
		OnRoute: func(ctx context.Context, s workflow.State, d agent.Decision) {
			e.opts.Metrics.routed(d.Token, string(d.Method))
			trace.SpanFromContext(ctx).AddEvent("route", trace.WithAttributes(
				attribute.String("agentrelay.route", d.Token),
				attribute.String("agentrelay.route_method", string(d.Method)),
				attribute.Bool("agentrelay.terminal", d.Terminal),
			))
			cc := e.callbackContext(ctx, s)
			cc.Decision = &d
			e.notify(ctx, CallbackOnRoute, cc)
		},
		OnLoop: func(ctx context.Context, s workflow.State, reason workflow.LoopReason) {
			e.opts.Metrics.loopDetected(string(reason))
			trace.SpanFromContext(ctx).AddEvent("loop_detected", trace.WithAttributes(
				attribute.String("agentrelay.loop_reason", string(reason)),
			))
			cc := e.callbackContext(ctx, s)
			cc.LoopReason = reason
			e.notify(ctx, CallbackOnLoop, cc)
		},
		OnHopCap: func(ctx context.Context, s workflow.State) {
			e.opts.Metrics.hopCapped()
			trace.SpanFromContext(ctx).AddEvent("hop_cap", trace.WithAttributes(
				attribute.Int("agentrelay.hops", s.Hops),
			))
		},
	}
}
