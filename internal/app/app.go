// Package app assembles a runnable relay from configuration.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hupe1980/agentrelay/agent"
	"github.com/hupe1980/agentrelay/client"
	"github.com/hupe1980/agentrelay/config"
	"github.com/hupe1980/agentrelay/core"
	"github.com/hupe1980/agentrelay/engine"
	"github.com/hupe1980/agentrelay/eventsource"
	"github.com/hupe1980/agentrelay/logging"
	"github.com/hupe1980/agentrelay/model"
	"github.com/hupe1980/agentrelay/model/anthropic"
	"github.com/hupe1980/agentrelay/model/openai"
	"github.com/hupe1980/agentrelay/runner"
	"github.com/hupe1980/agentrelay/runstore"
	"github.com/hupe1980/agentrelay/runstore/mysql"
	"github.com/hupe1980/agentrelay/runstore/redis"
	"github.com/hupe1980/agentrelay/tool"
	"github.com/hupe1980/agentrelay/tool/mcptool"
)

// Options tweaks Build.
type Options struct {
	// Terminal forces the terminal client on regardless of config.
	Terminal bool
	In       io.Reader
	Out      io.Writer
	// LogOutput defaults to stderr.
	LogOutput io.Writer
	// Resolver overrides the model resolver built from config.
	Resolver *model.Resolver
}

// App is a wired relay: engine, runner, transports and sources.
type App struct {
	Config   *config.Config
	Logger   logging.Logger
	Engine   *engine.Engine
	Runner   *runner.Runner
	Registry *prometheus.Registry

	closers []func() error
}

// Build validates cfg and constructs every component. On failure anything
// already opened is closed again.
func Build(ctx context.Context, cfg *config.Config, optFns ...func(o *Options)) (_ *App, err error) {
	opts := Options{In: os.Stdin, Out: os.Stdout, LogOutput: os.Stderr}
	for _, fn := range optFns {
		fn(&opts)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	level, _ := logging.ParseLevel(cfg.Logging.Level)
	logger := logging.New(level, cfg.Logging.Format, opts.LogOutput)

	a := &App{Config: cfg, Logger: logger, Registry: prometheus.NewRegistry()}
	defer func() {
		if err != nil {
			_ = a.Close()
		}
	}()

	a.Registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	resolver := opts.Resolver
	if resolver == nil {
		resolver = NewResolver(cfg.Models)
	}

	toolsets, err := a.connectMCP(ctx, cfg.Capabilities.MCP)
	if err != nil {
		return nil, err
	}

	router, summarizer, agents, err := buildAgents(cfg, resolver, toolsets, logger)
	if err != nil {
		return nil, err
	}

	store, err := a.openStore(cfg.Store)
	if err != nil {
		return nil, err
	}

	callbacks := engine.NewCallbackManager()
	callbacks.RegisterCallback(engine.NewLoggingCallback(engine.CallbackOnLoop, logger))
	callbacks.RegisterCallback(engine.NewLoggingCallback(engine.CallbackOnError, logger))

	eng := engine.New(router, summarizer, func(o *engine.Options) {
		o.Config = engine.Config{
			MaxConcurrentRuns: cfg.Runtime.MaxConcurrentRuns,
			RunTimeout:        cfg.Runtime.RunTimeout,
		}
		o.Fallback = cfg.Events.Fallback
		o.TransactionalAgent = cfg.Events.TransactionalAgent
		o.KnowledgeAgent = cfg.Events.KnowledgeAgent
		o.Rules = cfg.Events.Rules
		o.Templates = templates(cfg.Events.Templates)
		o.LoopDetector = cfg.LoopDetector()
		if len(cfg.CompletionMarkers) > 0 {
			o.CompletionMarkers = cfg.CompletionMarkers
		}
		o.MaxHops = cfg.Runtime.MaxHops
		if cfg.Events.Preselect != nil {
			o.PreselectEvents = *cfg.Events.Preselect
		}
		o.Store = store
		o.Callbacks = callbacks
		o.Metrics = engine.NewMetrics(a.Registry)
		o.Logger = logging.With(logger, "component", "engine")
	})
	a.closers = append(a.closers, eng.Close)

	if err := eng.Register(agents...); err != nil {
		return nil, err
	}
	if err := eng.Seal(); err != nil {
		return nil, err
	}
	a.Engine = eng

	a.Runner = runner.New(eng, func(o *runner.Options) {
		o.EventWorkers = cfg.Runtime.EventWorkers
		o.EventReplyClients = cfg.Events.ReplyClients
		o.DrainTimeout = cfg.Runtime.DrainTimeout
		o.Logger = logging.With(logger, "component", "runner")
	})

	if err := a.addClients(cfg.Server, opts); err != nil {
		return nil, err
	}
	if err := a.addSources(ctx, cfg.Sources); err != nil {
		return nil, err
	}
	return a, nil
}

// Run serves until ctx is done or a client stops.
func (a *App) Run(ctx context.Context) error {
	return a.Runner.Start(ctx)
}

// Close releases everything Build opened, newest first.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

// NewResolver registers the openai, anthropic and mock providers.
// "mock:<name>" bindings replay models.mock.<name>.replies.
func NewResolver(cfg config.ModelsConfig) *model.Resolver {
	r := model.NewResolver(cfg.DefaultProvider)
	r.Register("openai", openai.Factory(func(o *openai.Options) {
		o.APIKey = cfg.OpenAI.APIKey
		o.BaseURL = cfg.OpenAI.BaseURL
		if cfg.OpenAI.MaxTokens > 0 {
			o.MaxCompletionTokens = cfg.OpenAI.MaxTokens
		}
	}))
	r.Register("anthropic", anthropic.Factory(func(o *anthropic.Options) {
		o.APIKey = cfg.Anthropic.APIKey
		if cfg.Anthropic.MaxTokens > 0 {
			o.MaxTokens = cfg.Anthropic.MaxTokens
		}
	}))
	r.Register("mock", func(b model.Binding) (model.Model, error) {
		script, ok := cfg.Mock[b.ModelName]
		if !ok {
			return nil, fmt.Errorf("no mock model %q configured", b.ModelName)
		}
		responses := make([]model.Response, 0, len(script.Replies))
		for _, text := range script.Replies {
			responses = append(responses, model.TextResponse(text))
		}
		return model.NewMockModel(b.ModelName, responses...), nil
	})
	return r
}

func (a *App) connectMCP(ctx context.Context, servers []mcptool.Config) (map[string]*mcptool.Toolset, error) {
	toolsets := make(map[string]*mcptool.Toolset, len(servers))
	for _, s := range servers {
		ts, err := mcptool.Connect(ctx, s)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, ts.Close)
		toolsets[s.Name] = ts
		a.Logger.Info("mcp server connected", "server", s.Name, "tools", len(ts.Tools()))
	}
	return toolsets, nil
}

func buildAgents(cfg *config.Config, r *model.Resolver, toolsets map[string]*mcptool.Toolset, logger logging.Logger) (*agent.Router, *agent.Summarizer, []core.Agent, error) {
	routerLLM, err := r.Resolve(model.Binding{ModelName: cfg.Router.Model, Temperature: cfg.Router.Temperature})
	if err != nil {
		return nil, nil, nil, fmt.Errorf("router: %w", err)
	}
	router, err := agent.NewRouter(routerLLM, func(o *agent.RouterOptions) {
		o.Name = cfg.Router.Name
		if cfg.Router.Description != "" {
			o.Description = cfg.Router.Description
		}
		if cfg.Router.Persona != "" {
			o.Persona = cfg.Router.Persona
		}
		o.Logger = logging.With(logger, "agent", cfg.Router.Name)
	})
	if err != nil {
		return nil, nil, nil, fmt.Errorf("router: %w", err)
	}

	sumLLM, err := r.Resolve(model.Binding{ModelName: cfg.Summarizer.Model, Temperature: cfg.Summarizer.Temperature})
	if err != nil {
		return nil, nil, nil, fmt.Errorf("summarizer: %w", err)
	}
	summarizer := agent.NewSummarizer(sumLLM, func(o *agent.SummarizerOptions) {
		o.Name = cfg.Summarizer.Name
		if cfg.Summarizer.Persona != "" {
			o.Persona = cfg.Summarizer.Persona
		}
		if len(cfg.Summarizer.MetaMarkers) > 0 {
			o.Filter.Markers = cfg.Summarizer.MetaMarkers
		}
		if cfg.Summarizer.MinLength > 0 {
			o.Filter.MinLength = cfg.Summarizer.MinLength
		}
		o.Logger = logging.With(logger, "agent", cfg.Summarizer.Name)
	})

	agents := make([]core.Agent, 0, len(cfg.Agents))
	for _, ac := range cfg.Agents {
		var tools []tool.Tool
		for _, ref := range ac.MCP {
			tools = append(tools, toolsets[ref].Tools()...)
		}
		a, err := agent.NewFromBinding(ac.Name, model.Binding{ModelName: ac.Model, Temperature: ac.Temperature}, r, func(o *agent.Options) {
			if ac.Description != "" {
				o.Description = ac.Description
			}
			if ac.Persona != "" {
				o.Persona = ac.Persona
			}
			if ac.MaxIterations > 0 {
				o.MaxIterations = ac.MaxIterations
			}
			if ac.ToolTimeout > 0 {
				o.ToolTimeout = ac.ToolTimeout
			}
			o.Tools = tools
			o.Logger = logging.With(logger, "agent", ac.Name)
		})
		if err != nil {
			return nil, nil, nil, err
		}
		agents = append(agents, a)
	}
	return router, summarizer, agents, nil
}

func (a *App) openStore(cfg config.StoreConfig) (core.RunStore, error) {
	switch cfg.Driver {
	case "redis":
		var ropts []redis.Option
		if cfg.Redis.TTL > 0 {
			ropts = append(ropts, redis.WithTTL(cfg.Redis.TTL))
		}
		if cfg.Redis.Prefix != "" {
			ropts = append(ropts, redis.WithPrefix(cfg.Redis.Prefix))
		}
		s := redis.New(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, ropts...)
		a.closers = append(a.closers, s.Close)
		return s, nil
	case "mysql":
		s, err := mysql.New(cfg.MySQL.DSN)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, s.Close)
		return s, nil
	default:
		return runstore.NewInMemoryStore(), nil
	}
}

func templates(t config.TemplateConfig) map[core.EventKind]string {
	out := map[core.EventKind]string{}
	if t.Chain != "" {
		out[core.EventKindChain] = t.Chain
	}
	if t.Web != "" {
		out[core.EventKindWeb] = t.Web
	}
	return out
}

func (a *App) addClients(cfg config.ServerConfig, opts Options) error {
	var clients []core.Client
	if cfg.HTTP.Enabled {
		clients = append(clients, client.NewHTTP(func(o *client.HTTPOptions) {
			o.Addr = cfg.HTTP.Addr
			o.ReplyTimeout = cfg.HTTP.ReplyTimeout
			if cfg.HTTP.Metrics {
				o.Metrics = promhttp.HandlerFor(a.Registry, promhttp.HandlerOpts{Registry: a.Registry})
			}
			o.Logger = logging.With(a.Logger, "client", "http")
		}))
	}
	if cfg.Terminal.Enabled || opts.Terminal {
		clients = append(clients, client.NewTerminal(func(o *client.TerminalOptions) {
			o.In = opts.In
			o.Out = opts.Out
			o.Prompt = cfg.Terminal.Prompt
			o.Logger = logging.With(a.Logger, "client", "terminal")
		}))
	}
	return a.Runner.AddClient(clients...)
}

func (a *App) addSources(ctx context.Context, cfg config.SourcesConfig) error {
	var sources []core.EventSource
	for _, sc := range cfg.Chain {
		reader, err := eventsource.DialChain(ctx, sc.RPCURL)
		if err != nil {
			return fmt.Errorf("chain source %s: %w", sc.Name, err)
		}
		a.closers = append(a.closers, func() error { reader.Close(); return nil })
		src, err := eventsource.NewChainSource(reader, eventsource.ChainConfig{
			Network:       sc.Network,
			Addresses:     sc.Addresses,
			Events:        sc.Events,
			Confirmations: sc.Confirmations,
			MaxRange:      sc.MaxRange,
		})
		if err != nil {
			return fmt.Errorf("chain source %s: %w", sc.Name, err)
		}
		sources = append(sources, eventsource.NewChainPoller(sc.Name, src, a.pollerOptions(sc.Interval)))
	}
	for _, sc := range cfg.RSS {
		src, err := eventsource.NewRSSSource(eventsource.RSSConfig{
			URL:           sc.URL,
			ReplayInitial: sc.ReplayInitial,
		})
		if err != nil {
			return fmt.Errorf("rss source %s: %w", sc.Name, err)
		}
		sources = append(sources, eventsource.NewRSSPoller(sc.Name, src, a.pollerOptions(sc.Interval)))
	}
	for _, sc := range cfg.AMQP {
		src, err := eventsource.NewAMQPSource(sc.Name, eventsource.AMQPConfig{
			URL:        sc.URL,
			Queue:      sc.Queue,
			Prefetch:   sc.Prefetch,
			Durable:    sc.Durable,
			AutoDelete: sc.AutoDelete,
			Logger:     logging.With(a.Logger, "source", sc.Name),
		})
		if err != nil {
			return fmt.Errorf("amqp source %s: %w", sc.Name, err)
		}
		sources = append(sources, src)
	}
	return a.Runner.AddSource(sources...)
}

func (a *App) pollerOptions(interval time.Duration) func(o *eventsource.PollerOptions) {
	return func(o *eventsource.PollerOptions) {
		if interval > 0 {
			o.Interval = interval
		}
		o.Logger = a.Logger
	}
}
