package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"slices"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hupe1980/agentrelay/logging"
	"github.com/hupe1980/agentrelay/tool/mcptool"
	"github.com/hupe1980/agentrelay/workflow"
)

// Config is the process configuration of agentrelayd.
type Config struct {
	Logging           LoggingConfig      `yaml:"logging"`
	Runtime           RuntimeConfig      `yaml:"runtime"`
	Models            ModelsConfig       `yaml:"models"`
	Router            PersonaConfig      `yaml:"router"`
	Summarizer        SummarizerConfig   `yaml:"summarizer"`
	Agents            []AgentConfig      `yaml:"agents"`
	LoopDetection     LoopConfig         `yaml:"loop_detection"`
	CompletionMarkers []string           `yaml:"completion_markers"`
	Events            EventsConfig       `yaml:"events"`
	Capabilities      CapabilitiesConfig `yaml:"capabilities"`
	Store             StoreConfig        `yaml:"store"`
	Sources           SourcesConfig      `yaml:"sources"`
	Server            ServerConfig       `yaml:"server"`
}

// LoggingConfig selects level and format ("text" or "json").
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// RuntimeConfig bounds run execution.
type RuntimeConfig struct {
	MaxConcurrentRuns int           `yaml:"max_concurrent_runs"`
	RunTimeout        time.Duration `yaml:"run_timeout"`
	MaxHops           int           `yaml:"max_hops"`
	EventWorkers      int           `yaml:"event_workers"`
	DrainTimeout      time.Duration `yaml:"drain_timeout"`
}

// ModelsConfig configures the inference providers.
type ModelsConfig struct {
	// DefaultProvider serves bindings without a "provider:" prefix.
	DefaultProvider string          `yaml:"default_provider"`
	OpenAI          ProviderConfig  `yaml:"openai"`
	Anthropic       ProviderConfig  `yaml:"anthropic"`
	Mock            map[string]Mock `yaml:"mock"`
}

// ProviderConfig holds provider credentials.
type ProviderConfig struct {
	APIKey    string `yaml:"api_key"`
	BaseURL   string `yaml:"base_url"`
	MaxTokens int64  `yaml:"max_tokens"`
}

// Mock scripts the replies of a "mock:<name>" model, for dry runs.
type Mock struct {
	Replies []string `yaml:"replies"`
}

// PersonaConfig binds a persona to a model.
type PersonaConfig struct {
	Name        string  `yaml:"name"`
	Description string  `yaml:"description"`
	Model       string  `yaml:"model"`
	Temperature float64 `yaml:"temperature"`
	Persona     string  `yaml:"persona"`
}

// SummarizerConfig configures the summarizer persona and its meta filter.
type SummarizerConfig struct {
	PersonaConfig `yaml:",inline"`
	MetaMarkers   []string `yaml:"meta_markers"`
	MinLength     int      `yaml:"min_length"`
}

// AgentConfig configures one specialized agent.
type AgentConfig struct {
	PersonaConfig `yaml:",inline"`
	MaxIterations int           `yaml:"max_iterations"`
	ToolTimeout   time.Duration `yaml:"tool_timeout"`
	// MCP names capability servers from capabilities.mcp.
	MCP []string `yaml:"mcp"`
}

// LoopConfig tunes loop detection. Zero values keep the defaults.
type LoopConfig struct {
	Window               int      `yaml:"window"`
	MetaThreshold        int      `yaml:"meta_threshold"`
	MaxDistinct          int      `yaml:"max_distinct"`
	MinSubstantiveLength int      `yaml:"min_substantive_length"`
	MetaMarkers          []string `yaml:"meta_markers"`
	MetaWords            []string `yaml:"meta_words"`
}

// EventsConfig configures event-seeded runs.
type EventsConfig struct {
	TransactionalAgent string          `yaml:"transactional_agent"`
	KnowledgeAgent     string          `yaml:"knowledge_agent"`
	Fallback           string          `yaml:"fallback"`
	Preselect          *bool           `yaml:"preselect"`
	Rules              []workflow.Rule `yaml:"rules"`
	Templates          TemplateConfig  `yaml:"templates"`
	// ReplyClients names the clients that receive event run replies.
	ReplyClients []string `yaml:"reply_clients"`
}

// TemplateConfig overrides the event prompt templates.
type TemplateConfig struct {
	Chain string `yaml:"chain"`
	Web   string `yaml:"web"`
}

// CapabilitiesConfig lists remote capability servers.
type CapabilitiesConfig struct {
	MCP []mcptool.Config `yaml:"mcp"`
}

// StoreConfig selects the run store: "memory", "redis" or "mysql".
type StoreConfig struct {
	Driver string      `yaml:"driver"`
	Redis  RedisConfig `yaml:"redis"`
	MySQL  MySQLConfig `yaml:"mysql"`
}

// RedisConfig configures the redis run store.
type RedisConfig struct {
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	Prefix   string        `yaml:"prefix"`
	TTL      time.Duration `yaml:"ttl"`
}

// MySQLConfig configures the mysql run store.
type MySQLConfig struct {
	DSN string `yaml:"dsn"`
}

// SourcesConfig lists event sources.
type SourcesConfig struct {
	Chain []ChainSourceConfig `yaml:"chain"`
	RSS   []RSSSourceConfig   `yaml:"rss"`
	AMQP  []AMQPSourceConfig  `yaml:"amqp"`
}

// ChainSourceConfig configures a contract log poller.
type ChainSourceConfig struct {
	Name          string        `yaml:"name"`
	RPCURL        string        `yaml:"rpc_url"`
	Network       string        `yaml:"network"`
	Addresses     []string      `yaml:"addresses"`
	Events        []string      `yaml:"events"`
	Confirmations uint64        `yaml:"confirmations"`
	MaxRange      uint64        `yaml:"max_range"`
	Interval      time.Duration `yaml:"interval"`
}

// RSSSourceConfig configures a feed poller.
type RSSSourceConfig struct {
	Name          string        `yaml:"name"`
	URL           string        `yaml:"url"`
	ReplayInitial bool          `yaml:"replay_initial"`
	Interval      time.Duration `yaml:"interval"`
}

// AMQPSourceConfig configures a queue consumer.
type AMQPSourceConfig struct {
	Name       string `yaml:"name"`
	URL        string `yaml:"url"`
	Queue      string `yaml:"queue"`
	Prefetch   int    `yaml:"prefetch"`
	Durable    bool   `yaml:"durable"`
	AutoDelete bool   `yaml:"auto_delete"`
}

// ServerConfig configures the client transports.
type ServerConfig struct {
	HTTP     HTTPConfig     `yaml:"http"`
	Terminal TerminalConfig `yaml:"terminal"`
}

// HTTPConfig configures the HTTP client.
type HTTPConfig struct {
	Enabled      bool          `yaml:"enabled"`
	Addr         string        `yaml:"addr"`
	ReplyTimeout time.Duration `yaml:"reply_timeout"`
	Metrics      bool          `yaml:"metrics"`
}

// TerminalConfig configures the terminal client.
type TerminalConfig struct {
	Enabled bool   `yaml:"enabled"`
	Prompt  string `yaml:"prompt"`
}

// Load reads, expands and parses the YAML file at path.
func Load(path string) (*Config, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("config path is empty")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	return Parse(data)
}

// Parse expands ${VAR} references, decodes data and applies defaults. It
// does not validate.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal([]byte(ExpandEnv(string(data))), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	cfg.applyDefaults()
	return &cfg, nil
}

var envRef = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-([^}]*))?\}`)

// ExpandEnv replaces ${VAR} and ${VAR:-default}. Bare $VAR is left alone
// so personas may contain dollar amounts.
func ExpandEnv(s string) string {
	return envRef.ReplaceAllStringFunc(s, func(m string) string {
		sub := envRef.FindStringSubmatch(m)
		if v, ok := os.LookupEnv(sub[1]); ok && v != "" {
			return v
		}
		return sub[2]
	})
}

func (c *Config) applyDefaults() {
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
	if c.Runtime.MaxConcurrentRuns == 0 {
		c.Runtime.MaxConcurrentRuns = 10
	}
	if c.Runtime.RunTimeout == 0 {
		c.Runtime.RunTimeout = 5 * time.Minute
	}
	if c.Runtime.MaxHops == 0 {
		c.Runtime.MaxHops = 10
	}
	if c.Runtime.EventWorkers == 0 {
		c.Runtime.EventWorkers = 4
	}
	if c.Runtime.DrainTimeout == 0 {
		c.Runtime.DrainTimeout = 30 * time.Second
	}
	if c.Models.DefaultProvider == "" {
		c.Models.DefaultProvider = "openai"
	}
	if c.Router.Name == "" {
		c.Router.Name = "coordinator"
	}
	if c.Summarizer.Name == "" {
		c.Summarizer.Name = "summarizer"
	}
	if c.Store.Driver == "" {
		c.Store.Driver = "memory"
	}
	if c.Store.Redis.Addr == "" {
		c.Store.Redis.Addr = "localhost:6379"
	}
	if c.Server.HTTP.Addr == "" {
		c.Server.HTTP.Addr = ":8080"
	}
	if c.Server.HTTP.ReplyTimeout == 0 {
		c.Server.HTTP.ReplyTimeout = c.Runtime.RunTimeout
	}
	if c.Server.Terminal.Prompt == "" {
		c.Server.Terminal.Prompt = "> "
	}
	for i := range c.Sources.Chain {
		if c.Sources.Chain[i].Name == "" {
			c.Sources.Chain[i].Name = fmt.Sprintf("chain-%d", i)
		}
	}
	for i := range c.Sources.RSS {
		if c.Sources.RSS[i].Name == "" {
			c.Sources.RSS[i].Name = fmt.Sprintf("rss-%d", i)
		}
	}
	for i := range c.Sources.AMQP {
		if c.Sources.AMQP[i].Name == "" {
			c.Sources.AMQP[i].Name = fmt.Sprintf("amqp-%d", i)
		}
	}
}

// LoopDetector merges the configured thresholds over the defaults.
func (c *Config) LoopDetector() workflow.LoopDetector {
	d := workflow.DefaultLoopDetector()
	l := c.LoopDetection
	if l.Window > 0 {
		d.Window = l.Window
	}
	if l.MetaThreshold > 0 {
		d.MetaThreshold = l.MetaThreshold
	}
	if l.MaxDistinct > 0 {
		d.MaxDistinct = l.MaxDistinct
	}
	if l.MinSubstantiveLength > 0 {
		d.MinSubstantiveLength = l.MinSubstantiveLength
	}
	if len(l.MetaMarkers) > 0 {
		d.MetaMarkers = l.MetaMarkers
	}
	if len(l.MetaWords) > 0 {
		d.MetaWords = l.MetaWords
	}
	return d
}

// AgentNames returns the configured agent names in order.
func (c *Config) AgentNames() []string {
	names := make([]string, 0, len(c.Agents))
	for _, a := range c.Agents {
		names = append(names, a.Name)
	}
	return names
}

// Validate reports every configuration mistake at once.
func (c *Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) { errs = append(errs, fmt.Errorf(format, args...)) }

	if _, err := logging.ParseLevel(c.Logging.Level); err != nil {
		errs = append(errs, err)
	}
	if c.Logging.Format != "text" && c.Logging.Format != "json" {
		add("logging.format must be text or json, got %q", c.Logging.Format)
	}
	if c.Runtime.MaxConcurrentRuns < 0 {
		add("runtime.max_concurrent_runs must not be negative")
	}
	if c.Runtime.MaxHops < 0 {
		add("runtime.max_hops must not be negative")
	}

	if c.Router.Model == "" {
		add("router.model is required")
	}
	if c.Summarizer.Model == "" {
		add("summarizer.model is required")
	}

	mcpNames := map[string]bool{}
	for i, m := range c.Capabilities.MCP {
		switch {
		case m.Name == "":
			add("capabilities.mcp[%d].name is required", i)
		case mcpNames[m.Name]:
			add("duplicate mcp server %q", m.Name)
		}
		mcpNames[m.Name] = true
		switch strings.ToLower(m.Transport) {
		case "", "sse":
			if m.URL == "" {
				add("mcp server %q needs a url", m.Name)
			}
		case "stdio":
			if m.Command == "" {
				add("mcp server %q needs a command", m.Name)
			}
		default:
			add("mcp server %q: transport must be sse or stdio, got %q", m.Name, m.Transport)
		}
	}

	if len(c.Agents) == 0 {
		add("at least one agent is required")
	}
	seen := map[string]bool{}
	for i, a := range c.Agents {
		name := strings.ToLower(strings.TrimSpace(a.Name))
		switch {
		case name == "":
			add("agents[%d].name is required", i)
			continue
		case name == "done" || name == "complete":
			add("agent name %q is reserved", a.Name)
		case seen[name]:
			add("duplicate agent %q", a.Name)
		case name == strings.ToLower(c.Router.Name) || name == strings.ToLower(c.Summarizer.Name):
			add("agent %q collides with the router or summarizer name", a.Name)
		}
		seen[name] = true
		if a.Model == "" {
			add("agent %q: model is required", a.Name)
		}
		for _, ref := range a.MCP {
			if !mcpNames[ref] {
				add("agent %q references unknown mcp server %q", a.Name, ref)
			}
		}
	}

	names := c.AgentNames()
	hasAgent := func(n string) bool {
		return slices.ContainsFunc(names, func(s string) bool { return strings.EqualFold(s, n) })
	}
	for field, ref := range map[string]string{
		"events.transactional_agent": c.Events.TransactionalAgent,
		"events.knowledge_agent":     c.Events.KnowledgeAgent,
		"events.fallback":            c.Events.Fallback,
	} {
		if ref != "" && !hasAgent(ref) {
			add("%s references unknown agent %q", field, ref)
		}
	}
	for i, r := range c.Events.Rules {
		if !hasAgent(r.Agent) {
			add("events.rules[%d] references unknown agent %q", i, r.Agent)
		}
	}

	switch c.Store.Driver {
	case "memory":
	case "redis":
		if c.Store.Redis.Addr == "" {
			add("store.redis.addr is required")
		}
	case "mysql":
		if c.Store.MySQL.DSN == "" {
			add("store.mysql.dsn is required")
		}
	default:
		add("store.driver must be memory, redis or mysql, got %q", c.Store.Driver)
	}

	for _, s := range c.Sources.Chain {
		if s.RPCURL == "" {
			add("chain source %q needs rpc_url", s.Name)
		}
	}
	for _, s := range c.Sources.RSS {
		if s.URL == "" {
			add("rss source %q needs url", s.Name)
		}
	}
	for _, s := range c.Sources.AMQP {
		if s.URL == "" {
			add("amqp source %q needs url", s.Name)
		}
	}

	return errors.Join(errs...)
}
