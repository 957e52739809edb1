package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/agentrelay/core"
)

const sample = `
logging:
  level: debug
  format: json
runtime:
  run_timeout: 90s
  max_hops: 6
models:
  openai:
    api_key: ${TEST_RELAY_OPENAI_KEY}
    base_url: ${TEST_RELAY_MISSING:-https://llm.internal/v1}
router:
  model: openai:gpt-4o-mini
summarizer:
  model: anthropic:claude-3-5-sonnet-latest
  min_length: 12
agents:
  - name: oracle
    description: Answers market and weather questions
    model: gpt-4o-mini
    temperature: 0.2
    persona: You cost $5 per call.
    mcp: [weather]
  - name: degen
    model: gpt-4o
    max_iterations: 4
    tool_timeout: 15s
loop_detection:
  window: 6
events:
  transactional_agent: degen
  knowledge_agent: oracle
  rules:
    - kind: web
      source: governance
      agent: degen
capabilities:
  mcp:
    - name: weather
      transport: sse
      url: http://localhost:9000/sse
store:
  driver: redis
  redis:
    ttl: 24h
sources:
  rss:
    - url: https://news.example/feed.xml
      interval: 2m
server:
  http:
    enabled: true
    metrics: true
`

// -------------------- Parse Tests --------------------

func TestParse_DecodesExpandsAndDefaults(t *testing.T) {
	t.Setenv("TEST_RELAY_OPENAI_KEY", "sk-test")

	cfg, err := Parse([]byte(sample))
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "sk-test", cfg.Models.OpenAI.APIKey)
	assert.Equal(t, "https://llm.internal/v1", cfg.Models.OpenAI.BaseURL)
	assert.Equal(t, "openai", cfg.Models.DefaultProvider)

	assert.Equal(t, 90*time.Second, cfg.Runtime.RunTimeout)
	assert.Equal(t, 6, cfg.Runtime.MaxHops)
	assert.Equal(t, 10, cfg.Runtime.MaxConcurrentRuns)
	assert.Equal(t, 90*time.Second, cfg.Server.HTTP.ReplyTimeout)
	assert.Equal(t, ":8080", cfg.Server.HTTP.Addr)

	assert.Equal(t, "coordinator", cfg.Router.Name)
	assert.Equal(t, "summarizer", cfg.Summarizer.Name)
	assert.Equal(t, 12, cfg.Summarizer.MinLength)

	require.Len(t, cfg.Agents, 2)
	assert.Equal(t, "You cost $5 per call.", cfg.Agents[0].Persona)
	assert.Equal(t, 0.2, cfg.Agents[0].Temperature)
	assert.Equal(t, []string{"weather"}, cfg.Agents[0].MCP)
	assert.Equal(t, 15*time.Second, cfg.Agents[1].ToolTimeout)
	assert.Equal(t, []string{"oracle", "degen"}, cfg.AgentNames())

	require.Len(t, cfg.Events.Rules, 1)
	assert.Equal(t, core.EventKindWeb, cfg.Events.Rules[0].Kind)

	assert.Equal(t, "localhost:6379", cfg.Store.Redis.Addr)
	assert.Equal(t, 24*time.Hour, cfg.Store.Redis.TTL)
	assert.Equal(t, "rss-0", cfg.Sources.RSS[0].Name)
	assert.Equal(t, 2*time.Minute, cfg.Sources.RSS[0].Interval)
}

func TestParse_LoopDetectorMergesDefaults(t *testing.T) {
	cfg, err := Parse([]byte("loop_detection:\n  window: 6\n  meta_words: [bot]\n"))
	require.NoError(t, err)

	d := cfg.LoopDetector()
	assert.Equal(t, 6, d.Window)
	assert.Equal(t, 3, d.MetaThreshold)
	assert.Equal(t, 2, d.MaxDistinct)
	assert.Equal(t, []string{"routing to"}, d.MetaMarkers)
	assert.Equal(t, []string{"bot"}, d.MetaWords)
}

func TestParse_InvalidYAML(t *testing.T) {
	_, err := Parse([]byte("agents: [oops"))
	assert.ErrorContains(t, err, "failed to parse config")
}

func TestExpandEnv(t *testing.T) {
	t.Setenv("TEST_RELAY_SET", "value")

	assert.Equal(t, "value", ExpandEnv("${TEST_RELAY_SET}"))
	assert.Equal(t, "", ExpandEnv("${TEST_RELAY_UNSET}"))
	assert.Equal(t, "fallback", ExpandEnv("${TEST_RELAY_UNSET:-fallback}"))
	assert.Equal(t, "$HOME stays", ExpandEnv("$HOME stays"))
}

// -------------------- Load Tests --------------------

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "relay.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sample), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Len(t, cfg.Agents, 2)

	_, err = Load("")
	assert.Error(t, err)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorContains(t, err, "failed to read config")
}

// -------------------- Validate Tests --------------------

func TestValidate_ReportsEveryMistake(t *testing.T) {
	cfg, err := Parse([]byte(`
logging:
  format: xml
agents:
  - name: oracle
    mcp: [missing]
  - name: Oracle
    model: m
  - name: done
    model: m
events:
  knowledge_agent: analyst
  rules:
    - kind: chain
      agent: nobody
capabilities:
  mcp:
    - name: calc
      transport: grpc
store:
  driver: postgres
sources:
  chain:
    - network: base
`))
	require.NoError(t, err)

	err = cfg.Validate()
	require.Error(t, err)
	for _, want := range []string{
		"logging.format",
		"router.model is required",
		"summarizer.model is required",
		`agent "oracle": model is required`,
		`unknown mcp server "missing"`,
		`duplicate agent "Oracle"`,
		`agent name "done" is reserved`,
		`events.knowledge_agent references unknown agent "analyst"`,
		`events.rules[0] references unknown agent "nobody"`,
		"transport must be sse or stdio",
		"store.driver",
		`chain source "chain-0" needs rpc_url`,
	} {
		assert.ErrorContains(t, err, want)
	}
}

func TestValidate_RequiresAgents(t *testing.T) {
	cfg, err := Parse([]byte("router:\n  model: m\nsummarizer:\n  model: m\n"))
	require.NoError(t, err)
	assert.ErrorContains(t, cfg.Validate(), "at least one agent is required")
}

func TestLoad_ExampleConfig(t *testing.T) {
	t.Setenv("BASE_RPC_URL", "http://localhost:8545")
	t.Setenv("REDIS_ADDR", "")

	cfg, err := Load(filepath.Join("..", "configs", "agentrelay.example.yaml"))
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, []string{"degen", "oracle"}, cfg.AgentNames())
	assert.Equal(t, "localhost:6379", cfg.Store.Redis.Addr)
	assert.Equal(t, "http://localhost:8545", cfg.Sources.Chain[0].RPCURL)
	assert.Equal(t, "stdio", cfg.Capabilities.MCP[1].Transport)
	assert.Equal(t, 168*time.Hour, cfg.Store.Redis.TTL)
}
