// Package mcptool exposes tools served by Model Context Protocol servers as
// agentrelay capabilities. A Toolset owns one MCP client connection; each
// remote tool becomes a tool.Tool whose calls are forwarded over it.
package mcptool

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/hupe1980/agentrelay/core"
	"github.com/hupe1980/agentrelay/tool"
	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"
)

// Config describes how to reach an MCP server.
type Config struct {
	Name      string   `yaml:"name"`
	Transport string   `yaml:"transport"` // "sse" or "stdio"
	URL       string   `yaml:"url"`
	Command   string   `yaml:"command"`
	Args      []string `yaml:"args"`
	Env       []string `yaml:"env"`
	// Prefix, when set, is prepended to remote tool names ("weather_get_weather").
	Prefix string `yaml:"prefix"`
}

// Toolset is a connected MCP server and the tools it advertised.
type Toolset struct {
	name   string
	client *client.Client
	tools  []tool.Tool

	closeOnce sync.Once
	closeErr  error
}

// Connect dials the server described by cfg, performs the MCP handshake and
// loads its tool list.
func Connect(ctx context.Context, cfg Config) (*Toolset, error) {
	var (
		c   *client.Client
		err error
	)

	switch strings.ToLower(cfg.Transport) {
	case "", "sse":
		if cfg.URL == "" {
			return nil, fmt.Errorf("mcp server %s: url is required for sse transport", cfg.Name)
		}
		c, err = client.NewSSEMCPClient(cfg.URL)
		if err != nil {
			return nil, fmt.Errorf("mcp server %s: %w", cfg.Name, err)
		}
		if err := c.Start(ctx); err != nil {
			_ = c.Close()
			return nil, fmt.Errorf("mcp server %s: start: %w", cfg.Name, err)
		}
	case "stdio":
		if cfg.Command == "" {
			return nil, fmt.Errorf("mcp server %s: command is required for stdio transport", cfg.Name)
		}
		c, err = client.NewStdioMCPClient(cfg.Command, cfg.Env, cfg.Args...)
		if err != nil {
			return nil, fmt.Errorf("mcp server %s: %w", cfg.Name, err)
		}
	default:
		return nil, fmt.Errorf("mcp server %s: unsupported transport %q", cfg.Name, cfg.Transport)
	}

	ts, err := NewToolset(ctx, cfg.Name, c, cfg.Prefix)
	if err != nil {
		_ = c.Close()
		return nil, err
	}
	return ts, nil
}

// NewToolset initializes an already started client and loads its tools.
func NewToolset(ctx context.Context, name string, c *client.Client, prefix string) (*Toolset, error) {
	initReq := mcp.InitializeRequest{}
	initReq.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	initReq.Params.ClientInfo = mcp.Implementation{Name: "agentrelay", Version: "1.0.0"}

	if _, err := c.Initialize(ctx, initReq); err != nil {
		return nil, fmt.Errorf("mcp server %s: initialize: %w", name, err)
	}

	res, err := c.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		return nil, fmt.Errorf("mcp server %s: list tools: %w", name, err)
	}

	ts := &Toolset{name: name, client: c}
	for _, t := range res.Tools {
		ts.tools = append(ts.tools, &remoteTool{
			name:       prefix + t.Name,
			remoteName: t.Name,
			desc:       t.Description,
			params:     inputSchema(t),
			client:     c,
		})
	}
	return ts, nil
}

// Name returns the configured server name.
func (ts *Toolset) Name() string { return ts.name }

// Tools returns the remote tools as capabilities.
func (ts *Toolset) Tools() []tool.Tool { return ts.tools }

// Close shuts down the client connection. It is safe to call more than once.
func (ts *Toolset) Close() error {
	ts.closeOnce.Do(func() { ts.closeErr = ts.client.Close() })
	return ts.closeErr
}

// inputSchema extracts the JSON schema from a tool via its wire encoding,
// which covers both structured and raw schemas.
func inputSchema(t mcp.Tool) map[string]any {
	fallback := map[string]any{"type": "object", "properties": map[string]any{}}

	b, err := json.Marshal(t)
	if err != nil {
		return fallback
	}
	var wire struct {
		InputSchema map[string]any `json:"inputSchema"`
	}
	if err := json.Unmarshal(b, &wire); err != nil || wire.InputSchema == nil {
		return fallback
	}
	return wire.InputSchema
}

type remoteTool struct {
	name       string
	remoteName string
	desc       string
	params     map[string]any
	client     *client.Client
}

func (t *remoteTool) Name() string               { return t.name }
func (t *remoteTool) Description() string        { return t.desc }
func (t *remoteTool) Parameters() map[string]any { return t.params }

// Call forwards the invocation. An MCP result flagged as error is returned
// as a tool.ToolError carrying the server's text.
func (t *remoteTool) Call(cc *core.CapabilityContext, args map[string]any) (any, error) {
	req := mcp.CallToolRequest{}
	req.Params.Name = t.remoteName
	req.Params.Arguments = args

	res, err := t.client.CallTool(cc.Context(), req)
	if err != nil {
		return nil, &tool.ToolError{Tool: t.name, Message: err.Error(), Code: tool.CodeExecution, Cause: err}
	}

	text := contentText(res.Content)
	if res.IsError {
		if text == "" {
			text = "remote tool failed"
		}
		return nil, &tool.ToolError{Tool: t.name, Message: text, Code: tool.CodeExecution, Cause: errors.New(text)}
	}
	return text, nil
}

func contentText(contents []mcp.Content) string {
	var parts []string
	for _, c := range contents {
		switch v := c.(type) {
		case mcp.TextContent:
			parts = append(parts, v.Text)
		case *mcp.TextContent:
			parts = append(parts, v.Text)
		default:
			if b, err := json.Marshal(c); err == nil {
				parts = append(parts, string(b))
			}
		}
	}
	return strings.Join(parts, "\n")
}
