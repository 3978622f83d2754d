// Package mcp provides a Model Context Protocol client used to reach external
// market-data tools (price lookups, liquidity pools) during research phases.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/aristath/arena-agent/internal/config"
	"github.com/aristath/arena-agent/internal/tools"
)

const protocolVersion = "2025-03-26"

type rpcRequest struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      *int64      `json:"id,omitempty"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcResponse struct {
	ID     *int64          `json:"id"`
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

// ToolDefinition is a tool advertised by the server
type ToolDefinition struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"inputSchema"`
}

type listToolsResult struct {
	Tools      []ToolDefinition `json:"tools"`
	NextCursor string           `json:"nextCursor"`
}

// Content is one block of a tool result
type Content struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// CallToolResult is the result of tools/call
type CallToolResult struct {
	Content []json.RawMessage `json:"content"`
	IsError bool              `json:"isError"`
}

// Text flattens the result: text blocks verbatim, other blocks as raw JSON.
func (r *CallToolResult) Text() string {
	parts := make([]string, 0, len(r.Content))
	for _, raw := range r.Content {
		var c Content
		if err := json.Unmarshal(raw, &c); err == nil && c.Type == "text" {
			parts = append(parts, c.Text)
			continue
		}
		parts = append(parts, string(raw))
	}
	return strings.Join(parts, "\n")
}

// Client is an initialized MCP session. It implements tools.Session.
type Client struct {
	transport Transport
	nextID    int64
	log       zerolog.Logger
}

// NewClient wraps a transport. Call Initialize before using it.
func NewClient(transport Transport, log zerolog.Logger) *Client {
	return &Client{
		transport: transport,
		log:       log.With().Str("client", "mcp").Logger(),
	}
}

// Initialize performs the protocol handshake
func (c *Client) Initialize(ctx context.Context) error {
	params := map[string]interface{}{
		"protocolVersion": protocolVersion,
		"capabilities":    map[string]interface{}{},
		"clientInfo": map[string]string{
			"name":    "arena-agent",
			"version": "1.0.0",
		},
	}

	var result struct {
		ProtocolVersion string `json:"protocolVersion"`
		ServerInfo      struct {
			Name string `json:"name"`
		} `json:"serverInfo"`
	}
	if err := c.call(ctx, "initialize", params, &result); err != nil {
		return fmt.Errorf("failed to initialize tool session: %w", err)
	}

	if err := c.notify(ctx, "notifications/initialized"); err != nil {
		return fmt.Errorf("failed to confirm tool session: %w", err)
	}

	c.log.Debug().
		Str("server", result.ServerInfo.Name).
		Str("protocol", result.ProtocolVersion).
		Msg("Tool session initialized")
	return nil
}

// ListTools returns every tool the server advertises, following pagination.
func (c *Client) ListTools(ctx context.Context) ([]ToolDefinition, error) {
	var all []ToolDefinition
	cursor := ""
	for {
		params := map[string]interface{}{}
		if cursor != "" {
			params["cursor"] = cursor
		}

		var page listToolsResult
		if err := c.call(ctx, "tools/list", params, &page); err != nil {
			return nil, fmt.Errorf("failed to list tools: %w", err)
		}
		all = append(all, page.Tools...)

		if page.NextCursor == "" {
			return all, nil
		}
		cursor = page.NextCursor
	}
}

// CallTool invokes a tool by name
func (c *Client) CallTool(ctx context.Context, name string, args json.RawMessage) (*CallToolResult, error) {
	if len(args) == 0 {
		args = json.RawMessage(`{}`)
	}
	params := map[string]interface{}{
		"name":      name,
		"arguments": args,
	}

	var result CallToolResult
	if err := c.call(ctx, "tools/call", params, &result); err != nil {
		return nil, fmt.Errorf("failed to call tool %s: %w", name, err)
	}
	return &result, nil
}

// Tools implements tools.Session
func (c *Client) Tools(ctx context.Context) ([]tools.Tool, error) {
	defs, err := c.ListTools(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]tools.Tool, 0, len(defs))
	for _, def := range defs {
		out = append(out, &remoteTool{client: c, def: def})
	}
	return out, nil
}

// Close implements tools.Session
func (c *Client) Close() error {
	return c.transport.Close()
}

func (c *Client) call(ctx context.Context, method string, params interface{}, out interface{}) error {
	id := atomic.AddInt64(&c.nextID, 1)
	msg, err := json.Marshal(rpcRequest{JSONRPC: "2.0", ID: &id, Method: method, Params: params})
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", method, err)
	}

	raw, err := c.transport.Send(ctx, msg, &id)
	if err != nil {
		return err
	}

	var resp rpcResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", method, err)
	}
	if resp.Error != nil {
		return fmt.Errorf("%s: rpc error %d: %s", method, resp.Error.Code, resp.Error.Message)
	}
	if out == nil || len(resp.Result) == 0 {
		return nil
	}
	if err := json.Unmarshal(resp.Result, out); err != nil {
		return fmt.Errorf("failed to decode %s result: %w", method, err)
	}
	return nil
}

func (c *Client) notify(ctx context.Context, method string) error {
	msg, err := json.Marshal(rpcRequest{JSONRPC: "2.0", Method: method})
	if err != nil {
		return err
	}
	_, err = c.transport.Send(ctx, msg, nil)
	return err
}

// remoteTool exposes a server tool through the tools.Tool interface
type remoteTool struct {
	client *Client
	def    ToolDefinition
}

func (t *remoteTool) Name() string        { return t.def.Name }
func (t *remoteTool) Description() string { return t.def.Description }

func (t *remoteTool) InputSchema() json.RawMessage {
	if len(t.def.InputSchema) == 0 {
		return json.RawMessage(`{"type":"object","properties":{}}`)
	}
	return t.def.InputSchema
}

func (t *remoteTool) Call(ctx context.Context, args json.RawMessage) (string, error) {
	result, err := t.client.CallTool(ctx, t.def.Name, args)
	if err != nil {
		return "", err
	}
	if result.IsError {
		return "", fmt.Errorf("tool %s reported error: %s", t.def.Name, result.Text())
	}
	return result.Text(), nil
}

// Provider opens MCP sessions from configuration
type Provider struct {
	cfg config.ToolsConfig
	log zerolog.Logger
}

// NewProvider creates a provider for the configured tool server
func NewProvider(cfg config.ToolsConfig, log zerolog.Logger) *Provider {
	return &Provider{cfg: cfg, log: log}
}

// Open implements tools.Provider
func (p *Provider) Open(ctx context.Context) (tools.Session, error) {
	headers := http.Header{}
	if p.cfg.APIKey != "" {
		headers.Set("Authorization", p.cfg.APIKey)
	}

	var transport Transport
	switch p.cfg.Transport {
	case config.TransportWS:
		ws, err := DialWebSocket(ctx, p.cfg.URL, headers)
		if err != nil {
			return nil, err
		}
		transport = ws
	case config.TransportHTTP:
		transport = NewHTTPTransport(p.cfg.URL, headers, 0)
	case config.TransportSSE, "":
		sse, err := DialSSE(ctx, p.cfg.URL, headers, 0)
		if err != nil {
			return nil, err
		}
		p.log.Debug().Str("endpoint", sse.Endpoint()).Msg("Tool server event stream open")
		transport = sse
	default:
		return nil, fmt.Errorf("unknown tool transport %q", p.cfg.Transport)
	}

	client := NewClient(transport, p.log)
	if err := client.Initialize(ctx); err != nil {
		transport.Close()
		return nil, err
	}
	return client, nil
}
