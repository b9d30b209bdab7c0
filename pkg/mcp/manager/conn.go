// Copyright 2026 Teradata
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package manager

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"
	"go.uber.org/zap"

	"github.com/teradata-labs/brain/pkg/plugin"
	"github.com/teradata-labs/brain/pkg/types"
)

// Conn is a live session with one provider, independent of transport.
type Conn interface {
	// Handshake performs the capability handshake and returns the catalog.
	Handshake(ctx context.Context) ([]types.Capability, error)
	ListTools(ctx context.Context) ([]types.Capability, error)
	CallTool(ctx context.Context, name string, params map[string]any) (*CallResult, error)
	Ping(ctx context.Context) error
	Close() error
}

// CallResult is a provider's answer to a tool call. IsError marks an
// application-level failure reported by the provider.
type CallResult struct {
	Text       string
	Structured any
	IsError    bool
}

// Data returns the structured payload when present, the text otherwise.
func (r *CallResult) Data() any {
	if r.Structured != nil {
		return r.Structured
	}
	return r.Text
}

// Dialer opens a Conn for a provider. ctx outlives the handshake and bounds
// long-lived transport streams.
type Dialer func(ctx context.Context, id string, cfg ProviderConfig, info ClientInfo) (Conn, error)

// DefaultDialer opens MCP connections for stdio, sse, http and inprocess
// providers and go-plugin connections for plugin providers.
func DefaultDialer(logger *zap.Logger) Dialer {
	return func(ctx context.Context, id string, cfg ProviderConfig, info ClientInfo) (Conn, error) {
		if cfg.Transport == TransportPlugin {
			pc, err := plugin.Launch(plugin.LaunchConfig{
				Name:      id,
				Command:   cfg.Command,
				Args:      cfg.Args,
				Env:       envList(cfg.Env),
				LogOutput: zap.NewStdLog(logger.Named("plugin").With(zap.String("provider_id", id))).Writer(),
			})
			if err != nil {
				return nil, err
			}
			return NewPluginConn(pc), nil
		}

		c, err := dialMCP(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return NewMCPConn(c, info), nil
	}
}

func dialMCP(ctx context.Context, cfg ProviderConfig) (*client.Client, error) {
	var (
		c   *client.Client
		err error
	)

	switch cfg.Transport {
	case TransportStdio:
		// The stdio client starts its subprocess on construction.
		return client.NewStdioMCPClient(cfg.Command, envList(cfg.Env), cfg.Args...)
	case TransportSSE:
		c, err = client.NewSSEMCPClient(cfg.URL)
	case TransportHTTP:
		c, err = client.NewStreamableHttpClient(cfg.URL)
	case TransportInProcess:
		c, err = client.NewInProcessClient(cfg.Server)
	default:
		return nil, fmt.Errorf("unsupported transport: %s", cfg.Transport)
	}
	if err != nil {
		return nil, err
	}

	if err := c.Start(ctx); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("failed to start %s transport: %w", cfg.Transport, err)
	}
	return c, nil
}

func envList(env map[string]string) []string {
	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, k+"="+v)
	}
	sort.Strings(out)
	return out
}

// mcpConn adapts an mcp-go client.
type mcpConn struct {
	c    *client.Client
	info ClientInfo
}

// NewMCPConn wraps a started mcp-go client.
func NewMCPConn(c *client.Client, info ClientInfo) Conn {
	return &mcpConn{c: c, info: info}
}

func (m *mcpConn) Handshake(ctx context.Context) ([]types.Capability, error) {
	req := mcp.InitializeRequest{}
	req.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	req.Params.ClientInfo = mcp.Implementation{Name: m.info.Name, Version: m.info.Version}
	req.Params.Capabilities = mcp.ClientCapabilities{}

	if _, err := m.c.Initialize(ctx, req); err != nil {
		return nil, fmt.Errorf("initialize failed: %w", err)
	}
	return m.ListTools(ctx)
}

func (m *mcpConn) ListTools(ctx context.Context) ([]types.Capability, error) {
	res, err := m.c.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		return nil, fmt.Errorf("tools/list failed: %w", err)
	}

	caps := make([]types.Capability, 0, len(res.Tools))
	for _, tool := range res.Tools {
		caps = append(caps, types.Capability{
			Name:        tool.Name,
			Description: tool.Description,
			InputSchema: inputSchema(tool),
		})
	}
	return caps, nil
}

func inputSchema(tool mcp.Tool) map[string]any {
	if len(tool.RawInputSchema) > 0 {
		var doc map[string]any
		if err := json.Unmarshal(tool.RawInputSchema, &doc); err == nil {
			return doc
		}
	}

	schemaType := tool.InputSchema.Type
	if schemaType == "" {
		schemaType = "object"
	}
	doc := map[string]any{"type": schemaType}
	if len(tool.InputSchema.Properties) > 0 {
		doc["properties"] = tool.InputSchema.Properties
	}
	if len(tool.InputSchema.Required) > 0 {
		required := make([]any, len(tool.InputSchema.Required))
		for i, r := range tool.InputSchema.Required {
			required[i] = r
		}
		doc["required"] = required
	}
	return doc
}

func (m *mcpConn) CallTool(ctx context.Context, name string, params map[string]any) (*CallResult, error) {
	req := mcp.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = params

	res, err := m.c.CallTool(ctx, req)
	if err != nil {
		return nil, err
	}

	texts := make([]string, 0, len(res.Content))
	for _, content := range res.Content {
		switch c := content.(type) {
		case mcp.TextContent:
			texts = append(texts, c.Text)
		case *mcp.TextContent:
			texts = append(texts, c.Text)
		default:
			data, err := json.Marshal(content)
			if err == nil {
				texts = append(texts, string(data))
			}
		}
	}

	return &CallResult{Text: strings.Join(texts, "\n"), IsError: res.IsError}, nil
}

func (m *mcpConn) Ping(ctx context.Context) error {
	return m.c.Ping(ctx)
}

func (m *mcpConn) Close() error {
	return m.c.Close()
}

// pluginConn adapts a go-plugin provider. net/rpc calls are not context
// aware, so a cancelled call returns immediately and its reply is dropped.
type pluginConn struct {
	pc *plugin.Client
}

// NewPluginConn wraps a launched plugin client.
func NewPluginConn(pc *plugin.Client) Conn {
	return &pluginConn{pc: pc}
}

func (p *pluginConn) Handshake(ctx context.Context) ([]types.Capability, error) {
	return p.ListTools(ctx)
}

func (p *pluginConn) ListTools(ctx context.Context) ([]types.Capability, error) {
	type reply struct {
		tools []plugin.ToolInfo
		err   error
	}
	ch := make(chan reply, 1)
	go func() {
		tools, err := p.pc.Provider().ListTools()
		ch <- reply{tools, err}
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-ch:
		if r.err != nil {
			return nil, r.err
		}
		caps := make([]types.Capability, 0, len(r.tools))
		for _, t := range r.tools {
			c := types.Capability{Name: t.Name, Description: t.Description}
			if t.Schema != "" {
				if err := json.Unmarshal([]byte(t.Schema), &c.InputSchema); err != nil {
					return nil, fmt.Errorf("tool %s has invalid schema: %w", t.Name, err)
				}
			}
			caps = append(caps, c)
		}
		return caps, nil
	}
}

func (p *pluginConn) CallTool(ctx context.Context, name string, params map[string]any) (*CallResult, error) {
	payload, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("failed to encode parameters: %w", err)
	}

	type reply struct {
		out string
		err error
	}
	ch := make(chan reply, 1)
	go func() {
		out, err := p.pc.Provider().Call(name, string(payload))
		ch <- reply{out, err}
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-ch:
		if r.err != nil {
			var toolErr *plugin.ToolError
			if errors.As(r.err, &toolErr) {
				return &CallResult{Text: toolErr.Message, IsError: true}, nil
			}
			return nil, r.err
		}
		result := &CallResult{Text: r.out}
		var structured any
		if json.Unmarshal([]byte(r.out), &structured) == nil {
			if _, isString := structured.(string); !isString {
				result.Structured = structured
			}
		}
		return result, nil
	}
}

func (p *pluginConn) Ping(ctx context.Context) error {
	if p.pc.Exited() {
		return fmt.Errorf("plugin %s exited", p.pc.Name())
	}
	_, err := p.ListTools(ctx)
	return err
}

func (p *pluginConn) Close() error {
	p.pc.Close()
	return nil
}
