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

package filesystem

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/teradata-labs/brain/pkg/plugin"
)

// Plugin exposes the provider over the go-plugin tool protocol.
func (p *Provider) Plugin() plugin.ToolProvider {
	return &pluginAdapter{provider: p}
}

type pluginAdapter struct {
	provider *Provider
}

func (a *pluginAdapter) ListTools() ([]plugin.ToolInfo, error) {
	tools := a.provider.tools()
	out := make([]plugin.ToolInfo, 0, len(tools))
	for _, t := range tools {
		schema, err := json.Marshal(t.Tool.InputSchema)
		if err != nil {
			return nil, fmt.Errorf("failed to encode schema of %s: %w", t.Tool.Name, err)
		}
		out = append(out, plugin.ToolInfo{
			Name:        t.Tool.Name,
			Description: t.Tool.Description,
			Schema:      string(schema),
		})
	}
	return out, nil
}

func (a *pluginAdapter) Call(toolName string, payload string) (string, error) {
	var args map[string]any
	if payload != "" {
		if err := json.Unmarshal([]byte(payload), &args); err != nil {
			return "", fmt.Errorf("invalid payload: %w", err)
		}
	}
	for _, t := range a.provider.tools() {
		if t.Tool.Name != toolName {
			continue
		}
		req := mcp.CallToolRequest{Params: mcp.CallToolParams{Name: toolName, Arguments: args}}
		res, err := t.Handler(context.Background(), req)
		if err != nil {
			return "", err
		}
		text := contentText(res)
		if res.IsError {
			return "", errors.New(text)
		}
		return text, nil
	}
	return "", fmt.Errorf("unknown tool %s", toolName)
}

func contentText(res *mcp.CallToolResult) string {
	var parts []string
	for _, c := range res.Content {
		if tc, ok := c.(mcp.TextContent); ok {
			parts = append(parts, tc.Text)
		}
	}
	return strings.Join(parts, "\n")
}
