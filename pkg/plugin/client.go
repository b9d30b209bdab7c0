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

package plugin

import (
	"fmt"
	"io"
	"os/exec"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-plugin"
)

// Client owns a running plugin process and its dispensed provider.
type Client struct {
	client   *plugin.Client
	provider ToolProvider
	name     string
}

// LaunchConfig describes how to start a provider binary.
type LaunchConfig struct {
	Name    string
	Command string
	Args    []string
	Env     []string
	// LogOutput receives the plugin host's log lines. Nil discards them.
	LogOutput io.Writer
}

// Launch starts the provider binary and dispenses its ToolProvider.
func Launch(cfg LaunchConfig) (*Client, error) {
	output := cfg.LogOutput
	if output == nil {
		output = io.Discard
	}
	logger := hclog.New(&hclog.LoggerOptions{
		Name:   "plugin." + cfg.Name,
		Output: output,
		Level:  hclog.Warn,
	})

	cmd := exec.Command(cfg.Command, cfg.Args...)
	cmd.Env = append(cmd.Environ(), cfg.Env...)

	client := plugin.NewClient(&plugin.ClientConfig{
		HandshakeConfig:  Handshake,
		Plugins:          PluginMap,
		Cmd:              cmd,
		Logger:           logger,
		AllowedProtocols: []plugin.Protocol{plugin.ProtocolNetRPC},
	})

	rpcClient, err := client.Client()
	if err != nil {
		client.Kill()
		return nil, fmt.Errorf("failed to connect to plugin %s: %w", cfg.Name, err)
	}

	raw, err := rpcClient.Dispense(PluginName)
	if err != nil {
		client.Kill()
		return nil, fmt.Errorf("failed to dispense plugin %s: %w", cfg.Name, err)
	}

	provider, ok := raw.(ToolProvider)
	if !ok {
		client.Kill()
		return nil, fmt.Errorf("plugin %s does not implement ToolProvider", cfg.Name)
	}

	return &Client{client: client, provider: provider, name: cfg.Name}, nil
}

// NewClient wraps an already dispensed provider. Used with in-memory RPC
// connections where no process is owned.
func NewClient(name string, provider ToolProvider) *Client {
	return &Client{provider: provider, name: name}
}

// Name returns the provider name.
func (c *Client) Name() string {
	return c.name
}

// Provider returns the dispensed provider.
func (c *Client) Provider() ToolProvider {
	return c.provider
}

// Exited reports whether the plugin process is gone.
func (c *Client) Exited() bool {
	return c.client != nil && c.client.Exited()
}

// Close kills the plugin process.
func (c *Client) Close() {
	if c.client != nil {
		c.client.Kill()
	}
}
