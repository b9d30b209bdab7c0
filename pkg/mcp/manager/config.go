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

// Package manager is the tool registry and multi-server client: it keeps live
// connections to every tool provider, caches their catalogs and routes
// invocations to the owning provider.
package manager

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"gopkg.in/yaml.v3"
)

// Transport names a provider transport.
type Transport string

const (
	TransportStdio     Transport = "stdio"
	TransportSSE       Transport = "sse"
	TransportHTTP      Transport = "http"
	TransportInProcess Transport = "inprocess"
	TransportPlugin    Transport = "plugin"
)

const (
	DefaultCallTimeout      = 30 * time.Second
	DefaultHandshakeTimeout = 15 * time.Second
	DefaultFailureThreshold = 3
)

// Config defines the registry configuration.
type Config struct {
	// Providers maps provider id to provider configuration
	Providers map[string]ProviderConfig `yaml:"providers" json:"providers" mapstructure:"providers"`

	// Priority orders providers for duplicate tool names, highest first.
	// Providers not listed rank after listed ones, in id order.
	Priority []string `yaml:"priority" json:"priority" mapstructure:"priority"`

	// FailureThreshold is the number of consecutive timeouts after which a
	// provider is degraded
	FailureThreshold int `yaml:"failure_threshold" json:"failure_threshold" mapstructure:"failure_threshold"`

	// CallTimeout is the default per-call timeout (e.g., "30s")
	CallTimeout string `yaml:"call_timeout" json:"call_timeout" mapstructure:"call_timeout"`

	// HandshakeTimeout bounds initialize + discovery
	HandshakeTimeout string `yaml:"handshake_timeout" json:"handshake_timeout" mapstructure:"handshake_timeout"`

	// ClientInfo is sent to MCP providers during initialize
	ClientInfo ClientInfo `yaml:"client_info" json:"client_info" mapstructure:"client_info"`
}

// ProviderConfig defines a single tool provider.
type ProviderConfig struct {
	// Enabled indicates whether this provider should be connected
	Enabled bool `yaml:"enabled" json:"enabled" mapstructure:"enabled"`

	// Transport is one of stdio, sse, http, inprocess, plugin (default stdio)
	Transport Transport `yaml:"transport" json:"transport" mapstructure:"transport"`

	// Command and Args start the process for stdio and plugin transports
	Command string   `yaml:"command" json:"command" mapstructure:"command"`
	Args    []string `yaml:"args" json:"args" mapstructure:"args"`

	// Env are extra environment variables for the subprocess
	Env map[string]string `yaml:"env" json:"env" mapstructure:"env"`

	// URL is the endpoint for sse and http transports
	URL string `yaml:"url" json:"url" mapstructure:"url"`

	// Timeout overrides the registry call timeout (e.g., "10s")
	Timeout string `yaml:"timeout" json:"timeout" mapstructure:"timeout"`

	// Serialize forces one in-flight call at a time for this provider
	Serialize bool `yaml:"serialize" json:"serialize" mapstructure:"serialize"`

	// Tools filters which discovered tools are registered
	Tools ToolFilter `yaml:"tools" json:"tools" mapstructure:"tools"`

	// Server is the MCP server for the inprocess transport
	Server *server.MCPServer `yaml:"-" json:"-" mapstructure:"-"`
}

// ToolFilter controls which tools are registered from a provider. An empty
// filter registers everything.
type ToolFilter struct {
	// Include is a whitelist of tool names (if set, only these are registered)
	Include []string `yaml:"include" json:"include" mapstructure:"include"`

	// Exclude is a blacklist of tool names (applied after include)
	Exclude []string `yaml:"exclude" json:"exclude" mapstructure:"exclude"`
}

// ClientInfo provides implementation details sent to MCP providers.
type ClientInfo struct {
	Name    string `yaml:"name" json:"name" mapstructure:"name"`
	Version string `yaml:"version" json:"version" mapstructure:"version"`
}

// Validate checks the configuration and fills defaults.
func (c *Config) Validate() error {
	for id, p := range c.Providers {
		if err := p.Validate(); err != nil {
			return fmt.Errorf("provider %s: %w", id, err)
		}
		c.Providers[id] = p
	}

	if c.FailureThreshold < 0 {
		return fmt.Errorf("failure_threshold must be >= 0")
	}
	if c.FailureThreshold == 0 {
		c.FailureThreshold = DefaultFailureThreshold
	}
	if _, err := parseDuration(c.CallTimeout, DefaultCallTimeout); err != nil {
		return fmt.Errorf("call_timeout: %w", err)
	}
	if _, err := parseDuration(c.HandshakeTimeout, DefaultHandshakeTimeout); err != nil {
		return fmt.Errorf("handshake_timeout: %w", err)
	}

	seen := make(map[string]bool, len(c.Priority))
	for _, id := range c.Priority {
		if seen[id] {
			return fmt.Errorf("priority lists provider %s twice", id)
		}
		seen[id] = true
	}

	if c.ClientInfo.Name == "" {
		c.ClientInfo = DefaultConfig().ClientInfo
	}
	return nil
}

// Validate checks the provider configuration and defaults the transport.
func (p *ProviderConfig) Validate() error {
	if !p.Enabled {
		return nil // Disabled providers don't need validation
	}

	if p.Transport == "" {
		p.Transport = TransportStdio
	}

	switch p.Transport {
	case TransportStdio, TransportPlugin:
		if p.Command == "" {
			return fmt.Errorf("command required for %s transport", p.Transport)
		}
	case TransportSSE, TransportHTTP:
		if p.URL == "" {
			return fmt.Errorf("url required for %s transport", p.Transport)
		}
	case TransportInProcess:
		if p.Server == nil {
			return fmt.Errorf("server required for inprocess transport")
		}
	default:
		return fmt.Errorf("invalid transport: %s (must be 'stdio', 'sse', 'http', 'inprocess' or 'plugin')", p.Transport)
	}

	if _, err := parseDuration(p.Timeout, 0); err != nil {
		return fmt.Errorf("timeout: %w", err)
	}
	return nil
}

// ShouldRegister checks if a tool passes the filter.
func (f ToolFilter) ShouldRegister(toolName string) bool {
	if len(f.Include) > 0 && !contains(f.Include, toolName) {
		return false
	}
	return !contains(f.Exclude, toolName)
}

// fingerprint identifies a provider configuration for reload diffs.
func (p ProviderConfig) fingerprint() string {
	data, _ := json.Marshal(p)
	return fmt.Sprintf("%s|%p", data, p.Server)
}

func contains(slice []string, str string) bool {
	for _, s := range slice {
		if s == str {
			return true
		}
	}
	return false
}

func parseDuration(value string, fallback time.Duration) (time.Duration, error) {
	if value == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return 0, fmt.Errorf("duration must be positive, got %s", value)
	}
	return d, nil
}

// DefaultConfig returns a default configuration.
func DefaultConfig() Config {
	return Config{
		Providers:        make(map[string]ProviderConfig),
		FailureThreshold: DefaultFailureThreshold,
		CallTimeout:      DefaultCallTimeout.String(),
		HandshakeTimeout: DefaultHandshakeTimeout.String(),
		ClientInfo: ClientInfo{
			Name:    "brain",
			Version: "0.1.0",
		},
	}
}

// LoadConfigFile reads a YAML provider file. Missing fields keep their
// defaults.
func LoadConfigFile(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read provider config: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse provider config %s: %w", path, err)
	}
	if cfg.Providers == nil {
		cfg.Providers = make(map[string]ProviderConfig)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
