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

// Package plugin defines the net/rpc protocol for tool providers shipped as
// go-plugin executables.
package plugin

import (
	"net/rpc"

	"github.com/hashicorp/go-plugin"
)

// PluginName is the key providers are dispensed under.
const PluginName = "tools"

// Handshake is shared by the host and every provider binary.
var Handshake = plugin.HandshakeConfig{
	ProtocolVersion:  1,
	MagicCookieKey:   "BRAIN_TOOL_PLUGIN",
	MagicCookieValue: "c1f0b7f4-tool-provider",
}

// ToolInfo describes one tool. Schema is a JSON-Schema document encoded as
// JSON so that it crosses gob without type registration.
type ToolInfo struct {
	Name        string
	Description string
	Schema      string
}

// ToolProvider is implemented by plugin binaries. Call receives and returns
// JSON payloads. A non-nil error from Call is an application-level failure.
type ToolProvider interface {
	ListTools() ([]ToolInfo, error)
	Call(toolName string, payload string) (string, error)
}

// PluginMap is the plugin set a host dispenses from.
var PluginMap = map[string]plugin.Plugin{
	PluginName: &ToolProviderPlugin{},
}

// ToolProviderPlugin adapts ToolProvider to go-plugin's net/rpc transport.
type ToolProviderPlugin struct {
	Impl ToolProvider
}

func (p *ToolProviderPlugin) Server(*plugin.MuxBroker) (interface{}, error) {
	return &RPCServer{Impl: p.Impl}, nil
}

func (ToolProviderPlugin) Client(_ *plugin.MuxBroker, c *rpc.Client) (interface{}, error) {
	return &RPCClient{client: c}, nil
}

// CallArgs is the request of a tool call.
type CallArgs struct {
	Tool    string
	Payload string
}

// CallReply carries either the output or the provider's failure message.
type CallReply struct {
	Output    string
	ToolError string
}

// ToolError is returned by RPCClient.Call when the provider reported an
// application-level failure. Any other error is a transport failure.
type ToolError struct {
	Message string
}

func (e *ToolError) Error() string {
	return e.Message
}

// RPCClient is the host side of the protocol.
type RPCClient struct {
	client *rpc.Client
}

func (c *RPCClient) ListTools() ([]ToolInfo, error) {
	var resp []ToolInfo
	if err := c.client.Call("Plugin.ListTools", new(interface{}), &resp); err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *RPCClient) Call(toolName string, payload string) (string, error) {
	var reply CallReply
	if err := c.client.Call("Plugin.Call", &CallArgs{Tool: toolName, Payload: payload}, &reply); err != nil {
		return "", err
	}
	if reply.ToolError != "" {
		return "", &ToolError{Message: reply.ToolError}
	}
	return reply.Output, nil
}

// RPCServer is the provider side of the protocol.
type RPCServer struct {
	Impl ToolProvider
}

func (s *RPCServer) ListTools(_ interface{}, resp *[]ToolInfo) error {
	tools, err := s.Impl.ListTools()
	if err != nil {
		return err
	}
	*resp = tools
	return nil
}

func (s *RPCServer) Call(args *CallArgs, reply *CallReply) error {
	out, err := s.Impl.Call(args.Tool, args.Payload)
	if err != nil {
		reply.ToolError = err.Error()
		return nil
	}
	reply.Output = out
	return nil
}

// Serve runs impl as a plugin provider. It blocks until the host disconnects.
func Serve(impl ToolProvider) {
	plugin.Serve(&plugin.ServeConfig{
		HandshakeConfig: Handshake,
		Plugins: map[string]plugin.Plugin{
			PluginName: &ToolProviderPlugin{Impl: impl},
		},
	})
}
