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

// Package router validates client commands and dispatches them to the
// session manager, workflow executor, tool bridge and registry.
package router

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/teradata-labs/brain/pkg/bridge"
	"github.com/teradata-labs/brain/pkg/mcp/manager"
	"github.com/teradata-labs/brain/pkg/reasoning"
	"github.com/teradata-labs/brain/pkg/session"
	"github.com/teradata-labs/brain/pkg/stream"
	"github.com/teradata-labs/brain/pkg/types"
	"github.com/teradata-labs/brain/pkg/workflow"
)

// Command names accepted from clients.
const (
	CmdAgentQuery      = "agent_query"
	CmdGetServers      = "get_servers"
	CmdListTools       = "list_tools"
	CmdToolExecute     = "tool_execute"
	CmdCancelWorkflow  = "cancel_workflow"
	CmdGetWorkflow     = "get_workflow"
	CmdGetReasoning    = "get_reasoning"
	CmdGetStatus       = "get_status"
	CmdReconnectServer = "reconnect_server"
	CmdConnectServer   = "connect_server"
	CmdAvailableTools  = "get_available_tools"
	CmdGetTasks        = "get_tasks"

	// CmdQuery is the legacy name of agent_query.
	CmdQuery = "query"
)

const defaultCancelWait = 5 * time.Second

// Command is one client message.
type Command struct {
	Command    string         `json:"command"`
	Query      string         `json:"query,omitempty"`
	ServerID   string         `json:"server_id,omitempty"`
	ToolName   string         `json:"tool_name,omitempty"`
	Parameters map[string]any `json:"parameters,omitempty"`
	// ServerConfig is the provider configuration of connect_server.
	ServerConfig map[string]any `json:"server_config,omitempty"`
	// Refresh makes list_tools re-run discovery instead of reading the cache.
	Refresh bool `json:"refresh,omitempty"`
}

// ParseCommand decodes a client message.
func ParseCommand(data []byte) (Command, error) {
	var cmd Command
	if err := json.Unmarshal(data, &cmd); err != nil {
		return Command{}, types.NewValidationError("malformed command: %v", err)
	}
	cmd.Command = strings.TrimSpace(cmd.Command)
	return cmd, nil
}

// Sessions is the session manager surface the router uses.
type Sessions interface {
	Get(id string) (*session.Session, error)
	AttachWorkflow(id string, wf *workflow.Workflow) error
	Metrics() session.Metrics
}

// Executor starts workflows.
type Executor interface {
	NewWorkflow(parent context.Context, sessionID, query string) (*workflow.Workflow, error)
	Start(wf *workflow.Workflow)
	Metrics() workflow.Metrics
}

// Tools executes direct tool calls.
type Tools interface {
	Call(ctx context.Context, sessionID string, req bridge.Request) (*bridge.ToolResult, error)
	Catalog() []bridge.CatalogEntry
	Stats() bridge.Stats
}

// Registry exposes providers and their catalogs.
type Registry interface {
	ListProviders() []manager.ProviderInfo
	ListTools(id string) ([]types.Capability, error)
	RefreshTools(ctx context.Context, id string) ([]types.Capability, error)
	Connect(ctx context.Context, id string, cfg manager.ProviderConfig) (manager.ProviderInfo, error)
	Reconnect(ctx context.Context, id string) (manager.ProviderInfo, error)
	Health() string
}

// Notifier emits events outside the request/response cycle.
type Notifier interface {
	Emit(sessionID string, ev stream.Event) bool
	Broadcast(ev stream.Event) int
}

// Config configures a Router.
type Config struct {
	Sessions Sessions
	Executor Executor
	Tools    Tools
	Registry Registry
	Notifier Notifier
	// CancelWait bounds how long cancel_workflow waits for the workflow to
	// reach a terminal phase.
	CancelWait time.Duration
	Logger     *zap.Logger
}

// Router dispatches commands. It holds no state of its own.
type Router struct {
	sessions   Sessions
	executor   Executor
	tools      Tools
	registry   Registry
	notifier   Notifier
	cancelWait time.Duration
	logger     *zap.Logger
}

// New creates a Router.
func New(cfg Config) (*Router, error) {
	if cfg.Sessions == nil || cfg.Executor == nil || cfg.Tools == nil || cfg.Registry == nil {
		return nil, errors.New("router requires sessions, executor, tools and registry")
	}
	if cfg.CancelWait <= 0 {
		cfg.CancelWait = defaultCancelWait
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Router{
		sessions:   cfg.Sessions,
		executor:   cfg.Executor,
		tools:      cfg.Tools,
		registry:   cfg.Registry,
		notifier:   cfg.Notifier,
		cancelWait: cfg.CancelWait,
		logger:     cfg.Logger,
	}, nil
}

// Handle decodes and routes a raw message and returns the event to send
// back, if any. Errors are returned as error events.
func (r *Router) Handle(ctx context.Context, sessionID string, data []byte) *stream.Event {
	cmd, err := ParseCommand(data)
	var ev *stream.Event
	if err == nil {
		ev, err = r.Route(ctx, sessionID, cmd)
	}
	if err != nil {
		r.logger.Debug("Command rejected",
			zap.String("session_id", sessionID),
			zap.String("command", cmd.Command),
			zap.String("kind", string(types.KindOf(err))),
			zap.Error(err))
		e := stream.Error(err)
		return &e
	}
	return ev
}

// Route validates cmd against the session and dispatches it. A nil event
// with a nil error means the response is streamed asynchronously.
func (r *Router) Route(ctx context.Context, sessionID string, cmd Command) (*stream.Event, error) {
	sess, err := r.sessions.Get(sessionID)
	if err != nil {
		return nil, err
	}
	sess.Touch()

	switch cmd.Command {
	case CmdAgentQuery, CmdQuery:
		return r.agentQuery(sess, cmd)
	case CmdGetServers:
		return event(stream.ServersList(r.registry.ListProviders())), nil
	case CmdListTools:
		return r.listTools(ctx, cmd)
	case CmdAvailableTools:
		return event(stream.AvailableTools(sess.ID, r.tools.Catalog())), nil
	case CmdToolExecute:
		return r.toolExecute(sess, cmd)
	case CmdCancelWorkflow:
		return r.cancelWorkflow(ctx, sess)
	case CmdGetWorkflow:
		wf := sess.Workflow()
		if wf == nil {
			return nil, types.NewNotFoundError("session has no workflow")
		}
		return event(stream.WorkflowStatus(wf.Snapshot())), nil
	case CmdGetTasks:
		if wf := sess.Workflow(); wf != nil {
			return event(stream.TasksStatus(sess.ID, wf.ID, wf.Tasks())), nil
		}
		return event(stream.TasksStatus(sess.ID, "", []*workflow.Task{})), nil
	case CmdGetReasoning:
		if wf := sess.Workflow(); wf != nil {
			return event(stream.ReasoningChain(wf.ID, wf.Chain().Steps())), nil
		}
		return event(stream.ReasoningChain("", sess.Chain().Steps())), nil
	case CmdGetStatus:
		return event(stream.SystemStatus(r.Status())), nil
	case CmdReconnectServer:
		return r.reconnect(ctx, cmd)
	case CmdConnectServer:
		return r.connect(ctx, cmd)
	case "":
		return nil, types.NewValidationError("command is required")
	default:
		return nil, types.NewUnsupportedCommandError(cmd.Command)
	}
}

func event(ev stream.Event) *stream.Event {
	return &ev
}

func (r *Router) agentQuery(sess *session.Session, cmd Command) (*stream.Event, error) {
	query := strings.TrimSpace(cmd.Query)
	if query == "" {
		return nil, types.NewValidationError("%s requires a query", cmd.Command)
	}

	wf, err := r.executor.NewWorkflow(sess.Context(), sess.ID, query)
	if err != nil {
		return nil, err
	}
	if err := r.sessions.AttachWorkflow(sess.ID, wf); err != nil {
		wf.Cancel()
		return nil, err
	}

	if r.notifier != nil {
		r.notifier.Emit(sess.ID, stream.Thinking("", "", "Processing query..."))
	}
	r.executor.Start(wf)
	r.logger.Info("Workflow accepted",
		zap.String("session_id", sess.ID),
		zap.String("workflow_id", wf.ID))
	return nil, nil
}

func (r *Router) listTools(ctx context.Context, cmd Command) (*stream.Event, error) {
	if cmd.ServerID == "" {
		return nil, types.NewValidationError("list_tools requires server_id")
	}
	var (
		tools []types.Capability
		err   error
	)
	if cmd.Refresh {
		tools, err = r.registry.RefreshTools(ctx, cmd.ServerID)
	} else {
		tools, err = r.registry.ListTools(cmd.ServerID)
	}
	if err != nil {
		return nil, err
	}
	return event(stream.ToolsList(cmd.ServerID, tools)), nil
}

func (r *Router) toolExecute(sess *session.Session, cmd Command) (*stream.Event, error) {
	if strings.TrimSpace(cmd.ToolName) == "" {
		return nil, types.NewValidationError("tool_execute requires tool_name")
	}
	ctx := reasoning.WithRecorder(sess.Context(), sess.Chain())
	res, err := r.tools.Call(ctx, sess.ID, bridge.Request{
		ToolName:   cmd.ToolName,
		Parameters: cmd.Parameters,
		ProviderID: cmd.ServerID,
	})
	if err != nil && types.IsLocal(err) {
		return nil, err
	}
	return event(stream.ToolExecution(res)), nil
}

func (r *Router) cancelWorkflow(ctx context.Context, sess *session.Session) (*stream.Event, error) {
	wf := sess.ActiveWorkflow()
	if wf == nil {
		return nil, types.NewNotFoundError("session has no active workflow")
	}
	wf.Cancel()

	timer := time.NewTimer(r.cancelWait)
	defer timer.Stop()
	select {
	case <-wf.Done():
	case <-ctx.Done():
	case <-timer.C:
		r.logger.Warn("Workflow still running after cancellation",
			zap.String("session_id", sess.ID),
			zap.String("workflow_id", wf.ID),
			zap.String("phase", string(wf.Phase())))
	}
	return event(stream.Progress(wf.ID, string(wf.Phase()), 100)), nil
}

func (r *Router) reconnect(ctx context.Context, cmd Command) (*stream.Event, error) {
	if cmd.ServerID == "" {
		return nil, types.NewValidationError("reconnect_server requires server_id")
	}
	info, err := r.registry.Reconnect(ctx, cmd.ServerID)
	if err != nil {
		return nil, err
	}
	r.logger.Info("Provider reconnected", zap.String("provider_id", info.ID), zap.Int("tools", info.ToolCount))
	r.BroadcastServers()
	return event(stream.ServersList(r.registry.ListProviders())), nil
}

// connect registers a provider at runtime. The provider is not written to
// the provider file and survives reloads of it.
func (r *Router) connect(ctx context.Context, cmd Command) (*stream.Event, error) {
	if cmd.ServerID == "" || len(cmd.ServerConfig) == 0 {
		return nil, types.NewValidationError("connect_server requires server_id and server_config")
	}
	cfg, err := decodeProviderConfig(cmd.ServerConfig)
	if err != nil {
		return nil, err
	}

	info, err := r.registry.Connect(ctx, cmd.ServerID, cfg)
	if err != nil {
		if types.KindOf(err) == types.KindConnection {
			// The provider stays registered as unreachable; clients still
			// need to see it.
			r.BroadcastServers()
		}
		return nil, err
	}
	r.logger.Info("Provider added at runtime",
		zap.String("provider_id", info.ID),
		zap.String("transport", string(cfg.Transport)),
		zap.Int("tools", info.ToolCount))
	r.BroadcastServers()
	return event(stream.ServerConnected(info)), nil
}

// decodeProviderConfig maps a client supplied provider configuration onto
// the registry's. Enabled defaults to true.
func decodeProviderConfig(raw map[string]any) (manager.ProviderConfig, error) {
	cfg := manager.ProviderConfig{Enabled: true}
	data, err := json.Marshal(raw)
	if err == nil {
		err = json.Unmarshal(data, &cfg)
	}
	if err != nil {
		return manager.ProviderConfig{}, types.NewValidationError("invalid server_config: %v", err)
	}
	return cfg, nil
}

// BroadcastServers sends the current provider list to every client.
func (r *Router) BroadcastServers() {
	if r.notifier == nil {
		return
	}
	n := r.notifier.Broadcast(stream.ServersUpdate(r.registry.ListProviders()))
	r.logger.Debug("Broadcast provider list", zap.Int("sessions", n))
}

// SystemStatus is the payload of get_status and the health endpoint.
type SystemStatus struct {
	Health           string                 `json:"health"`
	Providers        []manager.ProviderInfo `json:"providers"`
	Sessions         session.Metrics        `json:"sessions"`
	Workflows        workflow.Metrics       `json:"workflows"`
	QueriesProcessed int64                  `json:"queries_processed"`
	ToolsExecuted    int64                  `json:"tools_executed"`
	AvgDurationMs    float64                `json:"avg_duration_ms"`
	SuccessRate      float64                `json:"success_rate"`
}

// Status reports provider health and coordinator metrics.
func (r *Router) Status() SystemStatus {
	wm := r.executor.Metrics()
	return SystemStatus{
		Health:           r.registry.Health(),
		Providers:        r.registry.ListProviders(),
		Sessions:         r.sessions.Metrics(),
		Workflows:        wm,
		QueriesProcessed: wm.QueriesProcessed,
		ToolsExecuted:    r.tools.Stats().Calls,
		AvgDurationMs:    wm.AvgDurationMs,
		SuccessRate:      wm.SuccessRate,
	}
}
