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

package stream

import (
	"encoding/json"
	"time"

	"github.com/teradata-labs/brain/pkg/bridge"
	"github.com/teradata-labs/brain/pkg/reasoning"
	"github.com/teradata-labs/brain/pkg/types"
)

// EventType is the "type" discriminator of a server-to-client message.
type EventType string

const (
	TypeStatus           EventType = "status"
	TypeWorkflowProgress EventType = "workflow_progress"
	TypeAgentStatus      EventType = "agent_status"
	TypeThinking         EventType = "thinking"
	TypeToolExecution    EventType = "tool_execution"
	TypeAgentResponse    EventType = "agent_response"
	TypeServersList      EventType = "servers_list"
	TypeToolsList        EventType = "tools_list"
	TypeError            EventType = "error"
	TypeWorkflowStatus   EventType = "workflow_status"
	TypeReasoningChain   EventType = "reasoning_chain"
	TypeSystemStatus     EventType = "system_status"
	TypeServersUpdate    EventType = "servers_update"
	TypeServerConnected  EventType = "server_connected"
	TypeAvailableTools   EventType = "available_tools"
	TypeTasksStatus      EventType = "tasks_status"
)

// Event is one message to a client. It encodes as a flat JSON object whose
// "type" field is Type and whose other fields come from Data.
type Event struct {
	Type EventType
	Data map[string]any
}

// New creates an event with the given fields.
func New(t EventType, data map[string]any) Event {
	if data == nil {
		data = map[string]any{}
	}
	return Event{Type: t, Data: data}
}

func (e Event) MarshalJSON() ([]byte, error) {
	m := make(map[string]any, len(e.Data)+1)
	for k, v := range e.Data {
		m[k] = v
	}
	m["type"] = e.Type
	return json.Marshal(m)
}

func (e *Event) UnmarshalJSON(data []byte) error {
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	t, _ := m["type"].(string)
	delete(m, "type")
	e.Type = EventType(t)
	e.Data = m
	return nil
}

// Get returns a field of the event.
func (e Event) Get(key string) any {
	return e.Data[key]
}

// Status is sent once when a client connects.
func Status(sessionID string, servers any) Event {
	return New(TypeStatus, map[string]any{
		"session_id": sessionID,
		"servers":    servers,
		"timestamp":  time.Now().UTC(),
	})
}

// Progress reports a workflow phase and a completion percentage.
func Progress(workflowID, phase string, percent int) Event {
	return New(TypeWorkflowProgress, map[string]any{
		"workflow_id": workflowID,
		"phase":       phase,
		"progress":    percent,
	})
}

// AgentStatus reports a component's status change.
func AgentStatus(workflowID, agent, status string) Event {
	return New(TypeAgentStatus, map[string]any{
		"workflow_id": workflowID,
		"agent":       agent,
		"status":      status,
	})
}

// Thinking carries an intermediate phase note.
func Thinking(workflowID, phase, content string) Event {
	data := map[string]any{"content": content}
	if workflowID != "" {
		data["workflow_id"] = workflowID
	}
	if phase != "" {
		data["phase"] = phase
	}
	return New(TypeThinking, data)
}

// ToolExecution reports a finished tool call.
func ToolExecution(res *bridge.ToolResult) Event {
	data := map[string]any{
		"call_id":      res.CallID,
		"tool_name":    res.ToolName,
		"parameters":   res.Parameters,
		"provider_id":  res.ProviderID,
		"success":      res.Success,
		"submitted_at": res.SubmittedAt,
		"completed_at": res.CompletedAt,
		"duration_ms":  res.DurationMs,
	}
	if res.TaskID != "" {
		data["task_id"] = res.TaskID
	}
	if res.Success {
		data["result"] = res.Data
	} else {
		data["error"] = res.Error
	}
	return New(TypeToolExecution, data)
}

// AgentResponse carries the synthesized answer and the reasoning chain.
func AgentResponse(workflowID, content string, success bool, tasks any, chain []reasoning.Step) Event {
	return New(TypeAgentResponse, map[string]any{
		"workflow_id":     workflowID,
		"content":         content,
		"success":         success,
		"tasks":           tasks,
		"reasoning_chain": chain,
	})
}

// ServersList answers get_servers.
func ServersList(servers any) Event {
	return New(TypeServersList, map[string]any{"servers": servers})
}

// ServersUpdate is broadcast to every client when the provider set changes.
func ServersUpdate(servers any) Event {
	return New(TypeServersUpdate, map[string]any{"servers": servers})
}

// ServerConnected answers connect_server.
func ServerConnected(server any) Event {
	return New(TypeServerConnected, map[string]any{"server": server})
}

// AvailableTools answers get_available_tools with the merged catalog.
func AvailableTools(sessionID string, tools []bridge.CatalogEntry) Event {
	if tools == nil {
		tools = []bridge.CatalogEntry{}
	}
	return New(TypeAvailableTools, map[string]any{
		"session_id":  sessionID,
		"tools":       tools,
		"total_count": len(tools),
	})
}

// TasksStatus answers get_tasks.
func TasksStatus(sessionID, workflowID string, tasks any) Event {
	return New(TypeTasksStatus, map[string]any{
		"session_id":  sessionID,
		"workflow_id": workflowID,
		"tasks":       tasks,
	})
}

// ToolsList answers list_tools.
func ToolsList(serverID string, tools []types.Capability) Event {
	return New(TypeToolsList, map[string]any{"server_id": serverID, "tools": tools})
}

// Error converts err to an error event whose code is the error kind.
func Error(err error) Event {
	info := bridge.NewErrorInfo(err)
	data := map[string]any{
		"code":    info.Code,
		"message": info.Message,
		"error":   err.Error(),
	}
	if len(info.Details) > 0 {
		data["details"] = info.Details
	}
	return New(TypeError, data)
}

// WorkflowStatus answers get_workflow.
func WorkflowStatus(workflow any) Event {
	return New(TypeWorkflowStatus, map[string]any{"workflow": workflow})
}

// ReasoningChain answers get_reasoning.
func ReasoningChain(workflowID string, steps []reasoning.Step) Event {
	return New(TypeReasoningChain, map[string]any{"workflow_id": workflowID, "steps": steps})
}

// SystemStatus answers get_status.
func SystemStatus(status any) Event {
	return New(TypeSystemStatus, map[string]any{"status": status})
}
