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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teradata-labs/brain/pkg/bridge"
	"github.com/teradata-labs/brain/pkg/reasoning"
	"github.com/teradata-labs/brain/pkg/types"
)

func roundTrip(t *testing.T, ev Event) map[string]any {
	t.Helper()
	data, err := json.Marshal(ev)
	require.NoError(t, err)
	var m map[string]any
	require.NoError(t, json.Unmarshal(data, &m))
	return m
}

func TestEvent_MarshalIsFlat(t *testing.T) {
	m := roundTrip(t, Progress("wf-1", "Planning", 10))
	assert.Equal(t, map[string]any{
		"type":        "workflow_progress",
		"workflow_id": "wf-1",
		"phase":       "Planning",
		"progress":    float64(10),
	}, m)
}

func TestEvent_Unmarshal(t *testing.T) {
	var ev Event
	require.NoError(t, json.Unmarshal([]byte(`{"type":"thinking","content":"Processing query..."}`), &ev))
	assert.Equal(t, TypeThinking, ev.Type)
	assert.Equal(t, "Processing query...", ev.Get("content"))
	assert.NotContains(t, ev.Data, "type")
}

func TestError_UsesKindAsCode(t *testing.T) {
	err := types.NewValidationError("missing field %q", "query")
	m := roundTrip(t, Error(err))
	assert.Equal(t, "error", m["type"])
	assert.Equal(t, "ValidationError", m["code"])
	assert.Equal(t, `missing field "query"`, m["message"])

	m = roundTrip(t, Error(types.NewUnsupportedCommandError("dance")))
	assert.Equal(t, "UnsupportedCommandError", m["code"])
}

func TestToolExecution(t *testing.T) {
	now := time.Now()
	ok := ToolExecution(&bridge.ToolResult{
		CallID: "c1", ToolName: "read_file", Parameters: map[string]any{"path": "a"},
		ProviderID: "fs", Success: true, Data: "contents", SubmittedAt: now, CompletedAt: now, DurationMs: 3,
	})
	assert.Equal(t, "contents", ok.Get("result"))
	assert.Nil(t, ok.Get("error"))
	assert.Equal(t, int64(3), ok.Get("duration_ms"))

	failed := ToolExecution(&bridge.ToolResult{
		ToolName: "read_file", TaskID: "t1", Error: &bridge.ErrorInfo{Code: "TimeoutError", Message: "slow"},
	})
	assert.Nil(t, failed.Get("result"))
	assert.Equal(t, "t1", failed.Get("task_id"))
	assert.Equal(t, false, failed.Get("success"))
}

func TestAgentResponse(t *testing.T) {
	chain := []reasoning.Step{{Number: 1, Kind: reasoning.KindPlan}}
	m := roundTrip(t, AgentResponse("wf", "done", true, nil, chain))
	assert.Equal(t, "agent_response", m["type"])
	assert.Equal(t, true, m["success"])
	steps := m["reasoning_chain"].([]any)
	require.Len(t, steps, 1)
	assert.Equal(t, "plan", steps[0].(map[string]any)["kind"])
}

func TestThinking_OmitsEmptyFields(t *testing.T) {
	ev := Thinking("", "", "Processing query...")
	assert.Equal(t, map[string]any{"content": "Processing query..."}, ev.Data)
}

func TestAvailableTools_CountsEntries(t *testing.T) {
	m := roundTrip(t, AvailableTools("s1", nil))
	assert.Equal(t, "available_tools", m["type"])
	assert.Equal(t, float64(0), m["total_count"])
	assert.Equal(t, []any{}, m["tools"])

	ev := AvailableTools("s1", []bridge.CatalogEntry{
		{ProviderID: "filesystem", Capability: types.Capability{Name: "read_file"}},
	})
	assert.Equal(t, 1, ev.Get("total_count"))
}
