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

package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/teradata-labs/brain/pkg/llm"
	"github.com/teradata-labs/brain/pkg/types"
)

const plannerSystemPrompt = `You are a planning component that decomposes a user request into tool-backed tasks.
Reply with JSON only, no prose, in this shape:
{"tasks": [{"id": "task-1", "title": "...", "description": "...", "priority": "low|medium|high|critical",
  "tool": "<tool name from the catalog or empty>", "parameters": {...}, "dependencies": ["task-id", ...]}]}
Use only tools from the catalog. Dependencies must reference earlier tasks. Keep the plan minimal.`

// LLMPlanner asks a language model for the task graph.
type LLMPlanner struct {
	Completer llm.Completer
	Logger    *zap.Logger
}

// NewLLMPlanner creates an LLMPlanner.
func NewLLMPlanner(c llm.Completer, logger *zap.Logger) *LLMPlanner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LLMPlanner{Completer: c, Logger: logger}
}

type llmTask struct {
	ID           string         `json:"id"`
	Title        string         `json:"title"`
	Description  string         `json:"description"`
	Priority     any            `json:"priority"`
	Tool         string         `json:"tool"`
	Parameters   map[string]any `json:"parameters"`
	Dependencies []string       `json:"dependencies"`
}

// Plan implements Planner.
func (p *LLMPlanner) Plan(ctx context.Context, req PlanRequest) ([]*Task, error) {
	if strings.TrimSpace(req.Query) == "" {
		return nil, types.NewPlanningError(nil, "empty query")
	}
	reply, err := llm.Ask(ctx, p.Completer, plannerSystemPrompt, plannerPrompt(req))
	if err != nil {
		return nil, types.NewPlanningError(err, "planner model call failed")
	}

	tasks, err := ParseTaskGraph(reply)
	if err != nil {
		p.Logger.Warn("Planner returned unusable output", zap.String("reply", truncate(reply, 500)), zap.Error(err))
		return nil, err
	}
	p.Logger.Debug("Planned query", zap.Int("tasks", len(tasks)))
	return tasks, nil
}

func plannerPrompt(req PlanRequest) string {
	var b strings.Builder
	b.WriteString("Tool catalog:\n")
	for _, e := range req.Catalog {
		fmt.Fprintf(&b, "- %s [%s]: %s\n", e.Capability.Schema().Summary(), e.ProviderID, e.Capability.Description)
	}
	if len(req.Catalog) == 0 {
		b.WriteString("(no tools available)\n")
	}
	if len(req.Recommended) > 0 {
		names := make([]string, len(req.Recommended))
		for i, e := range req.Recommended {
			names[i] = e.Capability.Name
		}
		fmt.Fprintf(&b, "\nMost relevant tools: %s\n", strings.Join(names, ", "))
	}
	fmt.Fprintf(&b, "\nRequest: %s\n", req.Query)
	return b.String()
}

// ParseTaskGraph decodes a model reply into tasks. The JSON may be bare,
// fenced, or surrounded by text; it may be an object with a "tasks" array
// or the array itself.
func ParseTaskGraph(reply string) ([]*Task, error) {
	body := extractJSON(reply)
	if body == "" {
		return nil, types.NewPlanningError(nil, "planner output contains no JSON")
	}

	var raw []llmTask
	if strings.HasPrefix(body, "[") {
		if err := json.Unmarshal([]byte(body), &raw); err != nil {
			return nil, types.NewPlanningError(err, "invalid task graph JSON")
		}
	} else {
		var envelope struct {
			Tasks []llmTask `json:"tasks"`
		}
		if err := json.Unmarshal([]byte(body), &envelope); err != nil {
			return nil, types.NewPlanningError(err, "invalid task graph JSON")
		}
		raw = envelope.Tasks
	}
	if len(raw) == 0 {
		return nil, types.NewPlanningError(nil, "planner produced no tasks")
	}

	tasks := make([]*Task, len(raw))
	for i, r := range raw {
		t := &Task{
			ID:           strings.TrimSpace(r.ID),
			Title:        r.Title,
			Description:  r.Description,
			Priority:     priorityOf(r.Priority),
			Tool:         strings.TrimSpace(r.Tool),
			Parameters:   r.Parameters,
			Dependencies: r.Dependencies,
			Status:       TaskPending,
		}
		if t.ID == "" {
			t.ID = fmt.Sprintf("task-%d", i+1)
		}
		if t.Title == "" {
			t.Title = t.Description
		}
		tasks[i] = t
	}
	return tasks, nil
}

func priorityOf(v any) Priority {
	switch p := v.(type) {
	case string:
		return ParsePriority(p)
	case float64:
		if p >= float64(PriorityLow) && p <= float64(PriorityCritical) {
			return Priority(int(p))
		}
	}
	return PriorityMedium
}

func extractJSON(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.Index(s, "```"); i >= 0 {
		rest := s[i+3:]
		if nl := strings.Index(rest, "\n"); nl >= 0 {
			rest = rest[nl+1:]
		}
		if j := strings.Index(rest, "```"); j >= 0 {
			s = strings.TrimSpace(rest[:j])
		}
	}
	start := strings.IndexAny(s, "{[")
	if start < 0 {
		return ""
	}
	closer := "}"
	if s[start] == '[' {
		closer = "]"
	}
	end := strings.LastIndex(s, closer)
	if end < start {
		return ""
	}
	return s[start : end+1]
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

var (
	_ Planner = (*LLMPlanner)(nil)
	_ Planner = KeywordPlanner{}
)
