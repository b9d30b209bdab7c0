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

// Package workflow runs a query through planning, orchestration and
// execution to a terminal phase.
package workflow

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/teradata-labs/brain/pkg/bridge"
	"github.com/teradata-labs/brain/pkg/reasoning"
)

// Phase is a workflow state.
type Phase string

const (
	PhasePlanning      Phase = "Planning"
	PhaseOrchestrating Phase = "Orchestrating"
	PhaseExecuting     Phase = "Executing"
	PhaseCompleted     Phase = "Completed"
	PhaseFailed        Phase = "Failed"
	PhaseCancelled     Phase = "Cancelled"
)

// Terminal reports whether no further transition can happen.
func (p Phase) Terminal() bool {
	return p == PhaseCompleted || p == PhaseFailed || p == PhaseCancelled
}

// TaskStatus is the lifecycle state of a task.
type TaskStatus string

const (
	TaskPending TaskStatus = "pending"
	TaskReady   TaskStatus = "ready"
	TaskRunning TaskStatus = "running"
	TaskDone    TaskStatus = "done"
	TaskFailed  TaskStatus = "failed"
)

// Priority is reported with a task. It never changes dispatch order.
type Priority int

const (
	PriorityLow      Priority = 1
	PriorityMedium   Priority = 2
	PriorityHigh     Priority = 3
	PriorityCritical Priority = 4
)

var priorityNames = map[Priority]string{
	PriorityLow:      "low",
	PriorityMedium:   "medium",
	PriorityHigh:     "high",
	PriorityCritical: "critical",
}

func (p Priority) String() string {
	if name, ok := priorityNames[p]; ok {
		return name
	}
	return fmt.Sprintf("priority(%d)", int(p))
}

// ParsePriority accepts a priority name. Unknown names map to medium.
func ParsePriority(s string) Priority {
	for p, name := range priorityNames {
		if strings.EqualFold(strings.TrimSpace(s), name) {
			return p
		}
	}
	return PriorityMedium
}

func (p Priority) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

func (p *Priority) UnmarshalText(text []byte) error {
	*p = ParsePriority(string(text))
	return nil
}

// Task is a unit of work bound to zero or one tool call.
type Task struct {
	ID           string            `json:"id"`
	Title        string            `json:"title"`
	Description  string            `json:"description"`
	Priority     Priority          `json:"priority"`
	Dependencies []string          `json:"dependencies"`
	Tool         string            `json:"tool,omitempty"`
	Parameters   map[string]any    `json:"parameters,omitempty"`
	ProviderID   string            `json:"provider_id,omitempty"`
	Status       TaskStatus        `json:"status"`
	Result       any               `json:"result,omitempty"`
	Error        *bridge.ErrorInfo `json:"error,omitempty"`
	StartedAt    *time.Time        `json:"started_at,omitempty"`
	CompletedAt  *time.Time        `json:"completed_at,omitempty"`
}

func (t *Task) clone() *Task {
	c := *t
	c.Dependencies = append([]string(nil), t.Dependencies...)
	if t.Parameters != nil {
		c.Parameters = make(map[string]any, len(t.Parameters))
		for k, v := range t.Parameters {
			c.Parameters[k] = v
		}
	}
	return &c
}

// PlanEntry binds a task to a tool on a specific provider.
type PlanEntry struct {
	TaskID     string         `json:"task_id"`
	ToolName   string         `json:"tool_name"`
	ProviderID string         `json:"provider_id"`
	Parameters map[string]any `json:"parameters"`
}

// Plan is the output of orchestration. Groups lists task ids by dependency
// level; tasks in a group may run concurrently.
type Plan struct {
	Entries []PlanEntry `json:"entries"`
	Groups  [][]string  `json:"groups"`
}

// Entry returns the entry bound to taskID.
func (p *Plan) Entry(taskID string) (PlanEntry, bool) {
	if p == nil {
		return PlanEntry{}, false
	}
	for _, e := range p.Entries {
		if e.TaskID == taskID {
			return e, true
		}
	}
	return PlanEntry{}, false
}

// Result is the synthesized outcome of a workflow.
type Result struct {
	Content   string `json:"content"`
	Success   bool   `json:"success"`
	Completed int    `json:"completed"`
	Failed    int    `json:"failed"`
}

// Workflow is one query's run. It is owned by a single session.
type Workflow struct {
	ID        string
	SessionID string
	Query     string

	mu        sync.RWMutex
	phase     Phase
	tasks     []*Task
	plan      *Plan
	result    *Result
	err       error
	createdAt time.Time
	updatedAt time.Time

	chain  *reasoning.Chain
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// Snapshot is a point-in-time copy of a workflow.
type Snapshot struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	Query     string    `json:"query"`
	Phase     Phase     `json:"phase"`
	Tasks     []*Task   `json:"tasks"`
	Plan      *Plan     `json:"plan,omitempty"`
	Result    *Result   `json:"result,omitempty"`
	Error     string    `json:"error,omitempty"`
	Steps     int       `json:"reasoning_steps"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Phase returns the current phase.
func (w *Workflow) Phase() Phase {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.phase
}

// Terminal reports whether the workflow has finished.
func (w *Workflow) Terminal() bool {
	return w.Phase().Terminal()
}

// Done is closed once the workflow reached a terminal phase.
func (w *Workflow) Done() <-chan struct{} {
	return w.done
}

// Cancel requests cancellation. In-flight tool calls are signalled and
// their results discarded.
func (w *Workflow) Cancel() {
	w.cancel()
}

// Err returns the error the workflow ended with.
func (w *Workflow) Err() error {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.err
}

// Result returns the synthesized result once completed.
func (w *Workflow) Result() *Result {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.result
}

// Chain returns the reasoning chain.
func (w *Workflow) Chain() *reasoning.Chain {
	return w.chain
}

// Tasks returns copies of the tasks in declaration order.
func (w *Workflow) Tasks() []*Task {
	w.mu.RLock()
	defer w.mu.RUnlock()
	out := make([]*Task, len(w.tasks))
	for i, t := range w.tasks {
		out[i] = t.clone()
	}
	return out
}

// Snapshot returns a copy of the workflow state.
func (w *Workflow) Snapshot() Snapshot {
	w.mu.RLock()
	defer w.mu.RUnlock()
	s := Snapshot{
		ID:        w.ID,
		SessionID: w.SessionID,
		Query:     w.Query,
		Phase:     w.phase,
		Tasks:     make([]*Task, len(w.tasks)),
		Plan:      w.plan,
		Result:    w.result,
		Steps:     w.chain.Len(),
		CreatedAt: w.createdAt,
		UpdatedAt: w.updatedAt,
	}
	for i, t := range w.tasks {
		s.Tasks[i] = t.clone()
	}
	if w.err != nil {
		s.Error = w.err.Error()
	}
	return s
}

func (w *Workflow) setPhase(p Phase) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.phase = p
	w.updatedAt = time.Now()
}

func (w *Workflow) task(id string) *Task {
	for _, t := range w.tasks {
		if t.ID == id {
			return t
		}
	}
	return nil
}

// updateTask applies fn to the task under the workflow lock.
func (w *Workflow) updateTask(id string, fn func(t *Task)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if t := w.task(id); t != nil {
		fn(t)
		w.updatedAt = time.Now()
	}
}
