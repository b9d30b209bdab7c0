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
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/teradata-labs/brain/pkg/bridge"
	"github.com/teradata-labs/brain/pkg/reasoning"
	"github.com/teradata-labs/brain/pkg/stream"
	"github.com/teradata-labs/brain/pkg/types"
)

// PhaseHandler runs one non-terminal phase of a workflow. Each variant
// consumes the artifact of the previous phase and stores its own on the
// workflow: the task graph, the execution plan, then task results.
type PhaseHandler interface {
	Phase() Phase
	// Agent is the component name reported in agent_status events.
	Agent() string
	Run(ctx context.Context, wf *Workflow) error
}

type planningPhase struct{ e *Executor }

func (planningPhase) Phase() Phase  { return PhasePlanning }
func (planningPhase) Agent() string { return "planner" }

func (h planningPhase) Run(ctx context.Context, wf *Workflow) error {
	start := time.Now()
	h.e.notify(wf, stream.Thinking(wf.ID, string(PhasePlanning), "Analyzing query and decomposing it into tasks"))

	req := PlanRequest{
		Query:       wf.Query,
		Catalog:     h.e.bridge.Catalog(),
		Recommended: h.e.bridge.Recommend(wf.Query, 5),
	}
	tasks, err := h.e.planner.Plan(ctx, req)
	if err == nil && len(tasks) == 0 {
		err = types.NewPlanningError(nil, "planner produced no tasks")
	}
	if err == nil {
		if verr := ValidateGraph(tasks); verr != nil {
			err = types.NewPlanningError(verr, "planner produced an invalid task graph")
		} else {
			normalizeTasks(tasks)
		}
	}
	if err != nil {
		if ctx.Err() != nil {
			return types.NewCancelledError("workflow %s cancelled during planning", wf.ID)
		}
		if types.KindOf(err) != types.KindPlanning {
			err = types.NewPlanningError(err, "planning failed")
		}
		wf.chain.Append(reasoning.Step{
			Kind:       reasoning.KindPlan,
			Phase:      string(PhasePlanning),
			Title:      "Plan query",
			Input:      map[string]any{"query": wf.Query},
			Status:     reasoning.StatusFailed,
			Error:      err.Error(),
			DurationMs: time.Since(start).Milliseconds(),
		})
		return err
	}

	wf.mu.Lock()
	wf.tasks = tasks
	wf.updatedAt = time.Now()
	wf.mu.Unlock()

	summary := make([]map[string]any, len(tasks))
	for i, t := range tasks {
		summary[i] = map[string]any{
			"id":           t.ID,
			"title":        t.Title,
			"tool":         t.Tool,
			"priority":     t.Priority.String(),
			"dependencies": t.Dependencies,
		}
	}
	wf.chain.Append(reasoning.Step{
		Kind:        reasoning.KindPlan,
		Phase:       string(PhasePlanning),
		Title:       "Plan query",
		Description: fmt.Sprintf("Decomposed query into %d task(s)", len(tasks)),
		Input:       map[string]any{"query": wf.Query},
		Output:      summary,
		Status:      reasoning.StatusSuccess,
		DurationMs:  time.Since(start).Milliseconds(),
	})
	h.e.notify(wf, stream.Thinking(wf.ID, string(PhasePlanning), fmt.Sprintf("Planned %d task(s)", len(tasks))))
	h.e.notify(wf, stream.Progress(wf.ID, string(PhasePlanning), 30))
	return nil
}

func normalizeTasks(tasks []*Task) {
	for _, t := range tasks {
		t.Status = TaskPending
		if t.Priority == 0 {
			t.Priority = PriorityMedium
		}
		if t.Parameters == nil {
			t.Parameters = map[string]any{}
		}
		if t.Title == "" {
			t.Title = t.ID
		}
	}
}

type orchestratingPhase struct{ e *Executor }

func (orchestratingPhase) Phase() Phase  { return PhaseOrchestrating }
func (orchestratingPhase) Agent() string { return "orchestrator" }

func (h orchestratingPhase) Run(ctx context.Context, wf *Workflow) error {
	tasks := wf.Tasks()
	plan := &Plan{}

	for _, t := range tasks {
		if ctx.Err() != nil {
			return types.NewCancelledError("workflow %s cancelled during orchestration", wf.ID)
		}
		start := time.Now()
		step := reasoning.Step{
			Kind:   reasoning.KindBind,
			Phase:  string(PhaseOrchestrating),
			TaskID: t.ID,
			Title:  "Bind " + t.Title,
			Input:  map[string]any{"tool": t.Tool, "parameters": t.Parameters},
		}

		if t.Tool == "" {
			step.Status = reasoning.StatusSkipped
			step.Description = "Task requires no tool"
			wf.chain.Append(step)
			continue
		}

		binding, err := h.e.bridge.Resolve(t.Tool)
		step.DurationMs = time.Since(start).Milliseconds()
		if err != nil {
			now := time.Now()
			info := bridge.NewErrorInfo(err)
			wf.updateTask(t.ID, func(task *Task) {
				task.Status = TaskFailed
				task.Error = info
				task.CompletedAt = &now
			})
			step.Status = reasoning.StatusFailed
			step.Error = err.Error()
			wf.chain.Append(step)
			h.e.logger.Info("Task has no provider",
				zap.String("workflow_id", wf.ID),
				zap.String("task_id", t.ID),
				zap.String("tool", t.Tool))
			continue
		}

		plan.Entries = append(plan.Entries, PlanEntry{
			TaskID:     t.ID,
			ToolName:   t.Tool,
			ProviderID: binding.ProviderID,
			Parameters: t.Parameters,
		})
		wf.updateTask(t.ID, func(task *Task) { task.ProviderID = binding.ProviderID })
		step.Status = reasoning.StatusSuccess
		step.Description = fmt.Sprintf("Bound %s to provider %s", t.Tool, binding.ProviderID)
		step.Output = map[string]any{"provider_id": binding.ProviderID}
		wf.chain.Append(step)
	}

	plan.Groups = Levels(tasks)
	wf.mu.Lock()
	wf.plan = plan
	wf.updatedAt = time.Now()
	wf.mu.Unlock()

	h.e.notify(wf, stream.Progress(wf.ID, string(PhaseOrchestrating), 40))
	return nil
}

type executingPhase struct{ e *Executor }

func (executingPhase) Phase() Phase  { return PhaseExecuting }
func (executingPhase) Agent() string { return "executor" }

// Run dispatches plan entries as their dependencies complete. Ready tasks
// are dispatched in declaration order, at most MaxInFlight at a time. A
// failed task fails its dependents and leaves other branches running.
func (h executingPhase) Run(ctx context.Context, wf *Workflow) error {
	ctx = reasoning.WithRecorder(ctx, wf.chain)
	sem := semaphore.NewWeighted(int64(h.e.maxInFlight))

	wf.mu.RLock()
	total := len(wf.tasks)
	plan := wf.plan
	wf.mu.RUnlock()

	finished := make(chan string, total)
	inflight := 0
	settled := 0

dispatch:
	for {
		if ctx.Err() != nil {
			break
		}
		ready, blocked, trivial := h.advance(wf, plan)
		settled += len(blocked) + len(trivial)
		for _, b := range blocked {
			wf.chain.Append(reasoning.Step{
				Kind:        reasoning.KindSkip,
				Phase:       string(PhaseExecuting),
				TaskID:      b.task,
				Title:       "Skip " + b.title,
				Description: fmt.Sprintf("Dependency %s failed", b.dep),
				Status:      reasoning.StatusSkipped,
			})
		}

		for i, t := range ready {
			if ctx.Err() != nil || sem.Acquire(ctx, 1) != nil {
				for _, rest := range ready[i:] {
					wf.updateTask(rest.ID, func(task *Task) { task.Status = TaskPending })
				}
				break dispatch
			}
			entry, _ := plan.Entry(t.ID)
			inflight++
			go func(id string, entry PlanEntry) {
				defer sem.Release(1)
				h.runTask(ctx, wf, id, entry)
				finished <- id
			}(t.ID, entry)
		}

		if inflight == 0 {
			if len(ready) == 0 && len(blocked) == 0 && len(trivial) == 0 {
				break
			}
			continue
		}

		select {
		case <-finished:
			inflight--
			settled++
			h.e.notify(wf, stream.Progress(wf.ID, string(PhaseExecuting), 50+40*settled/max(total, 1)))
		case <-ctx.Done():
			break dispatch
		}
	}

	if ctx.Err() != nil {
		return types.NewCancelledError("workflow %s cancelled during execution", wf.ID)
	}
	return nil
}

type blockedTask struct {
	task, title, dep string
}

// advance settles tasks that can no longer or need not call a tool and
// returns the tool-backed tasks that became ready, now marked ready.
func (h executingPhase) advance(wf *Workflow, plan *Plan) (ready []*Task, blocked []blockedTask, trivial []string) {
	wf.mu.Lock()
	defer wf.mu.Unlock()

	for changed := true; changed; {
		changed = false
		now := time.Now()
		for _, t := range wf.tasks {
			if t.Status != TaskPending {
				continue
			}
			if dep := blockedBy(t, wf.tasks); dep != "" {
				t.Status = TaskFailed
				t.Error = bridge.NewErrorInfo(types.NewToolExecutionError(nil, "dependency %s failed", dep))
				t.CompletedAt = &now
				blocked = append(blocked, blockedTask{task: t.ID, title: t.Title, dep: dep})
				changed = true
			}
		}
		for _, t := range readyTasks(wf.tasks) {
			if _, ok := plan.Entry(t.ID); ok {
				continue
			}
			// No tool bound and not failed at bind time: nothing to call.
			t.Status = TaskDone
			t.StartedAt = &now
			t.CompletedAt = &now
			trivial = append(trivial, t.ID)
			changed = true
		}
	}

	for _, t := range readyTasks(wf.tasks) {
		t.Status = TaskReady
		ready = append(ready, t.clone())
	}
	wf.updatedAt = time.Now()
	return ready, blocked, trivial
}

func (h executingPhase) runTask(ctx context.Context, wf *Workflow, id string, entry PlanEntry) {
	defer func() {
		if r := recover(); r != nil {
			h.e.logger.Error("Task panicked",
				zap.String("workflow_id", wf.ID),
				zap.String("task_id", id),
				zap.Any("panic", r),
				zap.Stack("stack"))
			now := time.Now()
			wf.updateTask(id, func(t *Task) {
				t.Status = TaskFailed
				t.CompletedAt = &now
				t.Error = bridge.NewErrorInfo(types.NewToolExecutionError(nil, "task %s aborted: %v", id, r))
			})
		}
	}()

	started := time.Now()
	wf.updateTask(id, func(t *Task) {
		t.Status = TaskRunning
		t.StartedAt = &started
	})

	res, err := h.e.bridge.Call(ctx, wf.SessionID, bridge.Request{
		ToolName:   entry.ToolName,
		Parameters: entry.Parameters,
		ProviderID: entry.ProviderID,
		TaskID:     id,
	})

	completed := time.Now()
	wf.updateTask(id, func(t *Task) {
		t.CompletedAt = &completed
		if err != nil {
			t.Status = TaskFailed
			t.Error = res.Error
			return
		}
		t.Status = TaskDone
		t.Result = res.Data
	})

	if ctx.Err() == nil {
		h.e.notify(wf, stream.ToolExecution(res))
	}
}
