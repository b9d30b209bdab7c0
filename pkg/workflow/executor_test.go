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
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/teradata-labs/brain/pkg/bridge"
	"github.com/teradata-labs/brain/pkg/mcp/manager"
	"github.com/teradata-labs/brain/pkg/reasoning"
	"github.com/teradata-labs/brain/pkg/stream"
	"github.com/teradata-labs/brain/pkg/types"
)

type recordingNotifier struct {
	mu     sync.Mutex
	events []stream.Event
}

func (n *recordingNotifier) Emit(_ string, ev stream.Event) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, ev)
	return true
}

func (n *recordingNotifier) ofType(t stream.EventType) []stream.Event {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []stream.Event
	for _, ev := range n.events {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

// harness wires a real manager and bridge to in-process providers.
type harness struct {
	executor *Executor
	notifier *recordingNotifier
	calls    sync.Map // tool name -> *atomic.Int32

	traceMu sync.Mutex
	trace   []string

	current, peak atomic.Int32
	blocked       chan struct{}
	release       chan struct{}
	releaseOnce   sync.Once
}

func (h *harness) unblock() {
	h.releaseOnce.Do(func() { close(h.release) })
}

func (h *harness) count(tool string) {
	c, _ := h.calls.LoadOrStore(tool, &atomic.Int32{})
	c.(*atomic.Int32).Add(1)
}

func (h *harness) callCount(tool string) int32 {
	c, ok := h.calls.Load(tool)
	if !ok {
		return 0
	}
	return c.(*atomic.Int32).Load()
}

func (h *harness) record(s string) {
	h.traceMu.Lock()
	defer h.traceMu.Unlock()
	h.trace = append(h.trace, s)
}

func (h *harness) traceLog() []string {
	h.traceMu.Lock()
	defer h.traceMu.Unlock()
	return append([]string(nil), h.trace...)
}

func text(s string) *mcp.CallToolResult { return mcp.NewToolResultText(s) }

func (h *harness) filesystemServer() *server.MCPServer {
	s := server.NewMCPServer("filesystem", "1.0.0", server.WithToolCapabilities(true))
	s.AddTool(mcp.NewTool("list_directory",
		mcp.WithDescription("List files in a directory"),
		mcp.WithString("path", mcp.Required()),
	), func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		h.count("list_directory")
		path, _ := req.GetArguments()["path"].(string)
		return text("entries of " + path + ": main.go util.go"), nil
	})
	s.AddTool(mcp.NewTool("read_file",
		mcp.WithDescription("Read a file"),
		mcp.WithString("path", mcp.Required()),
	), func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		h.count("read_file")
		path, _ := req.GetArguments()["path"].(string)
		return text("contents of " + path), nil
	})
	s.AddTool(mcp.NewTool("trace",
		mcp.WithString("label", mcp.Required()),
	), func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		h.count("trace")
		label, _ := req.GetArguments()["label"].(string)
		n := h.current.Add(1)
		for {
			p := h.peak.Load()
			if n <= p || h.peak.CompareAndSwap(p, n) {
				break
			}
		}
		h.record("start:" + label)
		time.Sleep(20 * time.Millisecond)
		h.record("end:" + label)
		h.current.Add(-1)
		return text("traced " + label), nil
	})
	s.AddTool(mcp.NewTool("block"), func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		h.count("block")
		h.blocked <- struct{}{}
		select {
		case <-h.release:
		case <-ctx.Done():
		}
		return text("late result"), nil
	})
	s.AddTool(mcp.NewTool("fail_fs"), func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		h.count("fail_fs")
		return mcp.NewToolResultError("disk on fire"), nil
	})
	return s
}

func (h *harness) gitServer() *server.MCPServer {
	s := server.NewMCPServer("git", "1.0.0", server.WithToolCapabilities(true))
	s.AddTool(mcp.NewTool("git_status",
		mcp.WithDescription("Show the working tree status"),
		mcp.WithString("repo_path"),
	), func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		h.count("git_status")
		return text("clean"), nil
	})
	s.AddTool(mcp.NewTool("fail_git"), func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		h.count("fail_git")
		return mcp.NewToolResultError("not a repository"), nil
	})
	return s
}

func newHarness(t *testing.T, planner Planner, maxInFlight int) *harness {
	t.Helper()
	h := &harness{
		notifier: &recordingNotifier{},
		blocked:  make(chan struct{}, 8),
		release:  make(chan struct{}),
	}
	m, err := manager.NewManager(manager.DefaultConfig(), zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Stop() })
	for id, srv := range map[string]*server.MCPServer{"filesystem": h.filesystemServer(), "git": h.gitServer()} {
		_, err := m.Connect(context.Background(), id, manager.ProviderConfig{
			Enabled:   true,
			Transport: manager.TransportInProcess,
			Server:    srv,
		})
		require.NoError(t, err)
	}
	t.Cleanup(h.unblock)

	b, err := bridge.New(bridge.Config{Registry: m, Logger: zaptest.NewLogger(t), CallTimeout: 5 * time.Second})
	require.NoError(t, err)

	h.executor, err = NewExecutor(Config{
		Bridge:      b,
		Planner:     planner,
		Notifier:    h.notifier,
		MaxInFlight: maxInFlight,
		Logger:      zaptest.NewLogger(t),
	})
	require.NoError(t, err)
	return h
}

func (h *harness) run(t *testing.T, query string) *Workflow {
	t.Helper()
	wf, err := h.executor.NewWorkflow(context.Background(), "sess-1", query)
	require.NoError(t, err)
	_ = h.executor.Run(wf)
	return wf
}

func staticPlan(tasks ...*Task) Planner {
	return PlannerFunc(func(context.Context, PlanRequest) ([]*Task, error) {
		out := make([]*Task, len(tasks))
		for i, t := range tasks {
			out[i] = t.clone()
		}
		return out, nil
	})
}

func toolTask(id, tool string, params map[string]any, deps ...string) *Task {
	return &Task{ID: id, Title: id, Tool: tool, Parameters: params, Dependencies: deps}
}

func stepKinds(steps []reasoning.Step) []reasoning.StepKind {
	kinds := make([]reasoning.StepKind, len(steps))
	for i, s := range steps {
		kinds[i] = s.Kind
	}
	return kinds
}

func taskByID(tasks []*Task, id string) *Task {
	for _, t := range tasks {
		if t.ID == id {
			return t
		}
	}
	return nil
}

func TestNewExecutor_RequiresBridge(t *testing.T) {
	_, err := NewExecutor(Config{})
	assert.Error(t, err)
}

func TestNewWorkflow_RejectsEmptyQuery(t *testing.T) {
	h := newHarness(t, nil, 0)
	_, err := h.executor.NewWorkflow(context.Background(), "s", "   ")
	assert.ErrorIs(t, err, types.ErrValidation)
}

func TestExecutor_ListFilesScenario(t *testing.T) {
	h := newHarness(t, nil, 0)
	wf := h.run(t, "list files in ./src")

	require.Equal(t, PhaseCompleted, wf.Phase())
	require.NoError(t, wf.Err())

	tasks := wf.Tasks()
	require.Len(t, tasks, 1)
	assert.Equal(t, "list_directory", tasks[0].Tool)
	assert.Equal(t, "filesystem", tasks[0].ProviderID)
	assert.Equal(t, TaskDone, tasks[0].Status)

	steps := wf.Chain().Steps()
	assert.Equal(t, []reasoning.StepKind{reasoning.KindPlan, reasoning.KindBind, reasoning.KindExecute}, stepKinds(steps))
	for i, s := range steps {
		assert.Equal(t, i+1, s.Number)
		assert.Equal(t, reasoning.StatusSuccess, s.Status)
	}

	responses := h.notifier.ofType(stream.TypeAgentResponse)
	require.Len(t, responses, 1)
	assert.Contains(t, responses[0].Get("content"), "entries of ./src: main.go util.go")
	assert.Equal(t, true, responses[0].Get("success"))
	assert.Len(t, responses[0].Get("reasoning_chain"), 3)

	assert.Len(t, h.notifier.ofType(stream.TypeToolExecution), 1)
	assert.NotEmpty(t, h.notifier.ofType(stream.TypeThinking))

	var phases []string
	for _, ev := range h.notifier.ofType(stream.TypeWorkflowProgress) {
		phase := ev.Get("phase").(string)
		if len(phases) == 0 || phases[len(phases)-1] != phase {
			phases = append(phases, phase)
		}
	}
	assert.Equal(t, []string{"Planning", "Orchestrating", "Executing", "Completed"}, phases)
}

func TestExecutor_FailsOnlyWhenNoTaskSucceeds(t *testing.T) {
	h := newHarness(t, staticPlan(
		toolTask("a", "fail_fs", nil),
		toolTask("b", "fail_git", nil),
	), 0)
	wf := h.run(t, "two failures")

	assert.Equal(t, PhaseFailed, wf.Phase())
	assert.ErrorIs(t, wf.Err(), types.ErrToolExecution)
	assert.Equal(t, int32(1), h.callCount("fail_fs"))
	assert.Equal(t, int32(1), h.callCount("fail_git"))
	assert.Empty(t, h.notifier.ofType(stream.TypeAgentResponse))
	errs := h.notifier.ofType(stream.TypeError)
	require.Len(t, errs, 1)
	assert.Equal(t, "ToolExecutionError", errs[0].Get("code"))
}

func TestExecutor_PartialSuccessCompletes(t *testing.T) {
	h := newHarness(t, staticPlan(
		toolTask("a", "fail_fs", nil),
		toolTask("b", "fail_git", nil),
		toolTask("c", "git_status", nil),
	), 0)
	wf := h.run(t, "two failures and a success")

	require.Equal(t, PhaseCompleted, wf.Phase())
	res := wf.Result()
	assert.Equal(t, 1, res.Completed)
	assert.Equal(t, 2, res.Failed)
	assert.True(t, res.Success)
	assert.Contains(t, res.Content, "clean")
	assert.Contains(t, res.Content, "a (failed)")
	assert.Contains(t, res.Content, "ToolExecutionError")

	tasks := wf.Tasks()
	assert.Equal(t, "ToolExecutionError", taskByID(tasks, "a").Error.Code)
	assert.Equal(t, "ToolExecutionError", taskByID(tasks, "b").Error.Code)
}

func TestExecutor_RespectsDependencies(t *testing.T) {
	h := newHarness(t, staticPlan(
		toolTask("a", "trace", map[string]any{"label": "a"}),
		toolTask("b", "trace", map[string]any{"label": "b"}, "a"),
		toolTask("c", "trace", map[string]any{"label": "c"}, "b"),
	), 4)
	wf := h.run(t, "chain")

	require.Equal(t, PhaseCompleted, wf.Phase())
	assert.Equal(t, []string{"start:a", "end:a", "start:b", "end:b", "start:c", "end:c"}, h.traceLog())

	snap := wf.Snapshot()
	require.NotNil(t, snap.Plan)
	assert.Equal(t, [][]string{{"a"}, {"b"}, {"c"}}, snap.Plan.Groups)
	for _, task := range snap.Tasks {
		assert.Equal(t, TaskDone, task.Status)
		require.NotNil(t, task.StartedAt)
		require.NotNil(t, task.CompletedAt)
	}
	assert.True(t, taskByID(snap.Tasks, "b").StartedAt.After(*taskByID(snap.Tasks, "a").CompletedAt) ||
		taskByID(snap.Tasks, "b").StartedAt.Equal(*taskByID(snap.Tasks, "a").CompletedAt))
}

func TestExecutor_BoundsConcurrency(t *testing.T) {
	var tasks []*Task
	for _, id := range []string{"a", "b", "c", "d", "e", "f"} {
		tasks = append(tasks, toolTask(id, "trace", map[string]any{"label": id}))
	}
	h := newHarness(t, staticPlan(tasks...), 2)
	wf := h.run(t, "fan out")

	require.Equal(t, PhaseCompleted, wf.Phase())
	assert.Equal(t, int32(6), h.callCount("trace"))
	assert.LessOrEqual(t, h.peak.Load(), int32(2))
}

func TestExecutor_FailurePropagatesToDependents(t *testing.T) {
	h := newHarness(t, staticPlan(
		toolTask("a", "fail_fs", nil),
		toolTask("b", "trace", map[string]any{"label": "b"}, "a"),
		toolTask("c", "trace", map[string]any{"label": "c"}, "b"),
		toolTask("d", "trace", map[string]any{"label": "d"}),
	), 0)
	wf := h.run(t, "propagate")

	require.Equal(t, PhaseCompleted, wf.Phase())
	tasks := wf.Tasks()
	assert.Equal(t, TaskFailed, taskByID(tasks, "a").Status)
	assert.Equal(t, TaskFailed, taskByID(tasks, "b").Status)
	assert.Contains(t, taskByID(tasks, "b").Error.Message, "dependency a failed")
	assert.Equal(t, TaskFailed, taskByID(tasks, "c").Status)
	assert.Equal(t, TaskDone, taskByID(tasks, "d").Status)
	assert.Equal(t, []string{"start:d", "end:d"}, h.traceLog())

	var skipped []string
	for _, s := range wf.Chain().Steps() {
		if s.Kind == reasoning.KindSkip {
			skipped = append(skipped, s.TaskID)
		}
	}
	assert.ElementsMatch(t, []string{"b", "c"}, skipped)
}

func TestExecutor_UnresolvableToolFailsAtBind(t *testing.T) {
	h := newHarness(t, staticPlan(
		toolTask("a", "teleport", nil),
		toolTask("b", "trace", map[string]any{"label": "b"}, "a"),
		toolTask("c", "trace", map[string]any{"label": "c"}),
	), 0)
	wf := h.run(t, "teleport then trace")

	require.Equal(t, PhaseCompleted, wf.Phase())
	tasks := wf.Tasks()
	a := taskByID(tasks, "a")
	assert.Equal(t, TaskFailed, a.Status)
	assert.Equal(t, "ResolutionError", a.Error.Code)
	assert.Nil(t, a.StartedAt)
	assert.Equal(t, TaskFailed, taskByID(tasks, "b").Status)
	assert.Equal(t, TaskDone, taskByID(tasks, "c").Status)
	assert.Equal(t, int32(1), h.callCount("trace"))

	steps := wf.Chain().Steps()
	require.GreaterOrEqual(t, len(steps), 2)
	assert.Equal(t, reasoning.KindBind, steps[1].Kind)
	assert.Equal(t, reasoning.StatusFailed, steps[1].Status)

	_, bound := wf.Snapshot().Plan.Entry("a")
	assert.False(t, bound)
}

func TestExecutor_ToolLessTasksComplete(t *testing.T) {
	h := newHarness(t, staticPlan(
		&Task{ID: "think", Title: "Think about it"},
		toolTask("list", "list_directory", map[string]any{"path": "."}, "think"),
	), 0)
	wf := h.run(t, "reflect then list")

	require.Equal(t, PhaseCompleted, wf.Phase())
	tasks := wf.Tasks()
	assert.Equal(t, TaskDone, taskByID(tasks, "think").Status)
	assert.Equal(t, TaskDone, taskByID(tasks, "list").Status)
	assert.Equal(t, reasoning.StatusSkipped, wf.Chain().Steps()[1].Status)
}

func TestExecutor_CancelDuringExecuting(t *testing.T) {
	h := newHarness(t, staticPlan(
		toolTask("a", "block", nil),
		toolTask("b", "trace", map[string]any{"label": "b"}, "a"),
	), 0)
	wf, err := h.executor.NewWorkflow(context.Background(), "sess-1", "block then trace")
	require.NoError(t, err)
	h.executor.Start(wf)

	select {
	case <-h.blocked:
	case <-time.After(5 * time.Second):
		t.Fatal("blocking task never started")
	}
	assert.Equal(t, PhaseExecuting, wf.Phase())
	wf.Cancel()

	select {
	case <-wf.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("workflow did not stop")
	}

	assert.Equal(t, PhaseCancelled, wf.Phase())
	assert.ErrorIs(t, wf.Err(), types.ErrWorkflowCancelled)
	assert.Nil(t, wf.Result())
	assert.Equal(t, int32(0), h.callCount("trace"))
	assert.Empty(t, h.notifier.ofType(stream.TypeAgentResponse))

	errs := h.notifier.ofType(stream.TypeError)
	require.Len(t, errs, 1)
	assert.Equal(t, "WorkflowCancelledError", errs[0].Get("code"))

	h.unblock()
	require.Eventually(t, func() bool {
		for _, s := range wf.Chain().Steps() {
			if s.Kind == reasoning.KindExecute {
				return s.Status == reasoning.StatusDiscarded && s.Output == nil
			}
		}
		return false
	}, 5*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool {
		return taskByID(wf.Tasks(), "a").Status == TaskFailed
	}, 5*time.Second, 10*time.Millisecond)
	assert.Empty(t, h.notifier.ofType(stream.TypeToolExecution))
}

func TestExecutor_CancelBeforeStart(t *testing.T) {
	var planned atomic.Bool
	h := newHarness(t, PlannerFunc(func(context.Context, PlanRequest) ([]*Task, error) {
		planned.Store(true)
		return nil, nil
	}), 0)
	wf, err := h.executor.NewWorkflow(context.Background(), "s", "anything")
	require.NoError(t, err)
	wf.Cancel()

	err = h.executor.Run(wf)
	assert.ErrorIs(t, err, types.ErrWorkflowCancelled)
	assert.Equal(t, PhaseCancelled, wf.Phase())
	assert.False(t, planned.Load())
}

func TestExecutor_PlanningFailure(t *testing.T) {
	h := newHarness(t, nil, 0)
	wf := h.run(t, "make me a sandwich")

	assert.Equal(t, PhaseFailed, wf.Phase())
	assert.ErrorIs(t, wf.Err(), types.ErrPlanning)
	steps := wf.Chain().Steps()
	require.Len(t, steps, 1)
	assert.Equal(t, reasoning.KindPlan, steps[0].Kind)
	assert.Equal(t, reasoning.StatusFailed, steps[0].Status)

	errs := h.notifier.ofType(stream.TypeError)
	require.Len(t, errs, 1)
	assert.Equal(t, "PlanningError", errs[0].Get("code"))
}

func TestExecutor_InvalidGraphIsPlanningError(t *testing.T) {
	h := newHarness(t, staticPlan(
		toolTask("a", "trace", nil, "b"),
		toolTask("b", "trace", nil, "a"),
	), 0)
	wf := h.run(t, "cycle")

	assert.Equal(t, PhaseFailed, wf.Phase())
	assert.ErrorIs(t, wf.Err(), types.ErrPlanning)
	assert.Equal(t, int32(0), h.callCount("trace"))
}

func TestExecutor_EmptyPlanIsPlanningError(t *testing.T) {
	h := newHarness(t, PlannerFunc(func(context.Context, PlanRequest) ([]*Task, error) {
		return []*Task{}, nil
	}), 0)
	wf := h.run(t, "nothing to do")

	assert.Equal(t, PhaseFailed, wf.Phase())
	assert.ErrorIs(t, wf.Err(), types.ErrPlanning)
	steps := wf.Chain().Steps()
	require.Len(t, steps, 1)
	assert.Equal(t, reasoning.StatusFailed, steps[0].Status)
}

func TestExecutor_NilTaskIsPlanningError(t *testing.T) {
	h := newHarness(t, PlannerFunc(func(context.Context, PlanRequest) ([]*Task, error) {
		return []*Task{toolTask("a", "trace", nil), nil}, nil
	}), 0)
	wf := h.run(t, "half a plan")

	assert.Equal(t, PhaseFailed, wf.Phase())
	assert.ErrorIs(t, wf.Err(), types.ErrPlanning)
	assert.Equal(t, int32(0), h.callCount("trace"))
}

type panickingSynthesizer struct{}

func (panickingSynthesizer) Synthesize(context.Context, SynthesisInput) (string, error) {
	panic("synthesizer exploded")
}

func TestExecutor_PanicFailsWorkflow(t *testing.T) {
	h := newHarness(t, staticPlan(toolTask("a", "read_file", map[string]any{"path": "main.go"})), 0)
	h.executor.synthesizer = panickingSynthesizer{}

	wf, err := h.executor.NewWorkflow(context.Background(), "sess-1", "read main.go")
	require.NoError(t, err)
	h.executor.Start(wf)

	select {
	case <-wf.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("workflow did not finish")
	}
	assert.Equal(t, PhaseFailed, wf.Phase())
	assert.ErrorIs(t, wf.Err(), types.ErrToolExecution)
	assert.Contains(t, wf.Err().Error(), "synthesizer exploded")
	assert.Equal(t, int64(0), h.executor.Metrics().Active)
	assert.Equal(t, int64(1), h.executor.Metrics().Failed)
}

func TestExecutor_PlannerPanicIsPlanningError(t *testing.T) {
	h := newHarness(t, PlannerFunc(func(context.Context, PlanRequest) ([]*Task, error) {
		panic("planner exploded")
	}), 0)
	wf := h.run(t, "anything")

	assert.Equal(t, PhaseFailed, wf.Phase())
	assert.ErrorIs(t, wf.Err(), types.ErrPlanning)
	select {
	case <-wf.Done():
	default:
		t.Fatal("done channel still open")
	}
}

func TestExecutor_WorkflowContextCarriesIDs(t *testing.T) {
	var sessionID, workflowID string
	planner := PlannerFunc(func(ctx context.Context, req PlanRequest) ([]*Task, error) {
		sessionID = types.SessionIDFromContext(ctx)
		workflowID = types.WorkflowIDFromContext(ctx)
		return []*Task{toolTask("a", "trace", map[string]any{"label": "a"})}, nil
	})
	h := newHarness(t, planner, 0)

	wf := h.run(t, "trace it")
	require.Equal(t, PhaseCompleted, wf.Phase())
	assert.Equal(t, "sess-1", sessionID)
	assert.Equal(t, wf.ID, workflowID)
}

func TestExecutor_Metrics(t *testing.T) {
	h := newHarness(t, nil, 0)
	h.run(t, "list files in ./src")
	h.run(t, "make me a sandwich")

	m := h.executor.Metrics()
	assert.Equal(t, int64(2), m.QueriesProcessed)
	assert.Equal(t, int64(1), m.Completed)
	assert.Equal(t, int64(1), m.Failed)
	assert.Equal(t, int64(0), m.Active)
	assert.InDelta(t, 0.5, m.SuccessRate, 0.001)
}

type memoryStore struct {
	mu    sync.Mutex
	saved []Snapshot
}

func (s *memoryStore) SaveWorkflow(_ context.Context, snap Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saved = append(s.saved, snap)
	return nil
}

func TestExecutor_PersistsFinishedWorkflow(t *testing.T) {
	h := newHarness(t, nil, 0)
	store := &memoryStore{}
	h.executor.store = store

	wf := h.run(t, "list files in ./src")
	require.Len(t, store.saved, 1)
	assert.Equal(t, wf.ID, store.saved[0].ID)
	assert.Equal(t, PhaseCompleted, store.saved[0].Phase)
	assert.Equal(t, 3, store.saved[0].Steps)
}
