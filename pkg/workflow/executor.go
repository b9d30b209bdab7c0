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
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/teradata-labs/brain/pkg/bridge"
	"github.com/teradata-labs/brain/pkg/mcp/manager"
	"github.com/teradata-labs/brain/pkg/reasoning"
	"github.com/teradata-labs/brain/pkg/stream"
	"github.com/teradata-labs/brain/pkg/types"
)

// DefaultMaxInFlight bounds concurrent tool calls per workflow.
const DefaultMaxInFlight = 4

// ToolBridge is the part of the tool bridge the executor needs.
type ToolBridge interface {
	Resolve(toolName string) (manager.Binding, error)
	Call(ctx context.Context, sessionID string, req bridge.Request) (*bridge.ToolResult, error)
	Catalog() []bridge.CatalogEntry
	Recommend(query string, limit int) []bridge.CatalogEntry
}

// Notifier delivers events to the session that owns a workflow.
type Notifier interface {
	Emit(sessionID string, ev stream.Event) bool
}

// Store persists finished workflows.
type Store interface {
	SaveWorkflow(ctx context.Context, snap Snapshot) error
}

// Config configures an Executor.
type Config struct {
	Bridge      ToolBridge
	Planner     Planner
	Synthesizer Synthesizer
	Notifier    Notifier
	Store       Store
	StepSink    reasoning.Sink
	MaxInFlight int
	Logger      *zap.Logger
}

// Metrics are cumulative counters over finished workflows.
type Metrics struct {
	QueriesProcessed int64   `json:"queries_processed"`
	Completed        int64   `json:"completed"`
	Failed           int64   `json:"failed"`
	Cancelled        int64   `json:"cancelled"`
	Active           int64   `json:"active"`
	AvgDurationMs    float64 `json:"avg_duration_ms"`
	SuccessRate      float64 `json:"success_rate"`
}

// Executor drives workflows through their phases.
type Executor struct {
	bridge      ToolBridge
	planner     Planner
	synthesizer Synthesizer
	notifier    Notifier
	store       Store
	stepSink    reasoning.Sink
	maxInFlight int
	logger      *zap.Logger
	handlers    []PhaseHandler

	mu          sync.Mutex
	metrics     Metrics
	totalMillis int64
}

// NewExecutor creates an Executor. Planner defaults to KeywordPlanner and
// Synthesizer to TextSynthesizer.
func NewExecutor(cfg Config) (*Executor, error) {
	if cfg.Bridge == nil {
		return nil, errors.New("workflow executor requires a tool bridge")
	}
	if cfg.Planner == nil {
		cfg.Planner = KeywordPlanner{}
	}
	if cfg.Synthesizer == nil {
		cfg.Synthesizer = TextSynthesizer{}
	}
	if cfg.MaxInFlight <= 0 {
		cfg.MaxInFlight = DefaultMaxInFlight
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	e := &Executor{
		bridge:      cfg.Bridge,
		planner:     cfg.Planner,
		synthesizer: cfg.Synthesizer,
		notifier:    cfg.Notifier,
		store:       cfg.Store,
		stepSink:    cfg.StepSink,
		maxInFlight: cfg.MaxInFlight,
		logger:      cfg.Logger,
	}
	e.handlers = []PhaseHandler{planningPhase{e}, orchestratingPhase{e}, executingPhase{e}}
	return e, nil
}

// NewWorkflow creates a workflow in the Planning phase. It does not start
// it. Cancelling parent cancels the workflow.
func (e *Executor) NewWorkflow(parent context.Context, sessionID, query string) (*Workflow, error) {
	if strings.TrimSpace(query) == "" {
		return nil, types.NewValidationError("query must not be empty")
	}
	id := uuid.NewString()
	opts := []reasoning.Option{reasoning.WithLogger(e.logger)}
	if e.stepSink != nil {
		opts = append(opts, reasoning.WithSink(e.stepSink))
	}
	ctx, cancel := context.WithCancel(types.WithWorkflowID(types.WithSessionID(parent, sessionID), id))
	now := time.Now()
	return &Workflow{
		ID:        id,
		SessionID: sessionID,
		Query:     query,
		phase:     PhasePlanning,
		createdAt: now,
		updatedAt: now,
		chain:     reasoning.NewChain(id, opts...),
		ctx:       ctx,
		cancel:    cancel,
		done:      make(chan struct{}),
	}, nil
}

// Start runs wf in the background.
func (e *Executor) Start(wf *Workflow) {
	go func() {
		_ = e.Run(wf)
	}()
}

// Run drives wf to a terminal phase and returns the error it ended with.
// A panic in a planner, synthesizer or phase fails the workflow.
func (e *Executor) Run(wf *Workflow) (err error) {
	defer close(wf.done)
	defer wf.cancel()

	e.mu.Lock()
	e.metrics.Active++
	e.mu.Unlock()

	start := time.Now()
	logger := e.logger.With(zap.String("workflow_id", wf.ID), zap.String("session_id", wf.SessionID))
	logger.Info("Workflow started", zap.String("query", wf.Query))

	defer func() {
		r := recover()
		if r == nil {
			return
		}
		logger.Error("Workflow panicked", zap.Any("panic", r), zap.Stack("stack"))
		if wf.Terminal() {
			return
		}
		var perr error = types.NewToolExecutionError(nil, "workflow %s aborted: %v", wf.ID, r)
		if wf.Phase() == PhasePlanning {
			perr = types.NewPlanningError(nil, "workflow %s aborted during planning: %v", wf.ID, r)
		}
		err = e.finish(wf, start, PhaseFailed, perr)
	}()

	for _, h := range e.handlers {
		if wf.ctx.Err() != nil {
			return e.finish(wf, start, PhaseCancelled, types.NewCancelledError("workflow %s cancelled", wf.ID))
		}
		wf.setPhase(h.Phase())
		e.notify(wf, stream.Progress(wf.ID, string(h.Phase()), phaseProgress[h.Phase()]))
		e.notify(wf, stream.AgentStatus(wf.ID, h.Agent(), "working"))

		if err := h.Run(wf.ctx, wf); err != nil {
			if wf.ctx.Err() != nil || types.KindOf(err) == types.KindWorkflowCancelled {
				return e.finish(wf, start, PhaseCancelled, types.NewCancelledError("workflow %s cancelled", wf.ID))
			}
			e.notify(wf, stream.AgentStatus(wf.ID, h.Agent(), "failed"))
			return e.finish(wf, start, PhaseFailed, err)
		}
		e.notify(wf, stream.AgentStatus(wf.ID, h.Agent(), "completed"))
	}

	if wf.ctx.Err() != nil {
		return e.finish(wf, start, PhaseCancelled, types.NewCancelledError("workflow %s cancelled", wf.ID))
	}

	tasks := wf.Tasks()
	result := &Result{}
	for _, t := range tasks {
		switch t.Status {
		case TaskDone:
			result.Completed++
		case TaskFailed:
			result.Failed++
		}
	}

	content, err := e.synthesizer.Synthesize(wf.ctx, SynthesisInput{Query: wf.Query, Tasks: tasks})
	if wf.ctx.Err() != nil {
		return e.finish(wf, start, PhaseCancelled, types.NewCancelledError("workflow %s cancelled", wf.ID))
	}
	if err != nil {
		logger.Warn("Synthesis failed, using text synthesis", zap.Error(err))
		content, _ = TextSynthesizer{}.Synthesize(wf.ctx, SynthesisInput{Query: wf.Query, Tasks: tasks})
	}
	result.Content = content
	result.Success = result.Completed > 0

	wf.mu.Lock()
	wf.result = result
	wf.mu.Unlock()

	if !result.Success {
		err := types.NewToolExecutionError(nil, "no task produced a usable result").
			WithDetail("failed_tasks", result.Failed)
		return e.finish(wf, start, PhaseFailed, err)
	}
	return e.finish(wf, start, PhaseCompleted, nil)
}

var phaseProgress = map[Phase]int{
	PhasePlanning:      10,
	PhaseOrchestrating: 35,
	PhaseExecuting:     50,
}

func (e *Executor) finish(wf *Workflow, start time.Time, phase Phase, err error) error {
	wf.mu.Lock()
	wf.phase = phase
	wf.err = err
	wf.updatedAt = time.Now()
	wf.mu.Unlock()

	elapsed := time.Since(start)
	e.mu.Lock()
	e.metrics.Active--
	e.metrics.QueriesProcessed++
	switch phase {
	case PhaseCompleted:
		e.metrics.Completed++
	case PhaseFailed:
		e.metrics.Failed++
	case PhaseCancelled:
		e.metrics.Cancelled++
	}
	e.totalMillis += elapsed.Milliseconds()
	e.mu.Unlock()

	logger := e.logger.With(zap.String("workflow_id", wf.ID), zap.String("session_id", wf.SessionID))
	switch phase {
	case PhaseCompleted:
		result := wf.Result()
		e.notify(wf, stream.Progress(wf.ID, string(phase), 100))
		e.notify(wf, stream.AgentResponse(wf.ID, result.Content, true, wf.Tasks(), wf.chain.Steps()))
		logger.Info("Workflow completed",
			zap.Duration("duration", elapsed),
			zap.Int("completed_tasks", result.Completed),
			zap.Int("failed_tasks", result.Failed))
	case PhaseCancelled:
		wf.chain.Append(reasoning.Step{
			Kind:   reasoning.KindPhase,
			Phase:  string(PhaseCancelled),
			Title:  "Workflow cancelled",
			Status: reasoning.StatusDiscarded,
		})
		e.notify(wf, stream.Progress(wf.ID, string(phase), 100))
		e.notify(wf, stream.Error(err))
		logger.Info("Workflow cancelled", zap.Duration("duration", elapsed))
	default:
		e.notify(wf, stream.Progress(wf.ID, string(phase), 100))
		e.notify(wf, stream.Error(err))
		logger.Warn("Workflow failed", zap.Duration("duration", elapsed), zap.Error(err))
	}

	if e.store != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if serr := e.store.SaveWorkflow(ctx, wf.Snapshot()); serr != nil {
			logger.Warn("Failed to persist workflow", zap.Error(serr))
		}
	}
	return err
}

func (e *Executor) notify(wf *Workflow, ev stream.Event) {
	if e.notifier != nil {
		e.notifier.Emit(wf.SessionID, ev)
	}
}

// Metrics returns a copy of the cumulative counters.
func (e *Executor) Metrics() Metrics {
	e.mu.Lock()
	defer e.mu.Unlock()
	m := e.metrics
	if m.QueriesProcessed > 0 {
		m.AvgDurationMs = float64(e.totalMillis) / float64(m.QueriesProcessed)
		m.SuccessRate = float64(m.Completed) / float64(m.QueriesProcessed)
	}
	return m
}
