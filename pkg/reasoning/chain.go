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

// Package reasoning records the ordered audit trail of a workflow: phase
// transitions, task decisions and tool results.
package reasoning

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// StepKind identifies what a step records.
type StepKind string

const (
	KindPlan    StepKind = "plan"
	KindBind    StepKind = "bind"
	KindExecute StepKind = "execute"
	KindPhase   StepKind = "phase"
	KindSkip    StepKind = "skip"
)

// Status is the outcome recorded in a step.
type Status string

const (
	StatusSuccess   Status = "success"
	StatusFailed    Status = "failed"
	StatusDiscarded Status = "discarded"
	StatusSkipped   Status = "skipped"
)

// Step is one append-only entry of a reasoning chain.
type Step struct {
	Number      int            `json:"step_number"`
	Kind        StepKind       `json:"kind"`
	Phase       string         `json:"phase,omitempty"`
	TaskID      string         `json:"task_id,omitempty"`
	Title       string         `json:"title"`
	Description string         `json:"description,omitempty"`
	Input       map[string]any `json:"input,omitempty"`
	Output      any            `json:"output,omitempty"`
	Status      Status         `json:"status"`
	DurationMs  int64          `json:"duration_ms"`
	Error       string         `json:"error,omitempty"`
	Timestamp   time.Time      `json:"timestamp"`
}

// Sink persists steps outside the process.
type Sink interface {
	RecordStep(ctx context.Context, chainID string, step Step) error
}

// Recorder is what callers that produce steps depend on.
type Recorder interface {
	Append(step Step) Step
}

// Chain is a thread-safe reasoning chain. Step numbers start at 1 and
// increase by one per append; timestamps never go backwards.
type Chain struct {
	id     string
	sink   Sink
	logger *zap.Logger

	mu    sync.RWMutex
	steps []Step
}

// Option configures a Chain.
type Option func(*Chain)

// WithSink persists each appended step.
func WithSink(sink Sink) Option {
	return func(c *Chain) { c.sink = sink }
}

// WithLogger sets the logger used for sink failures.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Chain) { c.logger = logger }
}

// NewChain creates an empty chain identified by id (usually the workflow id).
func NewChain(id string, opts ...Option) *Chain {
	c := &Chain{id: id, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ID returns the chain id.
func (c *Chain) ID() string {
	return c.id
}

// Append numbers and timestamps step, stores it and returns the stored copy.
func (c *Chain) Append(step Step) Step {
	c.mu.Lock()
	step.Number = len(c.steps) + 1
	if step.Timestamp.IsZero() {
		step.Timestamp = time.Now()
	}
	if n := len(c.steps); n > 0 && step.Timestamp.Before(c.steps[n-1].Timestamp) {
		step.Timestamp = c.steps[n-1].Timestamp
	}
	c.steps = append(c.steps, step)
	c.mu.Unlock()

	if c.sink != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := c.sink.RecordStep(ctx, c.id, step); err != nil {
			c.logger.Warn("Failed to persist reasoning step",
				zap.String("chain_id", c.id),
				zap.Int("step_number", step.Number),
				zap.Error(err))
		}
	}
	return step
}

// Steps returns a copy of the recorded steps in order.
func (c *Chain) Steps() []Step {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Step, len(c.steps))
	copy(out, c.steps)
	return out
}

// Len returns the number of steps.
func (c *Chain) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.steps)
}

type recorderKey struct{}

// WithRecorder attaches the recorder that owns tool-call steps made under ctx.
func WithRecorder(ctx context.Context, r Recorder) context.Context {
	if r == nil {
		return ctx
	}
	return context.WithValue(ctx, recorderKey{}, r)
}

// RecorderFromContext returns the recorder attached to ctx, or nil.
func RecorderFromContext(ctx context.Context) Recorder {
	r, _ := ctx.Value(recorderKey{}).(Recorder)
	return r
}
