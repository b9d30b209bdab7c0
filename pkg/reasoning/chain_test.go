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

package reasoning

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

type memorySink struct {
	mu    sync.Mutex
	steps []Step
	err   error
}

func (s *memorySink) RecordStep(_ context.Context, _ string, step Step) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.steps = append(s.steps, step)
	return nil
}

func TestChain_AppendNumbersSteps(t *testing.T) {
	c := NewChain("wf-1")

	first := c.Append(Step{Kind: KindPlan, Title: "plan"})
	second := c.Append(Step{Kind: KindBind, Title: "bind"})

	assert.Equal(t, 1, first.Number)
	assert.Equal(t, 2, second.Number)
	assert.False(t, first.Timestamp.IsZero())
	assert.Equal(t, "wf-1", c.ID())
	assert.Equal(t, 2, c.Len())
}

func TestChain_TimestampsNeverGoBackwards(t *testing.T) {
	c := NewChain("wf")
	now := time.Now()
	c.Append(Step{Title: "a", Timestamp: now})
	got := c.Append(Step{Title: "b", Timestamp: now.Add(-time.Minute)})
	assert.Equal(t, now, got.Timestamp)
}

func TestChain_ConcurrentAppendIsTotallyOrdered(t *testing.T) {
	c := NewChain("wf")
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.Append(Step{Kind: KindExecute})
		}()
	}
	wg.Wait()

	steps := c.Steps()
	require.Len(t, steps, 50)
	for i, s := range steps {
		assert.Equal(t, i+1, s.Number)
		if i > 0 {
			assert.False(t, s.Timestamp.Before(steps[i-1].Timestamp))
		}
	}
}

func TestChain_StepsReturnsCopy(t *testing.T) {
	c := NewChain("wf")
	c.Append(Step{Title: "original"})
	steps := c.Steps()
	steps[0].Title = "mutated"
	assert.Equal(t, "original", c.Steps()[0].Title)
}

func TestChain_SinkReceivesSteps(t *testing.T) {
	sink := &memorySink{}
	c := NewChain("wf", WithSink(sink))
	c.Append(Step{Kind: KindPlan})
	c.Append(Step{Kind: KindExecute})

	require.Len(t, sink.steps, 2)
	assert.Equal(t, 2, sink.steps[1].Number)
}

func TestChain_SinkFailureIsLoggedNotFatal(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	c := NewChain("wf", WithSink(&memorySink{err: errors.New("disk full")}), WithLogger(zap.New(core)))

	c.Append(Step{Kind: KindPlan})

	assert.Equal(t, 1, c.Len())
	assert.Equal(t, 1, logs.FilterMessage("Failed to persist reasoning step").Len())
}

func TestRecorderContext(t *testing.T) {
	ctx := context.Background()
	assert.Nil(t, RecorderFromContext(ctx))
	assert.Equal(t, ctx, WithRecorder(ctx, nil))

	c := NewChain("wf")
	ctx = WithRecorder(ctx, c)
	assert.Same(t, c, RecorderFromContext(ctx))
}
