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
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type recordingSink struct {
	mu     sync.Mutex
	events []Event
	failAt int
	block  chan struct{}
}

func (s *recordingSink) Send(ev Event) error {
	if s.block != nil {
		<-s.block
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failAt > 0 && len(s.events)+1 >= s.failAt {
		return errors.New("connection reset")
	}
	s.events = append(s.events, ev)
	return nil
}

func (s *recordingSink) snapshot() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Event(nil), s.events...)
}

type recordingMirror struct {
	mu     sync.Mutex
	events map[string][]Event
}

func (m *recordingMirror) Publish(sessionID string, ev Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.events == nil {
		m.events = make(map[string][]Event)
	}
	m.events[sessionID] = append(m.events[sessionID], ev)
}

func (m *recordingMirror) count(sessionID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.events[sessionID])
}

func TestEmitter_DeliversInOrder(t *testing.T) {
	e := NewEmitter(Config{Logger: zaptest.NewLogger(t)})
	defer e.Close()
	sink := &recordingSink{}
	e.Register("s1", sink)

	for i := 0; i < 100; i++ {
		require.True(t, e.Emit("s1", Progress("wf", "Executing", i)))
	}

	require.Eventually(t, func() bool { return len(sink.snapshot()) == 100 }, time.Second, 5*time.Millisecond)
	for i, ev := range sink.snapshot() {
		assert.Equal(t, i, ev.Get("progress"))
	}
	delivered, dropped := e.Stats()
	assert.Equal(t, int64(100), delivered)
	assert.Equal(t, int64(0), dropped)
}

func TestEmitter_UnknownSessionDrops(t *testing.T) {
	e := NewEmitter(Config{})
	assert.False(t, e.Emit("missing", Thinking("", "", "hi")))
	_, dropped := e.Stats()
	assert.Equal(t, int64(1), dropped)
}

func TestEmitter_DeadConnectionMarksSession(t *testing.T) {
	dead := make(chan string, 4)
	e := NewEmitter(Config{Logger: zaptest.NewLogger(t), OnDead: func(id string) { dead <- id }})
	defer e.Close()
	e.Register("s1", &recordingSink{failAt: 2})

	e.Emit("s1", Thinking("", "", "one"))
	e.Emit("s1", Thinking("", "", "two"))
	e.Emit("s1", Thinking("", "", "three"))

	select {
	case id := <-dead:
		assert.Equal(t, "s1", id)
	case <-time.After(time.Second):
		t.Fatal("OnDead not called")
	}

	require.Eventually(t, func() bool { return !e.Emit("s1", Thinking("", "", "late")) }, time.Second, 5*time.Millisecond)
	select {
	case <-dead:
		t.Fatal("OnDead called twice")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestEmitter_FullQueueMarksSessionDead(t *testing.T) {
	dead := make(chan string, 1)
	block := make(chan struct{})
	defer close(block)
	e := NewEmitter(Config{QueueSize: 1, EnqueueWait: 10 * time.Millisecond, OnDead: func(id string) { dead <- id }})
	e.Register("s1", &recordingSink{block: block})

	ok := true
	for i := 0; i < 5 && ok; i++ {
		ok = e.Emit("s1", Thinking("", "", fmt.Sprint(i)))
	}
	assert.False(t, ok)
	select {
	case id := <-dead:
		assert.Equal(t, "s1", id)
	case <-time.After(time.Second):
		t.Fatal("OnDead not called")
	}
}

func TestEmitter_SessionsAreIndependent(t *testing.T) {
	block := make(chan struct{})
	e := NewEmitter(Config{})
	defer e.Close()
	defer close(block)

	slow := &recordingSink{block: block}
	fast := &recordingSink{}
	e.Register("slow", slow)
	e.Register("fast", fast)

	e.Emit("slow", Thinking("", "", "stuck"))
	e.Emit("fast", Thinking("", "", "free"))

	require.Eventually(t, func() bool { return len(fast.snapshot()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Empty(t, slow.snapshot())
}

func TestEmitter_UnregisterStopsDelivery(t *testing.T) {
	e := NewEmitter(Config{})
	sink := &recordingSink{}
	e.Register("s1", sink)
	e.Unregister("s1")

	assert.False(t, e.Emit("s1", Thinking("", "", "gone")))
	e.Unregister("s1")
	assert.Empty(t, sink.snapshot())
}

func TestEmitter_RegisterReplacesSink(t *testing.T) {
	e := NewEmitter(Config{})
	defer e.Close()
	first, second := &recordingSink{}, &recordingSink{}
	e.Register("s1", first)
	e.Register("s1", second)

	e.Emit("s1", Thinking("", "", "hello"))
	require.Eventually(t, func() bool { return len(second.snapshot()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Empty(t, first.snapshot())
}

func TestEmitter_BroadcastReachesEverySession(t *testing.T) {
	e := NewEmitter(Config{Logger: zaptest.NewLogger(t)})
	defer e.Close()
	a, b := &recordingSink{}, &recordingSink{}
	e.Register("a", a)
	e.Register("b", b)

	assert.Equal(t, 2, e.Broadcast(ServersUpdate([]string{"filesystem"})))
	require.Eventually(t, func() bool {
		return len(a.snapshot()) == 1 && len(b.snapshot()) == 1
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, TypeServersUpdate, a.snapshot()[0].Type)
	assert.Equal(t, []string{"filesystem"}, b.snapshot()[0].Get("servers"))

	e.Unregister("b")
	assert.Equal(t, 1, e.Broadcast(ServersUpdate(nil)))
}

func TestEmitter_MirrorSeesDeliveredEvents(t *testing.T) {
	mirror := &recordingMirror{}
	e := NewEmitter(Config{Mirror: mirror})
	defer e.Close()
	e.Register("s1", SinkFunc(func(Event) error { return nil }))

	e.Emit("s1", Thinking("", "", "a"))
	e.Emit("s1", Thinking("", "", "b"))
	require.Eventually(t, func() bool { return mirror.count("s1") == 2 }, time.Second, 5*time.Millisecond)
}

func TestSSEMirror_PublishCreatesStream(t *testing.T) {
	m := NewSSEMirror(zaptest.NewLogger(t))
	defer m.Close()

	m.Publish("s1", Thinking("", "", "hello"))
	assert.True(t, m.server.StreamExists("s1"))

	m.Remove("s1")
	assert.False(t, m.server.StreamExists("s1"))
}
