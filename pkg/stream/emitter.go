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

// Package stream delivers ordered events to client connections.
package stream

import (
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Sink delivers an event to one client connection. An error means the
// connection is gone.
type Sink interface {
	Send(ev Event) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ev Event) error

func (f SinkFunc) Send(ev Event) error { return f(ev) }

// Mirror receives a copy of every delivered event.
type Mirror interface {
	Publish(sessionID string, ev Event)
}

const (
	DefaultQueueSize   = 256
	defaultEnqueueWait = time.Second
)

// Config configures an Emitter.
type Config struct {
	Logger    *zap.Logger
	QueueSize int
	// EnqueueWait bounds how long Emit waits on a full queue before the
	// session is treated as gone
	EnqueueWait time.Duration
	// OnDead is called once per session whose connection failed
	OnDead func(sessionID string)
	Mirror Mirror
}

// Emitter delivers events per session in production order. Each session
// has its own queue and delivery goroutine; sessions never block each other.
type Emitter struct {
	config Config
	logger *zap.Logger

	mu     sync.RWMutex
	queues map[string]*queue

	delivered atomic.Int64
	dropped   atomic.Int64
}

type queue struct {
	sessionID string
	sink      Sink
	ch        chan Event
	quit      chan struct{}
	done      chan struct{}
	dead      atomic.Bool
	stopOnce  sync.Once
}

// NewEmitter creates an Emitter.
func NewEmitter(config Config) *Emitter {
	if config.Logger == nil {
		config.Logger = zap.NewNop()
	}
	if config.QueueSize <= 0 {
		config.QueueSize = DefaultQueueSize
	}
	if config.EnqueueWait <= 0 {
		config.EnqueueWait = defaultEnqueueWait
	}
	return &Emitter{
		config: config,
		logger: config.Logger,
		queues: make(map[string]*queue),
	}
}

// Register attaches sink to sessionID, replacing any previous sink.
func (e *Emitter) Register(sessionID string, sink Sink) {
	q := &queue{
		sessionID: sessionID,
		sink:      sink,
		ch:        make(chan Event, e.config.QueueSize),
		quit:      make(chan struct{}),
		done:      make(chan struct{}),
	}

	e.mu.Lock()
	old := e.queues[sessionID]
	e.queues[sessionID] = q
	e.mu.Unlock()

	if old != nil {
		old.stop()
	}
	go e.deliver(q)
}

// Unregister detaches the session's sink. Undelivered events are dropped.
func (e *Emitter) Unregister(sessionID string) {
	e.mu.Lock()
	q := e.queues[sessionID]
	delete(e.queues, sessionID)
	e.mu.Unlock()

	if q != nil {
		q.stop()
	}
}

func (q *queue) stop() {
	q.stopOnce.Do(func() { close(q.quit) })
	<-q.done
}

// Emit queues ev for sessionID. It returns false when the event was
// dropped: unknown session, dead connection or a queue that stayed full.
func (e *Emitter) Emit(sessionID string, ev Event) bool {
	e.mu.RLock()
	q := e.queues[sessionID]
	e.mu.RUnlock()

	if q == nil || q.dead.Load() {
		e.dropped.Add(1)
		return false
	}

	select {
	case q.ch <- ev:
		return true
	default:
	}

	timer := time.NewTimer(e.config.EnqueueWait)
	defer timer.Stop()
	select {
	case q.ch <- ev:
		return true
	case <-q.quit:
		e.dropped.Add(1)
		return false
	case <-timer.C:
		e.dropped.Add(1)
		e.markDead(q, nil)
		return false
	}
}

// Broadcast queues ev for every registered session and returns how many
// accepted it.
func (e *Emitter) Broadcast(ev Event) int {
	e.mu.RLock()
	ids := make([]string, 0, len(e.queues))
	for id := range e.queues {
		ids = append(ids, id)
	}
	e.mu.RUnlock()

	sent := 0
	for _, id := range ids {
		if e.Emit(id, ev) {
			sent++
		}
	}
	return sent
}

func (e *Emitter) deliver(q *queue) {
	defer close(q.done)
	for {
		select {
		case <-q.quit:
			return
		case ev := <-q.ch:
			if q.dead.Load() {
				e.dropped.Add(1)
				continue
			}
			if err := q.sink.Send(ev); err != nil {
				e.dropped.Add(1)
				e.markDead(q, err)
				continue
			}
			e.delivered.Add(1)
			if e.config.Mirror != nil {
				e.config.Mirror.Publish(q.sessionID, ev)
			}
		}
	}
}

func (e *Emitter) markDead(q *queue, err error) {
	if !q.dead.CompareAndSwap(false, true) {
		return
	}
	fields := []zap.Field{zap.String("session_id", q.sessionID)}
	if err != nil {
		fields = append(fields, zap.Error(err))
	} else {
		fields = append(fields, zap.String("reason", "queue full"))
	}
	e.logger.Warn("Client connection lost, dropping events", fields...)

	if e.config.OnDead != nil {
		go e.config.OnDead(q.sessionID)
	}
}

// Stats returns delivery counters.
func (e *Emitter) Stats() (delivered, dropped int64) {
	return e.delivered.Load(), e.dropped.Load()
}

// Close detaches every session.
func (e *Emitter) Close() {
	e.mu.Lock()
	queues := e.queues
	e.queues = make(map[string]*queue)
	e.mu.Unlock()

	for _, q := range queues {
		q.stop()
	}
}
