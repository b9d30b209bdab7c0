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

// Package session owns per-client state: identity, the active workflow,
// the direct-call reasoning chain and the event log.
package session

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/teradata-labs/brain/pkg/reasoning"
	"github.com/teradata-labs/brain/pkg/stream"
	"github.com/teradata-labs/brain/pkg/types"
	"github.com/teradata-labs/brain/pkg/workflow"
)

const (
	DefaultIdleTimeout = 24 * time.Hour
	defaultDestroyWait = 10 * time.Second
	// maxEventLog bounds the per-session event log.
	maxEventLog = 500
)

// Session is one client's state. A session has at most one non-terminal
// workflow.
type Session struct {
	ID        string
	CreatedAt time.Time

	ctx    context.Context
	cancel context.CancelFunc
	closer func()
	chain  *reasoning.Chain

	mu         sync.Mutex
	workflow   *workflow.Workflow
	lastActive time.Time
	teardown   bool
	events     []stream.Event
}

// Context is cancelled when the session is destroyed. Workflows and direct
// tool calls of the session derive from it.
func (s *Session) Context() context.Context {
	return s.ctx
}

// Workflow returns the active workflow, or the most recent finished one.
func (s *Session) Workflow() *workflow.Workflow {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.workflow
}

// ActiveWorkflow returns the workflow if it has not reached a terminal phase.
func (s *Session) ActiveWorkflow() *workflow.Workflow {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.workflow != nil && !s.workflow.Terminal() {
		return s.workflow
	}
	return nil
}

// Chain records direct tool calls made outside a workflow.
func (s *Session) Chain() *reasoning.Chain {
	return s.chain
}

// Touch marks the session as active now.
func (s *Session) Touch() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastActive = time.Now()
}

// LastActive returns when the session last handled a command.
func (s *Session) LastActive() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActive
}

// Record appends ev to the session's event log.
func (s *Session) Record(ev stream.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	if len(s.events) > maxEventLog {
		s.events = append([]stream.Event(nil), s.events[len(s.events)-maxEventLog:]...)
	}
}

// Events returns a copy of the event log in production order.
func (s *Session) Events() []stream.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]stream.Event(nil), s.events...)
}

// Info is a summary of a session.
type Info struct {
	ID             string    `json:"id"`
	CreatedAt      time.Time `json:"created_at"`
	LastActive     time.Time `json:"last_active"`
	WorkflowID     string    `json:"workflow_id,omitempty"`
	WorkflowPhase  string    `json:"workflow_phase,omitempty"`
	EventCount     int       `json:"event_count"`
	MarkedTeardown bool      `json:"marked_for_teardown"`
}

// Info returns a summary of the session.
func (s *Session) Info() Info {
	s.mu.Lock()
	defer s.mu.Unlock()
	info := Info{
		ID:             s.ID,
		CreatedAt:      s.CreatedAt,
		LastActive:     s.lastActive,
		EventCount:     len(s.events),
		MarkedTeardown: s.teardown,
	}
	if s.workflow != nil {
		info.WorkflowID = s.workflow.ID
		info.WorkflowPhase = string(s.workflow.Phase())
	}
	return info
}

// Config configures a Manager.
type Config struct {
	// IdleTimeout destroys sessions without an active workflow that have
	// been idle this long. Default 24h.
	IdleTimeout time.Duration
	// DestroyWait bounds how long Destroy waits for a cancelled workflow.
	DestroyWait time.Duration
	// ChainSink persists direct-call reasoning steps.
	ChainSink reasoning.Sink
	// OnDestroy runs after a session was destroyed.
	OnDestroy func(sessionID string)
	Logger    *zap.Logger
}

// Metrics are session counters.
type Metrics struct {
	Created   int64 `json:"created"`
	Destroyed int64 `json:"destroyed"`
	Active    int64 `json:"active"`
}

// Manager creates, tracks and destroys sessions.
type Manager struct {
	config Config
	logger *zap.Logger

	mu        sync.RWMutex
	sessions  map[string]*Session
	created   int64
	destroyed int64
}

// NewManager creates a Manager.
func NewManager(config Config) *Manager {
	if config.IdleTimeout <= 0 {
		config.IdleTimeout = DefaultIdleTimeout
	}
	if config.DestroyWait <= 0 {
		config.DestroyWait = defaultDestroyWait
	}
	if config.Logger == nil {
		config.Logger = zap.NewNop()
	}
	return &Manager{
		config:   config,
		logger:   config.Logger,
		sessions: make(map[string]*Session),
	}
}

// Create registers a new session. closer, if set, closes the client
// connection and runs once when the session is destroyed.
func (m *Manager) Create(closer func()) *Session {
	id := uuid.NewString()
	ctx, cancel := context.WithCancel(types.WithSessionID(context.Background(), id))
	opts := []reasoning.Option{reasoning.WithLogger(m.logger)}
	if m.config.ChainSink != nil {
		opts = append(opts, reasoning.WithSink(m.config.ChainSink))
	}
	now := time.Now()
	s := &Session{
		ID:         id,
		CreatedAt:  now,
		ctx:        ctx,
		cancel:     cancel,
		closer:     closer,
		chain:      reasoning.NewChain(id, opts...),
		lastActive: now,
	}

	m.mu.Lock()
	m.sessions[id] = s
	m.created++
	m.mu.Unlock()

	m.logger.Info("Session created", zap.String("session_id", id))
	return s
}

// Get returns the session with id.
func (m *Manager) Get(id string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, types.NewNotFoundError("session %q not found", id)
	}
	return s, nil
}

// AttachWorkflow makes wf the session's workflow. It fails with a
// ConflictError while another workflow of the session is not terminal.
func (m *Manager) AttachWorkflow(id string, wf *workflow.Workflow) error {
	s, err := m.Get(id)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.teardown {
		return types.NewConflictError("session %q is shutting down", id)
	}
	if s.workflow != nil && !s.workflow.Terminal() {
		return types.NewConflictError("workflow %s is still %s", s.workflow.ID, s.workflow.Phase()).
			WithDetail("workflow_id", s.workflow.ID)
	}
	s.workflow = wf
	s.lastActive = time.Now()
	return nil
}

// MarkForTeardown flags a session whose connection is gone. It is
// destroyed by the next Sweep.
func (m *Manager) MarkForTeardown(id string) {
	s, err := m.Get(id)
	if err != nil {
		return
	}
	s.mu.Lock()
	s.teardown = true
	s.mu.Unlock()
	m.logger.Debug("Session marked for teardown", zap.String("session_id", id))
}

// Destroy removes the session, cancels its active workflow and waits for it
// to stop, then closes the connection.
func (m *Manager) Destroy(id string) error {
	m.mu.Lock()
	s, ok := m.sessions[id]
	if ok {
		delete(m.sessions, id)
		m.destroyed++
	}
	m.mu.Unlock()
	if !ok {
		return types.NewNotFoundError("session %q not found", id)
	}

	s.cancel()
	if wf := s.ActiveWorkflow(); wf != nil {
		wf.Cancel()
		select {
		case <-wf.Done():
		case <-time.After(m.config.DestroyWait):
			m.logger.Warn("Workflow did not stop before session teardown",
				zap.String("session_id", id),
				zap.String("workflow_id", wf.ID))
		}
	}
	if s.closer != nil {
		s.closer()
	}
	if m.config.OnDestroy != nil {
		m.config.OnDestroy(id)
	}

	m.logger.Info("Session destroyed", zap.String("session_id", id))
	return nil
}

// Sweep destroys sessions marked for teardown and idle sessions without an
// active workflow. It returns how many were destroyed.
func (m *Manager) Sweep(now time.Time) int {
	m.mu.RLock()
	var expired []string
	for id, s := range m.sessions {
		s.mu.Lock()
		idle := now.Sub(s.lastActive) > m.config.IdleTimeout &&
			(s.workflow == nil || s.workflow.Terminal())
		if s.teardown || idle {
			expired = append(expired, id)
		}
		s.mu.Unlock()
	}
	m.mu.RUnlock()

	n := 0
	for _, id := range expired {
		if m.Destroy(id) == nil {
			n++
		}
	}
	if n > 0 {
		m.logger.Info("Swept sessions", zap.Int("destroyed", n))
	}
	return n
}

// List returns summaries of all sessions ordered by creation time.
func (m *Manager) List() []Info {
	m.mu.RLock()
	out := make([]Info, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s.Info())
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// Metrics returns session counters.
func (m *Manager) Metrics() Metrics {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return Metrics{Created: m.created, Destroyed: m.destroyed, Active: int64(len(m.sessions))}
}

// Close destroys every session.
func (m *Manager) Close() {
	m.mu.RLock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	m.mu.RUnlock()
	for _, id := range ids {
		_ = m.Destroy(id)
	}
}
