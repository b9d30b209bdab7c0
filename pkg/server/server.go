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

// Package server exposes sessions over websocket connections and runs the
// periodic provider health retry and session sweep.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/teradata-labs/brain/pkg/bridge"
	"github.com/teradata-labs/brain/pkg/reasoning"
	"github.com/teradata-labs/brain/pkg/router"
	"github.com/teradata-labs/brain/pkg/session"
	"github.com/teradata-labs/brain/pkg/stream"
	"github.com/teradata-labs/brain/pkg/workflow"
)

// Config configures the coordinator server.
type Config struct {
	Addr           string        `mapstructure:"addr"`
	AllowedOrigins []string      `mapstructure:"allowed_origins"`
	IdleTimeout    time.Duration `mapstructure:"idle_timeout"`
	MaxInFlight    int           `mapstructure:"max_in_flight"`
	QueueSize      int           `mapstructure:"queue_size"`
	// HealthSchedule and SweepSchedule are cron specs, e.g. "@every 30s".
	HealthSchedule string `mapstructure:"health_schedule"`
	SweepSchedule  string `mapstructure:"sweep_schedule"`
	EnableSSE      bool   `mapstructure:"enable_sse"`
}

// DefaultConfig returns the default server configuration.
func DefaultConfig() Config {
	return Config{
		Addr:           "0.0.0.0:8000",
		AllowedOrigins: []string{"*"},
		IdleTimeout:    session.DefaultIdleTimeout,
		MaxInFlight:    4,
		QueueSize:      stream.DefaultQueueSize,
		HealthSchedule: "@every 30s",
		SweepSchedule:  "@every 5m",
		EnableSSE:      true,
	}
}

// Registry is the provider registry surface the server needs.
type Registry interface {
	router.Registry
	RetryUnhealthy(ctx context.Context) int
}

// Options carries the collaborators of a Server.
type Options struct {
	Config      Config
	Registry    Registry
	Bridge      *bridge.Bridge
	Planner     workflow.Planner
	Synthesizer workflow.Synthesizer
	Store       workflow.Store
	StepSink    reasoning.Sink
	Logger      *zap.Logger
}

// Server owns the sessions, the event emitter and the HTTP endpoints.
type Server struct {
	config   Config
	logger   *zap.Logger
	registry Registry

	sessions *session.Manager
	emitter  *stream.Emitter
	mirror   *stream.SSEMirror
	router   *router.Router
	upgrader websocket.Upgrader
	cron     *cron.Cron

	httpServer *http.Server
	conns      sync.WaitGroup
}

// New wires a Server.
func New(opts Options) (*Server, error) {
	if opts.Registry == nil || opts.Bridge == nil {
		return nil, errors.New("server requires a registry and a bridge")
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	cfg := opts.Config
	def := DefaultConfig()
	if cfg.Addr == "" {
		cfg.Addr = def.Addr
	}
	if cfg.HealthSchedule == "" {
		cfg.HealthSchedule = def.HealthSchedule
	}
	if cfg.SweepSchedule == "" {
		cfg.SweepSchedule = def.SweepSchedule
	}

	s := &Server{
		config:   cfg,
		logger:   opts.Logger,
		registry: opts.Registry,
		cron:     cron.New(),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     s.checkOrigin,
	}

	emitterCfg := stream.Config{
		Logger:    opts.Logger,
		QueueSize: cfg.QueueSize,
		OnDead:    s.onDead,
	}
	if cfg.EnableSSE {
		s.mirror = stream.NewSSEMirror(opts.Logger)
		emitterCfg.Mirror = s.mirror
	}
	s.emitter = stream.NewEmitter(emitterCfg)

	s.sessions = session.NewManager(session.Config{
		IdleTimeout: cfg.IdleTimeout,
		ChainSink:   opts.StepSink,
		OnDestroy:   s.onDestroy,
		Logger:      opts.Logger,
	})

	exec, err := workflow.NewExecutor(workflow.Config{
		Bridge:      opts.Bridge,
		Planner:     opts.Planner,
		Synthesizer: opts.Synthesizer,
		Notifier:    s.emitter,
		Store:       opts.Store,
		StepSink:    opts.StepSink,
		MaxInFlight: cfg.MaxInFlight,
		Logger:      opts.Logger,
	})
	if err != nil {
		return nil, err
	}

	s.router, err = router.New(router.Config{
		Sessions: s.sessions,
		Executor: exec,
		Tools:    opts.Bridge,
		Registry: opts.Registry,
		Notifier: s.emitter,
		Logger:   opts.Logger,
	})
	if err != nil {
		return nil, err
	}

	if err := s.scheduleMaintenance(); err != nil {
		return nil, err
	}
	return s, nil
}

// Sessions returns the session manager.
func (s *Server) Sessions() *session.Manager {
	return s.sessions
}

// BroadcastServers pushes the provider list to every connected client. It
// is called after the provider file is reloaded.
func (s *Server) BroadcastServers() {
	s.router.BroadcastServers()
}

// Handler returns the HTTP handler serving every endpoint.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebsocket)
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/sessions", s.handleSessions)
	mux.HandleFunc("GET /sessions/{id}/events", s.handleSessionEvents)
	if s.mirror != nil {
		mux.Handle("/events", s.mirror)
	}
	return mux
}

// Start runs the maintenance jobs and serves HTTP until Stop is called.
func (s *Server) Start() error {
	s.cron.Start()
	s.httpServer = &http.Server{
		Addr:        s.config.Addr,
		Handler:     s.Handler(),
		ReadTimeout: 30 * time.Second,
		IdleTimeout: 120 * time.Second,
	}
	s.logger.Info("Starting coordinator", zap.String("addr", s.config.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("HTTP server failed: %w", err)
	}
	return nil
}

// Stop shuts the server down: every session is destroyed and its workflow
// cancelled before Stop returns.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Stopping coordinator")
	<-s.cron.Stop().Done()

	var err error
	if s.httpServer != nil {
		err = s.httpServer.Shutdown(ctx)
	}
	s.sessions.Close()

	waited := make(chan struct{})
	go func() {
		s.conns.Wait()
		close(waited)
	}()
	select {
	case <-waited:
	case <-ctx.Done():
		s.logger.Warn("Connections still open at shutdown")
	}

	s.emitter.Close()
	if s.mirror != nil {
		s.mirror.Close()
	}
	return err
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || len(s.config.AllowedOrigins) == 0 {
		return true
	}
	for _, allowed := range s.config.AllowedOrigins {
		if allowed == "*" || strings.EqualFold(allowed, origin) {
			return true
		}
	}
	s.logger.Warn("Rejected websocket origin", zap.String("origin", origin))
	return false
}

// onDead runs when a session's connection stopped accepting events.
func (s *Server) onDead(sessionID string) {
	s.sessions.MarkForTeardown(sessionID)
}

func (s *Server) onDestroy(sessionID string) {
	s.emitter.Unregister(sessionID)
	if s.mirror != nil {
		s.mirror.Remove(sessionID)
	}
}

func (s *Server) scheduleMaintenance() error {
	if _, err := s.cron.AddFunc(s.config.HealthSchedule, s.retryProviders); err != nil {
		return fmt.Errorf("invalid health schedule %q: %w", s.config.HealthSchedule, err)
	}
	if _, err := s.cron.AddFunc(s.config.SweepSchedule, s.sweepSessions); err != nil {
		return fmt.Errorf("invalid sweep schedule %q: %w", s.config.SweepSchedule, err)
	}
	return nil
}

func (s *Server) retryProviders() {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()
	if n := s.registry.RetryUnhealthy(ctx); n > 0 {
		s.logger.Info("Providers recovered", zap.Int("count", n))
	}
}

func (s *Server) sweepSessions() {
	if n := s.sessions.Sweep(time.Now()); n > 0 {
		s.logger.Info("Swept sessions", zap.Int("count", n))
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := s.router.Status()
	code := http.StatusOK
	if status.Health == "unhealthy" {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, status)
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"sessions": s.sessions.List()})
}

// handleSessionEvents returns the recent events delivered to one session.
func (s *Server) handleSessionEvents(w http.ResponseWriter, r *http.Request) {
	sess, err := s.sessions.Get(r.PathValue("id"))
	if err != nil {
		writeJSON(w, http.StatusNotFound, stream.Error(err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"session_id": sess.ID,
		"events":     sess.Events(),
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
