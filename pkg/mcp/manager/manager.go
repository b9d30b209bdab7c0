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

package manager

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/teradata-labs/brain/pkg/types"
)

// ProviderInfo is a point-in-time view of a tool provider.
type ProviderInfo struct {
	ID          string             `json:"id"`
	Kind        string             `json:"kind"`
	Transport   Transport          `json:"transport"`
	Health      types.HealthState  `json:"status"`
	ToolCount   int                `json:"tool_count"`
	Rank        int                `json:"priority"`
	Serialize   bool               `json:"serialize"`
	LastError   string             `json:"last_error,omitempty"`
	ConnectedAt *time.Time         `json:"connected_at,omitempty"`
	Tools       []types.Capability `json:"-"`
}

// Binding pairs a capability with the provider that owns it.
type Binding struct {
	ProviderID string
	Capability types.Capability
}

type provider struct {
	id   string
	cfg  ProviderConfig
	kind string
	// slot serializes calls when cfg.Serialize is set
	slot chan struct{}

	mu          sync.RWMutex
	conn        Conn
	health      types.HealthState
	tools       []types.Capability
	timeouts    int
	lastError   string
	connectedAt time.Time
}

func (p *provider) snapshot() ProviderInfo {
	p.mu.RLock()
	defer p.mu.RUnlock()
	info := ProviderInfo{
		ID:        p.id,
		Kind:      p.kind,
		Transport: p.cfg.Transport,
		Health:    p.health,
		ToolCount: len(p.tools),
		Serialize: p.cfg.Serialize,
		LastError: p.lastError,
		Tools:     append([]types.Capability(nil), p.tools...),
	}
	if !p.connectedAt.IsZero() {
		t := p.connectedAt
		info.ConnectedAt = &t
	}
	return info
}

// Option configures a Manager.
type Option func(*Manager)

// WithDialer replaces the transport dialer.
func WithDialer(d Dialer) Option {
	return func(m *Manager) { m.dial = d }
}

// Manager owns every provider connection. It is safe for concurrent use;
// calls to different providers, and to the same non-serialized provider,
// proceed in parallel.
type Manager struct {
	logger *zap.Logger
	dial   Dialer

	// ctx bounds long-lived transport streams; cancelled by Stop
	ctx    context.Context
	cancel context.CancelFunc

	mu               sync.RWMutex
	config           Config
	providers        map[string]*provider
	owned            map[string]bool
	callTimeout      time.Duration
	handshakeTimeout time.Duration
	started          bool
}

// NewManager creates a new registry.
func NewManager(config Config, logger *zap.Logger, opts ...Option) (*Manager, error) {
	if config.Providers == nil {
		config.Providers = make(map[string]ProviderConfig)
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	if logger == nil {
		logger = zap.NewNop()
	}

	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		logger:    logger,
		ctx:       ctx,
		cancel:    cancel,
		config:    config,
		providers: make(map[string]*provider),
		owned:     make(map[string]bool),
	}
	m.applyTimeouts(config)
	m.dial = DefaultDialer(logger)
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

func (m *Manager) applyTimeouts(config Config) {
	m.callTimeout, _ = parseDuration(config.CallTimeout, DefaultCallTimeout)
	m.handshakeTimeout, _ = parseDuration(config.HandshakeTimeout, DefaultHandshakeTimeout)
}

// Start connects every enabled provider in parallel. Individual failures
// leave the provider registered as unreachable; Start fails only when every
// enabled provider failed.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return fmt.Errorf("manager already started")
	}
	m.started = true
	providers := make(map[string]ProviderConfig, len(m.config.Providers))
	for id, cfg := range m.config.Providers {
		providers[id] = cfg
	}
	m.mu.Unlock()

	m.logger.Info("Starting tool registry", zap.Int("provider_count", len(providers)))

	var (
		g         errgroup.Group
		errMu     sync.Mutex
		startErrs []error
		enabled   int
	)
	for id, cfg := range providers {
		if !cfg.Enabled {
			m.logger.Debug("Skipping disabled provider", zap.String("provider_id", id))
			continue
		}
		enabled++
		g.Go(func() error {
			if _, err := m.connect(ctx, id, cfg, true); err != nil {
				errMu.Lock()
				startErrs = append(startErrs, fmt.Errorf("provider %s: %w", id, err))
				errMu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	if enabled > 0 && len(startErrs) == enabled {
		return fmt.Errorf("all providers failed to connect: %v", startErrs)
	}
	if len(startErrs) > 0 {
		m.logger.Warn("Some providers failed to connect",
			zap.Int("failed", len(startErrs)),
			zap.Int("successful", enabled-len(startErrs)))
	}
	return nil
}

// Stop closes every provider connection.
func (m *Manager) Stop() error {
	m.mu.Lock()
	providers := m.providers
	m.providers = make(map[string]*provider)
	m.owned = make(map[string]bool)
	m.started = false
	m.mu.Unlock()

	m.logger.Info("Stopping tool registry", zap.Int("provider_count", len(providers)))

	var errs []error
	for id, p := range providers {
		if err := p.close(); err != nil {
			m.logger.Error("Failed to close provider", zap.String("provider_id", id), zap.Error(err))
			errs = append(errs, fmt.Errorf("provider %s: %w", id, err))
		}
	}
	m.cancel()

	if len(errs) > 0 {
		return fmt.Errorf("errors closing providers: %v", errs)
	}
	return nil
}

// Connect registers a provider and performs the capability handshake. On a
// failed handshake the provider stays registered as unreachable and a
// ConnectionError is returned.
func (m *Manager) Connect(ctx context.Context, id string, cfg ProviderConfig) (ProviderInfo, error) {
	return m.connect(ctx, id, cfg, false)
}

func (m *Manager) connect(ctx context.Context, id string, cfg ProviderConfig, owned bool) (ProviderInfo, error) {
	if id == "" {
		return ProviderInfo{}, types.NewValidationError("provider id is required")
	}
	if err := cfg.Validate(); err != nil {
		return ProviderInfo{}, types.NewValidationError("provider %s: %v", id, err)
	}
	if !cfg.Enabled {
		return ProviderInfo{}, types.NewValidationError("provider %s is disabled", id)
	}

	p := &provider{
		id:     id,
		cfg:    cfg,
		kind:   Classify(id),
		health: types.HealthUnreachable,
	}
	if cfg.Serialize {
		p.slot = make(chan struct{}, 1)
	}

	m.mu.Lock()
	if _, exists := m.providers[id]; exists {
		m.mu.Unlock()
		return ProviderInfo{}, types.NewConflictError("provider %s already registered", id)
	}
	m.providers[id] = p
	if owned {
		m.owned[id] = true
	}
	m.mu.Unlock()

	err := m.handshake(ctx, p)
	return m.info(p), err
}

// handshake (re)establishes p. An existing connection is pinged first; a
// dead one is replaced.
func (m *Manager) handshake(ctx context.Context, p *provider) error {
	hctx, cancel := context.WithTimeout(ctx, m.handshakeTimeout)
	defer cancel()

	p.mu.RLock()
	conn := p.conn
	p.mu.RUnlock()

	var (
		tools []types.Capability
		err   error
	)
	if conn != nil {
		if err = conn.Ping(hctx); err == nil {
			tools, err = conn.ListTools(hctx)
		}
		if err != nil {
			m.logger.Debug("Existing provider connection unusable, redialing",
				zap.String("provider_id", p.id), zap.Error(err))
			_ = conn.Close()
			conn = nil
		}
	}

	if conn == nil {
		conn, err = m.dial(m.ctx, p.id, p.cfg, m.clientInfo())
		if err != nil {
			m.markUnreachable(p, err)
			return types.NewConnectionError(err, "failed to connect provider %s", p.id)
		}
		tools, err = conn.Handshake(hctx)
		if err != nil {
			_ = conn.Close()
			m.markUnreachable(p, err)
			return types.NewConnectionError(err, "handshake with provider %s failed", p.id)
		}
	}

	filtered := make([]types.Capability, 0, len(tools))
	for _, t := range tools {
		if p.cfg.Tools.ShouldRegister(t.Name) {
			filtered = append(filtered, t)
		}
	}
	sort.Slice(filtered, func(i, j int) bool { return filtered[i].Name < filtered[j].Name })

	p.mu.Lock()
	p.conn = conn
	p.tools = filtered
	p.health = types.HealthConnected
	p.timeouts = 0
	p.lastError = ""
	p.connectedAt = time.Now()
	p.mu.Unlock()

	m.logger.Info("Provider connected",
		zap.String("provider_id", p.id),
		zap.String("transport", string(p.cfg.Transport)),
		zap.Int("tool_count", len(filtered)))
	return nil
}

func (m *Manager) markUnreachable(p *provider, err error) {
	p.mu.Lock()
	p.conn = nil
	p.health = types.HealthUnreachable
	p.lastError = err.Error()
	p.mu.Unlock()

	m.logger.Warn("Provider unreachable", zap.String("provider_id", p.id), zap.Error(err))
}

func (m *Manager) clientInfo() ClientInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.config.ClientInfo
}

// Reconnect forces a handshake on a registered provider.
func (m *Manager) Reconnect(ctx context.Context, id string) (ProviderInfo, error) {
	p, err := m.get(id)
	if err != nil {
		return ProviderInfo{}, err
	}
	err = m.handshake(ctx, p)
	return m.info(p), err
}

// RetryUnhealthy retries the handshake of every degraded or unreachable
// provider and returns how many recovered.
func (m *Manager) RetryUnhealthy(ctx context.Context) int {
	var pending []*provider
	m.mu.RLock()
	for _, p := range m.providers {
		p.mu.RLock()
		if p.health != types.HealthConnected {
			pending = append(pending, p)
		}
		p.mu.RUnlock()
	}
	m.mu.RUnlock()

	recovered := 0
	for _, p := range pending {
		if err := m.handshake(ctx, p); err == nil {
			recovered++
		}
	}
	if len(pending) > 0 {
		m.logger.Info("Retried unhealthy providers",
			zap.Int("retried", len(pending)),
			zap.Int("recovered", recovered))
	}
	return recovered
}

// Disconnect closes and unregisters a provider.
func (m *Manager) Disconnect(id string) error {
	m.mu.Lock()
	p, ok := m.providers[id]
	if !ok {
		m.mu.Unlock()
		return types.NewNotFoundError("provider %s not registered", id)
	}
	delete(m.providers, id)
	delete(m.owned, id)
	m.mu.Unlock()

	m.logger.Info("Provider disconnected", zap.String("provider_id", id))
	return p.close()
}

func (p *provider) close() error {
	p.mu.Lock()
	conn := p.conn
	p.conn = nil
	p.health = types.HealthUnreachable
	p.mu.Unlock()
	if conn == nil {
		return nil
	}
	return conn.Close()
}

func (m *Manager) get(id string) (*provider, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.providers[id]
	if !ok {
		return nil, types.NewNotFoundError("provider %s not registered", id)
	}
	return p, nil
}

// ListTools returns the cached capability set of a provider. Repeated calls
// for an unchanged provider return identical sets.
func (m *Manager) ListTools(id string) ([]types.Capability, error) {
	p, err := m.get(id)
	if err != nil {
		return nil, err
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]types.Capability(nil), p.tools...), nil
}

// RefreshTools re-runs discovery against a connected provider.
func (m *Manager) RefreshTools(ctx context.Context, id string) ([]types.Capability, error) {
	p, err := m.get(id)
	if err != nil {
		return nil, err
	}
	if err := m.handshake(ctx, p); err != nil {
		return nil, err
	}
	return m.ListTools(id)
}

// Invoke calls tool on provider id. A zero timeout uses the provider's
// configured timeout, then the registry default.
func (m *Manager) Invoke(ctx context.Context, id, tool string, params map[string]any, timeout time.Duration) (*CallResult, error) {
	p, err := m.get(id)
	if err != nil {
		return nil, types.NewConnectionError(err, "provider %s unavailable", id)
	}

	p.mu.RLock()
	conn, health := p.conn, p.health
	p.mu.RUnlock()
	if conn == nil || health == types.HealthUnreachable {
		return nil, types.NewConnectionError(nil, "provider %s is unreachable", id)
	}

	if timeout <= 0 {
		timeout, _ = parseDuration(p.cfg.Timeout, m.defaultCallTimeout())
	}
	trace := append(types.LogFields(ctx), zap.String("provider_id", id), zap.String("tool", tool))
	m.logger.Debug("Invoking tool", append(trace, zap.Duration("timeout", timeout))...)

	if p.slot != nil {
		select {
		case p.slot <- struct{}{}:
			defer func() { <-p.slot }()
		case <-ctx.Done():
			return nil, types.NewCancelledError("call to %s cancelled while queued", tool)
		}
	}

	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	res, err := conn.CallTool(callCtx, tool, params)
	switch {
	case err == nil:
		m.recordSuccess(p)
		if res.IsError {
			return res, types.NewToolExecutionError(nil, "%s", res.Text).WithDetail("provider_id", id)
		}
		return res, nil

	case ctx.Err() != nil:
		return nil, types.NewCancelledError("call to %s cancelled", tool)

	case errors.Is(callCtx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded):
		m.recordTimeout(p, trace)
		return nil, types.NewTimeoutError(err, "call to %s on %s exceeded %s", tool, id, timeout)

	default:
		// A provider that still answers a ping rejected the call itself.
		pctx, pcancel := context.WithTimeout(m.ctx, 2*time.Second)
		defer pcancel()
		if pingErr := conn.Ping(pctx); pingErr != nil {
			m.degrade(p, err, trace)
			return nil, types.NewConnectionError(err, "provider %s failed during call to %s", id, tool)
		}
		return nil, types.NewToolExecutionError(err, "provider %s rejected call to %s", id, tool)
	}
}

func (m *Manager) defaultCallTimeout() time.Duration {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.callTimeout
}

func (m *Manager) recordSuccess(p *provider) {
	p.mu.Lock()
	p.timeouts = 0
	p.mu.Unlock()
}

// recordTimeout counts a timed out call; trace identifies the call.
func (m *Manager) recordTimeout(p *provider, trace []zap.Field) {
	m.mu.RLock()
	threshold := m.config.FailureThreshold
	m.mu.RUnlock()

	p.mu.Lock()
	p.timeouts++
	count := p.timeouts
	tripped := count >= threshold && p.health == types.HealthConnected
	if tripped {
		p.health = types.HealthDegraded
		p.lastError = fmt.Sprintf("%d consecutive timeouts", count)
	}
	p.mu.Unlock()

	m.logger.Debug("Tool call timed out", append(trace, zap.Int("timeouts", count))...)
	if tripped {
		m.logger.Warn("Provider degraded after repeated timeouts",
			zap.String("provider_id", p.id),
			zap.Int("timeouts", count))
	}
}

func (m *Manager) degrade(p *provider, err error, trace []zap.Field) {
	p.mu.Lock()
	if p.health == types.HealthConnected {
		p.health = types.HealthDegraded
	}
	p.lastError = err.Error()
	p.mu.Unlock()

	m.logger.Warn("Provider degraded after connection failure", append(trace, zap.Error(err))...)
}

// Lookup returns every connected provider exposing tool, ordered by
// provider priority. Degraded and unreachable providers are excluded.
func (m *Manager) Lookup(tool string) []Binding {
	var out []Binding
	for _, info := range m.ListProviders() {
		if info.Health != types.HealthConnected {
			continue
		}
		for _, c := range info.Tools {
			if c.Name == tool {
				out = append(out, Binding{ProviderID: info.ID, Capability: c})
				break
			}
		}
	}
	return out
}

// Capability returns provider id's declaration of tool regardless of the
// provider's health.
func (m *Manager) Capability(id, tool string) (types.Capability, types.HealthState, error) {
	p, err := m.get(id)
	if err != nil {
		return types.Capability{}, "", err
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, c := range p.tools {
		if c.Name == tool {
			return c, p.health, nil
		}
	}
	return types.Capability{}, p.health, types.NewNotFoundError("provider %s has no tool %s", id, tool)
}

// ListProviders returns every registered provider ordered by priority.
func (m *Manager) ListProviders() []ProviderInfo {
	m.mu.RLock()
	providers := make([]*provider, 0, len(m.providers))
	for _, p := range m.providers {
		providers = append(providers, p)
	}
	priority := m.config.Priority
	m.mu.RUnlock()

	sortByPriority(providers, priority)

	out := make([]ProviderInfo, len(providers))
	for i, p := range providers {
		out[i] = p.snapshot()
		out[i].Rank = i + 1
	}
	return out
}

func (m *Manager) info(p *provider) ProviderInfo {
	for _, info := range m.ListProviders() {
		if info.ID == p.id {
			return info
		}
	}
	return p.snapshot()
}

// sortByPriority orders providers listed in priority first, in list order,
// then the rest by id.
func sortByPriority(providers []*provider, priority []string) {
	index := make(map[string]int, len(priority))
	for i, id := range priority {
		index[id] = i
	}
	rank := func(id string) int {
		if i, ok := index[id]; ok {
			return i
		}
		return len(priority)
	}
	sort.Slice(providers, func(i, j int) bool {
		ri, rj := rank(providers[i].id), rank(providers[j].id)
		if ri != rj {
			return ri < rj
		}
		return providers[i].id < providers[j].id
	})
}

// Health summarizes provider health: healthy when every provider is
// connected, partial when some are, unhealthy otherwise.
func (m *Manager) Health() string {
	providers := m.ListProviders()
	connected := 0
	for _, p := range providers {
		if p.Health == types.HealthConnected {
			connected++
		}
	}
	switch {
	case len(providers) > 0 && connected == len(providers):
		return "healthy"
	case connected > 0:
		return "partial"
	}
	return "unhealthy"
}

// Reload applies a new configuration. Providers that came from the previous
// configuration are disconnected when removed or disabled and reconnected
// when changed. Providers added through Connect are left untouched.
func (m *Manager) Reload(ctx context.Context, next Config) error {
	if next.Providers == nil {
		next.Providers = make(map[string]ProviderConfig)
	}
	if err := next.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	m.mu.Lock()
	previous := m.config.Providers
	owned := make(map[string]bool, len(m.owned))
	for id := range m.owned {
		owned[id] = true
	}
	m.config = next
	m.applyTimeouts(next)
	m.mu.Unlock()

	for id := range owned {
		cfg, keep := next.Providers[id]
		if keep && cfg.Enabled && cfg.fingerprint() == previous[id].fingerprint() {
			continue
		}
		if err := m.Disconnect(id); err != nil {
			m.logger.Debug("Provider already gone", zap.String("provider_id", id))
		}
	}

	for id, cfg := range next.Providers {
		if !cfg.Enabled {
			continue
		}
		if _, err := m.get(id); err == nil {
			continue
		}
		if _, err := m.connect(ctx, id, cfg, true); err != nil {
			m.logger.Warn("Provider failed to connect after reload",
				zap.String("provider_id", id), zap.Error(err))
		}
	}

	m.logger.Info("Provider configuration reloaded", zap.Int("provider_count", len(next.Providers)))
	return nil
}
