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

// Package bridge is the validation and routing layer between workflow
// execution and tool providers.
package bridge

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/teradata-labs/brain/pkg/mcp/manager"
	"github.com/teradata-labs/brain/pkg/reasoning"
	"github.com/teradata-labs/brain/pkg/types"
)

// Registry is the part of the multi-server client the bridge uses.
type Registry interface {
	Lookup(tool string) []manager.Binding
	Capability(providerID, tool string) (types.Capability, types.HealthState, error)
	Invoke(ctx context.Context, providerID, tool string, params map[string]any, timeout time.Duration) (*manager.CallResult, error)
	ListProviders() []manager.ProviderInfo
}

// Config configures a Bridge.
type Config struct {
	Registry Registry
	Logger   *zap.Logger
	// CallTimeout applies to every call; zero defers to the registry.
	CallTimeout time.Duration
}

// Request is a tool call. ProviderID pins the call to one provider and
// skips resolution.
type Request struct {
	ToolName   string
	Parameters map[string]any
	ProviderID string
	TaskID     string
}

// Stats are cumulative call counters.
type Stats struct {
	Calls         int64   `json:"calls"`
	Failures      int64   `json:"failures"`
	AvgDurationMs float64 `json:"avg_duration_ms"`
}

// Bridge validates, resolves and dispatches tool calls.
type Bridge struct {
	registry    Registry
	logger      *zap.Logger
	callTimeout time.Duration

	statsMu     sync.Mutex
	calls       int64
	failures    int64
	totalMillis int64
}

// New creates a Bridge.
func New(cfg Config) (*Bridge, error) {
	if cfg.Registry == nil {
		return nil, fmt.Errorf("registry is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Bridge{
		registry:    cfg.Registry,
		logger:      cfg.Logger,
		callTimeout: cfg.CallTimeout,
	}, nil
}

// Resolve maps a tool name to exactly one connected provider. When several
// providers expose the name, the highest-priority one wins.
func (b *Bridge) Resolve(toolName string) (manager.Binding, error) {
	if toolName == "" {
		return manager.Binding{}, types.NewValidationError("tool name is required")
	}
	bindings := b.registry.Lookup(toolName)
	if len(bindings) == 0 {
		return manager.Binding{}, types.NewResolutionError("no connected provider exposes tool %q", toolName)
	}
	if len(bindings) > 1 {
		b.logger.Debug("Tool exposed by several providers, using priority order",
			zap.String("tool_name", toolName),
			zap.String("provider_id", bindings[0].ProviderID),
			zap.Int("candidates", len(bindings)))
	}
	return bindings[0], nil
}

// resolvePinned returns the binding for an explicitly chosen provider.
func (b *Bridge) resolvePinned(providerID, toolName string) (manager.Binding, error) {
	c, health, err := b.registry.Capability(providerID, toolName)
	if err != nil {
		return manager.Binding{}, types.NewResolutionError("provider %s does not expose tool %q", providerID, toolName)
	}
	if health != types.HealthConnected {
		return manager.Binding{}, types.NewResolutionError("provider %s is %s", providerID, health)
	}
	return manager.Binding{ProviderID: providerID, Capability: c}, nil
}

// Execute runs toolName with params on behalf of sessionID.
func (b *Bridge) Execute(ctx context.Context, toolName string, params map[string]any, sessionID string) (*ToolResult, error) {
	return b.Call(ctx, sessionID, Request{ToolName: toolName, Parameters: params})
}

// Call resolves, validates and dispatches req. The returned envelope is
// never nil; err is non-nil exactly when the envelope reports failure.
// Exactly one reasoning step is appended to the recorder carried by ctx.
func (b *Bridge) Call(ctx context.Context, sessionID string, req Request) (*ToolResult, error) {
	if sessionID == "" {
		sessionID = types.SessionIDFromContext(ctx)
	}
	if req.Parameters == nil {
		req.Parameters = map[string]any{}
	}
	res := &ToolResult{
		CallID:      uuid.NewString(),
		ToolName:    req.ToolName,
		Parameters:  req.Parameters,
		SessionID:   sessionID,
		TaskID:      req.TaskID,
		SubmittedAt: time.Now(),
	}

	data, err := b.dispatch(ctx, req, res)

	res.CompletedAt = time.Now()
	res.DurationMs = res.CompletedAt.Sub(res.SubmittedAt).Milliseconds()
	if err == nil && ctx.Err() != nil {
		// The call finished after cancellation; its output is dropped.
		err = types.NewCancelledError("result of %s discarded after cancellation", req.ToolName)
	}
	if err != nil {
		res.Error = NewErrorInfo(err)
	} else {
		res.Success = true
		res.Data = data
	}

	b.record(ctx, res, err)
	b.count(res)

	fields := []zap.Field{
		zap.String("session_id", sessionID),
		zap.String("workflow_id", types.WorkflowIDFromContext(ctx)),
		zap.String("tool_name", req.ToolName),
		zap.String("provider_id", res.ProviderID),
		zap.Int64("duration_ms", res.DurationMs),
	}
	if err != nil {
		b.logger.Info("Tool call failed", append(fields, zap.String("kind", string(types.KindOf(err))), zap.Error(err))...)
	} else {
		b.logger.Debug("Tool call completed", fields...)
	}
	return res, err
}

func (b *Bridge) dispatch(ctx context.Context, req Request, res *ToolResult) (any, error) {
	var (
		binding manager.Binding
		err     error
	)
	if req.ProviderID != "" {
		binding, err = b.resolvePinned(req.ProviderID, req.ToolName)
	} else {
		binding, err = b.Resolve(req.ToolName)
	}
	if err != nil {
		return nil, err
	}
	res.ProviderID = binding.ProviderID

	if err := ValidateParams(binding.Capability, req.Parameters); err != nil {
		return nil, err
	}

	if ctx.Err() != nil {
		return nil, types.NewCancelledError("call to %s not dispatched after cancellation", req.ToolName)
	}

	out, err := b.registry.Invoke(ctx, binding.ProviderID, req.ToolName, req.Parameters, b.callTimeout)
	if err != nil {
		return nil, err
	}
	return out.Data(), nil
}

func (b *Bridge) record(ctx context.Context, res *ToolResult, err error) {
	rec := reasoning.RecorderFromContext(ctx)
	if rec == nil {
		return
	}

	input := make(map[string]any, len(res.Parameters)+1)
	for k, v := range res.Parameters {
		input[k] = v
	}
	if res.ProviderID != "" {
		input["provider_id"] = res.ProviderID
	}

	step := reasoning.Step{
		Kind:        reasoning.KindExecute,
		Phase:       "Executing",
		TaskID:      res.TaskID,
		Title:       "Execute " + res.ToolName,
		Description: fmt.Sprintf("Called %s on provider %s", res.ToolName, res.ProviderID),
		Input:       input,
		DurationMs:  res.DurationMs,
		Timestamp:   res.CompletedAt,
	}
	switch {
	case err == nil:
		step.Status = reasoning.StatusSuccess
		step.Output = res.Data
	case types.KindOf(err) == types.KindWorkflowCancelled:
		step.Status = reasoning.StatusDiscarded
		step.Error = err.Error()
	default:
		step.Status = reasoning.StatusFailed
		step.Error = err.Error()
	}
	rec.Append(step)
}

func (b *Bridge) count(res *ToolResult) {
	b.statsMu.Lock()
	defer b.statsMu.Unlock()
	b.calls++
	if !res.Success {
		b.failures++
	}
	b.totalMillis += res.DurationMs
}

// Stats returns cumulative call counters.
func (b *Bridge) Stats() Stats {
	b.statsMu.Lock()
	defer b.statsMu.Unlock()
	s := Stats{Calls: b.calls, Failures: b.failures}
	if b.calls > 0 {
		s.AvgDurationMs = float64(b.totalMillis) / float64(b.calls)
	}
	return s
}

// CatalogEntry is a resolvable tool and the provider it resolves to.
type CatalogEntry struct {
	ProviderID string           `json:"provider_id"`
	Capability types.Capability `json:"capability"`
}

// Catalog lists every tool name currently resolvable, each bound to the
// provider resolution would choose, in provider priority order.
func (b *Bridge) Catalog() []CatalogEntry {
	seen := make(map[string]bool)
	var out []CatalogEntry
	for _, p := range b.registry.ListProviders() {
		if p.Health != types.HealthConnected {
			continue
		}
		for _, c := range p.Tools {
			if seen[c.Name] {
				continue
			}
			seen[c.Name] = true
			out = append(out, CatalogEntry{ProviderID: p.ID, Capability: c})
		}
	}
	return out
}
