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
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"

	"github.com/teradata-labs/brain/pkg/types"
)

func newFilesystemServer(release <-chan struct{}) *server.MCPServer {
	s := server.NewMCPServer("fs-test", "1.0.0", server.WithToolCapabilities(true))
	s.AddTool(mcp.NewTool("list_directory",
		mcp.WithDescription("List directory entries"),
		mcp.WithString("path", mcp.Required(), mcp.Description("Directory to list")),
	), func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		path, _ := req.GetArguments()["path"].(string)
		return mcp.NewToolResultText("a.go\nb.go in " + path), nil
	})
	s.AddTool(mcp.NewTool("read_file",
		mcp.WithDescription("Read a file"),
		mcp.WithString("path", mcp.Required()),
	), func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return mcp.NewToolResultError("permission denied"), nil
	})
	s.AddTool(mcp.NewTool("slow"), func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-release:
			return mcp.NewToolResultText("done"), nil
		}
	})
	return s
}

func newSearchServer(name string) *server.MCPServer {
	s := server.NewMCPServer(name, "1.0.0", server.WithToolCapabilities(true))
	s.AddTool(mcp.NewTool("search", mcp.WithString("query", mcp.Required())),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			return mcp.NewToolResultText(name), nil
		})
	return s
}

func inProcess(s *server.MCPServer) ProviderConfig {
	return ProviderConfig{Enabled: true, Transport: TransportInProcess, Server: s}
}

func newTestManager(t *testing.T, cfg Config, opts ...Option) *Manager {
	t.Helper()
	m, err := NewManager(cfg, zaptest.NewLogger(t), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Stop() })
	return m
}

// fakeConn is a scriptable Conn for failure paths.
type fakeConn struct {
	tools   []types.Capability
	call    func(ctx context.Context, name string, params map[string]any) (*CallResult, error)
	pingErr error
	closed  atomic.Bool
}

func (f *fakeConn) Handshake(ctx context.Context) ([]types.Capability, error) {
	return f.tools, nil
}

func (f *fakeConn) ListTools(ctx context.Context) ([]types.Capability, error) {
	return f.tools, nil
}

func (f *fakeConn) CallTool(ctx context.Context, name string, params map[string]any) (*CallResult, error) {
	if f.call == nil {
		return &CallResult{Text: "ok"}, nil
	}
	return f.call(ctx, name, params)
}

func (f *fakeConn) Ping(ctx context.Context) error {
	return f.pingErr
}

func (f *fakeConn) Close() error {
	f.closed.Store(true)
	return nil
}

func dialerFor(conn Conn, dials *atomic.Int32) Dialer {
	return func(ctx context.Context, id string, cfg ProviderConfig, info ClientInfo) (Conn, error) {
		if dials != nil {
			dials.Add(1)
		}
		return conn, nil
	}
}

func stdioConfig() ProviderConfig {
	return ProviderConfig{Enabled: true, Command: "provider"}
}

func TestManager_ConnectInProcess(t *testing.T) {
	m := newTestManager(t, DefaultConfig())

	info, err := m.Connect(context.Background(), "filesystem", inProcess(newFilesystemServer(nil)))
	require.NoError(t, err)
	assert.Equal(t, types.HealthConnected, info.Health)
	assert.Equal(t, "filesystem", info.Kind)
	assert.Equal(t, 3, info.ToolCount)
	assert.NotNil(t, info.ConnectedAt)

	tools, err := m.ListTools("filesystem")
	require.NoError(t, err)
	require.Len(t, tools, 3)
	assert.Equal(t, "list_directory", tools[0].Name)
	assert.Equal(t, "List directory entries", tools[0].Description)
	assert.Equal(t, []types.Field{{Name: "path", Type: types.FieldString, Required: true, Description: "Directory to list"}},
		tools[0].Schema().Fields)
}

func TestManager_ListToolsIsIdempotent(t *testing.T) {
	m := newTestManager(t, DefaultConfig())
	_, err := m.Connect(context.Background(), "filesystem", inProcess(newFilesystemServer(nil)))
	require.NoError(t, err)

	first, err := m.ListTools("filesystem")
	require.NoError(t, err)
	second, err := m.ListTools("filesystem")
	require.NoError(t, err)
	assert.Equal(t, first, second)

	refreshed, err := m.RefreshTools(context.Background(), "filesystem")
	require.NoError(t, err)
	assert.Equal(t, first, refreshed)
}

func TestManager_ListToolsUnknownProvider(t *testing.T) {
	m := newTestManager(t, DefaultConfig())
	_, err := m.ListTools("nope")
	assert.ErrorIs(t, err, types.ErrNotFound)
}

func TestManager_ConnectFailureLeavesProviderUnreachable(t *testing.T) {
	dialErr := errors.New("exec: not found")
	m := newTestManager(t, DefaultConfig(), WithDialer(func(ctx context.Context, id string, cfg ProviderConfig, info ClientInfo) (Conn, error) {
		return nil, dialErr
	}))

	info, err := m.Connect(context.Background(), "git", stdioConfig())
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrConnection)
	assert.ErrorIs(t, err, dialErr)
	assert.Equal(t, types.HealthUnreachable, info.Health)

	providers := m.ListProviders()
	require.Len(t, providers, 1)
	assert.Equal(t, types.HealthUnreachable, providers[0].Health)
	assert.Contains(t, providers[0].LastError, "not found")

	_, err = m.Invoke(context.Background(), "git", "status", nil, 0)
	assert.ErrorIs(t, err, types.ErrConnection)
}

func TestManager_ConnectValidation(t *testing.T) {
	m := newTestManager(t, DefaultConfig())

	_, err := m.Connect(context.Background(), "", stdioConfig())
	assert.ErrorIs(t, err, types.ErrValidation)

	_, err = m.Connect(context.Background(), "x", ProviderConfig{Enabled: true})
	assert.ErrorIs(t, err, types.ErrValidation)

	_, err = m.Connect(context.Background(), "x", ProviderConfig{})
	assert.ErrorIs(t, err, types.ErrValidation)
}

func TestManager_ConnectDuplicate(t *testing.T) {
	m := newTestManager(t, DefaultConfig())
	_, err := m.Connect(context.Background(), "filesystem", inProcess(newFilesystemServer(nil)))
	require.NoError(t, err)

	_, err = m.Connect(context.Background(), "filesystem", inProcess(newFilesystemServer(nil)))
	assert.ErrorIs(t, err, types.ErrConflict)
}

func TestManager_Invoke(t *testing.T) {
	m := newTestManager(t, DefaultConfig())
	_, err := m.Connect(context.Background(), "filesystem", inProcess(newFilesystemServer(nil)))
	require.NoError(t, err)

	res, err := m.Invoke(context.Background(), "filesystem", "list_directory", map[string]any{"path": "./src"}, time.Second)
	require.NoError(t, err)
	assert.False(t, res.IsError)
	assert.Equal(t, "a.go\nb.go in ./src", res.Text)
	assert.Equal(t, "a.go\nb.go in ./src", res.Data())
}

func TestManager_InvokeLogsCallerIDs(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	m, err := NewManager(DefaultConfig(), zap.New(core))
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Stop() })
	_, err = m.Connect(context.Background(), "filesystem", inProcess(newFilesystemServer(nil)))
	require.NoError(t, err)

	ctx := types.WithWorkflowID(types.WithSessionID(context.Background(), "s1"), "wf1")
	_, err = m.Invoke(ctx, "filesystem", "list_directory", map[string]any{"path": "."}, time.Second)
	require.NoError(t, err)

	entries := logs.FilterMessage("Invoking tool").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, "s1", fields["session_id"])
	assert.Equal(t, "wf1", fields["workflow_id"])
	assert.Equal(t, "filesystem", fields["provider_id"])
	assert.Equal(t, "list_directory", fields["tool"])
}

func TestManager_InvokeToolError(t *testing.T) {
	m := newTestManager(t, DefaultConfig())
	_, err := m.Connect(context.Background(), "filesystem", inProcess(newFilesystemServer(nil)))
	require.NoError(t, err)

	res, err := m.Invoke(context.Background(), "filesystem", "read_file", map[string]any{"path": "/etc/shadow"}, time.Second)
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrToolExecution)
	assert.Contains(t, err.Error(), "permission denied")
	require.NotNil(t, res)
	assert.True(t, res.IsError)

	providers := m.ListProviders()
	assert.Equal(t, types.HealthConnected, providers[0].Health)
}

func TestManager_TimeoutsDegradeAfterThreshold(t *testing.T) {
	cfg := DefaultConfig()
	cfg.FailureThreshold = 2
	m := newTestManager(t, cfg)

	release := make(chan struct{})
	defer close(release)
	_, err := m.Connect(context.Background(), "filesystem", inProcess(newFilesystemServer(release)))
	require.NoError(t, err)

	_, err = m.Invoke(context.Background(), "filesystem", "slow", nil, 20*time.Millisecond)
	assert.ErrorIs(t, err, types.ErrTimeout)
	assert.Equal(t, types.HealthConnected, m.ListProviders()[0].Health)
	assert.Len(t, m.Lookup("slow"), 1)

	_, err = m.Invoke(context.Background(), "filesystem", "slow", nil, 20*time.Millisecond)
	assert.ErrorIs(t, err, types.ErrTimeout)
	assert.Equal(t, types.HealthDegraded, m.ListProviders()[0].Health)
	assert.Empty(t, m.Lookup("slow"), "degraded providers are excluded from resolution")

	info, err := m.Reconnect(context.Background(), "filesystem")
	require.NoError(t, err)
	assert.Equal(t, types.HealthConnected, info.Health)
	assert.Len(t, m.Lookup("slow"), 1)
}

func TestManager_SuccessResetsTimeoutCount(t *testing.T) {
	cfg := DefaultConfig()
	cfg.FailureThreshold = 2
	var slow atomic.Bool
	conn := &fakeConn{
		tools: []types.Capability{{Name: "t"}},
		call: func(ctx context.Context, name string, params map[string]any) (*CallResult, error) {
			if slow.Load() {
				<-ctx.Done()
				return nil, ctx.Err()
			}
			return &CallResult{Text: "ok"}, nil
		},
	}
	m := newTestManager(t, cfg, WithDialer(dialerFor(conn, nil)))
	_, err := m.Connect(context.Background(), "p", stdioConfig())
	require.NoError(t, err)

	slow.Store(true)
	_, err = m.Invoke(context.Background(), "p", "t", nil, 10*time.Millisecond)
	assert.ErrorIs(t, err, types.ErrTimeout)

	slow.Store(false)
	_, err = m.Invoke(context.Background(), "p", "t", nil, time.Second)
	require.NoError(t, err)

	slow.Store(true)
	_, err = m.Invoke(context.Background(), "p", "t", nil, 10*time.Millisecond)
	assert.ErrorIs(t, err, types.ErrTimeout)
	assert.Equal(t, types.HealthConnected, m.ListProviders()[0].Health)
}

func TestManager_ConnectionFailureDegrades(t *testing.T) {
	conn := &fakeConn{
		tools: []types.Capability{{Name: "t"}},
		call: func(ctx context.Context, name string, params map[string]any) (*CallResult, error) {
			return nil, errors.New("broken pipe")
		},
		pingErr: errors.New("broken pipe"),
	}
	m := newTestManager(t, DefaultConfig(), WithDialer(dialerFor(conn, nil)))
	_, err := m.Connect(context.Background(), "p", stdioConfig())
	require.NoError(t, err)

	_, err = m.Invoke(context.Background(), "p", "t", nil, time.Second)
	assert.ErrorIs(t, err, types.ErrConnection)
	assert.Equal(t, types.HealthDegraded, m.ListProviders()[0].Health)
	assert.Equal(t, "unhealthy", m.Health())
}

func TestManager_RejectedCallKeepsProviderConnected(t *testing.T) {
	conn := &fakeConn{
		tools: []types.Capability{{Name: "t"}},
		call: func(ctx context.Context, name string, params map[string]any) (*CallResult, error) {
			return nil, errors.New("method not found")
		},
	}
	m := newTestManager(t, DefaultConfig(), WithDialer(dialerFor(conn, nil)))
	_, err := m.Connect(context.Background(), "p", stdioConfig())
	require.NoError(t, err)

	_, err = m.Invoke(context.Background(), "p", "t", nil, time.Second)
	assert.ErrorIs(t, err, types.ErrToolExecution)
	assert.Equal(t, types.HealthConnected, m.ListProviders()[0].Health)
}

func TestManager_InvokeParentCancelled(t *testing.T) {
	conn := &fakeConn{
		tools: []types.Capability{{Name: "t"}},
		call: func(ctx context.Context, name string, params map[string]any) (*CallResult, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		},
	}
	m := newTestManager(t, DefaultConfig(), WithDialer(dialerFor(conn, nil)))
	_, err := m.Connect(context.Background(), "p", stdioConfig())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(10*time.Millisecond, cancel)
	_, err = m.Invoke(ctx, "p", "t", nil, time.Second)
	assert.ErrorIs(t, err, types.ErrWorkflowCancelled)
	assert.Equal(t, types.HealthConnected, m.ListProviders()[0].Health)
}

func maxConcurrency(t *testing.T, serialize bool) int32 {
	t.Helper()
	var active, peak atomic.Int32
	conn := &fakeConn{
		tools: []types.Capability{{Name: "t"}},
		call: func(ctx context.Context, name string, params map[string]any) (*CallResult, error) {
			n := active.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(20 * time.Millisecond)
			active.Add(-1)
			return &CallResult{Text: "ok"}, nil
		},
	}
	m := newTestManager(t, DefaultConfig(), WithDialer(dialerFor(conn, nil)))
	cfg := stdioConfig()
	cfg.Serialize = serialize
	_, err := m.Connect(context.Background(), "p", cfg)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := m.Invoke(context.Background(), "p", "t", nil, time.Second)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	return peak.Load()
}

func TestManager_SerializedProviderRunsOneCallAtATime(t *testing.T) {
	assert.Equal(t, int32(1), maxConcurrency(t, true))
}

func TestManager_ConcurrentCallsAllowedByDefault(t *testing.T) {
	assert.Greater(t, maxConcurrency(t, false), int32(1))
}

func TestManager_LookupFollowsPriority(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Priority = []string{"zeta"}
	m := newTestManager(t, cfg)

	for _, id := range []string{"alpha", "beta", "zeta"} {
		_, err := m.Connect(context.Background(), id, inProcess(newSearchServer(id)))
		require.NoError(t, err)
	}

	bindings := m.Lookup("search")
	require.Len(t, bindings, 3)
	assert.Equal(t, "zeta", bindings[0].ProviderID)
	assert.Equal(t, "alpha", bindings[1].ProviderID)
	assert.Equal(t, "beta", bindings[2].ProviderID)

	providers := m.ListProviders()
	assert.Equal(t, 1, providers[0].Rank)
	assert.Equal(t, "zeta", providers[0].ID)

	assert.Empty(t, m.Lookup("missing"))
}

func TestManager_Capability(t *testing.T) {
	m := newTestManager(t, DefaultConfig())
	_, err := m.Connect(context.Background(), "filesystem", inProcess(newFilesystemServer(nil)))
	require.NoError(t, err)

	c, health, err := m.Capability("filesystem", "read_file")
	require.NoError(t, err)
	assert.Equal(t, "read_file", c.Name)
	assert.Equal(t, types.HealthConnected, health)

	_, _, err = m.Capability("filesystem", "write_file")
	assert.ErrorIs(t, err, types.ErrNotFound)
	_, _, err = m.Capability("git", "status")
	assert.ErrorIs(t, err, types.ErrNotFound)
}

func TestManager_Disconnect(t *testing.T) {
	conn := &fakeConn{tools: []types.Capability{{Name: "t"}}}
	m := newTestManager(t, DefaultConfig(), WithDialer(dialerFor(conn, nil)))
	_, err := m.Connect(context.Background(), "p", stdioConfig())
	require.NoError(t, err)

	require.NoError(t, m.Disconnect("p"))
	assert.True(t, conn.closed.Load())
	assert.Empty(t, m.ListProviders())
	assert.ErrorIs(t, m.Disconnect("p"), types.ErrNotFound)

	_, err = m.Invoke(context.Background(), "p", "t", nil, 0)
	assert.ErrorIs(t, err, types.ErrConnection)
}

func TestManager_StartToleratesPartialFailure(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Providers["good"] = stdioConfig()
	cfg.Providers["bad"] = stdioConfig()
	cfg.Providers["off"] = ProviderConfig{Enabled: false}

	m := newTestManager(t, cfg, WithDialer(func(ctx context.Context, id string, pc ProviderConfig, info ClientInfo) (Conn, error) {
		if id == "bad" {
			return nil, errors.New("refused")
		}
		return &fakeConn{tools: []types.Capability{{Name: "t"}}}, nil
	}))

	require.NoError(t, m.Start(context.Background()))
	providers := m.ListProviders()
	require.Len(t, providers, 2)
	assert.Equal(t, "partial", m.Health())

	assert.Error(t, m.Start(context.Background()), "second start is rejected")
}

func TestManager_StartFailsWhenAllProvidersFail(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Providers["bad"] = stdioConfig()
	m := newTestManager(t, cfg, WithDialer(func(ctx context.Context, id string, pc ProviderConfig, info ClientInfo) (Conn, error) {
		return nil, errors.New("refused")
	}))

	err := m.Start(context.Background())
	assert.ErrorContains(t, err, "all providers failed")
}

func TestManager_RetryUnhealthyRecovers(t *testing.T) {
	var fail atomic.Bool
	fail.Store(true)
	m := newTestManager(t, DefaultConfig(), WithDialer(func(ctx context.Context, id string, cfg ProviderConfig, info ClientInfo) (Conn, error) {
		if fail.Load() {
			return nil, errors.New("not yet")
		}
		return &fakeConn{tools: []types.Capability{{Name: "t"}}}, nil
	}))

	_, err := m.Connect(context.Background(), "p", stdioConfig())
	require.Error(t, err)
	assert.Equal(t, 0, m.RetryUnhealthy(context.Background()))

	fail.Store(false)
	assert.Equal(t, 1, m.RetryUnhealthy(context.Background()))
	assert.Equal(t, "healthy", m.Health())
}

func TestManager_Reload(t *testing.T) {
	var dials atomic.Int32
	m := newTestManager(t, Config{Providers: map[string]ProviderConfig{"a": stdioConfig()}},
		WithDialer(func(ctx context.Context, id string, cfg ProviderConfig, info ClientInfo) (Conn, error) {
			dials.Add(1)
			return &fakeConn{tools: []types.Capability{{Name: id + "_tool"}}}, nil
		}))
	require.NoError(t, m.Start(context.Background()))
	_, err := m.Connect(context.Background(), "manual", stdioConfig())
	require.NoError(t, err)
	require.Equal(t, int32(2), dials.Load())

	unchanged := Config{Providers: map[string]ProviderConfig{"a": stdioConfig()}}
	require.NoError(t, m.Reload(context.Background(), unchanged))
	assert.Equal(t, int32(2), dials.Load(), "unchanged providers are not redialed")

	changed := stdioConfig()
	changed.Args = []string{"--verbose"}
	next := Config{
		Priority:  []string{"b"},
		Providers: map[string]ProviderConfig{"a": changed, "b": stdioConfig()},
	}
	require.NoError(t, m.Reload(context.Background(), next))
	assert.Equal(t, int32(4), dials.Load())
	ids := providerIDs(m.ListProviders())
	assert.Equal(t, []string{"b", "a", "manual"}, ids)

	require.NoError(t, m.Reload(context.Background(), Config{Providers: map[string]ProviderConfig{"b": stdioConfig()}}))
	assert.Equal(t, []string{"b", "manual"}, providerIDs(m.ListProviders()))

	assert.Error(t, m.Reload(context.Background(), Config{Providers: map[string]ProviderConfig{"x": {Enabled: true}}}))
	assert.Equal(t, []string{"b", "manual"}, providerIDs(m.ListProviders()))
}

func providerIDs(providers []ProviderInfo) []string {
	ids := make([]string, len(providers))
	for i, p := range providers {
		ids[i] = p.ID
	}
	return ids
}
