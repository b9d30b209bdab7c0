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
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/teradata-labs/brain/internal/version"
	"github.com/teradata-labs/brain/pkg/config"
	"github.com/teradata-labs/brain/pkg/llm"
	"github.com/teradata-labs/brain/pkg/llm/anthropic"
	"github.com/teradata-labs/brain/pkg/llm/bedrock"
	"github.com/teradata-labs/brain/pkg/mcp/manager"
	"github.com/teradata-labs/brain/pkg/providers/filesystem"
	"github.com/teradata-labs/brain/pkg/storage/sqlite"
	"github.com/teradata-labs/brain/pkg/workflow"
)

// filesystemProviderID names the bundled in-process provider.
const filesystemProviderID = "filesystem"

// loadProviderConfig reads the provider file, or returns an empty registry
// configuration when none is configured. Keyring secrets are injected into
// provider environments.
func loadProviderConfig(path string, getSecret func(string) (string, error)) (manager.Config, error) {
	mc := manager.DefaultConfig()
	if path != "" {
		loaded, err := manager.LoadConfigFile(path)
		if err != nil {
			return manager.Config{}, err
		}
		mc = loaded
	}
	mc.ClientInfo = manager.ClientInfo{Name: config.ServiceName, Version: version.Get()}
	config.InjectProviderSecrets(&mc, getSecret)
	return mc, nil
}

// startRegistry builds the provider registry and connects every provider,
// including the bundled filesystem provider when a root is configured.
func startRegistry(ctx context.Context, c *config.Config, logger *zap.Logger) (*manager.Manager, error) {
	mc, err := loadProviderConfig(c.Providers.File, config.GetSecret)
	if err != nil {
		return nil, err
	}
	m, err := manager.NewManager(mc, logger.Named("registry"))
	if err != nil {
		return nil, err
	}
	if err := m.Start(ctx); err != nil {
		return nil, err
	}

	if c.Providers.FilesystemRoot != "" {
		fs, err := filesystem.New(c.Providers.FilesystemRoot, filesystem.WithLogger(logger.Named("filesystem")))
		if err != nil {
			_ = m.Stop()
			return nil, err
		}
		_, err = m.Connect(ctx, filesystemProviderID, manager.ProviderConfig{
			Enabled:   true,
			Transport: manager.TransportInProcess,
			Server:    fs.MCPServer(version.Get()),
		})
		if err != nil {
			_ = m.Stop()
			return nil, fmt.Errorf("failed to start filesystem provider: %w", err)
		}
	}
	return m, nil
}

// startWatcher reloads the registry when the provider file changes. It
// returns nil when there is nothing to watch.
func startWatcher(ctx context.Context, m *manager.Manager, c *config.Config, logger *zap.Logger, onReload func()) (*manager.Watcher, error) {
	if !c.Providers.Watch || c.Providers.File == "" {
		return nil, nil
	}
	if _, err := os.Stat(c.Providers.File); err != nil {
		return nil, nil
	}
	path := c.Providers.File
	w, err := manager.NewWatcher(m, manager.WatcherConfig{
		Path:   path,
		Load:   func() (manager.Config, error) { return loadProviderConfig(path, config.GetSecret) },
		Logger: logger.Named("watcher"),
		OnReload: func(err error) {
			if err != nil {
				logger.Warn("Provider reload failed", zap.String("path", path), zap.Error(err))
				return
			}
			if onReload != nil {
				onReload()
			}
		},
	})
	if err != nil {
		return nil, err
	}
	if err := w.Start(ctx); err != nil {
		return nil, err
	}
	return w, nil
}

// newReasoners selects the planner and synthesizer for the configured LLM
// backend. The keyword backend needs no model.
func newReasoners(ctx context.Context, c config.LLMConfig, logger *zap.Logger) (workflow.Planner, workflow.Synthesizer, error) {
	var client *anthropic.Client
	switch c.Provider {
	case "anthropic":
		client = anthropic.NewClient(anthropic.Config{
			APIKey:      c.AnthropicAPIKey,
			Model:       c.Model,
			BaseURL:     c.BaseURL,
			Timeout:     c.Timeout,
			MaxTokens:   c.MaxTokens,
			Temperature: c.Temperature,
			MaxRetries:  2,
		})
	case "bedrock":
		var err error
		client, err = bedrock.NewClient(ctx, bedrock.Config{
			Region:          c.BedrockRegion,
			Profile:         c.BedrockProfile,
			AccessKeyID:     c.BedrockAccessKeyID,
			SecretAccessKey: c.BedrockSecretAccessKey,
			SessionToken:    c.BedrockSessionToken,
			Model:           c.Model,
			BaseURL:         c.BaseURL,
			Timeout:         c.Timeout,
			MaxTokens:       c.MaxTokens,
			Temperature:     c.Temperature,
			MaxRetries:      2,
		})
		if err != nil {
			return nil, nil, err
		}
	default:
		return workflow.KeywordPlanner{}, workflow.TextSynthesizer{}, nil
	}
	logger.Info("Using LLM planner", zap.String("provider", client.Name()), zap.String("model", client.Model()))

	// Planner and synthesizer share one budget.
	limited := llm.NewRateLimiter(client, llm.RateLimiterConfig{Logger: logger.Named("ratelimit")})
	return workflow.NewLLMPlanner(limited, logger.Named("planner")),
		workflow.NewLLMSynthesizer(limited, logger.Named("synthesizer")), nil
}

// openAudit opens the audit store and drops records older than the
// retention window. It returns nil when auditing is disabled.
func openAudit(ctx context.Context, c config.AuditConfig, logger *zap.Logger) (*sqlite.Store, error) {
	if !c.Enabled {
		return nil, nil
	}
	store, err := sqlite.Open(ctx, c.Path, logger.Named("audit"))
	if err != nil {
		return nil, err
	}
	if c.RetentionDays > 0 {
		pruneAudit(ctx, store, c.RetentionDays, logger)
	}
	return store, nil
}

func pruneAudit(ctx context.Context, store *sqlite.Store, days int, logger *zap.Logger) {
	cutoff := time.Now().AddDate(0, 0, -days)
	if _, err := store.Prune(ctx, cutoff); err != nil {
		logger.Warn("Audit prune failed", zap.Error(err))
	}
}
