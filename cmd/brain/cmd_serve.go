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
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/teradata-labs/brain/internal/version"
	"github.com/teradata-labs/brain/pkg/bridge"
	"github.com/teradata-labs/brain/pkg/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the coordinator",
	Long: `Start the websocket coordinator.

Clients connect to /ws and send JSON commands. Every connection gets its own
session; workflows run in the background and stream their progress back.`,
	Run: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) {
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := cfg.Logging.Build()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("Starting brain",
		zap.String("version", version.Get()),
		zap.String("data_dir", cfg.DataDir),
		zap.String("llm_provider", cfg.LLM.Provider))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	registry, err := startRegistry(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("Failed to start tool registry", zap.Error(err))
	}
	defer func() { _ = registry.Stop() }()

	tools, err := bridge.New(bridge.Config{Registry: registry, Logger: logger.Named("bridge")})
	if err != nil {
		logger.Fatal("Failed to create tool bridge", zap.Error(err))
	}

	planner, synthesizer, err := newReasoners(ctx, cfg.LLM, logger)
	if err != nil {
		logger.Fatal("Failed to create LLM client", zap.String("provider", cfg.LLM.Provider), zap.Error(err))
	}
	opts := server.Options{
		Config:      cfg.Server,
		Registry:    registry,
		Bridge:      tools,
		Planner:     planner,
		Synthesizer: synthesizer,
		Logger:      logger.Named("server"),
	}

	audit, err := openAudit(ctx, cfg.Audit, logger)
	if err != nil {
		logger.Warn("Audit store disabled", zap.String("path", cfg.Audit.Path), zap.Error(err))
	}
	if audit != nil {
		defer func() { _ = audit.Close() }()
		opts.Store = audit
		opts.StepSink = audit
		logger.Info("Audit store enabled", zap.String("path", cfg.Audit.Path))
	}

	srv, err := server.New(opts)
	if err != nil {
		logger.Fatal("Failed to create server", zap.Error(err))
	}

	watcher, err := startWatcher(ctx, registry, cfg, logger, srv.BroadcastServers)
	if err != nil {
		logger.Warn("Provider hot reload disabled", zap.Error(err))
	}
	if watcher != nil {
		defer func() { _ = watcher.Stop() }()
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	sigch := make(chan os.Signal, 1)
	signal.Notify(sigch, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil {
			logger.Error("Server stopped", zap.Error(err))
		}
	case <-sigch:
		logger.Info("Shutting down gracefully... (press Ctrl+C again to force)")
		go func() {
			<-sigch
			logger.Warn("Force shutdown requested")
			os.Exit(1)
		}()
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Stop(shutdownCtx); err != nil {
		logger.Warn("Shutdown incomplete", zap.Error(err))
	}
	logger.Info("Shutdown complete")
}
