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
// Command brain-fs serves a directory as a tool provider. It speaks MCP over
// stdio by default and the go-plugin protocol with --plugin.
package main

import (
	"fmt"
	"os"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/teradata-labs/brain/internal/version"
	"github.com/teradata-labs/brain/pkg/config"
	"github.com/teradata-labs/brain/pkg/plugin"
	"github.com/teradata-labs/brain/pkg/providers/filesystem"
)

var (
	root         string
	pluginMode   bool
	maxReadBytes int64
	logLevel     string
)

var rootCmd = &cobra.Command{
	Use:     "brain-fs [flags]",
	Short:   "Serve a directory as list_directory, read_file and search_files tools",
	Version: version.Get(),
	Args:    cobra.NoArgs,
	RunE:    run,
}

func init() {
	rootCmd.Flags().StringVar(&root, "root", ".", "directory to serve")
	rootCmd.Flags().BoolVar(&pluginMode, "plugin", false, "serve the go-plugin protocol instead of MCP stdio")
	rootCmd.Flags().Int64Var(&maxReadBytes, "max-read-bytes", 0, "truncate read_file output (0 uses the default)")
	rootCmd.Flags().StringVar(&logLevel, "log-level", "warn", "log level; logs go to stderr")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	// stdout carries the protocol
	logger, err := config.LoggingConfig{Level: logLevel, Format: "json"}.Build()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	opts := []filesystem.Option{filesystem.WithLogger(logger)}
	if maxReadBytes > 0 {
		opts = append(opts, filesystem.WithMaxReadBytes(maxReadBytes))
	}
	provider, err := filesystem.New(config.ExpandPath(root), opts...)
	if err != nil {
		return err
	}
	logger.Info("Serving filesystem provider",
		zap.String("root", provider.Root()),
		zap.Bool("plugin", pluginMode))

	if pluginMode {
		plugin.Serve(provider.Plugin())
		return nil
	}
	return server.ServeStdio(provider.MCPServer(version.Get()))
}
