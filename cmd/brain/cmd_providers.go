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
	"io"
	"os"
	"sort"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/teradata-labs/brain/pkg/mcp/manager"
)

var providersCmd = &cobra.Command{
	Use:   "providers",
	Short: "Connect to the configured providers and report their health",
	Run:   runProviders,
}

var toolsCmd = &cobra.Command{
	Use:   "tools [provider-id]",
	Short: "List the tools discovered on the configured providers",
	Args:  cobra.MaximumNArgs(1),
	Run:   runTools,
}

func init() {
	rootCmd.AddCommand(providersCmd)
	rootCmd.AddCommand(toolsCmd)
}

// withRegistry connects the registry for a one-shot command.
func withRegistry(fn func(m *manager.Manager) error) {
	logger, err := cfg.Logging.Build()
	if err != nil {
		logger = zap.NewNop()
	}
	defer func() { _ = logger.Sync() }()

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	m, err := startRegistry(ctx, cfg, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error connecting providers: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = m.Stop() }()

	if err := fn(m); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runProviders(cmd *cobra.Command, args []string) {
	withRegistry(func(m *manager.Manager) error {
		printProviders(cmd.OutOrStdout(), m.Health(), m.ListProviders())
		return nil
	})
}

func runTools(cmd *cobra.Command, args []string) {
	withRegistry(func(m *manager.Manager) error {
		ids := make([]string, 0)
		if len(args) == 1 {
			ids = append(ids, args[0])
		} else {
			for _, p := range m.ListProviders() {
				ids = append(ids, p.ID)
			}
		}
		for _, id := range ids {
			tools, err := m.ListTools(id)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s (%d tools)\n", id, len(tools))
			sort.Slice(tools, func(i, j int) bool { return tools[i].Name < tools[j].Name })
			for _, t := range tools {
				fmt.Fprintf(cmd.OutOrStdout(), "  %-24s %s\n", t.Name, t.Description)
			}
		}
		return nil
	})
}

func printProviders(w io.Writer, health string, providers []manager.ProviderInfo) {
	fmt.Fprintf(w, "Registry: %s\n", health)
	if len(providers) == 0 {
		fmt.Fprintln(w, "No providers configured")
		return
	}
	fmt.Fprintf(w, "%-20s %-10s %-12s %6s  %s\n", "ID", "TRANSPORT", "STATUS", "TOOLS", "LAST ERROR")
	for _, p := range providers {
		fmt.Fprintf(w, "%-20s %-10s %-12s %6d  %s\n", p.ID, p.Transport, p.Health, p.ToolCount, p.LastError)
	}
}
