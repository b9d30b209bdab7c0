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
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/teradata-labs/brain/internal/version"
	"github.com/teradata-labs/brain/pkg/config"
)

var (
	cfgFile string
	cfg     *config.Config
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:     "brain",
	Short:   "Brain - multi-phase reasoning coordinator over tool providers",
	Long:    `Brain plans natural-language queries into task graphs, runs them against MCP tool providers and streams every step to websocket clients.`,
	Version: version.Get(),
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: $BRAIN_DATA_DIR/brain.yaml)")

	// Server flags
	rootCmd.PersistentFlags().String("addr", "0.0.0.0:8000", "websocket listen address")
	rootCmd.PersistentFlags().StringSlice("allowed-origins", []string{"*"}, "allowed websocket origins")

	// Provider flags
	rootCmd.PersistentFlags().String("providers", "", "tool provider YAML file")
	rootCmd.PersistentFlags().String("fs-root", "", "serve the bundled filesystem provider for this directory")

	// LLM flags
	rootCmd.PersistentFlags().String("llm-provider", "keyword", "planner backend (keyword, anthropic)")
	rootCmd.PersistentFlags().String("anthropic-key", "", "Anthropic API key (or use keyring/env)")
	rootCmd.PersistentFlags().String("model", "", "Anthropic model")

	// Audit flags
	rootCmd.PersistentFlags().Bool("audit", true, "record workflows and reasoning steps in SQLite")
	rootCmd.PersistentFlags().String("audit-db", "", "audit database path (default: $BRAIN_DATA_DIR/audit.db)")

	// Logging flags
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "json", "Log format (text, json)")

	// Bind flags to viper
	_ = viper.BindPFlag("server.addr", rootCmd.PersistentFlags().Lookup("addr"))
	_ = viper.BindPFlag("server.allowed_origins", rootCmd.PersistentFlags().Lookup("allowed-origins"))

	_ = viper.BindPFlag("providers.file", rootCmd.PersistentFlags().Lookup("providers"))
	_ = viper.BindPFlag("providers.filesystem_root", rootCmd.PersistentFlags().Lookup("fs-root"))

	_ = viper.BindPFlag("llm.provider", rootCmd.PersistentFlags().Lookup("llm-provider"))
	_ = viper.BindPFlag("llm.anthropic_api_key", rootCmd.PersistentFlags().Lookup("anthropic-key"))
	_ = viper.BindPFlag("llm.model", rootCmd.PersistentFlags().Lookup("model"))

	_ = viper.BindPFlag("audit.enabled", rootCmd.PersistentFlags().Lookup("audit"))
	_ = viper.BindPFlag("audit.path", rootCmd.PersistentFlags().Lookup("audit-db"))

	_ = viper.BindPFlag("logging.level", rootCmd.PersistentFlags().Lookup("log-level"))
	_ = viper.BindPFlag("logging.format", rootCmd.PersistentFlags().Lookup("log-format"))
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	var err error
	cfg, err = config.Load(viper.GetViper(), cfgFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}
}
