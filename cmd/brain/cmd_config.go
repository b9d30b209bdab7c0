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
	"path/filepath"
	"slices"

	"github.com/spf13/cobra"
	"golang.org/x/term"
	"gopkg.in/yaml.v3"

	"github.com/teradata-labs/brain/pkg/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage brain configuration",
	Long:  `Manage configuration files and secrets for brain.`,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Generate example configuration file",
	Long:  `Generate an example brain.yaml configuration file in the data directory.`,
	Run:   runConfigInit,
}

var configSetKeyCmd = &cobra.Command{
	Use:   "set-key [key-name]",
	Short: "Save API key to system keyring",
	Long: `Save an API key to the system keyring securely.

Run 'brain config list-keys' to see available key names.`,
	Args: cobra.ExactArgs(1),
	Run:  runConfigSetKey,
}

var configGetKeyCmd = &cobra.Command{
	Use:   "get-key [key-name]",
	Short: "Retrieve API key from system keyring",
	Long:  `Retrieve an API key from the system keyring (for verification). The value is masked.`,
	Args:  cobra.ExactArgs(1),
	Run:   runConfigGetKey,
}

var configDeleteKeyCmd = &cobra.Command{
	Use:   "delete-key [key-name]",
	Short: "Delete API key from system keyring",
	Args:  cobra.ExactArgs(1),
	Run:   runConfigDeleteKey,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	Long:  `Display the current configuration (merged from all sources). Secrets are masked.`,
	Run:   runConfigShow,
}

var configListKeysCmd = &cobra.Command{
	Use:   "list-keys",
	Short: "List available secret keys",
	Run:   runConfigListKeys,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configSetKeyCmd)
	configCmd.AddCommand(configGetKeyCmd)
	configCmd.AddCommand(configDeleteKeyCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configListKeysCmd)
}

// GenerateExampleConfig returns a commented brain.yaml.
func GenerateExampleConfig() string {
	return `# brain configuration
# Priority: flags > BRAIN_* environment > this file > defaults

server:
  addr: "0.0.0.0:8000"
  allowed_origins: ["*"]
  idle_timeout: 24h
  max_in_flight: 4          # concurrent tool calls per workflow
  queue_size: 256           # buffered events per session
  health_schedule: "@every 30s"
  sweep_schedule: "@every 5m"
  enable_sse: true          # mirror session events on /events

providers:
  file: ~/.brain/providers.yaml
  watch: true
  # filesystem_root: /path/to/project

llm:
  provider: keyword         # keyword, anthropic or bedrock
  # model: claude-sonnet-4-5
  max_tokens: 1000
  timeout: 60s
  # anthropic_api_key: use 'brain config set-key anthropic_api_key'
  bedrock_region: us-west-2
  # bedrock_profile: default  # AWS profile instead of explicit credentials
  # bedrock_access_key_id: use 'brain config set-key bedrock_access_key_id'

audit:
  enabled: true
  retention_days: 30

logging:
  level: info
  format: json
`
}

func runConfigInit(cmd *cobra.Command, args []string) {
	dir := config.DataDir()
	if err := os.MkdirAll(dir, 0o750); err != nil {
		fmt.Fprintf(os.Stderr, "Error creating %s: %v\n", dir, err)
		os.Exit(1)
	}
	path := filepath.Join(dir, config.FileName+".yaml")
	if _, err := os.Stat(path); err == nil {
		fmt.Fprintf(os.Stderr, "Config file already exists: %s\n", path)
		os.Exit(1)
	}
	if err := os.WriteFile(path, []byte(GenerateExampleConfig()), 0o600); err != nil {
		fmt.Fprintf(os.Stderr, "Error writing config: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("✓ Wrote %s\n", path)
}

func validateKeyName(keyName string) error {
	if slices.Contains(config.SecretKeys(), keyName) {
		return nil
	}
	return fmt.Errorf("invalid key name: %s (run 'brain config list-keys')", keyName)
}

func runConfigSetKey(cmd *cobra.Command, args []string) {
	keyName := args[0]
	if err := validateKeyName(keyName); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	// Read secret from stdin (without echo)
	fmt.Printf("Enter %s (input hidden): ", keyName)
	secretBytes, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Println()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error reading input: %v\n", err)
		os.Exit(1)
	}
	secret := string(secretBytes)
	if secret == "" {
		fmt.Fprintf(os.Stderr, "Secret cannot be empty\n")
		os.Exit(1)
	}

	if err := config.SaveSecret(keyName, secret); err != nil {
		fmt.Fprintf(os.Stderr, "Error saving to keyring: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("✓ Saved %s to system keyring\n", keyName)
}

func runConfigGetKey(cmd *cobra.Command, args []string) {
	keyName := args[0]
	secret, err := config.GetSecret(keyName)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error retrieving key: %v\n", err)
		fmt.Fprintf(os.Stderr, "Set it with: brain config set-key %s\n", keyName)
		os.Exit(1)
	}
	fmt.Printf("%s: %s\n", keyName, maskSecret(secret))
}

func runConfigDeleteKey(cmd *cobra.Command, args []string) {
	keyName := args[0]
	if err := config.DeleteSecret(keyName); err != nil {
		fmt.Fprintf(os.Stderr, "Error deleting key: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("✓ Deleted %s from system keyring\n", keyName)
}

func runConfigListKeys(cmd *cobra.Command, args []string) {
	fmt.Println("Available secret keys:")
	for _, k := range config.SecretKeys() {
		status := "not set"
		if _, err := config.GetSecret(k); err == nil {
			status = "set"
		}
		fmt.Printf("  - %-26s (%s)\n", k, status)
	}
}

func runConfigShow(cmd *cobra.Command, args []string) {
	shown := *cfg
	shown.LLM.AnthropicAPIKey = maskSecret(shown.LLM.AnthropicAPIKey)
	out, err := yaml.Marshal(showView(shown))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error encoding config: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("# data dir: %s\n%s", shown.DataDir, out)
}

// showView keys the configuration the way it is written in brain.yaml.
func showView(c config.Config) map[string]any {
	return map[string]any{
		"server": map[string]any{
			"addr":            c.Server.Addr,
			"allowed_origins": c.Server.AllowedOrigins,
			"idle_timeout":    c.Server.IdleTimeout.String(),
			"max_in_flight":   c.Server.MaxInFlight,
			"queue_size":      c.Server.QueueSize,
			"health_schedule": c.Server.HealthSchedule,
			"sweep_schedule":  c.Server.SweepSchedule,
			"enable_sse":      c.Server.EnableSSE,
		},
		"providers": map[string]any{
			"file":            c.Providers.File,
			"watch":           c.Providers.Watch,
			"filesystem_root": c.Providers.FilesystemRoot,
		},
		"llm": map[string]any{
			"provider":          c.LLM.Provider,
			"anthropic_api_key": c.LLM.AnthropicAPIKey,
			"model":             c.LLM.Model,
			"bedrock_region":    c.LLM.BedrockRegion,
			"bedrock_profile":   c.LLM.BedrockProfile,
			"max_tokens":        c.LLM.MaxTokens,
			"timeout":           c.LLM.Timeout.String(),
		},
		"audit": map[string]any{
			"enabled":        c.Audit.Enabled,
			"path":           c.Audit.Path,
			"retention_days": c.Audit.RetentionDays,
		},
		"logging": map[string]any{
			"level":  c.Logging.Level,
			"format": c.Logging.Format,
			"file":   c.Logging.File,
		},
	}
}

// maskSecret keeps the first and last four characters of long secrets.
func maskSecret(s string) string {
	switch {
	case s == "":
		return ""
	case len(s) <= 8:
		return "********"
	default:
		return s[:4] + "..." + s[len(s)-4:]
	}
}
