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

// Package config loads the coordinator configuration from flags, the
// environment, brain.yaml and the system keyring.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"github.com/zalando/go-keyring"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/teradata-labs/brain/pkg/mcp/manager"
	"github.com/teradata-labs/brain/pkg/server"
)

const (
	// ServiceName is the keyring service secrets are stored under.
	ServiceName = "brain"
	// FileName is the config file name without extension.
	FileName  = "brain"
	envPrefix = "BRAIN"
)

// Config is the full coordinator configuration.
// Priority: flags > environment > config file > defaults.
type Config struct {
	// DataDir comes from BRAIN_DATA_DIR, never from the file.
	DataDir string `mapstructure:"-"`

	Server    server.Config   `mapstructure:"server"`
	Providers ProvidersConfig `mapstructure:"providers"`
	LLM       LLMConfig       `mapstructure:"llm"`
	Audit     AuditConfig     `mapstructure:"audit"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// ProvidersConfig locates tool providers.
type ProvidersConfig struct {
	// File is the provider YAML read by the registry.
	File string `mapstructure:"file"`
	// Watch reloads the registry when File changes.
	Watch bool `mapstructure:"watch"`
	// FilesystemRoot, when set, serves the bundled filesystem provider
	// in-process for that directory.
	FilesystemRoot string `mapstructure:"filesystem_root"`
}

// LLMConfig selects the planner and synthesizer backend.
type LLMConfig struct {
	// Provider is "keyword" (no model), "anthropic" or "bedrock".
	Provider        string        `mapstructure:"provider"`
	AnthropicAPIKey string        `mapstructure:"anthropic_api_key"`
	Model           string        `mapstructure:"model"`
	BaseURL         string        `mapstructure:"base_url"`
	MaxTokens       int           `mapstructure:"max_tokens"`
	Temperature     float64       `mapstructure:"temperature"`
	Timeout         time.Duration `mapstructure:"timeout"`

	// Bedrock
	BedrockRegion          string `mapstructure:"bedrock_region"`
	BedrockProfile         string `mapstructure:"bedrock_profile"`
	BedrockAccessKeyID     string `mapstructure:"bedrock_access_key_id"`     // keyring or env only
	BedrockSecretAccessKey string `mapstructure:"bedrock_secret_access_key"` // keyring or env only
	BedrockSessionToken    string `mapstructure:"bedrock_session_token"`     // keyring or env only
}

// AuditConfig controls the SQLite audit store.
type AuditConfig struct {
	Enabled       bool   `mapstructure:"enabled"`
	Path          string `mapstructure:"path"`
	RetentionDays int    `mapstructure:"retention_days"`
}

// LoggingConfig configures zap.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	File   string `mapstructure:"file"`
}

// SetDefaults registers every default on v.
func SetDefaults(v *viper.Viper) {
	def := server.DefaultConfig()
	v.SetDefault("server.addr", def.Addr)
	v.SetDefault("server.allowed_origins", def.AllowedOrigins)
	v.SetDefault("server.idle_timeout", def.IdleTimeout)
	v.SetDefault("server.max_in_flight", def.MaxInFlight)
	v.SetDefault("server.queue_size", def.QueueSize)
	v.SetDefault("server.health_schedule", def.HealthSchedule)
	v.SetDefault("server.sweep_schedule", def.SweepSchedule)
	v.SetDefault("server.enable_sse", def.EnableSSE)

	v.SetDefault("providers.file", "")
	v.SetDefault("providers.watch", true)
	v.SetDefault("providers.filesystem_root", "")

	v.SetDefault("llm.provider", "keyword")
	v.SetDefault("llm.anthropic_api_key", "")
	v.SetDefault("llm.model", "")
	v.SetDefault("llm.base_url", "")
	v.SetDefault("llm.max_tokens", 1000)
	v.SetDefault("llm.temperature", 0.0)
	v.SetDefault("llm.timeout", 60*time.Second)
	v.SetDefault("llm.bedrock_region", "us-west-2")
	v.SetDefault("llm.bedrock_profile", "")
	v.SetDefault("llm.bedrock_access_key_id", "")
	v.SetDefault("llm.bedrock_secret_access_key", "")
	v.SetDefault("llm.bedrock_session_token", "")

	v.SetDefault("audit.enabled", true)
	v.SetDefault("audit.path", "")
	v.SetDefault("audit.retention_days", 30)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.file", "")
}

// Load reads the configuration into v and returns it. cfgFile overrides
// the search for brain.yaml in the data directory, the working directory
// and /etc/brain.
func Load(v *viper.Viper, cfgFile string) (*Config, error) {
	SetDefaults(v)

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.AddConfigPath(DataDir())
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/brain/")
		v.SetConfigName(FileName)
		v.SetConfigType("yaml")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file %s: %w", v.ConfigFileUsed(), err)
		}
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg.DataDir = DataDir()
	if cfg.Audit.Path == "" {
		cfg.Audit.Path = filepath.Join(cfg.DataDir, "audit.db")
	} else {
		cfg.Audit.Path = ExpandPath(cfg.Audit.Path)
	}
	if cfg.Providers.File != "" {
		cfg.Providers.File = ExpandPath(cfg.Providers.File)
	}

	// The keyring may be unavailable; flags and the environment still work.
	LoadSecrets(&cfg, GetSecret)
	return &cfg, nil
}

// Validate checks values that would otherwise fail late.
func (c *Config) Validate() error {
	switch c.LLM.Provider {
	case "keyword", "":
	case "anthropic":
		if c.LLM.AnthropicAPIKey == "" && os.Getenv("ANTHROPIC_API_KEY") == "" {
			return fmt.Errorf("llm.provider anthropic requires an API key: run 'brain config set-key anthropic_api_key' or set BRAIN_LLM_ANTHROPIC_API_KEY")
		}
	case "bedrock":
		// Credentials may come from a profile, the environment or an IAM
		// role, so only the region is required.
		if c.LLM.BedrockRegion == "" {
			return fmt.Errorf("llm.provider bedrock requires llm.bedrock_region")
		}
	default:
		return fmt.Errorf("unknown llm.provider %q (keyword, anthropic, bedrock)", c.LLM.Provider)
	}
	if c.Server.MaxInFlight < 0 {
		return fmt.Errorf("server.max_in_flight must not be negative")
	}
	if c.Audit.RetentionDays < 0 {
		return fmt.Errorf("audit.retention_days must not be negative")
	}
	if _, err := zapcore.ParseLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("invalid logging.level: %w", err)
	}
	switch c.Logging.Format {
	case "json", "console", "text":
	default:
		return fmt.Errorf("unknown logging.format %q (json, console)", c.Logging.Format)
	}
	if c.Providers.FilesystemRoot != "" {
		info, err := os.Stat(ExpandPath(c.Providers.FilesystemRoot))
		if err != nil || !info.IsDir() {
			return fmt.Errorf("providers.filesystem_root %q is not a directory", c.Providers.FilesystemRoot)
		}
	}
	return nil
}

// Build creates the process logger.
func (l LoggingConfig) Build() (*zap.Logger, error) {
	zc := zap.NewProductionConfig()
	if l.Format == "console" || l.Format == "text" {
		zc.Encoding = "console"
		zc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		zc.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	}
	level, err := zapcore.ParseLevel(l.Level)
	if err != nil {
		level = zapcore.InfoLevel
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	if l.File != "" {
		zc.OutputPaths = []string{l.File}
		zc.ErrorOutputPaths = []string{l.File}
	}
	return zc.Build(zap.AddStacktrace(zap.ErrorLevel))
}

// SecretMapping binds a keyring key to the config field it fills.
type SecretMapping struct {
	KeyringKey string
	Setter     func(*Config, string)
	IsSet      func(*Config) bool
}

// ProviderSecret is a keyring key forwarded to provider subprocesses as an
// environment variable.
type ProviderSecret struct {
	KeyringKey string
	EnvKey     string
}

// SecretMappings lists the config secrets that may live in the keyring.
func SecretMappings() []SecretMapping {
	return []SecretMapping{
		{
			KeyringKey: "anthropic_api_key",
			Setter:     func(c *Config, val string) { c.LLM.AnthropicAPIKey = val },
			IsSet:      func(c *Config) bool { return c.LLM.AnthropicAPIKey != "" },
		},
		{
			KeyringKey: "bedrock_access_key_id",
			Setter:     func(c *Config, val string) { c.LLM.BedrockAccessKeyID = val },
			IsSet:      func(c *Config) bool { return c.LLM.BedrockAccessKeyID != "" },
		},
		{
			KeyringKey: "bedrock_secret_access_key",
			Setter:     func(c *Config, val string) { c.LLM.BedrockSecretAccessKey = val },
			IsSet:      func(c *Config) bool { return c.LLM.BedrockSecretAccessKey != "" },
		},
		{
			KeyringKey: "bedrock_session_token",
			Setter:     func(c *Config, val string) { c.LLM.BedrockSessionToken = val },
			IsSet:      func(c *Config) bool { return c.LLM.BedrockSessionToken != "" },
		},
	}
}

// ProviderSecrets lists the keyring keys injected into provider env.
func ProviderSecrets() []ProviderSecret {
	return []ProviderSecret{
		{KeyringKey: "github_token", EnvKey: "GITHUB_TOKEN"},
		{KeyringKey: "exa_api_key", EnvKey: "EXA_API_KEY"},
		{KeyringKey: "brave_api_key", EnvKey: "BRAVE_API_KEY"},
	}
}

// SecretKeys returns every key accepted by 'brain config set-key'.
func SecretKeys() []string {
	var keys []string
	for _, m := range SecretMappings() {
		keys = append(keys, m.KeyringKey)
	}
	for _, p := range ProviderSecrets() {
		keys = append(keys, p.KeyringKey)
	}
	return keys
}

// LoadSecrets fills unset secrets using get.
func LoadSecrets(cfg *Config, get func(key string) (string, error)) {
	for _, m := range SecretMappings() {
		if m.IsSet(cfg) {
			continue
		}
		if val, err := get(m.KeyringKey); err == nil && val != "" {
			m.Setter(cfg, val)
		}
	}
}

// InjectProviderSecrets adds keyring secrets to the env of every provider
// that does not set them already.
func InjectProviderSecrets(mc *manager.Config, get func(key string) (string, error)) {
	for _, secret := range ProviderSecrets() {
		val, err := get(secret.KeyringKey)
		if err != nil || val == "" {
			continue
		}
		for id, p := range mc.Providers {
			if _, ok := p.Env[secret.EnvKey]; ok {
				continue
			}
			if p.Env == nil {
				p.Env = make(map[string]string)
			}
			p.Env[secret.EnvKey] = val
			mc.Providers[id] = p
		}
	}
}

// GetSecret reads a secret from the system keyring.
func GetSecret(key string) (string, error) {
	return keyring.Get(ServiceName, key)
}

// SaveSecret stores a secret in the system keyring.
func SaveSecret(key, value string) error {
	return keyring.Set(ServiceName, key, value)
}

// DeleteSecret removes a secret from the system keyring.
func DeleteSecret(key string) error {
	return keyring.Delete(ServiceName, key)
}
