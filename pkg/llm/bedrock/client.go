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

// Package bedrock runs the Anthropic completer against Amazon Bedrock.
package bedrock

import (
	"context"
	"fmt"
	"os"
	"time"

	sdkbedrock "github.com/anthropics/anthropic-sdk-go/bedrock"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"

	"github.com/teradata-labs/brain/pkg/llm/anthropic"
)

const (
	// DefaultModel uses the cross-region inference profile (us.* prefix)
	DefaultModel  = "us.anthropic.claude-sonnet-4-5-20250929-v1:0"
	DefaultRegion = "us-west-2"
)

// Config holds configuration for a Bedrock completer.
type Config struct {
	Region string
	// Profile selects a named AWS profile. Ignored when explicit keys are set.
	Profile         string
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string

	Model       string
	MaxTokens   int
	Temperature float64
	Timeout     time.Duration
	MaxRetries  int

	// BaseURL overrides the regional bedrock-runtime endpoint
	BaseURL string
}

// NewClient loads AWS credentials and returns a completer that signs its
// requests for Bedrock. Credentials resolve from explicit keys, then the
// named profile, then the default chain (environment, shared config, IAM
// role).
func NewClient(ctx context.Context, cfg Config) (*anthropic.Client, error) {
	if cfg.Model == "" {
		if env := os.Getenv("AWS_BEDROCK_MODEL_ID"); env != "" {
			cfg.Model = env
		} else {
			cfg.Model = DefaultModel
		}
	}
	if cfg.Region == "" {
		if env := os.Getenv("AWS_DEFAULT_REGION"); env != "" {
			cfg.Region = env
		} else {
			cfg.Region = DefaultRegion
		}
	}

	awsCfg, err := loadAWSConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return anthropic.NewClient(anthropic.Config{
		Name:           "bedrock",
		Model:          cfg.Model,
		BaseURL:        cfg.BaseURL,
		Timeout:        cfg.Timeout,
		MaxTokens:      cfg.MaxTokens,
		Temperature:    cfg.Temperature,
		MaxRetries:     cfg.MaxRetries,
		RequestOptions: []option.RequestOption{sdkbedrock.WithConfig(awsCfg)},
	}), nil
}

func loadAWSConfig(ctx context.Context, cfg Config) (aws.Config, error) {
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	switch {
	case cfg.AccessKeyID != "" && cfg.SecretAccessKey != "":
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, cfg.SessionToken)))
	case cfg.Profile != "":
		opts = append(opts, awsconfig.WithSharedConfigProfile(cfg.Profile))
	}
	return awsconfig.LoadDefaultConfig(ctx, opts...)
}
