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
package llm

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// RateLimiterConfig configures the LLM rate limiter.
type RateLimiterConfig struct {
	// RequestsPerSecond is the sustained request rate. Default: 2
	RequestsPerSecond float64

	// BurstCapacity is the maximum burst of requests allowed. Default: 5
	BurstCapacity int

	// MaxRetries is the maximum number of retries for 429 throttling errors.
	// Default: 3
	MaxRetries int

	// RetryBackoff is the initial backoff for retries (doubles each retry).
	// Default: 1s
	RetryBackoff time.Duration

	Logger *zap.Logger
}

// DefaultRateLimiterConfig returns conservative defaults.
func DefaultRateLimiterConfig() RateLimiterConfig {
	return RateLimiterConfig{
		RequestsPerSecond: 2.0,
		BurstCapacity:     5,
		MaxRetries:        3,
		RetryBackoff:      1 * time.Second,
		Logger:            zap.NewNop(),
	}
}

// RateLimiterMetrics tracks rate limiter activity.
type RateLimiterMetrics struct {
	TotalRequests     int64
	ThrottledRequests int64
	TokensConsumed    int64
	LastThrottleTime  time.Time
}

// RateLimiter is a Completer that spaces requests with a token bucket and
// retries throttled requests with exponential backoff.
type RateLimiter struct {
	next   Completer
	config RateLimiterConfig

	mu         sync.Mutex
	tokens     float64
	lastRefill time.Time
	metrics    RateLimiterMetrics
}

// NewRateLimiter wraps next. Zero config fields take their defaults.
func NewRateLimiter(next Completer, config RateLimiterConfig) *RateLimiter {
	def := DefaultRateLimiterConfig()
	if config.RequestsPerSecond <= 0 {
		config.RequestsPerSecond = def.RequestsPerSecond
	}
	if config.BurstCapacity <= 0 {
		config.BurstCapacity = def.BurstCapacity
	}
	if config.MaxRetries < 0 {
		config.MaxRetries = 0
	}
	if config.RetryBackoff <= 0 {
		config.RetryBackoff = def.RetryBackoff
	}
	if config.Logger == nil {
		config.Logger = zap.NewNop()
	}
	return &RateLimiter{
		next:       next,
		config:     config,
		tokens:     float64(config.BurstCapacity),
		lastRefill: time.Now(),
	}
}

// Name returns the wrapped completer's name.
func (rl *RateLimiter) Name() string {
	return rl.next.Name()
}

// Complete implements Completer.
func (rl *RateLimiter) Complete(ctx context.Context, req *Request) (*Response, error) {
	backoff := rl.config.RetryBackoff
	for attempt := 0; ; attempt++ {
		if err := rl.wait(ctx); err != nil {
			return nil, err
		}
		resp, err := rl.next.Complete(ctx, req)
		rl.record(resp, err)
		if err == nil || !isThrottlingError(err) {
			return resp, err
		}
		if attempt >= rl.config.MaxRetries {
			return nil, fmt.Errorf("LLM request failed after %d attempts due to throttling: %w", attempt+1, err)
		}

		rl.config.Logger.Warn("LLM request throttled, retrying",
			zap.Int("attempt", attempt+1),
			zap.Int("max_retries", rl.config.MaxRetries),
			zap.Duration("backoff", backoff),
			zap.Error(err))
		select {
		case <-time.After(backoff):
			backoff *= 2
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// wait blocks until a token is available or ctx is done.
func (rl *RateLimiter) wait(ctx context.Context) error {
	for {
		delay := rl.reserve()
		if delay == 0 {
			return nil
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// reserve takes a token and returns 0, or returns how long until one is
// available.
func (rl *RateLimiter) reserve() time.Duration {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	elapsed := now.Sub(rl.lastRefill).Seconds()
	rl.tokens = min(float64(rl.config.BurstCapacity), rl.tokens+elapsed*rl.config.RequestsPerSecond)
	rl.lastRefill = now

	if rl.tokens >= 1.0 {
		rl.tokens -= 1.0
		return 0
	}
	missing := 1.0 - rl.tokens
	return time.Duration(missing / rl.config.RequestsPerSecond * float64(time.Second))
}

func (rl *RateLimiter) record(resp *Response, err error) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.metrics.TotalRequests++
	if err != nil && isThrottlingError(err) {
		rl.metrics.ThrottledRequests++
		rl.metrics.LastThrottleTime = time.Now()
	}
	if resp != nil {
		rl.metrics.TokensConsumed += int64(resp.InputTokens + resp.OutputTokens)
	}
}

// Metrics returns a snapshot of the limiter counters.
func (rl *RateLimiter) Metrics() RateLimiterMetrics {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return rl.metrics
}

// isThrottlingError checks if an error is a throttling error (HTTP 429).
func isThrottlingError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{"429", "too many requests", "rate limit", "throttl", "overloaded"} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
