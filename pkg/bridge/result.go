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

package bridge

import (
	"errors"
	"time"

	"github.com/teradata-labs/brain/pkg/types"
)

// ToolResult is the uniform envelope for a tool call. Parameters and
// ToolName echo the request.
type ToolResult struct {
	CallID      string         `json:"call_id"`
	ToolName    string         `json:"tool_name"`
	Parameters  map[string]any `json:"parameters"`
	ProviderID  string         `json:"provider_id,omitempty"`
	SessionID   string         `json:"session_id,omitempty"`
	TaskID      string         `json:"task_id,omitempty"`
	Success     bool           `json:"success"`
	Data        any            `json:"data,omitempty"`
	Error       *ErrorInfo     `json:"error,omitempty"`
	SubmittedAt time.Time      `json:"submitted_at"`
	CompletedAt time.Time      `json:"completed_at"`
	DurationMs  int64          `json:"duration_ms"`
}

// ErrorInfo is the client-facing form of a typed error.
type ErrorInfo struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// NewErrorInfo converts err to its client-facing form.
func NewErrorInfo(err error) *ErrorInfo {
	if err == nil {
		return nil
	}
	info := &ErrorInfo{Code: string(types.KindOf(err)), Message: err.Error()}
	var e *types.Error
	if errors.As(err, &e) {
		info.Message = e.Message
		if e.Cause != nil {
			info.Message += ": " + e.Cause.Error()
		}
		info.Details = e.Details
	}
	return info
}
