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

// Package types holds the error taxonomy and the tool capability model shared
// by the registry, the bridge and the workflow executor.
package types

import (
	"errors"
	"fmt"
)

// Kind classifies an error for propagation and for the client "error" event.
type Kind string

const (
	KindValidation         Kind = "ValidationError"
	KindResolution         Kind = "ResolutionError"
	KindConnection         Kind = "ConnectionError"
	KindTimeout            Kind = "TimeoutError"
	KindToolExecution      Kind = "ToolExecutionError"
	KindPlanning           Kind = "PlanningError"
	KindConflict           Kind = "ConflictError"
	KindWorkflowCancelled  Kind = "WorkflowCancelledError"
	KindUnsupportedCommand Kind = "UnsupportedCommandError"
	KindNotFound           Kind = "NotFoundError"
	KindInternal           Kind = "InternalError"
)

// Error is the single error type used across the orchestration core.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
	// Details carries structured context such as the validation messages or
	// the provider id. It is forwarded to clients as-is.
	Details map[string]any
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches any *Error of the same kind, so errors.Is(err, types.ErrTimeout)
// works through wrapping.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Message == "" && t.Kind == e.Kind
}

// WithDetail returns e after setting a detail entry.
func (e *Error) WithDetail(key string, value any) *Error {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// Sentinels for errors.Is checks.
var (
	ErrValidation         = &Error{Kind: KindValidation}
	ErrResolution         = &Error{Kind: KindResolution}
	ErrConnection         = &Error{Kind: KindConnection}
	ErrTimeout            = &Error{Kind: KindTimeout}
	ErrToolExecution      = &Error{Kind: KindToolExecution}
	ErrPlanning           = &Error{Kind: KindPlanning}
	ErrConflict           = &Error{Kind: KindConflict}
	ErrWorkflowCancelled  = &Error{Kind: KindWorkflowCancelled}
	ErrUnsupportedCommand = &Error{Kind: KindUnsupportedCommand}
	ErrNotFound           = &Error{Kind: KindNotFound}
)

func newError(kind Kind, cause error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Cause: cause}
}

func NewValidationError(format string, args ...any) *Error {
	return newError(KindValidation, nil, format, args...)
}

func NewResolutionError(format string, args ...any) *Error {
	return newError(KindResolution, nil, format, args...)
}

func NewConnectionError(cause error, format string, args ...any) *Error {
	return newError(KindConnection, cause, format, args...)
}

func NewTimeoutError(cause error, format string, args ...any) *Error {
	return newError(KindTimeout, cause, format, args...)
}

func NewToolExecutionError(cause error, format string, args ...any) *Error {
	return newError(KindToolExecution, cause, format, args...)
}

func NewPlanningError(cause error, format string, args ...any) *Error {
	return newError(KindPlanning, cause, format, args...)
}

func NewConflictError(format string, args ...any) *Error {
	return newError(KindConflict, nil, format, args...)
}

func NewCancelledError(format string, args ...any) *Error {
	return newError(KindWorkflowCancelled, nil, format, args...)
}

func NewUnsupportedCommandError(command string) *Error {
	return newError(KindUnsupportedCommand, nil, "unsupported command %q", command)
}

func NewNotFoundError(format string, args ...any) *Error {
	return newError(KindNotFound, nil, format, args...)
}

// KindOf returns the kind of the first *Error in err's chain, or
// KindInternal when err carries none.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// IsLocal reports whether err is recovered at the edge without touching
// workflow state: validation, resolution, conflict and routing errors.
func IsLocal(err error) bool {
	switch KindOf(err) {
	case KindValidation, KindResolution, KindConflict, KindUnsupportedCommand, KindNotFound:
		return true
	}
	return false
}

// IsTaskLevel reports whether err fails only the owning task.
func IsTaskLevel(err error) bool {
	switch KindOf(err) {
	case KindTimeout, KindToolExecution, KindConnection, KindResolution:
		return true
	}
	return false
}
