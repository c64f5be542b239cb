// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package errors defines the error taxonomy shared across the relay core.
package errors

import (
	"fmt"
	"time"
)

// ValidationError represents user input validation failures.
// Use this for invalid automation shapes, trigger specifications, or
// parameters that do not satisfy a tool's input schema. Validation errors
// are surfaced at the control-plane boundary, never from inside a running
// execution.
type ValidationError struct {
	// Field identifies which input field failed validation
	Field string

	// Message is the human-readable error description
	Message string

	// Suggestion provides actionable guidance for fixing the error
	Suggestion string
}

// Error implements the error interface. The suggestion, when present, is
// part of the message so it survives plain %v formatting in logs.
func (e *ValidationError) Error() string {
	msg := fmt.Sprintf("validation failed: %s", e.Message)
	if e.Field != "" {
		msg = fmt.Sprintf("validation failed on %s: %s", e.Field, e.Message)
	}
	if e.Suggestion != "" {
		msg = fmt.Sprintf("%s (%s)", msg, e.Suggestion)
	}
	return msg
}

// NotFoundError represents a resource not found error.
// Use this when a requested resource does not exist.
type NotFoundError struct {
	// Resource is the type of resource (e.g., "automation", "execution", "tool")
	Resource string

	// ID is the identifier that was not found
	ID string
}

// Error implements the error interface.
func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
}

// IntegrationError represents a failure reported by a step handler or the
// integration it fronts. Transient errors are retried per policy; terminal
// errors fail the step immediately.
type IntegrationError struct {
	// Tool is the tool whose handler produced the error
	Tool string

	// StatusCode is the HTTP status code from the provider (if applicable)
	StatusCode int

	// Message is the human-readable error message
	Message string

	// Transient marks the error as retryable per the retry policy
	Transient bool

	// Cause is the underlying error
	Cause error
}

// Error implements the error interface.
func (e *IntegrationError) Error() string {
	msg := fmt.Sprintf("integration error in %s", e.Tool)
	if e.StatusCode > 0 {
		msg = fmt.Sprintf("%s [HTTP %d]", msg, e.StatusCode)
	}
	return fmt.Sprintf("%s: %s", msg, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *IntegrationError) Unwrap() error {
	return e.Cause
}

// UnsupportedStepError is returned when a step names a tool that does not
// resolve in the registry. It carries a close registered name, if one exists
// within the edit-distance threshold, for the user-facing message.
type UnsupportedStepError struct {
	// Tool is the unknown tool type from the step definition
	Tool string

	// StepIndex is the 1-based index of the offending step
	StepIndex int

	// Suggestion is a registered tool name within edit distance, or empty
	Suggestion string
}

// Error implements the error interface.
func (e *UnsupportedStepError) Error() string {
	msg := fmt.Sprintf("step %d uses unknown tool %q", e.StepIndex, e.Tool)
	if e.Suggestion != "" {
		msg = fmt.Sprintf("%s: did you mean %q?", msg, e.Suggestion)
	}
	return msg
}

// StepFailedError wraps a handler failure with the position and tool name of
// the failing step. It is the terminal cause attached to a failed execution.
type StepFailedError struct {
	// StepIndex is the 1-based index of the failing step
	StepIndex int

	// Tool is the tool type of the failing step
	Tool string

	// Cause is the underlying handler error
	Cause error
}

// Error implements the error interface.
func (e *StepFailedError) Error() string {
	return fmt.Sprintf("step %d (%s) failed: %v", e.StepIndex, e.Tool, e.Cause)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *StepFailedError) Unwrap() error {
	return e.Cause
}

// TimeoutError represents operation timeouts.
// Use this when an operation exceeds its configured timeout.
type TimeoutError struct {
	// Operation describes what timed out (e.g., "rpc request", "feed fetch")
	Operation string

	// Duration is how long the operation ran before timing out
	Duration time.Duration

	// Cause is the underlying error (if any)
	Cause error
}

// Error implements the error interface.
func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s operation timed out after %v", e.Operation, e.Duration)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *TimeoutError) Unwrap() error {
	return e.Cause
}

// ConfigError represents configuration problems.
// Use this for configuration file errors, missing settings, or invalid config values.
type ConfigError struct {
	// Key is the configuration key that has the problem (e.g., "listen.addr")
	Key string

	// Reason explains what's wrong with the configuration
	Reason string

	// Cause is the underlying error (e.g., file read error, parse error)
	Cause error
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("config error at %s: %s", e.Key, e.Reason)
	}
	return fmt.Sprintf("config error: %s", e.Reason)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *ConfigError) Unwrap() error {
	return e.Cause
}

// InternalError captures an unexpected failure inside the executor itself
// (including recovered panics). It is recorded as an execution failure and
// never propagated to trigger callers.
type InternalError struct {
	// Message describes the unexpected failure
	Message string

	// Cause is the underlying error (if any)
	Cause error
}

// Error implements the error interface.
func (e *InternalError) Error() string {
	return fmt.Sprintf("internal error: %s", e.Message)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *InternalError) Unwrap() error {
	return e.Cause
}
