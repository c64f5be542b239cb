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

package store

import (
	"encoding/json"
	"time"

	"github.com/tombee/relay/internal/triggers"
)

// AutomationStatus is the automation lifecycle state.
type AutomationStatus string

const (
	StatusDraft  AutomationStatus = "draft"
	StatusActive AutomationStatus = "active"
	StatusPaused AutomationStatus = "paused"
)

// ExecutionStatus is the execution state machine state.
type ExecutionStatus string

const (
	ExecPending  ExecutionStatus = "pending"
	ExecRunning  ExecutionStatus = "running"
	ExecRetrying ExecutionStatus = "retrying"
	ExecSuccess  ExecutionStatus = "success"
	ExecFailed   ExecutionStatus = "failed"
)

// Terminal reports whether the status is a terminal state.
func (s ExecutionStatus) Terminal() bool {
	return s == ExecSuccess || s == ExecFailed
}

// Step is one unit of work inside an automation. Params values may contain
// {{path}} references resolved at execution time.
type Step struct {
	// Tool names the registered tool that runs this step
	Tool string

	// Params are the tool parameters before variable resolution
	Params map[string]any

	// OutputAs optionally aliases the step output for later references
	OutputAs string
}

// MarshalJSON renders the step in its external flat shape:
// {"type": "<tool>", "<param>": <value>, ..., "outputAs": "<alias>"}.
func (s Step) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(s.Params)+2)
	for k, v := range s.Params {
		out[k] = v
	}
	out["type"] = s.Tool
	if s.OutputAs != "" {
		out["outputAs"] = s.OutputAs
	}
	return json.Marshal(out)
}

// UnmarshalJSON accepts the flat external shape; every key besides "type"
// and "outputAs" is a parameter. Definitions written by earlier builds
// with a nested {"params": {...}} object are still read.
func (s *Step) UnmarshalJSON(data []byte) error {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	if tool, ok := raw["type"].(string); ok {
		s.Tool = tool
	}
	delete(raw, "type")

	if alias, ok := raw["outputAs"].(string); ok {
		s.OutputAs = alias
		delete(raw, "outputAs")
	} else if alias, ok := raw["output_as"].(string); ok {
		s.OutputAs = alias
		delete(raw, "output_as")
	}

	if nested, ok := raw["params"].(map[string]any); ok && len(raw) == 1 {
		s.Params = nested
		return nil
	}
	if len(raw) == 0 {
		s.Params = nil
		return nil
	}
	s.Params = raw
	return nil
}

// Automation is a user-owned trigger plus an ordered step sequence.
type Automation struct {
	ID          string
	UserID      string
	Name        string
	Description string
	Trigger     *triggers.Trigger
	Steps       []Step
	Status      AutomationStatus

	// State holds trigger-bound auxiliary state (e.g. a provisioned
	// spreadsheet id), opaque to the core.
	State map[string]any

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Execution is one run of an automation.
type Execution struct {
	ID           string
	AutomationID string
	UserID       string

	// TriggerType records what produced this execution (manual, interval,
	// daily, webhook, rss, rpc).
	TriggerType string

	// Input is the triggering payload, if any.
	Input map[string]any

	Status ExecutionStatus
	Error  string

	// ContextSnapshot is the summarized context written at termination.
	ContextSnapshot map[string]any

	StartedAt  *time.Time
	FinishedAt *time.Time
	DurationMS int64

	CreatedAt time.Time
	UpdatedAt time.Time
}

// StepResult is the durable record of one attempted step.
type StepResult struct {
	ExecutionID string
	StepIndex   int
	Tool        string
	Status      string
	Retries     int
	DurationMS  int64
	Output      map[string]any
	Error       string
	CreatedAt   time.Time
}

// StateTransition is one entry of an execution's state log.
type StateTransition struct {
	ExecutionID string
	From        ExecutionStatus
	To          ExecutionStatus
	Metadata    map[string]any
	CreatedAt   time.Time
}

// RSSPollState is the per-automation feed polling state. Mutated only by
// the RSS poller.
type RSSPollState struct {
	AutomationID string
	LastPollAt   *time.Time
	SeenIDs      []string
	FeedURL      string
	UpdatedAt    time.Time
}

// UserToken is a stored OAuth token for an integration provider.
type UserToken struct {
	UserID       string
	Provider     string
	AccessToken  string
	RefreshToken string
	TokenType    string
	Expiry       *time.Time
	UpdatedAt    time.Time
}
