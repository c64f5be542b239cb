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
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/relay/internal/triggers"
	"github.com/tombee/relay/pkg/errors"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(Config{Path: filepath.Join(t.TempDir(), "relay.db"), WAL: true}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func testAutomation(id string) *Automation {
	return &Automation{
		ID:     id,
		UserID: "user_1",
		Name:   "stock alert",
		Trigger: &triggers.Trigger{
			Type:  triggers.TypeInterval,
			Every: "15m",
		},
		Steps: []Step{
			{Tool: "http_request", Params: map[string]any{"url": "https://example.com"}},
			{Tool: "transform", Params: map[string]any{"expression": ".body"}, OutputAs: "payload"},
		},
	}
}

func TestAutomationRoundTrip(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateAutomation(ctx, testAutomation("auto_1")))

	got, err := s.GetAutomation(ctx, "auto_1")
	require.NoError(t, err)
	assert.Equal(t, "stock alert", got.Name)
	assert.Equal(t, StatusDraft, got.Status)
	assert.Equal(t, triggers.TypeInterval, got.Trigger.Type)
	assert.Equal(t, "15m", got.Trigger.Every)
	require.Len(t, got.Steps, 2)
	assert.Equal(t, "payload", got.Steps[1].OutputAs)
	assert.Equal(t, "https://example.com", got.Steps[0].Params["url"])
}

func TestStepFlatJSONShape(t *testing.T) {
	var step Step
	require.NoError(t, json.Unmarshal(
		[]byte(`{"type":"send_email","to":"{{user.email}}","subject":"AAPL","outputAs":"mail"}`),
		&step))
	assert.Equal(t, "send_email", step.Tool)
	assert.Equal(t, "mail", step.OutputAs)
	assert.Equal(t, map[string]any{"to": "{{user.email}}", "subject": "AAPL"}, step.Params)

	encoded, err := json.Marshal(step)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(encoded, &decoded))
	assert.Equal(t, "send_email", decoded["type"])
	assert.Equal(t, "mail", decoded["outputAs"])
	assert.Equal(t, "AAPL", decoded["subject"])

	var roundTripped Step
	require.NoError(t, json.Unmarshal(encoded, &roundTripped))
	assert.Equal(t, step, roundTripped)
}

func TestStepReadsNestedParamsForm(t *testing.T) {
	var step Step
	require.NoError(t, json.Unmarshal(
		[]byte(`{"type":"http_request","params":{"url":"https://example.com"},"output_as":"resp"}`),
		&step))
	assert.Equal(t, "http_request", step.Tool)
	assert.Equal(t, "resp", step.OutputAs)
	assert.Equal(t, map[string]any{"url": "https://example.com"}, step.Params)
}

func TestGetAutomationNotFound(t *testing.T) {
	s := testStore(t)
	_, err := s.GetAutomation(context.Background(), "nope")
	assert.True(t, errors.IsNotFound(err))
}

func TestListAutomationsFilter(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	a := testAutomation("auto_1")
	require.NoError(t, s.CreateAutomation(ctx, a))
	b := testAutomation("auto_2")
	b.UserID = "user_2"
	b.Status = StatusActive
	require.NoError(t, s.CreateAutomation(ctx, b))

	all, err := s.ListAutomations(ctx, AutomationFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	active, err := s.ListAutomations(ctx, AutomationFilter{Status: StatusActive})
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "auto_2", active[0].ID)

	mine, err := s.ListAutomations(ctx, AutomationFilter{UserID: "user_1"})
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, "auto_1", mine[0].ID)
}

func TestUpdateAutomationStatus(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateAutomation(ctx, testAutomation("auto_1")))
	require.NoError(t, s.UpdateAutomationStatus(ctx, "auto_1", StatusActive))

	got, err := s.GetAutomation(ctx, "auto_1")
	require.NoError(t, err)
	assert.Equal(t, StatusActive, got.Status)

	assert.True(t, errors.IsNotFound(s.UpdateAutomationStatus(ctx, "ghost", StatusActive)))
}

func TestDeleteAutomationCascades(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateAutomation(ctx, testAutomation("auto_1")))
	require.NoError(t, s.CreateExecution(ctx, &Execution{
		ID: "exec_1", AutomationID: "auto_1", UserID: "user_1",
	}))
	require.NoError(t, s.AppendStateTransition(ctx, &StateTransition{
		ExecutionID: "exec_1", From: ExecPending, To: ExecRunning,
	}))
	require.NoError(t, s.SaveRSSPollState(ctx, &RSSPollState{
		AutomationID: "auto_1", SeenIDs: []string{"a"},
	}))

	require.NoError(t, s.DeleteAutomation(ctx, "auto_1"))

	_, err := s.GetExecution(ctx, "exec_1")
	assert.True(t, errors.IsNotFound(err))

	log, err := s.ListStateLog(ctx, "exec_1")
	require.NoError(t, err)
	assert.Empty(t, log)
}

func TestExecutionLifecycle(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateAutomation(ctx, testAutomation("auto_1")))

	exec := &Execution{
		ID:           "exec_1",
		AutomationID: "auto_1",
		UserID:       "user_1",
		TriggerType:  "webhook",
		Input:        map[string]any{"order_id": float64(7)},
	}
	require.NoError(t, s.CreateExecution(ctx, exec))
	assert.Equal(t, ExecPending, exec.Status)

	started := time.Now()
	require.NoError(t, s.UpdateExecutionStatus(ctx, "exec_1", ExecRunning, ExecutionUpdate{
		StartedAt: &started,
	}))

	finished := started.Add(2 * time.Second)
	require.NoError(t, s.UpdateExecutionStatus(ctx, "exec_1", ExecSuccess, ExecutionUpdate{
		FinishedAt:      &finished,
		DurationMS:      2000,
		ContextSnapshot: map[string]any{"stepOutputs": map[string]any{"step_1": "ok"}},
	}))

	got, err := s.GetExecution(ctx, "exec_1")
	require.NoError(t, err)
	assert.Equal(t, ExecSuccess, got.Status)
	assert.Equal(t, int64(2000), got.DurationMS)
	assert.Equal(t, "webhook", got.TriggerType)
	assert.Equal(t, float64(7), got.Input["order_id"])
	require.NotNil(t, got.FinishedAt)
	assert.NotNil(t, got.ContextSnapshot["stepOutputs"])
}

func TestStateLogOrder(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateAutomation(ctx, testAutomation("auto_1")))
	require.NoError(t, s.CreateExecution(ctx, &Execution{ID: "exec_1", AutomationID: "auto_1", UserID: "u"}))

	seq := []struct{ from, to ExecutionStatus }{
		{ExecPending, ExecRunning},
		{ExecRunning, ExecRetrying},
		{ExecRetrying, ExecRunning},
		{ExecRunning, ExecSuccess},
	}
	for _, tr := range seq {
		require.NoError(t, s.AppendStateTransition(ctx, &StateTransition{
			ExecutionID: "exec_1", From: tr.from, To: tr.to,
			Metadata: map[string]any{"step_index": float64(1)},
		}))
	}

	log, err := s.ListStateLog(ctx, "exec_1")
	require.NoError(t, err)
	require.Len(t, log, 4)
	assert.Equal(t, ExecRunning, log[0].To)
	assert.Equal(t, ExecSuccess, log[3].To)
	assert.Equal(t, float64(1), log[1].Metadata["step_index"])
}

func TestStepResults(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateAutomation(ctx, testAutomation("auto_1")))
	require.NoError(t, s.CreateExecution(ctx, &Execution{ID: "exec_1", AutomationID: "auto_1", UserID: "u"}))

	require.NoError(t, s.AppendStepResult(ctx, &StepResult{
		ExecutionID: "exec_1", StepIndex: 1, Tool: "http_request",
		Status: "success", DurationMS: 120,
		Output: map[string]any{"status": float64(200)},
	}))
	require.NoError(t, s.AppendStepResult(ctx, &StepResult{
		ExecutionID: "exec_1", StepIndex: 2, Tool: "transform",
		Status: "failed", Retries: 3, Error: "boom",
	}))

	results, err := s.ListStepResults(ctx, "exec_1")
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, float64(200), results[0].Output["status"])
	assert.Equal(t, 3, results[1].Retries)
	assert.Equal(t, "boom", results[1].Error)
}

func TestRSSPollStateRoundTrip(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateAutomation(ctx, testAutomation("auto_1")))

	// Unset state comes back empty rather than as an error.
	state, err := s.GetRSSPollState(ctx, "auto_1")
	require.NoError(t, err)
	assert.Empty(t, state.SeenIDs)
	assert.Nil(t, state.LastPollAt)

	now := time.Now()
	state.LastPollAt = &now
	state.SeenIDs = []string{"guid-1", "guid-2"}
	state.FeedURL = "https://example.com/feed.xml"
	require.NoError(t, s.SaveRSSPollState(ctx, state))

	got, err := s.GetRSSPollState(ctx, "auto_1")
	require.NoError(t, err)
	assert.Equal(t, []string{"guid-1", "guid-2"}, got.SeenIDs)
	assert.Equal(t, "https://example.com/feed.xml", got.FeedURL)
	require.NotNil(t, got.LastPollAt)
}

func TestUserTokenRoundTrip(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	expiry := time.Now().Add(time.Hour)
	require.NoError(t, s.SaveUserToken(ctx, &UserToken{
		UserID: "user_1", Provider: "google",
		AccessToken: "at", RefreshToken: "rt", TokenType: "Bearer",
		Expiry: &expiry,
	}))

	got, err := s.GetUserToken(ctx, "user_1", "google")
	require.NoError(t, err)
	assert.Equal(t, "at", got.AccessToken)
	assert.Equal(t, "rt", got.RefreshToken)

	// Upsert replaces.
	require.NoError(t, s.SaveUserToken(ctx, &UserToken{
		UserID: "user_1", Provider: "google", AccessToken: "at2",
	}))
	got, err = s.GetUserToken(ctx, "user_1", "google")
	require.NoError(t, err)
	assert.Equal(t, "at2", got.AccessToken)

	_, err = s.GetUserToken(ctx, "user_1", "github")
	assert.True(t, errors.IsNotFound(err))
}
