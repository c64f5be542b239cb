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

package executor

import (
	"context"
	"log/slog"
	"time"

	"github.com/tombee/relay/internal/log"
	"github.com/tombee/relay/internal/metrics"
	"github.com/tombee/relay/internal/store"
	"github.com/tombee/relay/pkg/errors"
)

// NewRPCExecutionID generates an execution id for a direct tool call,
// "rpc_<unix-ms>_<random>".
func NewRPCExecutionID() string {
	return newID("rpc")
}

// DirectResult is the outcome of a single-tool execution. Output is the
// handler's raw output, not the sanitized copy persisted with the
// execution record.
type DirectResult struct {
	ExecutionID string
	Output      map[string]any
	Retries     int
	DurationMS  int64
}

// ExecuteTool runs one tool outside any automation, recording the call as
// a single-step execution under automationID. It goes through the same
// resolution, validation, and retry pipeline as an automation step.
func (e *Executor) ExecuteTool(ctx context.Context, automationID, toolName string, params map[string]any, user User) (*DirectResult, error) {
	tool := e.registry.Lookup(toolName)
	if !tool.Runnable() {
		return nil, &errors.UnsupportedStepError{
			Tool:       toolName,
			StepIndex:  1,
			Suggestion: e.registry.Suggest(toolName),
		}
	}

	executionID := NewRPCExecutionID()
	input := map[string]any{"triggerType": "rpc", "tool": toolName, "params": params}
	if err := e.store.CreateExecution(ctx, &store.Execution{
		ID:           executionID,
		AutomationID: automationID,
		UserID:       user.ID,
		TriggerType:  "rpc",
		Input:        store.Sanitize(input),
	}); err != nil {
		return nil, err
	}

	logger := log.WithExecution(e.logger, executionID, automationID)
	memory := NewContextMemory(executionID, automationID, user)

	started := time.Now()
	metrics.ExecutionStarted()
	defer metrics.ExecutionFinished()

	e.execLog.LogStateTransition(ctx, executionID, store.ExecPending, store.ExecRunning, nil)
	e.execLog.UpdateExecutionStatus(ctx, executionID, store.ExecRunning, store.ExecutionUpdate{
		StartedAt: &started,
	})
	logger.Info("tool call started", slog.String(log.ToolKey, toolName))

	step := store.Step{Tool: toolName, Params: params}
	output, retries, stepDurationMS, stepErr := e.runStep(ctx, logger, executionID, 1, step, tool, memory)

	result := &store.StepResult{
		ExecutionID: executionID,
		StepIndex:   1,
		Tool:        toolName,
		Retries:     retries,
		DurationMS:  stepDurationMS,
		Output:      output,
	}

	finished := time.Now()
	durationMS := finished.Sub(started).Milliseconds()

	if stepErr != nil {
		result.Status = "failed"
		result.Error = stepErr.Error()
		result.Output = nil
		e.execLog.LogStepResult(ctx, result)

		e.execLog.LogStateTransition(ctx, executionID, store.ExecRunning, store.ExecFailed,
			map[string]any{"error": stepErr.Error()})
		e.execLog.UpdateExecutionStatus(ctx, executionID, store.ExecFailed, store.ExecutionUpdate{
			Error:      stepErr.Error(),
			FinishedAt: &finished,
			DurationMS: durationMS,
		})
		metrics.RecordExecution("rpc", "failed", finished.Sub(started).Seconds())
		logger.Warn("tool call failed", log.Error(stepErr), log.Duration("duration", durationMS))
		return &DirectResult{ExecutionID: executionID, Retries: retries, DurationMS: durationMS}, stepErr
	}

	result.Status = "success"
	e.execLog.LogStepResult(ctx, result)
	memory.StoreStepOutput(1, "", output)

	e.execLog.LogStateTransition(ctx, executionID, store.ExecRunning, store.ExecSuccess, nil)
	e.execLog.UpdateExecutionStatus(ctx, executionID, store.ExecSuccess, store.ExecutionUpdate{
		ContextSnapshot: memory.Summary(),
		FinishedAt:      &finished,
		DurationMS:      durationMS,
	})
	metrics.RecordExecution("rpc", "success", finished.Sub(started).Seconds())
	logger.Info("tool call succeeded", log.Duration("duration", durationMS))

	return &DirectResult{
		ExecutionID: executionID,
		Output:      output,
		Retries:     retries,
		DurationMS:  durationMS,
	}, nil
}
