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

// Package executor drives automation executions end-to-end: variable
// resolution, handler invocation, retry policy, and the durable state
// machine pending -> running -> (retrying <-> running)* -> success|failed.
package executor

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/tombee/relay/internal/binding"
	"github.com/tombee/relay/internal/log"
	"github.com/tombee/relay/internal/metrics"
	"github.com/tombee/relay/internal/store"
	"github.com/tombee/relay/pkg/errors"
	"github.com/tombee/relay/pkg/tools"
)

// Executor runs automations against the registry and records everything
// through the execution logger.
type Executor struct {
	store    *store.Store
	registry *tools.Registry
	execLog  *ExecutionLogger
	logger   *slog.Logger
	tracer   trace.Tracer
}

// New creates an executor.
func New(st *store.Store, registry *tools.Registry, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{
		store:    st,
		registry: registry,
		execLog:  NewExecutionLogger(st, logger),
		logger:   logger,
		tracer:   otel.Tracer("relay/executor"),
	}
}

// Logger exposes the execution logger for producers that log outside the
// step loop (the discovery RPC's single-step path).
func (e *Executor) Logger() *ExecutionLogger {
	return e.execLog
}

// NewExecutionID generates an execution id, "exec_<unix-ms>_<random>".
func NewExecutionID() string {
	return newID("exec")
}

func newID(prefix string) string {
	buf := make([]byte, 4)
	if _, err := rand.Read(buf); err != nil {
		return fmt.Sprintf("%s_%d_0", prefix, time.Now().UnixMilli())
	}
	return fmt.Sprintf("%s_%d_%s", prefix, time.Now().UnixMilli(), hex.EncodeToString(buf))
}

// Dispatch creates the execution record for a trigger firing and runs it.
// Producers that need the execution id before running (webhook intake)
// create the record themselves and call Execute directly.
func (e *Executor) Dispatch(ctx context.Context, automation *store.Automation, triggerType string, input map[string]any, user User) (string, error) {
	executionID := NewExecutionID()
	err := e.store.CreateExecution(ctx, &store.Execution{
		ID:           executionID,
		AutomationID: automation.ID,
		UserID:       automation.UserID,
		TriggerType:  triggerType,
		Input:        store.Sanitize(input),
	})
	if err != nil {
		return "", err
	}
	return executionID, e.Execute(ctx, automation, executionID, user, input)
}

// Execute runs one pending execution to a terminal state. The returned
// error mirrors the failure recorded on the execution; callers that run
// in the background may ignore it.
func (e *Executor) Execute(ctx context.Context, automation *store.Automation, executionID string, user User, input map[string]any) error {
	logger := log.WithExecution(e.logger, executionID, automation.ID)

	ctx, span := e.tracer.Start(ctx, "execution",
		trace.WithAttributes(
			attribute.String("execution.id", executionID),
			attribute.String("automation.id", automation.ID),
		))
	defer span.End()

	memory := NewContextMemory(executionID, automation.ID, user)
	for key, value := range input {
		memory.Set(key, value)
	}

	started := time.Now()
	metrics.ExecutionStarted()
	defer metrics.ExecutionFinished()

	e.execLog.LogStateTransition(ctx, executionID, store.ExecPending, store.ExecRunning, nil)
	e.execLog.UpdateExecutionStatus(ctx, executionID, store.ExecRunning, store.ExecutionUpdate{
		StartedAt: &started,
	})
	logger.Info("execution started",
		slog.Int("steps", len(automation.Steps)),
		slog.String(log.TriggerKey, triggerTypeOf(input)))

	execErr := e.runSteps(ctx, logger, automation, executionID, memory)

	finished := time.Now()
	durationMS := finished.Sub(started).Milliseconds()
	snapshot := memory.Summary()
	triggerType := triggerTypeOf(input)

	if execErr != nil {
		span.RecordError(execErr)
		span.SetStatus(codes.Error, execErr.Error())

		e.execLog.LogStateTransition(ctx, executionID, store.ExecRunning, store.ExecFailed,
			map[string]any{"error": execErr.Error()})
		e.execLog.UpdateExecutionStatus(ctx, executionID, store.ExecFailed, store.ExecutionUpdate{
			Error:           execErr.Error(),
			ContextSnapshot: snapshot,
			FinishedAt:      &finished,
			DurationMS:      durationMS,
		})
		metrics.RecordExecution(triggerType, "failed", finished.Sub(started).Seconds())
		logger.Warn("execution failed",
			log.Error(execErr),
			log.Duration("duration", durationMS))
		return execErr
	}

	e.execLog.LogStateTransition(ctx, executionID, store.ExecRunning, store.ExecSuccess, nil)
	e.execLog.UpdateExecutionStatus(ctx, executionID, store.ExecSuccess, store.ExecutionUpdate{
		ContextSnapshot: snapshot,
		FinishedAt:      &finished,
		DurationMS:      durationMS,
	})
	metrics.RecordExecution(triggerType, "success", finished.Sub(started).Seconds())
	logger.Info("execution succeeded", log.Duration("duration", durationMS))
	return nil
}

// runSteps drives the step loop; a recovered panic becomes an
// InternalError so the execution still terminates through the failed path.
func (e *Executor) runSteps(ctx context.Context, logger *slog.Logger, automation *store.Automation, executionID string, memory *ContextMemory) (execErr error) {
	defer func() {
		if r := recover(); r != nil {
			execErr = &errors.InternalError{
				Message: fmt.Sprintf("panic during execution: %v", r),
			}
		}
	}()

	for i, step := range automation.Steps {
		index := i + 1

		tool := e.registry.Lookup(step.Tool)
		if !tool.Runnable() {
			stepErr := &errors.UnsupportedStepError{
				Tool:       step.Tool,
				StepIndex:  index,
				Suggestion: e.registry.Suggest(step.Tool),
			}
			e.execLog.LogStepResult(ctx, &store.StepResult{
				ExecutionID: executionID,
				StepIndex:   index,
				Tool:        step.Tool,
				Status:      "failed",
				Error:       stepErr.Error(),
			})
			return stepErr
		}

		output, retries, durationMS, stepErr := e.runStep(ctx, logger, executionID, index, step, tool, memory)

		result := &store.StepResult{
			ExecutionID: executionID,
			StepIndex:   index,
			Tool:        step.Tool,
			Retries:     retries,
			DurationMS:  durationMS,
			Output:      output,
		}
		if stepErr != nil {
			result.Status = "failed"
			result.Error = stepErr.Error()
			result.Output = nil
			e.execLog.LogStepResult(ctx, result)
			return &errors.StepFailedError{StepIndex: index, Tool: step.Tool, Cause: stepErr}
		}

		result.Status = "success"
		e.execLog.LogStepResult(ctx, result)
		memory.StoreStepOutput(index, step.OutputAs, output)
	}
	return nil
}

// runStep invokes one step with retries. The returned retry count is the
// number of re-attempts actually made.
func (e *Executor) runStep(ctx context.Context, logger *slog.Logger, executionID string, index int, step store.Step, tool *tools.Tool, memory *ContextMemory) (map[string]any, int, int64, error) {
	ctx, span := e.tracer.Start(ctx, "step",
		trace.WithAttributes(
			attribute.Int("step.index", index),
			attribute.String("step.tool", step.Tool),
		))
	defer span.End()

	var totalDurationMS int64
	attempt := 1

	for {
		snapshot := memory.BuildStepContext()
		rctx := &binding.Context{Document: snapshot}
		if outputs, ok := snapshot["stepOutputs"].(map[string]any); ok {
			rctx.StepOutputs = outputs
		}

		params := binding.ResolveParams(step.Params, rctx)
		params = tool.Definition.InputSchema.ApplyDefaults(params)
		if err := tool.Definition.InputSchema.Validate(step.Tool, params); err != nil {
			return nil, attempt - 1, totalDurationMS, err
		}

		ec := &tools.ExecContext{
			ExecutionID: executionID,
			StepIndex:   index,
			Logger:      logger,
			Variables:   snapshot,
		}
		if user, ok := snapshot["user"].(map[string]any); ok {
			ec.UserID, _ = user["id"].(string)
		}
		if automationID, ok := snapshot["automationId"].(string); ok {
			ec.AutomationID = automationID
		}

		stepStart := time.Now()
		output, err := invoke(ctx, tool.Handler, params, ec)
		elapsed := time.Since(stepStart)
		totalDurationMS += elapsed.Milliseconds()

		if err == nil {
			metrics.RecordStep(step.Tool, "success", elapsed.Seconds())
			span.SetAttributes(attribute.Int("step.retries", attempt-1))
			return output, attempt - 1, totalDurationMS, nil
		}

		metrics.RecordStep(step.Tool, "failed", elapsed.Seconds())

		if ctx.Err() != nil {
			return nil, attempt - 1, totalDurationMS, errors.Wrap(ctx.Err(), "step cancelled")
		}
		if !IsTransient(err) || attempt > MaxRetries {
			return nil, attempt - 1, totalDurationMS, err
		}

		delay := Delay(attempt)
		metrics.RecordStepRetry(step.Tool)
		logger.Warn("step failed, retrying",
			slog.Int(log.StepIndexKey, index),
			slog.String(log.ToolKey, step.Tool),
			slog.Int("attempt", attempt),
			slog.Int64("delay_ms", delay.Milliseconds()),
			log.Error(err))

		e.execLog.LogStateTransition(ctx, executionID, store.ExecRunning, store.ExecRetrying, map[string]any{
			"step_index": index,
			"attempt":    attempt,
			"error":      err.Error(),
			"delay_ms":   delay.Milliseconds(),
		})

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, attempt, totalDurationMS, errors.Wrap(ctx.Err(), "step cancelled during backoff")
		}

		e.execLog.LogStateTransition(ctx, executionID, store.ExecRetrying, store.ExecRunning, map[string]any{
			"step_index":   index,
			"next_attempt": attempt + 1,
		})
		attempt++
	}
}

// invoke runs a handler, converting a panic into an InternalError.
func invoke(ctx context.Context, handler tools.Handler, params map[string]any, ec *tools.ExecContext) (output map[string]any, err error) {
	defer func() {
		if r := recover(); r != nil {
			output = nil
			err = &errors.InternalError{Message: fmt.Sprintf("handler panic: %v", r)}
		}
	}()
	return handler(ctx, params, ec)
}

func triggerTypeOf(input map[string]any) string {
	if t, ok := input["triggerType"].(string); ok {
		return t
	}
	return "manual"
}
