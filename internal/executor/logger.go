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

	"github.com/tombee/relay/internal/log"
	"github.com/tombee/relay/internal/store"
)

// ExecutionLogger writes the durable event log of an execution: state
// transitions, status updates, and step results. All payloads pass the
// store sanitizer before they are written.
type ExecutionLogger struct {
	store  *store.Store
	logger *slog.Logger
}

// NewExecutionLogger creates an execution logger.
func NewExecutionLogger(st *store.Store, logger *slog.Logger) *ExecutionLogger {
	if logger == nil {
		logger = slog.Default()
	}
	return &ExecutionLogger{store: st, logger: logger}
}

// LogStateTransition appends one state-log entry.
func (l *ExecutionLogger) LogStateTransition(ctx context.Context, executionID string, from, to store.ExecutionStatus, metadata map[string]any) error {
	err := l.store.AppendStateTransition(ctx, &store.StateTransition{
		ExecutionID: executionID,
		From:        from,
		To:          to,
		Metadata:    store.Sanitize(metadata),
	})
	if err != nil {
		l.logger.Error("failed to log state transition",
			slog.String(log.ExecutionIDKey, executionID),
			"from", string(from),
			"to", string(to),
			log.Error(err))
		return err
	}

	l.logger.Debug("state transition",
		slog.String(log.ExecutionIDKey, executionID),
		"from", string(from),
		"to", string(to))
	return nil
}

// UpdateExecutionStatus writes a new status with optional terminal fields.
func (l *ExecutionLogger) UpdateExecutionStatus(ctx context.Context, executionID string, status store.ExecutionStatus, update store.ExecutionUpdate) error {
	update.ContextSnapshot = store.Sanitize(update.ContextSnapshot)
	if err := l.store.UpdateExecutionStatus(ctx, executionID, status, update); err != nil {
		l.logger.Error("failed to update execution status",
			slog.String(log.ExecutionIDKey, executionID),
			"status", string(status),
			log.Error(err))
		return err
	}
	return nil
}

// LogStepResult writes one step result with a sanitized output summary.
func (l *ExecutionLogger) LogStepResult(ctx context.Context, r *store.StepResult) error {
	r.Output = store.Sanitize(r.Output)
	if err := l.store.AppendStepResult(ctx, r); err != nil {
		l.logger.Error("failed to log step result",
			slog.String(log.ExecutionIDKey, r.ExecutionID),
			slog.Int(log.StepIndexKey, r.StepIndex),
			slog.String(log.ToolKey, r.Tool),
			log.Error(err))
		return err
	}
	return nil
}
