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
	"database/sql"
	"encoding/json"
	"time"

	"github.com/tombee/relay/pkg/errors"
)

// CreateExecution persists a new execution record, pending by default.
func (s *Store) CreateExecution(ctx context.Context, e *Execution) error {
	if e.ID == "" {
		return &errors.ValidationError{Field: "id", Message: "execution id cannot be empty"}
	}
	if e.Status == "" {
		e.Status = ExecPending
	}

	inputJSON, err := marshalMap(e.Input)
	if err != nil {
		return errors.Wrap(err, "marshaling input")
	}

	now := time.Now()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO executions (id, automation_id, user_id, trigger_type, input, status, error,
			context_snapshot, started_at, finished_at, duration_ms, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.AutomationID, e.UserID, nullString(e.TriggerType), inputJSON,
		string(e.Status), nullString(e.Error), nil,
		formatTime(e.StartedAt), formatTime(e.FinishedAt), e.DurationMS,
		now.Format(time.RFC3339), now.Format(time.RFC3339),
	)
	if err != nil {
		return errors.Wrap(err, "creating execution")
	}

	e.CreatedAt = now
	e.UpdatedAt = now
	return nil
}

// GetExecution retrieves an execution by id.
func (s *Store) GetExecution(ctx context.Context, id string) (*Execution, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, automation_id, user_id, trigger_type, input, status, error,
			context_snapshot, started_at, finished_at, duration_ms, created_at, updated_at
		FROM executions WHERE id = ?`, id)

	e, err := scanExecution(row)
	if err == sql.ErrNoRows {
		return nil, &errors.NotFoundError{Resource: "execution", ID: id}
	}
	if err != nil {
		return nil, errors.Wrap(err, "getting execution")
	}
	return e, nil
}

// ExecutionUpdate carries the optional fields of an execution status write.
type ExecutionUpdate struct {
	Error           string
	ContextSnapshot map[string]any
	StartedAt       *time.Time
	FinishedAt      *time.Time
	DurationMS      int64
}

// UpdateExecutionStatus writes a new status together with any terminal
// fields. Zero-valued update fields leave their columns untouched.
func (s *Store) UpdateExecutionStatus(ctx context.Context, id string, status ExecutionStatus, update ExecutionUpdate) error {
	query := `UPDATE executions SET status = ?, updated_at = ?`
	args := []any{string(status), time.Now().Format(time.RFC3339)}

	if update.Error != "" {
		query += ", error = ?"
		args = append(args, update.Error)
	}
	if update.ContextSnapshot != nil {
		snapshotJSON, err := marshalMap(update.ContextSnapshot)
		if err != nil {
			return errors.Wrap(err, "marshaling context snapshot")
		}
		query += ", context_snapshot = ?"
		args = append(args, snapshotJSON)
	}
	if update.StartedAt != nil {
		query += ", started_at = ?"
		args = append(args, update.StartedAt.Format(time.RFC3339))
	}
	if update.FinishedAt != nil {
		query += ", finished_at = ?"
		args = append(args, update.FinishedAt.Format(time.RFC3339))
	}
	if update.DurationMS > 0 {
		query += ", duration_ms = ?"
		args = append(args, update.DurationMS)
	}

	query += " WHERE id = ?"
	args = append(args, id)

	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return errors.Wrap(err, "updating execution status")
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		return &errors.NotFoundError{Resource: "execution", ID: id}
	}
	return nil
}

// ListExecutions lists executions for an automation, newest first.
func (s *Store) ListExecutions(ctx context.Context, automationID string, limit int) ([]*Execution, error) {
	query := `
		SELECT id, automation_id, user_id, trigger_type, input, status, error,
			context_snapshot, started_at, finished_at, duration_ms, created_at, updated_at
		FROM executions WHERE automation_id = ? ORDER BY created_at DESC`
	args := []any{automationID}

	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "listing executions")
	}
	defer rows.Close()

	var executions []*Execution
	for rows.Next() {
		e, err := scanExecution(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scanning execution")
		}
		executions = append(executions, e)
	}
	return executions, rows.Err()
}

// AppendStateTransition records one state-log entry.
func (s *Store) AppendStateTransition(ctx context.Context, t *StateTransition) error {
	metadataJSON, err := marshalMap(t.Metadata)
	if err != nil {
		return errors.Wrap(err, "marshaling transition metadata")
	}

	now := time.Now()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO state_log (execution_id, from_status, to_status, metadata, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		t.ExecutionID, string(t.From), string(t.To), metadataJSON, now.Format(time.RFC3339),
	)
	if err != nil {
		return errors.Wrap(err, "appending state transition")
	}

	t.CreatedAt = now
	return nil
}

// ListStateLog returns an execution's transitions in append order.
func (s *Store) ListStateLog(ctx context.Context, executionID string) ([]*StateTransition, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT execution_id, from_status, to_status, metadata, created_at
		FROM state_log WHERE execution_id = ? ORDER BY id ASC`, executionID)
	if err != nil {
		return nil, errors.Wrap(err, "listing state log")
	}
	defer rows.Close()

	var transitions []*StateTransition
	for rows.Next() {
		var t StateTransition
		var from, to, createdAt string
		var metadataJSON sql.NullString

		if err := rows.Scan(&t.ExecutionID, &from, &to, &metadataJSON, &createdAt); err != nil {
			return nil, errors.Wrap(err, "scanning state transition")
		}
		t.From = ExecutionStatus(from)
		t.To = ExecutionStatus(to)
		if metadataJSON.Valid && metadataJSON.String != "" {
			if err := json.Unmarshal([]byte(metadataJSON.String), &t.Metadata); err != nil {
				return nil, errors.Wrap(err, "unmarshaling transition metadata")
			}
		}
		t.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		transitions = append(transitions, &t)
	}
	return transitions, rows.Err()
}

// AppendStepResult records one step result. Re-running a step index (after
// a crash) replaces the previous row.
func (s *Store) AppendStepResult(ctx context.Context, r *StepResult) error {
	outputJSON, err := marshalMap(r.Output)
	if err != nil {
		return errors.Wrap(err, "marshaling step output")
	}

	now := time.Now()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO step_logs (execution_id, step_index, tool, status, retries, duration_ms, output, error, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(execution_id, step_index) DO UPDATE SET
			tool = excluded.tool, status = excluded.status, retries = excluded.retries,
			duration_ms = excluded.duration_ms, output = excluded.output, error = excluded.error`,
		r.ExecutionID, r.StepIndex, r.Tool, r.Status, r.Retries, r.DurationMS,
		outputJSON, nullString(r.Error), now.Format(time.RFC3339),
	)
	if err != nil {
		return errors.Wrap(err, "appending step result")
	}

	r.CreatedAt = now
	return nil
}

// ListStepResults returns an execution's step results in step order.
func (s *Store) ListStepResults(ctx context.Context, executionID string) ([]*StepResult, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT execution_id, step_index, tool, status, retries, duration_ms, output, error, created_at
		FROM step_logs WHERE execution_id = ? ORDER BY step_index ASC`, executionID)
	if err != nil {
		return nil, errors.Wrap(err, "listing step results")
	}
	defer rows.Close()

	var results []*StepResult
	for rows.Next() {
		var r StepResult
		var outputJSON, errorStr sql.NullString
		var createdAt string

		if err := rows.Scan(&r.ExecutionID, &r.StepIndex, &r.Tool, &r.Status,
			&r.Retries, &r.DurationMS, &outputJSON, &errorStr, &createdAt); err != nil {
			return nil, errors.Wrap(err, "scanning step result")
		}
		if outputJSON.Valid && outputJSON.String != "" {
			if err := json.Unmarshal([]byte(outputJSON.String), &r.Output); err != nil {
				return nil, errors.Wrap(err, "unmarshaling step output")
			}
		}
		r.Error = errorStr.String
		r.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		results = append(results, &r)
	}
	return results, rows.Err()
}

func scanExecution(row rowScanner) (*Execution, error) {
	var e Execution
	var triggerType, inputJSON, errorStr, snapshotJSON sql.NullString
	var startedAt, finishedAt sql.NullString
	var status, createdAt, updatedAt string

	err := row.Scan(&e.ID, &e.AutomationID, &e.UserID, &triggerType, &inputJSON,
		&status, &errorStr, &snapshotJSON, &startedAt, &finishedAt,
		&e.DurationMS, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	e.TriggerType = triggerType.String
	e.Status = ExecutionStatus(status)
	e.Error = errorStr.String

	if inputJSON.Valid && inputJSON.String != "" {
		if err := json.Unmarshal([]byte(inputJSON.String), &e.Input); err != nil {
			return nil, errors.Wrap(err, "unmarshaling input")
		}
	}
	if snapshotJSON.Valid && snapshotJSON.String != "" {
		if err := json.Unmarshal([]byte(snapshotJSON.String), &e.ContextSnapshot); err != nil {
			return nil, errors.Wrap(err, "unmarshaling context snapshot")
		}
	}

	e.StartedAt = parseTime(startedAt)
	e.FinishedAt = parseTime(finishedAt)
	e.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	e.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	return &e, nil
}
