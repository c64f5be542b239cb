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

	"github.com/tombee/relay/internal/triggers"
	"github.com/tombee/relay/pkg/errors"
)

// CreateAutomation persists a new automation. The trigger must already be
// validated; status defaults to draft when unset.
func (s *Store) CreateAutomation(ctx context.Context, a *Automation) error {
	if a.ID == "" {
		return &errors.ValidationError{Field: "id", Message: "automation id cannot be empty"}
	}
	if a.Status == "" {
		a.Status = StatusDraft
	}

	triggerJSON, err := json.Marshal(a.Trigger)
	if err != nil {
		return errors.Wrap(err, "marshaling trigger")
	}
	stepsJSON, err := json.Marshal(a.Steps)
	if err != nil {
		return errors.Wrap(err, "marshaling steps")
	}
	stateJSON, err := marshalMap(a.State)
	if err != nil {
		return errors.Wrap(err, "marshaling state")
	}

	now := time.Now()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO automations (id, user_id, name, description, trigger, steps, status, state, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.UserID, a.Name, nullString(a.Description),
		string(triggerJSON), string(stepsJSON), string(a.Status), stateJSON,
		now.Format(time.RFC3339), now.Format(time.RFC3339),
	)
	if err != nil {
		return errors.Wrap(err, "creating automation")
	}

	a.CreatedAt = now
	a.UpdatedAt = now
	return nil
}

// GetAutomation retrieves an automation by id.
func (s *Store) GetAutomation(ctx context.Context, id string) (*Automation, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, name, description, trigger, steps, status, state, created_at, updated_at
		FROM automations WHERE id = ?`, id)

	a, err := scanAutomation(row)
	if err == sql.ErrNoRows {
		return nil, &errors.NotFoundError{Resource: "automation", ID: id}
	}
	if err != nil {
		return nil, errors.Wrap(err, "getting automation")
	}
	return a, nil
}

// AutomationFilter narrows ListAutomations.
type AutomationFilter struct {
	UserID string
	Status AutomationStatus
}

// ListAutomations lists automations matching the filter, newest first.
func (s *Store) ListAutomations(ctx context.Context, filter AutomationFilter) ([]*Automation, error) {
	query := `
		SELECT id, user_id, name, description, trigger, steps, status, state, created_at, updated_at
		FROM automations WHERE 1=1`
	args := []any{}

	if filter.UserID != "" {
		query += " AND user_id = ?"
		args = append(args, filter.UserID)
	}
	if filter.Status != "" {
		query += " AND status = ?"
		args = append(args, string(filter.Status))
	}
	query += " ORDER BY created_at DESC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "listing automations")
	}
	defer rows.Close()

	var automations []*Automation
	for rows.Next() {
		a, err := scanAutomation(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scanning automation")
		}
		automations = append(automations, a)
	}
	return automations, rows.Err()
}

// UpdateAutomation rewrites the mutable fields of an automation.
func (s *Store) UpdateAutomation(ctx context.Context, a *Automation) error {
	triggerJSON, err := json.Marshal(a.Trigger)
	if err != nil {
		return errors.Wrap(err, "marshaling trigger")
	}
	stepsJSON, err := json.Marshal(a.Steps)
	if err != nil {
		return errors.Wrap(err, "marshaling steps")
	}
	stateJSON, err := marshalMap(a.State)
	if err != nil {
		return errors.Wrap(err, "marshaling state")
	}

	now := time.Now()
	result, err := s.db.ExecContext(ctx, `
		UPDATE automations SET
			name = ?, description = ?, trigger = ?, steps = ?, status = ?, state = ?, updated_at = ?
		WHERE id = ?`,
		a.Name, nullString(a.Description), string(triggerJSON), string(stepsJSON),
		string(a.Status), stateJSON, now.Format(time.RFC3339), a.ID,
	)
	if err != nil {
		return errors.Wrap(err, "updating automation")
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		return &errors.NotFoundError{Resource: "automation", ID: a.ID}
	}

	a.UpdatedAt = now
	return nil
}

// UpdateAutomationStatus changes only the lifecycle status. Used by the
// scheduler's activate/deactivate paths, including rollback.
func (s *Store) UpdateAutomationStatus(ctx context.Context, id string, status AutomationStatus) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE automations SET status = ?, updated_at = ? WHERE id = ?`,
		string(status), time.Now().Format(time.RFC3339), id,
	)
	if err != nil {
		return errors.Wrap(err, "updating automation status")
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		return &errors.NotFoundError{Resource: "automation", ID: id}
	}
	return nil
}

// DeleteAutomation removes an automation; executions, their logs, and the
// poll state cascade.
func (s *Store) DeleteAutomation(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM automations WHERE id = ?`, id)
	if err != nil {
		return errors.Wrap(err, "deleting automation")
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		return &errors.NotFoundError{Resource: "automation", ID: id}
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAutomation(row rowScanner) (*Automation, error) {
	var a Automation
	var description, stateJSON sql.NullString
	var triggerJSON, stepsJSON, status string
	var createdAt, updatedAt string

	err := row.Scan(&a.ID, &a.UserID, &a.Name, &description,
		&triggerJSON, &stepsJSON, &status, &stateJSON, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	a.Description = description.String
	a.Status = AutomationStatus(status)

	var trigger triggers.Trigger
	if err := json.Unmarshal([]byte(triggerJSON), &trigger); err != nil {
		return nil, errors.Wrap(err, "unmarshaling trigger")
	}
	a.Trigger = &trigger

	if err := json.Unmarshal([]byte(stepsJSON), &a.Steps); err != nil {
		return nil, errors.Wrap(err, "unmarshaling steps")
	}
	if stateJSON.Valid && stateJSON.String != "" {
		if err := json.Unmarshal([]byte(stateJSON.String), &a.State); err != nil {
			return nil, errors.Wrap(err, "unmarshaling state")
		}
	}

	a.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	a.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	return &a, nil
}

// marshalMap renders a map as JSON, or nil for an empty map so the column
// stays NULL.
func marshalMap(m map[string]any) (any, error) {
	if len(m) == 0 {
		return nil, nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}
