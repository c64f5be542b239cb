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

// GetRSSPollState returns the poll state for an automation, or a fresh
// empty state if none has been stored yet.
func (s *Store) GetRSSPollState(ctx context.Context, automationID string) (*RSSPollState, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT automation_id, last_poll_at, seen_ids, feed_url, updated_at
		FROM rss_poll_state WHERE automation_id = ?`, automationID)

	var state RSSPollState
	var lastPollAt, seenJSON, feedURL sql.NullString
	var updatedAt string

	err := row.Scan(&state.AutomationID, &lastPollAt, &seenJSON, &feedURL, &updatedAt)
	if err == sql.ErrNoRows {
		return &RSSPollState{AutomationID: automationID}, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "getting rss poll state")
	}

	state.LastPollAt = parseTime(lastPollAt)
	state.FeedURL = feedURL.String
	if seenJSON.Valid && seenJSON.String != "" {
		if err := json.Unmarshal([]byte(seenJSON.String), &state.SeenIDs); err != nil {
			return nil, errors.Wrap(err, "unmarshaling seen ids")
		}
	}
	state.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	return &state, nil
}

// SaveRSSPollState upserts the poll state for an automation.
func (s *Store) SaveRSSPollState(ctx context.Context, state *RSSPollState) error {
	seenJSON, err := json.Marshal(state.SeenIDs)
	if err != nil {
		return errors.Wrap(err, "marshaling seen ids")
	}

	now := time.Now()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO rss_poll_state (automation_id, last_poll_at, seen_ids, feed_url, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(automation_id) DO UPDATE SET
			last_poll_at = excluded.last_poll_at,
			seen_ids = excluded.seen_ids,
			feed_url = excluded.feed_url,
			updated_at = excluded.updated_at`,
		state.AutomationID, formatTime(state.LastPollAt), string(seenJSON),
		nullString(state.FeedURL), now.Format(time.RFC3339),
	)
	if err != nil {
		return errors.Wrap(err, "saving rss poll state")
	}

	state.UpdatedAt = now
	return nil
}
