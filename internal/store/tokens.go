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
	"time"

	"golang.org/x/oauth2"

	"github.com/tombee/relay/pkg/errors"
)

// SaveUserToken upserts an OAuth token for a user/provider pair.
func (s *Store) SaveUserToken(ctx context.Context, t *UserToken) error {
	now := time.Now()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO user_tokens (user_id, provider, access_token, refresh_token, token_type, expiry, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id, provider) DO UPDATE SET
			access_token = excluded.access_token,
			refresh_token = excluded.refresh_token,
			token_type = excluded.token_type,
			expiry = excluded.expiry,
			updated_at = excluded.updated_at`,
		t.UserID, t.Provider, t.AccessToken, nullString(t.RefreshToken),
		nullString(t.TokenType), formatTime(t.Expiry), now.Format(time.RFC3339),
	)
	if err != nil {
		return errors.Wrap(err, "saving user token")
	}

	t.UpdatedAt = now
	return nil
}

// GetUserToken retrieves the stored OAuth token for a user/provider pair.
func (s *Store) GetUserToken(ctx context.Context, userID, provider string) (*UserToken, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT user_id, provider, access_token, refresh_token, token_type, expiry, updated_at
		FROM user_tokens WHERE user_id = ? AND provider = ?`, userID, provider)

	var t UserToken
	var refreshToken, tokenType, expiry sql.NullString
	var updatedAt string

	err := row.Scan(&t.UserID, &t.Provider, &t.AccessToken, &refreshToken,
		&tokenType, &expiry, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, &errors.NotFoundError{Resource: "token", ID: userID + "/" + provider}
	}
	if err != nil {
		return nil, errors.Wrap(err, "getting user token")
	}

	t.RefreshToken = refreshToken.String
	t.TokenType = tokenType.String
	t.Expiry = parseTime(expiry)
	t.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	return &t, nil
}

// TokenSource returns an oauth2.TokenSource backed by the stored token.
// Refreshes performed by the oauth2 transport are written back, so a
// long-lived daemon keeps credentials fresh across restarts.
func (s *Store) TokenSource(ctx context.Context, userID, provider string, cfg *oauth2.Config) (oauth2.TokenSource, error) {
	stored, err := s.GetUserToken(ctx, userID, provider)
	if err != nil {
		return nil, err
	}

	token := &oauth2.Token{
		AccessToken:  stored.AccessToken,
		RefreshToken: stored.RefreshToken,
		TokenType:    stored.TokenType,
	}
	if stored.Expiry != nil {
		token.Expiry = *stored.Expiry
	}

	return &persistingTokenSource{
		store:    s,
		userID:   userID,
		provider: provider,
		inner:    cfg.TokenSource(ctx, token),
		last:     token,
	}, nil
}

// persistingTokenSource writes refreshed tokens back to the store.
type persistingTokenSource struct {
	store    *Store
	userID   string
	provider string
	inner    oauth2.TokenSource
	last     *oauth2.Token
}

func (p *persistingTokenSource) Token() (*oauth2.Token, error) {
	token, err := p.inner.Token()
	if err != nil {
		return nil, err
	}

	if token.AccessToken != p.last.AccessToken {
		expiry := token.Expiry
		saveErr := p.store.SaveUserToken(context.Background(), &UserToken{
			UserID:       p.userID,
			Provider:     p.provider,
			AccessToken:  token.AccessToken,
			RefreshToken: token.RefreshToken,
			TokenType:    token.TokenType,
			Expiry:       &expiry,
		})
		if saveErr != nil {
			p.store.logger.Warn("failed to persist refreshed token",
				"user_id", p.userID,
				"provider", p.provider,
				"error", saveErr)
		}
		p.last = token
	}

	return token, nil
}
