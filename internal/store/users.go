// SPDX-License-Identifier: MIT

package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/kesslerm/motionplay/internal/model"
)

// UserStore persists user records.
type UserStore struct {
	db *sql.DB
}

// Users returns the user store bound to s.
func (s *Store) Users() *UserStore {
	return &UserStore{db: s.DB}
}

// Put inserts or replaces a user record.
func (s *UserStore) Put(ctx context.Context, user *model.User) error {
	_, err := s.db.ExecContext(ctx, `
	INSERT INTO users (
		user_id, email, active, spotify_connected, spotify_token_secret_ref,
		timezone, created_at, updated_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(user_id) DO UPDATE SET
		email = excluded.email,
		active = excluded.active,
		spotify_connected = excluded.spotify_connected,
		spotify_token_secret_ref = excluded.spotify_token_secret_ref,
		timezone = excluded.timezone,
		updated_at = excluded.updated_at
	`,
		user.UserID, user.Email, user.Active, user.SpotifyConnected,
		user.SpotifyTokenSecretRef, user.Timezone,
		timeToISO(user.CreatedAt), timeToISO(user.UpdatedAt),
	)
	return err
}

// Get loads a user by ID. Returns ErrNotFound when absent.
func (s *UserStore) Get(ctx context.Context, userID string) (*model.User, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT user_id, email, active, spotify_connected,
		        spotify_token_secret_ref, timezone, created_at, updated_at
		 FROM users WHERE user_id = ?`, userID)
	return scanUser(row)
}

// Update applies fn to the current record inside a transaction.
func (s *UserStore) Update(ctx context.Context, userID string, fn func(*model.User) error) (*model.User, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	user, err := scanUser(tx.QueryRowContext(ctx,
		`SELECT user_id, email, active, spotify_connected,
		        spotify_token_secret_ref, timezone, created_at, updated_at
		 FROM users WHERE user_id = ?`, userID))
	if err != nil {
		return nil, err
	}

	if err := fn(user); err != nil {
		return nil, err
	}
	user.UpdatedAt = time.Now().UTC()

	_, err = tx.ExecContext(ctx,
		`UPDATE users SET email = ?, active = ?, spotify_connected = ?,
		        spotify_token_secret_ref = ?, timezone = ?, updated_at = ?
		 WHERE user_id = ?`,
		user.Email, user.Active, user.SpotifyConnected,
		user.SpotifyTokenSecretRef, user.Timezone, timeToISO(user.UpdatedAt),
		user.UserID,
	)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return user, nil
}

// ListActiveConnected pages through users with active=true and
// spotifyConnected=true, ordered by user_id. An empty afterUserID starts from
// the beginning; the last user_id of a page is the cursor for the next.
func (s *UserStore) ListActiveConnected(ctx context.Context, afterUserID string, limit int) ([]*model.User, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT user_id, email, active, spotify_connected,
		        spotify_token_secret_ref, timezone, created_at, updated_at
		 FROM users
		 WHERE active = 1 AND spotify_connected = 1 AND user_id > ?
		 ORDER BY user_id LIMIT ?`, afterUserID, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var users []*model.User
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, user)
	}
	return users, rows.Err()
}

func scanUser(scanner interface{ Scan(dest ...any) error }) (*model.User, error) {
	var user model.User
	var secretRef, timezone sql.NullString
	var createdAt, updatedAt string

	err := scanner.Scan(
		&user.UserID, &user.Email, &user.Active, &user.SpotifyConnected,
		&secretRef, &timezone, &createdAt, &updatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	user.SpotifyTokenSecretRef = secretRef.String
	user.Timezone = timezone.String
	user.CreatedAt = isoToTime(createdAt)
	user.UpdatedAt = isoToTime(updatedAt)
	return &user, nil
}
