// SPDX-License-Identifier: MIT

package secrets

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/kesslerm/motionplay/internal/model"
)

// SQLiteStore persists bundles in the secrets table. The bundle is stored as
// a single JSON blob; the table carries no token columns of its own so a
// schema dump never enumerates token fields.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite returns a Store backed by the given handle. The secrets table is
// created by the store migration.
func NewSQLite(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

func (s *SQLiteStore) Get(ctx context.Context, ref string) (*model.SecretBundle, error) {
	var raw string
	err := s.db.QueryRowContext(ctx,
		`SELECT bundle_json FROM secrets WHERE ref = ?`, ref).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("secrets: get %q: %w", ref, err)
	}

	var bundle model.SecretBundle
	if err := json.Unmarshal([]byte(raw), &bundle); err != nil {
		return nil, fmt.Errorf("secrets: decode %q: %w", ref, err)
	}
	return &bundle, nil
}

func (s *SQLiteStore) Put(ctx context.Context, ref string, bundle *model.SecretBundle) error {
	raw, err := json.Marshal(bundle)
	if err != nil {
		return fmt.Errorf("secrets: encode %q: %w", ref, err)
	}
	_, err = s.db.ExecContext(ctx, `
	INSERT INTO secrets (ref, bundle_json, updated_at) VALUES (?, ?, ?)
	ON CONFLICT(ref) DO UPDATE SET
		bundle_json = excluded.bundle_json,
		updated_at = excluded.updated_at`,
		ref, string(raw), time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("secrets: put %q: %w", ref, err)
	}
	return nil
}

func (s *SQLiteStore) Invalidate(string) {}
