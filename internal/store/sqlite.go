// SPDX-License-Identifier: MIT

// Package store persists sensors, users, sessions and motion events in
// SQLite. The sessions table is the engine's serialisation point: a partial
// unique index guarantees at most one active session per sensor.
package store

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // Pure Go driver
)

const schemaVersion = 1

// SQLiteConfig defines standard SQLite operational parameters.
type SQLiteConfig struct {
	BusyTimeout  time.Duration
	MaxOpenConns int
}

// DefaultSQLiteConfig returns the recommended pool configuration.
func DefaultSQLiteConfig() SQLiteConfig {
	return SQLiteConfig{
		BusyTimeout:  5 * time.Second,
		MaxOpenConns: 25,
	}
}

// Store wraps the SQLite handle shared by all entity stores.
type Store struct {
	DB *sql.DB
}

// Open initialises a SQLite connection pool with mandatory PRAGMAs and runs
// migrations. WAL mode and busy_timeout apply to every pooled connection via
// the DSN.
func Open(dbPath string, cfg SQLiteConfig) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(%d)&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(ON)",
		dbPath, cfg.BusyTimeout.Milliseconds())

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open failed: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxOpenConns)
	db.SetConnMaxLifetime(1 * time.Hour)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: ping failed: %w", err)
	}

	s := &Store{DB: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("store: migration failed: %w", err)
	}
	return s, nil
}

// Close releases the underlying pool.
func (s *Store) Close() error {
	return s.DB.Close()
}

func (s *Store) migrate() error {
	var currentVersion int
	if err := s.DB.QueryRow("PRAGMA user_version").Scan(&currentVersion); err != nil {
		return err
	}
	if currentVersion >= schemaVersion {
		return nil
	}

	tx, err := s.DB.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	schema := `
	CREATE TABLE IF NOT EXISTS sensors (
		sensor_id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		location TEXT NOT NULL,
		name TEXT,
		enabled INTEGER NOT NULL DEFAULT 1,
		timeout_minutes INTEGER NOT NULL,
		debounce_minutes INTEGER NOT NULL,
		quiet_hours_json TEXT,
		spotify_config_json TEXT NOT NULL,
		last_motion_unix INTEGER,
		is_deleted INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_sensors_user ON sensors(user_id);

	CREATE TABLE IF NOT EXISTS users (
		user_id TEXT PRIMARY KEY,
		email TEXT NOT NULL,
		active INTEGER NOT NULL DEFAULT 1,
		spotify_connected INTEGER NOT NULL DEFAULT 0,
		spotify_token_secret_ref TEXT,
		timezone TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS sessions (
		session_id TEXT PRIMARY KEY,
		sensor_id TEXT NOT NULL,
		user_id TEXT NOT NULL,
		status TEXT NOT NULL,
		start_unix INTEGER NOT NULL,
		last_motion_unix INTEGER NOT NULL,
		motion_events_count INTEGER NOT NULL,
		playback_started INTEGER NOT NULL DEFAULT 0,
		playback_stopped INTEGER NOT NULL DEFAULT 0,
		end_unix INTEGER,
		duration_minutes REAL,
		ttl_unix INTEGER NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_sessions_one_active
		ON sessions(sensor_id) WHERE status = 'active';
	CREATE INDEX IF NOT EXISTS idx_sessions_sensor_start
		ON sessions(sensor_id, start_unix DESC);
	CREATE INDEX IF NOT EXISTS idx_sessions_status ON sessions(status);
	CREATE INDEX IF NOT EXISTS idx_sessions_ttl ON sessions(ttl_unix);

	CREATE TABLE IF NOT EXISTS motion_events (
		event_id TEXT PRIMARY KEY,
		sensor_id TEXT NOT NULL,
		user_id TEXT,
		session_id TEXT,
		event_type TEXT NOT NULL,
		timestamp_unix INTEGER NOT NULL,
		action_taken TEXT NOT NULL,
		playback_triggered INTEGER NOT NULL DEFAULT 0,
		error_cause TEXT,
		battery_level REAL,
		signal_strength REAL,
		firmware_version TEXT,
		metadata_json TEXT,
		ttl_unix INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_motion_events_sensor
		ON motion_events(sensor_id, timestamp_unix DESC);
	CREATE INDEX IF NOT EXISTS idx_motion_events_ttl ON motion_events(ttl_unix);

	CREATE TABLE IF NOT EXISTS secrets (
		ref TEXT PRIMARY KEY,
		bundle_json TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);
	`

	if _, err := tx.Exec(schema); err != nil {
		return err
	}
	if _, err := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d", schemaVersion)); err != nil {
		return err
	}
	return tx.Commit()
}

// --- shared helpers ---

func unixToTime(v sql.NullInt64) time.Time {
	if !v.Valid || v.Int64 == 0 {
		return time.Time{}
	}
	return time.Unix(v.Int64, 0).UTC()
}

func timeToUnix(t time.Time) sql.NullInt64 {
	if t.IsZero() {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.Unix(), Valid: true}
}

func timeToISO(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func isoToTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
