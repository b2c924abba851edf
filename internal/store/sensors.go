// SPDX-License-Identifier: MIT

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/kesslerm/motionplay/internal/model"
)

// SensorStore persists sensor records.
type SensorStore struct {
	db *sql.DB
}

// Sensors returns the sensor store bound to s.
func (s *Store) Sensors() *SensorStore {
	return &SensorStore{db: s.DB}
}

// Put inserts or replaces a sensor record.
func (s *SensorStore) Put(ctx context.Context, sensor *model.Sensor) error {
	quietJSON, err := marshalNullable(sensor.QuietHours)
	if err != nil {
		return fmt.Errorf("sensor %s: marshal quiet hours: %w", sensor.SensorID, err)
	}
	spotifyJSON, err := json.Marshal(sensor.SpotifyConfig)
	if err != nil {
		return fmt.Errorf("sensor %s: marshal spotify config: %w", sensor.SensorID, err)
	}

	query := `
	INSERT INTO sensors (
		sensor_id, user_id, location, name, enabled, timeout_minutes,
		debounce_minutes, quiet_hours_json, spotify_config_json,
		last_motion_unix, is_deleted, created_at, updated_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(sensor_id) DO UPDATE SET
		user_id = excluded.user_id,
		location = excluded.location,
		name = excluded.name,
		enabled = excluded.enabled,
		timeout_minutes = excluded.timeout_minutes,
		debounce_minutes = excluded.debounce_minutes,
		quiet_hours_json = excluded.quiet_hours_json,
		spotify_config_json = excluded.spotify_config_json,
		last_motion_unix = excluded.last_motion_unix,
		is_deleted = excluded.is_deleted,
		updated_at = excluded.updated_at
	`

	_, err = s.db.ExecContext(ctx, query,
		sensor.SensorID, sensor.UserID, sensor.Location, sensor.Name,
		sensor.Enabled, sensor.TimeoutMinutes, sensor.MotionDebounceMinutes,
		quietJSON, string(spotifyJSON), timeToUnix(sensor.LastMotionTime),
		sensor.IsDeleted, timeToISO(sensor.CreatedAt), timeToISO(sensor.UpdatedAt),
	)
	return err
}

// Get loads a sensor by ID. Returns ErrNotFound when absent.
func (s *SensorStore) Get(ctx context.Context, sensorID string) (*model.Sensor, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT sensor_id, user_id, location, name, enabled, timeout_minutes,
		        debounce_minutes, quiet_hours_json, spotify_config_json,
		        last_motion_unix, is_deleted, created_at, updated_at
		 FROM sensors WHERE sensor_id = ?`, sensorID)
	return scanSensor(row)
}

// ListByUser returns the user's sensors, optionally including soft-deleted
// records.
func (s *SensorStore) ListByUser(ctx context.Context, userID string, includeDeleted bool) ([]*model.Sensor, error) {
	query := `SELECT sensor_id, user_id, location, name, enabled, timeout_minutes,
	                 debounce_minutes, quiet_hours_json, spotify_config_json,
	                 last_motion_unix, is_deleted, created_at, updated_at
	          FROM sensors WHERE user_id = ?`
	if !includeDeleted {
		query += " AND is_deleted = 0"
	}
	query += " ORDER BY sensor_id"

	rows, err := s.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var sensors []*model.Sensor
	for rows.Next() {
		sensor, err := scanSensor(rows)
		if err != nil {
			return nil, err
		}
		sensors = append(sensors, sensor)
	}
	return sensors, rows.Err()
}

// Update applies fn to the current record inside a transaction and persists
// the result. fn sees a copy; returning an error aborts the update.
func (s *SensorStore) Update(ctx context.Context, sensorID string, fn func(*model.Sensor) error) (*model.Sensor, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	sensor, err := scanSensor(tx.QueryRowContext(ctx,
		`SELECT sensor_id, user_id, location, name, enabled, timeout_minutes,
		        debounce_minutes, quiet_hours_json, spotify_config_json,
		        last_motion_unix, is_deleted, created_at, updated_at
		 FROM sensors WHERE sensor_id = ?`, sensorID))
	if err != nil {
		return nil, err
	}

	if err := fn(sensor); err != nil {
		return nil, err
	}
	sensor.UpdatedAt = time.Now().UTC()

	quietJSON, err := marshalNullable(sensor.QuietHours)
	if err != nil {
		return nil, err
	}
	spotifyJSON, err := json.Marshal(sensor.SpotifyConfig)
	if err != nil {
		return nil, err
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE sensors SET user_id = ?, location = ?, name = ?, enabled = ?,
		        timeout_minutes = ?, debounce_minutes = ?, quiet_hours_json = ?,
		        spotify_config_json = ?, last_motion_unix = ?, is_deleted = ?,
		        updated_at = ?
		 WHERE sensor_id = ?`,
		sensor.UserID, sensor.Location, sensor.Name, sensor.Enabled,
		sensor.TimeoutMinutes, sensor.MotionDebounceMinutes, quietJSON,
		string(spotifyJSON), timeToUnix(sensor.LastMotionTime), sensor.IsDeleted,
		timeToISO(sensor.UpdatedAt), sensor.SensorID,
	)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return sensor, nil
}

// TouchLastMotion advances last_motion_unix, never moving it backwards.
// Last-writer-wins is acceptable here: the value only feeds the debounce gate
// and must stay monotone.
func (s *SensorStore) TouchLastMotion(ctx context.Context, sensorID string, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE sensors SET last_motion_unix = ?, updated_at = ?
		 WHERE sensor_id = ? AND (last_motion_unix IS NULL OR last_motion_unix <= ?)`,
		at.Unix(), timeToISO(at), sensorID, at.Unix(),
	)
	if err != nil {
		return err
	}
	// Zero rows means either the sensor vanished or a newer motion already
	// landed; both are fine.
	_, _ = res.RowsAffected()
	return nil
}

// Delete hard-deletes a sensor (deregistration only).
func (s *SensorStore) Delete(ctx context.Context, sensorID string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM sensors WHERE sensor_id = ?", sensorID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func scanSensor(scanner interface{ Scan(dest ...any) error }) (*model.Sensor, error) {
	var sensor model.Sensor
	var name, quietJSON, spotifyJSON sql.NullString
	var lastMotion sql.NullInt64
	var createdAt, updatedAt string

	err := scanner.Scan(
		&sensor.SensorID, &sensor.UserID, &sensor.Location, &name,
		&sensor.Enabled, &sensor.TimeoutMinutes, &sensor.MotionDebounceMinutes,
		&quietJSON, &spotifyJSON, &lastMotion, &sensor.IsDeleted,
		&createdAt, &updatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	sensor.Name = name.String
	if quietJSON.Valid && quietJSON.String != "" {
		var qh model.QuietHours
		if err := json.Unmarshal([]byte(quietJSON.String), &qh); err == nil {
			sensor.QuietHours = &qh
		}
	}
	if spotifyJSON.Valid {
		_ = json.Unmarshal([]byte(spotifyJSON.String), &sensor.SpotifyConfig)
	}
	sensor.LastMotionTime = unixToTime(lastMotion)
	sensor.CreatedAt = isoToTime(createdAt)
	sensor.UpdatedAt = isoToTime(updatedAt)
	return &sensor, nil
}

func marshalNullable(v any) (sql.NullString, error) {
	if v == nil {
		return sql.NullString{}, nil
	}
	if qh, ok := v.(*model.QuietHours); ok && qh == nil {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}
