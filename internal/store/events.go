// SPDX-License-Identifier: MIT

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/kesslerm/motionplay/internal/model"
)

// EventStore persists the append-only motion-event audit trail.
type EventStore struct {
	db  *sql.DB
	ttl time.Duration
}

// Events returns the motion-event store bound to s.
func (s *Store) Events(ttlDays int) *EventStore {
	if ttlDays <= 0 {
		ttlDays = model.DefaultSessionTTLDays
	}
	return &EventStore{db: s.DB, ttl: time.Duration(ttlDays) * 24 * time.Hour}
}

// Append writes one audit record. The record is never mutated afterwards.
func (s *EventStore) Append(ctx context.Context, ev *model.MotionEvent) error {
	if ev.EventID == "" {
		ev.EventID = model.NewEventID()
	}
	if ev.TTL == 0 {
		ev.TTL = ev.Timestamp.Add(s.ttl).Unix()
	}

	var metadataJSON sql.NullString
	if len(ev.Metadata) > 0 {
		data, err := json.Marshal(ev.Metadata)
		if err == nil {
			metadataJSON = sql.NullString{String: string(data), Valid: true}
		}
	}

	_, err := s.db.ExecContext(ctx, `
	INSERT INTO motion_events (
		event_id, sensor_id, user_id, session_id, event_type, timestamp_unix,
		action_taken, playback_triggered, error_cause, battery_level,
		signal_strength, firmware_version, metadata_json, ttl_unix
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.EventID, ev.SensorID, ev.UserID, ev.SessionID, ev.EventType,
		ev.Timestamp.Unix(), ev.ActionTaken, ev.PlaybackTriggered,
		ev.ErrorCause, ev.BatteryLevel, ev.SignalStrength, ev.FirmwareVersion,
		metadataJSON, ev.TTL,
	)
	return err
}

// ListBySensor returns the newest events for a sensor, newest first.
func (s *EventStore) ListBySensor(ctx context.Context, sensorID string, limit int) ([]*model.MotionEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT event_id, sensor_id, user_id, session_id, event_type,
		        timestamp_unix, action_taken, playback_triggered, error_cause,
		        battery_level, signal_strength, firmware_version, metadata_json,
		        ttl_unix
		 FROM motion_events WHERE sensor_id = ?
		 ORDER BY timestamp_unix DESC LIMIT ?`, sensorID, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var events []*model.MotionEvent
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

// CountBySession returns how many audit records reference a session.
func (s *EventStore) CountBySession(ctx context.Context, sessionID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM motion_events WHERE session_id = ?`, sessionID).Scan(&n)
	return n, err
}

func scanEvent(scanner interface{ Scan(dest ...any) error }) (*model.MotionEvent, error) {
	var ev model.MotionEvent
	var userID, sessionID, errorCause, firmware, metadataJSON sql.NullString
	var battery, signal sql.NullFloat64
	var timestampUnix int64

	err := scanner.Scan(
		&ev.EventID, &ev.SensorID, &userID, &sessionID, &ev.EventType,
		&timestampUnix, &ev.ActionTaken, &ev.PlaybackTriggered, &errorCause,
		&battery, &signal, &firmware, &metadataJSON, &ev.TTL,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	ev.UserID = userID.String
	ev.SessionID = sessionID.String
	ev.ErrorCause = errorCause.String
	ev.FirmwareVersion = firmware.String
	ev.Timestamp = time.Unix(timestampUnix, 0).UTC()
	if battery.Valid {
		ev.BatteryLevel = &battery.Float64
	}
	if signal.Valid {
		ev.SignalStrength = &signal.Float64
	}
	if metadataJSON.Valid {
		_ = json.Unmarshal([]byte(metadataJSON.String), &ev.Metadata)
	}
	return &ev, nil
}
