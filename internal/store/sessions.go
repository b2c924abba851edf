// SPDX-License-Identifier: MIT

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/kesslerm/motionplay/internal/model"
)

// SessionStore is the session registry. It owns the one-active-session-per-
// sensor invariant: creation races are resolved by the partial unique index
// on (sensor_id) WHERE status='active'.
type SessionStore struct {
	db  *sql.DB
	ttl time.Duration
}

// Sessions returns the session registry bound to s. ttlDays controls the
// store-side expiry stamp on new sessions.
func (s *Store) Sessions(ttlDays int) *SessionStore {
	if ttlDays <= 0 {
		ttlDays = model.DefaultSessionTTLDays
	}
	return &SessionStore{db: s.DB, ttl: time.Duration(ttlDays) * 24 * time.Hour}
}

const sessionColumns = `session_id, sensor_id, user_id, status, start_unix,
	last_motion_unix, motion_events_count, playback_started, playback_stopped,
	end_unix, duration_minutes, ttl_unix, updated_at`

// OpenOrExtendResult reports the outcome of OpenOrExtend.
type OpenOrExtendResult struct {
	SessionID string
	Created   bool
}

// OpenOrExtend extends the sensor's active session, or creates a fresh one if
// none exists. Atomic with respect to concurrent OpenOrExtend/Complete calls
// for the same sensor: the conditional insert loses to at most one winner,
// and the loser retries the extend path. Persistent conflict yields ErrBusy.
func (s *SessionStore) OpenOrExtend(ctx context.Context, sensorID, userID string, now time.Time) (OpenOrExtendResult, error) {
	const maxAttempts = 3

	for attempt := 0; attempt < maxAttempts; attempt++ {
		extended, sessionID, err := s.tryExtend(ctx, sensorID, now)
		if err != nil {
			return OpenOrExtendResult{}, err
		}
		if extended {
			return OpenOrExtendResult{SessionID: sessionID, Created: false}, nil
		}

		session := &model.Session{
			SessionID:         model.NewSessionID(sensorID, now),
			SensorID:          sensorID,
			UserID:            userID,
			Status:            model.SessionActive,
			StartTime:         now,
			LastMotionTime:    now,
			MotionEventsCount: 1,
			TTL:               now.Add(s.ttl).Unix(),
			UpdatedAt:         now,
		}

		_, err = s.db.ExecContext(ctx, `
		INSERT INTO sessions (`+sessionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			session.SessionID, session.SensorID, session.UserID, session.Status,
			session.StartTime.Unix(), session.LastMotionTime.Unix(),
			session.MotionEventsCount, session.PlaybackStarted,
			session.PlaybackStopped, sql.NullInt64{}, sql.NullFloat64{},
			session.TTL, timeToISO(session.UpdatedAt),
		)
		if err == nil {
			return OpenOrExtendResult{SessionID: session.SessionID, Created: true}, nil
		}
		if !isUniqueViolation(err) {
			return OpenOrExtendResult{}, fmt.Errorf("create session for %s: %w", sensorID, err)
		}
		// Another writer created the active session between our lookup and
		// insert; loop back to the extend path.
	}
	return OpenOrExtendResult{}, ErrBusy
}

func (s *SessionStore) tryExtend(ctx context.Context, sensorID string, now time.Time) (bool, string, error) {
	var sessionID string
	err := s.db.QueryRowContext(ctx,
		`SELECT session_id FROM sessions WHERE sensor_id = ? AND status = ?`,
		sensorID, model.SessionActive).Scan(&sessionID)
	if errors.Is(err, sql.ErrNoRows) {
		return false, "", nil
	}
	if err != nil {
		return false, "", err
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET motion_events_count = motion_events_count + 1,
		        last_motion_unix = ?, updated_at = ?
		 WHERE session_id = ? AND status = ?`,
		now.Unix(), timeToISO(now), sessionID, model.SessionActive)
	if err != nil {
		return false, "", err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, "", err
	}
	if n == 0 {
		// Completed between lookup and update; caller creates a fresh one.
		return false, "", nil
	}
	return true, sessionID, nil
}

// MarkPlaybackStarted flags the session as having started playback.
// Idempotent.
func (s *SessionStore) MarkPlaybackStarted(ctx context.Context, sessionID string, now time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET playback_started = 1, updated_at = ?
		 WHERE session_id = ?`,
		timeToISO(now.UTC()), sessionID)
	return err
}

// Complete transitions an active session to completed, stamping endTime,
// durationMinutes and whether playback was paused on the way out. Completing
// an already-completed session is a no-op; the existing record is returned.
// The transition is conditional on status='active', so a racing extend never
// resurrects a completed session.
func (s *SessionStore) Complete(ctx context.Context, sessionID string, endTime time.Time, playbackStopped bool) (*model.Session, error) {
	current, err := s.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if current.Status == model.SessionCompleted {
		return current, nil
	}

	duration := model.DurationMinutesBetween(current.StartTime, endTime)
	res, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET status = ?, end_unix = ?, duration_minutes = ?,
		        playback_stopped = ?, updated_at = ?
		 WHERE session_id = ? AND status = ?`,
		model.SessionCompleted, endTime.Unix(), duration, playbackStopped,
		timeToISO(endTime), sessionID, model.SessionActive)
	if err != nil {
		return nil, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		// Lost the race to another completer; return whatever won.
		return s.Get(ctx, sessionID)
	}
	return s.Get(ctx, sessionID)
}

// Get loads a session by ID. Returns ErrNotFound when absent.
func (s *SessionStore) Get(ctx context.Context, sessionID string) (*model.Session, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE session_id = ?`, sessionID)
	return scanSession(row)
}

// ActiveBySensor returns the sensor's active session, or ErrNotFound.
func (s *SessionStore) ActiveBySensor(ctx context.Context, sensorID string) (*model.Session, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE sensor_id = ? AND status = ?`,
		sensorID, model.SessionActive)
	return scanSession(row)
}

// ScanActive streams every active session to fn. The scan is finite and not
// restartable; it is consumed only by the timeout sweeper.
func (s *SessionStore) ScanActive(ctx context.Context, fn func(*model.Session) error) error {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE status = ?`, model.SessionActive)
	if err != nil {
		return err
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return err
		}
		if err := fn(session); err != nil {
			return err
		}
	}
	return rows.Err()
}

// SessionQuery filters QueryBySensor.
type SessionQuery struct {
	SensorID   string
	StartEpoch int64 // inclusive; 0 means unbounded
	EndEpoch   int64 // inclusive; 0 means unbounded
	Status     model.SessionStatus
	Limit      int
	PageToken  string
}

// QueryBySensor returns sessions for a sensor descending by startTime, with
// cursor pagination. The returned token is empty when the page is the last.
func (s *SessionStore) QueryBySensor(ctx context.Context, q SessionQuery) ([]*model.Session, string, error) {
	if q.Limit <= 0 {
		q.Limit = 20
	}

	query := `SELECT ` + sessionColumns + ` FROM sessions WHERE sensor_id = ?`
	args := []any{q.SensorID}

	if q.StartEpoch > 0 {
		query += " AND start_unix >= ?"
		args = append(args, q.StartEpoch)
	}
	if q.EndEpoch > 0 {
		query += " AND start_unix <= ?"
		args = append(args, q.EndEpoch)
	}
	if q.Status != "" {
		query += " AND status = ?"
		args = append(args, q.Status)
	}
	if q.PageToken != "" {
		cursorStart, cursorID, err := decodePageToken(q.PageToken)
		if err != nil {
			return nil, "", err
		}
		query += " AND (start_unix < ? OR (start_unix = ? AND session_id < ?))"
		args = append(args, cursorStart, cursorStart, cursorID)
	}
	query += " ORDER BY start_unix DESC, session_id DESC LIMIT ?"
	args = append(args, q.Limit+1)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, "", err
	}
	defer func() { _ = rows.Close() }()

	var sessions []*model.Session
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, "", err
		}
		sessions = append(sessions, session)
	}
	if err := rows.Err(); err != nil {
		return nil, "", err
	}

	nextToken := ""
	if len(sessions) > q.Limit {
		sessions = sessions[:q.Limit]
		last := sessions[len(sessions)-1]
		nextToken = encodePageToken(last.StartTime.Unix(), last.SessionID)
	}
	return sessions, nextToken, nil
}

// PurgeExpired deletes sessions and motion events whose ttl has passed.
func (s *SessionStore) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	var total int64
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM sessions WHERE ttl_unix < ? AND status = ?`,
		now.Unix(), model.SessionCompleted)
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	total += n

	res, err = s.db.ExecContext(ctx,
		`DELETE FROM motion_events WHERE ttl_unix < ?`, now.Unix())
	if err != nil {
		return total, err
	}
	n, _ = res.RowsAffected()
	return total + n, nil
}

func scanSession(scanner interface{ Scan(dest ...any) error }) (*model.Session, error) {
	var session model.Session
	var startUnix, lastMotionUnix int64
	var endUnix sql.NullInt64
	var duration sql.NullFloat64
	var updatedAt string

	err := scanner.Scan(
		&session.SessionID, &session.SensorID, &session.UserID, &session.Status,
		&startUnix, &lastMotionUnix, &session.MotionEventsCount,
		&session.PlaybackStarted, &session.PlaybackStopped, &endUnix, &duration,
		&session.TTL, &updatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	session.StartTime = time.Unix(startUnix, 0).UTC()
	session.LastMotionTime = time.Unix(lastMotionUnix, 0).UTC()
	session.EndTime = unixToTime(endUnix)
	if duration.Valid {
		session.DurationMinutes = duration.Float64
	}
	session.UpdatedAt = isoToTime(updatedAt)
	return &session, nil
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func encodePageToken(startUnix int64, sessionID string) string {
	return strconv.FormatInt(startUnix, 10) + ":" + sessionID
}

func decodePageToken(token string) (int64, string, error) {
	epoch, id, found := strings.Cut(token, ":")
	if !found {
		return 0, "", fmt.Errorf("invalid page token %q", token)
	}
	startUnix, err := strconv.ParseInt(epoch, 10, 64)
	if err != nil {
		return 0, "", fmt.Errorf("invalid page token %q", token)
	}
	return startUnix, id, nil
}
