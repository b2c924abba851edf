// SPDX-License-Identifier: MIT

package store

import (
	"context"
	"math"

	"github.com/kesslerm/motionplay/internal/model"
)

// AnalyticsFilter selects which sessions feed an analytics aggregation.
// Exactly one of SensorID/UserID is usually set; both empty aggregates
// everything in range.
type AnalyticsFilter struct {
	SensorID   string
	UserID     string
	StartEpoch int64 // inclusive; 0 means unbounded
	EndEpoch   int64 // inclusive; 0 means unbounded
}

// Analytics is the aggregate view over a session population. Averages are
// computed over completed sessions with a recorded duration; with zero such
// sessions the averages are 0.
type Analytics struct {
	TotalSessions                int     `json:"totalSessions"`
	ActiveSessions               int     `json:"activeSessions"`
	CompletedSessions            int     `json:"completedSessions"`
	TotalMotionEvents            int     `json:"totalMotionEvents"`
	TotalDurationMinutes         float64 `json:"totalDurationMinutes"`
	AverageDurationMinutes       float64 `json:"averageDurationMinutes"`
	AverageMotionEventsPerSession float64 `json:"averageMotionEventsPerSession"`
	PeakHour                     *int    `json:"peakHour,omitempty"`
	SessionsWithPlayback         int     `json:"sessionsWithPlayback"`
}

// SensorBreakdown is the per-sensor slice of an analytics aggregation.
type SensorBreakdown struct {
	SensorID             string  `json:"sensorId"`
	TotalSessions        int     `json:"totalSessions"`
	CompletedSessions    int     `json:"completedSessions"`
	TotalDurationMinutes float64 `json:"totalDurationMinutes"`
	TotalMotionEvents    int     `json:"totalMotionEvents"`
}

// Analytics aggregates sessions matching the filter.
func (s *SessionStore) Analytics(ctx context.Context, f AnalyticsFilter) (*Analytics, []SensorBreakdown, error) {
	query := `SELECT sensor_id, status, start_unix, motion_events_count,
	                 playback_started, duration_minutes
	          FROM sessions WHERE 1=1`
	args := []any{}

	if f.SensorID != "" {
		query += " AND sensor_id = ?"
		args = append(args, f.SensorID)
	}
	if f.UserID != "" {
		query += " AND user_id = ?"
		args = append(args, f.UserID)
	}
	if f.StartEpoch > 0 {
		query += " AND start_unix >= ?"
		args = append(args, f.StartEpoch)
	}
	if f.EndEpoch > 0 {
		query += " AND start_unix <= ?"
		args = append(args, f.EndEpoch)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, nil, err
	}
	defer func() { _ = rows.Close() }()

	var out Analytics
	var durationCount int
	hourCounts := make(map[int]int)
	bySensor := make(map[string]*SensorBreakdown)
	var sensorOrder []string

	for rows.Next() {
		var sensorID string
		var status model.SessionStatus
		var startUnix int64
		var motionEvents int
		var playbackStarted bool
		var duration *float64

		if err := rows.Scan(&sensorID, &status, &startUnix, &motionEvents, &playbackStarted, &duration); err != nil {
			return nil, nil, err
		}

		out.TotalSessions++
		out.TotalMotionEvents += motionEvents
		if playbackStarted {
			out.SessionsWithPlayback++
		}

		bd, ok := bySensor[sensorID]
		if !ok {
			bd = &SensorBreakdown{SensorID: sensorID}
			bySensor[sensorID] = bd
			sensorOrder = append(sensorOrder, sensorID)
		}
		bd.TotalSessions++
		bd.TotalMotionEvents += motionEvents

		hour := (startUnix % 86400) / 3600
		hourCounts[int(hour)]++

		switch status {
		case model.SessionActive:
			out.ActiveSessions++
		case model.SessionCompleted:
			out.CompletedSessions++
			bd.CompletedSessions++
			if duration != nil {
				out.TotalDurationMinutes += *duration
				bd.TotalDurationMinutes += *duration
				durationCount++
			}
		}
	}
	if err := rows.Err(); err != nil {
		return nil, nil, err
	}

	if durationCount > 0 {
		out.AverageDurationMinutes = round2(out.TotalDurationMinutes / float64(durationCount))
	}
	if out.TotalSessions > 0 {
		out.AverageMotionEventsPerSession = round2(float64(out.TotalMotionEvents) / float64(out.TotalSessions))
	}

	if len(hourCounts) > 0 {
		peak, best := 0, -1
		for h := 0; h < 24; h++ {
			if hourCounts[h] > best {
				peak, best = h, hourCounts[h]
			}
		}
		out.PeakHour = &peak
	}

	breakdown := make([]SensorBreakdown, 0, len(sensorOrder))
	for _, id := range sensorOrder {
		breakdown = append(breakdown, *bySensor[id])
	}
	return &out, breakdown, nil
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
