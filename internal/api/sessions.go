// SPDX-License-Identifier: MIT

package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/kesslerm/motionplay/internal/model"
	"github.com/kesslerm/motionplay/internal/store"
)

const (
	defaultPageLimit = 20
	maxPageLimit     = 100
)

// parseEpoch accepts epoch seconds or RFC 3339 and returns epoch seconds.
func parseEpoch(raw string) (int64, bool) {
	if raw == "" {
		return 0, true
	}
	if epoch, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return epoch, true
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t.Unix(), true
	}
	// Bare dates are common from the dashboard's date picker.
	if t, err := time.Parse("2006-01-02", raw); err == nil {
		return t.Unix(), true
	}
	return 0, false
}

func parseLimit(raw string) int {
	limit := defaultPageLimit
	if raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > maxPageLimit {
		limit = maxPageLimit
	}
	return limit
}

func (s *Server) listSessions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	sensorID := q.Get("sensorId")
	if sensorID == "" {
		badRequest(w, "sensorId is required")
		return
	}
	if s.loadOwnedSensor(w, r, sensorID) == nil {
		return
	}

	startEpoch, ok := parseEpoch(q.Get("startDate"))
	if !ok {
		badRequest(w, "invalid startDate")
		return
	}
	endEpoch, ok := parseEpoch(q.Get("endDate"))
	if !ok {
		badRequest(w, "invalid endDate")
		return
	}

	sessions, nextToken, err := s.sessions.QueryBySensor(r.Context(), store.SessionQuery{
		SensorID:   sensorID,
		StartEpoch: startEpoch,
		EndEpoch:   endEpoch,
		Status:     model.SessionStatus(q.Get("status")),
		Limit:      parseLimit(q.Get("limit")),
		PageToken:  q.Get("lastKey"),
	})
	if err != nil {
		rlog := s.reqLog(r)
		rlog.Error().Err(err).Msg("session query failed")
		internalError(w)
		return
	}
	if sessions == nil {
		sessions = []*model.Session{}
	}

	body := map[string]any{"sessions": sessions, "count": len(sessions)}
	if nextToken != "" {
		body["nextToken"] = nextToken
	}
	writeJSON(w, http.StatusOK, body)
}

func (s *Server) analytics(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	startEpoch, ok := parseEpoch(q.Get("startDate"))
	if !ok {
		badRequest(w, "invalid startDate")
		return
	}
	endEpoch, ok := parseEpoch(q.Get("endDate"))
	if !ok {
		badRequest(w, "invalid endDate")
		return
	}

	filter := store.AnalyticsFilter{StartEpoch: startEpoch, EndEpoch: endEpoch}
	if sensorID := q.Get("sensorId"); sensorID != "" {
		if s.loadOwnedSensor(w, r, sensorID) == nil {
			return
		}
		filter.SensorID = sensorID
	} else {
		filter.UserID = userID(r)
	}

	summary, bySensor, err := s.sessions.Analytics(r.Context(), filter)
	if err != nil {
		rlog := s.reqLog(r)
		rlog.Error().Err(err).Msg("analytics query failed")
		internalError(w)
		return
	}
	if bySensor == nil {
		bySensor = []store.SensorBreakdown{}
	}

	body := map[string]any{"summary": summary, "bySensor": bySensor}
	if startEpoch > 0 || endEpoch > 0 {
		body["dateRange"] = map[string]int64{"start": startEpoch, "end": endEpoch}
	}
	writeJSON(w, http.StatusOK, body)
}
