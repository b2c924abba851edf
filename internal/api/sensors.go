// SPDX-License-Identifier: MIT

package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kesslerm/motionplay/internal/model"
	"github.com/kesslerm/motionplay/internal/store"
)

// sensorPayload is the writable subset of a sensor record. The owner and the
// motion bookkeeping fields are never client-settable.
type sensorPayload struct {
	SensorID              string               `json:"sensorId"`
	Location              string               `json:"location"`
	Name                  string               `json:"name"`
	Enabled               *bool                `json:"enabled"`
	TimeoutMinutes        int                  `json:"timeoutMinutes"`
	MotionDebounceMinutes int                  `json:"motionDebounceMinutes"`
	QuietHours            *model.QuietHours    `json:"quietHours"`
	SpotifyConfig         *model.SpotifyConfig `json:"spotifyConfig"`
}

func (s *Server) listSensors(w http.ResponseWriter, r *http.Request) {
	includeDeleted := r.URL.Query().Get("includeDeleted") == "true"
	sensors, err := s.sensors.ListByUser(r.Context(), userID(r), includeDeleted)
	if err != nil {
		rlog := s.reqLog(r)
		rlog.Error().Err(err).Msg("sensor list failed")
		internalError(w)
		return
	}
	if sensors == nil {
		sensors = []*model.Sensor{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"sensors": sensors, "count": len(sensors)})
}

func (s *Server) createSensor(w http.ResponseWriter, r *http.Request) {
	var payload sensorPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		badRequest(w, "invalid JSON body")
		return
	}

	existing, err := s.sensors.Get(r.Context(), payload.SensorID)
	switch {
	case err == nil && !existing.IsDeleted:
		writeError(w, http.StatusConflict, "conflict", "sensor already exists")
		return
	case err == nil && existing.UserID != userID(r):
		forbidden(w)
		return
	case err != nil && !errors.Is(err, store.ErrNotFound):
		rlog := s.reqLog(r)
		rlog.Error().Err(err).Msg("sensor lookup failed")
		internalError(w)
		return
	}

	now := time.Now().UTC()
	sensor := &model.Sensor{
		SensorID:              payload.SensorID,
		UserID:                userID(r),
		Location:              payload.Location,
		Name:                  payload.Name,
		Enabled:               payload.Enabled == nil || *payload.Enabled,
		TimeoutMinutes:        payload.TimeoutMinutes,
		MotionDebounceMinutes: payload.MotionDebounceMinutes,
		QuietHours:            payload.QuietHours,
		CreatedAt:             now,
		UpdatedAt:             now,
	}
	if payload.SpotifyConfig != nil {
		sensor.SpotifyConfig = *payload.SpotifyConfig
	}
	if sensor.TimeoutMinutes == 0 {
		sensor.TimeoutMinutes = s.defaults.TimeoutMinutes
	}
	if sensor.MotionDebounceMinutes == 0 {
		sensor.MotionDebounceMinutes = s.defaults.DebounceMinutes
	}
	sensor.ApplyDefaults()

	if err := sensor.Validate(); err != nil {
		badRequest(w, err.Error())
		return
	}
	if err := s.sensors.Put(r.Context(), sensor); err != nil {
		rlog := s.reqLog(r)
		rlog.Error().Err(err).Msg("sensor create failed")
		internalError(w)
		return
	}
	writeJSON(w, http.StatusCreated, sensor)
}

// loadOwnedSensor fetches a sensor and enforces ownership. Writes the error
// response itself and returns nil when the caller should stop.
func (s *Server) loadOwnedSensor(w http.ResponseWriter, r *http.Request, sensorID string) *model.Sensor {
	sensor, err := s.sensors.Get(r.Context(), sensorID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			notFound(w, "sensor not found")
		} else {
			rlog := s.reqLog(r)
			rlog.Error().Err(err).Msg("sensor load failed")
			internalError(w)
		}
		return nil
	}
	if sensor.UserID != userID(r) {
		forbidden(w)
		return nil
	}
	if sensor.IsDeleted {
		notFound(w, "sensor not found")
		return nil
	}
	return sensor
}

func (s *Server) getSensor(w http.ResponseWriter, r *http.Request) {
	sensor := s.loadOwnedSensor(w, r, chi.URLParam(r, "sensorID"))
	if sensor == nil {
		return
	}
	writeJSON(w, http.StatusOK, sensor)
}

func (s *Server) updateSensor(w http.ResponseWriter, r *http.Request) {
	if s.loadOwnedSensor(w, r, chi.URLParam(r, "sensorID")) == nil {
		return
	}

	var payload sensorPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		badRequest(w, "invalid JSON body")
		return
	}

	updated, err := s.sensors.Update(r.Context(), chi.URLParam(r, "sensorID"), func(sensor *model.Sensor) error {
		if payload.Location != "" {
			sensor.Location = payload.Location
		}
		if payload.Name != "" {
			sensor.Name = payload.Name
		}
		if payload.Enabled != nil {
			sensor.Enabled = *payload.Enabled
		}
		if payload.TimeoutMinutes != 0 {
			sensor.TimeoutMinutes = payload.TimeoutMinutes
		}
		if payload.MotionDebounceMinutes != 0 {
			sensor.MotionDebounceMinutes = payload.MotionDebounceMinutes
		}
		if payload.QuietHours != nil {
			sensor.QuietHours = payload.QuietHours
		}
		if payload.SpotifyConfig != nil {
			sensor.SpotifyConfig = *payload.SpotifyConfig
		}
		return sensor.Validate()
	})
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			notFound(w, "sensor not found")
			return
		}
		// Validation failures surface from the update closure.
		badRequest(w, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (s *Server) deleteSensor(w http.ResponseWriter, r *http.Request) {
	if s.loadOwnedSensor(w, r, chi.URLParam(r, "sensorID")) == nil {
		return
	}

	// Soft delete: the record stays for session history, the dispatcher
	// treats it as missing.
	_, err := s.sensors.Update(r.Context(), chi.URLParam(r, "sensorID"), func(sensor *model.Sensor) error {
		sensor.IsDeleted = true
		sensor.Enabled = false
		return nil
	})
	if err != nil {
		rlog := s.reqLog(r)
		rlog.Error().Err(err).Msg("sensor delete failed")
		internalError(w)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}
