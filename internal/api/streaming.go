// SPDX-License-Identifier: MIT

package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/kesslerm/motionplay/internal/secrets"
	"github.com/kesslerm/motionplay/internal/spotify"
	"github.com/kesslerm/motionplay/internal/store"
)

// callerToken loads the caller's access token. Writes the error response
// itself and returns "" when the caller should stop.
func (s *Server) callerToken(w http.ResponseWriter, r *http.Request) string {
	user, err := s.users.Get(r.Context(), userID(r))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			notFound(w, "user not found")
		} else {
			rlog := s.reqLog(r)
			rlog.Error().Err(err).Msg("user load failed")
			internalError(w)
		}
		return ""
	}
	if !user.SpotifyConnected || user.SpotifyTokenSecretRef == "" {
		badRequest(w, "spotify account not connected")
		return ""
	}

	bundle, err := s.secrets.Get(r.Context(), user.SpotifyTokenSecretRef)
	if err != nil || bundle.AccessToken == "" {
		if err != nil && !errors.Is(err, secrets.ErrNotFound) {
			rlog := s.reqLog(r)
			rlog.Error().Err(err).Msg("secret fetch failed")
			internalError(w)
			return ""
		}
		badRequest(w, "no spotify credentials on file")
		return ""
	}
	return bundle.AccessToken
}

func (s *Server) listDevices(w http.ResponseWriter, r *http.Request) {
	token := s.callerToken(w, r)
	if token == "" {
		return
	}

	devices, err := s.streaming.ListDevices(r.Context(), token)
	if err != nil {
		s.streamingError(w, r, err)
		return
	}
	if devices == nil {
		devices = []spotify.Device{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"devices": devices})
}

// testPlayback starts playback once on a chosen device so users can verify
// their configuration from the dashboard.
func (s *Server) testPlayback(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		DeviceID    string `json:"deviceId"`
		PlaylistURI string `json:"playlistUri"`
		SensorID    string `json:"sensorId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		badRequest(w, "invalid JSON body")
		return
	}

	// A sensorId is a shortcut for that sensor's streaming config.
	shuffle := false
	var volume *int
	if payload.SensorID != "" {
		sensor := s.loadOwnedSensor(w, r, payload.SensorID)
		if sensor == nil {
			return
		}
		if payload.DeviceID == "" {
			payload.DeviceID = sensor.SpotifyConfig.DeviceID
		}
		if payload.PlaylistURI == "" {
			payload.PlaylistURI = sensor.SpotifyConfig.PlaylistURI
		}
		shuffle = sensor.SpotifyConfig.Shuffle
		volume = sensor.SpotifyConfig.VolumePercent
	}
	if payload.DeviceID == "" {
		badRequest(w, "deviceId is required")
		return
	}

	token := s.callerToken(w, r)
	if token == "" {
		return
	}

	err := s.streaming.StartPlayback(r.Context(), token, spotify.StartRequest{
		DeviceID:      payload.DeviceID,
		ContextURI:    payload.PlaylistURI,
		Shuffle:       shuffle,
		VolumePercent: volume,
	})
	if err != nil {
		s.streamingError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "playback_started"})
}

// streamingError maps adapter errors to HTTP statuses without leaking the
// underlying call detail.
func (s *Server) streamingError(w http.ResponseWriter, r *http.Request, err error) {
	rlog := s.reqLog(r)
	rlog.Warn().Err(err).Msg("streaming call failed")
	switch {
	case errors.Is(err, spotify.ErrAuth):
		writeError(w, http.StatusBadGateway, "streaming_auth", "streaming credentials rejected")
	case errors.Is(err, spotify.ErrRateLimited):
		writeError(w, http.StatusServiceUnavailable, "streaming_rate_limited", "streaming service is rate limiting us")
	default:
		writeError(w, http.StatusBadGateway, "streaming_unavailable", "streaming service unavailable")
	}
}
