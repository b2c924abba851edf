// SPDX-License-Identifier: MIT

package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/kesslerm/motionplay/internal/model"
	"github.com/kesslerm/motionplay/internal/store"
)

// userPayload is the writable subset of the caller's own record.
type userPayload struct {
	Email    string `json:"email"`
	Timezone string `json:"timezone"`
	Active   *bool  `json:"active"`
}

func (s *Server) getMe(w http.ResponseWriter, r *http.Request) {
	user, err := s.users.Get(r.Context(), userID(r))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			notFound(w, "user not found")
			return
		}
		rlog := s.reqLog(r)
		rlog.Error().Err(err).Msg("user load failed")
		internalError(w)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (s *Server) updateMe(w http.ResponseWriter, r *http.Request) {
	var payload userPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		badRequest(w, "invalid JSON body")
		return
	}
	if payload.Timezone != "" {
		probe := model.User{Timezone: payload.Timezone}
		if probe.Location().String() != payload.Timezone {
			badRequest(w, "unknown timezone")
			return
		}
	}

	user, err := s.users.Update(r.Context(), userID(r), func(user *model.User) error {
		if payload.Email != "" {
			user.Email = payload.Email
		}
		if payload.Timezone != "" {
			user.Timezone = payload.Timezone
		}
		if payload.Active != nil {
			user.Active = *payload.Active
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			notFound(w, "user not found")
			return
		}
		rlog := s.reqLog(r)
		rlog.Error().Err(err).Msg("user update failed")
		internalError(w)
		return
	}
	writeJSON(w, http.StatusOK, user)
}
