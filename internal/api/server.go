// SPDX-License-Identifier: MIT

// Package api exposes the REST surface consumed by the dashboard: sensor and
// user CRUD, session queries, analytics and streaming helpers.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	logpkg "github.com/kesslerm/motionplay/internal/log"
	"github.com/kesslerm/motionplay/internal/secrets"
	"github.com/kesslerm/motionplay/internal/spotify"
	"github.com/kesslerm/motionplay/internal/store"
)

// Streaming is the slice of the streaming adapter the REST surface needs.
type Streaming interface {
	ListDevices(ctx context.Context, accessToken string) ([]spotify.Device, error)
	StartPlayback(ctx context.Context, accessToken string, req spotify.StartRequest) error
}

// Defaults are applied to sensors created without explicit values.
type Defaults struct {
	TimeoutMinutes  int
	DebounceMinutes int
}

// Server carries the handler dependencies.
type Server struct {
	sensors   *store.SensorStore
	users     *store.UserStore
	sessions  *store.SessionStore
	secrets   secrets.Store
	streaming Streaming
	defaults  Defaults
	log       zerolog.Logger
}

// New builds a Server.
func New(
	sensors *store.SensorStore,
	users *store.UserStore,
	sessions *store.SessionStore,
	secretStore secrets.Store,
	streaming Streaming,
	defaults Defaults,
) *Server {
	return &Server{
		sensors:   sensors,
		users:     users,
		sessions:  sessions,
		secrets:   secretStore,
		streaming: streaming,
		defaults:  defaults,
		log:       logpkg.WithComponent("api"),
	}
}

// Router assembles the full HTTP surface. tokens maps bearer tokens to the
// user they act as.
func (s *Server) Router(tokens map[string]string) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.logRequests)
	r.Use(middleware.Recoverer)
	r.Use(httprate.LimitByIP(120, time.Minute))
	r.Use(corsHeaders)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		r.Use(requireAuth(tokens))

		r.Route("/sensors", func(r chi.Router) {
			r.Get("/", s.listSensors)
			r.Post("/", s.createSensor)
			r.Route("/{sensorID}", func(r chi.Router) {
				r.Get("/", s.getSensor)
				r.Put("/", s.updateSensor)
				r.Delete("/", s.deleteSensor)
			})
		})

		r.Route("/users/me", func(r chi.Router) {
			r.Get("/", s.getMe)
			r.Put("/", s.updateMe)
		})

		r.Get("/spotify/devices", s.listDevices)
		r.Post("/spotify/test", s.testPlayback)

		r.Get("/sessions", s.listSessions)
		r.Get("/analytics", s.analytics)
	})

	return r
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ctx := logpkg.ContextWithRequestID(r.Context(), middleware.GetReqID(r.Context()))
		r = r.WithContext(ctx)
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		rlog := logpkg.WithContext(ctx, s.log)
		rlog.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("duration", time.Since(start)).
			Msg("http request")
	})
}

// reqLog returns the server logger enriched with the request's correlation
// fields.
func (s *Server) reqLog(r *http.Request) zerolog.Logger {
	return logpkg.WithContext(r.Context(), s.log)
}

func corsHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
