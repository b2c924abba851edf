// SPDX-License-Identifier: MIT

// Package sweeper closes sessions whose sensor has gone quiet and pauses the
// playback they started.
package sweeper

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/kesslerm/motionplay/internal/clock"
	logpkg "github.com/kesslerm/motionplay/internal/log"
	"github.com/kesslerm/motionplay/internal/metrics"
	"github.com/kesslerm/motionplay/internal/model"
	"github.com/kesslerm/motionplay/internal/secrets"
	"github.com/kesslerm/motionplay/internal/spotify"
	"github.com/kesslerm/motionplay/internal/store"
)

// Streaming is the slice of the streaming adapter the sweeper needs.
type Streaming interface {
	GetPlaybackState(ctx context.Context, accessToken string) (*spotify.PlaybackState, error)
	PausePlayback(ctx context.Context, accessToken, deviceID string) error
}

// Config defines sweep cadence and parallelism.
type Config struct {
	Interval    time.Duration
	Parallelism int
}

// Summary reports one sweep pass.
type Summary struct {
	Checked   int
	TimedOut  int
	Paused    int
	Completed int
	Errors    []string
}

// Sweeper scans active sessions on a fixed schedule. Safe to run a pass
// concurrently with the dispatcher: completion is conditional on the session
// still being active.
type Sweeper struct {
	sensors   *store.SensorStore
	users     *store.UserStore
	sessions  *store.SessionStore
	secrets   secrets.Store
	streaming Streaming
	clock     clock.Clock
	conf      Config
	log       zerolog.Logger
}

// New builds a Sweeper.
func New(
	sensors *store.SensorStore,
	users *store.UserStore,
	sessions *store.SessionStore,
	secretStore secrets.Store,
	streaming Streaming,
	clk clock.Clock,
	conf Config,
) *Sweeper {
	if clk == nil {
		clk = clock.System{}
	}
	if conf.Interval <= 0 {
		conf.Interval = time.Minute
	}
	if conf.Parallelism <= 0 {
		conf.Parallelism = 4
	}
	return &Sweeper{
		sensors:   sensors,
		users:     users,
		sessions:  sessions,
		secrets:   secretStore,
		streaming: streaming,
		clock:     clk,
		conf:      conf,
		log:       logpkg.WithComponent("sweeper"),
	}
}

// Run sweeps on a ticker until the context is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.conf.Interval)
	defer ticker.Stop()

	s.log.Info().Dur("interval", s.conf.Interval).Msg("timeout sweeper started")

	for {
		select {
		case <-ctx.Done():
			s.log.Info().Msg("timeout sweeper stopped")
			return
		case <-ticker.C:
			if _, err := s.SweepOnce(ctx); err != nil {
				s.log.Warn().Err(err).Msg("sweep pass failed")
			}
		}
	}
}

// SweepOnce performs exactly one pass. Deterministic and suitable for unit
// testing; each session is processed independently and one failure never
// blocks the rest.
func (s *Sweeper) SweepOnce(ctx context.Context) (*Summary, error) {
	now := s.clock.Now()

	var active []*model.Session
	err := s.sessions.ScanActive(ctx, func(session *model.Session) error {
		active = append(active, session)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("sweep: scan active: %w", err)
	}

	summary := &Summary{Checked: len(active)}
	metrics.RecordSweep(len(active))

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.conf.Parallelism)

	for _, session := range active {
		session := session
		g.Go(func() error {
			timedOut, paused, completed, err := s.sweepSession(gctx, session, now)
			mu.Lock()
			defer mu.Unlock()
			if timedOut {
				summary.TimedOut++
				metrics.IncSweepSession("timed_out")
			}
			if paused {
				summary.Paused++
				metrics.IncSweepSession("paused")
			}
			if completed {
				summary.Completed++
				metrics.IncSweepSession("completed")
			}
			if err != nil {
				summary.Errors = append(summary.Errors,
					fmt.Sprintf("%s: %v", session.SessionID, err))
				metrics.IncSweepSession("error")
			}
			return nil
		})
	}
	_ = g.Wait()

	if purged, err := s.sessions.PurgeExpired(ctx, now); err != nil {
		s.log.Warn().Err(err).Msg("ttl purge failed")
	} else if purged > 0 {
		s.log.Debug().Int64("purged", purged).Msg("expired records purged")
	}

	s.log.Info().
		Int("checked", summary.Checked).
		Int("timed_out", summary.TimedOut).
		Int("paused", summary.Paused).
		Int("completed", summary.Completed).
		Int("errors", len(summary.Errors)).
		Msg("sweep pass finished")
	return summary, nil
}

// sweepSession handles one active session. Returns whether it timed out,
// whether playback was paused, and whether it was completed.
func (s *Sweeper) sweepSession(ctx context.Context, session *model.Session, now time.Time) (timedOut, paused, completed bool, err error) {
	log := s.log.With().
		Str("session_id", session.SessionID).
		Str("sensor_id", session.SensorID).
		Logger()

	sensor, err := s.sensors.Get(ctx, session.SensorID)
	if err != nil || sensor.IsDeleted {
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return false, false, false, fmt.Errorf("load sensor: %w", err)
		}
		// Orphaned session: its sensor is gone. Close it without touching
		// the player.
		log.Warn().Msg("orphaned session, completing")
		if _, err := s.sessions.Complete(ctx, session.SessionID, now, false); err != nil {
			return true, false, false, fmt.Errorf("complete orphan: %w", err)
		}
		return true, false, true, nil
	}

	last := session.LastMotionTime
	if last.IsZero() {
		last = session.StartTime
	}
	if now.Sub(last) < sensor.Timeout() {
		return false, false, false, nil
	}
	timedOut = true

	playbackStopped, pauseErr := s.pauseIfPlaying(ctx, sensor, session, log)

	if _, err := s.sessions.Complete(ctx, session.SessionID, now, playbackStopped); err != nil {
		return timedOut, playbackStopped, false, fmt.Errorf("complete: %w", err)
	}
	log.Info().
		Bool("playback_stopped", playbackStopped).
		Msg("session timed out")
	return timedOut, playbackStopped, true, pauseErr
}

// pauseIfPlaying pauses the player only when it is actually playing on this
// sensor's device. Any failure is reported but never prevents completion.
func (s *Sweeper) pauseIfPlaying(ctx context.Context, sensor *model.Sensor, session *model.Session, log zerolog.Logger) (bool, error) {
	user, err := s.users.Get(ctx, session.UserID)
	if err != nil {
		return false, fmt.Errorf("load user: %w", err)
	}
	if user.SpotifyTokenSecretRef == "" {
		return false, nil
	}

	bundle, err := s.secrets.Get(ctx, user.SpotifyTokenSecretRef)
	if err != nil {
		if errors.Is(err, secrets.ErrNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("fetch secret: %w", err)
	}
	if bundle.AccessToken == "" {
		return false, nil
	}

	state, err := s.streaming.GetPlaybackState(ctx, bundle.AccessToken)
	if err != nil {
		metrics.IncStreamingCall("get_playback_state", "error")
		return false, fmt.Errorf("playback state: %w", err)
	}
	metrics.IncStreamingCall("get_playback_state", "success")

	if state == nil || !state.IsPlaying {
		return false, nil
	}
	if sensor.SpotifyConfig.DeviceID != "" && state.DeviceID != sensor.SpotifyConfig.DeviceID {
		// Playing somewhere else; leave it alone.
		log.Debug().Str("device_id", state.DeviceID).Msg("playback on another device, not pausing")
		return false, nil
	}

	if err := s.streaming.PausePlayback(ctx, bundle.AccessToken, sensor.SpotifyConfig.DeviceID); err != nil {
		metrics.IncStreamingCall("pause_playback", "error")
		return false, fmt.Errorf("pause: %w", err)
	}
	metrics.IncStreamingCall("pause_playback", "success")
	return true, nil
}
