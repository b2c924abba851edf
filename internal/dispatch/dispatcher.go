// SPDX-License-Identifier: MIT

// Package dispatch turns one motion event at a time into playback decisions.
// The pipeline is a fixed sequence of gates; every invocation terminates in
// exactly one audit record.
package dispatch

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/kesslerm/motionplay/internal/clock"
	logpkg "github.com/kesslerm/motionplay/internal/log"
	"github.com/kesslerm/motionplay/internal/metrics"
	"github.com/kesslerm/motionplay/internal/model"
	"github.com/kesslerm/motionplay/internal/secrets"
	"github.com/kesslerm/motionplay/internal/spotify"
	"github.com/kesslerm/motionplay/internal/store"
)

// Error causes recorded on audit records with actionTaken=error.
const (
	CauseSensorNotFound       = "SensorNotFound"
	CauseUserNotFound         = "UserNotFound"
	CauseNoSpotifyCredentials = "NoSpotifyCredentials"
	CauseNoDeviceConfigured   = "NoDeviceConfigured"
	CauseSessionConflict      = "SessionConflict"
	CauseStoreError           = "StoreError"
	CauseAuthError            = "AuthError"
	CauseRateLimited          = "RateLimited"
	CauseUpstreamError        = "UpstreamError"
	CauseTransport            = "Transport"
)

// defaultEventBudget bounds one dispatcher invocation end to end.
const defaultEventBudget = 15 * time.Second

// Streaming is the slice of the streaming adapter the dispatcher needs.
type Streaming interface {
	GetPlaybackState(ctx context.Context, accessToken string) (*spotify.PlaybackState, error)
	StartPlayback(ctx context.Context, accessToken string, req spotify.StartRequest) error
}

// Outcome is the terminal result of one invocation.
type Outcome struct {
	Action     model.ActionTaken
	ErrorCause string
	SessionID  string
	Created    bool
}

// Dispatcher wires the gate pipeline to its collaborators.
type Dispatcher struct {
	sensors   *store.SensorStore
	users     *store.UserStore
	sessions  *store.SessionStore
	events    *store.EventStore
	secrets   secrets.Store
	streaming Streaming
	clock     clock.Clock
	budget    time.Duration
	log       zerolog.Logger
}

// New builds a Dispatcher.
func New(
	sensors *store.SensorStore,
	users *store.UserStore,
	sessions *store.SessionStore,
	events *store.EventStore,
	secretStore secrets.Store,
	streaming Streaming,
	clk clock.Clock,
) *Dispatcher {
	if clk == nil {
		clk = clock.System{}
	}
	return &Dispatcher{
		sensors:   sensors,
		users:     users,
		sessions:  sessions,
		events:    events,
		secrets:   secretStore,
		streaming: streaming,
		clock:     clk,
		budget:    defaultEventBudget,
		log:       logpkg.WithComponent("dispatch"),
	}
}

// Dispatch decodes and processes one wire message. Messages without a usable
// sensorId are dropped with an error; everything else terminates in an audit
// record and never propagates a failure to the transport.
func (d *Dispatcher) Dispatch(ctx context.Context, raw []byte) (*Outcome, error) {
	env, err := ParseEnvelope(raw, d.clock.Now())
	if err != nil {
		return nil, err
	}
	return d.Handle(ctx, env), nil
}

// Handle runs the gate pipeline for one parsed envelope.
func (d *Dispatcher) Handle(ctx context.Context, env *Envelope) *Outcome {
	ctx, cancel := context.WithTimeout(ctx, d.budget)
	defer cancel()

	started := time.Now()
	defer func() {
		metrics.ObserveDispatchDuration(time.Since(started).Seconds())
	}()

	ctx = logpkg.ContextWithSensorID(ctx, env.SensorID)

	now := env.Timestamp
	log := logpkg.WithContext(ctx, d.log).With().
		Time("event_time", now).
		Logger()

	rec := &model.MotionEvent{
		SensorID:        env.SensorID,
		EventType:       env.EventType,
		Timestamp:       now,
		BatteryLevel:    env.BatteryLevel,
		SignalStrength:  env.SignalStrength,
		FirmwareVersion: env.FirmwareVersion,
		Metadata:        env.Metadata,
	}

	outcome := d.run(ctx, env, rec, now, log)

	rec.ActionTaken = outcome.Action
	rec.ErrorCause = outcome.ErrorCause
	rec.SessionID = outcome.SessionID
	rec.PlaybackTriggered = outcome.Action == model.ActionPlaybackStarted ||
		outcome.Action == model.ActionPlaybackResumed

	if err := d.events.Append(ctx, rec); err != nil {
		log.Error().Err(err).Msg("audit append failed")
	}
	metrics.IncMotionEvent(string(outcome.Action))

	log.Info().
		Str("action", string(outcome.Action)).
		Str("session_id", outcome.SessionID).
		Str("error_cause", outcome.ErrorCause).
		Msg("motion event processed")
	return outcome
}

// run evaluates the gates in order and returns the terminal outcome. The
// caller appends the single audit record.
func (d *Dispatcher) run(ctx context.Context, env *Envelope, rec *model.MotionEvent, now time.Time, log zerolog.Logger) *Outcome {
	// Gate 2: sensor.
	sensor, err := d.sensors.Get(ctx, env.SensorID)
	if err != nil || sensor.IsDeleted {
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			log.Error().Err(err).Msg("sensor load failed")
			return &Outcome{Action: model.ActionError, ErrorCause: CauseStoreError}
		}
		return &Outcome{Action: model.ActionError, ErrorCause: CauseSensorNotFound}
	}

	// Gate 3: user.
	user, err := d.users.Get(ctx, sensor.UserID)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			log.Error().Err(err).Msg("user load failed")
			return &Outcome{Action: model.ActionError, ErrorCause: CauseStoreError}
		}
		return &Outcome{Action: model.ActionError, ErrorCause: CauseUserNotFound}
	}
	rec.UserID = user.UserID

	// Non-motion telemetry is archived and goes no further.
	if env.EventType != model.EventMotionDetected {
		return &Outcome{Action: model.ActionAuditOnly}
	}

	// Gate 4: enabled.
	if !sensor.Enabled {
		return &Outcome{Action: model.ActionIgnoredDisabled}
	}

	// Gate 5: quiet hours, evaluated in the user's local zone.
	if sensor.QuietHours.InWindow(now.In(user.Location())) {
		return &Outcome{Action: model.ActionIgnoredQuietHours}
	}

	// Gate 6: debounce. A sensor that has never fired cannot debounce.
	if !sensor.LastMotionTime.IsZero() && now.Sub(sensor.LastMotionTime) < sensor.Debounce() {
		return &Outcome{Action: model.ActionIgnoredDebounce}
	}

	// Gate 7: open or extend the session.
	res, err := d.sessions.OpenOrExtend(ctx, sensor.SensorID, user.UserID, now)
	if err != nil {
		cause := CauseStoreError
		if errors.Is(err, store.ErrBusy) {
			cause = CauseSessionConflict
		}
		log.Error().Err(err).Msg("session open failed")
		return &Outcome{Action: model.ActionError, ErrorCause: cause}
	}
	if res.Created {
		metrics.IncSessionCreated()
	} else {
		metrics.IncSessionExtended()
	}
	outcome := &Outcome{SessionID: res.SessionID, Created: res.Created}

	// Gate 8: token.
	token := ""
	if user.SpotifyTokenSecretRef != "" {
		bundle, err := d.secrets.Get(ctx, user.SpotifyTokenSecretRef)
		if err != nil && !errors.Is(err, secrets.ErrNotFound) {
			log.Error().Err(err).Msg("secret fetch failed")
			outcome.Action = model.ActionError
			outcome.ErrorCause = CauseStoreError
			d.finishWrites(ctx, sensor, outcome, now, log)
			return outcome
		}
		if bundle != nil {
			token = bundle.AccessToken
		}
	}
	if token == "" {
		outcome.Action = model.ActionError
		outcome.ErrorCause = CauseNoSpotifyCredentials
		d.finishWrites(ctx, sensor, outcome, now, log)
		return outcome
	}

	// Gate 9: playback decision.
	outcome.Action, outcome.ErrorCause = d.decidePlayback(ctx, sensor, token, log)

	// Gate 10: state writes, best-effort, in order.
	d.finishWrites(ctx, sensor, outcome, now, log)
	return outcome
}

func (d *Dispatcher) decidePlayback(ctx context.Context, sensor *model.Sensor, token string, log zerolog.Logger) (model.ActionTaken, string) {
	state, err := d.streaming.GetPlaybackState(ctx, token)
	if err != nil {
		cause := classifyStreamingError(err)
		metrics.IncStreamingCall("get_playback_state", cause)
		log.Warn().Err(err).Msg("playback state fetch failed")
		return model.ActionError, cause
	}
	metrics.IncStreamingCall("get_playback_state", "success")

	if state != nil && state.IsPlaying {
		return model.ActionAlreadyPlaying, ""
	}
	if sensor.SpotifyConfig.DeviceID == "" {
		return model.ActionError, CauseNoDeviceConfigured
	}

	err = d.streaming.StartPlayback(ctx, token, spotify.StartRequest{
		DeviceID:      sensor.SpotifyConfig.DeviceID,
		ContextURI:    sensor.SpotifyConfig.PlaylistURI,
		Shuffle:       sensor.SpotifyConfig.Shuffle,
		VolumePercent: sensor.SpotifyConfig.VolumePercent,
	})
	if err != nil {
		cause := classifyStreamingError(err)
		metrics.IncStreamingCall("start_playback", cause)
		log.Warn().Err(err).Msg("playback start failed")
		return model.ActionError, cause
	}
	metrics.IncStreamingCall("start_playback", "success")

	if state.PausedWithContext() {
		return model.ActionPlaybackResumed, ""
	}
	return model.ActionPlaybackStarted, ""
}

// finishWrites applies the post-decision state writes. Failures are logged
// and do not change the outcome.
func (d *Dispatcher) finishWrites(ctx context.Context, sensor *model.Sensor, outcome *Outcome, now time.Time, log zerolog.Logger) {
	if err := d.sensors.TouchLastMotion(ctx, sensor.SensorID, now); err != nil {
		log.Warn().Err(err).Msg("lastMotionTime update failed")
	}
	if outcome.Action == model.ActionPlaybackStarted || outcome.Action == model.ActionPlaybackResumed {
		if err := d.sessions.MarkPlaybackStarted(ctx, outcome.SessionID, now); err != nil {
			log.Warn().Err(err).Msg("playbackStarted flag update failed")
		}
	}
}

func classifyStreamingError(err error) string {
	switch {
	case errors.Is(err, spotify.ErrAuth):
		return CauseAuthError
	case errors.Is(err, spotify.ErrRateLimited):
		return CauseRateLimited
	case errors.Is(err, spotify.ErrUpstream), errors.Is(err, spotify.ErrBadResponse):
		return CauseUpstreamError
	default:
		return CauseTransport
	}
}
