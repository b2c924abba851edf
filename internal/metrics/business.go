// SPDX-License-Identifier: MIT
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Dispatcher metrics
	motionEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "motionplay_motion_events_total",
		Help: "Motion events processed by terminal action",
	}, []string{"action"}) // action=playback_started|ignored_debounce|error|...

	dispatchDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "motionplay_dispatch_duration_seconds",
		Help:    "Time spent processing one motion event end to end",
		Buckets: prometheus.DefBuckets,
	})

	sessionsCreatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "motionplay_sessions_created_total",
		Help: "Total number of playback sessions created",
	})

	sessionsExtendedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "motionplay_sessions_extended_total",
		Help: "Total number of motion events that extended an active session",
	})

	// Streaming adapter metrics
	streamingCallsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "motionplay_streaming_calls_total",
		Help: "Streaming API calls by operation and outcome",
	}, []string{"operation", "outcome"}) // outcome=success|auth|rate_limited|upstream|transport

	// Sweeper metrics
	sweepsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "motionplay_sweeps_total",
		Help: "Total number of sweeper passes",
	})

	sweepSessionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "motionplay_sweep_sessions_total",
		Help: "Sessions handled per sweep by outcome",
	}, []string{"outcome"}) // outcome=timed_out|paused|completed|error

	sweepActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "motionplay_sweep_active_sessions",
		Help: "Active sessions observed in the last sweep",
	})

	// Refresher metrics
	tokenRefreshTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "motionplay_token_refresh_total",
		Help: "Token refresh attempts by outcome",
	}, []string{"outcome"}) // outcome=refreshed|skipped|error

	// Ingest metrics
	ingestMessagesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "motionplay_ingest_messages_total",
		Help: "Motion messages consumed from the broker by outcome",
	}, []string{"outcome"}) // outcome=dispatched|invalid
)

func IncMotionEvent(action string)      { motionEventsTotal.WithLabelValues(action).Inc() }
func ObserveDispatchDuration(s float64) { dispatchDurationSeconds.Observe(s) }
func IncSessionCreated()                { sessionsCreatedTotal.Inc() }
func IncSessionExtended()               { sessionsExtendedTotal.Inc() }

func IncStreamingCall(operation, outcome string) {
	streamingCallsTotal.WithLabelValues(operation, outcome).Inc()
}

func RecordSweep(active int) {
	sweepsTotal.Inc()
	sweepActiveSessions.Set(float64(active))
}
func IncSweepSession(outcome string) { sweepSessionsTotal.WithLabelValues(outcome).Inc() }

func IncTokenRefresh(outcome string) { tokenRefreshTotal.WithLabelValues(outcome).Inc() }

func IncIngestMessage(outcome string) { ingestMessagesTotal.WithLabelValues(outcome).Inc() }
