// SPDX-License-Identifier: MIT

package model

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
)

// DefaultSessionTTLDays is how long session and motion-event records are kept
// before store-side expiry.
const DefaultSessionTTLDays = 30

// Session is a contiguous period of detected presence at one sensor that
// drives at most one streaming playback.
type Session struct {
	SessionID         string        `json:"sessionId"`
	SensorID          string        `json:"sensorId"`
	UserID            string        `json:"userId"`
	Status            SessionStatus `json:"status"`
	StartTime         time.Time     `json:"startTime"`
	LastMotionTime    time.Time     `json:"lastMotionTime"`
	MotionEventsCount int           `json:"motionEventsCount"`
	PlaybackStarted   bool          `json:"playbackStarted"`
	PlaybackStopped   bool          `json:"playbackStopped"`
	EndTime           time.Time     `json:"endTime,omitempty"`
	DurationMinutes   float64       `json:"durationMinutes,omitempty"`
	TTL               int64         `json:"ttl"` // epoch seconds
	UpdatedAt         time.Time     `json:"updatedAt"`
}

// NewSessionID builds "session-{sensorId}-{epoch}-{8hex}".
func NewSessionID(sensorID string, now time.Time) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return fmt.Sprintf("session-%s-%d-%s", sensorID, now.Unix(), suffix)
}

// DurationMinutesBetween computes the completed-session duration, rounded to
// two decimals.
func DurationMinutesBetween(start, end time.Time) float64 {
	minutes := end.Sub(start).Seconds() / 60
	return math.Round(minutes*100) / 100
}

// MotionEvent is the append-only audit record for one dispatcher invocation.
type MotionEvent struct {
	EventID           string         `json:"eventId"`
	SensorID          string         `json:"sensorId"`
	UserID            string         `json:"userId,omitempty"`
	SessionID         string         `json:"sessionId,omitempty"`
	EventType         EventType      `json:"eventType"`
	Timestamp         time.Time      `json:"timestamp"`
	ActionTaken       ActionTaken    `json:"actionTaken"`
	PlaybackTriggered bool           `json:"playbackTriggered"`
	ErrorCause        string         `json:"errorCause,omitempty"`
	BatteryLevel      *float64       `json:"batteryLevel,omitempty"`
	SignalStrength    *float64       `json:"signalStrength,omitempty"`
	FirmwareVersion   string         `json:"firmwareVersion,omitempty"`
	Metadata          map[string]any `json:"metadata,omitempty"`
	TTL               int64          `json:"ttl"`
}

// NewEventID returns a fresh motion-event identifier.
func NewEventID() string {
	return "evt-" + uuid.NewString()
}
