// SPDX-License-Identifier: MIT

package dispatch

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/kesslerm/motionplay/internal/model"
)

// ErrInvalidEnvelope marks messages that cannot enter the pipeline at all.
var ErrInvalidEnvelope = errors.New("dispatch: invalid motion envelope")

// Envelope is one decoded sensor message. Metadata is carried verbatim into
// the audit record.
type Envelope struct {
	SensorID        string
	EventType       model.EventType
	Timestamp       time.Time
	BatteryLevel    *float64
	SignalStrength  *float64
	FirmwareVersion string
	Metadata        map[string]any
}

type rawEnvelope struct {
	SensorID string `json:"sensorId"`
	Event    string `json:"event"`
	// Some early firmware published the type under eventType.
	EventType       string          `json:"eventType"`
	Timestamp       json.RawMessage `json:"timestamp"`
	BatteryLevel    *float64        `json:"batteryLevel"`
	SignalStrength  *float64        `json:"signalStrength"`
	FirmwareVersion string          `json:"firmwareVersion"`
	Metadata        map[string]any  `json:"metadata"`
}

// ParseEnvelope decodes a wire message. sensorId is mandatory; the event
// type defaults to motion_detected; a missing or unreadable timestamp falls
// back to now. Timestamps may be epoch seconds or RFC 3339.
func ParseEnvelope(data []byte, now time.Time) (*Envelope, error) {
	var raw rawEnvelope
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidEnvelope, err)
	}
	if raw.SensorID == "" {
		return nil, fmt.Errorf("%w: missing sensorId", ErrInvalidEnvelope)
	}

	eventType := raw.Event
	if eventType == "" {
		eventType = raw.EventType
	}

	env := &Envelope{
		SensorID:        raw.SensorID,
		EventType:       model.EventType(eventType),
		Timestamp:       parseTimestamp(raw.Timestamp, now),
		BatteryLevel:    raw.BatteryLevel,
		SignalStrength:  raw.SignalStrength,
		FirmwareVersion: raw.FirmwareVersion,
		Metadata:        raw.Metadata,
	}
	if env.EventType == "" {
		env.EventType = model.EventMotionDetected
	}
	promoteTelemetry(env, raw.Metadata)
	return env, nil
}

// promoteTelemetry lifts the known telemetry keys out of the metadata map
// into the typed fields. Top-level fields win; the map itself stays verbatim.
func promoteTelemetry(env *Envelope, meta map[string]any) {
	if env.BatteryLevel == nil {
		if v, ok := meta["batteryLevel"].(float64); ok {
			env.BatteryLevel = &v
		}
	}
	if env.SignalStrength == nil {
		if v, ok := meta["signalStrength"].(float64); ok {
			env.SignalStrength = &v
		}
	}
	if env.FirmwareVersion == "" {
		if v, ok := meta["firmwareVersion"].(string); ok {
			env.FirmwareVersion = v
		}
	}
}

func parseTimestamp(raw json.RawMessage, now time.Time) time.Time {
	if len(raw) == 0 {
		return now
	}

	var epoch float64
	if err := json.Unmarshal(raw, &epoch); err == nil && epoch > 0 {
		return time.Unix(int64(epoch), 0).UTC()
	}

	var iso string
	if err := json.Unmarshal(raw, &iso); err == nil {
		if t, err := time.Parse(time.RFC3339, iso); err == nil {
			return t.UTC()
		}
	}
	return now
}
