// SPDX-License-Identifier: MIT

package model

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

const (
	DefaultTimeoutMinutes  = 5
	DefaultDebounceMinutes = 2

	minTimeoutMinutes  = 1
	maxTimeoutMinutes  = 120
	minDebounceMinutes = 1
	maxDebounceMinutes = 60
)

var sensorIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{3,128}$`)

// Sensor is a physical presence detector owned by a single user.
type Sensor struct {
	SensorID               string         `json:"sensorId"`
	UserID                 string         `json:"userId"`
	Location               string         `json:"location"`
	Name                   string         `json:"name,omitempty"`
	Enabled                bool           `json:"enabled"`
	TimeoutMinutes         int            `json:"timeoutMinutes"`
	MotionDebounceMinutes  int            `json:"motionDebounceMinutes"`
	QuietHours             *QuietHours    `json:"quietHours,omitempty"`
	SpotifyConfig          SpotifyConfig  `json:"spotifyConfig"`
	LastMotionTime         time.Time      `json:"lastMotionTime,omitempty"`
	IsDeleted              bool           `json:"isDeleted,omitempty"`
	CreatedAt              time.Time      `json:"createdAt"`
	UpdatedAt              time.Time      `json:"updatedAt"`
}

// SpotifyConfig describes where and how playback is started for a sensor.
type SpotifyConfig struct {
	DeviceID      string `json:"deviceId,omitempty"`
	PlaylistURI   string `json:"playlistUri,omitempty"`
	Shuffle       bool   `json:"shuffle"`
	VolumePercent *int   `json:"volumePercent,omitempty"`
}

// QuietHours is a per-sensor window in which motion is recorded but never
// triggers playback. Start/End are wall-clock "HH:MM"; the window may wrap
// midnight. Days is a subset of time.Weekday values (0=Sunday); empty means
// every day.
type QuietHours struct {
	Enabled bool   `json:"enabled"`
	Start   string `json:"startHHMM"`
	End     string `json:"endHHMM"`
	Days    []int  `json:"days,omitempty"`
}

// ValidateSensorID checks the identifier charset and length bounds.
func ValidateSensorID(id string) error {
	if !sensorIDPattern.MatchString(id) {
		return fmt.Errorf("invalid sensorId %q: must be 3-128 chars of [A-Za-z0-9_-]", id)
	}
	return nil
}

// Validate checks the sensor record against its schema bounds.
func (s *Sensor) Validate() error {
	if err := ValidateSensorID(s.SensorID); err != nil {
		return err
	}
	if s.UserID == "" {
		return fmt.Errorf("sensor %s: userId is required", s.SensorID)
	}
	if s.Location == "" {
		return fmt.Errorf("sensor %s: location is required", s.SensorID)
	}
	if s.TimeoutMinutes < minTimeoutMinutes || s.TimeoutMinutes > maxTimeoutMinutes {
		return fmt.Errorf("sensor %s: timeoutMinutes %d out of range [%d,%d]",
			s.SensorID, s.TimeoutMinutes, minTimeoutMinutes, maxTimeoutMinutes)
	}
	if s.MotionDebounceMinutes < minDebounceMinutes || s.MotionDebounceMinutes > maxDebounceMinutes {
		return fmt.Errorf("sensor %s: motionDebounceMinutes %d out of range [%d,%d]",
			s.SensorID, s.MotionDebounceMinutes, minDebounceMinutes, maxDebounceMinutes)
	}
	if s.QuietHours != nil && s.QuietHours.Enabled {
		if _, err := parseHHMM(s.QuietHours.Start); err != nil {
			return fmt.Errorf("sensor %s: quietHours start: %w", s.SensorID, err)
		}
		if _, err := parseHHMM(s.QuietHours.End); err != nil {
			return fmt.Errorf("sensor %s: quietHours end: %w", s.SensorID, err)
		}
		for _, d := range s.QuietHours.Days {
			if d < 0 || d > 6 {
				return fmt.Errorf("sensor %s: quietHours day %d out of range [0,6]", s.SensorID, d)
			}
		}
	}
	return nil
}

// ApplyDefaults fills timeout and debounce with their defaults when unset.
func (s *Sensor) ApplyDefaults() {
	if s.TimeoutMinutes == 0 {
		s.TimeoutMinutes = DefaultTimeoutMinutes
	}
	if s.MotionDebounceMinutes == 0 {
		s.MotionDebounceMinutes = DefaultDebounceMinutes
	}
}

// Timeout returns the inactivity window as a duration.
func (s *Sensor) Timeout() time.Duration {
	return time.Duration(s.TimeoutMinutes) * time.Minute
}

// Debounce returns the minimum inter-event gap as a duration.
func (s *Sensor) Debounce() time.Duration {
	return time.Duration(s.MotionDebounceMinutes) * time.Minute
}

// InWindow reports whether t (already in the sensor's local zone) falls inside
// the quiet-hours window. A window with start < end means start <= t < end; a
// window with start >= end wraps midnight and means t >= start OR t < end.
func (q *QuietHours) InWindow(t time.Time) bool {
	if q == nil || !q.Enabled {
		return false
	}
	if len(q.Days) > 0 {
		day := int(t.Weekday())
		match := false
		for _, d := range q.Days {
			if d == day {
				match = true
				break
			}
		}
		if !match {
			return false
		}
	}

	start, err := parseHHMM(q.Start)
	if err != nil {
		return false
	}
	end, err := parseHHMM(q.End)
	if err != nil {
		return false
	}
	minute := t.Hour()*60 + t.Minute()

	if start < end {
		return minute >= start && minute < end
	}
	return minute >= start || minute < end
}

// parseHHMM converts "HH:MM" to minutes since midnight.
func parseHHMM(s string) (int, error) {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		return 0, fmt.Errorf("invalid HH:MM value %q", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, fmt.Errorf("invalid hour in %q", s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, fmt.Errorf("invalid minute in %q", s)
	}
	return h*60 + m, nil
}
