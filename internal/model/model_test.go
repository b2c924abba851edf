// SPDX-License-Identifier: MIT

package model

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validSensor() Sensor {
	return Sensor{
		SensorID:              "livingroom-pir",
		UserID:                "user-1",
		Location:              "living room",
		Enabled:               true,
		TimeoutMinutes:        5,
		MotionDebounceMinutes: 2,
	}
}

func TestSensorValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Sensor)
		wantErr string
	}{
		{"ok", func(s *Sensor) {}, ""},
		{"short id", func(s *Sensor) { s.SensorID = "ab" }, "invalid sensorId"},
		{"bad charset", func(s *Sensor) { s.SensorID = "has space" }, "invalid sensorId"},
		{"missing user", func(s *Sensor) { s.UserID = "" }, "userId is required"},
		{"missing location", func(s *Sensor) { s.Location = "" }, "location is required"},
		{"timeout too high", func(s *Sensor) { s.TimeoutMinutes = 121 }, "timeoutMinutes"},
		{"timeout too low", func(s *Sensor) { s.TimeoutMinutes = 0 }, "timeoutMinutes"},
		{"debounce too high", func(s *Sensor) { s.MotionDebounceMinutes = 61 }, "motionDebounceMinutes"},
		{"bad quiet start", func(s *Sensor) {
			s.QuietHours = &QuietHours{Enabled: true, Start: "25:00", End: "07:00"}
		}, "quietHours start"},
		{"bad quiet day", func(s *Sensor) {
			s.QuietHours = &QuietHours{Enabled: true, Start: "22:00", End: "07:00", Days: []int{7}}
		}, "day 7 out of range"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := validSensor()
			tt.mutate(&s)
			err := s.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}

func TestSensorApplyDefaults(t *testing.T) {
	s := Sensor{SensorID: "kitchen-pir", UserID: "u", Location: "kitchen"}
	s.ApplyDefaults()
	assert.Equal(t, DefaultTimeoutMinutes, s.TimeoutMinutes)
	assert.Equal(t, DefaultDebounceMinutes, s.MotionDebounceMinutes)
}

func TestQuietHoursWindow(t *testing.T) {
	at := func(hhmm string) time.Time {
		tm, err := time.Parse("15:04", hhmm)
		if err != nil {
			t.Fatalf("bad test time %q", hhmm)
		}
		// 2026-01-05 is a Monday.
		return time.Date(2026, 1, 5, tm.Hour(), tm.Minute(), 0, 0, time.UTC)
	}

	tests := []struct {
		name string
		q    QuietHours
		t    time.Time
		want bool
	}{
		{"disabled", QuietHours{Enabled: false, Start: "00:00", End: "23:59"}, at("12:00"), false},
		{"simple in", QuietHours{Enabled: true, Start: "09:00", End: "17:00"}, at("12:00"), true},
		{"simple start inclusive", QuietHours{Enabled: true, Start: "09:00", End: "17:00"}, at("09:00"), true},
		{"simple end exclusive", QuietHours{Enabled: true, Start: "09:00", End: "17:00"}, at("17:00"), false},
		{"wrap late evening", QuietHours{Enabled: true, Start: "22:00", End: "07:00"}, at("23:30"), true},
		{"wrap early morning", QuietHours{Enabled: true, Start: "22:00", End: "07:00"}, at("06:59"), true},
		{"wrap midday out", QuietHours{Enabled: true, Start: "22:00", End: "07:00"}, at("12:00"), false},
		{"day filter match", QuietHours{Enabled: true, Start: "09:00", End: "17:00", Days: []int{1}}, at("12:00"), true},
		{"day filter miss", QuietHours{Enabled: true, Start: "09:00", End: "17:00", Days: []int{0, 6}}, at("12:00"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.q.InWindow(tt.t))
		})
	}
}

func TestNewSessionID(t *testing.T) {
	now := time.Unix(1_000_000, 0)
	id := NewSessionID("s1", now)
	assert.True(t, strings.HasPrefix(id, "session-s1-1000000-"), id)
	assert.Len(t, id, len("session-s1-1000000-")+8)

	other := NewSessionID("s1", now)
	assert.NotEqual(t, id, other)
}

func TestDurationMinutesBetween(t *testing.T) {
	start := time.Unix(1_000_000, 0)
	assert.InDelta(t, 10.0, DurationMinutesBetween(start, start.Add(10*time.Minute)), 0.001)
	assert.InDelta(t, 1.5, DurationMinutesBetween(start, start.Add(90*time.Second)), 0.001)
	assert.InDelta(t, 0.67, DurationMinutesBetween(start, start.Add(40*time.Second)), 0.001)
}

func TestSecretBundleFreshFor(t *testing.T) {
	now := time.Unix(1_000_000, 0)
	b := &SecretBundle{AccessToken: "tok", ExpiresAt: now.Add(30 * time.Minute)}
	assert.True(t, b.FreshFor(now, 5*time.Minute))
	assert.False(t, b.FreshFor(now, 30*time.Minute))
	assert.False(t, (&SecretBundle{ExpiresAt: now.Add(time.Hour)}).FreshFor(now, 0))
}

func TestUserLocation(t *testing.T) {
	assert.Equal(t, time.UTC, (&User{}).Location())
	assert.Equal(t, time.UTC, (&User{Timezone: "Not/AZone"}).Location())

	u := &User{Timezone: "Europe/Vienna"}
	loc := u.Location()
	require.NotNil(t, loc)
	assert.Equal(t, "Europe/Vienna", loc.String())
}
