// SPDX-License-Identifier: MIT

package store

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kesslerm/motionplay/internal/model"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "test.db"), DefaultSQLiteConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func testSensor(id, userID string) *model.Sensor {
	now := time.Unix(1_000_000, 0).UTC()
	return &model.Sensor{
		SensorID:              id,
		UserID:                userID,
		Location:              "living room",
		Name:                  "Living Room PIR",
		Enabled:               true,
		TimeoutMinutes:        5,
		MotionDebounceMinutes: 2,
		SpotifyConfig: model.SpotifyConfig{
			DeviceID:    "d1",
			PlaylistURI: "spotify:playlist:P",
			Shuffle:     true,
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func TestSensorRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	sensors := s.Sensors()

	in := testSensor("s1", "u1")
	in.QuietHours = &model.QuietHours{Enabled: true, Start: "22:00", End: "07:00", Days: []int{0, 6}}
	require.NoError(t, sensors.Put(ctx, in))

	out, err := sensors.Get(ctx, "s1")
	require.NoError(t, err)
	if diff := cmp.Diff(in, out); diff != "" {
		t.Fatalf("sensor mismatch (-want +got):\n%s", diff)
	}

	_, err = sensors.Get(ctx, "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSensorListByUser(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	sensors := s.Sensors()

	require.NoError(t, sensors.Put(ctx, testSensor("s1", "u1")))
	require.NoError(t, sensors.Put(ctx, testSensor("s2", "u1")))
	deleted := testSensor("s3", "u1")
	deleted.IsDeleted = true
	require.NoError(t, sensors.Put(ctx, deleted))
	require.NoError(t, sensors.Put(ctx, testSensor("other", "u2")))

	list, err := sensors.ListByUser(ctx, "u1", false)
	require.NoError(t, err)
	assert.Len(t, list, 2)

	list, err = sensors.ListByUser(ctx, "u1", true)
	require.NoError(t, err)
	assert.Len(t, list, 3)
}

func TestTouchLastMotionMonotone(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	sensors := s.Sensors()
	require.NoError(t, sensors.Put(ctx, testSensor("s1", "u1")))

	t1 := time.Unix(1_000_000, 0).UTC()
	t2 := time.Unix(1_000_300, 0).UTC()

	require.NoError(t, sensors.TouchLastMotion(ctx, "s1", t2))
	out, err := sensors.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, t2, out.LastMotionTime)

	// An older timestamp never rewinds the persisted value.
	require.NoError(t, sensors.TouchLastMotion(ctx, "s1", t1))
	out, err = sensors.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, t2, out.LastMotionTime)
}

func TestUserRoundTripAndPaging(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	users := s.Users()

	now := time.Unix(1_000_000, 0).UTC()
	for _, u := range []*model.User{
		{UserID: "u1", Email: "a@example.com", Active: true, SpotifyConnected: true, SpotifyTokenSecretRef: "ref-1", CreatedAt: now, UpdatedAt: now},
		{UserID: "u2", Email: "b@example.com", Active: true, SpotifyConnected: false, CreatedAt: now, UpdatedAt: now},
		{UserID: "u3", Email: "c@example.com", Active: false, SpotifyConnected: true, CreatedAt: now, UpdatedAt: now},
		{UserID: "u4", Email: "d@example.com", Active: true, SpotifyConnected: true, SpotifyTokenSecretRef: "ref-4", CreatedAt: now, UpdatedAt: now},
	} {
		require.NoError(t, users.Put(ctx, u))
	}

	page, err := users.ListActiveConnected(ctx, "", 1)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "u1", page[0].UserID)

	page, err = users.ListActiveConnected(ctx, page[0].UserID, 10)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "u4", page[0].UserID)
}

func TestOpenOrExtend(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	reg := s.Sessions(30)

	t0 := time.Unix(1_000_000, 0).UTC()
	res, err := reg.OpenOrExtend(ctx, "s1", "u1", t0)
	require.NoError(t, err)
	assert.True(t, res.Created)

	first, err := reg.Get(ctx, res.SessionID)
	require.NoError(t, err)
	assert.Equal(t, 1, first.MotionEventsCount)
	assert.Equal(t, model.SessionActive, first.Status)

	t1 := t0.Add(3 * time.Minute)
	res2, err := reg.OpenOrExtend(ctx, "s1", "u1", t1)
	require.NoError(t, err)
	assert.False(t, res2.Created)
	assert.Equal(t, res.SessionID, res2.SessionID)

	extended, err := reg.Get(ctx, res.SessionID)
	require.NoError(t, err)
	assert.Equal(t, 2, extended.MotionEventsCount)
	assert.Equal(t, t1, extended.LastMotionTime)
}

func TestOpenOrExtendConcurrent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	reg := s.Sessions(30)

	now := time.Unix(1_000_000, 0).UTC()
	const writers = 8

	var wg sync.WaitGroup
	created := make(chan bool, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := reg.OpenOrExtend(ctx, "s1", "u1", now)
			if err != nil {
				t.Errorf("OpenOrExtend: %v", err)
				return
			}
			created <- res.Created
		}()
	}
	wg.Wait()
	close(created)

	wins := 0
	for c := range created {
		if c {
			wins++
		}
	}
	assert.Equal(t, 1, wins, "exactly one writer creates the session")

	session, err := reg.ActiveBySensor(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, writers, session.MotionEventsCount)

	// No duplicate active sessions exist.
	count := 0
	require.NoError(t, reg.ScanActive(ctx, func(*model.Session) error {
		count++
		return nil
	}))
	assert.Equal(t, 1, count)
}

func TestCompleteIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	reg := s.Sessions(30)

	t0 := time.Unix(1_000_000, 0).UTC()
	res, err := reg.OpenOrExtend(ctx, "s1", "u1", t0)
	require.NoError(t, err)

	end := t0.Add(10 * time.Minute)
	done, err := reg.Complete(ctx, res.SessionID, end, true)
	require.NoError(t, err)
	assert.Equal(t, model.SessionCompleted, done.Status)
	assert.True(t, done.PlaybackStopped)
	assert.Equal(t, end, done.EndTime)
	assert.InDelta(t, 10.0, done.DurationMinutes, 0.001)

	// Completing again is a no-op returning the same record.
	again, err := reg.Complete(ctx, res.SessionID, end.Add(time.Hour), true)
	require.NoError(t, err)
	if diff := cmp.Diff(done, again); diff != "" {
		t.Fatalf("repeat completion changed record (-first +second):\n%s", diff)
	}
}

func TestFreshSessionAfterCompletion(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	reg := s.Sessions(30)

	t0 := time.Unix(1_000_000, 0).UTC()
	res, err := reg.OpenOrExtend(ctx, "s1", "u1", t0)
	require.NoError(t, err)
	_, err = reg.Complete(ctx, res.SessionID, t0.Add(time.Minute), true)
	require.NoError(t, err)

	res2, err := reg.OpenOrExtend(ctx, "s1", "u1", t0.Add(20*time.Minute))
	require.NoError(t, err)
	assert.True(t, res2.Created)
	assert.NotEqual(t, res.SessionID, res2.SessionID)
}

func TestMarkPlaybackStartedIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	reg := s.Sessions(30)

	t0 := time.Unix(1_000_000, 0).UTC()
	res, err := reg.OpenOrExtend(ctx, "s1", "u1", t0)
	require.NoError(t, err)

	require.NoError(t, reg.MarkPlaybackStarted(ctx, res.SessionID, t0.Add(time.Second)))
	require.NoError(t, reg.MarkPlaybackStarted(ctx, res.SessionID, t0.Add(2*time.Second)))

	session, err := reg.Get(ctx, res.SessionID)
	require.NoError(t, err)
	assert.True(t, session.PlaybackStarted)
	assert.True(t, session.UpdatedAt.Equal(t0.Add(2*time.Second)))
}

func TestQueryBySensorPagination(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	reg := s.Sessions(30)

	base := time.Unix(1_000_000, 0).UTC()
	for i := 0; i < 5; i++ {
		at := base.Add(time.Duration(i) * time.Hour)
		res, err := reg.OpenOrExtend(ctx, "s1", "u1", at)
		require.NoError(t, err)
		_, err = reg.Complete(ctx, res.SessionID, at.Add(10*time.Minute), true)
		require.NoError(t, err)
	}

	page1, token, err := reg.QueryBySensor(ctx, SessionQuery{SensorID: "s1", Limit: 2})
	require.NoError(t, err)
	require.Len(t, page1, 2)
	require.NotEmpty(t, token)
	// Descending by startTime.
	assert.True(t, page1[0].StartTime.After(page1[1].StartTime))

	page2, token2, err := reg.QueryBySensor(ctx, SessionQuery{SensorID: "s1", Limit: 2, PageToken: token})
	require.NoError(t, err)
	require.Len(t, page2, 2)
	assert.True(t, page1[1].StartTime.After(page2[0].StartTime))

	page3, token3, err := reg.QueryBySensor(ctx, SessionQuery{SensorID: "s1", Limit: 2, PageToken: token2})
	require.NoError(t, err)
	assert.Len(t, page3, 1)
	assert.Empty(t, token3)
}

func TestQueryBySensorTimeRange(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	reg := s.Sessions(30)

	base := time.Unix(1_000_000, 0).UTC()
	for i := 0; i < 3; i++ {
		at := base.Add(time.Duration(i) * time.Hour)
		res, err := reg.OpenOrExtend(ctx, "s1", "u1", at)
		require.NoError(t, err)
		_, err = reg.Complete(ctx, res.SessionID, at.Add(time.Minute), true)
		require.NoError(t, err)
	}

	got, _, err := reg.QueryBySensor(ctx, SessionQuery{
		SensorID:   "s1",
		StartEpoch: base.Add(30 * time.Minute).Unix(),
		EndEpoch:   base.Add(90 * time.Minute).Unix(),
		Limit:      10,
	})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, base.Add(time.Hour), got[0].StartTime)
}

func TestAnalytics(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	reg := s.Sessions(30)

	base := time.Date(2026, 1, 5, 9, 0, 0, 0, time.UTC)
	// Two completed sessions at 09:00 with playback, one active at 14:00.
	for i := 0; i < 2; i++ {
		at := base.Add(time.Duration(i) * 24 * time.Hour)
		res, err := reg.OpenOrExtend(ctx, "s1", "u1", at)
		require.NoError(t, err)
		require.NoError(t, reg.MarkPlaybackStarted(ctx, res.SessionID, at))
		_, err = reg.Complete(ctx, res.SessionID, at.Add(10*time.Minute), true)
		require.NoError(t, err)
	}
	_, err := reg.OpenOrExtend(ctx, "s2", "u1", base.Add(5*time.Hour))
	require.NoError(t, err)

	summary, bySensor, err := reg.Analytics(ctx, AnalyticsFilter{UserID: "u1"})
	require.NoError(t, err)

	assert.Equal(t, 3, summary.TotalSessions)
	assert.Equal(t, 2, summary.CompletedSessions)
	assert.Equal(t, 1, summary.ActiveSessions)
	assert.Equal(t, 2, summary.SessionsWithPlayback)
	assert.Equal(t, 3, summary.TotalMotionEvents)
	assert.InDelta(t, 20.0, summary.TotalDurationMinutes, 0.001)
	assert.InDelta(t, 10.0, summary.AverageDurationMinutes, 0.001)
	assert.InDelta(t, 1.0, summary.AverageMotionEventsPerSession, 0.001)
	require.NotNil(t, summary.PeakHour)
	assert.Equal(t, 9, *summary.PeakHour)

	require.Len(t, bySensor, 2)
}

func TestAnalyticsEmpty(t *testing.T) {
	s := newTestStore(t)
	summary, bySensor, err := s.Sessions(30).Analytics(context.Background(), AnalyticsFilter{SensorID: "none"})
	require.NoError(t, err)
	assert.Zero(t, summary.TotalSessions)
	assert.Zero(t, summary.AverageDurationMinutes)
	assert.Nil(t, summary.PeakHour)
	assert.Empty(t, bySensor)
}

func TestMotionEventAppendAndList(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	events := s.Events(30)

	battery := 87.5
	now := time.Unix(1_000_000, 0).UTC()
	ev := &model.MotionEvent{
		SensorID:          "s1",
		UserID:            "u1",
		SessionID:         "session-s1-1000000-abcd1234",
		EventType:         model.EventMotionDetected,
		Timestamp:         now,
		ActionTaken:       model.ActionPlaybackStarted,
		PlaybackTriggered: true,
		BatteryLevel:      &battery,
		FirmwareVersion:   "1.4.2",
		Metadata:          map[string]any{"rssi": -61.0},
	}
	require.NoError(t, events.Append(ctx, ev))
	assert.NotEmpty(t, ev.EventID)
	assert.Equal(t, now.Add(30*24*time.Hour).Unix(), ev.TTL)

	list, err := events.ListBySensor(ctx, "s1", 10)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, model.ActionPlaybackStarted, list[0].ActionTaken)
	require.NotNil(t, list[0].BatteryLevel)
	assert.Equal(t, 87.5, *list[0].BatteryLevel)
	assert.Equal(t, -61.0, list[0].Metadata["rssi"])

	n, err := events.CountBySession(ctx, ev.SessionID)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestPurgeExpired(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	reg := s.Sessions(30)

	t0 := time.Unix(1_000_000, 0).UTC()
	res, err := reg.OpenOrExtend(ctx, "s1", "u1", t0)
	require.NoError(t, err)
	_, err = reg.Complete(ctx, res.SessionID, t0.Add(time.Minute), true)
	require.NoError(t, err)

	// Before the TTL nothing is purged; past it the record goes away.
	n, err := reg.PurgeExpired(ctx, t0.Add(24*time.Hour))
	require.NoError(t, err)
	assert.Zero(t, n)

	n, err = reg.PurgeExpired(ctx, t0.Add(31*24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, err = reg.Get(ctx, res.SessionID)
	assert.ErrorIs(t, err, ErrNotFound)
}
