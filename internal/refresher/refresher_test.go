// SPDX-License-Identifier: MIT

package refresher

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kesslerm/motionplay/internal/clock"
	"github.com/kesslerm/motionplay/internal/model"
	"github.com/kesslerm/motionplay/internal/secrets"
	"github.com/kesslerm/motionplay/internal/spotify"
	"github.com/kesslerm/motionplay/internal/store"
)

type fakeStreaming struct {
	grant    *spotify.TokenGrant
	err      error
	failFor  map[string]error
	requests []string
}

func (f *fakeStreaming) RefreshToken(_ context.Context, refreshToken string) (*spotify.TokenGrant, error) {
	f.requests = append(f.requests, refreshToken)
	if err, ok := f.failFor[refreshToken]; ok {
		return nil, err
	}
	if f.err != nil {
		return nil, f.err
	}
	if f.grant != nil {
		return f.grant, nil
	}
	return &spotify.TokenGrant{AccessToken: "at-new", ExpiresInSec: 3600, Scope: "scope"}, nil
}

type harness struct {
	users     *store.UserStore
	secrets   secrets.Store
	streaming *fakeStreaming
	clock     *clock.Fake
	r         *Refresher
}

func newHarness(t *testing.T, conf Config) *harness {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "test.db"), store.DefaultSQLiteConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	h := &harness{
		users:     s.Users(),
		secrets:   secrets.NewSQLite(s.DB),
		streaming: &fakeStreaming{failFor: map[string]error{}},
		clock:     clock.NewFake(time.Unix(1_000_000, 0)),
	}
	h.r = New(h.users, h.secrets, h.streaming, h.clock, conf)
	return h
}

func (h *harness) seedUser(t *testing.T, userID string, expiresIn time.Duration) {
	t.Helper()
	ctx := context.Background()
	now := h.clock.Now()
	ref := "spotify/" + userID
	require.NoError(t, h.users.Put(ctx, &model.User{
		UserID:                userID,
		Email:                 userID + "@example.com",
		Active:                true,
		SpotifyConnected:      true,
		SpotifyTokenSecretRef: ref,
		CreatedAt:             now,
		UpdatedAt:             now,
	}))
	require.NoError(t, h.secrets.Put(ctx, ref, &model.SecretBundle{
		AccessToken:  "at-" + userID,
		RefreshToken: "rt-" + userID,
		ExpiresAt:    now.Add(expiresIn),
		Scope:        "old-scope",
	}))
}

func TestFreshTokenSkipped(t *testing.T) {
	h := newHarness(t, Config{Buffer: 5 * time.Minute})
	h.seedUser(t, "u1", 30*time.Minute)

	summary, err := h.r.RefreshOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Checked)
	assert.Equal(t, 1, summary.Skipped)
	assert.Zero(t, summary.Refreshed)
	assert.Empty(t, h.streaming.requests, "no network call for a fresh token")

	bundle, err := h.secrets.Get(context.Background(), "spotify/u1")
	require.NoError(t, err)
	assert.Equal(t, "at-u1", bundle.AccessToken, "secret unchanged")
}

func TestExpiringTokenRefreshed(t *testing.T) {
	h := newHarness(t, Config{Buffer: 5 * time.Minute})
	h.seedUser(t, "u1", 2*time.Minute)

	summary, err := h.r.RefreshOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Refreshed)
	assert.Equal(t, []string{"rt-u1"}, h.streaming.requests)

	now := h.clock.Now()
	bundle, err := h.secrets.Get(context.Background(), "spotify/u1")
	require.NoError(t, err)
	assert.Equal(t, "at-new", bundle.AccessToken)
	assert.Equal(t, "rt-u1", bundle.RefreshToken, "refresh token preserved")
	assert.Equal(t, now.Add(time.Hour), bundle.ExpiresAt)
	assert.Equal(t, now, bundle.LastRefreshed)
	// Token freshness contract: valid beyond the buffer after the pass.
	assert.True(t, bundle.FreshFor(now, 5*time.Minute))
}

func TestRotatedRefreshTokenStored(t *testing.T) {
	h := newHarness(t, Config{Buffer: 5 * time.Minute})
	h.seedUser(t, "u1", time.Minute)
	h.streaming.grant = &spotify.TokenGrant{
		AccessToken: "at-new", ExpiresInSec: 3600, RefreshToken: "rt-rotated",
	}

	_, err := h.r.RefreshOnce(context.Background())
	require.NoError(t, err)

	bundle, err := h.secrets.Get(context.Background(), "spotify/u1")
	require.NoError(t, err)
	assert.Equal(t, "rt-rotated", bundle.RefreshToken)
}

func TestPerUserFailureIsolation(t *testing.T) {
	h := newHarness(t, Config{Buffer: 5 * time.Minute})
	h.seedUser(t, "u1", time.Minute)
	h.seedUser(t, "u2", time.Minute)
	h.streaming.failFor["rt-u1"] = &spotify.APIError{Sentinel: spotify.ErrAuth, Operation: "refresh token", Status: 401}

	summary, err := h.r.RefreshOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Checked)
	assert.Equal(t, 1, summary.Refreshed)
	require.Len(t, summary.Errors, 1)
	assert.Contains(t, summary.Errors[0], "u1")

	bundle, err := h.secrets.Get(context.Background(), "spotify/u2")
	require.NoError(t, err)
	assert.Equal(t, "at-new", bundle.AccessToken)
}

func TestPaginationCoversAllUsers(t *testing.T) {
	h := newHarness(t, Config{Buffer: 5 * time.Minute, PageSize: 1})
	for _, id := range []string{"u1", "u2", "u3"} {
		h.seedUser(t, id, time.Minute)
	}

	summary, err := h.r.RefreshOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, summary.Checked)
	assert.Equal(t, 3, summary.Refreshed)
	assert.Len(t, h.streaming.requests, 3)
}

func TestMissingSecretRecordedAsError(t *testing.T) {
	h := newHarness(t, Config{Buffer: 5 * time.Minute})
	ctx := context.Background()
	now := h.clock.Now()
	require.NoError(t, h.users.Put(ctx, &model.User{
		UserID: "u1", Email: "u1@example.com", Active: true,
		SpotifyConnected: true, SpotifyTokenSecretRef: "spotify/u1",
		CreatedAt: now, UpdatedAt: now,
	}))

	summary, err := h.r.RefreshOnce(ctx)
	require.NoError(t, err)
	assert.Len(t, summary.Errors, 1)
}
