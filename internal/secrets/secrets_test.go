// SPDX-License-Identifier: MIT

package secrets

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kesslerm/motionplay/internal/cache"
	"github.com/kesslerm/motionplay/internal/model"
	"github.com/kesslerm/motionplay/internal/store"
)

func newSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "test.db"), store.DefaultSQLiteConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return NewSQLite(s.DB)
}

func testBundle() *model.SecretBundle {
	return &model.SecretBundle{
		AccessToken:  "at-1",
		RefreshToken: "rt-1",
		ExpiresAt:    time.Unix(2_000_000, 0).UTC(),
		Scope:        "user-modify-playback-state",
	}
}

func TestSQLiteRoundTrip(t *testing.T) {
	s := newSQLiteStore(t)
	ctx := context.Background()

	_, err := s.Get(ctx, "spotify/u1")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.Put(ctx, "spotify/u1", testBundle()))
	got, err := s.Get(ctx, "spotify/u1")
	require.NoError(t, err)
	assert.Equal(t, "at-1", got.AccessToken)
	assert.Equal(t, "rt-1", got.RefreshToken)

	// Replace on rotation.
	rotated := testBundle()
	rotated.AccessToken = "at-2"
	require.NoError(t, s.Put(ctx, "spotify/u1", rotated))
	got, err = s.Get(ctx, "spotify/u1")
	require.NoError(t, err)
	assert.Equal(t, "at-2", got.AccessToken)
}

// countingStore tracks reads so tests can observe cache behaviour.
type countingStore struct {
	inner Store
	gets  int
}

func (c *countingStore) Get(ctx context.Context, ref string) (*model.SecretBundle, error) {
	c.gets++
	return c.inner.Get(ctx, ref)
}

func (c *countingStore) Put(ctx context.Context, ref string, b *model.SecretBundle) error {
	return c.inner.Put(ctx, ref, b)
}

func (c *countingStore) Invalidate(string) {}

func TestCachedServesFromCache(t *testing.T) {
	counting := &countingStore{inner: newSQLiteStore(t)}
	cached := NewCached(counting, cache.NewMemory(16, 0), time.Minute)
	ctx := context.Background()

	require.NoError(t, cached.Put(ctx, "spotify/u1", testBundle()))

	for i := 0; i < 3; i++ {
		got, err := cached.Get(ctx, "spotify/u1")
		require.NoError(t, err)
		assert.Equal(t, "at-1", got.AccessToken)
	}
	assert.Zero(t, counting.gets, "put primes the cache; reads never hit the store")

	cached.Invalidate("spotify/u1")
	_, err := cached.Get(ctx, "spotify/u1")
	require.NoError(t, err)
	assert.Equal(t, 1, counting.gets)
}

func TestCachedMissFallsThrough(t *testing.T) {
	sqlite := newSQLiteStore(t)
	ctx := context.Background()
	require.NoError(t, sqlite.Put(ctx, "spotify/u1", testBundle()))

	counting := &countingStore{inner: sqlite}
	cached := NewCached(counting, cache.NewMemory(16, 0), time.Minute)

	got, err := cached.Get(ctx, "spotify/u1")
	require.NoError(t, err)
	assert.Equal(t, "at-1", got.AccessToken)
	assert.Equal(t, 1, counting.gets)

	_, err = cached.Get(ctx, "spotify/u1")
	require.NoError(t, err)
	assert.Equal(t, 1, counting.gets)

	_, err = cached.Get(ctx, "spotify/unknown")
	assert.ErrorIs(t, err, ErrNotFound)
}
