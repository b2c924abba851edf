// SPDX-License-Identifier: MIT

package secrets

import (
	"context"
	"time"

	"github.com/kesslerm/motionplay/internal/cache"
	"github.com/kesslerm/motionplay/internal/model"
)

// Cached wraps a Store with a bounded TTL cache. The cache bound is part of
// the contract, not an optimisation: token bundles must never accumulate
// without limit in process memory.
type Cached struct {
	inner Store
	cache cache.Cache
	ttl   time.Duration
}

// NewCached decorates inner with c. ttl caps how long a bundle may be served
// without consulting the backing store.
func NewCached(inner Store, c cache.Cache, ttl time.Duration) *Cached {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Cached{inner: inner, cache: c, ttl: ttl}
}

func (s *Cached) Get(ctx context.Context, ref string) (*model.SecretBundle, error) {
	if v, ok := s.cache.Get(ref); ok {
		if bundle, ok := v.(*model.SecretBundle); ok {
			return bundle, nil
		}
	}

	bundle, err := s.inner.Get(ctx, ref)
	if err != nil {
		return nil, err
	}
	s.cache.Set(ref, bundle, s.ttl)
	return bundle, nil
}

// Put writes through to the backing store and refreshes the cached copy so a
// rotation is visible to the next reader immediately.
func (s *Cached) Put(ctx context.Context, ref string, bundle *model.SecretBundle) error {
	if err := s.inner.Put(ctx, ref, bundle); err != nil {
		return err
	}
	s.cache.Set(ref, bundle, s.ttl)
	return nil
}

func (s *Cached) Invalidate(ref string) {
	s.cache.Delete(ref)
	s.inner.Invalidate(ref)
}
