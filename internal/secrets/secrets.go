// SPDX-License-Identifier: MIT

// Package secrets stores per-user streaming tokens. Token material is only
// ever addressed by an opaque ref; callers never persist bundles themselves
// and log lines never carry token contents.
package secrets

import (
	"context"
	"errors"

	"github.com/kesslerm/motionplay/internal/model"
)

// ErrNotFound is returned when no bundle exists under a ref.
var ErrNotFound = errors.New("secrets: not found")

// Store reads and writes token bundles by ref.
type Store interface {
	// Get returns the bundle stored under ref, or ErrNotFound.
	Get(ctx context.Context, ref string) (*model.SecretBundle, error)
	// Put stores the bundle under ref, replacing any previous value.
	Put(ctx context.Context, ref string, bundle *model.SecretBundle) error
	// Invalidate drops any cached copy of ref. Backends without a cache
	// treat it as a no-op.
	Invalidate(ref string)
}
