// SPDX-License-Identifier: MIT

// Package refresher keeps every connected user's access token fresh ahead of
// expiry.
package refresher

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/kesslerm/motionplay/internal/clock"
	logpkg "github.com/kesslerm/motionplay/internal/log"
	"github.com/kesslerm/motionplay/internal/metrics"
	"github.com/kesslerm/motionplay/internal/model"
	"github.com/kesslerm/motionplay/internal/secrets"
	"github.com/kesslerm/motionplay/internal/spotify"
	"github.com/kesslerm/motionplay/internal/store"
)

// Streaming is the slice of the streaming adapter the refresher needs.
type Streaming interface {
	RefreshToken(ctx context.Context, refreshToken string) (*spotify.TokenGrant, error)
}

// Config defines refresh cadence and the freshness buffer.
type Config struct {
	Interval time.Duration
	Buffer   time.Duration
	PageSize int
}

// Summary reports one refresh pass.
type Summary struct {
	Checked   int
	Refreshed int
	Skipped   int
	Errors    []string
}

// Refresher walks all active connected users each pass and refreshes any
// token that would expire within the buffer.
type Refresher struct {
	users     *store.UserStore
	secrets   secrets.Store
	streaming Streaming
	clock     clock.Clock
	conf      Config
	log       zerolog.Logger
}

// New builds a Refresher.
func New(users *store.UserStore, secretStore secrets.Store, streaming Streaming, clk clock.Clock, conf Config) *Refresher {
	if clk == nil {
		clk = clock.System{}
	}
	if conf.Interval <= 0 {
		conf.Interval = 30 * time.Minute
	}
	if conf.Buffer <= 0 {
		conf.Buffer = 5 * time.Minute
	}
	if conf.PageSize <= 0 {
		conf.PageSize = 100
	}
	return &Refresher{
		users:     users,
		secrets:   secretStore,
		streaming: streaming,
		clock:     clk,
		conf:      conf,
		log:       logpkg.WithComponent("refresher"),
	}
}

// Run refreshes on a ticker until the context is cancelled. One pass runs
// immediately at startup so tokens are fresh before the first motion event.
func (r *Refresher) Run(ctx context.Context) {
	r.log.Info().
		Dur("interval", r.conf.Interval).
		Dur("buffer", r.conf.Buffer).
		Msg("token refresher started")

	if _, err := r.RefreshOnce(ctx); err != nil {
		r.log.Warn().Err(err).Msg("refresh pass failed")
	}

	ticker := time.NewTicker(r.conf.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.log.Info().Msg("token refresher stopped")
			return
		case <-ticker.C:
			if _, err := r.RefreshOnce(ctx); err != nil {
				r.log.Warn().Err(err).Msg("refresh pass failed")
			}
		}
	}
}

// RefreshOnce performs exactly one pass over all active connected users. A
// per-user failure is recorded and the pass continues; after a pass every
// user not in the error list holds a token valid beyond the buffer.
func (r *Refresher) RefreshOnce(ctx context.Context) (*Summary, error) {
	summary := &Summary{}
	after := ""

	for {
		page, err := r.users.ListActiveConnected(ctx, after, r.conf.PageSize)
		if err != nil {
			return summary, fmt.Errorf("refresh: list users: %w", err)
		}
		if len(page) == 0 {
			break
		}
		for _, user := range page {
			summary.Checked++
			switch refreshed, err := r.refreshUser(ctx, user); {
			case err != nil:
				summary.Errors = append(summary.Errors,
					fmt.Sprintf("%s: %v", user.UserID, err))
				metrics.IncTokenRefresh("error")
			case refreshed:
				summary.Refreshed++
				metrics.IncTokenRefresh("refreshed")
			default:
				summary.Skipped++
				metrics.IncTokenRefresh("skipped")
			}
		}
		after = page[len(page)-1].UserID
	}

	r.log.Info().
		Int("checked", summary.Checked).
		Int("refreshed", summary.Refreshed).
		Int("skipped", summary.Skipped).
		Int("errors", len(summary.Errors)).
		Msg("refresh pass finished")
	return summary, nil
}

func (r *Refresher) refreshUser(ctx context.Context, user *model.User) (bool, error) {
	if user.SpotifyTokenSecretRef == "" {
		return false, errors.New("no secret ref")
	}

	bundle, err := r.secrets.Get(ctx, user.SpotifyTokenSecretRef)
	if err != nil {
		return false, fmt.Errorf("fetch secret: %w", err)
	}

	now := r.clock.Now()
	if bundle.FreshFor(now, r.conf.Buffer) {
		return false, nil
	}
	if bundle.RefreshToken == "" {
		return false, errors.New("no refresh token")
	}

	grant, err := r.streaming.RefreshToken(ctx, bundle.RefreshToken)
	if err != nil {
		return false, fmt.Errorf("exchange: %w", err)
	}

	next := &model.SecretBundle{
		AccessToken:   grant.AccessToken,
		RefreshToken:  bundle.RefreshToken,
		ExpiresAt:     now.Add(time.Duration(grant.ExpiresInSec) * time.Second),
		Scope:         grant.Scope,
		LastRefreshed: now,
	}
	// The authorisation server may rotate the refresh token.
	if grant.RefreshToken != "" {
		next.RefreshToken = grant.RefreshToken
	}
	if next.Scope == "" {
		next.Scope = bundle.Scope
	}

	if err := r.secrets.Put(ctx, user.SpotifyTokenSecretRef, next); err != nil {
		return false, fmt.Errorf("write back: %w", err)
	}
	r.secrets.Invalidate(user.SpotifyTokenSecretRef)

	r.log.Debug().
		Str("user_id", user.UserID).
		Time("expires_at", next.ExpiresAt).
		Msg("token refreshed")
	return true, nil
}
