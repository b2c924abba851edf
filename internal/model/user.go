// SPDX-License-Identifier: MIT

package model

import "time"

// User owns sensors and a connection to the streaming service. The actual
// OAuth tokens live in the secret store, never on this record.
type User struct {
	UserID                string    `json:"userId"`
	Email                 string    `json:"email"`
	Active                bool      `json:"active"`
	SpotifyConnected      bool      `json:"spotifyConnected"`
	SpotifyTokenSecretRef string    `json:"spotifyTokenSecretRef,omitempty"`
	Timezone              string    `json:"timezone,omitempty"` // IANA zone; empty means UTC
	CreatedAt             time.Time `json:"createdAt"`
	UpdatedAt             time.Time `json:"updatedAt"`
}

// Location resolves the user's timezone, defaulting to UTC when the field is
// absent or unparseable.
func (u *User) Location() *time.Location {
	if u == nil || u.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(u.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// SecretBundle is the per-user token material held in the secret store.
type SecretBundle struct {
	AccessToken   string    `json:"accessToken"`
	RefreshToken  string    `json:"refreshToken"`
	ExpiresAt     time.Time `json:"expiresAt"`
	Scope         string    `json:"scope,omitempty"`
	LastRefreshed time.Time `json:"lastRefreshed,omitempty"`
}

// FreshFor reports whether the access token is still valid for at least the
// given buffer past now.
func (b *SecretBundle) FreshFor(now time.Time, buffer time.Duration) bool {
	if b == nil || b.AccessToken == "" {
		return false
	}
	return b.ExpiresAt.Sub(now) > buffer
}
