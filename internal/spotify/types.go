// SPDX-License-Identifier: MIT

package spotify

// PlaybackState is the player snapshot from GET /me/player. A nil state from
// GetPlaybackState means no active playback (the API answered 204).
type PlaybackState struct {
	IsPlaying  bool
	DeviceID   string
	DeviceName string
	ContextURI string
	TrackURI   string
}

// PausedWithContext reports whether the player sits paused inside a playlist
// or album, i.e. a start would resume rather than begin fresh.
func (s *PlaybackState) PausedWithContext() bool {
	return s != nil && !s.IsPlaying && s.ContextURI != ""
}

// Device is one entry from GET /me/player/devices.
type Device struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	Type          string `json:"type"`
	IsActive      bool   `json:"is_active"`
	IsRestricted  bool   `json:"is_restricted"`
	VolumePercent int    `json:"volume_percent"`
}

// StartRequest describes a playback start.
type StartRequest struct {
	DeviceID      string
	ContextURI    string
	Shuffle       bool
	VolumePercent *int
}

// TokenGrant is the result of a refresh-token exchange. RefreshToken is empty
// unless the authorisation server rotated it.
type TokenGrant struct {
	AccessToken  string
	ExpiresInSec int
	Scope        string
	RefreshToken string
}
