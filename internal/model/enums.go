// SPDX-License-Identifier: MIT

// Package model defines the persisted entities of the motion-to-music engine.
package model

// SessionStatus is the lifecycle of a playback session.
type SessionStatus string

const (
	SessionActive    SessionStatus = "active"
	SessionCompleted SessionStatus = "completed"
)

// IsTerminal returns true if the status is final.
func (s SessionStatus) IsTerminal() bool {
	return s == SessionCompleted
}

// EventType classifies an incoming sensor message.
type EventType string

const (
	EventMotionDetected EventType = "motion_detected"
	EventMotionCleared  EventType = "motion_cleared"
	EventHeartbeat      EventType = "heartbeat"
)

// ActionTaken is the terminal outcome of one dispatcher invocation.
// Keep these stable: metrics and the dashboard depend on them.
type ActionTaken string

const (
	ActionIgnoredDisabled   ActionTaken = "ignored_disabled"
	ActionIgnoredQuietHours ActionTaken = "ignored_quiet_hours"
	ActionIgnoredDebounce   ActionTaken = "ignored_debounce"
	ActionPlaybackStarted   ActionTaken = "playback_started"
	ActionPlaybackResumed   ActionTaken = "playback_resumed"
	ActionAlreadyPlaying    ActionTaken = "already_playing"
	ActionError             ActionTaken = "error"

	// ActionAuditOnly marks motion_cleared and heartbeat records, which are
	// archived but never drive playback.
	ActionAuditOnly ActionTaken = "audit_only"
)
