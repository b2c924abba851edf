// SPDX-License-Identifier: MIT

package spotify

import (
	"errors"
	"fmt"
	"time"
)

var (
	// Sentinel errors for errors.Is checks at the boundary.
	ErrAuth        = errors.New("spotify: access token rejected")
	ErrRateLimited = errors.New("spotify: rate limited")
	ErrUpstream    = errors.New("spotify: upstream error")
	ErrTransport   = errors.New("spotify: transport failure")
	ErrBadResponse = errors.New("spotify: malformed response")
)

// APIError wraps the sentinel errors with call context. RetryAfter is only
// set for ErrRateLimited, taken from the Retry-After header.
type APIError struct {
	Sentinel   error
	Operation  string
	Status     int
	RetryAfter time.Duration
	Err        error
}

func (e *APIError) Error() string {
	msg := fmt.Sprintf("spotify: %s: %v", e.Operation, e.Sentinel)
	if e.Status > 0 {
		msg = fmt.Sprintf("%s (HTTP %d)", msg, e.Status)
	}
	if e.RetryAfter > 0 {
		msg = fmt.Sprintf("%s, retry after %s", msg, e.RetryAfter)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *APIError) Unwrap() error {
	return e.Sentinel
}
