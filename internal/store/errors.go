// SPDX-License-Identifier: MIT

package store

import "errors"

var (
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("record not found")

	// ErrBusy is returned when a conditional write kept conflicting after
	// retries.
	ErrBusy = errors.New("store busy: conditional write conflict")
)
