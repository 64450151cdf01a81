// SPDX-License-Identifier: MIT

package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors for expected outcomes. Handlers map these to HTTP status
// codes; nothing in this package panics for an expected condition.
var (
	ErrNotFound          = errors.New("not found")
	ErrAlreadyEnqueued   = errors.New("user is already in queue")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrQueueClosed       = errors.New("queue is not accepting users")
	ErrTenantInactive    = errors.New("tenant is inactive")
	ErrRateLimited       = errors.New("rate limit exceeded")
)

// ValidationError reports a rejected field with the reason.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Reason)
}

// Validation builds a ValidationError.
func Validation(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// IsValidation reports whether err is a validation failure.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
