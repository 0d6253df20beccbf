package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors shared across services. The RPC layer maps these onto
// wire error codes so callers can branch on them after a remote call.
var (
	ErrUserNotFound    = errors.New("user not found")
	ErrSessionNotFound = errors.New("session not found")
	ErrSessionInactive = errors.New("session is not active")
	ErrRateLimited     = errors.New("rate limited")
	ErrShardDegraded   = errors.New("shard is degraded")
	ErrQueueFull       = errors.New("shard ingestion queue is full")
)

// ValidationError reports a client-supplied value that failed validation.
// Protocol errors keep the connection open; the message is safe to forward
// to the client.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return e.Reason
}

// Validationf builds a ValidationError from a format string.
func Validationf(format string, args ...interface{}) error {
	return &ValidationError{Reason: fmt.Sprintf(format, args...)}
}

// IsValidation reports whether err is (or wraps) a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
