package rpc

import (
	"errors"
	"fmt"

	"clicker-backend/internal/domain"
)

// Wire error codes.
const (
	CodeNotFound        = "not_found"
	CodeSessionInactive = "session_inactive"
	CodeValidation      = "validation"
	CodeRateLimited     = "rate_limited"
	CodeDegraded        = "degraded"
	CodeQueueFull       = "queue_full"
	CodeDeadline        = "deadline_exceeded"
	CodeUnavailable     = "unavailable"
	CodeInternal        = "internal"
)

// Error is the payload of an error frame. Code is machine-readable;
// Message is safe to log and forward.
type Error struct {
	Code    string `msgpack:"code"`
	Message string `msgpack:"message"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("rpc %s: %s", e.Code, e.Message)
}

// Domain maps a wire error back onto the shared sentinels so callers can
// use errors.Is across the RPC boundary.
func (e *Error) Domain() error {
	switch e.Code {
	case CodeNotFound:
		return fmt.Errorf("%w: %s", domain.ErrUserNotFound, e.Message)
	case CodeSessionInactive:
		return fmt.Errorf("%w: %s", domain.ErrSessionInactive, e.Message)
	case CodeRateLimited:
		return fmt.Errorf("%w: %s", domain.ErrRateLimited, e.Message)
	case CodeDegraded:
		return fmt.Errorf("%w: %s", domain.ErrShardDegraded, e.Message)
	case CodeQueueFull:
		return fmt.Errorf("%w: %s", domain.ErrQueueFull, e.Message)
	case CodeValidation:
		return &domain.ValidationError{Reason: e.Message}
	}
	return e
}

// toWireError classifies a handler error into a wire error.
func toWireError(err error) *Error {
	var wireErr *Error
	if errors.As(err, &wireErr) {
		return wireErr
	}
	switch {
	case domain.IsValidation(err):
		return &Error{Code: CodeValidation, Message: err.Error()}
	case errors.Is(err, domain.ErrUserNotFound), errors.Is(err, domain.ErrSessionNotFound):
		return &Error{Code: CodeNotFound, Message: err.Error()}
	case errors.Is(err, domain.ErrSessionInactive):
		return &Error{Code: CodeSessionInactive, Message: err.Error()}
	case errors.Is(err, domain.ErrRateLimited):
		return &Error{Code: CodeRateLimited, Message: err.Error()}
	case errors.Is(err, domain.ErrShardDegraded):
		return &Error{Code: CodeDegraded, Message: err.Error()}
	case errors.Is(err, domain.ErrQueueFull):
		return &Error{Code: CodeQueueFull, Message: err.Error()}
	case errors.Is(err, errDeadline):
		return &Error{Code: CodeDeadline, Message: err.Error()}
	}
	return &Error{Code: CodeInternal, Message: err.Error()}
}

var errDeadline = errors.New("deadline exceeded")
