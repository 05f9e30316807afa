package domain

import (
	"errors"
	"fmt"
)

// Error kinds reported by the marketplace engine. Callers match them with
// errors.Is; none of them is ever retried internally.
var (
	ErrValidation   = errors.New("validation error")
	ErrNotFound     = errors.New("not found")
	ErrState        = errors.New("invalid state")
	ErrUnauthorized = errors.New("unauthorized")
)

// Infrastructure errors.
var (
	ErrAlreadyExists = errors.New("already exists")
	ErrRateLimited   = errors.New("rate limited")
	ErrLockHeld      = errors.New("lock already held")
)

// Error is a structured business error. Kind is one of the kinds above and is
// what Unwrap returns, so errors.Is(err, ErrState) holds for a state error.
type Error struct {
	Kind error
	Op   string
	Msg  string
}

func (e *Error) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
	}
	return fmt.Sprintf("%s: %s: %s", e.Op, e.Kind, e.Msg)
}

func (e *Error) Unwrap() error {
	return e.Kind
}

// NewValidationError reports malformed or missing input.
func NewValidationError(op, format string, args ...any) *Error {
	return &Error{Kind: ErrValidation, Op: op, Msg: fmt.Sprintf(format, args...)}
}

// NewNotFoundError reports an unknown listing, bid, offer or sale id.
func NewNotFoundError(op, format string, args ...any) *Error {
	return &Error{Kind: ErrNotFound, Op: op, Msg: fmt.Sprintf(format, args...)}
}

// NewStateError reports an operation that is invalid for the current status.
func NewStateError(op, format string, args ...any) *Error {
	return &Error{Kind: ErrState, Op: op, Msg: fmt.Sprintf(format, args...)}
}

// NewAuthorizationError reports an actor that may not perform the operation.
func NewAuthorizationError(op, format string, args ...any) *Error {
	return &Error{Kind: ErrUnauthorized, Op: op, Msg: fmt.Sprintf(format, args...)}
}
