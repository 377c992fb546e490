package identity

import (
	"errors"
	"fmt"
)

// ErrorKind classifies failures across the linking and session layers
type ErrorKind string

const (
	KindValidation       ErrorKind = "validation"
	KindConflict         ErrorKind = "conflict"
	KindLeaseContention  ErrorKind = "lease_contention"
	KindMigrationFailure ErrorKind = "migration_failure"
	KindSessionExpired   ErrorKind = "session_expired"
	KindStoreUnavailable ErrorKind = "store_unavailable"
	KindNotFound         ErrorKind = "not_found"
	KindInternal         ErrorKind = "internal"
)

// Error is the error type returned by every identity operation
type Error struct {
	Kind    ErrorKind
	Op      string
	Message string
	Err     error

	// DataIntact is true when the anonymous identity and its data are
	// known to be untouched by the failed operation
	DataIntact bool

	// Attempts is the number of tries made when a retry policy was applied
	Attempts int
}

// NewError creates an error with a message and no cause
func NewError(kind ErrorKind, op, message string) *Error {
	return &Error{Kind: kind, Op: op, Message: message}
}

// Wrap creates an error of the given kind around a cause
func Wrap(kind ErrorKind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	} else if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	if e.Op == "" {
		return fmt.Sprintf("%s: %s", e.Kind, msg)
	}
	return fmt.Sprintf("%s: %s: %s", e.Op, e.Kind, msg)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches another *Error by kind so errors.Is(err, ErrConflict) works
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Op == "" && t.Message == "" && t.Err == nil && t.Kind == e.Kind
}

// Sentinels for errors.Is comparisons
var (
	ErrValidation       = &Error{Kind: KindValidation}
	ErrConflict         = &Error{Kind: KindConflict}
	ErrLeaseContention  = &Error{Kind: KindLeaseContention}
	ErrMigrationFailure = &Error{Kind: KindMigrationFailure}
	ErrSessionExpired   = &Error{Kind: KindSessionExpired}
	ErrStoreUnavailable = &Error{Kind: KindStoreUnavailable}
	ErrNotFound         = &Error{Kind: KindNotFound}
)

// KindOf returns the kind of the first *Error in the chain, or KindInternal
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// IsRetryable reports whether the failure is transient
func IsRetryable(err error) bool {
	switch KindOf(err) {
	case KindLeaseContention, KindStoreUnavailable:
		return true
	default:
		return false
	}
}

// DataIntact reports whether err guarantees the anonymous data is untouched
func DataIntact(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.DataIntact
	}
	return false
}
