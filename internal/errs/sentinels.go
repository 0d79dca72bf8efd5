// Package errs contains sentinel errors used across layers for stable error mapping.
package errs

import (
	"errors"
	"time"
)

// Kind is a stable machine-readable error class surfaced to API clients.
type Kind string

// Admission protocol error kinds.
const (
	KindRateLimited        Kind = "RateLimited"
	KindIssuanceFailure    Kind = "IssuanceFailure"
	KindHashMismatch       Kind = "HashMismatch"
	KindExpired            Kind = "Expired"
	KindInvalidSession     Kind = "InvalidSession"
	KindDuplicatePerson    Kind = "DuplicatePerson"
	KindDuplicateDevice    Kind = "DuplicateDevice"
	KindOutOfRange         Kind = "OutOfRange"
	KindMissingFields      Kind = "MissingFields"
	KindPersistenceFailure Kind = "PersistenceFailure"
)

// Error is a protocol error with a kind and a human message.
type Error struct {
	Kind Kind
	Msg  string
	// RetryAfter is set for RateLimited errors.
	RetryAfter time.Duration
	// Err is the underlying cause, never shown to clients.
	Err error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return string(e.Kind) + ": " + e.Msg + ": " + e.Err.Error()
	}
	return string(e.Kind) + ": " + e.Msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same kind, so errors.Is(err, ErrOutOfRange)
// holds for every OutOfRange error regardless of message.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

// New builds a protocol error of the given kind.
func New(kind Kind, msg string) error {
	return &Error{Kind: kind, Msg: msg}
}

// Wrap builds a protocol error that keeps cause for logging.
func Wrap(kind Kind, msg string, cause error) error {
	return &Error{Kind: kind, Msg: msg, Err: cause}
}

// RateLimited builds a RateLimited error carrying a retry-after hint.
func RateLimited(retryAfter time.Duration) error {
	return &Error{Kind: KindRateLimited, Msg: "too many requests", RetryAfter: retryAfter}
}

// KindOf returns the protocol kind of err, or "" for foreign errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// Message returns the client-facing message of a protocol error.
func Message(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Msg
	}
	return "internal error"
}

// RetryAfter extracts the retry hint of a RateLimited error.
func RetryAfter(err error) time.Duration {
	var e *Error
	if errors.As(err, &e) {
		return e.RetryAfter
	}
	return 0
}

// Protocol sentinels, one per kind.
var (
	ErrRateLimited        = &Error{Kind: KindRateLimited, Msg: "too many requests"}
	ErrIssuanceFailure    = &Error{Kind: KindIssuanceFailure, Msg: "failed to issue session"}
	ErrHashMismatch       = &Error{Kind: KindHashMismatch, Msg: "integrity hash mismatch"}
	ErrExpired            = &Error{Kind: KindExpired, Msg: "QR code expired"}
	ErrInvalidSession     = &Error{Kind: KindInvalidSession, Msg: "invalid or expired session"}
	ErrDuplicatePerson    = &Error{Kind: KindDuplicatePerson, Msg: "attendance already marked today"}
	ErrDuplicateDevice    = &Error{Kind: KindDuplicateDevice, Msg: "this device was already used today"}
	ErrOutOfRange         = &Error{Kind: KindOutOfRange, Msg: "outside the allowed area"}
	ErrMissingFields      = &Error{Kind: KindMissingFields, Msg: "missing required fields"}
	ErrPersistenceFailure = &Error{Kind: KindPersistenceFailure, Msg: "failed to save attendance"}
)

// Common sentinels across repo/service layers.
var (
	// ErrNotFound indicates the requested entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrUnauthorized indicates failed authentication/authorization.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrAlreadyExists indicates a unique constraint violation (e.g., username taken).
	ErrAlreadyExists = errors.New("already exists")
)
