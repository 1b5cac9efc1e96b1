// Package cache implements the workspace cache engine: schema, pooled
// connections, the query sanitizer, the named lock manager, and the user
// and channel repositories that back sub-10ms lookups and search.
package cache

import (
	"errors"
	"fmt"
)

// Kind classifies a cache-layer error into the taxonomy from the spec's
// error model. Callers can compare with errors.Is against the sentinel
// values below, or extract the *Error with errors.As and switch on Kind
// (as Project does).
type Kind int

const (
	KindPoolExhausted Kind = iota
	KindDatabase
	KindSerialization
	KindLockAcquisitionFailed
	KindClock
	KindInvalidQuery
	KindInvalidInput
)

func (k Kind) String() string {
	switch k {
	case KindPoolExhausted:
		return "pool_exhausted"
	case KindDatabase:
		return "database"
	case KindSerialization:
		return "serialization"
	case KindLockAcquisitionFailed:
		return "lock_acquisition_failed"
	case KindClock:
		return "clock"
	case KindInvalidQuery:
		return "invalid_query"
	case KindInvalidInput:
		return "invalid_input"
	default:
		return "unknown"
	}
}

// Error is the cache layer's typed error. It wraps an underlying cause
// (when one exists) and carries the Kind the repository boundary uses to
// project onto a protocol error.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// Is reports whether target is a *Error with the same Kind, so callers can
// write errors.Is(err, cache.ErrLockAcquisitionFailed) against the sentinel
// values declared below.
func (e *Error) Is(target error) bool {
	var other *Error
	if !errors.As(target, &other) {
		return false
	}
	return e.Kind == other.Kind
}

func newErr(kind Kind, msg string, cause error) *Error {
	return &Error{Kind: kind, Message: msg, Cause: cause}
}

// Sentinel values usable with errors.Is. Only Kind is compared, so any
// *Error of matching Kind is considered a match.
var (
	ErrPoolExhausted         = &Error{Kind: KindPoolExhausted}
	ErrDatabase              = &Error{Kind: KindDatabase}
	ErrSerialization         = &Error{Kind: KindSerialization}
	ErrLockAcquisitionFailed = &Error{Kind: KindLockAcquisitionFailed}
	ErrClock                 = &Error{Kind: KindClock}
	ErrInvalidQuery          = &Error{Kind: KindInvalidQuery}
	ErrInvalidInput          = &Error{Kind: KindInvalidInput}
)

// LockAcquisitionFailed carries the lock name and attempt count so callers
// can report a retry hint, per spec.md §4.4's failure semantics.
type LockAcquisitionFailed struct {
	Name     string
	Attempts int
}

func (e *LockAcquisitionFailed) Error() string {
	return fmt.Sprintf("lock %q: failed to acquire after %d attempts", e.Name, e.Attempts)
}

// WrapLockFailure builds the typed cache error for a failed acquisition.
func WrapLockFailure(name string, attempts int) *Error {
	return newErr(KindLockAcquisitionFailed, fmt.Sprintf("lock %q", name), &LockAcquisitionFailed{Name: name, Attempts: attempts})
}

// WrapDatabase wraps a raw database/sql error as a cache error.
func WrapDatabase(op string, err error) error {
	if err == nil {
		return nil
	}
	return newErr(KindDatabase, op, err)
}

// WrapSerialization wraps a JSON marshal/unmarshal error.
func WrapSerialization(op string, err error) error {
	if err == nil {
		return nil
	}
	return newErr(KindSerialization, op, err)
}

// WrapPoolExhausted builds the pool-exhaustion error.
func WrapPoolExhausted(cause error) error {
	return newErr(KindPoolExhausted, "connection pool exhausted", cause)
}

// WrapClock builds a system-clock error (e.g. strftime evaluation failure).
func WrapClock(cause error) error {
	return newErr(KindClock, "system clock", cause)
}

// InvalidQuery builds the invalid-query error for a rejected search input.
func InvalidQuery(reason string) error {
	return newErr(KindInvalidQuery, reason, nil)
}

// InvalidInput builds the invalid-input error for a malformed entity.
func InvalidInput(reason string) error {
	return newErr(KindInvalidInput, reason, nil)
}
