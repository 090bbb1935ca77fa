package attendance

import (
	"errors"
	"fmt"
)

// Kind is the stable, machine-readable class of a core error.
type Kind string

const (
	KindAccessDenied    Kind = "access_denied"
	KindNotFound        Kind = "not_found"
	KindNotEnrolled     Kind = "not_enrolled"
	KindAlreadyMarked   Kind = "already_marked"
	KindAlreadyEnrolled Kind = "already_enrolled"
	KindDuplicateKey    Kind = "duplicate_key"
	KindValidation      Kind = "validation_error"
	KindStore           Kind = "store_error"
)

// Error carries a Kind plus a human-readable message.
type Error struct {
	Kind    Kind
	Message string
	Details any
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same Kind, so errors.Is(err, ErrNotFound)
// holds for every not-found error regardless of message.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind
}

var (
	ErrAccessDenied    = &Error{Kind: KindAccessDenied, Message: "access denied"}
	ErrNotFound        = &Error{Kind: KindNotFound, Message: "not found"}
	ErrNotEnrolled     = &Error{Kind: KindNotEnrolled, Message: "student is not enrolled in this class"}
	ErrAlreadyMarked   = &Error{Kind: KindAlreadyMarked, Message: "attendance already marked for today"}
	ErrAlreadyEnrolled = &Error{Kind: KindAlreadyEnrolled, Message: "student is already enrolled in this class"}
	ErrDuplicateKey    = &Error{Kind: KindDuplicateKey, Message: "value already used by another record"}
	ErrValidation      = &Error{Kind: KindValidation, Message: "validation failed"}
	ErrStore           = &Error{Kind: KindStore, Message: "store failure"}
)

func newError(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Message: msg}
}

// Validation builds a validation error with the given message.
func Validation(msg string) *Error {
	return newError(KindValidation, msg)
}

// NotFound builds a not-found error naming the missing resource.
func NotFound(resource string) *Error {
	return newError(KindNotFound, resource+" not found")
}

// DuplicateKey builds a duplicate-key error naming the clashing field.
func DuplicateKey(msg string) *Error {
	return newError(KindDuplicateKey, msg)
}

// StoreFailure wraps an unclassified store error.
func StoreFailure(op string, err error) *Error {
	return &Error{Kind: KindStore, Message: op, Err: err}
}

// KindOf returns the Kind of err, or KindStore for errors outside the
// taxonomy.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindStore
}

// classify makes sure whatever leaves the service is an *Error.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	return StoreFailure(op, err)
}
