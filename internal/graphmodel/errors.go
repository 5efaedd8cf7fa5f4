package graphmodel

import (
	"errors"
	"fmt"
)

// ErrorKind is the discriminated error taxonomy from spec.md §7.
type ErrorKind string

const (
	KindTransient      ErrorKind = "transient"
	KindTimeout        ErrorKind = "timeout"
	KindValidation     ErrorKind = "validation"
	KindConflict       ErrorKind = "conflict"
	KindNotFound       ErrorKind = "not_found"
	KindProviderFailure ErrorKind = "provider_failure"
	KindFatal          ErrorKind = "fatal"
)

// Error wraps an underlying error with a Kind so callers can branch on
// policy (retry, surface, route to conflict resolver, reject at the
// boundary) without string-matching messages.
type Error struct {
	Kind    ErrorKind
	Op      string
	Field   string
	err     error
}

func (e *Error) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s: %s (field=%s): %v", e.Op, e.Kind, e.Field, e.err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.err)
}

func (e *Error) Unwrap() error { return e.err }

// Is lets errors.Is(err, graphmodel.KindNotFound) style checks work by
// comparing Kind via a sentinel wrapper; callers typically use IsKind
// instead, but this supports errors.Is(err, &Error{Kind: KindNotFound}).
func (e *Error) Is(target error) bool {
	var other *Error
	if errors.As(target, &other) {
		return e.Kind == other.Kind
	}
	return false
}

// NewError builds a typed Error for op (e.g. "entities.create") wrapping
// the underlying cause.
func NewError(kind ErrorKind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, err: err}
}

// NewValidationError builds a KindValidation error naming the offending
// field, per spec.md §7's policy of rejecting at the boundary with the
// offending field identified.
func NewValidationError(op, field string, err error) *Error {
	return &Error{Kind: KindValidation, Op: op, Field: field, err: err}
}

// IsKind reports whether err (or any error in its chain) is a *Error with
// the given Kind.
func IsKind(err error, kind ErrorKind) bool {
	var ge *Error
	if errors.As(err, &ge) {
		return ge.Kind == kind
	}
	return false
}

var (
	// ErrEntityNotFound and friends are used with errors.Is against the
	// unwrapped sentinel, for callers that don't need the structured form.
	ErrEntityNotFound   = errors.New("entity not found")
	ErrEntityConflict   = errors.New("entity conflict")
	ErrSchemaViolation  = errors.New("schema violation")
	ErrRelationshipNotFound = errors.New("relationship not found")
)
