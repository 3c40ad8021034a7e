package domain

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorKind classifies failures surfaced by the core.
type ErrorKind string

// Error kinds. Validation, authorization and not-found errors are user-facing
// rejections; conflict requires operator intervention; fatal covers
// infrastructure failures after rollback.
const (
	KindValidation    ErrorKind = "validation"
	KindAuthorization ErrorKind = "authorization"
	KindNotFound      ErrorKind = "not_found"
	KindConflict      ErrorKind = "conflict"
	KindFatal         ErrorKind = "fatal"
)

// ErrNotFound is returned by stores when a record does not exist.
var ErrNotFound = errors.New("record not found")

// Error is a structured rejection carrying a user-facing message.
type Error struct {
	Kind    ErrorKind
	Message string
	Details []string
	Err     error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Message)
	if len(e.Details) > 0 {
		b.WriteString(": ")
		b.WriteString(strings.Join(e.Details, "; "))
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches another *Error of the same kind, so errors.Is(err, &Error{Kind: KindConflict}) works.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && (t.Message == "" || t.Message == e.Message)
}

// Validationf builds a validation error.
func Validationf(format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

// Unauthorized builds an authorization error.
func Unauthorized(format string, args ...any) *Error {
	return &Error{Kind: KindAuthorization, Message: fmt.Sprintf(format, args...)}
}

// NotFound builds a not-found error for an entity identifier.
func NotFound(entity EntityType, id any) *Error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf("%s %v not found", entity, id), Err: ErrNotFound}
}

// Conflict builds a conflict error.
func Conflict(format string, args ...any) *Error {
	return &Error{Kind: KindConflict, Message: fmt.Sprintf(format, args...)}
}

// Fatal wraps an infrastructure failure.
func Fatal(err error, format string, args ...any) *Error {
	return &Error{Kind: KindFatal, Message: fmt.Sprintf(format, args...), Err: err}
}

// WithDetails returns a copy of e carrying the supplied detail lines.
func (e *Error) WithDetails(details ...string) *Error {
	cp := *e
	cp.Details = append(append([]string(nil), e.Details...), details...)
	return &cp
}

// KindOf reports the kind of err. Unclassified errors are fatal.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	var rv RuleViolationError
	if errors.As(err, &rv) {
		return KindConflict
	}
	if errors.Is(err, ErrNotFound) {
		return KindNotFound
	}
	return KindFatal
}

// IsKind reports whether err is classified as kind.
func IsKind(err error, kind ErrorKind) bool {
	return err != nil && KindOf(err) == kind
}
