package auth

import (
	"errors"
	"fmt"
)

// Kind classifies an authentication or authorization failure.
type Kind string

// Failure kinds.
const (
	KindUnauthorized   Kind = "UNAUTHORIZED"
	KindForbidden      Kind = "FORBIDDEN"
	KindBadCredentials Kind = "BAD_CREDENTIALS"
	KindValidation     Kind = "VALIDATION_ERROR"
	KindConsistency    Kind = "CONSISTENCY_ERROR"
	KindUpstream       Kind = "UPSTREAM_ERROR"
)

// Sentinel errors, one per kind. An *Error matches the sentinel of its kind
// under errors.Is.
var (
	ErrUnauthorized   = &Error{Kind: KindUnauthorized, Message: "authentication required"}
	ErrForbidden      = &Error{Kind: KindForbidden, Message: "insufficient permissions"}
	ErrBadCredentials = &Error{Kind: KindBadCredentials, Message: "invalid username or password"}
	ErrValidation     = &Error{Kind: KindValidation, Message: "invalid request"}
	ErrConsistency    = &Error{Kind: KindConsistency, Message: "identity could not be ensured"}
	ErrUpstream       = &Error{Kind: KindUpstream, Message: "upstream service error"}
)

// Error is a typed rejection carrying a user-facing message.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}

	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error of the same kind.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}

	return t.Kind == e.Kind
}

// Errorf returns an *Error of the given kind with a formatted message.
func Errorf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches cause to a new *Error of the given kind.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Err: cause}
}

// KindOf returns the kind of the first *Error in err's chain, or "" if none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}

	return ""
}
