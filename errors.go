package authsync

import (
	"context"
	"errors"

	goerrors "github.com/goliatone/go-errors"
)

const (
	TextCodeNetwork            = "NETWORK_ERROR"
	TextCodeAuthRejected       = "AUTH_REJECTED"
	TextCodeForbidden          = "AUTH_FORBIDDEN"
	TextCodeIntegrityViolation = "INTEGRITY_VIOLATION"
	TextCodeValidation         = "VALIDATION_ERROR"
	TextCodeServer             = "SERVER_ERROR"
	TextCodeInvalidResponse    = "INVALID_BACKEND_RESPONSE"
	TextCodeInvalidTransition  = "INVALID_AUTH_TRANSITION"
	TextCodeNotAuthenticated   = "NOT_AUTHENTICATED"
	TextCodeLoginSuperseded    = "LOGIN_SUPERSEDED"
	TextCodeUnsupported        = "BACKEND_UNSUPPORTED"
)

// ErrInvalidTransition is returned when a status change is not in the transition table.
var ErrInvalidTransition = goerrors.New("invalid auth state transition", goerrors.CategoryValidation).
	WithTextCode(TextCodeInvalidTransition).
	WithCode(goerrors.CodeBadRequest)

// ErrNotAuthenticated is returned by operations that need a live session.
var ErrNotAuthenticated = goerrors.New("no authenticated session", goerrors.CategoryAuth).
	WithTextCode(TextCodeNotAuthenticated).
	WithCode(goerrors.CodeUnauthorized)

// ErrLoginSuperseded is returned by a login whose response arrived after a
// logout committed.
var ErrLoginSuperseded = goerrors.New("login superseded by logout", goerrors.CategoryConflict).
	WithTextCode(TextCodeLoginSuperseded).
	WithCode(goerrors.CodeConflict)

// ErrUnsupported is returned when the backend lacks an optional capability
// such as token refresh or session extension.
var ErrUnsupported = goerrors.New("operation not supported by backend", goerrors.CategoryOperation).
	WithTextCode(TextCodeUnsupported).
	WithCode(goerrors.CodeBadRequest)

var errMissingCollaborator = errors.New("backend and cookie source are required")

// NewNetworkError wraps a transport failure (timeout, offline, refused).
func NewNetworkError(cause error, message string) error {
	if cause == nil {
		cause = errors.New(message)
	}
	return goerrors.Wrap(cause, goerrors.CategoryOperation, message).
		WithTextCode(TextCodeNetwork)
}

// NewAuthRejectedError reports a 401 from the backend.
func NewAuthRejectedError(message string) error {
	if message == "" {
		message = "credential rejected"
	}
	return goerrors.New(message, goerrors.CategoryAuth).
		WithTextCode(TextCodeAuthRejected).
		WithCode(goerrors.CodeUnauthorized)
}

// NewForbiddenError reports a 403 from the backend.
func NewForbiddenError(message string) error {
	if message == "" {
		message = "access forbidden"
	}
	return goerrors.New(message, goerrors.CategoryAuthz).
		WithTextCode(TextCodeForbidden).
		WithCode(goerrors.CodeForbidden)
}

// NewServerError reports a 5xx (or otherwise unexpected) backend response.
func NewServerError(status int, message string) error {
	if message == "" {
		message = "backend error"
	}
	return goerrors.New(message, goerrors.CategoryInternal).
		WithTextCode(TextCodeServer).
		WithCode(status)
}

// NewIntegrityViolationError reports a cookie/session/user mismatch.
func NewIntegrityViolationError(message string) error {
	return goerrors.New(message, goerrors.CategoryConflict).
		WithTextCode(TextCodeIntegrityViolation).
		WithCode(goerrors.CodeConflict)
}

// NewValidationError wraps a local input validation failure.
func NewValidationError(cause error) error {
	return goerrors.Wrap(cause, goerrors.CategoryValidation, "validation failed").
		WithTextCode(TextCodeValidation).
		WithCode(goerrors.CodeBadRequest)
}

func newInvalidResponseError(message string) error {
	return goerrors.New(message, goerrors.CategoryInternal).
		WithTextCode(TextCodeInvalidResponse).
		WithCode(goerrors.CodeInternal)
}

// IsNetworkError reports transport failures, including deadline expiry.
func IsNetworkError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	return hasTextCode(err, TextCodeNetwork)
}

// IsAuthRejected reports a 401 or a 403 from the backend. Both are handled
// as "re-verify the session", never as an immediate logout.
func IsAuthRejected(err error) bool {
	return hasTextCode(err, TextCodeAuthRejected) || hasTextCode(err, TextCodeForbidden)
}

// IsForbidden reports a 403 only.
func IsForbidden(err error) bool {
	return hasTextCode(err, TextCodeForbidden)
}

// IsValidationError reports local input validation failures.
func IsValidationError(err error) bool {
	return hasTextCode(err, TextCodeValidation)
}

// IsIntegrityViolation reports cookie/session/user mismatches.
func IsIntegrityViolation(err error) bool {
	return hasTextCode(err, TextCodeIntegrityViolation)
}

// ErrorMessage returns the human readable part of err.
func ErrorMessage(err error) string {
	if err == nil {
		return ""
	}
	var rich *goerrors.Error
	if goerrors.As(err, &rich) && rich.Message != "" {
		return rich.Message
	}
	return err.Error()
}

func hasTextCode(err error, code string) bool {
	for err != nil {
		var rich *goerrors.Error
		if !goerrors.As(err, &rich) {
			return false
		}
		if rich.TextCode == code {
			return true
		}
		err = errors.Unwrap(rich)
	}
	return false
}
