// Package domainerrors defines the typed error taxonomy shared across the
// service. Every failure that crosses a package boundary carries a Code so
// transport layers can translate it without inspecting error strings, and so
// callers can branch on distinct failure kinds with HasCode.
package domainerrors

import (
	"errors"
	"fmt"
	"net/http"
)

// Code identifies a failure kind. Codes are part of the service contract:
// the HTTP layer maps them to status codes and the GDPR API exposes them in
// error envelopes.
type Code string

const (
	// Connector layer.
	CodeInvalidToken  Code = "invalid_token"
	CodeInvalidScope  Code = "invalid_scope"
	CodeNotConfigured Code = "not_configured"

	// Authenticator layer.
	CodeValidation                    Code = "validation"
	CodeIdentityBoundToOtherUser      Code = "identity_bound_to_other_user"
	CodeAuthorizationBoundToOtherUser Code = "authorization_bound_to_other_user"

	// General purpose.
	CodeBadRequest   Code = "bad_request"
	CodeUnauthorized Code = "unauthorized"
	CodeNotFound     Code = "not_found"
	CodeConflict     Code = "conflict"
	CodeTimeout      Code = "timeout"
	CodeInternal     Code = "internal"
)

// Error is a code-carrying error. The wrapped cause, when present, is
// reachable through errors.Unwrap so sentinel checks keep working.
type Error struct {
	Code    Code
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// New creates a domain error with the given code and message.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Newf creates a domain error with a formatted message.
func Newf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap annotates err with a code and message while keeping it unwrappable.
// A nil err returns nil so call sites can wrap unconditionally.
func Wrap(err error, code Code, message string) error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, Message: message, cause: err}
}

// HasCode reports whether any error in the chain carries the given code.
func HasCode(err error, code Code) bool {
	var de *Error
	if errors.As(err, &de) {
		return de.Code == code
	}
	return false
}

// CodeOf extracts the code from the error chain, defaulting to CodeInternal
// for untyped errors.
func CodeOf(err error) Code {
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return CodeInternal
}

// Is allows errors.Is comparisons between domain errors on code alone.
func (e *Error) Is(target error) bool {
	var de *Error
	if errors.As(target, &de) {
		return e.Code == de.Code
	}
	return false
}

// ToHTTPStatus maps a code to the HTTP status the transport layer answers
// with. Authentication and scope failures deliberately collapse to 401 so
// responses do not disclose which check failed.
func ToHTTPStatus(code Code) int {
	switch code {
	case CodeInvalidToken, CodeInvalidScope, CodeUnauthorized:
		return http.StatusUnauthorized
	case CodeNotFound, CodeNotConfigured:
		return http.StatusNotFound
	case CodeBadRequest, CodeValidation:
		return http.StatusBadRequest
	case CodeIdentityBoundToOtherUser, CodeAuthorizationBoundToOtherUser, CodeConflict:
		return http.StatusConflict
	case CodeTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
