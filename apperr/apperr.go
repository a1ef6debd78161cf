// Package apperr defines the domain error taxonomy and its transport mapping.
package apperr

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies a domain error.
type Kind int

const (
	KindInternal Kind = iota
	KindNotFound
	KindEmailAlreadyExists
	KindVersionConflict
	KindBadRequest
	KindUnauthorized
)

var kindNames = map[Kind]string{
	KindInternal:           "internal",
	KindNotFound:           "not_found",
	KindEmailAlreadyExists: "email_already_exists",
	KindVersionConflict:    "version_conflict",
	KindBadRequest:         "bad_request",
	KindUnauthorized:       "unauthorized",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Status returns the HTTP status a kind maps to.
func (k Kind) Status() int {
	switch k {
	case KindNotFound:
		return http.StatusNotFound
	case KindEmailAlreadyExists, KindVersionConflict:
		return http.StatusConflict
	case KindBadRequest:
		return http.StatusBadRequest
	case KindUnauthorized:
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

// Error is a classified domain error.
type Error struct {
	Kind    Kind
	Message string

	// Details is an optional machine-readable payload, e.g. field errors.
	Details any

	// Err is the underlying cause, never shown to clients.
	Err error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Status returns the HTTP status code of the error.
func (e *Error) Status() int { return e.Kind.Status() }

// Code returns the machine-readable code of the error.
func (e *Error) Code() string { return e.Kind.String() }

// NotFound reports a missing user.
func NotFound(userID string) *Error {
	return &Error{Kind: KindNotFound, Message: "User not found: " + userID}
}

// EmailAlreadyExists reports a uniqueness violation.
func EmailAlreadyExists(cause error) *Error {
	return &Error{Kind: KindEmailAlreadyExists, Message: "Email address is not available", Err: cause}
}

// VersionConflict reports an optimistic lock mismatch.
func VersionConflict(cause error) *Error {
	return &Error{Kind: KindVersionConflict, Message: "Resource was modified. Please refresh and try again.", Err: cause}
}

// BadRequest reports a malformed request or payload.
func BadRequest(message string, details any) *Error {
	return &Error{Kind: KindBadRequest, Message: message, Details: details}
}

// Unauthorized reports a request without a resolvable caller.
func Unauthorized(message string) *Error {
	return &Error{Kind: KindUnauthorized, Message: message}
}

// Internal wraps an unclassified failure.
func Internal(cause error) *Error {
	return &Error{Kind: KindInternal, Message: "Internal server error", Err: cause}
}

// KindOf returns the kind of err, or KindInternal for unclassified errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// Is reports whether err is a domain error of the given kind.
func Is(err error, kind Kind) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == kind
}

// Response is a transport-neutral rendering of an error.
type Response struct {
	StatusCode int
	Body       []byte
}

type responseBody struct {
	StatusCode int    `json:"statusCode"`
	Error      string `json:"error"`
	Code       string `json:"code"`
	Message    string `json:"message"`
	Details    any    `json:"details,omitempty"`
}

// ToResponse renders err for clients. Unclassified errors become a generic
// internal error so causes never leak.
func ToResponse(err error) Response {
	var e *Error
	if !errors.As(err, &e) {
		e = Internal(err)
	}

	status := e.Status()
	body := responseBody{
		StatusCode: status,
		Error:      http.StatusText(status),
		Code:       e.Code(),
		Message:    e.Message,
		Details:    e.Details,
	}
	if e.Kind == KindInternal {
		body.Message = "Internal server error"
		body.Details = nil
	}

	b, mErr := json.Marshal(body)
	if mErr != nil {
		// Details that cannot be encoded are dropped.
		body.Details = nil
		b, _ = json.Marshal(body)
	}
	return Response{StatusCode: status, Body: b}
}
