package trackauth

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorKind classifies every failure that may cross the API boundary.
type ErrorKind string

const (
	KindValidation         ErrorKind = "ValidationError"
	KindDuplicateEmail     ErrorKind = "DuplicateEmail"
	KindInvalidCredentials ErrorKind = "InvalidCredentials"
	KindUnverifiedAccount  ErrorKind = "UnverifiedAccount"
	KindInvalidOrExpired   ErrorKind = "InvalidOrExpiredToken"
	KindUnauthorized       ErrorKind = "Unauthorized"
	KindRateLimited        ErrorKind = "RateLimited"
	KindNotFound           ErrorKind = "NotFound"
	KindConflict           ErrorKind = "Conflict"
	KindInternal           ErrorKind = "Internal"
)

var kindStatus = map[ErrorKind]int{
	KindValidation:         http.StatusBadRequest,
	KindDuplicateEmail:     http.StatusBadRequest,
	KindInvalidCredentials: http.StatusBadRequest,
	KindUnverifiedAccount:  http.StatusBadRequest,
	KindInvalidOrExpired:   http.StatusBadRequest,
	KindUnauthorized:       http.StatusUnauthorized,
	KindRateLimited:        http.StatusTooManyRequests,
	KindNotFound:           http.StatusNotFound,
	KindConflict:           http.StatusConflict,
	KindInternal:           http.StatusInternalServerError,
}

// Fixed client-facing messages. Nothing else is ever sent to a client.
var kindMessage = map[ErrorKind]string{
	KindValidation:         "Invalid request",
	KindDuplicateEmail:     "User already exists",
	KindInvalidCredentials: "Invalid credentials",
	KindUnverifiedAccount:  "Please confirm your email first",
	KindInvalidOrExpired:   "Invalid or expired token",
	KindUnauthorized:       "Unauthorized",
	KindRateLimited:        "Too many login attempts from this IP, please try again later.",
	KindNotFound:           "User not found",
	KindConflict:           "Account was modified concurrently, please retry",
	KindInternal:           "Server error",
}

// Status returns the HTTP status code for the kind.
func (k ErrorKind) Status() int {
	if s, ok := kindStatus[k]; ok {
		return s
	}
	return http.StatusInternalServerError
}

// Message returns the fixed client-facing message for the kind.
func (k ErrorKind) Message() string {
	if m, ok := kindMessage[k]; ok {
		return m
	}
	return kindMessage[KindInternal]
}

// Error is a classified failure. Field and Detail are optional; Detail is a
// client-safe refinement of the message for validation failures.
type Error struct {
	Kind   ErrorKind
	Field  string
	Detail string
	Err    error
}

func (e *Error) Error() string {
	msg := e.Kind.Message()
	if e.Detail != "" {
		msg = e.Detail
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, msg)
}

func (e *Error) Unwrap() error { return e.Err }

// ClientMessage is the text that may be shown to a client.
func (e *Error) ClientMessage() string {
	if e.Detail != "" && e.Kind == KindValidation {
		return e.Detail
	}
	return e.Kind.Message()
}

func newError(kind ErrorKind, cause error) *Error {
	return &Error{Kind: kind, Err: cause}
}

func validationError(field, detail string) *Error {
	return &Error{Kind: KindValidation, Field: field, Detail: detail}
}

// KindOf resolves any error to its kind. Unclassified errors are Internal.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	switch {
	case errors.Is(err, ErrRateLimited):
		return KindRateLimited
	case errors.Is(err, ErrInvalidToken), errors.Is(err, ErrExpiredToken):
		return KindUnauthorized
	case errors.Is(err, ErrDuplicateEmail):
		return KindDuplicateEmail
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	}
	return KindInternal
}

// Sentinel errors returned by stores, the session issuer and limiters.
var (
	ErrNotFound       = errors.New("trackauth: not found")
	ErrDuplicateEmail = errors.New("trackauth: email already registered")
	ErrConflict       = errors.New("trackauth: concurrent modification")
	ErrInvalidToken   = errors.New("trackauth: invalid session token")
	ErrExpiredToken   = errors.New("trackauth: expired session token")
	ErrRateLimited    = errors.New("trackauth: rate limited")
)
