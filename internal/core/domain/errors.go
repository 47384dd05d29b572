package domain

import (
	"errors"
	"fmt"
)

// Error classes. Concrete errors below wrap one of these so callers can test
// the class with errors.Is.
var (
	ErrValidation = errors.New("validation failed")
	ErrForbidden  = errors.New("access forbidden")
)

// Validation errors are raised locally, before any backend request.
var (
	ErrEmptyRoomName    = fmt.Errorf("%w: room name is required", ErrValidation)
	ErrEmptyMessage     = fmt.Errorf("%w: message content is required", ErrValidation)
	ErrEmptyCredentials = fmt.Errorf("%w: email and password are required", ErrValidation)
	ErrEmptyUsername    = fmt.Errorf("%w: username is required", ErrValidation)
)

// Authorization errors.
var (
	ErrNotAuthenticated  = errors.New("no user logged in")
	ErrNotRoomCreator    = fmt.Errorf("%w: only the room creator can delete it", ErrForbidden)
	ErrIncorrectPassword = fmt.Errorf("%w: incorrect password", ErrForbidden)
)

// Auth backend errors. Their text is shown to the user as is.
var (
	ErrInvalidCredentials = errors.New("invalid login credentials")
	ErrEmailNotConfirmed  = errors.New("email not confirmed")
	ErrUserExists         = errors.New("user already registered")
	ErrInvalidEmail       = errors.New("unable to validate email address: invalid format")
	ErrWeakPassword       = errors.New("password should be at least 6 characters")
	ErrInvalidToken       = errors.New("invalid or expired token")
)

// Lookup errors.
var (
	ErrAccountNotFound = errors.New("account not found")
	ErrProfileNotFound = errors.New("profile not found")
	ErrRoomNotFound    = errors.New("room not found")
	ErrMessageNotFound = errors.New("message not found")
)

// View lifecycle errors.
var (
	ErrViewOpen       = errors.New("view already open")
	ErrViewClosed     = errors.New("view closed")
	ErrNoRoomOpen     = errors.New("no room open")
	ErrRequestPending = errors.New("request already in progress")
)

// RequestError is a backend rejection surfaced to the user as Message.
type RequestError struct {
	Message string
	Err     error
}

func (e *RequestError) Error() string {
	if e.Err == nil {
		return e.Message
	}
	return e.Message + ": " + e.Err.Error()
}

func (e *RequestError) Unwrap() error { return e.Err }

// Reject wraps err as a RequestError carrying msg.
func Reject(msg string, err error) error {
	return &RequestError{Message: msg, Err: err}
}

// UserMessage returns the single string shown to the user for err.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	var re *RequestError
	if errors.As(err, &re) {
		return re.Message
	}
	for _, known := range []error{
		ErrEmptyRoomName, ErrEmptyMessage, ErrEmptyCredentials, ErrEmptyUsername,
		ErrIncorrectPassword, ErrNotRoomCreator,
	} {
		if errors.Is(err, known) {
			return trimClass(known)
		}
	}
	for _, known := range []error{
		ErrNotAuthenticated, ErrInvalidCredentials, ErrEmailNotConfirmed, ErrUserExists,
		ErrInvalidEmail, ErrWeakPassword, ErrInvalidToken, ErrRoomNotFound, ErrProfileNotFound,
		ErrNoRoomOpen, ErrRequestPending,
	} {
		if errors.Is(err, known) {
			return known.Error()
		}
	}
	return "something went wrong"
}

// trimClass drops the "<class>: " prefix added by the error class wrapper.
func trimClass(err error) string {
	msg := err.Error()
	for _, class := range []error{ErrValidation, ErrForbidden} {
		prefix := class.Error() + ": "
		if len(msg) > len(prefix) && msg[:len(prefix)] == prefix {
			return msg[len(prefix):]
		}
	}
	return msg
}
