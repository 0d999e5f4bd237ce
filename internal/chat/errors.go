package chat

import (
	"errors"
	"fmt"

	"github.com/Tyrowin/roomcast/internal/protocol"
	"github.com/Tyrowin/roomcast/internal/store"
)

// Code classifies a rejected event. It is sent to the client verbatim.
type Code string

const (
	CodeValidation  Code = "validation"
	CodeRateLimited Code = "rate_limited"
	CodeForbidden   Code = "forbidden"
	CodeNotFound    Code = "not_found"
	CodeInternal    Code = "internal"
)

// Error is a coordinator failure reported to the originating session.
type Error struct {
	Code    Code
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// Is matches any *Error with the same code, so callers can test
// errors.Is(err, chat.ErrRateLimited).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Message == "" && t.Code == e.Code
}

// Code-only sentinels for errors.Is.
var (
	ErrValidation  = &Error{Code: CodeValidation}
	ErrRateLimited = &Error{Code: CodeRateLimited}
	ErrForbidden   = &Error{Code: CodeForbidden}
	ErrNotFound    = &Error{Code: CodeNotFound}
	ErrInternal    = &Error{Code: CodeInternal}
)

func validationf(format string, args ...any) *Error {
	return &Error{Code: CodeValidation, Message: fmt.Sprintf(format, args...)}
}

func forbidden(msg string) *Error {
	return &Error{Code: CodeForbidden, Message: msg}
}

func notFound(msg string, cause error) *Error {
	return &Error{Code: CodeNotFound, Message: msg, Cause: cause}
}

func rateLimited(msg string) *Error {
	return &Error{Code: CodeRateLimited, Message: msg}
}

func internal(msg string, cause error) *Error {
	return &Error{Code: CodeInternal, Message: msg, Cause: cause}
}

// AsError maps any error produced while handling an event onto an *Error.
func AsError(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	switch {
	case errors.Is(err, protocol.ErrInvalid),
		errors.Is(err, protocol.ErrMalformed),
		errors.Is(err, protocol.ErrUnknownType):
		return &Error{Code: CodeValidation, Message: err.Error()}
	case errors.Is(err, store.ErrUserNotFound),
		errors.Is(err, store.ErrRoomNotFound),
		errors.Is(err, store.ErrMessageNotFound),
		errors.Is(err, store.ErrPollNotFound),
		errors.Is(err, store.ErrFileNotFound):
		return &Error{Code: CodeNotFound, Message: err.Error(), Cause: err}
	case errors.Is(err, store.ErrInvalidOption),
		errors.Is(err, store.ErrRoomExists),
		errors.Is(err, store.ErrUserExists):
		return &Error{Code: CodeValidation, Message: err.Error(), Cause: err}
	}
	return internal("unexpected failure", err)
}
