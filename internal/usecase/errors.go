package usecase

import "fmt"

type ErrorCode string

const (
	ErrorInvalidInput ErrorCode = "INVALID_INPUT"
	ErrorNotFound     ErrorCode = "NOT_FOUND"
	ErrorBusy         ErrorCode = "BUSY"
	ErrorRateLimited  ErrorCode = "RATE_LIMITED"
	ErrorUpstream     ErrorCode = "UPSTREAM_ERROR"
	ErrorInternal     ErrorCode = "INTERNAL_ERROR"
)

type Error struct {
	Code   ErrorCode
	Reason string
	Err    error
	// notice is the text shown to the user, when it differs from the
	// default for Code.
	notice string
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err == nil {
		return fmt.Sprintf("usecase: %s (%s)", e.Code, e.Reason)
	}
	return fmt.Sprintf("usecase: %s (%s): %v", e.Code, e.Reason, e.Err)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Notice is a short message suitable for showing to the user.
func (e *Error) Notice() string {
	if e == nil {
		return ""
	}
	if e.notice != "" {
		return e.notice
	}
	switch e.Code {
	case ErrorInvalidInput:
		return "The request was not valid."
	case ErrorNotFound:
		return "That message no longer exists."
	case ErrorBusy:
		return "Please wait for the current request to finish."
	case ErrorRateLimited:
		return "Too many requests. Please try again shortly."
	case ErrorUpstream:
		return "The query service is unavailable. Please try again."
	default:
		return "Something went wrong. Please try again."
	}
}

func newError(code ErrorCode, reason string, err error) *Error {
	return &Error{Code: code, Reason: reason, Err: err}
}

func (e *Error) withNotice(format string, args ...any) *Error {
	e.notice = fmt.Sprintf(format, args...)
	return e
}
