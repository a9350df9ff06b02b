package lifecycle

import (
	"errors"
	"fmt"
)

// Code is the machine-readable kind of a lifecycle failure.
type Code string

const (
	CodeNotFound                  Code = "NOT_FOUND"
	CodeNotOwner                  Code = "NOT_OWNER"
	CodeUnauthorized              Code = "UNAUTHORIZED"
	CodeInvalidState              Code = "INVALID_STATE"
	CodeInvalidInput              Code = "VALIDATION_ERROR"
	CodeSelfResponseForbidden     Code = "SELF_RESPONSE_FORBIDDEN"
	CodeRequestNotAvailable       Code = "REQUEST_NOT_AVAILABLE"
	CodeAlreadyAccepted           Code = "ALREADY_ACCEPTED"
	CodeCapacityExceeded          Code = "CAPACITY_EXCEEDED"
	CodeAlreadyParticipant        Code = "ALREADY_PARTICIPANT"
	CodeMeetingProvisioningFailed Code = "MEETING_PROVISIONING_FAILED"
	CodeStoreUnavailable          Code = "STORE_UNAVAILABLE"
)

// Retryable reports whether a later, user-initiated call may succeed where
// this one failed. Arbitration losses are never retryable: the slot is gone.
func (c Code) Retryable() bool {
	return c == CodeMeetingProvisioningFailed || c == CodeStoreUnavailable
}

// Error is a lifecycle failure with a stable code.
type Error struct {
	Code    Code
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Message == "" {
		return string(e.Code)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches any *Error carrying the same code, so callers can compare
// against the sentinels below with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

func Errorf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

func Wrap(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Cause: cause}
}

var (
	ErrNotFound                  = &Error{Code: CodeNotFound}
	ErrNotOwner                  = &Error{Code: CodeNotOwner}
	ErrUnauthorized              = &Error{Code: CodeUnauthorized}
	ErrInvalidState              = &Error{Code: CodeInvalidState}
	ErrInvalidInput              = &Error{Code: CodeInvalidInput}
	ErrSelfResponseForbidden     = &Error{Code: CodeSelfResponseForbidden}
	ErrRequestNotAvailable       = &Error{Code: CodeRequestNotAvailable}
	ErrAlreadyAccepted           = &Error{Code: CodeAlreadyAccepted}
	ErrCapacityExceeded          = &Error{Code: CodeCapacityExceeded}
	ErrAlreadyParticipant        = &Error{Code: CodeAlreadyParticipant}
	ErrMeetingProvisioningFailed = &Error{Code: CodeMeetingProvisioningFailed}
	ErrStoreUnavailable          = &Error{Code: CodeStoreUnavailable}
)

// CodeOf extracts the code of err, or "" when err is not a lifecycle error.
func CodeOf(err error) Code {
	var lerr *Error
	if errors.As(err, &lerr) {
		return lerr.Code
	}
	return ""
}
