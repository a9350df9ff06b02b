package app

import (
	"errors"
	"fmt"
	"net/http"

	"peerlearn/api/internal/auth"
	"peerlearn/api/internal/lifecycle"
)

type DomainError struct {
	Status  int
	Code    string
	Message string
	Details any
}

func (e *DomainError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func domainError(status int, code, message string, details any) *DomainError {
	return &DomainError{
		Status:  status,
		Code:    code,
		Message: message,
		Details: details,
	}
}

var statusByCode = map[lifecycle.Code]int{
	lifecycle.CodeNotFound:                  http.StatusNotFound,
	lifecycle.CodeNotOwner:                  http.StatusForbidden,
	lifecycle.CodeUnauthorized:              http.StatusForbidden,
	lifecycle.CodeSelfResponseForbidden:     http.StatusForbidden,
	lifecycle.CodeInvalidState:              http.StatusConflict,
	lifecycle.CodeRequestNotAvailable:       http.StatusConflict,
	lifecycle.CodeAlreadyAccepted:           http.StatusConflict,
	lifecycle.CodeCapacityExceeded:          http.StatusConflict,
	lifecycle.CodeAlreadyParticipant:        http.StatusConflict,
	lifecycle.CodeInvalidInput:              http.StatusUnprocessableEntity,
	lifecycle.CodeMeetingProvisioningFailed: http.StatusBadGateway,
	lifecycle.CodeStoreUnavailable:          http.StatusServiceUnavailable,
}

// toDomainError translates a lifecycle failure into its HTTP rendering.
// Anything that is not a lifecycle error becomes a 500.
func toDomainError(err error) *DomainError {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr
	}
	var lerr *lifecycle.Error
	if errors.As(err, &lerr) {
		status, ok := statusByCode[lerr.Code]
		if !ok {
			status = http.StatusInternalServerError
		}
		message := lerr.Message
		if message == "" {
			message = string(lerr.Code)
		}
		var details any
		if lerr.Code.Retryable() {
			details = map[string]any{"retryable": true}
		}
		return domainError(status, string(lerr.Code), message, details)
	}
	if errors.Is(err, auth.ErrInvalidToken) || errors.Is(err, auth.ErrExpiredToken) {
		return domainError(http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
	}
	return domainError(http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil)
}

func mapError(err error) (status int, code, message string, details any) {
	domainErr := toDomainError(err)
	return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
}
