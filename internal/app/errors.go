package app

import (
	"errors"
	"fmt"
	"net/http"

	"workrecord/api/internal/attachment"
	"workrecord/api/internal/audit"
	"workrecord/api/internal/auth"
	"workrecord/api/internal/authpw"
	"workrecord/api/internal/contribution"
	"workrecord/api/internal/store"
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

// mapError translates package sentinels into the HTTP error contract.
// Anything unrecognised is an IO or internal failure and its text is not exposed.
func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}

	switch {
	case errors.Is(err, contribution.ErrBadRequest),
		errors.Is(err, attachment.ErrBadRequest),
		errors.Is(err, attachment.ErrUnsafePath),
		errors.Is(err, attachment.ErrUnsupported),
		errors.Is(err, store.ErrInvalidDrawingNumber),
		errors.Is(err, audit.ErrInvalidMonth):
		return http.StatusBadRequest, "BAD_REQUEST", err.Error(), nil
	case errors.Is(err, contribution.ErrNotFound),
		errors.Is(err, attachment.ErrNotFound),
		errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound, "NOT_FOUND", err.Error(), nil
	case errors.Is(err, authpw.ErrPasswordRequired):
		return http.StatusBadRequest, "BAD_REQUEST", err.Error(), nil
	case errors.Is(err, authpw.ErrInvalidPassword),
		errors.Is(err, auth.ErrInvalidToken),
		errors.Is(err, auth.ErrExpiredToken),
		errors.Is(err, errTokenRevoked):
		return http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil
	case errors.Is(err, authpw.ErrNotConfigured):
		return http.StatusServiceUnavailable, "AUTH_NOT_CONFIGURED", err.Error(), nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Internal server error", nil
}
