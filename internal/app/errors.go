package app

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/XlinCLab/Baum2025-PCIBEX/internal/auth"
	"github.com/XlinCLab/Baum2025-PCIBEX/internal/authpw"
	"github.com/XlinCLab/Baum2025-PCIBEX/internal/experiment"
	"github.com/XlinCLab/Baum2025-PCIBEX/internal/export"
	"github.com/XlinCLab/Baum2025-PCIBEX/internal/session"
	"github.com/XlinCLab/Baum2025-PCIBEX/internal/store"
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

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}

	var validation *experiment.ValidationError
	if errors.As(err, &validation) {
		return http.StatusUnprocessableEntity, "VALIDATION_ERROR", validation.Message, map[string]any{"trialId": validation.TrialID}
	}
	var resource *experiment.ResourceLoadError
	if errors.As(err, &resource) {
		return http.StatusUnprocessableEntity, "RESOURCE_LOAD_FAILED", resource.Error(), map[string]any{
			"trialId":  resource.TrialID,
			"resource": resource.Resource,
		}
	}
	var configuration *experiment.ConfigurationError
	if errors.As(err, &configuration) {
		return http.StatusUnprocessableEntity, "CONFIGURATION_ERROR", configuration.Message, nil
	}

	switch {
	case errors.Is(err, experiment.ErrMalformedStimulus):
		return http.StatusUnprocessableEntity, "MALFORMED_STIMULUS", err.Error(), nil
	case errors.Is(err, experiment.ErrUnexpectedEvent):
		return http.StatusConflict, "UNEXPECTED_EVENT", err.Error(), nil
	case errors.Is(err, experiment.ErrTimerPending):
		return http.StatusConflict, "TIMER_PENDING", "Timer has not elapsed", nil
	case errors.Is(err, experiment.ErrFinished):
		return http.StatusConflict, "SESSION_FINISHED", "Session finished", nil
	case errors.Is(err, experiment.ErrNotStarted):
		return http.StatusConflict, "SESSION_NOT_STARTED", "Session not started", nil
	case errors.Is(err, session.ErrConflict):
		return http.StatusConflict, "SESSION_BUSY", "Session was changed concurrently, retry", nil
	case errors.Is(err, session.ErrNotFound):
		return http.StatusNotFound, "SESSION_EXPIRED", "Session not found or expired", nil
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound, "NOT_FOUND", "Not found", nil
	case errors.Is(err, export.ErrNotSubmitted):
		return http.StatusConflict, "NOT_SUBMITTED", "Session results not submitted yet", nil
	case errors.Is(err, export.ErrUnsupportedFormat):
		return http.StatusBadRequest, "UNSUPPORTED_FORMAT", err.Error(), nil
	case errors.Is(err, export.ErrPDFDependencyMissing):
		return http.StatusServiceUnavailable, "EXPORT_UNAVAILABLE", "PDF export is not available on this server", nil
	case errors.Is(err, authpw.ErrInvalidCredentials):
		return http.StatusUnauthorized, "INVALID_CREDENTIALS", "Invalid email or password", nil
	case errors.Is(err, authpw.ErrDeactivated):
		return http.StatusForbidden, "ACCOUNT_DEACTIVATED", "Account is deactivated", nil
	case errors.Is(err, authpw.ErrEmailTaken):
		return http.StatusConflict, "EMAIL_EXISTS", "Email already registered", nil
	case errors.Is(err, auth.ErrInvalidToken), errors.Is(err, auth.ErrExpiredToken), errors.Is(err, auth.ErrMissingToken):
		return http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}
