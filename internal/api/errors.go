package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/castkeep/castkeep/internal/errs"
)

// Error codes carried in the error envelope.
const (
	CodeInvalidInput       = "invalid_input"
	CodeUnsupportedGrant   = "unsupported_grant"
	CodeUnauthorized       = "unauthorized"
	CodeFlowDenied         = "flow_denied"
	CodeNotFound           = "not_found"
	CodeNoOAuthConfig      = "no_oauth_config"
	CodeAuthInProgress     = "auth_in_progress"
	CodeFlowExpired        = "flow_expired"
	CodeVaultLocked        = "vault_locked"
	CodeRateLimited        = "rate_limited"
	CodeBackendUnavailable = "backend_unavailable"
	CodeInternal           = "internal"
)

// ErrorBody is the machine-readable error envelope.
type ErrorBody struct {
	Error ErrorDetail `json:"error"`
}

type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Status maps a service error to its HTTP status and wire code.
func Status(err error) (int, string) {
	switch {
	case errors.Is(err, errs.ErrInvalidInput):
		return http.StatusBadRequest, CodeInvalidInput
	case errors.Is(err, errs.ErrUnsupportedGrant):
		return http.StatusBadRequest, CodeUnsupportedGrant
	case errors.Is(err, errs.ErrUnauthorized):
		return http.StatusUnauthorized, CodeUnauthorized
	case errors.Is(err, errs.ErrFlowDenied):
		return http.StatusForbidden, CodeFlowDenied
	case errors.Is(err, errs.ErrNotFound):
		return http.StatusNotFound, CodeNotFound
	case errors.Is(err, errs.ErrNoOAuthConfig):
		return http.StatusConflict, CodeNoOAuthConfig
	case errors.Is(err, errs.ErrAuthInProgress):
		return http.StatusConflict, CodeAuthInProgress
	case errors.Is(err, errs.ErrFlowExpired):
		return http.StatusGone, CodeFlowExpired
	case errors.Is(err, errs.ErrVaultLocked):
		return http.StatusLocked, CodeVaultLocked
	case errors.Is(err, errs.ErrRateLimited):
		return http.StatusTooManyRequests, CodeRateLimited
	case errors.Is(err, errs.ErrBackendUnavailable):
		return http.StatusBadGateway, CodeBackendUnavailable
	default:
		return http.StatusInternalServerError, CodeInternal
	}
}

// SentinelFor is the inverse mapping used by clients: wire code back to
// the service sentinel, falling back on the bare status for responses
// that carry no recognizable envelope.
func SentinelFor(status int, code string) error {
	switch code {
	case CodeInvalidInput:
		return errs.ErrInvalidInput
	case CodeUnsupportedGrant:
		return errs.ErrUnsupportedGrant
	case CodeUnauthorized:
		return errs.ErrUnauthorized
	case CodeFlowDenied:
		return errs.ErrFlowDenied
	case CodeNotFound:
		return errs.ErrNotFound
	case CodeNoOAuthConfig:
		return errs.ErrNoOAuthConfig
	case CodeAuthInProgress:
		return errs.ErrAuthInProgress
	case CodeFlowExpired:
		return errs.ErrFlowExpired
	case CodeVaultLocked:
		return errs.ErrVaultLocked
	case CodeRateLimited:
		return errs.ErrRateLimited
	case CodeBackendUnavailable:
		return errs.ErrBackendUnavailable
	}
	switch status {
	case http.StatusBadRequest:
		return errs.ErrInvalidInput
	case http.StatusUnauthorized:
		return errs.ErrUnauthorized
	case http.StatusNotFound:
		return errs.ErrNotFound
	case http.StatusTooManyRequests:
		return errs.ErrRateLimited
	}
	if status >= 500 {
		return errs.ErrBackendUnavailable
	}
	return fmt.Errorf("unexpected status %d", status)
}
