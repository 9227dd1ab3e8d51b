// Package errs contains sentinel errors used across layers for stable error mapping.
package errs

import "errors"

// Common sentinels across vault/agent layers.
var (
	// ErrInvalidInput indicates request validation failed before any work was done.
	ErrInvalidInput = errors.New("invalid input")

	// ErrVaultLocked indicates a secret operation was attempted while the session is locked.
	ErrVaultLocked = errors.New("vault locked")

	// ErrBadPassword indicates the supplied password failed to open an existing container.
	ErrBadPassword = errors.New("bad password")

	// ErrCorrupt indicates the container file exists but cannot be parsed or decrypted
	// for reasons other than a wrong password.
	ErrCorrupt = errors.New("vault corrupt")

	// ErrNotFound indicates the requested entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrBackendUnavailable indicates an agent call failed at the transport level.
	ErrBackendUnavailable = errors.New("backend unavailable")

	// ErrRateLimited indicates a temporary unlock lockout after repeated failures.
	ErrRateLimited = errors.New("rate limited")

	// ErrUnauthorized indicates a rejected bearer token on the agent API.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrNoOAuthConfig indicates a device flow was started for a platform
	// without a stored OAuth client configuration.
	ErrNoOAuthConfig = errors.New("no oauth config")

	// ErrUnsupportedGrant indicates an operation that requires the device-code
	// grant was invoked for a platform registered with another grant kind.
	ErrUnsupportedGrant = errors.New("unsupported grant")

	// ErrAuthInProgress indicates a poll is already pending for the device code.
	ErrAuthInProgress = errors.New("authorization already in progress")

	// ErrFlowExpired indicates the device code expired before the user approved it.
	// Terminal for the attempt; callers must start a new one.
	ErrFlowExpired = errors.New("device flow expired")

	// ErrFlowDenied indicates the provider rejected the device code (user denied).
	// Terminal for the attempt.
	ErrFlowDenied = errors.New("device flow denied")
)
