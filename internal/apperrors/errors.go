package apperrors

import (
	"errors"
)

var (
	// Refresh token errors
	ErrTokenNotFound = errors.New("refresh token not recognized")
	ErrTokenExpired  = errors.New("refresh token is expired")
	ErrTokenRevoked  = errors.New("refresh token is revoked")

	// Reuse of an already rotated or revoked refresh token
	// Never downgrade it: the whole lineage must be revoked before it is returned
	ErrTokenReuse = errors.New("refresh token reuse detected")

	// Access token errors
	ErrBadSignature  = errors.New("access token signature is invalid")
	ErrAccessExpired = errors.New("access token is expired")
	ErrAccessRevoked = errors.New("access token is revoked")

	// Two-factor errors
	// ErrCodeInvalid is recoverable: a wrong code must not revoke anything
	ErrCodeInvalid          = errors.New("verification code is invalid")
	ErrTwoFactorNotEnrolled = errors.New("two-factor auth is not enrolled")
	ErrTwoFactorNotEnabled  = errors.New("two-factor auth is not enabled")
	ErrTwoFactorEnabled     = errors.New("two-factor auth is enabled already")

	// Legacy API key errors
	ErrAPIKeyNotFound = errors.New("api key not recognized")
	ErrAPIKeyExists   = errors.New("api key already exists")
)
