package apperrors

import (
	"errors"
)

var (
	// Request could not reach the gateway. Caller may retry, the session is untouched
	ErrNetwork = errors.New("gateway unreachable")

	// Gateway answered with success status but the payload is not usable
	ErrMalformedResponse = errors.New("malformed gateway response")

	// Gateway refused the refresh credential (expired or revoked)
	ErrRefreshRejected = errors.New("refresh token rejected")

	// Terminal: the session is gone and the user has to sign in again
	ErrSessionExpired = errors.New("session expired")

	ErrOAuthCodeMissing = errors.New("oauth authorization code missing")
	ErrOAuthCodeInvalid = errors.New("oauth authorization code rejected")

	ErrInvalidInput = errors.New("invalid input")

	ErrKeyNotFound      = errors.New("key not found")
	ErrStoreUnavailable = errors.New("store unavailable")
)
