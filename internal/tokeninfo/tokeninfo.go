// Package tokeninfo reads claims of access token without verifying signature.
// Result is for diagnostics and UI hints only: the gateway stays the authority on validity.
package tokeninfo

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var ErrNoExpiry = errors.New("token has no expiry claim")

// ExpiresAt returns 'exp' claim of JWT access token
// Opaque (non JWT) tokens return error
func ExpiresAt(token string) (time.Time, error) {
	claims := jwt.RegisteredClaims{}

	_, _, err := jwt.NewParser().ParseUnverified(token, &claims)
	if err != nil {
		return time.Time{}, fmt.Errorf("token is not a jwt: %w", err)
	}
	if claims.ExpiresAt == nil {
		return time.Time{}, ErrNoExpiry
	}

	return claims.ExpiresAt.Time, nil
}

// Expired reports if token is past its expiry at moment now
// Unknown expiry is never expired: only the gateway may tell
func Expired(token string, now time.Time) bool {
	exp, err := ExpiresAt(token)
	if err != nil {
		return false
	}
	return !now.Before(exp)
}
