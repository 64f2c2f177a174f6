// Package auth decides whether a bearer token is still worth reusing and keeps
// a single shared token for the remote client.
package auth

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var parser = jwt.NewParser()

// IsExpired reports whether token is unusable at now. Empty and malformed
// tokens count as expired, as do tokens without an exp claim. The signature is
// not verified.
func IsExpired(token string, now time.Time) bool {
	if token == "" {
		return true
	}
	claims := jwt.RegisteredClaims{}
	if _, _, err := parser.ParseUnverified(token, &claims); err != nil {
		return true
	}
	if claims.ExpiresAt == nil {
		return true
	}
	return claims.ExpiresAt.Time.Before(now.UTC())
}
