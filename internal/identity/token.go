package identity

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Common token errors.
var (
	// ErrInvalidToken indicates the token format is invalid or the
	// signature doesn't match.
	ErrInvalidToken = errors.New("invalid access token")

	// ErrExpiredToken indicates the token has expired.
	ErrExpiredToken = errors.New("access token has expired")

	// ErrMissingSecret indicates no signing secret is configured, so
	// access tokens cannot be accepted.
	ErrMissingSecret = errors.New("no jwt secret configured")
)

// tokenClaims defines the structure of the JWT claims we use.
type tokenClaims struct {
	UserID string `json:"uid"`
	Email  string `json:"email"`
	jwt.RegisteredClaims
}

// Allowed clock drift between the token issuer and this device.
const clockSkew = 2 * time.Minute

// parseAccessToken validates an HMAC-SHA256 signed access token and returns
// the user identity it carries.
func parseAccessToken(tokenString string, signingKey []byte) (userID, email string, err error) {
	if len(signingKey) == 0 {
		return "", "", ErrMissingSecret
	}

	claims := &tokenClaims{}
	token, err := jwt.ParseWithClaims(
		tokenString,
		claims,
		func(t *jwt.Token) (interface{}, error) {
			return signingKey, nil
		},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Name}),
		jwt.WithLeeway(clockSkew),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", "", fmt.Errorf("%w: %w", ErrExpiredToken, err)
		}
		return "", "", fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}

	if !token.Valid || claims.UserID == "" {
		return "", "", ErrInvalidToken
	}

	return claims.UserID, claims.Email, nil
}
