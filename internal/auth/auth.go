package auth

import (
	"errors"

	"github.com/golang-jwt/jwt/v5"
)

var ErrInvalidAPIKey = errors.New("invalid api key")

// Authenticator validates the credentials callers present to the payments API:
// a static API key or a signed service token.
type Authenticator interface {
	ValidateAPIKey(key string) error
	GenerateToken(subject string) (string, error)
	ValidateToken(token string) (*jwt.Token, error)
}
