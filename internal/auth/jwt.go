package auth

import (
	"crypto/subtle"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

type JWTAuthenticator struct {
	apiKey string
	secret string
	aud    string
	iss    string
	exp    time.Duration
}

func NewJWTAuthenticator(apiKey, secret, aud, iss string, exp time.Duration) *JWTAuthenticator {
	if exp <= 0 {
		exp = time.Hour
	}
	return &JWTAuthenticator{apiKey: apiKey, secret: secret, aud: aud, iss: iss, exp: exp}
}

// ValidateAPIKey compares in constant time. An unset key accepts nothing.
func (a *JWTAuthenticator) ValidateAPIKey(key string) error {
	if a.apiKey == "" || key == "" {
		return ErrInvalidAPIKey
	}
	if subtle.ConstantTimeCompare([]byte(key), []byte(a.apiKey)) != 1 {
		return ErrInvalidAPIKey
	}
	return nil
}

// GenerateToken issues a service token for subject, e.g. "orders-service".
func (a *JWTAuthenticator) GenerateToken(subject string) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"sub": subject,
		"exp": now.Add(a.exp).Unix(),
		"iat": now.Unix(),
		"nbf": now.Unix(),
		"iss": a.iss,
		"aud": a.aud,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString([]byte(a.secret))
	if err != nil {
		return "", err
	}
	return tokenString, nil
}

func (a *JWTAuthenticator) ValidateToken(token string) (*jwt.Token, error) {
	if a.secret == "" {
		return nil, fmt.Errorf("token authentication is not configured")
	}
	return jwt.Parse(token, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return []byte(a.secret), nil
	},
		jwt.WithExpirationRequired(),
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Name}),
		jwt.WithIssuer(a.iss),
		jwt.WithAudience(a.aud),
	)
}
