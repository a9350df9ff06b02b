// Package auth parses the bearer tokens that carry a caller's identity.
package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

type Claims struct {
	Sub  string
	Name string
	JTI  string
	Exp  int64
}

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("expired token")
)

// IssueToken signs claims with HS256. Used by tests and local tooling; real
// tokens come from the identity service.
func IssueToken(secret []byte, claims Claims) (string, error) {
	registered := jwt.RegisteredClaims{
		Subject: claims.Sub,
		ID:      claims.JTI,
	}
	if claims.Exp != 0 {
		registered.ExpiresAt = jwt.NewNumericDate(time.Unix(claims.Exp, 0))
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, tokenClaims{Name: claims.Name, RegisteredClaims: registered})
	signed, err := token.SignedString(secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

func ParseToken(secret []byte, raw string) (Claims, error) {
	var parsed tokenClaims
	_, err := jwt.ParseWithClaims(raw, &parsed, func(t *jwt.Token) (any, error) {
		return secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if errors.Is(err, jwt.ErrTokenExpired) {
		return Claims{}, ErrExpiredToken
	}
	if err != nil {
		return Claims{}, ErrInvalidToken
	}
	if strings.TrimSpace(parsed.Subject) == "" {
		return Claims{}, ErrInvalidToken
	}

	claims := Claims{Sub: parsed.Subject, Name: parsed.Name, JTI: parsed.ID}
	if parsed.ExpiresAt != nil {
		claims.Exp = parsed.ExpiresAt.Unix()
	}
	return claims, nil
}

type tokenClaims struct {
	Name string `json:"name,omitempty"`
	jwt.RegisteredClaims
}
