package api

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Issuer identifies bearer tokens minted for the agent API.
const Issuer = "castkeep"

// TokenTTL bounds how long a minted bearer token stays valid. Clients
// mint fresh tokens per request from the shared key, so the window can
// stay short.
const TokenTTL = 2 * time.Minute

// MintToken signs a short-lived HS256 bearer token with the shared key.
func MintToken(key []byte) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Issuer:    Issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(TokenTTL)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(key)
}

// VerifyToken checks the signature, issuer and validity window of a
// bearer token.
func VerifyToken(key []byte, token string) error {
	var claims jwt.RegisteredClaims
	parsed, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, errors.New("unexpected signing method")
		}
		return key, nil
	})
	if err != nil || !parsed.Valid {
		return errors.New("invalid token")
	}
	v := jwt.NewValidator(jwt.WithLeeway(30 * time.Second))
	if err := v.Validate(&claims); err != nil {
		return errors.New("token expired or not valid yet")
	}
	if claims.Issuer != Issuer {
		return errors.New("wrong issuer")
	}
	return nil
}
