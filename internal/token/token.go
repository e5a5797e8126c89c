// Package token implements the integrity token gate: a location-scoped,
// HMAC-signed token with a bounded validity window. Transport bindings obtain
// a token when rendering a form or opening a session and present it with
// every write; a write without a currently valid token for its scope is
// rejected before any state is touched.
package token

import (
	"crypto/subtle"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// DefaultValidity bounds how long an issued token is accepted.
const DefaultValidity = 12 * time.Hour

// Verifier issues and verifies integrity tokens for write scopes.
type Verifier struct {
	secret   []byte
	issuer   string
	validity time.Duration
	// Now is injectable for tests.
	Now func() time.Time
}

type scopeClaims struct {
	jwt.RegisteredClaims
	Scope string `json:"scope"`
}

// NewVerifier creates a verifier. The secret must be non-empty; a
// non-positive validity falls back to the default.
func NewVerifier(secret []byte, issuer string, validity time.Duration) (*Verifier, error) {
	if len(secret) == 0 {
		return nil, fmt.Errorf("integrity secret is required")
	}
	if strings.TrimSpace(issuer) == "" {
		return nil, fmt.Errorf("issuer is required")
	}
	if validity <= 0 {
		validity = DefaultValidity
	}
	return &Verifier{
		secret:   secret,
		issuer:   issuer,
		validity: validity,
		Now:      time.Now,
	}, nil
}

// Issue creates a token bound to the given scope (typically a location name
// or a managed file id).
func (v *Verifier) Issue(scope string) (string, error) {
	if v == nil {
		return "", fmt.Errorf("verifier is not configured")
	}
	scope = strings.TrimSpace(scope)
	if scope == "" {
		return "", fmt.Errorf("scope is required")
	}

	now := v.Now()
	claims := scopeClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    v.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(v.validity)),
		},
		Scope: scope,
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
	if err != nil {
		return "", fmt.Errorf("sign integrity token: %w", err)
	}
	return signed, nil
}

// Verify reports whether the token is valid for the given scope. It checks
// the signature, the validity window, the issuer, and the scope binding.
func (v *Verifier) Verify(tokenString, scope string) bool {
	if v == nil || strings.TrimSpace(tokenString) == "" {
		return false
	}

	var claims scopeClaims
	parsed, err := jwt.ParseWithClaims(
		tokenString,
		&claims,
		func(t *jwt.Token) (any, error) { return v.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(v.issuer),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(func() time.Time { return v.Now() }),
	)
	if err != nil || !parsed.Valid {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(claims.Scope), []byte(strings.TrimSpace(scope))) == 1
}
