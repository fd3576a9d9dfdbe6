// Package token issues and verifies the compact HMAC-signed session tokens
// carried in the local session cookie.
package token

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// DefaultTTL is the lifetime of a local session token.
const DefaultTTL = 7 * 24 * time.Hour

// Claims is the payload of a session token. Registered claims carry only
// iat and exp.
type Claims struct {
	UID      string `json:"uid"`
	Username string `json:"username"`
	Role     string `json:"role"`
	jwt.RegisteredClaims
}

// Signer signs and verifies tokens with a fixed secret.
type Signer struct {
	secret []byte
	now    func() time.Time
}

// NewSigner creates a Signer keyed by secret.
func NewSigner(secret []byte) *Signer {
	return &Signer{
		secret: secret,
		now:    time.Now,
	}
}

// WithClock returns a copy of the signer that reads time from now.
func (s *Signer) WithClock(now func() time.Time) *Signer {
	return &Signer{secret: s.secret, now: now}
}

// Sign stamps iat and exp into claims and returns the signed token.
func (s *Signer) Sign(claims Claims, ttl time.Duration) (string, error) {
	now := s.now()

	claims.RegisteredClaims = jwt.RegisteredClaims{
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).
		SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("signing token: %w", err)
	}

	return signed, nil
}

// Verify checks the signature and expiry of raw and returns its claims.
// A token stays valid through the second named by exp. Every failure,
// including malformed input, yields (nil, false).
func (s *Signer) Verify(raw string) (*Claims, bool) {
	if raw == "" || len(s.secret) == 0 {
		return nil, false
	}

	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithLeeway(time.Second),
		jwt.WithTimeFunc(func() time.Time {
			return s.now().Truncate(time.Second)
		}),
	)

	var claims Claims

	parsed, err := parser.ParseWithClaims(raw, &claims, func(*jwt.Token) (any, error) {
		return s.secret, nil
	})
	if err != nil || !parsed.Valid {
		return nil, false
	}

	return &claims, true
}

// Sign is a convenience wrapper around NewSigner(secret).Sign.
func Sign(claims Claims, secret []byte, ttl time.Duration) (string, error) {
	return NewSigner(secret).Sign(claims, ttl)
}

// Verify is a convenience wrapper around NewSigner(secret).Verify.
func Verify(raw string, secret []byte) (*Claims, bool) {
	return NewSigner(secret).Verify(raw)
}
