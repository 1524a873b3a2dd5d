package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	assertionAudience   = "sysaccess"
	defaultAssertionTTL = 2 * time.Minute
)

var errMissingIdPSecret = errors.New("identity provider secret is not configured")

// Assertions verifies the short-lived HS256 identity assertions the upstream
// identity provider mints after it has checked the user's credentials. Each
// assertion is single use: its jti is burned in the revocation list on login.
type Assertions struct {
	secret []byte
	maxAge time.Duration
	now    func() time.Time
}

// NewAssertions builds a verifier for secret. maxAge bounds exp-iat; non-positive means two minutes.
func NewAssertions(secret string, maxAge time.Duration) (*Assertions, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, errMissingIdPSecret
	}
	if maxAge <= 0 {
		maxAge = defaultAssertionTTL
	}
	return &Assertions{secret: []byte(secret), maxAge: maxAge, now: time.Now}, nil
}

// Sign mints an assertion for userID. It is what the identity provider
// integration runs; the service itself only verifies.
func (a *Assertions) Sign(userID string) (string, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return "", errors.New("userID is required")
	}
	now := a.now().UTC()
	claims := jwt.RegisteredClaims{
		Subject:   userID,
		Audience:  jwt.ClaimStrings{assertionAudience},
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(a.maxAge)),
		ID:        uuid.NewString(),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
	if err != nil {
		return "", fmt.Errorf("sign assertion: %w", err)
	}
	return signed, nil
}

// Verify checks signature, audience and lifetime and returns the asserted claims.
func (a *Assertions) Verify(assertion string) (*jwt.RegisteredClaims, error) {
	assertion = strings.TrimSpace(assertion)
	if assertion == "" {
		return nil, ErrInvalidCredentials
	}
	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(assertion, claims, func(tok *jwt.Token) (any, error) {
		if tok.Method != jwt.SigningMethodHS256 {
			return nil, ErrInvalidCredentials
		}
		return a.secret, nil
	},
		jwt.WithTimeFunc(a.now),
		jwt.WithAudience(assertionAudience),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithLeeway(clockSkew),
	)
	if err != nil {
		return nil, ErrInvalidCredentials
	}
	if strings.TrimSpace(claims.Subject) == "" || claims.ID == "" || claims.IssuedAt == nil {
		return nil, ErrInvalidCredentials
	}
	if claims.ExpiresAt.Time.Sub(claims.IssuedAt.Time) > a.maxAge {
		return nil, ErrInvalidCredentials
	}
	return claims, nil
}

// consume burns the assertion id so it cannot be replayed before it expires.
func (a *Assertions) consume(ctx context.Context, r Revocations, claims *jwt.RegisteredClaims) error {
	used, err := r.Revoked(ctx, assertionKey(claims.ID))
	if err != nil {
		return err
	}
	if used {
		return ErrInvalidCredentials
	}
	return r.Revoke(ctx, assertionKey(claims.ID), claims.ExpiresAt.Time.Add(clockSkew))
}

func assertionKey(id string) string { return "assertion:" + id }
