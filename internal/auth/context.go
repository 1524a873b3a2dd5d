package auth

import (
	"context"
	"time"

	"sysaccess.org/internal/access"
)

// Principal is an authenticated caller with the role assignment loaded for this request.
type Principal struct {
	User       access.User
	Assignment access.RoleAssignment
	TokenID    string
	ExpiresAt  time.Time
}

// Actor converts the principal into the value the decision engine consumes.
func (p Principal) Actor(sourceIP string) access.Actor {
	return access.Actor{
		UserID:     p.User.ID,
		Name:       p.User.Name,
		Email:      p.User.Email,
		Assignment: p.Assignment,
		Admin:      p.User.Admin,
		SourceIP:   sourceIP,
	}
}

type principalContextKey struct{}
type tokenContextKey struct{}

// ContextWithPrincipal attaches the authenticated principal to the context.
func ContextWithPrincipal(ctx context.Context, principal Principal) context.Context {
	return context.WithValue(ctx, principalContextKey{}, &principal)
}

// PrincipalFromContext extracts the authenticated principal from the context.
func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	if ctx == nil {
		return Principal{}, false
	}
	v, ok := ctx.Value(principalContextKey{}).(*Principal)
	if !ok || v == nil {
		return Principal{}, false
	}
	return *v, true
}

// ContextWithToken stores the raw bearer token inside the context.
func ContextWithToken(ctx context.Context, token string) context.Context {
	if token == "" {
		return ctx
	}
	return context.WithValue(ctx, tokenContextKey{}, token)
}

// TokenFromContext returns the bearer token if it was previously attached.
func TokenFromContext(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	v, ok := ctx.Value(tokenContextKey{}).(string)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}
