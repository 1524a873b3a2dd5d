package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"sysaccess.org/internal/access"
	"sysaccess.org/internal/auth"
)

const (
	authHeader = "Authorization"
	bearer     = "Bearer "
)

// withAuth resolves the bearer token into a principal. The role is reloaded on
// every request, so assignment changes apply to live tokens.
func (a *API) withAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if a.auth == nil {
			writeError(w, r, http.StatusServiceUnavailable, "authentication is not configured", "unavailable")
			return
		}
		token, err := extractBearerToken(r.Header.Get(authHeader))
		if err == nil && token == "" {
			err = errors.New("missing bearer token")
		}
		if err != nil {
			w.Header().Set("WWW-Authenticate", `Bearer realm="sysaccess"`)
			writeError(w, r, http.StatusUnauthorized, err.Error(), "unauthenticated")
			return
		}
		principal, err := a.auth.Authenticate(r.Context(), token)
		if err != nil {
			handleAccessError(w, r, err)
			return
		}
		ctx := auth.ContextWithPrincipal(r.Context(), principal)
		ctx = auth.ContextWithToken(ctx, token)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// actor returns the authenticated caller; withAuth guarantees presence.
func actor(r *http.Request) access.Actor {
	p, _ := auth.PrincipalFromContext(r.Context())
	return p.Actor(clientIP(r))
}

func extractBearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", errors.New("missing bearer token")
	}
	if !strings.HasPrefix(strings.ToLower(header), strings.ToLower(bearer)) {
		return "", errors.New("invalid authorization scheme")
	}
	return strings.TrimSpace(header[len(bearer):]), nil
}
