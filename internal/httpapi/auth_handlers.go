package httpapi

import (
	"net/http"
	"strings"

	"sysaccess.org/internal/auth"
)

// tokenRequest carries the identity provider's signed assertion. A bare
// user_id is accepted by the decoder only so it can be refused with 401.
type tokenRequest struct {
	Assertion string `json:"assertion"`
	UserID    string `json:"user_id,omitempty"`
}

// handleAuthToken exchanges an identity provider assertion for a session.
func (a *API) handleAuthToken(w http.ResponseWriter, r *http.Request) {
	if a.auth == nil {
		writeError(w, r, http.StatusServiceUnavailable, "authentication is not configured", "unavailable")
		return
	}
	var req tokenRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error(), "invalid_input")
		return
	}
	assertion := strings.TrimSpace(req.Assertion)
	if assertion == "" {
		writeError(w, r, http.StatusUnauthorized, "identity assertion is required", "unauthenticated")
		return
	}
	session, err := a.auth.Login(r.Context(), assertion, clientIP(r))
	if err != nil {
		handleAccessError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"access_token": session.Token,
		"token_type":   session.TokenType,
		"expires_at":   session.ExpiresAt,
		"role":         session.Principal.Assignment.Role,
	})
}

func (a *API) handleLogout(w http.ResponseWriter, r *http.Request) {
	p, _ := auth.PrincipalFromContext(r.Context())
	if err := a.auth.Logout(r.Context(), p, clientIP(r)); err != nil {
		handleAccessError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
