package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"sysaccess.org/internal/access"
	"sysaccess.org/internal/admin"
	"sysaccess.org/internal/auth"
	"sysaccess.org/internal/obs"
)

func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("unexpected data after JSON body")
		}
		return err
	}
	return nil
}

// handleAccessError maps domain errors onto HTTP. State errors are 403, not 409.
func handleAccessError(w http.ResponseWriter, r *http.Request, err error) {
	code := access.Code(err)
	switch {
	case errors.Is(err, access.ErrValidation):
		writeError(w, r, http.StatusBadRequest, err.Error(), code)
	case errors.Is(err, access.ErrAuthorization), errors.Is(err, access.ErrState):
		writeError(w, r, http.StatusForbidden, err.Error(), code)
	case errors.Is(err, access.ErrNotFound):
		writeError(w, r, http.StatusNotFound, err.Error(), code)
	case errors.Is(err, admin.ErrNotConfigured):
		writeError(w, r, http.StatusServiceUnavailable, err.Error(), "unavailable")
	case errors.Is(err, auth.ErrMaintenance):
		writeError(w, r, http.StatusServiceUnavailable, "service is in maintenance mode", "maintenance")
	case errors.Is(err, auth.ErrInvalidToken), errors.Is(err, auth.ErrInvalidCredentials):
		w.Header().Set("WWW-Authenticate", `Bearer realm="sysaccess"`)
		writeError(w, r, http.StatusUnauthorized, err.Error(), "unauthenticated")
	default:
		obs.Logger().Error("request failed", "request_id", RequestIDFromContext(r.Context()), "path", r.URL.Path, "error", err)
		writeError(w, r, http.StatusInternalServerError, "internal error", "internal")
	}
}

func writeError(w http.ResponseWriter, r *http.Request, status int, msg, code string) {
	payload := map[string]any{
		"error": msg,
		"code":  code,
	}
	if rid := RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, status, payload)
}
