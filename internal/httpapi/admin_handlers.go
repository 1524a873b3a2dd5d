package httpapi

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"sysaccess.org/internal/access"
	"sysaccess.org/internal/admin"
	"sysaccess.org/internal/audit"
)

// requireAdmin answers 503 when the admin service was not wired.
func (a *API) requireAdmin(w http.ResponseWriter, r *http.Request) bool {
	if a.admin == nil {
		writeError(w, r, http.StatusServiceUnavailable, "administration is not configured", "unavailable")
		return false
	}
	return true
}

func (a *API) handleListUsers(w http.ResponseWriter, r *http.Request) {
	if !a.requireAdmin(w, r) {
		return
	}
	q := admin.UserQuery{Search: r.URL.Query().Get("search")}
	if raw := strings.TrimSpace(r.URL.Query().Get("role")); raw != "" && raw != "all" {
		role, err := access.ParseRole(raw)
		if err != nil {
			handleAccessError(w, r, err)
			return
		}
		q.Role = role
	}
	users, err := a.admin.ListUsers(r.Context(), actor(r), q)
	if err != nil {
		handleAccessError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list(users))
}

func (a *API) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	if !a.requireAdmin(w, r) {
		return
	}
	var in admin.NewUser
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error(), "invalid_input")
		return
	}
	u, err := a.admin.CreateUser(r.Context(), actor(r), in)
	if err != nil {
		handleAccessError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, u)
}

func (a *API) handleMe(w http.ResponseWriter, r *http.Request) {
	if !a.requireAdmin(w, r) {
		return
	}
	p, err := a.admin.Me(r.Context(), actor(r))
	if err != nil {
		handleAccessError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (a *API) handleMySystems(w http.ResponseWriter, r *http.Request) {
	items, err := a.svc.MySystems(r.Context(), actor(r))
	if err != nil {
		handleAccessError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list(items))
}

func (a *API) handleAuditLog(w http.ResponseWriter, r *http.Request) {
	if !a.requireAdmin(w, r) {
		return
	}
	params := r.URL.Query()
	q := audit.Query{
		ActorID: params.Get("actor"),
		Action:  params.Get("action"),
		Target:  params.Get("target"),
	}
	if raw := params.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, r, http.StatusBadRequest, "limit must be a positive integer", "invalid_input")
			return
		}
		q.Limit = n
	}
	entries, err := a.admin.AuditLog(r.Context(), actor(r), q)
	if err != nil {
		handleAccessError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list(entries))
}

type settingRequest struct {
	Value string `json:"value"`
}

func (a *API) handlePutSetting(w http.ResponseWriter, r *http.Request) {
	if !a.requireAdmin(w, r) {
		return
	}
	var req settingRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error(), "invalid_input")
		return
	}
	key := chi.URLParam(r, "key")
	if err := a.admin.PutSetting(r.Context(), actor(r), key, req.Value); err != nil {
		handleAccessError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"key": key, "value": req.Value})
}
