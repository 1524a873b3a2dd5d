package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"sysaccess.org/internal/access"
)

type listResponse[T any] struct {
	Items []T       `json:"items"`
	Count int       `json:"count"`
	AsOf  time.Time `json:"as_of"`
}

func list[T any](items []T) listResponse[T] {
	if items == nil {
		items = []T{}
	}
	return listResponse[T]{Items: items, Count: len(items), AsOf: time.Now().UTC()}
}

func (a *API) handleSystems(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, list(access.Systems()))
}

func (a *API) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var in access.SubmitInput
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error(), "invalid_input")
		return
	}
	rec, err := a.svc.Submit(r.Context(), actor(r), in)
	if err != nil {
		handleAccessError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

func (a *API) handleGetRequest(w http.ResponseWriter, r *http.Request) {
	rec, err := a.svc.Request(r.Context(), actor(r), chi.URLParam(r, "id"))
	if err != nil {
		handleAccessError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (a *API) handleQueue(w http.ResponseWriter, r *http.Request) {
	view, err := access.ParseView(r.URL.Query().Get("view"))
	if err != nil {
		handleAccessError(w, r, err)
		return
	}
	items, err := a.svc.Queue(r.Context(), actor(r), view)
	if err != nil {
		handleAccessError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list(items))
}

func (a *API) handleGrants(w http.ResponseWriter, r *http.Request) {
	items, err := a.svc.ActiveGrants(r.Context(), actor(r))
	if err != nil {
		handleAccessError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list(items))
}

func (a *API) handleOverdue(w http.ResponseWriter, r *http.Request) {
	items, err := a.svc.Overdue(r.Context(), actor(r))
	if err != nil {
		handleAccessError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list(items))
}

type decisionRequest struct {
	Action  access.Action `json:"action"`
	Comment string        `json:"comment"`
	Version int64         `json:"version,omitempty"`
}

type overrideRequest struct {
	Stage   access.Stage  `json:"stage,omitempty"`
	Status  access.Status `json:"status"`
	Comment string        `json:"comment"`
}

type revokeRequest struct {
	Comment string `json:"comment"`
}

func (a *API) handleDecision(w http.ResponseWriter, r *http.Request) {
	var req decisionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error(), "invalid_input")
		return
	}
	res, err := a.svc.Decide(r.Context(), actor(r), access.DecisionInput{
		EntryID: chi.URLParam(r, "id"),
		Action:  req.Action,
		Comment: req.Comment,
		Version: req.Version,
	})
	a.writeResult(w, r, res, err)
}

func (a *API) handleOverride(w http.ResponseWriter, r *http.Request) {
	var req overrideRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error(), "invalid_input")
		return
	}
	res, err := a.svc.Override(r.Context(), actor(r), access.OverrideInput{
		EntryID: chi.URLParam(r, "id"),
		Stage:   req.Stage,
		Status:  req.Status,
		Comment: req.Comment,
	})
	a.writeResult(w, r, res, err)
}

func (a *API) handleRevoke(w http.ResponseWriter, r *http.Request) {
	var req revokeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error(), "invalid_input")
		return
	}
	res, err := a.svc.Revoke(r.Context(), actor(r), access.RevokeInput{
		EntryID: chi.URLParam(r, "id"),
		Comment: req.Comment,
	})
	a.writeResult(w, r, res, err)
}

func (a *API) writeResult(w http.ResponseWriter, r *http.Request, res access.Result, err error) {
	if err != nil {
		handleAccessError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"entry":         res.Entry,
		"request":       res.Record.Request,
		"outcome":       res.Outcome,
		"notifications": len(res.Notices),
	})
}

type roleRequest struct {
	Role        access.Role `json:"role"`
	Directorate string      `json:"directorate,omitempty"`
	System      string      `json:"system,omitempty"`
}

func (a *API) handleAssignRole(w http.ResponseWriter, r *http.Request) {
	var req roleRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error(), "invalid_input")
		return
	}
	ra, err := a.roles.Assign(r.Context(), actor(r), chi.URLParam(r, "id"), req.Role,
		access.Scope{Directorate: req.Directorate, System: req.System})
	if err != nil {
		handleAccessError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ra)
}
