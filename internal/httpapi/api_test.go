package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"sysaccess.org/internal/access"
	"sysaccess.org/internal/admin"
	"sysaccess.org/internal/audit"
	"sysaccess.org/internal/auth"
	"sysaccess.org/internal/notify"
	"sysaccess.org/internal/stream"
)

type apiClient struct {
	baseURL string
	client  *http.Client
	t       *testing.T
	store   *access.InMemory
	svc     *access.Service
	authn   *auth.Authenticator
	idp     *auth.Assertions
	log     *audit.MemorySink
}

func newTestAPI(t *testing.T) *apiClient {
	t.Helper()
	ctx := context.Background()
	store := access.NewInMemory()
	users := []access.User{
		{ID: "jane", Name: "Jane", Email: "jane@example.org", DirectorateID: "finance", Active: true},
		{ID: "hod1", Name: "Harriet", Email: "hod@example.org", DirectorateID: "finance", Active: true},
		{ID: "ict1", Name: "Ivan", Email: "ict@example.org", Active: true},
		{ID: "sa2", Name: "Sam", Email: "sa@example.org", Active: true},
		{ID: "root", Name: "Root", Email: "root@example.org", Active: true},
	}
	for _, u := range users {
		if err := store.PutUser(ctx, u); err != nil {
			t.Fatal(err)
		}
	}
	for _, ra := range []access.RoleAssignment{
		{UserID: "hod1", Role: access.RoleHOD, Directorate: "finance"},
		{UserID: "ict1", Role: access.RoleICT},
		{UserID: "sa2", Role: access.RoleSysAdmin, System: "2"},
		{UserID: "root", Role: access.RoleSuperAdmin},
	} {
		if err := store.PutAssignment(ctx, ra); err != nil {
			t.Fatal(err)
		}
	}

	svc, err := access.NewService(store, access.WithDirectory(store))
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	tokens, err := auth.NewTokens("test-secret", time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	idp, err := auth.NewAssertions("test-idp-secret", time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	authn, err := auth.NewAuthenticator(store, store, tokens, idp, auth.NewMemoryRevocations(), nil)
	if err != nil {
		t.Fatal(err)
	}
	auditLog := audit.NewMemorySink(0)
	api := New(Deps{
		Service: svc,
		Auth:    authn,
		Roles:   auth.NewRoleService(store, store, nil),
		Admin:   admin.NewService(store, store, auditLog, notify.NewMemorySettings(), nil),
		Stream:  stream.New(),
		Version: "test",
	}, Options{RatePerSec: 1000, RateBurst: 1000})

	srv := httptest.NewServer(api.Handler())
	t.Cleanup(srv.Close)
	return &apiClient{baseURL: srv.URL, client: srv.Client(), t: t, store: store, svc: svc, authn: authn, idp: idp, log: auditLog}
}

func (c *apiClient) do(method, path, token string, body any) *http.Response {
	c.t.Helper()
	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			c.t.Fatalf("marshal body: %v", err)
		}
	}
	req, err := http.NewRequest(method, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		c.t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.t.Fatalf("do request: %v", err)
	}
	return resp
}

func (c *apiClient) login(userID string) string {
	c.t.Helper()
	assertion, err := c.idp.Sign(userID)
	if err != nil {
		c.t.Fatalf("sign assertion: %v", err)
	}
	resp := c.do(http.MethodPost, "/v1/auth/token", "", map[string]string{"assertion": assertion})
	var out struct {
		AccessToken string `json:"access_token"`
		TokenType   string `json:"token_type"`
	}
	decode(c.t, resp, http.StatusOK, &out)
	if out.AccessToken == "" || out.TokenType != "Bearer" {
		c.t.Fatalf("unexpected token response %+v", out)
	}
	return out.AccessToken
}

func decode(t *testing.T, resp *http.Response, want int, dst any) {
	t.Helper()
	defer resp.Body.Close()
	if resp.StatusCode != want {
		var body map[string]any
		_ = json.NewDecoder(resp.Body).Decode(&body)
		t.Fatalf("status=%d want %d body=%v", resp.StatusCode, want, body)
	}
	if dst == nil {
		return
	}
	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

type recordResponse struct {
	Request struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	} `json:"request"`
	Entries []struct {
		ID       string `json:"id"`
		System   string `json:"system"`
		Version  int64  `json:"version"`
		SysAdmin struct {
			Status string `json:"status"`
		} `json:"sysadmin"`
	} `json:"entries"`
}

type resultResponse struct {
	Request struct {
		Status string `json:"status"`
	} `json:"request"`
	Outcome struct {
		Kind     string   `json:"kind"`
		Cascaded []string `json:"cascaded"`
	} `json:"outcome"`
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func (c *apiClient) submit(token string, systems ...string) recordResponse {
	c.t.Helper()
	reqs := make([]map[string]string, 0, len(systems))
	for _, s := range systems {
		reqs = append(reqs, map[string]string{"code": s})
	}
	var rec recordResponse
	decode(c.t, c.do(http.MethodPost, "/v1/requests", token, map[string]any{
		"designation": "Accountant",
		"systems":     reqs,
	}), http.StatusCreated, &rec)
	return rec
}

func (c *apiClient) decide(token, entryID, action, comment string) resultResponse {
	c.t.Helper()
	var res resultResponse
	decode(c.t, c.do(http.MethodPost, "/v1/entries/"+entryID+"/decision", token,
		map[string]string{"action": action, "comment": comment}), http.StatusOK, &res)
	return res
}

func TestAPI_FullApprovalFlow(t *testing.T) {
	c := newTestAPI(t)
	jane := c.login("jane")
	rec := c.submit(jane, "2", "4")
	if rec.Request.Status != string(access.RequestPendingHOD) || len(rec.Entries) != 2 {
		t.Fatalf("unexpected submission %+v", rec)
	}

	hod := c.login("hod1")
	c.decide(hod, rec.Entries[0].ID, "approve", "")
	res := c.decide(hod, rec.Entries[1].ID, "reject", "not needed")
	if res.Request.Status != string(access.RequestPendingICT) {
		t.Fatalf("one approved entry should move request to ict, got %s", res.Request.Status)
	}
	if len(res.Outcome.Cascaded) != 2 {
		t.Fatalf("hod reject should cascade two stages, got %v", res.Outcome.Cascaded)
	}

	ict := c.login("ict1")
	c.decide(ict, rec.Entries[0].ID, "approve", "")
	sa := c.login("sa2")
	res = c.decide(sa, rec.Entries[0].ID, "approve", "account created")
	if res.Request.Status != string(access.RequestApproved) {
		t.Fatalf("expected approved request, got %s", res.Request.Status)
	}

	var got recordResponse
	decode(t, c.do(http.MethodGet, "/v1/requests/"+rec.Request.ID, jane, nil), http.StatusOK, &got)
	if got.Entries[0].SysAdmin.Status != string(access.StatusApproved) {
		t.Fatalf("sysadmin stage not persisted: %+v", got.Entries[0])
	}

	var grants listResponse[access.EntryView]
	decode(t, c.do(http.MethodGet, "/v1/grants", sa, nil), http.StatusOK, &grants)
	if grants.Count != 1 || grants.Items[0].Entry.System != "2" {
		t.Fatalf("unexpected grants %+v", grants)
	}
}

func TestAPI_StateAndAuthorizationErrors(t *testing.T) {
	c := newTestAPI(t)
	jane := c.login("jane")
	rec := c.submit(jane, "2")
	hod := c.login("hod1")
	c.decide(hod, rec.Entries[0].ID, "approve", "")

	var e errorResponse
	decode(t, c.do(http.MethodPost, "/v1/entries/"+rec.Entries[0].ID+"/decision", hod,
		map[string]string{"action": "reject"}), http.StatusForbidden, &e)
	if e.Code != "invalid_state" {
		t.Fatalf("second hod decision should be a state error, got %+v", e)
	}

	decode(t, c.do(http.MethodPost, "/v1/entries/"+rec.Entries[0].ID+"/decision", jane,
		map[string]string{"action": "approve"}), http.StatusForbidden, &e)
	if e.Code != "unauthorized" {
		t.Fatalf("staff cannot decide, got %+v", e)
	}

	decode(t, c.do(http.MethodPost, "/v1/entries/missing/decision", hod,
		map[string]string{"action": "approve"}), http.StatusNotFound, &e)
	if e.Code != "not_found" {
		t.Fatalf("unexpected error %+v", e)
	}

	decode(t, c.do(http.MethodPost, "/v1/entries/"+rec.Entries[0].ID+"/decision", hod,
		map[string]string{"action": "maybe"}), http.StatusBadRequest, &e)
	if e.Code != "invalid_input" {
		t.Fatalf("unexpected error %+v", e)
	}
}

func TestAPI_SuperAdminOverrideAndRevoke(t *testing.T) {
	c := newTestAPI(t)
	jane := c.login("jane")
	rec := c.submit(jane, "2")
	root := c.login("root")

	var res resultResponse
	decode(t, c.do(http.MethodPost, "/v1/entries/"+rec.Entries[0].ID+"/override", root,
		map[string]string{"stage": "hod", "status": "approved", "comment": "urgent"}), http.StatusOK, &res)
	if res.Request.Status != string(access.RequestPendingICT) {
		t.Fatalf("override should advance request, got %s", res.Request.Status)
	}
	c.decide(root, rec.Entries[0].ID, "approve", "")
	c.decide(root, rec.Entries[0].ID, "approve", "")

	decode(t, c.do(http.MethodPost, "/v1/entries/"+rec.Entries[0].ID+"/revoke", root,
		map[string]string{"comment": "left the team"}), http.StatusOK, &res)

	var got recordResponse
	decode(t, c.do(http.MethodGet, "/v1/requests/"+rec.Request.ID, root, nil), http.StatusOK, &got)
	if got.Entries[0].SysAdmin.Status != string(access.StatusRevoked) {
		t.Fatalf("expected revoked entry, got %+v", got.Entries[0])
	}
}

func TestAPI_Unauthenticated(t *testing.T) {
	c := newTestAPI(t)
	resp := c.do(http.MethodGet, "/v1/queue", "", nil)
	if resp.Header.Get("WWW-Authenticate") == "" {
		t.Fatal("missing WWW-Authenticate header")
	}
	decode(t, resp, http.StatusUnauthorized, nil)

	decode(t, c.do(http.MethodGet, "/v1/queue", "not-a-token", nil), http.StatusUnauthorized, nil)
	decode(t, c.do(http.MethodPost, "/v1/auth/token", "", map[string]string{"user_id": "nobody"}), http.StatusUnauthorized, nil)
}

func TestAPI_TokenRequiresIdentityAssertion(t *testing.T) {
	c := newTestAPI(t)
	var e errorResponse
	decode(t, c.do(http.MethodPost, "/v1/auth/token", "", map[string]string{"user_id": "root"}), http.StatusUnauthorized, &e)
	if e.Code != "unauthenticated" {
		t.Fatalf("unexpected error %+v", e)
	}

	forger, err := auth.NewAssertions("guessed-secret", time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	forged, err := forger.Sign("root")
	if err != nil {
		t.Fatal(err)
	}
	decode(t, c.do(http.MethodPost, "/v1/auth/token", "", map[string]string{"assertion": forged}), http.StatusUnauthorized, nil)

	valid, err := c.idp.Sign("root")
	if err != nil {
		t.Fatal(err)
	}
	decode(t, c.do(http.MethodPost, "/v1/auth/token", "", map[string]string{"assertion": valid}), http.StatusOK, nil)
	decode(t, c.do(http.MethodPost, "/v1/auth/token", "", map[string]string{"assertion": valid}), http.StatusUnauthorized, nil)
}

func TestAPI_PublicSystemsCatalog(t *testing.T) {
	c := newTestAPI(t)
	var out listResponse[access.System]
	decode(t, c.do(http.MethodGet, "/v1/systems", "", nil), http.StatusOK, &out)
	if out.Count != len(access.Systems()) || out.Items[1].Name != "CRM" {
		t.Fatalf("unexpected catalog %+v", out)
	}
}

func TestAPI_QueueViews(t *testing.T) {
	c := newTestAPI(t)
	jane := c.login("jane")
	c.submit(jane, "2", "4")

	var out listResponse[access.EntryView]
	decode(t, c.do(http.MethodGet, "/v1/queue?view=pending", c.login("hod1"), nil), http.StatusOK, &out)
	if out.Count != 2 {
		t.Fatalf("hod should see two pending entries, got %d", out.Count)
	}
	decode(t, c.do(http.MethodGet, "/v1/queue?view=mine", jane, nil), http.StatusOK, &out)
	if out.Count != 2 {
		t.Fatalf("requester should see own entries, got %d", out.Count)
	}
	decode(t, c.do(http.MethodGet, "/v1/queue?view=bogus", jane, nil), http.StatusBadRequest, nil)
}

func TestAPI_RoleAssignmentAppliesToLiveToken(t *testing.T) {
	c := newTestAPI(t)
	jane := c.login("jane")
	root := c.login("root")

	decode(t, c.do(http.MethodPut, "/v1/users/jane/role", jane,
		map[string]string{"role": "ict"}), http.StatusForbidden, nil)

	var ra access.RoleAssignment
	decode(t, c.do(http.MethodPut, "/v1/users/jane/role", root,
		map[string]string{"role": "ict"}), http.StatusOK, &ra)
	if ra.Role != access.RoleICT {
		t.Fatalf("unexpected assignment %+v", ra)
	}
	decode(t, c.do(http.MethodGet, "/v1/queue?view=pending", jane, nil), http.StatusOK, nil)

	decode(t, c.do(http.MethodPut, "/v1/users/jane/role", root,
		map[string]string{"role": "hod"}), http.StatusBadRequest, nil)
}

func TestAPI_LogoutRevokesToken(t *testing.T) {
	c := newTestAPI(t)
	jane := c.login("jane")
	decode(t, c.do(http.MethodPost, "/v1/auth/logout", jane, nil), http.StatusNoContent, nil)
	decode(t, c.do(http.MethodGet, "/v1/queue?view=mine", jane, nil), http.StatusUnauthorized, nil)
}

func TestAPI_MaintenanceMode(t *testing.T) {
	c := newTestAPI(t)
	jane := c.login("jane")
	c.authn.SetMaintenance(true)
	t.Cleanup(func() { c.authn.SetMaintenance(false) })

	var e errorResponse
	decode(t, c.do(http.MethodGet, "/v1/queue?view=mine", jane, nil), http.StatusServiceUnavailable, &e)
	if e.Code != "maintenance" {
		t.Fatalf("unexpected error %+v", e)
	}
	decode(t, c.do(http.MethodGet, "/v1/queue?view=pending", c.login("root"), nil), http.StatusOK, nil)
}

func TestAPI_HealthAndReadiness(t *testing.T) {
	c := newTestAPI(t)
	var h map[string]any
	decode(t, c.do(http.MethodGet, "/healthz", "", nil), http.StatusOK, &h)
	if h["status"] != "ok" || h["version"] != "test" {
		t.Fatalf("unexpected health %+v", h)
	}
	decode(t, c.do(http.MethodGet, "/readyz", "", nil), http.StatusOK, nil)
	decode(t, c.do(http.MethodGet, "/nope", "", nil), http.StatusNotFound, nil)

	api := New(Deps{Readiness: PingFunc(func(context.Context) error { return errors.New("db down") })}, Options{})
	rr := httptest.NewRecorder()
	api.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("readyz=%d, want 503", rr.Code)
	}
}

func TestDecodeJSONRejectsUnknownFields(t *testing.T) {
	c := newTestAPI(t)
	var e errorResponse
	decode(t, c.do(http.MethodPost, "/v1/auth/token", "", map[string]string{"user": "jane"}), http.StatusBadRequest, &e)
	if e.Code != "invalid_input" {
		t.Fatalf("unexpected error %+v", e)
	}
}

func TestAPI_UserAdministration(t *testing.T) {
	c := newTestAPI(t)
	root := c.login("root")
	jane := c.login("jane")

	newUser := map[string]any{"id": "kim", "name": "Kim", "email": "kim@example.org", "directorate_id": "finance"}
	decode(t, c.do(http.MethodPost, "/v1/users", jane, newUser), http.StatusForbidden, nil)

	var created access.User
	decode(t, c.do(http.MethodPost, "/v1/users", root, newUser), http.StatusCreated, &created)
	if created.ID != "kim" || !created.Active {
		t.Fatalf("unexpected user %+v", created)
	}
	decode(t, c.do(http.MethodPost, "/v1/users", root, newUser), http.StatusBadRequest, nil)

	// The new user can log in once the identity provider vouches for them.
	kim := c.login("kim")
	var me admin.Profile
	decode(t, c.do(http.MethodGet, "/v1/users/me", kim, nil), http.StatusOK, &me)
	if me.User.ID != "kim" || me.Assignment.Role != access.RoleStaff {
		t.Fatalf("unexpected profile %+v", me)
	}

	var all listResponse[access.User]
	decode(t, c.do(http.MethodGet, "/v1/users?search=kim", root, nil), http.StatusOK, &all)
	if all.Count != 1 || all.Items[0].ID != "kim" {
		t.Fatalf("unexpected search result %+v", all)
	}
	var own listResponse[access.User]
	decode(t, c.do(http.MethodGet, "/v1/users", jane, nil), http.StatusOK, &own)
	if own.Count != 1 || own.Items[0].ID != "jane" {
		t.Fatalf("staff should only see themselves, got %+v", own)
	}
	decode(t, c.do(http.MethodGet, "/v1/users?role=wizard", root, nil), http.StatusBadRequest, nil)
	decode(t, c.do(http.MethodGet, "/v1/users/me", "", nil), http.StatusUnauthorized, nil)
}

func TestAPI_MySystems(t *testing.T) {
	c := newTestAPI(t)
	jane := c.login("jane")
	rec := c.submit(jane, "2")
	id := rec.Entries[0].ID
	c.decide(c.login("hod1"), id, "approve", "")
	c.decide(c.login("ict1"), id, "approve", "")

	var held listResponse[access.HeldSystem]
	decode(t, c.do(http.MethodGet, "/v1/users/me/systems", jane, nil), http.StatusOK, &held)
	if held.Count != 0 {
		t.Fatalf("nothing granted yet, got %+v", held)
	}
	c.decide(c.login("sa2"), id, "approve", "provisioned")
	decode(t, c.do(http.MethodGet, "/v1/users/me/systems", jane, nil), http.StatusOK, &held)
	if held.Count != 1 || held.Items[0].System != "2" || held.Items[0].RequestID != rec.Request.ID {
		t.Fatalf("unexpected holdings %+v", held)
	}
}

func TestAPI_AuditLog(t *testing.T) {
	c := newTestAPI(t)
	ctx := context.Background()
	_ = c.log.Write(ctx, audit.Entry{ID: "a1", ActorID: audit.Actor("jane"), Action: audit.ActionLogin, OccurredAt: time.Now()})
	_ = c.log.Write(ctx, audit.Entry{ID: "a2", ActorID: audit.Actor("root"), Action: audit.ActionRoleChange, Target: "jane", OccurredAt: time.Now()})

	decode(t, c.do(http.MethodGet, "/v1/audit-logs", c.login("jane"), nil), http.StatusForbidden, nil)

	root := c.login("root")
	var out listResponse[audit.Entry]
	decode(t, c.do(http.MethodGet, "/v1/audit-logs?target=jane", root, nil), http.StatusOK, &out)
	if out.Count != 1 || out.Items[0].ID != "a2" {
		t.Fatalf("unexpected audit log %+v", out)
	}
	decode(t, c.do(http.MethodGet, "/v1/audit-logs?limit=abc", root, nil), http.StatusBadRequest, nil)
}

func TestAPI_PutSetting(t *testing.T) {
	c := newTestAPI(t)
	body := map[string]string{"value": "ict@example.org"}
	decode(t, c.do(http.MethodPut, "/v1/settings/ict_email", c.login("jane"), body), http.StatusForbidden, nil)

	root := c.login("root")
	var out map[string]string
	decode(t, c.do(http.MethodPut, "/v1/settings/ict_email", root, body), http.StatusOK, &out)
	if out["key"] != "ict_email" || out["value"] != "ict@example.org" {
		t.Fatalf("unexpected response %+v", out)
	}
	decode(t, c.do(http.MethodPut, "/v1/settings/Not-Snake", root, body), http.StatusBadRequest, nil)
}
