package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/netip"
	"time"

	"github.com/go-chi/chi/v5"

	"sysaccess.org/internal/access"
	"sysaccess.org/internal/admin"
	"sysaccess.org/internal/auth"
	"sysaccess.org/internal/obs"
	"sysaccess.org/internal/stream"
)

const serviceName = "sysaccess-api"

// ReadinessChecker reports whether dependencies are reachable.
type ReadinessChecker interface {
	Check(ctx context.Context) error
}

// PingFunc adapts a ping function such as (*pg.Store).Ping.
type PingFunc func(ctx context.Context) error

func (f PingFunc) Check(ctx context.Context) error {
	if f == nil {
		return nil
	}
	return f(ctx)
}

// Deps are the collaborators the HTTP layer dispatches to.
type Deps struct {
	Service   *access.Service
	Auth      *auth.Authenticator
	Roles     *auth.RoleService
	Admin     *admin.Service
	Stream    *stream.Stream
	Readiness ReadinessChecker
	Version   string
}

// Options tune the middleware chain.
type Options struct {
	RatePerSec     float64
	RateBurst      int
	AllowedOrigins []string
	MaxBodyBytes   int64
	// TrustedProxies may set X-Forwarded-For; everyone else is keyed by peer address.
	TrustedProxies []netip.Prefix
}

// API is the HTTP layer.
type API struct {
	svc       *access.Service
	auth      *auth.Authenticator
	roles     *auth.RoleService
	admin     *admin.Service
	stream    *stream.Stream
	readiness ReadinessChecker
	version   string
	opts      Options
	limiter   *RateLimiter
}

func New(deps Deps, opts Options) *API {
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = 1 << 20
	}
	if deps.Readiness == nil {
		deps.Readiness = PingFunc(nil)
	}
	a := &API{
		svc:       deps.Service,
		auth:      deps.Auth,
		roles:     deps.Roles,
		admin:     deps.Admin,
		stream:    deps.Stream,
		readiness: deps.Readiness,
		version:   deps.Version,
		opts:      opts,
	}
	if opts.RatePerSec > 0 && opts.RateBurst > 0 {
		a.limiter = NewRateLimiter(opts.RatePerSec, opts.RateBurst)
	}
	return a
}

// Handler builds the router with the full middleware chain.
func (a *API) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(RequestID, RealIP(a.opts.TrustedProxies), LoggingJSON, SecurityHeaders, CORS(a.opts.AllowedOrigins), obs.HTTPTracing(serviceName))
	if a.limiter != nil {
		r.Use(a.limiter.Middleware)
	}
	r.Use(MaxBodyBytes(a.opts.MaxBodyBytes))

	r.Get("/healthz", a.Healthz)
	r.Get("/readyz", a.Ready)
	r.Handle("/metrics", obs.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Post("/auth/token", a.handleAuthToken)
		r.Get("/systems", a.handleSystems)

		r.Group(func(r chi.Router) {
			r.Use(a.withAuth)
			r.Post("/auth/logout", a.handleLogout)
			r.Post("/requests", a.handleSubmit)
			r.Get("/requests/{id}", a.handleGetRequest)
			r.Get("/queue", a.handleQueue)
			r.Get("/grants", a.handleGrants)
			r.Get("/overdue", a.handleOverdue)
			r.Post("/entries/{id}/decision", a.handleDecision)
			r.Post("/entries/{id}/override", a.handleOverride)
			r.Post("/entries/{id}/revoke", a.handleRevoke)
			r.Get("/users", a.handleListUsers)
			r.Post("/users", a.handleCreateUser)
			r.Get("/users/me", a.handleMe)
			r.Get("/users/me/systems", a.handleMySystems)
			r.Put("/users/{id}/role", a.handleAssignRole)
			r.Get("/audit-logs", a.handleAuditLog)
			r.Put("/settings/{key}", a.handlePutSetting)
			r.Get("/events", a.Stream)
		})
	})
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusNotFound, "resource not found", "not_found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusMethodNotAllowed, "method not allowed", "method_not_allowed")
	})
	return obs.Instrument(r)
}

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": serviceName,
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := a.readiness.Check(ctx); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	status := "ready"
	if a.auth != nil && a.auth.Maintenance() {
		status = "maintenance"
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": status})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// Start runs background housekeeping until ctx is done.
func (a *API) Start(ctx context.Context) {
	if a.limiter != nil {
		go a.limiter.Run(ctx)
	}
}
