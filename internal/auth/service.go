package auth

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"sysaccess.org/internal/access"
	"sysaccess.org/internal/audit"
	"sysaccess.org/internal/obs"
)

// RoleStore persists the single current role assignment of each user.
type RoleStore interface {
	Assignment(ctx context.Context, userID string) (access.RoleAssignment, error)
	PutAssignment(ctx context.Context, ra access.RoleAssignment) error
}

// Session is the result of a successful login.
type Session struct {
	Token     string    `json:"access_token"`
	TokenType string    `json:"token_type"`
	ExpiresAt time.Time `json:"expires_at"`
	Principal Principal `json:"-"`
}

// Authenticator issues and verifies sessions. Credentials are checked upstream
// by the identity provider; Login only accepts that provider's signed assertion.
type Authenticator struct {
	users       access.Directory
	roles       RoleStore
	tokens      *Tokens
	assertions  *Assertions
	revocations Revocations
	auditor     access.Auditor

	maintenance atomic.Bool
}

// NewAuthenticator wires the dependencies; revocations defaults to an in-process list.
func NewAuthenticator(users access.Directory, roles RoleStore, tokens *Tokens, assertions *Assertions, revocations Revocations, auditor access.Auditor) (*Authenticator, error) {
	if users == nil || roles == nil || tokens == nil || assertions == nil {
		return nil, errors.New("auth: directory, role store, tokens and assertions are required")
	}
	if revocations == nil {
		revocations = NewMemoryRevocations()
	}
	return &Authenticator{users: users, roles: roles, tokens: tokens, assertions: assertions, revocations: revocations, auditor: auditor}, nil
}

// SetMaintenance toggles maintenance mode.
func (a *Authenticator) SetMaintenance(on bool) { a.maintenance.Store(on) }

// Maintenance reports whether maintenance mode is on.
func (a *Authenticator) Maintenance() bool { return a.maintenance.Load() }

// Login exchanges an identity provider assertion for a session token.
func (a *Authenticator) Login(ctx context.Context, assertion, sourceIP string) (Session, error) {
	asserted, err := a.assertions.Verify(assertion)
	if err != nil {
		a.record(ctx, audit.Entry{Action: audit.ActionLoginFailed, SourceIP: sourceIP, Outcome: audit.OutcomeWarning,
			Details: map[string]any{"reason": "invalid assertion"}})
		return Session{}, ErrInvalidCredentials
	}
	userID := asserted.Subject
	if err := a.assertions.consume(ctx, a.revocations, asserted); err != nil {
		if !errors.Is(err, ErrInvalidCredentials) {
			obs.Logger().Warn("assertion replay check failed", "error", err)
		}
		a.record(ctx, audit.Entry{Action: audit.ActionLoginFailed, Target: userID, SourceIP: sourceIP, Outcome: audit.OutcomeWarning,
			Details: map[string]any{"reason": "assertion replayed"}})
		return Session{}, ErrInvalidCredentials
	}
	user, err := a.users.User(ctx, userID)
	switch {
	case errors.Is(err, access.ErrNotFound):
		a.record(ctx, audit.Entry{Action: audit.ActionLoginFailed, Target: userID, SourceIP: sourceIP, Outcome: audit.OutcomeWarning,
			Details: map[string]any{"reason": "unknown user"}})
		return Session{}, ErrInvalidCredentials
	case err != nil:
		return Session{}, fmt.Errorf("load user: %w", err)
	case !user.Active:
		a.record(ctx, audit.Entry{Action: audit.ActionLoginFailed, Target: userID, SourceIP: sourceIP, Outcome: audit.OutcomeFailure,
			Details: map[string]any{"reason": "inactive"}})
		return Session{}, ErrInvalidCredentials
	}
	ra, err := a.roles.Assignment(ctx, user.ID)
	if err != nil {
		return Session{}, fmt.Errorf("load role: %w", err)
	}
	principal := Principal{User: user, Assignment: ra}
	if a.Maintenance() && !isAdministrator(principal) {
		a.record(ctx, audit.Entry{Action: audit.ActionLoginFailed, Target: userID, SourceIP: sourceIP, Outcome: audit.OutcomeWarning,
			Details: map[string]any{"reason": "maintenance"}})
		return Session{}, ErrMaintenance
	}
	token, claims, err := a.tokens.Issue(user.ID)
	if err != nil {
		return Session{}, err
	}
	principal.TokenID = claims.ID
	principal.ExpiresAt = claims.ExpiresAt.Time
	a.record(ctx, audit.Entry{ActorID: audit.Actor(user.ID), Action: audit.ActionLogin, Target: user.ID, SourceIP: sourceIP})
	return Session{Token: token, TokenType: "Bearer", ExpiresAt: principal.ExpiresAt, Principal: principal}, nil
}

// Authenticate verifies token and loads the caller's current user record and role.
func (a *Authenticator) Authenticate(ctx context.Context, token string) (Principal, error) {
	claims, err := a.tokens.Parse(token)
	if err != nil {
		return Principal{}, err
	}
	revoked, err := a.revocations.Revoked(ctx, claims.ID)
	if err != nil {
		obs.Logger().Warn("revocation lookup failed", "error", err)
		return Principal{}, ErrInvalidToken
	}
	if revoked {
		return Principal{}, ErrInvalidToken
	}
	user, err := a.users.User(ctx, claims.Subject)
	if err != nil || !user.Active {
		return Principal{}, ErrInvalidToken
	}
	ra, err := a.roles.Assignment(ctx, user.ID)
	if err != nil {
		return Principal{}, fmt.Errorf("load role: %w", err)
	}
	p := Principal{User: user, Assignment: ra, TokenID: claims.ID, ExpiresAt: claims.ExpiresAt.Time}
	if a.Maintenance() && !isAdministrator(p) {
		return Principal{}, ErrMaintenance
	}
	return p, nil
}

// Logout revokes the principal's token until it would have expired.
func (a *Authenticator) Logout(ctx context.Context, p Principal, sourceIP string) error {
	if err := a.revocations.Revoke(ctx, p.TokenID, p.ExpiresAt); err != nil {
		return fmt.Errorf("revoke token: %w", err)
	}
	a.record(ctx, audit.Entry{ActorID: audit.Actor(p.User.ID), Action: audit.ActionLogout, Target: p.User.ID, SourceIP: sourceIP})
	return nil
}

func (a *Authenticator) record(ctx context.Context, e audit.Entry) {
	if a.auditor != nil {
		a.auditor.Record(ctx, e)
	}
}

func isAdministrator(p Principal) bool {
	return p.User.Admin || p.Assignment.Role == access.RoleSuperAdmin
}
