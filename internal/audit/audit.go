package audit

import (
	"context"
	"strings"
	"time"
)

// Outcome of an audited action.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
	OutcomeWarning Outcome = "warning"
)

// Common action names.
const (
	ActionLogin       = "User Login"
	ActionLoginFailed = "Failed Login Attempt"
	ActionLogout      = "User Logout"
	ActionSubmit      = "Submitted Access Request"
	ActionRevoke      = "Access Revoked (Immediate)"
	ActionRoleChange  = "Role Changed"
	ActionUserCreate  = "User Created"
	ActionSetting     = "Global Setting Updated"
)

// Entry is one append-only audit record. ActorID is nil when no user could be
// identified, e.g. for a failed login.
type Entry struct {
	ID         string         `json:"id"`
	ActorID    *string        `json:"actor_id"`
	Action     string         `json:"action"`
	Target     string         `json:"target"`
	OccurredAt time.Time      `json:"occurred_at"`
	SourceIP   string         `json:"source_ip,omitempty"`
	Outcome    Outcome        `json:"outcome"`
	RequestID  string         `json:"request_id,omitempty"`
	Details    map[string]any `json:"details,omitempty"`
}

// Actor returns a pointer usable as Entry.ActorID; empty ids become nil.
func Actor(id string) *string {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil
	}
	return &id
}

// Sink durably stores audit entries.
type Sink interface {
	Write(ctx context.Context, e Entry) error
}

type ctxKey string

const requestIDKey ctxKey = "audit_request_id"

// WithRequestID attaches the request identifier to the context for audit logging.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey, requestID)
}

// RequestIDFromContext extracts the request id from context if present.
func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(requestIDKey).(string); ok {
		return v
	}
	return ""
}
