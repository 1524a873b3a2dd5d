package access

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"sysaccess.org/internal/audit"
	"sysaccess.org/internal/ids"
	"sysaccess.org/internal/obs"
)

// Auditor accepts audit entries without blocking.
type Auditor interface {
	Record(ctx context.Context, e audit.Entry)
}

// Announcer delivers bundled notices asynchronously.
type Announcer interface {
	Announce(ctx context.Context, n Notice)
}

// Event is published after every committed mutation.
type Event struct {
	RequestID     string        `json:"request_id"`
	EntryID       string        `json:"entry_id"`
	System        string        `json:"system"`
	Stage         Stage         `json:"stage"`
	Kind          DecisionKind  `json:"kind"`
	Status        Status        `json:"stage_status"`
	RequestStatus RequestStatus `json:"request_status"`
	RequesterID   string        `json:"requester_id"`
	Directorate   string        `json:"directorate_id"`
	ManagerID     string        `json:"manager_id,omitempty"`
	ActorID       string        `json:"actor_id"`
	At            time.Time     `json:"at"`
}

// EventPublisher fans events out to live listeners; it must not block.
type EventPublisher interface {
	Publish(ev Event)
}

// Service runs the approval pipeline on top of a Store.
type Service struct {
	store        Store
	dir          Directory
	auditor      Auditor
	announcer    Announcer
	events       EventPublisher
	now          func() time.Time
	overdueAfter time.Duration
	tracer       trace.Tracer
	observe      func(stage, kind, result string)
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

func WithDirectory(d Directory) ServiceOption { return func(s *Service) { s.dir = d } }
func WithAuditor(a Auditor) ServiceOption     { return func(s *Service) { s.auditor = a } }
func WithAnnouncer(a Announcer) ServiceOption { return func(s *Service) { s.announcer = a } }
func WithEvents(p EventPublisher) ServiceOption {
	return func(s *Service) { s.events = p }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) ServiceOption {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithOverdueAfter sets the overdue threshold.
func WithOverdueAfter(d time.Duration) ServiceOption {
	return func(s *Service) {
		if d > 0 {
			s.overdueAfter = d
		}
	}
}

// NewService constructs a Service.
func NewService(store Store, opts ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, errors.New("access store is required")
	}
	s := &Service{
		store:        store,
		now:          time.Now,
		overdueAfter: DefaultOverdueAfter,
		tracer:       obs.Tracer("sysaccess.org/internal/access"),
		observe:      obs.ObserveDecision,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// SystemRequest names one system in a submission.
type SystemRequest struct {
	Code        string `json:"code"`
	AccessLevel string `json:"access_level,omitempty"`
}

// SubmitInput is a new access request.
type SubmitInput struct {
	DirectorateID string          `json:"directorate_id"`
	Designation   string          `json:"designation"`
	Kind          Kind            `json:"kind"`
	Systems       []SystemRequest `json:"systems"`
}

// Submit creates a request with one entry per system, every stage pending.
func (s *Service) Submit(ctx context.Context, actor Actor, in SubmitInput) (Record, error) {
	ctx, span := s.tracer.Start(ctx, "access.Submit")
	defer span.End()

	in.DirectorateID = strings.TrimSpace(in.DirectorateID)
	in.Designation = strings.TrimSpace(in.Designation)
	if in.Kind == "" {
		in.Kind = KindNew
	}
	if !in.Kind.Valid() {
		return Record{}, fmt.Errorf("%w: unknown request kind %q", ErrValidation, in.Kind)
	}
	if len(in.Systems) == 0 {
		return Record{}, fmt.Errorf("%w: at least one system is required", ErrValidation)
	}
	if in.Designation == "" {
		return Record{}, fmt.Errorf("%w: designation is required", ErrValidation)
	}

	profile := User{ID: actor.UserID, Name: actor.Name, Email: actor.Email}
	if s.dir != nil {
		if u, err := s.dir.User(ctx, actor.UserID); err == nil {
			profile = u
		} else if !errors.Is(err, ErrNotFound) {
			return Record{}, err
		}
	}
	if in.DirectorateID == "" {
		in.DirectorateID = profile.DirectorateID
	}
	if in.DirectorateID == "" {
		return Record{}, fmt.Errorf("%w: directorate is required", ErrValidation)
	}

	now := s.now().UTC()
	req := AccessRequest{
		ID:             ids.NewAt(now),
		RequesterID:    actor.UserID,
		RequesterName:  firstNonEmpty(profile.Name, actor.Name),
		RequesterEmail: firstNonEmpty(profile.Email, actor.Email),
		ManagerID:      profile.ManagerID,
		DirectorateID:  in.DirectorateID,
		Designation:    in.Designation,
		Kind:           in.Kind,
		SubmittedAt:    now,
	}
	seen := make(map[string]bool, len(in.Systems))
	entries := make([]SystemEntry, 0, len(in.Systems))
	for _, sr := range in.Systems {
		code := strings.TrimSpace(sr.Code)
		if _, ok := LookupSystem(code); !ok {
			return Record{}, fmt.Errorf("%w: unknown system %q", ErrValidation, sr.Code)
		}
		if seen[code] {
			return Record{}, fmt.Errorf("%w: system %q requested twice", ErrValidation, code)
		}
		seen[code] = true
		entries = append(entries, SystemEntry{
			ID:          ids.NewAt(now),
			RequestID:   req.ID,
			System:      code,
			AccessLevel: strings.TrimSpace(sr.AccessLevel),
			HOD:         StageRecord{Status: StatusPending},
			ICT:         StageRecord{Status: StatusPending},
			SysAdmin:    StageRecord{Status: StatusPending},
			Version:     1,
		})
	}
	rec := Record{Request: req, Entries: entries}
	SyncRecord(&rec)
	if err := s.store.CreateRequest(ctx, rec); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return Record{}, err
	}
	s.audit(ctx, audit.Entry{
		ActorID:  audit.Actor(actor.UserID),
		Action:   audit.ActionSubmit,
		Target:   fmt.Sprintf("request %s (%d systems)", req.ID, len(entries)),
		SourceIP: actor.SourceIP,
	})
	span.SetAttributes(attribute.String("request.id", req.ID), attribute.Int("request.systems", len(entries)))
	return rec, nil
}

// DecisionInput is a reviewer decision. A non-zero Version must match the entry.
type DecisionInput struct {
	EntryID string `json:"entry_id"`
	Action  Action `json:"action"`
	Comment string `json:"comment"`
	Version int64  `json:"version,omitempty"`
}

// OverrideInput is a super admin override. An empty Stage lets the engine pick.
type OverrideInput struct {
	EntryID string `json:"entry_id"`
	Stage   Stage  `json:"stage,omitempty"`
	Status  Status `json:"status"`
	Comment string `json:"comment"`
}

// RevokeInput withdraws granted access.
type RevokeInput struct {
	EntryID string `json:"entry_id"`
	Comment string `json:"comment"`
}

// Result is returned by every mutating operation.
type Result struct {
	Record  Record      `json:"record"`
	Entry   SystemEntry `json:"entry"`
	Outcome Outcome     `json:"outcome"`
	Notices []Notice    `json:"notices,omitempty"`
}

// Decide records a reviewer decision on one entry.
func (s *Service) Decide(ctx context.Context, actor Actor, in DecisionInput) (Result, error) {
	at := attempt{op: "access.Decide", kind: KindDirect}
	switch stage, ok := stageForRole(actor.Role()); {
	case ok:
		at.stage = stage
	case actor.Role() == RoleSuperAdmin && in.Action == ActionReject:
		at.stage, at.kind = StageSysAdmin, KindForceReject
	case actor.Role() == RoleSuperAdmin:
		at.kind = KindMasquerade
	}
	return s.mutate(ctx, at, actor, in.EntryID, in.Version, func(rec *Record, idx int, now time.Time) (Outcome, error) {
		return Decide(rec, idx, actor, in.Action, in.Comment, now)
	})
}

// Override applies a super admin masquerade approval or forced rejection.
func (s *Service) Override(ctx context.Context, actor Actor, in OverrideInput) (Result, error) {
	at := attempt{op: "access.Override", stage: in.Stage, kind: KindMasquerade}
	if in.Status != StatusApproved {
		at.kind = KindForceReject
		if at.stage == "" {
			at.stage = StageSysAdmin
		}
	}
	return s.mutate(ctx, at, actor, in.EntryID, 0, func(rec *Record, idx int, now time.Time) (Outcome, error) {
		if in.Stage != "" && !in.Stage.Valid() {
			return Outcome{}, fmt.Errorf("%w: unknown stage %q", ErrValidation, in.Stage)
		}
		if !CanOverride(actor) {
			return Outcome{}, fmt.Errorf("%w: override requires super admin", ErrAuthorization)
		}
		switch in.Status {
		case StatusApproved:
			if in.Stage == "" {
				return Masquerade(rec, idx, actor, in.Comment, now)
			}
			return MasqueradeAt(rec, idx, actor, in.Stage, in.Comment, now)
		case StatusRejected:
			if in.Stage == "" {
				return ForceReject(rec, idx, actor, in.Comment, now)
			}
			return RejectAt(rec, idx, actor, in.Stage, in.Comment, now)
		}
		return Outcome{}, fmt.Errorf("%w: override status must be approved or rejected", ErrValidation)
	})
}

// Revoke withdraws access granted at the sysadmin stage.
func (s *Service) Revoke(ctx context.Context, actor Actor, in RevokeInput) (Result, error) {
	at := attempt{op: "access.Revoke", stage: StageSysAdmin, kind: KindRevoke}
	return s.mutate(ctx, at, actor, in.EntryID, 0, func(rec *Record, idx int, now time.Time) (Outcome, error) {
		return Revoke(rec, idx, actor, in.Comment, now)
	})
}

type applyFunc func(rec *Record, idx int, now time.Time) (Outcome, error)

// attempt labels a mutation before its outcome is known. An empty stage is
// resolved to the first pending stage of the entry once it is loaded.
type attempt struct {
	op    string
	stage Stage
	kind  DecisionKind
}

func (a attempt) stageLabel() string {
	if a.stage == "" {
		return "unknown"
	}
	return string(a.stage)
}

// mutate runs apply inside the store's serialised unit, then audits, bundles
// notifications and publishes an event for the committed result.
func (s *Service) mutate(ctx context.Context, at attempt, actor Actor, entryID string, version int64, apply applyFunc) (Result, error) {
	ctx, span := s.tracer.Start(ctx, at.op, trace.WithAttributes(
		attribute.String("entry.id", entryID),
		attribute.String("actor.role", string(actor.Role())),
	))
	defer span.End()

	entryID = strings.TrimSpace(entryID)
	if entryID == "" {
		return Result{}, fmt.Errorf("%w: entry id is required", ErrValidation)
	}
	var out Outcome
	rec, err := s.store.UpdateByEntry(ctx, entryID, func(rec *Record, idx int) error {
		if idx < 0 {
			return fmt.Errorf("%w: system entry %s", ErrNotFound, entryID)
		}
		if at.stage == "" {
			at.stage, _ = FirstPending(rec.Entries[idx])
		}
		if version != 0 && rec.Entries[idx].Version != version {
			return fmt.Errorf("%w: entry changed (version %d, expected %d)", ErrState, rec.Entries[idx].Version, version)
		}
		var err error
		out, err = apply(rec, idx, s.now())
		return err
	})
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		s.observe(at.stageLabel(), string(at.kind), Code(err))
		if errors.Is(err, ErrAuthorization) {
			s.audit(ctx, audit.Entry{
				ActorID:  audit.Actor(actor.UserID),
				Action:   "Unauthorized Decision Attempt",
				Target:   "entry " + entryID,
				SourceIP: actor.SourceIP,
				Outcome:  audit.OutcomeFailure,
				Details:  map[string]any{"error": err.Error()},
			})
		}
		return Result{}, err
	}

	idx := rec.EntryIndex(out.EntryID)
	entry := rec.Entries[idx]
	s.observe(string(out.Stage), string(out.Kind), "ok")
	span.SetAttributes(
		attribute.String("request.id", rec.Request.ID),
		attribute.String("decision.stage", string(out.Stage)),
		attribute.String("decision.kind", string(out.Kind)),
		attribute.String("request.status", string(out.Status)),
	)

	s.audit(ctx, audit.Entry{
		ActorID:  audit.Actor(actor.UserID),
		Action:   auditAction(out),
		Target:   fmt.Sprintf("%s for %s (request %s)", entry.SystemName(), rec.Request.RequesterName, rec.Request.ID),
		SourceIP: actor.SourceIP,
		Details: map[string]any{
			"entry_id":       entry.ID,
			"stage":          string(out.Stage),
			"request_status": string(out.Status),
			"comment":        entry.Stage(out.Stage).Comment,
		},
	})

	notices := Bundle(rec, out)
	if s.announcer != nil {
		for _, n := range notices {
			s.announcer.Announce(ctx, n)
		}
	}
	if s.events != nil {
		s.events.Publish(Event{
			RequestID:     rec.Request.ID,
			EntryID:       entry.ID,
			System:        entry.System,
			Stage:         out.Stage,
			Kind:          out.Kind,
			Status:        entry.StageStatus(out.Stage),
			RequestStatus: out.Status,
			RequesterID:   rec.Request.RequesterID,
			Directorate:   rec.Request.DirectorateID,
			ManagerID:     rec.Request.ManagerID,
			ActorID:       actor.UserID,
			At:            s.now().UTC(),
		})
	}
	return Result{Record: rec, Entry: entry, Outcome: out, Notices: notices}, nil
}

func auditAction(out Outcome) string {
	verb := "Approve"
	if out.Action == ActionReject {
		verb = "Reject"
	}
	switch out.Kind {
	case KindMasquerade:
		return fmt.Sprintf("Super Admin as %s %s System Access", out.Stage.Label(), verb)
	case KindForceReject:
		return fmt.Sprintf("Super Admin Override Reject (%s)", out.Stage.Label())
	case KindRevoke:
		return audit.ActionRevoke
	}
	return fmt.Sprintf("%s %s System Access", out.Stage.Label(), verb)
}

func (s *Service) audit(ctx context.Context, e audit.Entry) {
	if s.auditor != nil {
		s.auditor.Record(ctx, e)
	}
}

// Queue lists the entries of actor's queue for view.
func (s *Service) Queue(ctx context.Context, actor Actor, view View) ([]EntryView, error) {
	f, err := QueueFilter(actor, view)
	if err != nil {
		return nil, err
	}
	return s.store.ListEntries(ctx, f)
}

// Request returns one request if actor may see it.
func (s *Service) Request(ctx context.Context, actor Actor, id string) (Record, error) {
	rec, err := s.store.GetRequest(ctx, strings.TrimSpace(id))
	if err != nil {
		return Record{}, err
	}
	if !CanView(actor, rec) {
		return Record{}, fmt.Errorf("%w: request %s is not visible to you", ErrAuthorization, id)
	}
	return rec, nil
}

// ActiveGrants lists entries whose access is currently granted and can be revoked by actor.
func (s *Service) ActiveGrants(ctx context.Context, actor Actor) ([]EntryView, error) {
	f := EntryFilter{SysAdmin: []Status{StatusApproved}}
	switch {
	case CanOverride(actor):
	case actor.Role() == RoleSysAdmin:
		f.System = actor.Assignment.System
	default:
		return nil, fmt.Errorf("%w: only administrators can list granted access", ErrAuthorization)
	}
	return s.store.ListEntries(ctx, f)
}

// Overdue lists pending entries in actor's queue that waited longer than the threshold.
func (s *Service) Overdue(ctx context.Context, actor Actor) ([]OverdueItem, error) {
	f, err := QueueFilter(actor, ViewPending)
	if err != nil {
		return nil, err
	}
	views, err := s.store.ListEntries(ctx, f)
	if err != nil {
		return nil, err
	}
	return Overdue(views, s.now(), s.overdueAfter), nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
