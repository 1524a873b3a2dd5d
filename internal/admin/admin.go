// Package admin holds the administrator operations that sit beside the
// approval pipeline: the user directory, the audit log and global settings.
package admin

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"regexp"
	"strings"

	"sysaccess.org/internal/access"
	"sysaccess.org/internal/audit"
)

const maxSettingLen = 10000

var settingKey = regexp.MustCompile(`^[a-z][a-z0-9_]{0,63}$`)

// Assignments resolves the current role of a user.
type Assignments interface {
	Assignment(ctx context.Context, userID string) (access.RoleAssignment, error)
}

// SettingsStore is a writable key/value settings source.
type SettingsStore interface {
	Setting(ctx context.Context, key string) (string, bool, error)
	PutSetting(ctx context.Context, key, value string) error
}

// Service runs administration requests. Every field except users may be nil,
// in which case the matching operation reports it is not configured.
type Service struct {
	users    access.UserStore
	roles    Assignments
	log      audit.Reader
	settings SettingsStore
	auditor  access.Auditor
}

// ErrNotConfigured is returned by operations whose backing store is missing.
var ErrNotConfigured = errors.New("admin: backing store is not configured")

func NewService(users access.UserStore, roles Assignments, log audit.Reader, settings SettingsStore, auditor access.Auditor) *Service {
	return &Service{users: users, roles: roles, log: log, settings: settings, auditor: auditor}
}

// NewUser is the input of CreateUser. Active defaults to true.
type NewUser struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	Email         string `json:"email"`
	DirectorateID string `json:"directorate_id"`
	ManagerID     string `json:"manager_id"`
	Admin         bool   `json:"admin"`
	Active        *bool  `json:"active"`
}

func (in NewUser) user() (access.User, error) {
	u := access.User{
		ID:            strings.TrimSpace(in.ID),
		Name:          strings.TrimSpace(in.Name),
		Email:         strings.TrimSpace(in.Email),
		DirectorateID: strings.TrimSpace(in.DirectorateID),
		ManagerID:     strings.TrimSpace(in.ManagerID),
		Admin:         in.Admin,
		Active:        in.Active == nil || *in.Active,
	}
	switch {
	case u.ID == "":
		return u, fmt.Errorf("%w: id is required", access.ErrValidation)
	case u.Name == "":
		return u, fmt.Errorf("%w: name is required", access.ErrValidation)
	case u.Email == "":
		return u, fmt.Errorf("%w: email is required", access.ErrValidation)
	}
	if addr, err := mail.ParseAddress(u.Email); err != nil || addr.Address != u.Email {
		return u, fmt.Errorf("%w: email %q is not a plain address", access.ErrValidation, u.Email)
	}
	return u, nil
}

// CreateUser adds a directory user. Existing ids are refused; role changes go
// through the role service.
func (s *Service) CreateUser(ctx context.Context, actor access.Actor, in NewUser) (access.User, error) {
	if !access.CanOverride(actor) {
		return access.User{}, fmt.Errorf("%w: only administrators can create users", access.ErrAuthorization)
	}
	if s.users == nil {
		return access.User{}, ErrNotConfigured
	}
	u, err := in.user()
	if err != nil {
		return access.User{}, err
	}
	if _, err := s.users.User(ctx, u.ID); err == nil {
		return access.User{}, fmt.Errorf("%w: user %s already exists", access.ErrValidation, u.ID)
	} else if !errors.Is(err, access.ErrNotFound) {
		return access.User{}, err
	}
	if err := s.users.PutUser(ctx, u); err != nil {
		return access.User{}, err
	}
	s.record(ctx, audit.Entry{
		ActorID:  audit.Actor(actor.UserID),
		Action:   audit.ActionUserCreate,
		Target:   u.ID,
		SourceIP: actor.SourceIP,
		Outcome:  audit.OutcomeSuccess,
		Details:  map[string]any{"admin": u.Admin, "directorate": u.DirectorateID},
	})
	return u, nil
}

// UserQuery filters ListUsers. Search matches id, name or email case-insensitively.
type UserQuery struct {
	Search string
	Role   access.Role
}

// ListUsers returns the directory for administrators and system admins; anyone
// else only sees themselves.
func (s *Service) ListUsers(ctx context.Context, actor access.Actor, q UserQuery) ([]access.User, error) {
	if s.users == nil {
		return nil, ErrNotConfigured
	}
	if !access.CanOverride(actor) && actor.Role() != access.RoleSysAdmin {
		u, err := s.users.User(ctx, actor.UserID)
		if err != nil {
			return nil, err
		}
		return []access.User{u}, nil
	}
	all, err := s.users.ListUsers(ctx)
	if err != nil {
		return nil, err
	}
	search := strings.ToLower(strings.TrimSpace(q.Search))
	out := make([]access.User, 0, len(all))
	for _, u := range all {
		if search != "" && !strings.Contains(strings.ToLower(u.ID+" "+u.Name+" "+u.Email), search) {
			continue
		}
		if q.Role != "" {
			if s.roles == nil {
				return nil, ErrNotConfigured
			}
			ra, err := s.roles.Assignment(ctx, u.ID)
			if err != nil {
				return nil, err
			}
			if ra.Role != q.Role {
				continue
			}
		}
		out = append(out, u)
	}
	return out, nil
}

// Profile is the caller's own directory record with the assignment in force.
type Profile struct {
	User       access.User           `json:"user"`
	Assignment access.RoleAssignment `json:"assignment"`
}

func (s *Service) Me(ctx context.Context, actor access.Actor) (Profile, error) {
	if s.users == nil {
		return Profile{}, ErrNotConfigured
	}
	u, err := s.users.User(ctx, actor.UserID)
	if err != nil {
		return Profile{}, err
	}
	return Profile{User: u, Assignment: actor.Assignment}, nil
}

// AuditLog lists audit entries for administrators, newest first.
func (s *Service) AuditLog(ctx context.Context, actor access.Actor, q audit.Query) ([]audit.Entry, error) {
	if !access.CanOverride(actor) {
		return nil, fmt.Errorf("%w: only administrators can read the audit log", access.ErrAuthorization)
	}
	if s.log == nil {
		return nil, ErrNotConfigured
	}
	return s.log.AuditLog(ctx, q.Normalize())
}

// PutSetting writes one global setting, e.g. a notification template override.
func (s *Service) PutSetting(ctx context.Context, actor access.Actor, key, value string) error {
	if !access.CanOverride(actor) {
		return fmt.Errorf("%w: only administrators can change settings", access.ErrAuthorization)
	}
	if s.settings == nil {
		return ErrNotConfigured
	}
	key = strings.TrimSpace(key)
	if !settingKey.MatchString(key) {
		return fmt.Errorf("%w: setting key %q must be lower snake case", access.ErrValidation, key)
	}
	if len(value) > maxSettingLen {
		return fmt.Errorf("%w: setting value exceeds %d characters", access.ErrValidation, maxSettingLen)
	}
	previous, existed, err := s.settings.Setting(ctx, key)
	if err != nil {
		return err
	}
	if err := s.settings.PutSetting(ctx, key, value); err != nil {
		return err
	}
	s.record(ctx, audit.Entry{
		ActorID:  audit.Actor(actor.UserID),
		Action:   audit.ActionSetting,
		Target:   key,
		SourceIP: actor.SourceIP,
		Outcome:  audit.OutcomeSuccess,
		Details:  map[string]any{"created": !existed, "changed": !existed || previous != value},
	})
	return nil
}

func (s *Service) record(ctx context.Context, e audit.Entry) {
	if s.auditor != nil {
		s.auditor.Record(ctx, e)
	}
}
