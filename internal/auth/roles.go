package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"sysaccess.org/internal/access"
	"sysaccess.org/internal/audit"
)

// RoleService changes role assignments on behalf of administrators.
type RoleService struct {
	store   RoleStore
	users   access.Directory
	auditor access.Auditor
	now     func() time.Time
}

func NewRoleService(store RoleStore, users access.Directory, auditor access.Auditor) *RoleService {
	return &RoleService{store: store, users: users, auditor: auditor, now: time.Now}
}

// Assign replaces the assignment of userID. Scope fields the role does not use are dropped.
func (s *RoleService) Assign(ctx context.Context, actor access.Actor, userID string, role access.Role, scope access.Scope) (access.RoleAssignment, error) {
	if !access.CanOverride(actor) {
		return access.RoleAssignment{}, fmt.Errorf("%w: only administrators can change roles", access.ErrAuthorization)
	}
	if _, err := s.users.User(ctx, userID); err != nil {
		return access.RoleAssignment{}, err
	}
	ra, err := access.NewRoleAssignment(userID, role, scope, s.now().UTC())
	if err != nil {
		return access.RoleAssignment{}, err
	}
	previous, err := s.store.Assignment(ctx, userID)
	if err != nil && !errors.Is(err, access.ErrNotFound) {
		return access.RoleAssignment{}, err
	}
	if err := s.store.PutAssignment(ctx, ra); err != nil {
		return access.RoleAssignment{}, err
	}
	if s.auditor != nil {
		s.auditor.Record(ctx, audit.Entry{
			ActorID:  audit.Actor(actor.UserID),
			Action:   audit.ActionRoleChange,
			Target:   userID,
			SourceIP: actor.SourceIP,
			Details: map[string]any{
				"from":        string(previous.Role),
				"to":          string(ra.Role),
				"directorate": ra.Directorate,
				"system":      ra.System,
			},
		})
	}
	return ra, nil
}
