package access

import (
	"fmt"
	"strings"
	"time"
)

// Role of a user in the approval pipeline.
type Role string

const (
	RoleStaff      Role = "staff"
	RoleHOD        Role = "hod"
	RoleICT        Role = "ict"
	RoleSysAdmin   Role = "sys_admin"
	RoleSuperAdmin Role = "super_admin"
)

func (r Role) Valid() bool {
	switch r {
	case RoleStaff, RoleHOD, RoleICT, RoleSysAdmin, RoleSuperAdmin:
		return true
	}
	return false
}

// ParseRole normalises user input into a Role.
func ParseRole(s string) (Role, error) {
	r := Role(strings.ToLower(strings.TrimSpace(s)))
	if !r.Valid() {
		return "", fmt.Errorf("%w: unknown role %q", ErrValidation, s)
	}
	return r, nil
}

// RoleAssignment is the single authoritative source of a user's role and scope.
// Directorate is set only for hod, System only for sys_admin.
type RoleAssignment struct {
	UserID      string    `json:"user_id"`
	Role        Role      `json:"role"`
	Directorate string    `json:"directorate,omitempty"`
	System      string    `json:"system,omitempty"`
	AssignedAt  time.Time `json:"assigned_at"`
}

// Scope carries the optional scope arguments for NewRoleAssignment.
type Scope struct {
	Directorate string
	System      string
}

// NewRoleAssignment validates the scope required by role and drops every scope
// field the role does not use, so a role change never keeps a stale scope.
func NewRoleAssignment(userID string, role Role, scope Scope, now time.Time) (RoleAssignment, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return RoleAssignment{}, fmt.Errorf("%w: user id is required", ErrValidation)
	}
	if !role.Valid() {
		return RoleAssignment{}, fmt.Errorf("%w: unknown role %q", ErrValidation, role)
	}
	ra := RoleAssignment{UserID: userID, Role: role, AssignedAt: now.UTC()}
	switch role {
	case RoleHOD:
		ra.Directorate = strings.TrimSpace(scope.Directorate)
		if ra.Directorate == "" {
			return RoleAssignment{}, fmt.Errorf("%w: hod requires a directorate scope", ErrValidation)
		}
	case RoleSysAdmin:
		ra.System = strings.TrimSpace(scope.System)
		if ra.System == "" {
			return RoleAssignment{}, fmt.Errorf("%w: sys_admin requires a system scope", ErrValidation)
		}
		if _, ok := LookupSystem(ra.System); !ok {
			return RoleAssignment{}, fmt.Errorf("%w: unknown system %q", ErrValidation, ra.System)
		}
	}
	return ra, nil
}
