package access

import (
	"fmt"
	"strings"
)

// View selects which part of a role's queue is listed.
type View string

const (
	ViewPending View = "pending"
	ViewHistory View = "history"
	ViewAll     View = "all"
	ViewMine    View = "mine"
)

// ParseView defaults an empty view to pending.
func ParseView(s string) (View, error) {
	switch v := View(strings.ToLower(strings.TrimSpace(s))); v {
	case "":
		return ViewPending, nil
	case ViewPending, ViewHistory, ViewAll, ViewMine:
		return v, nil
	}
	return "", fmt.Errorf("%w: unknown view %q", ErrValidation, s)
}

// Openness constrains whether an entry still has an undecided stage.
type Openness int

const (
	OpenAny Openness = iota
	OpenSome
	OpenNone
)

// EntryFilter selects entries for a queue. Zero fields do not constrain.
// Directorate and ManagerID, when both set, match if either one does.
type EntryFilter struct {
	Directorate       string
	ManagerID         string
	System            string
	RequesterID       string
	HOD               []Status
	ICT               []Status
	SysAdmin          []Status
	HODDecidedBy      string
	ICTDecidedBy      string
	SysAdminDecidedBy string
	Open              Openness
}

// Matches is the reference predicate for the filter; stores must agree with it.
func (f EntryFilter) Matches(req AccessRequest, e SystemEntry) bool {
	switch {
	case f.Directorate != "" && f.ManagerID != "":
		if req.DirectorateID != f.Directorate && req.ManagerID != f.ManagerID {
			return false
		}
	case f.Directorate != "":
		if req.DirectorateID != f.Directorate {
			return false
		}
	case f.ManagerID != "":
		if req.ManagerID != f.ManagerID {
			return false
		}
	}
	if f.System != "" && e.System != f.System {
		return false
	}
	if f.RequesterID != "" && req.RequesterID != f.RequesterID {
		return false
	}
	if !statusIn(e.HOD.Status, f.HOD) || !statusIn(e.ICT.Status, f.ICT) || !statusIn(e.SysAdmin.Status, f.SysAdmin) {
		return false
	}
	if f.HODDecidedBy != "" && e.HOD.DecidedBy != f.HODDecidedBy {
		return false
	}
	if f.ICTDecidedBy != "" && e.ICT.DecidedBy != f.ICTDecidedBy {
		return false
	}
	if f.SysAdminDecidedBy != "" && e.SysAdmin.DecidedBy != f.SysAdminDecidedBy {
		return false
	}
	switch f.Open {
	case OpenSome:
		return e.AnyPending()
	case OpenNone:
		return !e.AnyPending()
	}
	return true
}

func statusIn(s Status, allowed []Status) bool {
	if len(allowed) == 0 {
		return true
	}
	for _, a := range allowed {
		if s == a {
			return true
		}
	}
	return false
}

var decided = []Status{StatusApproved, StatusRejected, StatusRevoked}

// QueueFilter resolves the entries visible to actor for view.
func QueueFilter(actor Actor, view View) (EntryFilter, error) {
	if view == ViewMine {
		return EntryFilter{RequesterID: actor.UserID}, nil
	}
	a := actor.Assignment
	switch a.Role {
	case RoleHOD:
		scope := EntryFilter{Directorate: a.Directorate, ManagerID: actor.UserID}
		switch view {
		case ViewPending:
			scope.HOD = []Status{StatusPending}
			return scope, nil
		case ViewHistory:
			return EntryFilter{HOD: decided, HODDecidedBy: actor.UserID}, nil
		case ViewAll:
			return scope, nil
		}
	case RoleICT:
		switch view {
		case ViewPending:
			return EntryFilter{HOD: []Status{StatusApproved}, ICT: []Status{StatusPending}}, nil
		case ViewHistory:
			return EntryFilter{ICT: decided, ICTDecidedBy: actor.UserID}, nil
		case ViewAll:
			return EntryFilter{HOD: []Status{StatusApproved}}, nil
		}
	case RoleSysAdmin:
		if a.System == "" {
			return EntryFilter{}, fmt.Errorf("%w: sys_admin has no system scope", ErrAuthorization)
		}
		switch view {
		case ViewPending:
			return EntryFilter{System: a.System, ICT: []Status{StatusApproved}, SysAdmin: []Status{StatusPending}}, nil
		case ViewHistory:
			return EntryFilter{System: a.System, SysAdmin: decided, SysAdminDecidedBy: actor.UserID}, nil
		case ViewAll:
			return EntryFilter{System: a.System}, nil
		}
	case RoleSuperAdmin:
		switch view {
		case ViewPending:
			return EntryFilter{Open: OpenSome}, nil
		case ViewHistory:
			return EntryFilter{Open: OpenNone}, nil
		case ViewAll:
			return EntryFilter{}, nil
		}
	default:
		return EntryFilter{}, fmt.Errorf("%w: role %q has no review queue", ErrAuthorization, a.Role)
	}
	return EntryFilter{}, fmt.Errorf("%w: unknown view %q", ErrValidation, view)
}

// CanOverride reports whether actor may masquerade, force reject or override.
func CanOverride(actor Actor) bool {
	return actor.Role() == RoleSuperAdmin || actor.Admin
}

// CanRevoke checks that actor may revoke access granted on e.
func CanRevoke(actor Actor, e SystemEntry) error {
	if CanOverride(actor) {
		return nil
	}
	if actor.Role() != RoleSysAdmin {
		return fmt.Errorf("%w: only system administrators can revoke access", ErrAuthorization)
	}
	if actor.Assignment.System != e.System {
		return fmt.Errorf("%w: system %s is outside your scope", ErrAuthorization, e.System)
	}
	return nil
}

// CanView reports whether actor may read rec.
func CanView(actor Actor, rec Record) bool {
	if CanOverride(actor) || rec.Request.RequesterID == actor.UserID {
		return true
	}
	f, err := QueueFilter(actor, ViewAll)
	if err != nil {
		return false
	}
	for _, e := range rec.Entries {
		if f.Matches(rec.Request, e) {
			return true
		}
	}
	return false
}
