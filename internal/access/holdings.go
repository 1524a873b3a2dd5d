package access

import (
	"context"
	"sort"
	"time"
)

// HeldSystem is a system the requester currently has access to.
type HeldSystem struct {
	System     string    `json:"system"`
	SystemName string    `json:"system_name"`
	GrantedAt  time.Time `json:"granted_at"`
	RequestID  string    `json:"request_id"`
	EntryID    string    `json:"entry_id"`
}

// Holdings derives current access from finalised sysadmin decisions. Per
// system only the latest decision counts: an approved new or modify request
// grants, an approved deactivate request or a revocation removes.
func Holdings(views []EntryView) []HeldSystem {
	type latest struct {
		at   time.Time
		view EntryView
	}
	bySystem := make(map[string]latest)
	for _, v := range views {
		sa := v.Entry.SysAdmin
		if sa.DecidedAt == nil || (sa.Status != StatusApproved && sa.Status != StatusRevoked) {
			continue
		}
		cur, ok := bySystem[v.Entry.System]
		if !ok || sa.DecidedAt.After(cur.at) {
			bySystem[v.Entry.System] = latest{at: *sa.DecidedAt, view: v}
		}
	}
	out := make([]HeldSystem, 0, len(bySystem))
	for system, l := range bySystem {
		if l.view.Entry.SysAdmin.Status != StatusApproved || l.view.Request.Kind == KindDeactivate {
			continue
		}
		out = append(out, HeldSystem{
			System:     system,
			SystemName: l.view.Entry.SystemName(),
			GrantedAt:  l.at,
			RequestID:  l.view.Request.ID,
			EntryID:    l.view.Entry.ID,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].System < out[j].System })
	return out
}

// MySystems lists the systems actor currently holds.
func (s *Service) MySystems(ctx context.Context, actor Actor) ([]HeldSystem, error) {
	views, err := s.store.ListEntries(ctx, EntryFilter{
		RequesterID: actor.UserID,
		SysAdmin:    []Status{StatusApproved, StatusRevoked},
	})
	if err != nil {
		return nil, err
	}
	return Holdings(views), nil
}
