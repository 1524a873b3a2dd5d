package access

import (
	"fmt"
	"strings"
	"time"
)

// RevokeMarker prefixes the comment of a revoked sysadmin stage.
func RevokeMarker(actorName string) string {
	name := strings.TrimSpace(actorName)
	if name == "" {
		name = "administrator"
	}
	return "[Revoked by " + name + "]"
}

// Revoke withdraws access that the sysadmin stage already granted. Revoked is terminal.
func Revoke(rec *Record, idx int, actor Actor, comment string, now time.Time) (Outcome, error) {
	e, err := entryAt(rec, idx)
	if err != nil {
		return Outcome{}, err
	}
	if err := CanRevoke(actor, *e); err != nil {
		return Outcome{}, err
	}
	comment, err = cleanComment(comment)
	if err != nil {
		return Outcome{}, err
	}
	if e.SysAdmin.Status != StatusApproved {
		return Outcome{}, fmt.Errorf("%w: only granted access can be revoked (sysadmin stage is %s)", ErrState, e.SysAdmin.Status)
	}
	prev := rec.Request.Status()
	stamp(&e.SysAdmin, StatusRevoked, actor.UserID, tag(RevokeMarker(actor.Name), comment), now)
	e.Version++
	return Outcome{
		EntryID:  e.ID,
		Stage:    StageSysAdmin,
		Kind:     KindRevoke,
		Previous: prev,
		Status:   SyncRecord(rec),
		Comment:  comment,
	}, nil
}
