package access

import (
	"fmt"
	"strings"
	"time"
)

const maxCommentLen = 2000

// DecisionKind tells how a stage was changed.
type DecisionKind string

const (
	KindDirect      DecisionKind = "direct"
	KindMasquerade  DecisionKind = "masquerade"
	KindForceReject DecisionKind = "force_reject"
	KindRevoke      DecisionKind = "revoke"
)

// Outcome describes a successful mutation of one entry.
type Outcome struct {
	EntryID  string        `json:"entry_id"`
	Stage    Stage         `json:"stage"`
	Action   Action        `json:"action"`
	Kind     DecisionKind  `json:"kind"`
	Cascaded []Stage       `json:"cascaded,omitempty"`
	Previous RequestStatus `json:"previous_status"`
	Status   RequestStatus `json:"status"`
	// Comment is the decision comment as the requester sees it, markers included.
	Comment string `json:"comment,omitempty"`
}

func stageForRole(r Role) (Stage, bool) {
	switch r {
	case RoleHOD:
		return StageHOD, true
	case RoleICT:
		return StageICT, true
	case RoleSysAdmin:
		return StageSysAdmin, true
	}
	return "", false
}

func predecessor(s Stage) (Stage, bool) {
	switch s {
	case StageICT:
		return StageHOD, true
	case StageSysAdmin:
		return StageICT, true
	}
	return "", false
}

func stagesAfter(s Stage) []Stage {
	for i, st := range Stages {
		if st == s {
			return Stages[i+1:]
		}
	}
	return nil
}

func stagesBefore(s Stage) []Stage {
	for i, st := range Stages {
		if st == s {
			return Stages[:i]
		}
	}
	return nil
}

func entryAt(rec *Record, idx int) (*SystemEntry, error) {
	if rec == nil || idx < 0 || idx >= len(rec.Entries) {
		return nil, fmt.Errorf("%w: system entry", ErrNotFound)
	}
	return &rec.Entries[idx], nil
}

func cleanComment(comment string) (string, error) {
	comment = strings.TrimSpace(comment)
	if len(comment) > maxCommentLen {
		return "", fmt.Errorf("%w: comment exceeds %d characters", ErrValidation, maxCommentLen)
	}
	return comment, nil
}

func stamp(r *StageRecord, status Status, by, comment string, now time.Time) {
	t := now.UTC()
	r.Status = status
	r.DecidedAt = &t
	r.DecidedBy = by
	r.Comment = comment
}

// cascadeReject rejects every later stage that is still pending.
func cascadeReject(e *SystemEntry, from Stage, now time.Time) []Stage {
	var out []Stage
	for _, s := range stagesAfter(from) {
		if r := e.Stage(s); r.Pending() {
			stamp(r, StatusRejected, "", "", now)
			out = append(out, s)
		}
	}
	return out
}

// Decide applies a reviewer decision to entry idx of rec, then re-syncs the request.
// A super admin approving masquerades; a super admin rejecting force rejects.
func Decide(rec *Record, idx int, actor Actor, action Action, comment string, now time.Time) (Outcome, error) {
	e, err := entryAt(rec, idx)
	if err != nil {
		return Outcome{}, err
	}
	if action != ActionApprove && action != ActionReject {
		return Outcome{}, fmt.Errorf("%w: action must be approve or reject", ErrValidation)
	}
	comment, err = cleanComment(comment)
	if err != nil {
		return Outcome{}, err
	}
	if actor.Role() == RoleSuperAdmin {
		if action == ActionApprove {
			return Masquerade(rec, idx, actor, comment, now)
		}
		return ForceReject(rec, idx, actor, comment, now)
	}

	stage, ok := stageForRole(actor.Role())
	if !ok {
		return Outcome{}, fmt.Errorf("%w: role %q cannot decide", ErrAuthorization, actor.Role())
	}
	if err := checkScope(actor, rec.Request, *e, stage); err != nil {
		return Outcome{}, err
	}
	if err := checkOpen(*e, stage); err != nil {
		return Outcome{}, err
	}

	prev := rec.Request.Status()
	out := Outcome{EntryID: e.ID, Stage: stage, Action: action, Kind: KindDirect, Previous: prev, Comment: comment}
	if action == ActionApprove {
		stamp(e.Stage(stage), StatusApproved, actor.UserID, "", now)
	} else {
		stamp(e.Stage(stage), StatusRejected, actor.UserID, comment, now)
		out.Cascaded = cascadeReject(e, stage, now)
	}
	e.Version++
	switch stage {
	case StageHOD:
		rec.Request.HODApproverID = actor.UserID
	case StageICT:
		rec.Request.ICTApproverID = actor.UserID
	}
	out.Status = SyncRecord(rec)
	return out, nil
}

func checkScope(actor Actor, req AccessRequest, e SystemEntry, stage Stage) error {
	switch stage {
	case StageHOD:
		a := actor.Assignment
		if a.Directorate != "" && a.Directorate == req.DirectorateID {
			return nil
		}
		if req.ManagerID != "" && req.ManagerID == actor.UserID {
			return nil
		}
		return fmt.Errorf("%w: request is outside your directorate", ErrAuthorization)
	case StageSysAdmin:
		if actor.Assignment.System != e.System {
			return fmt.Errorf("%w: system %s is outside your scope", ErrAuthorization, e.System)
		}
	}
	return nil
}

// checkOpen verifies the stage is pending and its predecessor approved.
func checkOpen(e SystemEntry, stage Stage) error {
	if e.SysAdmin.Status == StatusRevoked {
		return fmt.Errorf("%w: access has been revoked", ErrState)
	}
	if st := e.StageStatus(stage); st != StatusPending {
		return fmt.Errorf("%w: %s stage is already %s", ErrState, stage.Label(), st)
	}
	if p, ok := predecessor(stage); ok {
		if st := e.StageStatus(p); st != StatusApproved {
			return fmt.Errorf("%w: %s stage is %s", ErrState, p.Label(), st)
		}
	}
	return nil
}

// FirstPending returns the earliest undecided stage of e.
func FirstPending(e SystemEntry) (Stage, bool) {
	for _, s := range Stages {
		if e.StageStatus(s) == StatusPending {
			return s, true
		}
	}
	return "", false
}

// MasqueradeMarker prefixes comments made by a super admin acting as a stage.
func MasqueradeMarker(s Stage) string {
	return "[Super Admin acting as " + s.Label() + "]"
}

// OverrideMarker prefixes comments on force rejections.
const OverrideMarker = "[Super Admin Override]"

func tag(marker, comment string) string {
	if comment == "" {
		return marker
	}
	return marker + " " + comment
}

// Masquerade approves the first pending stage of the entry on behalf of its reviewer.
func Masquerade(rec *Record, idx int, actor Actor, comment string, now time.Time) (Outcome, error) {
	e, err := entryAt(rec, idx)
	if err != nil {
		return Outcome{}, err
	}
	stage, ok := FirstPending(*e)
	if !ok {
		return Outcome{}, fmt.Errorf("%w: no stage is pending", ErrState)
	}
	return MasqueradeAt(rec, idx, actor, stage, comment, now)
}

// MasqueradeAt is Masquerade pinned to stage, which must be the first pending one.
func MasqueradeAt(rec *Record, idx int, actor Actor, stage Stage, comment string, now time.Time) (Outcome, error) {
	e, err := entryAt(rec, idx)
	if err != nil {
		return Outcome{}, err
	}
	if !CanOverride(actor) {
		return Outcome{}, fmt.Errorf("%w: override requires super admin", ErrAuthorization)
	}
	comment, err = cleanComment(comment)
	if err != nil {
		return Outcome{}, err
	}
	first, ok := FirstPending(*e)
	if !ok {
		return Outcome{}, fmt.Errorf("%w: no stage is pending", ErrState)
	}
	if first != stage {
		return Outcome{}, fmt.Errorf("%w: %s is not the first pending stage", ErrState, stage.Label())
	}
	if err := checkOpen(*e, stage); err != nil {
		return Outcome{}, err
	}
	prev := rec.Request.Status()
	tagged := tag(MasqueradeMarker(stage), comment)
	stamp(e.Stage(stage), StatusApproved, actor.UserID, tagged, now)
	e.Version++
	return Outcome{
		EntryID:  e.ID,
		Stage:    stage,
		Action:   ActionApprove,
		Kind:     KindMasquerade,
		Previous: prev,
		Status:   SyncRecord(rec),
		Comment:  tagged,
	}, nil
}

// ForceReject rejects the sysadmin stage unconditionally and closes any earlier
// stage still pending. Revoked entries are terminal and refuse.
func ForceReject(rec *Record, idx int, actor Actor, comment string, now time.Time) (Outcome, error) {
	return RejectAt(rec, idx, actor, StageSysAdmin, comment, now)
}

// RejectAt force rejects stage, retroactively rejecting pending earlier stages and
// cascading to later ones.
func RejectAt(rec *Record, idx int, actor Actor, stage Stage, comment string, now time.Time) (Outcome, error) {
	e, err := entryAt(rec, idx)
	if err != nil {
		return Outcome{}, err
	}
	if !CanOverride(actor) {
		return Outcome{}, fmt.Errorf("%w: override requires super admin", ErrAuthorization)
	}
	if !stage.Valid() {
		return Outcome{}, fmt.Errorf("%w: unknown stage %q", ErrValidation, stage)
	}
	comment, err = cleanComment(comment)
	if err != nil {
		return Outcome{}, err
	}
	if e.SysAdmin.Status == StatusRevoked {
		return Outcome{}, fmt.Errorf("%w: access has been revoked", ErrState)
	}
	if stage != StageSysAdmin && !e.Stage(stage).Pending() {
		return Outcome{}, fmt.Errorf("%w: %s stage is already %s", ErrState, stage.Label(), e.StageStatus(stage))
	}

	prev := rec.Request.Status()
	out := Outcome{EntryID: e.ID, Stage: stage, Action: ActionReject, Kind: KindForceReject, Previous: prev,
		Comment: tag(OverrideMarker, comment)}
	for _, s := range stagesBefore(stage) {
		if r := e.Stage(s); r.Pending() {
			stamp(r, StatusRejected, "", "", now)
			out.Cascaded = append(out.Cascaded, s)
		}
	}
	stamp(e.Stage(stage), StatusRejected, actor.UserID, out.Comment, now)
	out.Cascaded = append(out.Cascaded, cascadeReject(e, stage, now)...)
	e.Version++
	out.Status = SyncRecord(rec)
	return out, nil
}
