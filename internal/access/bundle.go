package access

import (
	"fmt"
	"strings"
)

// Template keys understood by the notifier.
const (
	TemplateHODApproval     = "hod_approval_to_ict"
	TemplateHODReview       = "hod_review_complete"
	TemplateICTApproval     = "ict_approval_to_sysadmin"
	TemplateICTReview       = "ict_review_complete"
	TemplateAccessGranted   = "access_granted"
	TemplateAccessRevoked   = "access_revoked"
	TemplateRequestRejected = "request_rejected"
)

// AudienceKind names a recipient pool resolved by the notifier.
type AudienceKind string

const (
	AudienceRequester AudienceKind = "requester"
	AudienceICT       AudienceKind = "ict"
	AudienceSysAdmins AudienceKind = "sysadmins"
)

// Audience of a notice. Systems is set for AudienceSysAdmins; Email for AudienceRequester.
type Audience struct {
	Kind    AudienceKind `json:"kind"`
	Email   string       `json:"email,omitempty"`
	Systems []string     `json:"systems,omitempty"`
}

// Notice is a notification the bundler decided to send.
type Notice struct {
	Template  string            `json:"template"`
	RequestID string            `json:"request_id"`
	Audience  Audience          `json:"audience"`
	Fields    map[string]string `json:"fields"`
}

// Bundle decides which notices follow from out, evaluated on the post-decision record.
// HOD and ICT decisions are held back until the last pending entry at that stage is
// decided; sysadmin decisions, force rejections and revocations are sent at once.
func Bundle(rec Record, out Outcome) []Notice {
	idx := rec.EntryIndex(out.EntryID)
	if idx < 0 {
		return nil
	}
	e := rec.Entries[idx]
	req := rec.Request

	switch {
	case out.Kind == KindRevoke:
		return []Notice{immediate(req, e, out, TemplateAccessRevoked)}
	case out.Kind == KindForceReject:
		return []Notice{immediate(req, e, out, TemplateRequestRejected)}
	case out.Stage == StageSysAdmin:
		switch {
		case out.Action == ActionReject:
			return []Notice{immediate(req, e, out, TemplateRequestRejected)}
		case req.Kind == KindDeactivate:
			return []Notice{immediate(req, e, out, TemplateAccessRevoked)}
		default:
			return []Notice{immediate(req, e, out, TemplateAccessGranted)}
		}
	case out.Stage == StageHOD || out.Stage == StageICT:
		return stageComplete(rec, out.Stage)
	}
	return nil
}

// Fallback comments when the decision carried none.
const (
	NoComment      = "No comments provided."
	RevokedComment = "Access revoked by administrator."
)

// immediate builds a requester notice. Approvals clear the stage comment, so
// the comment comes from the outcome; rejections quote the rejecting stage.
func immediate(req AccessRequest, e SystemEntry, out Outcome, template string) Notice {
	comment := out.Comment
	switch {
	case template == TemplateRequestRejected:
		comment = firstNonEmpty(rejectionReason(e), comment)
	case comment == "" && out.Kind == KindRevoke:
		comment = RevokedComment
	}
	if comment == "" {
		comment = NoComment
	}
	return Notice{
		Template:  template,
		RequestID: req.ID,
		Audience:  Audience{Kind: AudienceRequester, Email: req.RequesterEmail},
		Fields: map[string]string{
			"requester_name": req.RequesterName,
			"system_name":    e.SystemName(),
			"comment":        comment,
		},
	}
}

// rejectionReason picks the comment of the stage that actually rejected e.
func rejectionReason(e SystemEntry) string {
	for _, s := range Stages {
		r := e.Stage(s)
		if r.Status == StatusRejected && r.Comment != "" {
			return r.Comment
		}
	}
	return ""
}

func stageComplete(rec Record, stage Stage) []Notice {
	var approved []SystemEntry
	for _, e := range rec.Entries {
		switch e.StageStatus(stage) {
		case StatusPending:
			return nil
		case StatusApproved:
			approved = append(approved, e)
		}
	}
	req := rec.Request
	var notices []Notice

	if len(approved) > 0 {
		fields := map[string]string{
			"requester_name": req.RequesterName,
			"requester_id":   req.RequesterID,
			"directorate":    orDash(req.DirectorateID),
			"designation":    req.Designation,
			"system_list":    systemList(approved),
		}
		n := Notice{RequestID: req.ID, Fields: fields}
		if stage == StageHOD {
			n.Template = TemplateHODApproval
			n.Audience = Audience{Kind: AudienceICT}
		} else {
			n.Template = TemplateICTApproval
			codes := make([]string, 0, len(approved))
			for _, e := range approved {
				codes = append(codes, e.System)
			}
			n.Audience = Audience{Kind: AudienceSysAdmins, Systems: codes}
		}
		notices = append(notices, n)
	}

	template := TemplateHODReview
	if stage == StageICT {
		template = TemplateICTReview
	}
	notices = append(notices, Notice{
		Template:  template,
		RequestID: req.ID,
		Audience:  Audience{Kind: AudienceRequester, Email: req.RequesterEmail},
		Fields: map[string]string{
			"requester_name": req.RequesterName,
			"summary_list":   summaryList(rec.Entries, stage),
		},
	})
	return notices
}

func systemList(entries []SystemEntry) string {
	lines := make([]string, 0, len(entries))
	for _, e := range entries {
		lines = append(lines, "- "+e.SystemName())
	}
	return strings.Join(lines, "\n")
}

func summaryList(entries []SystemEntry, stage Stage) string {
	lines := make([]string, 0, len(entries))
	for _, e := range entries {
		r := e.Stage(stage)
		line := fmt.Sprintf("- %s: %s", e.SystemName(), strings.ToUpper(string(r.Status)))
		if r.Status == StatusRejected && r.Comment != "" {
			line += " (" + r.Comment + ")"
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
