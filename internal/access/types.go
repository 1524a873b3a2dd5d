package access

import (
	"encoding/json"
	"time"
)

// Stage is one step of the approval pipeline.
type Stage string

const (
	StageHOD      Stage = "hod"
	StageICT      Stage = "ict"
	StageSysAdmin Stage = "sysadmin"
)

// Stages lists the pipeline in the order it is walked.
var Stages = []Stage{StageHOD, StageICT, StageSysAdmin}

// Label is the human-facing name used in comment markers and notices.
func (s Stage) Label() string {
	switch s {
	case StageHOD:
		return "HOD"
	case StageICT:
		return "ICT"
	case StageSysAdmin:
		return "SysAdmin"
	}
	return string(s)
}

// Valid reports whether s names a pipeline stage.
func (s Stage) Valid() bool {
	return s == StageHOD || s == StageICT || s == StageSysAdmin
}

// Status of a single stage record.
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
	StatusRevoked  Status = "revoked" // sysadmin stage only
)

// RequestStatus is the aggregate status of a request, always derived by Sync.
type RequestStatus string

const (
	RequestPendingHOD  RequestStatus = "pending_hod"
	RequestRejectedHOD RequestStatus = "rejected_hod"
	RequestPendingICT  RequestStatus = "pending_ict"
	RequestRejectedICT RequestStatus = "rejected_ict"
	RequestApproved    RequestStatus = "approved"
)

// Kind of access change being asked for.
type Kind string

const (
	KindNew        Kind = "new"
	KindModify     Kind = "modify"
	KindDeactivate Kind = "deactivate"
)

func (k Kind) Valid() bool {
	return k == KindNew || k == KindModify || k == KindDeactivate
}

// Action a reviewer takes on a stage.
type Action string

const (
	ActionApprove Action = "approve"
	ActionReject  Action = "reject"
)

// StageRecord holds the outcome of one stage for one system entry.
type StageRecord struct {
	Status    Status     `json:"status"`
	DecidedAt *time.Time `json:"decided_at,omitempty"`
	DecidedBy string     `json:"decided_by,omitempty"`
	Comment   string     `json:"comment,omitempty"`
}

// Pending reports whether the stage still awaits a decision.
func (r StageRecord) Pending() bool { return r.Status == StatusPending }

// SystemEntry is one system inside a request; every stage is tracked independently.
type SystemEntry struct {
	ID          string      `json:"id"`
	RequestID   string      `json:"request_id"`
	System      string      `json:"system"`
	AccessLevel string      `json:"access_level,omitempty"`
	HOD         StageRecord `json:"hod"`
	ICT         StageRecord `json:"ict"`
	SysAdmin    StageRecord `json:"sysadmin"`
	Version     int64       `json:"version"`
}

// Stage returns a pointer to the record for s so callers can mutate it in place.
func (e *SystemEntry) Stage(s Stage) *StageRecord {
	switch s {
	case StageHOD:
		return &e.HOD
	case StageICT:
		return &e.ICT
	case StageSysAdmin:
		return &e.SysAdmin
	}
	return nil
}

// StageStatus is the read-only counterpart of Stage.
func (e SystemEntry) StageStatus(s Stage) Status {
	if rec := e.Stage(s); rec != nil {
		return rec.Status
	}
	return ""
}

// AnyPending reports whether some stage of the entry is still open.
func (e SystemEntry) AnyPending() bool {
	return e.HOD.Pending() || e.ICT.Pending() || e.SysAdmin.Pending()
}

// SystemName resolves the catalog name, falling back to the raw code.
func (e SystemEntry) SystemName() string {
	if sys, ok := LookupSystem(e.System); ok {
		return sys.Name
	}
	return e.System
}

// AccessRequest is the parent of one or more system entries.
type AccessRequest struct {
	ID             string    `json:"id"`
	RequesterID    string    `json:"requester_id"`
	RequesterName  string    `json:"requester_name"`
	RequesterEmail string    `json:"requester_email,omitempty"`
	ManagerID      string    `json:"manager_id,omitempty"`
	DirectorateID  string    `json:"directorate_id"`
	Designation    string    `json:"designation"`
	Kind           Kind      `json:"kind"`
	SubmittedAt    time.Time `json:"submitted_at"`
	HODApproverID  string    `json:"hod_approver_id,omitempty"`
	ICTApproverID  string    `json:"ict_approver_id,omitempty"`

	status RequestStatus
}

// Status returns the status last computed by Sync.
func (r AccessRequest) Status() RequestStatus { return r.status }

func (r AccessRequest) MarshalJSON() ([]byte, error) {
	type plain AccessRequest
	return json.Marshal(struct {
		plain
		Status RequestStatus `json:"status"`
	}{plain(r), r.status})
}

// Record is a request together with all of its entries, the unit the store serialises on.
type Record struct {
	Request AccessRequest `json:"request"`
	Entries []SystemEntry `json:"entries"`
}

// Clone returns a deep copy safe to mutate.
func (r Record) Clone() Record {
	out := Record{Request: r.Request, Entries: make([]SystemEntry, len(r.Entries))}
	for i, e := range r.Entries {
		out.Entries[i] = e.clone()
	}
	return out
}

// EntryIndex returns the position of the entry with the given id, or -1.
func (r Record) EntryIndex(entryID string) int {
	for i := range r.Entries {
		if r.Entries[i].ID == entryID {
			return i
		}
	}
	return -1
}

func (e SystemEntry) clone() SystemEntry {
	out := e
	out.HOD = e.HOD.clone()
	out.ICT = e.ICT.clone()
	out.SysAdmin = e.SysAdmin.clone()
	return out
}

func (r StageRecord) clone() StageRecord {
	if r.DecidedAt != nil {
		t := *r.DecidedAt
		r.DecidedAt = &t
	}
	return r
}

// EntryView pairs an entry with its parent request for queue listings.
type EntryView struct {
	Request AccessRequest `json:"request"`
	Entry   SystemEntry   `json:"entry"`
}

// User is a directory record of a person who can request or review access.
type User struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	Email         string `json:"email"`
	DirectorateID string `json:"directorate_id,omitempty"`
	ManagerID     string `json:"manager_id,omitempty"`
	Active        bool   `json:"active"`
	Admin         bool   `json:"admin,omitempty"`
}

// Actor is the authenticated caller of an operation with their current assignment.
type Actor struct {
	UserID     string
	Name       string
	Email      string
	Assignment RoleAssignment
	// Admin marks an explicit administrator flag independent of the role.
	Admin    bool
	SourceIP string
}

// Role shortcut.
func (a Actor) Role() Role { return a.Assignment.Role }
