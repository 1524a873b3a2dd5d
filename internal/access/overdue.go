package access

import (
	"sort"
	"time"
)

// DefaultOverdueAfter is how long a stage may wait before it shows as overdue.
const DefaultOverdueAfter = 72 * time.Hour

// OverdueItem is an entry waiting too long at Stage.
type OverdueItem struct {
	EntryView
	Stage        Stage         `json:"stage"`
	WaitingSince time.Time     `json:"waiting_since"`
	Waiting      time.Duration `json:"waiting_ns"`
}

// Overdue lists pending entries whose current stage has waited longer than after.
// The clock of a stage starts when its predecessor was decided, HOD from submission.
func Overdue(views []EntryView, now time.Time, after time.Duration) []OverdueItem {
	if after <= 0 {
		after = DefaultOverdueAfter
	}
	var out []OverdueItem
	for _, v := range views {
		stage, since, ok := waitingStage(v)
		if !ok {
			continue
		}
		if waited := now.Sub(since); waited > after {
			out = append(out, OverdueItem{EntryView: v, Stage: stage, WaitingSince: since, Waiting: waited})
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].WaitingSince.Before(out[j].WaitingSince) })
	return out
}

func waitingStage(v EntryView) (Stage, time.Time, bool) {
	e := v.Entry
	switch {
	case e.HOD.Pending():
		return StageHOD, v.Request.SubmittedAt, true
	case e.HOD.Status == StatusApproved && e.ICT.Pending() && e.HOD.DecidedAt != nil:
		return StageICT, *e.HOD.DecidedAt, true
	case e.ICT.Status == StatusApproved && e.SysAdmin.Pending() && e.ICT.DecidedAt != nil:
		return StageSysAdmin, *e.ICT.DecidedAt, true
	}
	return "", time.Time{}, false
}
