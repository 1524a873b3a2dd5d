package access

import (
	"context"
	"testing"
	"time"
)

func decidedView(reqID string, kind Kind, system string, status Status, at time.Time) EntryView {
	return EntryView{
		Request: AccessRequest{ID: reqID, Kind: kind},
		Entry: SystemEntry{
			ID:       reqID + "-" + system,
			System:   system,
			SysAdmin: StageRecord{Status: status, DecidedAt: &at},
		},
	}
}

func TestHoldingsFollowsLatestDecision(t *testing.T) {
	day := func(n int) time.Time { return t0.Add(time.Duration(n) * 24 * time.Hour) }
	cases := []struct {
		name  string
		views []EntryView
		want  []string
	}{
		{"granted", []EntryView{decidedView("r1", KindNew, "1", StatusApproved, day(1))}, []string{"1"}},
		{"deactivated later", []EntryView{
			decidedView("r1", KindNew, "1", StatusApproved, day(1)),
			decidedView("r2", KindDeactivate, "1", StatusApproved, day(5)),
		}, nil},
		{"regranted", []EntryView{
			decidedView("r3", KindNew, "1", StatusApproved, day(9)),
			decidedView("r1", KindNew, "1", StatusApproved, day(1)),
			decidedView("r2", KindDeactivate, "1", StatusApproved, day(5)),
		}, []string{"1"}},
		{"revoked", []EntryView{
			decidedView("r1", KindModify, "2", StatusRevoked, day(2)),
			decidedView("r4", KindNew, "4", StatusApproved, day(2)),
		}, []string{"4"}},
	}
	for _, tc := range cases {
		got := Holdings(tc.views)
		if len(got) != len(tc.want) {
			t.Fatalf("%s: got %+v, want systems %v", tc.name, got, tc.want)
		}
		for i, sys := range tc.want {
			if got[i].System != sys {
				t.Fatalf("%s: got %+v, want systems %v", tc.name, got, tc.want)
			}
		}
	}
	if got := Holdings([]EntryView{decidedView("r3", KindNew, "1", StatusApproved, day(9))}); got[0].RequestID != "r3" || !got[0].GrantedAt.Equal(day(9)) {
		t.Fatalf("unexpected holding %+v", got[0])
	}
}

func TestMySystemsAfterGrantAndRevoke(t *testing.T) {
	f := newFixture(t)
	rec := f.submit(t, "2", "4")
	for _, e := range rec.Entries {
		f.decide(t, hod(), e.ID, ActionApprove, "")
		f.decide(t, ict(), e.ID, ActionApprove, "")
	}
	f.decide(t, sysadmin("2"), rec.Entries[0].ID, ActionApprove, "")

	requester := Actor{UserID: "staff-1", Assignment: RoleAssignment{Role: RoleStaff}}
	held, err := f.svc.MySystems(context.Background(), requester)
	if err != nil {
		t.Fatal(err)
	}
	if len(held) != 1 || held[0].System != "2" || held[0].EntryID != rec.Entries[0].ID {
		t.Fatalf("unexpected holdings %+v", held)
	}

	f.now = t0.Add(time.Hour)
	if _, err := f.svc.Revoke(context.Background(), sysadmin("2"), RevokeInput{EntryID: rec.Entries[0].ID, Comment: "left"}); err != nil {
		t.Fatal(err)
	}
	held, err = f.svc.MySystems(context.Background(), requester)
	if err != nil || len(held) != 0 {
		t.Fatalf("revoked system still held: %+v %v", held, err)
	}
	other, err := f.svc.MySystems(context.Background(), Actor{UserID: "hod-1"})
	if err != nil || len(other) != 0 {
		t.Fatalf("holdings leaked across users: %+v %v", other, err)
	}
}
