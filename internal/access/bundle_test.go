package access

import (
	"strings"
	"testing"
)

func TestBundleHoldsUntilLastHODDecision(t *testing.T) {
	rec := newRecord("2", "4", "6")
	for i := 0; i < 2; i++ {
		out := mustDecide(t, &rec, i, hod(), ActionApprove, "")
		if n := Bundle(rec, out); len(n) != 0 {
			t.Fatalf("decision %d of 3 must not notify, got %d", i+1, len(n))
		}
	}
	out := mustDecide(t, &rec, 2, hod(), ActionReject, "not required")
	notices := Bundle(rec, out)
	if len(notices) != 2 {
		t.Fatalf("last decision must send exactly two notices, got %d", len(notices))
	}
	reviewer, requester := notices[0], notices[1]
	if reviewer.Template != TemplateHODApproval || reviewer.Audience.Kind != AudienceICT {
		t.Fatalf("unexpected reviewer notice %+v", reviewer)
	}
	if list := reviewer.Fields["system_list"]; list != "- CRM\n- Email" {
		t.Fatalf("reviewer list should hold approved systems only, got %q", list)
	}
	if requester.Template != TemplateHODReview || requester.Audience.Email != "jane@example.org" {
		t.Fatalf("unexpected requester notice %+v", requester)
	}
	summary := requester.Fields["summary_list"]
	if !strings.Contains(summary, "- HRMIS: REJECTED (not required)") || !strings.Contains(summary, "- CRM: APPROVED") {
		t.Fatalf("summary missing outcomes: %q", summary)
	}
}

func TestBundleSkipsReviewerWhenNothingApproved(t *testing.T) {
	rec := newRecord("2")
	out := mustDecide(t, &rec, 0, hod(), ActionReject, "no")
	notices := Bundle(rec, out)
	if len(notices) != 1 || notices[0].Template != TemplateHODReview {
		t.Fatalf("expected only the requester summary, got %+v", notices)
	}
}

func TestBundleICTStageTargetsSystemAdmins(t *testing.T) {
	rec := newRecord("2", "4")
	mustDecide(t, &rec, 0, hod(), ActionApprove, "")
	mustDecide(t, &rec, 1, hod(), ActionApprove, "")
	out := mustDecide(t, &rec, 0, ict(), ActionApprove, "")
	if n := Bundle(rec, out); len(n) != 0 {
		t.Fatalf("first ict decision must wait, got %d", len(n))
	}
	out = mustDecide(t, &rec, 1, ict(), ActionReject, "no licences")
	notices := Bundle(rec, out)
	if len(notices) != 2 {
		t.Fatalf("expected two notices, got %d", len(notices))
	}
	if notices[0].Template != TemplateICTApproval || notices[0].Audience.Kind != AudienceSysAdmins {
		t.Fatalf("unexpected reviewer notice %+v", notices[0])
	}
	if got := notices[0].Audience.Systems; len(got) != 1 || got[0] != "2" {
		t.Fatalf("only approved systems go to admins, got %v", got)
	}
	if notices[1].Template != TemplateICTReview {
		t.Fatalf("unexpected requester notice %+v", notices[1])
	}
}

func TestBundleSysAdminIsImmediate(t *testing.T) {
	rec := newRecord("2", "4")
	for i := range rec.Entries {
		mustDecide(t, &rec, i, hod(), ActionApprove, "")
		mustDecide(t, &rec, i, ict(), ActionApprove, "")
	}
	out := mustDecide(t, &rec, 0, sysadmin("2"), ActionApprove, "")
	n := Bundle(rec, out)
	if len(n) != 1 || n[0].Template != TemplateAccessGranted || n[0].Fields["system_name"] != "CRM" {
		t.Fatalf("unexpected notices %+v", n)
	}
	out = mustDecide(t, &rec, 1, sysadmin("4"), ActionReject, "mailbox quota")
	n = Bundle(rec, out)
	if len(n) != 1 || n[0].Template != TemplateRequestRejected || n[0].Fields["comment"] != "mailbox quota" {
		t.Fatalf("unexpected notices %+v", n)
	}
}

func TestBundleDeactivateUsesRevokedTemplate(t *testing.T) {
	rec := newRecord("2")
	rec.Request.Kind = KindDeactivate
	mustDecide(t, &rec, 0, hod(), ActionApprove, "")
	mustDecide(t, &rec, 0, ict(), ActionApprove, "")
	out := mustDecide(t, &rec, 0, sysadmin("2"), ActionApprove, "")
	n := Bundle(rec, out)
	if len(n) != 1 || n[0].Template != TemplateAccessRevoked {
		t.Fatalf("deactivation approval should notify revocation, got %+v", n)
	}
}

func TestBundleForceRejectAndRevoke(t *testing.T) {
	rec := newRecord("2", "4")
	out := mustDecide(t, &rec, 0, superAdmin(), ActionReject, "fraud")
	n := Bundle(rec, out)
	if len(n) != 1 || n[0].Template != TemplateRequestRejected || n[0].Fields["comment"] != "[Super Admin Override] fraud" {
		t.Fatalf("unexpected notices %+v", n)
	}

	mustDecide(t, &rec, 1, hod(), ActionApprove, "")
	mustDecide(t, &rec, 1, ict(), ActionApprove, "")
	mustDecide(t, &rec, 1, sysadmin("4"), ActionApprove, "")
	out, err := Revoke(&rec, 1, superAdmin(), "moved", t0)
	if err != nil {
		t.Fatal(err)
	}
	n = Bundle(rec, out)
	if len(n) != 1 || n[0].Template != TemplateAccessRevoked {
		t.Fatalf("revoke sends one notice, got %+v", n)
	}
}

func TestBundleTemplateKeys(t *testing.T) {
	want := map[string]string{
		TemplateHODApproval: "hod_approval_to_ict",
		TemplateICTApproval: "ict_approval_to_sysadmin",
		TemplateHODReview:   "hod_review_complete",
		TemplateICTReview:   "ict_review_complete",
	}
	for got, key := range want {
		if got != key {
			t.Fatalf("template key %q, want %q", got, key)
		}
	}
}

func TestBundleImmediateCarriesDecisionComment(t *testing.T) {
	rec := newRecord("2", "4", "6")
	for i := range rec.Entries {
		mustDecide(t, &rec, i, hod(), ActionApprove, "")
		mustDecide(t, &rec, i, ict(), ActionApprove, "")
	}
	out := mustDecide(t, &rec, 0, sysadmin("2"), ActionApprove, "account created, see welcome mail")
	if rec.Entries[0].SysAdmin.Comment != "" {
		t.Fatalf("approval should leave the stage comment empty, got %q", rec.Entries[0].SysAdmin.Comment)
	}
	if n := Bundle(rec, out); n[0].Fields["comment"] != "account created, see welcome mail" {
		t.Fatalf("granted notice lost the comment: %+v", n[0].Fields)
	}

	out = mustDecide(t, &rec, 1, sysadmin("4"), ActionApprove, "")
	if n := Bundle(rec, out); n[0].Fields["comment"] != NoComment {
		t.Fatalf("empty comment should use the fallback, got %q", n[0].Fields["comment"])
	}

	out = mustDecide(t, &rec, 2, superAdmin(), ActionApprove, "urgent")
	if n := Bundle(rec, out); n[0].Template != TemplateAccessGranted || n[0].Fields["comment"] != "[Super Admin acting as SysAdmin] urgent" {
		t.Fatalf("masquerade notice should quote the tagged comment, got %+v", n)
	}

	revoked, err := Revoke(&rec, 0, sysadmin("2"), "", t0)
	if err != nil {
		t.Fatal(err)
	}
	if n := Bundle(rec, revoked); n[0].Fields["comment"] != RevokedComment {
		t.Fatalf("revocation without comment should use the revoke fallback, got %q", n[0].Fields["comment"])
	}
	revoked, err = Revoke(&rec, 1, superAdmin(), "left the organisation", t0)
	if err != nil {
		t.Fatal(err)
	}
	if n := Bundle(rec, revoked); n[0].Fields["comment"] != "left the organisation" {
		t.Fatalf("revocation notice lost the comment, got %q", n[0].Fields["comment"])
	}
}
