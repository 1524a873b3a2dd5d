package pg

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"sysaccess.org/internal/access"
	"sysaccess.org/internal/audit"
)

var submitted = time.Date(2024, 3, 4, 9, 0, 0, 0, time.UTC)

var requestCols = []string{"id", "requester_id", "requester_name", "requester_email", "manager_id",
	"directorate_id", "designation", "kind", "submitted_at", "hod_approver_id", "ict_approver_id"}

var entryCols = []string{"id", "request_id", "system_code", "access_level",
	"hod_status", "hod_decided_at", "hod_decided_by", "hod_comment",
	"ict_status", "ict_decided_at", "ict_decided_by", "ict_comment",
	"sysadmin_status", "sysadmin_decided_at", "sysadmin_decided_by", "sysadmin_comment",
	"version"}

func newMock(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return New(db), mock
}

func requestRowValues() []driver.Value {
	return []driver.Value{"r1", "staff-1", "Jane", "jane@example.org", "mgr-1", "finance", "Analyst", "new", submitted, "", ""}
}

func pendingEntryValues(id, system string, version int64) []driver.Value {
	return []driver.Value{id, "r1", system, "read",
		"pending", nil, "", "",
		"pending", nil, "", "",
		"pending", nil, "", "",
		version}
}

func expectLockedRecord(mock sqlmock.Sqlmock, entries ...[]driver.Value) {
	mock.ExpectQuery("select request_id from system_entries where id").
		WithArgs("e1").
		WillReturnRows(sqlmock.NewRows([]string{"request_id"}).AddRow("r1"))
	mock.ExpectQuery("from access_requests r where r.id = (.+) for update").
		WithArgs("r1").
		WillReturnRows(sqlmock.NewRows(requestCols).AddRow(requestRowValues()...))
	rows := sqlmock.NewRows(entryCols)
	for _, e := range entries {
		rows.AddRow(e...)
	}
	mock.ExpectQuery("from system_entries e where e.request_id = (.+) order by e.position").
		WithArgs("r1").
		WillReturnRows(rows)
}

func hodActor() access.Actor {
	return access.Actor{UserID: "hod-1", Name: "Hannah",
		Assignment: access.RoleAssignment{UserID: "hod-1", Role: access.RoleHOD, Directorate: "finance"}}
}

func TestUpdateByEntryPersistsDecision(t *testing.T) {
	store, mock := newMock(t)
	now := submitted.Add(time.Hour)

	mock.ExpectBegin()
	expectLockedRecord(mock, pendingEntryValues("e1", "2", 0), pendingEntryValues("e2", "4", 0))
	mock.ExpectExec("update system_entries set").
		WithArgs("approved", sqlmock.AnyArg(), "hod-1", "", "pending", sqlmock.AnyArg(), "", "",
			"pending", sqlmock.AnyArg(), "", "", int64(1), "e1", int64(0)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("update access_requests set status").
		WithArgs("pending_hod", "hod-1", "", "r1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	rec, err := store.UpdateByEntry(context.Background(), "e1", func(rec *access.Record, idx int) error {
		_, err := access.Decide(rec, idx, hodActor(), access.ActionApprove, "", now)
		return err
	})
	if err != nil {
		t.Fatalf("UpdateByEntry: %v", err)
	}
	if rec.Entries[0].HOD.Status != access.StatusApproved || rec.Entries[1].HOD.Status != access.StatusPending {
		t.Fatalf("unexpected entries %+v", rec.Entries)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestUpdateByEntryDetectsConcurrentWrite(t *testing.T) {
	store, mock := newMock(t)

	mock.ExpectBegin()
	expectLockedRecord(mock, pendingEntryValues("e1", "2", 3))
	mock.ExpectExec("update system_entries set").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	_, err := store.UpdateByEntry(context.Background(), "e1", func(rec *access.Record, idx int) error {
		_, err := access.Decide(rec, idx, hodActor(), access.ActionReject, "no", submitted)
		return err
	})
	if !errors.Is(err, access.ErrState) {
		t.Fatalf("expected state error, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestUpdateByEntryRollsBackOnCallbackError(t *testing.T) {
	store, mock := newMock(t)

	mock.ExpectBegin()
	expectLockedRecord(mock, pendingEntryValues("e1", "2", 0))
	mock.ExpectRollback()

	wantErr := errors.New("boom")
	_, err := store.UpdateByEntry(context.Background(), "e1", func(*access.Record, int) error { return wantErr })
	if !errors.Is(err, wantErr) {
		t.Fatalf("expected callback error, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestUpdateByEntryUnknownEntry(t *testing.T) {
	store, mock := newMock(t)
	mock.ExpectBegin()
	mock.ExpectQuery("select request_id from system_entries").WithArgs("nope").WillReturnError(sql.ErrNoRows)
	mock.ExpectRollback()

	_, err := store.UpdateByEntry(context.Background(), "nope", func(*access.Record, int) error { return nil })
	if !errors.Is(err, access.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestGetRequestDerivesStatus(t *testing.T) {
	store, mock := newMock(t)
	decided := submitted.Add(time.Hour)
	rejected := []driver.Value{"e1", "r1", "2", "", "rejected", decided, "hod-1", "no", "rejected", nil, "", "", "rejected", nil, "", "", int64(1)}

	mock.ExpectQuery("from access_requests r where r.id").WithArgs("r1").
		WillReturnRows(sqlmock.NewRows(requestCols).AddRow(requestRowValues()...))
	mock.ExpectQuery("from system_entries e where e.request_id").WithArgs("r1").
		WillReturnRows(sqlmock.NewRows(entryCols).AddRow(rejected...))

	rec, err := store.GetRequest(context.Background(), "r1")
	if err != nil {
		t.Fatalf("GetRequest: %v", err)
	}
	if rec.Request.Status() != access.RequestRejectedHOD {
		t.Fatalf("status = %s", rec.Request.Status())
	}
	if rec.Entries[0].HOD.DecidedAt == nil || !rec.Entries[0].HOD.DecidedAt.Equal(decided) {
		t.Fatalf("decided_at not scanned: %+v", rec.Entries[0].HOD)
	}
}

func TestGetRequestNotFound(t *testing.T) {
	store, mock := newMock(t)
	mock.ExpectQuery("from access_requests").WithArgs("r9").WillReturnError(sql.ErrNoRows)
	if _, err := store.GetRequest(context.Background(), "r9"); !errors.Is(err, access.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestCreateRequestWritesEntries(t *testing.T) {
	store, mock := newMock(t)
	rec := access.Record{
		Request: access.AccessRequest{ID: "r1", RequesterID: "staff-1", Kind: access.KindNew, SubmittedAt: submitted},
		Entries: []access.SystemEntry{
			{ID: "e1", RequestID: "r1", System: "2", HOD: access.StageRecord{Status: access.StatusPending},
				ICT: access.StageRecord{Status: access.StatusPending}, SysAdmin: access.StageRecord{Status: access.StatusPending}},
		},
	}
	mock.ExpectBegin()
	mock.ExpectExec("insert into access_requests").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("insert into system_entries").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()
	if err := store.CreateRequest(context.Background(), rec); err != nil {
		t.Fatalf("CreateRequest: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestFilterSQL(t *testing.T) {
	where, args := filterSQL(access.EntryFilter{
		Directorate: "finance",
		ManagerID:   "mgr-1",
		HOD:         []access.Status{access.StatusPending},
		Open:        access.OpenSome,
	})
	want := "(r.directorate_id = $1 or r.manager_id = $2) and e.hod_status in ($3) and " + anyPendingSQL
	if where != want {
		t.Fatalf("where = %q\nwant %q", where, want)
	}
	if len(args) != 3 || args[2] != "pending" {
		t.Fatalf("unexpected args %v", args)
	}

	where, args = filterSQL(access.EntryFilter{System: "2", ICT: []access.Status{access.StatusApproved, access.StatusRejected}, Open: access.OpenNone})
	if !strings.HasPrefix(where, "e.system_code = $1 and e.ict_status in ($2,$3) and not ") || len(args) != 3 {
		t.Fatalf("where = %q args=%v", where, args)
	}
	if where, args := filterSQL(access.EntryFilter{}); where != "" || len(args) != 0 {
		t.Fatalf("empty filter should not constrain: %q %v", where, args)
	}
}

func TestListEntriesFillsStatus(t *testing.T) {
	store, mock := newMock(t)
	cols := append(append([]string{}, requestCols...), entryCols...)
	row := append(requestRowValues(), pendingEntryValues("e1", "2", 0)...)
	mock.ExpectQuery("from system_entries e\\s+join access_requests r").
		WithArgs("finance").
		WillReturnRows(sqlmock.NewRows(cols).AddRow(row...))
	mock.ExpectQuery("where e.request_id in").
		WithArgs("r1").
		WillReturnRows(sqlmock.NewRows(entryCols).AddRow(pendingEntryValues("e1", "2", 0)...))

	views, err := store.ListEntries(context.Background(), access.EntryFilter{Directorate: "finance"})
	if err != nil {
		t.Fatalf("ListEntries: %v", err)
	}
	if len(views) != 1 || views[0].Request.Status() != access.RequestPendingHOD {
		t.Fatalf("unexpected views %+v", views)
	}
}

func TestAssignmentDefaultsToStaff(t *testing.T) {
	store, mock := newMock(t)
	mock.ExpectQuery("left join role_assignments").WithArgs("u1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "role", "directorate_id", "system_code", "assigned_at"}).
			AddRow("u1", nil, "", "", nil))
	ra, err := store.Assignment(context.Background(), "u1")
	if err != nil {
		t.Fatalf("Assignment: %v", err)
	}
	if ra.Role != access.RoleStaff || ra.UserID != "u1" {
		t.Fatalf("unexpected assignment %+v", ra)
	}
}

func TestSettingMissingKey(t *testing.T) {
	store, mock := newMock(t)
	mock.ExpectQuery("select value from global_settings").WithArgs("ict_email").WillReturnError(sql.ErrNoRows)
	v, ok, err := store.Setting(context.Background(), "ict_email")
	if err != nil || ok || v != "" {
		t.Fatalf("missing setting: %q %v %v", v, ok, err)
	}
}

func TestWriteAuditWithoutActor(t *testing.T) {
	store, mock := newMock(t)
	mock.ExpectExec("insert into audit_log").
		WithArgs("a1", nil, audit.ActionLoginFailed, "ghost", sqlmock.AnyArg(), sqlmock.AnyArg(), "warning", sqlmock.AnyArg(), []byte("{}")).
		WillReturnResult(sqlmock.NewResult(1, 1))
	err := store.Write(context.Background(), audit.Entry{
		ID: "a1", Action: audit.ActionLoginFailed, Target: "ghost", OccurredAt: submitted, Outcome: audit.OutcomeWarning,
	})
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestAuditLogFiltersNewestFirst(t *testing.T) {
	store, mock := newMock(t)
	cols := []string{"id", "actor_id", "action", "target", "occurred_at", "source_ip", "outcome", "request_id", "details"}
	mock.ExpectQuery("from audit_log where actor_id = \\$1 and action = \\$2 order by occurred_at desc, id desc limit \\$3").
		WithArgs("root", audit.ActionRoleChange, 100).
		WillReturnRows(sqlmock.NewRows(cols).
			AddRow("a2", "root", audit.ActionRoleChange, "jane", submitted.Add(time.Minute), "10.0.0.1", "success", "rid", []byte(`{"to":"ict"}`)).
			AddRow("a1", nil, audit.ActionRoleChange, "jane", submitted, "", "success", "", []byte(`{}`)))

	entries, err := store.AuditLog(context.Background(), audit.Query{ActorID: "root", Action: audit.ActionRoleChange})
	if err != nil {
		t.Fatalf("AuditLog: %v", err)
	}
	if len(entries) != 2 || entries[0].ID != "a2" || entries[0].Details["to"] != "ict" {
		t.Fatalf("unexpected entries %+v", entries)
	}
	if entries[0].ActorID == nil || *entries[0].ActorID != "root" || entries[1].ActorID != nil {
		t.Fatalf("unexpected actors %+v", entries)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestListUsersAndPutUser(t *testing.T) {
	store, mock := newMock(t)
	mock.ExpectExec("insert into users").
		WithArgs("u1", "Una", "una@example.org", "finance", "", true, false).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectQuery("from users u order by u.name").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "email", "directorate_id", "manager_id", "active", "is_admin"}).
			AddRow("u1", "Una", "una@example.org", "finance", "", true, false))

	ctx := context.Background()
	if err := store.PutUser(ctx, access.User{ID: "u1", Name: "Una", Email: "una@example.org", DirectorateID: "finance", Active: true}); err != nil {
		t.Fatalf("PutUser: %v", err)
	}
	users, err := store.ListUsers(ctx)
	if err != nil {
		t.Fatalf("ListUsers: %v", err)
	}
	if len(users) != 1 || users[0].ID != "u1" || !users[0].Active {
		t.Fatalf("unexpected users %+v", users)
	}
}

func TestNilDBGuard(t *testing.T) {
	var s Store
	if _, err := s.GetRequest(context.Background(), "r1"); !errors.Is(err, errNoDB) {
		t.Fatalf("expected errNoDB, got %v", err)
	}
}
