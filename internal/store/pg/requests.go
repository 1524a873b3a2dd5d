package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"sysaccess.org/internal/access"
)

const requestColumns = `r.id, r.requester_id, r.requester_name, r.requester_email, r.manager_id,
	r.directorate_id, r.designation, r.kind, r.submitted_at, r.hod_approver_id, r.ict_approver_id`

const entryColumns = `e.id, e.request_id, e.system_code, e.access_level,
	e.hod_status, e.hod_decided_at, e.hod_decided_by, e.hod_comment,
	e.ict_status, e.ict_decided_at, e.ict_decided_by, e.ict_comment,
	e.sysadmin_status, e.sysadmin_decided_at, e.sysadmin_decided_by, e.sysadmin_comment,
	e.version`

type scanner interface {
	Scan(dest ...any) error
}

func (s *Store) CreateRequest(ctx context.Context, rec access.Record) error {
	if s.db == nil {
		return errNoDB
	}
	access.SyncRecord(&rec)
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	r := rec.Request
	if _, err := tx.ExecContext(ctx, `
		insert into access_requests (id, requester_id, requester_name, requester_email, manager_id,
			directorate_id, designation, kind, status, submitted_at, hod_approver_id, ict_approver_id)
		values ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
	`, r.ID, r.RequesterID, r.RequesterName, r.RequesterEmail, r.ManagerID,
		r.DirectorateID, r.Designation, string(r.Kind), string(r.Status()), r.SubmittedAt.UTC(),
		r.HODApproverID, r.ICTApproverID); err != nil {
		return mapWriteError(err, "request "+r.ID)
	}
	for i, e := range rec.Entries {
		if _, err := tx.ExecContext(ctx, `
			insert into system_entries (id, request_id, position, system_code, access_level,
				hod_status, hod_decided_at, hod_decided_by, hod_comment,
				ict_status, ict_decided_at, ict_decided_by, ict_comment,
				sysadmin_status, sysadmin_decided_at, sysadmin_decided_by, sysadmin_comment, version)
			values ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18)
		`, entryArgs(e, i)...); err != nil {
			return mapWriteError(err, "entry "+e.ID)
		}
	}
	return tx.Commit()
}

func entryArgs(e access.SystemEntry, position int) []any {
	return []any{
		e.ID, e.RequestID, position, e.System, e.AccessLevel,
		string(e.HOD.Status), nullTime(e.HOD.DecidedAt), e.HOD.DecidedBy, e.HOD.Comment,
		string(e.ICT.Status), nullTime(e.ICT.DecidedAt), e.ICT.DecidedBy, e.ICT.Comment,
		string(e.SysAdmin.Status), nullTime(e.SysAdmin.DecidedAt), e.SysAdmin.DecidedBy, e.SysAdmin.Comment,
		e.Version,
	}
}

func mapWriteError(err error, what string) error {
	if pgErr, ok := maybePgError(err); ok {
		switch pgErr.Code {
		case pgErrUniqueViolation:
			return fmt.Errorf("%w: %s already exists", access.ErrValidation, what)
		case pgErrForeignKeyViolation:
			return fmt.Errorf("%w: %s references a missing row", access.ErrValidation, what)
		}
	}
	return err
}

func (s *Store) GetRequest(ctx context.Context, id string) (access.Record, error) {
	if s.db == nil {
		return access.Record{}, errNoDB
	}
	return loadRecord(ctx, s.db, id, false)
}

func loadRecord(ctx context.Context, q querier, id string, lock bool) (access.Record, error) {
	query := `select ` + requestColumns + ` from access_requests r where r.id = $1`
	if lock {
		query += ` for update`
	}
	req, err := scanRequest(q.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return access.Record{}, fmt.Errorf("%w: request %s", access.ErrNotFound, id)
	}
	if err != nil {
		return access.Record{}, err
	}
	rows, err := q.QueryContext(ctx, `select `+entryColumns+` from system_entries e where e.request_id = $1 order by e.position`, id)
	if err != nil {
		return access.Record{}, err
	}
	defer rows.Close()
	rec := access.Record{Request: req}
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return access.Record{}, err
		}
		rec.Entries = append(rec.Entries, e)
	}
	if err := rows.Err(); err != nil {
		return access.Record{}, err
	}
	access.SyncRecord(&rec)
	return rec, nil
}

func (s *Store) UpdateByEntry(ctx context.Context, entryID string, fn func(rec *access.Record, idx int) error) (access.Record, error) {
	if s.db == nil {
		return access.Record{}, errNoDB
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return access.Record{}, err
	}
	defer func() { _ = tx.Rollback() }()

	var requestID string
	err = tx.QueryRowContext(ctx, `select request_id from system_entries where id = $1`, entryID).Scan(&requestID)
	if errors.Is(err, sql.ErrNoRows) {
		return access.Record{}, fmt.Errorf("%w: system entry %s", access.ErrNotFound, entryID)
	}
	if err != nil {
		return access.Record{}, err
	}
	stored, err := loadRecord(ctx, tx, requestID, true)
	if err != nil {
		return access.Record{}, err
	}
	work := stored.Clone()
	if err := fn(&work, work.EntryIndex(entryID)); err != nil {
		return access.Record{}, err
	}
	if len(work.Entries) != len(stored.Entries) {
		return access.Record{}, fmt.Errorf("%w: entries cannot be added or removed", access.ErrState)
	}
	access.SyncRecord(&work)

	for i, e := range work.Entries {
		prev := stored.Entries[i].Version
		if e.Version == prev {
			continue
		}
		res, err := tx.ExecContext(ctx, `
			update system_entries set
				hod_status = $1, hod_decided_at = $2, hod_decided_by = $3, hod_comment = $4,
				ict_status = $5, ict_decided_at = $6, ict_decided_by = $7, ict_comment = $8,
				sysadmin_status = $9, sysadmin_decided_at = $10, sysadmin_decided_by = $11, sysadmin_comment = $12,
				version = $13
			where id = $14 and version = $15
		`, string(e.HOD.Status), nullTime(e.HOD.DecidedAt), e.HOD.DecidedBy, e.HOD.Comment,
			string(e.ICT.Status), nullTime(e.ICT.DecidedAt), e.ICT.DecidedBy, e.ICT.Comment,
			string(e.SysAdmin.Status), nullTime(e.SysAdmin.DecidedAt), e.SysAdmin.DecidedBy, e.SysAdmin.Comment,
			e.Version, e.ID, prev)
		if err != nil {
			return access.Record{}, err
		}
		if n, err := res.RowsAffected(); err != nil {
			return access.Record{}, err
		} else if n == 0 {
			return access.Record{}, fmt.Errorf("%w: entry %s was changed concurrently", access.ErrState, e.ID)
		}
	}
	r := work.Request
	if _, err := tx.ExecContext(ctx, `
		update access_requests set status = $1, hod_approver_id = $2, ict_approver_id = $3
		where id = $4
	`, string(r.Status()), r.HODApproverID, r.ICTApproverID, r.ID); err != nil {
		return access.Record{}, err
	}
	if err := tx.Commit(); err != nil {
		return access.Record{}, err
	}
	return work, nil
}

func (s *Store) ListEntries(ctx context.Context, f access.EntryFilter) ([]access.EntryView, error) {
	if s.db == nil {
		return nil, errNoDB
	}
	where, args := filterSQL(f)
	query := `select ` + requestColumns + `, ` + entryColumns + `
		from system_entries e
		join access_requests r on r.id = e.request_id`
	if where != "" {
		query += "\n\t\twhere " + where
	}
	query += "\n\t\torder by r.submitted_at, r.id, e.position"
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	// Status is derived over all entries of a request, so it is filled in afterwards.
	var out []access.EntryView
	for rows.Next() {
		var (
			req requestRow
			ent entryRow
		)
		if err := rows.Scan(append(req.dest(), ent.dest()...)...); err != nil {
			return nil, err
		}
		out = append(out, access.EntryView{Request: req.value(), Entry: ent.value()})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, s.fillStatuses(ctx, out)
}

func (s *Store) fillStatuses(ctx context.Context, views []access.EntryView) error {
	if len(views) == 0 {
		return nil
	}
	seen := make(map[string]bool)
	var ids []string
	for _, v := range views {
		if !seen[v.Request.ID] {
			seen[v.Request.ID] = true
			ids = append(ids, v.Request.ID)
		}
	}
	placeholders := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		placeholders[i] = "$" + strconv.Itoa(i+1)
		args[i] = id
	}
	rows, err := s.db.QueryContext(ctx, `select `+entryColumns+` from system_entries e where e.request_id in (`+
		strings.Join(placeholders, ",")+`) order by e.request_id, e.position`, args...)
	if err != nil {
		return err
	}
	defer rows.Close()
	byRequest := make(map[string][]access.SystemEntry)
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return err
		}
		byRequest[e.RequestID] = append(byRequest[e.RequestID], e)
	}
	if err := rows.Err(); err != nil {
		return err
	}
	for i := range views {
		access.Sync(&views[i].Request, byRequest[views[i].Request.ID])
	}
	return nil
}

type sqlBuilder struct {
	conds []string
	args  []any
}

func (b *sqlBuilder) arg(v any) string {
	b.args = append(b.args, v)
	return "$" + strconv.Itoa(len(b.args))
}

func (b *sqlBuilder) statusIn(column string, statuses []access.Status) {
	if len(statuses) == 0 {
		return
	}
	ph := make([]string, len(statuses))
	for i, st := range statuses {
		ph[i] = b.arg(string(st))
	}
	b.conds = append(b.conds, column+" in ("+strings.Join(ph, ",")+")")
}

func (b *sqlBuilder) eq(column, value string) {
	if value != "" {
		b.conds = append(b.conds, column+" = "+b.arg(value))
	}
}

const anyPendingSQL = `(e.hod_status = 'pending' or e.ict_status = 'pending' or e.sysadmin_status = 'pending')`

// filterSQL renders the same predicate as EntryFilter.Matches.
func filterSQL(f access.EntryFilter) (string, []any) {
	b := &sqlBuilder{}
	if f.Directorate != "" && f.ManagerID != "" {
		b.conds = append(b.conds, "(r.directorate_id = "+b.arg(f.Directorate)+" or r.manager_id = "+b.arg(f.ManagerID)+")")
	} else {
		b.eq("r.directorate_id", f.Directorate)
		b.eq("r.manager_id", f.ManagerID)
	}
	b.eq("e.system_code", f.System)
	b.eq("r.requester_id", f.RequesterID)
	b.statusIn("e.hod_status", f.HOD)
	b.statusIn("e.ict_status", f.ICT)
	b.statusIn("e.sysadmin_status", f.SysAdmin)
	b.eq("e.hod_decided_by", f.HODDecidedBy)
	b.eq("e.ict_decided_by", f.ICTDecidedBy)
	b.eq("e.sysadmin_decided_by", f.SysAdminDecidedBy)
	switch f.Open {
	case access.OpenSome:
		b.conds = append(b.conds, anyPendingSQL)
	case access.OpenNone:
		b.conds = append(b.conds, "not "+anyPendingSQL)
	}
	return strings.Join(b.conds, " and "), b.args
}

type requestRow struct {
	r         access.AccessRequest
	kind      string
	submitted time.Time
}

func (row *requestRow) dest() []any {
	r := &row.r
	return []any{&r.ID, &r.RequesterID, &r.RequesterName, &r.RequesterEmail, &r.ManagerID,
		&r.DirectorateID, &r.Designation, &row.kind, &row.submitted, &r.HODApproverID, &r.ICTApproverID}
}

func (row *requestRow) value() access.AccessRequest {
	out := row.r
	out.Kind = access.Kind(row.kind)
	out.SubmittedAt = row.submitted.UTC()
	return out
}

func scanRequest(sc scanner) (access.AccessRequest, error) {
	var row requestRow
	if err := sc.Scan(row.dest()...); err != nil {
		return access.AccessRequest{}, err
	}
	return row.value(), nil
}

type stageRow struct {
	status    string
	decidedAt sql.NullTime
	decidedBy string
	comment   string
}

func (s *stageRow) dest() []any {
	return []any{&s.status, &s.decidedAt, &s.decidedBy, &s.comment}
}

func (s stageRow) value() access.StageRecord {
	rec := access.StageRecord{Status: access.Status(s.status), DecidedBy: s.decidedBy, Comment: s.comment}
	if s.decidedAt.Valid {
		t := s.decidedAt.Time.UTC()
		rec.DecidedAt = &t
	}
	return rec
}

type entryRow struct {
	e                  access.SystemEntry
	hod, ict, sysadmin stageRow
}

func (row *entryRow) dest() []any {
	e := &row.e
	out := []any{&e.ID, &e.RequestID, &e.System, &e.AccessLevel}
	out = append(out, row.hod.dest()...)
	out = append(out, row.ict.dest()...)
	out = append(out, row.sysadmin.dest()...)
	return append(out, &e.Version)
}

func (row *entryRow) value() access.SystemEntry {
	out := row.e
	out.HOD = row.hod.value()
	out.ICT = row.ict.value()
	out.SysAdmin = row.sysadmin.value()
	return out
}

func scanEntry(sc scanner) (access.SystemEntry, error) {
	var row entryRow
	if err := sc.Scan(row.dest()...); err != nil {
		return access.SystemEntry{}, err
	}
	return row.value(), nil
}
