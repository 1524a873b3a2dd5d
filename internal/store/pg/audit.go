package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"sysaccess.org/internal/audit"
)

// Write appends one audit entry. The table has no update path.
func (s *Store) Write(ctx context.Context, e audit.Entry) error {
	if s.db == nil {
		return errNoDB
	}
	details := []byte("{}")
	if len(e.Details) > 0 {
		b, err := json.Marshal(e.Details)
		if err != nil {
			return fmt.Errorf("marshal details: %w", err)
		}
		details = b
	}
	var actor any
	if e.ActorID != nil {
		actor = *e.ActorID
	}
	_, err := s.db.ExecContext(ctx, `
		insert into audit_log (id, actor_id, action, target, occurred_at, source_ip, outcome, request_id, details)
		values ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, e.ID, actor, e.Action, e.Target, e.OccurredAt.UTC(), nullIfEmpty(e.SourceIP), string(e.Outcome),
		nullIfEmpty(e.RequestID), details)
	return err
}

// AuditLog lists entries newest first.
func (s *Store) AuditLog(ctx context.Context, q audit.Query) ([]audit.Entry, error) {
	if s.db == nil {
		return nil, errNoDB
	}
	q = q.Normalize()
	b := &sqlBuilder{}
	b.eq("actor_id", q.ActorID)
	b.eq("action", q.Action)
	b.eq("target", q.Target)
	query := `select id, actor_id, action, target, occurred_at, coalesce(source_ip, ''), outcome,
		coalesce(request_id, ''), details from audit_log`
	if len(b.conds) > 0 {
		query += ` where ` + strings.Join(b.conds, " and ")
	}
	query += ` order by occurred_at desc, id desc limit ` + b.arg(q.Limit)

	rows, err := s.db.QueryContext(ctx, query, b.args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []audit.Entry
	for rows.Next() {
		var (
			e       audit.Entry
			actor   sql.NullString
			outcome string
			details []byte
		)
		if err := rows.Scan(&e.ID, &actor, &e.Action, &e.Target, &e.OccurredAt, &e.SourceIP, &outcome, &e.RequestID, &details); err != nil {
			return nil, err
		}
		if actor.Valid {
			e.ActorID = audit.Actor(actor.String)
		}
		e.Outcome = audit.Outcome(outcome)
		e.OccurredAt = e.OccurredAt.UTC()
		if len(details) > 0 {
			if err := json.Unmarshal(details, &e.Details); err != nil {
				return nil, fmt.Errorf("decode audit details %s: %w", e.ID, err)
			}
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
