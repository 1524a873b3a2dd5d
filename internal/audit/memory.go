package audit

import (
	"context"
	"sync"
)

const (
	defaultMemoryEntries = 10000
	defaultQueryLimit    = 100
	maxQueryLimit        = 1000
)

// Query narrows an audit log listing. Empty fields match everything.
type Query struct {
	ActorID string
	Action  string
	Target  string
	Limit   int
}

// Normalize clamps Limit into (0, maxQueryLimit].
func (q Query) Normalize() Query {
	switch {
	case q.Limit <= 0:
		q.Limit = defaultQueryLimit
	case q.Limit > maxQueryLimit:
		q.Limit = maxQueryLimit
	}
	return q
}

func (q Query) matches(e Entry) bool {
	if q.ActorID != "" && (e.ActorID == nil || *e.ActorID != q.ActorID) {
		return false
	}
	if q.Action != "" && e.Action != q.Action {
		return false
	}
	return q.Target == "" || e.Target == q.Target
}

// Reader lists stored audit entries, newest first.
type Reader interface {
	AuditLog(ctx context.Context, q Query) ([]Entry, error)
}

// MemorySink keeps the most recent entries in process. It backs the audit
// log endpoint when no database is configured.
type MemorySink struct {
	mu      sync.RWMutex
	entries []Entry
	max     int
}

// NewMemorySink keeps at most max entries; non-positive means 10000.
func NewMemorySink(max int) *MemorySink {
	if max <= 0 {
		max = defaultMemoryEntries
	}
	return &MemorySink{max: max}
}

func (m *MemorySink) Write(ctx context.Context, e Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, e)
	if over := len(m.entries) - m.max; over > 0 {
		m.entries = append(m.entries[:0:0], m.entries[over:]...)
	}
	return nil
}

func (m *MemorySink) AuditLog(ctx context.Context, q Query) ([]Entry, error) {
	q = q.Normalize()
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Entry, 0, min(q.Limit, len(m.entries)))
	for i := len(m.entries) - 1; i >= 0 && len(out) < q.Limit; i-- {
		if q.matches(m.entries[i]) {
			out = append(out, m.entries[i])
		}
	}
	return out, nil
}
