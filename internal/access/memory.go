package access

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// InMemory implements Store, Directory and role storage with in-process locking.
// A single mutex makes every UpdateByEntry callback run alone.
type InMemory struct {
	mu       sync.RWMutex
	requests map[string]Record
	byEntry  map[string]string // entry id -> request id
	users    map[string]User
	roles    map[string]RoleAssignment
}

// NewInMemory creates an empty store.
func NewInMemory() *InMemory {
	return &InMemory{
		requests: make(map[string]Record),
		byEntry:  make(map[string]string),
		users:    make(map[string]User),
		roles:    make(map[string]RoleAssignment),
	}
}

func (s *InMemory) CreateRequest(ctx context.Context, rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.requests[rec.Request.ID]; ok {
		return fmt.Errorf("%w: request %s already exists", ErrValidation, rec.Request.ID)
	}
	for _, e := range rec.Entries {
		if _, ok := s.byEntry[e.ID]; ok {
			return fmt.Errorf("%w: entry %s already exists", ErrValidation, e.ID)
		}
	}
	cp := rec.Clone()
	SyncRecord(&cp)
	s.requests[cp.Request.ID] = cp
	for _, e := range cp.Entries {
		s.byEntry[e.ID] = cp.Request.ID
	}
	return nil
}

func (s *InMemory) GetRequest(ctx context.Context, id string) (Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.requests[id]
	if !ok {
		return Record{}, fmt.Errorf("%w: request %s", ErrNotFound, id)
	}
	return rec.Clone(), nil
}

func (s *InMemory) UpdateByEntry(ctx context.Context, entryID string, fn func(rec *Record, idx int) error) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	reqID, ok := s.byEntry[entryID]
	if !ok {
		return Record{}, fmt.Errorf("%w: system entry %s", ErrNotFound, entryID)
	}
	stored := s.requests[reqID]
	work := stored.Clone()
	SyncRecord(&work)
	idx := work.EntryIndex(entryID)
	if err := fn(&work, idx); err != nil {
		return Record{}, err
	}
	if len(work.Entries) != len(stored.Entries) {
		return Record{}, fmt.Errorf("%w: entries cannot be added or removed", ErrState)
	}
	SyncRecord(&work)
	s.requests[reqID] = work
	return work.Clone(), nil
}

func (s *InMemory) ListEntries(ctx context.Context, f EntryFilter) ([]EntryView, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	recs := make([]Record, 0, len(s.requests))
	for _, rec := range s.requests {
		recs = append(recs, rec)
	}
	sort.Slice(recs, func(i, j int) bool {
		if recs[i].Request.SubmittedAt.Equal(recs[j].Request.SubmittedAt) {
			return recs[i].Request.ID < recs[j].Request.ID
		}
		return recs[i].Request.SubmittedAt.Before(recs[j].Request.SubmittedAt)
	})
	var out []EntryView
	for _, rec := range recs {
		for _, e := range rec.Entries {
			if f.Matches(rec.Request, e) {
				out = append(out, EntryView{Request: rec.Request, Entry: e.clone()})
			}
		}
	}
	return out, nil
}

// PutUser adds or replaces a directory user.
func (s *InMemory) PutUser(ctx context.Context, u User) error {
	if u.ID == "" {
		return fmt.Errorf("%w: user id is required", ErrValidation)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[u.ID] = u
	return nil
}

func (s *InMemory) User(ctx context.Context, id string) (User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return User{}, fmt.Errorf("%w: user %s", ErrNotFound, id)
	}
	return u, nil
}

// ListUsers returns every user ordered by name.
func (s *InMemory) ListUsers(ctx context.Context) ([]User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]User, 0, len(s.users))
	for _, u := range s.users {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name == out[j].Name {
			return out[i].ID < out[j].ID
		}
		return out[i].Name < out[j].Name
	})
	return out, nil
}

func (s *InMemory) Reviewers(ctx context.Context, role Role, system string) ([]User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []User
	for uid, ra := range s.roles {
		if ra.Role != role || (system != "" && ra.System != system) {
			continue
		}
		if u, ok := s.users[uid]; ok && u.Active {
			out = append(out, u)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Assignment returns the current role of a user; users without one are staff.
func (s *InMemory) Assignment(ctx context.Context, userID string) (RoleAssignment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if ra, ok := s.roles[userID]; ok {
		return ra, nil
	}
	if _, ok := s.users[userID]; !ok {
		return RoleAssignment{}, fmt.Errorf("%w: user %s", ErrNotFound, userID)
	}
	return RoleAssignment{UserID: userID, Role: RoleStaff}, nil
}

// PutAssignment replaces the whole assignment of the user.
func (s *InMemory) PutAssignment(ctx context.Context, ra RoleAssignment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[ra.UserID]; !ok {
		return fmt.Errorf("%w: user %s", ErrNotFound, ra.UserID)
	}
	s.roles[ra.UserID] = ra
	return nil
}
