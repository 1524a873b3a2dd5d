package access

import "context"

// Store persists requests and serialises mutations per request.
//
// UpdateByEntry loads the record owning entryID, synced, and calls fn with the
// index of the entry. Changes made by fn are persisted only when fn returns nil,
// and only if no other writer changed the touched entries in between; otherwise
// the call fails with ErrState.
type Store interface {
	CreateRequest(ctx context.Context, rec Record) error
	GetRequest(ctx context.Context, id string) (Record, error)
	UpdateByEntry(ctx context.Context, entryID string, fn func(rec *Record, idx int) error) (Record, error)
	ListEntries(ctx context.Context, f EntryFilter) ([]EntryView, error)
}

// Directory looks up people.
type Directory interface {
	User(ctx context.Context, id string) (User, error)
	// Reviewers returns active users holding role; system narrows sys_admin lookups.
	Reviewers(ctx context.Context, role Role, system string) ([]User, error)
}

// UserStore is a Directory that user administration can write to.
type UserStore interface {
	Directory
	PutUser(ctx context.Context, u User) error
	ListUsers(ctx context.Context) ([]User, error)
}
