package txlog

import (
	"context"

	"github.com/google/uuid"
)

// Cursor iterates log entries in sequence order. Implementations are lazy
// and restartable so a replay over a long history does not load everything
// at once.
type Cursor interface {
	Next(ctx context.Context) (*Entry, error) // Returns nil when exhausted
	Close(ctx context.Context) error
}

// Repository manages the append-only transaction log. Append assigns the
// next global sequence number; a write failure must surface to the caller
// as in-doubt, never silently.
type Repository interface {
	Append(ctx context.Context, entry *Entry) error
	GetBySequence(ctx context.Context, sequence int64) (*Entry, error)
	GetByIdempotencyKey(ctx context.Context, idempotencyKey string) (*Entry, error)
	GetByProjectID(ctx context.Context, projectID uuid.UUID, limit, offset int) ([]*Entry, error)
	CountByProjectID(ctx context.Context, projectID uuid.UUID) (int64, error)
	Replay(ctx context.Context, projectID uuid.UUID) (Cursor, error)
}

// ErrEntryNotFound indicates a missing log entry
type ErrEntryNotFound struct {
	Sequence int64
}

func (e ErrEntryNotFound) Error() string {
	return "transaction log entry not found"
}

// Is implements the errors.Is interface for ErrEntryNotFound
func (e ErrEntryNotFound) Is(target error) bool {
	t, ok := target.(ErrEntryNotFound)
	if !ok {
		return false
	}
	if t.Sequence == 0 {
		return true
	}
	return e.Sequence == t.Sequence
}

// ErrDuplicateEntry indicates an entry already exists for an idempotency key
type ErrDuplicateEntry struct {
	IdempotencyKey string
}

func (e ErrDuplicateEntry) Error() string {
	return "duplicate transaction log entry: " + e.IdempotencyKey
}

// Is implements the errors.Is interface for ErrDuplicateEntry
func (e ErrDuplicateEntry) Is(target error) bool {
	t, ok := target.(ErrDuplicateEntry)
	if !ok {
		return false
	}
	if t.IdempotencyKey == "" {
		return true
	}
	return e.IdempotencyKey == t.IdempotencyKey
}
