package reconciliation

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// Repository manages reconciliation record persistence
type Repository interface {
	Create(ctx context.Context, record *Record) error
	GetByIdempotencyKey(ctx context.Context, idempotencyKey string) (*Record, error)
	GetOpen(ctx context.Context, limit int) ([]*Record, error)
	GetOpenByProjectID(ctx context.Context, projectID uuid.UUID) ([]*Record, error)
	Update(ctx context.Context, record *Record) error
	WithTx(tx pgx.Tx) Repository
}

// ErrRecordNotFound indicates a missing reconciliation record
type ErrRecordNotFound struct {
	IdempotencyKey string
}

func (e ErrRecordNotFound) Error() string {
	return "reconciliation record not found: " + e.IdempotencyKey
}

// Is implements the errors.Is interface for ErrRecordNotFound
func (e ErrRecordNotFound) Is(target error) bool {
	t, ok := target.(ErrRecordNotFound)
	if !ok {
		return false
	}
	if t.IdempotencyKey == "" {
		return true
	}
	return e.IdempotencyKey == t.IdempotencyKey
}
