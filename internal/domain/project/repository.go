package project

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// Repository defines project ledger persistence operations. The stored rows
// are snapshots of the fold over the transaction log; they can always be
// rebuilt by replay and are never the sole source of truth.
type Repository interface {
	Create(ctx context.Context, p *Project) error
	GetByID(ctx context.Context, id uuid.UUID) (*Project, error)
	Update(ctx context.Context, p *Project) error
	List(ctx context.Context, limit, offset int) ([]*Project, error)
	Count(ctx context.Context) (int64, error)

	// LockForUpdate acquires a pessimistic lock for escrow processing
	LockForUpdate(ctx context.Context, id uuid.UUID) (*Project, error)
	WithTx(tx pgx.Tx) Repository
}

// ErrProjectNotFound indicates missing project
type ErrProjectNotFound struct {
	ProjectID uuid.UUID
}

func (e ErrProjectNotFound) Error() string {
	return "project not found: " + e.ProjectID.String()
}

// Is implements the errors.Is interface for ErrProjectNotFound
func (e ErrProjectNotFound) Is(target error) bool {
	t, ok := target.(ErrProjectNotFound)
	if !ok {
		return false
	}
	if t.ProjectID == uuid.Nil {
		return true
	}
	return e.ProjectID == t.ProjectID
}

// ErrMilestoneNotFound indicates an unknown milestone ID within a project
type ErrMilestoneNotFound struct {
	MilestoneID uuid.UUID
}

func (e ErrMilestoneNotFound) Error() string {
	return "milestone not found: " + e.MilestoneID.String()
}

// Is implements the errors.Is interface for ErrMilestoneNotFound
func (e ErrMilestoneNotFound) Is(target error) bool {
	t, ok := target.(ErrMilestoneNotFound)
	if !ok {
		return false
	}
	if t.MilestoneID == uuid.Nil {
		return true
	}
	return e.MilestoneID == t.MilestoneID
}

// ErrConcurrentModification indicates optimistic lock failure
type ErrConcurrentModification struct {
	ProjectID uuid.UUID
}

func (e ErrConcurrentModification) Error() string {
	return "concurrent modification detected for project: " + e.ProjectID.String()
}
