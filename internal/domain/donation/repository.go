package donation

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// Repository defines donation record persistence operations
type Repository interface {
	Create(ctx context.Context, d *Donation) error
	GetByID(ctx context.Context, id uuid.UUID) (*Donation, error)
	GetByIdempotencyKey(ctx context.Context, idempotencyKey string) (*Donation, error)
	GetByProjectID(ctx context.Context, projectID uuid.UUID, limit, offset int) ([]*Donation, error)
	CountByProjectID(ctx context.Context, projectID uuid.UUID) (int64, error)
	WithTx(tx pgx.Tx) Repository
}

// ErrDonationNotFound indicates missing donation record
type ErrDonationNotFound struct {
	DonationID uuid.UUID
}

func (e ErrDonationNotFound) Error() string {
	return "donation not found: " + e.DonationID.String()
}

// Is implements the errors.Is interface for ErrDonationNotFound
func (e ErrDonationNotFound) Is(target error) bool {
	t, ok := target.(ErrDonationNotFound)
	if !ok {
		return false
	}
	if t.DonationID == uuid.Nil {
		return true
	}
	return e.DonationID == t.DonationID
}
