package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/aidchain-escrow-ledger/internal/domain/donation"
	"github.com/aidchain-escrow-ledger/internal/platform/persistence"
)

// DonationRepository implements the donation.Repository interface for PostgreSQL
type DonationRepository struct {
	querier persistence.Querier
	logger  *slog.Logger
}

// NewDonationRepository creates a new PostgreSQL donation repository
func NewDonationRepository(logger *slog.Logger, db *persistence.PostgresDB) donation.Repository {
	return &DonationRepository{
		querier: db.Pool(),
		logger:  logger,
	}
}

// WithTx wraps the repository with a transaction for atomic operations
func (r *DonationRepository) WithTx(tx pgx.Tx) donation.Repository {
	return &DonationRepository{
		querier: tx,
		logger:  r.logger,
	}
}

// Create stores a confirmed donation record
func (r *DonationRepository) Create(ctx context.Context, d *donation.Donation) error {
	query := `
		INSERT INTO donations (id, project_id, donor_ref, amount, settlement_ref, idempotency_key, accepted_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	_, err := r.querier.Exec(ctx, query,
		d.ID,
		d.ProjectID,
		d.DonorRef,
		d.Amount,
		d.SettlementRef,
		d.IdempotencyKey,
		d.AcceptedAt,
	)
	if err != nil {
		r.logger.Error("Failed to create donation", "error", err)
		return fmt.Errorf("failed to create donation: %w", err)
	}

	return nil
}

// GetByID retrieves a donation by its ID
func (r *DonationRepository) GetByID(ctx context.Context, id uuid.UUID) (*donation.Donation, error) {
	query := `
		SELECT id, project_id, donor_ref, amount, settlement_ref, idempotency_key, accepted_at
		FROM donations
		WHERE id = $1
	`

	var d donation.Donation
	err := r.querier.QueryRow(ctx, query, id).Scan(
		&d.ID,
		&d.ProjectID,
		&d.DonorRef,
		&d.Amount,
		&d.SettlementRef,
		&d.IdempotencyKey,
		&d.AcceptedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, donation.ErrDonationNotFound{DonationID: id}
		}
		r.logger.Error("Failed to get donation", "id", id.String(), "error", err)
		return nil, fmt.Errorf("failed to get donation: %w", err)
	}

	return &d, nil
}

// GetByIdempotencyKey retrieves a donation by its idempotency key.
// Returns nil, nil when no donation exists for the key.
func (r *DonationRepository) GetByIdempotencyKey(ctx context.Context, idempotencyKey string) (*donation.Donation, error) {
	query := `
		SELECT id, project_id, donor_ref, amount, settlement_ref, idempotency_key, accepted_at
		FROM donations
		WHERE idempotency_key = $1
	`

	var d donation.Donation
	err := r.querier.QueryRow(ctx, query, idempotencyKey).Scan(
		&d.ID,
		&d.ProjectID,
		&d.DonorRef,
		&d.Amount,
		&d.SettlementRef,
		&d.IdempotencyKey,
		&d.AcceptedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		r.logger.Error("Failed to get donation by idempotency key", "idempotency_key", idempotencyKey, "error", err)
		return nil, fmt.Errorf("failed to get donation by idempotency key: %w", err)
	}

	return &d, nil
}

// GetByProjectID retrieves paginated donations for a project, newest first
func (r *DonationRepository) GetByProjectID(ctx context.Context, projectID uuid.UUID, limit, offset int) ([]*donation.Donation, error) {
	query := `
		SELECT id, project_id, donor_ref, amount, settlement_ref, idempotency_key, accepted_at
		FROM donations
		WHERE project_id = $1
		ORDER BY accepted_at DESC
		LIMIT $2 OFFSET $3
	`

	rows, err := r.querier.Query(ctx, query, projectID, limit, offset)
	if err != nil {
		r.logger.Error("Failed to get donations", "project_id", projectID.String(), "error", err)
		return nil, fmt.Errorf("failed to get donations: %w", err)
	}
	defer rows.Close()

	var donations []*donation.Donation
	for rows.Next() {
		var d donation.Donation
		err := rows.Scan(
			&d.ID,
			&d.ProjectID,
			&d.DonorRef,
			&d.Amount,
			&d.SettlementRef,
			&d.IdempotencyKey,
			&d.AcceptedAt,
		)
		if err != nil {
			r.logger.Error("Failed to scan donation", "error", err)
			return nil, fmt.Errorf("failed to scan donation: %w", err)
		}
		donations = append(donations, &d)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating over donations: %w", err)
	}

	return donations, nil
}

// CountByProjectID counts donations for a project
func (r *DonationRepository) CountByProjectID(ctx context.Context, projectID uuid.UUID) (int64, error) {
	var count int64
	err := r.querier.QueryRow(ctx, `SELECT COUNT(*) FROM donations WHERE project_id = $1`, projectID).Scan(&count)
	if err != nil {
		r.logger.Error("Failed to count donations", "project_id", projectID.String(), "error", err)
		return 0, fmt.Errorf("failed to count donations: %w", err)
	}
	return count, nil
}
