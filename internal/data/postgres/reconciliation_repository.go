package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/aidchain-escrow-ledger/internal/domain/reconciliation"
	"github.com/aidchain-escrow-ledger/internal/platform/persistence"
)

// ReconciliationRepository implements the reconciliation.Repository
// interface for PostgreSQL
type ReconciliationRepository struct {
	querier persistence.Querier
	logger  *slog.Logger
}

// NewReconciliationRepository creates a new PostgreSQL reconciliation repository
func NewReconciliationRepository(logger *slog.Logger, db *persistence.PostgresDB) reconciliation.Repository {
	return &ReconciliationRepository{
		querier: db.Pool(),
		logger:  logger,
	}
}

// WithTx wraps the repository with a transaction for atomic operations
func (r *ReconciliationRepository) WithTx(tx pgx.Tx) reconciliation.Repository {
	return &ReconciliationRepository{
		querier: tx,
		logger:  r.logger,
	}
}

// Create stores a new open reconciliation record
func (r *ReconciliationRepository) Create(ctx context.Context, record *reconciliation.Record) error {
	query := `
		INSERT INTO reconciliations (idempotency_key, project_id, operation, milestone_id, donor_ref, amount, correlation_id, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	_, err := r.querier.Exec(ctx, query,
		record.IdempotencyKey,
		record.ProjectID,
		record.Operation,
		record.MilestoneID,
		record.DonorRef,
		record.Amount,
		record.CorrelationID,
		record.Status,
		record.CreatedAt,
	)
	if err != nil {
		r.logger.Error("Failed to create reconciliation record",
			"idempotency_key", record.IdempotencyKey,
			"error", err,
		)
		return fmt.Errorf("failed to create reconciliation record: %w", err)
	}

	return nil
}

// GetByIdempotencyKey retrieves a reconciliation record by its key
func (r *ReconciliationRepository) GetByIdempotencyKey(ctx context.Context, idempotencyKey string) (*reconciliation.Record, error) {
	query := `
		SELECT idempotency_key, project_id, operation, milestone_id, donor_ref, amount, correlation_id, status, created_at, resolved_at
		FROM reconciliations
		WHERE idempotency_key = $1
	`

	var record reconciliation.Record
	err := r.querier.QueryRow(ctx, query, idempotencyKey).Scan(
		&record.IdempotencyKey,
		&record.ProjectID,
		&record.Operation,
		&record.MilestoneID,
		&record.DonorRef,
		&record.Amount,
		&record.CorrelationID,
		&record.Status,
		&record.CreatedAt,
		&record.ResolvedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, reconciliation.ErrRecordNotFound{IdempotencyKey: idempotencyKey}
		}
		r.logger.Error("Failed to get reconciliation record",
			"idempotency_key", idempotencyKey,
			"error", err,
		)
		return nil, fmt.Errorf("failed to get reconciliation record: %w", err)
	}

	return &record, nil
}

// GetOpen retrieves a batch of open reconciliation records across all
// projects, oldest first. The reconciler polls this to resolve in-doubt
// settlements.
func (r *ReconciliationRepository) GetOpen(ctx context.Context, limit int) ([]*reconciliation.Record, error) {
	query := `
		SELECT idempotency_key, project_id, operation, milestone_id, donor_ref, amount, correlation_id, status, created_at, resolved_at
		FROM reconciliations
		WHERE status = $1
		ORDER BY created_at ASC
		LIMIT $2
	`

	rows, err := r.querier.Query(ctx, query, reconciliation.StatusOpen, limit)
	if err != nil {
		r.logger.Error("Failed to get open reconciliations", "error", err)
		return nil, fmt.Errorf("failed to get open reconciliations: %w", err)
	}
	defer rows.Close()

	return scanReconciliationRows(rows)
}

// GetOpenByProjectID retrieves the open reconciliation records for a
// project, oldest first.
func (r *ReconciliationRepository) GetOpenByProjectID(ctx context.Context, projectID uuid.UUID) ([]*reconciliation.Record, error) {
	query := `
		SELECT idempotency_key, project_id, operation, milestone_id, donor_ref, amount, correlation_id, status, created_at, resolved_at
		FROM reconciliations
		WHERE project_id = $1 AND status = $2
		ORDER BY created_at ASC
	`

	rows, err := r.querier.Query(ctx, query, projectID, reconciliation.StatusOpen)
	if err != nil {
		r.logger.Error("Failed to get open reconciliations", "project_id", projectID.String(), "error", err)
		return nil, fmt.Errorf("failed to get open reconciliations: %w", err)
	}
	defer rows.Close()

	return scanReconciliationRows(rows)
}

func scanReconciliationRows(rows pgx.Rows) ([]*reconciliation.Record, error) {
	var records []*reconciliation.Record
	for rows.Next() {
		var record reconciliation.Record
		err := rows.Scan(
			&record.IdempotencyKey,
			&record.ProjectID,
			&record.Operation,
			&record.MilestoneID,
			&record.DonorRef,
			&record.Amount,
			&record.CorrelationID,
			&record.Status,
			&record.CreatedAt,
			&record.ResolvedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan reconciliation record: %w", err)
		}
		records = append(records, &record)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating over reconciliation records: %w", err)
	}

	return records, nil
}

// Update persists a resolved reconciliation record
func (r *ReconciliationRepository) Update(ctx context.Context, record *reconciliation.Record) error {
	query := `
		UPDATE reconciliations
		SET status = $1, resolved_at = $2
		WHERE idempotency_key = $3
	`

	result, err := r.querier.Exec(ctx, query,
		record.Status,
		record.ResolvedAt,
		record.IdempotencyKey,
	)
	if err != nil {
		r.logger.Error("Failed to update reconciliation record",
			"idempotency_key", record.IdempotencyKey,
			"error", err,
		)
		return fmt.Errorf("failed to update reconciliation record: %w", err)
	}

	if result.RowsAffected() == 0 {
		return reconciliation.ErrRecordNotFound{IdempotencyKey: record.IdempotencyKey}
	}

	return nil
}
