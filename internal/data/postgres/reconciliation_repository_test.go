package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aidchain-escrow-ledger/internal/domain/reconciliation"
	"github.com/aidchain-escrow-ledger/internal/domain/shared"
)

const reconciliationColumns = `idempotency_key, project_id, operation, milestone_id, donor_ref, amount, correlation_id, status, created_at, resolved_at`

func newTestRecord() *reconciliation.Record {
	projectID := uuid.New()
	return reconciliation.NewRecord(&shared.EscrowRequest{
		RequestID:      uuid.New(),
		ProjectID:      projectID,
		Operation:      shared.OperationDonate,
		DonorRef:       "0.0.1134",
		Amount:         2500000,
		IdempotencyKey: shared.DeriveIdempotencyKey(projectID, shared.OperationDonate, "req-7781"),
		CorrelationID:  uuid.New().String(),
		Timestamp:      time.Now(),
	})
}

func TestReconciliationRepository_Create(t *testing.T) {
	ctx := context.Background()
	logger := newTestLogger()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := &ReconciliationRepository{querier: mock, logger: logger}
	record := newTestRecord()

	query := `
		INSERT INTO reconciliations \(idempotency_key, project_id, operation, milestone_id, donor_ref, amount, correlation_id, status, created_at\)
		VALUES \(\$1, \$2, \$3, \$4, \$5, \$6, \$7, \$8, \$9\)
	`

	t.Run("success", func(t *testing.T) {
		mock.ExpectExec(query).
			WithArgs(record.IdempotencyKey, record.ProjectID, record.Operation, record.MilestoneID, record.DonorRef, record.Amount, record.CorrelationID, record.Status, record.CreatedAt).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))

		err := repo.Create(ctx, record)
		assert.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("failure", func(t *testing.T) {
		expectedErr := errors.New("db error")
		mock.ExpectExec(query).
			WithArgs(record.IdempotencyKey, record.ProjectID, record.Operation, record.MilestoneID, record.DonorRef, record.Amount, record.CorrelationID, record.Status, record.CreatedAt).
			WillReturnError(expectedErr)

		err := repo.Create(ctx, record)
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "failed to create reconciliation record")
		assert.ErrorIs(t, err, expectedErr)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestReconciliationRepository_GetByIdempotencyKey(t *testing.T) {
	ctx := context.Background()
	logger := newTestLogger()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := &ReconciliationRepository{querier: mock, logger: logger}
	record := newTestRecord()

	query := `
		SELECT ` + reconciliationColumns + `
		FROM reconciliations
		WHERE idempotency_key = \$1
	`

	t.Run("found", func(t *testing.T) {
		rows := pgxmock.NewRows([]string{"idempotency_key", "project_id", "operation", "milestone_id", "donor_ref", "amount", "correlation_id", "status", "created_at", "resolved_at"}).
			AddRow(record.IdempotencyKey, record.ProjectID, record.Operation, record.MilestoneID, record.DonorRef, record.Amount, record.CorrelationID, record.Status, record.CreatedAt, record.ResolvedAt)
		mock.ExpectQuery(query).WithArgs(record.IdempotencyKey).WillReturnRows(rows)

		got, err := repo.GetByIdempotencyKey(ctx, record.IdempotencyKey)
		require.NoError(t, err)
		assert.Equal(t, record.IdempotencyKey, got.IdempotencyKey)
		assert.Equal(t, reconciliation.StatusOpen, got.Status)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("not found", func(t *testing.T) {
		mock.ExpectQuery(query).WithArgs("missing-key").WillReturnRows(pgxmock.NewRows([]string{"idempotency_key"}))

		_, err := repo.GetByIdempotencyKey(ctx, "missing-key")
		assert.ErrorIs(t, err, reconciliation.ErrRecordNotFound{IdempotencyKey: "missing-key"})
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestReconciliationRepository_GetOpen(t *testing.T) {
	ctx := context.Background()
	logger := newTestLogger()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := &ReconciliationRepository{querier: mock, logger: logger}
	record := newTestRecord()

	query := `
		SELECT ` + reconciliationColumns + `
		FROM reconciliations
		WHERE status = \$1
		ORDER BY created_at ASC
		LIMIT \$2
	`

	t.Run("returns batch oldest first", func(t *testing.T) {
		rows := pgxmock.NewRows([]string{"idempotency_key", "project_id", "operation", "milestone_id", "donor_ref", "amount", "correlation_id", "status", "created_at", "resolved_at"}).
			AddRow(record.IdempotencyKey, record.ProjectID, record.Operation, record.MilestoneID, record.DonorRef, record.Amount, record.CorrelationID, record.Status, record.CreatedAt, record.ResolvedAt)
		mock.ExpectQuery(query).WithArgs(reconciliation.StatusOpen, 20).WillReturnRows(rows)

		records, err := repo.GetOpen(ctx, 20)
		require.NoError(t, err)
		require.Len(t, records, 1)
		assert.Equal(t, record.IdempotencyKey, records[0].IdempotencyKey)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("empty batch", func(t *testing.T) {
		mock.ExpectQuery(query).WithArgs(reconciliation.StatusOpen, 20).
			WillReturnRows(pgxmock.NewRows([]string{"idempotency_key", "project_id", "operation", "milestone_id", "donor_ref", "amount", "correlation_id", "status", "created_at", "resolved_at"}))

		records, err := repo.GetOpen(ctx, 20)
		require.NoError(t, err)
		assert.Empty(t, records)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestReconciliationRepository_Update(t *testing.T) {
	ctx := context.Background()
	logger := newTestLogger()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := &ReconciliationRepository{querier: mock, logger: logger}
	record := newTestRecord()
	record.MarkSettled()

	query := `
		UPDATE reconciliations
		SET status = \$1, resolved_at = \$2
		WHERE idempotency_key = \$3
	`

	t.Run("success", func(t *testing.T) {
		mock.ExpectExec(query).
			WithArgs(record.Status, record.ResolvedAt, record.IdempotencyKey).
			WillReturnResult(pgxmock.NewResult("UPDATE", 1))

		err := repo.Update(ctx, record)
		assert.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("missing record", func(t *testing.T) {
		mock.ExpectExec(query).
			WithArgs(record.Status, record.ResolvedAt, record.IdempotencyKey).
			WillReturnResult(pgxmock.NewResult("UPDATE", 0))

		err := repo.Update(ctx, record)
		assert.ErrorIs(t, err, reconciliation.ErrRecordNotFound{IdempotencyKey: record.IdempotencyKey})
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}
