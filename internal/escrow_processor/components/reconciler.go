package components

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/aidchain-escrow-ledger/internal/domain/project"
	"github.com/aidchain-escrow-ledger/internal/domain/reconciliation"
	"github.com/aidchain-escrow-ledger/internal/domain/settlement"
	"github.com/aidchain-escrow-ledger/internal/domain/shared"
	"github.com/aidchain-escrow-ledger/internal/domain/txlog"
	"github.com/aidchain-escrow-ledger/internal/escrow_processor/service"
	"github.com/aidchain-escrow-ledger/internal/platform/persistence"
)

// ReconcilerImpl resolves operations whose settlement outcome came back
// unknown. Open freezes the project inside the caller's transaction;
// Resolve later queries the adapter and either commits the pending mutation
// exactly once or abandons it.
type ReconcilerImpl struct {
	pgDB             *persistence.PostgresDB
	projectRepo      project.Repository
	reconRepo        reconciliation.Repository
	txlogRepo        txlog.Repository
	adapter          settlement.Adapter
	projectManager   service.ProjectManager
	logAppender      service.LogAppender
	donationRecorder service.DonationRecorder
	outboxManager    service.OutboxManager
	failureRecorder  service.FailureRecorder
	locks            *service.ProjectLocks
	logger           *slog.Logger

	// beginTx is overridable in tests; defaults to the pool
	beginTx func(ctx context.Context) (pgx.Tx, error)
}

func NewReconciler(
	pgDB *persistence.PostgresDB,
	projectRepo project.Repository,
	reconRepo reconciliation.Repository,
	txlogRepo txlog.Repository,
	adapter settlement.Adapter,
	projectManager service.ProjectManager,
	logAppender service.LogAppender,
	donationRecorder service.DonationRecorder,
	outboxManager service.OutboxManager,
	failureRecorder service.FailureRecorder,
	locks *service.ProjectLocks,
	logger *slog.Logger,
) service.Reconciler {
	return &ReconcilerImpl{
		pgDB:             pgDB,
		projectRepo:      projectRepo,
		reconRepo:        reconRepo,
		txlogRepo:        txlogRepo,
		adapter:          adapter,
		projectManager:   projectManager,
		logAppender:      logAppender,
		donationRecorder: donationRecorder,
		outboxManager:    outboxManager,
		failureRecorder:  failureRecorder,
		locks:            locks,
		logger:           logger,
	}
}

// Open freezes the project and records the in-doubt operation in the
// caller's transaction. The project row is already locked by that
// transaction; the snapshot is re-read so only the status change persists,
// never the unconfirmed mutation.
func (r *ReconcilerImpl) Open(ctx context.Context, tx pgx.Tx, request *shared.EscrowRequest) error {
	logger := r.logger
	if request.CorrelationID != "" {
		logger = r.logger.With("correlation_id", request.CorrelationID)
	}

	projectRepoTx := r.projectRepo.WithTx(tx)

	p, err := projectRepoTx.LockForUpdate(ctx, request.ProjectID)
	if err != nil {
		return fmt.Errorf("failed to reload project %s for reconciliation: %w", request.ProjectID.String(), err)
	}

	if err := p.BeginReconciliation(); err != nil {
		return fmt.Errorf("failed to freeze project %s: %w", request.ProjectID.String(), err)
	}
	if err := projectRepoTx.Update(ctx, p); err != nil {
		return fmt.Errorf("failed to persist frozen project %s: %w", request.ProjectID.String(), err)
	}

	record := reconciliation.NewRecord(request)
	if err := r.reconRepo.WithTx(tx).Create(ctx, record); err != nil {
		return fmt.Errorf("failed to create reconciliation record %s: %w", request.IdempotencyKey, err)
	}

	logger.Warn("Reconciliation opened, project frozen",
		"idempotency_key", request.IdempotencyKey,
		"project_id", request.ProjectID.String(),
		"operation", string(request.Operation),
	)
	return nil
}

// Resolve queries the adapter for the true outcome of an in-doubt transfer
// and closes the record accordingly. An outcome that is still unknown
// leaves the record open for the next polling cycle.
func (r *ReconcilerImpl) Resolve(ctx context.Context, record *reconciliation.Record) error {
	logger := r.logger
	if record.CorrelationID != "" {
		logger = r.logger.With("correlation_id", record.CorrelationID)
	}

	status, err := r.adapter.QueryStatus(ctx, record.IdempotencyKey)
	if err != nil {
		logger.Error("Failed to query settlement status", "idempotency_key", record.IdempotencyKey, "error", err)
		return fmt.Errorf("failed to query settlement status for %s: %w", record.IdempotencyKey, err)
	}

	switch status {
	case settlement.StatusConfirmed:
		logger.Info("In-doubt settlement confirmed, committing pending mutation", "idempotency_key", record.IdempotencyKey)
		return r.commitResolved(ctx, record, logger)
	case settlement.StatusFailed:
		logger.Info("In-doubt settlement failed, abandoning pending mutation", "idempotency_key", record.IdempotencyKey)
		return r.abandonResolved(ctx, record, logger)
	default:
		logger.Info("Settlement outcome still unknown, leaving reconciliation open", "idempotency_key", record.IdempotencyKey)
		return nil
	}
}

// commitResolved commits the pending mutation for a transfer the adapter
// confirmed. The dedupe in the transaction log makes this safe against a
// crash between resolution steps.
func (r *ReconcilerImpl) commitResolved(ctx context.Context, record *reconciliation.Record, logger *slog.Logger) (err error) {
	request := record.ToRequest()

	unlock := r.locks.Lock(record.ProjectID)
	defer unlock()

	var tx pgx.Tx
	tx, err = r.begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin DB transaction for reconciliation %s: %w", record.IdempotencyKey, err)
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(ctx); rbErr != nil {
				logger.Error("Failed to rollback reconciliation transaction", "rollback_error", rbErr, "original_error", err)
			}
		}
	}()

	projectRepoTx := r.projectRepo.WithTx(tx)

	var p *project.Project
	p, err = projectRepoTx.LockForUpdate(ctx, record.ProjectID)
	if err != nil {
		return fmt.Errorf("failed to lock project %s for reconciliation: %w", record.ProjectID.String(), err)
	}

	if p.Status == project.StatusReconciling {
		if err = p.ResolveReconciliation(); err != nil {
			return fmt.Errorf("failed to unfreeze project %s: %w", record.ProjectID.String(), err)
		}
	}

	// If a prior resolution attempt already logged the mutation, the staged
	// outbox row tells whether its database transaction committed. With the
	// row present only the record closure is missing; without it the snapshot
	// never caught up and the commit phase is replayed from the logged entry.
	var existing *txlog.Entry
	existing, err = r.txlogRepo.GetByIdempotencyKey(ctx, record.IdempotencyKey)
	if err != nil {
		return fmt.Errorf("failed to check log for reconciliation %s: %w", record.IdempotencyKey, err)
	}
	if existing != nil {
		var staged bool
		staged, err = r.outboxManager.HasEntryForSequence(ctx, existing.Sequence)
		if err != nil {
			return err
		}
		if staged {
			if err = projectRepoTx.Update(ctx, p); err != nil {
				return err
			}
			return r.closeRecord(ctx, tx, record, true, logger)
		}

		logger.Warn("Logged reconciliation outcome never reached the snapshot, replaying commit phase",
			"idempotency_key", record.IdempotencyKey,
			"sequence", existing.Sequence,
		)

		if _, err = r.projectManager.Apply(p, request); err != nil {
			return fmt.Errorf("failed to re-apply reconciled operation %s: %w", record.IdempotencyKey, err)
		}
		if err = r.projectManager.Persist(ctx, tx, p); err != nil {
			return err
		}
		if request.Operation == shared.OperationDonate {
			recovered := &settlement.Settlement{
				SettlementRef: existing.SettlementRef,
				Status:        settlement.StatusConfirmed,
				SettledAt:     existing.Timestamp,
			}
			if err = r.donationRecorder.RecordAccepted(ctx, tx, request, recovered); err != nil {
				return err
			}
		}
		if err = r.outboxManager.CreateOutboxEntry(ctx, tx, existing); err != nil {
			return err
		}
		return r.closeRecord(ctx, tx, record, true, logger)
	}

	var applied *service.AppliedMutation
	applied, err = r.projectManager.Apply(p, request)
	if err != nil {
		return fmt.Errorf("failed to apply reconciled operation %s: %w", record.IdempotencyKey, err)
	}

	stl := &settlement.Settlement{
		Status:    settlement.StatusConfirmed,
		SettledAt: time.Now().UTC(),
	}

	var entry *txlog.Entry
	entry, err = r.logAppender.AppendConfirmed(ctx, request, applied, stl)
	if err != nil {
		return err
	}

	if err = r.projectManager.Persist(ctx, tx, p); err != nil {
		return err
	}

	if request.Operation == shared.OperationDonate {
		if err = r.donationRecorder.RecordAccepted(ctx, tx, request, stl); err != nil {
			return err
		}
	}

	if err = r.outboxManager.CreateOutboxEntry(ctx, tx, entry); err != nil {
		return err
	}

	return r.closeRecord(ctx, tx, record, true, logger)
}

// abandonResolved unfreezes the project without committing anything and
// records the failure for donations.
func (r *ReconcilerImpl) abandonResolved(ctx context.Context, record *reconciliation.Record, logger *slog.Logger) (err error) {
	unlock := r.locks.Lock(record.ProjectID)
	defer unlock()

	var tx pgx.Tx
	tx, err = r.begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin DB transaction for reconciliation %s: %w", record.IdempotencyKey, err)
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(ctx); rbErr != nil {
				logger.Error("Failed to rollback reconciliation transaction", "rollback_error", rbErr, "original_error", err)
			}
		}
	}()

	projectRepoTx := r.projectRepo.WithTx(tx)

	var p *project.Project
	p, err = projectRepoTx.LockForUpdate(ctx, record.ProjectID)
	if err != nil {
		return fmt.Errorf("failed to lock project %s for reconciliation: %w", record.ProjectID.String(), err)
	}

	if p.Status == project.StatusReconciling {
		if err = p.ResolveReconciliation(); err != nil {
			return fmt.Errorf("failed to unfreeze project %s: %w", record.ProjectID.String(), err)
		}
		if err = projectRepoTx.Update(ctx, p); err != nil {
			return err
		}
	}

	if err = r.closeRecord(ctx, tx, record, false, logger); err != nil {
		return err
	}

	if recordErr := r.failureRecorder.RecordFailure(ctx, record.ToRequest(), string(shared.FailureReasonSettlementFailed)); recordErr != nil {
		logger.Error("Failed to record settlement failure after reconciliation", "idempotency_key", record.IdempotencyKey, "error", recordErr)
	}
	return nil
}

func (r *ReconcilerImpl) begin(ctx context.Context) (pgx.Tx, error) {
	if r.beginTx != nil {
		return r.beginTx(ctx)
	}
	return r.pgDB.Pool().Begin(ctx)
}

func (r *ReconcilerImpl) closeRecord(ctx context.Context, tx pgx.Tx, record *reconciliation.Record, settled bool, logger *slog.Logger) error {
	if settled {
		record.MarkSettled()
	} else {
		record.MarkAbandoned()
	}

	if err := r.reconRepo.WithTx(tx).Update(ctx, record); err != nil {
		return fmt.Errorf("failed to close reconciliation record %s: %w", record.IdempotencyKey, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit reconciliation %s: %w", record.IdempotencyKey, err)
	}

	logger.Info("Reconciliation closed",
		"idempotency_key", record.IdempotencyKey,
		"status", string(record.Status),
	)
	return nil
}
