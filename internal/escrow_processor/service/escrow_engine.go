package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"

	"github.com/aidchain-escrow-ledger/internal/domain/project"
	"github.com/aidchain-escrow-ledger/internal/domain/settlement"
	"github.com/aidchain-escrow-ledger/internal/domain/shared"
	"github.com/aidchain-escrow-ledger/internal/domain/txlog"
	"github.com/aidchain-escrow-ledger/internal/platform/persistence"
)

// ErrProjectFrozen is returned when an operation targets a project that is
// waiting on an open reconciliation. The operation is rejected, not queued.
var ErrProjectFrozen = errors.New("project frozen pending reconciliation")

type EscrowEngineImpl struct {
	pgDB               *persistence.PostgresDB
	validator          RequestValidator
	projectManager     ProjectManager
	settlementExecutor SettlementExecutor
	logAppender        LogAppender
	donationRecorder   DonationRecorder
	outboxManager      OutboxManager
	failureRecorder    FailureRecorder
	reconciler         Reconciler
	locks              *ProjectLocks
	logger             *slog.Logger

	// beginTx is overridable in tests; defaults to the pool
	beginTx func(ctx context.Context) (pgx.Tx, error)
}

func NewEscrowEngine(
	pgDB *persistence.PostgresDB,
	validator RequestValidator,
	projectManager ProjectManager,
	settlementExecutor SettlementExecutor,
	logAppender LogAppender,
	donationRecorder DonationRecorder,
	outboxManager OutboxManager,
	failureRecorder FailureRecorder,
	reconciler Reconciler,
	locks *ProjectLocks,
	logger *slog.Logger,
) ProcessingService {
	return &EscrowEngineImpl{
		pgDB:               pgDB,
		validator:          validator,
		projectManager:     projectManager,
		settlementExecutor: settlementExecutor,
		logAppender:        logAppender,
		donationRecorder:   donationRecorder,
		outboxManager:      outboxManager,
		failureRecorder:    failureRecorder,
		reconciler:         reconciler,
		locks:              locks,
		logger:             logger,
	}
}

// ProcessEscrowRequest handles the core logic for one escrow operation:
// validate, settle the external transfer, append to the transaction log,
// and commit the snapshot mutation. Returning nil acknowledges the queue
// message; returning an error lets the consumer retry it.
func (s *EscrowEngineImpl) ProcessEscrowRequest(ctx context.Context, request *shared.EscrowRequest) error {
	logger := s.logger
	if request.CorrelationID != "" {
		logger = s.logger.With("correlation_id", request.CorrelationID)
	}

	logger.Info("Processing escrow request",
		"request_id", request.RequestID.String(),
		"project_id", request.ProjectID.String(),
		"operation", string(request.Operation),
	)

	// 1. Validate the request shape
	if err := s.validator.Validate(ctx, request); err != nil {
		logger.Error("Escrow request validation failed", "request_id", request.RequestID.String(), "error", err)

		var failureReason string
		if errors.Is(err, shared.ErrInvalidOperationType) {
			failureReason = string(shared.FailureReasonUnknownError)
		} else {
			failureReason = string(shared.FailureReasonInvalidAmount)
		}

		if recordErr := s.failureRecorder.RecordFailure(ctx, request, failureReason); recordErr != nil {
			logger.Error("Failed to record escrow failure", "request_id", request.RequestID.String(), "error", recordErr)
		}

		return nil // Acknowledge the message, the request can never succeed
	}

	// 2. Check idempotency against the transaction log and open reconciliations
	existing, owned, err := s.validator.CheckIdempotency(ctx, request)
	if err != nil {
		return err // Let the consumer retry
	}
	if owned {
		return nil // The reconciler owns the outcome
	}
	if existing != nil {
		// The log already records the operation, but a crash between the
		// append and the database commit can leave the snapshot behind it.
		return s.ensureCommitted(ctx, request, existing, logger)
	}

	// 3. Serialize operations per project within this instance
	unlock := s.locks.Lock(request.ProjectID)
	defer unlock()

	// 4. Begin database transaction
	var tx pgx.Tx
	tx, err = s.begin(ctx)
	if err != nil {
		logger.Error("Failed to begin database transaction", "request_id", request.RequestID.String(), "error", err)
		return fmt.Errorf("failed to begin DB transaction for %s: %w", request.RequestID.String(), err)
	}
	defer func() {
		if p := recover(); p != nil {
			logger.Error("Panic recovered, rolling back transaction", "panic", p, "request_id", request.RequestID.String())
			_ = tx.Rollback(ctx)
			panic(p) // Re-panic
		} else if err != nil {
			logger.Error("Error occurred, rolling back transaction", "error", err, "request_id", request.RequestID.String())
			if rbErr := tx.Rollback(ctx); rbErr != nil {
				logger.Error("Failed to rollback transaction after error", "rollback_error", rbErr, "original_error", err, "request_id", request.RequestID.String())
			}
		}
	}()

	// 5. Lock the project row and apply the mutation in memory
	var p *project.Project
	var applied *AppliedMutation
	p, applied, err = s.projectManager.LockAndApply(ctx, tx, request)
	if err != nil {
		if reason, terminal := failureReasonFor(err); terminal {
			logger.Warn("Escrow operation rejected", "request_id", request.RequestID.String(), "reason", string(reason), "error", err)
			if recordErr := s.failureRecorder.RecordFailure(ctx, request, string(reason)); recordErr != nil {
				logger.Error("Failed to record escrow failure", "request_id", request.RequestID.String(), "error", recordErr)
			}
			return nil // Acknowledge; the rejection is final
		}
		return err // Infrastructure error, let the consumer retry
	}

	// 6. Execute the external value transfer
	var stl *settlement.Settlement
	stl, err = s.settlementExecutor.Execute(ctx, request, applied.Transfer)
	if err != nil {
		if errors.Is(err, settlement.ErrSettlementFailed{}) {
			logger.Warn("Settlement failed, no funds moved", "request_id", request.RequestID.String(), "error", err)
			if recordErr := s.failureRecorder.RecordFailure(ctx, request, string(shared.FailureReasonSettlementFailed)); recordErr != nil {
				logger.Error("Failed to record settlement failure", "request_id", request.RequestID.String(), "error", recordErr)
			}
			return nil
		}
		if errors.Is(err, settlement.ErrSettlementUnknown{}) {
			logger.Warn("Settlement outcome unknown, freezing project for reconciliation",
				"request_id", request.RequestID.String(),
				"idempotency_key", request.IdempotencyKey,
			)
			err = s.openReconciliation(ctx, tx, request)
			if err != nil {
				return err
			}
			return nil
		}
		return err
	}

	// 7. Append to the transaction log; this assigns the global sequence.
	// A write failure here is in-doubt: funds moved but history did not
	// record it, so the project freezes instead of risking a second transfer.
	var entry *txlog.Entry
	entry, err = s.logAppender.AppendConfirmed(ctx, request, applied, stl)
	if err != nil {
		logger.Error("Transaction log append failed after confirmed settlement",
			"request_id", request.RequestID.String(),
			"idempotency_key", request.IdempotencyKey,
			"error", err,
		)
		err = s.openReconciliation(ctx, tx, request)
		if err != nil {
			return err
		}
		return nil
	}

	// 8. Persist the snapshot and stage the audit event
	if err = s.projectManager.Persist(ctx, tx, p); err != nil {
		return err
	}

	if request.Operation == shared.OperationDonate {
		if err = s.donationRecorder.RecordAccepted(ctx, tx, request, stl); err != nil {
			return err
		}
	}

	if err = s.outboxManager.CreateOutboxEntry(ctx, tx, entry); err != nil {
		return err
	}

	// 9. Commit
	if err = tx.Commit(ctx); err != nil {
		logger.Error("Failed to commit database transaction",
			"request_id", request.RequestID.String(),
			"project_id", request.ProjectID.String(),
			"error", err,
		)
		return fmt.Errorf("failed to commit DB transaction for request %s: %w", request.RequestID.String(), err)
	}

	logger.Info("Escrow operation committed",
		"request_id", request.RequestID.String(),
		"project_id", request.ProjectID.String(),
		"operation", string(request.Operation),
		"sequence", entry.Sequence,
	)
	return nil
}

// ensureCommitted finishes the snapshot side of an operation the log
// already records. The outbox row is written in the same database
// transaction as the snapshot mutation, the donation row, and the staged
// audit event, so a confirmed entry without one means the commit never
// landed: the mutation is re-applied and committed without touching the
// settlement again. Failure entries carry no mutation and are acked as-is.
func (s *EscrowEngineImpl) ensureCommitted(ctx context.Context, request *shared.EscrowRequest, entry *txlog.Entry, logger *slog.Logger) (err error) {
	if entry.Failed() {
		return nil // Terminal rejection, nothing to commit
	}

	staged, err := s.outboxManager.HasEntryForSequence(ctx, entry.Sequence)
	if err != nil {
		return err // Let the consumer retry
	}
	if staged {
		return nil // Snapshot committed on a prior delivery
	}

	logger.Warn("Log entry has no committed snapshot, repeating the commit phase",
		"idempotency_key", request.IdempotencyKey,
		"sequence", entry.Sequence,
	)

	unlock := s.locks.Lock(request.ProjectID)
	defer unlock()

	var tx pgx.Tx
	tx, err = s.begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin DB transaction for %s: %w", request.RequestID.String(), err)
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(ctx); rbErr != nil {
				logger.Error("Failed to rollback repair transaction", "rollback_error", rbErr, "original_error", err, "sequence", entry.Sequence)
			}
		}
	}()

	var p *project.Project
	p, _, err = s.projectManager.LockAndApply(ctx, tx, request)
	if err != nil {
		if _, terminal := failureReasonFor(err); terminal {
			// Another replica repaired the snapshot between the outbox
			// check and the row lock; the mutation cannot apply twice.
			logger.Warn("Snapshot no longer accepts the logged mutation, assuming it caught up",
				"idempotency_key", request.IdempotencyKey,
				"sequence", entry.Sequence,
				"error", err,
			)
			if rbErr := tx.Rollback(ctx); rbErr != nil {
				logger.Error("Failed to rollback repair transaction", "rollback_error", rbErr, "sequence", entry.Sequence)
			}
			return nil
		}
		return err
	}

	if err = s.projectManager.Persist(ctx, tx, p); err != nil {
		return err
	}

	if request.Operation == shared.OperationDonate {
		stl := &settlement.Settlement{
			SettlementRef: entry.SettlementRef,
			Status:        settlement.StatusConfirmed,
			SettledAt:     entry.Timestamp,
		}
		if err = s.donationRecorder.RecordAccepted(ctx, tx, request, stl); err != nil {
			return err
		}
	}

	if err = s.outboxManager.CreateOutboxEntry(ctx, tx, entry); err != nil {
		return err
	}

	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit snapshot repair for request %s: %w", request.RequestID.String(), err)
	}

	logger.Info("Snapshot caught up with the transaction log",
		"idempotency_key", request.IdempotencyKey,
		"sequence", entry.Sequence,
	)
	return nil
}

func (s *EscrowEngineImpl) begin(ctx context.Context) (pgx.Tx, error) {
	if s.beginTx != nil {
		return s.beginTx(ctx)
	}
	return s.pgDB.Pool().Begin(ctx)
}

// openReconciliation freezes the project and records the in-doubt operation,
// committing both in the transaction the caller opened.
func (s *EscrowEngineImpl) openReconciliation(ctx context.Context, tx pgx.Tx, request *shared.EscrowRequest) error {
	if err := s.reconciler.Open(ctx, tx, request); err != nil {
		return fmt.Errorf("failed to open reconciliation for %s: %w", request.IdempotencyKey, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit reconciliation for %s: %w", request.IdempotencyKey, err)
	}
	return nil
}

// failureReasonFor maps domain rejections to recorded failure reasons. The
// second return is false for errors that should be retried instead.
func failureReasonFor(err error) (shared.FailureReason, bool) {
	switch {
	case errors.Is(err, project.ErrProjectNotFound{}):
		return shared.FailureReasonProjectNotFound, true
	case errors.Is(err, project.ErrMilestoneNotFound{}):
		return shared.FailureReasonMilestoneNotFound, true
	case errors.Is(err, project.ErrInvalidAmount):
		return shared.FailureReasonInvalidAmount, true
	case errors.Is(err, project.ErrInvalidTransition):
		return shared.FailureReasonInvalidTransition, true
	case errors.Is(err, project.ErrInsufficientFunds):
		return shared.FailureReasonInsufficientFunds, true
	case errors.Is(err, ErrProjectFrozen):
		return shared.FailureReasonReconciliationOpen, true
	case errors.Is(err, project.ErrInvalidState):
		return shared.FailureReasonInvalidState, true
	default:
		return "", false
	}
}
