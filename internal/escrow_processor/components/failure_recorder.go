package components

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/aidchain-escrow-ledger/internal/domain/shared"
	"github.com/aidchain-escrow-ledger/internal/domain/txlog"
	"github.com/aidchain-escrow-ledger/internal/escrow_processor/service"
)

type FailureRecorderImpl struct {
	txlogRepo txlog.Repository
	logger    *slog.Logger
}

func NewFailureRecorder(txlogRepo txlog.Repository, logger *slog.Logger) service.FailureRecorder {
	return &FailureRecorderImpl{
		txlogRepo: txlogRepo,
		logger:    logger,
	}
}

// RecordFailure records a rejected or failed operation in the transaction
// log. Failure entries carry no state change; they are what lets a status
// lookup answer "failed, retry with a fresh request" instead of reporting
// the operation as pending forever.
func (r *FailureRecorderImpl) RecordFailure(ctx context.Context, request *shared.EscrowRequest, failureReason string) error {
	logger := r.logger
	if request.CorrelationID != "" {
		logger = r.logger.With("correlation_id", request.CorrelationID)
	}

	logger.Info("Recording failed escrow operation",
		"request_id", request.RequestID.String(),
		"operation", string(request.Operation),
		"reason", failureReason,
	)

	entry := &txlog.Entry{
		Kind:           failureKindFor(request.Operation),
		ProjectID:      request.ProjectID,
		MilestoneID:    request.MilestoneID,
		DonorRef:       request.DonorRef,
		Amount:         request.Amount,
		IdempotencyKey: request.IdempotencyKey,
		CorrelationID:  request.CorrelationID,
		FailureReason:  failureReason,
		Timestamp:      time.Now().UTC(),
	}

	if err := r.txlogRepo.Append(ctx, entry); err != nil {
		if errors.Is(err, txlog.ErrDuplicateEntry{}) {
			logger.Info("Failure already recorded", "idempotency_key", request.IdempotencyKey)
			return nil
		}
		logger.Error("Failed to record escrow failure", "request_id", request.RequestID.String(), "error", err)
		return err
	}

	logger.Info("Escrow failure recorded", "sequence", entry.Sequence, "idempotency_key", request.IdempotencyKey)
	return nil
}

func failureKindFor(op shared.OperationType) txlog.Kind {
	switch op {
	case shared.OperationRelease:
		return txlog.KindReleaseFailed
	case shared.OperationCancel:
		return txlog.KindRefundFailed
	default:
		return txlog.KindDonationFailed
	}
}
