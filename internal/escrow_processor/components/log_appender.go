package components

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/aidchain-escrow-ledger/internal/domain/settlement"
	"github.com/aidchain-escrow-ledger/internal/domain/shared"
	"github.com/aidchain-escrow-ledger/internal/domain/txlog"
	"github.com/aidchain-escrow-ledger/internal/escrow_processor/service"
)

// LogAppenderImpl implements the LogAppender interface
type LogAppenderImpl struct {
	txlogRepo txlog.Repository
	logger    *slog.Logger
}

func NewLogAppender(txlogRepo txlog.Repository, logger *slog.Logger) service.LogAppender {
	return &LogAppenderImpl{
		txlogRepo: txlogRepo,
		logger:    logger,
	}
}

// AppendConfirmed writes a confirmed operation to the transaction log and
// returns the entry with its assigned sequence. A duplicate key means a
// prior attempt already recorded the operation; the existing entry is
// returned so the caller can finish committing against it.
func (a *LogAppenderImpl) AppendConfirmed(ctx context.Context, request *shared.EscrowRequest, applied *service.AppliedMutation, stl *settlement.Settlement) (*txlog.Entry, error) {
	logger := a.logger
	if request.CorrelationID != "" {
		logger = a.logger.With("correlation_id", request.CorrelationID)
	}

	entry := &txlog.Entry{
		Kind:           applied.Kind,
		ProjectID:      request.ProjectID,
		MilestoneID:    applied.MilestoneID,
		DonorRef:       request.DonorRef,
		Amount:         applied.Amount,
		SettlementRef:  stl.SettlementRef,
		IdempotencyKey: request.IdempotencyKey,
		CorrelationID:  request.CorrelationID,
		Timestamp:      time.Now().UTC(),
	}

	err := a.txlogRepo.Append(ctx, entry)
	if err != nil {
		if errors.Is(err, txlog.ErrDuplicateEntry{}) {
			logger.Info("Log entry already exists for idempotency key, reusing",
				"idempotency_key", request.IdempotencyKey,
			)
			existing, getErr := a.txlogRepo.GetByIdempotencyKey(ctx, request.IdempotencyKey)
			if getErr != nil {
				return nil, getErr
			}
			if existing != nil {
				return existing, nil
			}
		}
		logger.Error("Failed to append transaction log entry",
			"idempotency_key", request.IdempotencyKey,
			"kind", string(applied.Kind),
			"error", err,
		)
		return nil, settlement.ErrLogWrite{IdempotencyKey: request.IdempotencyKey}
	}

	logger.Info("Transaction log entry appended",
		"sequence", entry.Sequence,
		"kind", string(entry.Kind),
		"idempotency_key", request.IdempotencyKey,
	)
	return entry, nil
}
