package components

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/aidchain-escrow-ledger/internal/domain/reconciliation"
	"github.com/aidchain-escrow-ledger/internal/domain/shared"
	"github.com/aidchain-escrow-ledger/internal/domain/txlog"
	"github.com/aidchain-escrow-ledger/internal/escrow_processor/service"
)

type RequestValidatorImpl struct {
	txlogRepo txlog.Repository
	reconRepo reconciliation.Repository
	logger    *slog.Logger
}

func NewRequestValidator(txlogRepo txlog.Repository, reconRepo reconciliation.Repository, logger *slog.Logger) service.RequestValidator {
	return &RequestValidatorImpl{
		txlogRepo: txlogRepo,
		reconRepo: reconRepo,
		logger:    logger,
	}
}

// Validate checks escrow request shape validity
func (v *RequestValidatorImpl) Validate(ctx context.Context, request *shared.EscrowRequest) error {
	logger := v.logger
	if request.CorrelationID != "" {
		logger = v.logger.With("correlation_id", request.CorrelationID)
	}

	if err := request.Validate(); err != nil {
		logger.Error("Malformed escrow request", "request_id", request.RequestID.String(), "error", err)
		return err
	}

	if request.Operation == shared.OperationDonate && request.Amount <= 0 {
		logger.Error("Invalid donation amount", "request_id", request.RequestID.String(), "amount", request.Amount)
		return fmt.Errorf("amount must be positive: %d", request.Amount)
	}

	return nil
}

// CheckIdempotency checks whether the operation already reached a terminal
// state. An existing transaction log entry is returned to the caller, which
// must verify its snapshot mutation actually committed before acking; a
// reconciliation record means the reconciler owns the outcome and the
// consumer must not execute the transfer again.
func (v *RequestValidatorImpl) CheckIdempotency(ctx context.Context, request *shared.EscrowRequest) (*txlog.Entry, bool, error) {
	logger := v.logger
	if request.CorrelationID != "" {
		logger = v.logger.With("correlation_id", request.CorrelationID)
	}

	existingEntry, err := v.txlogRepo.GetByIdempotencyKey(ctx, request.IdempotencyKey)
	if err != nil {
		logger.Error("Failed to check transaction log for idempotency", "idempotency_key", request.IdempotencyKey, "error", err)
		return nil, false, fmt.Errorf("idempotency check failed for %s: %w", request.IdempotencyKey, err)
	}
	if existingEntry != nil {
		logger.Info("Operation already recorded (idempotency)",
			"idempotency_key", request.IdempotencyKey,
			"kind", string(existingEntry.Kind),
			"sequence", existingEntry.Sequence,
		)
		return existingEntry, false, nil
	}

	record, err := v.reconRepo.GetByIdempotencyKey(ctx, request.IdempotencyKey)
	if err != nil && !errors.Is(err, reconciliation.ErrRecordNotFound{}) {
		logger.Error("Failed to check reconciliations for idempotency", "idempotency_key", request.IdempotencyKey, "error", err)
		return nil, false, fmt.Errorf("reconciliation check failed for %s: %w", request.IdempotencyKey, err)
	}
	if record != nil {
		logger.Info("Operation has a reconciliation record, skipping",
			"idempotency_key", request.IdempotencyKey,
			"status", string(record.Status),
		)
		return nil, true, nil // The reconciler owns this operation
	}

	return nil, false, nil // Continue processing
}
