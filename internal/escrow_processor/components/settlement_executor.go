package components

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/aidchain-escrow-ledger/internal/domain/settlement"
	"github.com/aidchain-escrow-ledger/internal/domain/shared"
	"github.com/aidchain-escrow-ledger/internal/escrow_processor/service"
)

// SettlementExecutorImpl implements the SettlementExecutor interface
type SettlementExecutorImpl struct {
	adapter settlement.Adapter
	timeout time.Duration
	logger  *slog.Logger
}

// NewSettlementExecutor creates a new SettlementExecutorImpl. The timeout
// bounds each Transfer call; an expired call is reported as unknown, not
// failed, because the transfer may still land.
func NewSettlementExecutor(adapter settlement.Adapter, timeout time.Duration, logger *slog.Logger) service.SettlementExecutor {
	return &SettlementExecutorImpl{
		adapter: adapter,
		timeout: timeout,
		logger:  logger,
	}
}

// Execute runs the external transfer for an applied mutation
func (e *SettlementExecutorImpl) Execute(ctx context.Context, request *shared.EscrowRequest, transfer settlement.TransferRequest) (*settlement.Settlement, error) {
	logger := e.logger
	if request.CorrelationID != "" {
		logger = e.logger.With("correlation_id", request.CorrelationID)
	}

	if transfer.Amount == 0 {
		// Nothing to move, e.g. cancelling a project with no undisbursed
		// balance. The mutation commits without touching the adapter.
		return &settlement.Settlement{
			Status:    settlement.StatusConfirmed,
			SettledAt: time.Now().UTC(),
		}, nil
	}

	callCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	logger.Info("Executing settlement transfer",
		"request_id", request.RequestID.String(),
		"idempotency_key", transfer.IdempotencyKey,
		"amount", transfer.Amount,
	)

	stl, err := e.adapter.Transfer(callCtx, transfer)
	if err != nil {
		if errors.Is(err, settlement.ErrSettlementFailed{}) {
			logger.Warn("Adapter confirmed transfer failure", "idempotency_key", transfer.IdempotencyKey, "error", err)
			return nil, err
		}
		if errors.Is(err, settlement.ErrSettlementUnknown{}) {
			return nil, err
		}
		// Timeouts and transport errors are ambiguous: the transfer may
		// have been submitted. Never report these as failures.
		logger.Warn("Transfer outcome ambiguous", "idempotency_key", transfer.IdempotencyKey, "error", err)
		return nil, settlement.ErrSettlementUnknown{IdempotencyKey: transfer.IdempotencyKey}
	}

	switch stl.Status {
	case settlement.StatusConfirmed:
		logger.Info("Settlement confirmed",
			"request_id", request.RequestID.String(),
			"settlement_ref", stl.SettlementRef,
		)
		return stl, nil
	case settlement.StatusFailed:
		return nil, settlement.ErrSettlementFailed{IdempotencyKey: transfer.IdempotencyKey}
	default:
		return nil, settlement.ErrSettlementUnknown{IdempotencyKey: transfer.IdempotencyKey}
	}
}
