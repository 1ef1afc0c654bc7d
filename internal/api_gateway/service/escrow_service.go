package service

import (
	"context"
	"errors"
	"log/slog"

	"github.com/aidchain-escrow-ledger/internal/domain/project"
	"github.com/aidchain-escrow-ledger/internal/domain/reconciliation"
	"github.com/aidchain-escrow-ledger/internal/domain/shared"
	"github.com/aidchain-escrow-ledger/internal/domain/txlog"
	"github.com/aidchain-escrow-ledger/internal/platform/messaging/producers"
)

// EscrowIntakeServiceImpl implements the EscrowIntakeService interface
type EscrowIntakeServiceImpl struct {
	projectRepo project.Repository
	txlogRepo   txlog.Repository
	reconRepo   reconciliation.Repository
	producer    producers.MessagePublisher
	logger      *slog.Logger
}

// NewEscrowIntakeService creates a new escrow intake service
func NewEscrowIntakeService(
	logger *slog.Logger,
	projectRepo project.Repository,
	txlogRepo txlog.Repository,
	reconRepo reconciliation.Repository,
	producer producers.MessagePublisher,
) EscrowIntakeService {
	return &EscrowIntakeServiceImpl{
		projectRepo: projectRepo,
		txlogRepo:   txlogRepo,
		reconRepo:   reconRepo,
		producer:    producer,
		logger:      logger,
	}
}

// SubmitRequest pre-checks the idempotency key against the transaction log
// and open reconciliations, then publishes the request keyed by project id
// so all operations on one project land on the same partition.
func (s *EscrowIntakeServiceImpl) SubmitRequest(ctx context.Context, request *shared.EscrowRequest) (*txlog.Entry, error) {
	if err := request.Validate(); err != nil {
		return nil, err
	}

	if _, err := s.projectRepo.GetByID(ctx, request.ProjectID); err != nil {
		return nil, err
	}

	existingEntry, err := s.txlogRepo.GetByIdempotencyKey(ctx, request.IdempotencyKey)
	if err != nil {
		s.logger.Error("Failed to check for existing escrow request",
			"idempotency_key", request.IdempotencyKey,
			"error", err,
		)
		return nil, err
	}
	if existingEntry != nil {
		s.logger.Info("Found existing escrow request with idempotency key",
			"idempotency_key", request.IdempotencyKey,
			"sequence", existingEntry.Sequence,
			"kind", string(existingEntry.Kind),
		)
		return existingEntry, nil
	}

	record, err := s.reconRepo.GetByIdempotencyKey(ctx, request.IdempotencyKey)
	if err != nil && !errors.Is(err, reconciliation.ErrRecordNotFound{}) {
		s.logger.Error("Failed to check reconciliation state",
			"idempotency_key", request.IdempotencyKey,
			"error", err,
		)
		return nil, err
	}
	if record != nil && record.Status == reconciliation.StatusOpen {
		return nil, ErrRequestReconciling
	}

	key := request.ProjectID.String()
	if err := s.producer.Publish(ctx, key, request); err != nil {
		s.logger.Error("Failed to publish escrow request",
			"project_id", request.ProjectID,
			"operation", string(request.Operation),
			"error", err,
		)
		return nil, err
	}

	s.logger.Info("Escrow request published",
		"request_id", request.RequestID,
		"project_id", request.ProjectID,
		"operation", string(request.Operation),
		"amount", request.Amount,
	)
	return nil, nil
}

// GetRequestStatus resolves what happened to a submitted request. A log
// entry is the final word; an open reconciliation means the outcome is
// still being confirmed; no trace of either means the request is pending
// in the queue.
func (s *EscrowIntakeServiceImpl) GetRequestStatus(ctx context.Context, idempotencyKey string) (shared.RequestStatus, *txlog.Entry, error) {
	entry, err := s.txlogRepo.GetByIdempotencyKey(ctx, idempotencyKey)
	if err != nil {
		return "", nil, err
	}
	if entry != nil {
		if entry.Failed() {
			return shared.RequestStatusFailed, entry, nil
		}
		return shared.RequestStatusCompleted, entry, nil
	}

	record, err := s.reconRepo.GetByIdempotencyKey(ctx, idempotencyKey)
	if err != nil {
		if errors.Is(err, reconciliation.ErrRecordNotFound{}) {
			return shared.RequestStatusPending, nil, nil
		}
		return "", nil, err
	}

	switch record.Status {
	case reconciliation.StatusOpen:
		return shared.RequestStatusReconciling, nil, nil
	case reconciliation.StatusAbandoned:
		return shared.RequestStatusFailed, nil, nil
	default:
		// Settled without a log entry is a transient window during
		// resolution; report it as still confirming.
		return shared.RequestStatusReconciling, nil, nil
	}
}
