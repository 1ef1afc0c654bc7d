package components

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"

	"github.com/aidchain-escrow-ledger/internal/domain/outbox"
	"github.com/aidchain-escrow-ledger/internal/domain/txlog"
	"github.com/aidchain-escrow-ledger/internal/escrow_processor/service"
)

type OutboxManagerImpl struct {
	outboxRepo outbox.Repository
	logger     *slog.Logger
}

func NewOutboxManager(outboxRepo outbox.Repository, logger *slog.Logger) service.OutboxManager {
	return &OutboxManagerImpl{
		outboxRepo: outboxRepo,
		logger:     logger,
	}
}

// CreateOutboxEntry stages a committed log entry for audit feed publishing
func (m *OutboxManagerImpl) CreateOutboxEntry(ctx context.Context, tx pgx.Tx, entry *txlog.Entry) error {
	logger := m.logger
	if entry.CorrelationID != "" {
		logger = m.logger.With("correlation_id", entry.CorrelationID)
	}

	outboxRepoTx := m.outboxRepo.WithTx(tx)

	outboxMessage, err := outbox.NewMessage(entry)
	if err != nil {
		logger.Error("Failed to create new outbox message (marshal payload)",
			"sequence", entry.Sequence,
			"error", err,
		)
		return fmt.Errorf("failed to create outbox message payload for sequence %d: %w", entry.Sequence, err)
	}

	if err = outboxRepoTx.Create(ctx, outboxMessage); err != nil {
		logger.Error("Failed to create outbox message",
			"sequence", entry.Sequence,
			"project_id", entry.ProjectID.String(),
			"error", err,
		)
		return fmt.Errorf("failed to create outbox message for sequence %d: %w", entry.Sequence, err)
	}
	logger.Info("Outbox message created successfully",
		"sequence", entry.Sequence,
		"outbox_id", outboxMessage.ID,
	)

	return nil
}

// HasEntryForSequence reports whether a staged outbox row exists for a log
// sequence. Rows are marked processed rather than deleted, so the row
// outlives its publication and stays a reliable commit marker.
func (m *OutboxManagerImpl) HasEntryForSequence(ctx context.Context, sequence int64) (bool, error) {
	_, err := m.outboxRepo.GetBySequence(ctx, sequence)
	if err != nil {
		if errors.Is(err, outbox.ErrMessageNotFound{}) {
			return false, nil
		}
		return false, fmt.Errorf("failed to check outbox for sequence %d: %w", sequence, err)
	}
	return true, nil
}
