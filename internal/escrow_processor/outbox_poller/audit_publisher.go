package outbox_poller

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/aidchain-escrow-ledger/internal/domain/outbox"
	"github.com/aidchain-escrow-ledger/internal/domain/shared"
	"github.com/aidchain-escrow-ledger/internal/platform/messaging/producers"
)

// AuditPublisher publishes committed log entries to the audit feed
type AuditPublisher interface {
	PublishAuditEvent(ctx context.Context, message *outbox.Message) error
}

// AuditPublisherImpl implements AuditPublisher
type AuditPublisherImpl struct {
	outboxRepo outbox.Repository
	producer   producers.MessagePublisher
	logger     *slog.Logger
}

// NewAuditPublisher creates a new publisher
func NewAuditPublisher(
	outboxRepo outbox.Repository,
	producer producers.MessagePublisher,
	logger *slog.Logger,
) AuditPublisher {
	return &AuditPublisherImpl{
		outboxRepo: outboxRepo,
		producer:   producer,
		logger:     logger,
	}
}

// PublishAuditEvent pushes the log entry carried by an outbox message to
// the audit feed topic, keyed by project so consumers see per-project
// order, then marks the message processed.
func (p *AuditPublisherImpl) PublishAuditEvent(ctx context.Context, message *outbox.Message) error {
	entry, err := message.GetLogEntry()
	if err != nil {
		p.logger.Error("Failed to unmarshal log entry from outbox payload",
			"outbox_id", message.ID, "sequence", message.Sequence, "error", err,
		)
		if updateErr := p.outboxRepo.UpdateStatus(ctx, message.ID, shared.OutboxStatusFailedToPublish); updateErr != nil {
			p.logger.Error("Also failed to update outbox status to FAILED_TO_PUBLISH after unmarshal error", "outbox_id", message.ID, "update_error", updateErr)
		}
		return fmt.Errorf("unmarshal payload for outbox %d failed: %w", message.ID, err)
	}

	// Add correlation ID to logger
	logger := p.logger
	if entry.CorrelationID != "" {
		logger = p.logger.With("correlation_id", entry.CorrelationID)
	}

	logger.Info("Attempting to publish outbox message to audit feed", "outbox_id", message.ID, "sequence", message.Sequence)

	if err := p.producer.Publish(ctx, entry.ProjectID.String(), entry); err != nil {
		logger.Error("Failed to publish audit event", "outbox_id", message.ID, "sequence", message.Sequence, "error", err)
		return fmt.Errorf("failed to publish audit event for sequence %d: %w", message.Sequence, err)
	}

	// Mark outbox message as processed
	if err := p.outboxRepo.UpdateStatus(ctx, message.ID, shared.OutboxStatusProcessed); err != nil {
		logger.Error("Failed to update outbox message status to PROCESSED",
			"outbox_id", message.ID, "sequence", message.Sequence, "error", err,
		)
		return fmt.Errorf("audit publish for sequence %d OK, but failed to mark outbox %d as PROCESSED: %w", message.Sequence, message.ID, err)
	}

	logger.Info("Outbox message successfully published and marked as PROCESSED", "outbox_id", message.ID, "sequence", message.Sequence)
	return nil
}
