package consumer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/aidchain-escrow-ledger/internal/domain/shared"
	"github.com/aidchain-escrow-ledger/internal/escrow_processor/service"
	"github.com/aidchain-escrow-ledger/internal/platform/messaging/producers"
)

// EscrowEventHandler handles incoming escrow request messages from Kafka
type EscrowEventHandler struct {
	processingService service.ProcessingService
	producer          producers.DeadLetterPublisher
	logger            *slog.Logger
}

// NewEscrowEventHandler creates a new handler
func NewEscrowEventHandler(
	logger *slog.Logger,
	processingService service.ProcessingService,
	producer producers.DeadLetterPublisher,
) *EscrowEventHandler {
	return &EscrowEventHandler{
		processingService: processingService,
		producer:          producer,
		logger:            logger,
	}
}

// HandleMessage processes Kafka messages
func (h *EscrowEventHandler) HandleMessage(ctx context.Context, key []byte, value []byte) error {
	var request shared.EscrowRequest
	if err := json.Unmarshal(value, &request); err != nil {
		unmarshalErrorMsg := "Failed to unmarshal escrow request from Kafka message"
		h.logger.Error(unmarshalErrorMsg,
			"error", err,
			"message_key", string(key),
		)

		// Send to DLQ if available
		if h.producer != nil {
			dlqReason := fmt.Sprintf("%s: %s", unmarshalErrorMsg, err.Error())
			if dlqErr := h.producer.PublishToDLQ(ctx, string(key), value, dlqReason); dlqErr != nil {
				h.logger.Error("Failed to publish message to DLQ after unmarshal error",
					"dlq_error", dlqErr,
					"original_error", err,
					"message_key", string(key),
				)
				// Return original error if DLQ fails
			} else {
				h.logger.Info("Successfully published unprocessable message to DLQ", "message_key", string(key), "reason", dlqReason)
				// Message handled, commit offset
				return nil
			}
		}
		// Allow Kafka retries
		return fmt.Errorf("failed to unmarshal message value: %w", err)
	}

	// Add correlation ID to logger
	logger := h.logger
	if request.CorrelationID != "" {
		logger = h.logger.With("correlation_id", request.CorrelationID)
	}

	logger.Info("Received escrow request for processing",
		"request_id", request.RequestID.String(),
		"project_id", request.ProjectID.String(),
		"operation", string(request.Operation),
		"amount", request.Amount,
	)

	if err := h.processingService.ProcessEscrowRequest(ctx, &request); err != nil {
		logger.Error("Failed to process escrow request",
			"request_id", request.RequestID.String(),
			"project_id", request.ProjectID.String(),
			"error", err,
		)
		return fmt.Errorf("processing escrow request %s failed: %w", request.RequestID.String(), err)
	}

	logger.Info("Successfully processed escrow request", "request_id", request.RequestID.String())
	return nil // Success, commit offset
}
