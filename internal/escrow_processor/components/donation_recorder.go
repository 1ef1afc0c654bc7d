package components

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"

	"github.com/aidchain-escrow-ledger/internal/domain/donation"
	"github.com/aidchain-escrow-ledger/internal/domain/settlement"
	"github.com/aidchain-escrow-ledger/internal/domain/shared"
	"github.com/aidchain-escrow-ledger/internal/escrow_processor/service"
)

// DonationRecorderImpl implements the DonationRecorder interface
type DonationRecorderImpl struct {
	donationRepo donation.Repository
	logger       *slog.Logger
}

func NewDonationRecorder(donationRepo donation.Repository, logger *slog.Logger) service.DonationRecorder {
	return &DonationRecorderImpl{
		donationRepo: donationRepo,
		logger:       logger,
	}
}

// RecordAccepted stores the donation record in the same transaction as the
// snapshot mutation
func (r *DonationRecorderImpl) RecordAccepted(ctx context.Context, tx pgx.Tx, request *shared.EscrowRequest, stl *settlement.Settlement) error {
	logger := r.logger
	if request.CorrelationID != "" {
		logger = r.logger.With("correlation_id", request.CorrelationID)
	}

	d, err := donation.NewDonation(request.ProjectID, request.DonorRef, request.Amount, stl.SettlementRef, request.IdempotencyKey)
	if err != nil {
		return fmt.Errorf("failed to build donation record for %s: %w", request.IdempotencyKey, err)
	}

	if err := r.donationRepo.WithTx(tx).Create(ctx, d); err != nil {
		logger.Error("Failed to create donation record",
			"request_id", request.RequestID.String(),
			"project_id", request.ProjectID.String(),
			"error", err,
		)
		return fmt.Errorf("failed to create donation record for %s: %w", request.IdempotencyKey, err)
	}

	logger.Info("Donation record created",
		"donation_id", d.ID.String(),
		"project_id", request.ProjectID.String(),
		"amount", request.Amount,
	)
	return nil
}
