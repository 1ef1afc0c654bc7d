package donation

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrInvalidAmount = errors.New("donation amount must be positive")
	ErrEmptyDonorRef = errors.New("donor reference cannot be empty")
)

// Donation is a confirmed contribution held in escrow for a project. The
// donor reference is an opaque identifier; donations never link donor
// identity to ledger internals. A record is immutable once its settlement
// is confirmed.
type Donation struct {
	ID             uuid.UUID `json:"id"`
	ProjectID      uuid.UUID `json:"project_id"`
	DonorRef       string    `json:"donor_ref"`
	Amount         int64     `json:"amount"` // Stored in minor units (tinybars)
	SettlementRef  string    `json:"settlement_ref,omitempty"` // External ledger transaction id, empty until confirmed
	IdempotencyKey string    `json:"idempotency_key"`
	AcceptedAt     time.Time `json:"accepted_at"`
}

// NewDonation creates a donation record for a confirmed settlement
func NewDonation(projectID uuid.UUID, donorRef string, amount int64, settlementRef, idempotencyKey string) (*Donation, error) {
	if donorRef == "" {
		return nil, ErrEmptyDonorRef
	}
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}

	return &Donation{
		ID:             uuid.New(),
		ProjectID:      projectID,
		DonorRef:       donorRef,
		Amount:         amount,
		SettlementRef:  settlementRef,
		IdempotencyKey: idempotencyKey,
		AcceptedAt:     time.Now(),
	}, nil
}
