package reconciliation

import (
	"time"

	"github.com/google/uuid"

	"github.com/aidchain-escrow-ledger/internal/domain/shared"
)

// Status of a reconciliation record
type Status string

const (
	StatusOpen      Status = "OPEN"      // Outcome unknown, project frozen
	StatusSettled   Status = "SETTLED"   // Transfer confirmed, mutation committed
	StatusAbandoned Status = "ABANDONED" // Transfer confirmed failed, nothing committed
)

// Record tracks an escrow operation whose settlement outcome came back
// unknown. It carries enough of the original request to commit the mutation
// once QueryStatus confirms the transfer, keyed by the idempotency key so a
// resolved transfer is committed at most once.
type Record struct {
	IdempotencyKey string               `json:"idempotency_key"`
	ProjectID      uuid.UUID            `json:"project_id"`
	Operation      shared.OperationType `json:"operation"`
	MilestoneID    *uuid.UUID           `json:"milestone_id,omitempty"`
	DonorRef       string               `json:"donor_ref,omitempty"`
	Amount         int64                `json:"amount"` // In minor units (tinybars)
	CorrelationID  string               `json:"correlation_id,omitempty"`
	Status         Status               `json:"status"`
	CreatedAt      time.Time            `json:"created_at"`
	ResolvedAt     *time.Time           `json:"resolved_at,omitempty"`
}

// NewRecord opens a reconciliation for an escrow request with an unknown
// settlement outcome
func NewRecord(req *shared.EscrowRequest) *Record {
	return &Record{
		IdempotencyKey: req.IdempotencyKey,
		ProjectID:      req.ProjectID,
		Operation:      req.Operation,
		MilestoneID:    req.MilestoneID,
		DonorRef:       req.DonorRef,
		Amount:         req.Amount,
		CorrelationID:  req.CorrelationID,
		Status:         StatusOpen,
		CreatedAt:      time.Now(),
	}
}

// MarkSettled closes the record after the mutation was committed
func (r *Record) MarkSettled() {
	r.Status = StatusSettled
	now := time.Now()
	r.ResolvedAt = &now
}

// MarkAbandoned closes the record after the transfer was confirmed failed
func (r *Record) MarkAbandoned() {
	r.Status = StatusAbandoned
	now := time.Now()
	r.ResolvedAt = &now
}

// ToRequest rebuilds the original escrow request for committing a resolved
// reconciliation
func (r *Record) ToRequest() *shared.EscrowRequest {
	return &shared.EscrowRequest{
		RequestID:      uuid.New(),
		ProjectID:      r.ProjectID,
		Operation:      r.Operation,
		MilestoneID:    r.MilestoneID,
		DonorRef:       r.DonorRef,
		Amount:         r.Amount,
		IdempotencyKey: r.IdempotencyKey,
		CorrelationID:  r.CorrelationID,
		Timestamp:      time.Now(),
	}
}
