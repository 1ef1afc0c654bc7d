package shared

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

var (
	ErrInvalidOperationType = errors.New("invalid escrow operation type")
	ErrMissingMilestoneID   = errors.New("release operation requires a milestone id")
	ErrMissingDonorRef      = errors.New("donation operation requires a donor reference")
)

// EscrowRequest is the queue message asking the escrow processor to perform
// one money-moving operation on a project. Messages are keyed by project id
// so per-project ordering is preserved end to end.
type EscrowRequest struct {
	RequestID      uuid.UUID     `json:"request_id"`
	ProjectID      uuid.UUID     `json:"project_id"`
	Operation      OperationType `json:"operation"`
	MilestoneID    *uuid.UUID    `json:"milestone_id,omitempty"`
	DonorRef       string        `json:"donor_ref,omitempty"`
	Amount         int64         `json:"amount,omitempty"` // In minor units (tinybars); set for donations only
	IdempotencyKey string        `json:"idempotency_key"`
	CorrelationID  string        `json:"correlation_id"`
	Timestamp      time.Time     `json:"timestamp"`
}

// Validate checks structural validity of the request before it is queued
func (r *EscrowRequest) Validate() error {
	switch r.Operation {
	case OperationDonate:
		if r.DonorRef == "" {
			return ErrMissingDonorRef
		}
	case OperationRelease:
		if r.MilestoneID == nil {
			return ErrMissingMilestoneID
		}
	case OperationCancel:
	default:
		return ErrInvalidOperationType
	}
	if r.IdempotencyKey == "" {
		return errors.New("idempotency key cannot be empty")
	}
	return nil
}

// DeriveIdempotencyKey builds the stable key attached to adapter calls so
// reconciliation and retries cannot produce a duplicate transfer. The nonce
// is client-supplied; one client retry maps to one transfer.
func DeriveIdempotencyKey(projectID uuid.UUID, operation OperationType, nonce string) string {
	return fmt.Sprintf("%s:%s:%s", projectID.String(), operation, nonce)
}
