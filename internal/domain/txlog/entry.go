package txlog

import (
	"time"

	"github.com/google/uuid"
)

// Kind defines the recorded mutation categories
type Kind string

const (
	KindDonationAccepted  Kind = "DONATION_ACCEPTED"
	KindDonationFailed    Kind = "DONATION_FAILED"
	KindMilestoneReleased Kind = "MILESTONE_RELEASED"
	KindReleaseFailed     Kind = "RELEASE_FAILED"
	KindRefundIssued      Kind = "REFUND_ISSUED"
	KindRefundFailed      Kind = "REFUND_FAILED"
)

// Entry is one record in the append-only transaction log. The log is the
// sole source of truth for rebuilding a project ledger after restart;
// entries are never mutated or deleted. Sequence is globally unique and
// monotonically increasing across all projects.
type Entry struct {
	Sequence       int64      `json:"sequence" bson:"sequence"`
	Kind           Kind       `json:"kind" bson:"kind"`
	ProjectID      uuid.UUID  `json:"project_id" bson:"project_id"`
	MilestoneID    *uuid.UUID `json:"milestone_id,omitempty" bson:"milestone_id,omitempty"`
	DonorRef       string     `json:"donor_ref,omitempty" bson:"donor_ref,omitempty"`
	Amount         int64      `json:"amount" bson:"amount"` // Stored in minor units (tinybars)
	SettlementRef  string     `json:"settlement_ref,omitempty" bson:"settlement_ref,omitempty"`
	IdempotencyKey string     `json:"idempotency_key,omitempty" bson:"idempotency_key,omitempty"`
	CorrelationID  string     `json:"correlation_id,omitempty" bson:"correlation_id,omitempty"`
	FailureReason  string     `json:"failure_reason,omitempty" bson:"failure_reason,omitempty"`
	Timestamp      time.Time  `json:"timestamp" bson:"timestamp"`
}

// Failed reports whether the entry records a rejected or failed operation
// rather than a committed mutation.
func (e *Entry) Failed() bool {
	switch e.Kind {
	case KindDonationFailed, KindReleaseFailed, KindRefundFailed:
		return true
	}
	return false
}
