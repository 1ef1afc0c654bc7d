package project

import (
	"time"

	"github.com/google/uuid"
)

// MilestoneStatus defines the milestone sub-state machine. Transitions are
// strictly pending -> in_progress -> completed -> verified; there is no
// skipping and no way back.
type MilestoneStatus string

const (
	MilestoneStatusPending    MilestoneStatus = "PENDING"
	MilestoneStatusInProgress MilestoneStatus = "IN_PROGRESS"
	MilestoneStatusCompleted  MilestoneStatus = "COMPLETED"
	MilestoneStatusVerified   MilestoneStatus = "VERIFIED"
)

// Milestone is a discrete deliverable with an associated funding tranche.
// Milestones are owned exclusively by their project and never shared.
type Milestone struct {
	ID           uuid.UUID       `json:"id"`
	Title        string          `json:"title"`
	Description  string          `json:"description"`
	TargetAmount int64           `json:"target_amount"` // Stored in minor units (tinybars)
	Status       MilestoneStatus `json:"status"`
	ProofHash    string          `json:"proof_hash,omitempty"` // Hash of the evidence document
	CompletedAt  *time.Time      `json:"completed_at,omitempty"`
	VerifiedAt   *time.Time      `json:"verified_at,omitempty"`
}
