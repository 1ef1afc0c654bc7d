package project

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// Common errors
var (
	ErrInvalidAmount        = errors.New("amount must be positive")
	ErrInvalidState         = errors.New("operation not valid for current project status")
	ErrInvalidTransition    = errors.New("invalid milestone transition")
	ErrInsufficientFunds    = errors.New("undisbursed funds are less than milestone amount")
	ErrMilestoneSumMismatch = errors.New("milestone amounts must sum to the project target")
	ErrEmptyName            = errors.New("project name cannot be empty")
	ErrNoMilestones         = errors.New("project requires at least one milestone")
	ErrMissingProof         = errors.New("proof hash is required to complete a milestone")
	ErrEmptyNGOAccount      = errors.New("NGO settlement account cannot be empty")
)

// Status defines project lifecycle states
type Status string

const (
	StatusDraft       Status = "DRAFT"
	StatusActive      Status = "ACTIVE"
	StatusReconciling Status = "RECONCILING"
	StatusCompleted   Status = "COMPLETED"
	StatusCancelled   Status = "CANCELLED"
)

// Category classifies the humanitarian cause a project addresses
type Category string

const (
	CategoryDrought Category = "DROUGHT"
	CategoryHunger  Category = "HUNGER"
	CategoryPoverty Category = "POVERTY"
	CategoryOther   Category = "OTHER"
)

// Project is the escrow ledger for a single humanitarian project. It owns
// the committed funds, the milestone schedule, and the release state. All
// mutation methods are pure validating transitions over in-memory state;
// persistence and settlement are the caller's concern, which keeps the
// aggregate deterministic and replayable from the transaction log.
type Project struct {
	ID             uuid.UUID   `json:"id"`
	Name           string      `json:"name"`
	Description    string      `json:"description"`
	Location       string      `json:"location"`
	Category       Category    `json:"category"`
	NGOAccount     string      `json:"ngo_account"` // Settlement account receiving released tranches
	TargetAmount   int64       `json:"target_amount"` // Stored in minor units (tinybars)
	RaisedAmount   int64       `json:"raised_amount"`
	ReleasedAmount int64       `json:"released_amount"`
	Milestones     []Milestone `json:"milestones"` // Insertion order is release order
	Status         Status      `json:"status"`
	Version        int         `json:"version"` // For optimistic locking
	CreatedAt      time.Time   `json:"created_at"`
	UpdatedAt      time.Time   `json:"updated_at"`
}

// MilestoneDraft carries the intake fields for one milestone
type MilestoneDraft struct {
	Title        string
	Description  string
	TargetAmount int64
}

// NewProject creates a draft project with its milestone schedule.
// Amount validation happens here so there is a single authoritative place
// for it; the sum invariant is checked on Activate.
func NewProject(name, description, location string, category Category, ngoAccount string, targetAmount int64, drafts []MilestoneDraft) (*Project, error) {
	if name == "" {
		return nil, ErrEmptyName
	}
	if ngoAccount == "" {
		return nil, ErrEmptyNGOAccount
	}
	if targetAmount <= 0 {
		return nil, ErrInvalidAmount
	}
	if len(drafts) == 0 {
		return nil, ErrNoMilestones
	}

	milestones := make([]Milestone, 0, len(drafts))
	for _, d := range drafts {
		if d.TargetAmount <= 0 {
			return nil, ErrInvalidAmount
		}
		milestones = append(milestones, Milestone{
			ID:           uuid.New(),
			Title:        d.Title,
			Description:  d.Description,
			TargetAmount: d.TargetAmount,
			Status:       MilestoneStatusPending,
		})
	}

	now := time.Now()
	return &Project{
		ID:           uuid.New(),
		Name:         name,
		Description:  description,
		Location:     location,
		Category:     category,
		NGOAccount:   ngoAccount,
		TargetAmount: targetAmount,
		Milestones:   milestones,
		Status:       StatusDraft,
		Version:      1,
		CreatedAt:    now,
		UpdatedAt:    now,
	}, nil
}

// Activate transitions a draft project to active after checking that the
// milestone amounts sum exactly to the target. The schedule is immutable
// from this point on.
func (p *Project) Activate() error {
	if p.Status != StatusDraft {
		return ErrInvalidState
	}

	var sum int64
	for _, m := range p.Milestones {
		sum += m.TargetAmount
	}
	if sum != p.TargetAmount {
		return ErrMilestoneSumMismatch
	}

	p.Status = StatusActive
	p.touch()
	return nil
}

// RecordDonation adds a confirmed donation to the raised total. Donations
// beyond the target are accepted; callers can inspect Overfunded.
func (p *Project) RecordDonation(amount int64) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}
	if p.Status != StatusActive {
		return ErrInvalidState
	}

	p.RaisedAmount += amount
	p.touch()
	return nil
}

// StartMilestone transitions a milestone from pending to in_progress
func (p *Project) StartMilestone(milestoneID uuid.UUID) error {
	if p.Status != StatusActive {
		return ErrInvalidState
	}

	m, err := p.findMilestone(milestoneID)
	if err != nil {
		return err
	}
	if m.Status != MilestoneStatusPending {
		return ErrInvalidTransition
	}

	m.Status = MilestoneStatusInProgress
	p.touch()
	return nil
}

// MarkMilestoneCompleted records delivery of a milestone together with the
// hash of its evidence document. A pending milestone is accepted too,
// promoting through in_progress atomically, since the proof arrives in the
// same call.
func (p *Project) MarkMilestoneCompleted(milestoneID uuid.UUID, proofHash string) error {
	if p.Status != StatusActive {
		return ErrInvalidState
	}
	if proofHash == "" {
		return ErrMissingProof
	}

	m, err := p.findMilestone(milestoneID)
	if err != nil {
		return err
	}
	if m.Status != MilestoneStatusInProgress && m.Status != MilestoneStatusPending {
		return ErrInvalidTransition
	}

	now := time.Now()
	m.Status = MilestoneStatusCompleted
	m.ProofHash = proofHash
	m.CompletedAt = &now
	p.touch()
	return nil
}

// VerifyMilestone approves a completed milestone and accounts its tranche
// as released. Verifying an already-verified milestone always fails with
// ErrInvalidTransition and never changes ReleasedAmount; this is the
// at-most-once guarantee the escrow engine relies on.
func (p *Project) VerifyMilestone(milestoneID uuid.UUID) error {
	if p.Status != StatusActive {
		return ErrInvalidState
	}

	m, err := p.findMilestone(milestoneID)
	if err != nil {
		return err
	}
	if m.Status != MilestoneStatusCompleted {
		return ErrInvalidTransition
	}
	if p.Undisbursed() < m.TargetAmount {
		return ErrInsufficientFunds
	}

	now := time.Now()
	m.Status = MilestoneStatusVerified
	m.VerifiedAt = &now
	p.ReleasedAmount += m.TargetAmount

	if p.allMilestonesVerified() {
		p.Status = StatusCompleted
	}
	p.touch()
	return nil
}

// RestoreVerifiedMilestone is the replay counterpart of VerifyMilestone.
// Completion evidence lives in the snapshot rather than the log, so a
// replayed release moves the milestone straight to verified. The funds and
// at-most-once checks still apply.
func (p *Project) RestoreVerifiedMilestone(milestoneID uuid.UUID, verifiedAt time.Time) error {
	if p.Status != StatusActive {
		return ErrInvalidState
	}

	m, err := p.findMilestone(milestoneID)
	if err != nil {
		return err
	}
	if m.Status == MilestoneStatusVerified {
		return ErrInvalidTransition
	}
	if p.Undisbursed() < m.TargetAmount {
		return ErrInsufficientFunds
	}

	m.Status = MilestoneStatusVerified
	m.VerifiedAt = &verifiedAt
	p.ReleasedAmount += m.TargetAmount

	if p.allMilestonesVerified() {
		p.Status = StatusCompleted
	}
	p.touch()
	return nil
}

// Cancel transitions a draft or active project to cancelled and returns the
// refundable amount, i.e. funds raised but never disbursed.
func (p *Project) Cancel() (int64, error) {
	if p.Status != StatusDraft && p.Status != StatusActive {
		return 0, ErrInvalidState
	}

	refundable := p.Undisbursed()
	p.Status = StatusCancelled
	p.touch()
	return refundable, nil
}

// BeginReconciliation freezes the project while an ambiguous settlement
// outcome is resolved. Only an active project can enter reconciliation.
func (p *Project) BeginReconciliation() error {
	if p.Status != StatusActive {
		return ErrInvalidState
	}
	p.Status = StatusReconciling
	p.touch()
	return nil
}

// ResolveReconciliation returns a reconciling project to active
func (p *Project) ResolveReconciliation() error {
	if p.Status != StatusReconciling {
		return ErrInvalidState
	}
	p.Status = StatusActive
	p.touch()
	return nil
}

// Undisbursed returns the funds raised but not yet released
func (p *Project) Undisbursed() int64 {
	return p.RaisedAmount - p.ReleasedAmount
}

// Overfunded reports whether donations have exceeded the target. No cap is
// enforced; the surplus stays in escrow until cancellation.
func (p *Project) Overfunded() bool {
	return p.RaisedAmount > p.TargetAmount
}

// Milestone returns the milestone with the given ID
func (p *Project) Milestone(milestoneID uuid.UUID) (*Milestone, error) {
	return p.findMilestone(milestoneID)
}

func (p *Project) findMilestone(milestoneID uuid.UUID) (*Milestone, error) {
	for i := range p.Milestones {
		if p.Milestones[i].ID == milestoneID {
			return &p.Milestones[i], nil
		}
	}
	return nil, ErrMilestoneNotFound{MilestoneID: milestoneID}
}

func (p *Project) allMilestonesVerified() bool {
	for _, m := range p.Milestones {
		if m.Status != MilestoneStatusVerified {
			return false
		}
	}
	return true
}

func (p *Project) touch() {
	p.UpdatedAt = time.Now()
	p.Version++
}
