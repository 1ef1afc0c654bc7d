package service

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/aidchain-escrow-ledger/internal/domain/project"
	"github.com/aidchain-escrow-ledger/internal/domain/shared"
	"github.com/aidchain-escrow-ledger/internal/domain/txlog"
)

// ErrRequestReconciling is returned when an escrow request's idempotency key
// has an open reconciliation record. The request must not be resubmitted
// until the outcome is resolved.
var ErrRequestReconciling = errors.New("request has an open reconciliation")

// CreateProjectInput carries the intake fields for a new project
type CreateProjectInput struct {
	Name         string
	Description  string
	Location     string
	Category     project.Category
	NGOAccount   string
	TargetAmount int64
	Milestones   []project.MilestoneDraft
}

// ProjectService defines the interface for project operations
type ProjectService interface {
	// CreateProject creates and activates a new project with its milestone
	// schedule. Returns ErrMilestoneSumMismatch if the milestone amounts
	// don't sum to the target.
	CreateProject(ctx context.Context, input CreateProjectInput) (*project.Project, error)

	// GetProjectByID retrieves a project by its ID
	// Returns ErrProjectNotFound if the project doesn't exist
	GetProjectByID(ctx context.Context, id uuid.UUID) (*project.Project, error)

	// ListProjects retrieves a paginated list of projects
	// Returns projects, total count, and any error
	ListProjects(ctx context.Context, page, perPage int) ([]*project.Project, int64, error)

	// GetProjectHistory retrieves the paginated transaction log view for a
	// project. Returns ErrProjectNotFound if the project doesn't exist.
	GetProjectHistory(ctx context.Context, projectID uuid.UUID, page, perPage int) ([]*txlog.Entry, int64, error)

	// StartMilestone transitions a pending milestone to in_progress
	StartMilestone(ctx context.Context, projectID, milestoneID uuid.UUID) (*project.Project, error)

	// CompleteMilestone records milestone delivery with its proof hash.
	// No money moves here; fund release goes through the escrow queue.
	CompleteMilestone(ctx context.Context, projectID, milestoneID uuid.UUID, proofHash string) (*project.Project, error)
}

// EscrowIntakeService defines the interface for queueing escrow operations
type EscrowIntakeService interface {
	// SubmitRequest validates and publishes an escrow request with
	// idempotency support. Returns the existing log entry (if the
	// idempotency key was already processed) and any error.
	SubmitRequest(ctx context.Context, request *shared.EscrowRequest) (*txlog.Entry, error)

	// GetRequestStatus reports the processing state of a previously
	// submitted escrow request, consulting the transaction log and open
	// reconciliations. Returns the log entry when one exists.
	GetRequestStatus(ctx context.Context, idempotencyKey string) (shared.RequestStatus, *txlog.Entry, error)
}
