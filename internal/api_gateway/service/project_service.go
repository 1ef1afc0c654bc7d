package service

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"github.com/aidchain-escrow-ledger/internal/domain/project"
	"github.com/aidchain-escrow-ledger/internal/domain/txlog"
)

// ProjectServiceImpl implements the ProjectService interface
type ProjectServiceImpl struct {
	projectRepo project.Repository
	txlogRepo   txlog.Repository
	logger      *slog.Logger
}

// NewProjectService creates a new project service
func NewProjectService(logger *slog.Logger, projectRepo project.Repository, txlogRepo txlog.Repository) ProjectService {
	return &ProjectServiceImpl{
		projectRepo: projectRepo,
		txlogRepo:   txlogRepo,
		logger:      logger,
	}
}

// CreateProject creates a project with its milestone schedule and activates
// it immediately. Activation validates the milestone sum against the target,
// so an invalid schedule never reaches storage.
func (s *ProjectServiceImpl) CreateProject(ctx context.Context, input CreateProjectInput) (*project.Project, error) {
	p, err := project.NewProject(
		input.Name,
		input.Description,
		input.Location,
		input.Category,
		input.NGOAccount,
		input.TargetAmount,
		input.Milestones,
	)
	if err != nil {
		return nil, err
	}

	if err := p.Activate(); err != nil {
		return nil, err
	}

	if err := s.projectRepo.Create(ctx, p); err != nil {
		return nil, err
	}

	s.logger.Info("Project created",
		"project_id", p.ID,
		"target_amount", p.TargetAmount,
		"milestones", len(p.Milestones),
	)
	return p, nil
}

// GetProjectByID retrieves a project by its ID, returns ErrProjectNotFound if not found
func (s *ProjectServiceImpl) GetProjectByID(ctx context.Context, id uuid.UUID) (*project.Project, error) {
	return s.projectRepo.GetByID(ctx, id)
}

// ListProjects retrieves a paginated list of projects with the total count
func (s *ProjectServiceImpl) ListProjects(ctx context.Context, page, perPage int) ([]*project.Project, int64, error) {
	offset := (page - 1) * perPage

	projects, err := s.projectRepo.List(ctx, perPage, offset)
	if err != nil {
		return nil, 0, err
	}

	total, err := s.projectRepo.Count(ctx)
	if err != nil {
		return nil, 0, err
	}

	return projects, total, nil
}

// GetProjectHistory retrieves the paginated transaction log view for a project
func (s *ProjectServiceImpl) GetProjectHistory(ctx context.Context, projectID uuid.UUID, page, perPage int) ([]*txlog.Entry, int64, error) {
	// Resolve the project first so an unknown ID reads as 404, not an
	// empty history.
	if _, err := s.projectRepo.GetByID(ctx, projectID); err != nil {
		return nil, 0, err
	}

	offset := (page - 1) * perPage

	entries, err := s.txlogRepo.GetByProjectID(ctx, projectID, perPage, offset)
	if err != nil {
		return nil, 0, err
	}

	total, err := s.txlogRepo.CountByProjectID(ctx, projectID)
	if err != nil {
		return nil, 0, err
	}

	return entries, total, nil
}

// StartMilestone transitions a pending milestone to in_progress under
// optimistic locking
func (s *ProjectServiceImpl) StartMilestone(ctx context.Context, projectID, milestoneID uuid.UUID) (*project.Project, error) {
	p, err := s.projectRepo.GetByID(ctx, projectID)
	if err != nil {
		return nil, err
	}

	if err := p.StartMilestone(milestoneID); err != nil {
		return nil, err
	}

	if err := s.projectRepo.Update(ctx, p); err != nil {
		return nil, err
	}

	s.logger.Info("Milestone started", "project_id", projectID, "milestone_id", milestoneID)
	return p, nil
}

// CompleteMilestone records milestone delivery evidence under optimistic locking
func (s *ProjectServiceImpl) CompleteMilestone(ctx context.Context, projectID, milestoneID uuid.UUID, proofHash string) (*project.Project, error) {
	p, err := s.projectRepo.GetByID(ctx, projectID)
	if err != nil {
		return nil, err
	}

	if err := p.MarkMilestoneCompleted(milestoneID, proofHash); err != nil {
		return nil, err
	}

	if err := s.projectRepo.Update(ctx, p); err != nil {
		return nil, err
	}

	s.logger.Info("Milestone completed",
		"project_id", projectID,
		"milestone_id", milestoneID,
		"proof_hash", proofHash,
	)
	return p, nil
}
