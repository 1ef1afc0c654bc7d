package components

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"

	"github.com/aidchain-escrow-ledger/internal/domain/project"
	"github.com/aidchain-escrow-ledger/internal/domain/settlement"
	"github.com/aidchain-escrow-ledger/internal/domain/shared"
	"github.com/aidchain-escrow-ledger/internal/domain/txlog"
	"github.com/aidchain-escrow-ledger/internal/escrow_processor/service"
)

// ProjectManagerImpl implements the ProjectManager interface
type ProjectManagerImpl struct {
	projectRepo   project.Repository
	escrowAccount string
	refundAccount string
	logger        *slog.Logger
}

// NewProjectManager creates a new ProjectManagerImpl. The escrow account
// holds pooled donations; the refund account receives undisbursed balances
// on cancellation.
func NewProjectManager(projectRepo project.Repository, escrowAccount, refundAccount string, logger *slog.Logger) service.ProjectManager {
	return &ProjectManagerImpl{
		projectRepo:   projectRepo,
		escrowAccount: escrowAccount,
		refundAccount: refundAccount,
		logger:        logger,
	}
}

// LockAndApply locks the project row, validates the operation against the
// aggregate, and applies it in memory. The caller persists the result only
// after settlement confirms.
func (m *ProjectManagerImpl) LockAndApply(ctx context.Context, tx pgx.Tx, request *shared.EscrowRequest) (*project.Project, *service.AppliedMutation, error) {
	logger := m.logger
	if request.CorrelationID != "" {
		logger = m.logger.With("correlation_id", request.CorrelationID)
	}

	projectRepoTx := m.projectRepo.WithTx(tx)

	lockedProject, err := projectRepoTx.LockForUpdate(ctx, request.ProjectID)
	if err != nil {
		if errors.Is(err, project.ErrProjectNotFound{ProjectID: request.ProjectID}) {
			logger.Warn("Project not found for lock", "request_id", request.RequestID.String(), "project_id", request.ProjectID.String())
			return nil, nil, err
		}
		logger.Error("Failed to lock project", "request_id", request.RequestID.String(), "project_id", request.ProjectID.String(), "error", err)
		return nil, nil, fmt.Errorf("failed to lock project %s: %w", request.ProjectID.String(), err)
	}
	logger.Info("Project locked",
		"request_id", request.RequestID.String(),
		"project_id", lockedProject.ID.String(),
		"status", string(lockedProject.Status),
		"raised", lockedProject.RaisedAmount,
		"released", lockedProject.ReleasedAmount,
		"version", lockedProject.Version,
	)

	if lockedProject.Status == project.StatusReconciling {
		logger.Warn("Project frozen pending reconciliation", "request_id", request.RequestID.String(), "project_id", lockedProject.ID.String())
		return nil, nil, service.ErrProjectFrozen
	}

	applied, err := m.Apply(lockedProject, request)
	if err != nil {
		logger.Warn("Failed to apply operation to project model",
			"request_id", request.RequestID.String(),
			"operation", string(request.Operation),
			"error", err,
		)
		return nil, nil, err
	}
	logger.Info("Project updated in memory",
		"request_id", request.RequestID.String(),
		"new_raised", lockedProject.RaisedAmount,
		"new_released", lockedProject.ReleasedAmount,
		"new_version", lockedProject.Version,
	)

	return lockedProject, applied, nil
}

// Apply mutates the aggregate in memory and describes the external transfer
// the mutation depends on
func (m *ProjectManagerImpl) Apply(p *project.Project, request *shared.EscrowRequest) (*service.AppliedMutation, error) {
	switch request.Operation {
	case shared.OperationDonate:
		if err := p.RecordDonation(request.Amount); err != nil {
			return nil, err
		}
		return &service.AppliedMutation{
			Kind:   txlog.KindDonationAccepted,
			Amount: request.Amount,
			Transfer: settlement.TransferRequest{
				From:           request.DonorRef,
				To:             m.escrowAccount,
				Amount:         request.Amount,
				IdempotencyKey: request.IdempotencyKey,
			},
		}, nil

	case shared.OperationRelease:
		milestone, err := p.Milestone(*request.MilestoneID)
		if err != nil {
			return nil, err
		}
		amount := milestone.TargetAmount
		if err := p.VerifyMilestone(*request.MilestoneID); err != nil {
			return nil, err
		}
		return &service.AppliedMutation{
			Kind:        txlog.KindMilestoneReleased,
			Amount:      amount,
			MilestoneID: request.MilestoneID,
			Transfer: settlement.TransferRequest{
				From:           m.escrowAccount,
				To:             p.NGOAccount,
				Amount:         amount,
				IdempotencyKey: request.IdempotencyKey,
			},
		}, nil

	case shared.OperationCancel:
		refundable, err := p.Cancel()
		if err != nil {
			return nil, err
		}
		return &service.AppliedMutation{
			Kind:   txlog.KindRefundIssued,
			Amount: refundable,
			Transfer: settlement.TransferRequest{
				From:           m.escrowAccount,
				To:             m.refundAccount,
				Amount:         refundable,
				IdempotencyKey: request.IdempotencyKey,
			},
		}, nil

	default:
		return nil, shared.ErrInvalidOperationType
	}
}

// Persist writes the mutated snapshot back using the transaction
func (m *ProjectManagerImpl) Persist(ctx context.Context, tx pgx.Tx, p *project.Project) error {
	projectRepoTx := m.projectRepo.WithTx(tx)

	if err := projectRepoTx.Update(ctx, p); err != nil {
		if errors.Is(err, project.ErrConcurrentModification{ProjectID: p.ID}) {
			m.logger.Warn("Concurrent modification on project update", "project_id", p.ID.String())
		} else {
			m.logger.Error("Failed to update project in DB", "project_id", p.ID.String(), "error", err)
		}
		return err
	}
	m.logger.Info("Project updated in DB", "project_id", p.ID.String(), "version", p.Version)

	return nil
}
