package service

import (
	"context"
	"log/slog"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/aidchain-escrow-ledger/internal/domain/project"
	"github.com/aidchain-escrow-ledger/internal/domain/txlog"
)

func validProjectInput() CreateProjectInput {
	return CreateProjectInput{
		Name:         "School Meals Program",
		Description:  "Daily meals for two primary schools",
		Location:     "Malakal, South Sudan",
		Category:     project.CategoryHunger,
		NGOAccount:   "0.0.4821337",
		TargetAmount: 8000000,
		Milestones: []project.MilestoneDraft{
			{Title: "Kitchen setup", TargetAmount: 3000000},
			{Title: "First term delivery", TargetAmount: 5000000},
		},
	}
}

func TestProjectService_CreateProject(t *testing.T) {
	logger := slog.Default()

	t.Run("CreatesActiveProject", func(t *testing.T) {
		projectRepo := new(MockProjectRepository)
		txlogRepo := new(MockTxlogRepository)

		projectRepo.On("Create", mock.Anything, mock.MatchedBy(func(p *project.Project) bool {
			return p.Status == project.StatusActive && p.TargetAmount == 8000000 && len(p.Milestones) == 2
		})).Return(nil)

		svc := NewProjectService(logger, projectRepo, txlogRepo)
		p, err := svc.CreateProject(context.Background(), validProjectInput())

		require.NoError(t, err)
		assert.Equal(t, project.StatusActive, p.Status)
		for _, m := range p.Milestones {
			assert.Equal(t, project.MilestoneStatusPending, m.Status)
		}
		projectRepo.AssertExpectations(t)
	})

	t.Run("MilestoneSumMismatchNeverStored", func(t *testing.T) {
		projectRepo := new(MockProjectRepository)
		txlogRepo := new(MockTxlogRepository)

		input := validProjectInput()
		input.TargetAmount = 9000000

		svc := NewProjectService(logger, projectRepo, txlogRepo)
		_, err := svc.CreateProject(context.Background(), input)

		assert.ErrorIs(t, err, project.ErrMilestoneSumMismatch)
		projectRepo.AssertNotCalled(t, "Create")
	})

	t.Run("NonPositiveMilestoneAmount", func(t *testing.T) {
		projectRepo := new(MockProjectRepository)
		txlogRepo := new(MockTxlogRepository)

		input := validProjectInput()
		input.Milestones[0].TargetAmount = 0

		svc := NewProjectService(logger, projectRepo, txlogRepo)
		_, err := svc.CreateProject(context.Background(), input)

		assert.ErrorIs(t, err, project.ErrInvalidAmount)
		projectRepo.AssertNotCalled(t, "Create")
	})
}

func TestProjectService_GetProjectHistory(t *testing.T) {
	logger := slog.Default()

	t.Run("ReturnsPaginatedEntries", func(t *testing.T) {
		projectRepo := new(MockProjectRepository)
		txlogRepo := new(MockTxlogRepository)

		p := activeProject(t)
		entries := []*txlog.Entry{
			{Sequence: 11, Kind: txlog.KindDonationAccepted, ProjectID: p.ID, Amount: 2500000},
			{Sequence: 14, Kind: txlog.KindMilestoneReleased, ProjectID: p.ID, Amount: 3000000},
		}

		projectRepo.On("GetByID", mock.Anything, p.ID).Return(p, nil)
		txlogRepo.On("GetByProjectID", mock.Anything, p.ID, 10, 10).Return(entries, nil)
		txlogRepo.On("CountByProjectID", mock.Anything, p.ID).Return(int64(12), nil)

		svc := NewProjectService(logger, projectRepo, txlogRepo)
		got, total, err := svc.GetProjectHistory(context.Background(), p.ID, 2, 10)

		require.NoError(t, err)
		assert.Equal(t, entries, got)
		assert.Equal(t, int64(12), total)
	})

	t.Run("UnknownProjectSkipsLogLookup", func(t *testing.T) {
		projectRepo := new(MockProjectRepository)
		txlogRepo := new(MockTxlogRepository)

		projectID := uuid.New()
		projectRepo.On("GetByID", mock.Anything, projectID).
			Return(nil, project.ErrProjectNotFound{ProjectID: projectID})

		svc := NewProjectService(logger, projectRepo, txlogRepo)
		_, _, err := svc.GetProjectHistory(context.Background(), projectID, 1, 10)

		assert.ErrorIs(t, err, project.ErrProjectNotFound{})
		txlogRepo.AssertNotCalled(t, "GetByProjectID")
	})
}

func TestProjectService_CompleteMilestone(t *testing.T) {
	logger := slog.Default()

	t.Run("RecordsProofAndPersists", func(t *testing.T) {
		projectRepo := new(MockProjectRepository)
		txlogRepo := new(MockTxlogRepository)

		p := activeProject(t)
		milestoneID := p.Milestones[0].ID

		projectRepo.On("GetByID", mock.Anything, p.ID).Return(p, nil)
		projectRepo.On("Update", mock.Anything, p).Return(nil)

		svc := NewProjectService(logger, projectRepo, txlogRepo)
		got, err := svc.CompleteMilestone(context.Background(), p.ID, milestoneID, "b94d27b9934d3e08")

		require.NoError(t, err)
		m, err := got.Milestone(milestoneID)
		require.NoError(t, err)
		assert.Equal(t, project.MilestoneStatusCompleted, m.Status)
		assert.Equal(t, "b94d27b9934d3e08", m.ProofHash)
		projectRepo.AssertExpectations(t)
	})

	t.Run("MissingProofNeverPersists", func(t *testing.T) {
		projectRepo := new(MockProjectRepository)
		txlogRepo := new(MockTxlogRepository)

		p := activeProject(t)
		projectRepo.On("GetByID", mock.Anything, p.ID).Return(p, nil)

		svc := NewProjectService(logger, projectRepo, txlogRepo)
		_, err := svc.CompleteMilestone(context.Background(), p.ID, p.Milestones[0].ID, "")

		assert.ErrorIs(t, err, project.ErrMissingProof)
		projectRepo.AssertNotCalled(t, "Update")
	})

	t.Run("VersionConflictPropagates", func(t *testing.T) {
		projectRepo := new(MockProjectRepository)
		txlogRepo := new(MockTxlogRepository)

		p := activeProject(t)
		projectRepo.On("GetByID", mock.Anything, p.ID).Return(p, nil)
		projectRepo.On("Update", mock.Anything, p).
			Return(project.ErrConcurrentModification{ProjectID: p.ID})

		svc := NewProjectService(logger, projectRepo, txlogRepo)
		_, err := svc.CompleteMilestone(context.Background(), p.ID, p.Milestones[0].ID, "deadbeef")

		var concurrentErr project.ErrConcurrentModification
		assert.ErrorAs(t, err, &concurrentErr)
	})
}

func TestProjectService_StartMilestone(t *testing.T) {
	logger := slog.Default()

	t.Run("TransitionsPendingMilestone", func(t *testing.T) {
		projectRepo := new(MockProjectRepository)
		txlogRepo := new(MockTxlogRepository)

		p := activeProject(t)
		milestoneID := p.Milestones[0].ID
		projectRepo.On("GetByID", mock.Anything, p.ID).Return(p, nil)
		projectRepo.On("Update", mock.Anything, p).Return(nil)

		svc := NewProjectService(logger, projectRepo, txlogRepo)
		got, err := svc.StartMilestone(context.Background(), p.ID, milestoneID)

		require.NoError(t, err)
		m, err := got.Milestone(milestoneID)
		require.NoError(t, err)
		assert.Equal(t, project.MilestoneStatusInProgress, m.Status)
	})

	t.Run("SecondStartRejected", func(t *testing.T) {
		projectRepo := new(MockProjectRepository)
		txlogRepo := new(MockTxlogRepository)

		p := activeProject(t)
		milestoneID := p.Milestones[0].ID
		require.NoError(t, p.StartMilestone(milestoneID))

		projectRepo.On("GetByID", mock.Anything, p.ID).Return(p, nil)

		svc := NewProjectService(logger, projectRepo, txlogRepo)
		_, err := svc.StartMilestone(context.Background(), p.ID, milestoneID)

		assert.ErrorIs(t, err, project.ErrInvalidTransition)
		projectRepo.AssertNotCalled(t, "Update")
	})
}
