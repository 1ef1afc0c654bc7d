package project

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestProject(t *testing.T) *Project {
	t.Helper()
	p, err := NewProject(
		"Borehole Rehabilitation",
		"Restore six boreholes in the Turkana region",
		"Turkana, Kenya",
		CategoryDrought,
		"0.0.4821337",
		5000000,
		[]MilestoneDraft{
			{Title: "Site survey", Description: "Survey and water table assessment", TargetAmount: 2500000},
			{Title: "Drilling", Description: "Rehabilitate pumps and casings", TargetAmount: 1500000},
			{Title: "Handover", Description: "Community training and handover", TargetAmount: 1000000},
		},
	)
	require.NoError(t, err)
	return p
}

func newActiveProject(t *testing.T) *Project {
	t.Helper()
	p := newTestProject(t)
	require.NoError(t, p.Activate())
	return p
}

func TestNewProject(t *testing.T) {
	t.Run("SuccessfulCreation", func(t *testing.T) {
		beforeCreation := time.Now()
		p := newTestProject(t)
		afterCreation := time.Now()

		assert.NotEqual(t, uuid.Nil, p.ID)
		assert.Equal(t, StatusDraft, p.Status)
		assert.Equal(t, int64(5000000), p.TargetAmount)
		assert.Zero(t, p.RaisedAmount)
		assert.Zero(t, p.ReleasedAmount)
		assert.Equal(t, 1, p.Version)
		require.Len(t, p.Milestones, 3)
		for _, m := range p.Milestones {
			assert.NotEqual(t, uuid.Nil, m.ID)
			assert.Equal(t, MilestoneStatusPending, m.Status)
			assert.Empty(t, m.ProofHash)
		}
		assert.WithinDuration(t, beforeCreation, p.CreatedAt, afterCreation.Sub(beforeCreation)+time.Millisecond)
	})

	t.Run("EmptyName", func(t *testing.T) {
		_, err := NewProject("", "d", "l", CategoryOther, "0.0.1", 100, []MilestoneDraft{{Title: "m", TargetAmount: 100}})
		assert.ErrorIs(t, err, ErrEmptyName)
	})

	t.Run("EmptyNGOAccount", func(t *testing.T) {
		_, err := NewProject("n", "d", "l", CategoryOther, "", 100, []MilestoneDraft{{Title: "m", TargetAmount: 100}})
		assert.ErrorIs(t, err, ErrEmptyNGOAccount)
	})

	t.Run("NonPositiveTarget", func(t *testing.T) {
		_, err := NewProject("n", "d", "l", CategoryOther, "0.0.1", 0, []MilestoneDraft{{Title: "m", TargetAmount: 100}})
		assert.ErrorIs(t, err, ErrInvalidAmount)
	})

	t.Run("NonPositiveMilestoneAmount", func(t *testing.T) {
		_, err := NewProject("n", "d", "l", CategoryOther, "0.0.1", 100, []MilestoneDraft{{Title: "m", TargetAmount: -5}})
		assert.ErrorIs(t, err, ErrInvalidAmount)
	})

	t.Run("NoMilestones", func(t *testing.T) {
		_, err := NewProject("n", "d", "l", CategoryOther, "0.0.1", 100, nil)
		assert.ErrorIs(t, err, ErrNoMilestones)
	})
}

func TestProject_Activate(t *testing.T) {
	t.Run("SuccessfulActivation", func(t *testing.T) {
		p := newTestProject(t)
		initialVersion := p.Version

		err := p.Activate()

		require.NoError(t, err)
		assert.Equal(t, StatusActive, p.Status)
		assert.Equal(t, initialVersion+1, p.Version)
	})

	t.Run("MilestoneSumMismatch", func(t *testing.T) {
		// Milestones sum to 49999 against a target of 50000
		p, err := NewProject("n", "d", "l", CategoryHunger, "0.0.1", 50000, []MilestoneDraft{
			{Title: "a", TargetAmount: 25000},
			{Title: "b", TargetAmount: 15000},
			{Title: "c", TargetAmount: 9999},
		})
		require.NoError(t, err)

		err = p.Activate()

		assert.ErrorIs(t, err, ErrMilestoneSumMismatch)
		assert.Equal(t, StatusDraft, p.Status, "project must never reach active")
	})

	t.Run("AlreadyActive", func(t *testing.T) {
		p := newActiveProject(t)
		assert.ErrorIs(t, p.Activate(), ErrInvalidState)
	})
}

func TestProject_RecordDonation(t *testing.T) {
	t.Run("SumOfAcceptedAmounts", func(t *testing.T) {
		p := newActiveProject(t)

		amounts := []int64{100, 2500, 1, 999999}
		var sum int64
		for _, a := range amounts {
			require.NoError(t, p.RecordDonation(a))
			sum += a
		}

		assert.Equal(t, sum, p.RaisedAmount)
	})

	t.Run("NegativeAmountRejectedWithoutMutation", func(t *testing.T) {
		p := newActiveProject(t)
		before := *p

		err := p.RecordDonation(-5)

		assert.ErrorIs(t, err, ErrInvalidAmount)
		assert.Equal(t, before.RaisedAmount, p.RaisedAmount)
		assert.Equal(t, before.Version, p.Version)
	})

	t.Run("ZeroAmountRejected", func(t *testing.T) {
		p := newActiveProject(t)
		assert.ErrorIs(t, p.RecordDonation(0), ErrInvalidAmount)
		assert.Zero(t, p.RaisedAmount)
	})

	t.Run("DraftProjectRejected", func(t *testing.T) {
		p := newTestProject(t)
		assert.ErrorIs(t, p.RecordDonation(100), ErrInvalidState)
	})

	t.Run("CancelledProjectRejected", func(t *testing.T) {
		p := newActiveProject(t)
		_, err := p.Cancel()
		require.NoError(t, err)
		assert.ErrorIs(t, p.RecordDonation(100), ErrInvalidState)
	})

	t.Run("OverfundingAcceptedAndFlagged", func(t *testing.T) {
		p := newActiveProject(t)
		require.NoError(t, p.RecordDonation(p.TargetAmount+1))
		assert.True(t, p.Overfunded())
	})
}

func TestProject_MilestoneTransitions(t *testing.T) {
	t.Run("StartThenComplete", func(t *testing.T) {
		p := newActiveProject(t)
		m := p.Milestones[0]

		require.NoError(t, p.StartMilestone(m.ID))
		assert.Equal(t, MilestoneStatusInProgress, p.Milestones[0].Status)

		require.NoError(t, p.MarkMilestoneCompleted(m.ID, "sha256:abc123"))
		assert.Equal(t, MilestoneStatusCompleted, p.Milestones[0].Status)
		assert.Equal(t, "sha256:abc123", p.Milestones[0].ProofHash)
		require.NotNil(t, p.Milestones[0].CompletedAt)
	})

	t.Run("PendingCompletedDirectlyWithProof", func(t *testing.T) {
		p := newActiveProject(t)
		m := p.Milestones[0]

		require.NoError(t, p.MarkMilestoneCompleted(m.ID, "sha256:abc123"))
		assert.Equal(t, MilestoneStatusCompleted, p.Milestones[0].Status)
	})

	t.Run("CompleteWithoutProofRejected", func(t *testing.T) {
		p := newActiveProject(t)
		assert.ErrorIs(t, p.MarkMilestoneCompleted(p.Milestones[0].ID, ""), ErrMissingProof)
	})

	t.Run("StartTwiceRejected", func(t *testing.T) {
		p := newActiveProject(t)
		require.NoError(t, p.StartMilestone(p.Milestones[0].ID))
		assert.ErrorIs(t, p.StartMilestone(p.Milestones[0].ID), ErrInvalidTransition)
	})

	t.Run("CompleteTwiceRejected", func(t *testing.T) {
		p := newActiveProject(t)
		require.NoError(t, p.MarkMilestoneCompleted(p.Milestones[0].ID, "sha256:abc"))
		assert.ErrorIs(t, p.MarkMilestoneCompleted(p.Milestones[0].ID, "sha256:abc"), ErrInvalidTransition)
	})

	t.Run("UnknownMilestone", func(t *testing.T) {
		p := newActiveProject(t)
		unknown := uuid.New()

		err := p.StartMilestone(unknown)

		assert.ErrorIs(t, err, ErrMilestoneNotFound{})
		assert.ErrorIs(t, err, ErrMilestoneNotFound{MilestoneID: unknown})
	})
}

func TestProject_VerifyMilestone(t *testing.T) {
	t.Run("ReleaseAgainstSufficientFunds", func(t *testing.T) {
		// Target 50000 split [25000, 15000, 10000]; donations total 32500.
		p, err := NewProject("n", "d", "l", CategoryPoverty, "0.0.1", 50000, []MilestoneDraft{
			{Title: "a", TargetAmount: 25000},
			{Title: "b", TargetAmount: 15000},
			{Title: "c", TargetAmount: 10000},
		})
		require.NoError(t, err)
		require.NoError(t, p.Activate())
		require.NoError(t, p.RecordDonation(32500))

		require.NoError(t, p.MarkMilestoneCompleted(p.Milestones[0].ID, "sha256:proof-a"))
		require.NoError(t, p.VerifyMilestone(p.Milestones[0].ID))
		assert.Equal(t, int64(25000), p.ReleasedAmount)
		assert.Equal(t, int64(7500), p.Undisbursed())

		// 7500 undisbursed cannot cover the 15000 tranche
		require.NoError(t, p.MarkMilestoneCompleted(p.Milestones[1].ID, "sha256:proof-b"))
		err = p.VerifyMilestone(p.Milestones[1].ID)
		assert.ErrorIs(t, err, ErrInsufficientFunds)
		assert.Equal(t, int64(25000), p.ReleasedAmount, "failed verification must not release funds")
	})

	t.Run("VerifyTwiceNeverReleasesTwice", func(t *testing.T) {
		p := newActiveProject(t)
		require.NoError(t, p.RecordDonation(p.TargetAmount))
		m := p.Milestones[0]
		require.NoError(t, p.MarkMilestoneCompleted(m.ID, "sha256:proof"))
		require.NoError(t, p.VerifyMilestone(m.ID))
		released := p.ReleasedAmount

		err := p.VerifyMilestone(m.ID)

		assert.ErrorIs(t, err, ErrInvalidTransition)
		assert.Equal(t, released, p.ReleasedAmount)
	})

	t.Run("VerifyWithoutCompletionRejected", func(t *testing.T) {
		p := newActiveProject(t)
		require.NoError(t, p.RecordDonation(p.TargetAmount))
		assert.ErrorIs(t, p.VerifyMilestone(p.Milestones[0].ID), ErrInvalidTransition)
	})

	t.Run("ReleasedNeverExceedsRaised", func(t *testing.T) {
		p := newActiveProject(t)
		require.NoError(t, p.RecordDonation(p.TargetAmount))
		for _, m := range p.Milestones {
			require.NoError(t, p.MarkMilestoneCompleted(m.ID, "sha256:proof"))
			require.NoError(t, p.VerifyMilestone(m.ID))
			assert.LessOrEqual(t, p.ReleasedAmount, p.RaisedAmount)
		}
	})

	t.Run("AllVerifiedCompletesProject", func(t *testing.T) {
		p := newActiveProject(t)
		require.NoError(t, p.RecordDonation(p.TargetAmount))
		for _, m := range p.Milestones {
			require.NoError(t, p.MarkMilestoneCompleted(m.ID, "sha256:proof"))
			require.NoError(t, p.VerifyMilestone(m.ID))
		}
		assert.Equal(t, StatusCompleted, p.Status)
		assert.Equal(t, p.TargetAmount, p.ReleasedAmount)
	})
}

func TestProject_Cancel(t *testing.T) {
	t.Run("RefundableIsUndisbursed", func(t *testing.T) {
		p := newActiveProject(t)
		require.NoError(t, p.RecordDonation(4000000))
		require.NoError(t, p.MarkMilestoneCompleted(p.Milestones[0].ID, "sha256:proof"))
		require.NoError(t, p.VerifyMilestone(p.Milestones[0].ID))

		refundable, err := p.Cancel()

		require.NoError(t, err)
		assert.Equal(t, int64(4000000-2500000), refundable)
		assert.Equal(t, StatusCancelled, p.Status)
	})

	t.Run("CancelDraft", func(t *testing.T) {
		p := newTestProject(t)
		refundable, err := p.Cancel()
		require.NoError(t, err)
		assert.Zero(t, refundable)
	})

	t.Run("CancelCancelledRejected", func(t *testing.T) {
		p := newActiveProject(t)
		_, err := p.Cancel()
		require.NoError(t, err)
		_, err = p.Cancel()
		assert.ErrorIs(t, err, ErrInvalidState)
	})

	t.Run("CancelCompletedRejected", func(t *testing.T) {
		p := newActiveProject(t)
		require.NoError(t, p.RecordDonation(p.TargetAmount))
		for _, m := range p.Milestones {
			require.NoError(t, p.MarkMilestoneCompleted(m.ID, "sha256:proof"))
			require.NoError(t, p.VerifyMilestone(m.ID))
		}
		_, err := p.Cancel()
		assert.ErrorIs(t, err, ErrInvalidState)
	})
}

func TestProject_Reconciliation(t *testing.T) {
	t.Run("FreezeAndResolve", func(t *testing.T) {
		p := newActiveProject(t)

		require.NoError(t, p.BeginReconciliation())
		assert.Equal(t, StatusReconciling, p.Status)
		assert.ErrorIs(t, p.RecordDonation(100), ErrInvalidState, "reconciling project must reject mutations")

		require.NoError(t, p.ResolveReconciliation())
		assert.Equal(t, StatusActive, p.Status)
		assert.NoError(t, p.RecordDonation(100))
	})

	t.Run("OnlyActiveCanReconcile", func(t *testing.T) {
		p := newTestProject(t)
		assert.ErrorIs(t, p.BeginReconciliation(), ErrInvalidState)
	})
}

func TestProject_RestoreVerifiedMilestone(t *testing.T) {
	t.Run("RestoresReleaseWithoutProof", func(t *testing.T) {
		p := newActiveProject(t)
		require.NoError(t, p.RecordDonation(3000000))
		verifiedAt := time.Now().Add(-time.Hour)

		err := p.RestoreVerifiedMilestone(p.Milestones[0].ID, verifiedAt)

		require.NoError(t, err)
		assert.Equal(t, MilestoneStatusVerified, p.Milestones[0].Status)
		assert.Equal(t, int64(2500000), p.ReleasedAmount)
		require.NotNil(t, p.Milestones[0].VerifiedAt)
		assert.Equal(t, verifiedAt, *p.Milestones[0].VerifiedAt)
	})

	t.Run("AlreadyVerifiedRejected", func(t *testing.T) {
		p := newActiveProject(t)
		require.NoError(t, p.RecordDonation(p.TargetAmount))
		require.NoError(t, p.RestoreVerifiedMilestone(p.Milestones[0].ID, time.Now()))

		err := p.RestoreVerifiedMilestone(p.Milestones[0].ID, time.Now())

		assert.ErrorIs(t, err, ErrInvalidTransition)
	})
}
