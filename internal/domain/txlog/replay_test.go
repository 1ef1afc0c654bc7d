package txlog

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aidchain-escrow-ledger/internal/domain/project"
)

func newDraft(t *testing.T) *project.Project {
	t.Helper()
	p, err := project.NewProject(
		"School Meals",
		"Daily meals for two schools",
		"Karamoja, Uganda",
		project.CategoryHunger,
		"0.0.9001",
		50000,
		[]project.MilestoneDraft{
			{Title: "Quarter one", TargetAmount: 25000},
			{Title: "Quarter two", TargetAmount: 15000},
			{Title: "Quarter three", TargetAmount: 10000},
		},
	)
	require.NoError(t, err)
	return p
}

func entriesFor(p *project.Project) []*Entry {
	m0 := p.Milestones[0].ID
	now := time.Now().UTC()
	return []*Entry{
		{Sequence: 1, Kind: KindDonationAccepted, ProjectID: p.ID, DonorRef: "donor-1", Amount: 20000, Timestamp: now},
		{Sequence: 2, Kind: KindDonationFailed, ProjectID: p.ID, DonorRef: "donor-2", Amount: 500, FailureReason: "SETTLEMENT_FAILED", Timestamp: now},
		{Sequence: 3, Kind: KindDonationAccepted, ProjectID: p.ID, DonorRef: "donor-3", Amount: 12500, Timestamp: now},
		{Sequence: 4, Kind: KindMilestoneReleased, ProjectID: p.ID, MilestoneID: &m0, Amount: 25000, Timestamp: now},
	}
}

func TestReplayProject(t *testing.T) {
	t.Run("ReproducesLiveState", func(t *testing.T) {
		draft := newDraft(t)

		// Live sequence of operations.
		live := *draft
		live.Milestones = append([]project.Milestone(nil), draft.Milestones...)
		require.NoError(t, live.Activate())
		require.NoError(t, live.RecordDonation(20000))
		require.NoError(t, live.RecordDonation(12500))
		require.NoError(t, live.MarkMilestoneCompleted(live.Milestones[0].ID, "sha256:q1-report"))
		require.NoError(t, live.VerifyMilestone(live.Milestones[0].ID))

		replayed, err := ReplayProject(draft, entriesFor(draft))

		require.NoError(t, err)
		assert.Equal(t, live.RaisedAmount, replayed.RaisedAmount)
		assert.Equal(t, live.ReleasedAmount, replayed.ReleasedAmount)
		assert.Equal(t, live.Status, replayed.Status)
		assert.Equal(t, project.MilestoneStatusVerified, replayed.Milestones[0].Status)
		assert.Equal(t, project.MilestoneStatusPending, replayed.Milestones[1].Status)
	})

	t.Run("Deterministic", func(t *testing.T) {
		draft := newDraft(t)
		entries := entriesFor(draft)

		first, err := ReplayProject(draft, entries)
		require.NoError(t, err)
		second, err := ReplayProject(draft, entries)
		require.NoError(t, err)

		assert.Equal(t, first.RaisedAmount, second.RaisedAmount)
		assert.Equal(t, first.ReleasedAmount, second.ReleasedAmount)
		assert.Equal(t, first.Status, second.Status)
	})

	t.Run("DraftUntouched", func(t *testing.T) {
		draft := newDraft(t)

		_, err := ReplayProject(draft, entriesFor(draft))

		require.NoError(t, err)
		assert.Equal(t, project.StatusDraft, draft.Status)
		assert.Zero(t, draft.RaisedAmount)
		assert.Equal(t, project.MilestoneStatusPending, draft.Milestones[0].Status)
	})

	t.Run("RefundEntry", func(t *testing.T) {
		draft := newDraft(t)
		entries := []*Entry{
			{Sequence: 1, Kind: KindDonationAccepted, ProjectID: draft.ID, Amount: 10000, Timestamp: time.Now()},
			{Sequence: 2, Kind: KindRefundIssued, ProjectID: draft.ID, Amount: 10000, Timestamp: time.Now()},
		}

		replayed, err := ReplayProject(draft, entries)

		require.NoError(t, err)
		assert.Equal(t, project.StatusCancelled, replayed.Status)
		assert.Equal(t, int64(10000), replayed.Undisbursed())
	})

	t.Run("FailedOperationsLeaveStateUntouched", func(t *testing.T) {
		draft := newDraft(t)
		m0 := draft.Milestones[0].ID
		entries := []*Entry{
			{Sequence: 1, Kind: KindDonationAccepted, ProjectID: draft.ID, Amount: 10000, Timestamp: time.Now()},
			{Sequence: 2, Kind: KindReleaseFailed, ProjectID: draft.ID, MilestoneID: &m0, FailureReason: "INVALID_MILESTONE_TRANSITION", Timestamp: time.Now()},
			{Sequence: 3, Kind: KindRefundFailed, ProjectID: draft.ID, FailureReason: "INVALID_PROJECT_STATE", Timestamp: time.Now()},
		}

		replayed, err := ReplayProject(draft, entries)

		require.NoError(t, err)
		assert.Equal(t, int64(10000), replayed.RaisedAmount)
		assert.Zero(t, replayed.ReleasedAmount)
		assert.Equal(t, project.MilestoneStatusPending, replayed.Milestones[0].Status)
	})

	t.Run("ForeignEntryRejected", func(t *testing.T) {
		draft := newDraft(t)
		entries := []*Entry{
			{Sequence: 1, Kind: KindDonationAccepted, ProjectID: uuid.New(), Amount: 100, Timestamp: time.Now()},
		}

		_, err := ReplayProject(draft, entries)

		assert.Error(t, err)
	})

	t.Run("UnknownKindRejected", func(t *testing.T) {
		draft := newDraft(t)
		entries := []*Entry{
			{Sequence: 1, Kind: Kind("MYSTERY"), ProjectID: draft.ID, Timestamp: time.Now()},
		}

		_, err := ReplayProject(draft, entries)

		assert.Error(t, err)
	})
}

type sliceCursor struct {
	entries []*Entry
	pos     int
}

func (c *sliceCursor) Next(_ context.Context) (*Entry, error) {
	if c.pos >= len(c.entries) {
		return nil, nil
	}
	e := c.entries[c.pos]
	c.pos++
	return e, nil
}

func (c *sliceCursor) Close(_ context.Context) error { return nil }

func TestReplayProjectFromCursor(t *testing.T) {
	t.Run("StreamedReplayMatchesSliceReplay", func(t *testing.T) {
		draft := newDraft(t)
		entries := entriesFor(draft)

		fromSlice, err := ReplayProject(draft, entries)
		require.NoError(t, err)

		fromCursor, err := ReplayProjectFromCursor(context.Background(), draft, &sliceCursor{entries: entries})
		require.NoError(t, err)

		assert.Equal(t, fromSlice.RaisedAmount, fromCursor.RaisedAmount)
		assert.Equal(t, fromSlice.ReleasedAmount, fromCursor.ReleasedAmount)
	})
}
