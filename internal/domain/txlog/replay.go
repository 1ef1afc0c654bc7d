package txlog

import (
	"context"
	"fmt"

	"github.com/aidchain-escrow-ledger/internal/domain/project"
)

// ReplayProject folds an ordered sequence of log entries over a draft
// project and returns the reconstructed ledger state. Applying the same
// entries to the same draft always yields the same result, so a snapshot
// lost in a crash can be rebuilt from the log alone.
//
// Failed operations are audit records, not mutations; they are skipped.
func ReplayProject(draft *project.Project, entries []*Entry) (*project.Project, error) {
	replayed := *draft
	replayed.Milestones = make([]project.Milestone, len(draft.Milestones))
	copy(replayed.Milestones, draft.Milestones)

	if err := replayed.Activate(); err != nil {
		return nil, fmt.Errorf("replay: cannot activate draft: %w", err)
	}

	for _, entry := range entries {
		if entry.ProjectID != draft.ID {
			return nil, fmt.Errorf("replay: entry %d belongs to project %s", entry.Sequence, entry.ProjectID)
		}

		var err error
		switch entry.Kind {
		case KindDonationAccepted:
			err = replayed.RecordDonation(entry.Amount)
		case KindMilestoneReleased:
			if entry.MilestoneID == nil {
				return nil, fmt.Errorf("replay: release entry %d has no milestone", entry.Sequence)
			}
			err = replayed.RestoreVerifiedMilestone(*entry.MilestoneID, entry.Timestamp)
		case KindRefundIssued:
			_, err = replayed.Cancel()
		case KindDonationFailed, KindReleaseFailed, KindRefundFailed:
			// No state change to replay
		default:
			return nil, fmt.Errorf("replay: unknown entry kind %q at sequence %d", entry.Kind, entry.Sequence)
		}
		if err != nil {
			return nil, fmt.Errorf("replay: entry %d (%s): %w", entry.Sequence, entry.Kind, err)
		}
	}

	return &replayed, nil
}

// ReplayProjectFromCursor drains a repository cursor and folds its entries,
// for reconstruction paths that stream the log instead of holding it in
// memory.
func ReplayProjectFromCursor(ctx context.Context, draft *project.Project, cursor Cursor) (*project.Project, error) {
	var entries []*Entry
	for {
		entry, err := cursor.Next(ctx)
		if err != nil {
			return nil, fmt.Errorf("replay: cursor: %w", err)
		}
		if entry == nil {
			break
		}
		entries = append(entries, entry)
	}
	return ReplayProject(draft, entries)
}
