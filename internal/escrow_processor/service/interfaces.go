package service

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/aidchain-escrow-ledger/internal/domain/project"
	"github.com/aidchain-escrow-ledger/internal/domain/reconciliation"
	"github.com/aidchain-escrow-ledger/internal/domain/settlement"
	"github.com/aidchain-escrow-ledger/internal/domain/shared"
	"github.com/aidchain-escrow-ledger/internal/domain/txlog"
)

// ProcessingService defines the interface for processing escrow requests.
type ProcessingService interface {
	ProcessEscrowRequest(ctx context.Context, request *shared.EscrowRequest) error
}

// AppliedMutation describes an escrow operation applied to a project
// aggregate in memory but not yet settled or persisted. The transfer is the
// external movement of value the mutation depends on; Transfer.Amount of
// zero means no money needs to move (e.g. cancelling an unfunded project).
type AppliedMutation struct {
	Kind        txlog.Kind
	Amount      int64
	MilestoneID *uuid.UUID
	Transfer    settlement.TransferRequest
}

// RequestValidator validates escrow requests before processing
type RequestValidator interface {
	Validate(ctx context.Context, request *shared.EscrowRequest) error
	// CheckIdempotency returns the log entry already recorded under the
	// request's key, if any, and whether a reconciliation record owns the
	// outcome.
	CheckIdempotency(ctx context.Context, request *shared.EscrowRequest) (*txlog.Entry, bool, error)
}

// ProjectManager locks project snapshots and applies escrow operations to
// them during processing
type ProjectManager interface {
	LockAndApply(ctx context.Context, tx pgx.Tx, request *shared.EscrowRequest) (*project.Project, *AppliedMutation, error)
	Apply(p *project.Project, request *shared.EscrowRequest) (*AppliedMutation, error)
	Persist(ctx context.Context, tx pgx.Tx, p *project.Project) error
}

// SettlementExecutor runs the external value transfer for an applied
// mutation with a bounded timeout
type SettlementExecutor interface {
	Execute(ctx context.Context, request *shared.EscrowRequest, transfer settlement.TransferRequest) (*settlement.Settlement, error)
}

// LogAppender writes confirmed operations to the transaction log
type LogAppender interface {
	AppendConfirmed(ctx context.Context, request *shared.EscrowRequest, applied *AppliedMutation, stl *settlement.Settlement) (*txlog.Entry, error)
}

// DonationRecorder persists accepted donation records
type DonationRecorder interface {
	RecordAccepted(ctx context.Context, tx pgx.Tx, request *shared.EscrowRequest, stl *settlement.Settlement) error
}

// OutboxManager stages committed log entries for audit feed publishing
type OutboxManager interface {
	CreateOutboxEntry(ctx context.Context, tx pgx.Tx, entry *txlog.Entry) error
	// HasEntryForSequence reports whether a log entry's outbox row exists.
	// The row is written in the same database transaction as the snapshot
	// mutation, so its presence proves that transaction committed.
	HasEntryForSequence(ctx context.Context, sequence int64) (bool, error)
}

// FailureRecorder records rejected escrow operations in the transaction log
type FailureRecorder interface {
	RecordFailure(ctx context.Context, request *shared.EscrowRequest, failureReason string) error
}

// Reconciler freezes projects whose settlement outcome is unknown and later
// resolves them through the adapter's status query
type Reconciler interface {
	Open(ctx context.Context, tx pgx.Tx, request *shared.EscrowRequest) error
	Resolve(ctx context.Context, record *reconciliation.Record) error
}
