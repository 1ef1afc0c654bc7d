package components

import (
	"context"
	"errors"
	"testing"
	"time"

	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/aidchain-escrow-ledger/internal/domain/project"
	"github.com/aidchain-escrow-ledger/internal/domain/reconciliation"
	"github.com/aidchain-escrow-ledger/internal/domain/settlement"
	"github.com/aidchain-escrow-ledger/internal/domain/shared"
	"github.com/aidchain-escrow-ledger/internal/domain/txlog"
	"github.com/aidchain-escrow-ledger/internal/escrow_processor/service"
)

// Mocks for the processing components the reconciler reuses

type MockProjectManager struct {
	mock.Mock
}

func (m *MockProjectManager) LockAndApply(ctx context.Context, tx pgx.Tx, request *shared.EscrowRequest) (*project.Project, *service.AppliedMutation, error) {
	args := m.Called(ctx, tx, request)
	if args.Get(0) == nil {
		return nil, nil, args.Error(2)
	}
	return args.Get(0).(*project.Project), args.Get(1).(*service.AppliedMutation), args.Error(2)
}

func (m *MockProjectManager) Apply(p *project.Project, request *shared.EscrowRequest) (*service.AppliedMutation, error) {
	args := m.Called(p, request)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*service.AppliedMutation), args.Error(1)
}

func (m *MockProjectManager) Persist(ctx context.Context, tx pgx.Tx, p *project.Project) error {
	args := m.Called(ctx, tx, p)
	return args.Error(0)
}

type MockLogAppender struct {
	mock.Mock
}

func (m *MockLogAppender) AppendConfirmed(ctx context.Context, request *shared.EscrowRequest, applied *service.AppliedMutation, stl *settlement.Settlement) (*txlog.Entry, error) {
	args := m.Called(ctx, request, applied, stl)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*txlog.Entry), args.Error(1)
}

type MockDonationRecorder struct {
	mock.Mock
}

func (m *MockDonationRecorder) RecordAccepted(ctx context.Context, tx pgx.Tx, request *shared.EscrowRequest, stl *settlement.Settlement) error {
	args := m.Called(ctx, tx, request, stl)
	return args.Error(0)
}

type MockOutboxManager struct {
	mock.Mock
}

func (m *MockOutboxManager) CreateOutboxEntry(ctx context.Context, tx pgx.Tx, entry *txlog.Entry) error {
	args := m.Called(ctx, tx, entry)
	return args.Error(0)
}

func (m *MockOutboxManager) HasEntryForSequence(ctx context.Context, sequence int64) (bool, error) {
	args := m.Called(ctx, sequence)
	return args.Bool(0), args.Error(1)
}

type MockFailureRecorder struct {
	mock.Mock
}

func (m *MockFailureRecorder) RecordFailure(ctx context.Context, request *shared.EscrowRequest, failureReason string) error {
	args := m.Called(ctx, request, failureReason)
	return args.Error(0)
}

type reconcilerMocks struct {
	projectRepo     *MockProjectRepo
	reconRepo       *MockReconRepo
	txlogRepo       *MockTxlogRepo
	adapter         *MockSettlementAdapter
	projectManager  *MockProjectManager
	logAppender     *MockLogAppender
	donations       *MockDonationRecorder
	outbox          *MockOutboxManager
	failureRecorder *MockFailureRecorder
	tx              *mockComponentTx
}

func newReconcilerWithMocks() (*ReconcilerImpl, *reconcilerMocks) {
	m := &reconcilerMocks{
		projectRepo:     &MockProjectRepo{},
		reconRepo:       &MockReconRepo{},
		txlogRepo:       &MockTxlogRepo{},
		adapter:         &MockSettlementAdapter{},
		projectManager:  &MockProjectManager{},
		logAppender:     &MockLogAppender{},
		donations:       &MockDonationRecorder{},
		outbox:          &MockOutboxManager{},
		failureRecorder: &MockFailureRecorder{},
		tx:              &mockComponentTx{},
	}

	r := &ReconcilerImpl{
		projectRepo:      m.projectRepo,
		reconRepo:        m.reconRepo,
		txlogRepo:        m.txlogRepo,
		adapter:          m.adapter,
		projectManager:   m.projectManager,
		logAppender:      m.logAppender,
		donationRecorder: m.donations,
		outboxManager:    m.outbox,
		failureRecorder:  m.failureRecorder,
		locks:            service.NewProjectLocks(),
		logger:           slog.Default(),
		beginTx: func(ctx context.Context) (pgx.Tx, error) {
			return m.tx, nil
		},
	}
	return r, m
}

func frozenTestProject(t *testing.T) *project.Project {
	t.Helper()
	p := activeTestProject(t)
	assert.NoError(t, p.BeginReconciliation())
	return p
}

func openDonationRecord(projectID uuid.UUID) *reconciliation.Record {
	return reconciliation.NewRecord(&shared.EscrowRequest{
		RequestID:      uuid.New(),
		ProjectID:      projectID,
		Operation:      shared.OperationDonate,
		DonorRef:       "0.0.1134",
		Amount:         100000,
		IdempotencyKey: shared.DeriveIdempotencyKey(projectID, shared.OperationDonate, "nonce-1"),
		CorrelationID:  "corr-3",
		Timestamp:      time.Now(),
	})
}

func TestReconciler_Open(t *testing.T) {
	r, m := newReconcilerWithMocks()
	p := activeTestProject(t)
	request := &shared.EscrowRequest{
		RequestID:      uuid.New(),
		ProjectID:      p.ID,
		Operation:      shared.OperationDonate,
		DonorRef:       "0.0.1134",
		Amount:         100000,
		IdempotencyKey: shared.DeriveIdempotencyKey(p.ID, shared.OperationDonate, "nonce-1"),
	}

	m.projectRepo.On("WithTx", m.tx).Return(m.projectRepo).Once()
	m.projectRepo.On("LockForUpdate", mock.Anything, p.ID).Return(p, nil).Once()
	m.projectRepo.On("Update", mock.Anything, p).Return(nil).Once()
	m.reconRepo.On("WithTx", m.tx).Return(m.reconRepo).Once()
	m.reconRepo.On("Create", mock.Anything, mock.MatchedBy(func(rec *reconciliation.Record) bool {
		return rec.IdempotencyKey == request.IdempotencyKey &&
			rec.Status == reconciliation.StatusOpen &&
			rec.Amount == 100000
	})).Return(nil).Once()

	err := r.Open(context.Background(), m.tx, request)
	assert.NoError(t, err)
	assert.Equal(t, project.StatusReconciling, p.Status, "project must freeze while the outcome is unknown")

	m.projectRepo.AssertExpectations(t)
	m.reconRepo.AssertExpectations(t)
}

func TestReconciler_Resolve(t *testing.T) {
	t.Run("confirmed outcome commits the pending donation", func(t *testing.T) {
		r, m := newReconcilerWithMocks()
		p := frozenTestProject(t)
		record := openDonationRecord(p.ID)
		applied := &service.AppliedMutation{Kind: txlog.KindDonationAccepted, Amount: 100000}
		entry := &txlog.Entry{Sequence: 21, Kind: txlog.KindDonationAccepted, ProjectID: p.ID}

		m.adapter.On("QueryStatus", mock.Anything, record.IdempotencyKey).Return(settlement.StatusConfirmed, nil).Once()
		m.projectRepo.On("WithTx", m.tx).Return(m.projectRepo).Once()
		m.projectRepo.On("LockForUpdate", mock.Anything, p.ID).Return(p, nil).Once()
		m.txlogRepo.On("GetByIdempotencyKey", mock.Anything, record.IdempotencyKey).Return(nil, nil).Once()
		m.projectManager.On("Apply", p, mock.Anything).Return(applied, nil).Once()
		m.logAppender.On("AppendConfirmed", mock.Anything, mock.Anything, applied, mock.MatchedBy(func(stl *settlement.Settlement) bool {
			return stl.Status == settlement.StatusConfirmed
		})).Return(entry, nil).Once()
		m.projectManager.On("Persist", mock.Anything, m.tx, p).Return(nil).Once()
		m.donations.On("RecordAccepted", mock.Anything, m.tx, mock.Anything, mock.Anything).Return(nil).Once()
		m.outbox.On("CreateOutboxEntry", mock.Anything, m.tx, entry).Return(nil).Once()
		m.reconRepo.On("WithTx", m.tx).Return(m.reconRepo).Once()
		m.reconRepo.On("Update", mock.Anything, record).Return(nil).Once()
		m.tx.On("Commit", mock.Anything).Return(nil).Once()

		err := r.Resolve(context.Background(), record)
		assert.NoError(t, err)
		assert.Equal(t, reconciliation.StatusSettled, record.Status)
		assert.Equal(t, project.StatusActive, p.Status, "project must unfreeze on resolution")

		m.adapter.AssertExpectations(t)
		m.projectManager.AssertExpectations(t)
		m.logAppender.AssertExpectations(t)
		m.donations.AssertExpectations(t)
		m.outbox.AssertExpectations(t)
		m.tx.AssertExpectations(t)
	})

	t.Run("confirmed outcome with previous log entry only closes the record", func(t *testing.T) {
		r, m := newReconcilerWithMocks()
		p := frozenTestProject(t)
		record := openDonationRecord(p.ID)
		existing := &txlog.Entry{Sequence: 21, Kind: txlog.KindDonationAccepted, IdempotencyKey: record.IdempotencyKey}

		m.adapter.On("QueryStatus", mock.Anything, record.IdempotencyKey).Return(settlement.StatusConfirmed, nil).Once()
		m.projectRepo.On("WithTx", m.tx).Return(m.projectRepo).Once()
		m.projectRepo.On("LockForUpdate", mock.Anything, p.ID).Return(p, nil).Once()
		m.txlogRepo.On("GetByIdempotencyKey", mock.Anything, record.IdempotencyKey).Return(existing, nil).Once()
		m.outbox.On("HasEntryForSequence", mock.Anything, existing.Sequence).Return(true, nil).Once()
		m.projectRepo.On("Update", mock.Anything, p).Return(nil).Once()
		m.reconRepo.On("WithTx", m.tx).Return(m.reconRepo).Once()
		m.reconRepo.On("Update", mock.Anything, record).Return(nil).Once()
		m.tx.On("Commit", mock.Anything).Return(nil).Once()

		err := r.Resolve(context.Background(), record)
		assert.NoError(t, err)
		assert.Equal(t, reconciliation.StatusSettled, record.Status)

		m.outbox.AssertExpectations(t)
		m.projectManager.AssertNotCalled(t, "Apply", mock.Anything, mock.Anything)
		m.logAppender.AssertNotCalled(t, "AppendConfirmed", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("logged entry without committed snapshot replays the commit phase", func(t *testing.T) {
		r, m := newReconcilerWithMocks()
		p := frozenTestProject(t)
		record := openDonationRecord(p.ID)
		applied := &service.AppliedMutation{Kind: txlog.KindDonationAccepted, Amount: 100000}
		existing := &txlog.Entry{
			Sequence:       21,
			Kind:           txlog.KindDonationAccepted,
			ProjectID:      p.ID,
			Amount:         100000,
			SettlementRef:  "0.0.9001@1756712000.000000001",
			IdempotencyKey: record.IdempotencyKey,
			Timestamp:      time.Now(),
		}

		m.adapter.On("QueryStatus", mock.Anything, record.IdempotencyKey).Return(settlement.StatusConfirmed, nil).Once()
		m.projectRepo.On("WithTx", m.tx).Return(m.projectRepo).Once()
		m.projectRepo.On("LockForUpdate", mock.Anything, p.ID).Return(p, nil).Once()
		m.txlogRepo.On("GetByIdempotencyKey", mock.Anything, record.IdempotencyKey).Return(existing, nil).Once()
		m.outbox.On("HasEntryForSequence", mock.Anything, existing.Sequence).Return(false, nil).Once()
		m.projectManager.On("Apply", p, mock.Anything).Return(applied, nil).Once()
		m.projectManager.On("Persist", mock.Anything, m.tx, p).Return(nil).Once()
		m.donations.On("RecordAccepted", mock.Anything, m.tx, mock.Anything, mock.MatchedBy(func(stl *settlement.Settlement) bool {
			return stl.SettlementRef == existing.SettlementRef && stl.Status == settlement.StatusConfirmed
		})).Return(nil).Once()
		m.outbox.On("CreateOutboxEntry", mock.Anything, m.tx, existing).Return(nil).Once()
		m.reconRepo.On("WithTx", m.tx).Return(m.reconRepo).Once()
		m.reconRepo.On("Update", mock.Anything, record).Return(nil).Once()
		m.tx.On("Commit", mock.Anything).Return(nil).Once()

		err := r.Resolve(context.Background(), record)
		assert.NoError(t, err)
		assert.Equal(t, reconciliation.StatusSettled, record.Status)
		assert.Equal(t, project.StatusActive, p.Status)

		m.projectManager.AssertExpectations(t)
		m.donations.AssertExpectations(t)
		m.outbox.AssertExpectations(t)
		m.logAppender.AssertNotCalled(t, "AppendConfirmed", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("failed outcome abandons and records the failure", func(t *testing.T) {
		r, m := newReconcilerWithMocks()
		p := frozenTestProject(t)
		record := openDonationRecord(p.ID)

		m.adapter.On("QueryStatus", mock.Anything, record.IdempotencyKey).Return(settlement.StatusFailed, nil).Once()
		m.projectRepo.On("WithTx", m.tx).Return(m.projectRepo).Once()
		m.projectRepo.On("LockForUpdate", mock.Anything, p.ID).Return(p, nil).Once()
		m.projectRepo.On("Update", mock.Anything, p).Return(nil).Once()
		m.reconRepo.On("WithTx", m.tx).Return(m.reconRepo).Once()
		m.reconRepo.On("Update", mock.Anything, record).Return(nil).Once()
		m.tx.On("Commit", mock.Anything).Return(nil).Once()
		m.failureRecorder.On("RecordFailure", mock.Anything, mock.Anything, string(shared.FailureReasonSettlementFailed)).Return(nil).Once()

		err := r.Resolve(context.Background(), record)
		assert.NoError(t, err)
		assert.Equal(t, reconciliation.StatusAbandoned, record.Status)
		assert.Equal(t, project.StatusActive, p.Status)
		assert.Equal(t, int64(5000000), p.RaisedAmount, "abandoned donation must not change the raised total")

		m.failureRecorder.AssertExpectations(t)
		m.projectManager.AssertNotCalled(t, "Apply", mock.Anything, mock.Anything)
	})

	t.Run("still unknown leaves the record open", func(t *testing.T) {
		r, m := newReconcilerWithMocks()
		record := openDonationRecord(uuid.New())

		m.adapter.On("QueryStatus", mock.Anything, record.IdempotencyKey).Return(settlement.StatusUnknown, nil).Once()

		err := r.Resolve(context.Background(), record)
		assert.NoError(t, err)
		assert.Equal(t, reconciliation.StatusOpen, record.Status)

		m.projectRepo.AssertNotCalled(t, "LockForUpdate", mock.Anything, mock.Anything)
		m.tx.AssertNotCalled(t, "Commit", mock.Anything)
	})

	t.Run("status query failure leaves the record open", func(t *testing.T) {
		r, m := newReconcilerWithMocks()
		record := openDonationRecord(uuid.New())

		m.adapter.On("QueryStatus", mock.Anything, record.IdempotencyKey).
			Return(settlement.StatusUnknown, errors.New("mirror node unavailable")).Once()

		err := r.Resolve(context.Background(), record)
		assert.Error(t, err)
		assert.Equal(t, reconciliation.StatusOpen, record.Status)
	})
}
