package components

import (
	"log/slog"

	"github.com/aidchain-escrow-ledger/internal/config"
	"github.com/aidchain-escrow-ledger/internal/domain/donation"
	"github.com/aidchain-escrow-ledger/internal/domain/outbox"
	"github.com/aidchain-escrow-ledger/internal/domain/project"
	"github.com/aidchain-escrow-ledger/internal/domain/reconciliation"
	"github.com/aidchain-escrow-ledger/internal/domain/settlement"
	"github.com/aidchain-escrow-ledger/internal/domain/txlog"
	"github.com/aidchain-escrow-ledger/internal/escrow_processor/service"
	"github.com/aidchain-escrow-ledger/internal/platform/persistence"
)

// Engine bundles the processing service with the reconciler so the
// processor binary can wire both from one construction site.
type Engine struct {
	Processing service.ProcessingService
	Reconciler service.Reconciler
}

// CreateEscrowEngine creates the escrow processing service with all its
// dependencies.
func CreateEscrowEngine(
	pgDB *persistence.PostgresDB,
	projectRepo project.Repository,
	donationRepo donation.Repository,
	reconRepo reconciliation.Repository,
	outboxRepo outbox.Repository,
	txlogRepo txlog.Repository,
	adapter settlement.Adapter,
	logger *slog.Logger,
	cfg *config.Config,
) *Engine {
	locks := service.NewProjectLocks()

	validator := NewRequestValidator(txlogRepo, reconRepo, logger)
	projectManager := NewProjectManager(projectRepo, cfg.Settlement.EscrowAccount, cfg.Settlement.RefundAccount, logger)
	settlementExecutor := NewSettlementExecutor(adapter, cfg.Settlement.TransferTimeout, logger)
	logAppender := NewLogAppender(txlogRepo, logger)
	donationRecorder := NewDonationRecorder(donationRepo, logger)
	outboxManager := NewOutboxManager(outboxRepo, logger)
	failureRecorder := NewFailureRecorder(txlogRepo, logger)

	reconciler := NewReconciler(
		pgDB,
		projectRepo,
		reconRepo,
		txlogRepo,
		adapter,
		projectManager,
		logAppender,
		donationRecorder,
		outboxManager,
		failureRecorder,
		locks,
		logger.With("component", "reconciler"),
	)

	baseService := service.NewEscrowEngine(
		pgDB,
		validator,
		projectManager,
		settlementExecutor,
		logAppender,
		donationRecorder,
		outboxManager,
		failureRecorder,
		reconciler,
		locks,
		logger,
	)

	workerPoolService, err := service.NewWorkerPoolProcessingService(
		baseService,
		service.WorkerPoolConfig{
			Size: cfg.WorkerPool.Size,
		},
		logger.With("component", "worker_pool"),
	)

	if err != nil {
		logger.Error("Failed to create worker pool service, falling back to base service", "error", err)
		return &Engine{Processing: baseService, Reconciler: reconciler}
	}

	logger.Info("Created worker pool processing service", "pool_size", cfg.WorkerPool.Size)
	return &Engine{Processing: workerPoolService, Reconciler: reconciler}
}
