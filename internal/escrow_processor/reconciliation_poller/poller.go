// Package reconciliation_poller periodically re-checks operations whose
// settlement outcome came back unknown. Each open record is resolved
// through the adapter's status query; confirmed transfers commit their
// pending mutation exactly once, failed transfers unfreeze the project with
// nothing committed.
package reconciliation_poller

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/aidchain-escrow-ledger/internal/config"
	"github.com/aidchain-escrow-ledger/internal/domain/reconciliation"
	"github.com/aidchain-escrow-ledger/internal/escrow_processor/service"
)

// Poller drives resolution of open reconciliation records
type Poller struct {
	reconRepo    reconciliation.Repository
	reconciler   service.Reconciler
	logger       *slog.Logger
	pollInterval time.Duration
	batchSize    int
}

func NewPoller(
	cfg *config.ReconciliationConfig,
	reconRepo reconciliation.Repository,
	reconciler service.Reconciler,
	logger *slog.Logger,
) *Poller {
	return &Poller{
		reconRepo:    reconRepo,
		reconciler:   reconciler,
		logger:       logger,
		pollInterval: cfg.PollingInterval,
		batchSize:    cfg.BatchSize,
	}
}

// Start begins polling until context is canceled
func (p *Poller) Start(ctx context.Context) {
	p.logger.Info("Starting Reconciliation Poller",
		"poll_interval", p.pollInterval.String(),
		"batch_size", p.batchSize,
	)
	ticker := time.NewTicker(p.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("Reconciliation Poller stopping due to context cancellation.")
			return
		case <-ticker.C:
			p.logger.Debug("Reconciliation Poller tick: resolving open records")
			if err := p.resolveOpenRecords(ctx); err != nil {
				p.logger.Error("Error during batch resolution of reconciliation records", "error", err)
			}
		}
	}
}

func (p *Poller) resolveOpenRecords(ctx context.Context) error {
	records, err := p.reconRepo.GetOpen(ctx, p.batchSize)
	if err != nil {
		return fmt.Errorf("failed to get open reconciliation records: %w", err)
	}

	if len(records) == 0 {
		p.logger.Debug("No open reconciliation records found.")
		return nil
	}

	p.logger.Info("Fetched open reconciliation records", "count", len(records))

	for _, record := range records {
		logger := p.logger
		if record.CorrelationID != "" {
			logger = p.logger.With("correlation_id", record.CorrelationID)
		}

		if err := p.reconciler.Resolve(ctx, record); err != nil {
			logger.Error("Failed to resolve reconciliation record",
				"idempotency_key", record.IdempotencyKey,
				"project_id", record.ProjectID.String(),
				"error", err,
			)
			// Leave the record open; the next cycle retries it
			continue
		}
	}
	return nil
}
