package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/aidchain-escrow-ledger/internal/config"
	"github.com/aidchain-escrow-ledger/internal/data/mongo"
	"github.com/aidchain-escrow-ledger/internal/data/postgres"
	"github.com/aidchain-escrow-ledger/internal/escrow_processor/components"
	"github.com/aidchain-escrow-ledger/internal/escrow_processor/consumer"
	"github.com/aidchain-escrow-ledger/internal/escrow_processor/outbox_poller"
	"github.com/aidchain-escrow-ledger/internal/escrow_processor/reconciliation_poller"
	"github.com/aidchain-escrow-ledger/internal/escrow_processor/service"
	"github.com/aidchain-escrow-ledger/internal/logger"
	"github.com/aidchain-escrow-ledger/internal/platform/bridge"
	"github.com/aidchain-escrow-ledger/internal/platform/messaging/consumers"
	"github.com/aidchain-escrow-ledger/internal/platform/messaging/producers"
	"github.com/aidchain-escrow-ledger/internal/platform/persistence"
)

func main() {
	// Create base context with cancellation
	appCtx, cancelAppCtx := context.WithCancel(context.Background())
	defer cancelAppCtx()

	// Initialize configuration
	cfg, err := config.LoadConfig("escrow_processor")
	if err != nil {
		// logger is not initialized yet, so we use fmt
		fmt.Printf("Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log := logger.NewLogger(cfg)

	log.Info("Starting Escrow Processor",
		"app_name", cfg.Application.Name,
		"env", cfg.Application.Env,
	)

	// Initialize databases with app context
	postgresDB, err := persistence.NewPostgresDB(appCtx, log, &cfg.Postgres)
	if err != nil {
		log.Error("Failed to initialize PostgreSQL", "error", err)
		os.Exit(1)
	}

	mongoDB, err := persistence.NewMongoDB(appCtx, log, &cfg.MongoDB)
	if err != nil {
		log.Error("Failed to initialize MongoDB", "error", err)
		os.Exit(1)
	}

	// Initialize repositories
	projectRepo := postgres.NewProjectRepository(log, postgresDB)
	donationRepo := postgres.NewDonationRepository(log, postgresDB)
	reconRepo := postgres.NewReconciliationRepository(log, postgresDB)
	outboxRepo := postgres.NewOutboxRepository(log, postgresDB)
	txlogRepo := mongo.NewTxLogRepository(log, mongoDB.Database())
	if err := txlogRepo.EnsureIndexes(appCtx); err != nil {
		log.Error("Failed to ensure transaction log indexes", "error", err)
		os.Exit(1)
	}

	// Initialize the settlement bridge client
	settlementAdapter := bridge.NewClient(&cfg.Settlement, log)

	// Initialize Kafka consumer
	kafkaConsumer := consumers.NewKafkaConsumer(appCtx, log, &cfg.Kafka)

	// Initialize Kafka DLQ producer
	dlqProducer, err := producers.NewDLQProducer(appCtx, log, &cfg.Kafka)
	if err != nil {
		log.Error("Failed to initialize DLQ Kafka producer", "error", err)
		os.Exit(1)
	}
	// dlqProducer might be nil if DLQTopic is not configured. Handler should be nil-safe.

	// Initialize Kafka producer for the audit feed
	auditProducer, err := producers.NewAuditFeedProducer(appCtx, log, &cfg.Kafka)
	if err != nil {
		log.Error("Failed to initialize audit feed Kafka producer", "error", err)
		os.Exit(1)
	}

	// Initialize the escrow engine with separated concerns
	engine := components.CreateEscrowEngine(
		postgresDB,
		projectRepo,
		donationRepo,
		reconRepo,
		outboxRepo,
		txlogRepo,
		settlementAdapter,
		log,
		cfg,
	)

	// Initialize escrow event handler
	escrowEventHandler := consumer.NewEscrowEventHandler(
		log,
		engine.Processing,
		dlqProducer,
	)

	// Initialize outbox poller
	auditPublisher := outbox_poller.NewAuditPublisher(
		outboxRepo,
		auditProducer,
		log,
	)
	outboxPoller := outbox_poller.NewPoller(
		&cfg.Outbox,
		outboxRepo,
		auditPublisher,
		log,
	)

	// Initialize reconciliation poller
	reconPoller := reconciliation_poller.NewPoller(
		&cfg.Reconciliation,
		reconRepo,
		engine.Reconciler,
		log,
	)

	// Create error channel for service errors
	errChan := make(chan error, 2)

	// Create wait group for graceful shutdown
	var wg sync.WaitGroup

	// Start Kafka consumer in a goroutine
	wg.Add(1)
	go func() {
		defer wg.Done()
		log.Info("Starting Kafka consumer",
			"topic", cfg.Kafka.EscrowTopic,
			"group", cfg.Kafka.ConsumerGroup,
		)
		if err := kafkaConsumer.Subscribe(appCtx, cfg.Kafka.EscrowTopic, cfg.Kafka.ConsumerGroup, escrowEventHandler.HandleMessage); err != nil {
			errChan <- fmt.Errorf("kafka consumer error: %w", err)
		}
	}()

	// Start outbox poller in a goroutine
	wg.Add(1)
	go func() {
		defer wg.Done()
		outboxPoller.Start(appCtx)
	}()

	// Start reconciliation poller in a goroutine
	wg.Add(1)
	go func() {
		defer wg.Done()
		reconPoller.Start(appCtx)
	}()

	// Set up signal handling
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	// Wait for a shutdown signal or error
	var serviceErr error
	select {
	case <-quit:
		log.Info("Shutdown signal received")
	case err := <-errChan:
		log.Error("Service error occurred", "error", err)
		serviceErr = err
	}

	// Cancel the application context
	cancelAppCtx()

	// Shutdown the worker pool if it's a WorkerPoolProcessingService
	if wpService, ok := engine.Processing.(*service.WorkerPoolProcessingService); ok {
		log.Info("Shutting down worker pool", "running_workers", wpService.Running())
		wpService.Shutdown()
	}

	// Create a shutdown context with timeout
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelShutdown()

	// Graceful shutdown sequence
	log.Info("Starting graceful shutdown...")

	// Wait for all goroutines to finish
	log.Info("Waiting for services to stop...")
	wgChan := make(chan struct{})
	go func() {
		wg.Wait()
		close(wgChan)
	}()

	select {
	case <-wgChan:
		log.Info("All services stopped successfully")
	case <-shutdownCtx.Done():
		log.Warn("Shutdown timeout reached, forcing exit")
	}

	// Close DLQ Kafka producer
	if dlqProducer != nil { // dlqProducer can be nil if DLQTopic was not configured
		if err = dlqProducer.Close(); err != nil {
			log.Error("Error closing DLQ Kafka producer", "error", err)
		}
	}

	// Close the audit feed producer
	if err = auditProducer.Close(); err != nil {
		log.Error("Error closing audit feed Kafka producer", "error", err)
	}

	// Close Kafka consumer
	if err = kafkaConsumer.Close(); err != nil {
		log.Error("Error closing Kafka consumer", "error", err)
	}

	// Shutdown postgres connection pool
	postgresDB.Close()

	// Close MongoDB connection
	if err = mongoDB.Close(shutdownCtx); err != nil {
		log.Error("Error closing MongoDB connection", "error", err)
	}

	// Final status
	if serviceErr != nil {
		log.Error("Escrow Processor shutdown with errors", "error", serviceErr)
	}
	if err != nil {
		log.Error("Escrow Processor shutdown completed with errors")
	} else {
		log.Info("Escrow Processor shutdown completed successfully")
	}
}
