package producers

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/aidchain-escrow-ledger/internal/config"
	"github.com/segmentio/kafka-go"
)

// AuditFeedProducer publishes committed transaction log entries to the
// public audit feed. Writes are synchronous with full acks: the outbox
// poller must know a publish succeeded before marking the row processed.
type AuditFeedProducer struct {
	logger *slog.Logger
	writer KafkaWriter
	topic  string
}

func NewAuditFeedProducer(ctx context.Context, logger *slog.Logger, cfg *config.KafkaConfig) (*AuditFeedProducer, error) {
	if cfg.AuditTopic == "" {
		return nil, fmt.Errorf("kafka audit topic is not configured")
	}

	conn, err := kafka.Dial("tcp", cfg.Brokers)
	if err != nil {
		return nil, fmt.Errorf("failed to dial kafka for audit feed producer: %w", err)
	}
	defer conn.Close()

	err = createKafkaTopicIfNotExists(conn, cfg.AuditTopic, cfg.NumPartitions, cfg.ReplicationFactor, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to ensure audit topic %s exists for audit feed producer: %w", cfg.AuditTopic, err)
	}

	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers),
		Topic:        cfg.AuditTopic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		Async:        false,
		WriteTimeout: cfg.MaxWait,
	}

	return &AuditFeedProducer{
		logger: logger,
		writer: writer,
		topic:  cfg.AuditTopic,
	}, nil
}

func (p *AuditFeedProducer) Publish(ctx context.Context, key string, value interface{}) error {
	jsonValue, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal message value for audit feed producer: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(key),
		Value: jsonValue,
	}

	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		p.logger.Error("Failed to publish audit event",
			"topic", p.topic,
			"key", key,
			"error", err,
		)
		return fmt.Errorf("failed to publish audit event to %s: %w", p.topic, err)
	}

	p.logger.Debug("Published audit event", "topic", p.topic, "key", key)
	return nil
}

func (p *AuditFeedProducer) Close() error {
	p.logger.Info("Closing audit feed Kafka producer", "topic", p.topic)
	if err := p.writer.Close(); err != nil {
		return fmt.Errorf("failed to close audit feed kafka writer for topic %s: %w", p.topic, err)
	}
	return nil
}
