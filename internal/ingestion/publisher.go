package ingestion

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/dalejandrov/sipsa-ingest/internal/config"
)

const (
	defaultAuditTopic        = "sipsa.audit.events"
	defaultPublishTimeout    = 5 * time.Second
	defaultPublisherBatching = 1
)

// PublisherConfig holds the optional Kafka audit mirror settings.
type PublisherConfig struct {
	Brokers        []string
	Topic          string
	PublishTimeout time.Duration
}

// LoadPublisherConfig reads the audit publisher settings from the
// environment. An empty broker list disables publishing.
func LoadPublisherConfig() *PublisherConfig {
	return &PublisherConfig{
		Brokers:        config.ParseCommaSeparatedList(config.GetEnvStr("SIPSA_AUDIT_KAFKA_BROKERS", "")),
		Topic:          config.GetEnvStr("SIPSA_AUDIT_KAFKA_TOPIC", defaultAuditTopic),
		PublishTimeout: config.GetEnvDuration("SIPSA_AUDIT_KAFKA_TIMEOUT", defaultPublishTimeout),
	}
}

// Enabled reports whether brokers are configured.
func (c *PublisherConfig) Enabled() bool {
	return len(c.Brokers) > 0
}

// KafkaAuditPublisher mirrors audit events onto a Kafka topic as JSON,
// keyed by request id so one request's timeline lands on one partition.
// Publishing is fire-and-forget from the recorder's point of view.
type KafkaAuditPublisher struct {
	writer  *kafka.Writer
	timeout time.Duration
	logger  *slog.Logger
}

// Compile-time interface assertion.
var _ AuditPublisher = (*KafkaAuditPublisher)(nil)

// NewKafkaAuditPublisher creates the publisher. Callers should check
// cfg.Enabled() first and pass nil to NewRecorder when disabled.
func NewKafkaAuditPublisher(cfg *PublisherConfig, logger *slog.Logger) *KafkaAuditPublisher {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		BatchSize:    defaultPublisherBatching,
		RequiredAcks: kafka.RequireOne,
		Async:        false,
	}

	return &KafkaAuditPublisher{
		writer:  writer,
		timeout: cfg.PublishTimeout,
		logger:  logger,
	}
}

// Publish writes one audit event to the topic.
func (p *KafkaAuditPublisher) Publish(ctx context.Context, event AuditEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal audit event: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	err = p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(event.RequestID),
		Value: payload,
	})
	if err != nil {
		return fmt.Errorf("write audit event: %w", err)
	}

	return nil
}

// Close flushes and closes the underlying writer.
func (p *KafkaAuditPublisher) Close() error {
	if err := p.writer.Close(); err != nil {
		return fmt.Errorf("close audit publisher: %w", err)
	}

	return nil
}
