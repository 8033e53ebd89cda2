package producers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/loyalty-reconciliation/internal/config"
	"github.com/segmentio/kafka-go"
)

// Stages at which a consumer gives up on a message
const (
	StageDecode   = "decode"
	StageValidate = "validate"
	StageRoute    = "route"
)

var ErrDeadLetterDisabled = errors.New("dead letter topic is not configured")

// DeadLetter is a message parked by a consumer together with why it was parked
type DeadLetter struct {
	Key          []byte
	Value        []byte
	SourceTopic  string
	Stage        string
	ProviderSlug string // Empty when the message could not be decoded
	Reason       string
}

// deadLetterRecord is the value written to the DLQ topic. Payloads that are valid
// JSON are embedded as is so operators can replay them.
type deadLetterRecord struct {
	SourceTopic    string          `json:"source_topic"`
	Stage          string          `json:"stage"`
	ProviderSlug   string          `json:"provider_slug,omitempty"`
	Reason         string          `json:"reason"`
	OriginalKey    string          `json:"original_key"`
	OriginalValue  json.RawMessage `json:"original_value,omitempty"`
	OriginalText   string          `json:"original_text,omitempty"`
	DeadLetteredAt time.Time       `json:"dead_lettered_at"`
}

// DLQProducer writes dead letters from the importer and matcher to one topic
type DLQProducer struct {
	logger *slog.Logger
	writer KafkaWriter
	topic  string
	now    func() time.Time
}

var _ DeadLetterPublisher = (*DLQProducer)(nil)

// NewDLQProducer returns a nil producer when no DLQ topic is configured
func NewDLQProducer(ctx context.Context, logger *slog.Logger, cfg *config.KafkaConfig) (*DLQProducer, error) {
	if cfg.DLQTopic == "" {
		logger.Info("DLQ topic is not configured, unprocessable messages will be redelivered")
		return nil, nil
	}

	conn, err := kafka.DialContext(ctx, "tcp", firstBroker(cfg.Brokers))
	if err != nil {
		return nil, fmt.Errorf("failed to dial kafka for dlq producer: %w", err)
	}
	defer conn.Close()

	if err := ensureTopic(conn, cfg.DLQTopic, cfg.NumPartitions, cfg.ReplicationFactor, logger); err != nil {
		return nil, fmt.Errorf("failed to ensure DLQ topic %s exists: %w", cfg.DLQTopic, err)
	}

	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokerAddrs(cfg.Brokers)...),
		Topic:        cfg.DLQTopic,
		Balancer:     &kafka.LeastBytes{},
		RequiredAcks: kafka.RequireAll,
		WriteTimeout: cfg.MaxWait,
	}

	return &DLQProducer{
		logger: logger.With("component", "dlq_producer", "topic", cfg.DLQTopic),
		writer: writer,
		topic:  cfg.DLQTopic,
		now:    time.Now,
	}, nil
}

// PublishDeadLetter writes dl synchronously; the consumer commits the original offset
// only when this returns nil
func (p *DLQProducer) PublishDeadLetter(ctx context.Context, dl DeadLetter) error {
	if p == nil || p.writer == nil {
		return ErrDeadLetterDisabled
	}

	record := deadLetterRecord{
		SourceTopic:    dl.SourceTopic,
		Stage:          dl.Stage,
		ProviderSlug:   dl.ProviderSlug,
		Reason:         dl.Reason,
		OriginalKey:    string(dl.Key),
		DeadLetteredAt: p.now().UTC(),
	}
	if json.Valid(dl.Value) {
		record.OriginalValue = dl.Value
	} else {
		record.OriginalText = string(dl.Value)
	}

	value, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal dead letter: %w", err)
	}

	headers := []kafka.Header{
		{Key: "dlq-stage", Value: []byte(dl.Stage)},
		{Key: "dlq-source-topic", Value: []byte(dl.SourceTopic)},
	}
	if dl.ProviderSlug != "" {
		headers = append(headers, kafka.Header{Key: "provider-slug", Value: []byte(dl.ProviderSlug)})
	}

	if err := p.writer.WriteMessages(ctx, kafka.Message{Key: dl.Key, Value: value, Headers: headers}); err != nil {
		p.logger.Error("Failed to publish dead letter",
			"source_topic", dl.SourceTopic,
			"stage", dl.Stage,
			"message_key", string(dl.Key),
			"error", err,
		)
		return fmt.Errorf("failed to publish dead letter to %s: %w", p.topic, err)
	}

	p.logger.Warn("Message dead-lettered",
		"source_topic", dl.SourceTopic,
		"stage", dl.Stage,
		"provider_slug", dl.ProviderSlug,
		"message_key", string(dl.Key),
		"reason", dl.Reason,
	)
	return nil
}

func (p *DLQProducer) Close() error {
	if p == nil || p.writer == nil {
		return nil
	}
	p.logger.Info("Closing DLQ producer")
	if err := p.writer.Close(); err != nil {
		return fmt.Errorf("failed to close dlq writer for topic %s: %w", p.topic, err)
	}
	return nil
}
