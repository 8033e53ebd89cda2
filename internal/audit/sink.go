// Package audit delivers one immutable record per export attempt to the configured
// archive without blocking the exporter.
package audit

import (
	"context"
	"fmt"

	auditmsg "github.com/loyalty-reconciliation/internal/domain/audit"
	"github.com/loyalty-reconciliation/internal/platform/messaging/producers"
)

const (
	SinkKafka = "kafka"
	SinkMongo = "mongo"
)

// Sink is a synchronous audit destination
type Sink interface {
	Write(ctx context.Context, msg *auditmsg.Message) error
}

// KafkaSink publishes audit records to the audit topic keyed by provider and transaction
type KafkaSink struct {
	publisher producers.MessagePublisher
}

func NewKafkaSink(publisher producers.MessagePublisher) *KafkaSink {
	return &KafkaSink{publisher: publisher}
}

func (s *KafkaSink) Write(ctx context.Context, msg *auditmsg.Message) error {
	if err := s.publisher.Publish(ctx, msg.ProviderSlug+":"+msg.TransactionID, msg); err != nil {
		return fmt.Errorf("failed to publish audit record: %w", err)
	}
	return nil
}

// MongoSink archives audit records in the export_audit collection
type MongoSink struct {
	repo auditmsg.Repository
}

func NewMongoSink(repo auditmsg.Repository) *MongoSink {
	return &MongoSink{repo: repo}
}

func (s *MongoSink) Write(ctx context.Context, msg *auditmsg.Message) error {
	if err := s.repo.Create(ctx, msg); err != nil {
		return fmt.Errorf("failed to archive audit record: %w", err)
	}
	return nil
}
