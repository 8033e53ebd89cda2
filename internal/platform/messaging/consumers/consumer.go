package consumers

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/loyalty-reconciliation/internal/config"
	"github.com/loyalty-reconciliation/internal/platform/metrics"
	"github.com/segmentio/kafka-go"
)

// MessageHandler processes one message. A nil return commits the offset; an error
// makes the consumer retry the same message after a backoff.
type MessageHandler func(ctx context.Context, key []byte, value []byte) error

// Consumer reads one topic as a member of one consumer group
type Consumer interface {
	Run(ctx context.Context, handler MessageHandler) error
	Close() error
}

// MessageReader is the subset of kafka.Reader the consumer uses
type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

const (
	minBackoff = 500 * time.Millisecond
	maxBackoff = 30 * time.Second
)

// KafkaConsumer processes messages of a partition strictly in order: a message that
// fails is retried until it succeeds or the context ends, so nothing behind it is
// committed first
type KafkaConsumer struct {
	reader      MessageReader
	topic       string
	groupID     string
	processType string
	metrics     *metrics.Metrics
	logger      *slog.Logger
	sleep       func(ctx context.Context, d time.Duration) bool
}

var _ Consumer = (*KafkaConsumer)(nil)

// NewKafkaConsumer builds a group reader for topic. The importer reads the feed topic
// and the matcher reads the match topic, each with its own group.
func NewKafkaConsumer(logger *slog.Logger, cfg *config.KafkaConfig, topic, groupID, processType string, m *metrics.Metrics) *KafkaConsumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     strings.Split(cfg.Brokers, ","),
		Topic:       topic,
		GroupID:     groupID,
		MinBytes:    cfg.MinBytes,
		MaxBytes:    cfg.MaxBytes,
		MaxWait:     cfg.MaxWait,
		StartOffset: kafka.FirstOffset,
	})
	return newConsumer(reader, logger, topic, groupID, processType, m)
}

func newConsumer(reader MessageReader, logger *slog.Logger, topic, groupID, processType string, m *metrics.Metrics) *KafkaConsumer {
	return &KafkaConsumer{
		reader:      reader,
		topic:       topic,
		groupID:     groupID,
		processType: processType,
		metrics:     m,
		logger:      logger.With("topic", topic, "group_id", groupID),
		sleep:       sleepCtx,
	}
}

// Run consumes until ctx is canceled and then returns nil
func (c *KafkaConsumer) Run(ctx context.Context, handler MessageHandler) error {
	c.logger.Info("Kafka consumer started")
	defer c.logger.Info("Kafka consumer stopped")

	backoff := minBackoff
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.logger.Error("Failed to fetch message from Kafka", "error", err, "retry_in", backoff)
			c.metrics.Inc(c.processType, "", "", "fetch_failed")
			if !c.sleep(ctx, backoff) {
				return nil
			}
			backoff = nextBackoff(backoff)
			continue
		}
		backoff = minBackoff

		if !c.handle(ctx, handler, msg) {
			return nil
		}
	}
}

// handle runs the handler until it succeeds and commits the message. It returns false
// when ctx ended first; the message then stays uncommitted for the next member.
func (c *KafkaConsumer) handle(ctx context.Context, handler MessageHandler, msg kafka.Message) bool {
	logger := c.logger.With(
		"partition", msg.Partition,
		"offset", msg.Offset,
		"message_key", string(msg.Key),
	)
	logger.Debug("Received message from Kafka")

	backoff := minBackoff
	for attempt := 1; ; attempt++ {
		start := time.Now()
		err := handler(ctx, msg.Key, msg.Value)
		c.metrics.Observe(c.processType, "", "", start)
		if err == nil {
			break
		}
		if ctx.Err() != nil || errors.Is(err, context.Canceled) {
			return false
		}
		logger.Error("Failed to process message, retrying", "attempt", attempt, "retry_in", backoff, "error", err)
		c.metrics.Inc(c.processType, "", "", "handler_failed")
		if !c.sleep(ctx, backoff) {
			return false
		}
		backoff = nextBackoff(backoff)
	}

	if err := c.reader.CommitMessages(ctx, msg); err != nil {
		// The next fetch still advances; the group redelivers from the last commit on rebalance
		logger.Error("Failed to commit message", "error", err)
		c.metrics.Inc(c.processType, "", "", "commit_failed")
		return ctx.Err() == nil
	}
	c.metrics.Inc(c.processType, "", "", "consumed")
	logger.Debug("Message committed")
	return true
}

func (c *KafkaConsumer) Close() error {
	if c.reader == nil {
		return nil
	}
	return c.reader.Close()
}

func nextBackoff(d time.Duration) time.Duration {
	d *= 2
	if d > maxBackoff {
		return maxBackoff
	}
	return d
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
