package producers

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"
)

// topicAdmin is the part of *kafka.Conn used to provision topics
type topicAdmin interface {
	ReadPartitions(topics ...string) ([]kafka.Partition, error)
	CreateTopics(topics ...kafka.TopicConfig) error
}

const topicReadAttempts = 3

var topicRetryWait = 2 * time.Second

// ensureTopic creates topic unless it already exists. An unknown topic is created at
// once; other read errors are retried a few times first since the broker may still be
// starting.
func ensureTopic(admin topicAdmin, topic string, numPartitions, replicationFactor int, logger *slog.Logger) error {
	logger = logger.With("topic", topic)

	var err error
	for attempt := 1; attempt <= topicReadAttempts; attempt++ {
		var partitions []kafka.Partition
		partitions, err = admin.ReadPartitions(topic)
		if err == nil && len(partitions) > 0 {
			logger.Debug("Kafka topic exists", "partitions", len(partitions))
			return nil
		}
		if err == nil || errors.Is(err, kafka.UnknownTopicOrPartition) {
			break
		}
		logger.Warn("Failed to read topic partitions", "attempt", attempt, "error", err)
		if attempt < topicReadAttempts {
			time.Sleep(topicRetryWait)
		}
	}

	cfg := kafka.TopicConfig{
		Topic:             topic,
		NumPartitions:     max(numPartitions, 1),
		ReplicationFactor: max(replicationFactor, 1),
	}
	if err := admin.CreateTopics(cfg); err != nil && !errors.Is(err, kafka.TopicAlreadyExists) {
		return fmt.Errorf("failed to create kafka topic %s: %w", topic, err)
	}
	logger.Info("Kafka topic ready", "partitions", cfg.NumPartitions, "replication_factor", cfg.ReplicationFactor)
	return nil
}

// brokerAddrs splits the comma-separated KAFKA_BROKERS value
func brokerAddrs(brokers string) []string {
	var addrs []string
	for _, b := range strings.Split(brokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			addrs = append(addrs, b)
		}
	}
	return addrs
}

// firstBroker is the bootstrap address used for topic administration
func firstBroker(brokers string) string {
	addrs := brokerAddrs(brokers)
	if len(addrs) == 0 {
		return ""
	}
	return addrs[0]
}
