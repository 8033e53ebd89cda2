// Package config provides configuration structures and validation for the reconciliation
// processes. It handles environment-based configuration for every worker role: the
// importer, matcher, exporter and admin API, plus their shared infrastructure.
package config

import (
	"errors"
	"strings"
	"time"
)

// Config holds the complete application configuration with settings for all components.
// Each field represents a subsystem's configuration and is validated during startup.
type Config struct {
	Application ApplicationConfig
	Logging     LoggingConfig
	Server      ServerConfig
	Kafka       KafkaConfig
	Postgres    PostgresConfig
	MongoDB     MongoDBConfig
	Redis       RedisConfig
	Import      ImportConfig
	Matching    MatchingConfig
	Export      ExportConfig
	Identity    IdentityConfig
	Audit       AuditConfig
	WorkerPool  WorkerPoolConfig
	Metrics     MetricsConfig
	ConfigStore ConfigStoreConfig
}

// ApplicationConfig contains general application configuration
type ApplicationConfig struct {
	Env  string
	Name string
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level string
}

// ServerConfig contains admin HTTP server configuration settings
type ServerConfig struct {
	Port            int           // Port to listen on
	ShutdownTimeout time.Duration // Grace period for process shutdown
	ReadTimeout     time.Duration // Maximum duration for reading entire request
	WriteTimeout    time.Duration // Maximum duration for writing response
	IdleTimeout     time.Duration // Maximum duration to wait for next request
}

// KafkaConfig contains Kafka configuration
type KafkaConfig struct {
	Brokers           string
	FeedTopic         string // Provider feed batches consumed by the importer
	MatchTopic        string // Match jobs produced by the importer, consumed by the matcher
	AuditTopic        string // Export audit records
	NumPartitions     int
	ReplicationFactor int
	ImporterGroup     string
	MatcherGroup      string
	MinBytes          int
	MaxBytes          int
	MaxWait           time.Duration
	DLQTopic          string
}

// PostgresConfig contains PostgreSQL configuration
type PostgresConfig struct {
	URL             string        // Database connection string
	MaxConns        int32         // Maximum number of open connections
	MinConns        int32         // Minimum number of idle connections
	ConnMaxLifetime time.Duration // Maximum lifetime of a connection
	ConnMaxIdleTime time.Duration // Maximum idle time of a connection
	MigrationsPath  string        // Path to migration files
}

// MongoDBConfig contains MongoDB configuration
type MongoDBConfig struct {
	URI             string
	Database        string
	Timeout         time.Duration
	MaxPoolSize     uint64
	MinPoolSize     uint64
	MaxConnIdleTime time.Duration
}

// RedisConfig contains Redis configuration used by the import lock and config cache
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	UseTLS   bool
}

// ImportConfig contains Import Deduplicator settings
type ImportConfig struct {
	LockTTL time.Duration // Lifetime of the per-transaction import lock
}

// MatchingConfig contains Matching Engine settings
type MatchingConfig struct {
	Window time.Duration // Trailing window for candidate lookup
}

// ExportConfig contains export retry state machine settings
type ExportConfig struct {
	DefaultSchedule string // Cron expression used when a provider has no schedule key
	BatchSize       int
	Simulate        bool // Skip provider calls but still produce audit records
	HTTPTimeout     time.Duration
	HTTPRetryMax    int // Connection-level retries, distinct from business retries
}

// IdentityConfig contains the identity service client settings
type IdentityConfig struct {
	BaseURL string
	Timeout time.Duration
}

// AuditConfig selects and tunes the audit sink
type AuditConfig struct {
	Sink      string // "kafka" or "mongo"
	QueueSize int    // Records buffered ahead of the audit workers
}

// WorkerPoolConfig contains worker pool configuration for the audit publisher
type WorkerPoolConfig struct {
	Size int // Maximum number of workers in the pool
}

// MetricsConfig contains Prometheus settings
type MetricsConfig struct {
	Namespace string
	Addr      string // Listen address of the worker /metrics endpoint; empty disables it
}

// ConfigStoreConfig contains runtime config store settings
type ConfigStoreConfig struct {
	CacheTTL time.Duration
}

// validate performs comprehensive validation of all configuration values,
// ensuring they meet minimum requirements and logical constraints
func (c *Config) validate() error {
	var validationErrors []string

	// Validate Server config
	if c.Server.Port <= 0 {
		validationErrors = append(validationErrors, "SERVER_PORT must be greater than 0")
	}
	if c.Server.ShutdownTimeout <= 0 {
		validationErrors = append(validationErrors, "SERVER_SHUTDOWN_TIMEOUT must be greater than 0")
	}
	if c.Server.ReadTimeout <= 0 {
		validationErrors = append(validationErrors, "SERVER_READ_TIMEOUT must be greater than 0")
	}
	if c.Server.WriteTimeout <= 0 {
		validationErrors = append(validationErrors, "SERVER_WRITE_TIMEOUT must be greater than 0")
	}
	if c.Server.IdleTimeout <= 0 {
		validationErrors = append(validationErrors, "SERVER_IDLE_TIMEOUT must be greater than 0")
	}

	// Validate Kafka config
	if len(c.Kafka.Brokers) == 0 {
		validationErrors = append(validationErrors, "KAFKA_BROKERS is required")
	}
	if c.Kafka.FeedTopic == "" {
		validationErrors = append(validationErrors, "KAFKA_FEED_TOPIC is required")
	}
	if c.Kafka.MatchTopic == "" {
		validationErrors = append(validationErrors, "KAFKA_MATCH_TOPIC is required")
	}
	if c.Kafka.ImporterGroup == "" {
		validationErrors = append(validationErrors, "KAFKA_IMPORTER_GROUP is required")
	}
	if c.Kafka.MatcherGroup == "" {
		validationErrors = append(validationErrors, "KAFKA_MATCHER_GROUP is required")
	}
	if c.Kafka.MinBytes <= 0 {
		validationErrors = append(validationErrors, "KAFKA_CONSUMER_MIN_BYTES must be greater than 0")
	}
	if c.Kafka.MaxBytes <= 0 {
		validationErrors = append(validationErrors, "KAFKA_CONSUMER_MAX_BYTES must be greater than 0")
	}
	if c.Kafka.MaxWait <= 0 {
		validationErrors = append(validationErrors, "KAFKA_CONSUMER_MAX_WAIT must be greater than 0")
	}
	if c.Kafka.DLQTopic == "" {
		validationErrors = append(validationErrors, "KAFKA_DLQ_TOPIC is required")
	}

	// Validate PostgreSQL config
	if c.Postgres.URL == "" {
		validationErrors = append(validationErrors, "POSTGRES_URL is required")
	}
	if c.Postgres.MaxConns <= 0 {
		validationErrors = append(validationErrors, "POSTGRES_MAX_CONNS must be greater than 0")
	}
	if c.Postgres.MinConns <= 0 {
		validationErrors = append(validationErrors, "POSTGRES_MIN_CONNS must be greater than 0")
	}
	if c.Postgres.ConnMaxLifetime <= 0 {
		validationErrors = append(validationErrors, "POSTGRES_MAX_CONN_LIFETIME must be greater than 0")
	}
	if c.Postgres.ConnMaxIdleTime <= 0 {
		validationErrors = append(validationErrors, "POSTGRES_MAX_CONN_IDLE_TIME must be greater than 0")
	}

	// Validate MongoDB config
	if c.MongoDB.URI == "" {
		validationErrors = append(validationErrors, "MONGO_URI is required")
	}
	if c.MongoDB.Database == "" {
		validationErrors = append(validationErrors, "MONGO_DATABASE is required")
	}
	if c.MongoDB.Timeout <= 0 {
		validationErrors = append(validationErrors, "MONGO_TIMEOUT must be greater than 0")
	}

	// Validate Redis config
	if c.Redis.Addr == "" {
		validationErrors = append(validationErrors, "REDIS_ADDR is required")
	}

	// Validate pipeline settings
	if c.Import.LockTTL <= 0 {
		validationErrors = append(validationErrors, "IMPORT_LOCK_TTL must be greater than 0")
	}
	if c.Matching.Window <= 0 {
		validationErrors = append(validationErrors, "MATCHING_WINDOW must be greater than 0")
	}
	if c.Export.DefaultSchedule == "" {
		validationErrors = append(validationErrors, "EXPORT_DEFAULT_SCHEDULE is required")
	}
	if c.Export.BatchSize <= 0 {
		validationErrors = append(validationErrors, "EXPORT_BATCH_SIZE must be greater than 0")
	}
	if c.Export.HTTPTimeout <= 0 {
		validationErrors = append(validationErrors, "EXPORT_HTTP_TIMEOUT must be greater than 0")
	}
	if c.Export.HTTPRetryMax < 0 {
		validationErrors = append(validationErrors, "EXPORT_HTTP_RETRY_MAX must not be negative")
	}
	if c.Identity.BaseURL == "" {
		validationErrors = append(validationErrors, "IDENTITY_BASE_URL is required")
	}
	if c.Identity.Timeout <= 0 {
		validationErrors = append(validationErrors, "IDENTITY_TIMEOUT must be greater than 0")
	}
	if c.Audit.Sink != "kafka" && c.Audit.Sink != "mongo" {
		validationErrors = append(validationErrors, "AUDIT_SINK must be one of kafka, mongo")
	}
	if c.Audit.Sink == "kafka" && c.Kafka.AuditTopic == "" {
		validationErrors = append(validationErrors, "KAFKA_AUDIT_TOPIC is required when AUDIT_SINK=kafka")
	}
	if c.Audit.QueueSize <= 0 {
		validationErrors = append(validationErrors, "AUDIT_QUEUE_SIZE must be greater than 0")
	}
	if c.ConfigStore.CacheTTL <= 0 {
		validationErrors = append(validationErrors, "CONFIG_CACHE_TTL must be greater than 0")
	}

	// Validate WorkerPool config
	if c.WorkerPool.Size <= 0 {
		validationErrors = append(validationErrors, "WORKER_POOL_SIZE must be greater than 0")
	}

	if len(validationErrors) > 0 {
		return errors.New(strings.Join(validationErrors, ", "))
	}

	return nil
}
