package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/loyalty-reconciliation/internal/config"
	"github.com/loyalty-reconciliation/internal/data/postgres"
	"github.com/loyalty-reconciliation/internal/importing"
	"github.com/loyalty-reconciliation/internal/logger"
	"github.com/loyalty-reconciliation/internal/platform/lock"
	"github.com/loyalty-reconciliation/internal/platform/messaging/consumers"
	"github.com/loyalty-reconciliation/internal/platform/messaging/producers"
	"github.com/loyalty-reconciliation/internal/platform/metrics"
	"github.com/loyalty-reconciliation/internal/platform/persistence"
	"github.com/loyalty-reconciliation/internal/processor/consumer"
	"github.com/loyalty-reconciliation/internal/providers"
	"github.com/prometheus/client_golang/prometheus"
)

func main() {
	// Create base context with cancellation
	appCtx, cancelAppCtx := context.WithCancel(context.Background())
	defer cancelAppCtx()

	// Initialize configuration
	cfg, err := config.LoadConfig("importer")
	if err != nil {
		// logger is not initialized yet, so we use fmt
		fmt.Printf("Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log := logger.NewLogger(cfg, metrics.ProcessImporter)

	log.Info("Starting Importer",
		"app_name", cfg.Application.Name,
		"env", cfg.Application.Env,
	)

	// Initialize databases with app context
	postgresDB, err := persistence.NewPostgresDB(appCtx, log, &cfg.Postgres)
	if err != nil {
		log.Error("Failed to initialize PostgreSQL", "error", err)
		os.Exit(1)
	}

	redisClient, err := persistence.NewRedisClient(appCtx, log, &cfg.Redis)
	if err != nil {
		log.Error("Failed to initialize Redis", "error", err)
		os.Exit(1)
	}

	m := metrics.Registry(cfg.Metrics.Namespace)

	// Initialize repositories
	importRepo := postgres.NewImportRepository(log, postgresDB)
	schemeRepo := postgres.NewSchemeTransactionRepository(log, postgresDB)
	paymentRepo := postgres.NewPaymentTransactionRepository(log, postgresDB)
	merchantRepo := postgres.NewMerchantRepository(log, postgresDB)

	// Match jobs are published for every imported group
	matchJobProducer, err := producers.NewTopicProducer(appCtx, log, &cfg.Kafka, cfg.Kafka.MatchTopic, false)
	if err != nil {
		log.Error("Failed to initialize match job Kafka producer", "error", err)
		os.Exit(1)
	}

	dlqProducer, err := producers.NewDLQProducer(appCtx, log, &cfg.Kafka)
	if err != nil {
		log.Error("Failed to initialize DLQ Kafka producer", "error", err)
		os.Exit(1)
	}
	var dlq producers.DeadLetterPublisher
	if dlqProducer != nil {
		dlq = dlqProducer
	}

	deduplicator := importing.NewDeduplicator(importing.Deps{
		DB:        postgresDB,
		Imports:   importRepo,
		Schemes:   schemeRepo,
		Payments:  paymentRepo,
		Merchants: merchantRepo,
		Locker:    lock.NewRedisLocker(redisClient, log),
		MatchJobs: matchJobProducer,
		Metrics:   m,
		Adapters:  providers.ImportAdapters(),
		LockTTL:   cfg.Import.LockTTL,
		Logger:    log,
	})

	feedHandler := consumer.NewFeedHandler(log, deduplicator, providers.AcceptsFeed, dlq, cfg.Kafka.FeedTopic)
	kafkaConsumer := consumers.NewKafkaConsumer(log, &cfg.Kafka, cfg.Kafka.FeedTopic, cfg.Kafka.ImporterGroup, metrics.ProcessImporter, m)
	metricsServer := metrics.NewServer(cfg.Metrics.Addr, prometheus.DefaultGatherer)

	// Create error channel for service errors
	errChan := make(chan error, 2)

	// Create wait group for graceful shutdown
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		log.Info("Starting Kafka consumer",
			"topic", cfg.Kafka.FeedTopic,
			"group", cfg.Kafka.ImporterGroup,
		)
		if err := kafkaConsumer.Run(appCtx, feedHandler.HandleMessage); err != nil {
			errChan <- fmt.Errorf("kafka consumer error: %w", err)
		}
	}()

	if cfg.Metrics.Addr != "" {
		go func() {
			log.Info("Starting metrics server", "addr", cfg.Metrics.Addr)
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errChan <- fmt.Errorf("metrics server error: %w", err)
			}
		}()
	}

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

	// Create a shutdown context with timeout
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancelShutdown()

	log.Info("Starting graceful shutdown...")

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

	if err = metricsServer.Shutdown(shutdownCtx); err != nil {
		log.Error("Error stopping metrics server", "error", err)
	}

	if err = kafkaConsumer.Close(); err != nil {
		log.Error("Error closing Kafka consumer", "error", err)
	}

	if err = matchJobProducer.Close(); err != nil {
		log.Error("Error closing match job Kafka producer", "error", err)
	}

	if dlqProducer != nil {
		if err = dlqProducer.Close(); err != nil {
			log.Error("Error closing DLQ Kafka producer", "error", err)
		}
	}

	if err = redisClient.Close(); err != nil {
		log.Error("Error closing Redis client", "error", err)
	}

	postgresDB.Close()

	// Final status
	if serviceErr != nil {
		log.Error("Importer shutdown with errors", "error", serviceErr)
	} else {
		log.Info("Importer shutdown completed successfully")
	}
}
