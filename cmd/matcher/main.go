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
	"github.com/loyalty-reconciliation/internal/identity"
	"github.com/loyalty-reconciliation/internal/logger"
	"github.com/loyalty-reconciliation/internal/matching"
	"github.com/loyalty-reconciliation/internal/platform/httpclient"
	"github.com/loyalty-reconciliation/internal/platform/messaging/consumers"
	"github.com/loyalty-reconciliation/internal/platform/messaging/producers"
	"github.com/loyalty-reconciliation/internal/platform/metrics"
	"github.com/loyalty-reconciliation/internal/platform/persistence"
	"github.com/loyalty-reconciliation/internal/processor/consumer"
	"github.com/loyalty-reconciliation/internal/processor/service"
	"github.com/loyalty-reconciliation/internal/providers"
	"github.com/prometheus/client_golang/prometheus"
)

func main() {
	// Create base context with cancellation
	appCtx, cancelAppCtx := context.WithCancel(context.Background())
	defer cancelAppCtx()

	// Initialize configuration
	cfg, err := config.LoadConfig("matcher")
	if err != nil {
		// logger is not initialized yet, so we use fmt
		fmt.Printf("Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log := logger.NewLogger(cfg, metrics.ProcessMatcher)

	log.Info("Starting Matcher",
		"app_name", cfg.Application.Name,
		"env", cfg.Application.Env,
	)

	postgresDB, err := persistence.NewPostgresDB(appCtx, log, &cfg.Postgres)
	if err != nil {
		log.Error("Failed to initialize PostgreSQL", "error", err)
		os.Exit(1)
	}

	m := metrics.Registry(cfg.Metrics.Namespace)

	// Initialize repositories
	schemeRepo := postgres.NewSchemeTransactionRepository(log, postgresDB)
	paymentRepo := postgres.NewPaymentTransactionRepository(log, postgresDB)
	matchedRepo := postgres.NewMatchedRepository(log, postgresDB)
	pendingRepo := postgres.NewPendingExportRepository(log, postgresDB)
	merchantRepo := postgres.NewMerchantRepository(log, postgresDB)
	identityRepo := postgres.NewIdentityRepository(log, postgresDB)

	identityClient := httpclient.New(log, httpclient.Config{Timeout: cfg.Identity.Timeout, RetryMax: 2})
	identities := identity.NewService(identityRepo, identity.NewHTTPResolver(identityClient, cfg.Identity.BaseURL, log), log)

	engine := matching.NewEngine(matching.Deps{
		DB:         postgresDB,
		Schemes:    schemeRepo,
		Payments:   paymentRepo,
		Matched:    matchedRepo,
		Pending:    pendingRepo,
		Merchants:  merchantRepo,
		Identities: identities,
		Strategies: providers.MatchingStrategies(),
		Window:     cfg.Matching.Window,
		Metrics:    m,
		Logger:     log,
	})

	matchService, err := service.NewWorkerPoolMatchService(engine, service.WorkerPoolConfig{Size: cfg.WorkerPool.Size}, log)
	if err != nil {
		log.Error("Failed to initialize worker pool", "error", err)
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

	matchJobHandler := consumer.NewMatchJobHandler(log, matchService, dlq, cfg.Kafka.MatchTopic)
	kafkaConsumer := consumers.NewKafkaConsumer(log, &cfg.Kafka, cfg.Kafka.MatchTopic, cfg.Kafka.MatcherGroup, metrics.ProcessMatcher, m)
	metricsServer := metrics.NewServer(cfg.Metrics.Addr, prometheus.DefaultGatherer)

	// Create error channel for service errors
	errChan := make(chan error, 2)

	// Create wait group for graceful shutdown
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		log.Info("Starting Kafka consumer",
			"topic", cfg.Kafka.MatchTopic,
			"group", cfg.Kafka.MatcherGroup,
			"workers", matchService.Capacity(),
		)
		if err := kafkaConsumer.Run(appCtx, matchJobHandler.HandleMessage); err != nil {
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

	log.Info("Shutting down worker pool", "running_workers", matchService.Running())
	matchService.Shutdown()

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

	if dlqProducer != nil {
		if err = dlqProducer.Close(); err != nil {
			log.Error("Error closing DLQ Kafka producer", "error", err)
		}
	}

	if err = kafkaConsumer.Close(); err != nil {
		log.Error("Error closing Kafka consumer", "error", err)
	}

	postgresDB.Close()

	// Final status
	if serviceErr != nil {
		log.Error("Matcher shutdown with errors", "error", serviceErr)
	} else {
		log.Info("Matcher shutdown completed successfully")
	}
}
