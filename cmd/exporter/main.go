package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/loyalty-reconciliation/internal/audit"
	"github.com/loyalty-reconciliation/internal/config"
	"github.com/loyalty-reconciliation/internal/configstore"
	"github.com/loyalty-reconciliation/internal/data/mongo"
	"github.com/loyalty-reconciliation/internal/data/postgres"
	"github.com/loyalty-reconciliation/internal/exporting"
	"github.com/loyalty-reconciliation/internal/identity"
	"github.com/loyalty-reconciliation/internal/logger"
	"github.com/loyalty-reconciliation/internal/platform/httpclient"
	"github.com/loyalty-reconciliation/internal/platform/lock"
	"github.com/loyalty-reconciliation/internal/platform/messaging/producers"
	"github.com/loyalty-reconciliation/internal/platform/metrics"
	"github.com/loyalty-reconciliation/internal/platform/persistence"
	"github.com/loyalty-reconciliation/internal/platform/scheduler"
	"github.com/loyalty-reconciliation/internal/providers"
	"github.com/prometheus/client_golang/prometheus"
)

func main() {
	// Create base context with cancellation
	appCtx, cancelAppCtx := context.WithCancel(context.Background())
	defer cancelAppCtx()

	// Initialize configuration
	cfg, err := config.LoadConfig("exporter")
	if err != nil {
		// logger is not initialized yet, so we use fmt
		fmt.Printf("Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log := logger.NewLogger(cfg, metrics.ProcessExporter)

	log.Info("Starting Exporter",
		"app_name", cfg.Application.Name,
		"env", cfg.Application.Env,
		"simulate", cfg.Export.Simulate,
	)

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
	pendingRepo := postgres.NewPendingExportRepository(log, postgresDB)
	exportRepo := postgres.NewExportTransactionRepository(log, postgresDB)
	matchedRepo := postgres.NewMatchedRepository(log, postgresDB)
	paymentRepo := postgres.NewPaymentTransactionRepository(log, postgresDB)
	identityRepo := postgres.NewIdentityRepository(log, postgresDB)
	settingRepo := postgres.NewConfigItemRepository(log, postgresDB)

	store := configstore.NewStore(redisClient, settingRepo, cfg.ConfigStore.CacheTTL, log)

	identityClient := httpclient.New(log, httpclient.Config{Timeout: cfg.Identity.Timeout, RetryMax: 2})
	identities := identity.NewService(identityRepo, identity.NewHTTPResolver(identityClient, cfg.Identity.BaseURL, log), log)

	// Audit sink: Kafka topic or Mongo collection
	var (
		sink          audit.Sink
		auditProducer *producers.TopicProducer
		mongoDB       *persistence.MongoDB
	)
	switch cfg.Audit.Sink {
	case "mongo":
		mongoDB, err = persistence.NewMongoDB(appCtx, log, &cfg.MongoDB, cfg.Application.Name)
		if err != nil {
			log.Error("Failed to initialize MongoDB", "error", err)
			os.Exit(1)
		}
		auditRepo := mongo.NewAuditRepository(log, mongoDB.Database())
		if err := auditRepo.EnsureIndexes(appCtx); err != nil {
			log.Warn("Failed to ensure audit indexes", "error", err)
		}
		sink = audit.NewMongoSink(auditRepo)
	default:
		auditProducer, err = producers.NewTopicProducer(appCtx, log, &cfg.Kafka, cfg.Kafka.AuditTopic, false)
		if err != nil {
			log.Error("Failed to initialize audit Kafka producer", "error", err)
			os.Exit(1)
		}
		sink = audit.NewKafkaSink(auditProducer)
	}

	auditPublisher, err := audit.NewAsyncPublisher(sink, audit.PublisherConfig{
		Size:      cfg.WorkerPool.Size,
		QueueSize: cfg.Audit.QueueSize,
	}, m, log)
	if err != nil {
		log.Error("Failed to initialize audit publisher", "error", err)
		os.Exit(1)
	}

	exportClient := httpclient.New(log, httpclient.Config{
		Timeout:  cfg.Export.HTTPTimeout,
		RetryMax: cfg.Export.HTTPRetryMax,
	})
	agents := providers.ExportAgents(appCtx, store, providers.AgentDeps{
		Client:   exportClient,
		Simulate: cfg.Export.Simulate,
		Logger:   log,
	})

	stateMachine := exporting.NewStateMachine(exporting.Deps{
		DB:         postgresDB,
		Pending:    pendingRepo,
		Exports:    exportRepo,
		Matched:    matchedRepo,
		Payments:   paymentRepo,
		Identities: identities,
		Agents:     agents,
		Audit:      auditPublisher,
		Metrics:    m,
		Logger:     log,
	})

	runner := exporting.NewRunner(exporting.RunnerDeps{
		Pending:          pendingRepo,
		Handler:          stateMachine,
		Settings:         store,
		Locker:           lock.NewRedisLocker(redisClient, log),
		DefaultBatchSize: cfg.Export.BatchSize,
		Metrics:          m,
		Logger:           log,
	})

	// One cron entry per exporting provider
	sched := scheduler.New(log, nil)
	for _, p := range providers.Exporters() {
		slug := p.Slug
		spec := store.GetString(appCtx, configstore.Key(slug, "export_schedule"), cfg.Export.DefaultSchedule)
		_, err := sched.Schedule(spec, "export:"+slug, func() {
			if _, err := runner.RunDue(appCtx, slug); err != nil {
				log.Error("Export run failed", "provider_slug", slug, "error", err)
			}
		})
		if err != nil {
			log.Error("Failed to schedule exports", "provider_slug", slug, "error", err)
			os.Exit(1)
		}
	}

	metricsServer := metrics.NewServer(cfg.Metrics.Addr, prometheus.DefaultGatherer)
	errChan := make(chan error, 1)

	sched.Start()
	log.Info("Export scheduler started", "providers", len(agents))

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

	var serviceErr error
	select {
	case <-quit:
		log.Info("Shutdown signal received")
	case err := <-errChan:
		log.Error("Service error occurred", "error", err)
		serviceErr = err
	}

	// Create a shutdown context with timeout
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancelShutdown()

	log.Info("Starting graceful shutdown...")

	// Running export batches finish their current item before the context is canceled
	if err = sched.Stop(shutdownCtx); err != nil {
		log.Warn("Scheduler did not stop in time", "error", err)
	}
	cancelAppCtx()

	log.Info("Flushing audit records",
		"queued", auditPublisher.Queued(),
		"workers", auditPublisher.Running(),
	)
	auditPublisher.Close(cfg.Server.ShutdownTimeout)

	if err = metricsServer.Shutdown(shutdownCtx); err != nil {
		log.Error("Error stopping metrics server", "error", err)
	}

	if auditProducer != nil {
		if err = auditProducer.Close(); err != nil {
			log.Error("Error closing audit Kafka producer", "error", err)
		}
	}

	if mongoDB != nil {
		if err = mongoDB.Close(shutdownCtx); err != nil {
			log.Error("Error closing MongoDB connection", "error", err)
		}
	}

	if err = redisClient.Close(); err != nil {
		log.Error("Error closing Redis client", "error", err)
	}

	postgresDB.Close()

	if serviceErr != nil {
		log.Error("Exporter shutdown with errors", "error", serviceErr)
	} else {
		log.Info("Exporter shutdown completed successfully")
	}
}
