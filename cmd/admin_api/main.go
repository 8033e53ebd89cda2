package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/loyalty-reconciliation/internal/admin_api"
	"github.com/loyalty-reconciliation/internal/admin_api/service"
	"github.com/loyalty-reconciliation/internal/config"
	"github.com/loyalty-reconciliation/internal/configstore"
	"github.com/loyalty-reconciliation/internal/data/postgres"
	"github.com/loyalty-reconciliation/internal/identity"
	"github.com/loyalty-reconciliation/internal/logger"
	"github.com/loyalty-reconciliation/internal/matching"
	"github.com/loyalty-reconciliation/internal/platform/httpclient"
	"github.com/loyalty-reconciliation/internal/platform/metrics"
	"github.com/loyalty-reconciliation/internal/platform/persistence"
	"github.com/loyalty-reconciliation/internal/providers"
)

func main() {
	// Create base context with cancellation
	appCtx, cancelAppCtx := context.WithCancel(context.Background())
	defer cancelAppCtx()

	// Initialize configuration
	cfg, err := config.LoadConfig("admin_api")
	if err != nil {
		// logger is not initialized yet, so we use fmt
		fmt.Printf("Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log := logger.NewLogger(cfg, metrics.ProcessAdminAPI)

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
	schemeRepo := postgres.NewSchemeTransactionRepository(log, postgresDB)
	paymentRepo := postgres.NewPaymentTransactionRepository(log, postgresDB)
	matchedRepo := postgres.NewMatchedRepository(log, postgresDB)
	pendingRepo := postgres.NewPendingExportRepository(log, postgresDB)
	merchantRepo := postgres.NewMerchantRepository(log, postgresDB)
	identityRepo := postgres.NewIdentityRepository(log, postgresDB)
	settingRepo := postgres.NewConfigItemRepository(log, postgresDB)

	identityClient := httpclient.New(log, httpclient.Config{Timeout: cfg.Identity.Timeout, RetryMax: 2})
	identities := identity.NewService(identityRepo, identity.NewHTTPResolver(identityClient, cfg.Identity.BaseURL, log), log)

	// Force matching goes through the same engine as the matcher
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

	// Initialize services
	matchService := service.NewMatchService(engine, matchedRepo, m, log)
	configService := service.NewConfigService(configstore.NewStore(redisClient, settingRepo, cfg.ConfigStore.CacheTTL, log))

	// Initialize REST server
	server := admin_api.NewServer(log, cfg, matchService, configService, m)
	log.Info("REST server initialized")

	// Create error channel for server errors
	errChan := make(chan error, 1)

	// Start server in goroutine
	go func() {
		log.Info("Starting HTTP server", "port", cfg.Server.Port)
		if err := server.Start(); err != nil {
			errChan <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	// Set up signal handling
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	// Wait for a shutdown signal or error
	var serverErr error
	select {
	case <-quit:
		log.Info("Shutdown signal received")
	case err := <-errChan:
		log.Error("Server error occurred", "error", err)
		serverErr = err
	}

	// Cancel the application context
	cancelAppCtx()

	// Create a shutdown context with timeout
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancelShutdown()

	log.Info("Starting graceful shutdown...")

	// Stop accepting requests before closing the stores they use
	if err = server.Stop(shutdownCtx); err != nil {
		log.Error("Error during server shutdown", "error", err)
	}

	if err = redisClient.Close(); err != nil {
		log.Error("Error closing Redis client", "error", err)
	}

	postgresDB.Close()

	// Final status
	if serverErr != nil {
		log.Error("HTTP server shutdown with errors", "error", serverErr)
	} else {
		log.Info("Server shutdown completed successfully")
	}
}
