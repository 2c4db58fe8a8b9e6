package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/wealth-ops/filing-engine/internal/config"
	"github.com/wealth-ops/filing-engine/internal/database"
	"github.com/wealth-ops/filing-engine/internal/events"
	"github.com/wealth-ops/filing-engine/internal/filing"
	"github.com/wealth-ops/filing-engine/internal/handlers"
	"github.com/wealth-ops/filing-engine/internal/metrics"
	"github.com/wealth-ops/filing-engine/internal/notification"
	"github.com/wealth-ops/filing-engine/internal/scheduler"
	"github.com/wealth-ops/filing-engine/internal/validation"
	"github.com/wealth-ops/filing-engine/internal/workflow"
)

const (
	serviceName = "filing-engine"
	version     = "1.0.0"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Setup logging
	logger := setupLogging(cfg)
	defer logger.Sync()
	logger.Info("Starting Filing Engine Service",
		zap.String("service", serviceName),
		zap.String("version", version),
		zap.String("environment", cfg.Environment))

	// Setup database connection
	db, err := database.Connect(cfg.Database)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer func() {
		if err := db.Close(); err != nil {
			logger.Error("Failed to close database connection", zap.Error(err))
		}
	}()

	// Run database migrations
	if err := database.RunMigrations(cfg.Database); err != nil {
		logger.Fatal("Failed to run database migrations", zap.Error(err))
	}

	// Setup repositories
	filingRepo := database.NewFilingRepository(db, logger)
	workflowRepo := database.NewWorkflowRepository(db, logger)
	executionRepo := database.NewExecutionRepository(db, logger)
	reminderRepo := database.NewReminderRepository(db, logger)

	// Setup event publisher
	var publisher events.Publisher = events.NopPublisher{}
	var droppedEvents func() int64 = func() int64 { return 0 }
	if cfg.Kafka.Enabled {
		kafkaPublisher := events.NewKafkaPublisher(cfg.Kafka, logger)
		kafkaPublisher.Start()
		defer kafkaPublisher.Stop()
		publisher = kafkaPublisher
		droppedEvents = kafkaPublisher.Dropped
	}

	// Setup metrics
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metricsCollector := metrics.NewCollector(registry, droppedEvents)

	// Setup engine components
	validationEngine := validation.NewEngine(cfg, logger)
	gateway := filing.NewHTTPGateway(cfg.Gateway, logger)
	lifecycle := filing.NewLifecycle(cfg, logger, filingRepo, validationEngine, gateway, publisher, metricsCollector)

	registryComponent := workflow.NewRegistry(logger, workflowRepo)
	executors := workflow.NewBuiltinExecutorRegistry(logger, lifecycle)

	// Setup reminder delivery
	var notifier notification.Notifier = &notification.LogNotifier{Logger: logger}
	if cfg.Email.Enabled {
		notifier = notification.NewSendGridNotifier(cfg.Email, logger)
	}
	reminderScheduler := scheduler.NewReminderScheduler(cfg, logger, reminderRepo, notifier, publisher, metricsCollector)

	orchestrator := workflow.NewOrchestrator(cfg, logger, registryComponent, executionRepo, executors, reminderScheduler, publisher, metricsCollector)

	// Start reminder sweep
	if cfg.Scheduler.Enabled {
		if err := reminderScheduler.Start(); err != nil {
			logger.Fatal("Failed to start reminder scheduler", zap.Error(err))
		}
		defer reminderScheduler.Stop()
	}

	// Setup HTTP server
	handler := handlers.NewHandler(lifecycle, filingRepo, registryComponent, orchestrator, executionRepo, reminderScheduler, reminderRepo, logger)
	router := handler.SetupRoutes()
	router.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.HTTPPort),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("Starting HTTP server", zap.Int("port", cfg.Server.HTTPPort))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	// Graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		logger.Info("Received shutdown signal", zap.String("signal", sig.String()))
	case err := <-serverErr:
		logger.Error("HTTP server failed", zap.Error(err))
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("Failed to shutdown HTTP server gracefully", zap.Error(err))
	}

	logger.Info("Service shutdown complete")
}

func setupLogging(cfg *config.Config) *zap.Logger {
	var zapCfg zap.Config
	if cfg.Logging.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	if level, err := zapcore.ParseLevel(cfg.Logging.Level); err == nil {
		zapCfg.Level = zap.NewAtomicLevelAt(level)
	}

	logger, err := zapCfg.Build()
	if err != nil {
		fmt.Printf("Failed to build logger: %v\n", err)
		os.Exit(1)
	}
	return logger
}
