package main

import (
	"context"
	"database/sql"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"exchange/apps/exchange/internal/admission"
	"exchange/apps/exchange/internal/api"
	"exchange/apps/exchange/internal/config"
	"exchange/apps/exchange/internal/engine"
	"exchange/apps/exchange/internal/event_publisher"
	"exchange/apps/exchange/internal/intake"
	"exchange/apps/exchange/internal/repository"
	"exchange/apps/exchange/internal/signature"
)

func main() {
	// Initialize zap logger
	logger, err := zap.NewProduction()
	if err != nil {
		panic("Failed to initialize logger: " + err.Error())
	}
	defer logger.Sync()

	// Load configuration from environment variables
	cfg := config.NewConfig()

	logger.Info("Starting application with configuration",
		zap.String("kafka_broker", cfg.KafkaBroker),
		zap.String("kafka_fill_topic", cfg.KafkaFillTopic),
		zap.String("kafka_intake_topic", cfg.KafkaIntakeTopic),
		zap.Int("api_port", cfg.APIPort),
		zap.Int("lock_shards", cfg.LockShards),
		zap.Int("publish_interval_seconds", cfg.PublishInterval),
		zap.Int("publish_batch_size", cfg.PublishBatchSize),
	)

	// Connect to database
	db, err := sql.Open("postgres", cfg.DbURL)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	// Initialize database tables
	if err := repository.InitMigration(db); err != nil {
		logger.Fatal("Failed to initialize database", zap.Error(err))
	}

	orderRepository := repository.NewOrderRepository(db, logger)
	outboxRepository := repository.NewOutboxRepository(db, logger)
	logRepository := repository.NewLogRepository(db, logger)

	matchingEngine := engine.NewEngine(orderRepository, cfg.LockShards, logger)
	gate := admission.NewGate(signature.NewRegistry(), matchingEngine, logRepository, logger)

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	// Create event publisher
	eventPublisher, err := event_publisher.NewEventPublisher(cfg.KafkaBroker, cfg.KafkaFillTopic,
		time.Duration(cfg.PublishInterval)*time.Second, cfg.PublishBatchSize, logger, outboxRepository)
	if err != nil {
		logger.Fatal("Failed to create event publisher", zap.Error(err))
	}
	defer eventPublisher.Close()

	// Start event publisher in background
	go eventPublisher.StartPublishing(ctx)

	if cfg.IntakeEnabled() {
		tradeConsumer, err := intake.NewTradeConsumer(cfg.KafkaBroker, cfg.KafkaIntakeTopic, logger, gate)
		if err != nil {
			logger.Fatal("Failed to create trade intake", zap.Error(err))
		}
		defer tradeConsumer.Close()

		go func() {
			if err := tradeConsumer.Start(ctx); err != nil {
				logger.Fatal("Trade intake failed", zap.Error(err))
			}
		}()
	}

	// Create and start API server
	apiServer := api.NewServer(cfg.APIPort, gate, matchingEngine, logger)
	go func() {
		if err := apiServer.Start(); err != nil {
			logger.Fatal("API server failed", zap.Error(err))
		}
	}()

	// Set up signal handling for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	// Wait for shutdown signal
	<-sigChan
	logger.Info("Received shutdown signal, starting graceful shutdown...")

	// Create a context with timeout for shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Stop accepting trades before stopping background workers
	if err := apiServer.Stop(shutdownCtx); err != nil {
		logger.Error("Error shutting down API server", zap.Error(err))
	}
	stop()

	logger.Info("Application shutdown complete")
}
