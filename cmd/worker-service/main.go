package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/glowdesk/referral-pipeline/internal/analytics"
	"github.com/glowdesk/referral-pipeline/internal/config"
	"github.com/glowdesk/referral-pipeline/internal/pipeline/dispatcher"
	"github.com/glowdesk/referral-pipeline/internal/pipeline/domain"
	"github.com/glowdesk/referral-pipeline/internal/pipeline/handlers"
	"github.com/glowdesk/referral-pipeline/internal/pipeline/storage"
	"github.com/glowdesk/referral-pipeline/internal/platform"
	"github.com/glowdesk/referral-pipeline/internal/telemetry"
	"github.com/glowdesk/referral-pipeline/shared/logger"
	"github.com/glowdesk/referral-pipeline/shared/postgresql"
	"github.com/glowdesk/referral-pipeline/shared/rabbitmq"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables or flags")
	}

	defaultConfigPath := os.Getenv("WORKER_SERVICE_CONFIG_PATH")
	if defaultConfigPath == "" {
		defaultConfigPath = "configs/worker-service/config.yaml"
	}
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.ValidateWorkerConfig(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	appLogger, err := logger.New(&logger.Config{
		Level:        cfg.Logging.Level,
		Format:       cfg.Logging.Format,
		Output:       cfg.Logging.Output,
		EnableSource: cfg.Logging.EnableCaller,
		TimeFormat:   time.RFC3339,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	appLogger = logger.WithService(appLogger, cfg.App.Name, cfg.App.Version, cfg.App.Environment)

	appLogger.Info("Starting worker service")

	dbClient, err := postgresql.NewClient(&postgresql.Config{
		Host:            cfg.Database.Host,
		Port:            cfg.Database.Port,
		User:            cfg.Database.User,
		Password:        cfg.Database.Password,
		Database:        cfg.Database.Database,
		SSLMode:         cfg.Database.SSLMode,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.Database.ConnMaxIdleTime,
	}, appLogger)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer dbClient.Close()

	appLogger.Info("Database connection established")

	rabbitClient, err := rabbitmq.NewClient(&rabbitmq.Config{
		Host:               cfg.RabbitMQ.Host,
		Port:               cfg.RabbitMQ.Port,
		User:               cfg.RabbitMQ.User,
		Password:           cfg.RabbitMQ.Password,
		VHost:              cfg.RabbitMQ.VHost,
		ExchangeName:       cfg.RabbitMQ.Exchange.Name,
		ExchangeType:       cfg.RabbitMQ.Exchange.Type,
		ExchangeDurable:    cfg.RabbitMQ.Exchange.Durable,
		ExchangeAutoDelete: cfg.RabbitMQ.Exchange.AutoDelete,
		QueueName:          cfg.RabbitMQ.Queue.Name,
		QueueDurable:       cfg.RabbitMQ.Queue.Durable,
		QueueAutoDelete:    cfg.RabbitMQ.Queue.AutoDelete,
		QueueExclusive:     cfg.RabbitMQ.Queue.Exclusive,
		RoutingKey:         cfg.RabbitMQ.RoutingKey,
		RetryAttempts:      cfg.RabbitMQ.Connection.RetryAttempts,
		RetryInterval:      cfg.RabbitMQ.Connection.RetryInterval,
		Heartbeat:          cfg.RabbitMQ.Connection.Heartbeat,
		ConnectionTimeout:  cfg.RabbitMQ.Connection.ConnectionTimeout,
		PublishRetries:     cfg.RabbitMQ.Publish.RetryAttempts,
		PublishRetryDelay:  cfg.RabbitMQ.Publish.RetryInterval,
	}, appLogger)
	if err != nil {
		return fmt.Errorf("failed to initialize RabbitMQ: %w", err)
	}
	defer rabbitClient.Close()

	appLogger.Info("RabbitMQ connection established")

	store := storage.NewStorage(dbClient.DB(), appLogger)

	migrateCtx, migrateCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer migrateCancel()
	if err := store.Migrate(migrateCtx); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	recorder := analytics.NewRecorder(rabbitClient, store, appLogger)

	platformClient := platform.NewClient(&platform.Config{
		BaseURL:     cfg.Platform.BaseURL,
		AccessToken: cfg.Platform.AccessToken,
		Timeout:     cfg.Platform.Timeout,
	}, appLogger)

	stageHandlers := handlers.New(platformClient, store, recorder, handlers.Config{
		FriendRewardCents:   cfg.Rewards.FriendRewardCents,
		ReferrerRewardCents: cfg.Rewards.ReferrerRewardCents,
		Currency:            cfg.Rewards.Currency,
	}, appLogger)

	disp := dispatcher.New(&dispatcher.Config{
		Logger:       appLogger,
		Runs:         store,
		Jobs:         store,
		Executor:     stageHandlers,
		Concurrency:  cfg.Dispatcher.Concurrency,
		BatchSize:    cfg.Dispatcher.BatchSize,
		PollInterval: cfg.Dispatcher.PollInterval,
		JobTimeout:   cfg.Dispatcher.JobTimeout,
		BackoffBase:  cfg.Dispatcher.BackoffBase,
		BackoffMax:   cfg.Dispatcher.BackoffMax,
	})

	reaper := dispatcher.NewReaper(store, cfg.Reaper.Interval, cfg.Reaper.LivenessThreshold, appLogger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errChan := make(chan error, 1)
	go func() {
		if err := disp.Start(ctx); err != nil {
			errChan <- err
		}
	}()
	go reaper.Start(ctx)
	go sampleQueueDepth(ctx, store, cfg.Dispatcher.PollInterval, appLogger)

	// Metrics listener
	metricsAddr := fmt.Sprintf(":%d", cfg.Server.MetricsPort)
	metricsSrv := &http.Server{Addr: metricsAddr, Handler: metricsMux()}
	go func() {
		appLogger.Info("Starting metrics listener", slog.String("address", metricsAddr))
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			appLogger.Error("Metrics listener failed", slog.Any("error", err))
		}
	}()

	appLogger.Info("Worker service started successfully",
		slog.String("worker_id", disp.WorkerID()),
	)

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		appLogger.Info("Received signal, shutting down gracefully",
			slog.String("signal", sig.String()),
		)
	case err := <-errChan:
		appLogger.Error("Dispatcher error",
			slog.Any("error", err),
		)
		return err
	}

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Dispatcher.ShutdownTimeout)
	defer shutdownCancel()

	done := make(chan struct{})
	go func() {
		disp.Stop()
		close(done)
	}()

	select {
	case <-done:
		appLogger.Info("Dispatcher stopped gracefully")
	case <-shutdownCtx.Done():
		appLogger.Warn("Dispatcher shutdown timeout exceeded, forcing exit")
	}

	if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
		appLogger.Warn("Metrics listener shutdown failed", slog.Any("error", err))
	}

	appLogger.Info("Worker service shutdown complete")
	return nil
}

// sampleQueueDepth keeps the queue depth gauge current. Sampling rides the
// poll interval so the gauge lags claims by at most one tick.
func sampleQueueDepth(ctx context.Context, store *storage.Storage, interval time.Duration, logger *slog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			counts, err := store.CountJobsByStatus(ctx)
			if err != nil {
				logger.Warn("Failed to sample queue depth", slog.Any("error", err))
				continue
			}
			telemetry.QueueDepthGauge.Set(float64(counts[domain.JobStatusQueued]))
		}
	}
}

func metricsMux() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", telemetry.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	return mux
}
