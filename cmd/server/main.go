package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/level-leaderboard/internal/config"
	"github.com/level-leaderboard/internal/handler"
	"github.com/level-leaderboard/internal/kafka"
	"github.com/level-leaderboard/internal/logging"
	"github.com/level-leaderboard/internal/postgres"
	"github.com/level-leaderboard/internal/redis"
	"github.com/level-leaderboard/internal/service"
	"github.com/level-leaderboard/internal/websocket"
	"github.com/level-leaderboard/internal/worker"
)

func main() {
	// Parse command line flags
	configPath := flag.String("config", "config.yaml", "Path to configuration file")
	envPath := flag.String("env", ".env", "Optional dotenv file")
	flag.Parse()

	// A missing .env is normal outside development
	envErr := godotenv.Load(*envPath)

	// Load configuration
	cfg, cfgErr := config.Load(*configPath)
	if cfgErr != nil {
		cfg = config.DefaultConfig()
	}

	// Setup structured logging
	logger, err := logging.NewLogger(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	if envErr != nil && !errors.Is(envErr, os.ErrNotExist) {
		logger.Warn("failed to load env file", "path", *envPath, "error", envErr)
	}
	if cfgErr != nil {
		logger.Warn("failed to load config file, using defaults", "error", cfgErr)
	}

	if err := run(cfg, logger); err != nil {
		logger.Error("server exited with error", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// PostgreSQL is optional at startup; without it data requests answer 500
	var store service.Store
	var repo *postgres.Repository
	if cfg.Postgres.Configured() {
		dialer, err := postgres.NewDialer(cfg.Postgres.URL, cfg.Postgres.ConnectTimeout)
		if err != nil {
			return err
		}
		repo = postgres.NewRepository(dialer, logger)
		store = repo

		if cfg.Postgres.BootstrapSchema {
			if err := repo.Bootstrap(ctx); err != nil {
				return fmt.Errorf("bootstrapping schema: %w", err)
			}
		}
	} else {
		logger.Warn("database not configured, data requests will fail", "env", config.DatabaseURLEnv)
	}

	// Initialize WebSocket hub
	wsHub := websocket.NewHub(logger)
	go wsHub.Run()
	defer wsHub.Stop()

	// Player updates go through Redis when enabled so every instance sees them
	var notifier service.Notifier = wsHub
	if cfg.Redis.Enabled {
		logger.Info("connecting to Redis", "addr", cfg.Redis.Addr)
		bus, err := redis.NewEventBus(ctx, &cfg.Redis, logger)
		if err != nil {
			return err
		}
		listenCtx, cancelListen := context.WithCancel(context.Background())
		defer func() {
			cancelListen()
			if err := bus.Close(); err != nil {
				logger.Error("failed to close Redis", "error", err)
			}
		}()
		if err := bus.Listen(listenCtx, wsHub); err != nil {
			return err
		}
		notifier = bus
	}

	leaderboardService := service.NewLeaderboardService(store, notifier, cfg.Leaderboard.Size, logger)

	// Background repair of player aggregates
	if cfg.Reconcile.Enabled && repo != nil {
		reconcileWorker := worker.NewReconcileWorker(repo, &cfg.Reconcile, logger)
		if err := reconcileWorker.Start(ctx); err != nil {
			return err
		}
		defer func() {
			if err := reconcileWorker.Stop(); err != nil {
				logger.Error("failed to stop reconcile worker", "error", err)
			}
		}()
	}

	// Kafka ingestion of level completions
	if cfg.Kafka.Enabled && leaderboardService.Configured() {
		consumer, err := kafka.NewConsumer(&cfg.Kafka, leaderboardService, logger)
		if err != nil {
			logger.Warn("failed to create Kafka consumer, continuing without Kafka", "error", err)
		} else if err := consumer.Start(); err != nil {
			logger.Warn("failed to start Kafka consumer, continuing without Kafka", "error", err)
		} else {
			defer func() {
				if err := consumer.Stop(); err != nil {
					logger.Error("failed to stop Kafka consumer", "error", err)
				}
			}()
		}
	}

	httpHandler := handler.NewHandler(leaderboardService, wsHub, logger)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      httpHandler.Router(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("starting HTTP server", "port", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case err, ok := <-serverErr:
		if ok {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down server: %w", err)
	}

	logger.Info("server stopped")
	return nil
}
