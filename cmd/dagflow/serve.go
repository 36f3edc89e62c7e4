package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	goredis "github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/aescanero/dagflow/internal/application/engine"
	"github.com/aescanero/dagflow/internal/application/orchestrator"
	"github.com/aescanero/dagflow/internal/application/workers"
	"github.com/aescanero/dagflow/internal/config"
	"github.com/aescanero/dagflow/internal/store"
	eventsmem "github.com/aescanero/dagflow/pkg/adapters/events/memory"
	eventsredis "github.com/aescanero/dagflow/pkg/adapters/events/redis"
	"github.com/aescanero/dagflow/pkg/adapters/executor"
	"github.com/aescanero/dagflow/pkg/adapters/metrics/prometheus"
	"github.com/aescanero/dagflow/pkg/adapters/storage/file"
	"github.com/aescanero/dagflow/pkg/adapters/storage/memory"
	redisstorage "github.com/aescanero/dagflow/pkg/adapters/storage/redis"
	"github.com/aescanero/dagflow/pkg/api/grpc"
	"github.com/aescanero/dagflow/pkg/api/http"
	"github.com/aescanero/dagflow/pkg/api/websocket"
	"github.com/aescanero/dagflow/pkg/ports"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the engine with its HTTP, WebSocket and gRPC servers",
	Long:  `Configuration is read from the environment; see internal/config for the variables.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		return runServe(cfg)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cfg *config.Config) error {
	logger := initLogger(cfg.LogLevel)
	defer func() { _ = logger.Sync() }()

	logger.Info("starting dagflow",
		zap.String("version", Version),
		zap.String("build_time", BuildTime))

	ctx := context.Background()

	// Initialize Redis client when a backend needs it
	var redisClient *goredis.Client
	if cfg.Storage.Backend == "redis" || cfg.Events.Backend == "redis" {
		redisClient = goredis.NewClient(&goredis.Options{
			Addr:         cfg.Redis.Addr,
			Password:     cfg.Redis.Password,
			DB:           cfg.Redis.DB,
			PoolSize:     cfg.Redis.PoolSize,
			MinIdleConns: cfg.Redis.MinIdleConns,
			MaxRetries:   cfg.Redis.MaxRetries,
			DialTimeout:  cfg.Redis.DialTimeout,
			ReadTimeout:  cfg.Redis.ReadTimeout,
			WriteTimeout: cfg.Redis.WriteTimeout,
		})

		if err := redisClient.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("failed to connect to Redis: %w", err)
		}
		logger.Info("connected to Redis", zap.String("addr", cfg.Redis.Addr))
	}

	// Initialize adapters
	var docs ports.DocumentStore
	switch cfg.Storage.Backend {
	case "file":
		fs, err := file.NewDocumentStore(cfg.Storage.Dir, logger)
		if err != nil {
			return fmt.Errorf("failed to create file storage: %w", err)
		}
		docs = fs
	case "redis":
		docs = redisstorage.NewDocumentStore(redisClient, 0, logger)
	default:
		docs = memory.NewDocumentStore()
	}

	var eventBus ports.EventBus
	switch cfg.Events.Backend {
	case "redis":
		hostname, _ := os.Hostname()
		bus, err := eventsredis.NewStreamsEventBus(redisClient, eventsredis.StreamsOptions{
			ConsumerGroup: cfg.Events.ConsumerGroup,
			ConsumerName:  fmt.Sprintf("%s-%d", hostname, os.Getpid()),
			MaxLen:        cfg.Events.StreamMaxLen,
		}, logger)
		if err != nil {
			return fmt.Errorf("failed to create event bus: %w", err)
		}
		eventBus = bus
	default:
		eventBus = eventsmem.NewEventBus(logger)
	}

	metricsCollector := prometheus.NewCollector()

	// Initialize application components
	stateStore := store.New(store.Config{
		MaxTransactionDuration: cfg.Store.MaxTransactionDuration,
		LockPollInterval:       cfg.Store.LockPollInterval,
		PersistenceEnabled:     cfg.Storage.PersistenceEnabled,
		HistoryLimit:           cfg.Store.HistoryLimit,
	}, docs, logger, store.WithMetrics(metricsCollector))

	if cfg.Storage.PersistenceEnabled {
		if err := stateStore.Load(ctx); err != nil {
			return fmt.Errorf("failed to load state: %w", err)
		}
	}

	eng := engine.New(engine.Config{
		MaxConcurrentWorkflows: cfg.Engine.MaxConcurrentWorkflows,
		NodeTimeout:            cfg.Engine.NodeTimeout,
		WaitDuration:           cfg.Engine.WaitDuration,
		RecoveryStrategy:       engine.RecoveryStrategy(cfg.Engine.RecoveryStrategy),
		MaxSteps:               cfg.Engine.MaxSteps,
		ExecutionTimeout:       cfg.Engine.ExecutionTimeout,
	}, stateStore, eventBus, metricsCollector, logger)

	if err := registerLLMActors(ctx, cfg, eng, metricsCollector, logger); err != nil {
		return err
	}

	orch, err := orchestrator.New(orchestrator.DefaultConfig(), eng, logger)
	if err != nil {
		return fmt.Errorf("failed to create orchestrator: %w", err)
	}

	scheduler, err := workers.NewScheduler(workers.SchedulerConfig{
		Eviction:             cfg.Schedules.Eviction,
		Heal:                 cfg.Schedules.Heal,
		Snapshot:             cfg.Schedules.Snapshot,
		HistoryCleanup:       cfg.Schedules.HistoryCleanup,
		EvictAfter:           cfg.Engine.EvictAfter,
		HistoryRetentionDays: cfg.Store.HistoryRetentionDays,
	}, eng, metricsCollector, logger)
	if err != nil {
		return fmt.Errorf("failed to create scheduler: %w", err)
	}

	healthMonitor := workers.NewHealthMonitor(eng, metricsCollector, cfg.Engine.HealthCheckInterval, logger)

	// Initialize API servers
	httpServer := http.NewServer(&http.Config{
		Port:         cfg.HTTPPort,
		Engine:       eng,
		Orchestrator: orch,
		Health:       healthMonitor,
		Logger:       logger,
	})
	httpServer.SetupWebSocket(websocket.NewHandler(eventBus, eng, logger))

	grpcServer, err := grpc.NewServer(&grpc.Config{
		Port:   cfg.GRPCPort,
		Logger: logger,
	})
	if err != nil {
		return fmt.Errorf("failed to create gRPC server: %w", err)
	}
	healthMonitor.OnChange(grpcServer.SetServing)

	// Start background work and servers
	if err := scheduler.Start(ctx); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}
	healthMonitor.Start()

	errCh := make(chan error, 2)
	go func() {
		if err := httpServer.Start(); err != nil {
			errCh <- err
		}
	}()
	go func() {
		if err := grpcServer.Start(); err != nil {
			errCh <- err
		}
	}()

	logger.Info("dagflow started",
		zap.Int("http_port", cfg.HTTPPort),
		zap.Int("grpc_port", cfg.GRPCPort),
		zap.String("storage", cfg.Storage.Backend),
		zap.String("events", cfg.Events.Backend),
		zap.Strings("actors", eng.Actors().Names()))

	// Wait for interrupt signal or a server failure
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	var runErr error
	select {
	case <-sigCh:
		logger.Info("received shutdown signal")
	case runErr = <-errCh:
		logger.Error("server failed", zap.Error(runErr))
	}

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", zap.Error(err))
	}

	if err := grpcServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("gRPC server shutdown error", zap.Error(err))
	}

	healthMonitor.Stop()
	if err := scheduler.Shutdown(shutdownCtx); err != nil {
		logger.Error("scheduler shutdown error", zap.Error(err))
	}

	if err := eng.Shutdown(shutdownCtx); err != nil {
		logger.Error("engine shutdown error", zap.Error(err))
	}

	if cfg.Storage.PersistenceEnabled {
		if _, err := stateStore.SaveSnapshot(shutdownCtx); err != nil {
			logger.Error("final snapshot failed", zap.Error(err))
		}
	}

	if err := eventBus.Close(); err != nil {
		logger.Error("event bus close error", zap.Error(err))
	}

	if redisClient != nil {
		if err := redisClient.Close(); err != nil {
			logger.Error("Redis close error", zap.Error(err))
		}
	}

	logger.Info("dagflow shut down complete")
	return runErr
}

// registerLLMActors registers one LLM-backed actor per configured name.
func registerLLMActors(ctx context.Context, cfg *config.Config, eng *engine.Engine, metrics *prometheus.Collector, logger *zap.Logger) error {
	if cfg.LLM.APIKey == "" || len(cfg.LLM.Actors) == 0 {
		return nil
	}

	for _, name := range cfg.LLM.Actors {
		exec, err := executor.NewExecutor(&executor.Config{
			Provider:  cfg.LLM.Provider,
			APIKey:    cfg.LLM.APIKey,
			Model:     cfg.LLM.Model,
			MaxTokens: cfg.LLM.MaxTokens,
			System:    fmt.Sprintf("You are the %s actor of a workflow. Reply with a JSON object when the task asks for structured output.", name),
			Recorder:  metrics,
			Logger:    logger.With(zap.String("actor", name)),
		})
		if err != nil {
			return fmt.Errorf("failed to create executor for actor %s: %w", name, err)
		}
		if err := eng.RegisterActor(ctx, engine.Actor{Name: name, Executor: exec}); err != nil {
			return err
		}
	}
	return nil
}
