package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	goprom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/aescanero/teamflow/internal/application/orchestrator"
	"github.com/aescanero/teamflow/internal/application/progress"
	"github.com/aescanero/teamflow/internal/application/registry"
	"github.com/aescanero/teamflow/internal/application/supervisor"
	"github.com/aescanero/teamflow/internal/application/workers"
	"github.com/aescanero/teamflow/internal/config"
	"github.com/aescanero/teamflow/internal/ports"
	memoryevents "github.com/aescanero/teamflow/pkg/adapters/events/memory"
	redisevents "github.com/aescanero/teamflow/pkg/adapters/events/redis"
	"github.com/aescanero/teamflow/pkg/adapters/llm"
	"github.com/aescanero/teamflow/pkg/adapters/metrics/prometheus"
	memorystorage "github.com/aescanero/teamflow/pkg/adapters/storage/memory"
	redisstorage "github.com/aescanero/teamflow/pkg/adapters/storage/redis"
	teamshttp "github.com/aescanero/teamflow/pkg/adapters/teams/http"
	"github.com/aescanero/teamflow/pkg/api/grpc"
	"github.com/aescanero/teamflow/pkg/api/http"
	"github.com/aescanero/teamflow/pkg/api/websocket"
)

var (
	// Version is set by build flags
	Version   = "dev"
	BuildTime = "unknown"
)

// backend bundles the storage and event adapters selected by configuration.
type backend struct {
	eventBus ports.EventBus
	sessions ports.SessionStore
	states   ports.MasterStateStore
	close    func() error
}

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	logger := initLogger(cfg.LogLevel)
	defer func() { _ = logger.Sync() }()

	logger.Info("starting teamflow orchestrator",
		zap.String("version", Version),
		zap.String("build_time", BuildTime),
		zap.String("storage_backend", cfg.StorageBackend))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	be, err := newBackend(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("failed to initialize backend", zap.Error(err))
	}

	promRegistry := goprom.NewRegistry()
	promRegistry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metricsCollector := prometheus.NewCollector(promRegistry)

	llmClient, err := llm.NewClient(&llm.Config{
		Provider:  cfg.LLM.Provider,
		APIKey:    cfg.LLM.APIKey,
		BaseURL:   cfg.LLM.BaseURL,
		Model:     cfg.LLM.Model,
		MaxTokens: cfg.LLM.MaxTokens,
		Timeout:   cfg.LLM.RequestTimeout,
		Metrics:   metricsCollector,
		Logger:    logger,
	})
	if err != nil {
		logger.Fatal("failed to create LLM client", zap.Error(err))
	}

	var classifier ports.Classifier
	if llmClient != nil {
		classifier = supervisor.NewLLMClassifier(llmClient, cfg.LLM.Model, cfg.LLM.MaxTokens)
	} else {
		logger.Warn("no LLM provider configured, untyped inputs are routed by capability probe only")
	}

	// Team handlers
	teams := registry.New(logger)
	registerTeams(teams, cfg.Teams, logger)

	publisher := progress.NewPublisher(be.eventBus, be.sessions, metricsCollector, logger)

	sup, err := supervisor.New(teams, classifier, be.sessions, publisher, be.eventBus, metricsCollector, logger)
	if err != nil {
		logger.Fatal("failed to create supervisor", zap.Error(err))
	}

	rules, err := orchestrator.LoadRules(cfg.Orchestrator.RulesFile)
	if err != nil {
		logger.Fatal("failed to load transition rules", zap.Error(err))
	}

	manager := orchestrator.NewManager(
		teams,
		be.states,
		be.sessions,
		be.eventBus,
		publisher,
		metricsCollector,
		rules,
		orchestrator.Options{
			MaxIterations: cfg.Orchestrator.MaxIterations,
			MaxRetries:    cfg.Orchestrator.MaxRetries,
		},
		logger,
	)

	var rechecker *orchestrator.Rechecker
	if cfg.Orchestrator.RecordingEndpoint != "" {
		rechecker = orchestrator.NewRechecker(
			teamshttp.NewTranscriptProbe(cfg.Orchestrator.RecordingEndpoint, cfg.Teams.Timeout),
			manager,
			cfg.Orchestrator.RecheckInterval,
			cfg.Orchestrator.RecheckAttempts,
			logger,
		)
		manager.OnHalt(rechecker.Watch)
	}

	sweeper := orchestrator.NewSweeper(
		be.states,
		be.sessions,
		metricsCollector,
		cfg.Orchestrator.SweepSchedule,
		cfg.Orchestrator.SessionMaxAge,
		logger,
	).WithWindows(publisher)
	if err := sweeper.Start(); err != nil {
		logger.Fatal("failed to start sweeper", zap.Error(err))
	}

	workerPool := workers.NewPool(
		cfg.Workers.PoolSize,
		be.eventBus,
		manager,
		metricsCollector,
		logger,
		cfg.Workers.HealthCheckInterval,
	)

	// Start worker pool
	if err := workerPool.Start(); err != nil {
		logger.Fatal("failed to start worker pool", zap.Error(err))
	}

	// Initialize API servers
	httpServer := http.NewServer(&http.Config{
		Port:       cfg.HTTPPort,
		Supervisor: sup,
		Workflows:  manager,
		Teams:      teams,
		EventBus:   be.eventBus,
		Health:     workerPool.Health(),
		Metrics:    promhttp.HandlerFor(promRegistry, promhttp.HandlerOpts{}),
		Logger:     logger,
	})

	// Add WebSocket handler to HTTP server
	wsHandler := websocket.NewHandler(be.eventBus, logger)
	if err := wsHandler.Start(ctx); err != nil {
		logger.Fatal("failed to start websocket hub", zap.Error(err))
	}
	httpServer.SetupWebSocket(wsHandler)

	grpcServer, err := grpc.NewServer(&grpc.Config{
		Port:          cfg.GRPCPort,
		Checker:       workerPool.Health(),
		CheckInterval: cfg.Workers.HealthCheckInterval,
		Logger:        logger,
	})
	if err != nil {
		logger.Fatal("failed to create gRPC server", zap.Error(err))
	}

	// Start servers
	go func() {
		if err := httpServer.Start(); err != nil {
			logger.Fatal("HTTP server failed", zap.Error(err))
		}
	}()

	go func() {
		if err := grpcServer.Start(); err != nil {
			logger.Fatal("gRPC server failed", zap.Error(err))
		}
	}()

	logger.Info("teamflow orchestrator started",
		zap.Int("http_port", cfg.HTTPPort),
		zap.Int("grpc_port", cfg.GRPCPort),
		zap.Int("worker_pool_size", cfg.Workers.PoolSize),
		zap.Strings("teams", teams.Names()))

	// Wait for interrupt signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	logger.Info("received shutdown signal")

	// Graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Timeouts.ShutdownTimeout)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", zap.Error(err))
	}

	if err := grpcServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("gRPC server shutdown error", zap.Error(err))
	}

	if err := workerPool.Shutdown(shutdownCtx); err != nil {
		logger.Error("worker pool shutdown error", zap.Error(err))
	}

	if rechecker != nil {
		rechecker.Stop()
	}
	sweeper.Stop()
	cancel()

	if err := be.close(); err != nil {
		logger.Error("backend close error", zap.Error(err))
	}

	logger.Info("teamflow orchestrator shut down complete")
}

// newBackend builds the storage and event adapters for the configured backend
func newBackend(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*backend, error) {
	if cfg.StorageBackend == config.StorageMemory {
		bus := memoryevents.NewInMemoryEventBus(logger)
		return &backend{
			eventBus: bus,
			sessions: memorystorage.NewSessionStore(),
			states:   memorystorage.NewStateStorage(),
			close:    bus.Close,
		}, nil
	}

	redisClient := goredis.NewClient(&goredis.Options{
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

	// Test Redis connection
	if err := redisClient.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	logger.Info("connected to Redis", zap.String("addr", cfg.Redis.Addr))

	host, _ := os.Hostname()
	eventBus, err := redisevents.NewStreamsEventBus(redisClient, redisevents.Options{
		ConsumerGroup: cfg.Redis.ConsumerGroup,
		ConsumerName:  fmt.Sprintf("%s-%s-%d", cfg.Redis.ConsumerGroup, host, os.Getpid()),
		MaxLen:        cfg.Redis.StreamMaxLen,
		Broadcast:     websocket.Topics,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create event bus: %w", err)
	}

	return &backend{
		eventBus: eventBus,
		sessions: redisstorage.NewSessionStore(redisClient, cfg.Redis.TTL, logger),
		states:   redisstorage.NewStateStorage(redisClient, cfg.Redis.TTL, logger),
		close: func() error {
			if err := eventBus.Close(); err != nil {
				logger.Error("event bus close error", zap.Error(err))
			}
			return redisClient.Close()
		},
	}, nil
}

// registerTeams registers one HTTP team handler per configured endpoint
func registerTeams(reg *registry.Registry, cfg config.TeamsConfig, logger *zap.Logger) {
	probing := make(map[string]bool, len(cfg.Probe))
	for _, team := range cfg.Probe {
		probing[team] = true
	}

	for team, endpoint := range cfg.Endpoints {
		if probing[team] {
			reg.Register(team, teamshttp.NewProbingHandler(team, endpoint, cfg.Timeout, logger))
			continue
		}
		reg.Register(team, teamshttp.NewHandler(team, endpoint, cfg.Timeout, logger))
	}

	if len(cfg.Endpoints) == 0 {
		logger.Warn("no team endpoints configured, set TEAM_ENDPOINTS")
	}
}

// initLogger initializes the logger based on log level
func initLogger(level string) *zap.Logger {
	var zapLevel zapcore.Level
	switch level {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "info":
		zapLevel = zapcore.InfoLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		zapLevel = zapcore.InfoLevel
	}

	config := zap.NewProductionConfig()
	config.Level = zap.NewAtomicLevelAt(zapLevel)
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	logger, err := config.Build()
	if err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}

	return logger
}
