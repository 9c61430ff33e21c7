package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/aescanero/council/internal/application/council"
	"github.com/aescanero/council/internal/application/orchestrator"
	"github.com/aescanero/council/internal/config"
	memoryevents "github.com/aescanero/council/pkg/adapters/events/memory"
	redisevents "github.com/aescanero/council/pkg/adapters/events/redis"
	"github.com/aescanero/council/pkg/adapters/llm"
	"github.com/aescanero/council/pkg/adapters/metrics/prometheus"
	memorystorage "github.com/aescanero/council/pkg/adapters/storage/memory"
	redisstorage "github.com/aescanero/council/pkg/adapters/storage/redis"
	"github.com/aescanero/council/pkg/adapters/transport/sse"
	wstransport "github.com/aescanero/council/pkg/adapters/transport/websocket"
	"github.com/aescanero/council/pkg/api/grpc"
	"github.com/aescanero/council/pkg/api/http"
	"github.com/aescanero/council/pkg/api/websocket"
	"github.com/aescanero/council/pkg/ports"

	prom "github.com/prometheus/client_golang/prometheus"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	// Version is set by build flags
	Version   = "dev"
	BuildTime = "unknown"
)

// councilBackend opens sessions and streams deliberations
type councilBackend interface {
	ports.SessionProvider
	ports.StreamProvider
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
	defer logger.Sync()

	logger.Info("starting council orchestrator",
		zap.String("version", Version),
		zap.String("build_time", BuildTime),
		zap.String("transport", cfg.Council.Transport),
		zap.String("event_bus", cfg.EventBus))

	metricsCollector := prometheus.NewCollector(prom.DefaultRegisterer)

	// Redis backs both the event bus and the snapshot store when selected
	var redisClient *goredis.Client
	if cfg.EventBus == config.EventBusRedis {
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

		if err := redisClient.Ping(context.Background()).Err(); err != nil {
			logger.Fatal("failed to connect to Redis", zap.Error(err))
		}
		logger.Info("connected to Redis", zap.String("addr", cfg.Redis.Addr))
	}

	var (
		eventBus ports.EventBus
		store    ports.SnapshotStore
	)
	if redisClient != nil {
		eventBus = redisevents.NewStreamsEventBus(redisClient, cfg.Redis.StreamMaxLen, logger)
		store = redisstorage.NewSnapshotStore(redisClient, cfg.SnapshotTTL, logger)
	} else {
		eventBus = memoryevents.NewInMemoryEventBus(logger)
		store = memorystorage.NewInMemorySnapshotStore(cfg.SnapshotTTL)
	}

	backend, err := newCouncilBackend(cfg, metricsCollector, logger)
	if err != nil {
		logger.Fatal("failed to create council backend", zap.Error(err))
	}

	orchestratorMgr := orchestrator.NewManager(
		orchestrator.Config{
			TickInterval:    cfg.Council.TickInterval,
			StreamTimeout:   cfg.Council.StreamTimeout,
			MaxPromptLength: cfg.Council.MaxPromptLength,
		},
		backend,
		backend,
		eventBus,
		store,
		metricsCollector,
		logger,
	)

	// Initialize API servers
	httpServer := http.NewServer(&http.Config{
		Port:        cfg.HTTPPort,
		Deliberator: orchestratorMgr,
		Gatherer:    prom.DefaultGatherer,
		Logger:      logger,
	})

	wsHandler := websocket.NewHandler(eventBus, store, logger)
	httpServer.SetupWebSocket(wsHandler)

	grpcServer, err := grpc.NewServer(&grpc.Config{
		Port:   cfg.GRPCPort,
		Logger: logger,
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

	logger.Info("council orchestrator started",
		zap.Int("http_port", cfg.HTTPPort),
		zap.Int("grpc_port", cfg.GRPCPort))

	// Wait for interrupt signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	logger.Info("received shutdown signal")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Timeouts.ShutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", zap.Error(err))
	}

	if err := grpcServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("gRPC server shutdown error", zap.Error(err))
	}

	if err := orchestratorMgr.Shutdown(shutdownCtx); err != nil {
		logger.Error("orchestrator shutdown error", zap.Error(err))
	}

	if err := eventBus.Close(); err != nil {
		logger.Error("event bus close error", zap.Error(err))
	}

	if redisClient != nil {
		if err := redisClient.Close(); err != nil {
			logger.Error("Redis close error", zap.Error(err))
		}
	}

	logger.Info("council orchestrator shut down complete")
}

// newCouncilBackend builds the collaborator selected by COUNCIL_TRANSPORT
func newCouncilBackend(cfg *config.Config, recorder council.CallRecorder, logger *zap.Logger) (councilBackend, error) {
	switch cfg.Council.Transport {
	case config.TransportSSE:
		return sse.NewClient(cfg.Council.BackendURL, cfg.Council.RequestTimeout, logger)

	case config.TransportWebSocket:
		sessions, err := sse.NewClient(cfg.Council.BackendURL, cfg.Council.RequestTimeout, logger)
		if err != nil {
			return nil, err
		}
		return wstransport.NewClient(cfg.Council.BackendURL, sessions, logger)

	case config.TransportLocal:
		llmClient, err := llm.NewClient(&llm.Config{
			Provider:       cfg.LLM.Provider,
			APIKey:         cfg.LLM.APIKey,
			RequestTimeout: cfg.LLM.RequestTimeout,
			Logger:         logger,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create LLM client: %w", err)
		}

		return council.NewEngine(council.Config{
			Members: []council.Member{
				{ID: "gemini", Model: cfg.LLM.GeminiModel},
				{ID: "codex", Model: cfg.LLM.CodexModel},
				{ID: "claude", Model: cfg.LLM.ClaudeModel},
			},
			Chairman:      cfg.LLM.Chairman,
			ChairmanModel: cfg.LLM.ChairmanModel,
			MaxTokens:     cfg.LLM.MaxTokens,
			Temperature:   cfg.LLM.Temperature,
			MaxConcurrent: cfg.LLM.MaxConcurrentRequests,
		}, llmClient, recorder, logger)

	default:
		return nil, fmt.Errorf("unsupported council transport: %s", cfg.Council.Transport)
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
