package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/choicestory/api/internal/config"
	"github.com/choicestory/api/internal/database"
	"github.com/choicestory/api/internal/eventbus"
	"github.com/choicestory/api/internal/handlers"
	"github.com/choicestory/api/internal/metrics"
	"github.com/choicestory/api/internal/middleware"
	"github.com/choicestory/api/internal/provider"
	"github.com/choicestory/api/internal/store"
	"github.com/choicestory/api/internal/telemetry"
	"github.com/choicestory/api/internal/textgen"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

func main() {
	// Initialize context
	ctx := context.Background()

	// Initialize logger with stdout sync
	zapConfig := zap.NewProductionConfig()
	zapConfig.OutputPaths = []string{"stdout"}
	zapConfig.ErrorOutputPaths = []string{"stderr"}
	logger, err := zapConfig.Build()
	if err != nil {
		log.Fatalf("failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	logger.Info("Choice Story API starting...",
		zap.String("version", "0.1.0"),
		zap.String("environment", os.Getenv("GO_ENV")),
	)

	// Initialize Telemetry
	shutdownTelemetry, err := telemetry.InitTracer(ctx, "choicestory-api")
	if err != nil {
		// Log but don't fail, as collector might be down
		logger.Error("failed to initialize telemetry", zap.Error(err))
	} else {
		defer func() {
			if err := shutdownTelemetry(ctx); err != nil {
				logger.Error("failed to shutdown telemetry", zap.Error(err))
			}
		}()
	}

	// Load configuration
	cfg := config.Load()

	// Initialize NATS event bus
	var bus *eventbus.Bus
	if b, err := eventbus.Connect(logger); err != nil {
		logger.Error("failed to connect to NATS, events disabled", zap.Error(err))
	} else {
		bus = b
		defer bus.Close()
		logger.Info("connected to NATS")
	}

	// Initialize database
	var logStore *store.GenerationLogStore
	db, err := database.NewPostgres(cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to connect to database, generation history disabled", zap.Error(err))
	} else {
		defer db.Close()
		if err := database.RunMigrations(cfg.DatabaseURL, logger); err != nil {
			logger.Error("failed to run migrations", zap.Error(err))
		}
		logStore = store.NewGenerationLogStore(db)
	}

	// Initialize Redis
	rdb, err := database.NewRedis(cfg.RedisURL)
	if err != nil {
		logger.Error("failed to connect to redis, quota disabled", zap.Error(err))
	} else {
		defer rdb.Close()
	}

	// Metrics
	registry := prometheus.NewRegistry()
	recorder, err := metrics.NewRecorder(registry)
	if err != nil {
		logger.Fatal("failed to register metrics", zap.Error(err))
	}

	// Provider clients and the generation orchestrator
	gemini := provider.NewGemini(cfg.GeminiAPIKey, cfg.GeminiBaseURL)
	openai := provider.NewOpenAI(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL)
	orchestrator := textgen.New(gemini, openai, textgen.Config{
		PrimaryModels:  cfg.PrimaryModels,
		SecondaryModel: cfg.SecondaryModel,
		MaxAttempts:    cfg.RetryBudget,
	}, logger, recorder)

	// Setup Gin router
	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestLogger(logger))
	router.Use(middleware.CORS())
	router.Use(middleware.RequestID())

	// Health check handlers
	healthHandler := handlers.NewHealthHandler(db, rdb, cfg.GeminiAPIKey != "", cfg.OpenAIAPIKey != "")
	router.GET("/health", healthHandler.Health)
	router.GET("/health/deep", healthHandler.DeepHealth)

	// Prometheus scrape endpoint
	router.GET("/metrics", gin.WrapH(metrics.Handler(registry)))

	// Generation handler
	generationHandler := handlers.NewGenerationHandler(
		orchestrator, logStore, bus, middleware.GenerationCircuitBreaker, logger,
	)

	var quota *middleware.QuotaLimiter
	if rdb != nil {
		quota = middleware.NewQuotaLimiter(rdb.Client(), cfg.DailyStoryQuota, logger)
	} else {
		quota = middleware.NewQuotaLimiter(nil, 0, logger)
	}

	// API v1 routes
	v1 := router.Group("/api/v1")
	v1.Use(middleware.RateLimitMiddleware(middleware.DefaultRateLimiter)) // 100 req/min
	{
		// Story routes - stricter rate limit + circuit breaker + daily quota
		stories := v1.Group("/stories")
		stories.Use(middleware.RateLimitMiddleware(middleware.StrictRateLimiter)) // 20 req/min
		stories.Use(middleware.CircuitBreakerMiddleware(middleware.GenerationCircuitBreaker))
		stories.Use(middleware.QuotaMiddleware(quota))
		{
			stories.POST("/generate", generationHandler.GenerateStory)
		}

		v1.GET("/generations/:id", generationHandler.GetGeneration)
	}

	// Create HTTP server
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 5 * time.Minute, // generation calls can sit through several backoffs
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		logger.Info("starting server", zap.String("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("failed to start server", zap.Error(err))
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Fatal("server forced to shutdown", zap.Error(err))
	}

	logger.Info("server exited gracefully")
}
