package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/brightwave-solutions/advisor/internal/config"
	"github.com/brightwave-solutions/advisor/internal/dataset"
	"github.com/brightwave-solutions/advisor/internal/llm"
	"github.com/brightwave-solutions/advisor/internal/orchestrator"
	"github.com/brightwave-solutions/advisor/internal/server"
	"github.com/brightwave-solutions/advisor/internal/server/middleware"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger, err := newLogger(cfg.Logging.Level)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	// Dataset is loaded once and stays immutable for the process
	// lifetime.
	table, err := dataset.Load(cfg.Dataset.Path)
	if err != nil {
		logger.Fatal("Failed to load dataset", zap.Error(err), zap.String("path", cfg.Dataset.Path))
	}
	logger.Info("Dataset loaded",
		zap.Int("customers", table.Len()),
		zap.Strings("columns", table.Columns()),
	)

	ctx := context.Background()

	var model llm.Client
	gemini, err := llm.NewGemini(ctx, llm.GeminiConfig{
		APIKey:  cfg.Model.APIKey,
		BaseURL: cfg.Model.BaseURL,
		Model:   cfg.Model.Name,
		Timeout: cfg.Model.Timeout,
	})
	if err != nil {
		logger.Warn("Model client not configured; stage calls will fail", zap.Error(err))
		model = llm.Unconfigured{}
	} else {
		model = gemini
		logger.Info("Model client ready",
			zap.String("model", cfg.Model.Name),
			zap.String("base_url", cfg.Model.BaseURL),
		)
	}

	// Redis shares the rate limit window across replicas; without it
	// each process bounds its own traffic in memory.
	var redisClient *redis.Client
	if cfg.RateLimit.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RateLimit.RedisURL)
		if err != nil {
			logger.Fatal("Failed to parse Redis URL", zap.Error(err))
		}
		redisClient = redis.NewClient(opts)
		defer redisClient.Close()
		if _, err := redisClient.Ping(ctx).Result(); err != nil {
			logger.Warn("Redis unreachable; rate limiter will fail open until it recovers", zap.Error(err))
		}
	} else {
		logger.Info("No Redis URL configured; using in-process rate limiter")
	}

	orch := orchestrator.New(model, table, cfg.Validation.Threshold, logger)
	srv := server.New(orch, table, cfg.Display.WordCap, cfg.Server.StaticDir, logger)

	requestID := middleware.NewRequestID(logger).Middleware
	rateLimiter := middleware.NewRateLimiter(redisClient, cfg.RateLimit.Requests, cfg.RateLimit.Window, logger).Middleware

	handler := corsMiddleware(requestID(rateLimiter(srv.Routes())))

	httpServer := &http.Server{
		Addr:        ":" + strconv.Itoa(cfg.Server.Port),
		Handler:     handler,
		ReadTimeout: cfg.Server.ReadTimeout,
	}

	go func() {
		logger.Info("Advisor server starting", zap.Int("port", cfg.Server.Port))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Server shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.GracefulTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}

	logger.Info("Server stopped")
}

func newLogger(level string) (*zap.Logger, error) {
	zapCfg := zap.NewProductionConfig()
	if level != "" {
		parsed, err := zapcore.ParseLevel(level)
		if err != nil {
			return nil, err
		}
		zapCfg.Level = zap.NewAtomicLevelAt(parsed)
	}
	return zapCfg.Build()
}

// corsMiddleware adds development-friendly CORS headers.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-Request-ID")
		w.Header().Set("Access-Control-Max-Age", "3600")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
