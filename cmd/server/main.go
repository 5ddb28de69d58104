package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	rotatelogs "github.com/lestrrat-go/file-rotatelogs"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dashwise/dashboard-qa/internal/ai"
	"github.com/dashwise/dashboard-qa/internal/api"
	"github.com/dashwise/dashboard-qa/internal/config"
	"github.com/dashwise/dashboard-qa/internal/embedding"
	"github.com/dashwise/dashboard-qa/internal/repository/redis"
	"github.com/dashwise/dashboard-qa/internal/repository/sqlite"
	"github.com/dashwise/dashboard-qa/internal/service"
	"github.com/dashwise/dashboard-qa/internal/superset"
	"github.com/dashwise/dashboard-qa/internal/vectorindex"
)

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	setupLogger(cfg.Logging)

	log.Info().
		Str("host", cfg.Server.Host).
		Int("port", cfg.Server.Port).
		Msg("Starting dashboard QA server")

	ctx := context.Background()

	// Initialize database
	db, err := sqlite.NewDB(cfg.Store)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open context store")
	}
	defer db.Close()
	store := sqlite.NewContextStore(db, cfg.Context.TTL)

	// Initialize Redis answer cache when enabled
	var answers service.AnswerCache
	var answerCache *redis.AnswerCache
	if cfg.Redis.Enabled {
		redisClient, err := redis.NewClient(cfg.Redis)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to Redis")
		}
		defer redisClient.Close()
		answerCache = redis.NewAnswerCache(redisClient, cfg.Redis.TTL)
		answers = answerCache
	}

	// Initialize external clients
	supersetClient := superset.NewClient(cfg.Superset)

	embedder, err := embedding.NewGeminiClient(ctx, cfg.Embedding)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create embedding client")
	}

	analyzer, err := ai.NewGeminiAnalyzer(ctx, cfg.AI)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create analyzer")
	}
	defer analyzer.Close()

	// Initialize vector index and services
	index := vectorindex.New(cfg.Index.Dir, embedder.ModelName())

	refresher := service.NewRefresher(store, index, embedder, supersetClient, supersetClient, analyzer, cfg.Analysis)
	if err := refresher.EnsureIndex(ctx); err != nil {
		log.Warn().Err(err).Msg("Vector index unavailable at startup, selection degrades to all dashboards")
	}

	selector := service.NewSelector(embedder, index, cfg.Selection)
	orchestrator := service.NewOrchestrator(store, supersetClient, supersetClient, analyzer, selector, answers, cfg.Analysis)

	// Background loops
	bgCtx, bgCancel := context.WithCancel(context.Background())
	defer bgCancel()
	go orchestrator.Run(bgCtx)
	if cfg.Context.RefreshInterval > 0 {
		go refresher.Run(bgCtx, cfg.Context.RefreshInterval)
	}

	// Initialize router
	router := api.NewRouter(cfg, api.Deps{
		DB:           db,
		Refresher:    refresher,
		Orchestrator: orchestrator,
		AnswerCache:  answerCache,
	})

	// Create HTTP server
	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Start server in goroutine
	go func() {
		log.Info().Msgf("Server listening on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Server failed")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")
	bgCancel()

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server stopped")
}

func setupLogger(cfg config.LoggingConfig) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	var out io.Writer = os.Stderr
	if os.Getenv("ENV") != "production" {
		out = zerolog.ConsoleWriter{Out: os.Stderr}
	}

	if cfg.File != "" {
		rotator, err := rotatelogs.New(
			cfg.File+".%Y%m%d",
			rotatelogs.WithLinkName(cfg.File),
			rotatelogs.WithMaxAge(7*24*time.Hour),
			rotatelogs.WithRotationTime(24*time.Hour),
		)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to open log file: %v\n", err)
		} else {
			out = zerolog.MultiLevelWriter(out, rotator)
		}
	}

	log.Logger = log.Output(out)
}
