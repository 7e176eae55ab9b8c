package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/liliang-cn/ragsession/internal/api"
	"github.com/liliang-cn/ragsession/internal/api/middleware"
	"github.com/liliang-cn/ragsession/internal/chunker"
	"github.com/liliang-cn/ragsession/internal/config"
	"github.com/liliang-cn/ragsession/internal/embedding"
	openaiembed "github.com/liliang-cn/ragsession/internal/embedding/openai"
	"github.com/liliang-cn/ragsession/internal/llm"
	anthropicllm "github.com/liliang-cn/ragsession/internal/llm/anthropic"
	openaillm "github.com/liliang-cn/ragsession/internal/llm/openai"
	"github.com/liliang-cn/ragsession/internal/repository"
	"github.com/liliang-cn/ragsession/internal/service"
	"github.com/liliang-cn/ragsession/internal/vectorstore"
	"github.com/liliang-cn/ragsession/internal/vectorstore/pgvector"
	"github.com/liliang-cn/ragsession/internal/vectorstore/sqlite"
)

var (
	configPath = flag.String("config", "", "Path to config file")
	debug      = flag.Bool("debug", false, "Enable development logging")
)

func main() {
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Initialize logger
	var logger *zap.Logger
	if *debug {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()

	// Initialize database (sessions, templates, runs, documents, citations)
	db, err := repository.NewDB(cfg.Database.Path)
	if err != nil {
		logger.Fatal("Failed to initialize database", zap.Error(err))
	}
	defer db.Close()

	// Initialize repositories
	sessionRepo := repository.NewSessionRepository(db)
	templateRepo := repository.NewTemplateRepository(db)
	runRepo := repository.NewRunRepository(db)

	// Initialize vector store
	store, err := newVectorStore(context.Background(), cfg, db)
	if err != nil {
		logger.Fatal("Failed to initialize vector store", zap.String("type", cfg.VectorStore.Type), zap.Error(err))
	}
	defer store.Close()

	// Model clients are optional at startup; runs fail fast until they are configured
	embedder, err := newEmbedder(cfg.Embedding, cfg.Pipeline.EmbedTimeout)
	if err != nil {
		logger.Warn("Embedder not configured, runs and ingestion are disabled", zap.Error(err))
	}
	summarizer, err := newProvider(cfg.Summarizer, cfg.Pipeline.SummarizeTimeout)
	if err != nil {
		logger.Warn("Summarizer not configured, runs are disabled", zap.Error(err))
	}
	primary, err := newProvider(cfg.Primary, cfg.Pipeline.SynthesizeTimeout)
	if err != nil {
		logger.Warn("Primary model not configured, runs are disabled", zap.Error(err))
	}

	// Initialize services
	opts := service.OptionsFromConfig(cfg.Pipeline)

	synthesizer := service.NewSynthesizer(
		summarizer,
		primary,
		opts.Retry,
		cfg.Pipeline.SummarizeTimeout,
		cfg.Pipeline.SynthesizeTimeout,
		logger.Named("synthesis"),
	)

	trainingService := service.NewTrainingService(
		sessionRepo,
		templateRepo,
		runRepo,
		embedder,
		store,
		synthesizer,
		opts,
		logger.Named("pipeline"),
	)

	adminService := service.NewAdminService(
		sessionRepo,
		templateRepo,
		runRepo,
	)

	ingestService := service.NewIngestService(
		chunker.NewSentenceChunker(cfg.Ingest.SentencesPerChunk, cfg.Ingest.OverlapSentences),
		embedder,
		store,
		opts.Retry,
		logger.Named("ingest"),
	)

	// Setup router
	routerCfg := api.RouterConfig{
		APIKey:       cfg.Admin.APIKey,
		AllowOrigins: cfg.Server.AllowOrigins,
	}
	if cfg.RateLimit.Enabled {
		routerCfg.RateLimiter = middleware.NewRateLimiter(cfg.RateLimit.RequestsPerHour, cfg.RateLimit.Burst)
	}
	if cfg.Admin.APIKey == "" {
		logger.Warn("admin.api_key is empty, API authentication is disabled")
	}
	router := api.SetupRouter(adminService, ingestService, trainingService, routerCfg, logger.Named("http"))

	// Create HTTP server
	srv := &http.Server{
		Addr:         cfg.Address(),
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: cfg.Pipeline.RunBudget() + time.Minute,
		IdleTimeout:  120 * time.Second,
	}

	// Start server in goroutine
	go func() {
		logger.Info("Starting ragsession server",
			zap.String("address", cfg.Address()),
			zap.String("vector_store", cfg.VectorStore.Type),
			zap.String("success_status", cfg.Pipeline.SuccessStatus),
		)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	// Graceful shutdown; in-flight runs settle their sessions before returning
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}

	logger.Info("Server exited")
}

func newVectorStore(ctx context.Context, cfg *config.Config, db *repository.DB) (vectorstore.Store, error) {
	switch cfg.VectorStore.Type {
	case config.VectorStoreSQLite:
		return sqlite.NewStore(db.DB), nil
	case config.VectorStorePGVector:
		store, err := pgvector.NewStore(ctx, pgvector.Config{
			DSN:           cfg.VectorStore.PostgresDSN,
			MatchFunction: cfg.VectorStore.MatchFunction,
			Dimension:     cfg.VectorStore.Dimension,
		})
		if err != nil {
			return nil, err
		}
		if err := store.Migrate(ctx); err != nil {
			store.Close()
			return nil, err
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unsupported vector store %q", cfg.VectorStore.Type)
	}
}

func newEmbedder(p config.ProviderConfig, timeout time.Duration) (embedding.Embedder, error) {
	if !p.Configured() {
		return nil, fmt.Errorf("embedding.provider and embedding.model are required")
	}
	switch p.Provider {
	case config.ProviderOpenAI:
		client, err := openaiembed.NewClient(openaiembed.Config{
			BaseURL: p.BaseURL,
			APIKey:  p.APIKey,
			Model:   p.Model,
			Timeout: timeout,
		})
		if err != nil {
			return nil, err
		}
		return client, nil
	default:
		return nil, fmt.Errorf("unsupported embedding provider %q", p.Provider)
	}
}

func newProvider(p config.ProviderConfig, timeout time.Duration) (llm.Provider, error) {
	if !p.Configured() {
		return nil, fmt.Errorf("provider and model are required")
	}
	switch p.Provider {
	case config.ProviderOpenAI:
		provider, err := openaillm.NewProvider(openaillm.Config{
			BaseURL:   p.BaseURL,
			APIKey:    p.APIKey,
			Model:     p.Model,
			MaxTokens: p.MaxTokens,
			Timeout:   timeout,
		})
		if err != nil {
			return nil, err
		}
		return provider, nil
	case config.ProviderAnthropic:
		provider, err := anthropicllm.NewProvider(anthropicllm.Config{
			BaseURL:   p.BaseURL,
			APIKey:    p.APIKey,
			Model:     p.Model,
			MaxTokens: p.MaxTokens,
			Timeout:   timeout,
		})
		if err != nil {
			return nil, err
		}
		return provider, nil
	default:
		return nil, fmt.Errorf("unsupported provider %q", p.Provider)
	}
}
