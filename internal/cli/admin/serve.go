package admin

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cloo-solutions/lexrag/internal/api/handlers"
	"github.com/cloo-solutions/lexrag/internal/config"
	"github.com/cloo-solutions/lexrag/internal/database"
	"github.com/cloo-solutions/lexrag/internal/jobs"
	"github.com/cloo-solutions/lexrag/internal/observability"
	"github.com/cloo-solutions/lexrag/internal/repository"
	"github.com/cloo-solutions/lexrag/internal/server"
	"github.com/cloo-solutions/lexrag/internal/service"
	"github.com/cloo-solutions/lexrag/internal/storage"
	"github.com/cloo-solutions/lexrag/internal/telemetry"
	"github.com/hashicorp/go-multierror"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

const shutdownTimeout = 30 * time.Second

// ServeCmd returns the serve command
func ServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the API server",
		Long:  "Start the lexrag answer API on the specified port",
		RunE:  runServe,
	}

	cmd.Flags().StringP("port", "p", "", "Port to listen on (overrides LEXRAG_PORT)")
	cmd.Flags().Bool("no-migrate", false, "Skip automatic database migrations on startup")
	cmd.Flags().String("source", database.DefaultMigrationsSource, "Migration source URL")

	return cmd
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	b, err := start(ctx, cmd)
	if err != nil {
		return err
	}
	defer b.close()
	cfg, logger := b.cfg, b.logger

	if port, _ := cmd.Flags().GetString("port"); port != "" {
		cfg.Port = port
	}

	shutdownTelemetry, err := telemetry.Init(telemetry.Config{
		DSN:              cfg.SentryDSN,
		Environment:      cfg.SentryEnvironment,
		TracesSampleRate: cfg.SentrySampleRate,
		Debug:            cfg.Debug,
	}, logger)
	if err != nil {
		logger.Warn("telemetry init failed, continuing without tracing", zap.Error(err))
	} else {
		defer shutdownTelemetry()
	}

	if noMigrate, _ := cmd.Flags().GetBool("no-migrate"); !noMigrate {
		source, _ := cmd.Flags().GetString("source")
		if err := b.migrate(ctx, source); err != nil {
			return fmt.Errorf("failed to run migrations: %w", err)
		}
	}

	metrics := observability.NewMetrics("lexrag")
	embedder := b.embeddingClient(1)
	providers := b.providers()
	if !cfg.HasOpenAI() {
		logger.Warn("LEXRAG_OPENAI_API_KEY not set, embeddings will fail")
	}
	if len(providers.Names()) == 0 {
		logger.Warn("no generation provider configured")
	} else {
		logger.Info("generation providers ready", zap.Strings("providers", providers.Names()), zap.String("default", providers.DefaultName()))
	}

	chunks := repository.NewChunkRepository(b.pool)
	turns := repository.NewTurnRepository(b.pool)
	answerLogs := repository.NewAnswerLogRepository(b.pool)

	cache := service.NewSemanticCache(embedder, service.SemanticCacheConfig{
		TTL:       cfg.CacheTTL,
		Threshold: cfg.CacheThreshold,
		Capacity:  cfg.CacheCapacity,
	}, logger)

	snapshots, err := newSnapshotStore(ctx, cfg)
	if err != nil {
		return err
	}
	if snapshots != nil {
		n, err := snapshots.Load(ctx, cache)
		if err != nil {
			logger.Warn("failed to restore semantic cache", zap.Error(err))
		} else {
			logger.Info("semantic cache restored", zap.Int("entries", n))
		}
	}
	metrics.SetCacheEntries(cache.Len())

	// Background work outlives the signal context so queued writes drain.
	runner := jobs.NewRunner(jobs.RunnerConfig{
		Workers:   cfg.BackgroundWorkers,
		QueueSize: cfg.BackgroundQueueSize,
	}, logger, func(ctx context.Context, err *jobs.TaskError) {
		telemetry.CaptureError(ctx, err, "task", err.Task)
	})
	runner.Start(context.Background())

	workers := []*jobs.Worker{
		jobs.NewWorker(jobs.NewCacheSweeper(cache, logger), cfg.CacheSweepInterval, logger),
	}
	if snapshots != nil && cfg.CacheSnapshotInterval > 0 {
		workers = append(workers, jobs.NewWorker(jobs.NewCacheSnapshotter(snapshots, cache, logger), cfg.CacheSnapshotInterval, logger))
	}
	for _, w := range workers {
		go w.Start(ctx)
	}

	completer := providers.Default()
	query := service.NewQueryUnderstanding(completer, service.QueryUnderstandingConfig{
		Timeout: cfg.ExpansionTimeout,
		Logger:  logger,
	})
	retriever := service.NewHybridRetriever(chunks, embedder, service.RetrieverConfig{
		TopK:          cfg.RetrievalTopK,
		MinSimilarity: cfg.MinSimilarity,
		MaxSources:    cfg.MaxSources,
		VectorWeight:  cfg.VectorWeight,
		KeywordWeight: cfg.KeywordWeight,
	}, logger)

	memoryCfg := service.DefaultMemoryConfig()
	memoryCfg.RecentTurns = cfg.RecentTurns
	memoryCfg.LongTermMinQueryLen = cfg.LongTermMinQueryLen
	memoryCfg.LongTermMinTurns = cfg.LongTermMinTurns
	memoryCfg.SummaryThreshold = cfg.SummaryThreshold
	memoryCfg.SummaryTimeout = cfg.SummaryTimeout
	memory := service.NewMemoryManager(turns, embedder, completer, memoryCfg, logger)

	answers := service.NewAnswerService(service.AnswerDeps{
		Cache:      cache,
		Query:      query,
		Retriever:  retriever,
		Memory:     memory,
		Providers:  providers,
		AnswerLogs: answerLogs,
		Background: runner,
		Tokens:     service.NewTokenCounter(logger),
		Metrics:    metrics,
		Logger:     logger,
	}, service.AnswerConfig{
		MaxQueryLength:    cfg.MaxQueryLength,
		MaxTokens:         cfg.MaxGenerationToken,
		Temperature:       service.DefaultAnswerConfig().Temperature,
		GenerationTimeout: cfg.GenerationTimeout,
		StreamIdleTimeout: cfg.StreamIdleTimeout,
		ContextBudget:     service.NewContextBudget(cfg.ContextCharLimit),
		MinSimilarity:     cfg.MinSimilarity,
		MaxSources:        cfg.MaxSources,
	})

	router := server.NewRouter(server.RouterConfig{
		Logger:              logger,
		AnswerHandler:       handlers.NewAnswerHandler(answers, logger),
		HealthHandler:       handlers.NewHealthHandler(service.NewHealthService(chunks, cfg.HasOpenAI(), providers)),
		ConversationHandler: handlers.NewConversationHandler(service.NewConversationService(turns)),
		Metrics:             metrics.Handler(),
	})

	// No write timeout: answers stream for as long as generation runs.
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("starting server", zap.String("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	var result *multierror.Error
	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-serveErr:
		result = multierror.Append(result, fmt.Errorf("server failed: %w", err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		result = multierror.Append(result, fmt.Errorf("server forced to shutdown: %w", err))
	}
	for _, w := range workers {
		w.Stop()
	}
	if err := runner.Stop(shutdownCtx); err != nil {
		result = multierror.Append(result, fmt.Errorf("background tasks: %w", err))
	}
	if snapshots != nil {
		n, err := snapshots.Save(shutdownCtx, cache)
		if err != nil {
			result = multierror.Append(result, err)
		} else {
			logger.Info("semantic cache snapshot saved", zap.Int("entries", n))
		}
	}

	if err := result.ErrorOrNil(); err != nil {
		return err
	}
	logger.Info("server exited")
	return nil
}

// newSnapshotStore returns nil when no object store is configured.
func newSnapshotStore(ctx context.Context, cfg *config.Config) (*storage.SnapshotStore, error) {
	if !cfg.HasS3() {
		return nil, nil
	}
	s3Client, err := storage.NewS3Client(ctx, storage.S3ClientConfig{
		Endpoint:        cfg.S3Endpoint,
		Region:          cfg.S3Region,
		AccessKeyID:     cfg.S3AccessKey,
		SecretAccessKey: cfg.S3SecretKey,
		Bucket:          cfg.S3Bucket,
		UsePathStyle:    true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create S3 client: %w", err)
	}
	if err := s3Client.EnsureBucket(ctx); err != nil {
		return nil, fmt.Errorf("failed to ensure S3 bucket: %w", err)
	}
	return storage.NewSnapshotStore(s3Client, cfg.CacheSnapshotKey), nil
}
