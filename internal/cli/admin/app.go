package admin

import (
	"context"
	"fmt"

	"github.com/cloo-solutions/lexrag/internal/config"
	"github.com/cloo-solutions/lexrag/internal/database"
	"github.com/cloo-solutions/lexrag/internal/openai"
	"github.com/cloo-solutions/lexrag/internal/repository"
	"github.com/cloo-solutions/lexrag/internal/service"
	"github.com/jackc/pgx/v5/pgxpool"
	goopenai "github.com/sashabaranov/go-openai"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// bootstrap is the part of the daemon every subcommand needs.
type bootstrap struct {
	cfg    *config.Config
	logger *zap.Logger
	pool   *pgxpool.Pool
}

func newLogger(debug bool) (*zap.Logger, error) {
	if debug {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

// start loads config, builds the logger and connects to the database.
// Callers must call close.
func start(ctx context.Context, cmd *cobra.Command) (*bootstrap, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if debug, _ := cmd.Flags().GetBool("debug"); debug {
		cfg.Debug = true
	}

	logger, err := newLogger(cfg.Debug)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	pool, err := database.NewPool(ctx, database.Config{
		URL:      cfg.DatabaseURL,
		MaxConns: cfg.DatabaseMaxConns,
		MinConns: cfg.DatabaseMinConns,
	}, logger)
	if err != nil {
		_ = logger.Sync()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	logger.Info("connected to database")

	return &bootstrap{cfg: cfg, logger: logger, pool: pool}, nil
}

func (b *bootstrap) close() {
	b.pool.Close()
	_ = b.logger.Sync()
}

// migrate applies SQL migrations and aligns the vector columns with the
// configured embedding dimension.
func (b *bootstrap) migrate(ctx context.Context, source string) error {
	if _, err := database.Migrate(b.cfg.DatabaseURL, source, b.logger); err != nil {
		return err
	}
	results, err := repository.EnsureVectorDimension(ctx, b.pool, b.cfg.EmbeddingDimensions, repository.VectorTables, b.logger)
	if err != nil {
		return fmt.Errorf("failed to check embedding dimension: %w", err)
	}
	for _, r := range results {
		if r.Recreated {
			b.logger.Warn("vector column recreated, re-index required", zap.String("table", r.Table))
		}
	}
	return nil
}

// embeddingClient builds the embedder. Answers make a single attempt and
// surface failures to the caller; offline indexing may retry.
func (b *bootstrap) embeddingClient(attempts uint) *openai.Client {
	return openai.NewClientWithConfig(openai.Config{
		APIKey:              b.cfg.OpenAIAPIKey,
		BaseURL:             b.cfg.OpenAIBaseURL,
		EmbeddingModel:      goopenai.EmbeddingModel(b.cfg.EmbeddingModel),
		EmbeddingDimensions: b.cfg.EmbeddingDimensions,
		Attempts:            attempts,
	})
}

// providers registers the hosted provider when a key is configured and the
// local OpenAI-compatible server when its base URL is set.
func (b *bootstrap) providers() *service.ProviderRegistry {
	var gens []service.Generator
	if b.cfg.HasOpenAI() {
		gens = append(gens, openai.NewChatClient(openai.ChatConfig{
			Name:    "openai",
			APIKey:  b.cfg.OpenAIAPIKey,
			BaseURL: b.cfg.OpenAIBaseURL,
			Model:   b.cfg.ChatModel,
		}))
	}
	if b.cfg.HasLocalProvider() {
		gens = append(gens, openai.NewChatClient(openai.ChatConfig{
			Name:    "local",
			APIKey:  "local",
			BaseURL: b.cfg.LocalBaseURL,
			Model:   b.cfg.LocalModel,
		}))
	}
	return service.NewProviderRegistry(b.cfg.DefaultProvider, gens...)
}
