package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cloo-solutions/lexrag/internal/domain"
	"github.com/cloo-solutions/lexrag/internal/telemetry"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const defaultIndexConcurrency = 4

// ChunkWriter is the maintenance side of the document index.
type ChunkWriter interface {
	Upsert(ctx context.Context, c *domain.DocumentChunk) error
	// DeleteDocument removes the chunk with id and every "<id>#<n>" span.
	DeleteDocument(ctx context.Context, id string) (int64, error)
}

// ChunkTxRunner runs fn against a writer bound to one transaction.
type ChunkTxRunner interface {
	WithChunkTx(ctx context.Context, fn func(w ChunkWriter) error) error
}

// IndexDocument is one pre-extracted legal text to index.
type IndexDocument struct {
	ID       string               `json:"id,omitempty"`
	Content  string               `json:"content"`
	Metadata domain.ChunkMetadata `json:"metadata"`
}

// IndexService embeds legal texts and writes them to the document index.
type IndexService struct {
	embedding   EmbeddingServiceInterface
	writer      ChunkWriter
	tx          ChunkTxRunner
	split       SplitConfig
	concurrency int
	ids         UUIDGenerator
	logger      *zap.Logger
}

// UUIDGenerator defines interface for UUID generation (for testing)
type UUIDGenerator interface {
	NewString() string
}

// DefaultUUIDGenerator generates random UUIDs.
type DefaultUUIDGenerator struct{}

func (g *DefaultUUIDGenerator) NewString() string {
	return uuid.NewString()
}

// IndexOption configures an IndexService.
type IndexOption func(*IndexService)

func WithSplitConfig(cfg SplitConfig) IndexOption {
	return func(s *IndexService) { s.split = cfg }
}

func WithIndexConcurrency(n int) IndexOption {
	return func(s *IndexService) {
		if n > 0 {
			s.concurrency = n
		}
	}
}

// WithChunkTx makes Put replace a document's spans atomically.
func WithChunkTx(tx ChunkTxRunner) IndexOption {
	return func(s *IndexService) { s.tx = tx }
}

func WithIDGenerator(ids UUIDGenerator) IndexOption {
	return func(s *IndexService) { s.ids = ids }
}

func WithIndexLogger(logger *zap.Logger) IndexOption {
	return func(s *IndexService) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func NewIndexService(embedding EmbeddingServiceInterface, writer ChunkWriter, opts ...IndexOption) *IndexService {
	s := &IndexService{
		embedding:   embedding,
		writer:      writer,
		split:       DefaultSplitConfig(),
		concurrency: defaultIndexConcurrency,
		ids:         &DefaultUUIDGenerator{},
		logger:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Put splits the document, embeds every span and replaces whatever was
// indexed under the same id before. A document that fits in one span keeps
// its id; longer ones get "<id>#<n>" ids. It returns the written chunk ids.
func (s *IndexService) Put(ctx context.Context, doc IndexDocument) ([]string, error) {
	ctx, span := telemetry.StartSpan(ctx, "IndexService.Put", telemetry.SpanAttributes{Operation: "index"})
	defer span.End()

	if strings.TrimSpace(doc.Content) == "" {
		return nil, domain.NewDomainErrorWithCause(domain.ErrMissingRequiredField.Code, domain.ErrMissingRequiredField.Message,
			fmt.Errorf("content"))
	}
	id := strings.TrimSpace(doc.ID)
	if id == "" {
		id = s.ids.NewString()
	}

	spans := splitText(doc.Content, s.split)
	chunks := make([]*domain.DocumentChunk, len(spans))
	createdAt := time.Now().UTC()
	for i, text := range spans {
		chunkID := id
		if len(spans) > 1 {
			chunkID = fmt.Sprintf("%s#%d", id, i+1)
		}
		chunks[i] = &domain.DocumentChunk{
			ID:        chunkID,
			Content:   text,
			Metadata:  doc.Metadata,
			CreatedAt: createdAt,
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for _, c := range chunks {
		g.Go(func() error {
			embedding, err := s.embedding.GenerateEmbedding(gctx, embeddingText(c))
			if err != nil {
				return fmt.Errorf("failed to generate embedding for %s: %w", c.ID, err)
			}
			c.Embedding = embedding
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		span.SetError(err)
		return nil, err
	}

	replace := func(w ChunkWriter) error {
		if _, err := w.DeleteDocument(ctx, id); err != nil {
			return fmt.Errorf("failed to remove previous spans of %s: %w", id, err)
		}
		for _, c := range chunks {
			if err := w.Upsert(ctx, c); err != nil {
				return fmt.Errorf("failed to upsert chunk %s: %w", c.ID, err)
			}
		}
		return nil
	}
	var err error
	if s.tx != nil {
		err = s.tx.WithChunkTx(ctx, replace)
	} else {
		err = replace(s.writer)
	}
	if err != nil {
		span.SetError(err)
		return nil, err
	}

	ids := make([]string, len(chunks))
	for i, c := range chunks {
		ids[i] = c.ID
	}
	s.logger.Info("indexed document", zap.String("id", id), zap.Int("chunks", len(ids)))
	return ids, nil
}

// Delete removes a document and all of its spans. It returns
// domain.ErrChunkNotFound when nothing was stored under id.
func (s *IndexService) Delete(ctx context.Context, id string) (int64, error) {
	n, err := s.writer.DeleteDocument(ctx, id)
	if err != nil {
		return 0, err
	}
	if n == 0 {
		return 0, domain.ErrChunkNotFound
	}
	s.logger.Info("deleted document", zap.String("id", id), zap.Int64("spans", n))
	return n, nil
}

// embeddingText prefixes the span with its title and citation so that short
// spans still carry the name of the source.
func embeddingText(c *domain.DocumentChunk) string {
	var parts []string
	if c.Metadata.Title != "" {
		parts = append(parts, c.Metadata.Title)
	}
	if c.Metadata.Citation != "" && c.Metadata.Citation != c.Metadata.Title {
		parts = append(parts, c.Metadata.Citation)
	}
	parts = append(parts, c.Content)
	return strings.Join(parts, "\n\n")
}
