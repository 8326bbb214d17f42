package repository

import (
	"context"
	"errors"
	"time"

	"github.com/cloo-solutions/lexrag/internal/domain"
	"github.com/cloo-solutions/lexrag/internal/service"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
)

// ChunkRepository is the pgvector-backed document index.
type ChunkRepository struct {
	db   dbtx
	pool *pgxpool.Pool
}

func NewChunkRepository(pool *pgxpool.Pool) *ChunkRepository {
	return &ChunkRepository{db: pool, pool: pool}
}

func NewChunkRepositoryWithTx(tx pgx.Tx) *ChunkRepository {
	return &ChunkRepository{db: tx}
}

const chunkColumns = `id, content, title, citation, category, url, source_date, created_at`

// QueryByVector returns the k chunks nearest to embedding by cosine distance.
func (r *ChunkRepository) QueryByVector(ctx context.Context, embedding []float32, k int, filters service.IndexFilters) ([]*domain.RankedCandidate, error) {
	if k <= 0 {
		k = 20
	}
	rows, err := r.db.Query(ctx,
		`SELECT `+chunkColumns+`, embedding <=> $1 AS distance
		 FROM document_chunks
		 WHERE ($2::text IS NULL OR category = $2)
		 ORDER BY embedding <=> $1
		 LIMIT $3`,
		pgvector.NewVector(embedding), nullableString(filters.Category), k,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []*domain.RankedCandidate
	for rows.Next() {
		var distance float64
		c, err := scanChunk(rows, &distance)
		if err != nil {
			return nil, err
		}
		results = append(results, &domain.RankedCandidate{
			Chunk:            *c,
			VectorSimilarity: similarityFromDistance(distance),
		})
	}
	return results, rows.Err()
}

// QueryByKeyword runs a full text search over title and content. The
// returned candidates carry no vector similarity.
func (r *ChunkRepository) QueryByKeyword(ctx context.Context, query string, k int, filters service.IndexFilters) ([]*domain.RankedCandidate, error) {
	if k <= 0 {
		k = 20
	}
	rows, err := r.db.Query(ctx,
		`SELECT `+chunkColumns+`
		 FROM document_chunks
		 WHERE content_tsv @@ websearch_to_tsquery('english', $1)
		   AND ($2::text IS NULL OR category = $2)
		 ORDER BY ts_rank_cd(content_tsv, websearch_to_tsquery('english', $1)) DESC
		 LIMIT $3`,
		query, nullableString(filters.Category), k,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []*domain.RankedCandidate
	for rows.Next() {
		c, err := scanChunk(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, &domain.RankedCandidate{Chunk: *c})
	}
	return results, rows.Err()
}

// Upsert inserts the chunk or replaces the stored copy with the same id.
func (r *ChunkRepository) Upsert(ctx context.Context, c *domain.DocumentChunk) error {
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	_, err := r.db.Exec(ctx,
		`INSERT INTO document_chunks (id, content, title, citation, category, url, source_date, embedding, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $9)
		 ON CONFLICT (id) DO UPDATE SET
			content = EXCLUDED.content,
			title = EXCLUDED.title,
			citation = EXCLUDED.citation,
			category = EXCLUDED.category,
			url = EXCLUDED.url,
			source_date = EXCLUDED.source_date,
			embedding = EXCLUDED.embedding,
			updated_at = now()`,
		c.ID,
		c.Content,
		c.Metadata.Title,
		nullableString(c.Metadata.Citation),
		nullableString(c.Metadata.Category),
		nullableString(c.Metadata.URL),
		nullableString(c.Metadata.Date),
		pgvector.NewVector(c.Embedding),
		c.CreatedAt,
	)
	return err
}

func (r *ChunkRepository) GetByID(ctx context.Context, id string) (*domain.DocumentChunk, error) {
	row := r.db.QueryRow(ctx, `SELECT `+chunkColumns+` FROM document_chunks WHERE id = $1`, id)
	c, err := scanChunk(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrChunkNotFound
		}
		return nil, err
	}
	return c, nil
}

// DeleteDocument removes the chunk stored under id together with its
// "<id>#<n>" spans.
func (r *ChunkRepository) DeleteDocument(ctx context.Context, id string) (int64, error) {
	cmdTag, err := r.db.Exec(ctx,
		`DELETE FROM document_chunks WHERE id = $1 OR starts_with(id, $1 || '#')`, id)
	if err != nil {
		return 0, err
	}
	return cmdTag.RowsAffected(), nil
}

// Ping checks that the index database answers.
func (r *ChunkRepository) Ping(ctx context.Context) error {
	if r.pool != nil {
		return r.pool.Ping(ctx)
	}
	var one int
	return r.db.QueryRow(ctx, `SELECT 1`).Scan(&one)
}

func scanChunk(row pgx.Row, extra ...any) (*domain.DocumentChunk, error) {
	var c domain.DocumentChunk
	var citation, category, url, date *string
	dest := append([]any{&c.ID, &c.Content, &c.Metadata.Title, &citation, &category, &url, &date, &c.CreatedAt}, extra...)
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}
	c.Metadata.Citation = derefString(citation)
	c.Metadata.Category = derefString(category)
	c.Metadata.URL = derefString(url)
	c.Metadata.Date = derefString(date)
	return &c, nil
}
