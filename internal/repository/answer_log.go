package repository

import (
	"context"
	"time"

	"github.com/cloo-solutions/lexrag/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// AnswerLogRepository stores one row per finished answer for evaluation.
type AnswerLogRepository struct {
	pool *pgxpool.Pool
}

func NewAnswerLogRepository(pool *pgxpool.Pool) *AnswerLogRepository {
	return &AnswerLogRepository{pool: pool}
}

func (r *AnswerLogRepository) SaveAnswerLog(ctx context.Context, entry *domain.AnswerLog) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	_, err := r.pool.Exec(ctx,
		`INSERT INTO answer_logs (id, conversation_id, user_id, query, provider, outcome, cache_hit, source_count, confidence, duration_ms, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		entry.ID,
		entry.ConversationID,
		entry.UserID,
		entry.Query,
		entry.Provider,
		entry.Outcome,
		entry.CacheHit,
		entry.SourceCount,
		entry.Confidence,
		entry.DurationMS,
		entry.CreatedAt,
	)
	return err
}
